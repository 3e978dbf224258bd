package ir

// Module is a self-contained program unit.
type Module struct {
	Name         string
	TargetTriple string
	DataLayout   string
	Funcs        []*Func
}

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// Empty reports whether the module has no function with a body.
func (m *Module) Empty() bool {
	if m == nil {
		return true
	}
	for _, f := range m.Funcs {
		if f != nil && len(f.Blocks) > 0 {
			return false
		}
	}
	return true
}

// Func returns the function with the given name.
func (m *Module) Func(name string) *Func {
	if m == nil {
		return nil
	}
	for _, f := range m.Funcs {
		if f != nil && f.Name == name {
			return f
		}
	}
	return nil
}

// AddFunc appends a function to the module.
func (m *Module) AddFunc(f *Func) *Func {
	m.Funcs = append(m.Funcs, f)
	return f
}

// InstrCount returns the number of instructions in all functions.
func (m *Module) InstrCount() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, f := range m.Funcs {
		if f == nil {
			continue
		}
		for _, bb := range f.Blocks {
			if bb != nil {
				n += len(bb.Instrs)
			}
		}
	}
	return n
}

// Clone returns a deep copy of the module.
func (m *Module) Clone() *Module {
	if m == nil {
		return nil
	}
	out := &Module{
		Name:         m.Name,
		TargetTriple: m.TargetTriple,
		DataLayout:   m.DataLayout,
		Funcs:        make([]*Func, 0, len(m.Funcs)),
	}
	for _, f := range m.Funcs {
		out.Funcs = append(out.Funcs, f.Clone())
	}
	return out
}
