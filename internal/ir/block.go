package ir

// Block is a basic block; its last instruction is the terminator.
type Block struct {
	Name   string
	Instrs []*Instr
}

// Terminator returns the block terminator or nil when the block is unterminated.
func (b *Block) Terminator() *Instr {
	if b == nil || len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if last == nil || !last.Op.IsTerminator() {
		return nil
	}
	return last
}

// Terminated reports whether the block ends with a terminator.
func (b *Block) Terminated() bool {
	return b.Terminator() != nil
}

// Successors returns successor block indices.
func (b *Block) Successors() []int {
	term := b.Terminator()
	if term == nil {
		return nil
	}
	switch term.Op {
	case OpBr, OpCondBr:
		return term.Targets
	default:
		return nil
	}
}

func (b *Block) clone() *Block {
	if b == nil {
		return nil
	}
	out := &Block{Name: b.Name, Instrs: make([]*Instr, 0, len(b.Instrs))}
	for _, in := range b.Instrs {
		if in == nil {
			out.Instrs = append(out.Instrs, nil)
			continue
		}
		cp := *in
		cp.Operands = append([]Operand(nil), in.Operands...)
		cp.Targets = append([]int(nil), in.Targets...)
		out.Instrs = append(out.Instrs, &cp)
	}
	return out
}
