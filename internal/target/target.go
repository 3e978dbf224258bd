// Package target resolves a triple, CPU, feature string and optimization
// level into the immutable machine description the code generator runs
// against.
package target

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownTarget reports a triple or -march that names no registered backend.
	ErrUnknownTarget = errors.New("no available targets are compatible with triple")
	// ErrBadOptLevel reports an -O value outside 0..3.
	ErrBadOptLevel = errors.New("invalid optimization level")
	// ErrBadFeature reports a malformed feature string entry.
	ErrBadFeature = errors.New("malformed feature")
)

// OptLevel is the code generation optimization level.
type OptLevel uint8

const (
	OptNone       OptLevel = 0
	OptLess       OptLevel = 1
	OptDefault    OptLevel = 2
	OptAggressive OptLevel = 3
)

func (o OptLevel) String() string {
	return fmt.Sprintf("O%d", uint8(o))
}

// ParseOptLevel accepts "0".."3", optionally prefixed with "O" or "-O".
func ParseOptLevel(s string) (OptLevel, error) {
	v := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "O")
	if len(v) == 1 && v[0] >= '0' && v[0] <= '3' {
		return OptLevel(v[0] - '0'), nil
	}
	return OptDefault, fmt.Errorf("%w: -O%s", ErrBadOptLevel, v)
}

// Feature is one entry of a "+a,-b" feature string.
type Feature struct {
	Name    string
	Enabled bool
}

func (f Feature) String() string {
	if f.Enabled {
		return "+" + f.Name
	}
	return "-" + f.Name
}

// ParseFeatures splits a comma separated "+feat,-feat" list.
func ParseFeatures(s string) ([]Feature, error) {
	var out []Feature
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if len(raw) < 2 || (raw[0] != '+' && raw[0] != '-') {
			return nil, fmt.Errorf("%w %q: expected +name or -name", ErrBadFeature, raw)
		}
		out = append(out, Feature{Name: raw[1:], Enabled: raw[0] == '+'})
	}
	return out, nil
}

// Config holds the user supplied target options.
type Config struct {
	Triple   string
	Arch     string // overrides the arch component of Triple when set
	CPU      string
	Features string
	OptLevel OptLevel
}

// Target is a resolved machine description. It is immutable and safe for
// concurrent use.
type Target struct {
	Triple     string
	Arch       *Arch
	CPU        string
	Features   []Feature // user supplied, in order
	OptLevel   OptLevel
	DataLayout string

	// Warnings collects ignored CPU and feature names.
	Warnings []string

	enabled map[string]bool
}

// Lookup finds the backend for a triple. march, when set, overrides the
// arch component of the triple.
func Lookup(triple, march string) (*Arch, error) {
	name := march
	if name == "" {
		name = ParseTriple(triple).Arch
	}
	if a, ok := LookupArch(name); ok {
		return a, nil
	}
	if march != "" {
		return nil, fmt.Errorf("%w %q: invalid target %q", ErrUnknownTarget, triple, march)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownTarget, triple)
}

// New resolves cfg into a Target.
func New(cfg Config) (*Target, error) {
	if strings.TrimSpace(cfg.Triple) == "" {
		return nil, fmt.Errorf("%w %q", ErrUnknownTarget, cfg.Triple)
	}
	if cfg.OptLevel > OptAggressive {
		return nil, fmt.Errorf("%w: -O%d", ErrBadOptLevel, cfg.OptLevel)
	}
	arch, err := Lookup(cfg.Triple, cfg.Arch)
	if err != nil {
		return nil, err
	}
	feats, err := ParseFeatures(cfg.Features)
	if err != nil {
		return nil, err
	}

	t := &Target{
		Triple:     Normalize(cfg.Triple),
		Arch:       arch,
		CPU:        cfg.CPU,
		Features:   feats,
		OptLevel:   cfg.OptLevel,
		DataLayout: arch.DataLayout,
		enabled:    make(map[string]bool),
	}
	if cfg.Arch != "" {
		tr := ParseTriple(cfg.Triple)
		tr.Arch = arch.Name
		t.Triple = tr.String()
	}
	if t.CPU == "" {
		t.CPU = "generic"
	}

	for _, f := range arch.DefaultFeatures {
		t.enabled[f] = true
	}
	if arch.KnownCPU(t.CPU) {
		for _, f := range arch.CPUs[t.CPU] {
			t.enabled[f] = true
		}
	} else {
		t.Warnings = append(t.Warnings, fmt.Sprintf("'%s' is not a recognized processor for this target (ignoring processor)", t.CPU))
	}
	for _, f := range feats {
		if !arch.KnownFeature(f.Name) {
			t.Warnings = append(t.Warnings, fmt.Sprintf("'%s' is not a recognized feature for this target (ignoring feature)", f.Name))
			continue
		}
		t.enabled[f.Name] = f.Enabled
	}
	return t, nil
}

// HasFeature reports whether a subtarget feature is enabled.
func (t *Target) HasFeature(name string) bool {
	return t.enabled[name]
}

// EnabledFeatures returns the effective feature set in sorted order.
func (t *Target) EnabledFeatures() []string {
	out := make([]string, 0, len(t.enabled))
	for name, on := range t.enabled {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// PtrBits returns the pointer width.
func (t *Target) PtrBits() int {
	return t.Arch.PtrBits
}

// LegalInt reports whether an integer of the given width lives in a
// single register without promotion.
func (t *Target) LegalInt(bits int) bool {
	for _, w := range t.Arch.LegalInts {
		if w == bits {
			return true
		}
	}
	return false
}

// MaxLegalInt returns the widest register-sized integer.
func (t *Target) MaxLegalInt() int {
	return t.Arch.LegalInts[len(t.Arch.LegalInts)-1]
}

// MinLegalInt returns the narrowest register-sized integer.
func (t *Target) MinLegalInt() int {
	return t.Arch.LegalInts[0]
}

func (t *Target) gate(feature string) bool {
	return feature == "" || t.HasFeature(feature)
}

// HardFloat reports whether single precision arithmetic has hardware support.
func (t *Target) HardFloat() bool {
	return !t.HasFeature("soft-float") && t.gate(t.Arch.FloatFeature)
}

// HardDouble reports whether double precision arithmetic has hardware support.
func (t *Target) HardDouble() bool {
	return !t.HasFeature("soft-float") && t.gate(t.Arch.DoubleFeature)
}

// HardDiv reports whether integer division has hardware support.
func (t *Target) HardDiv() bool {
	return t.gate(t.Arch.DivFeature)
}

func (t *Target) String() string {
	var sb strings.Builder
	sb.WriteString(t.Triple)
	if t.CPU != "" && t.CPU != "generic" {
		sb.WriteString(" cpu=")
		sb.WriteString(t.CPU)
	}
	if len(t.Features) > 0 {
		parts := make([]string, len(t.Features))
		for i, f := range t.Features {
			parts[i] = f.String()
		}
		sb.WriteString(" attrs=")
		sb.WriteString(strings.Join(parts, ","))
	}
	sb.WriteString(" ")
	sb.WriteString(t.OptLevel.String())
	return sb.String()
}
