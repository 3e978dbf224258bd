package ir

import "fmt"

// TypeKind distinguishes value types.
type TypeKind uint8

const (
	// KindVoid is the type of instructions that produce no value.
	KindVoid TypeKind = iota
	// KindInt is an integer of Bits width.
	KindInt
	// KindFloat is an IEEE single-precision value.
	KindFloat
	// KindDouble is an IEEE double-precision value.
	KindDouble
	// KindPtr is an opaque pointer.
	KindPtr
)

// Type is a first-class value type. Types are plain values and compare with ==.
type Type struct {
	Kind TypeKind
	Bits uint8
}

var (
	Void   = Type{Kind: KindVoid}
	I1     = Type{Kind: KindInt, Bits: 1}
	I8     = Type{Kind: KindInt, Bits: 8}
	I16    = Type{Kind: KindInt, Bits: 16}
	I32    = Type{Kind: KindInt, Bits: 32}
	I64    = Type{Kind: KindInt, Bits: 64}
	Float  = Type{Kind: KindFloat}
	Double = Type{Kind: KindDouble}
	Ptr    = Type{Kind: KindPtr}
)

// IsInt reports whether t is an integer type of a supported width.
func (t Type) IsInt() bool {
	if t.Kind != KindInt {
		return false
	}
	switch t.Bits {
	case 1, 8, 16, 32, 64:
		return true
	}
	return false
}

// IsFloat reports whether t is float or double.
func (t Type) IsFloat() bool { return t.Kind == KindFloat || t.Kind == KindDouble }

// IsPtr reports whether t is the pointer type.
func (t Type) IsPtr() bool { return t.Kind == KindPtr }

// IsVoid reports whether t is void.
func (t Type) IsVoid() bool { return t.Kind == KindVoid }

// IsFirstClass reports whether values of t can be operands.
func (t Type) IsFirstClass() bool { return t.IsInt() || t.IsFloat() || t.IsPtr() }

// IsScalar reports whether t can be loaded, stored or allocated.
func (t Type) IsScalar() bool { return t.IsInt() || t.IsFloat() }

// SizeInBits returns the storage width of a scalar; pointers report 0 since
// their width depends on the target.
func (t Type) SizeInBits() int {
	switch t.Kind {
	case KindInt:
		return int(t.Bits)
	case KindFloat:
		return 32
	case KindDouble:
		return 64
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t.Kind {
	case KindVoid:
		return "void"
	case KindInt:
		return fmt.Sprintf("i%d", t.Bits)
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindPtr:
		return "ptr"
	default:
		return fmt.Sprintf("<bad type %d>", t.Kind)
	}
}

// ParseType converts a type name (as printed by String) into a Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "void":
		return Void, nil
	case "i1":
		return I1, nil
	case "i8":
		return I8, nil
	case "i16":
		return I16, nil
	case "i32":
		return I32, nil
	case "i64":
		return I64, nil
	case "float":
		return Float, nil
	case "double":
		return Double, nil
	case "ptr":
		return Ptr, nil
	default:
		return Void, fmt.Errorf("unknown type %q", name)
	}
}
