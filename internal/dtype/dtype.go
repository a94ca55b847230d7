// Package dtype defines MiniExpr's closed element-type enumeration and the
// promotion lattice used to combine operand types across the engine.
package dtype

import (
	"errors"
	"fmt"
)

// DType is the element type of a MiniExpr input, output or intermediate
// value. It is a closed set: new members are never added at runtime.
type DType int32

const (
	Invalid DType = iota

	Bool

	Int8
	Int16
	Int32
	Int64

	Uint8
	Uint16
	Uint32
	Uint64

	Float32
	Float64

	Complex64
	Complex128

	String

	// Auto is accepted only at the API boundary (the requested output
	// dtype of compile/compile_nd); it never appears on a resolved Node.
	Auto
)

// MapOfNames maps source-level and alias spellings to their DType.
// cmd/miniexpr uses it to resolve the dtype half of a `-var name:dtype`
// flag.
var MapOfNames = map[string]DType{
	"bool":       Bool,
	"int8":       Int8,
	"i8":         Int8,
	"int16":      Int16,
	"i16":        Int16,
	"int32":      Int32,
	"i32":        Int32,
	"int64":      Int64,
	"i64":        Int64,
	"uint8":      Uint8,
	"u8":         Uint8,
	"uint16":     Uint16,
	"u16":        Uint16,
	"uint32":     Uint32,
	"u32":        Uint32,
	"uint64":     Uint64,
	"u64":        Uint64,
	"float32":    Float32,
	"f32":        Float32,
	"float64":    Float64,
	"f64":        Float64,
	"complex64":  Complex64,
	"c64":        Complex64,
	"complex128": Complex128,
	"c128":       Complex128,
	"string":     String,
	"auto":       Auto,
}

func (d DType) String() string {
	switch d {
	case Invalid:
		return "invalid"
	case Bool:
		return "bool"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Complex64:
		return "complex64"
	case Complex128:
		return "complex128"
	case String:
		return "string"
	case Auto:
		return "auto"
	default:
		return fmt.Sprintf("dtype(%d)", int32(d))
	}
}

// ByteSize returns the fixed per-element storage size. STRING has no fixed
// size here: its storage size is the Variable's declared ItemSize.
func (d DType) ByteSize() int {
	switch d {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64, Complex64:
		return 8
	case Complex128:
		return 16
	default:
		return 0
	}
}

func (d DType) IsInteger() bool {
	switch d {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

func (d DType) IsSigned() bool {
	switch d {
	case Int8, Int16, Int32, Int64, Float32, Float64, Complex64, Complex128:
		return true
	}
	return false
}

func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

func (d DType) IsComplex() bool {
	return d == Complex64 || d == Complex128
}

func (d DType) IsNumeric() bool {
	return d.IsInteger() || d.IsFloat() || d.IsComplex() || d == Bool
}

// rank orders numeric types by "width within kind"; used only to compare
// same-kind types. Kinds are compared by the explicit rules in Promote.
var intRank = map[DType]int{
	Int8: 0, Int16: 1, Int32: 2, Int64: 3,
}
var uintRank = map[DType]int{
	Uint8: 0, Uint16: 1, Uint32: 2, Uint64: 3,
}

// defaultFloatForInt is the float width NumPy-style promotion assigns to an
// integer of a given width when it meets a float of a narrower or equal
// width. 64-bit integers promote to float64 even against a float32 partner.
func defaultFloatForInt(d DType) DType {
	switch d {
	case Int8, Int16, Int32, Uint8, Uint16, Uint32:
		return Float32
	default: // Int64, Uint64
		return Float64
	}
}

// widerUint picks the widest of two unsigned types.
func widerUint(a, b DType) DType {
	if uintRank[a] >= uintRank[b] {
		return a
	}
	return b
}

// widerInt picks the widest of two signed types.
func widerInt(a, b DType) DType {
	if intRank[a] >= intRank[b] {
		return a
	}
	return b
}

// signedEquivalent returns the smallest signed integer type that can
// represent every value of unsigned type u (matching NumPy's mixed-sign
// integer promotion: uint64 has no wider-signed equivalent and is treated
// as needing int64, which may lose range — documented NumPy behavior we
// mirror rather than redesign).
func signedEquivalent(u DType) DType {
	switch u {
	case Uint8:
		return Int16
	case Uint16:
		return Int32
	case Uint32:
		return Int64
	default: // Uint64
		return Int64
	}
}

// Promote implements the dtype promotion lattice. It is symmetric:
// Promote(a,b) == Promote(b,a). The returned ok is false when the pair does
// not promote (STRING mixed with anything, or either side Invalid/Auto).
func Promote(a, b DType) (DType, bool) {
	if a == b {
		return a, a != Invalid && a != Auto && a != String || a == String
	}
	if a == Invalid || b == Invalid || a == Auto || b == Auto {
		return Invalid, false
	}
	if a == String || b == String {
		return Invalid, false
	}

	// BOOL promotes with any numeric to that numeric.
	if a == Bool {
		return b, true
	}
	if b == Bool {
		return a, true
	}

	aComplex, bComplex := a.IsComplex(), b.IsComplex()
	if aComplex || bComplex {
		// Complex absorbs the real partner into the matching-width complex.
		width := 64
		if (aComplex && a == Complex128) || (bComplex && b == Complex128) {
			width = 128
		}
		if !aComplex {
			if realWidthWide(a) {
				width = 128
			}
		}
		if !bComplex {
			if realWidthWide(b) {
				width = 128
			}
		}
		if width == 128 {
			return Complex128, true
		}
		return Complex64, true
	}

	aFloat, bFloat := a.IsFloat(), b.IsFloat()
	if aFloat && bFloat {
		if a == Float64 || b == Float64 {
			return Float64, true
		}
		return Float32, true
	}
	if aFloat || bFloat {
		// Integer ∧ float → a float; width = max(float width, default
		// float width for the integer's width).
		var floatTy, intTy DType
		if aFloat {
			floatTy, intTy = a, b
		} else {
			floatTy, intTy = b, a
		}
		def := defaultFloatForInt(intTy)
		if floatTy == Float64 || def == Float64 {
			return Float64, true
		}
		return Float32, true
	}

	// Both integers.
	aSigned, bSigned := a.IsSigned(), b.IsSigned()
	if aSigned == bSigned {
		if aSigned {
			return widerInt(a, b), true
		}
		return widerUint(a, b), true
	}
	// Mixed signedness: a signed integer wide enough for both.
	var signed, unsigned DType
	if aSigned {
		signed, unsigned = a, b
	} else {
		signed, unsigned = b, a
	}
	need := signedEquivalent(unsigned)
	return widerInt(signed, need), true
}

// realWidthWide reports whether a real (non-complex) numeric type needs the
// 128-bit complex partner (i.e. is float64, or a 64-bit integer).
func realWidthWide(d DType) bool {
	return d == Float64 || d == Int64 || d == Uint64
}

// ValidateVariable checks a Variable's declared item_size against its
// dtype: mandatory (and positive) for STRING, meaningless for everything
// else. This is the one piece of Variable validation that belongs next to
// the dtype rules rather than in the root package's builder, since it is
// purely a function of dtype and item_size.
func ValidateVariable(dt DType, itemSize int) error {
	if dt == String {
		if itemSize <= 0 {
			return errors.New("dtype: STRING variable requires a positive item_size")
		}
		return nil
	}
	if itemSize != 0 {
		return fmt.Errorf("dtype: item_size is only meaningful for STRING, not %s", dt)
	}
	return nil
}

// ReductionOutputDType implements the reduction output typing rules.
func ReductionOutputDType(kind string, input DType) (DType, bool) {
	switch kind {
	case "sum", "prod":
		switch {
		case input == Bool:
			return Int64, true
		case input.IsInteger():
			if input.IsSigned() {
				return Int64, true
			}
			return Uint64, true
		case input.IsFloat():
			return input, true
		case input.IsComplex():
			return input, true
		}
		return Invalid, false
	case "min", "max":
		if input.IsComplex() {
			return Invalid, false
		}
		return input, true
	case "any", "all":
		return Bool, true
	}
	return Invalid, false
}
