// Package interp is the tree-walking reference evaluator: a chunked
// vector interpreter, a reduction accumulator, an N-dimensional
// block-with-padding evaluator, and a per-element statement executor for
// DSL kernels. It is always correct and always available, serving both
// as the sole execution path when JIT is disabled and as the fallback
// internal/jitcache uses whenever compilation is unavailable or on
// cooldown.
//
// Uses an opcode-dispatch-style execution loop, adapted from a
// stack-machine switch over a bytecode chunk to a switch over
// internal/ir.Node/Stmt; values are a closed tagged struct (rtValue)
// rather than a bare interface{}, since MiniExpr's per-dtype width and
// overflow semantics need a fixed representation rather than whatever
// concrete Go type happens to be boxed.
package interp

import "miniexpr/internal/dtype"

// rtValue is one runtime value during tree evaluation. Only the field
// matching dt is meaningful; i holds signed-integer and BOOL (0/1)
// representations, u holds unsigned-integer representations.
type rtValue struct {
	dt   dtype.DType
	i    int64
	u    uint64
	f32  float32
	f64  float64
	c64  complex64
	c128 complex128
	s    string
}

func fromBool(b bool) rtValue {
	v := int64(0)
	if b {
		v = 1
	}
	return rtValue{dt: dtype.Bool, i: v}
}

func fromInt(dt dtype.DType, v int64) rtValue  { return rtValue{dt: dt, i: v} }
func fromUint(dt dtype.DType, v uint64) rtValue { return rtValue{dt: dt, u: v} }
func fromF32(v float32) rtValue                { return rtValue{dt: dtype.Float32, f32: v} }
func fromF64(v float64) rtValue                { return rtValue{dt: dtype.Float64, f64: v} }
func fromC64(v complex64) rtValue              { return rtValue{dt: dtype.Complex64, c64: v} }
func fromC128(v complex128) rtValue            { return rtValue{dt: dtype.Complex128, c128: v} }
func fromString(s string) rtValue              { return rtValue{dt: dtype.String, s: s} }

// zeroValue returns dt's zero element, used to fill padding positions a
// tile-indexed ND eval writes past the array's real extent.
func zeroValue(dt dtype.DType) rtValue {
	switch {
	case dt.IsComplex():
		if dt == dtype.Complex64 {
			return fromC64(0)
		}
		return fromC128(0)
	case dt.IsFloat():
		if dt == dtype.Float32 {
			return fromF32(0)
		}
		return fromF64(0)
	case dt == dtype.String:
		return fromString("")
	case dt.IsSigned() || dt == dtype.Bool:
		return fromInt(dt, 0)
	default:
		return fromUint(dt, 0)
	}
}

func constToRT(dt dtype.DType, v interface{}) rtValue {
	switch x := v.(type) {
	case bool:
		return fromBool(x)
	case int64:
		return fromInt(dt, x)
	case uint64:
		return fromUint(dt, x)
	case float32:
		return fromF32(x)
	case float64:
		return fromF64(x)
	case complex64:
		return fromC64(x)
	case complex128:
		return fromC128(x)
	case string:
		return fromString(x)
	default:
		return rtValue{dt: dt}
	}
}

func (v rtValue) asF64() float64 {
	switch {
	case v.dt == dtype.Bool:
		if v.i != 0 {
			return 1
		}
		return 0
	case v.dt.IsFloat():
		if v.dt == dtype.Float32 {
			return float64(v.f32)
		}
		return v.f64
	case v.dt.IsInteger():
		if v.dt.IsSigned() {
			return float64(v.i)
		}
		return float64(v.u)
	}
	return 0
}

func (v rtValue) asI64() int64 {
	if v.dt == dtype.Bool || (v.dt.IsInteger() && v.dt.IsSigned()) {
		return v.i
	}
	if v.dt.IsInteger() {
		return int64(v.u)
	}
	return int64(v.asF64())
}

func (v rtValue) asU64() uint64 {
	if v.dt.IsInteger() && !v.dt.IsSigned() {
		return v.u
	}
	if v.dt == dtype.Bool || v.dt.IsInteger() {
		return uint64(v.i)
	}
	return uint64(v.asF64())
}

func (v rtValue) asC128() complex128 {
	switch v.dt {
	case dtype.Complex64:
		return complex128(v.c64)
	case dtype.Complex128:
		return v.c128
	default:
		return complex(v.asF64(), 0)
	}
}

// castTo converts v's mathematical value into dt's representation.
// Integer<->integer/bool casts stay in the exact integer domain so no
// precision is lost going through float64 for the common case (widening or
// narrowing an array's own index/accumulator types).
func (v rtValue) castTo(dt dtype.DType) rtValue {
	if v.dt == dt {
		return v
	}
	srcIntLike := v.dt == dtype.Bool || v.dt.IsInteger()
	dstIntLike := dt == dtype.Bool || dt.IsInteger()
	if srcIntLike && dstIntLike {
		var raw int64
		if v.dt == dtype.Bool || v.dt.IsSigned() {
			raw = v.i
		} else {
			raw = int64(v.u)
		}
		if dt == dtype.Bool {
			return fromBool(raw != 0)
		}
		if dt.IsSigned() {
			return fromInt(dt, truncateSigned(dt, raw))
		}
		return fromUint(dt, truncateUnsigned(dt, uint64(raw)))
	}
	switch {
	case dt.IsComplex():
		c := v.asC128()
		if dt == dtype.Complex64 {
			return fromC64(complex64(c))
		}
		return fromC128(c)
	case dt == dtype.Float32:
		return fromF32(float32(v.asF64()))
	case dt == dtype.Float64:
		return fromF64(v.asF64())
	case dt == dtype.Bool:
		return fromBool(v.asF64() != 0)
	case dt.IsSigned():
		return fromInt(dt, truncateSigned(dt, int64(v.asF64())))
	case dt.IsInteger():
		return fromUint(dt, truncateUnsigned(dt, uint64(v.asF64())))
	}
	return v
}

func truncateSigned(dt dtype.DType, v int64) int64 {
	switch dt {
	case dtype.Int8:
		return int64(int8(v))
	case dtype.Int16:
		return int64(int16(v))
	case dtype.Int32:
		return int64(int32(v))
	default:
		return v
	}
}

func truncateUnsigned(dt dtype.DType, v uint64) uint64 {
	switch dt {
	case dtype.Uint8:
		return uint64(uint8(v))
	case dtype.Uint16:
		return uint64(uint16(v))
	case dtype.Uint32:
		return uint64(uint32(v))
	default:
		return v
	}
}

// asNative converts v to the plain Go value its dtype naturally boxes as
// (used when writing a scalar reduction result, or a kernel return value,
// back out to a caller-visible form).
func (v rtValue) asNative() interface{} {
	switch {
	case v.dt == dtype.Bool:
		return v.i != 0
	case v.dt == dtype.String:
		return v.s
	case v.dt == dtype.Float32:
		return v.f32
	case v.dt == dtype.Float64:
		return v.f64
	case v.dt == dtype.Complex64:
		return v.c64
	case v.dt == dtype.Complex128:
		return v.c128
	case v.dt.IsInteger() && v.dt.IsSigned():
		return v.i
	case v.dt.IsInteger():
		return v.u
	}
	return nil
}
