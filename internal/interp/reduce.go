package interp

import (
	"math"

	"golang.org/x/exp/constraints"

	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
)

// reduceColumn is the fast path for the extremely common `sum(x)`/`prod(x)`
// shape, where the reduced expression is a bare column reference: the
// accumulation runs directly over the decoded Go slice instead of through
// one evalNode call per element.
func reduceColumn[T constraints.Integer | constraints.Float](data []T, kind string) (T, bool) {
	n := len(data)
	switch kind {
	case "sum":
		var acc T
		for _, v := range data {
			acc += v
		}
		return acc, true
	case "prod":
		var acc T = 1
		for _, v := range data {
			acc *= v
		}
		return acc, true
	case "min":
		if n == 0 {
			var z T
			return z, false
		}
		acc := data[0]
		for _, v := range data[1:] {
			if v < acc {
				acc = v
			}
		}
		return acc, true
	case "max":
		if n == 0 {
			var z T
			return z, false
		}
		acc := data[0]
		for _, v := range data[1:] {
			if v > acc {
				acc = v
			}
		}
		return acc, true
	}
	var z T
	return z, false
}

func opFor(kind string) string {
	if kind == "prod" {
		return "*"
	}
	return "+"
}

// identityValue returns the identity element for sum (0) or prod (1) in
// dt's domain: sum/prod over a zero-length array yields their algebraic
// identity, not an error.
func identityValue(kind string, dt dtype.DType) rtValue {
	one := kind == "prod"
	switch {
	case dt.IsComplex():
		v := complex128(0)
		if one {
			v = 1
		}
		if dt == dtype.Complex64 {
			return fromC64(complex64(v))
		}
		return fromC128(v)
	case dt.IsFloat():
		v := 0.0
		if one {
			v = 1
		}
		if dt == dtype.Float32 {
			return fromF32(float32(v))
		}
		return fromF64(v)
	case dt.IsSigned() || dt == dtype.Bool:
		v := int64(0)
		if one {
			v = 1
		}
		return fromInt(dt, v)
	default:
		v := uint64(0)
		if one {
			v = 1
		}
		return fromUint(dt, v)
	}
}

// extremeValue returns the identity element for min (+inf/type-max) or max
// (-inf/type-min) in dt's domain, mirroring identityValue's structure:
// reducing min/max over a zero-length array yields the domain's extreme
// value rather than an error, the same way sum/prod yield 0/1.
func extremeValue(kind string, dt dtype.DType) rtValue {
	wantMin := kind == "min"
	switch {
	case dt.IsFloat():
		v := math.Inf(-1)
		if wantMin {
			v = math.Inf(1)
		}
		if dt == dtype.Float32 {
			return fromF32(float32(v))
		}
		return fromF64(v)
	case dt == dtype.Bool:
		return fromBool(wantMin)
	case dt.IsSigned():
		v := int64(math.MinInt64)
		if wantMin {
			v = int64(math.MaxInt64)
		}
		switch dt {
		case dtype.Int8:
			if wantMin {
				v = math.MaxInt8
			} else {
				v = math.MinInt8
			}
		case dtype.Int16:
			if wantMin {
				v = math.MaxInt16
			} else {
				v = math.MinInt16
			}
		case dtype.Int32:
			if wantMin {
				v = math.MaxInt32
			} else {
				v = math.MinInt32
			}
		}
		return fromInt(dt, v)
	default:
		v := uint64(0)
		if wantMin {
			v = uint64(math.MaxUint64)
			switch dt {
			case dtype.Uint8:
				v = math.MaxUint8
			case dtype.Uint16:
				v = math.MaxUint16
			case dtype.Uint32:
				v = math.MaxUint32
			}
		}
		return fromUint(dt, v)
	}
}

func isNaNValue(v rtValue) bool {
	return v.dt.IsFloat() && math.IsNaN(v.asF64())
}

func nanValue(dt dtype.DType) rtValue {
	if dt == dtype.Float32 {
		return fromF32(float32(math.NaN()))
	}
	return fromF64(math.NaN())
}

// reduceArray folds n elements, read one at a time via get, according to
// ReduceKind. outDT is the reduction's own resolved output dtype:
// sum/prod promote bool/int to a 64-bit accumulator; min/max keep the
// input dtype and any/all yield BOOL.
//
// min/max propagate NaN the way IEEE 754 minNum/maxNum's "any NaN operand
// poisons the result" variant does, not the "skip NaN" variant: once any
// element is NaN the final result is NaN. A sticky flag set during the
// fold records whether any element was NaN.
func reduceArray(kind string, outDT dtype.DType, n int64, get func(int64) rtValue) rtValue {
	switch kind {
	case "sum", "prod":
		acc := identityValue(kind, outDT)
		op := opFor(kind)
		for i := int64(0); i < n; i++ {
			acc = arithOrBitwise(op, acc, get(i).castTo(outDT), outDT)
		}
		return acc
	case "any", "all":
		res := kind == "all"
		for i := int64(0); i < n; i++ {
			b := get(i).asF64() != 0
			if kind == "any" {
				res = res || b
			} else {
				res = res && b
			}
		}
		return fromBool(res)
	case "min", "max":
		if n == 0 {
			return extremeValue(kind, outDT)
		}
		acc := get(0)
		sawNaN := isNaNValue(acc)
		for i := int64(1); i < n; i++ {
			v := get(i)
			if isNaNValue(v) {
				sawNaN = true
			}
			switch kind {
			case "min":
				if compareNumeric("<", v, acc) {
					acc = v
				}
			default:
				if compareNumeric(">", v, acc) {
					acc = v
				}
			}
		}
		if sawNaN && acc.dt.IsFloat() {
			return nanValue(acc.dt)
		}
		return acc
	}
	panic("internal: unhandled reduce kind " + kind)
}

// reduceColumnFast applies reduceColumn's slice-level fast path to a
// decoded column, when the reduced dtype is plain numeric (not bool,
// string or complex, which reduceColumn's type parameter can't express).
func reduceColumnFast(cr columnReader, kind string) (rtValue, bool) {
	switch cr.dt {
	case dtype.Int8:
		v, ok := reduceColumn(cr.i8, kind)
		return fromInt(dtype.Int8, int64(v)), ok
	case dtype.Int16:
		v, ok := reduceColumn(cr.i16, kind)
		return fromInt(dtype.Int16, int64(v)), ok
	case dtype.Int32:
		v, ok := reduceColumn(cr.i32, kind)
		return fromInt(dtype.Int32, int64(v)), ok
	case dtype.Int64:
		v, ok := reduceColumn(cr.i64, kind)
		return fromInt(dtype.Int64, v), ok
	case dtype.Uint8:
		v, ok := reduceColumn(cr.u8, kind)
		return fromUint(dtype.Uint8, uint64(v)), ok
	case dtype.Uint16:
		v, ok := reduceColumn(cr.u16, kind)
		return fromUint(dtype.Uint16, uint64(v)), ok
	case dtype.Uint32:
		v, ok := reduceColumn(cr.u32, kind)
		return fromUint(dtype.Uint32, uint64(v)), ok
	case dtype.Uint64:
		v, ok := reduceColumn(cr.u64, kind)
		return fromUint(dtype.Uint64, v), ok
	case dtype.Float32:
		v, ok := reduceColumn(cr.f32, kind)
		return fromF32(v), ok
	case dtype.Float64:
		v, ok := reduceColumn(cr.f64, kind)
		return fromF64(v), ok
	}
	return rtValue{}, false
}

// precomputeReduces evaluates every Reduce node reachable from root over
// the full nitems-element array and returns a cache mapping each node to
// its scalar result: reductions compute first, then broadcast. env is
// a mutable, single Env positioned by setIndex before each element read;
// the vector and ND drivers each supply their own setIndex closure over
// their own notion of "current element".
func precomputeReduces(root *ir.Node, nitems int64, env Env, setIndex func(int64)) reduceCache {
	var nodes []*ir.Node
	collectReduces(root, &nodes)
	rc := make(reduceCache, len(nodes))
	ve, isVector := env.(*vectorEnv)
	for _, rn := range nodes {
		outDT, _ := dtype.ReductionOutputDType(rn.ReduceKind, rn.Child.DType)

		// Fast path: a bare column reduced by sum/prod can fold directly
		// over its decoded slice when the column already has the
		// reduction's output dtype; a narrower integer column takes the
		// generic walk, which accumulates in outDT. min/max are excluded
		// here since Go's NaN comparisons (always false) would silently
		// drop NaN poisoning unless the NaN happens to be the first
		// element; the generic walk below handles that correctly instead.
		if isVector && (rn.ReduceKind == "sum" || rn.ReduceKind == "prod") && rn.Child.Kind == ir.KindVar && rn.Child.DType == outDT {
			if v, ok := reduceColumnFast(ve.columns[rn.Child.VarIndex], rn.ReduceKind); ok {
				rc[rn] = v.castTo(outDT)
				continue
			}
		}

		get := func(i int64) rtValue {
			setIndex(i)
			return evalNode(rn.Child, env, rc)
		}
		rc[rn] = reduceArray(rn.ReduceKind, outDT, nitems, get)
	}
	return rc
}
