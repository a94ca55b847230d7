package interp

import (
	"math"
	"math/cmplx"
	"strings"

	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
	"miniexpr/internal/mathbridge"
)

var comparisonOps = map[string]bool{"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true}

func evalUnary(n *ir.Node, env Env, rc reduceCache) rtValue {
	v := evalNode(n.Left, env, rc)
	switch n.Op {
	case "cast":
		return v.castTo(n.DType)
	case "bool":
		return fromBool(v.asF64() != 0)
	case "not":
		return fromBool(v.asF64() == 0)
	case "~":
		c := v.castTo(n.DType)
		if c.dt.IsSigned() {
			return fromInt(c.dt, truncateSigned(c.dt, ^c.i))
		}
		return fromUint(c.dt, truncateUnsigned(c.dt, ^c.u))
	case "+":
		return v.castTo(n.DType)
	case "-":
		c := v.castTo(n.DType)
		switch {
		case c.dt.IsComplex():
			if c.dt == dtype.Complex64 {
				return fromC64(-c.c64)
			}
			return fromC128(-c.c128)
		case c.dt == dtype.Float32:
			return fromF32(-c.f32)
		case c.dt == dtype.Float64:
			return fromF64(-c.f64)
		case c.dt.IsSigned():
			return fromInt(c.dt, truncateSigned(c.dt, -c.i))
		default:
			return fromUint(c.dt, truncateUnsigned(c.dt, -c.u))
		}
	}
	panic("internal: unhandled unary op " + n.Op)
}

func evalBinary(n *ir.Node, env Env, rc reduceCache) rtValue {
	l := evalNode(n.Left, env, rc)
	r := evalNode(n.Right, env, rc)

	switch n.Op {
	case "and":
		return fromBool(l.asF64() != 0 && r.asF64() != 0)
	case "or":
		return fromBool(l.asF64() != 0 || r.asF64() != 0)
	}

	if comparisonOps[n.Op] {
		if l.dt == dtype.String || r.dt == dtype.String {
			return fromBool(compareStrings(n.Op, l.s, r.s))
		}
		common, _ := dtype.Promote(l.dt, r.dt)
		return fromBool(compareNumeric(n.Op, l.castTo(common), r.castTo(common)))
	}

	return arithOrBitwise(n.Op, l.castTo(n.DType), r.castTo(n.DType), n.DType)
}

func compareStrings(op string, a, b string) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "==":
		return a == b
	default:
		return a != b
	}
}

func compareNumeric(op string, l, r rtValue) bool {
	if l.dt.IsComplex() {
		lc, rc := l.asC128(), r.asC128()
		switch op {
		case "==":
			return lc == rc
		case "!=":
			return lc != rc
		default:
			return false // rejected at compile time; unreachable in practice
		}
	}
	if l.dt.IsFloat() {
		lf, rf := l.asF64(), r.asF64()
		switch op {
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		case "==":
			return lf == rf
		default:
			return lf != rf
		}
	}
	if l.dt == dtype.Bool || l.dt.IsSigned() {
		li, ri := l.asI64(), r.asI64()
		switch op {
		case "<":
			return li < ri
		case "<=":
			return li <= ri
		case ">":
			return li > ri
		case ">=":
			return li >= ri
		case "==":
			return li == ri
		default:
			return li != ri
		}
	}
	lu, ru := l.asU64(), r.asU64()
	switch op {
	case "<":
		return lu < ru
	case "<=":
		return lu <= ru
	case ">":
		return lu > ru
	case ">=":
		return lu >= ru
	case "==":
		return lu == ru
	default:
		return lu != ru
	}
}

func arithOrBitwise(op string, l, r rtValue, dt dtype.DType) rtValue {
	switch {
	case dt.IsComplex():
		lc, rc := l.asC128(), r.asC128()
		var res complex128
		switch op {
		case "+":
			res = lc + rc
		case "-":
			res = lc - rc
		case "*":
			res = lc * rc
		case "/":
			res = lc / rc
		case "**":
			res = cmplx.Pow(lc, rc)
		}
		if dt == dtype.Complex64 {
			return fromC64(complex64(res))
		}
		return fromC128(res)

	case dt.IsFloat():
		lf, rf := l.asF64(), r.asF64()
		var res float64
		switch op {
		case "+":
			res = lf + rf
		case "-":
			res = lf - rf
		case "*":
			res = lf * rf
		case "/":
			res = lf / rf
		case "%":
			res = math.Mod(lf, rf)
		case "**":
			res = math.Pow(lf, rf)
		}
		if dt == dtype.Float32 {
			return fromF32(float32(res))
		}
		return fromF64(res)

	case dt.IsSigned():
		li, ri := l.i, r.i
		var res int64
		switch op {
		case "+":
			res = li + ri
		case "-":
			res = li - ri
		case "*":
			res = li * ri
		case "/":
			res = li / ri
		case "%":
			res = li % ri
		case "**":
			res = int64(math.Pow(float64(li), float64(ri)))
		case "&":
			res = li & ri
		case "|":
			res = li | ri
		case "^":
			res = li ^ ri
		case "<<":
			res = li << uint64(ri)
		case ">>":
			res = li >> uint64(ri)
		}
		return fromInt(dt, truncateSigned(dt, res))

	default: // unsigned integer family
		lu, ru := l.u, r.u
		var res uint64
		switch op {
		case "+":
			res = lu + ru
		case "-":
			res = lu - ru
		case "*":
			res = lu * ru
		case "/":
			res = lu / ru
		case "%":
			res = lu % ru
		case "**":
			res = uint64(math.Pow(float64(lu), float64(ru)))
		case "&":
			res = lu & ru
		case "|":
			res = lu | ru
		case "^":
			res = lu ^ ru
		case "<<":
			res = lu << ru
		case ">>":
			res = lu >> ru
		}
		return fromUint(dt, truncateUnsigned(dt, res))
	}
}

func evalCall(n *ir.Node, env Env, rc reduceCache) rtValue {
	switch n.FnName {
	case "where":
		cond := evalNode(n.Args[0], env, rc)
		if cond.asF64() != 0 {
			return evalNode(n.Args[1], env, rc).castTo(n.DType)
		}
		return evalNode(n.Args[2], env, rc).castTo(n.DType)
	case "min", "max":
		x := evalNode(n.Args[0], env, rc).castTo(n.DType)
		y := evalNode(n.Args[1], env, rc).castTo(n.DType)
		less := compareNumeric("<", x, y)
		if n.FnName == "min" {
			if less {
				return x
			}
			return y
		}
		if less {
			return y
		}
		return x
	case "startswith":
		h, needle := evalNode(n.Args[0], env, rc), evalNode(n.Args[1], env, rc)
		return fromBool(strings.HasPrefix(h.s, needle.s))
	case "endswith":
		h, needle := evalNode(n.Args[0], env, rc), evalNode(n.Args[1], env, rc)
		return fromBool(strings.HasSuffix(h.s, needle.s))
	case "contains":
		h, needle := evalNode(n.Args[0], env, rc), evalNode(n.Args[1], env, rc)
		return fromBool(strings.Contains(h.s, needle.s))
	}
	return evalMathBuiltin(n, env, rc)
}

func evalMathBuiltin(n *ir.Node, env Env, rc reduceCache) rtValue {
	arg := evalNode(n.Args[0], env, rc)
	if n.FnName == "abs" {
		switch {
		case arg.dt.IsComplex():
			m := cmplx.Abs(arg.asC128())
			if n.DType == dtype.Float32 {
				return fromF32(float32(m))
			}
			return fromF64(m)
		case arg.dt.IsFloat():
			f := math.Abs(arg.asF64())
			if n.DType == dtype.Float32 {
				return fromF32(float32(f))
			}
			return fromF64(f)
		case arg.dt.IsSigned():
			v := arg.i
			if v < 0 {
				v = -v
			}
			return fromInt(n.DType, v)
		default:
			return fromUint(n.DType, arg.u)
		}
	}

	if n.FnName == "sign" {
		switch {
		case arg.dt.IsFloat():
			f := arg.asF64()
			var s float64
			switch {
			case f > 0:
				s = 1
			case f < 0:
				s = -1
			}
			if n.DType == dtype.Float32 {
				return fromF32(float32(s))
			}
			return fromF64(s)
		case arg.dt.IsSigned() || arg.dt == dtype.Bool:
			v := arg.asI64()
			var s int64
			switch {
			case v > 0:
				s = 1
			case v < 0:
				s = -1
			}
			return fromInt(n.DType, s)
		default:
			var s uint64
			if arg.asU64() > 0 {
				s = 1
			}
			return fromUint(n.DType, s)
		}
	}

	f := arg.castTo(n.DType).asF64()
	var res float64
	switch n.FnName {
	case "sin":
		res = mathbridge.Sin(f)
	case "cos":
		res = mathbridge.Cos(f)
	case "tan":
		res = mathbridge.Tan(f)
	case "exp":
		res = mathbridge.Exp(f)
	case "log":
		res = mathbridge.Log(f)
	case "log2":
		res = mathbridge.Log2(f)
	case "log10":
		res = mathbridge.Log10(f)
	case "sqrt":
		res = mathbridge.Sqrt(f)
	case "floor":
		res = math.Floor(f)
	case "ceil":
		res = math.Ceil(f)
	case "round":
		res = math.Round(f)
	default:
		panic("internal: unhandled builtin " + n.FnName)
	}
	if n.DType == dtype.Float32 {
		return fromF32(float32(res))
	}
	return fromF64(res)
}
