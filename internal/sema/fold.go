package sema

import (
	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
)

// foldConstants performs conservative, best-effort compile-time
// evaluation: a +/-/* node whose operands are both already-folded numeric
// constants is replaced with its computed value, coerced back to the
// node's resolved dtype. Anything it can't fold confidently (division,
// comparisons, string/bool operands, calls) it leaves alone; an unfolded
// constant subexpression still evaluates correctly one interpreter step
// later, so under-folding is always safe.
func foldConstants(n *ir.Node) *ir.Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case ir.KindUnary:
		n.Left = foldConstants(n.Left)
		if n.Op == "+" || n.Op == "-" {
			if f, ok := asFloat64(n.Left.ConstValue); n.Left.Kind == ir.KindConst && ok {
				if n.Op == "-" {
					f = -f
				}
				return &ir.Node{Kind: ir.KindConst, DType: n.DType, ConstValue: coerceConst(n.DType, f)}
			}
		}
		return n
	case ir.KindBinary:
		n.Left = foldConstants(n.Left)
		n.Right = foldConstants(n.Right)
		if n.Left.Kind == ir.KindConst && n.Right.Kind == ir.KindConst {
			lf, lok := asFloat64(n.Left.ConstValue)
			rf, rok := asFloat64(n.Right.ConstValue)
			if lok && rok {
				switch n.Op {
				case "+":
					return &ir.Node{Kind: ir.KindConst, DType: n.DType, ConstValue: coerceConst(n.DType, lf+rf)}
				case "-":
					return &ir.Node{Kind: ir.KindConst, DType: n.DType, ConstValue: coerceConst(n.DType, lf-rf)}
				case "*":
					return &ir.Node{Kind: ir.KindConst, DType: n.DType, ConstValue: coerceConst(n.DType, lf*rf)}
				}
			}
		}
		return n
	case ir.KindCall:
		for i, arg := range n.Args {
			n.Args[i] = foldConstants(arg)
		}
		return n
	case ir.KindReduce:
		n.Child = foldConstants(n.Child)
		return n
	default:
		return n
	}
}

func asFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// coerceConst converts a folded float64 result back into the Go
// representation internal/interp expects for dt.
func coerceConst(dt dtype.DType, f float64) interface{} {
	switch {
	case dt == dtype.Bool:
		return f != 0
	case dt == dtype.Float32:
		return float32(f)
	case dt == dtype.Float64:
		return f
	case dt.IsInteger() && dt.IsSigned():
		return int64(f)
	case dt.IsInteger():
		return uint64(f)
	default:
		return f
	}
}
