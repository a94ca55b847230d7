package cemit

import (
	"fmt"
	"math"
	"strconv"

	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
	"miniexpr/internal/plan"
)

// emitStmts writes stmts as a C statement block at the given indent,
// mirroring internal/interp/kernel.go's execStmts structure one-for-one:
// the same Kind switch, translated from an interpreted unwind signal into
// native C break/continue/return.
func (e *emitter) emitStmts(stmts []*ir.Stmt, indent string) {
	for _, s := range stmts {
		e.emitStmt(s, indent)
	}
}

func (e *emitter) emitStmt(s *ir.Stmt, indent string) {
	switch s.Kind {
	case ir.StmtAssign:
		fmt.Fprintf(e.b, "%s%s = %s;\n", indent, s.Name, e.emitExpr(s.Expr))

	case ir.StmtIf:
		fmt.Fprintf(e.b, "%sif (%s) {\n", indent, e.emitExpr(s.Cond))
		e.emitStmts(s.Then, indent+"    ")
		if len(s.Else) > 0 {
			fmt.Fprintf(e.b, "%s} else {\n", indent)
			e.emitStmts(s.Else, indent+"    ")
		}
		fmt.Fprintf(e.b, "%s}\n", indent)

	case ir.StmtFor:
		loopVar := s.LoopVar
		stop, step := e.emitExpr(s.Stop), e.emitExpr(s.Step)
		fmt.Fprintf(e.b, "%sfor (int64_t %s = %s; ((%s) > 0 && %s < %s) || ((%s) < 0 && %s > %s); %s += %s) {\n",
			indent, loopVar, e.emitExpr(s.Start), step, loopVar, stop, step, loopVar, stop, loopVar, step)
		e.emitStmts(s.Body, indent+"    ")
		fmt.Fprintf(e.b, "%s}\n", indent)

	case ir.StmtBreak:
		if s.Cond != nil {
			fmt.Fprintf(e.b, "%sif (%s) break;\n", indent, e.emitExpr(s.Cond))
		} else {
			fmt.Fprintf(e.b, "%sbreak;\n", indent)
		}

	case ir.StmtContinue:
		if s.Cond != nil {
			fmt.Fprintf(e.b, "%sif (%s) continue;\n", indent, e.emitExpr(s.Cond))
		} else {
			fmt.Fprintf(e.b, "%scontinue;\n", indent)
		}

	case ir.StmtReturn:
		fmt.Fprintf(e.b, "%sreturn %s;\n", indent, e.emitExpr(s.Value))
	}
}

// emitExpr renders n as a single parenthesized C expression. Every operand
// is computed in a dtype-appropriate working precision and the whole
// expression is wrapped in an explicit cast to n.DType, the same
// cast-after-combine shape internal/interp/ops.go's arithOrBitwise uses
// (compute in the promoted type, cast down once at the end) rather than
// threading per-subexpression narrowing casts throughout.
func (e *emitter) emitExpr(n *ir.Node) string {
	switch n.Kind {
	case ir.KindConst:
		return emitConst(n)
	case ir.KindVar:
		return n.VarName
	case ir.KindUnary:
		return e.emitUnary(n)
	case ir.KindBinary:
		return e.emitBinary(n)
	case ir.KindCall:
		return e.emitCall(n)
	}
	panic("cemit: internal: unhandled ir.Kind in emitExpr")
}

func emitConst(n *ir.Node) string {
	switch v := n.ConstValue.(type) {
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float32:
		return fmt.Sprintf("((%s)%sf)", cType(n.DType), formatCFloat(float64(v), 32))
	case float64:
		return fmt.Sprintf("((%s)%s)", cType(n.DType), formatCFloat(v, 64))
	case int64:
		return fmt.Sprintf("((%s)%dLL)", cType(n.DType), v)
	case uint64:
		return fmt.Sprintf("((%s)%dULL)", cType(n.DType), v)
	default:
		panic(fmt.Sprintf("cemit: internal: unsupported constant type %T (should have been rejected by jitir.Build)", v))
	}
}

// formatCFloat renders f as a C floating literal, round-trip-safe to the
// given bit width (the interpreter/JIT parity contract requires an exact
// bit match under fp=strict). NaN/Inf have no C literal syntax, so they
// go through the same libm constructs a hand-written kernel would use.
func formatCFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "(NAN)"
	case math.IsInf(f, 1):
		return "(INFINITY)"
	case math.IsInf(f, -1):
		return "(-INFINITY)"
	default:
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
}

func (e *emitter) emitUnary(n *ir.Node) string {
	operand := e.emitExpr(n.Left)
	switch n.Op {
	case "cast":
		return fmt.Sprintf("((%s)(%s))", cType(n.DType), operand)
	case "bool":
		return fmt.Sprintf("((%s) != 0)", operand)
	case "not":
		return fmt.Sprintf("(!(%s))", operand)
	case "~":
		return fmt.Sprintf("((%s)(~(%s)))", cType(n.DType), operand)
	case "+":
		return fmt.Sprintf("((%s)(+(%s)))", cType(n.DType), operand)
	case "-":
		return fmt.Sprintf("((%s)(-(%s)))", cType(n.DType), operand)
	}
	panic("cemit: internal: unhandled unary op " + n.Op)
}

func (e *emitter) emitBinary(n *ir.Node) string {
	l, r := e.emitExpr(n.Left), e.emitExpr(n.Right)
	switch n.Op {
	case "and":
		return fmt.Sprintf("((%s) && (%s))", l, r)
	case "or":
		return fmt.Sprintf("((%s) || (%s))", l, r)
	case "<", "<=", ">", ">=", "==", "!=":
		return fmt.Sprintf("((%s) %s (%s))", l, n.Op, r)
	case "**":
		return fmt.Sprintf("((%s)pow((double)(%s), (double)(%s)))", cType(n.DType), l, r)
	case "<<", ">>":
		return fmt.Sprintf("((%s)((%s) %s (%s)))", cType(n.DType), l, n.Op, r)
	case "+", "-", "*", "/", "%", "&", "|", "^":
		return fmt.Sprintf("((%s)((%s) %s (%s)))", cType(n.DType), l, n.Op, r)
	}
	panic("cemit: internal: unhandled binary op " + n.Op)
}

func (e *emitter) emitCall(n *ir.Node) string {
	switch n.FnName {
	case "where":
		cond, then, els := e.emitExpr(n.Args[0]), e.emitExpr(n.Args[1]), e.emitExpr(n.Args[2])
		return fmt.Sprintf("((%s) ? (%s) : (%s))", cond, then, els)
	case "min":
		x, y := e.emitExpr(n.Args[0]), e.emitExpr(n.Args[1])
		return fmt.Sprintf("((%s) < (%s) ? (%s) : (%s))", x, y, x, y)
	case "max":
		x, y := e.emitExpr(n.Args[0]), e.emitExpr(n.Args[1])
		return fmt.Sprintf("((%s) < (%s) ? (%s) : (%s))", x, y, y, x)
	case "abs":
		return e.emitAbs(n)
	case "sign":
		return e.emitSign(n)
	case "floor", "ceil", "round":
		return e.emitRounding(n)
	}
	if bridgeTranscendental[n.FnName] {
		return e.emitTranscendental(n)
	}
	panic("cemit: internal: unhandled builtin " + n.FnName)
}

func (e *emitter) emitAbs(n *ir.Node) string {
	arg := n.Args[0]
	x := e.emitExpr(arg)
	switch {
	case arg.DType.IsFloat():
		fn := "fabs"
		if arg.DType == dtype.Float32 {
			fn = "fabsf"
		}
		return fmt.Sprintf("((%s)%s(%s))", cType(n.DType), fn, x)
	case arg.DType.IsSigned():
		return fmt.Sprintf("((%s)((%s) < 0 ? -(%s) : (%s)))", cType(n.DType), x, x, x)
	default:
		return fmt.Sprintf("((%s)(%s))", cType(n.DType), x)
	}
}

func (e *emitter) emitSign(n *ir.Node) string {
	arg := n.Args[0]
	x := e.emitExpr(arg)
	return fmt.Sprintf("((%s)((%s) > 0 ? 1 : ((%s) < 0 ? -1 : 0)))", cType(n.DType), x, x)
}

func (e *emitter) emitRounding(n *ir.Node) string {
	arg := n.Args[0]
	x := e.emitExpr(arg)
	base := n.FnName
	fn := base
	if n.DType == dtype.Float32 {
		fn = base + "f"
	}
	return fmt.Sprintf("((%s)%s((double)(%s)))", cType(n.DType), fn, x)
}

// emitTranscendental calls the frozen bridge rather than libm directly,
// since both the interpreter's vector path and JIT kernels must share one
// sin/cos backend selection. In the element dialect it goes
// through the scalar entrypoint (always double-precision per the bridge's
// ABI, cast back to the node's dtype); in the vector dialect it routes
// through the single-element vector entrypoint instead of the scalar one,
// since a kernel body's statement-level control flow means the call's
// argument may depend on locals computed earlier in the same iteration —
// there is no whole-array-at-once argument buffer to batch against.
func (e *emitter) emitTranscendental(n *ir.Node) string {
	x := e.emitExpr(n.Args[0])
	if e.m.Dialect == plan.DialectVector {
		width := "f64"
		if n.DType == dtype.Float32 {
			width = "f32"
		}
		return fmt.Sprintf("__me_vec1_%s_%s(%s)", n.FnName, width, x)
	}
	return fmt.Sprintf("((%s)me_jit_%s((double)(%s)))", cType(n.DType), n.FnName, x)
}
