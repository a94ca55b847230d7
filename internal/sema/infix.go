// Package sema is the semantic analyzer: it walks the untyped trees
// internal/parser and internal/dslstmt produce, resolves every name against
// the caller's variables (and, for DSL kernels, the reserved index set),
// applies the dtype promotion and function-signature rules, and emits the
// typed internal/ir tree plus an internal/plan artifact. Uses a
// visitor-based tree walk (double dispatch generalized from "emit
// bytecode" to "infer dtype and build a typed node"), and a two-pass
// declare-then-resolve shape for DSL parameter/reserved-index resolution.
package sema

import (
	"miniexpr/internal/ast"
	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
	"miniexpr/internal/lexer"
	"miniexpr/internal/mexerr"
	"miniexpr/internal/plan"
)

// VarInfo is the subset of the public Variable type sema needs: a name and
// its declared dtype. Defined locally (rather than imported from the root
// package) to avoid an import cycle, since the root package imports sema.
type VarInfo struct {
	Name  string
	DType dtype.DType
}

// analyzer implements ast.Visitor, building an *ir.Node per call and
// recording the first error encountered. Visit methods check a.err before
// doing any work so a failed subtree short-circuits the rest of the walk
// without the visitor interface needing to thread errors through its
// interface{} return type.
type analyzer struct {
	vars         map[string]VarInfo
	order        []string // parameter order: first-seen variable reference
	narrowFloats bool      // true iff every declared variable is <=32-bit float/int
	err          *mexerr.CompileError
	dslMode      bool     // true while lowering a DSL kernel body
	locals       []string // DSL-only: names introduced by Assign, in first-assignment order
}

func newAnalyzer(vars []VarInfo) *analyzer {
	m := make(map[string]VarInfo, len(vars))
	narrow := true
	for _, v := range vars {
		m[v.Name] = v
		if !isNarrow(v.DType) {
			narrow = false
		}
	}
	return &analyzer{vars: m, narrowFloats: narrow}
}

func isNarrow(d dtype.DType) bool {
	switch d {
	case dtype.Bool, dtype.Int8, dtype.Int16, dtype.Int32, dtype.Uint8, dtype.Uint16, dtype.Uint32, dtype.Float32:
		return true
	default:
		return false
	}
}

func (a *analyzer) fail(kind mexerr.Kind, pos lexer.Position, format string, args ...interface{}) {
	if a.err == nil {
		a.err = mexerr.New(kind, pos, format, args...)
	}
}

// resolve walks expr and returns its typed node, or nil if a.err is set.
func (a *analyzer) resolve(expr ast.Expr) *ir.Node {
	if a.err != nil {
		return nil
	}
	n, _ := expr.Accept(a).(*ir.Node)
	return n
}

func (a *analyzer) VisitNumberLit(n *ast.NumberLit) interface{} {
	val, dt, err := parseNumberLiteral(n.Lexeme, a.narrowFloats)
	if err != nil {
		a.fail(mexerr.KindParse, n.Pos, "invalid numeric literal %q: %v", n.Lexeme, err)
		return nil
	}
	return &ir.Node{Kind: ir.KindConst, DType: dt, ConstValue: val}
}

func (a *analyzer) VisitStringLit(s *ast.StringLit) interface{} {
	return &ir.Node{Kind: ir.KindConst, DType: dtype.String, ConstValue: s.Value}
}

func (a *analyzer) VisitBoolLit(b *ast.BoolLit) interface{} {
	return &ir.Node{Kind: ir.KindConst, DType: dtype.Bool, ConstValue: b.Value}
}

func (a *analyzer) VisitIdent(i *ast.Ident) interface{} {
	v, ok := a.vars[i.Name]
	if !ok {
		a.fail(mexerr.KindUnknownName, i.Pos, "unknown name %q", i.Name)
		return nil
	}
	idx := a.paramIndex(i.Name)
	return &ir.Node{Kind: ir.KindVar, DType: v.DType, VarIndex: idx, VarName: i.Name}
}

// paramIndex returns i.Name's position in the canonical parameter order,
// appending it on first reference.
func (a *analyzer) paramIndex(name string) int {
	for idx, n := range a.order {
		if n == name {
			return idx
		}
	}
	a.order = append(a.order, name)
	return len(a.order) - 1
}

func (a *analyzer) VisitUnary(u *ast.Unary) interface{} {
	operand := a.resolve(u.Operand)
	if a.err != nil {
		return nil
	}
	switch u.Op {
	case "not":
		if operand.DType == dtype.String || operand.DType.IsComplex() {
			a.fail(mexerr.KindType, u.Pos, "operator 'not' does not accept %s", operand.DType)
			return nil
		}
		return &ir.Node{Kind: ir.KindUnary, DType: dtype.Bool, Op: u.Op, Left: operand}
	case "~":
		if !operand.DType.IsInteger() && operand.DType != dtype.Bool {
			a.fail(mexerr.KindType, u.Pos, "operator '~' requires an integer or BOOL operand, got %s", operand.DType)
			return nil
		}
		out := operand.DType
		if out == dtype.Bool {
			out = dtype.Int64
		}
		return &ir.Node{Kind: ir.KindUnary, DType: out, Op: u.Op, Left: operand}
	case "+", "-":
		if operand.DType == dtype.String {
			a.fail(mexerr.KindType, u.Pos, "operator '%s' does not accept STRING", u.Op)
			return nil
		}
		out := operand.DType
		if out == dtype.Bool {
			out = dtype.Int64
		}
		return &ir.Node{Kind: ir.KindUnary, DType: out, Op: u.Op, Left: operand}
	default:
		a.fail(mexerr.KindInternal, u.Pos, "unhandled unary operator %q", u.Op)
		return nil
	}
}

// comparisonOps and logicalOps classify Binary.Op for typing purposes; the
// remaining operators (arithmetic + bitwise) all promote via dtype.Promote
// and keep the promoted dtype as their result.
var comparisonOps = map[string]bool{"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true}
var logicalOps = map[string]bool{"and": true, "or": true}
var bitwiseOps = map[string]bool{"&": true, "|": true, "^": true, "<<": true, ">>": true}

func (a *analyzer) VisitBinary(b *ast.Binary) interface{} {
	left := a.resolve(b.Left)
	right := a.resolve(b.Right)
	if a.err != nil {
		return nil
	}

	if logicalOps[b.Op] {
		lc, err1 := a.coerceToBool(left, b.Pos)
		rc, err2 := a.coerceToBool(right, b.Pos)
		if err1 || err2 {
			return nil
		}
		return &ir.Node{Kind: ir.KindBinary, DType: dtype.Bool, Op: b.Op, Left: lc, Right: rc}
	}

	if comparisonOps[b.Op] {
		if left.DType == dtype.String || right.DType == dtype.String {
			if left.DType != dtype.String || right.DType != dtype.String {
				a.fail(mexerr.KindType, b.Pos, "cannot compare STRING with %s", pickNonString(left, right).DType)
				return nil
			}
			return &ir.Node{Kind: ir.KindBinary, DType: dtype.Bool, Op: b.Op, Left: left, Right: right}
		}
		if _, ok := dtype.Promote(left.DType, right.DType); !ok {
			a.fail(mexerr.KindType, b.Pos, "cannot compare %s with %s", left.DType, right.DType)
			return nil
		}
		if (b.Op == "<" || b.Op == "<=" || b.Op == ">" || b.Op == ">=") && (left.DType.IsComplex() || right.DType.IsComplex()) {
			a.fail(mexerr.KindType, b.Pos, "operator '%s' does not accept COMPLEX (no total order); use == or != instead", b.Op)
			return nil
		}
		return &ir.Node{Kind: ir.KindBinary, DType: dtype.Bool, Op: b.Op, Left: left, Right: right}
	}

	if bitwiseOps[b.Op] {
		if !isBitwiseOperand(left.DType) || !isBitwiseOperand(right.DType) {
			a.fail(mexerr.KindType, b.Pos, "operator '%s' requires integer or BOOL operands, got %s and %s", b.Op, left.DType, right.DType)
			return nil
		}
		out, ok := dtype.Promote(left.DType, right.DType)
		if !ok {
			a.fail(mexerr.KindType, b.Pos, "cannot combine %s with %s", left.DType, right.DType)
			return nil
		}
		if out == dtype.Bool {
			out = dtype.Int64
		}
		return &ir.Node{Kind: ir.KindBinary, DType: out, Op: b.Op, Left: left, Right: right}
	}

	// Arithmetic: + - * / % **
	if left.DType == dtype.String || right.DType == dtype.String {
		a.fail(mexerr.KindType, b.Pos, "operator '%s' does not accept STRING", b.Op)
		return nil
	}
	out, ok := dtype.Promote(left.DType, right.DType)
	if !ok {
		a.fail(mexerr.KindType, b.Pos, "cannot combine %s with %s", left.DType, right.DType)
		return nil
	}
	if b.Op == "/" && out.IsInteger() {
		// / is always true division, never yields an integer result.
		out = floatOfInput(out)
	}
	return &ir.Node{Kind: ir.KindBinary, DType: out, Op: b.Op, Left: left, Right: right}
}

func isBitwiseOperand(d dtype.DType) bool { return d.IsInteger() || d == dtype.Bool }

func pickNonString(l, r *ir.Node) *ir.Node {
	if l.DType != dtype.String {
		return l
	}
	return r
}

func (a *analyzer) coerceToBool(n *ir.Node, pos lexer.Position) (*ir.Node, bool) {
	if n.DType == dtype.String || n.DType.IsComplex() {
		a.fail(mexerr.KindType, pos, "operator 'and'/'or' does not accept %s", n.DType)
		return nil, true
	}
	if n.DType == dtype.Bool {
		return n, false
	}
	return &ir.Node{Kind: ir.KindUnary, DType: dtype.Bool, Op: "bool", Left: n}, false
}

func (a *analyzer) VisitCall(c *ast.Call) interface{} {
	if a.dslMode && reductionKinds[c.Name] && len(c.Args) == 1 {
		a.fail(mexerr.KindUnsupported, c.Pos, "reduction %q is not available inside kernel bodies (kernels run per element)", c.Name)
		return nil
	}
	if reductionKinds[c.Name] && len(c.Args) == 1 {
		child := a.resolve(c.Args[0])
		if a.err != nil {
			return nil
		}
		if child.ContainsReduce() {
			a.fail(mexerr.KindType, c.Pos, "reduction %q may not contain another reduction", c.Name)
			return nil
		}
		out, ok := dtype.ReductionOutputDType(c.Name, child.DType)
		if !ok {
			a.fail(mexerr.KindType, c.Pos, "reduction %q does not accept %s", c.Name, child.DType)
			return nil
		}
		return &ir.Node{Kind: ir.KindReduce, DType: out, ReduceKind: c.Name, Child: child}
	}

	if c.Name == "where" {
		if len(c.Args) != 3 {
			a.fail(mexerr.KindType, c.Pos, "where() takes exactly 3 arguments, got %d", len(c.Args))
			return nil
		}
		cond := a.resolve(c.Args[0])
		then := a.resolve(c.Args[1])
		els := a.resolve(c.Args[2])
		if a.err != nil {
			return nil
		}
		if cond.DType != dtype.Bool {
			a.fail(mexerr.KindType, c.Pos, "where() condition must be BOOL, got %s", cond.DType)
			return nil
		}
		out, ok := dtype.Promote(then.DType, els.DType)
		if !ok {
			a.fail(mexerr.KindType, c.Pos, "where() branches %s and %s do not promote", then.DType, els.DType)
			return nil
		}
		return &ir.Node{Kind: ir.KindCall, DType: out, FnName: "where", Args: []*ir.Node{cond, then, els}}
	}

	if isMinMax(c.Name) && len(c.Args) == 2 {
		x := a.resolve(c.Args[0])
		y := a.resolve(c.Args[1])
		if a.err != nil {
			return nil
		}
		if x.DType == dtype.String || y.DType == dtype.String {
			a.fail(mexerr.KindType, c.Pos, "%s() does not accept STRING", c.Name)
			return nil
		}
		out, ok := dtype.Promote(x.DType, y.DType)
		if !ok {
			a.fail(mexerr.KindType, c.Pos, "%s() arguments %s and %s do not promote", c.Name, x.DType, y.DType)
			return nil
		}
		return &ir.Node{Kind: ir.KindCall, DType: out, FnName: c.Name, Args: []*ir.Node{x, y}}
	}

	if stringPredicates[c.Name] {
		if len(c.Args) != 2 {
			a.fail(mexerr.KindType, c.Pos, "%s() takes exactly 2 arguments, got %d", c.Name, len(c.Args))
			return nil
		}
		haystack := a.resolve(c.Args[0])
		needle := a.resolve(c.Args[1])
		if a.err != nil {
			return nil
		}
		if haystack.DType != dtype.String {
			a.fail(mexerr.KindType, c.Pos, "%s() first argument must be STRING, got %s", c.Name, haystack.DType)
			return nil
		}
		if needle.DType != dtype.String || needle.Kind != ir.KindConst {
			a.fail(mexerr.KindType, c.Pos, "%s() second argument must be a string literal", c.Name)
			return nil
		}
		return &ir.Node{Kind: ir.KindCall, DType: dtype.Bool, FnName: c.Name, Args: []*ir.Node{haystack, needle}}
	}

	sig, ok := unaryBuiltins[c.Name]
	if !ok {
		a.fail(mexerr.KindUnknownName, c.Pos, "unknown function %q", c.Name)
		return nil
	}
	if len(c.Args) != 1 {
		a.fail(mexerr.KindType, c.Pos, "%s() takes exactly 1 argument, got %d", c.Name, len(c.Args))
		return nil
	}
	arg := a.resolve(c.Args[0])
	if a.err != nil {
		return nil
	}
	if arg.DType == dtype.String {
		a.fail(mexerr.KindType, c.Pos, "%s() does not accept STRING", c.Name)
		return nil
	}
	if sig.kind == argRealOnly && arg.DType.IsComplex() {
		a.fail(mexerr.KindType, c.Pos, "%s() does not accept COMPLEX", c.Name)
		return nil
	}
	return &ir.Node{Kind: ir.KindCall, DType: sig.out(arg.DType), FnName: c.Name, Args: []*ir.Node{arg}}
}

// AnalyzeInfix compiles an infix-grammar source expression into a
// *plan.VectorPlan. vars is the caller's declared variable set; requested
// is the Variable dtype argument to compile() or dtype.Auto to infer it
// from the expression.
func AnalyzeInfix(expr ast.Expr, vars []VarInfo, requested dtype.DType) (*plan.VectorPlan, *mexerr.CompileError) {
	a := newAnalyzer(vars)
	tree := a.resolve(expr)
	if a.err != nil {
		return nil, a.err
	}
	tree = foldConstants(tree)

	tree, err := applyOutputCast(tree, requested, expr.Position())
	if err != nil {
		return nil, err
	}

	paramDTypes := make([]dtype.DType, len(a.order))
	for i, name := range a.order {
		paramDTypes[i] = a.vars[name].DType
	}

	isReduce := unwrapCast(tree).Kind == ir.KindReduce
	p := &plan.VectorPlan{
		Tree:        tree,
		OutputDType: tree.DType,
		InputDTypes: paramDTypes,
		ParamNames:  a.order,
	}
	if isReduce {
		p.HasReduction = true
		p.ReduceKind = unwrapCast(tree).ReduceKind
	}
	return p, nil
}

// unwrapCast returns n's operand if n is an output-cast Unary node,
// otherwise n itself. Used to classify "is this plan's overall value a
// reduction" without the presence of a trailing explicit-dtype cast hiding
// it.
func unwrapCast(n *ir.Node) *ir.Node {
	if n.Kind == ir.KindUnary && n.Op == "cast" {
		return n.Left
	}
	return n
}

// applyOutputCast inserts a "cast" Unary node when the caller requested an
// explicit output dtype that differs from the inferred one.
func applyOutputCast(tree *ir.Node, requested dtype.DType, pos lexer.Position) (*ir.Node, *mexerr.CompileError) {
	if requested == dtype.Auto || requested == tree.DType {
		return tree, nil
	}
	if tree.DType == dtype.String || requested == dtype.String {
		if tree.DType != requested {
			return nil, mexerr.New(mexerr.KindType, pos, "cannot cast %s result to requested output dtype %s", tree.DType, requested)
		}
	}
	return &ir.Node{Kind: ir.KindUnary, DType: requested, Op: "cast", Left: tree}, nil
}
