package sema

import (
	"miniexpr/internal/ast"
	"miniexpr/internal/dslstmt"
	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
	"miniexpr/internal/mexerr"
	"miniexpr/internal/plan"
)

// AnalyzeND compiles an infix-grammar source expression for N-dimensional
// block evaluation. The reserved index
// identifiers for the given rank (_i0.._i{ndim-1}, _n0.._n{ndim-1}, _ndim,
// _global_linear_idx) are added to scope as implicit INT64 variables before
// the expression is resolved, exactly as internal/dslstmt.ReservedIdx lists
// them for kernel bodies; an infix ND expression may reference them the
// same way a DSL kernel does.
func AnalyzeND(expr ast.Expr, vars []VarInfo, ndim int, shape []int64, requested dtype.DType) (*plan.NDPlan, *mexerr.CompileError) {
	all := append([]VarInfo{}, vars...)
	for _, name := range dslstmt.ReservedIdx(ndim) {
		all = append(all, VarInfo{Name: name, DType: dtype.Int64})
	}

	a := newAnalyzer(all)
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
	p := &plan.NDPlan{
		Tree:        tree,
		OutputDType: tree.DType,
		InputDTypes: paramDTypes,
		ParamNames:  a.order,
		Shape:       shape,
	}
	if isReduce {
		p.HasReduction = true
		p.ReduceKind = unwrapCast(tree).ReduceKind
	}
	return p, nil
}
