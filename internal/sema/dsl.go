package sema

import (
	"miniexpr/internal/ast"
	"miniexpr/internal/dslstmt"
	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
	"miniexpr/internal/lexer"
	"miniexpr/internal/mexerr"
	"miniexpr/internal/plan"
)

// AnalyzeKernel lowers a parsed DSL kernel into a *plan.KernelPlan.
// ndim is 0 for a flat (non-ND) kernel. The interp_fallback
// embedded in the returned plan is always populated: lowering only fails
// on a genuine compile error, never as a side effect of JIT being
// unavailable.
//
// A note on ir.Node.VarIndex inside a lowered kernel body: unlike a
// VectorPlan/NDPlan compiled from an infix expression (where VarIndex picks
// a slot in a flat column-buffer array the interpreter indexes directly),
// a kernel's per-element interpreter keeps a name-keyed scope (parameters,
// reserved indices and locals all live and die within one element's
// evaluation), so KindVar nodes here carry VarName as the only thing that
// matters; VarIndex holds whatever first-reference position the analyzer
// assigned and is ignored.
func AnalyzeKernel(k *dslstmt.Kernel, vars []VarInfo, ndim int, requested dtype.DType) (*plan.KernelPlan, *mexerr.CompileError) {
	varMap := make(map[string]VarInfo, len(vars))
	for _, v := range vars {
		varMap[v.Name] = v
	}
	for _, p := range k.Params {
		if _, ok := varMap[p]; !ok {
			return nil, mexerr.New(mexerr.KindUnknownName, k.Pos, "kernel parameter %q has no matching Variable", p)
		}
	}

	reserved := dslstmt.ReservedIdx(ndim)
	scope := make([]VarInfo, 0, len(vars)+len(reserved))
	for _, p := range k.Params {
		scope = append(scope, varMap[p])
	}
	for _, name := range reserved {
		scope = append(scope, VarInfo{Name: name, DType: dtype.Int64})
	}

	a := newAnalyzer(scope)
	a.dslMode = true

	var returns []*ir.Node
	stmts := a.lowerStmts(k.Body, &returns)
	if a.err != nil {
		return nil, a.err
	}
	if len(returns) == 0 || !ir.AllPathsReturn(stmts) {
		return nil, mexerr.New(mexerr.KindUnsupported, k.Pos, "kernel has a control-flow path that does not reach a return statement")
	}

	outDType := returns[0].DType
	for _, r := range returns[1:] {
		p, ok := dtype.Promote(outDType, r.DType)
		if !ok {
			return nil, mexerr.New(mexerr.KindType, k.Pos, "kernel's return values (%s, %s) do not promote to a common dtype", outDType, r.DType)
		}
		outDType = p
	}
	final := outDType
	if requested != dtype.Auto {
		if requested == dtype.String || outDType == dtype.String {
			if requested != outDType {
				return nil, mexerr.New(mexerr.KindType, k.Pos, "cannot cast kernel result %s to requested output dtype %s", outDType, requested)
			}
		}
		final = requested
	}
	for _, s := range stmts {
		wrapReturnCasts(s, final)
	}

	dialect := plan.DialectElement
	if d, ok := k.Pragmas["dialect"]; ok {
		switch d {
		case "element":
			dialect = plan.DialectElement
		case "vector":
			dialect = plan.DialectVector
		default:
			return nil, mexerr.New(mexerr.KindUnsupported, k.Pos, "unknown dialect pragma value %q", d)
		}
	}
	fpMode := plan.FPStrict
	if f, ok := k.Pragmas["fp"]; ok {
		switch f {
		case "strict":
			fpMode = plan.FPStrict
		case "contract":
			fpMode = plan.FPContract
		case "fast":
			fpMode = plan.FPFast
		default:
			return nil, mexerr.New(mexerr.KindUnsupported, k.Pos, "unknown fp pragma value %q", f)
		}
	}

	locals := make(map[string]dtype.DType, len(a.locals))
	for _, name := range a.locals {
		locals[name] = a.vars[name].DType
	}

	paramDTypes := make([]dtype.DType, len(k.Params))
	for i, p := range k.Params {
		paramDTypes[i] = varMap[p].DType
	}

	var fallback interface{}
	if ndim == 0 {
		fallback = &plan.VectorPlan{
			OutputDType:    final,
			InputDTypes:    paramDTypes,
			ParamNames:     k.Params,
			Stmts:          stmts,
			Locals:         locals,
			ReservedParams: reserved,
		}
	} else {
		fallback = &plan.NDPlan{
			OutputDType:    final,
			InputDTypes:    paramDTypes,
			ParamNames:     k.Params,
			Stmts:          stmts,
			Locals:         locals,
			ReservedParams: reserved,
		}
	}

	return &plan.KernelPlan{
		ParameterOrder: append(append([]string{}, k.Params...), reserved...),
		OutputDType:    final,
		Dialect:        dialect,
		FPMode:         fpMode,
		NDim:           ndim,
		InterpFallback: fallback,
		Pragmas:        k.Pragmas,
	}, nil
}

// wrapReturnCasts rewrites every Return statement's value (recursively,
// through If/For nesting) to final's dtype when it doesn't already match.
func wrapReturnCasts(s *ir.Stmt, final dtype.DType) {
	switch s.Kind {
	case ir.StmtReturn:
		if s.Value.DType != final {
			s.Value = &ir.Node{Kind: ir.KindUnary, DType: final, Op: "cast", Left: s.Value}
		}
	case ir.StmtIf:
		for _, c := range s.Then {
			wrapReturnCasts(c, final)
		}
		for _, c := range s.Else {
			wrapReturnCasts(c, final)
		}
	case ir.StmtFor:
		for _, c := range s.Body {
			wrapReturnCasts(c, final)
		}
	}
}

// lowerStmts type-checks and lowers a DSL statement block, appending every
// Return's resolved value node to returns (used to infer the kernel's
// overall output dtype once the whole body has been walked).
func (a *analyzer) lowerStmts(stmts []dslstmt.Stmt, returns *[]*ir.Node) []*ir.Stmt {
	if a.err != nil {
		return nil
	}
	out := make([]*ir.Stmt, 0, len(stmts))
	for _, raw := range stmts {
		if a.err != nil {
			return nil
		}
		switch st := raw.(type) {
		case *dslstmt.Assign:
			val := a.resolve(st.Value)
			if a.err != nil {
				return nil
			}
			if existing, ok := a.vars[st.Name]; ok {
				// A local's dtype is fixed by its first assignment,
				// scoped to the kernel body; a later
				// assignment of a different-but-promotable type is
				// implicitly cast down to that fixed slot type, the same
				// way assigning to a declared C local would be.
				if val.DType != existing.DType {
					if _, ok2 := dtype.Promote(existing.DType, val.DType); !ok2 {
						a.fail(mexerr.KindUnsupported, st.Pos, "variable %q reassigned with incompatible type %s (previously %s)", st.Name, val.DType, existing.DType)
						return nil
					}
					val = &ir.Node{Kind: ir.KindUnary, DType: existing.DType, Op: "cast", Left: val}
				}
			} else {
				a.vars[st.Name] = VarInfo{Name: st.Name, DType: val.DType}
				a.locals = append(a.locals, st.Name)
			}
			out = append(out, &ir.Stmt{Kind: ir.StmtAssign, Name: st.Name, Expr: val})

		case *dslstmt.If:
			cond := a.resolve(st.Cond)
			if a.err != nil {
				return nil
			}
			if cond.DType != dtype.Bool {
				a.fail(mexerr.KindType, st.Pos, "if condition must be BOOL, got %s", cond.DType)
				return nil
			}
			then := a.lowerStmts(st.Then, returns)
			var els []*ir.Stmt
			if st.Else != nil {
				els = a.lowerStmts(st.Else, returns)
			}
			if a.err != nil {
				return nil
			}
			out = append(out, &ir.Stmt{Kind: ir.StmtIf, Cond: cond, Then: then, Else: els})

		case *dslstmt.For:
			start := a.resolveBoundOrDefault(st.Start, 0)
			stop := a.resolve(st.Stop)
			step := a.resolveBoundOrDefault(st.Step, 1)
			if a.err != nil {
				return nil
			}
			for _, bound := range []*ir.Node{start, stop, step} {
				if !bound.DType.IsInteger() && bound.DType != dtype.Bool {
					a.fail(mexerr.KindType, st.Pos, "for-range bounds must be integer, got %s", bound.DType)
					return nil
				}
			}
			prev, had := a.vars[st.Var]
			a.vars[st.Var] = VarInfo{Name: st.Var, DType: dtype.Int64}
			body := a.lowerStmts(st.Body, returns)
			if had {
				a.vars[st.Var] = prev
			} else {
				delete(a.vars, st.Var)
			}
			if a.err != nil {
				return nil
			}
			out = append(out, &ir.Stmt{Kind: ir.StmtFor, LoopVar: st.Var, Start: start, Stop: stop, Step: step, Body: body})

		case *dslstmt.Break:
			cond := a.resolveGuard(st.Cond, st.Pos, "break")
			if a.err != nil {
				return nil
			}
			out = append(out, &ir.Stmt{Kind: ir.StmtBreak, Cond: cond})

		case *dslstmt.Continue:
			cond := a.resolveGuard(st.Cond, st.Pos, "continue")
			if a.err != nil {
				return nil
			}
			out = append(out, &ir.Stmt{Kind: ir.StmtContinue, Cond: cond})

		case *dslstmt.Return:
			val := a.resolve(st.Value)
			if a.err != nil {
				return nil
			}
			*returns = append(*returns, val)
			out = append(out, &ir.Stmt{Kind: ir.StmtReturn, Value: val})
		}
	}
	return out
}

func (a *analyzer) resolveBoundOrDefault(e ast.Expr, def int64) *ir.Node {
	if e == nil {
		return &ir.Node{Kind: ir.KindConst, DType: dtype.Int64, ConstValue: def}
	}
	return a.resolve(e)
}

func (a *analyzer) resolveGuard(e ast.Expr, pos lexer.Position, which string) *ir.Node {
	if e == nil {
		return nil
	}
	cond := a.resolve(e)
	if a.err != nil {
		return nil
	}
	if cond.DType != dtype.Bool {
		a.fail(mexerr.KindType, pos, "%s guard must be BOOL, got %s", which, cond.DType)
		return nil
	}
	return cond
}
