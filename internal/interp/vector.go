package interp

import (
	"miniexpr/internal/dtype"
	"miniexpr/internal/mexerr"
	"miniexpr/internal/plan"
)

// EvalVector runs p over nitems rows of inputs (one BoundVariable per
// p.ParamNames entry, same order) and writes the result into out.
//
// A non-reduction plan writes exactly nitems elements to out, walked in
// chunks of p.ChunkElements: the chunk size only bounds the working set
// the interpreter touches at once, it has no effect on the result — a
// pure tree-walking reference evaluator doesn't need actual chunk-local
// temporaries the way a vectorized SIMD backend would. A reduction plan
// writes exactly one element, out[0]: the output buffer for a
// whole-array reduction holds exactly one element.
func EvalVector(p *plan.VectorPlan, inputs []BoundVariable, nitems int64, out BoundVariable) *mexerr.RuntimeError {
	columns := make([]columnReader, len(inputs))
	for i, v := range inputs {
		c, rerr := decodeColumn(v, nitems)
		if rerr != nil {
			return rerr
		}
		columns[i] = c
	}
	outCol, rerr := decodeColumn(out, outLen(p.HasReduction, nitems))
	if rerr != nil {
		return rerr
	}

	env := &vectorEnv{columns: columns}

	if p.Tree == nil {
		return evalVectorStmts(p, columns, env, nitems, outCol)
	}

	return runProtected(func() *mexerr.RuntimeError {
		rc := precomputeReduces(p.Tree, nitems, env, func(i int64) { env.index = i })

		if p.HasReduction {
			outCol.write(0, evalNode(p.Tree, env, rc).castTo(p.OutputDType))
			return nil
		}

		chunk := p.ChunkElements
		if chunk <= 0 {
			chunk = defaultChunkElements(p.OutputDType)
		}
		for start := int64(0); start < nitems; start += int64(chunk) {
			end := start + int64(chunk)
			if end > nitems {
				end = nitems
			}
			for i := start; i < end; i++ {
				env.index = i
				outCol.write(i, evalNode(p.Tree, env, rc).castTo(p.OutputDType))
			}
		}
		return nil
	})
}

func outLen(hasReduction bool, nitems int64) int64 {
	if hasReduction {
		return 1
	}
	return nitems
}

func defaultChunkElements(dt dtype.DType) int {
	width := dt.ByteSize()
	if width <= 0 {
		width = 8
	}
	n := plan.DefaultChunkBytes / width
	if n < 1 {
		n = 1
	}
	return n
}

// evalVectorStmts executes a DSL-lowered plan's statement body once per
// element, binding parameters and reserved indices into a scopeEnv fresh
// for each element.
func evalVectorStmts(p *plan.VectorPlan, columns []columnReader, ve *vectorEnv, nitems int64, outCol columnReader) *mexerr.RuntimeError {
	return runProtected(func() *mexerr.RuntimeError {
		for i := int64(0); i < nitems; i++ {
			ve.index = i
			scope := newScopeEnv()
			for pi, name := range p.ParamNames {
				scope.set(name, columns[pi].read(i))
			}
			for _, name := range p.ReservedParams {
				scope.set(name, reservedValue(name, i, nitems))
			}
			result, returned := execStmts(p.Stmts, scope)
			if !returned {
				result = fromBool(false)
			}
			outCol.write(i, result.castTo(p.OutputDType))
		}
		return nil
	})
}

// reservedValue computes a reserved index identifier's value for a flat
// (non-ND) kernel: only _global_linear_idx is meaningful.
func reservedValue(name string, i, nitems int64) rtValue {
	if name == "_global_linear_idx" {
		return fromInt(dtype.Int64, i)
	}
	return fromInt(dtype.Int64, 0)
}

// runProtected recovers a panic raised mid-evaluation (integer divide or
// modulo by zero is the only one the interpreter lets through; runtime
// errors are non-fatal to the process) and converts it to an ErrRuntime.
func runProtected(fn func() *mexerr.RuntimeError) (rerr *mexerr.RuntimeError) {
	defer func() {
		if r := recover(); r != nil {
			rerr = mexerr.NewRuntime(mexerr.ErrRuntime, "runtime evaluation panic: %v", r)
		}
	}()
	return fn()
}
