package interp

import (
	"miniexpr/internal/mexerr"
	"miniexpr/internal/plan"
)

// EvalKernel runs a DSL kernel's interpreter fallback plan; interp_fallback
// is always populated. Callers holding a JIT-attached KernelPlan still
// reach for this when the cache is on cooldown or JIT is disabled outright.
func EvalKernel(kp *plan.KernelPlan, inputs []BoundVariable, nitems int64, out BoundVariable) *mexerr.RuntimeError {
	switch fb := kp.InterpFallback.(type) {
	case *plan.VectorPlan:
		return EvalVector(fb, inputs, nitems, out)
	case *plan.NDPlan:
		return EvalND(fb, inputs, out)
	}
	return mexerr.NewRuntime(mexerr.ErrInternal, "kernel plan has no usable interpreter fallback")
}
