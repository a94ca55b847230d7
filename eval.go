package miniexpr

import (
	"unsafe"

	"miniexpr/internal/dtype"
	"miniexpr/internal/interp"
	"miniexpr/internal/jitcache"
	"miniexpr/internal/mexerr"
	"miniexpr/internal/plan"
)

// RuntimeError is returned from Eval/EvalND/NDValidNitems.
type RuntimeError = mexerr.RuntimeError

// Binding is a caller-owned buffer bound to one compiled Variable at
// evaluation time: a pointer to contiguous, already-typed storage.
// ItemSize only matters for a dtype.String variable, where it is the
// fixed per-row byte width of a NUL-padded buffer; it is ignored for
// every other dtype, where the width comes from the dtype itself.
type Binding struct {
	Data     unsafe.Pointer
	ItemSize int
}

// Eval runs e over nitems contiguous elements, reading each input named in
// inputs and writing nitems results to output. inputs is keyed by Variable
// name rather than by position: Eval reorders bindings into e's own
// canonical parameter order internally, so callers never need to know (or
// depend on) the order Compile happened to resolve parameters in.
//
// Eval prefers e's attached JIT kernel when present and falls back to the
// interpreter otherwise (JIT disabled, on cooldown, or never attached).
func Eval(e *Expr, inputs map[string]Binding, nitems int64, output Binding) *RuntimeError {
	if e.Released() {
		return mexerr.NewRuntime(mexerr.ErrInternal, "miniexpr: Eval called on a released Expr")
	}
	switch {
	case e.Plan.Vector != nil:
		return evalVector(e, e.Plan.Vector, inputs, nitems, output)
	case e.Plan.Kernel != nil:
		return evalKernelFlat(e, e.Plan.Kernel, inputs, nitems, output)
	default:
		return mexerr.NewRuntime(mexerr.ErrInvalidArg, "miniexpr: Eval called on an ND-only Expr; use EvalND")
	}
}

// EvalND runs e, compiled by CompileND, over its whole N-dimensional
// shape, reading/writing through inputs/output exactly as Eval does.
func EvalND(e *Expr, inputs map[string]Binding, output Binding) *RuntimeError {
	if e.Released() {
		return mexerr.NewRuntime(mexerr.ErrInternal, "miniexpr: EvalND called on a released Expr")
	}
	switch {
	case e.Plan.ND != nil:
		return evalND(e, e.Plan.ND, inputs, output)
	case e.Plan.Kernel != nil:
		kp := e.Plan.Kernel
		ndp, ok := kp.InterpFallback.(*plan.NDPlan)
		if !ok {
			return mexerr.NewRuntime(mexerr.ErrInvalidArg, "miniexpr: EvalND called on a flat kernel Expr; use Eval")
		}
		return evalKernelND(e, kp, ndp, inputs, output)
	default:
		return mexerr.NewRuntime(mexerr.ErrInvalidArg, "miniexpr: EvalND called on a flat Expr; use Eval")
	}
}

func evalVector(e *Expr, vp *plan.VectorPlan, inputs map[string]Binding, nitems int64, output Binding) *RuntimeError {
	bound, rerr := bindInputs(vp.ParamNames, e.VariableDTypes, inputs)
	if rerr != nil {
		return rerr
	}
	out := interp.BoundVariable{Name: "__out", DType: e.InferredOutputDType, Data: output.Data, ItemSize: output.ItemSize}
	return interp.EvalVector(vp, bound, nitems, out)
}

func evalND(e *Expr, ndp *plan.NDPlan, inputs map[string]Binding, output Binding) *RuntimeError {
	bound, rerr := bindInputs(ndp.ParamNames, e.VariableDTypes, inputs)
	if rerr != nil {
		return rerr
	}
	out := interp.BoundVariable{Name: "__out", DType: e.InferredOutputDType, Data: output.Data, ItemSize: output.ItemSize}
	return interp.EvalND(ndp, bound, out)
}

func evalKernelFlat(e *Expr, kp *plan.KernelPlan, inputs map[string]Binding, nitems int64, output Binding) *RuntimeError {
	names, dtypes := kernelRealParams(kp)
	if kp.JITKernel != nil {
		ptrs, rerr := orderPointers(names, inputs)
		if rerr != nil {
			return rerr
		}
		jitcache.RunKernelFlat(kp.JITKernel.Entry, ptrs, output.Data, nitems)
		return nil
	}
	vp, ok := kp.InterpFallback.(*plan.VectorPlan)
	if !ok {
		return mexerr.NewRuntime(mexerr.ErrInternal, "miniexpr: flat kernel has a non-flat interpreter fallback")
	}
	bound, rerr := bindInputs(names, dtypes, inputs)
	if rerr != nil {
		return rerr
	}
	out := interp.BoundVariable{Name: "__out", DType: kp.OutputDType, Data: output.Data, ItemSize: output.ItemSize}
	return interp.EvalKernel(kp, bound, nitems, out)
}

func evalKernelND(e *Expr, kp *plan.KernelPlan, ndp *plan.NDPlan, inputs map[string]Binding, output Binding) *RuntimeError {
	names, dtypes := kernelRealParams(kp)
	if kp.JITKernel != nil {
		ptrs, rerr := orderPointers(names, inputs)
		if rerr != nil {
			return rerr
		}
		elemSizes := make([]int, len(names))
		for i, dt := range dtypes {
			elemSizes[i] = elemSize(dt, inputs[names[i]].ItemSize)
		}
		jitcache.RunKernelND(kp.JITKernel.Entry, ptrs, elemSizes, output.Data, elemSize(kp.OutputDType, output.ItemSize), ndp.Shape, ndp.ChunkShape, ndp.BlockShape)
		return nil
	}
	bound, rerr := bindInputs(names, dtypes, inputs)
	if rerr != nil {
		return rerr
	}
	out := interp.BoundVariable{Name: "__out", DType: kp.OutputDType, Data: output.Data, ItemSize: output.ItemSize}
	return interp.EvalND(ndp, bound, out)
}

// EvalNDTile evaluates exactly one chunk/block tile of e, identified by
// chunkLinearIdx/blockLinearIdx, into output. output must be sized for
// padded_nitems = product(block_shape) elements; any position whose
// coordinate overhangs the array's far edge is zero-filled rather than
// omitted, so a tile at the array's boundary always produces a
// full-sized, consistently-addressed buffer. Unlike EvalND, this has no
// meaning for a whole-array reduction Expr.
func EvalNDTile(e *Expr, inputs map[string]Binding, output Binding, chunkLinearIdx, blockLinearIdx int64) *RuntimeError {
	if e.Released() {
		return mexerr.NewRuntime(mexerr.ErrInternal, "miniexpr: EvalNDTile called on a released Expr")
	}
	shape, chunkShape, blockShape := ndGeometry(e)
	if shape == nil {
		return mexerr.NewRuntime(mexerr.ErrInvalidArg, "miniexpr: EvalNDTile called on a flat Expr; use Eval")
	}
	if len(chunkShape) == 0 {
		chunkShape = shape
	}
	if len(blockShape) == 0 {
		blockShape = chunkShape
	}

	chunkStart, chunkEnd, rerr := tileBounds(shape, chunkShape, chunkLinearIdx)
	if rerr != nil {
		return rerr
	}
	chunkExtent := make([]int64, len(shape))
	for d := range shape {
		chunkExtent[d] = chunkEnd[d] - chunkStart[d]
	}
	blockStart, _, rerr := tileBounds(chunkExtent, blockShape, blockLinearIdx)
	if rerr != nil {
		return rerr
	}

	tileStart := make([]int64, len(shape))
	paddedShape := make([]int64, len(shape))
	for d := range shape {
		tileStart[d] = chunkStart[d] + blockStart[d]
		step := blockShape[d]
		if step <= 0 {
			step = chunkExtent[d]
		}
		paddedShape[d] = step
	}

	switch {
	case e.Plan.ND != nil:
		ndp := e.Plan.ND
		bound, rerr := bindInputs(ndp.ParamNames, e.VariableDTypes, inputs)
		if rerr != nil {
			return rerr
		}
		out := interp.BoundVariable{Name: "__out", DType: e.InferredOutputDType, Data: output.Data, ItemSize: output.ItemSize}
		return interp.EvalNDTile(ndp, bound, out, tileStart, paddedShape)
	case e.Plan.Kernel != nil:
		kp := e.Plan.Kernel
		ndp, ok := kp.InterpFallback.(*plan.NDPlan)
		if !ok {
			return mexerr.NewRuntime(mexerr.ErrInvalidArg, "miniexpr: EvalNDTile called on a flat kernel Expr; use Eval")
		}
		names, dtypes := kernelRealParams(kp)
		if kp.JITKernel != nil {
			ptrs, rerr := orderPointers(names, inputs)
			if rerr != nil {
				return rerr
			}
			elemSizes := make([]int, len(names))
			for i, dt := range dtypes {
				elemSizes[i] = elemSize(dt, inputs[names[i]].ItemSize)
			}
			jitcache.RunKernelNDTile(kp.JITKernel.Entry, ptrs, elemSizes, output.Data, elemSize(kp.OutputDType, output.ItemSize), shape, tileStart, paddedShape)
			return nil
		}
		bound, rerr := bindInputs(names, dtypes, inputs)
		if rerr != nil {
			return rerr
		}
		out := interp.BoundVariable{Name: "__out", DType: kp.OutputDType, Data: output.Data, ItemSize: output.ItemSize}
		return interp.EvalNDTile(ndp, bound, out, tileStart, paddedShape)
	default:
		return mexerr.NewRuntime(mexerr.ErrInvalidArg, "miniexpr: EvalNDTile called on a flat Expr; use Eval")
	}
}

// bindInputs reorders a name-keyed Binding map into the canonical
// interp.BoundVariable slice Compile's analyzer resolved names/dtypes
// in, failing with ErrUnknownName if a required input is missing.
func bindInputs(names []string, dtypes []dtype.DType, inputs map[string]Binding) ([]interp.BoundVariable, *RuntimeError) {
	bound := make([]interp.BoundVariable, len(names))
	for i, name := range names {
		b, ok := inputs[name]
		if !ok {
			return nil, mexerr.NewRuntime(mexerr.ErrUnknownName, "miniexpr: missing binding for variable %q", name)
		}
		bound[i] = interp.BoundVariable{Name: name, DType: dtypes[i], Data: b.Data, ItemSize: b.ItemSize}
	}
	return bound, nil
}

func orderPointers(names []string, inputs map[string]Binding) ([]unsafe.Pointer, *RuntimeError) {
	ptrs := make([]unsafe.Pointer, len(names))
	for i, name := range names {
		b, ok := inputs[name]
		if !ok {
			return nil, mexerr.NewRuntime(mexerr.ErrUnknownName, "miniexpr: missing binding for variable %q", name)
		}
		ptrs[i] = b.Data
	}
	return ptrs, nil
}

func elemSize(dt dtype.DType, itemSize int) int {
	if dt == dtype.String {
		return itemSize
	}
	return dt.ByteSize()
}

// NDValidNitems returns the number of real (non-overhanging) elements in
// the block named by chunkLinearIdx/blockLinearIdx within e's compiled
// ND shape: a block straddling the far edge of any axis is clamped rather
// than zero-padded, so its valid element count is usually, but not
// always, the full product of BlockShape.
//
// chunkLinearIdx and blockLinearIdx are row-major linear indices into the
// tile grids e.g. a caller driving a manual chunk/block loop (rather than
// calling EvalND once for the whole array) uses to identify which tile it
// is about to fill — the same row-major order EvalND itself walks chunks
// and blocks in.
func NDValidNitems(e *Expr, chunkLinearIdx, blockLinearIdx int64) (int64, *RuntimeError) {
	if e.Released() {
		return 0, mexerr.NewRuntime(mexerr.ErrInternal, "miniexpr: NDValidNitems called on a released Expr")
	}
	shape, chunkShape, blockShape := ndGeometry(e)
	if shape == nil {
		return 0, mexerr.NewRuntime(mexerr.ErrInvalidArg, "miniexpr: NDValidNitems called on a non-ND Expr")
	}
	if len(chunkShape) == 0 {
		chunkShape = shape
	}
	if len(blockShape) == 0 {
		blockShape = chunkShape
	}

	chunkStart, chunkEnd, rerr := tileBounds(shape, chunkShape, chunkLinearIdx)
	if rerr != nil {
		return 0, rerr
	}
	chunkExtent := make([]int64, len(shape))
	for d := range shape {
		chunkExtent[d] = chunkEnd[d] - chunkStart[d]
	}
	blockStart, blockEnd, rerr := tileBounds(chunkExtent, blockShape, blockLinearIdx)
	if rerr != nil {
		return 0, rerr
	}

	n := int64(1)
	for d := range shape {
		n *= blockEnd[d] - blockStart[d]
	}
	return n, nil
}

func ndGeometry(e *Expr) (shape, chunkShape, blockShape []int64) {
	if e.Plan.ND != nil {
		return e.Plan.ND.Shape, e.Plan.ND.ChunkShape, e.Plan.ND.BlockShape
	}
	if e.Plan.Kernel != nil {
		if ndp, ok := e.Plan.Kernel.InterpFallback.(*plan.NDPlan); ok {
			return ndp.Shape, ndp.ChunkShape, ndp.BlockShape
		}
	}
	return nil, nil, nil
}

// tileBounds unravels linearIdx (row-major, last axis fastest) against the
// per-axis tile counts ceil(extent[d]/tileShape[d]), returning the
// resulting tile's clamped [start, end) bounds within extent.
func tileBounds(extent, tileShape []int64, linearIdx int64) (start, end []int64, rerr *RuntimeError) {
	ndim := len(extent)
	counts := make([]int64, ndim)
	total := int64(1)
	for d := 0; d < ndim; d++ {
		step := tileShape[d]
		if step <= 0 {
			step = extent[d]
		}
		counts[d] = (extent[d] + step - 1) / step
		if counts[d] == 0 {
			counts[d] = 1
		}
		total *= counts[d]
	}
	if linearIdx < 0 || linearIdx >= total {
		return nil, nil, mexerr.NewRuntime(mexerr.ErrInvalidArg, "miniexpr: tile index %d out of range [0, %d)", linearIdx, total)
	}

	idx := make([]int64, ndim)
	rem := linearIdx
	for d := ndim - 1; d >= 0; d-- {
		idx[d] = rem % counts[d]
		rem /= counts[d]
	}

	start = make([]int64, ndim)
	end = make([]int64, ndim)
	for d := 0; d < ndim; d++ {
		step := tileShape[d]
		if step <= 0 {
			step = extent[d]
		}
		s := idx[d] * step
		e := s + step
		if e > extent[d] {
			e = extent[d]
		}
		start[d], end[d] = s, e
	}
	return start, end, nil
}

// GetOutputDType returns e's inferred (or caller-requested) output dtype.
func GetOutputDType(e *Expr) dtype.DType {
	return e.InferredOutputDType
}

// HasJITKernel reports whether e has a native kernel attached: Eval/EvalND
// run it instead of the interpreter when true.
func HasJITKernel(e *Expr) bool {
	return e.HasJITKernel()
}

// Free releases e's JIT resources, if any, and marks it unusable. Safe to
// call more than once.
func Free(e *Expr) {
	e.Release()
}
