package jitcache

import "unsafe"

// RunKernelND evaluates a compiled ND kernel over shape, tiled by
// chunkShape/blockShape the same way internal/interp/nd.go's walkBlocks
// tiles an interpreted ND plan for locality — the grid-walk structure is
// intentionally mirrored so the two backends visit memory in the same
// order. Where the interpreter calls execStmts once per coordinate,
// RunKernelND calls the compiled kernel once per contiguous innermost
// run: internal/cemit's ND kernel ABI already unravels a
// base_linear+_k offset against shape on the C side, so there is no
// reason to cross the Go/C boundary more than once per run.
func RunKernelND(entry uintptr, inputs []unsafe.Pointer, inputElemSize []int, output unsafe.Pointer, outElemSize int, shape, chunkShape, blockShape []int64) {
	strides := rowMajorStrides(shape)
	ndim := len(shape)

	walkRuns(shape, chunkShape, blockShape, func(start []int64, runLen int64) {
		baseLinear := int64(0)
		for d := 0; d < ndim; d++ {
			baseLinear += start[d] * strides[d]
		}

		offsetInputs := make([]unsafe.Pointer, len(inputs))
		for i, p := range inputs {
			offsetInputs[i] = advancePointer(p, baseLinear, inputElemSize[i])
		}
		offsetOutput := advancePointer(output, baseLinear, outElemSize)

		invokeNDKernel(entry, offsetInputs, offsetOutput, shape, int64(ndim), baseLinear, runLen)
	})
}

// RunKernelNDTile evaluates a compiled ND kernel over exactly one
// chunk/block tile, identified by its absolute start coordinate
// (tileStart) and its full, unclamped extent (paddedShape — typically
// the kernel's own BlockShape), into an output buffer sized for
// paddedShape. Positions that overhang shape's far edge are zero-filled
// rather than evaluated, the JIT-side counterpart of
// internal/interp's EvalNDTile.
func RunKernelNDTile(entry uintptr, inputs []unsafe.Pointer, inputElemSize []int, output unsafe.Pointer, outElemSize int, shape, tileStart, paddedShape []int64) {
	ndim := len(shape)
	paddedNitems := int64(1)
	for _, s := range paddedShape {
		paddedNitems *= s
	}
	zeroFill(output, paddedNitems*int64(outElemSize))

	validStart := make([]int64, ndim)
	validEnd := make([]int64, ndim)
	for d := 0; d < ndim; d++ {
		s, e := tileStart[d], tileStart[d]+paddedShape[d]
		if s < 0 {
			s = 0
		}
		if e > shape[d] {
			e = shape[d]
		}
		if s >= e {
			return
		}
		validStart[d], validEnd[d] = s, e
	}

	shapeStrides := rowMajorStrides(shape)
	paddedStrides := rowMajorStrides(paddedShape)

	runOverInterior(shape, validStart, validEnd, func(start []int64, runLen int64) {
		absBase := int64(0)
		localBase := int64(0)
		for d := 0; d < ndim; d++ {
			absBase += start[d] * shapeStrides[d]
			localBase += (start[d] - tileStart[d]) * paddedStrides[d]
		}
		offsetInputs := make([]unsafe.Pointer, len(inputs))
		for i, p := range inputs {
			offsetInputs[i] = advancePointer(p, absBase, inputElemSize[i])
		}
		offsetOutput := advancePointer(output, localBase, outElemSize)
		invokeNDKernel(entry, offsetInputs, offsetOutput, shape, int64(ndim), absBase, runLen)
	})
}

func zeroFill(p unsafe.Pointer, nbytes int64) {
	if nbytes <= 0 {
		return
	}
	clear(unsafe.Slice((*byte)(p), nbytes))
}

func advancePointer(p unsafe.Pointer, linear int64, elemSize int) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) + uintptr(linear)*uintptr(elemSize))
}

func rowMajorStrides(shape []int64) []int64 {
	strides := make([]int64, len(shape))
	acc := int64(1)
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= shape[d]
	}
	return strides
}

// walkRuns visits every contiguous innermost run of shape in row-major
// order, tiled by chunkShape then blockShape exactly like
// internal/interp/nd.go's walkChunkGrid/walkBlockGrid. A chunk or block
// extent that overhangs shape at the array's far edge is clamped, the
// same edge handling the interpreter applies per-coordinate.
func walkRuns(shape, chunkShape, blockShape []int64, visit func(start []int64, runLen int64)) {
	walkGrid(shape, chunkShape, func(chunkStart []int64) {
		chunkEnd := clampedEnd(shape, chunkStart, chunkShape)
		walkGridWithin(shape, chunkStart, chunkEnd, blockShape, func(blockStart []int64) {
			blockEnd := clampedEnd(shape, blockStart, blockShape)
			runOverInterior(shape, blockStart, blockEnd, visit)
		})
	})
}

func clampedEnd(shape, start, extent []int64) []int64 {
	ndim := len(shape)
	end := make([]int64, ndim)
	for d := 0; d < ndim; d++ {
		step := extent[d]
		if step <= 0 {
			step = shape[d]
		}
		e := start[d] + step
		if e > shape[d] {
			e = shape[d]
		}
		end[d] = e
	}
	return end
}

func walkGrid(shape, tileShape []int64, fn func(start []int64)) {
	ndim := len(shape)
	start := make([]int64, ndim)
	var rec func(d int)
	rec = func(d int) {
		if d == ndim {
			cp := append([]int64{}, start...)
			fn(cp)
			return
		}
		step := tileShape[d]
		if step <= 0 {
			step = shape[d]
		}
		for start[d] = 0; start[d] < shape[d]; start[d] += step {
			rec(d + 1)
		}
	}
	rec(0)
}

func walkGridWithin(shape, outerStart, outerEnd, tileShape []int64, fn func(start []int64)) {
	ndim := len(shape)
	start := make([]int64, ndim)
	var rec func(d int)
	rec = func(d int) {
		if d == ndim {
			cp := append([]int64{}, start...)
			fn(cp)
			return
		}
		step := tileShape[d]
		if step <= 0 {
			step = outerEnd[d] - outerStart[d]
		}
		for start[d] = outerStart[d]; start[d] < outerEnd[d]; start[d] += step {
			rec(d + 1)
		}
	}
	rec(0)
}

// runOverInterior walks every axis but the last as individual
// coordinates, and reports the last axis's whole [start,end) extent as
// one contiguous run — row-major order guarantees that extent is
// contiguous in linear-index space for a fixed prefix of the other axes.
func runOverInterior(shape, start, end []int64, visit func(start []int64, runLen int64)) {
	ndim := len(shape)
	if ndim == 0 {
		visit(start, 1)
		return
	}
	idx := append([]int64{}, start...)
	var rec func(d int)
	rec = func(d int) {
		if d == ndim-1 {
			runLen := end[ndim-1] - start[ndim-1]
			cp := append([]int64{}, idx...)
			cp[ndim-1] = start[ndim-1]
			visit(cp, runLen)
			return
		}
		for idx[d] = start[d]; idx[d] < end[d]; idx[d]++ {
			rec(d + 1)
		}
	}
	rec(0)
}
