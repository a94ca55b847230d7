package interp

import (
	"miniexpr/internal/dslstmt"
	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
	"miniexpr/internal/mexerr"
	"miniexpr/internal/plan"
)

// ndCoord is one N-dimensional evaluator position: its multi-index and
// its row-major linear offset.
type ndCoord struct {
	idx    []int64
	linear int64
}

// ndVectorEnv resolves KindVar nodes for an ND infix plan. An
// infix ND expression can reference the reserved index identifiers
// directly (AnalyzeND adds them to scope as implicit INT64 variables
// alongside the caller's own Variables), so VarIndex alone isn't enough to
// tell a real input column from a reserved one; reserved is the exact set
// for this plan's rank, checked by name.
type ndVectorEnv struct {
	columns  []columnReader
	reserved map[string]bool
	shape    []int64
	linear   int64
}

func (e *ndVectorEnv) Lookup(n *ir.Node) rtValue {
	if e.reserved[n.VarName] {
		v, _ := reservedNDValue(n.VarName, e.linear, e.shape)
		return v
	}
	return e.columns[n.VarIndex].read(e.linear)
}

// reservedNDValue computes one reserved identifier's value at a flat
// position, unraveling it against shape via row-major strides rather than
// threading a live multi-index through every lookup.
func reservedNDValue(name string, linear int64, shape []int64) (rtValue, bool) {
	ndim := len(shape)
	switch {
	case name == "_ndim":
		return fromInt(dtype.Int64, int64(ndim)), true
	case name == "_global_linear_idx":
		return fromInt(dtype.Int64, linear), true
	case len(name) > 2 && name[:2] == "_i":
		d := axisOf(name, "_i")
		return fromInt(dtype.Int64, unravelAxis(linear, shape, d)), true
	case len(name) > 2 && name[:2] == "_n":
		d := axisOf(name, "_n")
		return fromInt(dtype.Int64, shape[d]), true
	}
	return rtValue{}, false
}

func unravelAxis(linear int64, shape []int64, axis int) int64 {
	strides := rowMajorStrides(shape)
	return (linear / strides[axis]) % shape[axis]
}

// EvalND runs p over an N-dimensional block with a two-level
// chunk/block tiling for locality: the outer loop walks ChunkShape-sized
// tiles, the inner loop walks BlockShape-sized sub-tiles within each,
// and the innermost loop visits individual coordinates in row-major
// order. A tile that overhangs Shape at the array's far edge is clamped
// rather than actually zero-padded: a scalar tree-walking evaluator reads
// and writes one coordinate at a time, so there is no fixed-width lane to
// pad. internal/jitcache's RunKernelND clamps its tiles the same way;
// zero padding is written only by the per-tile variants.
func EvalND(p *plan.NDPlan, inputs []BoundVariable, out BoundVariable) *mexerr.RuntimeError {
	nitems := totalElements(p.Shape)

	byName := make(map[string]BoundVariable, len(inputs))
	for _, v := range inputs {
		byName[v.Name] = v
	}

	outNitems := nitems
	if p.HasReduction {
		outNitems = 1
	}
	outCol, rerr := decodeColumn(out, outNitems)
	if rerr != nil {
		return rerr
	}

	chunkShape := p.ChunkShape
	if len(chunkShape) == 0 {
		chunkShape = p.Shape
	}
	blockShape := p.BlockShape
	if len(blockShape) == 0 {
		blockShape = chunkShape
	}

	if p.Tree == nil {
		columns := make([]columnReader, len(p.ParamNames))
		for i, name := range p.ParamNames {
			c, rerr := decodeColumn(byName[name], nitems)
			if rerr != nil {
				return rerr
			}
			columns[i] = c
		}
		return runProtected(func() *mexerr.RuntimeError {
			walkBlocks(p.Shape, chunkShape, blockShape, func(coord ndCoord) {
				scope := newScopeEnv()
				for pi, name := range p.ParamNames {
					scope.set(name, columns[pi].read(coord.linear))
				}
				bindReservedND(scope, p.ReservedParams, coord.idx, p.Shape)
				result, _ := execStmts(p.Stmts, scope)
				outCol.write(coord.linear, result.castTo(p.OutputDType))
			})
			return nil
		})
	}

	reservedSet := make(map[string]bool)
	for _, name := range dslstmt.ReservedIdx(len(p.Shape)) {
		reservedSet[name] = true
	}
	columns := make([]columnReader, len(p.ParamNames))
	for i, name := range p.ParamNames {
		if reservedSet[name] {
			continue
		}
		c, rerr := decodeColumn(byName[name], nitems)
		if rerr != nil {
			return rerr
		}
		columns[i] = c
	}

	return runProtected(func() *mexerr.RuntimeError {
		env := &ndVectorEnv{columns: columns, reserved: reservedSet, shape: p.Shape}
		rc := precomputeReduces(p.Tree, nitems, env, func(i int64) { env.linear = i })

		if p.HasReduction {
			outCol.write(0, evalNode(p.Tree, env, rc).castTo(p.OutputDType))
			return nil
		}
		walkBlocks(p.Shape, chunkShape, blockShape, func(coord ndCoord) {
			env.linear = coord.linear
			outCol.write(coord.linear, evalNode(p.Tree, env, rc).castTo(p.OutputDType))
		})
		return nil
	})
}

// EvalNDTile evaluates exactly one chunk/block tile of p, identified by
// its absolute start coordinate (tileStart) and its full, unclamped
// extent (paddedShape — typically the plan's own BlockShape), into a
// caller-provided out buffer sized for paddedShape. A position whose
// absolute coordinate falls outside p.Shape (the tile overhangs the
// array's far edge) is zero-filled rather than clamped away, unlike
// EvalND's whole-array walk. Whole-array reductions have no single-tile
// meaning and are rejected.
func EvalNDTile(p *plan.NDPlan, inputs []BoundVariable, out BoundVariable, tileStart, paddedShape []int64) *mexerr.RuntimeError {
	if p.HasReduction {
		return mexerr.NewRuntime(mexerr.ErrUnsupported, "miniexpr: per-tile ND eval does not support whole-array reductions")
	}

	nitems := totalElements(p.Shape)
	paddedNitems := totalElements(paddedShape)

	byName := make(map[string]BoundVariable, len(inputs))
	for _, v := range inputs {
		byName[v.Name] = v
	}

	outCol, rerr := decodeColumn(out, paddedNitems)
	if rerr != nil {
		return rerr
	}
	zero := zeroValue(p.OutputDType)

	if p.Tree == nil {
		columns := make([]columnReader, len(p.ParamNames))
		for i, name := range p.ParamNames {
			c, rerr := decodeColumn(byName[name], nitems)
			if rerr != nil {
				return rerr
			}
			columns[i] = c
		}
		return runProtected(func() *mexerr.RuntimeError {
			walkPaddedTile(p.Shape, tileStart, paddedShape, func(localLinear int64, absIdx []int64, inBounds bool) {
				if !inBounds {
					outCol.write(localLinear, zero)
					return
				}
				absLinear := ravelIndex(absIdx, p.Shape)
				scope := newScopeEnv()
				for pi, name := range p.ParamNames {
					scope.set(name, columns[pi].read(absLinear))
				}
				bindReservedND(scope, p.ReservedParams, absIdx, p.Shape)
				result, _ := execStmts(p.Stmts, scope)
				outCol.write(localLinear, result.castTo(p.OutputDType))
			})
			return nil
		})
	}

	reservedSet := make(map[string]bool)
	for _, name := range dslstmt.ReservedIdx(len(p.Shape)) {
		reservedSet[name] = true
	}
	columns := make([]columnReader, len(p.ParamNames))
	for i, name := range p.ParamNames {
		if reservedSet[name] {
			continue
		}
		c, rerr := decodeColumn(byName[name], nitems)
		if rerr != nil {
			return rerr
		}
		columns[i] = c
	}

	return runProtected(func() *mexerr.RuntimeError {
		env := &ndVectorEnv{columns: columns, reserved: reservedSet, shape: p.Shape}
		rc := precomputeReduces(p.Tree, nitems, env, func(i int64) { env.linear = i })
		walkPaddedTile(p.Shape, tileStart, paddedShape, func(localLinear int64, absIdx []int64, inBounds bool) {
			if !inBounds {
				outCol.write(localLinear, zero)
				return
			}
			env.linear = ravelIndex(absIdx, p.Shape)
			outCol.write(localLinear, evalNode(p.Tree, env, rc).castTo(p.OutputDType))
		})
		return nil
	})
}

// walkPaddedTile visits every local position of a paddedShape-sized tile
// rooted at tileStart, in row-major order. visit receives the local
// linear offset into the padded tile, the absolute coordinate in the
// full array, and whether that coordinate is actually within shape.
func walkPaddedTile(shape, tileStart, paddedShape []int64, visit func(localLinear int64, absIdx []int64, inBounds bool)) {
	ndim := len(paddedShape)
	if ndim == 0 {
		visit(0, nil, true)
		return
	}
	strides := rowMajorStrides(paddedShape)
	local := make([]int64, ndim)
	abs := make([]int64, ndim)
	var rec func(d int)
	rec = func(d int) {
		if d == ndim {
			linear := int64(0)
			inBounds := true
			for i := 0; i < ndim; i++ {
				linear += local[i] * strides[i]
				if abs[i] < 0 || abs[i] >= shape[i] {
					inBounds = false
				}
			}
			cp := make([]int64, ndim)
			copy(cp, abs)
			visit(linear, cp, inBounds)
			return
		}
		for local[d] = 0; local[d] < paddedShape[d]; local[d]++ {
			abs[d] = tileStart[d] + local[d]
			rec(d + 1)
		}
	}
	rec(0)
}

func ravelIndex(idx, shape []int64) int64 {
	strides := rowMajorStrides(shape)
	linear := int64(0)
	for d := range shape {
		linear += idx[d] * strides[d]
	}
	return linear
}

func totalElements(shape []int64) int64 {
	n := int64(1)
	for _, s := range shape {
		n *= s
	}
	return n
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

// walkBlocks visits every coordinate of shape in row-major order, tiled
// by chunkShape then blockShape for locality. visit is called exactly
// once per real (in-bounds) coordinate.
func walkBlocks(shape, chunkShape, blockShape []int64, visit func(ndCoord)) {
	strides := rowMajorStrides(shape)

	walkChunkGrid(shape, chunkShape, func(chunkStart []int64) {
		walkBlockGrid(shape, chunkStart, chunkShape, blockShape, func(bStart []int64) {
			walkBlockInterior(shape, bStart, blockShape, strides, visit)
		})
	})
}

func walkChunkGrid(shape, chunkShape []int64, fn func(start []int64)) {
	ndim := len(shape)
	start := make([]int64, ndim)
	var rec func(d int)
	rec = func(d int) {
		if d == ndim {
			cp := make([]int64, ndim)
			copy(cp, start)
			fn(cp)
			return
		}
		step := chunkShape[d]
		if step <= 0 {
			step = shape[d]
		}
		for start[d] = 0; start[d] < shape[d]; start[d] += step {
			rec(d + 1)
		}
	}
	rec(0)
}

func walkBlockGrid(shape, chunkStart, chunkShape, blockShape []int64, fn func(start []int64)) {
	ndim := len(shape)
	chunkEnd := make([]int64, ndim)
	for d := 0; d < ndim; d++ {
		step := chunkShape[d]
		if step <= 0 {
			step = shape[d]
		}
		e := chunkStart[d] + step
		if e > shape[d] {
			e = shape[d]
		}
		chunkEnd[d] = e
	}
	start := make([]int64, ndim)
	var rec func(d int)
	rec = func(d int) {
		if d == ndim {
			cp := make([]int64, ndim)
			copy(cp, start)
			fn(cp)
			return
		}
		step := blockShape[d]
		if step <= 0 {
			step = chunkEnd[d] - chunkStart[d]
		}
		for start[d] = chunkStart[d]; start[d] < chunkEnd[d]; start[d] += step {
			rec(d + 1)
		}
	}
	rec(0)
}

func walkBlockInterior(shape, blockStart, blockShape, strides []int64, visit func(ndCoord)) {
	ndim := len(shape)
	blockEnd := make([]int64, ndim)
	for d := 0; d < ndim; d++ {
		step := blockShape[d]
		if step <= 0 {
			step = shape[d]
		}
		e := blockStart[d] + step
		if e > shape[d] {
			e = shape[d]
		}
		blockEnd[d] = e
	}
	idx := make([]int64, ndim)
	copy(idx, blockStart)
	var rec func(d int)
	rec = func(d int) {
		if d == ndim {
			linear := int64(0)
			for i := 0; i < ndim; i++ {
				linear += idx[i] * strides[i]
			}
			visit(ndCoord{idx: idx, linear: linear})
			return
		}
		for idx[d] = blockStart[d]; idx[d] < blockEnd[d]; idx[d]++ {
			rec(d + 1)
		}
	}
	rec(0)
}

// bindReservedND sets every reserved identifier into scope for the
// element at idx within an array of the given shape.
func bindReservedND(scope *scopeEnv, reserved []string, idx, shape []int64) {
	ndim := len(shape)
	linear := int64(0)
	strides := rowMajorStrides(shape)
	for d := 0; d < ndim; d++ {
		linear += idx[d] * strides[d]
	}
	for _, name := range reserved {
		switch {
		case name == "_ndim":
			scope.set(name, fromInt(dtype.Int64, int64(ndim)))
		case name == "_global_linear_idx":
			scope.set(name, fromInt(dtype.Int64, linear))
		case len(name) > 2 && name[:2] == "_i":
			d := axisOf(name, "_i")
			scope.set(name, fromInt(dtype.Int64, idx[d]))
		case len(name) > 2 && name[:2] == "_n":
			d := axisOf(name, "_n")
			scope.set(name, fromInt(dtype.Int64, shape[d]))
		}
	}
}

func axisOf(name, prefix string) int {
	d := 0
	for _, c := range name[len(prefix):] {
		d = d*10 + int(c-'0')
	}
	return d
}
