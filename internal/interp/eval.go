package interp

import "miniexpr/internal/ir"

// reduceCache memoizes the whole-array result of every Reduce node reached
// during a tree walk. A Reduce that is not the tree's own (possibly
// cast-wrapped) root is "embedded": reductions embedded in per-element
// expressions compute first, then broadcast as a scalar constant during
// the per-element pass; evalNode never evaluates a Reduce node directly,
// it only ever looks one up here, already computed by precomputeReduces
// before the chunk loop starts.
type reduceCache map[*ir.Node]rtValue

func evalNode(n *ir.Node, env Env, rc reduceCache) rtValue {
	switch n.Kind {
	case ir.KindConst:
		return constToRT(n.DType, n.ConstValue)
	case ir.KindVar:
		return env.Lookup(n)
	case ir.KindUnary:
		return evalUnary(n, env, rc)
	case ir.KindBinary:
		return evalBinary(n, env, rc)
	case ir.KindCall:
		return evalCall(n, env, rc)
	case ir.KindReduce:
		v, ok := rc[n]
		if !ok {
			panic("internal: reduce node evaluated without a precomputed value")
		}
		return v
	}
	panic("internal: unhandled ir.Kind")
}

// collectReduces appends every Reduce node reachable from n (post-order,
// deepest first, matching evaluation order for nested-but-sibling
// reductions) to out.
func collectReduces(n *ir.Node, out *[]*ir.Node) {
	if n == nil {
		return
	}
	collectReduces(n.Left, out)
	collectReduces(n.Right, out)
	collectReduces(n.Child, out)
	for _, a := range n.Args {
		collectReduces(a, out)
	}
	if n.Kind == ir.KindReduce {
		*out = append(*out, n)
	}
}
