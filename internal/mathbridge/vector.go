package mathbridge

import "golang.org/x/exp/constraints"

// applyUnary is the shared body behind every Vec*F32/Vec*F64 function
// below: always computes in float64 and narrows on write, the same
// widen-compute-narrow shape internal/interp/ops.go's scalar path uses,
// so a float32 batch and a float64 batch agree on every element.
func applyUnary[T constraints.Float](in, out []T, fn func(float64) float64) {
	for i, x := range in {
		out[i] = T(fn(float64(x)))
	}
}

// The Vec*F64/Vec*F32 functions are the batch entry points the bridge
// ABI names `me_jit_vec_<op>_f{32,64}`.

func VecSinF64(in, out []float64)   { applyUnary(in, out, Sin) }
func VecCosF64(in, out []float64)   { applyUnary(in, out, Cos) }
func VecTanF64(in, out []float64)   { applyUnary(in, out, Tan) }
func VecExpF64(in, out []float64)   { applyUnary(in, out, Exp) }
func VecLogF64(in, out []float64)   { applyUnary(in, out, Log) }
func VecLog2F64(in, out []float64)  { applyUnary(in, out, Log2) }
func VecLog10F64(in, out []float64) { applyUnary(in, out, Log10) }
func VecSqrtF64(in, out []float64)  { applyUnary(in, out, Sqrt) }

func VecSinF32(in, out []float32)   { applyUnary(in, out, Sin) }
func VecCosF32(in, out []float32)   { applyUnary(in, out, Cos) }
func VecTanF32(in, out []float32)   { applyUnary(in, out, Tan) }
func VecExpF32(in, out []float32)   { applyUnary(in, out, Exp) }
func VecLogF32(in, out []float32)   { applyUnary(in, out, Log) }
func VecLog2F32(in, out []float32)  { applyUnary(in, out, Log2) }
func VecLog10F32(in, out []float32) { applyUnary(in, out, Log10) }
func VecSqrtF32(in, out []float32)  { applyUnary(in, out, Sqrt) }
