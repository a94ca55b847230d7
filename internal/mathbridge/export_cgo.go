//go:build cgo

package mathbridge

/*
#include <stdint.h>
*/
import "C"
import "unsafe"

// These //export wrappers put the bridge's frozen symbol names into the
// process's global dynamic symbol table, which is exactly what a
// JIT-compiled kernel's `extern double me_jit_<op>(double)` /
// `extern void me_jit_vec_<op>_f{32,64}(...)` declarations need to bind
// against at dlopen(RTLD_GLOBAL) time; see internal/jitcache's loader.
// Each wrapper is a one-line call into this package's plain Go
// implementation, so the interpreter (calling that Go function directly)
// and a loaded kernel (calling this exported C symbol) run identical code.

//export me_jit_sin
func me_jit_sin(x C.double) C.double { return C.double(Sin(float64(x))) }

//export me_jit_cos
func me_jit_cos(x C.double) C.double { return C.double(Cos(float64(x))) }

//export me_jit_tan
func me_jit_tan(x C.double) C.double { return C.double(Tan(float64(x))) }

//export me_jit_exp
func me_jit_exp(x C.double) C.double { return C.double(Exp(float64(x))) }

//export me_jit_log
func me_jit_log(x C.double) C.double { return C.double(Log(float64(x))) }

//export me_jit_log2
func me_jit_log2(x C.double) C.double { return C.double(Log2(float64(x))) }

//export me_jit_log10
func me_jit_log10(x C.double) C.double { return C.double(Log10(float64(x))) }

//export me_jit_sqrt
func me_jit_sqrt(x C.double) C.double { return C.double(Sqrt(float64(x))) }

//export me_jit_vec_sin_f64
func me_jit_vec_sin_f64(in *C.double, out *C.double, n C.int64_t) {
	vecF64(in, out, n, VecSinF64)
}

//export me_jit_vec_cos_f64
func me_jit_vec_cos_f64(in *C.double, out *C.double, n C.int64_t) {
	vecF64(in, out, n, VecCosF64)
}

//export me_jit_vec_tan_f64
func me_jit_vec_tan_f64(in *C.double, out *C.double, n C.int64_t) {
	vecF64(in, out, n, VecTanF64)
}

//export me_jit_vec_exp_f64
func me_jit_vec_exp_f64(in *C.double, out *C.double, n C.int64_t) {
	vecF64(in, out, n, VecExpF64)
}

//export me_jit_vec_log_f64
func me_jit_vec_log_f64(in *C.double, out *C.double, n C.int64_t) {
	vecF64(in, out, n, VecLogF64)
}

//export me_jit_vec_log2_f64
func me_jit_vec_log2_f64(in *C.double, out *C.double, n C.int64_t) {
	vecF64(in, out, n, VecLog2F64)
}

//export me_jit_vec_log10_f64
func me_jit_vec_log10_f64(in *C.double, out *C.double, n C.int64_t) {
	vecF64(in, out, n, VecLog10F64)
}

//export me_jit_vec_sqrt_f64
func me_jit_vec_sqrt_f64(in *C.double, out *C.double, n C.int64_t) {
	vecF64(in, out, n, VecSqrtF64)
}

//export me_jit_vec_sin_f32
func me_jit_vec_sin_f32(in *C.float, out *C.float, n C.int64_t) {
	vecF32(in, out, n, VecSinF32)
}

//export me_jit_vec_cos_f32
func me_jit_vec_cos_f32(in *C.float, out *C.float, n C.int64_t) {
	vecF32(in, out, n, VecCosF32)
}

//export me_jit_vec_tan_f32
func me_jit_vec_tan_f32(in *C.float, out *C.float, n C.int64_t) {
	vecF32(in, out, n, VecTanF32)
}

//export me_jit_vec_exp_f32
func me_jit_vec_exp_f32(in *C.float, out *C.float, n C.int64_t) {
	vecF32(in, out, n, VecExpF32)
}

//export me_jit_vec_log_f32
func me_jit_vec_log_f32(in *C.float, out *C.float, n C.int64_t) {
	vecF32(in, out, n, VecLogF32)
}

//export me_jit_vec_log2_f32
func me_jit_vec_log2_f32(in *C.float, out *C.float, n C.int64_t) {
	vecF32(in, out, n, VecLog2F32)
}

//export me_jit_vec_log10_f32
func me_jit_vec_log10_f32(in *C.float, out *C.float, n C.int64_t) {
	vecF32(in, out, n, VecLog10F32)
}

//export me_jit_vec_sqrt_f32
func me_jit_vec_sqrt_f32(in *C.float, out *C.float, n C.int64_t) {
	vecF32(in, out, n, VecSqrtF32)
}

func vecF64(in, out *C.double, n C.int64_t, fn func(in, out []float64)) {
	if n <= 0 {
		return
	}
	inSlice := unsafe.Slice((*float64)(unsafe.Pointer(in)), int(n))
	outSlice := unsafe.Slice((*float64)(unsafe.Pointer(out)), int(n))
	fn(inSlice, outSlice)
}

func vecF32(in, out *C.float, n C.int64_t, fn func(in, out []float32)) {
	if n <= 0 {
		return
	}
	inSlice := unsafe.Slice((*float32)(unsafe.Pointer(in)), int(n))
	outSlice := unsafe.Slice((*float32)(unsafe.Pointer(out)), int(n))
	fn(inSlice, outSlice)
}
