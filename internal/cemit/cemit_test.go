package cemit

import (
	"math"
	"strings"
	"testing"

	"miniexpr/internal/dslstmt"
	"miniexpr/internal/dtype"
	"miniexpr/internal/jitir"
	"miniexpr/internal/sema"
)

func mustEmit(t *testing.T, src string, vars []sema.VarInfo, ndim int) *Result {
	t.Helper()
	k, err := dslstmt.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	kp, cerr := sema.AnalyzeKernel(k, vars, ndim, dtype.Auto)
	if cerr != nil {
		t.Fatalf("analyze: %v", cerr)
	}
	m, jerr := jitir.Build(kp)
	if jerr != nil {
		t.Fatalf("build: %v", jerr)
	}
	return Emit(m)
}

func TestEmitAccumulatorKernelStructure(t *testing.T) {
	src := "def kernel(n):\n" +
		"    acc = 0\n" +
		"    for i in range(n):\n" +
		"        acc = acc + i\n" +
		"    return acc\n"
	res := mustEmit(t, src, []sema.VarInfo{{Name: "n", DType: dtype.Int32}}, 0)

	if !strings.Contains(res.Source, "for (int64_t _k = 0; _k < nitems; _k++) {") {
		t.Fatal("missing flat per-element loop")
	}
	if !strings.Contains(res.Source, "return acc;") {
		t.Fatal("missing return statement in element function")
	}
	if !strings.HasPrefix(res.Symbol, "kernel_") {
		t.Fatalf("Symbol = %q, want kernel_<hex> prefix", res.Symbol)
	}
	if !strings.Contains(res.Source, res.Symbol+"(") {
		t.Fatal("emitted source never defines the reported symbol")
	}
	if len(res.ParamOrder) != 1 || res.ParamOrder[0] != "n" {
		t.Fatalf("ParamOrder = %v, want [n]", res.ParamOrder)
	}
	// No STRING/COMPLEX params and no transcendental calls in this kernel,
	// so no bridge extern declarations should appear at all.
	if strings.Contains(res.Source, "me_jit_") {
		t.Fatal("unexpected bridge extern declaration for a kernel with no transcendental calls")
	}
}

func TestEmitReturnIsInElementFunctionNotOuterLoop(t *testing.T) {
	src := "def kernel(x):\n" +
		"    if x > 0:\n" +
		"        return x\n" +
		"    return 0 - x\n"
	res := mustEmit(t, src, []sema.VarInfo{{Name: "x", DType: dtype.Float64}}, 0)

	elemIdx := strings.Index(res.Source, "__me_eval_")
	kernelIdx := strings.LastIndex(res.Source, "void "+res.Symbol+"(")
	if elemIdx < 0 || kernelIdx < 0 || elemIdx >= kernelIdx {
		t.Fatal("expected element function defined before the public kernel function")
	}
	elementFuncBody := res.Source[elemIdx:kernelIdx]
	if !strings.Contains(elementFuncBody, "return") {
		t.Fatal("expected a return statement inside the element function body")
	}
	// The outer loop must call the element function and store its result,
	// never contain a bare "return;" of its own.
	outerLoop := res.Source[kernelIdx:]
	if strings.Contains(outerLoop, "\n        return;\n") {
		t.Fatal("found a bare return inside the outer per-element loop: would exit after one element")
	}
	if !strings.Contains(outerLoop, "out[_k] = __me_eval_") {
		t.Fatal("outer loop does not call the element function to produce out[_k]")
	}
}

func TestEmitNDKernelSignatureAndStridePrelude(t *testing.T) {
	src := "def kernel(x):\n" +
		"    return x + _i0 - _i1\n"
	res := mustEmit(t, src, []sema.VarInfo{{Name: "x", DType: dtype.Float64}}, 2)

	if !strings.Contains(res.Source, "const int64_t *shape, int64_t ndim, int64_t base_linear, int64_t nitems") {
		t.Fatal("missing ND kernel signature")
	}
	if !strings.Contains(res.Source, "_strides[ndim - 1] = 1;") {
		t.Fatal("missing stride prelude for an ND kernel")
	}
	if !strings.Contains(res.Source, "int64_t _global_linear_idx = base_linear + _k;") {
		t.Fatal("ND kernel must offset _global_linear_idx by base_linear")
	}
}

func TestEmitFlatKernelHasNoStrideOrShapeParams(t *testing.T) {
	src := "def kernel(x):\n" +
		"    return x\n"
	res := mustEmit(t, src, []sema.VarInfo{{Name: "x", DType: dtype.Float64}}, 0)

	if strings.Contains(res.Source, "shape") {
		t.Fatal("flat kernel should never reference shape")
	}
	if !strings.Contains(res.Source, "int64_t _global_linear_idx = _k;") {
		t.Fatal("flat kernel's _global_linear_idx should equal _k directly, no base offset")
	}
}

func TestEmitTranscendentalDeclaresBridgeOnlyForUsedFns(t *testing.T) {
	src := "def kernel(x):\n" +
		"    return sin(x) + 1.0\n"
	res := mustEmit(t, src, []sema.VarInfo{{Name: "x", DType: dtype.Float64}}, 0)

	if !strings.Contains(res.Source, "extern double me_jit_sin(double);") {
		t.Fatal("missing scalar bridge extern for sin")
	}
	if strings.Contains(res.Source, "me_jit_cos") {
		t.Fatal("declared a bridge extern for cos, which this kernel never calls")
	}
}

func TestEmitVectorDialectRoutesThroughVec1Helper(t *testing.T) {
	src := "def kernel(x):\n" +
		"    return cos(x)\n"
	k, err := dslstmt.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	kp, cerr := sema.AnalyzeKernel(k, []sema.VarInfo{{Name: "x", DType: dtype.Float64}}, 0, dtype.Auto)
	if cerr != nil {
		t.Fatalf("analyze: %v", cerr)
	}
	m, jerr := jitir.Build(kp)
	if jerr != nil {
		t.Fatalf("build: %v", jerr)
	}
	// jitir.Build's Dialect comes straight from the kernel plan; the
	// sema-level default is exercised elsewhere, so force it here to
	// pin down vector-dialect emission regardless of that default.
	m.Dialect = "vector"
	res := Emit(m)

	if !strings.Contains(res.Source, "__me_vec1_cos_f64(") {
		t.Fatal("vector-dialect transcendental call should route through the vec1 helper")
	}
	if !strings.Contains(res.Source, "static inline double __me_vec1_cos_f64(double x) { double y; me_jit_vec_cos_f64(&x, &y, 1); return y; }") {
		t.Fatal("missing vec1 helper definition")
	}
}

func TestEmitFloatConstantRoundTripsNotGoFormat(t *testing.T) {
	src := "def kernel(x):\n" +
		"    return x + 0.1\n"
	res := mustEmit(t, src, []sema.VarInfo{{Name: "x", DType: dtype.Float64}}, 0)

	// 0.1 has no exact binary representation; FormatFloat(-1) yields the
	// shortest round-tripping decimal, "0.1" here, not a rounded %g form.
	if !strings.Contains(res.Source, "0.1") {
		t.Fatalf("expected a round-trip-safe 0.1 literal in source:\n%s", res.Source)
	}
}

func TestEmitNaNAndInfConstantsUseMathMacros(t *testing.T) {
	nanSrc := "def kernel(x):\n" +
		"    return x * (0.0 / 0.0)\n"
	res := mustEmit(t, nanSrc, []sema.VarInfo{{Name: "x", DType: dtype.Float64}}, 0)
	// This particular kernel computes NaN at runtime rather than as a
	// folded constant, so this test only documents intent; the literal
	// constant path is exercised directly via formatCFloat below.
	_ = res

	if got := formatCFloat(math.NaN(), 64); got != "(NAN)" {
		t.Fatalf("formatCFloat(NaN) = %q, want (NAN)", got)
	}
	if got := formatCFloat(math.Inf(1), 64); got != "(INFINITY)" {
		t.Fatalf("formatCFloat(+Inf) = %q, want (INFINITY)", got)
	}
	if got := formatCFloat(math.Inf(-1), 64); got != "(-INFINITY)" {
		t.Fatalf("formatCFloat(-Inf) = %q, want (-INFINITY)", got)
	}
}
