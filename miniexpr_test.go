package miniexpr

import (
	"math"
	"os"
	"testing"
	"unsafe"

	"miniexpr/internal/dtype"
)

func mustVars(t *testing.T, names []string, dt dtype.DType) []Variable {
	t.Helper()
	vs := make([]Variable, len(names))
	for i, n := range names {
		v, err := NewVariable(n, dt, 0)
		if err != nil {
			t.Fatalf("NewVariable(%q): %v", n, err)
		}
		vs[i] = v
	}
	return vs
}

func f64Binding(data []float64) Binding {
	return Binding{Data: unsafe.Pointer(&data[0])}
}

func TestCompileInfixAndEval(t *testing.T) {
	os.Setenv("ME_DSL_JIT", "0")
	vars := mustVars(t, []string{"a", "b"}, dtype.Float64)

	e, cerr := Compile("a + b * 2", vars, dtype.Auto)
	if cerr != nil {
		t.Fatalf("Compile: %v", cerr)
	}
	defer Free(e)

	if GetOutputDType(e) != dtype.Float64 {
		t.Fatalf("output dtype = %v, want float64", GetOutputDType(e))
	}

	a := []float64{1, 2, 3}
	b := []float64{10, 20, 30}
	out := make([]float64, 3)

	rerr := Eval(e, map[string]Binding{
		"a": f64Binding(a),
		"b": f64Binding(b),
	}, 3, f64Binding(out))
	if rerr != nil {
		t.Fatalf("Eval: %v", rerr)
	}

	want := []float64{21, 42, 63}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestCompileMissingVariableBindingIsRuntimeError(t *testing.T) {
	os.Setenv("ME_DSL_JIT", "0")
	vars := mustVars(t, []string{"a", "b"}, dtype.Float64)
	e, cerr := Compile("a + b", vars, dtype.Auto)
	if cerr != nil {
		t.Fatalf("Compile: %v", cerr)
	}
	defer Free(e)

	a := []float64{1, 2, 3}
	out := make([]float64, 3)
	rerr := Eval(e, map[string]Binding{"a": f64Binding(a)}, 3, f64Binding(out))
	if rerr == nil {
		t.Fatal("expected a runtime error for a missing binding")
	}
}

func TestCompileParseError(t *testing.T) {
	vars := mustVars(t, []string{"a"}, dtype.Float64)
	_, cerr := Compile("a + * b", vars, dtype.Auto)
	if cerr == nil {
		t.Fatal("expected a parse CompileError")
	}
}

func TestCompileUnknownName(t *testing.T) {
	vars := mustVars(t, []string{"a"}, dtype.Float64)
	_, cerr := Compile("a + c", vars, dtype.Auto)
	if cerr == nil {
		t.Fatal("expected a CompileError for an unknown identifier")
	}
}

func TestDuplicateVariableNameRejected(t *testing.T) {
	a, err := NewVariable("x", dtype.Float64, 0)
	if err != nil {
		t.Fatalf("NewVariable: %v", err)
	}
	if _, err := Variables(a, a); err == nil {
		t.Fatal("expected an error for a duplicate variable name")
	}
}

func TestNewVariableItemSizeValidation(t *testing.T) {
	if _, err := NewVariable("s", dtype.String, 0); err == nil {
		t.Fatal("expected an error: STRING requires a positive item_size")
	}
	if _, err := NewVariable("x", dtype.Float64, 8); err == nil {
		t.Fatal("expected an error: item_size is meaningless for FLOAT64")
	}
	if _, err := NewVariable("s", dtype.String, 16); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCompileKernelDSLAndEval(t *testing.T) {
	os.Setenv("ME_DSL_JIT", "0")
	vars := mustVars(t, []string{"x"}, dtype.Float64)
	src := "def kernel(x):\n" +
		"    if x > 0:\n" +
		"        y = x\n" +
		"    else:\n" +
		"        y = -x\n" +
		"    return y\n"

	e, cerr := Compile(src, vars, dtype.Auto)
	if cerr != nil {
		t.Fatalf("Compile: %v", cerr)
	}
	defer Free(e)

	if HasJITKernel(e) {
		t.Fatal("expected no JIT kernel with ME_DSL_JIT=0")
	}

	x := []float64{-3, 0, 4}
	out := make([]float64, 3)
	if rerr := Eval(e, map[string]Binding{"x": f64Binding(x)}, 3, f64Binding(out)); rerr != nil {
		t.Fatalf("Eval: %v", rerr)
	}
	want := []float64{3, 0, 4}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestCompileNDAndEvalND(t *testing.T) {
	os.Setenv("ME_DSL_JIT", "0")
	vars := mustVars(t, []string{"a", "b"}, dtype.Float64)

	shape := []int64{2, 3}
	e, cerr := CompileND("a + b", vars, dtype.Auto, 2, shape, nil, nil)
	if cerr != nil {
		t.Fatalf("CompileND: %v", cerr)
	}
	defer Free(e)

	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{10, 20, 30, 40, 50, 60}
	out := make([]float64, 6)

	rerr := EvalND(e, map[string]Binding{
		"a": f64Binding(a),
		"b": f64Binding(b),
	}, f64Binding(out))
	if rerr != nil {
		t.Fatalf("EvalND: %v", rerr)
	}
	for i := range a {
		want := a[i] + b[i]
		if out[i] != want {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want)
		}
	}
}

func TestNDValidNitemsClampsAtFarEdge(t *testing.T) {
	os.Setenv("ME_DSL_JIT", "0")
	vars := mustVars(t, []string{"a"}, dtype.Float64)

	// shape 5x5, chunk 3x3: chunk grid is ceil(5/3)=2 per axis -> 4 chunks.
	// chunk (1,1) (linear idx 3) starts at (3,3) and is clamped to 2x2.
	shape := []int64{5, 5}
	chunkShape := []int64{3, 3}
	e, cerr := CompileND("a", vars, dtype.Auto, 2, shape, chunkShape, nil)
	if cerr != nil {
		t.Fatalf("CompileND: %v", cerr)
	}
	defer Free(e)

	n, rerr := NDValidNitems(e, 0, 0)
	if rerr != nil {
		t.Fatalf("NDValidNitems(0,0): %v", rerr)
	}
	if n != 9 {
		t.Fatalf("chunk 0 block 0: got %d, want 9 (full 3x3 chunk)", n)
	}

	n, rerr = NDValidNitems(e, 3, 0)
	if rerr != nil {
		t.Fatalf("NDValidNitems(3,0): %v", rerr)
	}
	if n != 4 {
		t.Fatalf("chunk 3 (clamped 2x2): got %d, want 4", n)
	}
}

func TestNDValidNitemsOutOfRange(t *testing.T) {
	os.Setenv("ME_DSL_JIT", "0")
	vars := mustVars(t, []string{"a"}, dtype.Float64)
	shape := []int64{4, 4}
	e, cerr := CompileND("a", vars, dtype.Auto, 2, shape, []int64{2, 2}, nil)
	if cerr != nil {
		t.Fatalf("CompileND: %v", cerr)
	}
	defer Free(e)

	if _, rerr := NDValidNitems(e, 99, 0); rerr == nil {
		t.Fatal("expected a runtime error for an out-of-range chunk index")
	}
}

func TestEvalNDTileZeroPadsAndMatchesNDValidNitems(t *testing.T) {
	os.Setenv("ME_DSL_JIT", "0")
	vars := mustVars(t, []string{"a"}, dtype.Float64)

	shape := []int64{3, 5}
	chunkShape := []int64{2, 4}
	blockShape := []int64{2, 3}
	e, cerr := CompileND("a", vars, dtype.Auto, 2, shape, chunkShape, blockShape)
	if cerr != nil {
		t.Fatalf("CompileND: %v", cerr)
	}
	defer Free(e)

	// chunk_linear_idx=1 is the row-chunk [0,2) / col-chunk [4,5) tile;
	// its only block overhangs the array at columns 5 and 6 of its
	// 2x3 padded shape.
	valid, rerr := NDValidNitems(e, 1, 0)
	if rerr != nil {
		t.Fatalf("NDValidNitems: %v", rerr)
	}
	if valid != 2 {
		t.Fatalf("valid nitems = %d, want 2 (2 rows x 1 real column)", valid)
	}

	a := make([]float64, 15)
	for i := range a {
		a[i] = float64(i)
	}
	out := make([]float64, 6)
	rerr = EvalNDTile(e, map[string]Binding{"a": f64Binding(a)}, f64Binding(out), 1, 0)
	if rerr != nil {
		t.Fatalf("EvalNDTile: %v", rerr)
	}
	want := []float64{4, 0, 0, 9, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	vars := mustVars(t, []string{"a"}, dtype.Float64)
	e, cerr := Compile("a", vars, dtype.Auto)
	if cerr != nil {
		t.Fatalf("Compile: %v", cerr)
	}
	Free(e)
	Free(e) // must not panic
	if !e.Released() {
		t.Fatal("expected Released() to report true after Release")
	}
}

func TestEvalOnReleasedExprIsRuntimeError(t *testing.T) {
	vars := mustVars(t, []string{"a"}, dtype.Float64)
	e, cerr := Compile("a", vars, dtype.Auto)
	if cerr != nil {
		t.Fatalf("Compile: %v", cerr)
	}
	Free(e)

	a := []float64{1}
	out := make([]float64, 1)
	if rerr := Eval(e, map[string]Binding{"a": f64Binding(a)}, 1, f64Binding(out)); rerr == nil {
		t.Fatal("expected an error calling Eval on a released Expr")
	}
}

func TestEvalVectorVsND_DispatchMismatchIsRuntimeError(t *testing.T) {
	vars := mustVars(t, []string{"a"}, dtype.Float64)
	flat, cerr := Compile("a", vars, dtype.Auto)
	if cerr != nil {
		t.Fatalf("Compile: %v", cerr)
	}
	defer Free(flat)

	out := make([]float64, 1)
	if rerr := EvalND(flat, map[string]Binding{"a": f64Binding([]float64{1})}, f64Binding(out)); rerr == nil {
		t.Fatal("expected an error calling EvalND on a flat Expr")
	}
}

func TestTranscendentalMatchesMath(t *testing.T) {
	os.Setenv("ME_DSL_JIT", "0")
	vars := mustVars(t, []string{"x"}, dtype.Float64)
	e, cerr := Compile("sin(x)", vars, dtype.Auto)
	if cerr != nil {
		t.Fatalf("Compile: %v", cerr)
	}
	defer Free(e)

	x := []float64{0, math.Pi / 2, math.Pi}
	out := make([]float64, 3)
	if rerr := Eval(e, map[string]Binding{"x": f64Binding(x)}, 3, f64Binding(out)); rerr != nil {
		t.Fatalf("Eval: %v", rerr)
	}
	for i, v := range x {
		want := math.Sin(v)
		if math.Abs(out[i]-want) > 1e-12 {
			t.Errorf("sin(%v) = %v, want %v", v, out[i], want)
		}
	}
}
