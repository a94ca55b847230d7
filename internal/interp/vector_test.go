package interp

import (
	"math"
	"testing"
	"unsafe"

	"miniexpr/internal/ast"
	"miniexpr/internal/dtype"
	"miniexpr/internal/lexer"
	"miniexpr/internal/parser"
	"miniexpr/internal/sema"
)

func mustParse(t *testing.T, src string) ast.Expr {
	t.Helper()
	toks, err := lexer.NewScanner(src).ScanTokens()
	if err != nil {
		t.Fatalf("lex error: %v", err)
	}
	e, err := parser.Parse(toks)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return e
}

func boundF32(name string, data []float32) BoundVariable {
	return BoundVariable{Name: name, DType: dtype.Float32, Data: unsafe.Pointer(&data[0])}
}

func boundI32(name string, data []int32) BoundVariable {
	return BoundVariable{Name: name, DType: dtype.Int32, Data: unsafe.Pointer(&data[0])}
}

func TestEvalVectorElementwise(t *testing.T) {
	e := mustParse(t, "x + y * 2")
	vars := []sema.VarInfo{{Name: "x", DType: dtype.Float32}, {Name: "y", DType: dtype.Float32}}
	p, err := sema.AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	x := []float32{1, 2, 3, 4}
	y := []float32{10, 20, 30, 40}
	out := make([]float32, 4)

	rerr := EvalVector(p, []BoundVariable{boundF32("x", x), boundF32("y", y)}, 4, boundF32("out", out))
	if rerr != nil {
		t.Fatalf("eval: %v", rerr)
	}
	want := []float32{21, 42, 63, 84}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestEvalVectorDivisionAlwaysFloat(t *testing.T) {
	e := mustParse(t, "x / y")
	vars := []sema.VarInfo{{Name: "x", DType: dtype.Int32}, {Name: "y", DType: dtype.Int32}}
	p, err := sema.AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if p.OutputDType != dtype.Float32 {
		t.Fatalf("expected float32 output, got %s", p.OutputDType)
	}

	x := []int32{7, 9}
	y := []int32{2, 4}
	out := make([]float32, 2)
	rerr := EvalVector(p, []BoundVariable{boundI32("x", x), boundI32("y", y)}, 2, boundF32("out", out))
	if rerr != nil {
		t.Fatalf("eval: %v", rerr)
	}
	if out[0] != 3.5 || out[1] != 2.25 {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestEvalVectorSumReduction(t *testing.T) {
	e := mustParse(t, "sum(x)")
	vars := []sema.VarInfo{{Name: "x", DType: dtype.Int32}}
	p, err := sema.AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !p.HasReduction {
		t.Fatalf("expected a reduction plan")
	}

	x := []int32{1, 2, 3, 4, 5}
	out := make([]int64, 1)
	outVar := BoundVariable{Name: "out", DType: dtype.Int64, Data: unsafe.Pointer(&out[0])}
	rerr := EvalVector(p, []BoundVariable{boundI32("x", x)}, 5, outVar)
	if rerr != nil {
		t.Fatalf("eval: %v", rerr)
	}
	if out[0] != 15 {
		t.Fatalf("sum = %d, want 15", out[0])
	}
}

func TestEvalVectorEmptySumIsIdentity(t *testing.T) {
	e := mustParse(t, "sum(x)")
	vars := []sema.VarInfo{{Name: "x", DType: dtype.Int32}}
	p, err := sema.AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	out := make([]int64, 1)
	outVar := BoundVariable{Name: "out", DType: dtype.Int64, Data: unsafe.Pointer(&out[0])}
	rerr := EvalVector(p, []BoundVariable{{Name: "x", DType: dtype.Int32}}, 0, outVar)
	if rerr != nil {
		t.Fatalf("eval: %v", rerr)
	}
	if out[0] != 0 {
		t.Fatalf("sum over empty array = %d, want 0", out[0])
	}
}

func TestEvalVectorEmptyMinMaxIsIdentity(t *testing.T) {
	minExpr := mustParse(t, "min(x)")
	maxExpr := mustParse(t, "max(x)")
	vars := []sema.VarInfo{{Name: "x", DType: dtype.Int32}}

	pmin, err := sema.AnalyzeInfix(minExpr, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("analyze min: %v", err)
	}
	pmax, err := sema.AnalyzeInfix(maxExpr, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("analyze max: %v", err)
	}

	outMin := make([]int32, 1)
	outMinVar := BoundVariable{Name: "out", DType: dtype.Int32, Data: unsafe.Pointer(&outMin[0])}
	if rerr := EvalVector(pmin, []BoundVariable{{Name: "x", DType: dtype.Int32}}, 0, outMinVar); rerr != nil {
		t.Fatalf("eval min: %v", rerr)
	}
	if outMin[0] != math.MaxInt32 {
		t.Fatalf("min over empty array = %d, want %d", outMin[0], int32(math.MaxInt32))
	}

	outMax := make([]int32, 1)
	outMaxVar := BoundVariable{Name: "out", DType: dtype.Int32, Data: unsafe.Pointer(&outMax[0])}
	if rerr := EvalVector(pmax, []BoundVariable{{Name: "x", DType: dtype.Int32}}, 0, outMaxVar); rerr != nil {
		t.Fatalf("eval max: %v", rerr)
	}
	if outMax[0] != math.MinInt32 {
		t.Fatalf("max over empty array = %d, want %d", outMax[0], int32(math.MinInt32))
	}
}

func TestEvalVectorEmbeddedReductionBroadcast(t *testing.T) {
	e := mustParse(t, "x - sum(x)")
	vars := []sema.VarInfo{{Name: "x", DType: dtype.Float32}}
	p, err := sema.AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	x := []float32{1, 2, 3}
	out := make([]float32, 3)
	rerr := EvalVector(p, []BoundVariable{boundF32("x", x)}, 3, boundF32("out", out))
	if rerr != nil {
		t.Fatalf("eval: %v", rerr)
	}
	// sum(x) == 6, broadcast to every element.
	want := []float32{-5, -4, -3}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestEvalVectorIntegerModByZeroIsRuntimeError(t *testing.T) {
	e := mustParse(t, "x % y")
	vars := []sema.VarInfo{{Name: "x", DType: dtype.Int64}, {Name: "y", DType: dtype.Int64}}
	p, err := sema.AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	x := []int64{10, 10}
	y := []int64{5, 0}
	out := make([]int64, 2)
	outVar := BoundVariable{Name: "out", DType: dtype.Int64, Data: unsafe.Pointer(&out[0])}
	rerr := EvalVector(p, []BoundVariable{
		{Name: "x", DType: dtype.Int64, Data: unsafe.Pointer(&x[0])},
		{Name: "y", DType: dtype.Int64, Data: unsafe.Pointer(&y[0])},
	}, 2, outVar)
	if rerr == nil {
		t.Fatalf("expected a runtime error from mod-by-zero")
	}
}
