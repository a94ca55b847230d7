package sema

import (
	"testing"

	"miniexpr/internal/ast"
	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
	"miniexpr/internal/lexer"
	"miniexpr/internal/parser"
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

func TestAnalyzeInfixPromotion(t *testing.T) {
	e := mustParse(t, "x + y")
	vars := []VarInfo{{Name: "x", DType: dtype.Int32}, {Name: "y", DType: dtype.Float32}}
	p, err := AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OutputDType != dtype.Float32 {
		t.Fatalf("expected float32, got %s", p.OutputDType)
	}
	if len(p.ParamNames) != 2 || p.ParamNames[0] != "x" || p.ParamNames[1] != "y" {
		t.Fatalf("unexpected param order: %+v", p.ParamNames)
	}
}

func TestAnalyzeInfixDivisionAlwaysFloat(t *testing.T) {
	e := mustParse(t, "x / y")
	vars := []VarInfo{{Name: "x", DType: dtype.Int32}, {Name: "y", DType: dtype.Int32}}
	p, err := AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OutputDType != dtype.Float32 {
		t.Fatalf("expected true division to yield float32, got %s", p.OutputDType)
	}
}

func TestAnalyzeInfixUnknownName(t *testing.T) {
	e := mustParse(t, "z + 1")
	_, err := AnalyzeInfix(e, nil, dtype.Auto)
	if err == nil {
		t.Fatal("expected an unknown-name error")
	}
}

func TestAnalyzeInfixStringMixError(t *testing.T) {
	e := mustParse(t, `s + 1`)
	vars := []VarInfo{{Name: "s", DType: dtype.String}}
	_, err := AnalyzeInfix(e, vars, dtype.Auto)
	if err == nil {
		t.Fatal("expected a type error mixing STRING with a number")
	}
}

func TestAnalyzeInfixReduction(t *testing.T) {
	e := mustParse(t, "sum(x)")
	vars := []VarInfo{{Name: "x", DType: dtype.Int32}}
	p, err := AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.HasReduction || p.ReduceKind != "sum" {
		t.Fatalf("expected a sum reduction plan, got %+v", p)
	}
	if p.OutputDType != dtype.Int64 {
		t.Fatalf("expected sum(int32) -> int64, got %s", p.OutputDType)
	}
}

func TestAnalyzeInfixNestedReductionRejected(t *testing.T) {
	e := mustParse(t, "sum(sum(x))")
	vars := []VarInfo{{Name: "x", DType: dtype.Int32}}
	_, err := AnalyzeInfix(e, vars, dtype.Auto)
	if err == nil {
		t.Fatal("expected nested reduction to be rejected")
	}
}

func TestAnalyzeInfixEmbeddedReductionAllowed(t *testing.T) {
	e := mustParse(t, "x - sum(x)")
	vars := []VarInfo{{Name: "x", DType: dtype.Float64}}
	p, err := AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.HasReduction {
		t.Fatal("embedded reduction should not mark the whole plan as a reduction")
	}
	if !p.Tree.ContainsReduce() {
		t.Fatal("expected the tree to still contain the inner reduction node")
	}
}

func TestAnalyzeInfixWhere(t *testing.T) {
	e := mustParse(t, "where(x > 0, x, 0)")
	vars := []VarInfo{{Name: "x", DType: dtype.Float64}}
	p, err := AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OutputDType != dtype.Float64 {
		t.Fatalf("expected float64, got %s", p.OutputDType)
	}
}

func TestAnalyzeInfixStringPredicateRequiresLiteral(t *testing.T) {
	e := mustParse(t, `startswith(s, t)`)
	vars := []VarInfo{{Name: "s", DType: dtype.String}, {Name: "t", DType: dtype.String}}
	_, err := AnalyzeInfix(e, vars, dtype.Auto)
	if err == nil {
		t.Fatal("expected an error: second argument must be a string literal")
	}
}

func TestAnalyzeInfixOutputCast(t *testing.T) {
	e := mustParse(t, "x + 1")
	vars := []VarInfo{{Name: "x", DType: dtype.Int32}}
	p, err := AnalyzeInfix(e, vars, dtype.Float64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OutputDType != dtype.Float64 {
		t.Fatalf("expected requested output dtype float64, got %s", p.OutputDType)
	}
	if p.Tree.Kind != ir.KindUnary || p.Tree.Op != "cast" {
		t.Fatal("expected an explicit cast node wrapping the tree")
	}
}

func TestAnalyzeInfixConstantFolding(t *testing.T) {
	e := mustParse(t, "x + (2 + 3)")
	vars := []VarInfo{{Name: "x", DType: dtype.Int32}}
	p, err := AnalyzeInfix(e, vars, dtype.Auto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Tree.Right.Kind != ir.KindConst {
		t.Fatalf("expected (2 + 3) to fold to a constant, got kind %v", p.Tree.Right.Kind)
	}
	if v, ok := p.Tree.Right.ConstValue.(int64); !ok || v != 5 {
		t.Fatalf("expected folded constant 5, got %v", p.Tree.Right.ConstValue)
	}
}

func TestAnalyzeInfixComplexOrderingRejected(t *testing.T) {
	e := mustParse(t, "x < y")
	vars := []VarInfo{{Name: "x", DType: dtype.Complex128}, {Name: "y", DType: dtype.Complex128}}
	_, err := AnalyzeInfix(e, vars, dtype.Auto)
	if err == nil {
		t.Fatal("expected ordering comparison on COMPLEX to be rejected")
	}
}

func TestAnalyzeNDReservedIndex(t *testing.T) {
	e := mustParse(t, "x + _i0")
	vars := []VarInfo{{Name: "x", DType: dtype.Float64}}
	p, err := AnalyzeND(e, vars, 1, []int64{10}, dtype.Auto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OutputDType != dtype.Float64 {
		t.Fatalf("expected float64, got %s", p.OutputDType)
	}
}
