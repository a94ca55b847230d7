package jitir

import (
	"testing"

	"miniexpr/internal/dslstmt"
	"miniexpr/internal/dtype"
	"miniexpr/internal/sema"
)

func mustBuildKernel(t *testing.T, src string, vars []sema.VarInfo, ndim int) *Module {
	t.Helper()
	k, err := dslstmt.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	kp, cerr := sema.AnalyzeKernel(k, vars, ndim, dtype.Auto)
	if cerr != nil {
		t.Fatalf("analyze: %v", cerr)
	}
	m, jerr := Build(kp)
	if jerr != nil {
		t.Fatalf("build: %v", jerr)
	}
	return m
}

func TestBuildAccumulatorKernel(t *testing.T) {
	src := "def kernel(n):\n" +
		"    acc = 0\n" +
		"    for i in range(n):\n" +
		"        acc = acc + i\n" +
		"    return acc\n"
	m := mustBuildKernel(t, src, []sema.VarInfo{{Name: "n", DType: dtype.Int32}}, 0)

	if len(m.ParamNames) != 1 || m.ParamNames[0] != "n" {
		t.Fatalf("ParamNames = %v, want [n]", m.ParamNames)
	}
	if len(m.Stmts) == 0 {
		t.Fatal("Stmts is empty")
	}
	if m.Fingerprint == 0 {
		t.Fatal("Fingerprint is zero")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	src := "def kernel(x):\n" +
		"    if x > 0:\n" +
		"        return x\n" +
		"    else:\n" +
		"        return 0 - x\n"
	vars := []sema.VarInfo{{Name: "x", DType: dtype.Float64}}

	m1 := mustBuildKernel(t, src, vars, 0)
	m2 := mustBuildKernel(t, src, vars, 0)
	if m1.Fingerprint != m2.Fingerprint {
		t.Fatalf("fingerprints differ across identical builds: %x vs %x", m1.Fingerprint, m2.Fingerprint)
	}
}

func TestFingerprintDistinguishesConstants(t *testing.T) {
	srcOne := "def kernel(x):\n" +
		"    return x + 1\n"
	srcTwo := "def kernel(x):\n" +
		"    return x + 2\n"
	vars := []sema.VarInfo{{Name: "x", DType: dtype.Float64}}

	m1 := mustBuildKernel(t, srcOne, vars, 0)
	m2 := mustBuildKernel(t, srcTwo, vars, 0)
	if m1.Fingerprint == m2.Fingerprint {
		t.Fatal("fingerprints collide for kernels differing only in a constant")
	}
}

func TestReservedIndexSetOrderInvariant(t *testing.T) {
	// Both kernels reference the same reserved-index set (_i0, _i1) in
	// different textual order; the Reserved list each Build records must
	// name the same set either way. The two fingerprints themselves
	// differ, since the two expression trees differ.
	srcA := "def kernel(a, b):\n" +
		"    return a + b + _i0 + _i1\n"
	srcB := "def kernel(a, b):\n" +
		"    return a + b + _i1 + _i0\n"
	vars := []sema.VarInfo{
		{Name: "a", DType: dtype.Float64},
		{Name: "b", DType: dtype.Float64},
	}

	mA := mustBuildKernel(t, srcA, vars, 2)
	mB := mustBuildKernel(t, srcB, vars, 2)

	reservedSorted := func(m *Module) []string {
		out := append([]string{}, m.Reserved...)
		for i := 1; i < len(out); i++ {
			for j := i; j > 0 && out[j-1] > out[j]; j-- {
				out[j-1], out[j] = out[j], out[j-1]
			}
		}
		return out
	}
	rA, rB := reservedSorted(mA), reservedSorted(mB)
	if len(rA) != len(rB) {
		t.Fatalf("reserved sets differ in length: %v vs %v", rA, rB)
	}
	for i := range rA {
		if rA[i] != rB[i] {
			t.Fatalf("reserved sets differ: %v vs %v", rA, rB)
		}
	}
}

func TestBuildRejectsStringDType(t *testing.T) {
	src := "def kernel(s):\n" +
		"    return s\n"
	k, err := dslstmt.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	kp, cerr := sema.AnalyzeKernel(k, []sema.VarInfo{{Name: "s", DType: dtype.String}}, 0, dtype.Auto)
	if cerr != nil {
		t.Fatalf("analyze: %v", cerr)
	}
	m, jerr := Build(kp)
	if jerr == nil {
		t.Fatalf("Build succeeded on a STRING-typed kernel, want rejection; got %+v", m)
	}
	if jerr.Kind != "UnsupportedError" {
		t.Fatalf("Kind = %v, want UnsupportedError", jerr.Kind)
	}
}

func TestFirstUnsupportedDType(t *testing.T) {
	if got := firstUnsupportedDType(dtype.Float64, []dtype.DType{dtype.Int32}, nil); got != dtype.Invalid {
		t.Fatalf("got %v, want Invalid for an all-eligible kernel", got)
	}
	if got := firstUnsupportedDType(dtype.String, nil, nil); got != dtype.String {
		t.Fatalf("got %v, want String when the output dtype is STRING", got)
	}
	locals := map[string]dtype.DType{"tmp": dtype.Complex128}
	if got := firstUnsupportedDType(dtype.Float64, nil, locals); got != dtype.Complex128 {
		t.Fatalf("got %v, want Complex128 when a local is complex", got)
	}
}
