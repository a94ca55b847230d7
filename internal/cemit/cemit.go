// Package cemit turns a jitir.Module into a freestanding C translation
// unit: bridge extern declarations, a single kernel function in the
// canonical parameter order, and the element or vector dialect loop body.
// It performs no I/O; internal/jitcache owns writing the result to disk and
// invoking a compiler.
package cemit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
	"miniexpr/internal/jitir"
	"miniexpr/internal/plan"
)

// Result is the emitter's pure output: generated source, the function's
// exported symbol name, and the canonical order of its real (non-reserved)
// input parameters — the same order a caller must bind BoundVariables in
// to match the generated pointer array.
type Result struct {
	Source     string
	Symbol     string
	ParamOrder []string
}

// Emit lowers m into a C99 translation unit. It assumes m has already
// passed jitir.Build's eligibility checks (no STRING/COMPLEX dtypes
// anywhere); encountering one here would be an internal inconsistency
// between the two packages, not a user-facing error.
func Emit(m *jitir.Module) *Result {
	e := &emitter{m: m, b: &strings.Builder{}}
	e.emitHeader()
	e.emitElementFunc()
	e.emitKernelFunc()
	return &Result{
		Source:     e.b.String(),
		Symbol:     Symbol(m.Fingerprint),
		ParamOrder: m.ParamNames,
	}
}

// Symbol is the exported kernel function name jitcache looks up via
// dlopen/dlsym after compiling m's emitted source.
func Symbol(fingerprint uint64) string {
	return fmt.Sprintf("kernel_%016x", fingerprint)
}

type emitter struct {
	m *jitir.Module
	b *strings.Builder
}

func (e *emitter) emitHeader() {
	e.b.WriteString("#include <stdint.h>\n")
	e.b.WriteString("#include <stdbool.h>\n")
	e.b.WriteString("#include <math.h>\n\n")

	fns := usedUnaryMathFns(e.m.Stmts)
	for _, name := range fns {
		fmt.Fprintf(e.b, "extern double me_jit_%s(double);\n", name)
		fmt.Fprintf(e.b, "extern void me_jit_vec_%s_f32(const float *, float *, int64_t);\n", name)
		fmt.Fprintf(e.b, "extern void me_jit_vec_%s_f64(const double *, double *, int64_t);\n", name)
	}
	e.b.WriteString("\n")

	if e.m.Dialect == plan.DialectVector {
		for _, name := range fns {
			fmt.Fprintf(e.b, "static inline double __me_vec1_%s_f64(double x) { double y; me_jit_vec_%s_f64(&x, &y, 1); return y; }\n", name, name)
			fmt.Fprintf(e.b, "static inline float __me_vec1_%s_f32(float x) { float y; me_jit_vec_%s_f32(&x, &y, 1); return y; }\n", name, name)
		}
		e.b.WriteString("\n")
	}

	if e.m.FPMode == plan.FPContract {
		e.b.WriteString("#pragma STDC FP_CONTRACT ON\n\n")
	} else if e.m.FPMode == plan.FPFast {
		e.b.WriteString("#pragma STDC FP_CONTRACT ON\n#pragma GCC optimize (\"fast-math\")\n\n")
	}
}

// elementFuncName is the per-element worker a kernel's outer loop calls
// once per position. It is a real C function (not inlined into the loop
// body) specifically so a DSL `return` lowers to an ordinary C `return`:
// early-exiting through arbitrarily nested if/for blocks up to the
// element boundary is exactly what a function return already does,
// whereas a bare `return` inside the outer loop would exit the whole
// kernel instead of just advancing to the next element.
func elementFuncName(fingerprint uint64) string {
	return fmt.Sprintf("__me_eval_%016x", fingerprint)
}

func (e *emitter) emitElementFunc() {
	name := elementFuncName(e.m.Fingerprint)
	fmt.Fprintf(e.b, "static inline %s %s(", cType(e.m.OutputDType), name)
	params := make([]string, 0, len(e.m.ParamNames)+len(e.m.Reserved))
	for i, pname := range e.m.ParamNames {
		params = append(params, fmt.Sprintf("%s %s", cType(e.m.ParamDTypes[i]), pname))
	}
	for _, rname := range e.m.Reserved {
		params = append(params, fmt.Sprintf("int64_t %s", rname))
	}
	e.b.WriteString(strings.Join(params, ", "))
	e.b.WriteString(") {\n")

	localNames := make([]string, 0, len(e.m.Locals))
	for name := range e.m.Locals {
		localNames = append(localNames, name)
	}
	sort.Strings(localNames)
	for _, lname := range localNames {
		fmt.Fprintf(e.b, "    %s %s;\n", cType(e.m.Locals[lname]), lname)
	}

	e.emitStmts(e.m.Stmts, "    ")
	e.b.WriteString("}\n\n")
}

func (e *emitter) emitKernelFunc() {
	fmt.Fprintf(e.b, "void %s(const void *const *inputs, void *output", Symbol(e.m.Fingerprint))
	if e.m.NDim > 0 {
		e.b.WriteString(", const int64_t *shape, int64_t ndim, int64_t base_linear, int64_t nitems")
	} else {
		e.b.WriteString(", int64_t nitems")
	}
	e.b.WriteString(") {\n")

	for i, pname := range e.m.ParamNames {
		fmt.Fprintf(e.b, "    const %s *in_%s = (const %s *)inputs[%d];\n", cType(e.m.ParamDTypes[i]), pname, cType(e.m.ParamDTypes[i]), i)
	}
	fmt.Fprintf(e.b, "    %s *out = (%s *)output;\n", cType(e.m.OutputDType), cType(e.m.OutputDType))

	if e.m.NDim > 0 {
		e.emitStridePrelude()
	}

	e.b.WriteString("    for (int64_t _k = 0; _k < nitems; _k++) {\n")
	for _, pname := range e.m.ParamNames {
		fmt.Fprintf(e.b, "        %s %s = in_%s[_k];\n", cType(paramDType(e.m, pname)), pname, pname)
	}
	e.emitReservedBindings()

	args := append([]string{}, e.m.ParamNames...)
	args = append(args, e.m.Reserved...)
	fmt.Fprintf(e.b, "        out[_k] = %s(%s);\n", elementFuncName(e.m.Fingerprint), strings.Join(args, ", "))
	e.b.WriteString("    }\n")
	e.b.WriteString("}\n")
}

// emitStridePrelude computes row-major strides over shape once, outside
// the per-element loop, so unraveling a linear index into _iK coordinates
// inside the loop is a division and modulo against a precomputed table
// rather than a recomputation of the whole stride chain per element.
func (e *emitter) emitStridePrelude() {
	// 64 axes is a fixed upper bound on ndim, avoiding a VLA.
	e.b.WriteString("    int64_t _strides[64];\n")
	e.b.WriteString("    _strides[ndim - 1] = 1;\n")
	e.b.WriteString("    for (int64_t _d = ndim - 2; _d >= 0; _d--) {\n")
	e.b.WriteString("        _strides[_d] = _strides[_d + 1] * shape[_d + 1];\n")
	e.b.WriteString("    }\n")
}

func (e *emitter) emitReservedBindings() {
	// _iK unravels _global_linear_idx, so that binding is written first even
	// though it comes last in the canonical parameter order.
	names := make([]string, 0, len(e.m.Reserved))
	for _, name := range e.m.Reserved {
		if name == "_global_linear_idx" {
			names = append([]string{name}, names...)
		} else {
			names = append(names, name)
		}
	}
	for _, name := range names {
		switch {
		case name == "_global_linear_idx":
			if e.m.NDim > 0 {
				e.b.WriteString("        int64_t _global_linear_idx = base_linear + _k;\n")
			} else {
				e.b.WriteString("        int64_t _global_linear_idx = _k;\n")
			}
		case name == "_ndim":
			e.b.WriteString("        int64_t _ndim = ndim;\n")
		case strings.HasPrefix(name, "_i"):
			axis := axisSuffix(name, "_i")
			fmt.Fprintf(e.b, "        int64_t %s = (_global_linear_idx / _strides[%s]) %% shape[%s];\n", name, axis, axis)
		case strings.HasPrefix(name, "_n"):
			axis := axisSuffix(name, "_n")
			fmt.Fprintf(e.b, "        int64_t %s = shape[%s];\n", name, axis)
		}
	}
}

func axisSuffix(name, prefix string) string {
	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil {
		panic("cemit: internal: malformed reserved index name " + name)
	}
	return strconv.Itoa(n)
}

func paramDType(m *jitir.Module, name string) dtype.DType {
	for i, n := range m.ParamNames {
		if n == name {
			return m.ParamDTypes[i]
		}
	}
	panic("cemit: internal: " + name + " is not a kernel parameter")
}

// usedUnaryMathFns collects, in deterministic sorted order, every
// transcendental builtin name reachable from stmts — the only ones with
// bridge extern symbols; floor/ceil/round/sign/abs/min/max/where lower to
// plain C and need no forward declaration.
func usedUnaryMathFns(stmts []*ir.Stmt) []string {
	set := map[string]bool{}
	var walkNode func(n *ir.Node)
	walkNode = func(n *ir.Node) {
		if n == nil {
			return
		}
		if n.Kind == ir.KindCall && bridgeTranscendental[n.FnName] {
			set[n.FnName] = true
		}
		walkNode(n.Left)
		walkNode(n.Right)
		walkNode(n.Child)
		for _, a := range n.Args {
			walkNode(a)
		}
	}
	var walkStmt func(s *ir.Stmt)
	walkStmt = func(s *ir.Stmt) {
		if s == nil {
			return
		}
		walkNode(s.Expr)
		walkNode(s.Cond)
		walkNode(s.Start)
		walkNode(s.Stop)
		walkNode(s.Step)
		walkNode(s.Value)
		for _, c := range s.Then {
			walkStmt(c)
		}
		for _, c := range s.Else {
			walkStmt(c)
		}
		for _, c := range s.Body {
			walkStmt(c)
		}
	}
	for _, s := range stmts {
		walkStmt(s)
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var bridgeTranscendental = map[string]bool{
	"sin": true, "cos": true, "tan": true, "exp": true,
	"log": true, "log2": true, "log10": true, "sqrt": true,
}

func cType(d dtype.DType) string {
	switch d {
	case dtype.Bool:
		return "bool"
	case dtype.Int8:
		return "int8_t"
	case dtype.Int16:
		return "int16_t"
	case dtype.Int32:
		return "int32_t"
	case dtype.Int64:
		return "int64_t"
	case dtype.Uint8:
		return "uint8_t"
	case dtype.Uint16:
		return "uint16_t"
	case dtype.Uint32:
		return "uint32_t"
	case dtype.Uint64:
		return "uint64_t"
	case dtype.Float32:
		return "float"
	case dtype.Float64:
		return "double"
	default:
		panic("cemit: internal: dtype " + d.String() + " has no C type (should have been rejected by jitir.Build)")
	}
}
