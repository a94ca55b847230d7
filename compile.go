// Package miniexpr compiles a small numeric expression language (an infix
// grammar, or an indentation-based per-element kernel DSL) against a typed
// array data model once, and evaluates the resulting plan many times
// against caller-owned buffers. A compiled Expr walks a typed operator
// tree or statement body through a chunked interpreter by default; DSL
// kernels additionally attempt a native JIT path (emit C, compile with
// $CC, dlopen, cache on disk) and fall back to the interpreter whenever
// that path is unavailable or fails.
package miniexpr

import (
	"strings"

	"miniexpr/internal/ast"
	"miniexpr/internal/cemit"
	"miniexpr/internal/dslstmt"
	"miniexpr/internal/dtype"
	"miniexpr/internal/jitcache"
	"miniexpr/internal/jitir"
	"miniexpr/internal/lexer"
	"miniexpr/internal/mexerr"
	"miniexpr/internal/parser"
	"miniexpr/internal/plan"
	"miniexpr/internal/sema"
)

// Expr is the opaque compiled artifact: a typed operator tree or
// statement body plus everything Eval needs to run it, and (for a DSL
// kernel) a reference-counted native kernel attached alongside its
// interpreter fallback. Release it exactly once when done.
type Expr = plan.Expr

// Status is the closed set of stable status codes returned by Eval/EvalND.
type Status = mexerr.Status

const (
	Success           = mexerr.Success
	ErrParse          = mexerr.ErrParse
	ErrInvalidArgType = mexerr.ErrInvalidArgType
	ErrUnknownName    = mexerr.ErrUnknownName
	ErrUnsupported    = mexerr.ErrUnsupported
	ErrInternal       = mexerr.ErrInternal
	ErrInvalidArg     = mexerr.ErrInvalidArg
	ErrShape          = mexerr.ErrShape
	ErrRuntime        = mexerr.ErrRuntime
)

// CompileError is returned by Compile/CompileND; it carries the Kind a
// caller can map to a Status via mexerr.StatusForCompileError, and the
// source position of the failure.
type CompileError = mexerr.CompileError

// Compile compiles source (either an infix expression or a `def
// kernel(...):` DSL body) against vars, producing an *Expr that evaluates
// one flat array at a time. requested is the caller's desired output
// dtype, or dtype.Auto to infer it from source.
func Compile(source string, vars []Variable, requested dtype.DType) (*Expr, *CompileError) {
	varInfos, cerr := toVarInfos(vars)
	if cerr != nil {
		return nil, cerr
	}

	if looksLikeKernel(source) {
		k, err := dslstmt.Parse(source)
		if err != nil {
			return nil, wrapParseErr(err)
		}
		kp, cerr := sema.AnalyzeKernel(k, varInfos, 0, requested)
		if cerr != nil {
			return nil, cerr
		}
		attachJIT(kp)
		return wrapKernel(kp), nil
	}

	expr, err := parseInfix(source)
	if err != nil {
		return nil, err
	}
	vp, cerr := sema.AnalyzeInfix(expr, varInfos, requested)
	if cerr != nil {
		return nil, cerr
	}
	return wrapVector(vp), nil
}

// CompileND compiles source for evaluation over an N-dimensional block of
// the given shape, tiled by chunkShape/blockShape for locality (each may
// be nil, meaning "one tile spanning the whole corresponding axis").
func CompileND(source string, vars []Variable, requested dtype.DType, ndim int, shape, chunkShape, blockShape []int64) (*Expr, *CompileError) {
	if len(shape) != ndim {
		return nil, mexerr.New(mexerr.KindUnsupported, lexer.Position{}, "shape has %d axes, want ndim=%d", len(shape), ndim)
	}
	varInfos, cerr := toVarInfos(vars)
	if cerr != nil {
		return nil, cerr
	}

	if looksLikeKernel(source) {
		k, err := dslstmt.Parse(source)
		if err != nil {
			return nil, wrapParseErr(err)
		}
		kp, cerr := sema.AnalyzeKernel(k, varInfos, ndim, requested)
		if cerr != nil {
			return nil, cerr
		}
		ndp, ok := kp.InterpFallback.(*plan.NDPlan)
		if !ok {
			return nil, mexerr.New(mexerr.KindInternal, lexer.Position{}, "ndim > 0 kernel lowered to a non-ND fallback plan")
		}
		ndp.Shape, ndp.ChunkShape, ndp.BlockShape = shape, chunkShape, blockShape
		attachJIT(kp)
		return wrapKernel(kp), nil
	}

	expr, err := parseInfix(source)
	if err != nil {
		return nil, err
	}
	ndp, cerr := sema.AnalyzeND(expr, varInfos, ndim, shape, requested)
	if cerr != nil {
		return nil, cerr
	}
	ndp.ChunkShape, ndp.BlockShape = chunkShape, blockShape
	return wrapND(ndp), nil
}

// looksLikeKernel distinguishes the DSL from the infix grammar by
// scanning past blank lines and pragma/ordinary comments for the first
// real line: the DSL grammar's only valid first statement is a `def
// kernel(...):` header, which is never valid infix syntax.
func looksLikeKernel(source string) bool {
	for _, raw := range strings.Split(source, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.HasPrefix(line, "def ")
	}
	return false
}

// parseInfix scans and parses an infix source string into an AST, folding
// both stages' distinct error types into a single CompileError.
func parseInfix(source string) (ast.Expr, *CompileError) {
	sc := lexer.NewScanner(source)
	tokens, err := sc.ScanTokens()
	if err != nil {
		return nil, wrapParseErr(err)
	}
	expr, err := parser.Parse(tokens)
	if err != nil {
		return nil, wrapParseErr(err)
	}
	return expr, nil
}

func toVarInfos(vars []Variable) ([]sema.VarInfo, *CompileError) {
	out := make([]sema.VarInfo, len(vars))
	for i, v := range vars {
		if err := dtype.ValidateVariable(v.DType, v.ItemSize); err != nil {
			return nil, mexerr.New(mexerr.KindType, lexer.Position{}, "variable %q: %v", v.Name, err)
		}
		out[i] = sema.VarInfo{Name: v.Name, DType: v.DType}
	}
	return out, nil
}

func wrapParseErr(err error) *CompileError {
	switch e := err.(type) {
	case *dslstmt.ParseError:
		return mexerr.New(mexerr.KindParse, e.Pos, "%s", e.Msg)
	case *lexer.LexError:
		return mexerr.New(mexerr.KindParse, e.Pos, "%s", e.Msg)
	case *parser.ParseError:
		return mexerr.New(mexerr.KindParse, e.Pos, "%s", e.Msg)
	default:
		return mexerr.New(mexerr.KindParse, lexer.Position{}, "%s", err.Error())
	}
}

// attachJIT builds the restricted JIT IR for kp and, if eligible and a
// native kernel successfully compiles and loads, attaches it. A failure
// at any step here is never reported to the caller: kp.InterpFallback
// already evaluates the kernel correctly, so Compile always succeeds once
// AnalyzeKernel has.
func attachJIT(kp *plan.KernelPlan) {
	m, jerr := jitir.Build(kp)
	if jerr != nil {
		return
	}
	kp.IRFingerprint = m.Fingerprint
	kp.JITKernel = jitcache.Acquire(m)
}

func wrapVector(vp *plan.VectorPlan) *Expr {
	return &plan.Expr{
		Plan:                &plan.EvalPlan{Vector: vp},
		InferredOutputDType: vp.OutputDType,
		ParameterNames:      vp.ParamNames,
		VariableDTypes:      vp.InputDTypes,
	}
}

func wrapND(ndp *plan.NDPlan) *Expr {
	return &plan.Expr{
		Plan:                &plan.EvalPlan{ND: ndp},
		InferredOutputDType: ndp.OutputDType,
		ParameterNames:      ndp.ParamNames,
		VariableDTypes:      ndp.InputDTypes,
	}
}

func wrapKernel(kp *plan.KernelPlan) *Expr {
	names, dtypes := kernelRealParams(kp)
	return &plan.Expr{
		Plan:                &plan.EvalPlan{Kernel: kp},
		InferredOutputDType: kp.OutputDType,
		ParameterNames:      names,
		VariableDTypes:      dtypes,
	}
}

// kernelRealParams returns a kernel plan's caller-facing parameter names
// and dtypes: the kernel header's own parameters, in the order AnalyzeKernel
// recorded them, excluding the reserved index identifiers a caller never
// supplies data for.
func kernelRealParams(kp *plan.KernelPlan) ([]string, []dtype.DType) {
	switch fb := kp.InterpFallback.(type) {
	case *plan.VectorPlan:
		return fb.ParamNames, fb.InputDTypes
	case *plan.NDPlan:
		return fb.ParamNames, fb.InputDTypes
	}
	return nil, nil
}

// KernelSymbol returns the exported C function name a given IR fingerprint
// compiles to: the symbol_name a JIT cache entry's metadata file records
// for that kernel.
func KernelSymbol(fingerprint uint64) string {
	return cemit.Symbol(fingerprint)
}
