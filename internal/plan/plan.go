// Package plan defines the evaluation-plan variants (VectorPlan, NDPlan,
// KernelPlan) and the compiled Expr artifact that owns one of them: the
// thing a compiler produces and a runner consumes, generalized from a
// flat opcode stream to a typed operator tree plus execution metadata.
package plan

import (
	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
)

// DefaultChunkBytes is the target working-set size per interpreter chunk:
// roughly 64 KiB of promoted working-set.
const DefaultChunkBytes = 64 * 1024

// VectorPlan evaluates a single flat array expression in chunks. A plan
// lowered from a DSL kernel (rather than compiled directly from an infix
// expression) leaves Tree nil and populates Stmts/Locals/ReservedParams
// instead: the interpreter executes the statement sequence once per
// element rather than walking one expression tree.
type VectorPlan struct {
	Tree          *ir.Node
	OutputDType   dtype.DType
	InputDTypes   []dtype.DType
	ParamNames    []string
	HasReduction  bool
	ReduceKind    string // set iff HasReduction
	ChunkElements int

	// Populated only for DSL-lowered plans.
	Stmts          []*ir.Stmt
	Locals         map[string]dtype.DType
	ReservedParams []string
}

// NDPlan evaluates a kernel over an N-dimensional block-with-padding grid.
type NDPlan struct {
	Tree         *ir.Node
	OutputDType  dtype.DType
	InputDTypes  []dtype.DType
	ParamNames   []string
	Shape        []int64
	ChunkShape   []int64
	BlockShape   []int64
	HasReduction bool
	ReduceKind   string

	// Populated only for DSL-lowered plans.
	Stmts          []*ir.Stmt
	Locals         map[string]dtype.DType
	ReservedParams []string
}

// FPMode controls the floating-point contraction pragma the C emitter
// inserts and the accuracy tolerance the JIT/interpreter parity contract
// allows.
type FPMode string

const (
	FPStrict   FPMode = "strict"
	FPContract FPMode = "contract"
	FPFast     FPMode = "fast"
)

// Dialect selects between a straight-line element loop and a
// vector-bridge-calling loop in the C emitter.
type Dialect string

const (
	DialectVector  Dialect = "vector"
	DialectElement Dialect = "element"
)

// LoadedKernel is a JIT-compiled, dynamically-loaded kernel bound to a
// cache entry. Defined here (rather than in internal/jitcache) so
// KernelPlan can reference it without an import cycle back into the
// cache package, which itself needs to build plans.
type LoadedKernel struct {
	CacheKey      string
	Entry         uintptr // resolved `kernel` symbol, invoked via the loader
	OwnsLibrary   bool
	RefCount      *int32
	ReleaseFunc   func()
}

// KernelPlan is emitted for DSL sources. InterpFallback is
// always populated (lowering never fails to produce an interpretable
// form, only the JIT attach step can fail) so evaluation can proceed even
// when JIT compilation is disabled, on cooldown, or fails.
type KernelPlan struct {
	IRFingerprint   uint64
	ParameterOrder  []string
	OutputDType     dtype.DType
	Dialect         Dialect
	FPMode          FPMode
	NDim            int // 0 for a flat (non-ND) kernel
	JITKernel       *LoadedKernel // nil until attached / if JIT disabled
	InterpFallback  interface{}   // *VectorPlan or *NDPlan
	Pragmas         map[string]string
}

// EvalPlan is the sum type compile()/compile_nd() produce.
type EvalPlan struct {
	Vector *VectorPlan
	ND     *NDPlan
	Kernel *KernelPlan
}

// Expr is the opaque compiled artifact returned to callers. Exclusively
// owned by its creator; Release must be called exactly once.
type Expr struct {
	Plan               *EvalPlan
	InferredOutputDType dtype.DType
	ParameterNames     []string
	VariableDTypes     []dtype.DType
	released           bool
}

// Release frees any JIT resources the Expr holds (reference-counted
// LoadedKernel) and marks it unusable. Calling it twice is a no-op, not a
// panic, preferring to return on caller misuse it can detect cheaply.
func (e *Expr) Release() {
	if e == nil || e.released {
		return
	}
	e.released = true
	if e.Plan != nil && e.Plan.Kernel != nil && e.Plan.Kernel.JITKernel != nil {
		k := e.Plan.Kernel.JITKernel
		if k.RefCount != nil {
			*k.RefCount--
			if *k.RefCount <= 0 && k.ReleaseFunc != nil {
				k.ReleaseFunc()
			}
		}
	}
}

// Released reports whether Release has already been called.
func (e *Expr) Released() bool {
	return e == nil || e.released
}

// HasJITKernel reports whether a JIT-compiled kernel is attached.
func (e *Expr) HasJITKernel() bool {
	return e != nil && e.Plan != nil && e.Plan.Kernel != nil && e.Plan.Kernel.JITKernel != nil
}
