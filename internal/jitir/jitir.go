// Package jitir lowers a DSL kernel's already-typed statement body into
// the restricted, language-neutral form the C emitter consumes, and
// computes a stable fingerprint over that form. Unlike internal/ir (whose
// Node/Stmt trees already enumerate every construct the DSL grammar can
// produce), jitir's job is narrower: decide whether this particular
// kernel is eligible for native compilation at all, and if so, produce a
// canonical byte encoding deterministic enough to key an on-disk cache.
package jitir

import (
	"encoding/binary"
	"hash"
	"math"
	"sort"

	"golang.org/x/crypto/blake2b"

	"miniexpr/internal/dtype"
	"miniexpr/internal/ir"
	"miniexpr/internal/lexer"
	"miniexpr/internal/mexerr"
	"miniexpr/internal/plan"
)

// Module is the restricted IR handed to the C emitter: a flattened view
// of a KernelPlan's interpreter fallback plus the information the emitter
// needs that isn't already in plan.KernelPlan (the reserved-index list in
// canonical order, and the fingerprint).
type Module struct {
	ParamNames  []string
	ParamDTypes []dtype.DType
	Reserved    []string
	Locals      map[string]dtype.DType
	OutputDType dtype.DType
	Dialect     plan.Dialect
	FPMode      plan.FPMode
	NDim        int
	Stmts       []*ir.Stmt
	Fingerprint uint64

	// CompilerHint carries the kernel's `# me:compiler=cc|tcc` pragma, if
	// any ("" when the kernel left it at the default). internal/jitcache
	// consults it when resolving which compiler binary to invoke, ahead
	// of the $CC environment variable.
	CompilerHint string
}

// Build validates kp's interpreter fallback against the constructs the C
// emitter supports and, if eligible, lowers it into a Module. A non-nil
// *mexerr.CompileError here does not fail compilation of the Expr itself:
// callers treat it as "this kernel has no JIT path", not as a kernel
// compile error, since kp.InterpFallback already evaluates it correctly.
func Build(kp *plan.KernelPlan) (*Module, *mexerr.CompileError) {
	var paramNames []string
	var paramDTypes []dtype.DType
	var reserved []string
	var locals map[string]dtype.DType
	var stmts []*ir.Stmt

	switch fb := kp.InterpFallback.(type) {
	case *plan.VectorPlan:
		paramNames = fb.ParamNames
		paramDTypes = fb.InputDTypes
		reserved = fb.ReservedParams
		locals = fb.Locals
		stmts = fb.Stmts
	case *plan.NDPlan:
		paramNames = fb.ParamNames
		paramDTypes = fb.InputDTypes
		reserved = fb.ReservedParams
		locals = fb.Locals
		stmts = fb.Stmts
	default:
		return nil, mexerr.New(mexerr.KindUnsupported, lexer.Position{}, "kernel plan has no DSL-lowered fallback to JIT-compile")
	}

	if rejected := firstUnsupportedDType(kp.OutputDType, paramDTypes, locals); rejected != dtype.Invalid {
		return nil, mexerr.New(mexerr.KindUnsupported, lexer.Position{}, "dtype %s has no C emitter lowering", rejected)
	}

	m := &Module{
		ParamNames:  paramNames,
		ParamDTypes: paramDTypes,
		Reserved:    reserved,
		Locals:      locals,
		OutputDType: kp.OutputDType,
		Dialect:     kp.Dialect,
		FPMode:      kp.FPMode,
		NDim:        kp.NDim,
		Stmts:       stmts,

		CompilerHint: kp.Pragmas["compiler"],
	}
	m.Fingerprint = fingerprint(m)
	return m, nil
}

// firstUnsupportedDType reports the first dtype among a kernel's output,
// parameters and locals that the C emitter cannot lower (STRING has no
// fixed-width C scalar type compatible with the bridge ABI; COMPLEX has
// no bridge symbols defined for it in the frozen math bridge). Returns
// dtype.Invalid if every dtype involved is emitter-eligible.
func firstUnsupportedDType(out dtype.DType, params []dtype.DType, locals map[string]dtype.DType) dtype.DType {
	bad := func(d dtype.DType) bool { return d == dtype.String || d.IsComplex() }
	if bad(out) {
		return out
	}
	for _, d := range params {
		if bad(d) {
			return d
		}
	}
	for _, d := range locals {
		if bad(d) {
			return d
		}
	}
	return dtype.Invalid
}

// fingerprint computes a deterministic 64-bit hash distinguishing m's
// operator-tree shape, node dtypes and literal values, dialect, reserved
// index set, and canonical parameter order, truncated from a blake2b-256
// digest of a canonical byte encoding.
func fingerprint(m *Module) uint64 {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic("jitir: blake2b.New256: " + err.Error())
	}
	writeString(h, string(m.Dialect))
	writeString(h, string(m.FPMode))
	writeInt(h, int64(m.NDim))
	writeString(h, m.OutputDType.String())

	for _, n := range m.ParamNames {
		writeString(h, "p:"+n)
	}
	reserved := append([]string{}, m.Reserved...)
	sort.Strings(reserved)
	for _, n := range reserved {
		writeString(h, "r:"+n)
	}

	for _, s := range m.Stmts {
		writeStmt(h, s)
	}

	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

func writeString(h hash.Hash, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}

func writeInt(h hash.Hash, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

func writeNode(h hash.Hash, n *ir.Node) {
	if n == nil {
		h.Write([]byte{0xff})
		return
	}
	writeInt(h, int64(n.Kind))
	writeString(h, n.DType.String())
	switch n.Kind {
	case ir.KindConst:
		writeString(h, formatConst(n.ConstValue))
	case ir.KindVar:
		writeString(h, n.VarName)
	case ir.KindUnary:
		writeString(h, n.Op)
		writeNode(h, n.Left)
	case ir.KindBinary:
		writeString(h, n.Op)
		writeNode(h, n.Left)
		writeNode(h, n.Right)
	case ir.KindCall:
		writeString(h, n.FnName)
		for _, a := range n.Args {
			writeNode(h, a)
		}
	case ir.KindReduce:
		writeString(h, n.ReduceKind)
		writeNode(h, n.Child)
	}
}

// formatConst encodes a constant's exact bit pattern so that two literals
// differing only in formatting (e.g. "1.0" vs "1.00") but equal in value
// produce the same fingerprint contribution, while distinct values never
// collide across types.
func formatConst(v interface{}) string {
	var buf [9]byte
	switch x := v.(type) {
	case bool:
		buf[0] = 'b'
		if x {
			buf[1] = 1
		}
		return string(buf[:2])
	case float32:
		buf[0] = 'f'
		binary.BigEndian.PutUint32(buf[1:5], math.Float32bits(x))
		return string(buf[:5])
	case float64:
		buf[0] = 'd'
		binary.BigEndian.PutUint64(buf[1:9], math.Float64bits(x))
		return string(buf[:9])
	case int64:
		buf[0] = 'i'
		binary.BigEndian.PutUint64(buf[1:9], uint64(x))
		return string(buf[:9])
	case uint64:
		buf[0] = 'u'
		binary.BigEndian.PutUint64(buf[1:9], x)
		return string(buf[:9])
	case complex128:
		buf[0] = 'c'
		var re, im [8]byte
		binary.BigEndian.PutUint64(re[:], math.Float64bits(real(x)))
		binary.BigEndian.PutUint64(im[:], math.Float64bits(imag(x)))
		return string(buf[:1]) + string(re[:]) + string(im[:])
	case string:
		return "s" + x
	default:
		return "?"
	}
}

func writeStmt(h hash.Hash, s *ir.Stmt) {
	if s == nil {
		h.Write([]byte{0xff})
		return
	}
	writeInt(h, int64(s.Kind))
	switch s.Kind {
	case ir.StmtAssign:
		writeString(h, s.Name)
		writeNode(h, s.Expr)
	case ir.StmtIf:
		writeNode(h, s.Cond)
		for _, c := range s.Then {
			writeStmt(h, c)
		}
		h.Write([]byte{0xfe})
		for _, c := range s.Else {
			writeStmt(h, c)
		}
	case ir.StmtFor:
		writeString(h, s.LoopVar)
		writeNode(h, s.Start)
		writeNode(h, s.Stop)
		writeNode(h, s.Step)
		for _, c := range s.Body {
			writeStmt(h, c)
		}
	case ir.StmtBreak, ir.StmtContinue:
		writeNode(h, s.Cond)
	case ir.StmtReturn:
		writeNode(h, s.Value)
	}
}
