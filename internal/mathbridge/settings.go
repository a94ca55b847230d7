// Package mathbridge is the frozen scalar/vector transcendental table
// both the chunked interpreter and JIT-compiled kernels call through.
// Keeping one Go implementation behind both call paths is what makes the
// two paths' outputs comparable: the interpreter calls the package's
// exported Go functions directly, and a loaded kernel's unresolved
// `me_jit_<op>` externs bind, via dlopen's global symbol scope, to this
// same package's cgo-exported wrappers around those functions.
package mathbridge

import (
	"os"
	"strconv"
	"sync"
)

// ULPMode selects the accuracy/speed tradeoff for the sin/cos backend.
type ULPMode int

const (
	// ULP10 is the default: sin/cos go through math.Sin/math.Cos,
	// accurate to within a few ULP.
	ULP10 ULPMode = iota
	// ULP35, together with BackendSIMD, trades accuracy for throughput via
	// the polynomial approximation in fastSin/fastCos, whose absolute error
	// is on the order of 1e-3; it does not stay within 35 ULP.
	ULP35
)

func (m ULPMode) String() string {
	if m == ULP35 {
		return "35"
	}
	return "10"
}

// SinCosBackend names which code path sin/cos dispatch through.
type SinCosBackend int

const (
	// BackendLibm always calls math.Sin/math.Cos regardless of ULPMode.
	BackendLibm SinCosBackend = iota
	// BackendSIMD routes sin/cos through fastSin/fastCos when ULPMode is
	// ULP35 and through math.Sin/math.Cos under ULP10; scalar and batch
	// calls take the same per-element path.
	BackendSIMD
)

func (b SinCosBackend) String() string {
	if b == BackendSIMD {
		return "simd"
	}
	return "libm"
}

// Settings is the process-wide, internally-locked math-backend
// configuration: sin/cos backend selection and its ULP mode. Never
// exported as a writable struct — callers read a value copy via Current
// and mutate only through the Set* functions below.
type Settings struct {
	ULP     ULPMode
	Backend SinCosBackend
}

var (
	mu          sync.RWMutex
	initialized bool
	current     Settings
)

// ensureInit lazily seeds current from the environment on first access,
// mirroring internal/vm's lazy module-cache init: a read-lock fast path,
// then a write-lock double-check before doing the one-time work.
func ensureInit() {
	mu.RLock()
	if initialized {
		mu.RUnlock()
		return
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return
	}
	current = Settings{ULP: ULP10, Backend: BackendLibm}
	if v := os.Getenv("ME_DSL_MATH_ULP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 35 {
			current.ULP = ULP35
		}
	}
	if os.Getenv("ME_DSL_MATH_SIMD") == "1" {
		current.Backend = BackendSIMD
	}
	initialized = true
}

// Current returns a value copy of the active settings. Safe to call from
// any goroutine at any time.
func Current() Settings {
	ensureInit()
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// SetULPMode changes the accuracy/speed tradeoff for sin/cos. Like the
// rest of this package's setters, it is intended to be called once at
// startup before any evaluation begins — it is not a per-call knob, and
// concurrent evaluation while a setter runs is not guaranteed to observe
// a consistent value.
func SetULPMode(m ULPMode) {
	ensureInit()
	mu.Lock()
	defer mu.Unlock()
	current.ULP = m
}

// SetSinCosBackend changes which code path sin/cos dispatch through.
func SetSinCosBackend(b SinCosBackend) {
	ensureInit()
	mu.Lock()
	defer mu.Unlock()
	current.Backend = b
}
