// Package jitcache is the on-disk/in-process cache sitting between
// internal/cemit's pure C emission and a loaded, callable kernel entry
// point. It owns the cache key/state machine, the compiler invocation,
// the advisory cross-process lock, and the dlopen-based loader; callers
// (the root miniexpr package) only ever see Acquire's *plan.LoadedKernel
// or nil.
package jitcache

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"miniexpr/internal/cemit"
	"miniexpr/internal/jitir"
	"miniexpr/internal/plan"
)

// negativeCooldown is how long a failed compile is remembered before a
// later Acquire for the same key is allowed to retry. 30s is long enough
// that a build-system pathology (missing header, broken $CC) doesn't
// retry every call in a tight loop, short enough that a transient
// failure (disk full) heals within one typical test run.
const negativeCooldown = 30 * time.Second

type cacheState int

const (
	stateAbsent cacheState = iota
	statePositive
	stateNegative
)

// kernelEntry is the in-process record for one cache key. Once in
// statePositive, lib/entry/symbol/paramOrder never change for the
// lifetime of the entry; refCount and state transition under tableMu.
type kernelEntry struct {
	state         cacheState
	lib           *sharedLibrary
	entry         uintptr
	symbol        string
	paramOrder    []string
	refCount      int32
	cooldownUntil time.Time
	lastErr       error
}

// globalTable is the process-wide mutable store of loaded kernels,
// guarded by tableMu, holding lookup/insert only — the compile itself
// runs outside the lock, collapsed by key via compileGroup instead.
var (
	tableMu      sync.RWMutex
	globalTable  = map[string]*kernelEntry{}
	compileGroup singleflight.Group
)

// Acquire resolves m to a loaded, callable kernel, compiling and caching
// it on demand. Returns nil whenever no JIT kernel is available for any
// reason (disabled via ME_DSL_JIT=0, built without cgo, on a negative
// cooldown, or a compile/load failure) — callers always have
// plan.KernelPlan.InterpFallback to fall back to, so a nil return here is
// never itself an error.
func Acquire(m *jitir.Module) *plan.LoadedKernel {
	if os.Getenv("ME_DSL_JIT") == "0" {
		return nil
	}
	if !jitSupported {
		return nil
	}

	cfg := resolveCompilerConfig(m.CompilerHint)
	key := cacheKey(m, cfg)

	if lk := tryExistingEntry(key); lk != nil {
		return lk
	}
	tableMu.RLock()
	ne, ok := globalTable[key]
	coolingDown := ok && ne.state == stateNegative && time.Now().Before(ne.cooldownUntil)
	tableMu.RUnlock()
	if coolingDown {
		return nil
	}

	dir, err := cacheDir()
	if err != nil {
		return nil
	}
	posCacheOnly := os.Getenv("ME_DSL_JIT_POS_CACHE") == "1"

	result, err, _ := compileGroup.Do(key, func() (interface{}, error) {
		return acquireLocked(dir, key, m, cfg, posCacheOnly)
	})
	if err != nil || result == nil {
		return nil
	}
	return result.(*plan.LoadedKernel)
}

// tryExistingEntry serves a positive entry already in globalTable without
// going through singleflight, and reports a negative entry's cooldown
// without attempting anything.
func tryExistingEntry(key string) *plan.LoadedKernel {
	tableMu.RLock()
	e, ok := globalTable[key]
	tableMu.RUnlock()
	if !ok {
		return nil
	}
	switch e.state {
	case statePositive:
		return refEntry(key, e)
	case stateNegative:
		if time.Now().Before(e.cooldownUntil) {
			return nil
		}
	}
	return nil
}

func cacheDir() (string, error) {
	base := os.Getenv("TMPDIR")
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "miniexpr-jit")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// acquireLocked performs the full absent/positive/negative state
// transition for key, serialized per-key by the caller's
// singleflight.Do. It checks the on-disk metadata/library pair before
// invoking a compiler only when posCacheOnly is set, so
// ME_DSL_JIT_POS_CACHE=1 genuinely skips the compiler when a valid
// positive entry already exists on disk from a previous process; without
// the flag it always re-emits and recompiles.
func acquireLocked(dir, key string, m *jitir.Module, cfg compilerConfig, posCacheOnly bool) (interface{}, error) {
	if lk := tryExistingEntry(key); lk != nil {
		return lk, nil
	}

	symbol := cemit.Symbol(m.Fingerprint)
	metaPath := filepath.Join(dir, "kernel_"+key+".meta")
	libPath := filepath.Join(dir, "kernel_"+key+sharedObjectExt())

	// On-disk reuse without re-emitting/recompiling is opt-in: without
	// ME_DSL_JIT_POS_CACHE=1, every process re-emits and recompiles even
	// if a byte-valid artifact from a previous process already sits in
	// the cache directory, so a corrupted or subtly-stale cache entry
	// from another process never silently persists by default. Once
	// loaded into this process's globalTable (above), it's reused
	// unconditionally — the flag only governs cross-process reuse.
	if posCacheOnly {
		if lk, ok := tryLoadFromDisk(key, metaPath, libPath, m, symbol, cfg); ok {
			return lk, nil
		}
	}

	lock, err := acquireFileLock(filepath.Join(dir, "kernel_"+key+".lock"))
	if err != nil {
		recordNegative(key, err)
		return nil, err
	}
	defer lock.release()

	// Re-check: another process may have finished compiling this exact
	// key while we waited on the lock.
	if lk := tryExistingEntry(key); lk != nil {
		return lk, nil
	}
	if posCacheOnly {
		if lk, ok := tryLoadFromDisk(key, metaPath, libPath, m, symbol, cfg); ok {
			return lk, nil
		}
	}

	res := cemit.Emit(m)
	_, compiledLibPath, err := compileSharedObject(dir, key, res.Source, cfg)
	if err != nil {
		recordNegative(key, err)
		return nil, err
	}

	lib, err := dlopenLibrary(compiledLibPath)
	if err != nil {
		recordNegative(key, err)
		return nil, err
	}
	entryAddr, err := lib.symbol(res.Symbol)
	if err != nil {
		lib.close()
		recordNegative(key, err)
		return nil, err
	}

	libHash, libSize, err := hashFile(compiledLibPath)
	if err != nil {
		lib.close()
		recordNegative(key, err)
		return nil, err
	}
	meta := &Metadata{
		AbiVersion:     AbiVersion,
		IRFingerprint:  m.Fingerprint,
		CompilerTag:    cfg.tag,
		FPMode:         string(m.FPMode),
		Dialect:        string(m.Dialect),
		SymbolName:     res.Symbol,
		LibraryRelpath: filepath.Base(compiledLibPath),
		LibrarySize:    libSize,
		LibraryHash:    libHash,
	}
	if err := writeMetadata(metaPath, meta); err != nil {
		lib.close()
		recordNegative(key, err)
		return nil, err
	}

	e := &kernelEntry{
		state:      statePositive,
		lib:        lib,
		entry:      entryAddr,
		symbol:     res.Symbol,
		paramOrder: res.ParamOrder,
	}
	tableMu.Lock()
	globalTable[key] = e
	tableMu.Unlock()
	return refEntry(key, e), nil
}

// tryLoadFromDisk attempts to serve key from an on-disk metadata+library
// pair without compiling, validating it against m/symbol/cfg first. A
// mismatch or missing file is reported as a plain cache miss (ok=false),
// never an error — compiling is always the fallback.
func tryLoadFromDisk(key, metaPath, libPath string, m *jitir.Module, symbol string, cfg compilerConfig) (*plan.LoadedKernel, bool) {
	meta, err := readMetadata(metaPath)
	if err != nil {
		return nil, false
	}
	if _, statErr := os.Stat(libPath); statErr != nil {
		return nil, false
	}
	if !meta.matchesCurrent(m.Fingerprint, string(m.Dialect), string(m.FPMode), symbol, cfg, libPath) {
		os.Remove(metaPath)
		os.Remove(libPath)
		return nil, false
	}

	lib, err := dlopenLibrary(libPath)
	if err != nil {
		recordNegative(key, err)
		return nil, false
	}
	entryAddr, err := lib.symbol(symbol)
	if err != nil {
		lib.close()
		recordNegative(key, err)
		return nil, false
	}

	e := &kernelEntry{
		state:      statePositive,
		lib:        lib,
		entry:      entryAddr,
		symbol:     symbol,
		paramOrder: append([]string{}, m.ParamNames...),
	}
	tableMu.Lock()
	globalTable[key] = e
	tableMu.Unlock()
	return refEntry(key, e), true
}

func recordNegative(key string, err error) {
	tableMu.Lock()
	globalTable[key] = &kernelEntry{
		state:         stateNegative,
		cooldownUntil: time.Now().Add(negativeCooldown),
		lastErr:       err,
	}
	tableMu.Unlock()
}

// refEntry builds the *plan.LoadedKernel a caller's Expr owns, bumping
// e's shared refcount under tableMu so plan.Expr.Release (a plain,
// non-atomic decrement, by that package's existing contract) always sees
// a consistent count regardless of how many Exprs share this entry.
func refEntry(key string, e *kernelEntry) *plan.LoadedKernel {
	tableMu.Lock()
	e.refCount++
	tableMu.Unlock()

	return &plan.LoadedKernel{
		CacheKey:    key,
		Entry:       e.entry,
		OwnsLibrary: false,
		RefCount:    &e.refCount,
		ReleaseFunc: func() { releaseEntry(key, e) },
	}
}

// releaseEntry runs once the shared refcount a LoadedKernel reported
// reaches zero: it closes the dlopen handle and drops the table entry,
// so a later Acquire for the same key starts clean rather than reusing a
// handle already being torn down.
func releaseEntry(key string, e *kernelEntry) {
	tableMu.Lock()
	defer tableMu.Unlock()
	if cur, ok := globalTable[key]; ok && cur == e {
		delete(globalTable, key)
	}
	if e.lib != nil {
		e.lib.close()
	}
}

// Invalidate forcibly evicts key's in-process entry (not the on-disk
// artifacts), used by tests that want to force a cold Acquire.
func Invalidate(key string) {
	tableMu.Lock()
	delete(globalTable, key)
	tableMu.Unlock()
}

// Diagnose reports what globalTable currently holds for key: whether a
// positive entry's canonical parameter order, or a negative entry's
// recorded compile/load failure.
func Diagnose(key string) (paramOrder []string, state string, lastErr error, found bool) {
	tableMu.RLock()
	defer tableMu.RUnlock()
	e, ok := globalTable[key]
	if !ok {
		return nil, "absent", nil, false
	}
	switch e.state {
	case statePositive:
		return e.paramOrder, "positive", nil, true
	case stateNegative:
		return nil, "negative", e.lastErr, true
	default:
		return nil, "absent", nil, true
	}
}
