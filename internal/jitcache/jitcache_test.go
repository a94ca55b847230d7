package jitcache

import (
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"miniexpr/internal/dtype"
	"miniexpr/internal/jitir"
	"miniexpr/internal/plan"
)

func sampleModule() *jitir.Module {
	return &jitir.Module{
		ParamNames:  []string{"x", "y"},
		ParamDTypes: []dtype.DType{dtype.Float64, dtype.Float64},
		OutputDType: dtype.Float64,
		Dialect:     plan.DialectElement,
		FPMode:      plan.FPContract,
		Fingerprint: 0xdeadbeef,
	}
}

func TestCacheKeyDeterministic(t *testing.T) {
	m := sampleModule()
	cfg := compilerConfig{tag: "/usr/bin/cc", extraCFLAGS: ""}
	k1 := cacheKey(m, cfg)
	k2 := cacheKey(m, cfg)
	if k1 != k2 {
		t.Fatalf("cacheKey not deterministic: %q != %q", k1, k2)
	}
	if len(k1) != 32 {
		t.Fatalf("cacheKey length = %d, want 32 (16 bytes hex-encoded)", len(k1))
	}
}

func TestCacheKeyDistinguishesEveryField(t *testing.T) {
	base := sampleModule()
	baseCfg := compilerConfig{tag: "/usr/bin/cc", extraCFLAGS: ""}
	baseKey := cacheKey(base, baseCfg)

	withFingerprint := sampleModule()
	withFingerprint.Fingerprint = 0x1234
	if k := cacheKey(withFingerprint, baseCfg); k == baseKey {
		t.Fatal("differing Fingerprint produced the same cache key")
	}

	withDialect := sampleModule()
	withDialect.Dialect = plan.DialectVector
	if k := cacheKey(withDialect, baseCfg); k == baseKey {
		t.Fatal("differing Dialect produced the same cache key")
	}

	withFPMode := sampleModule()
	withFPMode.FPMode = plan.FPStrict
	if k := cacheKey(withFPMode, baseCfg); k == baseKey {
		t.Fatal("differing FPMode produced the same cache key")
	}

	if k := cacheKey(base, compilerConfig{tag: "/usr/bin/clang", extraCFLAGS: ""}); k == baseKey {
		t.Fatal("differing compiler tag produced the same cache key")
	}

	if k := cacheKey(base, compilerConfig{tag: "/usr/bin/cc", extraCFLAGS: "-march=native"}); k == baseKey {
		t.Fatal("differing extraCFLAGS produced the same cache key")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/kernel_abc.meta"

	m := &Metadata{
		AbiVersion:     AbiVersion,
		IRFingerprint:  0xabc123,
		CompilerTag:    "/usr/bin/cc",
		FPMode:         string(plan.FPContract),
		Dialect:        string(plan.DialectElement),
		SymbolName:     "__me_kernel_abc123",
		LibraryRelpath: "kernel_abc.so",
		LibrarySize:    4096,
		LibraryHash:    "deadbeef",
	}
	if err := writeMetadata(path, m); err != nil {
		t.Fatalf("writeMetadata: %v", err)
	}

	got, err := readMetadata(path)
	if err != nil {
		t.Fatalf("readMetadata: %v", err)
	}
	if *got != *m {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestMatchesCurrentRejectsEveryMismatch(t *testing.T) {
	dir := t.TempDir()
	libPath := dir + "/kernel_abc.so"
	if err := os.WriteFile(libPath, []byte("fake shared object contents"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	hash, size, err := hashFile(libPath)
	if err != nil {
		t.Fatalf("hashFile: %v", err)
	}

	good := &Metadata{
		AbiVersion:     AbiVersion,
		IRFingerprint:  0xabc123,
		CompilerTag:    "/usr/bin/cc",
		FPMode:         string(plan.FPContract),
		Dialect:        string(plan.DialectElement),
		SymbolName:     "__me_kernel_abc123",
		LibraryRelpath: "kernel_abc.so",
		LibrarySize:    size,
		LibraryHash:    hash,
	}
	cfg := compilerConfig{tag: "/usr/bin/cc"}

	if !good.matchesCurrent(0xabc123, string(plan.DialectElement), string(plan.FPContract), "__me_kernel_abc123", cfg, libPath) {
		t.Fatal("matchesCurrent rejected an otherwise-identical record")
	}

	staleAbi := *good
	staleAbi.AbiVersion = "v0.9.0"
	if staleAbi.matchesCurrent(0xabc123, string(plan.DialectElement), string(plan.FPContract), "__me_kernel_abc123", cfg, libPath) {
		t.Fatal("matchesCurrent accepted a mismatched AbiVersion")
	}

	staleFingerprint := *good
	if staleFingerprint.matchesCurrent(0x999, string(plan.DialectElement), string(plan.FPContract), "__me_kernel_abc123", cfg, libPath) {
		t.Fatal("matchesCurrent accepted a mismatched fingerprint")
	}

	staleDialect := *good
	if staleDialect.matchesCurrent(0xabc123, string(plan.DialectVector), string(plan.FPContract), "__me_kernel_abc123", cfg, libPath) {
		t.Fatal("matchesCurrent accepted a mismatched dialect")
	}

	staleFPMode := *good
	if staleFPMode.matchesCurrent(0xabc123, string(plan.DialectElement), string(plan.FPStrict), "__me_kernel_abc123", cfg, libPath) {
		t.Fatal("matchesCurrent accepted a mismatched fp mode")
	}

	staleCompiler := *good
	if staleCompiler.matchesCurrent(0xabc123, string(plan.DialectElement), string(plan.FPContract), "__me_kernel_abc123", compilerConfig{tag: "/usr/bin/clang"}, libPath) {
		t.Fatal("matchesCurrent accepted a mismatched compiler tag")
	}

	staleSymbol := *good
	if staleSymbol.matchesCurrent(0xabc123, string(plan.DialectElement), string(plan.FPContract), "__me_kernel_other", cfg, libPath) {
		t.Fatal("matchesCurrent accepted a mismatched symbol name")
	}

	// Tamper with the on-disk library without updating the record: size
	// and hash both change, either alone must invalidate the entry.
	if err := os.WriteFile(libPath, []byte("a different, truncated payload"), 0o644); err != nil {
		t.Fatalf("os.WriteFile (tamper): %v", err)
	}
	if good.matchesCurrent(0xabc123, string(plan.DialectElement), string(plan.FPContract), "__me_kernel_abc123", cfg, libPath) {
		t.Fatal("matchesCurrent accepted a library whose contents changed on disk")
	}
}

func TestDiagnoseReportsAbsentPositiveNegative(t *testing.T) {
	key := "test-diagnose-key"
	Invalidate(key)
	defer Invalidate(key)

	if _, state, _, found := Diagnose(key); found || state != "absent" {
		t.Fatalf("Diagnose on unknown key = (found=%v, state=%q), want (false, absent)", found, state)
	}

	tableMu.Lock()
	globalTable[key] = &kernelEntry{
		state:      statePositive,
		paramOrder: []string{"x", "y"},
	}
	tableMu.Unlock()

	paramOrder, state, lastErr, found := Diagnose(key)
	if !found || state != "positive" || lastErr != nil {
		t.Fatalf("Diagnose on positive entry = (found=%v, state=%q, err=%v)", found, state, lastErr)
	}
	if len(paramOrder) != 2 || paramOrder[0] != "x" || paramOrder[1] != "y" {
		t.Fatalf("Diagnose paramOrder = %v, want [x y]", paramOrder)
	}

	wantErr := errors.New("compile failed: missing header")
	tableMu.Lock()
	globalTable[key] = &kernelEntry{
		state:         stateNegative,
		cooldownUntil: time.Now().Add(negativeCooldown),
		lastErr:       wantErr,
	}
	tableMu.Unlock()

	_, state, lastErr, found = Diagnose(key)
	if !found || state != "negative" || lastErr != wantErr {
		t.Fatalf("Diagnose on negative entry = (found=%v, state=%q, err=%v), want (true, negative, %v)", found, state, lastErr, wantErr)
	}
}

func TestTryExistingEntryHonorsNegativeCooldown(t *testing.T) {
	key := "test-cooldown-key"
	Invalidate(key)
	defer Invalidate(key)

	tableMu.Lock()
	globalTable[key] = &kernelEntry{
		state:         stateNegative,
		cooldownUntil: time.Now().Add(time.Hour),
		lastErr:       errors.New("boom"),
	}
	tableMu.Unlock()

	if lk := tryExistingEntry(key); lk != nil {
		t.Fatal("tryExistingEntry returned a kernel for an entry still in its negative cooldown")
	}

	tableMu.Lock()
	globalTable[key].cooldownUntil = time.Now().Add(-time.Second)
	tableMu.Unlock()

	if lk := tryExistingEntry(key); lk != nil {
		t.Fatal("tryExistingEntry returned a non-nil kernel for an expired negative entry (it should report a miss, not serve one)")
	}
}

func TestAcquireDisabledByEnvVar(t *testing.T) {
	t.Setenv("ME_DSL_JIT", "0")
	m := sampleModule()
	if lk := Acquire(m); lk != nil {
		t.Fatal("Acquire returned non-nil with ME_DSL_JIT=0")
	}
}

// refEntry/releaseEntry split the refcounting contract with
// plan.Expr.Release: Release owns the decrement-and-zero-check (a plain,
// non-atomic *RefCount--), and only invokes ReleaseFunc once the count
// has reached zero. So releaseEntry itself is unconditional teardown,
// not a second decrement — these tests exercise it at that level.
func TestRefEntryIncrementsSharedCounter(t *testing.T) {
	key := "test-refcount-key"
	Invalidate(key)
	defer Invalidate(key)

	e := &kernelEntry{state: statePositive, paramOrder: []string{"x"}}
	tableMu.Lock()
	globalTable[key] = e
	tableMu.Unlock()

	lk1 := refEntry(key, e)
	lk2 := refEntry(key, e)
	if e.refCount != 2 {
		t.Fatalf("refCount after two refEntry calls = %d, want 2", e.refCount)
	}
	if lk1.CacheKey != key || lk2.CacheKey != key {
		t.Fatalf("LoadedKernel.CacheKey mismatch: %q, %q", lk1.CacheKey, lk2.CacheKey)
	}
	if lk1.RefCount != lk2.RefCount {
		t.Fatal("two LoadedKernel handles for the same key should share one RefCount pointer")
	}
}

func TestReleaseEntryEvictsOnlyMatchingCurrentEntry(t *testing.T) {
	key := "test-release-key"
	Invalidate(key)
	defer Invalidate(key)

	e := &kernelEntry{state: statePositive, paramOrder: []string{"x"}}
	tableMu.Lock()
	globalTable[key] = e
	tableMu.Unlock()
	lk := refEntry(key, e)

	lk.ReleaseFunc()
	tableMu.RLock()
	_, stillPresent := globalTable[key]
	tableMu.RUnlock()
	if stillPresent {
		t.Fatal("releaseEntry did not evict the table entry")
	}

	// A stale closure from an already-evicted (or replaced) entry must
	// not reach back in and delete whatever now occupies the key.
	replacement := &kernelEntry{state: statePositive, paramOrder: []string{"y"}}
	tableMu.Lock()
	globalTable[key] = replacement
	tableMu.Unlock()

	lk.ReleaseFunc()
	tableMu.RLock()
	cur, stillPresent := globalTable[key]
	tableMu.RUnlock()
	if !stillPresent || cur != replacement {
		t.Fatal("a stale ReleaseFunc closure evicted a replacement entry it doesn't own")
	}
}

func TestResolveCompilerConfigPrefersPragmaOverEnv(t *testing.T) {
	old := os.Getenv("CC")
	defer os.Setenv("CC", old)
	os.Setenv("CC", "nonexistent-cc-from-env-xyz")

	cfg := resolveCompilerConfig("nonexistent-cc-from-pragma-xyz")
	if cfg.tag != "nonexistent-cc-from-pragma-xyz" {
		t.Fatalf("tag = %q, want the pragma's compiler name to win over $CC", cfg.tag)
	}
}

func TestResolveCompilerConfigFallsBackToEnvThenDefault(t *testing.T) {
	old := os.Getenv("CC")
	defer os.Setenv("CC", old)

	os.Setenv("CC", "nonexistent-cc-from-env-xyz")
	if cfg := resolveCompilerConfig(""); cfg.tag != "nonexistent-cc-from-env-xyz" {
		t.Fatalf("tag = %q, want $CC value when no pragma hint is given", cfg.tag)
	}

	os.Unsetenv("CC")
	wantDefault := "cc"
	if resolved, err := exec.LookPath("cc"); err == nil {
		wantDefault = resolved
	}
	if cfg := resolveCompilerConfig(""); cfg.tag != wantDefault {
		t.Fatalf("tag = %q, want default \"cc\" (as resolved on PATH: %q) when neither pragma nor $CC is set", cfg.tag, wantDefault)
	}
}
