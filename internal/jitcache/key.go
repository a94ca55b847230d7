package jitcache

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"os"
	"os/exec"

	"golang.org/x/crypto/blake2b"

	"miniexpr/internal/jitir"
)

// AbiVersion is the kernel-ABI version tag embedded in every cache key and
// metadata record. It is a semver string so reopening an entry written by
// an older/newer binary can be compared with golang.org/x/mod/semver
// rather than a bare string equality check. Bump it whenever
// internal/cemit's generated function signatures change.
const AbiVersion = "v1.0.0"

// compilerConfig captures the two environment knobs that participate in
// the cache key alongside a kernel's own fingerprint: which compiler binary
// would be invoked, and what extra flags would be passed to it. Resolved
// once per Acquire call rather than cached process-wide, since CC/CFLAGS
// are the kind of thing a test harness legitimately changes between runs.
type compilerConfig struct {
	tag         string // compiler binary as resolved by exec.LookPath, or its bare name when the lookup fails
	extraCFLAGS string
}

// resolveCompilerConfig picks the compiler binary to invoke: a kernel's
// own `# me:compiler=cc|tcc` pragma (compilerHint) takes precedence over
// $CC, which takes precedence over the "cc" default.
func resolveCompilerConfig(compilerHint string) compilerConfig {
	cc := compilerHint
	if cc == "" {
		cc = os.Getenv("CC")
	}
	if cc == "" {
		cc = "cc"
	}
	tag := cc
	if resolved, err := exec.LookPath(cc); err == nil {
		tag = resolved
	}
	return compilerConfig{tag: tag, extraCFLAGS: os.Getenv("CFLAGS")}
}

// cacheKey computes the filename-safe identifier for m under cfg:
//   H(ir_fingerprint || dialect || fp_mode || compiler_tag || extra_cflags || abi_version)
// hex-encoded from a blake2b-256 digest, distinct from m.Fingerprint itself
// (which only covers the kernel's own shape, not the toolchain it would be
// compiled with).
func cacheKey(m *jitir.Module, cfg compilerConfig) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic("jitcache: blake2b.New256: " + err.Error())
	}
	var fp [8]byte
	binary.BigEndian.PutUint64(fp[:], m.Fingerprint)
	h.Write(fp[:])
	writeTagged(h, string(m.Dialect))
	writeTagged(h, string(m.FPMode))
	writeTagged(h, cfg.tag)
	writeTagged(h, cfg.extraCFLAGS)
	writeTagged(h, AbiVersion)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func writeTagged(h hash.Hash, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}
