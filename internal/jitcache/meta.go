package jitcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
)

// Metadata is the fixed-format record written alongside a compiled
// kernel's shared object. On reopen every field must match the current
// plan and the on-disk artifact; any mismatch invalidates the entry.
type Metadata struct {
	AbiVersion     string `json:"abi_version"`
	IRFingerprint  uint64 `json:"ir_fingerprint"`
	CompilerTag    string `json:"compiler_tag"`
	FPMode         string `json:"fp_mode"`
	Dialect        string `json:"dialect"`
	SymbolName     string `json:"symbol_name"`
	LibraryRelpath string `json:"library_relpath"`
	LibrarySize    int64  `json:"library_size"`
	LibraryHash    string `json:"library_hash"`
}

func writeMetadata(path string, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write metadata %s", path)
	}
	return nil
}

func readMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read metadata %s", path)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "unmarshal metadata %s", path)
	}
	return &m, nil
}

// hashFile returns the hex-encoded sha256 of path's contents, used to
// detect an on-disk artifact silently replaced or truncated out from
// under a metadata record that still names it.
func hashFile(path string) (string, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, errors.Wrapf(err, "read library %s", path)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), int64(len(data)), nil
}

// matchesCurrent reports whether m still describes an entry eligible for
// reuse against fingerprint/dialect/fpMode/cfg, and the on-disk library at
// libPath still has the size/hash m recorded. Any mismatch here means
// the caller should delete the stale artifacts and retry from a cold
// compile, not patch the record in place.
func (m *Metadata) matchesCurrent(fingerprint uint64, dialect, fpMode, symbol string, cfg compilerConfig, libPath string) bool {
	// A metadata record written by an older/newer ABI is never reused,
	// even if every other field happens to line up. semver.Compare treats
	// equivalent spellings of one version as equal; any other version
	// difference, patch level included, rejects the record.
	if semver.Compare(m.AbiVersion, AbiVersion) != 0 {
		return false
	}
	if m.IRFingerprint != fingerprint || m.Dialect != dialect || m.FPMode != fpMode {
		return false
	}
	if m.CompilerTag != cfg.tag || m.SymbolName != symbol {
		return false
	}
	gotHash, gotSize, err := hashFile(libPath)
	if err != nil {
		return false
	}
	return gotHash == m.LibraryHash && gotSize == m.LibrarySize
}
