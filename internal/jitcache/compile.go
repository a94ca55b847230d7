package jitcache

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// sharedObjectExt is the platform's dynamic-library suffix; macOS's cc
// still accepts -shared but conventionally names the output .dylib.
func sharedObjectExt() string {
	if runtime.GOOS == "darwin" {
		return ".dylib"
	}
	return ".so"
}

// compileSharedObject writes source to <dir>/kernel_<key>.c and invokes
// cfg.tag (the resolved $CC, or "cc") to produce <dir>/kernel_<key>.so (or
// .dylib). The object is built under a uuid-suffixed temp name and
// rename'd into place atomically, so a reader that opens the cache
// concurrently never observes a partially written library.
func compileSharedObject(dir, key, source string, cfg compilerConfig) (cPath, libPath string, err error) {
	cPath = filepath.Join(dir, "kernel_"+key+".c")
	if err := os.WriteFile(cPath, []byte(source), 0o644); err != nil {
		return "", "", errors.Wrapf(err, "write %s", cPath)
	}

	libPath = filepath.Join(dir, "kernel_"+key+sharedObjectExt())
	tmpPath := filepath.Join(dir, "kernel_"+key+"."+uuid.NewString()+".tmp"+sharedObjectExt())

	args := []string{"-shared", "-fPIC", "-O2", "-x", "c", cPath, "-o", tmpPath, "-lm"}
	if extra := strings.Fields(cfg.extraCFLAGS); len(extra) > 0 {
		args = append(extra, args...)
	}

	cmd := exec.Command(cfg.tag, args...)
	out, runErr := cmd.CombinedOutput()
	if runErr != nil {
		os.Remove(tmpPath)
		return cPath, "", errors.Wrapf(runErr, "compile %s failed: %s", cPath, strings.TrimSpace(string(out)))
	}

	if err := os.Rename(tmpPath, libPath); err != nil {
		os.Remove(tmpPath)
		return cPath, "", errors.Wrapf(err, "rename %s to %s", tmpPath, libPath)
	}
	return cPath, libPath, nil
}
