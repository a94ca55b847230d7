//go:build unix

package jitcache

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// fileLock is an advisory, cross-process lock on a kernel_<hex>.lock file,
// held for the duration of one compile attempt so concurrent processes
// racing on the same cache key serialize rather than double-compile.
type fileLock struct {
	f *os.File
}

func acquireFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock file %s", path)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "flock %s", path)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() error {
	defer l.f.Close()
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}
