//go:build windows

package jitcache

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// fileLock mirrors lock_unix.go's advisory cross-process lock, backed by
// LockFileEx instead of flock(2).
type fileLock struct {
	f *os.File
}

func acquireFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock file %s", path)
	}
	ol := new(windows.Overlapped)
	err = windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "LockFileEx %s", path)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() error {
	defer l.f.Close()
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(l.f.Fd()), 0, 1, 0, ol)
}
