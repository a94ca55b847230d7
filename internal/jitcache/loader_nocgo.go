//go:build !cgo

package jitcache

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Without cgo there is no dlopen available; every Acquire call returns nil
// before any compile attempt, the same as with ME_DSL_JIT=0, and
// evaluation falls back to the interpreter. It is not a hard error: the
// library keeps working, just without native kernels.
const jitSupported = false

type sharedLibrary struct{}

func dlopenLibrary(path string) (*sharedLibrary, error) {
	return nil, errors.New("jitcache: JIT compilation requires cgo, built without it")
}

func (l *sharedLibrary) symbol(name string) (uintptr, error) {
	return 0, errors.New("jitcache: JIT compilation requires cgo, built without it")
}

func (l *sharedLibrary) close() error { return nil }

func invokeFlatKernel(entry uintptr, inputs []unsafe.Pointer, output unsafe.Pointer, nitems int64) {
	panic("jitcache: invokeFlatKernel called without cgo support")
}

func invokeNDKernel(entry uintptr, inputs []unsafe.Pointer, output unsafe.Pointer, shape []int64, ndim, baseLinear, nitems int64) {
	panic("jitcache: invokeNDKernel called without cgo support")
}
