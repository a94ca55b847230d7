//go:build cgo

package jitcache

/*
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

typedef void (*me_flat_kernel_fn)(const void *const *inputs, void *output, int64_t nitems);
typedef void (*me_nd_kernel_fn)(const void *const *inputs, void *output,
                                 const int64_t *shape, int64_t ndim,
                                 int64_t base_linear, int64_t nitems);

static void me_invoke_flat_kernel(void *fn, void **inputs, void *output, int64_t nitems) {
    ((me_flat_kernel_fn)fn)((const void *const *)inputs, output, nitems);
}

static void me_invoke_nd_kernel(void *fn, void **inputs, void *output,
                                 int64_t *shape, int64_t ndim,
                                 int64_t base_linear, int64_t nitems) {
    ((me_nd_kernel_fn)fn)((const void *const *)inputs, output, shape, ndim, base_linear, nitems);
}
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"
)

const jitSupported = true

// sharedLibrary wraps a dlopen handle. Kernels' `extern double
// me_jit_<op>(double)` declarations are left unresolved by the compiler
// and bind, at dlopen time, against internal/mathbridge's cgo-exported
// symbols already present in the host process's global symbol scope —
// RTLD_GLOBAL on the kernel itself is not required for that direction,
// only RTLD_NOW to fail fast if a bridge symbol is genuinely missing.
type sharedLibrary struct {
	handle unsafe.Pointer
}

func dlopenLibrary(path string) (*sharedLibrary, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	h := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_GLOBAL)
	if h == nil {
		return nil, errors.Errorf("dlopen %s: %s", path, C.GoString(C.dlerror()))
	}
	return &sharedLibrary{handle: unsafe.Pointer(h)}, nil
}

func (l *sharedLibrary) symbol(name string) (uintptr, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	C.dlerror() // clear any pending error before the lookup
	sym := C.dlsym(l.handle, cname)
	if errStr := C.dlerror(); errStr != nil {
		return 0, errors.Errorf("dlsym %s: %s", name, C.GoString(errStr))
	}
	return uintptr(sym), nil
}

func (l *sharedLibrary) close() error {
	if C.dlclose(l.handle) != 0 {
		return errors.New("dlclose failed")
	}
	return nil
}

// invokeFlatKernel calls a flat-kernel entry point (inputs/output not
// offset by any ND base) through the C trampoline above, since Go cannot
// call a dlsym'd function pointer of an arbitrary C signature directly.
func invokeFlatKernel(entry uintptr, inputs []unsafe.Pointer, output unsafe.Pointer, nitems int64) {
	var inArg *unsafe.Pointer
	if len(inputs) > 0 {
		inArg = &inputs[0]
	}
	C.me_invoke_flat_kernel(
		unsafe.Pointer(entry),
		inArg,
		output,
		C.int64_t(nitems),
	)
}

// invokeNDKernel calls an ND-kernel entry point. inputs/output must
// already point at the start of the current contiguous run (offset by
// baseLinear*elemsize by the caller); baseLinear is passed again
// separately so the kernel can compute global reserved indices.
func invokeNDKernel(entry uintptr, inputs []unsafe.Pointer, output unsafe.Pointer, shape []int64, ndim, baseLinear, nitems int64) {
	var inArg *unsafe.Pointer
	if len(inputs) > 0 {
		inArg = &inputs[0]
	}
	var shapeArg *C.int64_t
	if len(shape) > 0 {
		shapeArg = (*C.int64_t)(unsafe.Pointer(&shape[0]))
	}
	C.me_invoke_nd_kernel(
		unsafe.Pointer(entry),
		inArg,
		output,
		shapeArg,
		C.int64_t(ndim),
		C.int64_t(baseLinear),
		C.int64_t(nitems),
	)
}
