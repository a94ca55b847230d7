package jitcache

import "unsafe"

// RunKernelFlat invokes a compiled flat (non-ND) kernel entry over nitems
// contiguous elements. It is the counterpart to RunKernelND for
// VectorPlan-shaped kernels, where there is no shape/stride unraveling to
// do — inputs/output already point at element 0 and the kernel's own
// `for (_k = 0; _k < nitems; _k++)` loop walks them linearly.
func RunKernelFlat(entry uintptr, inputs []unsafe.Pointer, output unsafe.Pointer, nitems int64) {
	invokeFlatKernel(entry, inputs, output, nitems)
}
