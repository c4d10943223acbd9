//go:build !cgo && (386 || amd64 || arm64)

package elfcore

// callC0 invokes the zero-argument C-ABI function at fn and returns its
// result, via a small per-arch assembly stub (callc_amd64.s,
// callc_386.s, callc_arm64.s). This is the primitive the relocation
// engine needs for IRELATIVE dispatch (spec section 4.5: "call the
// function at B+A") and that RunInit, RunFini and Library.CallExport use
// to call init/fini functions and exports; it follows the same
// declaration-plus-assembly-backend split as the teacher's
// memmod_linux_call.go cCall0/cCall1/cCall2/cCall3 family, narrowed to the
// single zero-argument shape this package actually needs.
//
//go:noescape
func callC0(fn uintptr) uintptr
