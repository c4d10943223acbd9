//go:build cgo

package elfcore

/*
void elfcore_clear_cache(void *start, void *end) {
	__builtin___clear_cache(start, end);
}
*/
import "C"
import "unsafe"

// clearInstructionCacheRange invalidates [start, start+size) in the
// instruction cache, via the same compiler builtin the teacher's cgo
// trampolines already pull in (callc_cgo.go's use of cgo for anything that
// needs to reach actual C/compiler-builtin behavior instead of a hand-rolled
// Go equivalent).
func clearInstructionCacheRange(start uintptr, size uintptr) {
	s := unsafe.Pointer(start)
	e := unsafe.Pointer(start + size)
	C.elfcore_clear_cache(s, e)
}
