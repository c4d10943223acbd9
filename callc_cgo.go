//go:build cgo

package elfcore

/*
#include <stdint.h>

typedef uintptr_t (*elfcore_fn0)(void);

static uintptr_t elfcore_call0(uintptr_t fn) {
	return ((elfcore_fn0)fn)();
}
*/
import "C"

// callC0 mirrors the teacher's memmod_linux_call_cgo.go fallback: when cgo
// is available, a tiny C trampoline does the indirect call instead of
// hand-written assembly.
func callC0(fn uintptr) uintptr {
	return uintptr(C.elfcore_call0(C.uintptr_t(fn)))
}
