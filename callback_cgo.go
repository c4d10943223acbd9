//go:build cgo

package elfcore

/*
#include <stdint.h>

extern uintptr_t elfcoreTrampolineResolve(uintptr_t moduleID, uintptr_t slot);

static uintptr_t elfcore_resolver_entry_addr(void) {
	return (uintptr_t)elfcoreTrampolineResolve;
}
*/
import "C"

// resolverEntryAddr returns the address lazy-binding stubs should call
// into: a cgo-exported Go function, so the runtime's own cgocallback path
// does the hard part of letting hand-written machine code re-enter Go
// safely (setting up g/m/p) instead of this package reimplementing it.
func resolverEntryAddr() (uintptr, error) {
	return uintptr(C.elfcore_resolver_entry_addr()), nil
}

//export elfcoreTrampolineResolve
func elfcoreTrampolineResolve(moduleID, slot C.uintptr_t) C.uintptr_t {
	obj := lookupByModuleID(uint64(moduleID))
	if obj == nil {
		panic("elfcore: lazy-binding callback for unknown module id")
	}
	addr, err := obj.resolveLazySlot(int(slot))
	if err != nil {
		// Runtime (lazy-path) failure per spec section 7: the caller has
		// already jumped into the trampoline, so there is no return path
		// for an error value. A RelocationHook only ever sees successfully
		// resolved addresses and is not told of this failure; a lazy
		// failure here is fatal.
		panic(err)
	}
	return C.uintptr_t(addr)
}
