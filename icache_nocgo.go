//go:build !cgo

package elfcore

// clearInstructionCacheRange has no non-cgo implementation; a non-cgo build
// can still relocate eagerly (everything but lazy binding works without
// cgo), it just can't guarantee a stale icache line is invalidated on
// architectures that require an explicit flush. x86/x86_64 don't need one
// (flushInstructionCache in reloc.go never calls this path there), so the
// practical effect is limited to arm64 self-modifying-adjacent code paths.
func clearInstructionCacheRange(start uintptr, size uintptr) {}
