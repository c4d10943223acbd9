//go:build !cgo

package elfcore

import "errors"

// resolverEntryAddr has no non-cgo implementation: safely letting
// hand-written machine code call back into the Go runtime needs cgo's
// generated callback glue. Lazy binding is unavailable in a non-cgo
// build; RelocateOptions.Lazy fails fast here instead of silently
// degrading to eager resolution.
func resolverEntryAddr() (uintptr, error) {
	return 0, errors.New("elfcore: lazy binding requires building with cgo enabled")
}
