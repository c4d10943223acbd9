package elfcore

import (
	"errors"
	"fmt"
)

// ErrLibraryClosed is returned by operations on a LoadedObject or Library
// whose resources have already been released.
var ErrLibraryClosed = errors.New("elfcore: library is closed")

// ParseErrorKind enumerates the failure conditions the raw parser (C2) can
// report, matching spec section 4.1.
type ParseErrorKind int

const (
	MalformedHeader ParseErrorKind = iota
	UnsupportedClass
	UnsupportedMachine
	UnsupportedEndian
	TruncatedTable
	MissingDynamic
	InvalidDynamicEntry
)

func (k ParseErrorKind) String() string {
	switch k {
	case MalformedHeader:
		return "malformed header"
	case UnsupportedClass:
		return "unsupported class"
	case UnsupportedMachine:
		return "unsupported machine"
	case UnsupportedEndian:
		return "unsupported endian"
	case TruncatedTable:
		return "truncated table"
	case MissingDynamic:
		return "missing dynamic section"
	case InvalidDynamicEntry:
		return "invalid dynamic entry"
	default:
		return "unknown parse error"
	}
}

// ParseError reports a failure while parsing an ELF image (C2).
type ParseError struct {
	Object string
	Kind   ParseErrorKind
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("elfcore: parse %s: %s (%s)", e.Object, e.Kind, e.Field)
	}
	return fmt.Sprintf("elfcore: parse %s: %s", e.Object, e.Kind)
}

func (e *ParseError) Unwrap() error { return e.Err }

// MapErrorKind enumerates the failure conditions the loader's mapping step
// (C5) can report, matching spec section 4.2.
type MapErrorKind int

const (
	MapFailed MapErrorKind = iota
	AddressSpaceConflict
	IncompatibleAlignment
	DynamicTableMissingField
)

func (k MapErrorKind) String() string {
	switch k {
	case MapFailed:
		return "map failed"
	case AddressSpaceConflict:
		return "address space conflict"
	case IncompatibleAlignment:
		return "incompatible alignment"
	case DynamicTableMissingField:
		return "dynamic table missing field"
	default:
		return "unknown map error"
	}
}

// MapError reports a failure while mapping or laying out an ELF image (C5).
type MapError struct {
	Object string
	Kind   MapErrorKind
	Tag    string // dynamic-entry tag name, when Kind == DynamicTableMissingField
	Err    error
}

func (e *MapError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("elfcore: map %s: %s (%s)", e.Object, e.Kind, e.Tag)
	}
	return fmt.Sprintf("elfcore: map %s: %s", e.Object, e.Kind)
}

func (e *MapError) Unwrap() error { return e.Err }

// LinkErrorKind enumerates the failure conditions the resolver and
// relocation engine (C7, C8, C10) can report, matching spec section 7.
type LinkErrorKind int

const (
	UnresolvedSymbol LinkErrorKind = iota
	UnknownRelocationKind
	RelocationOutOfRange
	CopyRelocationSizeMismatch
	CircularDependency
)

func (k LinkErrorKind) String() string {
	switch k {
	case UnresolvedSymbol:
		return "unresolved symbol"
	case UnknownRelocationKind:
		return "unknown relocation kind"
	case RelocationOutOfRange:
		return "relocation out of range"
	case CopyRelocationSizeMismatch:
		return "copy relocation size mismatch"
	case CircularDependency:
		return "circular dependency"
	default:
		return "unknown link error"
	}
}

// LinkError reports a failure while resolving symbols or applying
// relocations.
type LinkError struct {
	Object    string
	Kind      LinkErrorKind
	Symbol    string
	RelocKind uint32
	Err       error
}

func (e *LinkError) Error() string {
	switch {
	case e.Symbol != "":
		return fmt.Sprintf("elfcore: link %s: %s (symbol %q)", e.Object, e.Kind, e.Symbol)
	case e.Kind == UnknownRelocationKind:
		return fmt.Sprintf("elfcore: link %s: %s (kind %d)", e.Object, e.Kind, e.RelocKind)
	default:
		return fmt.Sprintf("elfcore: link %s: %s", e.Object, e.Kind)
	}
}

func (e *LinkError) Unwrap() error { return e.Err }

// VersionError reports a failure matching a required symbol version
// against the versions an object defines (spec section 7, "Version").
type VersionError struct {
	Object  string
	Symbol  string
	Version string
	Err     error
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("elfcore: version %s: symbol %q requires version %q which the object does not provide", e.Object, e.Symbol, e.Version)
}

func (e *VersionError) Unwrap() error { return e.Err }
