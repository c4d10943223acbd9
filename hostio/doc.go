// Package hostio is the default, Linux-hosted implementation of
// elfcore's Mmap and ObjectSource capability interfaces. It is kept as a
// separate package from elfcore itself, the same way the teacher keeps
// its default memmod backend behind a thin reflektor facade: the core
// loader/linker never imports an OS mmap syscall directly, so it stays
// usable from freestanding or kernel callers that supply their own.
package hostio
