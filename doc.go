// Package elfcore implements the core of a runtime ELF loader and linker:
// parsing ELF images, mapping their loadable segments, resolving
// inter-library symbols, and applying architecture-specific relocations,
// with optional lazy PLT binding.
//
// The package has no required dependency on an operating-system runtime.
// Memory mapping and byte access are abstracted behind the Mmap and
// ObjectSource interfaces; callers on a hosted system typically supply the
// implementations in the sibling hostio package, while freestanding callers
// supply their own.
package elfcore
