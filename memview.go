package elfcore

import (
	"sync/atomic"
	"unsafe"
)

// memview.go provides the bounds-free primitive byte/word access used once
// an object's segments are actually mapped into this process's address
// space. It is the Go analogue of original_source/src/segment/mod.rs's
// ElfSegments::get_ptr/get_slice family: that code also works in terms of
// raw pointers derived from a mapped base, with bounds checking left to
// debug assertions in the reference implementation and to the caller here.
//
// This is unavoidably unsafe: a runtime ELF loader's entire job is to
// write into memory at addresses it computed from untrusted file data.
// Every call site is expected to have already validated the address lies
// within a segment this object owns.

func readByte(addr uintptr) byte {
	return *(*byte)(unsafe.Pointer(addr))
}

func writeByte(addr uintptr, v byte) {
	*(*byte)(unsafe.Pointer(addr)) = v
}

func readUint16(addr uintptr) uint16 {
	return *(*uint16)(unsafe.Pointer(addr))
}

func readUint32(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func writeUint32(addr uintptr, v uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = v
}

func readUint64(addr uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(addr))
}

func writeUint64(addr uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = v
}

// readWord/writeWord operate on a native-width (4 or 8 byte) word, used by
// the relocation engine so arch-generic code doesn't need to branch on
// WordSize at every call site.
func readWord(addr uintptr, wordSize uintptr) uint64 {
	if wordSize == 8 {
		return readUint64(addr)
	}
	return uint64(readUint32(addr))
}

func writeWord(addr uintptr, wordSize uintptr, v uint64) {
	if wordSize == 8 {
		writeUint64(addr, v)
		return
	}
	writeUint32(addr, uint32(v))
}

// memcpyAt copies n bytes from src to dst within mapped memory, used by
// copy relocations (R_*_COPY).
func memcpyAt(dst, src uintptr, n uintptr) {
	d := unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(n))
	s := unsafe.Slice((*byte)(unsafe.Pointer(src)), int(n))
	copy(d, s)
}

// releaseStoreUintptr performs the release-ordered GOT write described in
// spec section 4.6: readers rely on the CPU's natural coherence plus this
// store's ordering, same as the reference implementation's
// `AtomicUsize::store(.., Ordering::Release)` in dynamic_link.rs's
// dl_fixup.
func releaseStoreUintptr(addr uintptr, v uintptr) {
	p := (*uintptr)(unsafe.Pointer(addr))
	atomic.StoreUintptr(p, v)
}

func acquireLoadUintptr(addr uintptr) uintptr {
	p := (*uintptr)(unsafe.Pointer(addr))
	return atomic.LoadUintptr(p)
}
