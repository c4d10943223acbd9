package elfcore

import (
	"debug/elf"
	"encoding/binary"
	"testing"
	"unsafe"
)

// fakeMmap backs Reserve/MapFile/MapAnon/Protect/Unmap with plain Go byte
// slices instead of real OS mappings, so loader.go/reloc.go's logic can be
// exercised without requiring page permissions this test process can't
// grant itself for a heap slice. It is not executable memory: tests built
// on it verify addresses and relocated values, not that mapped code can
// actually run (that end-to-end path is exercised through the real
// hostio.LinuxMmap backend instead, see hostio's own package doc).
type fakeMmap struct {
	arenas  [][]byte // retained so the GC never reclaims memory test code addresses via uintptr
	// protect records every protection applied, in order: the one each
	// MapFile/MapAnon call maps with, then each later Protect call.
	protect []protectCall

	// reserveAddrs records every atAddr Reserve was called with, in order,
	// so tests can check LoadDylib requests a fixed address for ET_EXEC
	// inputs. A plain Go heap allocation can't actually be placed at an
	// arbitrary caller-chosen address, so unlike a real Mmap this fake
	// never honors atAddr — it only remembers what was asked for.
	reserveAddrs []uintptr
}

type protectCall struct {
	addr   uintptr
	length uintptr
	prot   Prot
}

func (m *fakeMmap) Reserve(size uintptr, atAddr uintptr) (Region, error) {
	m.reserveAddrs = append(m.reserveAddrs, atAddr)
	buf := make([]byte, size)
	m.arenas = append(m.arenas, buf)
	return Region{Addr: uintptr(unsafe.Pointer(&buf[0])), Size: size}, nil
}

func (m *fakeMmap) MapFile(r Region, regionOffset, length uintptr, src ObjectSource, fileOffset int64, prot Prot) error {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(r.Addr+regionOffset)), int(length))
	n, err := src.ReadAt(dst, fileOffset)
	if err != nil && n == 0 {
		return err
	}
	m.protect = append(m.protect, protectCall{r.Addr + regionOffset, length, prot})
	return nil
}

func (m *fakeMmap) MapAnon(r Region, regionOffset, length uintptr, prot Prot) error {
	m.protect = append(m.protect, protectCall{r.Addr + regionOffset, length, prot})
	dst := unsafe.Slice((*byte)(unsafe.Pointer(r.Addr+regionOffset)), int(length))
	for i := range dst {
		dst[i] = 0
	}
	return nil
}

func (m *fakeMmap) Protect(addr, length uintptr, prot Prot) error {
	m.protect = append(m.protect, protectCall{addr, length, prot})
	return nil
}

func (m *fakeMmap) Unmap(r Region) error { return nil }

type testDynSym struct {
	name  string
	value uint64
	bind  byte
	typ   byte
	shndx uint16
}

type testRela struct {
	offset uint64
	symIdx uint32
	kind   uint32
	addend int64
}

// buildDynLib assembles a minimal ET_DYN ELF64/x86_64 image: one PT_LOAD
// covering the whole file, a PT_DYNAMIC segment with a SysV hash table
// (same layout hash_test.go's buildSysVSymbolIndex builds, now embedded in
// an actual file image instead of a bare memory buffer), and an optional
// DT_RELA table.
func buildDynLib(t *testing.T, syms []testDynSym, relas []testRela) []byte {
	t.Helper()
	le := binary.LittleEndian

	var buf []byte
	put := func(b []byte) int64 {
		off := int64(len(buf))
		buf = append(buf, b...)
		return off
	}
	// ehdr
	ehdr := make([]byte, 64)
	copy(ehdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	ehdr[4] = byte(elfClass64)
	ehdr[5] = byte(elfData2LSB)
	ehdr[6] = 1
	le.PutUint16(ehdr[16:18], uint16(elf.ET_DYN))
	le.PutUint16(ehdr[18:20], uint16(elf.EM_X86_64))
	le.PutUint32(ehdr[20:24], 1)
	le.PutUint64(ehdr[32:40], 64) // e_phoff: the phdr table immediately follows ehdr
	le.PutUint16(ehdr[52:54], 64)
	le.PutUint16(ehdr[54:56], 56)
	le.PutUint16(ehdr[56:58], 2)
	put(ehdr)

	phdrOff := put(make([]byte, 56*2))

	// dynstr: index 0 is always "", then one entry per symbol name.
	dynstr := []byte{0}
	nameOff := map[string]uint32{}
	for _, s := range syms {
		if _, ok := nameOff[s.name]; !ok && s.name != "" {
			nameOff[s.name] = uint32(len(dynstr))
			dynstr = append(dynstr, append([]byte(s.name), 0)...)
		}
	}

	// dynsym: a leading null symbol plus one entry per requested symbol.
	const symEnt = 24
	dynsym := make([]byte, symEnt*(len(syms)+1))
	for i, s := range syms {
		b := dynsym[(i+1)*symEnt : (i+2)*symEnt]
		var no uint32
		if s.name != "" {
			no = nameOff[s.name]
		}
		le.PutUint32(b[0:4], no)
		b[4] = s.bind<<4 | s.typ
		le.PutUint16(b[6:8], s.shndx)
		le.PutUint64(b[8:16], s.value)
	}

	// SysV .hash: one bucket per symbol for simplicity, each its own chain
	// of length 1 (this helper never builds two same-named symbols).
	nsym := uint32(len(syms) + 1)
	nbucket := nsym
	hash := make([]byte, 8+4*int(nbucket)+4*int(nsym))
	le.PutUint32(hash[0:4], nbucket)
	le.PutUint32(hash[4:8], nsym)
	bucketBase := 8
	chainBase := bucketBase + 4*int(nbucket)
	for i, s := range syms {
		symIdx := uint32(i + 1)
		h := sysvHashHash(s.name)
		le.PutUint32(hash[bucketBase+int(h%nbucket)*4:], symIdx)
		le.PutUint32(hash[chainBase+int(symIdx)*4:], 0)
	}

	relaEntSize := 24
	rela := make([]byte, relaEntSize*len(relas))
	for i, r := range relas {
		b := rela[i*relaEntSize : (i+1)*relaEntSize]
		le.PutUint64(b[0:8], r.offset)
		info := uint64(r.symIdx)<<32 | uint64(r.kind)
		le.PutUint64(b[8:16], info)
		le.PutUint64(b[16:24], uint64(r.addend))
	}

	hashOff := put(hash)
	strOff := put(dynstr)
	symOff := put(dynsym)
	var relaOff int64
	if len(relas) > 0 {
		relaOff = put(rela)
	}

	type dynTag struct {
		tag int64
		val uint64
	}
	tags := []dynTag{
		{dtHash, uint64(hashOff)},
		{dtStrTab, uint64(strOff)},
		{dtSymTab, uint64(symOff)},
		{dtStrSz, uint64(len(dynstr))},
		{dtSymEnt, symEnt},
	}
	if len(relas) > 0 {
		tags = append(tags,
			dynTag{dtRela, uint64(relaOff)},
			dynTag{dtRelaSz, uint64(len(rela))},
			dynTag{dtRelaEnt, uint64(relaEntSize)},
		)
	}
	tags = append(tags, dynTag{dtNull, 0})

	dynOff := int64(len(buf))
	for _, tg := range tags {
		b := make([]byte, 16)
		le.PutUint64(b[0:8], uint64(tg.tag))
		le.PutUint64(b[8:16], tg.val)
		put(b)
	}
	dynSize := int64(len(buf)) - dynOff

	// Patch in the program headers now that the total file length (and
	// therefore PT_LOAD's filesz/memsz) is known.
	total := uint64(len(buf))
	putPhdr := func(i int, typ, flags uint32, off, vaddr, filesz, memsz, align uint64) {
		b := buf[phdrOff+int64(i)*56 : phdrOff+int64(i+1)*56]
		le.PutUint32(b[0:4], typ)
		le.PutUint32(b[4:8], flags)
		le.PutUint64(b[8:16], off)
		le.PutUint64(b[16:24], vaddr)
		le.PutUint64(b[24:32], vaddr)
		le.PutUint64(b[32:40], filesz)
		le.PutUint64(b[40:48], memsz)
		le.PutUint64(b[48:56], align)
	}
	putPhdr(0, ptLoad, 6, 0, 0, total, total, 0x1000)
	putPhdr(1, ptDynamic, 6, uint64(dynOff), uint64(dynOff), uint64(dynSize), uint64(dynSize), 8)

	return buf
}

// TestLoadDylibAndGet covers properties P2 and P3: after Relocate, Get
// returns a stable address inside the object's load span, and the final
// page protection recorded for the PT_LOAD segment matches its p_flags. The
// segment here is R|W, so Relocate leaves it at the protection it was
// mapped with rather than calling Protect.
func TestLoadDylibAndGet(t *testing.T) {
	raw := buildDynLib(t, []testDynSym{
		{name: "a", value: 0x40, bind: stbGlobal, typ: sttFunc, shndx: 1},
	}, nil)

	mm := &fakeMmap{}
	obj, err := LoadDylib(&testSliceSource{b: raw}, mm, LoadOptions{Name: "liba.so"})
	if err != nil {
		t.Fatalf("LoadDylib: %v", err)
	}
	if err := Relocate(obj, nil, nil, RelocateOptions{}); err != nil {
		t.Fatalf("Relocate: %v", err)
	}

	addr1, ok := Get(obj, "a")
	if !ok {
		t.Fatal("Get(a) not found")
	}
	addr2, ok := Get(obj, "a")
	if !ok || addr2 != addr1 {
		t.Fatalf("Get(a) not stable: %#x then %#x", addr1, addr2)
	}
	span := obj.LoadSpan()
	if addr1 < span.Addr || addr1 >= span.Addr+span.Size {
		t.Fatalf("Get(a) = %#x, outside load span [%#x, %#x)", addr1, span.Addr, span.Addr+span.Size)
	}
	if want := obj.Base() + 0x40; addr1 != want {
		t.Fatalf("Get(a) = %#x, want %#x", addr1, want)
	}

	found := false
	for _, c := range mm.protect {
		if c.prot == ProtForFlags(6) {
			found = true
		}
	}
	if !found {
		t.Fatalf("no recorded protection matched PT_LOAD's p_flags; recorded: %+v", mm.protect)
	}
}

// TestRelocateAgainstScope covers scenario S2's relocation half: an
// external GLOB_DAT reference in one object resolves, at Relocate time,
// to the definition in a second object supplied via the scope frame.
func TestRelocateAgainstScope(t *testing.T) {
	rawA := buildDynLib(t, []testDynSym{
		{name: "a", value: 0x40, bind: stbGlobal, typ: sttFunc, shndx: 1},
	}, nil)
	liba, err := LoadDylib(&testSliceSource{b: rawA}, &fakeMmap{}, LoadOptions{Name: "liba.so"})
	if err != nil {
		t.Fatalf("LoadDylib(liba): %v", err)
	}
	if err := Relocate(liba, nil, nil, RelocateOptions{}); err != nil {
		t.Fatalf("Relocate(liba): %v", err)
	}

	const gotOffset = 0x100
	rawB := buildDynLib(t,
		[]testDynSym{{name: "a", value: 0, bind: stbGlobal, typ: sttFunc, shndx: 0}},
		[]testRela{{offset: gotOffset, symIdx: 1, kind: archTable[MachineX86_64].RelGlobDat, addend: 0}},
	)
	libb, err := LoadDylib(&testSliceSource{b: rawB}, &fakeMmap{}, LoadOptions{Name: "libb.so"})
	if err != nil {
		t.Fatalf("LoadDylib(libb): %v", err)
	}
	if err := Relocate(libb, ScopeFrame{liba}, nil, RelocateOptions{}); err != nil {
		t.Fatalf("Relocate(libb): %v", err)
	}

	got := readUint64(libb.Base() + gotOffset)
	want := uint64(liba.Base() + 0x40)
	if got != want {
		t.Fatalf("GOT slot = %#x, want %#x (liba's address for a)", got, want)
	}
}

// buildExecELF64 assembles a minimal ET_EXEC image: one PT_LOAD at a
// non-zero vaddr and no PT_DYNAMIC, the shape of a non-PIE executable with
// no dynamic linking needs.
func buildExecELF64(t *testing.T, vaddr uint64) []byte {
	t.Helper()
	le := binary.LittleEndian
	const ehdrLen, phdrLen = 64, 56

	buf := make([]byte, ehdrLen+phdrLen)
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = byte(elfClass64)
	buf[5] = byte(elfData2LSB)
	buf[6] = 1
	le.PutUint16(buf[16:18], uint16(elf.ET_EXEC))
	le.PutUint16(buf[18:20], uint16(elf.EM_X86_64))
	le.PutUint32(buf[20:24], 1)
	le.PutUint64(buf[32:40], ehdrLen)
	le.PutUint16(buf[52:54], ehdrLen)
	le.PutUint16(buf[54:56], phdrLen)
	le.PutUint16(buf[56:58], 1)

	p := buf[ehdrLen:]
	le.PutUint32(p[0:4], ptLoad)
	le.PutUint32(p[4:8], 5) // R|X
	le.PutUint64(p[8:16], 0)
	le.PutUint64(p[16:24], vaddr)
	le.PutUint64(p[24:32], vaddr)
	le.PutUint64(p[32:40], uint64(len(buf)))
	le.PutUint64(p[40:48], uint64(len(buf)))
	le.PutUint64(p[48:56], 0x1000)

	return buf
}

// TestLoadDylibRequestsFixedAddressForETExec covers spec section 4.2 step
// 2's fixed-load case: an ET_EXEC input must request its own encoded vaddr
// as the load address instead of letting Reserve place it anywhere, and an
// explicit LoadOptions.FixedBase overrides that request.
func TestLoadDylibRequestsFixedAddressForETExec(t *testing.T) {
	const vaddr = 0x400000
	raw := buildExecELF64(t, vaddr)

	mm := &fakeMmap{}
	if _, err := LoadDylib(&testSliceSource{b: raw}, mm, LoadOptions{Name: "a.out"}); err != nil {
		t.Fatalf("LoadDylib: %v", err)
	}
	if len(mm.reserveAddrs) != 1 || mm.reserveAddrs[0] != vaddr {
		t.Fatalf("Reserve requested atAddr = %v, want [%#x]", mm.reserveAddrs, uintptr(vaddr))
	}

	const override = 0x500000
	mm2 := &fakeMmap{}
	if _, err := LoadDylib(&testSliceSource{b: raw}, mm2, LoadOptions{Name: "a.out", FixedBase: override}); err != nil {
		t.Fatalf("LoadDylib with FixedBase: %v", err)
	}
	if len(mm2.reserveAddrs) != 1 || mm2.reserveAddrs[0] != override {
		t.Fatalf("Reserve requested atAddr = %v, want [%#x] (FixedBase override)", mm2.reserveAddrs, uintptr(override))
	}
}
