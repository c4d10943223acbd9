package elfcore

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

type testSliceSource struct{ b []byte }

func (s *testSliceSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.b)) {
		return 0, &ParseError{Kind: TruncatedTable, Field: "out of range"}
	}
	n := copy(p, s.b[off:])
	if n != len(p) {
		return n, &ParseError{Kind: TruncatedTable, Field: "short read"}
	}
	return n, nil
}

func (s *testSliceSource) AsSlice() []byte { return s.b }

// buildMinimalELF64 assembles a little-endian, 64-bit ET_DYN image with one
// PT_LOAD and one PT_DYNAMIC segment, and a small DT_SONAME/DT_STRSZ/DT_NULL
// dynamic table, entirely by hand (no toolchain involved).
func buildMinimalELF64(t *testing.T) []byte {
	t.Helper()
	const (
		ehdrLen = 64
		phdrLen = 56
		nPhdr   = 2
		dynLen  = 16 * 3 // DT_SONAME, DT_STRSZ, DT_NULL
	)
	phoff := int64(ehdrLen)
	dynOff := phoff + int64(nPhdr)*phdrLen

	buf := make([]byte, dynOff+dynLen)
	le := binary.LittleEndian

	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = byte(elfClass64)
	buf[5] = byte(elfData2LSB)
	buf[6] = 1 // EI_VERSION
	le.PutUint16(buf[16:18], uint16(elf.ET_DYN))
	le.PutUint16(buf[18:20], uint16(elf.EM_X86_64))
	le.PutUint32(buf[20:24], 1) // e_version
	le.PutUint64(buf[24:32], 0) // e_entry
	le.PutUint64(buf[32:40], uint64(phoff))
	le.PutUint16(buf[52:54], ehdrLen)
	le.PutUint16(buf[54:56], phdrLen)
	le.PutUint16(buf[56:58], nPhdr)

	putPhdr := func(i int, typ, flags uint32, off, vaddr, filesz, memsz, align uint64) {
		b := buf[phoff+int64(i)*phdrLen : phoff+int64(i+1)*phdrLen]
		le.PutUint32(b[0:4], typ)
		le.PutUint32(b[4:8], flags)
		le.PutUint64(b[8:16], off)
		le.PutUint64(b[16:24], vaddr)
		le.PutUint64(b[24:32], vaddr) // p_paddr, unused
		le.PutUint64(b[32:40], filesz)
		le.PutUint64(b[40:48], memsz)
		le.PutUint64(b[48:56], align)
	}
	putPhdr(0, ptLoad, 5 /* R|X */, 0, 0, uint64(len(buf)), uint64(len(buf)), 0x1000)
	putPhdr(1, ptDynamic, 6 /* R|W */, uint64(dynOff), uint64(dynOff), dynLen, dynLen, 8)

	putDyn := func(i int, tag int64, val uint64) {
		b := buf[dynOff+int64(i)*16 : dynOff+int64(i+1)*16]
		le.PutUint64(b[0:8], uint64(tag))
		le.PutUint64(b[8:16], val)
	}
	const dtSoname = 14
	const dtStrsz = 10
	putDyn(0, dtSoname, 0)
	putDyn(1, dtStrsz, 5)
	putDyn(2, dtNull, 0)

	return buf
}

// TestParseMatchesReferenceReader covers property P1: the parser's reported
// program headers agree with debug/elf's own (the "reference reader" in
// this Go-native setting) for the same image.
func TestParseMatchesReferenceReader(t *testing.T) {
	raw := buildMinimalELF64(t)

	img, err := Parse(&testSliceSource{b: raw}, "test.so")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ref, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("reference elf.NewFile: %v", err)
	}
	if len(img.Phdrs) != len(ref.Progs) {
		t.Fatalf("Phdrs count = %d, reference has %d", len(img.Phdrs), len(ref.Progs))
	}
	for i, p := range img.Phdrs {
		want := ref.Progs[i].ProgHeader
		if p.Type != uint32(want.Type) || p.Flags != uint32(want.Flags) ||
			p.Off != want.Off || p.Vaddr != want.Vaddr ||
			p.Filesz != want.Filesz || p.Memsz != want.Memsz {
			t.Errorf("Phdrs[%d] = %+v, reference = %+v", i, p, want)
		}
	}

	if !img.HasDynamic {
		t.Fatal("HasDynamic = false, want true")
	}
	wantDyn := []rawDyn{{Tag: 14, Val: 0}, {Tag: 10, Val: 5}}
	if len(img.DynEntries) != len(wantDyn) {
		t.Fatalf("DynEntries = %+v, want %+v", img.DynEntries, wantDyn)
	}
	for i, d := range img.DynEntries {
		if d != wantDyn[i] {
			t.Errorf("DynEntries[%d] = %+v, want %+v", i, d, wantDyn[i])
		}
	}
}
