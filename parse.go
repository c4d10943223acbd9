package elfcore

import (
	"debug/elf"
	"encoding/binary"
)

// Parse validates and decodes the ELF header, program header table, and
// (for non-relocatable forms) the raw PT_DYNAMIC entries, producing an
// ElfImage. It never maps anything and never rebases an address; that is
// the loader's job (C5), following original_source/src/dynamic.rs's split
// between raw-entry parsing and live-pointer derivation after mapping.
//
// Field layout follows sad0p-go-readelf/types.go's struct-offset reading
// style rather than debug/elf's own Ehdr type, because this parser needs
// direct access to e_phoff/e_phnum/PT_DYNAMIC raw entries at a granularity
// debug/elf's high-level File type does not expose.
func Parse(src ObjectSource, name string) (*ElfImage, error) {
	ident := make([]byte, 16)
	if _, err := readFull(src, ident, 0); err != nil {
		return nil, &ParseError{Object: name, Kind: MalformedHeader, Field: "e_ident", Err: err}
	}
	if ident[0] != 0x7f || ident[1] != 'E' || ident[2] != 'L' || ident[3] != 'F' {
		return nil, &ParseError{Object: name, Kind: MalformedHeader, Field: "magic"}
	}

	class := int(ident[eiClass])
	if class != elfClass32 && class != elfClass64 {
		return nil, &ParseError{Object: name, Kind: UnsupportedClass, Field: "EI_CLASS"}
	}
	dataEnc := int(ident[eiData])
	var order binary.ByteOrder
	var ob byteOrderKind
	switch dataEnc {
	case elfData2LSB:
		order, ob = binary.LittleEndian, orderLSB
	case elfData2MSB:
		order, ob = binary.BigEndian, orderMSB
	default:
		return nil, &ParseError{Object: name, Kind: UnsupportedEndian, Field: "EI_DATA"}
	}

	is64 := class == elfClass64
	ehdrSize := ehdrSize32
	if is64 {
		ehdrSize = ehdrSize64
	}
	hdr := make([]byte, ehdrSize)
	if _, err := readFull(src, hdr, 0); err != nil {
		return nil, &ParseError{Object: name, Kind: TruncatedTable, Field: "ehdr", Err: err}
	}

	img := &ElfImage{
		Source: src,
		Name:   name,
		Class:  class,
		Data:   dataEnc,
		Order:  ob,
	}

	img.Type = elf.Type(order.Uint16(hdr[16:18]))
	img.Machine = elf.Machine(order.Uint16(hdr[18:20]))

	arch, err := archForMachine(img.Machine)
	if err != nil {
		return nil, &ParseError{Object: name, Kind: UnsupportedMachine, Field: img.Machine.String()}
	}
	img.Arch = arch

	if is64 {
		img.Entry = order.Uint64(hdr[24:32])
		img.PhOff = order.Uint64(hdr[32:40])
		img.PhEntSize = uint64(order.Uint16(hdr[54:56]))
		img.PhNum = uint64(order.Uint16(hdr[56:58]))
	} else {
		img.Entry = uint64(order.Uint32(hdr[24:28]))
		img.PhOff = uint64(order.Uint32(hdr[28:32]))
		img.PhEntSize = uint64(order.Uint16(hdr[42:44]))
		img.PhNum = uint64(order.Uint16(hdr[44:46]))
	}

	if img.PhNum > 0 {
		phdrs, err := parsePhdrs(src, img, order, is64)
		if err != nil {
			return nil, err
		}
		img.Phdrs = phdrs
	}

	for _, ph := range img.Phdrs {
		if ph.Type == ptDynamic {
			img.HasDynamic = true
			img.DynOff = ph.Off
			img.DynSize = ph.Filesz
			break
		}
	}

	if img.HasDynamic {
		entries, err := parseRawDyn(src, img, order, is64)
		if err != nil {
			return nil, err
		}
		img.DynEntries = entries
	} else if img.Type == elf.ET_DYN {
		return nil, &ParseError{Object: name, Kind: MissingDynamic}
	}

	return img, nil
}

func parsePhdrs(src ObjectSource, img *ElfImage, order binary.ByteOrder, is64 bool) ([]Phdr, error) {
	entSize := phdrSize32
	if is64 {
		entSize = phdrSize64
	}
	if img.PhEntSize != 0 && int(img.PhEntSize) != entSize {
		return nil, &ParseError{Object: img.Name, Kind: MalformedHeader, Field: "e_phentsize"}
	}
	buf := make([]byte, entSize*int(img.PhNum))
	if _, err := readFull(src, buf, int64(img.PhOff)); err != nil {
		return nil, &ParseError{Object: img.Name, Kind: TruncatedTable, Field: "phdrs", Err: err}
	}

	phdrs := make([]Phdr, img.PhNum)
	for i := range phdrs {
		b := buf[i*entSize : (i+1)*entSize]
		var p Phdr
		if is64 {
			p.Type = order.Uint32(b[0:4])
			p.Flags = order.Uint32(b[4:8])
			p.Off = order.Uint64(b[8:16])
			p.Vaddr = order.Uint64(b[16:24])
			p.Paddr = order.Uint64(b[24:32])
			p.Filesz = order.Uint64(b[32:40])
			p.Memsz = order.Uint64(b[40:48])
			p.Align = order.Uint64(b[48:56])
		} else {
			p.Type = order.Uint32(b[0:4])
			p.Off = uint64(order.Uint32(b[4:8]))
			p.Vaddr = uint64(order.Uint32(b[8:12]))
			p.Paddr = uint64(order.Uint32(b[12:16]))
			p.Filesz = uint64(order.Uint32(b[16:20]))
			p.Memsz = uint64(order.Uint32(b[20:24]))
			p.Flags = order.Uint32(b[24:28])
			p.Align = uint64(order.Uint32(b[28:32]))
		}
		phdrs[i] = p
	}
	return phdrs, nil
}

func parseRawDyn(src ObjectSource, img *ElfImage, order binary.ByteOrder, is64 bool) ([]rawDyn, error) {
	entSize := dynEntSize32
	if is64 {
		entSize = dynEntSize64
	}
	if img.DynSize == 0 || img.DynSize%uint64(entSize) != 0 {
		return nil, &ParseError{Object: img.Name, Kind: InvalidDynamicEntry, Field: "PT_DYNAMIC size"}
	}
	count := int(img.DynSize) / entSize
	buf := make([]byte, int(img.DynSize))
	if _, err := readFull(src, buf, int64(img.DynOff)); err != nil {
		return nil, &ParseError{Object: img.Name, Kind: TruncatedTable, Field: "PT_DYNAMIC", Err: err}
	}

	entries := make([]rawDyn, 0, count)
	for i := 0; i < count; i++ {
		b := buf[i*entSize : (i+1)*entSize]
		var d rawDyn
		if is64 {
			d.Tag = int64(order.Uint64(b[0:8]))
			d.Val = order.Uint64(b[8:16])
		} else {
			d.Tag = int64(int32(order.Uint32(b[0:4])))
			d.Val = uint64(order.Uint32(b[4:8]))
		}
		if d.Tag == dtNull {
			break
		}
		entries = append(entries, d)
	}
	return entries, nil
}

// readFull reads exactly len(p) bytes at off from src, copying straight
// out of AsSlice when src provides it instead of calling ReadAt.
func readFull(src ObjectSource, p []byte, off int64) (int, error) {
	if ss, ok := src.(SliceSource); ok {
		s := ss.AsSlice()
		if off < 0 || off > int64(len(s)) {
			return 0, &ParseError{Kind: TruncatedTable, Field: "out of range"}
		}
		n := copy(p, s[off:])
		if n != len(p) {
			return n, &ParseError{Kind: TruncatedTable, Field: "short read"}
		}
		return n, nil
	}
	return src.ReadAt(p, off)
}
