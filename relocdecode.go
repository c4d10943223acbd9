package elfcore

// relocdecode.go turns a live (rebased) RELA or REL table into the
// arch-neutral RelocationEntry form from spec section 3. RELA carries its
// addend explicitly; REL's addend is implicit, read from the target
// memory location at apply time once `base` is known, so decodeRelTable
// marks each entry Implicit and leaves Addend at zero.

func decodeRelaTable(addr uintptr, size uint64, entSize uint64, is64 bool) []RelocationEntry {
	if entSize == 0 {
		entSize = 24
		if !is64 {
			entSize = 12
		}
	}
	n := int(size / entSize)
	out := make([]RelocationEntry, n)
	for i := 0; i < n; i++ {
		e := addr + uintptr(i)*uintptr(entSize)
		if is64 {
			off := readUint64(e)
			info := readUint64(e + 8)
			addend := int64(readUint64(e + 16))
			out[i] = RelocationEntry{
				Offset: uintptr(off),
				Kind:   uint32(info & 0xffffffff),
				Symbol: uint32(info >> 32),
				Addend: addend,
			}
		} else {
			off := readUint32(e)
			info := readUint32(e + 4)
			addend := int64(int32(readUint32(e + 8)))
			out[i] = RelocationEntry{
				Offset: uintptr(off),
				Kind:   info & 0xff,
				Symbol: info >> 8,
				Addend: addend,
			}
		}
	}
	return out
}

func decodeRelTable(addr uintptr, size uint64, entSize uint64, is64 bool) []RelocationEntry {
	if entSize == 0 {
		entSize = 16
		if !is64 {
			entSize = 8
		}
	}
	n := int(size / entSize)
	out := make([]RelocationEntry, n)
	for i := 0; i < n; i++ {
		e := addr + uintptr(i)*uintptr(entSize)
		if is64 {
			off := readUint64(e)
			info := readUint64(e + 8)
			out[i] = RelocationEntry{
				Offset:   uintptr(off),
				Kind:     uint32(info & 0xffffffff),
				Symbol:   uint32(info >> 32),
				Implicit: true,
			}
		} else {
			off := readUint32(e)
			info := readUint32(e + 4)
			out[i] = RelocationEntry{
				Offset:   uintptr(off),
				Kind:     info & 0xff,
				Symbol:   info >> 8,
				Implicit: true,
			}
		}
	}
	return out
}
