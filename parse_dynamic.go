package elfcore

// dynamicInfo is the rebased, live form of PT_DYNAMIC: every pointer field
// has already had `base` added, following original_source/src/dynamic.rs's
// ElfDynamic (constructed once, after mapping, from the raw tag/value pairs
// the parser extracted). Sizes and counts remain in their raw units.
type dynamicInfo struct {
	symtab uintptr
	strtab uintptr
	strsz  uint64

	hashtab   uintptr
	gnuHash   uintptr

	pltgot uintptr

	relaAddr  uintptr
	relaSize  uint64
	relaEnt   uint64
	relAddr   uintptr
	relSize   uint64
	relEnt    uint64
	relCount  uint64

	relrAddr uintptr
	relrSize uint64
	relrEnt  uint64

	jmprelAddr uintptr
	pltRelSize uint64
	pltRelKind int64 // dtRela or dtRel

	initFn    uintptr
	finiFn    uintptr
	initArray uintptr
	initArraySz uint64
	finiArray uintptr
	finiArraySz uint64

	neededOffsets []uint64
	sonameOffset  int64 // -1 if absent

	versym     uintptr
	verdef     uintptr
	verdefNum  uint32
	verneed    uintptr
	verneedNum uint32

	flags  uint32
	flags1 uint32

	rpathOffset   int64
	runpathOffset int64
}

// resolveDynamic rebases img's raw dynamic entries against a live base
// address, mirroring ElfDynamic::new's switch over d_tag.
func resolveDynamic(img *ElfImage, base uintptr) (*dynamicInfo, error) {
	d := &dynamicInfo{sonameOffset: -1, rpathOffset: -1, runpathOffset: -1}
	var haveSymtab, haveStrtab, haveStrsz bool

	for _, e := range img.DynEntries {
		switch e.Tag {
		case dtSymTab:
			d.symtab = base + uintptr(e.Val)
			haveSymtab = true
		case dtStrTab:
			d.strtab = base + uintptr(e.Val)
			haveStrtab = true
		case dtStrSz:
			d.strsz = e.Val
			haveStrsz = true
		case dtHash:
			d.hashtab = base + uintptr(e.Val)
		case dtGNUHash:
			d.gnuHash = base + uintptr(e.Val)
		case dtPltGot:
			d.pltgot = base + uintptr(e.Val)
		case dtRela:
			d.relaAddr = base + uintptr(e.Val)
		case dtRelaSz:
			d.relaSize = e.Val
		case dtRelaEnt:
			d.relaEnt = e.Val
		case dtRel:
			d.relAddr = base + uintptr(e.Val)
		case dtRelSz:
			d.relSize = e.Val
		case dtRelEnt:
			d.relEnt = e.Val
		case dtRelaCount:
			d.relCount = e.Val
		case dtRelCount:
			d.relCount = e.Val
		case dtRelr:
			d.relrAddr = base + uintptr(e.Val)
		case dtRelrSz:
			d.relrSize = e.Val
		case dtRelrEnt:
			d.relrEnt = e.Val
		case dtJmpRel:
			d.jmprelAddr = base + uintptr(e.Val)
		case dtPltRelSz:
			d.pltRelSize = e.Val
		case dtPltRel:
			d.pltRelKind = int64(e.Val)
		case dtInit:
			d.initFn = base + uintptr(e.Val)
		case dtFini:
			d.finiFn = base + uintptr(e.Val)
		case dtInitArray:
			d.initArray = base + uintptr(e.Val)
		case dtInitArraySz:
			d.initArraySz = e.Val
		case dtFiniArray:
			d.finiArray = base + uintptr(e.Val)
		case dtFiniArraySz:
			d.finiArraySz = e.Val
		case dtNeeded:
			d.neededOffsets = append(d.neededOffsets, e.Val)
		case dtSoname:
			d.sonameOffset = int64(e.Val)
		case dtRpath:
			d.rpathOffset = int64(e.Val)
		case dtRunpath:
			d.runpathOffset = int64(e.Val)
		case dtVersym:
			d.versym = base + uintptr(e.Val)
		case dtVerdef:
			d.verdef = base + uintptr(e.Val)
		case dtVerdefNum:
			d.verdefNum = uint32(e.Val)
		case dtVerneed:
			d.verneed = base + uintptr(e.Val)
		case dtVerneedNum:
			d.verneedNum = uint32(e.Val)
		case dtFlags:
			d.flags = uint32(e.Val)
		case dtFlags1:
			d.flags1 = uint32(e.Val)
		}
	}

	if !haveSymtab {
		return nil, &MapError{Object: img.Name, Kind: DynamicTableMissingField, Tag: "DT_SYMTAB"}
	}
	if !haveStrtab {
		return nil, &MapError{Object: img.Name, Kind: DynamicTableMissingField, Tag: "DT_STRTAB"}
	}
	if !haveStrsz {
		return nil, &MapError{Object: img.Name, Kind: DynamicTableMissingField, Tag: "DT_STRSZ"}
	}
	if d.hashtab == 0 && d.gnuHash == 0 {
		return nil, &MapError{Object: img.Name, Kind: DynamicTableMissingField, Tag: "DT_HASH/DT_GNU_HASH"}
	}
	return d, nil
}

func readCStr(strtab uintptr, strsz uint64, off uint64) string {
	if off >= strsz {
		return ""
	}
	base := strtab + uintptr(off)
	limit := strtab + uintptr(strsz)
	n := 0
	for p := base; p < limit; p += 1 {
		if readByte(p) == 0 {
			break
		}
		n++
	}
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = readByte(base + uintptr(i))
	}
	return string(b)
}
