package elfcore

import "debug/elf"

func roundDown(v, align uintptr) uintptr { return v &^ (align - 1) }
func roundUp(v, align uintptr) uintptr   { return (v + align - 1) &^ (align - 1) }

// LoadDylib maps img's PT_LOAD segments and records its dynamic metadata,
// producing an unrelocated LoadedObject (C5). It follows the five-step
// algorithm from spec section 4.2: compute the load span, reserve it,
// map each PT_LOAD with temporary write permission, zero-fill BSS tails,
// then rebase the dynamic section and build the symbol index. The
// protection flip to final PT_LOAD permissions happens later, in
// Relocate, because relocation writes may still target pages that will
// end up read-only.
func LoadDylib(src ObjectSource, mm Mmap, opts LoadOptions) (*LoadedObject, error) {
	name := opts.Name
	img, err := Parse(src, name)
	if err != nil {
		return nil, err
	}

	loads := make([]Phdr, 0, len(img.Phdrs))
	for _, ph := range img.Phdrs {
		if ph.Type == ptLoad {
			loads = append(loads, ph)
		}
	}
	if len(loads) == 0 {
		return nil, &MapError{Object: name, Kind: MapFailed}
	}

	pageSize := img.Arch.PageSize
	minVaddr := ^uintptr(0)
	maxVaddr := uintptr(0)
	for _, ph := range loads {
		lo := roundDown(uintptr(ph.Vaddr), pageSize)
		hi := roundUp(uintptr(ph.Vaddr)+uintptr(ph.Memsz), pageSize)
		if lo < minVaddr {
			minVaddr = lo
		}
		if hi > maxVaddr {
			maxVaddr = hi
		}
	}
	spanSize := maxVaddr - minVaddr

	// ET_EXEC inputs are not position-independent: their code/data may
	// carry absolute addresses baked in outside any relocation entry, so
	// they must land at their own encoded vaddr (or at an explicit
	// FixedBase override) rather than wherever the OS happens to place an
	// anonymous mapping, per spec section 4.2 step 2.
	var atAddr uintptr
	fixed := img.Type == elf.ET_EXEC
	if fixed {
		atAddr = minVaddr
		if opts.FixedBase != 0 {
			atAddr = opts.FixedBase
		}
	}

	region, err := mm.Reserve(spanSize, atAddr)
	if err != nil {
		kind := MapFailed
		if fixed {
			kind = AddressSpaceConflict
		}
		return nil, &MapError{Object: name, Kind: kind, Err: err}
	}

	base := region.Addr - minVaddr

	o := &LoadedObject{
		name:     name,
		arch:     img.Arch,
		base:     base,
		loadSpan: region,
		mm:       mm,
		src:      src,
		is64:     img.Class == elfClass64,
		wordBits: uint32(img.Arch.WordSize * 8),
	}

	o.strongRefs.Store(1)
	o.moduleID = allocModuleID()

	if err := mapSegments(o, img, loads, region, pageSize); err != nil {
		mm.Unmap(region)
		return nil, err
	}

	if !img.HasDynamic {
		// ET_REL (relocatable object) or a statically linked, non-dynamic
		// ET_EXEC: nothing further to record; caller still gets a mapped
		// object back, just with no symbol index or relocation tables.
		o.relocated.Store(true)
		return o, nil
	}

	d, err := resolveDynamic(img, base)
	if err != nil {
		mm.Unmap(region)
		return nil, err
	}

	o.dynsymAddr = d.symtab
	o.dynstrAddr = d.strtab
	o.dynstrLen = d.strsz
	o.pltgotAddr = d.pltgot
	o.initFn = d.initFn
	o.finiFn = d.finiFn
	o.flags = d.flags
	o.flags1 = d.flags1
	o.symbolic = d.flags&dfSymbolic != 0
	o.bindNow = d.flags&dfBindNow != 0 || d.flags1&df1Now != 0
	o.relrAddr = d.relrAddr
	o.relrSize = d.relrSize
	o.relrEnt = d.relrEnt

	if d.sonameOffset >= 0 {
		o.soname = readCStr(d.strtab, d.strsz, uint64(d.sonameOffset))
		o.name = o.soname
	}
	for _, off := range d.neededOffsets {
		o.needed = append(o.needed, readCStr(d.strtab, d.strsz, off))
	}

	if d.initArraySz > 0 {
		n := int(d.initArraySz / uint64(img.Arch.WordSize))
		o.initArray = make([]uintptr, n)
		for i := 0; i < n; i++ {
			o.initArray[i] = uintptr(readWord(d.initArray+uintptr(i)*uintptr(img.Arch.WordSize), img.Arch.WordSize))
		}
	}
	if d.finiArraySz > 0 {
		n := int(d.finiArraySz / uint64(img.Arch.WordSize))
		o.finiArray = make([]uintptr, n)
		for i := 0; i < n; i++ {
			o.finiArray[i] = uintptr(readWord(d.finiArray+uintptr(i)*uintptr(img.Arch.WordSize), img.Arch.WordSize))
		}
	}

	si, err := buildSymbolIndex(d, o.is64, o.wordBits)
	if err != nil {
		mm.Unmap(region)
		return nil, err
	}
	if d.versym != 0 {
		o.versions = &VersionTables{
			Versym:     d.versym,
			Verdef:     d.verdef,
			VerdefNum:  d.verdefNum,
			Verneed:    d.verneed,
			VerneedNum: d.verneedNum,
			Strtab:     d.strtab,
			StrtabSz:   d.strsz,
		}
		si.versions = o.versions
	}
	o.symbolIndex = si

	if d.relaSize > 0 {
		o.relocsEager = decodeRelaTable(d.relaAddr, d.relaSize, d.relaEnt, o.is64)
	} else if d.relSize > 0 {
		o.relocsEager = decodeRelTable(d.relAddr, d.relSize, d.relEnt, o.is64)
	}

	if d.pltRelSize > 0 {
		if d.pltRelKind == dtRela {
			o.pltRelocs = decodeRelaTable(d.jmprelAddr, d.pltRelSize, 0, o.is64)
		} else {
			o.pltRelocs = decodeRelTable(d.jmprelAddr, d.pltRelSize, 0, o.is64)
		}
	}

	for _, ph := range img.Phdrs {
		if ph.Type == ptTLS && ph.Memsz > 0 {
			o.tls = &TLSInfo{
				TemplateVA: base + uintptr(ph.Vaddr),
				TemplateSz: uintptr(ph.Filesz),
				TBSSSize:   uintptr(ph.Memsz),
				Align:      uintptr(ph.Align),
			}
		}
	}

	return o, nil
}

// mapSegments implements step 3 of spec section 4.2's loader algorithm
// over every PT_LOAD header, inside the region LoadDylib already reserved.
func mapSegments(o *LoadedObject, img *ElfImage, loads []Phdr, region Region, pageSize uintptr) error {
	for _, ph := range loads {
		fileOff := roundDown(uintptr(ph.Off), pageSize)
		vaddr := roundDown(uintptr(ph.Vaddr), pageSize)
		skew := uintptr(ph.Vaddr) - vaddr
		mappedFileLen := roundUp(skew+uintptr(ph.Filesz), pageSize)

		segVA := o.base + vaddr
		regionOff := segVA - region.Addr

		prot := ProtForFlags(ph.Flags) | ProtWrite
		if mappedFileLen > 0 {
			if err := o.mm.MapFile(region, regionOff, mappedFileLen, o.src, int64(fileOff), prot); err != nil {
				return &MapError{Object: o.name, Kind: MapFailed, Err: err}
			}
		}

		memEnd := roundUp(skew+uintptr(ph.Memsz), pageSize)
		if memEnd > mappedFileLen {
			anonOff := regionOff + mappedFileLen
			anonLen := memEnd - mappedFileLen
			if err := o.mm.MapAnon(region, anonOff, anonLen, prot); err != nil {
				return &MapError{Object: o.name, Kind: MapFailed, Err: err}
			}
		}

		// zero-fill the BSS tail within the last file-backed page: bytes
		// between the file's real end and the page boundary the mapping
		// rounded up to.
		if ph.Memsz > ph.Filesz {
			fileEnd := o.base + uintptr(ph.Vaddr) + uintptr(ph.Filesz)
			pageEnd := roundUp(fileEnd, pageSize)
			for a := fileEnd; a < pageEnd && a < segVA+memEnd; a++ {
				writeByte(a, 0)
			}
		}

		o.segments = append(o.segments, Segment{
			Vaddr: o.base + uintptr(ph.Vaddr),
			Memsz: uintptr(ph.Memsz),
			Flags: ph.Flags,
			Prot:  ProtForFlags(ph.Flags),
		})
	}
	return nil
}
