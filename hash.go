package elfcore

// hash.go implements the GNU-hash and SysV-hash symbol lookup tables (C6),
// grounded on original_source/src/hash/gnu.rs's ElfGnuHeader layout and
// chain-walk algorithm, translated from pointer arithmetic over a raw
// `*const u8` into the same style over a uintptr base.

// gnuHashHash is the djb2-style hash GNU hash tables use, operating on the
// raw byte sequence with no normalization, per spec section 4.3.
func gnuHashHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// sysvHashHash is the classic ELF .hash algorithm (DT_HASH fallback).
func sysvHashHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
			h &^= g
		}
	}
	return h
}

type gnuHashTable struct {
	nbucket    uint32
	symbias    uint32
	nbloom     uint32
	bloomShift uint32
	bloomAddr  uintptr
	bucketAddr uintptr
	chainAddr  uintptr
	wordBits   uint32 // 32 or 64, matching the object's class
}

func newGNUHashTable(addr uintptr, wordBits uint32) *gnuHashTable {
	t := &gnuHashTable{
		nbucket:    readUint32(addr),
		symbias:    readUint32(addr + 4),
		nbloom:     readUint32(addr + 8),
		bloomShift: readUint32(addr + 12),
		wordBits:   wordBits,
	}
	wordBytes := uintptr(wordBits / 8)
	t.bloomAddr = addr + 16
	t.bucketAddr = t.bloomAddr + uintptr(t.nbloom)*wordBytes
	t.chainAddr = t.bucketAddr + uintptr(t.nbucket)*4
	return t
}

// probablyPresent applies the mandatory double bloom-filter check from
// spec section 4.3: `(h >> bloom_shift) | h`, word-indexed by
// `(h / word_bits) % nbloom`. A miss here short-circuits the chain walk.
func (t *gnuHashTable) probablyPresent(h uint32) bool {
	wordBytes := uintptr(t.wordBits / 8)
	wordIdx := uintptr(h/t.wordBits) % uintptr(t.nbloom)
	wordAddr := t.bloomAddr + wordIdx*wordBytes
	word := readWord(wordAddr, wordBytes)
	bit1 := uint64(1) << (h % t.wordBits)
	bit2 := uint64(1) << ((h >> t.bloomShift) % t.wordBits)
	mask := bit1 | bit2
	return word&mask == mask
}

// chainStart returns the first symbol index in h's bucket's chain, and
// whether the bucket is non-empty.
func (t *gnuHashTable) chainStart(h uint32) (uint32, bool) {
	if t.nbucket == 0 {
		return 0, false
	}
	bucket := h % t.nbucket
	idx := readUint32(t.bucketAddr + uintptr(bucket)*4)
	return idx, idx != 0
}

// walk calls fn for every symbol index in the chain starting at idx,
// stopping when fn returns true (match found) or the chain's LSB end
// marker is hit, per original_source/src/hash/gnu.rs.
func (t *gnuHashTable) walk(h uint32, start uint32, fn func(symIdx uint32) bool) bool {
	idx := start
	for {
		chainHash := readUint32(t.chainAddr + uintptr(idx-t.symbias)*4)
		if chainHash|1 == h|1 {
			if fn(idx) {
				return true
			}
		}
		if chainHash&1 != 0 {
			return false
		}
		idx++
	}
}

// countSyms derives the total dynamic symbol count by scanning every
// bucket's chain to its end, exactly as count_syms does in the reference
// implementation when no other symbol count is recorded in ELF.
func (t *gnuHashTable) countSyms() uint32 {
	max := t.symbias
	for b := uint32(0); b < t.nbucket; b++ {
		idx := readUint32(t.bucketAddr + uintptr(b)*4)
		if idx == 0 {
			continue
		}
		for {
			if idx > max {
				max = idx
			}
			chainHash := readUint32(t.chainAddr + uintptr(idx-t.symbias)*4)
			if chainHash&1 != 0 {
				break
			}
			idx++
		}
	}
	if max == t.symbias {
		return t.symbias
	}
	return max + 1
}

type sysvHashTable struct {
	nbucket    uint32
	nchain     uint32
	bucketAddr uintptr
	chainAddr  uintptr
}

func newSysVHashTable(addr uintptr) *sysvHashTable {
	t := &sysvHashTable{
		nbucket: readUint32(addr),
		nchain:  readUint32(addr + 4),
	}
	t.bucketAddr = addr + 8
	t.chainAddr = t.bucketAddr + uintptr(t.nbucket)*4
	return t
}

func (t *sysvHashTable) walk(h uint32, fn func(symIdx uint32) bool) bool {
	if t.nbucket == 0 {
		return false
	}
	idx := readUint32(t.bucketAddr + uintptr(h%t.nbucket)*4)
	for idx != 0 {
		if fn(idx) {
			return true
		}
		idx = readUint32(t.chainAddr + uintptr(idx)*4)
	}
	return false
}

func (t *sysvHashTable) countSyms() uint32 { return t.nchain }

// symbolIndex is the constructed C6 instance for one LoadedObject: a hash
// table plus the live dynsym/dynstr views needed to materialize a Symbol
// from an index, per spec section 4.3.
type symbolIndex struct {
	gnu  *gnuHashTable
	sysv *sysvHashTable

	dynsymAddr uintptr
	dynsymEnt  uintptr // 24 on 64-bit, 16 on 32-bit
	dynstrAddr uintptr
	dynstrSz   uint64
	is64       bool

	count uint32

	versions *VersionTables
}

func buildSymbolIndex(d *dynamicInfo, is64 bool, wordBits uint32) (*symbolIndex, error) {
	si := &symbolIndex{
		dynsymAddr: d.symtab,
		dynstrAddr: d.strtab,
		dynstrSz:   d.strsz,
		is64:       is64,
	}
	if is64 {
		si.dynsymEnt = 24
	} else {
		si.dynsymEnt = 16
	}
	switch {
	case d.gnuHash != 0:
		si.gnu = newGNUHashTable(d.gnuHash, wordBits)
		si.count = si.gnu.countSyms()
	case d.hashtab != 0:
		si.sysv = newSysVHashTable(d.hashtab)
		si.count = si.sysv.countSyms()
	default:
		return nil, &MapError{Kind: DynamicTableMissingField, Tag: "DT_HASH/DT_GNU_HASH"}
	}
	return si, nil
}

func (si *symbolIndex) symbolAt(idx uint32) Symbol {
	addr := si.dynsymAddr + uintptr(idx)*si.dynsymEnt
	var nameOff uint32
	var value uint64
	var size uint64
	var info, other byte
	var shndx uint16
	if si.is64 {
		nameOff = readUint32(addr)
		info = readByte(addr + 4)
		other = readByte(addr + 5)
		shndx = readUint16(addr + 6)
		value = readUint64(addr + 8)
		size = readUint64(addr + 16)
	} else {
		nameOff = readUint32(addr)
		value = uint64(readUint32(addr + 4))
		size = uint64(readUint32(addr + 8))
		info = readByte(addr + 12)
		other = readByte(addr + 13)
		shndx = readUint16(addr + 14)
	}
	_ = other
	var verNdx uint16
	if si.versions != nil && si.versions.Versym != 0 {
		verNdx = readUint16(si.versions.Versym + uintptr(idx)*2)
	}
	return Symbol{
		Name:   readCStr(si.dynstrAddr, si.dynstrSz, uint64(nameOff)),
		Value:  uintptr(value),
		Size:   size,
		Bind:   info >> 4,
		Type:   info & 0xf,
		Shndx:  shndx,
		VerNdx: verNdx,
	}
}

// lookup finds the best-matching defined symbol for name, applying the
// tie-breaking and version-matching rules from spec section 4.3.
func (si *symbolIndex) lookup(name string, wantVersion string) (Symbol, uint32, bool) {
	var best Symbol
	var bestIdx uint32
	found := false

	consider := func(idx uint32) bool {
		sym := si.symbolAt(idx)
		if sym.Name != name || sym.isUndef() {
			return false
		}
		if !okBind(sym.Bind) || !okType(sym.Type) {
			return false
		}
		if !si.versionMatches(sym, wantVersion) {
			return false
		}
		if !found {
			best, bestIdx, found = sym, idx, true
			if sym.Bind != stbWeak {
				return true // GLOBAL/UNIQUE: first hit wins outright
			}
			return false
		}
		if best.isWeak() && sym.Bind != stbWeak {
			best, bestIdx = sym, idx
			return true
		}
		return false
	}

	if si.gnu != nil {
		h := gnuHashHash(name)
		if !si.gnu.probablyPresent(h) {
			return Symbol{}, 0, false
		}
		start, ok := si.gnu.chainStart(h)
		if !ok {
			return Symbol{}, 0, false
		}
		si.gnu.walk(h, start, consider)
	} else {
		si.sysv.walk(sysvHashHash(name), consider)
	}
	return best, bestIdx, found
}

// versionMatches implements spec section 4.3's version-compatibility rule.
func (si *symbolIndex) versionMatches(sym Symbol, wantVersion string) bool {
	ndx := sym.VerNdx & verNdxMask
	if wantVersion == "" {
		if ndx == verNdxLocal || ndx == verNdxGlobal {
			return true
		}
		return sym.VerNdx&verNdxHidden == 0
	}
	if ndx == verNdxLocal || ndx == verNdxGlobal {
		return true
	}
	if si.versions == nil || si.versions.Verdef == 0 {
		return false
	}
	return verdefNameForIndex(si.versions.Verdef, si.versions.VerdefNum, ndx, si.dynstrAddr, si.dynstrSz) == wantVersion
}
