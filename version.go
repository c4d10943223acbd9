package elfcore

// version.go matches DT_VERSYM entries against DT_VERDEF (symbols an
// object defines) and DT_VERNEED (symbols an object imports and the
// version it requires), per spec section 4.3 and the GNU extensions named
// in spec section 6. Layout follows the System V ABI's Verdef/Verdaux and
// Verneed/Vernaux structures, which are fixed-width regardless of ELF
// class, so there is no 32/64-bit split here the way there is for Sym/Dyn.

// verdefNameForIndex walks the Verdef chain at addr looking for the entry
// whose vd_ndx equals ndx, returning the name of its first Verdaux entry.
func verdefNameForIndex(addr uintptr, num uint32, ndx uint16, strtab uintptr, strsz uint64) string {
	cur := addr
	for i := uint32(0); i < num; i++ {
		vdNdx := readUint16(cur + 4)
		vdCnt := readUint16(cur + 6)
		vdAux := readUint32(cur + 12)
		vdNext := readUint32(cur + 16)
		if vdNdx == ndx && vdCnt > 0 {
			auxNameOff := readUint32(cur + uintptr(vdAux))
			return readCStr(strtab, strsz, uint64(auxNameOff))
		}
		if vdNext == 0 {
			break
		}
		cur += uintptr(vdNext)
	}
	return ""
}

// requiredVersion derives the version a relocation must resolve against
// from the referencing symbol's own Versym entry, per spec section 4.3: an
// imported (undefined) symbol's Versym value indexes the importer's own
// DT_VERNEED table (via Vernaux.vna_other), not DT_VERDEF — that table is
// only consulted on the defining side, inside symbolIndex.versionMatches.
// verNdxLocal/verNdxGlobal mean "no version requirement."
func (o *LoadedObject) requiredVersion(ref Symbol) string {
	if o.versions == nil || o.versions.Verneed == 0 {
		return ""
	}
	ndx := ref.VerNdx & verNdxMask
	if ndx == verNdxLocal || ndx == verNdxGlobal {
		return ""
	}
	return verneedVersionFor(o.versions.Verneed, o.versions.VerneedNum, ndx, o.versions.Strtab, o.versions.StrtabSz)
}

// verneedVersionFor walks the Verneed chain looking for the Vernaux entry
// whose vna_other equals ndx, returning its required version name. Used
// when resolving an imported symbol whose reference carries a required
// version from the importer's own VERNEED table.
func verneedVersionFor(addr uintptr, num uint32, ndx uint16, strtab uintptr, strsz uint64) string {
	cur := addr
	for i := uint32(0); i < num; i++ {
		vnCnt := readUint16(cur + 2)
		vnAux := readUint32(cur + 8)
		vnNext := readUint32(cur + 12)
		auxCur := cur + uintptr(vnAux)
		for j := uint16(0); j < vnCnt; j++ {
			vnaOther := readUint16(auxCur + 6)
			vnaName := readUint32(auxCur + 8)
			vnaNext := readUint32(auxCur + 12)
			if vnaOther == ndx {
				return readCStr(strtab, strsz, uint64(vnaName))
			}
			if vnaNext == 0 {
				break
			}
			auxCur += uintptr(vnaNext)
		}
		if vnNext == 0 {
			break
		}
		cur += uintptr(vnNext)
	}
	return ""
}

