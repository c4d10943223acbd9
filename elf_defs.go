package elfcore

// ELF structural constants not exposed (or not completely exposed) by the
// standard library's debug/elf, grounded on WonderfulToolchain-wf-tools'
// go/elf/constants.go style of a flat untyped-constant block, supplemented
// with the GNU extensions named in spec section 6 (DT_GNU_HASH, DT_RELR,
// symbol versioning) per original_source/src/elf/defs.rs.

const (
	eiMag0    = 0
	eiClass   = 4
	eiData    = 5
	eiVersion = 6

	elfClass32 = 1
	elfClass64 = 2

	elfData2LSB = 1
	elfData2MSB = 2

	ehdrSize32 = 52
	ehdrSize64 = 64

	phdrSize32 = 32
	phdrSize64 = 56

	dynEntSize32 = 8
	dynEntSize64 = 16
)

// Program header types (p_type).
const (
	ptNull    = 0
	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptNote    = 4
	ptShlib   = 5
	ptPhdr    = 6
	ptTLS     = 7
	ptGNURelro = 0x6474e552
)

// Dynamic section tags (d_tag), including the GNU extensions used by this
// spec (DT_GNU_HASH, DT_RELR family, DT_VERSYM/VERDEF/VERNEED family) that
// older or minimal debug/elf builds may not define.
const (
	dtNull         = 0
	dtNeeded       = 1
	dtPltRelSz     = 2
	dtPltGot       = 3
	dtHash         = 4
	dtStrTab       = 5
	dtSymTab       = 6
	dtRela         = 7
	dtRelaSz       = 8
	dtRelaEnt      = 9
	dtStrSz        = 10
	dtSymEnt       = 11
	dtInit         = 12
	dtFini         = 13
	dtSoname       = 14
	dtRpath        = 15
	dtSymbolic     = 16
	dtRel          = 17
	dtRelSz        = 18
	dtRelEnt       = 19
	dtPltRel       = 20
	dtDebug        = 21
	dtTextRel      = 22
	dtJmpRel       = 23
	dtBindNow      = 24
	dtInitArray    = 25
	dtFiniArray    = 26
	dtInitArraySz  = 27
	dtFiniArraySz  = 28
	dtRunpath      = 29
	dtFlags        = 30
	dtRelCount     = 0x6ffffffa
	dtRelaCount    = 0x6ffffff9
	dtGNUHash      = 0x6ffffef5
	dtVersym       = 0x6ffffff0
	dtRelr         = 0x6fffffba
	dtRelrSz       = 0x6fffffb9
	dtRelrEnt      = 0x6fffffb8
	dtFlags1       = 0x6ffffffb
	dtVerdef       = 0x6ffffffc
	dtVerdefNum    = 0x6ffffffd
	dtVerneed      = 0x6ffffffe
	dtVerneedNum   = 0x6fffffff
)

// DT_FLAGS / DT_FLAGS_1 bits named by this implementation. DF_SYMBOLIC,
// DF_BIND_NOW and DF_1_NOW are acted on; DF_TEXTREL and every other bit
// are parsed but otherwise ignored, per spec section 9's flagged open
// question about partial DT_FLAGS coverage.
const (
	dfSymbolic = 0x2
	dfTextrel  = 0x4
	dfBindNow  = 0x8

	df1Now = 0x1
)

// Symbol st_info bit layout.
const (
	stbLocal     = 0
	stbGlobal    = 1
	stbWeak      = 2
	stbGNUUnique = 10

	sttNoType  = 0
	sttObject  = 1
	sttFunc    = 2
	sttSection = 3
	sttFile    = 4
	sttCommon  = 5
	sttTLS     = 6
	sttGNUIFunc = 10

	shnUndef = 0
)

// Symbol versioning (DT_VERSYM) special index values.
const (
	verNdxLocal  = 0
	verNdxGlobal = 1
	verNdxHidden = 0x8000
	verNdxMask   = 0x7fff
)

func okBind(b uint8) bool {
	switch b {
	case stbGlobal, stbWeak, stbGNUUnique:
		return true
	default:
		return false
	}
}

func okType(t uint8) bool {
	switch t {
	case sttNoType, sttObject, sttFunc, sttCommon, sttTLS, sttGNUIFunc:
		return true
	default:
		return false
	}
}
