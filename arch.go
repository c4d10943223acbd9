package elfcore

import "debug/elf"

// MachineKind is the small, closed set of architectures the relocation
// engine (C8) knows how to dispatch for, per spec section 4.5. Selection
// is made at runtime from the parsed ELF header's e_machine field rather
// than with Go build tags: the loader must be able to reject a
// foreign-architecture image with UnsupportedMachine instead of failing
// to compile, which rules out the Rust original's per-target
// compile_error! approach (see original_source/src/lib.rs).
type MachineKind int

const (
	MachineUnknown MachineKind = iota
	MachineX86_64
	MachineX86
	MachineAArch64
)

func (m MachineKind) String() string {
	switch m {
	case MachineX86_64:
		return "x86_64"
	case MachineX86:
		return "x86"
	case MachineAArch64:
		return "aarch64"
	default:
		return "unknown"
	}
}

// ArchInfo is the per-architecture constant table (C1): page size,
// relocation kind codes, and the PLT-stub template used for lazy binding.
type ArchInfo struct {
	Kind       MachineKind
	ElfMachine elf.Machine
	PageSize   uintptr
	WordSize   uintptr // 4 on x86, 8 on x86_64/aarch64
	Is64       bool

	RelNone      uint32
	RelRelative  uint32
	RelGlobDat   uint32
	RelJumpSlot  uint32
	RelCopy      uint32
	RelIRelative uint32
	RelDTPMod    uint32
	RelDTPOff    uint32
	RelTPOff     uint32
	RelAbs       uint32 // R_*_64 / R_386_32: absolute S+A
	RelPC        uint32 // R_*_PC32/PC64: PC-relative S+A-P

	// PLTEntry is the per-object PLT stub template; PLTEntrySize is its
	// length in bytes. GOTPatchOffset is the byte offset within the
	// template where the GOT-slot-relative jump target is patched in.
	PLTEntry       []byte
	PLTEntrySize   uintptr
	GOTPatchOffset int

	RelocName func(kind uint32) string
}

var archTable = map[MachineKind]*ArchInfo{
	MachineX86_64: {
		Kind:         MachineX86_64,
		ElfMachine:   elf.EM_X86_64,
		PageSize:     0x1000,
		WordSize:     8,
		Is64:         true,
		RelNone:      uint32(elf.R_X86_64_NONE),
		RelRelative:  uint32(elf.R_X86_64_RELATIVE),
		RelGlobDat:   uint32(elf.R_X86_64_GLOB_DAT),
		RelJumpSlot:  uint32(elf.R_X86_64_JMP_SLOT),
		RelCopy:      uint32(elf.R_X86_64_COPY),
		RelIRelative: uint32(elf.R_X86_64_IRELATIVE),
		RelDTPMod:    uint32(elf.R_X86_64_DTPMOD64),
		RelDTPOff:    uint32(elf.R_X86_64_DTPOFF64),
		RelTPOff:     uint32(elf.R_X86_64_TPOFF64),
		RelAbs:       uint32(elf.R_X86_64_64),
		RelPC:        uint32(elf.R_X86_64_PC32),
		// endbr64; jmp *GOTPLT+idx(%rip); padding -- grounded on
		// original_source/src/arch/x86_64.rs PLT_ENTRY template.
		PLTEntry: []byte{
			0xf3, 0x0f, 0x1e, 0xfa,
			0xff, 0x25, 0, 0, 0, 0,
			0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc,
		},
		PLTEntrySize:   16,
		GOTPatchOffset: 6,
		RelocName:      x86_64RelocName,
	},
	MachineX86: {
		Kind:         MachineX86,
		ElfMachine:   elf.EM_386,
		PageSize:     0x1000,
		WordSize:     4,
		Is64:         false,
		RelNone:      uint32(elf.R_386_NONE),
		RelRelative:  uint32(elf.R_386_RELATIVE),
		RelGlobDat:   uint32(elf.R_386_GLOB_DAT),
		RelJumpSlot:  uint32(elf.R_386_JMP_SLOT),
		RelCopy:      uint32(elf.R_386_COPY),
		RelIRelative: uint32(elf.R_386_IRELATIVE),
		RelDTPMod:    uint32(elf.R_386_TLS_DTPMOD32),
		RelDTPOff:    uint32(elf.R_386_TLS_DTPOFF32),
		RelTPOff:     uint32(elf.R_386_TLS_TPOFF),
		RelAbs:       uint32(elf.R_386_32),
		RelPC:        uint32(elf.R_386_PC32),
		// jmp *GOT+idx; pushl $idx; jmp PLT0 -- grounded on
		// xyproto-vibe67/pltgot_x64.go's byte-literal PLT encoding style,
		// adapted to the 32-bit indirect-jump form.
		PLTEntry: []byte{
			0xff, 0x25, 0, 0, 0, 0,
			0x68, 0, 0, 0, 0,
			0xe9, 0, 0, 0, 0,
		},
		PLTEntrySize:   16,
		GOTPatchOffset: 2,
		RelocName:      x86RelocName,
	},
	MachineAArch64: {
		Kind:         MachineAArch64,
		ElfMachine:   elf.EM_AARCH64,
		PageSize:     0x1000,
		WordSize:     8,
		Is64:         true,
		RelNone:      uint32(elf.R_AARCH64_NONE),
		RelRelative:  uint32(elf.R_AARCH64_RELATIVE),
		RelGlobDat:   uint32(elf.R_AARCH64_GLOB_DAT),
		RelJumpSlot:  uint32(elf.R_AARCH64_JUMP_SLOT),
		RelCopy:      uint32(elf.R_AARCH64_COPY),
		RelIRelative: uint32(elf.R_AARCH64_IRELATIVE),
		RelDTPMod:    uint32(elf.R_AARCH64_TLS_DTPMOD64),
		RelDTPOff:    uint32(elf.R_AARCH64_TLS_DTPREL64),
		RelTPOff:     uint32(elf.R_AARCH64_TLS_TPREL64),
		RelAbs:       uint32(elf.R_AARCH64_ABS64),
		RelPC:        uint32(elf.R_AARCH64_PREL32),
		// ldr x16, GOT-entry-pcrel; br x16 -- adapted from
		// xyproto-vibe67/pltgot_aarch64.go's literal instruction encoding.
		PLTEntry: []byte{
			0x70, 0x00, 0x00, 0x58, // ldr x16, #12 (offset patched)
			0x00, 0x02, 0x1f, 0xd6, // br x16
			0x1f, 0x20, 0x03, 0xd5, // nop
			0x1f, 0x20, 0x03, 0xd5, // nop
		},
		PLTEntrySize:   16,
		GOTPatchOffset: 0,
		RelocName:      aarch64RelocName,
	},
}

func archForMachine(m elf.Machine) (*ArchInfo, error) {
	for _, a := range archTable {
		if a.ElfMachine == m {
			return a, nil
		}
	}
	return nil, &ParseError{Kind: UnsupportedMachine, Field: m.String()}
}

// hostArch reports the ArchInfo matching the Go runtime's own GOARCH, used
// to decide whether a parsed image can actually be mapped and executed
// (as opposed to merely inspected) on this process.
func hostArch() *ArchInfo {
	switch hostMachineKind {
	case MachineX86_64:
		return archTable[MachineX86_64]
	case MachineX86:
		return archTable[MachineX86]
	case MachineAArch64:
		return archTable[MachineAArch64]
	default:
		return nil
	}
}

func x86_64RelocName(k uint32) string {
	if n := elf.R_X86_64(k).String(); n != "" {
		return n
	}
	return "UNKNOWN"
}

func x86RelocName(k uint32) string {
	if n := elf.R_386(k).String(); n != "" {
		return n
	}
	return "UNKNOWN"
}

func aarch64RelocName(k uint32) string {
	if n := elf.R_AARCH64(k).String(); n != "" {
		return n
	}
	return "UNKNOWN"
}
