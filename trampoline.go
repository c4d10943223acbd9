package elfcore

import "encoding/binary"

// trampoline.go is the lazy-binding trampoline (C9): a per-object page of
// small machine-code stubs, one per deferred JUMP_SLOT, that save the
// target's argument registers, call back into the Go resolver with this
// object's module id and the slot index, restore the argument registers,
// and tail-jump to the resolved address — per spec section 4.6.
//
// The callback into Go is a cgo export (elfcoreTrampolineResolve in
// callback_cgo.go), the same mechanism the teacher falls back to for
// calling C function pointers when it can't use its hand-rolled assembly
// (memmod_linux_call_cgo.go), generalized here from "call a known C
// function" to "let arbitrary machine code call back into the Go
// runtime safely" — cgo's generated wrapper handles the g/m/p setup that
// hand-written assembly would otherwise have to reproduce itself.
// Building without cgo disables lazy binding; RelocateOptions.Lazy then
// fails with a plain error rather than silently falling back to eager
// resolution.

// trampolineStubSize must cover the largest architecture's stub: amd64's
// full register-save sequence is 168 bytes, arm64's is 204.
const trampolineStubSize = 256

type trampolinePage struct {
	obj    *LoadedObject
	region Region
	base   uintptr
}

func (tp *trampolinePage) stubAddr(i int) uintptr {
	return tp.base + uintptr(i)*trampolineStubSize
}

func newTrampolinePage(o *LoadedObject) (*trampolinePage, error) {
	n := len(o.pltRelocs)
	size := roundUp(uintptr(n)*trampolineStubSize, o.arch.PageSize)
	region, err := o.mm.Reserve(size, 0)
	if err != nil {
		return nil, &MapError{Object: o.name, Kind: MapFailed, Err: err}
	}
	if err := o.mm.MapAnon(region, 0, size, ProtRead|ProtWrite|ProtExec); err != nil {
		o.mm.Unmap(region)
		return nil, &MapError{Object: o.name, Kind: MapFailed, Err: err}
	}

	resolverAddr, err := resolverEntryAddr()
	if err != nil {
		o.mm.Unmap(region)
		return nil, err
	}

	tp := &trampolinePage{obj: o, region: region, base: region.Addr}
	for i := 0; i < n; i++ {
		stub := buildTrampolineStub(o.arch.Kind, o.moduleID, uint64(i), resolverAddr)
		if len(stub) > trampolineStubSize {
			o.mm.Unmap(region)
			return nil, &MapError{Object: o.name, Kind: MapFailed}
		}
		dst := tp.stubAddr(i)
		for j, b := range stub {
			writeByte(dst+uintptr(j), b)
		}
	}
	return tp, nil
}

func buildTrampolineStub(kind MachineKind, moduleID, slot uint64, resolverAddr uintptr) []byte {
	switch kind {
	case MachineX86_64:
		return trampolineStubAMD64(moduleID, slot, resolverAddr)
	case MachineX86:
		return trampolineStubX86(moduleID, slot, resolverAddr)
	case MachineAArch64:
		return trampolineStubARM64(moduleID, slot, resolverAddr)
	default:
		return nil
	}
}

// trampolineStubAMD64 saves every SysV caller-saved integer argument
// register (rdi, rsi, rdx, rcx, r8, r9, r10, r11) and the vector argument
// registers (xmm0-xmm7) before calling the resolver, then restores all of
// them before jumping to the resolver's return value — a lazily bound PLT
// call must be indistinguishable from an eager one to whatever arguments
// the real target receives. Grounded on
// original_source/src/arch/x86_64.rs's dl_runtime_resolve, which saves the
// same register set around its own resolver call.
func trampolineStubAMD64(moduleID, slot uint64, resolverAddr uintptr) []byte {
	var b []byte
	b = append(b, 0x57)       // push rdi
	b = append(b, 0x56)       // push rsi
	b = append(b, 0x52)       // push rdx
	b = append(b, 0x51)       // push rcx
	b = append(b, 0x41, 0x50) // push r8
	b = append(b, 0x41, 0x51) // push r9
	b = append(b, 0x41, 0x52) // push r10
	b = append(b, 0x41, 0x53) // push r11

	b = append(b, 0x48, 0x81, 0xEC, 0x88, 0x00, 0x00, 0x00) // sub rsp, 136
	for i := 0; i < 8; i++ {
		b = append(b, amd64Movdqu(true, i, byte(i*16))...)
	}

	b = append(b, 0x48, 0xBF) // mov rdi, imm64
	b = appendU64(b, moduleID)
	b = append(b, 0x48, 0xBE) // mov rsi, imm64
	b = appendU64(b, slot)
	b = append(b, 0x48, 0xB8) // mov rax, imm64
	b = appendU64(b, uint64(resolverAddr))
	b = append(b, 0xFF, 0xD0) // call rax

	for i := 0; i < 8; i++ {
		b = append(b, amd64Movdqu(false, i, byte(i*16))...)
	}
	b = append(b, 0x48, 0x81, 0xC4, 0x88, 0x00, 0x00, 0x00) // add rsp, 136

	b = append(b, 0x41, 0x5B) // pop r11
	b = append(b, 0x41, 0x5A) // pop r10
	b = append(b, 0x41, 0x59) // pop r9
	b = append(b, 0x41, 0x58) // pop r8
	b = append(b, 0x59)       // pop rcx
	b = append(b, 0x5A)       // pop rdx
	b = append(b, 0x5E)       // pop rsi
	b = append(b, 0x5F)       // pop rdi

	b = append(b, 0xFF, 0xE0) // jmp rax, the resolver's return value
	return b
}

// amd64Movdqu builds an unaligned 128-bit SSE load/store (MOVDQU) between
// xmmReg and [rsp+disp], using SIB addressing since rsp can't be encoded
// directly in ModRM.
func amd64Movdqu(store bool, xmmReg int, disp byte) []byte {
	op := byte(0x7F)
	if !store {
		op = 0x6F
	}
	modrm := byte(0x40) | byte(xmmReg<<3) | 0x04
	return []byte{0xF3, 0x0F, op, modrm, 0x24, disp}
}

// trampolineStubX86 relies on cdecl's stack-passed arguments being
// untouched by our own pushes (which we clean up ourselves), so there is
// nothing of the real call's arguments to save here.
func trampolineStubX86(moduleID, slot uint64, resolverAddr uintptr) []byte {
	var b []byte
	b = append(b, 0x68)
	b = appendU32(b, uint32(slot))
	b = append(b, 0x68)
	b = appendU32(b, uint32(moduleID))
	b = append(b, 0xB8)
	b = appendU32(b, uint32(resolverAddr))
	b = append(b, 0xFF, 0xD0)       // call eax
	b = append(b, 0x83, 0xC4, 0x08) // add esp, 8
	b = append(b, 0xFF, 0xE0)       // jmp eax
	return b
}

// trampolineStubARM64 saves every AAPCS64 argument/indirect-result register
// (x0-x8) and vector/FP argument register (q0-q7) before calling the
// resolver, then restores all of them before branching to the returned
// address. Grounded on original_source/src/arch/aarch64.rs's
// dl_runtime_resolve, which reserves the same 208-byte frame for the same
// register set (its PLT0-specific link_map/reloc_idx stack arguments and
// trailing x16/x30 cleanup don't apply here: moduleID and slot are baked
// into this stub as immediates rather than pushed by a shared PLT0 stub).
func trampolineStubARM64(moduleID, slot uint64, resolverAddr uintptr) []byte {
	var b []byte
	const frame = 208
	b = appendInstr(b, armSubSP(frame))
	for i := 0; i < 8; i++ {
		b = appendInstr(b, armStrX(i, 31, uint32(i*8)))
	}
	b = appendInstr(b, armStrX(8, 31, 64))
	for i := 0; i < 8; i++ {
		b = appendInstr(b, armStrQ(i, 31, uint32(80+i*16)))
	}

	b = append(b, armLoadImm64(0, moduleID)...)
	b = append(b, armLoadImm64(1, slot)...)
	b = append(b, armLoadImm64(9, uint64(resolverAddr))...)
	b = appendInstr(b, armBlr(9))
	b = appendInstr(b, armMovReg(17, 0)) // stash the resolved address in x17 (IP1) before restoring x0

	for i := 0; i < 8; i++ {
		b = appendInstr(b, armLdrX(i, 31, uint32(i*8)))
	}
	b = appendInstr(b, armLdrX(8, 31, 64))
	for i := 0; i < 8; i++ {
		b = appendInstr(b, armLdrQ(i, 31, uint32(80+i*16)))
	}
	b = appendInstr(b, armAddSP(frame))
	b = appendInstr(b, armBr(17))
	return b
}

// armStrX and armLdrX encode STR/LDR (immediate, unsigned offset) for a
// 64-bit GPR; armStrQ and armLdrQ encode the SIMD&FP 128-bit variant.
// Register 31 in the Rn field addresses SP in this instruction class.
func armStrX(rt, rn int, immBytes uint32) uint32 {
	return 0xF9000000 | ((immBytes / 8) << 10) | (uint32(rn) << 5) | uint32(rt)
}

func armLdrX(rt, rn int, immBytes uint32) uint32 {
	return 0xF9400000 | ((immBytes / 8) << 10) | (uint32(rn) << 5) | uint32(rt)
}

func armStrQ(qt, rn int, immBytes uint32) uint32 {
	return 0x3D800000 | ((immBytes / 16) << 10) | (uint32(rn) << 5) | uint32(qt)
}

func armLdrQ(qt, rn int, immBytes uint32) uint32 {
	return 0x3DC00000 | ((immBytes / 16) << 10) | (uint32(rn) << 5) | uint32(qt)
}

func armSubSP(imm12 uint32) uint32 { return 0xD10003FF | (imm12 << 10) }
func armAddSP(imm12 uint32) uint32 { return 0x910003FF | (imm12 << 10) }

// armMovReg encodes "mov xd, xm" as the ORR xd, xzr, xm alias.
func armMovReg(rd, rm int) uint32 { return 0xAA0003E0 | (uint32(rm) << 16) | uint32(rd) }

func armBlr(rn int) uint32 { return 0xD63F0000 | (uint32(rn) << 5) }
func armBr(rn int) uint32  { return 0xD61F0000 | (uint32(rn) << 5) }

func armLoadImm64(rd uint32, v uint64) []byte {
	var b []byte
	b = appendInstr(b, armMovWide(2, 0, uint32(v&0xffff), rd))      // MOVZ
	b = appendInstr(b, armMovWide(3, 1, uint32((v>>16)&0xffff), rd)) // MOVK
	b = appendInstr(b, armMovWide(3, 2, uint32((v>>32)&0xffff), rd)) // MOVK
	b = appendInstr(b, armMovWide(3, 3, uint32((v>>48)&0xffff), rd)) // MOVK
	return b
}

func armMovWide(opc, hw, imm16, rd uint32) uint32 {
	return (1 << 31) | (opc << 29) | (0b100101 << 23) | (hw << 21) | (imm16 << 5) | rd
}

func appendInstr(b []byte, instr uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], instr)
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
