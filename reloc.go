package elfcore

import "math"

// reloc.go is the relocation engine (C8): it drives both the eager and
// lazy relocation passes over an object's decoded RELA/REL/RELR/JMPREL
// tables, dispatching by architecture-specific relocation-kind codes from
// arch.go. Ordering follows spec section 4.5: copy relocations, then
// RELR/data relocations, then PLT/JUMP_SLOT (eager or deferred to a
// trampoline).

// Relocate applies every relocation in obj's tables, consulting scope and
// preFind for symbol resolution, then flips segment protections to their
// final PT_LOAD values. It is not re-entrant for a single object, per
// spec section 5.
func Relocate(obj *LoadedObject, scope ScopeFrame, preFind PreFindFunc, opts RelocateOptions) error {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	if obj.closed {
		return ErrLibraryClosed
	}

	if err := applyCopyRelocations(obj, scope, preFind); err != nil {
		return err
	}
	if err := applyRELR(obj); err != nil {
		return err
	}
	if err := applyDataRelocations(obj, scope, preFind, opts.Hook); err != nil {
		return err
	}
	if err := applyPLTRelocations(obj, scope, preFind, opts); err != nil {
		return err
	}

	if err := flipProtections(obj); err != nil {
		return err
	}

	obj.relocated.Store(true)
	return nil
}

func (o *LoadedObject) refSymbol(idx uint32) Symbol {
	if idx == 0 || o.symbolIndex == nil {
		return Symbol{}
	}
	return o.symbolIndex.symbolAt(idx)
}

func applyCopyRelocations(o *LoadedObject, scope ScopeFrame, preFind PreFindFunc) error {
	for _, e := range o.relocsEager {
		if e.Kind != o.arch.RelCopy {
			continue
		}
		ref := o.refSymbol(e.Symbol)
		addr, _, err := resolveReloc(o, ref, o.requiredVersion(ref), scope, preFind)
		if err != nil {
			return err
		}
		if addr == 0 {
			continue
		}
		if ref.Size == 0 {
			return &LinkError{Object: o.name, Kind: CopyRelocationSizeMismatch, Symbol: ref.Name}
		}
		dst := o.base + e.Offset
		memcpyAt(dst, addr, uintptr(ref.Size))
	}
	return nil
}

// applyRELR walks the RELR stream per spec section 4.5: an address anchor
// followed by bitmaps, each bit i meaning "relocate the word at
// anchor + i*word_size by adding base"; the anchor advances by
// (word_bits-1)*word_size after each bitmap word.
func applyRELR(o *LoadedObject) error {
	if o.relrSize == 0 {
		return nil
	}
	wordSize := o.arch.WordSize
	entSize := o.relrEnt
	if entSize == 0 {
		entSize = uint64(wordSize)
	}
	n := int(o.relrSize / entSize)
	var anchor uintptr
	for i := 0; i < n; i++ {
		entAddr := o.relrAddr + uintptr(i)*uintptr(entSize)
		value := readWord(entAddr, wordSize)
		if value&1 == 0 {
			target := o.base + uintptr(value)
			old := readWord(target, wordSize)
			writeWord(target, wordSize, old+uint64(o.base))
			anchor = o.base + uintptr(value) + uintptr(wordSize)
			continue
		}
		bits := value >> 1
		wordBits := uint64(wordSize * 8)
		for b := uint64(0); b < wordBits-1; b++ {
			if bits&(1<<b) != 0 {
				target := anchor + uintptr(b)*uintptr(wordSize)
				old := readWord(target, wordSize)
				writeWord(target, wordSize, old+uint64(o.base))
			}
		}
		anchor += uintptr(wordBits-1) * uintptr(wordSize)
	}
	return nil
}

func applyDataRelocations(o *LoadedObject, scope ScopeFrame, preFind PreFindFunc, hook RelocationHook) error {
	a := o.arch
	for _, e := range o.relocsEager {
		if e.Kind == a.RelCopy || e.Kind == a.RelNone {
			continue
		}
		P := o.base + e.Offset
		addend := e.Addend
		if e.Implicit {
			addend = int64(readWord(P, a.WordSize))
		}

		switch e.Kind {
		case a.RelRelative:
			writeWord(P, a.WordSize, uint64(int64(o.base)+addend))
			continue
		case a.RelIRelative:
			target := uintptr(int64(o.base) + addend)
			result := callIFunc(target)
			writeWord(P, a.WordSize, uint64(result))
			continue
		}

		ref := o.refSymbol(e.Symbol)
		S, defObj, err := resolveReloc(o, ref, o.requiredVersion(ref), scope, preFind)
		if err != nil {
			return err
		}
		var value uint64
		switch e.Kind {
		case a.RelAbs:
			value = uint64(int64(S) + addend)
		case a.RelPC:
			delta := int64(S) + addend - int64(P)
			if delta > math.MaxInt32 || delta < math.MinInt32 {
				return &LinkError{Object: o.name, Kind: RelocationOutOfRange, Symbol: ref.Name, RelocKind: e.Kind}
			}
			if hook != nil {
				if resolved, ok := hook(o, e, uintptr(delta)); ok {
					writeUint32(P, uint32(resolved))
					continue
				}
			}
			writeUint32(P, uint32(int32(delta)))
			continue
		case a.RelGlobDat:
			value = uint64(int64(S) + addend)
		case a.RelDTPMod:
			if defObj != nil {
				value = defObj.moduleID
			}
		case a.RelDTPOff:
			value = uint64(int64(ref.Value) + addend)
		case a.RelTPOff:
			if defObj != nil && defObj.tls != nil {
				value = uint64(defObj.tls.InitialExecOffset)
			}
		default:
			return &LinkError{Object: o.name, Kind: UnknownRelocationKind, RelocKind: e.Kind}
		}

		if hook != nil {
			if resolved, ok := hook(o, e, uintptr(value)); ok {
				value = uint64(resolved)
			}
		}
		writeWord(P, a.WordSize, value)
	}
	return nil
}

// applyPLTRelocations applies DT_JMPREL entries: eagerly if lazy binding
// was not requested, or by installing a per-object trampoline and
// deferring resolution otherwise, per spec section 4.5/4.6.
func applyPLTRelocations(o *LoadedObject, scope ScopeFrame, preFind PreFindFunc, opts RelocateOptions) error {
	if len(o.pltRelocs) == 0 {
		return nil
	}
	a := o.arch

	// DF_BIND_NOW / DF_1_NOW override the caller's Lazy request: the
	// object itself demands eager binding.
	if !opts.Lazy || o.bindNow {
		for _, e := range o.pltRelocs {
			P := o.base + e.Offset
			if e.Kind == a.RelIRelative {
				target := uintptr(int64(o.base) + e.Addend)
				writeWord(P, a.WordSize, uint64(callIFunc(target)))
				continue
			}
			ref := o.refSymbol(e.Symbol)
			S, _, err := resolveReloc(o, ref, o.requiredVersion(ref), scope, preFind)
			if err != nil {
				return err
			}
			writeWord(P, a.WordSize, uint64(int64(S)+e.Addend))
		}
		return nil
	}

	tp, err := newTrampolinePage(o)
	if err != nil {
		return err
	}
	o.trampoline = tp
	o.lazyScope = scope
	o.lazyPreFind = preFind
	o.lazyHook = opts.Hook
	o.relocsLazy = make([]RelocationEntry, len(o.pltRelocs))

	for i, e := range o.pltRelocs {
		P := o.base + e.Offset
		if e.Kind == a.RelIRelative {
			target := uintptr(int64(o.base) + e.Addend)
			writeWord(P, a.WordSize, uint64(callIFunc(target)))
			continue
		}
		stubAddr := tp.stubAddr(i)
		writeWord(P, a.WordSize, uint64(stubAddr))
		o.relocsLazy[i] = e
	}
	registerLazyObject(o)
	return nil
}

// flipProtections re-applies the real PT_LOAD protections now that every
// relocation write is done, per spec section 4.5's closing step.
func flipProtections(o *LoadedObject) error {
	for _, seg := range o.segments {
		if seg.Prot&ProtWrite != 0 {
			continue // segment is meant to stay writable, nothing to flip
		}
		if err := o.mm.Protect(seg.Vaddr, seg.Memsz, seg.Prot); err != nil {
			return &MapError{Object: o.name, Kind: MapFailed, Err: err}
		}
	}
	flushInstructionCache(o)
	return nil
}

// flushInstructionCache invalidates the icache over every executable
// segment once relocation writes have finished, per spec section 4.6
// ("flushes instruction cache on architectures that require it"). x86 and
// x86_64 keep the icache coherent with writes in hardware, so this is a
// no-op there; aarch64 does not, so a relocated PLT/GOT entry or an
// IRELATIVE-resolved function body could otherwise execute stale bytes.
func flushInstructionCache(o *LoadedObject) {
	if o.arch == nil || o.arch.Kind != MachineAArch64 {
		return
	}
	for _, seg := range o.segments {
		if seg.Prot&ProtExec == 0 {
			continue
		}
		clearInstructionCacheRange(seg.Vaddr, seg.Memsz)
	}
	if o.trampoline != nil {
		clearInstructionCacheRange(o.trampoline.base, uintptr(len(o.pltRelocs))*trampolineStubSize)
	}
}

// callIFunc invokes a GNU-indirect-function resolver and returns its
// result, per spec section 4.5's IRELATIVE handling: "call the function at
// B+A, write its return value into P".
func callIFunc(addr uintptr) uintptr {
	return callC0(addr)
}
