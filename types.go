package elfcore

import (
	"debug/elf"
	"sync"
	"sync/atomic"
)

// ElfImage is the parsed, not-yet-mapped image produced by Parse (C2). It
// is immutable after construction and is consumed exactly once, by
// LoadDylib; nothing retains a reference to it afterward, mirroring the
// reference implementation's ElfDylib-builder split between a transient
// parse phase and the durable mapped object (original_source/src/lib.rs).
type ElfImage struct {
	Source ObjectSource
	Name   string

	Class    int // elfClass32 or elfClass64
	Data     int // elfData2LSB or elfData2MSB
	Order    elfByteOrder
	Machine  elf.Machine
	Type     elf.Type
	Entry    uint64
	PhOff    uint64
	PhEntSize uint64
	PhNum    uint64

	Phdrs []Phdr

	// DynOff/DynSize locate the raw PT_DYNAMIC segment content within the
	// byte source, unrebased; present only for ET_DYN/ET_EXEC objects.
	HasDynamic bool
	DynOff     uint64
	DynSize    uint64
	DynEntries []rawDyn

	Arch *ArchInfo
}

// Phdr is a decoded ELF64-shaped program header; 32-bit fields are widened
// on parse.
type Phdr struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// rawDyn is one unrebased {d_tag, d_val/d_ptr} pair straight from
// PT_DYNAMIC, exactly as original_source/src/dynamic.rs's parse loop reads
// them before any `+ base` rebasing happens.
type rawDyn struct {
	Tag int64
	Val uint64
}

// Segment is the mapped, read-only view of one PT_LOAD region, per spec
// section 3's LoadedObject.segments.
type Segment struct {
	Vaddr  uintptr // rebased
	Memsz  uintptr
	Flags  uint32
	Prot   Prot
}

// TLSInfo describes the module's thread-local template, when PT_TLS is
// present. Only basic TLS-offset relocations are supported per spec
// section 1's Non-goals.
type TLSInfo struct {
	ModuleID   uint64
	TemplateVA uintptr
	TemplateSz uintptr
	TBSSSize   uintptr
	Align      uintptr
	// InitialExecOffset is the value a TPOFF relocation against this module
	// writes. The loader never assigns it, so it stays zero unless set.
	InitialExecOffset int64
}

// VersionTables holds the raw, rebased DT_VERDEF/DT_VERNEED tables used by
// the symbol index's version matching (C6).
type VersionTables struct {
	Versym    uintptr // array of uint16, one per dynsym entry
	Verdef    uintptr
	VerdefNum uint32
	Verneed   uintptr
	VerneedNum uint32
	Strtab    uintptr
	StrtabSz  uint64
}

// RelocationEntry is the arch-neutral decode of one REL/RELA table entry,
// per spec section 3.
type RelocationEntry struct {
	Offset   uintptr
	Kind     uint32
	Symbol   uint32 // 0 => no symbol
	Addend   int64
	Implicit bool // true for REL-table entries: addend is read from *Offset at apply time
}

// LoadedObject is a mapped ELF object, per spec section 3. It transitions
// from unrelocated to relocated exactly once; that transition is the only
// mutation after construction besides idempotent lazy GOT writes.
type LoadedObject struct {
	mu sync.RWMutex

	name     string
	arch     *ArchInfo
	base     uintptr
	loadSpan Region

	segments []Segment

	dynsymAddr uintptr
	dynsymCnt  uint32
	dynstrAddr uintptr
	dynstrLen  uint64

	symbolIndex *symbolIndex
	versions    *VersionTables

	relocsEager []RelocationEntry // DT_RELA/DT_REL entries (non-PLT)
	pltRelocs   []RelocationEntry // DT_JMPREL entries, applied eagerly or deferred depending on RelocateOptions.Lazy
	relocsLazy  []RelocationEntry // the subset of pltRelocs actually deferred to the trampoline, set by Relocate

	relrAddr uintptr
	relrSize uint64
	relrEnt  uint64

	is64     bool
	wordBits uint32

	pltgotAddr uintptr
	gotAddr    uintptr

	initFn      uintptr
	finiFn      uintptr
	initArray   []uintptr
	finiArray   []uintptr

	needed []string
	soname string

	deps []*LoadedObject

	tls *TLSInfo

	flags  uint32
	flags1 uint32
	symbolic bool
	bindNow  bool

	relocated atomic.Bool
	strongRefs atomic.Int32

	lazyScope   ScopeFrame
	lazyPreFind PreFindFunc
	lazyHook    RelocationHook

	// trampoline holds the per-object lazy-binding stub page, present only
	// when lazy binding was requested and the object has a non-empty
	// relocsLazy set.
	trampoline *trampolinePage

	mm  Mmap
	src ObjectSource

	moduleID uint64

	closed bool
}

// Name returns the object's diagnostic name (its DT_SONAME, or the name
// supplied at load time if none).
func (o *LoadedObject) Name() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.name
}

// Base returns the load base address.
func (o *LoadedObject) Base() uintptr {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.base
}

// LoadSpan returns the [base, base+size) range covering every PT_LOAD
// segment.
func (o *LoadedObject) LoadSpan() Region {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loadSpan
}

// Flags returns the object's raw DT_FLAGS bits. Only DF_SYMBOLIC and
// DF_BIND_NOW are interpreted by the loader itself; the rest are exposed
// here for callers that need them.
func (o *LoadedObject) Flags() uint32 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.flags
}

// Flags1 returns the object's raw DT_FLAGS_1 bits (e.g. DF_1_NOW). Only
// DF_1_NOW is interpreted by the loader itself.
func (o *LoadedObject) Flags1() uint32 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.flags1
}

// Segments returns the ordered, rebased PT_LOAD segment views.
func (o *LoadedObject) Segments() []Segment {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Segment, len(o.segments))
	copy(out, o.segments)
	return out
}

// IsRelocated reports whether Relocate has completed successfully for this
// object.
func (o *LoadedObject) IsRelocated() bool { return o.relocated.Load() }

// Symbol is a read-only view of one dynamic symbol table entry, per spec
// section 3.
type Symbol struct {
	Name    string
	Value   uintptr // unrelocated (file) value as read from symtab
	Size    uint64
	Bind    uint8
	Type    uint8
	Shndx   uint16
	VerNdx  uint16
}

func (s Symbol) isUndef() bool { return s.Shndx == shnUndef }
func (s Symbol) isWeak() bool  { return s.Bind == stbWeak }

// ScopeFrame is the ordered list of objects consulted while resolving one
// relocation pass, per spec section 3.
type ScopeFrame []*LoadedObject

// LoadOptions configures LoadDylib.
type LoadOptions struct {
	// Name overrides the diagnostic name used before DT_SONAME (if any) is
	// known; typically the path or buffer tag the caller loaded from.
	Name string
	// FixedBase requests loading at a specific address for non-relocatable
	// (ET_EXEC) inputs; ignored for ET_DYN.
	FixedBase uintptr
	Logger    Logger
}

// RelocateOptions configures Relocate.
type RelocateOptions struct {
	// Lazy enables deferred PLT resolution: JUMP_SLOT entries are pointed
	// at a per-object trampoline instead of being resolved immediately.
	Lazy bool
	Hook RelocationHook
}

type elfByteOrder = byteOrderKind

type byteOrderKind int

const (
	orderLSB byteOrderKind = iota
	orderMSB
)
