package elfcore

import (
	"sync"
	"sync/atomic"
)

// lifetime.go is the dependency-lifetime graph (C10): a process-wide
// module-id counter, a registry used to dispatch lazy-binding callbacks
// back to the right LoadedObject, and the strong-reference bookkeeping
// that enforces spec section 4.7's DAG invariant and reverse-topological
// destruction order. This generalizes the teacher's single
// sync.Once-guarded global API handle (memmod_linux.go's linuxAPI) into a
// map keyed by module id, exactly the generalization spec section 9's
// "Global state" note describes.
var nextModuleID atomic.Uint64

func allocModuleID() uint64 {
	return nextModuleID.Add(1)
}

var registryMu sync.RWMutex
var registry = map[uint64]*LoadedObject{}

func registerLazyObject(o *LoadedObject) {
	registryMu.Lock()
	registry[o.moduleID] = o
	registryMu.Unlock()
}

func lookupByModuleID(id uint64) *LoadedObject {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[id]
}

func unregisterObject(o *LoadedObject) {
	registryMu.Lock()
	delete(registry, o.moduleID)
	registryMu.Unlock()
}

// resolveLazySlot is invoked (via the cgo trampoline callback) the first
// time a deferred JUMP_SLOT is actually called. It is idempotent per spec
// section 4.6/5: if another thread already won the race and wrote the
// final address, this call observes that and returns it without doing a
// second lookup.
func (o *LoadedObject) resolveLazySlot(slot int) (uintptr, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if slot < 0 || slot >= len(o.relocsLazy) {
		return 0, &LinkError{Object: o.name, Kind: UnknownRelocationKind}
	}
	e := o.relocsLazy[slot]
	P := o.base + e.Offset
	stubAddr := o.trampoline.stubAddr(slot)

	if cur := acquireLoadUintptr(P); cur != stubAddr {
		return cur, nil
	}

	ref := o.refSymbol(e.Symbol)
	addr, _, err := resolveReloc(o, ref, o.requiredVersion(ref), o.lazyScope, o.lazyPreFind)
	if err != nil {
		return 0, err
	}
	if o.lazyHook != nil {
		if resolved, ok := o.lazyHook(o, e, addr); ok {
			addr = resolved
		}
	}
	releaseStoreUintptr(P, addr)
	return addr, nil
}

// loadingMu serializes AddDep across goroutines, so its reachability check
// and the edge it then inserts form one step and a cycle introduced by a
// DT_NEEDED graph is caught at link time. loadingSet is not read or written
// by AddDep.
var loadingMu sync.Mutex
var loadingSet = map[*LoadedObject]bool{}

// AddDep records a strong reference from dependent to dependency, failing
// with CircularDependency if dependency's closure already contains
// dependent.
func AddDep(dependent, dependency *LoadedObject) error {
	loadingMu.Lock()
	defer loadingMu.Unlock()

	if reaches(dependency, dependent, map[*LoadedObject]bool{}) {
		return &LinkError{Object: dependent.name, Kind: CircularDependency, Symbol: dependency.name}
	}

	dependent.mu.Lock()
	dependent.deps = append(dependent.deps, dependency)
	dependent.mu.Unlock()
	dependency.strongRefs.Add(1)
	return nil
}

func reaches(from, target *LoadedObject, seen map[*LoadedObject]bool) bool {
	if from == target {
		return true
	}
	if seen[from] {
		return false
	}
	seen[from] = true
	from.mu.RLock()
	deps := append([]*LoadedObject(nil), from.deps...)
	from.mu.RUnlock()
	for _, d := range deps {
		if reaches(d, target, seen) {
			return true
		}
	}
	return false
}

// Close drops the caller's strong reference to obj. The object is only
// actually finalized — fini run, load span unmapped, its own dependency
// references released in reverse order — once its reference count
// reaches zero, per spec section 4.7: "then b if nothing else holds it."
// This is what makes property P5 hold even when two dependents share a
// dependency: the shared dependency outlives whichever dependent is
// closed first.
func (o *LoadedObject) Close() error {
	if o.strongRefs.Add(-1) > 0 {
		return nil
	}
	return o.finalize()
}

func (o *LoadedObject) finalize() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	deps := append([]*LoadedObject(nil), o.deps...)
	region := o.loadSpan
	mm := o.mm
	o.mu.Unlock()

	RunFini(o)

	if o.trampoline != nil {
		unregisterObject(o)
		mm.Unmap(o.trampoline.region)
	}

	var err error
	if mm != nil {
		err = mm.Unmap(region)
	}

	for i := len(deps) - 1; i >= 0; i-- {
		deps[i].Close()
	}

	return err
}
