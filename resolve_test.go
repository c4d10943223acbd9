package elfcore

import "testing"

// TestResolveSymbolDeterministic covers property P4: for a fixed scope
// order and fixed pre-find, resolving the same reference repeatedly
// returns the same address every time.
func TestResolveSymbolDeterministic(t *testing.T) {
	liba := newTestObject("liba")
	liba.base = 0x7f0000000000
	liba.symbolIndex = buildSysVSymbolIndex(t, "a", 0, 0x20)

	scope := ScopeFrame{liba}

	var first uintptr
	for i := 0; i < 5; i++ {
		addr, defObj, ok := resolveSymbol(nil, false, "a", "", scope, nil)
		if !ok {
			t.Fatalf("iteration %d: resolveSymbol(a) not found", i)
		}
		if defObj != liba {
			t.Fatalf("iteration %d: resolved into %v, want liba", i, defObj)
		}
		if i == 0 {
			first = addr
		} else if addr != first {
			t.Fatalf("iteration %d: resolved %#x, want %#x (same as iteration 0)", i, addr, first)
		}
	}
	if want := liba.base + 0x20; first != want {
		t.Fatalf("resolved %#x, want %#x", first, want)
	}
}

// TestResolveSymbolScopeOrder covers spec section 4.4 rule 2: the scope
// frame is searched in listed order, so an earlier entry's definition wins
// over a later one exporting the same name.
func TestResolveSymbolScopeOrder(t *testing.T) {
	first := newTestObject("first")
	first.base = 0x1000
	first.symbolIndex = buildSysVSymbolIndex(t, "dup", 0, 0x10)

	second := newTestObject("second")
	second.base = 0x2000
	second.symbolIndex = buildSysVSymbolIndex(t, "dup", 0, 0x30)

	scope := ScopeFrame{first, second}
	addr, defObj, ok := resolveSymbol(nil, false, "dup", "", scope, nil)
	if !ok {
		t.Fatal("resolveSymbol(dup) not found")
	}
	if defObj != first || addr != first.base+0x10 {
		t.Fatalf("resolved into %v at %#x, want first at %#x", defObj, addr, first.base+0x10)
	}
}

// TestResolveRelocWeakFallback covers spec section 4.4's weak-reference
// fallback: an unresolved weak symbol reference succeeds with a null
// address instead of producing an UnresolvedSymbol error.
func TestResolveRelocWeakFallback(t *testing.T) {
	self := newTestObject("self")
	ref := Symbol{Name: "missing", Bind: stbWeak}

	addr, defObj, err := resolveReloc(self, ref, "", nil, nil)
	if err != nil {
		t.Fatalf("resolveReloc(weak missing) returned error: %v", err)
	}
	if addr != 0 || defObj != nil {
		t.Fatalf("resolveReloc(weak missing) = (%#x, %v), want (0, nil)", addr, defObj)
	}
}

// TestResolveRelocUnresolvedStrong covers the non-weak half of the same
// rule: a strong reference that can't be resolved is an error.
func TestResolveRelocUnresolvedStrong(t *testing.T) {
	self := newTestObject("self")
	ref := Symbol{Name: "missing", Bind: stbGlobal}

	_, _, err := resolveReloc(self, ref, "", nil, nil)
	if err == nil {
		t.Fatal("resolveReloc(strong missing) succeeded, want UnresolvedSymbol")
	}
	le, ok := err.(*LinkError)
	if !ok || le.Kind != UnresolvedSymbol {
		t.Fatalf("got error %v, want *LinkError{Kind: UnresolvedSymbol}", err)
	}
}

// TestResolveSymbolPreFindFallback covers scenario S3: a reference absent
// from both self and the scope frame still resolves if the caller's
// PreFindFunc has an answer, and the scope frame's definitions still take
// priority over it when both would match.
func TestResolveSymbolPreFindFallback(t *testing.T) {
	const hostAddr = uintptr(0x555500000000)
	preFind := func(name string) (uintptr, bool) {
		if name == "getpid" {
			return hostAddr, true
		}
		return 0, false
	}

	addr, defObj, ok := resolveSymbol(nil, false, "getpid", "", nil, preFind)
	if !ok {
		t.Fatal("resolveSymbol(getpid) via preFind not found")
	}
	if defObj != nil {
		t.Fatalf("resolveSymbol(getpid) via preFind reported defObj = %v, want nil", defObj)
	}
	if addr != hostAddr {
		t.Fatalf("resolveSymbol(getpid) = %#x, want %#x", addr, hostAddr)
	}

	scoped := newTestObject("scoped")
	scoped.base = 0x9000
	scoped.symbolIndex = buildSysVSymbolIndex(t, "getpid", 0, 0x50)
	addr, defObj, ok = resolveSymbol(nil, false, "getpid", "", ScopeFrame{scoped}, preFind)
	if !ok {
		t.Fatal("resolveSymbol(getpid) with scope defining it: not found")
	}
	if defObj != scoped || addr != scoped.base+0x50 {
		t.Fatalf("resolveSymbol(getpid) = (%#x, %v), want the scope's definition at %#x", addr, defObj, scoped.base+0x50)
	}

	if _, _, ok := resolveSymbol(nil, false, "nonexistent", "", nil, preFind); ok {
		t.Fatal("resolveSymbol(nonexistent) unexpectedly resolved through preFind")
	}
}
