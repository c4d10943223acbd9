package elfcore

// resolve.go implements the ordered scope search (C7) from spec section
// 4.4: self (when DT_SYMBOLIC or a local binding), then the scope frame in
// listed order, then the caller-supplied fallback. The first matching
// defined symbol wins; an unmatched weak reference resolves to a null
// address instead of failing.

// resolveSymbol searches self (conditionally), scope, then preFind for
// name/wantVersion. selfFirst should be true when self.symbolic is set or
// the referencing relocation's symbol entry has STB_LOCAL binding, per
// spec section 4.4 rule 1.
func resolveSymbol(self *LoadedObject, selfFirst bool, name string, wantVersion string, scope ScopeFrame, preFind PreFindFunc) (addr uintptr, defObj *LoadedObject, found bool) {
	if selfFirst && self != nil && self.symbolIndex != nil {
		if sym, _, ok := self.symbolIndex.lookup(name, wantVersion); ok {
			return self.base + sym.Value, self, true
		}
	}

	for _, obj := range scope {
		if obj == nil || obj.symbolIndex == nil {
			continue
		}
		if sym, _, ok := obj.symbolIndex.lookup(name, wantVersion); ok {
			return obj.base + sym.Value, obj, true
		}
	}

	if preFind != nil {
		if a, ok := preFind(name); ok {
			return a, nil, true
		}
	}

	return 0, nil, false
}

// resolveReloc resolves one relocation's symbol reference, applying the
// weak-reference fallback from spec section 4.4: an unresolved weak
// reference succeeds with a null address, everything else fails with
// UnresolvedSymbol. When wantVersion is non-empty and the versioned search
// comes up empty, a second, version-agnostic search distinguishes "no such
// symbol anywhere in scope" from "the symbol exists, just not at the
// required version" — the latter fails with VersionError instead, per
// spec section 7.
func resolveReloc(self *LoadedObject, refSym Symbol, wantVersion string, scope ScopeFrame, preFind PreFindFunc) (uintptr, *LoadedObject, error) {
	selfFirst := self.symbolic || refSym.Bind == stbLocal
	addr, defObj, ok := resolveSymbol(self, selfFirst, refSym.Name, wantVersion, scope, preFind)
	if ok {
		return addr, defObj, nil
	}
	if refSym.isWeak() {
		return 0, nil, nil
	}
	if wantVersion != "" {
		if _, _, existsUnversioned := resolveSymbol(self, selfFirst, refSym.Name, "", scope, preFind); existsUnversioned {
			return 0, nil, &VersionError{Object: self.name, Symbol: refSym.Name, Version: wantVersion}
		}
	}
	return 0, nil, &LinkError{Object: self.name, Kind: UnresolvedSymbol, Symbol: refSym.Name}
}
