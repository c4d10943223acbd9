package elfcore

import "testing"

func newTestObject(name string) *LoadedObject {
	o := &LoadedObject{name: name}
	o.strongRefs.Store(1)
	return o
}

// TestAddDepDetectsCycle covers scenario S6: a DT_NEEDED graph where x
// depends on y and y depends (transitively) on x must be rejected instead
// of being linked into an unbounded cycle.
func TestAddDepDetectsCycle(t *testing.T) {
	x := newTestObject("x")
	y := newTestObject("y")

	if err := AddDep(x, y); err != nil {
		t.Fatalf("AddDep(x, y): %v", err)
	}
	err := AddDep(y, x)
	if err == nil {
		t.Fatal("AddDep(y, x) succeeded, want CircularDependency")
	}
	le, ok := err.(*LinkError)
	if !ok || le.Kind != CircularDependency {
		t.Fatalf("got error %v, want *LinkError{Kind: CircularDependency}", err)
	}

	// The rejected edge must not have been linked in.
	if len(y.deps) != 0 {
		t.Fatalf("y.deps = %v, want empty after rejected AddDep", y.deps)
	}
}

// TestCloseRefcounting covers property P5: a shared dependency is not torn
// down until every strong reference to it — including references held via
// other objects' dependency lists — has been released.
func TestCloseRefcounting(t *testing.T) {
	c := newTestObject("c")
	a := newTestObject("a")
	b := newTestObject("b")

	if err := AddDep(a, c); err != nil {
		t.Fatalf("AddDep(a, c): %v", err)
	}
	if err := AddDep(b, c); err != nil {
		t.Fatalf("AddDep(b, c): %v", err)
	}
	if got := c.strongRefs.Load(); got != 3 {
		t.Fatalf("c.strongRefs = %d, want 3 (own + a + b)", got)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("a.Close: %v", err)
	}
	if c.closed {
		t.Fatal("c finalized after only one of its two dependents closed")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("b.Close: %v", err)
	}
	if c.closed {
		t.Fatal("c finalized while its own direct owner still holds a reference")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("c.Close: %v", err)
	}
	if !c.closed {
		t.Fatal("c not finalized after its last strong reference was released")
	}
}
