package idpool

import "testing"

func TestAllocateAscends(t *testing.T) {
	p := New[string](10, 20)
	for want := uint32(10); want <= 13; want++ {
		id, err := p.Allocate("h")
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if id != want {
			t.Fatalf("Allocate = %d, want %d", id, want)
		}
	}
	if got := p.Used(); got != 4 {
		t.Fatalf("Used = %d, want 4", got)
	}
}

func TestFreedIDNotImmediatelyReused(t *testing.T) {
	p := New[int](1, 100)
	a, _ := p.Allocate(1)
	b, _ := p.Allocate(2)
	p.Free(a)
	c, err := p.Allocate(3)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if c == a {
		t.Fatalf("freed id %d reused before range wrapped", a)
	}
	if c != b+1 {
		t.Fatalf("Allocate = %d, want %d", c, b+1)
	}
}

func TestWrapReusesFreed(t *testing.T) {
	p := New[int](1, 3)
	for i := 1; i <= 3; i++ {
		if _, err := p.Allocate(i); err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
	}
	if _, err := p.Allocate(4); err != ErrExhausted {
		t.Fatalf("Allocate on full pool = %v, want ErrExhausted", err)
	}
	p.Free(2)
	id, err := p.Allocate(5)
	if err != nil {
		t.Fatalf("Allocate after free: %v", err)
	}
	if id != 2 {
		t.Fatalf("Allocate = %d, want freed id 2", id)
	}
}

func TestLookup(t *testing.T) {
	p := New[string](0, 10)
	id, _ := p.Allocate("window")
	h, ok := p.Lookup(id)
	if !ok || h != "window" {
		t.Fatalf("Lookup(%d) = %q, %v", id, h, ok)
	}
	if _, ok := p.Lookup(id + 1); ok {
		t.Fatal("Lookup of unallocated id succeeded")
	}
	p.Free(id)
	if _, ok := p.Lookup(id); ok {
		t.Fatal("Lookup after Free succeeded")
	}
}

func TestDoubleFreePanics(t *testing.T) {
	p := New[int](0, 10)
	id, _ := p.Allocate(1)
	p.Free(id)
	defer func() {
		if recover() == nil {
			t.Fatal("double free did not panic")
		}
	}()
	p.Free(id)
}

func TestForEachAscending(t *testing.T) {
	p := New[int](5, 50)
	for i := 0; i < 4; i++ {
		p.Allocate(i * 10)
	}
	var ids []uint32
	var handles []int
	p.ForEach(func(id uint32, h int) bool {
		ids = append(ids, id)
		handles = append(handles, h)
		return true
	})
	if len(ids) != 4 {
		t.Fatalf("visited %d entries, want 4", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not ascending: %v", ids)
		}
	}
	if handles[0] != 0 || handles[3] != 30 {
		t.Fatalf("handles out of order: %v", handles)
	}
}

func TestForEachEarlyStop(t *testing.T) {
	p := New[int](0, 10)
	p.Allocate(1)
	p.Allocate(2)
	p.Allocate(3)
	n := 0
	p.ForEach(func(uint32, int) bool {
		n++
		return n < 2
	})
	if n != 2 {
		t.Fatalf("visited %d entries after stop, want 2", n)
	}
}
