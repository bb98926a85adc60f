package geom

import "testing"

func TestIntersect(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect
		want Rect
	}{
		{"overlap", Rect{0, 0, 100, 100}, Rect{50, 50, 100, 100}, Rect{50, 50, 50, 50}},
		{"contained", Rect{0, 0, 100, 100}, Rect{10, 10, 20, 20}, Rect{10, 10, 20, 20}},
		{"disjoint", Rect{0, 0, 10, 10}, Rect{20, 20, 10, 10}, Rect{}},
		{"edge touch", Rect{0, 0, 10, 10}, Rect{10, 0, 10, 10}, Rect{}},
		{"negative origin", Rect{-50, -50, 100, 100}, Rect{0, 0, 100, 100}, Rect{0, 0, 50, 50}},
	}
	for _, tc := range tests {
		got := tc.a.Intersect(tc.b)
		if got != tc.want {
			t.Errorf("%s: Intersect(%v, %v) = %v, want %v", tc.name, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestUnion(t *testing.T) {
	a := Rect{0, 0, 10, 10}
	b := Rect{20, 5, 10, 10}
	want := Rect{0, 0, 30, 15}
	if got := a.Union(b); got != want {
		t.Fatalf("Union = %v, want %v", got, want)
	}
	if got := (Rect{}).Union(b); got != b {
		t.Fatalf("empty union identity = %v, want %v", got, b)
	}
	if got := a.Union(Rect{}); got != a {
		t.Fatalf("union with empty = %v, want %v", got, a)
	}
}

func TestContainsEdges(t *testing.T) {
	r := Rect{0, 0, 10, 10}
	if !r.Contains(Point{0, 0}) {
		t.Error("origin should be inside")
	}
	if r.Contains(Point{10, 5}) {
		t.Error("right edge should be outside half-open rect")
	}
	if !r.ContainsClosed(Point{10, 10}) {
		t.Error("right edge should be inside closed rect")
	}
}

func TestInsetOutsetRoundTrip(t *testing.T) {
	r := Rect{100, 100, 640, 480}
	m := Margins{Left: 7, Top: 5, Right: 7, Bottom: 9}
	if got := r.Inset(m).Outset(m); got != r {
		t.Fatalf("inset/outset round trip = %v, want %v", got, r)
	}
	tiny := Rect{0, 0, 5, 5}
	if !tiny.Inset(Margins{Left: 3, Right: 3}).Empty() {
		t.Error("over-inset rect should be empty")
	}
}

func TestRegionAccumulates(t *testing.T) {
	var reg Region
	if !reg.Empty() {
		t.Fatal("new region should be empty")
	}
	reg.Add(Rect{10, 10, 5, 5})
	reg.Add(Rect{}) // ignored
	reg.Add(Rect{40, 0, 10, 10})
	want := Rect{10, 0, 40, 20}
	if got := reg.Bounds(); got != want {
		t.Fatalf("Bounds = %v, want %v", got, want)
	}
	if got := reg.Take(); got != want {
		t.Fatalf("Take = %v, want %v", got, want)
	}
	if !reg.Empty() {
		t.Fatal("region should be empty after Take")
	}
	if got := reg.Take(); !got.Empty() {
		t.Fatalf("Take on empty region = %v, want empty", got)
	}
}
