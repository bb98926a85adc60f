// Package geom provides the integer pixel geometry shared by the window
// engine: points, sizes, rectangles and a damage accumulator. Rectangles
// are half-open on the right and bottom edges.
package geom

// Point is a position in pixels.
type Point struct {
	X, Y int
}

// Size is a width and height in pixels.
type Size struct {
	W, H int
}

// IsZero reports whether either dimension is zero or negative.
func (s Size) IsZero() bool {
	return s.W <= 0 || s.H <= 0
}

// Rect is an axis-aligned rectangle. W and H may be zero, in which case
// the rectangle is empty and contains no points.
type Rect struct {
	X, Y, W, H int
}

// Margins describes per-edge insets such as resize shadows.
type Margins struct {
	Left, Top, Right, Bottom int
}

// IsZero reports whether all four margins are zero.
func (m Margins) IsZero() bool {
	return m.Left == 0 && m.Top == 0 && m.Right == 0 && m.Bottom == 0
}

// Empty reports whether r contains no points.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Right returns the exclusive right edge.
func (r Rect) Right() int { return r.X + r.W }

// Bottom returns the exclusive bottom edge.
func (r Rect) Bottom() int { return r.Y + r.H }

// Origin returns the upper-left corner.
func (r Rect) Origin() Point { return Point{r.X, r.Y} }

// Size returns the rectangle's dimensions.
func (r Rect) Size() Size { return Size{r.W, r.H} }

// Contains reports whether p lies inside r. The right and bottom edges
// are exclusive.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.Right() && p.Y >= r.Y && p.Y < r.Bottom()
}

// ContainsClosed reports whether p lies inside r treating all four edges
// as inclusive. Used when resolving points that sit exactly on a shared
// boundary between adjacent rectangles, where the first match wins.
func (r Rect) ContainsClosed(p Point) bool {
	return p.X >= r.X && p.X <= r.Right() && p.Y >= r.Y && p.Y <= r.Bottom()
}

// Intersect returns the intersection of r and o, or an empty rectangle
// if they do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	x1 := max(r.X, o.X)
	y1 := max(r.Y, o.Y)
	x2 := min(r.Right(), o.Right())
	y2 := min(r.Bottom(), o.Bottom())
	if x2 <= x1 || y2 <= y1 {
		return Rect{}
	}
	return Rect{x1, y1, x2 - x1, y2 - y1}
}

// Overlaps reports whether r and o share at least one point.
func (r Rect) Overlaps(o Rect) bool {
	return !r.Intersect(o).Empty()
}

// Union returns the smallest rectangle covering both r and o. An empty
// rectangle is the identity.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x1 := min(r.X, o.X)
	y1 := min(r.Y, o.Y)
	x2 := max(r.Right(), o.Right())
	y2 := max(r.Bottom(), o.Bottom())
	return Rect{x1, y1, x2 - x1, y2 - y1}
}

// Translate returns r shifted by dx, dy.
func (r Rect) Translate(dx, dy int) Rect {
	return Rect{r.X + dx, r.Y + dy, r.W, r.H}
}

// Inset shrinks r by the given margins. The result may be empty.
func (r Rect) Inset(m Margins) Rect {
	return Rect{
		X: r.X + m.Left,
		Y: r.Y + m.Top,
		W: r.W - m.Left - m.Right,
		H: r.H - m.Top - m.Bottom,
	}
}

// Outset grows r by the given margins.
func (r Rect) Outset(m Margins) Rect {
	return Rect{
		X: r.X - m.Left,
		Y: r.Y - m.Top,
		W: r.W + m.Left + m.Right,
		H: r.H + m.Top + m.Bottom,
	}
}

// Clamp returns r clipped to bounds.
func (r Rect) Clamp(bounds Rect) Rect {
	return r.Intersect(bounds)
}

// Region accumulates damage as a single bounding box. Adding rectangles
// grows the box; Take returns the accumulated bounds and resets it.
type Region struct {
	bounds Rect
	set    bool
}

// Add unions rect into the region. Empty rectangles are ignored.
func (g *Region) Add(rect Rect) {
	if rect.Empty() {
		return
	}
	if !g.set {
		g.bounds = rect
		g.set = true
		return
	}
	g.bounds = g.bounds.Union(rect)
}

// Empty reports whether nothing has been added since the last reset.
func (g *Region) Empty() bool { return !g.set }

// Bounds returns the accumulated bounding box without clearing it.
func (g *Region) Bounds() Rect {
	if !g.set {
		return Rect{}
	}
	return g.bounds
}

// Take returns the accumulated bounds and resets the region to empty.
func (g *Region) Take() Rect {
	b := g.Bounds()
	g.bounds = Rect{}
	g.set = false
	return b
}
