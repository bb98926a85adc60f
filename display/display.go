// Package display maps between the client desktop coordinate space and
// the compositor coordinate space across multiple monitors running at
// independent scale factors. A layout is computed once per monitor set
// and is immutable afterwards; recompute when the client announces a
// new set.
package display

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/geom"
)

// Orientation is the monitor rotation in degrees.
type Orientation int

const (
	Landscape        Orientation = 0
	Portrait         Orientation = 90
	LandscapeFlipped Orientation = 180
	PortraitFlipped  Orientation = 270
)

var (
	ErrNoMonitors    = errors.New("display: no monitors")
	ErrPrimaryCount  = errors.New("display: monitor set must contain exactly one primary")
	ErrPrimaryOrigin = errors.New("display: primary monitor must sit at client origin (0,0)")
)

// Monitor is one client-advertised monitor, in client desktop
// coordinates.
type Monitor struct {
	Name                string
	Rect                geom.Rect
	Workarea            geom.Rect
	PhysicalWidthMM     int
	PhysicalHeightMM    int
	Orientation         Orientation
	DesktopScalePercent int
	DeviceScale         float32
	Primary             bool
}

// Options selects the scale policy. The zero value disables scaling.
type Options struct {
	// HiDPI enables per-monitor scaling at all. When false every head
	// renders at 1.0 regardless of what the client advertises.
	HiDPI bool
	// Fractional keeps the exact advertised percentage (150% -> 1.5).
	Fractional bool
	// RoundUp rounds half-up to whole steps (150% -> 2.0). Only
	// consulted when Fractional is false.
	RoundUp bool
	// DebugScalePercent, when in [100, 500], replaces every monitor's
	// advertised percentage before the policy above is applied.
	DebugScalePercent int
}

// Head is one monitor with its compositor-space placement resolved.
type Head struct {
	Name             string
	Client           geom.Rect
	Compositor       geom.Rect
	ClientWorkarea   geom.Rect
	Workarea         geom.Rect
	Scale            float32
	ScalePercent     int
	PhysicalWidthMM  int
	PhysicalHeightMM int
	Orientation      Orientation
	Primary          bool
}

// Layout is the resolved mapping for one monitor set. Heads are kept in
// chain order; boundary points resolve to the earlier head.
type Layout struct {
	Heads        []*Head
	Bounds       geom.Rect
	ClientBounds geom.Rect

	connectedH     bool
	connectedV     bool
	scalingApplied bool
}

// ConnectedHorizontally reports whether the monitors form a single
// left-to-right chain.
func (l *Layout) ConnectedHorizontally() bool { return l.connectedH }

// ConnectedVertically reports whether the monitors form a single
// top-to-bottom chain.
func (l *Layout) ConnectedVertically() bool { return l.connectedV }

// ScalingApplied reports whether any head renders at a scale other
// than 1.0.
func (l *Layout) ScalingApplied() bool { return l.scalingApplied }

// Primary returns the primary head.
func (l *Layout) Primary() *Head {
	for _, h := range l.Heads {
		if h.Primary {
			return h
		}
	}
	return l.Heads[0]
}

// scaleFor applies the configured policy to one advertised percentage.
func scaleFor(percent int, opts Options) float32 {
	if !opts.HiDPI {
		return 1
	}
	if opts.DebugScalePercent >= 100 && opts.DebugScalePercent <= 500 {
		percent = opts.DebugScalePercent
	}
	if percent <= 0 {
		percent = 100
	}
	if opts.Fractional {
		return float32(percent) / 100
	}
	if opts.RoundUp {
		n := (percent + 50) / 100
		if n < 1 {
			n = 1
		}
		return float32(n)
	}
	n := percent / 100
	if n < 1 {
		n = 1
	}
	return float32(n)
}

// scaleDown converts a client-space length to compositor space.
func scaleDown(v int, scale float32) int {
	return int(math.Floor(float64(v)/float64(scale) + 0.5))
}

// scaleUp converts a compositor-space length to client space.
func scaleUp(v int, scale float32) int {
	return int(math.Floor(float64(v)*float64(scale) + 0.5))
}

func overlapsVertically(a, b geom.Rect) bool {
	return a.Y < b.Bottom() && b.Y < a.Bottom()
}

func overlapsHorizontally(a, b geom.Rect) bool {
	return a.X < b.Right() && b.X < a.Right()
}

// Compute validates the monitor set, detects the chain arrangement and
// resolves every head's compositor-space placement. Monitors that are
// neither a straight horizontal nor a straight vertical chain cannot
// carry per-monitor scaling; in that case scaling is dropped and every
// head renders at 1.0.
func Compute(monitors []Monitor, opts Options, log *zap.Logger) (*Layout, error) {
	if len(monitors) == 0 {
		return nil, ErrNoMonitors
	}
	primaries := 0
	for i := range monitors {
		if monitors[i].Rect.Empty() {
			return nil, fmt.Errorf("display: monitor %q has empty rect %v", monitors[i].Name, monitors[i].Rect)
		}
		if monitors[i].Primary {
			primaries++
			if monitors[i].Rect.X != 0 || monitors[i].Rect.Y != 0 {
				return nil, ErrPrimaryOrigin
			}
		}
	}
	if primaries != 1 {
		return nil, ErrPrimaryCount
	}

	byX := make([]Monitor, len(monitors))
	copy(byX, monitors)
	sort.SliceStable(byX, func(i, j int) bool {
		if byX[i].Rect.X != byX[j].Rect.X {
			return byX[i].Rect.X < byX[j].Rect.X
		}
		return byX[i].Rect.Y < byX[j].Rect.Y
	})
	connectedH := true
	for i := 1; i < len(byX); i++ {
		if byX[i].Rect.X != byX[i-1].Rect.Right() || !overlapsVertically(byX[i].Rect, byX[i-1].Rect) {
			connectedH = false
			break
		}
	}

	ordered := byX
	connectedV := false
	if !connectedH && len(monitors) > 1 {
		byY := make([]Monitor, len(monitors))
		copy(byY, monitors)
		sort.SliceStable(byY, func(i, j int) bool {
			if byY[i].Rect.Y != byY[j].Rect.Y {
				return byY[i].Rect.Y < byY[j].Rect.Y
			}
			return byY[i].Rect.X < byY[j].Rect.X
		})
		connectedV = true
		for i := 1; i < len(byY); i++ {
			if byY[i].Rect.Y != byY[i-1].Rect.Bottom() || !overlapsHorizontally(byY[i].Rect, byY[i-1].Rect) {
				connectedV = false
				break
			}
		}
		if connectedV {
			ordered = byY
		}
	}

	scales := make([]float32, len(ordered))
	anyScaled := false
	for i := range ordered {
		scales[i] = scaleFor(ordered[i].DesktopScalePercent, opts)
		if scales[i] != 1 {
			anyScaled = true
		}
	}
	if anyScaled && !connectedH && !connectedV {
		log.Warn("monitors do not form a straight chain, dropping per-monitor scaling",
			zap.Int("monitors", len(ordered)))
		for i := range scales {
			scales[i] = 1
		}
		anyScaled = false
	}

	l := &Layout{
		Heads:          make([]*Head, len(ordered)),
		connectedH:     connectedH,
		connectedV:     connectedV,
		scalingApplied: anyScaled,
	}
	accum := 0
	for i, m := range ordered {
		s := scales[i]
		var comp geom.Rect
		w := scaleDown(m.Rect.W, s)
		h := scaleDown(m.Rect.H, s)
		switch {
		case connectedV:
			comp = geom.Rect{X: scaleDown(m.Rect.X, s), Y: accum, W: w, H: h}
			accum += h
		default:
			// Horizontal chain, or a single monitor.
			comp = geom.Rect{X: accum, Y: scaleDown(m.Rect.Y, s), W: w, H: h}
			accum += w
		}
		head := &Head{
			Name:             m.Name,
			Client:           m.Rect,
			Compositor:       comp,
			ClientWorkarea:   m.Workarea,
			Scale:            s,
			ScalePercent:     int(math.Floor(float64(s)*100 + 0.5)),
			PhysicalWidthMM:  m.PhysicalWidthMM,
			PhysicalHeightMM: m.PhysicalHeightMM,
			Orientation:      Landscape,
			Primary:          m.Primary,
		}
		if m.Workarea.Empty() {
			head.ClientWorkarea = m.Rect
		}
		l.Heads[i] = head
	}

	// Normalize so the union's upper-left lands on (0,0).
	minX, minY := l.Heads[0].Compositor.X, l.Heads[0].Compositor.Y
	for _, head := range l.Heads[1:] {
		minX = min(minX, head.Compositor.X)
		minY = min(minY, head.Compositor.Y)
	}
	for _, head := range l.Heads {
		head.Compositor = head.Compositor.Translate(-minX, -minY)
	}

	for _, head := range l.Heads {
		wa := geom.Rect{
			X: head.Compositor.X + scaleDown(head.ClientWorkarea.X-head.Client.X, head.Scale),
			Y: head.Compositor.Y + scaleDown(head.ClientWorkarea.Y-head.Client.Y, head.Scale),
			W: scaleDown(head.ClientWorkarea.W, head.Scale),
			H: scaleDown(head.ClientWorkarea.H, head.Scale),
		}
		head.Workarea = wa.Clamp(head.Compositor)
		l.Bounds = l.Bounds.Union(head.Compositor)
		l.ClientBounds = l.ClientBounds.Union(head.Client)
	}

	for _, head := range l.Heads {
		log.Debug("head placed",
			zap.String("name", head.Name),
			zap.Bool("primary", head.Primary),
			zap.Float32("scale", head.Scale),
			zap.Any("client", head.Client),
			zap.Any("compositor", head.Compositor))
	}
	return l, nil
}

// HeadAt returns the head whose compositor-space rectangle contains p.
// Points exactly on a shared boundary resolve to the earlier head in
// chain order. Returns nil when p is outside every head.
func (l *Layout) HeadAt(p geom.Point) *Head {
	for _, head := range l.Heads {
		if head.Compositor.ContainsClosed(p) {
			return head
		}
	}
	return nil
}

// HeadAtClient is HeadAt for a client-space point.
func (l *Layout) HeadAtClient(p geom.Point) *Head {
	for _, head := range l.Heads {
		if head.Client.ContainsClosed(p) {
			return head
		}
	}
	return nil
}

// ToClient translates a compositor-space point into client space using
// the owning head's scale and placement.
func (l *Layout) ToClient(p geom.Point) (geom.Point, *Head, bool) {
	head := l.HeadAt(p)
	if head == nil {
		return geom.Point{}, nil, false
	}
	return geom.Point{
		X: head.Client.X + scaleUp(p.X-head.Compositor.X, head.Scale),
		Y: head.Client.Y + scaleUp(p.Y-head.Compositor.Y, head.Scale),
	}, head, true
}

// ToCompositor translates a client-space point into compositor space.
func (l *Layout) ToCompositor(p geom.Point) (geom.Point, *Head, bool) {
	head := l.HeadAtClient(p)
	if head == nil {
		return geom.Point{}, nil, false
	}
	return geom.Point{
		X: head.Compositor.X + scaleDown(p.X-head.Client.X, head.Scale),
		Y: head.Compositor.Y + scaleDown(p.Y-head.Client.Y, head.Scale),
	}, head, true
}

// RectToClient translates a compositor-space rectangle into client
// space. The owning head is chosen by the rectangle's origin; the whole
// rectangle is scaled by that head's factor.
func (l *Layout) RectToClient(r geom.Rect) (geom.Rect, *Head, bool) {
	p, head, ok := l.ToClient(r.Origin())
	if !ok {
		return geom.Rect{}, nil, false
	}
	return geom.Rect{
		X: p.X,
		Y: p.Y,
		W: scaleUp(r.W, head.Scale),
		H: scaleUp(r.H, head.Scale),
	}, head, true
}

// RectToCompositor translates a client-space rectangle into compositor
// space, chosen by the rectangle's origin.
func (l *Layout) RectToCompositor(r geom.Rect) (geom.Rect, *Head, bool) {
	p, head, ok := l.ToCompositor(r.Origin())
	if !ok {
		return geom.Rect{}, nil, false
	}
	return geom.Rect{
		X: p.X,
		Y: p.Y,
		W: scaleDown(r.W, head.Scale),
		H: scaleDown(r.H, head.Scale),
	}, head, true
}
