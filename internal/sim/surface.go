// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/sim/surface.go
// Summary: Scripted surfaces and the stacked scene they live in.

package sim

import (
	"encoding/binary"
	"fmt"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/geom"
)

// Surface is one scripted pixel source. Pixels pack as 0xAARRGGBB;
// little-endian stores match the BGRA byte order of the buffer. All
// methods are loop-thread only; goroutines feeding a surface go
// through Compositor.Post.
type Surface struct {
	comp *Compositor

	role     compositor.Role
	parent   compositor.Surface
	state    compositor.WindowState
	title    string
	appID    string
	pos      geom.Point
	size     geom.Size
	geometry geom.Rect
	scale    float64
	opaque   bool
	hotspot  geom.Point

	imageName string
	pid       uint32

	pix        []byte // stride size.W*4
	pending    geom.Region
	hasContent bool
	destroyed  bool

	// normalRect remembers the placement to restore after a maximize.
	normalRect geom.Rect
	feedCursor int
}

func (s *Surface) Role() compositor.Role         { return s.role }
func (s *Surface) Parent() compositor.Surface    { return s.parent }
func (s *Surface) State() compositor.WindowState { return s.state }
func (s *Surface) Title() string                 { return s.title }
func (s *Surface) AppID() string                 { return s.appID }
func (s *Surface) Position() geom.Point          { return s.pos }
func (s *Surface) Size() geom.Size               { return s.size }
func (s *Surface) Geometry() geom.Rect           { return s.geometry }
func (s *Surface) BufferScale() float64          { return s.scale }
func (s *Surface) Opaque() bool                  { return s.opaque }
func (s *Surface) CursorHotspot() geom.Point     { return s.hotspot }

// Snapshot copies the pixels of r into a fresh slice, stride r.W*4.
func (s *Surface) Snapshot(r geom.Rect) ([]byte, error) {
	if s.destroyed {
		return nil, fmt.Errorf("sim: snapshot of destroyed surface %q", s.title)
	}
	if r.Empty() || r.X < 0 || r.Y < 0 || r.Right() > s.size.W || r.Bottom() > s.size.H {
		return nil, fmt.Errorf("sim: snapshot rect %+v outside %dx%d buffer", r, s.size.W, s.size.H)
	}
	out := make([]byte, r.W*r.H*4)
	stride := s.size.W * 4
	for y := 0; y < r.H; y++ {
		src := (r.Y+y)*stride + r.X*4
		copy(out[y*r.W*4:(y+1)*r.W*4], s.pix[src:src+r.W*4])
	}
	return out, nil
}

// Paint fills r with one packed pixel value and adds it to the pending
// damage. Clients hear about it on the next Commit.
func (s *Surface) Paint(r geom.Rect, argb uint32) {
	r = r.Intersect(geom.Rect{W: s.size.W, H: s.size.H})
	if r.Empty() {
		return
	}
	stride := s.size.W * 4
	for y := r.Y; y < r.Bottom(); y++ {
		row := s.pix[y*stride+r.X*4 : y*stride+r.Right()*4]
		for x := 0; x < r.W; x++ {
			binary.LittleEndian.PutUint32(row[x*4:], argb)
		}
	}
	s.hasContent = true
	s.pending.Add(r)
}

// Commit publishes the accumulated damage. With nothing pending this
// is a state-only commit.
func (s *Surface) Commit() {
	if s.destroyed {
		return
	}
	s.comp.committed(s, s.pending.Take())
}

// Move repositions the surface. Placement is metadata; the next
// repaint picks it up without a commit. Moving a normal window also
// retargets where a later restore will land.
func (s *Surface) Move(p geom.Point) {
	s.pos = p
	if s.state == compositor.StateNormal {
		s.normalRect = geom.Rect{X: p.X, Y: p.Y, W: s.size.W, H: s.size.H}
	}
}

// Resize reallocates the buffer. Content is lost; callers repaint and
// commit afterwards.
func (s *Surface) Resize(size geom.Size) {
	if size == s.size {
		return
	}
	s.size = size
	s.pix = make([]byte, size.W*size.H*4)
	s.feedCursor = 0
	s.pending = geom.Region{}
	s.pending.Add(geom.Rect{W: size.W, H: size.H})
	if s.state == compositor.StateNormal {
		s.normalRect = geom.Rect{X: s.pos.X, Y: s.pos.Y, W: size.W, H: size.H}
	}
}

func (s *Surface) SetTitle(title string)   { s.title = title }
func (s *Surface) SetAppID(id string)      { s.appID = id }
func (s *Surface) SetGeometry(r geom.Rect) { s.geometry = r }
func (s *Surface) SetOpaque(v bool)        { s.opaque = v }
func (s *Surface) SetHotspot(p geom.Point) { s.hotspot = p }

// SetState switches the show state and schedules a stacking broadcast,
// since minimized windows drop out of the published order.
func (s *Surface) SetState(st compositor.WindowState) {
	if st == s.state {
		return
	}
	s.state = st
	s.comp.zOrderChanged()
}

// SetRole retracks the surface under the new role.
func (s *Surface) SetRole(role compositor.Role) {
	if role == s.role {
		return
	}
	s.role = role
	s.comp.roleChanged(s)
}

// Destroy removes the surface from the scene and notifies every
// client. Idempotent.
func (s *Surface) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.comp.removeSurface(s)
}

// feed renders captured process output into the buffer, one grey pixel
// per byte in reading order, wrapping back to the top. The touched
// rows become pending damage and are committed immediately.
func (s *Surface) feed(chunk []byte) {
	if s.destroyed || s.size.IsZero() || len(chunk) == 0 {
		return
	}
	w, h := s.size.W, s.size.H
	start := s.feedCursor
	for _, b := range chunk {
		off := s.feedCursor * 4
		s.pix[off] = b
		s.pix[off+1] = b
		s.pix[off+2] = b
		s.pix[off+3] = 0xFF
		s.feedCursor = (s.feedCursor + 1) % (w * h)
	}
	s.hasContent = true
	if len(chunk) >= w*h || s.feedCursor <= start {
		s.pending.Add(geom.Rect{W: w, H: h})
	} else {
		firstRow := start / w
		lastRow := (s.feedCursor - 1) / w
		s.pending.Add(geom.Rect{Y: firstRow, W: w, H: lastRow - firstRow + 1})
	}
	s.Commit()
}

// View stacks one surface; subviews sit above it, top-most first.
type View struct {
	surface *Surface
	subs    []*View
	marker  bool
}

func (v *View) Surface() compositor.Surface {
	if v.surface == nil {
		return nil
	}
	return v.surface
}

func (v *View) Subviews() []compositor.View {
	out := make([]compositor.View, len(v.subs))
	for i, sub := range v.subs {
		out[i] = sub
	}
	return out
}

func (v *View) IsMarker() bool { return v.marker }

// Layer is a front-to-back run of views.
type Layer struct {
	views []*View
}

func (l *Layer) Views() []compositor.View {
	out := make([]compositor.View, len(l.views))
	for i, v := range l.views {
		out[i] = v
	}
	return out
}

// Scene is the stacking order, top layer first.
type Scene struct {
	layers []*Layer
}

func (s *Scene) Layers() []compositor.Layer {
	out := make([]compositor.Layer, len(s.layers))
	for i, l := range s.layers {
		out[i] = l
	}
	return out
}

// Output is the single simulated head.
type Output struct {
	name     string
	region   geom.Rect
	workarea geom.Rect
}

func (o *Output) Name() string      { return o.name }
func (o *Output) Region() geom.Rect { return o.region }

// Workarea returns the client-provided desktop workarea, or the full
// region before one arrives.
func (o *Output) Workarea() geom.Rect {
	if o.workarea.Empty() {
		return o.region
	}
	return o.workarea
}
