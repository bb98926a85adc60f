// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/sim/script.go
// Summary: Scripted scene animation: painters, a wanderer, a cursor.

package sim

import (
	"fmt"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/geom"
)

const (
	painterWidth  = 360
	painterHeight = 240
	bandWidth     = 24

	moveEvery  = 4
	blinkEvery = 120

	cursorSide = 24
)

var palette = []uint32{
	0xFF3366CC,
	0xFFCC6633,
	0xFF33CC66,
	0xFFCC3366,
	0xFF66CC33,
	0xFF6633CC,
}

// Script animates a small troupe of windows so an attached client has
// something to project: every painter sweeps a colour band, the first
// painter drifts across the desktop, the second minimises and restores
// on a cycle, and a cursor surface orbits the scene.
type Script struct {
	comp     *Compositor
	painters []*Surface
	cursor   *Surface

	tick   int
	dx, dy int
}

// StartScript creates the requested number of painter windows plus the
// cursor plane and registers the per-tick animation.
func StartScript(c *Compositor, windows int) *Script {
	if windows < 1 {
		windows = 1
	}
	s := &Script{comp: c, dx: 6, dy: 4}
	for i := 0; i < windows; i++ {
		r := geom.Rect{
			X: 64 + (i%4)*(painterWidth+48),
			Y: 48 + (i/4)*(painterHeight+64),
			W: painterWidth,
			H: painterHeight,
		}
		p := c.CreateSurface(compositor.RoleToplevel, fmt.Sprintf("painter-%d", i+1), r)
		p.SetAppID(fmt.Sprintf("railbridge.sim.painter%d", i+1))
		p.Paint(geom.Rect{W: r.W, H: r.H}, palette[i%len(palette)])
		p.Commit()
		s.painters = append(s.painters, p)
	}
	s.cursor = c.CreateCursor(geom.Size{W: cursorSide, H: cursorSide}, geom.Point{X: 4, Y: 4})
	paintCursor(s.cursor, 0xFFFFFFFF)
	c.shell.ActivateWindow(s.painters[0])
	c.OnTick(s.Step)
	return s
}

// Step advances the animation one frame.
func (s *Script) Step() {
	s.tick++
	for i, p := range s.painters {
		if p.destroyed || p.state == compositor.StateMinimized {
			continue
		}
		x := (s.tick*6 + i*37) % (painterWidth - bandWidth)
		p.Paint(geom.Rect{W: painterWidth, H: painterHeight}, palette[i%len(palette)])
		p.Paint(geom.Rect{X: x, W: bandWidth, H: painterHeight}, 0xFFFFFFFF)
		p.Commit()
	}

	if s.tick%moveEvery == 0 {
		s.wander()
	}
	if s.tick%blinkEvery == 0 && len(s.painters) > 1 {
		s.blink()
	}
	s.orbitCursor()
}

// wander bounces the first painter inside the output region.
func (s *Script) wander() {
	p := s.painters[0]
	if p.destroyed || p.state != compositor.StateNormal {
		return
	}
	region := s.comp.out.region
	next := geom.Point{X: p.pos.X + s.dx, Y: p.pos.Y + s.dy}
	if next.X < region.X || next.X+p.size.W > region.Right() {
		s.dx = -s.dx
		next.X = p.pos.X + s.dx
	}
	if next.Y < region.Y || next.Y+p.size.H > region.Bottom() {
		s.dy = -s.dy
		next.Y = p.pos.Y + s.dy
	}
	p.Move(next)
}

// blink toggles the second painter between minimised and normal.
func (s *Script) blink() {
	p := s.painters[1]
	if p.destroyed {
		return
	}
	if p.state == compositor.StateMinimized {
		s.comp.shell.RestoreWindow(p)
	} else {
		s.comp.shell.MinimizeWindow(p)
	}
}

// orbitCursor slides the pointer along a rectangular track just inside
// the output edges, pulsing its tint so the shape gets re-delivered.
func (s *Script) orbitCursor() {
	c := s.cursor
	if c == nil || c.destroyed {
		return
	}
	if s.tick%25 == 0 {
		paintCursor(c, palette[(s.tick/25)%len(palette)])
	}
	region := s.comp.out.region
	inset := geom.Rect{
		X: region.X + 40,
		Y: region.Y + 40,
		W: region.W - 80 - cursorSide,
		H: region.H - 80 - cursorSide,
	}
	perimeter := 2 * (inset.W + inset.H)
	if perimeter <= 0 {
		return
	}
	at := (s.tick * 16) % perimeter
	var p geom.Point
	switch {
	case at < inset.W:
		p = geom.Point{X: inset.X + at, Y: inset.Y}
	case at < inset.W+inset.H:
		p = geom.Point{X: inset.Right(), Y: inset.Y + (at - inset.W)}
	case at < 2*inset.W+inset.H:
		p = geom.Point{X: inset.Right() - (at - inset.W - inset.H), Y: inset.Bottom()}
	default:
		p = geom.Point{X: inset.X, Y: inset.Bottom() - (at - 2*inset.W - inset.H)}
	}
	c.Move(p)
}

// paintCursor draws a filled arrow-ish triangle over a transparent
// background.
func paintCursor(c *Surface, tint uint32) {
	for y := 0; y < cursorSide; y++ {
		w := cursorSide - y
		if w < 1 {
			w = 1
		}
		c.Paint(geom.Rect{Y: y, W: w, H: 1}, tint)
	}
	c.Commit()
}
