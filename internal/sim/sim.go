// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/sim/sim.go
// Summary: Synthetic compositor loop: scene bookkeeping, client fanout.

// Package sim is a synthetic compositor for driving the bridge without
// a real display server: scripted surfaces with damage, a stacked
// scene, a shell that honours client requests, and pty-captured
// process launches. The goroutine running the loop stands in for the
// compositor thread; everything else posts onto it.
package sim

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/display"
	"github.com/IcebergThings/railbridge/geom"
)

// Client is the bridge-side consumer the compositor drives: surface
// lifecycle notifications plus the per-tick pump and repaint calls.
// rail.Peer satisfies it.
type Client interface {
	compositor.SurfaceObserver
	NotifyWindowActivated(s compositor.Surface)
	NotifyZOrderChanged()
	SubmitWindowIcon(s compositor.Surface, img image.Image)
	SendMinMaxInfo(s compositor.Surface, info compositor.MinMaxInfo)
	Activated() bool
	TornDown() bool
	RunPending() int
	RepaintOutput(out compositor.Output)
	Teardown()
}

// Params sizes the simulated desktop. Zero values fall back to a
// single 1920x1080 head at 100% repainting every 50ms.
type Params struct {
	Width, Height int
	ScalePercent  int
	FrameInterval time.Duration
	Log           *zap.Logger
}

const (
	defaultWidth    = 1920
	defaultHeight   = 1080
	defaultInterval = 50 * time.Millisecond
	taskBacklog     = 256
)

type attached struct {
	client   Client
	replayed bool
}

// Compositor owns the scene, the single output, and the shell. All
// fields are loop-thread only; Post and Wake are the only safe entry
// points from other goroutines.
type Compositor struct {
	log   *zap.Logger
	out   *Output
	base  *Layer
	scene *Scene
	shell *Shell

	frameInterval time.Duration
	monitors      []display.Monitor

	surfaces []*Surface // creation order, parents before children
	viewOf   map[*Surface]*View

	clients []*attached
	tickers []func()

	tasks chan func()
	wake  chan struct{}
	quit  chan struct{}

	launchCount int
}

func New(p Params) *Compositor {
	if p.Width <= 0 {
		p.Width = defaultWidth
	}
	if p.Height <= 0 {
		p.Height = defaultHeight
	}
	if p.ScalePercent <= 0 {
		p.ScalePercent = 100
	}
	if p.FrameInterval <= 0 {
		p.FrameInterval = defaultInterval
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	base := &Layer{}
	c := &Compositor{
		log:           log,
		base:          base,
		scene:         &Scene{layers: []*Layer{base}},
		frameInterval: p.FrameInterval,
		viewOf:        make(map[*Surface]*View),
		tasks:         make(chan func(), taskBacklog),
		wake:          make(chan struct{}, 1),
		quit:          make(chan struct{}),
	}
	c.out = &Output{name: "SIM-1", region: geom.Rect{W: p.Width, H: p.Height}}
	c.shell = &Shell{comp: c}
	c.monitors = []display.Monitor{{
		Name:                "SIM-1",
		Rect:                geom.Rect{W: p.Width, H: p.Height},
		Workarea:            geom.Rect{W: p.Width, H: p.Height},
		PhysicalWidthMM:     p.Width * 254 / 960,
		PhysicalHeightMM:    p.Height * 254 / 960,
		DesktopScalePercent: p.ScalePercent,
		DeviceScale:         1,
		Primary:             true,
	}}
	return c
}

func (c *Compositor) Shell() *Shell               { return c.shell }
func (c *Compositor) Scene() compositor.Scene     { return c.scene }
func (c *Compositor) Output() compositor.Output   { return c.out }
func (c *Compositor) Monitors() []display.Monitor { return c.monitors }

// SetOutputRegion pins the head's compositor-space region, normally to
// the bridge layout's bounds after ConfigureDisplay resolved them.
func (c *Compositor) SetOutputRegion(r geom.Rect) {
	if !r.Empty() {
		c.out.region = r
	}
}

// Attach registers a client. Loop thread only; use Post from other
// goroutines. The current scene is replayed once the client reports
// activation.
func (c *Compositor) Attach(cl Client) {
	c.clients = append(c.clients, &attached{client: cl})
	c.log.Info("client attached", zap.Int("clients", len(c.clients)))
}

// Post queues fn for the loop goroutine. Safe from any goroutine;
// dropped once the loop has exited.
func (c *Compositor) Post(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.quit:
	}
}

// Wake nudges the loop so it drains client dispatch queues. Handed to
// the bridge as its dispatch wake callback.
func (c *Compositor) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// OnTick registers fn to run every frame tick before the repaint.
func (c *Compositor) OnTick(fn func()) {
	c.tickers = append(c.tickers, fn)
}

// Run owns the compositor thread until ctx ends. Each pass runs queued
// tasks, pumps every client, replays the scene to newly activated
// clients, then steps the scripts and repaints on the frame cadence.
func (c *Compositor) Run(ctx context.Context) {
	ticker := time.NewTicker(c.frameInterval)
	defer ticker.Stop()
	defer close(c.quit)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case fn := <-c.tasks:
			fn()
			c.drainTasks()
			c.pump()
		case <-c.wake:
			c.pump()
		case <-ticker.C:
			c.drainTasks()
			c.pump()
			c.step()
			c.repaint()
		}
	}
}

func (c *Compositor) drainTasks() {
	for {
		select {
		case fn := <-c.tasks:
			fn()
		default:
			return
		}
	}
}

// pump runs pending bridge work, detaches clients that tore down, and
// replays the scene to clients that finished activating since the
// last pass.
func (c *Compositor) pump() {
	live := c.clients[:0]
	for _, a := range c.clients {
		a.client.RunPending()
		if a.client.TornDown() {
			c.log.Info("client torn down, detaching")
			continue
		}
		if !a.replayed && a.client.Activated() {
			c.replay(a.client)
			a.replayed = true
		}
		live = append(live, a)
	}
	c.clients = live
}

// replay announces every live surface to a client that activated after
// the scene was already populated. Creation order keeps parents ahead
// of their children.
func (c *Compositor) replay(cl Client) {
	c.log.Info("replaying scene", zap.Int("surfaces", len(c.surfaces)))
	for _, s := range c.surfaces {
		cl.SurfaceCreated(s)
		if s.hasContent && !s.size.IsZero() {
			cl.SurfaceCommitted(s, geom.Rect{W: s.size.W, H: s.size.H})
		}
	}
	cl.NotifyZOrderChanged()
}

func (c *Compositor) step() {
	for _, fn := range c.tickers {
		fn()
	}
}

func (c *Compositor) repaint() {
	for _, a := range c.clients {
		if a.client.Activated() {
			a.client.RepaintOutput(c.out)
		}
	}
}

func (c *Compositor) shutdown() {
	for _, a := range c.clients {
		a.client.Teardown()
	}
	c.clients = nil
	c.shell.stopProcesses()
	c.log.Info("compositor loop stopped")
}

// CreateSurface materialises a toplevel-style surface and stacks it at
// the front of the base layer.
func (c *Compositor) CreateSurface(role compositor.Role, title string, r geom.Rect) *Surface {
	s := &Surface{
		comp:       c,
		role:       role,
		title:      title,
		pos:        r.Origin(),
		size:       r.Size(),
		scale:      1,
		opaque:     true,
		normalRect: r,
		pix:        make([]byte, r.W*r.H*4),
	}
	c.surfaces = append(c.surfaces, s)
	if role != compositor.RoleCursor {
		c.stackFront(s)
	}
	c.created(s)
	return s
}

// CreateSubsurface nests a child surface under parent's view.
func (c *Compositor) CreateSubsurface(parent *Surface, r geom.Rect) *Surface {
	s := &Surface{
		comp:       c,
		role:       compositor.RoleSubsurface,
		parent:     parent,
		pos:        r.Origin(),
		size:       r.Size(),
		scale:      1,
		opaque:     true,
		normalRect: r,
		pix:        make([]byte, r.W*r.H*4),
	}
	c.surfaces = append(c.surfaces, s)
	v := &View{surface: s}
	c.viewOf[s] = v
	if pv := c.viewOf[parent]; pv != nil {
		pv.subs = append([]*View{v}, pv.subs...)
	} else {
		c.base.views = append([]*View{v}, c.base.views...)
	}
	c.created(s)
	return s
}

// CreateCursor materialises the pointer-plane surface. Cursors do not
// join the stacking scene.
func (c *Compositor) CreateCursor(size geom.Size, hotspot geom.Point) *Surface {
	s := c.CreateSurface(compositor.RoleCursor, "", geom.Rect{W: size.W, H: size.H})
	s.hotspot = hotspot
	s.opaque = false
	return s
}

// StackMarker places a marker view at the front of the base layer and
// returns it so callers can hand it to SetProxyView or remove it.
func (c *Compositor) StackMarker() *View {
	v := &View{marker: true}
	c.base.views = append([]*View{v}, c.base.views...)
	c.zOrderChanged()
	return v
}

// RemoveView drops v from the scene without destroying any surface.
func (c *Compositor) RemoveView(v *View) {
	c.base.views = removeView(c.base.views, v)
	c.zOrderChanged()
}

func (c *Compositor) stackFront(s *Surface) {
	v := &View{surface: s}
	c.viewOf[s] = v
	c.base.views = append([]*View{v}, c.base.views...)
}

// raise moves the surface's view to the front of the base layer.
func (c *Compositor) raise(s *Surface) {
	v := c.viewOf[s]
	if v == nil {
		return
	}
	views := removeView(c.base.views, v)
	if len(views) != len(c.base.views) {
		c.base.views = append([]*View{v}, views...)
	}
	c.zOrderChanged()
}

// removeSurface detaches s from the scene, promoting any subviews to
// the base layer so their surfaces stay reachable, then fans the
// destruction out.
func (c *Compositor) removeSurface(s *Surface) {
	if v := c.viewOf[s]; v != nil {
		views := removeView(c.base.views, v)
		if len(v.subs) > 0 {
			views = append(v.subs, views...)
			v.subs = nil
		}
		c.base.views = views
		delete(c.viewOf, s)
	}
	for i, known := range c.surfaces {
		if known == s {
			c.surfaces = append(c.surfaces[:i], c.surfaces[i+1:]...)
			break
		}
	}
	for _, a := range c.clients {
		a.client.SurfaceDestroyed(s)
	}
	c.zOrderChanged()
}

func removeView(views []*View, v *View) []*View {
	for i, cur := range views {
		if cur == v {
			out := make([]*View, 0, len(views)-1)
			out = append(out, views[:i]...)
			return append(out, views[i+1:]...)
		}
		if len(cur.subs) > 0 {
			cur.subs = removeView(cur.subs, v)
		}
	}
	return views
}

// Event fanout. Clients that have not activated drop creates on their
// own; the replay covers them afterwards.

func (c *Compositor) created(s *Surface) {
	for _, a := range c.clients {
		a.client.SurfaceCreated(s)
	}
}

func (c *Compositor) committed(s *Surface, damage geom.Rect) {
	for _, a := range c.clients {
		a.client.SurfaceCommitted(s, damage)
	}
}

func (c *Compositor) roleChanged(s *Surface) {
	for _, a := range c.clients {
		a.client.SurfaceRoleChanged(s)
	}
}

func (c *Compositor) zOrderChanged() {
	for _, a := range c.clients {
		a.client.NotifyZOrderChanged()
	}
}

func (c *Compositor) focusChanged(s *Surface) {
	for _, a := range c.clients {
		if s == nil {
			a.client.NotifyWindowActivated(nil)
		} else {
			a.client.NotifyWindowActivated(s)
		}
	}
}
