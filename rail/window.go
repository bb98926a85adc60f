// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: rail/window.go
// Summary: Window records and the surface lifecycle state machine.

package rail

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/backing"
	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/geom"
	"github.com/IcebergThings/railbridge/protocol"
)

// Window is the per-surface remoting record. All fields except
// updatePending belong to the compositor thread; updatePending is
// cleared from the transport goroutine when a present acknowledgement
// arrives.
type Window struct {
	surface compositor.Surface

	id       uint32
	parentID uint32
	isCursor bool

	created      bool
	firstContent bool
	errored      bool
	snapped      bool
	forceUpdate  bool

	damage geom.Region

	// Last transmitted state, diffed against on every update so only
	// changed fields hit the wire.
	haveSent    bool
	sentClient  geom.Rect
	sentShow    uint8
	sentTitle   string
	sentStyle   uint32
	sentExStyle uint32
	sentMargins geom.Margins
	sentTaskbar uint8
	sentScale   float32

	updatePending atomic.Bool

	gfx      *backing.GfxSurface
	gfxID    uint32
	shm      *backing.ShmBuffer
	poolID   uint32
	bufferID uint32

	// Cursor plane bookkeeping.
	cursorSize   geom.Size
	cursorHidden bool
}

// ID returns the remote window identifier, zero for cursor records.
func (w *Window) ID() uint32 { return w.id }

// Surface returns the compositor surface backing this record.
func (w *Window) Surface() compositor.Surface { return w.surface }

// SurfaceCreated tracks a new surface. Regular surfaces become remote
// windows; a pointer surface becomes the cursor plane. Surfaces arriving
// before activation are ignored, matching a client that connects after
// the session is already populated and resyncs through commits.
func (p *Peer) SurfaceCreated(s compositor.Surface) {
	if p.torn {
		return
	}
	if s.Role() == compositor.RoleCursor {
		p.adoptCursor(s)
		return
	}
	if !p.activated {
		p.log.Debug("surface before activation, not remoted",
			zap.Stringer("role", s.Role()))
		return
	}
	if _, exists := p.bySurface[s]; exists {
		p.log.Warn("surface tracked twice")
		return
	}
	p.createWindow(s)
}

// SurfaceCommitted accumulates damage and flips the window visible on
// its first content commit.
func (p *Peer) SurfaceCommitted(s compositor.Surface, damage geom.Rect) {
	w := p.bySurface[s]
	if w == nil {
		if p.cursor != nil && p.cursor.surface == s {
			p.cursor.damage.Add(damage)
		}
		return
	}
	if !w.firstContent && !s.Size().IsZero() {
		w.firstContent = true
		w.forceUpdate = true
		p.zOrderDirty = true
	}
	w.damage.Add(damage)
}

// SurfaceDestroyed removes the surface's window or cursor record.
func (p *Peer) SurfaceDestroyed(s compositor.Surface) {
	if p.cursor != nil && p.cursor.surface == s {
		p.sendPointerDefault()
		p.cursor = nil
		return
	}
	w := p.bySurface[s]
	if w == nil {
		return
	}
	p.destroyWindow(w)
}

// SurfaceRoleChanged retracks the surface under its new role.
func (p *Peer) SurfaceRoleChanged(s compositor.Surface) {
	if w := p.bySurface[s]; w != nil {
		p.destroyWindow(w)
	} else if p.cursor != nil && p.cursor.surface == s && s.Role() != compositor.RoleCursor {
		p.sendPointerDefault()
		p.cursor = nil
	}
	p.SurfaceCreated(s)
}

func (p *Peer) adoptCursor(s compositor.Surface) {
	if p.cursor != nil {
		p.log.Warn("second cursor surface replaces the pointer")
	}
	c := &Window{surface: s, isCursor: true}
	c.damage.Add(geom.Rect{W: s.Size().W, H: s.Size().H})
	p.cursor = c
}

func (p *Peer) createWindow(s compositor.Surface) {
	w := &Window{surface: s}
	id, err := p.windows.Allocate(w)
	if err != nil {
		p.log.Error("window id allocation failed", zap.Error(err))
		return
	}
	w.id = id
	if parent := s.Parent(); parent != nil {
		if pw := p.bySurface[parent]; pw != nil {
			w.parentID = pw.id
		}
	}
	p.bySurface[s] = w

	v, ok := p.viewOf(w)
	if !ok {
		// No layout yet; the create order goes out with zero geometry
		// and the first update repairs it.
		v.style, v.exStyle = styleFor(s)
		v.title = p.decorateTitle(s.Title())
		v.taskbar = taskbarButton(w.parentID, s.Title())
	}
	w.damage.Add(geom.Rect{W: s.Size().W, H: s.Size().H})

	fields := protocol.WindowOrderTypeWindow | protocol.WindowOrderStateNew |
		protocol.WindowFieldOwner | protocol.WindowFieldStyle | protocol.WindowFieldShow |
		protocol.WindowFieldTitle | protocol.WindowFieldClientOffset | protocol.WindowFieldClientSize |
		protocol.WindowFieldRootParent | protocol.WindowFieldWndOffset | protocol.WindowFieldWndSize |
		protocol.WindowFieldWndRects | protocol.WindowFieldVisOffset | protocol.WindowFieldVisibility |
		protocol.WindowFieldTaskbarButton

	order := protocol.WindowOrder{
		WindowID:      w.id,
		Fields:        fields,
		OwnerWindowID: w.parentID,
		Style:         v.style,
		ExtendedStyle: v.exStyle,
		ShowState:     protocol.ShowHide,
		Title:         v.title,
		ClientOffset:  v.clientRect.Origin(),
		ClientSize:    v.clientRect.Size(),
		WndOffset:     v.clientRect.Origin(),
		WndSize:       v.clientRect.Size(),
		WndRects:      []geom.Rect{{W: v.clientRect.W, H: v.clientRect.H}},
		VisOffset:     v.clientRect.Origin(),
		VisibilityRects: []geom.Rect{
			{W: v.clientRect.W, H: v.clientRect.H},
		},
		TaskbarButton: v.taskbar,
	}
	body, err := protocol.EncodeWindowOrder(order)
	if err != nil {
		p.log.Error("window create encode failed", zap.Error(err))
		p.windows.Free(w.id)
		delete(p.bySurface, s)
		return
	}
	w.created = true
	w.haveSent = true
	w.sentClient = v.clientRect
	w.sentShow = protocol.ShowHide
	w.sentTitle = v.title
	w.sentStyle = v.style
	w.sentExStyle = v.exStyle
	w.sentTaskbar = v.taskbar
	w.sentScale = v.scale
	p.sendUpdate(protocol.UpdateWindowOrder, body, "WindowCreate")
	p.zOrderDirty = true
	p.shell.RequestWindowIcon(s)
	if p.obs != nil {
		p.obs.WindowCreated(w.id)
	}
	p.log.Debug("window created",
		zap.Uint32("window", w.id),
		zap.Uint32("parent", w.parentID),
		zap.Stringer("role", s.Role()))
}

// destroyWindow drains any outstanding acknowledgement, announces the
// deletion, then releases the backing resources and identifiers.
func (p *Peer) destroyWindow(w *Window) {
	p.drainAcks(w)

	if w.created {
		p.sendUpdate(protocol.UpdateWindowOrder, protocol.EncodeWindowDelete(w.id), "WindowDelete")
	}
	p.releaseBacking(w)
	p.windows.Free(w.id)
	delete(p.bySurface, w.surface)
	if p.activeSurface == w.surface {
		p.activeSurface = nil
	}
	p.zOrderDirty = true
	if p.obs != nil {
		p.obs.WindowDestroyed(w.id)
	}
	p.log.Debug("window destroyed", zap.Uint32("window", w.id))
}

// drainAcks polls the transport until the window has no present
// outstanding or the client has caught up on frames, capped at roughly
// ten seconds. On timeout the destroy proceeds; the client may render a
// stale tile briefly.
func (p *Peer) drainAcks(w *Window) {
	for i := 0; i < drainAttempts; i++ {
		if !w.updatePending.Load() || p.frameCaughtUp() {
			return
		}
		p.mgr.Pump(drainInterval)
	}
	p.log.Warn("acknowledgement drain timed out", zap.Uint32("window", w.id))
}

// releaseBacking closes whichever backing the window holds and returns
// its identifiers.
func (p *Peer) releaseBacking(w *Window) {
	if w.gfx != nil {
		if err := w.gfx.Close(); err != nil {
			p.log.Warn("surface close failed", zap.Error(err))
		}
		p.surfaceIDs.Free(w.gfxID)
		w.gfx = nil
		w.gfxID = 0
	}
	if w.shm != nil {
		if err := w.shm.Close(); err != nil {
			p.log.Warn("buffer close failed", zap.Error(err))
		}
		p.bufferIDs.Free(w.bufferID)
		p.poolIDs.Free(w.poolID)
		w.shm = nil
		w.poolID = 0
		w.bufferID = 0
		w.updatePending.Store(false)
	}
}

// frameCaughtUp reports whether the client acknowledged the newest
// frame, or suspended acknowledgements entirely.
func (p *Peer) frameCaughtUp() bool {
	acked := p.ackedFrame.Load()
	return acked == protocol.FrameAckSuspended || acked == p.frameID
}

// frameGateOpen is the per-repaint flow control: proceed while fewer
// than two frames are unacknowledged, or while acks are suspended.
func (p *Peer) frameGateOpen() bool {
	acked := p.ackedFrame.Load()
	return acked == protocol.FrameAckSuspended || p.frameID-acked < 2
}

// styleFor picks the window style bits for a surface. Top-levels get a
// framed, resizable window; subsurfaces and fullscreen surfaces get an
// undecorated popup.
func styleFor(s compositor.Surface) (style, exStyle uint32) {
	if s.Role() == compositor.RoleSubsurface {
		return protocol.StylePopup, protocol.ExStyleToolWindow
	}
	if s.State() == compositor.StateFullscreen {
		return protocol.StylePopup, 0
	}
	return protocol.StyleSysMenu | protocol.StyleThickFrame |
		protocol.StyleMinimizeBox | protocol.StyleMaximizeBox, 0
}

// taskbarButton computes the taskbar-button byte: labelled top-levels
// get an entry (0), child or label-less windows are excluded (1).
func taskbarButton(parentID uint32, title string) uint8 {
	if parentID != 0 || title == "" {
		return 1
	}
	return 0
}
