// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: rail/update.go
// Summary: Per-output repaint: state diffs, pixel pushes, cursor plane.

package rail

import (
	"time"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/backing"
	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/display"
	"github.com/IcebergThings/railbridge/geom"
	"github.com/IcebergThings/railbridge/protocol"
)

// windowGeometry is the reconciled placement of one window.
type windowGeometry struct {
	// compositorRect is the advertised window rectangle in compositor
	// space. With shadow remoting it spans the whole surface; without
	// it (or while snapped) it shrinks to the shell-reported geometry.
	compositorRect geom.Rect
	// contentBuf is the transmitted portion of the buffer, in buffer
	// coordinates.
	contentBuf geom.Rect
	fullBuf    geom.Rect
	margins    geom.Margins
	shadowless bool
}

// windowView is everything the diff pass compares against the last
// transmitted state.
type windowView struct {
	geo        windowGeometry
	clientRect geom.Rect
	head       *display.Head
	scale      float32
	show       uint8
	title      string
	taskbar    uint8
	style      uint32
	exStyle    uint32
}

// deferredSurface is a graphics surface whose deletion must wait until
// the open frame closes.
type deferredSurface struct {
	s  *backing.GfxSurface
	id uint32
}

// RepaintOutput runs one update pass for the given output: a z-order
// broadcast when dirty, then metadata and pixel updates for every
// window intersecting the output, bracketed by one frame in graphics
// mode. Skipped entirely while more than one frame is unacknowledged.
func (p *Peer) RepaintOutput(out compositor.Output) {
	if p.torn || !p.activated || p.layout == nil {
		return
	}
	if !p.frameGateOpen() {
		p.log.Debug("frame gate closed, skipping repaint",
			zap.Uint32("current", p.frameID),
			zap.Uint32("acked", p.ackedFrame.Load()))
		return
	}
	start := time.Now()
	if p.zOrderDirty {
		p.broadcastZOrder()
	}
	p.updateCursor(out)

	var deferred []deferredSurface
	var maps []protocol.GfxMapSurfaceToScaledWindow
	delivered := false
	count := 0

	p.windows.ForEach(func(_ uint32, w *Window) bool {
		if w.errored {
			return true
		}
		v, ok := p.viewOf(w)
		if !ok {
			return true
		}
		if !v.geo.compositorRect.Empty() && !v.geo.compositorRect.Overlaps(out.Region()) {
			return true
		}
		count++
		if p.updateWindow(w, v, &deferred, &maps) {
			delivered = true
		}
		return !p.torn
	})

	if p.frameOpen {
		p.sendGfx(protocol.EncodeGfxEndFrame(protocol.GfxEndFrame{FrameID: p.openFrameID}), "EndFrame")
		p.frameOpen = false
	}
	for _, m := range maps {
		p.sendGfx(protocol.EncodeGfxMapSurfaceToScaledWindow(m), "MapSurfaceToScaledWindow")
	}
	for _, d := range deferred {
		if err := d.s.Close(); err != nil {
			p.log.Warn("deferred surface close failed", zap.Error(err))
		}
		p.surfaceIDs.Free(d.id)
	}

	if delivered {
		p.noteDelivery()
	} else {
		p.relaxPower()
	}
	if p.zOrderDirty {
		p.broadcastZOrder()
	}
	if p.obs != nil {
		p.obs.RepaintCompleted(out.Name(), count, time.Since(start))
	}
}

// viewOf computes the current remote-facing view of the window. Returns
// false before a layout is installed or when the window's origin falls
// outside every head.
func (p *Peer) viewOf(w *Window) (windowView, bool) {
	if p.layout == nil {
		return windowView{}, false
	}
	v := windowView{geo: p.resolveGeometry(w)}

	clientRect, head, ok := p.layout.RectToClient(v.geo.compositorRect)
	if !ok {
		head = p.layout.Primary()
		// Off-layout windows are pinned against the primary head so
		// they stay reachable on the client.
		clientRect = geom.Rect{
			X: head.Client.X,
			Y: head.Client.Y,
			W: scalePx(v.geo.compositorRect.W, head.Scale),
			H: scalePx(v.geo.compositorRect.H, head.Scale),
		}
	}
	v.clientRect = clientRect
	v.head = head
	v.scale = head.Scale
	v.show = p.showFor(w)
	v.title = p.decorateTitle(w.surface.Title())
	v.taskbar = taskbarButton(w.parentID, w.surface.Title())
	v.style, v.exStyle = styleFor(w.surface)
	if v.geo.shadowless {
		v.geo.margins = clientMargins(v.geo.margins, head.Scale)
	}
	return v, true
}

// resolveGeometry reconciles the surface's compositor placement with
// the shadow-remoting policy.
func (p *Peer) resolveGeometry(w *Window) windowGeometry {
	s := w.surface
	pos := s.Position()
	buf := s.Size()
	scale := s.BufferScale()
	if scale <= 0 {
		scale = 1
	}
	surfSize := geom.Size{W: int(float64(buf.W) / scale), H: int(float64(buf.H) / scale)}
	full := geom.Rect{X: pos.X, Y: pos.Y, W: surfSize.W, H: surfSize.H}
	g := windowGeometry{
		compositorRect: full,
		fullBuf:        geom.Rect{W: buf.W, H: buf.H},
		contentBuf:     geom.Rect{W: buf.W, H: buf.H},
	}

	content := s.Geometry()
	if (p.opts.ShadowRemoting && !w.snapped) || content.Empty() {
		return g
	}
	g.shadowless = true
	g.compositorRect = geom.Rect{
		X: pos.X + content.X,
		Y: pos.Y + content.Y,
		W: content.W,
		H: content.H,
	}
	g.contentBuf = geom.Rect{
		X: int(float64(content.X) * scale),
		Y: int(float64(content.Y) * scale),
		W: int(float64(content.W) * scale),
		H: int(float64(content.H) * scale),
	}.Intersect(g.fullBuf)
	g.margins = geom.Margins{
		Left:   content.X,
		Top:    content.Y,
		Right:  surfSize.W - content.X - content.W,
		Bottom: surfSize.H - content.Y - content.H,
	}
	return g
}

// showFor maps the surface state to the wire show state. Windows stay
// hidden remotely until their first content commit.
func (p *Peer) showFor(w *Window) uint8 {
	if !w.firstContent {
		return protocol.ShowHide
	}
	switch w.surface.State() {
	case compositor.StateMinimized:
		return protocol.ShowMinimized
	case compositor.StateMaximized, compositor.StateFullscreen:
		return protocol.ShowMaximized
	}
	return protocol.ShowNormal
}

// updateWindow emits the metadata diff and the pixel update for one
// window. Reports whether pixel content was delivered.
func (p *Peer) updateWindow(w *Window, v windowView, deferred *[]deferredSurface, maps *[]protocol.GfxMapSurfaceToScaledWindow) bool {
	if w.updatePending.Load() {
		return false
	}
	p.reconcileParent(w)

	fields := p.diffFields(w, v)
	if fields != 0 {
		p.emitWindowUpdate(w, v, fields)
	}

	delivered, remapped := p.pushPixels(w, v, deferred)
	if w.gfx != nil && (remapped || v.scale != w.sentScale || v.clientRect.Size() != w.sentClient.Size()) {
		*maps = append(*maps, protocol.GfxMapSurfaceToScaledWindow{
			SurfaceID:    w.gfx.ID(),
			WindowID:     uint64(w.id),
			MappedWidth:  uint32(v.geo.contentBuf.W),
			MappedHeight: uint32(v.geo.contentBuf.H),
			TargetWidth:  uint32(v.clientRect.W),
			TargetHeight: uint32(v.clientRect.H),
		})
	}

	w.haveSent = true
	w.sentClient = v.clientRect
	w.sentShow = v.show
	w.sentTitle = v.title
	w.sentStyle = v.style
	w.sentExStyle = v.exStyle
	w.sentMargins = v.geo.margins
	w.sentTaskbar = v.taskbar
	w.sentScale = v.scale
	w.forceUpdate = false
	return delivered
}

// reconcileParent reparents to the desktop root when the parent window
// died first; the stale owner id would otherwise dangle on the client.
func (p *Peer) reconcileParent(w *Window) {
	if w.parentID == 0 {
		return
	}
	if _, alive := p.windows.Lookup(w.parentID); !alive {
		w.parentID = 0
		w.forceUpdate = true
	}
}

// diffFields selects the window-order fields whose values changed since
// the last transmission.
func (p *Peer) diffFields(w *Window, v windowView) uint32 {
	var fields uint32
	if !w.haveSent || w.forceUpdate {
		fields = protocol.WindowFieldOwner | protocol.WindowFieldStyle | protocol.WindowFieldShow |
			protocol.WindowFieldTitle | protocol.WindowFieldClientOffset | protocol.WindowFieldClientSize |
			protocol.WindowFieldWndOffset | protocol.WindowFieldWndSize | protocol.WindowFieldWndRects |
			protocol.WindowFieldVisOffset | protocol.WindowFieldVisibility | protocol.WindowFieldTaskbarButton
	} else {
		if v.clientRect.Origin() != w.sentClient.Origin() {
			fields |= protocol.WindowFieldWndOffset | protocol.WindowFieldClientOffset | protocol.WindowFieldVisOffset
		}
		if v.clientRect.Size() != w.sentClient.Size() {
			fields |= protocol.WindowFieldWndSize | protocol.WindowFieldClientSize |
				protocol.WindowFieldWndRects | protocol.WindowFieldVisibility
		}
		if v.show != w.sentShow {
			fields |= protocol.WindowFieldShow
			if w.sentShow == protocol.ShowHide {
				// First reveal carries the whole state, not just show.
				fields |= protocol.WindowFieldTitle | protocol.WindowFieldTaskbarButton |
					protocol.WindowFieldWndOffset | protocol.WindowFieldWndSize |
					protocol.WindowFieldClientOffset | protocol.WindowFieldClientSize |
					protocol.WindowFieldWndRects | protocol.WindowFieldVisOffset |
					protocol.WindowFieldVisibility
			}
		}
		if v.title != w.sentTitle {
			fields |= protocol.WindowFieldTitle
		}
		if v.style != w.sentStyle || v.exStyle != w.sentExStyle {
			fields |= protocol.WindowFieldStyle | protocol.WindowFieldWndOffset |
				protocol.WindowFieldWndSize | protocol.WindowFieldClientOffset |
				protocol.WindowFieldClientSize
		}
		if v.taskbar != w.sentTaskbar {
			fields |= protocol.WindowFieldTaskbarButton
		}
	}
	if p.clientStatus&protocol.ClientStatusResizeMargin != 0 && v.geo.shadowless &&
		(fields&protocol.WindowFieldWndSize != 0 || v.geo.margins != w.sentMargins) {
		fields |= protocol.WindowFieldResizeMarginX | protocol.WindowFieldResizeMarginY
	}
	return fields
}

func (p *Peer) emitWindowUpdate(w *Window, v windowView, fields uint32) {
	order := protocol.WindowOrder{
		WindowID:          w.id,
		Fields:            fields | protocol.WindowOrderTypeWindow,
		OwnerWindowID:     w.parentID,
		Style:             v.style,
		ExtendedStyle:     v.exStyle,
		ShowState:         v.show,
		Title:             v.title,
		ClientOffset:      v.clientRect.Origin(),
		ClientSize:        v.clientRect.Size(),
		WndOffset:         v.clientRect.Origin(),
		WndSize:           v.clientRect.Size(),
		WndRects:          []geom.Rect{{W: v.clientRect.W, H: v.clientRect.H}},
		VisOffset:         v.clientRect.Origin(),
		VisibilityRects:   []geom.Rect{{W: v.clientRect.W, H: v.clientRect.H}},
		TaskbarButton:     v.taskbar,
		ResizeMarginLeft:  uint32(v.geo.margins.Left),
		ResizeMarginRight: uint32(v.geo.margins.Right),
		ResizeMarginTop:   uint32(v.geo.margins.Top),
		ResizeMarginBot:   uint32(v.geo.margins.Bottom),
	}
	body, err := protocol.EncodeWindowOrder(order)
	if err != nil {
		p.log.Error("window update encode failed", zap.Uint32("window", w.id), zap.Error(err))
		return
	}
	p.sendUpdate(protocol.UpdateWindowOrder, body, "WindowUpdate")
}

// pushPixels delivers the damaged content through the active backing
// mode, recreating the backing on resize. Returns whether content was
// delivered and whether a fresh graphics surface needs mapping.
func (p *Peer) pushPixels(w *Window, v windowView, deferred *[]deferredSurface) (delivered, remapped bool) {
	content := v.geo.contentBuf
	if content.Empty() {
		return false, false
	}

	damage := w.damage.Take()
	if w.forceUpdate || !w.haveSent {
		damage = content
	}
	clipped := damage.Intersect(content)
	if !damage.Empty() && clipped != damage {
		p.log.Warn("damage clamped to content buffer",
			zap.Uint32("window", w.id),
			zap.Int("dmg_w", damage.W), zap.Int("dmg_h", damage.H),
			zap.Int("buf_w", content.W), zap.Int("buf_h", content.H))
	}

	if p.sharedMode() {
		return p.pushShm(w, v, clipped), false
	}
	return p.pushGfx(w, v, clipped, deferred)
}

func (p *Peer) pushGfx(w *Window, v windowView, damage geom.Rect, deferred *[]deferredSurface) (delivered, remapped bool) {
	content := v.geo.contentBuf
	if w.gfx == nil || w.gfx.Size() != content.Size() {
		if w.gfx != nil {
			*deferred = append(*deferred, deferredSurface{s: w.gfx, id: w.gfxID})
			w.gfx = nil
			w.gfxID = 0
		}
		id, err := p.surfaceIDs.Allocate(w)
		if err != nil {
			p.markErrored(w, err)
			return false, false
		}
		s, err := backing.NewGfxSurface(p.gfxCh, uint16(id), content.Size(), p.log)
		if err != nil {
			p.surfaceIDs.Free(id)
			p.markErrored(w, err)
			return false, false
		}
		w.gfx = s
		w.gfxID = id
		remapped = true
		damage = content
	}
	if damage.Empty() {
		return false, remapped
	}

	pix, err := w.surface.Snapshot(damage)
	if err != nil {
		p.log.Warn("snapshot failed", zap.Uint32("window", w.id), zap.Error(err))
		w.damage.Add(damage)
		return false, remapped
	}
	local := damage.Translate(-content.X, -content.Y)

	if !p.frameOpen {
		p.frameID++
		p.openFrameID = p.frameID
		p.frameOpen = true
		p.sendGfx(protocol.EncodeGfxStartFrame(protocol.GfxStartFrame{FrameID: p.frameID}), "StartFrame")
	}
	if w.surface.Opaque() {
		if err := w.gfx.PushAlpha(local, nil, true); err != nil {
			p.markErrored(w, err)
			return false, remapped
		}
	} else {
		if err := w.gfx.PushAlpha(local, alphaPlane(pix), false); err != nil {
			p.markErrored(w, err)
			return false, remapped
		}
	}
	if err := w.gfx.PushPixels(local, pix); err != nil {
		p.markErrored(w, err)
		return false, remapped
	}
	return true, remapped
}

func (p *Peer) pushShm(w *Window, v windowView, damage geom.Rect) bool {
	content := v.geo.contentBuf
	if w.shm == nil || w.shm.Size() != content.Size() {
		if w.shm != nil {
			p.drainAcks(w)
			p.releaseBacking(w)
		}
		poolID, err := p.poolIDs.Allocate(w)
		if err != nil {
			p.markErrored(w, err)
			return false
		}
		bufferID, err := p.bufferIDs.Allocate(w)
		if err != nil {
			p.poolIDs.Free(poolID)
			p.markErrored(w, err)
			return false
		}
		b, err := backing.NewShmBuffer(p.shmCh, p.opts.SharedMemoryMountPoint, poolID, bufferID, content.Size(), p.log)
		if err != nil {
			p.bufferIDs.Free(bufferID)
			p.poolIDs.Free(poolID)
			p.markErrored(w, err)
			return false
		}
		w.shm = b
		w.poolID = poolID
		w.bufferID = bufferID
		damage = content
	}
	if damage.Empty() {
		return false
	}

	pix, err := w.surface.Snapshot(damage)
	if err != nil {
		p.log.Warn("snapshot failed", zap.Uint32("window", w.id), zap.Error(err))
		w.damage.Add(damage)
		return false
	}
	local := damage.Translate(-content.X, -content.Y)
	if err := w.shm.CopyPixels(local, pix); err != nil {
		p.markErrored(w, err)
		return false
	}

	var opaque []geom.Rect
	if w.surface.Opaque() {
		opaque = []geom.Rect{{W: content.W, H: content.H}}
	}
	p.frameID++
	if err := w.shm.Present(p.frameID, w.id, local, opaque, v.clientRect.Size()); err != nil {
		p.markErrored(w, err)
		return false
	}
	w.updatePending.Store(true)
	p.observeOrder("PresentBuffer")
	return true
}

// markErrored sidelines a window after a resource failure; later
// updates short-circuit, the peer stays up.
func (p *Peer) markErrored(w *Window, err error) {
	w.errored = true
	p.log.Error("window sidelined", zap.Uint32("window", w.id), zap.Error(err))
}

// updateCursor redraws the pointer plane when the cursor surface has
// damage or changed shape. Degenerate cursors hide the pointer instead.
func (p *Peer) updateCursor(out compositor.Output) {
	c := p.cursor
	if c == nil {
		return
	}
	s := c.surface
	size := s.Size()
	pos := s.Position()

	if size.IsZero() || pos.X < 0 || pos.Y < 0 {
		if !c.cursorHidden {
			p.sendUpdate(protocol.UpdatePointerSystem,
				protocol.EncodePointerSystem(protocol.PointerSystem{Kind: protocol.PointerHidden}),
				"PointerSystem")
			c.cursorHidden = true
			c.damage.Take()
		}
		return
	}
	if !out.Region().Contains(pos) && !out.Region().Empty() {
		return
	}
	shapeChanged := size != c.cursorSize || c.cursorHidden
	if c.damage.Empty() && !shapeChanged {
		return
	}
	c.damage.Take()

	full := geom.Rect{W: size.W, H: size.H}
	pix, err := s.Snapshot(full)
	if err != nil {
		p.log.Warn("cursor snapshot failed", zap.Error(err))
		return
	}
	hot := s.CursorHotspot()
	p.sendUpdate(protocol.UpdatePointerLarge,
		protocol.EncodePointerLarge(protocol.PointerLarge{
			XorBpp:   32,
			HotspotX: uint16(hot.X),
			HotspotY: uint16(hot.Y),
			Width:    uint16(size.W),
			Height:   uint16(size.H),
			XorMask:  bottomUp(pix, size.W, size.H),
			AndMask:  transparencyMask(pix, size.W, size.H),
		}), "PointerLarge")
	c.cursorSize = size
	c.cursorHidden = false
}

// noteDelivery tracks frame delivery for the display power policy.
func (p *Peer) noteDelivery() {
	p.lastDelivery = time.Now()
	if !p.opts.DisplayPowerByScreenUpdate || p.powerActive {
		return
	}
	if p.clientStatus&protocol.ClientStatusPowerDisplayRequest == 0 {
		return
	}
	p.sendRail(protocol.EncodePowerDisplayRequest(protocol.PowerDisplayRequest{Active: true}), "PowerDisplayRequest")
	p.powerActive = true
}

// relaxPower releases the display power request once deliveries go
// quiet.
func (p *Peer) relaxPower() {
	if !p.powerActive || time.Since(p.lastDelivery) < powerIdleTimeout {
		return
	}
	p.sendRail(protocol.EncodePowerDisplayRequest(protocol.PowerDisplayRequest{Active: false}), "PowerDisplayRequest")
	p.powerActive = false
}

// alphaPlane extracts the alpha channel from BGRA pixels.
func alphaPlane(pix []byte) []byte {
	plane := make([]byte, len(pix)/4)
	for i := range plane {
		plane[i] = pix[i*4+3]
	}
	return plane
}

// bottomUp reverses the row order of a top-down BGRA image.
func bottomUp(pix []byte, w, h int) []byte {
	stride := w * 4
	out := make([]byte, len(pix))
	for y := 0; y < h; y++ {
		copy(out[(h-1-y)*stride:(h-y)*stride], pix[y*stride:(y+1)*stride])
	}
	return out
}

// transparencyMask builds the 1bpp AND mask: bit set where the pixel is
// fully transparent, rows bottom-up and padded to 16 bits.
func transparencyMask(pix []byte, w, h int) []byte {
	stride := ((w + 15) / 16) * 2
	out := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		row := out[(h-1-y)*stride:]
		for x := 0; x < w; x++ {
			if pix[(y*w+x)*4+3] == 0 {
				row[x/8] |= 0x80 >> (x % 8)
			}
		}
	}
	return out
}

// clientMargins converts compositor-space margins to client pixels and
// applies the minimum.
func clientMargins(m geom.Margins, scale float32) geom.Margins {
	return geom.Margins{
		Left:   maxMargin(scalePx(m.Left, scale)),
		Top:    maxMargin(scalePx(m.Top, scale)),
		Right:  maxMargin(scalePx(m.Right, scale)),
		Bottom: maxMargin(scalePx(m.Bottom, scale)),
	}
}

func maxMargin(v int) int {
	if v < resizeMarginMin {
		return resizeMarginMin
	}
	return v
}

// scalePx scales a pixel count by a head factor, truncating like the
// layout mapper does.
func scalePx(v int, scale float32) int {
	return int(float32(v) * scale)
}

func clampI16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
