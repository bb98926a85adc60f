package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/IcebergThings/railbridge/geom"
	"github.com/IcebergThings/railbridge/protocol"
	"github.com/IcebergThings/railbridge/transport"
)

// clientBuildNumber is advertised in the control handshake.
const clientBuildNumber = 6020

// moveStep is how far the arrow keys move the active window, in client
// desktop pixels.
const moveStep = 16

var (
	styleFrame  = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	styleActive = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	styleFill   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleStatus = tcell.StyleDefault.Reverse(true)
)

// window is the view's record of one projected window, kept in client
// desktop coordinates as the wire orders describe it.
type window struct {
	id    uint32
	title string
	rect  geom.Rect
	show  uint8
}

// view accumulates the projected scene. Receivers run on the transport
// goroutine; the draw loop and key handlers read and write under mu.
type view struct {
	railCh transport.Channel
	gfxCh  transport.Channel
	shmCh  transport.Channel

	mu          sync.Mutex
	windows     map[uint32]*window
	zorder      []uint32 // topmost first
	active      uint32
	serverBuild uint32
	surfaces    map[uint16]uint64 // surface id -> pixel bytes received
	surfaceOf   map[uint32]uint16
	frames      uint32
	presents    uint64
	railOrders  uint64
}

func main() {
	socketPath := flag.String("socket", "/tmp/railbridge.sock", "Unix socket path of a railbridge server")
	deskWidth := flag.Int("desktop-width", 1920, "Projected desktop width in pixels")
	deskHeight := flag.Int("desktop-height", 1080, "Projected desktop height in pixels")
	flag.Parse()

	if err := run(*socketPath, *deskWidth, *deskHeight); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(socket string, deskW, deskH int) error {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return fmt.Errorf("connect %s: %w", socket, err)
	}

	v := &view{
		windows:   make(map[uint32]*window),
		surfaces:  make(map[uint16]uint64),
		surfaceOf: make(map[uint32]uint16),
	}
	tp := transport.NewConn(conn, nil)
	defer tp.CloseAll()
	if _, err := tp.Open(protocol.ChannelUpdate, v.onUpdate); err != nil {
		return err
	}
	if v.railCh, err = tp.Open(protocol.ChannelRail, v.onRail); err != nil {
		return err
	}
	if v.gfxCh, err = tp.Open(protocol.ChannelGfx, v.onGfx); err != nil {
		return err
	}
	if v.shmCh, err = tp.Open(protocol.ChannelShm, v.onShm); err != nil {
		return err
	}

	// Activation: control handshake plus capabilities for both pixel
	// paths; the server picks its backing mode from its own options.
	if err := v.railCh.Write(protocol.EncodeHandshake(protocol.Handshake{
		BuildNumber: clientBuildNumber,
	})); err != nil {
		return err
	}
	if err := v.railCh.Write(protocol.EncodeClientStatus(protocol.ClientStatus{
		Flags: protocol.ClientStatusAllowLocalMoveSize | protocol.ClientStatusZOrderSync,
	})); err != nil {
		return err
	}
	if err := v.gfxCh.Write(protocol.EncodeGfxCapsAdvertise(protocol.GfxCapsAdvertise{
		CapSets: []protocol.GfxCapSet{{Version: protocol.GfxCapsVersion104}},
	})); err != nil {
		return err
	}
	if err := v.shmCh.Write(protocol.EncodeShmCaps(protocol.ShmCaps{
		Version: protocol.ShmVersion1,
	})); err != nil {
		return err
	}

	tcell.SetEncodingFallback(tcell.EncodingFallbackASCII)
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()
	screen.SetStyle(tcell.StyleDefault)
	screen.HideCursor()

	events := make(chan tcell.Event, 8)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventResize:
				screen.Sync()
			case *tcell.EventKey:
				if v.handleKey(ev) {
					return nil
				}
			}
		case <-ticker.C:
			v.draw(screen, deskW, deskH)
		}
	}
}

func (v *view) handleKey(ev *tcell.EventKey) (quit bool) {
	switch {
	case ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q':
		return true
	case ev.Rune() == 'm':
		v.syscommand(protocol.SCMinimize)
	case ev.Rune() == 'x':
		v.syscommand(protocol.SCMaximize)
	case ev.Rune() == 'r':
		v.syscommand(protocol.SCRestore)
	case ev.Rune() == 'c':
		v.syscommand(protocol.SCClose)
	case ev.Key() == tcell.KeyTab:
		v.activateNext()
	case ev.Key() == tcell.KeyLeft:
		v.moveActive(-moveStep, 0)
	case ev.Key() == tcell.KeyRight:
		v.moveActive(moveStep, 0)
	case ev.Key() == tcell.KeyUp:
		v.moveActive(0, -moveStep)
	case ev.Key() == tcell.KeyDown:
		v.moveActive(0, moveStep)
	}
	return false
}

func (v *view) syscommand(cmd uint16) {
	v.mu.Lock()
	id := v.active
	v.mu.Unlock()
	if id == 0 {
		return
	}
	_ = v.railCh.Write(protocol.EncodeSyscommand(protocol.Syscommand{WindowID: id, Command: cmd}))
}

func (v *view) moveActive(dx, dy int) {
	v.mu.Lock()
	win := v.windows[v.active]
	var m protocol.WindowMove
	if win != nil {
		r := win.rect
		m = protocol.WindowMove{
			WindowID: win.id,
			Left:     int16(r.X + dx),
			Top:      int16(r.Y + dy),
			Right:    int16(r.X + dx + r.W),
			Bottom:   int16(r.Y + dy + r.H),
		}
	}
	v.mu.Unlock()
	if m.WindowID == 0 {
		return
	}
	_ = v.railCh.Write(protocol.EncodeWindowMove(m))
}

// activateNext asks the server to focus the window stacked under the
// active one, wrapping at the bottom.
func (v *view) activateNext() {
	v.mu.Lock()
	var next uint32
	if len(v.zorder) > 0 {
		next = v.zorder[0]
		for i, id := range v.zorder {
			if id == v.active {
				next = v.zorder[(i+1)%len(v.zorder)]
				break
			}
		}
	}
	v.mu.Unlock()
	if next == 0 {
		return
	}
	_ = v.railCh.Write(protocol.EncodeActivate(protocol.Activate{WindowID: next, Enabled: true}))
}

func (v *view) onUpdate(payload []byte) {
	updateType, body, err := protocol.DecodeUpdateHeader(payload)
	if err != nil {
		return
	}
	switch updateType {
	case protocol.UpdateWindowOrder:
		v.applyOrder(body)
	case protocol.UpdatePointerSystem, protocol.UpdatePointerLarge:
		// Pointer position stays client-owned; nothing to draw.
	}
}

func (v *view) applyOrder(body []byte) {
	if d, err := protocol.DecodeDesktopOrder(body); err == nil {
		v.mu.Lock()
		defer v.mu.Unlock()
		if d.Fields&protocol.DesktopFieldActiveWnd != 0 {
			v.active = d.ActiveWindowID
		}
		if d.Fields&protocol.DesktopFieldZOrder != 0 {
			v.zorder = d.ZOrder
		}
		return
	}
	w, err := protocol.DecodeWindowOrder(body)
	if err != nil || w.Fields&protocol.WindowOrderTypeWindow == 0 {
		return
	}
	if w.Fields&(protocol.WindowOrderIcon|protocol.WindowOrderCachedIcon) != 0 {
		// Icon payloads carry no geometry.
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if w.Fields&protocol.WindowOrderStateDeleted != 0 {
		delete(v.windows, w.WindowID)
		delete(v.surfaceOf, w.WindowID)
		return
	}
	win := v.windows[w.WindowID]
	if win == nil {
		win = &window{id: w.WindowID}
		v.windows[w.WindowID] = win
	}
	if w.Fields&protocol.WindowFieldTitle != 0 {
		win.title = w.Title
	}
	if w.Fields&protocol.WindowFieldShow != 0 {
		win.show = w.ShowState
	}
	if w.Fields&protocol.WindowFieldWndOffset != 0 {
		win.rect.X, win.rect.Y = w.WndOffset.X, w.WndOffset.Y
	}
	if w.Fields&protocol.WindowFieldWndSize != 0 {
		win.rect.W, win.rect.H = w.WndSize.W, w.WndSize.H
	}
}

func (v *view) onRail(payload []byte) {
	orderType, body, err := protocol.DecodeRailHeader(payload)
	if err != nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.railOrders++
	switch orderType {
	case protocol.OrderHandshake:
		if h, err := protocol.DecodeHandshake(body); err == nil {
			v.serverBuild = h.BuildNumber
		}
	case protocol.OrderHandshakeEx:
		if h, err := protocol.DecodeHandshakeEx(body); err == nil {
			v.serverBuild = h.BuildNumber
		}
	}
}

func (v *view) onGfx(payload []byte) {
	hdr, body, err := protocol.DecodeGfxHeader(payload)
	if err != nil {
		return
	}
	switch hdr.CmdID {
	case protocol.GfxCmdCreateSurface:
		if s, err := protocol.DecodeGfxCreateSurface(body); err == nil {
			v.mu.Lock()
			v.surfaces[s.SurfaceID] = 0
			v.mu.Unlock()
		}
	case protocol.GfxCmdDeleteSurface:
		if s, err := protocol.DecodeGfxDeleteSurface(body); err == nil {
			v.mu.Lock()
			delete(v.surfaces, s.SurfaceID)
			v.mu.Unlock()
		}
	case protocol.GfxCmdWireToSurface1:
		if w, err := protocol.DecodeGfxWireToSurface1(body); err == nil {
			v.mu.Lock()
			if _, ok := v.surfaces[w.SurfaceID]; ok {
				v.surfaces[w.SurfaceID] += uint64(len(w.BitmapData))
			}
			v.mu.Unlock()
		}
	case protocol.GfxCmdMapSurfaceToScaledWindow:
		if m, err := protocol.DecodeGfxMapSurfaceToScaledWindow(body); err == nil {
			v.mu.Lock()
			v.surfaceOf[uint32(m.WindowID)] = m.SurfaceID
			v.mu.Unlock()
		}
	case protocol.GfxCmdEndFrame:
		f, err := protocol.DecodeGfxEndFrame(body)
		if err != nil {
			return
		}
		v.mu.Lock()
		v.frames++
		total := v.frames
		v.mu.Unlock()
		_ = v.gfxCh.Write(protocol.EncodeGfxFrameAcknowledge(protocol.GfxFrameAcknowledge{
			FrameID:            f.FrameID,
			TotalFramesDecoded: total,
		}))
	}
}

func (v *view) onShm(payload []byte) {
	msgType, body, err := protocol.DecodeShmHeader(payload)
	if err != nil {
		return
	}
	switch msgType {
	case protocol.ShmMsgPresentBuffer:
		p, err := protocol.DecodeShmPresentBuffer(body)
		if err != nil {
			return
		}
		v.mu.Lock()
		v.presents++
		v.mu.Unlock()
		_ = v.shmCh.Write(protocol.EncodeShmPresentBufferAck(protocol.ShmPresentBufferAck{
			PresentID: p.PresentID,
			WindowID:  p.WindowID,
		}))
	}
}

func (v *view) draw(s tcell.Screen, deskW, deskH int) {
	s.Clear()
	sw, sh := s.Size()
	canvasH := sh - 1
	if sw < 4 || canvasH < 2 {
		s.Show()
		return
	}

	type box struct {
		win    window
		bytes  uint64
		active bool
	}

	v.mu.Lock()
	order := v.drawOrder()
	boxes := make([]box, 0, len(order))
	for _, id := range order {
		win := v.windows[id]
		if win == nil || win.show == protocol.ShowHide || win.show == protocol.ShowMinimized {
			continue
		}
		var bytes uint64
		if sid, ok := v.surfaceOf[id]; ok {
			bytes = v.surfaces[sid]
		}
		boxes = append(boxes, box{win: *win, bytes: bytes, active: id == v.active})
	}
	status := fmt.Sprintf(" railbridge view | server build %d | windows %d | frames %d | presents %d | orders %d | q quits",
		v.serverBuild, len(v.windows), v.frames, v.presents, v.railOrders)
	v.mu.Unlock()

	for _, b := range boxes {
		x := b.win.rect.X * sw / deskW
		y := b.win.rect.Y * canvasH / deskH
		w := b.win.rect.W * sw / deskW
		h := b.win.rect.H * canvasH / deskH
		if w < 2 {
			w = 2
		}
		if h < 2 {
			h = 2
		}
		style := styleFrame
		if b.active {
			style = styleActive
		}
		drawWindowBox(s, x, y, w, h, b.win.title, style, b.bytes > 0)
	}
	drawText(s, 0, sh-1, styleStatus, runewidth.FillRight(status, sw))
	s.Show()
}

// drawOrder returns window ids bottom-up: ids the server has not placed
// in a z-order broadcast yet come first, then the stacking list reversed
// so the topmost window is drawn last.
func (v *view) drawOrder() []uint32 {
	in := make(map[uint32]bool, len(v.zorder))
	for _, id := range v.zorder {
		in[id] = true
	}
	var out []uint32
	for id := range v.windows {
		if !in[id] {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	for i := len(v.zorder) - 1; i >= 0; i-- {
		out = append(out, v.zorder[i])
	}
	return out
}

func drawWindowBox(s tcell.Screen, x, y, w, h int, title string, style tcell.Style, filled bool) {
	for cx := x + 1; cx < x+w-1; cx++ {
		s.SetContent(cx, y, '─', nil, style)
		s.SetContent(cx, y+h-1, '─', nil, style)
	}
	for cy := y + 1; cy < y+h-1; cy++ {
		s.SetContent(x, cy, '│', nil, style)
		s.SetContent(x+w-1, cy, '│', nil, style)
	}
	s.SetContent(x, y, '┌', nil, style)
	s.SetContent(x+w-1, y, '┐', nil, style)
	s.SetContent(x, y+h-1, '└', nil, style)
	s.SetContent(x+w-1, y+h-1, '┘', nil, style)

	fill := ' '
	if filled {
		fill = '░'
	}
	for cy := y + 1; cy < y+h-1; cy++ {
		for cx := x + 1; cx < x+w-1; cx++ {
			s.SetContent(cx, cy, fill, nil, styleFill)
		}
	}
	if w > 4 {
		drawText(s, x+2, y, style, runewidth.Truncate(title, w-4, "…"))
	}
}

func drawText(s tcell.Screen, x, y int, style tcell.Style, text string) {
	for _, r := range text {
		s.SetContent(x, y, r, nil, style)
		x += runewidth.RuneWidth(r)
	}
}
