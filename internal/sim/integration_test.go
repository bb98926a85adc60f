// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/sim/integration_test.go
// Summary: End-to-end tests driving a real peer over the loopback.

package sim

import (
	"testing"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/config"
	"github.com/IcebergThings/railbridge/geom"
	"github.com/IcebergThings/railbridge/protocol"
	"github.com/IcebergThings/railbridge/rail"
	"github.com/IcebergThings/railbridge/transport"
)

// bridge wires a real peer to the compositor over the loopback
// transport, the same shape the sim binary builds around a socket.
type bridge struct {
	comp *Compositor
	peer *rail.Peer
	loop *transport.Loopback
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	comp := New(Params{Width: 800, Height: 600})
	loop := transport.NewLoopback()
	peer, err := rail.NewPeer(rail.Params{
		Options:   config.Default(),
		Shell:     comp.Shell(),
		Scene:     comp.Scene(),
		Transport: loop,
		Wake:      comp.Wake,
		Log:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	t.Cleanup(func() {
		loop.CloseAll()
		peer.Teardown()
	})
	if err := peer.ConfigureDisplay(comp.Monitors(), []compositor.Output{comp.Output()}); err != nil {
		t.Fatalf("ConfigureDisplay failed: %v", err)
	}
	comp.SetOutputRegion(peer.Layout().Bounds)
	comp.Attach(peer)
	return &bridge{comp: comp, peer: peer, loop: loop}
}

// activate plays the client half of the graphics-mode handshake and
// pumps the parked dispatch work through the compositor.
func (b *bridge) activate(t *testing.T) {
	t.Helper()
	b.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeHandshake(protocol.Handshake{BuildNumber: 6020}))
	b.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeClientStatus(protocol.ClientStatus{}))
	b.loop.InjectSync(protocol.ChannelGfx,
		protocol.EncodeGfxCapsAdvertise(protocol.GfxCapsAdvertise{
			CapSets: []protocol.GfxCapSet{{Version: protocol.GfxCapsVersion104}},
		}))
	b.comp.pump()
	if !b.peer.Activated() {
		t.Fatalf("peer not activated after handshake")
	}
}

// windowOrders filters the window information orders out of raw update
// frames, dropping desktop, pointer, and icon traffic.
func windowOrders(frames [][]byte) []protocol.WindowOrder {
	var out []protocol.WindowOrder
	for _, f := range frames {
		typ, body, err := protocol.DecodeUpdateHeader(f)
		if err != nil || typ != protocol.UpdateWindowOrder {
			continue
		}
		w, err := protocol.DecodeWindowOrder(body)
		if err != nil || w.Fields&protocol.WindowOrderTypeWindow == 0 ||
			w.Fields&(protocol.WindowOrderIcon|protocol.WindowOrderCachedIcon) != 0 {
			continue
		}
		out = append(out, w)
	}
	return out
}

func findOrder(orders []protocol.WindowOrder, match func(protocol.WindowOrder) bool) (protocol.WindowOrder, bool) {
	for _, w := range orders {
		if match(w) {
			return w, true
		}
	}
	return protocol.WindowOrder{}, false
}

func created(w protocol.WindowOrder) bool { return w.Fields&protocol.WindowOrderStateNew != 0 }

// lastFrameID digs the newest end-frame marker out of raw graphics
// commands.
func lastFrameID(frames [][]byte) (uint32, bool) {
	var id uint32
	var found bool
	for _, f := range frames {
		h, body, err := protocol.DecodeGfxHeader(f)
		if err != nil || h.CmdID != protocol.GfxCmdEndFrame {
			continue
		}
		end, err := protocol.DecodeGfxEndFrame(body)
		if err != nil {
			continue
		}
		id, found = end.FrameID, true
	}
	return id, found
}

// ackFrames acknowledges the newest frame in gfx so the frame gate
// stays open and destroy drains return immediately.
func (b *bridge) ackFrames(t *testing.T, gfx [][]byte) {
	t.Helper()
	id, ok := lastFrameID(gfx)
	if !ok {
		t.Fatalf("no end-frame among %d graphics commands", len(gfx))
	}
	b.loop.InjectSync(protocol.ChannelGfx,
		protocol.EncodeGfxFrameAcknowledge(protocol.GfxFrameAcknowledge{
			FrameID:            id,
			TotalFramesDecoded: id,
		}))
}

func TestPeerActivationReplaysLiveScene(t *testing.T) {
	b := newBridge(t)

	early := b.comp.CreateSurface(compositor.RoleToplevel, "early", geom.Rect{X: 40, Y: 40, W: 200, H: 150})
	early.Paint(geom.Rect{W: 200, H: 150}, 0xFF204060)
	early.Commit()
	if b.peer.Activated() || b.peer.WindowCount() != 0 {
		t.Fatalf("peer reacted before the handshake finished")
	}

	b.activate(t)
	if got := b.peer.WindowCount(); got != 1 {
		t.Fatalf("replay tracked %d windows, want 1", got)
	}
	orders := windowOrders(b.loop.TakeSent(protocol.ChannelUpdate))
	create, ok := findOrder(orders, created)
	if !ok {
		t.Fatalf("no create order after replay")
	}
	if create.Title != "early" || create.WndOffset != (geom.Point{X: 40, Y: 40}) {
		t.Fatalf("create order %q at %+v", create.Title, create.WndOffset)
	}
	b.loop.TakeSent(protocol.ChannelRail)

	b.comp.repaint()
	gfx := b.loop.TakeSent(protocol.ChannelGfx)
	if len(gfx) == 0 {
		t.Fatalf("repaint pushed no graphics commands")
	}
	orders = windowOrders(b.loop.TakeSent(protocol.ChannelUpdate))
	if _, ok := findOrder(orders, func(w protocol.WindowOrder) bool {
		return w.WindowID == create.WindowID &&
			w.Fields&protocol.WindowFieldShow != 0 && w.ShowState == protocol.ShowNormal
	}); !ok {
		t.Fatalf("first repaint did not reveal the window")
	}
	b.ackFrames(t, gfx)

	late := b.comp.CreateSurface(compositor.RoleToplevel, "late", geom.Rect{X: 300, Y: 200, W: 160, H: 120})
	late.Paint(geom.Rect{W: 160, H: 120}, 0xFF993300)
	late.Commit()
	if got := b.peer.WindowCount(); got != 2 {
		t.Fatalf("%d windows after the late create, want 2", got)
	}
	orders = windowOrders(b.loop.TakeSent(protocol.ChannelUpdate))
	lateCreate, ok := findOrder(orders, created)
	if !ok || lateCreate.Title != "late" {
		t.Fatalf("late surface produced no create order")
	}

	b.comp.repaint()
	b.ackFrames(t, b.loop.TakeSent(protocol.ChannelGfx))
	b.loop.TakeSent(protocol.ChannelUpdate)

	late.Destroy()
	if got := b.peer.WindowCount(); got != 1 {
		t.Fatalf("%d windows after destroy, want 1", got)
	}
	orders = windowOrders(b.loop.TakeSent(protocol.ChannelUpdate))
	if _, ok := findOrder(orders, func(w protocol.WindowOrder) bool {
		return w.WindowID == lateCreate.WindowID && w.Fields&protocol.WindowOrderStateDeleted != 0
	}); !ok {
		t.Fatalf("no delete order for the destroyed window")
	}

	b.peer.Teardown()
	b.comp.pump()
	if len(b.comp.clients) != 0 {
		t.Fatalf("torn peer still attached to the loop")
	}
}

func TestClientOrdersDriveShell(t *testing.T) {
	b := newBridge(t)
	b.activate(t)

	win := b.comp.CreateSurface(compositor.RoleToplevel, "term", geom.Rect{X: 60, Y: 50, W: 200, H: 150})
	win.Paint(geom.Rect{W: 200, H: 150}, 0xFF2266AA)
	win.Commit()
	create, ok := findOrder(windowOrders(b.loop.TakeSent(protocol.ChannelUpdate)), created)
	if !ok {
		t.Fatalf("no create order for the window")
	}
	id := create.WindowID

	b.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeWindowMove(protocol.WindowMove{
			WindowID: id, Left: 120, Top: 80, Right: 320, Bottom: 230,
		}))
	b.comp.pump()
	if win.Position() != (geom.Point{X: 120, Y: 80}) {
		t.Fatalf("window at %+v after the client move", win.Position())
	}
	if win.Size() != (geom.Size{W: 200, H: 150}) {
		t.Fatalf("plain move changed the size to %+v", win.Size())
	}

	b.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeSyscommand(protocol.Syscommand{WindowID: id, Command: protocol.SCMinimize}))
	b.comp.pump()
	if win.State() != compositor.StateMinimized {
		t.Fatalf("state %v after minimize", win.State())
	}

	b.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeSyscommand(protocol.Syscommand{WindowID: id, Command: protocol.SCMaximize}))
	b.comp.pump()
	if win.State() != compositor.StateMaximized || win.Size() != (geom.Size{W: 800, H: 600}) {
		t.Fatalf("state %v size %+v after maximize", win.State(), win.Size())
	}

	b.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeSyscommand(protocol.Syscommand{WindowID: id, Command: protocol.SCRestore}))
	b.comp.pump()
	if win.State() != compositor.StateNormal || win.Position() != (geom.Point{X: 120, Y: 80}) {
		t.Fatalf("restore landed at %+v in state %v", win.Position(), win.State())
	}

	b.loop.TakeSent(protocol.ChannelRail)
	b.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeGetAppidReq(protocol.GetAppidReq{WindowID: id}))
	b.comp.pump()
	resp, ok := findAppidResp(t, b.loop.TakeSent(protocol.ChannelRail))
	if !ok {
		t.Fatalf("no appid response on the rail channel")
	}
	if resp.WindowID != id || resp.AppID != "railbridge.sim" {
		t.Fatalf("appid response %+v", resp)
	}

	b.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeSyscommand(protocol.Syscommand{WindowID: id, Command: protocol.SCClose}))
	b.comp.pump()
	if b.peer.WindowCount() != 0 || len(b.comp.surfaces) != 0 {
		t.Fatalf("close left %d windows, %d surfaces", b.peer.WindowCount(), len(b.comp.surfaces))
	}
}

func findAppidResp(t *testing.T, frames [][]byte) (protocol.GetAppidResp, bool) {
	t.Helper()
	for _, f := range frames {
		kind, body, err := protocol.DecodeRailHeader(f)
		if err != nil || kind != protocol.OrderGetAppidResp {
			continue
		}
		resp, err := protocol.DecodeGetAppidResp(body)
		if err != nil {
			t.Fatalf("DecodeGetAppidResp failed: %v", err)
		}
		return resp, true
	}
	return protocol.GetAppidResp{}, false
}

func TestShellIconReachesClient(t *testing.T) {
	b := newBridge(t)
	b.activate(t)

	b.comp.CreateSurface(compositor.RoleToplevel, "iconic", geom.Rect{X: 10, Y: 10, W: 120, H: 90})
	create, ok := findOrder(windowOrders(b.loop.TakeSent(protocol.ChannelUpdate)), created)
	if !ok {
		t.Fatalf("no create order for the window")
	}

	// The create-time icon request parks its answer on the task queue.
	b.comp.drainTasks()
	var icon protocol.WindowIcon
	var sawIcon bool
	for _, f := range b.loop.TakeSent(protocol.ChannelUpdate) {
		typ, body, err := protocol.DecodeUpdateHeader(f)
		if err != nil || typ != protocol.UpdateWindowOrder {
			continue
		}
		w, err := protocol.DecodeWindowOrder(body)
		if err != nil || w.Fields&protocol.WindowOrderIcon == 0 {
			continue
		}
		if icon, err = protocol.DecodeWindowIcon(body); err != nil {
			t.Fatalf("DecodeWindowIcon failed: %v", err)
		}
		sawIcon = true
	}
	if !sawIcon {
		t.Fatalf("shell icon answer never reached the update channel")
	}
	if icon.WindowID != create.WindowID || icon.Width != iconSide || icon.Height != iconSide {
		t.Fatalf("icon order %+v", icon)
	}
}
