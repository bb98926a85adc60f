// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: rail/peer_test.go
// Summary: Peer harness, fake compositor, control-order tests.

package rail

import (
	"encoding/binary"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/config"
	"github.com/IcebergThings/railbridge/display"
	"github.com/IcebergThings/railbridge/geom"
	"github.com/IcebergThings/railbridge/protocol"
	"github.com/IcebergThings/railbridge/transport"
)

// fakeSurface is a scriptable compositor surface. Tests mutate the
// fields between commits the way a live compositor would.
type fakeSurface struct {
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

	fill    byte
	pix     []byte
	snapErr error
}

func (s *fakeSurface) Role() compositor.Role         { return s.role }
func (s *fakeSurface) Parent() compositor.Surface    { return s.parent }
func (s *fakeSurface) State() compositor.WindowState { return s.state }
func (s *fakeSurface) Title() string                 { return s.title }
func (s *fakeSurface) AppID() string                 { return s.appID }
func (s *fakeSurface) Position() geom.Point          { return s.pos }
func (s *fakeSurface) Size() geom.Size               { return s.size }
func (s *fakeSurface) Geometry() geom.Rect           { return s.geometry }
func (s *fakeSurface) Opaque() bool                  { return s.opaque }
func (s *fakeSurface) CursorHotspot() geom.Point     { return s.hotspot }

func (s *fakeSurface) BufferScale() float64 {
	if s.scale == 0 {
		return 1
	}
	return s.scale
}

func (s *fakeSurface) Snapshot(r geom.Rect) ([]byte, error) {
	if s.snapErr != nil {
		return nil, s.snapErr
	}
	out := make([]byte, r.W*r.H*4)
	if s.pix != nil {
		stride := s.size.W * 4
		for row := 0; row < r.H; row++ {
			off := (r.Y+row)*stride + r.X*4
			copy(out[row*r.W*4:(row+1)*r.W*4], s.pix[off:off+r.W*4])
		}
		return out, nil
	}
	for i := range out {
		out[i] = s.fill
	}
	return out, nil
}

func toplevel(title string, x, y, w, h int) *fakeSurface {
	return &fakeSurface{
		role:   compositor.RoleToplevel,
		title:  title,
		pos:    geom.Point{X: x, Y: y},
		size:   geom.Size{W: w, H: h},
		opaque: true,
		fill:   0x5A,
	}
}

type fakeView struct {
	surface compositor.Surface
	subs    []compositor.View
	marker  bool
}

func (v *fakeView) Surface() compositor.Surface { return v.surface }
func (v *fakeView) Subviews() []compositor.View { return v.subs }
func (v *fakeView) IsMarker() bool              { return v.marker }

type fakeLayer struct{ views []compositor.View }

func (l *fakeLayer) Views() []compositor.View { return l.views }

type fakeScene struct{ layers []compositor.Layer }

func (s *fakeScene) Layers() []compositor.Layer { return s.layers }

type fakeOutput struct {
	name   string
	region geom.Rect
}

func (o *fakeOutput) Name() string      { return o.name }
func (o *fakeOutput) Region() geom.Rect { return o.region }

type fakeProcess struct{ pid int }

func (p *fakeProcess) Pid() int { return p.pid }

// fakeShell records every request the peer routes into the compositor.
type fakeShell struct {
	launched  []string
	launchErr error
	nextPid   int

	activated []compositor.Surface
	minimized []compositor.Surface
	maximized []compositor.Surface
	restored  []compositor.Surface
	closed    []compositor.Surface

	moved     []geom.Rect
	snapped   []geom.Rect
	movedSurf []compositor.Surface

	iconRequests   []compositor.Surface
	minMaxRequests []compositor.Surface

	appID     string
	imageName string
	pid       uint32

	workareas []geom.Rect
	layouts   []uint32

	appListStarts []uint32
	appListStops  int
	appListOn     bool
}

func (f *fakeShell) LaunchProcess(cmdline string) (compositor.Process, error) {
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	f.launched = append(f.launched, cmdline)
	return &fakeProcess{pid: f.nextPid}, nil
}

func (f *fakeShell) ActivateWindow(s compositor.Surface) { f.activated = append(f.activated, s) }
func (f *fakeShell) MinimizeWindow(s compositor.Surface) { f.minimized = append(f.minimized, s) }
func (f *fakeShell) MaximizeWindow(s compositor.Surface) { f.maximized = append(f.maximized, s) }
func (f *fakeShell) RestoreWindow(s compositor.Surface)  { f.restored = append(f.restored, s) }
func (f *fakeShell) CloseWindow(s compositor.Surface)    { f.closed = append(f.closed, s) }

func (f *fakeShell) MoveWindow(s compositor.Surface, r geom.Rect) {
	f.moved = append(f.moved, r)
	f.movedSurf = append(f.movedSurf, s)
}

func (f *fakeShell) SnapWindow(s compositor.Surface, r geom.Rect) {
	f.snapped = append(f.snapped, r)
	f.movedSurf = append(f.movedSurf, s)
}

func (f *fakeShell) RequestWindowIcon(s compositor.Surface) {
	f.iconRequests = append(f.iconRequests, s)
}

func (f *fakeShell) RequestMinMaxInfo(s compositor.Surface) {
	f.minMaxRequests = append(f.minMaxRequests, s)
}

func (f *fakeShell) WindowAppID(compositor.Surface) (string, string, uint32) {
	return f.appID, f.imageName, f.pid
}

func (f *fakeShell) SetDesktopWorkarea(_ compositor.Output, area geom.Rect) {
	f.workareas = append(f.workareas, area)
}

func (f *fakeShell) SetKeyboardLayout(layout uint32) { f.layouts = append(f.layouts, layout) }

func (f *fakeShell) StartAppListUpdate(languageID uint32) bool {
	f.appListStarts = append(f.appListStarts, languageID)
	return f.appListOn
}

func (f *fakeShell) StopAppListUpdate() { f.appListStops++ }

// testPeer bundles one peer with its loopback transport and fakes.
type testPeer struct {
	p     *Peer
	loop  *transport.Loopback
	shell *fakeShell
	scene *fakeScene
	out   *fakeOutput
}

func monitors100() []display.Monitor {
	return []display.Monitor{{
		Name:                "M0",
		Rect:                geom.Rect{W: 1920, H: 1080},
		Workarea:            geom.Rect{W: 1920, H: 1040},
		DesktopScalePercent: 100,
		Primary:             true,
	}}
}

func monitors200() []display.Monitor {
	m := monitors100()
	m[0].DesktopScalePercent = 200
	return m
}

func newTestPeer(t *testing.T, opts config.Options, monitors []display.Monitor) *testPeer {
	t.Helper()
	loop := transport.NewLoopback()
	shell := &fakeShell{nextPid: 4242}
	scene := &fakeScene{}
	p, err := NewPeer(Params{
		Options:   opts,
		Shell:     shell,
		Scene:     scene,
		Transport: loop,
		Log:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewPeer failed: %v", err)
	}
	t.Cleanup(func() {
		loop.CloseAll()
		p.Teardown()
	})

	tp := &testPeer{p: p, loop: loop, shell: shell, scene: scene}
	tp.out = &fakeOutput{name: "OUT-1"}
	if err := p.ConfigureDisplay(monitors, []compositor.Output{tp.out}); err != nil {
		t.Fatalf("ConfigureDisplay failed: %v", err)
	}
	tp.out.region = p.Layout().Bounds
	return tp
}

// handshake performs the control handshake and announces the client
// status flags.
func (tp *testPeer) handshake(t *testing.T, status uint32) {
	t.Helper()
	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeHandshake(protocol.Handshake{BuildNumber: 6020}))
	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeClientStatus(protocol.ClientStatus{Flags: status}))
	tp.p.RunPending()
}

// activateGfx completes activation in graphics mode and clears the
// captured traffic.
func (tp *testPeer) activateGfx(t *testing.T, status uint32) {
	t.Helper()
	tp.handshake(t, status)
	tp.loop.InjectSync(protocol.ChannelGfx,
		protocol.EncodeGfxCapsAdvertise(protocol.GfxCapsAdvertise{
			CapSets: []protocol.GfxCapSet{{Version: protocol.GfxCapsVersion104}},
		}))
	tp.p.RunPending()
	if !tp.p.Activated() {
		t.Fatalf("peer not activated after handshake and caps")
	}
	tp.drainAll()
}

// activateShm completes activation in shared-memory mode.
func (tp *testPeer) activateShm(t *testing.T, status uint32) {
	t.Helper()
	tp.handshake(t, status)
	tp.loop.InjectSync(protocol.ChannelShm,
		protocol.EncodeShmCaps(protocol.ShmCaps{Version: protocol.ShmVersion1, Flags: 0x2}))
	tp.p.RunPending()
	if !tp.p.Activated() {
		t.Fatalf("peer not activated after handshake and shm caps")
	}
	tp.drainAll()
}

func (tp *testPeer) drainAll() {
	for ch := protocol.Channel(0); ch < protocol.NumChannels; ch++ {
		tp.loop.TakeSent(ch)
	}
}

// track registers the surface and stacks it in front of everything
// already present.
func (tp *testPeer) track(t *testing.T, s *fakeSurface) uint32 {
	t.Helper()
	tp.p.SurfaceCreated(s)
	w := tp.p.bySurface[s]
	if w == nil {
		t.Fatalf("surface not tracked")
	}
	tp.stackFront(s)
	return w.id
}

func (tp *testPeer) stackFront(s compositor.Surface) {
	views := []compositor.View{&fakeView{surface: s}}
	if len(tp.scene.layers) > 0 {
		views = append(views, tp.scene.layers[0].Views()...)
	}
	tp.scene.layers = []compositor.Layer{&fakeLayer{views: views}}
}

func (tp *testPeer) stack(views ...compositor.View) {
	tp.scene.layers = []compositor.Layer{&fakeLayer{views: views}}
}

// commit delivers full-surface damage.
func (tp *testPeer) commit(s *fakeSurface) {
	tp.p.SurfaceCommitted(s, geom.Rect{W: s.size.W, H: s.size.H})
}

type railMsg struct {
	order uint16
	body  []byte
}

func takeRail(t *testing.T, loop *transport.Loopback) []railMsg {
	t.Helper()
	var out []railMsg
	for _, payload := range loop.TakeSent(protocol.ChannelRail) {
		order, body, err := protocol.DecodeRailHeader(payload)
		if err != nil {
			t.Fatalf("DecodeRailHeader failed: %v", err)
		}
		out = append(out, railMsg{order: order, body: body})
	}
	return out
}

type updateMsg struct {
	kind uint16
	body []byte
}

func takeUpdates(t *testing.T, loop *transport.Loopback) []updateMsg {
	t.Helper()
	var out []updateMsg
	for _, payload := range loop.TakeSent(protocol.ChannelUpdate) {
		kind, body, err := protocol.DecodeUpdateHeader(payload)
		if err != nil {
			t.Fatalf("DecodeUpdateHeader failed: %v", err)
		}
		out = append(out, updateMsg{kind: kind, body: body})
	}
	return out
}

type gfxMsg struct {
	cmd  uint16
	body []byte
}

func takeGfx(t *testing.T, loop *transport.Loopback) []gfxMsg {
	t.Helper()
	var out []gfxMsg
	for _, payload := range loop.TakeSent(protocol.ChannelGfx) {
		hdr, body, err := protocol.DecodeGfxHeader(payload)
		if err != nil {
			t.Fatalf("DecodeGfxHeader failed: %v", err)
		}
		out = append(out, gfxMsg{cmd: hdr.CmdID, body: body})
	}
	return out
}

type shmMsg struct {
	kind uint16
	body []byte
}

func takeShm(t *testing.T, loop *transport.Loopback) []shmMsg {
	t.Helper()
	var out []shmMsg
	for _, payload := range loop.TakeSent(protocol.ChannelShm) {
		kind, body, err := protocol.DecodeShmHeader(payload)
		if err != nil {
			t.Fatalf("DecodeShmHeader failed: %v", err)
		}
		out = append(out, shmMsg{kind: kind, body: body})
	}
	return out
}

// orderFields peeks the field mask of an encoded window or desktop
// order without fully decoding it.
func orderFields(t *testing.T, body []byte) uint32 {
	t.Helper()
	if len(body) < 6 {
		t.Fatalf("order body too short: %d bytes", len(body))
	}
	return binary.LittleEndian.Uint32(body[2:6])
}

func decodeWindowOrder(t *testing.T, body []byte) protocol.WindowOrder {
	t.Helper()
	w, err := protocol.DecodeWindowOrder(body)
	if err != nil {
		t.Fatalf("DecodeWindowOrder failed: %v", err)
	}
	return w
}

func decodeDesktopOrder(t *testing.T, body []byte) protocol.DesktopOrder {
	t.Helper()
	d, err := protocol.DecodeDesktopOrder(body)
	if err != nil {
		t.Fatalf("DecodeDesktopOrder failed: %v", err)
	}
	return d
}

func TestNewPeerValidation(t *testing.T) {
	loop := transport.NewLoopback()
	defer loop.CloseAll()
	shell := &fakeShell{}
	scene := &fakeScene{}

	if _, err := NewPeer(Params{Scene: scene, Transport: loop}); !errors.Is(err, errNilShell) {
		t.Fatalf("missing shell: got %v", err)
	}
	if _, err := NewPeer(Params{Shell: shell, Transport: loop}); !errors.Is(err, errNilScene) {
		t.Fatalf("missing scene: got %v", err)
	}
	if _, err := NewPeer(Params{Shell: shell, Scene: scene}); !errors.Is(err, errNilTransport) {
		t.Fatalf("missing transport: got %v", err)
	}
}

func TestChannelOpenOrder(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	want := []protocol.Channel{
		protocol.ChannelUpdate, protocol.ChannelRail,
		protocol.ChannelGfx, protocol.ChannelShm,
	}
	got := tp.loop.OpenOrder()
	if len(got) != len(want) {
		t.Fatalf("opened %d channels, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("channel %d is %v, want %v", i, got[i], want[i])
		}
	}
}

func TestHandshakeAdvertisesCapabilities(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.handshake(t, 0)

	msgs := takeRail(t, tp.loop)
	if len(msgs) != 1 {
		t.Fatalf("handshake produced %d rail orders, want 1", len(msgs))
	}
	if msgs[0].order != protocol.OrderHandshakeEx {
		t.Fatalf("order 0x%04x, want HandshakeEx", msgs[0].order)
	}
	h, err := protocol.DecodeHandshakeEx(msgs[0].body)
	if err != nil {
		t.Fatalf("DecodeHandshakeEx failed: %v", err)
	}
	if h.BuildNumber != serverBuildNumber {
		t.Fatalf("build %d, want %d", h.BuildNumber, serverBuildNumber)
	}
	want := protocol.HandshakeExFlagHiDef | protocol.HandshakeExFlagExtendedSpi
	if h.Flags != want {
		t.Fatalf("flags 0x%x, want 0x%x", h.Flags, want)
	}
	if tp.p.Activated() {
		t.Fatalf("activated before pixel channel capabilities")
	}

	opts := config.Default()
	opts.SnapArrange = true
	tp2 := newTestPeer(t, opts, monitors100())
	tp2.handshake(t, 0)
	msgs = takeRail(t, tp2.loop)
	if len(msgs) != 1 {
		t.Fatalf("handshake produced %d rail orders, want 1", len(msgs))
	}
	h, err = protocol.DecodeHandshakeEx(msgs[0].body)
	if err != nil {
		t.Fatalf("DecodeHandshakeEx failed: %v", err)
	}
	if h.Flags&protocol.HandshakeExFlagSnapArrange == 0 {
		t.Fatalf("snap arrange flag missing from 0x%x", h.Flags)
	}
}

func TestActivationPicksNewestGfxCaps(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.handshake(t, 0)
	tp.drainAll()

	tp.loop.InjectSync(protocol.ChannelGfx,
		protocol.EncodeGfxCapsAdvertise(protocol.GfxCapsAdvertise{
			CapSets: []protocol.GfxCapSet{
				{Version: protocol.GfxCapsVersion8},
				{Version: protocol.GfxCapsVersion104, Flags: 0x4},
				{Version: protocol.GfxCapsVersion81},
			},
		}))
	tp.p.RunPending()

	if !tp.p.Activated() {
		t.Fatalf("not activated after caps advertise")
	}
	gfx := takeGfx(t, tp.loop)
	if len(gfx) != 1 {
		t.Fatalf("gfx channel carried %d commands, want 1", len(gfx))
	}
	if gfx[0].cmd != protocol.GfxCmdCapsConfirm {
		t.Fatalf("cmd 0x%04x, want CapsConfirm", gfx[0].cmd)
	}
	confirm, err := protocol.DecodeGfxCapsConfirm(gfx[0].body)
	if err != nil {
		t.Fatalf("DecodeGfxCapsConfirm failed: %v", err)
	}
	if confirm.CapSet.Version != protocol.GfxCapsVersion104 || confirm.CapSet.Flags != 0x4 {
		t.Fatalf("confirmed %+v, want version 10.4 with echoed flags", confirm.CapSet)
	}

	// Activation disables the client screen saver on both levels.
	msgs := takeRail(t, tp.loop)
	if len(msgs) != 2 {
		t.Fatalf("activation sent %d rail orders, want 2", len(msgs))
	}
	for i, m := range msgs {
		if m.order != protocol.OrderSysparam {
			t.Fatalf("order %d is 0x%04x, want Sysparam", i, m.order)
		}
	}
	s0, err := protocol.DecodeServerSysparam(msgs[0].body)
	if err != nil {
		t.Fatalf("DecodeServerSysparam failed: %v", err)
	}
	s1, err := protocol.DecodeServerSysparam(msgs[1].body)
	if err != nil {
		t.Fatalf("DecodeServerSysparam failed: %v", err)
	}
	if s0.Param != protocol.SPISetScreenSaveActive || s1.Param != protocol.SPISetScreenSaveSecure {
		t.Fatalf("sysparams 0x%x 0x%x, want screen save active then secure", s0.Param, s1.Param)
	}
	if s0.Flag || s1.Flag {
		t.Fatalf("screen save sysparams must clear the flag")
	}
}

func TestActivationRejectsUnknownGfxCaps(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.handshake(t, 0)
	tp.drainAll()

	tp.loop.InjectSync(protocol.ChannelGfx,
		protocol.EncodeGfxCapsAdvertise(protocol.GfxCapsAdvertise{
			CapSets: []protocol.GfxCapSet{{Version: 0x00070000}},
		}))
	tp.p.RunPending()

	if tp.p.Activated() {
		t.Fatalf("activated on unknown capability version")
	}
	if got := takeGfx(t, tp.loop); len(got) != 0 {
		t.Fatalf("gfx channel carried %d commands, want none", len(got))
	}
}

func TestSharedMemoryActivation(t *testing.T) {
	opts := config.Default()
	opts.UseSharedMemory = true
	opts.SharedMemoryMountPoint = t.TempDir()
	tp := newTestPeer(t, opts, monitors100())
	tp.handshake(t, 0)

	// The graphics channel alone must not activate a shared-memory
	// peer.
	tp.loop.InjectSync(protocol.ChannelGfx,
		protocol.EncodeGfxCapsAdvertise(protocol.GfxCapsAdvertise{
			CapSets: []protocol.GfxCapSet{{Version: protocol.GfxCapsVersion107}},
		}))
	tp.p.RunPending()
	if tp.p.Activated() {
		t.Fatalf("activated without shared-memory capabilities")
	}
	tp.drainAll()

	tp.loop.InjectSync(protocol.ChannelShm,
		protocol.EncodeShmCaps(protocol.ShmCaps{Version: protocol.ShmVersion1, Flags: 0x2}))
	tp.p.RunPending()
	if !tp.p.Activated() {
		t.Fatalf("not activated after shm caps")
	}

	msgs := takeShm(t, tp.loop)
	if len(msgs) != 1 {
		t.Fatalf("shm channel carried %d messages, want 1", len(msgs))
	}
	if msgs[0].kind != protocol.ShmMsgCapsConfirm {
		t.Fatalf("message 0x%04x, want CapsConfirm", msgs[0].kind)
	}
	caps, err := protocol.DecodeShmCaps(msgs[0].body)
	if err != nil {
		t.Fatalf("DecodeShmCaps failed: %v", err)
	}
	if caps.Version != protocol.ShmVersion1 || caps.Flags != 0x2 {
		t.Fatalf("confirmed %+v, want version 1 with echoed flags", caps)
	}
}

func TestShmCapsVersionRejected(t *testing.T) {
	opts := config.Default()
	opts.UseSharedMemory = true
	opts.SharedMemoryMountPoint = t.TempDir()
	tp := newTestPeer(t, opts, monitors100())
	tp.handshake(t, 0)
	tp.drainAll()

	tp.loop.InjectSync(protocol.ChannelShm,
		protocol.EncodeShmCaps(protocol.ShmCaps{Version: 2}))
	tp.p.RunPending()
	if tp.p.Activated() {
		t.Fatalf("activated on unsupported shared-memory version")
	}
	if got := takeShm(t, tp.loop); len(got) != 0 {
		t.Fatalf("shm channel carried %d messages, want none", len(got))
	}
}

func TestSurfaceBeforeActivationIgnored(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	s := toplevel("early", 0, 0, 100, 100)
	tp.p.SurfaceCreated(s)
	if tp.p.WindowCount() != 0 {
		t.Fatalf("window tracked before activation")
	}
	if got := takeUpdates(t, tp.loop); len(got) != 0 {
		t.Fatalf("update channel carried %d orders before activation", len(got))
	}
}

func TestExecLaunch(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.activateGfx(t, 0)

	payload, err := protocol.EncodeExec(protocol.Exec{
		Flags:     protocol.ExecFlagExpandArguments,
		ExeOrFile: "  wterm ",
		Arguments: " --login  ",
	})
	if err != nil {
		t.Fatalf("EncodeExec failed: %v", err)
	}
	tp.loop.InjectSync(protocol.ChannelRail, payload)
	tp.p.RunPending()

	if len(tp.shell.launched) != 1 || tp.shell.launched[0] != "wterm --login" {
		t.Fatalf("launched %q, want [wterm --login]", tp.shell.launched)
	}
	msgs := takeRail(t, tp.loop)
	if len(msgs) != 1 || msgs[0].order != protocol.OrderExecResult {
		t.Fatalf("rail traffic %d orders, want one ExecResult", len(msgs))
	}
	res, err := protocol.DecodeExecResult(msgs[0].body)
	if err != nil {
		t.Fatalf("DecodeExecResult failed: %v", err)
	}
	if res.Result != protocol.ExecResultOK || res.RawResult != 0 {
		t.Fatalf("result %d raw 0x%x, want success", res.Result, res.RawResult)
	}
	if res.Flags != protocol.ExecFlagExpandArguments || res.ExeOrFile != "  wterm " {
		t.Fatalf("result echoes %q flags 0x%x", res.ExeOrFile, res.Flags)
	}
}

func TestExecLaunchFailure(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.activateGfx(t, 0)
	tp.shell.launchErr = errors.New("no such binary")

	payload, err := protocol.EncodeExec(protocol.Exec{ExeOrFile: "ghost"})
	if err != nil {
		t.Fatalf("EncodeExec failed: %v", err)
	}
	tp.loop.InjectSync(protocol.ChannelRail, payload)
	tp.p.RunPending()

	msgs := takeRail(t, tp.loop)
	if len(msgs) != 1 || msgs[0].order != protocol.OrderExecResult {
		t.Fatalf("rail traffic %d orders, want one ExecResult", len(msgs))
	}
	res, err := protocol.DecodeExecResult(msgs[0].body)
	if err != nil {
		t.Fatalf("DecodeExecResult failed: %v", err)
	}
	if res.Result != protocol.ExecResultFail || res.RawResult != execFailureHResult {
		t.Fatalf("result %d raw 0x%x, want failure", res.Result, res.RawResult)
	}
}

func TestActivateRoutesFocus(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.activateGfx(t, 0)
	s := toplevel("editor", 10, 10, 200, 100)
	id := tp.track(t, s)

	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeActivate(protocol.Activate{WindowID: id, Enabled: true}))
	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeActivate(protocol.Activate{WindowID: id, Enabled: false}))
	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeActivate(protocol.Activate{WindowID: 9999, Enabled: true}))
	tp.p.RunPending()

	if len(tp.shell.activated) != 2 {
		t.Fatalf("%d focus calls, want 2", len(tp.shell.activated))
	}
	if tp.shell.activated[0] != s {
		t.Fatalf("first focus call did not carry the surface")
	}
	if tp.shell.activated[1] != nil {
		t.Fatalf("disable must clear focus with a nil surface")
	}
}

func TestSyscommandRouting(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.activateGfx(t, 0)
	s := toplevel("editor", 10, 10, 200, 100)
	id := tp.track(t, s)

	for _, cmd := range []uint16{
		protocol.SCMinimize, protocol.SCMaximize, protocol.SCRestore,
		protocol.SCClose, protocol.SCSize, protocol.SCKeyMenu,
	} {
		tp.loop.InjectSync(protocol.ChannelRail,
			protocol.EncodeSyscommand(protocol.Syscommand{WindowID: id, Command: cmd}))
	}
	tp.p.RunPending()

	if len(tp.shell.minimized) != 1 || tp.shell.minimized[0] != s {
		t.Fatalf("minimize not routed")
	}
	if len(tp.shell.maximized) != 1 || len(tp.shell.restored) != 1 || len(tp.shell.closed) != 1 {
		t.Fatalf("syscommand routing: max=%d restore=%d close=%d, want 1 each",
			len(tp.shell.maximized), len(tp.shell.restored), len(tp.shell.closed))
	}
	// SCSize and SCKeyMenu stay client-side concerns.
	if len(tp.shell.moved) != 0 {
		t.Fatalf("ignored syscommands reached the shell")
	}
}

func TestWindowMoveInsetsMargins(t *testing.T) {
	opts := config.Default()
	opts.ShadowRemoting = false
	tp := newTestPeer(t, opts, monitors100())
	tp.activateGfx(t, protocol.ClientStatusResizeMargin)

	s := toplevel("editor", 100, 100, 336, 256)
	s.geometry = geom.Rect{X: 8, Y: 8, W: 320, H: 240}
	id := tp.track(t, s)
	tp.commit(s)
	tp.p.RepaintOutput(tp.out)
	tp.drainAll()

	// The client echoes the rectangle it was shown: the content rect
	// outset by the advertised resize margins.
	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeWindowMove(protocol.WindowMove{
			WindowID: id,
			Left:     92, Top: 92, Right: 428, Bottom: 348,
		}))
	tp.p.RunPending()

	if len(tp.shell.moved) != 1 {
		t.Fatalf("%d move calls, want 1", len(tp.shell.moved))
	}
	want := geom.Rect{X: 100, Y: 100, W: 320, H: 240}
	if tp.shell.moved[0] != want {
		t.Fatalf("moved to %+v, want %+v", tp.shell.moved[0], want)
	}
}

func TestSnapArrangeSkipsMarginInset(t *testing.T) {
	opts := config.Default()
	opts.ShadowRemoting = false
	opts.SnapArrange = true
	tp := newTestPeer(t, opts, monitors100())
	tp.activateGfx(t, protocol.ClientStatusResizeMargin)

	s := toplevel("editor", 100, 100, 336, 256)
	s.geometry = geom.Rect{X: 8, Y: 8, W: 320, H: 240}
	id := tp.track(t, s)
	tp.commit(s)
	tp.p.RepaintOutput(tp.out)
	tp.drainAll()

	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeSnapArrange(protocol.SnapArrange{
			WindowID: id,
			Left:     0, Top: 0, Right: 960, Bottom: 540,
		}))
	tp.p.RunPending()

	if len(tp.shell.snapped) != 1 {
		t.Fatalf("%d snap calls, want 1", len(tp.shell.snapped))
	}
	want := geom.Rect{W: 960, H: 540}
	if tp.shell.snapped[0] != want {
		t.Fatalf("snapped to %+v, want %+v", tp.shell.snapped[0], want)
	}

	// A move following a snap carries the snapped rectangle, which was
	// advertised without margin inflation.
	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeWindowMove(protocol.WindowMove{
			WindowID: id,
			Left:     50, Top: 50, Right: 1010, Bottom: 590,
		}))
	tp.p.RunPending()
	wantMove := geom.Rect{X: 50, Y: 50, W: 960, H: 540}
	if len(tp.shell.moved) != 1 || tp.shell.moved[0] != wantMove {
		t.Fatalf("post-snap move %+v, want %+v", tp.shell.moved, wantMove)
	}
}

func TestWorkareaAppliesToHeadAndShell(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.activateGfx(t, 0)

	area := geom.Rect{X: 0, Y: 40, W: 1920, H: 1000}
	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeClientSysparam(protocol.ClientSysparam{
			Param: protocol.SPISetWorkArea,
			Area:  area,
		}))
	tp.p.RunPending()

	if len(tp.shell.workareas) != 1 || tp.shell.workareas[0] != area {
		t.Fatalf("shell workarea %+v, want %+v", tp.shell.workareas, area)
	}
	head := tp.p.Layout().Primary()
	if head.ClientWorkarea != area || head.Workarea != area {
		t.Fatalf("head workarea client=%+v compositor=%+v, want %+v",
			head.ClientWorkarea, head.Workarea, area)
	}
}

func TestGetAppidPlainAndExtended(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.activateGfx(t, 0)
	tp.shell.appID = "org.example.editor"
	tp.shell.imageName = "editor"
	tp.shell.pid = 321
	s := toplevel("editor", 10, 10, 200, 100)
	id := tp.track(t, s)
	tp.drainAll()

	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeGetAppidReq(protocol.GetAppidReq{WindowID: id}))
	tp.p.RunPending()
	msgs := takeRail(t, tp.loop)
	if len(msgs) != 1 || msgs[0].order != protocol.OrderGetAppidResp {
		t.Fatalf("without the capability flag, want a plain response, got %d orders", len(msgs))
	}
	resp, err := protocol.DecodeGetAppidResp(msgs[0].body)
	if err != nil {
		t.Fatalf("DecodeGetAppidResp failed: %v", err)
	}
	if resp.WindowID != id || resp.AppID != "org.example.editor" {
		t.Fatalf("response %+v", resp)
	}

	tp2 := newTestPeer(t, config.Default(), monitors100())
	tp2.activateGfx(t, protocol.ClientStatusGetAppidRespEx)
	tp2.shell.appID = "org.example.editor"
	tp2.shell.imageName = "editor"
	tp2.shell.pid = 321
	s2 := toplevel("editor", 10, 10, 200, 100)
	id2 := tp2.track(t, s2)
	tp2.drainAll()

	tp2.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeGetAppidReq(protocol.GetAppidReq{WindowID: id2}))
	tp2.p.RunPending()
	msgs = takeRail(t, tp2.loop)
	if len(msgs) != 1 || msgs[0].order != protocol.OrderGetAppidRespEx {
		t.Fatalf("with the capability flag, want the extended response")
	}
	ex, err := protocol.DecodeGetAppidRespEx(msgs[0].body)
	if err != nil {
		t.Fatalf("DecodeGetAppidRespEx failed: %v", err)
	}
	if ex.WindowID != id2 || ex.AppID != "org.example.editor" ||
		ex.ProcessID != 321 || ex.ImageName != "editor" {
		t.Fatalf("extended response %+v", ex)
	}
}

func TestLanguageImeSwitchesLayout(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.activateGfx(t, 0)

	jp := guid(0x03B5835F, 0xF03C, 0x411B, [8]byte{0x9C, 0xE2, 0xAA, 0x23, 0xE1, 0x17, 0x1E, 0x36})
	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeLanguageImeInfo(protocol.LanguageImeInfo{
			ProfileType:         protocol.ProfileTypeInputProcessor,
			LanguageID:          0x0411,
			LanguageProfileGUID: jp,
		}))
	tp.p.RunPending()
	if len(tp.shell.layouts) != 1 || tp.shell.layouts[0] != 0x0411 {
		t.Fatalf("layouts %v, want [0x0411]", tp.shell.layouts)
	}

	// A repeated profile report must not thrash the seat keymap.
	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeLanguageImeInfo(protocol.LanguageImeInfo{
			ProfileType:         protocol.ProfileTypeInputProcessor,
			LanguageID:          0x0411,
			LanguageProfileGUID: jp,
		}))
	tp.p.RunPending()
	if len(tp.shell.layouts) != 1 {
		t.Fatalf("unchanged profile re-applied the layout")
	}

	// Plain keyboard-layout profiles carry the code in the low word.
	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeLanguageImeInfo(protocol.LanguageImeInfo{
			ProfileType:    protocol.ProfileTypeKeyboardLayout,
			LanguageID:     0x0412,
			KeyboardLayout: 0xF0010412,
		}))
	tp.p.RunPending()
	if len(tp.shell.layouts) != 2 || tp.shell.layouts[1] != 0x0412 {
		t.Fatalf("layouts %v, want [0x0411 0x0412]", tp.shell.layouts)
	}
}

func TestLocalMoveSizeRequiresClientSupport(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.activateGfx(t, 0)
	s := toplevel("editor", 10, 10, 200, 100)
	tp.track(t, s)
	tp.drainAll()

	if tp.p.StartLocalMoveSize(s, protocol.MoveSizeMove, geom.Point{X: 50, Y: 60}) {
		t.Fatalf("local move accepted without the client capability")
	}
	if got := takeRail(t, tp.loop); len(got) != 0 {
		t.Fatalf("rail traffic without capability: %d orders", len(got))
	}
	if len(tp.shell.minMaxRequests) != 0 {
		t.Fatalf("track bounds requested for a rejected move")
	}

	tp2 := newTestPeer(t, config.Default(), monitors100())
	tp2.activateGfx(t, protocol.ClientStatusAllowLocalMoveSize)
	s2 := toplevel("editor", 10, 10, 200, 100)
	id2 := tp2.track(t, s2)
	tp2.drainAll()

	if !tp2.p.StartLocalMoveSize(s2, protocol.MoveSizeMove, geom.Point{X: 50, Y: 60}) {
		t.Fatalf("local move rejected despite the client capability")
	}
	if len(tp2.shell.minMaxRequests) != 1 || tp2.shell.minMaxRequests[0] != compositor.Surface(s2) {
		t.Fatalf("move start should ask the shell for track bounds once, got %d", len(tp2.shell.minMaxRequests))
	}
	if !tp2.p.EndLocalMoveSize(s2, protocol.MoveSizeMove, geom.Point{X: 70, Y: 90}) {
		t.Fatalf("local move end rejected")
	}
	if len(tp2.shell.minMaxRequests) != 1 {
		t.Fatalf("move end must not re-request track bounds")
	}
	msgs := takeRail(t, tp2.loop)
	if len(msgs) != 2 {
		t.Fatalf("%d rail orders, want start and end", len(msgs))
	}
	start, err := protocol.DecodeLocalMoveSize(msgs[0].body)
	if err != nil {
		t.Fatalf("DecodeLocalMoveSize failed: %v", err)
	}
	if !start.IsStart || start.WindowID != id2 || start.PosX != 50 || start.PosY != 60 {
		t.Fatalf("start order %+v", start)
	}
	end, err := protocol.DecodeLocalMoveSize(msgs[1].body)
	if err != nil {
		t.Fatalf("DecodeLocalMoveSize failed: %v", err)
	}
	if end.IsStart || end.MoveSizeType != protocol.MoveSizeMove {
		t.Fatalf("end order %+v", end)
	}
}

func TestSendMinMaxInfoScalesToClient(t *testing.T) {
	opts := config.Default()
	tp := newTestPeer(t, opts, monitors200())
	tp.activateGfx(t, 0)
	s := toplevel("editor", 100, 100, 200, 150)
	id := tp.track(t, s)
	tp.drainAll()

	tp.p.SendMinMaxInfo(s, compositor.MinMaxInfo{
		MaxSize:      geom.Size{W: 800, H: 500},
		MaxPosition:  geom.Point{X: 10, Y: 20},
		MinTrackSize: geom.Size{W: 100, H: 80},
		MaxTrackSize: geom.Size{W: 900, H: 520},
	})
	msgs := takeRail(t, tp.loop)
	if len(msgs) != 1 || msgs[0].order != protocol.OrderMinMaxInfo {
		t.Fatalf("%d rail orders, want one MinMaxInfo", len(msgs))
	}
	info, err := protocol.DecodeMinMaxInfo(msgs[0].body)
	if err != nil {
		t.Fatalf("DecodeMinMaxInfo failed: %v", err)
	}
	if info.WindowID != id {
		t.Fatalf("window %d, want %d", info.WindowID, id)
	}
	if info.MaxWidth != 1600 || info.MaxHeight != 1000 ||
		info.MaxPosX != 20 || info.MaxPosY != 40 ||
		info.MinTrackWidth != 200 || info.MinTrackHeight != 160 ||
		info.MaxTrackWidth != 1800 || info.MaxTrackHeight != 1040 {
		t.Fatalf("limits not scaled to client pixels: %+v", info)
	}
}

func TestTeardownClosesEverything(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	tp.activateGfx(t, 0)
	s := toplevel("editor", 10, 10, 200, 100)
	id := tp.track(t, s)
	tp.commit(s)
	tp.p.RepaintOutput(tp.out)
	tp.drainAll()

	tp.p.Teardown()

	if !tp.p.TornDown() {
		t.Fatalf("TornDown false after Teardown")
	}
	if tp.p.WindowCount() != 0 {
		t.Fatalf("%d windows survive teardown", tp.p.WindowCount())
	}
	ups := takeUpdates(t, tp.loop)
	if len(ups) != 1 {
		t.Fatalf("teardown produced %d update orders, want one WindowDelete", len(ups))
	}
	del := decodeWindowOrder(t, ups[0].body)
	if del.Fields&protocol.WindowOrderStateDeleted == 0 || del.WindowID != id {
		t.Fatalf("delete order %+v", del)
	}
	for ch := protocol.Channel(0); ch < protocol.NumChannels; ch++ {
		if !tp.loop.ChannelClosed(ch) {
			t.Fatalf("channel %v left open", ch)
		}
	}

	// Idempotent, and the cancelled queue swallows later work.
	tp.p.Teardown()
	tp.loop.InjectSync(protocol.ChannelRail,
		protocol.EncodeActivate(protocol.Activate{WindowID: id, Enabled: true}))
	if tp.p.RunPending() != 0 {
		t.Fatalf("tasks ran after teardown")
	}
	if len(tp.shell.activated) != 0 {
		t.Fatalf("shell called after teardown")
	}
}

// checkConsistency cross-checks the peer's bookkeeping tables against
// each other: the id pool and the surface index must agree, backing ids
// must resolve to their owning window, parent links must not cycle, the
// cursor record never lives in the window table, the frame counter
// never falls behind its acknowledgement, and the stacking walk yields
// each window at most once.
func checkConsistency(t *testing.T, p *Peer) {
	t.Helper()

	tracked := 0
	p.windows.ForEach(func(id uint32, w *Window) bool {
		tracked++
		if id == 0 || w.id != id {
			t.Fatalf("pool id %d does not match record id %d", id, w.id)
		}
		if w.isCursor {
			t.Fatalf("cursor record allocated in the window pool as %d", id)
		}
		if p.bySurface[w.surface] != w {
			t.Fatalf("surface index lost window %d", id)
		}
		if w.parentID == w.id {
			t.Fatalf("window %d is its own parent", id)
		}
		if w.gfxID != 0 {
			if owner, ok := p.surfaceIDs.Lookup(w.gfxID); !ok || owner != w {
				t.Fatalf("gfx surface %d not owned by window %d", w.gfxID, id)
			}
		}
		if w.poolID != 0 {
			if owner, ok := p.poolIDs.Lookup(w.poolID); !ok || owner != w {
				t.Fatalf("shm pool %d not owned by window %d", w.poolID, id)
			}
		}
		if w.bufferID != 0 {
			if owner, ok := p.bufferIDs.Lookup(w.bufferID); !ok || owner != w {
				t.Fatalf("shm buffer %d not owned by window %d", w.bufferID, id)
			}
		}
		return true
	})
	if len(p.bySurface) != tracked {
		t.Fatalf("surface index holds %d entries, pool holds %d", len(p.bySurface), tracked)
	}
	for s, w := range p.bySurface {
		if w.surface != s {
			t.Fatalf("surface index entry for window %d points at another surface", w.id)
		}
		if got, ok := p.windows.Lookup(w.id); !ok || got != w {
			t.Fatalf("indexed window %d missing from the pool", w.id)
		}
	}

	// A stale parent id is fine until the next update reconciles it; a
	// cycle never is.
	p.windows.ForEach(func(id uint32, w *Window) bool {
		hops := 0
		for cur := w; cur.parentID != 0; {
			next, ok := p.windows.Lookup(cur.parentID)
			if !ok {
				break
			}
			if hops++; hops > tracked {
				t.Fatalf("parent chain from window %d cycles", id)
			}
			cur = next
		}
		return true
	})

	if c := p.cursor; c != nil {
		if !c.isCursor || c.id != 0 || c.created {
			t.Fatalf("cursor record carries window state: id=%d created=%v", c.id, c.created)
		}
		if p.bySurface[c.surface] != nil {
			t.Fatalf("cursor surface tracked as a window")
		}
	}

	if acked := p.ackedFrame.Load(); acked != protocol.FrameAckSuspended && p.frameID < acked {
		t.Fatalf("frame counter %d behind acknowledgement %d", p.frameID, acked)
	}

	seen := make(map[uint32]int)
	var visit func(v compositor.View)
	visit = func(v compositor.View) {
		for _, sub := range v.Subviews() {
			visit(sub)
		}
		if v.IsMarker() || v == p.proxyView {
			return
		}
		if w := p.bySurface[v.Surface()]; w != nil && w.created {
			seen[w.id]++
		}
	}
	for _, layer := range p.scene.Layers() {
		for _, view := range layer.Views() {
			visit(view)
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("window %d appears %d times in the stacking walk", id, n)
		}
	}
}

// TestBookkeepingStaysConsistent scripts a full session and sweeps the
// peer's internal state after every step.
func TestBookkeepingStaysConsistent(t *testing.T) {
	tp := newTestPeer(t, config.Default(), monitors100())
	sweep := func() {
		t.Helper()
		checkConsistency(t, tp.p)
	}
	sweep()

	tp.activateGfx(t, 0)
	// Suspended acknowledgements keep the frame gate open for the whole
	// script.
	tp.loop.InjectSync(protocol.ChannelGfx,
		protocol.EncodeGfxFrameAcknowledge(protocol.GfxFrameAcknowledge{
			QueueDepth: protocol.FrameAckSuspended,
		}))
	sweep()

	parent := toplevel("app", 30, 30, 400, 300)
	tp.track(t, parent)
	sweep()
	tp.commit(parent)
	tp.p.RepaintOutput(tp.out)
	sweep()

	child := &fakeSurface{
		role:   compositor.RoleSubsurface,
		parent: parent,
		pos:    geom.Point{X: 60, Y: 60},
		size:   geom.Size{W: 120, H: 90},
		opaque: true,
		fill:   0x22,
	}
	tp.p.SurfaceCreated(child)
	tp.stack(&fakeView{
		surface: parent,
		subs:    []compositor.View{&fakeView{surface: child}},
	})
	sweep()
	tp.commit(child)
	tp.p.RepaintOutput(tp.out)
	sweep()

	cur := &fakeSurface{
		role: compositor.RoleCursor,
		pos:  geom.Point{X: 5, Y: 5},
		size: geom.Size{W: 16, H: 16},
	}
	tp.p.SurfaceCreated(cur)
	tp.p.RepaintOutput(tp.out)
	sweep()

	parent.state = compositor.StateMinimized
	tp.p.NotifyZOrderChanged()
	tp.p.RepaintOutput(tp.out)
	sweep()
	parent.state = compositor.StateNormal
	tp.p.NotifyZOrderChanged()
	tp.p.RepaintOutput(tp.out)
	sweep()

	// The parent dies first; the child's stale link reconciles on the
	// next repaint.
	tp.p.SurfaceDestroyed(parent)
	tp.stack(&fakeView{surface: child})
	sweep()
	tp.p.RepaintOutput(tp.out)
	sweep()

	tp.p.SurfaceDestroyed(cur)
	sweep()
	tp.p.SurfaceDestroyed(child)
	sweep()

	tp.p.Teardown()
	sweep()
}
