// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: rail/peer.go
// Summary: Per-client peer: channel wiring, activation, teardown.

// Package rail is the bridge core. A Peer owns one remote client: it
// activates the control and pixel channels, tracks compositor surfaces
// as remote windows, relays shell requests both ways, and pushes pixel
// updates through the negotiated backing mode.
//
// Threading: every exported method runs on the compositor thread, as do
// all shell and scene accesses. Transport receivers decode on the
// receive goroutine and post closures to the dispatch queue. Three
// inbound paths are handled inline on the receive goroutine instead:
// Exec's activation wait, graphics frame acknowledgements, and shared
// buffer present acknowledgements (the latter under the window table
// lock).
package rail

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/config"
	"github.com/IcebergThings/railbridge/dispatch"
	"github.com/IcebergThings/railbridge/display"
	"github.com/IcebergThings/railbridge/geom"
	"github.com/IcebergThings/railbridge/idpool"
	"github.com/IcebergThings/railbridge/protocol"
	"github.com/IcebergThings/railbridge/transport"
)

const (
	// serverBuildNumber is advertised in the extended handshake.
	serverBuildNumber uint32 = 7600

	// activationTimeout bounds the wait for handshake plus pixel
	// channel capabilities before the peer is abandoned.
	activationTimeout = 100 * time.Second

	// drainInterval and drainAttempts cap every internal wait loop:
	// the Exec activation wait and the destroy-time ack drain.
	drainInterval = 10 * time.Millisecond
	drainAttempts = 1000

	// powerIdleTimeout releases a display power request after this
	// long without a delivered frame.
	powerIdleTimeout = 10 * time.Second

	// resizeMarginMin is the smallest per-edge resize margin, in
	// client pixels, advertised for shadowless windows.
	resizeMarginMin = 8

	execFailureHResult uint32 = 0x80004005
)

var (
	errNilShell     = errors.New("rail: nil shell")
	errNilScene     = errors.New("rail: nil scene")
	errNilTransport = errors.New("rail: nil transport manager")
)

// Params configures one peer.
type Params struct {
	Options   config.Options
	Shell     compositor.Shell
	Scene     compositor.Scene
	Transport transport.Manager

	// Wake, if non-nil, is invoked whenever a task lands on an empty
	// dispatch queue so the compositor loop can schedule a drain.
	Wake func()

	Log      *zap.Logger
	Observer Observer
}

// Peer drives one remote client over an open transport.
type Peer struct {
	log   *zap.Logger
	opts  config.Options
	shell compositor.Shell
	scene compositor.Scene
	obs   Observer

	mgr   transport.Manager
	queue *dispatch.Queue

	updateCh transport.Channel
	railCh   transport.Channel
	gfxCh    transport.Channel
	shmCh    transport.Channel

	windows    *idpool.Pool[*Window]
	surfaceIDs *idpool.Pool[*Window]
	poolIDs    *idpool.Pool[*Window]
	bufferIDs  *idpool.Pool[*Window]
	bySurface  map[compositor.Surface]*Window
	cursor     *Window

	layout  *display.Layout
	outputs []compositor.Output

	handshakeDone  bool
	gfxActive      bool
	shmActive      bool
	activated      bool
	railReady      atomic.Bool
	clientStatus   uint32
	gfxCapsVersion uint32

	frameID     uint32
	openFrameID uint32
	frameOpen   bool
	ackedFrame  atomic.Uint32

	zOrderDirty    bool
	needZOrderSync bool
	activeSurface  compositor.Surface
	proxyView      compositor.View

	mouseSwapped   bool
	keyboardLayout uint32

	powerActive  bool
	lastDelivery time.Time

	watchdog *time.Timer
	torn     bool
}

// NewPeer opens the four channels on the transport and starts the
// activation watchdog. The caller drives the peer from its compositor
// loop: RunPending after each wake, RepaintOutput per output repaint.
func NewPeer(params Params) (*Peer, error) {
	if params.Shell == nil {
		return nil, errNilShell
	}
	if params.Scene == nil {
		return nil, errNilScene
	}
	if params.Transport == nil {
		return nil, errNilTransport
	}
	log := params.Log
	if log == nil {
		log = zap.NewNop()
	}

	p := &Peer{
		log:   log,
		opts:  params.Options,
		shell: params.Shell,
		scene: params.Scene,
		obs:   params.Observer,
		mgr:   params.Transport,

		windows:    idpool.New[*Window](1, 0x7FFFFFFF),
		surfaceIDs: idpool.New[*Window](1, 0xFFFF),
		poolIDs:    idpool.New[*Window](1, 0xFFFFFFFF),
		bufferIDs:  idpool.New[*Window](1, 0xFFFFFFFF),
		bySurface:  make(map[compositor.Surface]*Window),

		needZOrderSync: true,
	}
	p.queue = dispatch.NewQueue(params.Wake)

	var err error
	if p.updateCh, err = p.mgr.Open(protocol.ChannelUpdate, p.onUpdatePayload); err != nil {
		return nil, err
	}
	if p.railCh, err = p.mgr.Open(protocol.ChannelRail, p.onRailPayload); err != nil {
		p.mgr.CloseAll()
		return nil, err
	}
	if p.gfxCh, err = p.mgr.Open(protocol.ChannelGfx, p.onGfxPayload); err != nil {
		p.mgr.CloseAll()
		return nil, err
	}
	if p.shmCh, err = p.mgr.Open(protocol.ChannelShm, p.onShmPayload); err != nil {
		p.mgr.CloseAll()
		return nil, err
	}

	p.watchdog = time.AfterFunc(activationTimeout, func() {
		p.queue.Post(func(freeOnly bool) {
			if freeOnly {
				return
			}
			if !p.activated {
				p.log.Error("activation timed out, abandoning peer",
					zap.Duration("timeout", activationTimeout))
				p.Teardown()
			}
		})
	})

	log.Info("peer created",
		zap.String("gfx_channel", protocol.WireNameGfx),
		zap.String("shm_channel", protocol.WireNameShm),
		zap.Bool("shared_memory", params.Options.UseSharedMemory))
	return p, nil
}

// ConfigureDisplay installs the monitor layout the peer translates
// coordinates through, together with the compositor outputs backing it.
// Existing windows are forced through a full state resend because their
// head or scale may have changed.
func (p *Peer) ConfigureDisplay(monitors []display.Monitor, outputs []compositor.Output) error {
	layout, err := display.Compute(monitors, display.Options{
		HiDPI:             p.opts.HiDPI,
		Fractional:        p.opts.FractionalHiDPI,
		RoundUp:           p.opts.FractionalHiDPIRoundUp,
		DebugScalePercent: p.opts.DebugDesktopScalingFactor,
	}, p.log)
	if err != nil {
		return err
	}
	p.layout = layout
	p.outputs = outputs
	p.windows.ForEach(func(_ uint32, w *Window) bool {
		w.forceUpdate = true
		return true
	})
	p.zOrderDirty = true
	return nil
}

// Layout returns the currently installed monitor layout, or nil before
// ConfigureDisplay.
func (p *Peer) Layout() *display.Layout { return p.layout }

// RunPending drains the dispatch queue. Call from the compositor loop
// after a wake.
func (p *Peer) RunPending() int { return p.queue.Run() }

// Activated reports whether handshake and pixel-channel capability
// exchange have both completed.
func (p *Peer) Activated() bool { return p.activated }

// WindowCount returns the number of tracked windows, cursor excluded.
func (p *Peer) WindowCount() int { return p.windows.Used() }

// sharedMode reports whether pixel updates travel through shared
// memory. Fixed once the peer activates.
func (p *Peer) sharedMode() bool {
	return p.opts.UseSharedMemory && p.shmActive
}

// maybeActivate completes activation once the handshake and the pixel
// channel required by the configured backing mode are both up.
func (p *Peer) maybeActivate() {
	if p.activated || !p.handshakeDone {
		return
	}
	if p.opts.UseSharedMemory {
		if !p.shmActive {
			return
		}
	} else if !p.gfxActive {
		return
	}
	p.activated = true
	p.watchdog.Stop()

	mode := "gfx"
	if p.sharedMode() {
		mode = "shm"
	}
	p.log.Info("peer activated",
		zap.String("backing", mode),
		zap.Uint32("client_status", p.clientStatus))

	// The remote desktop must not blank while it is projecting our
	// windows.
	p.sendRail(protocol.EncodeServerSysparam(protocol.ServerSysparam{
		Param: protocol.SPISetScreenSaveActive,
	}), "Sysparam")
	p.sendRail(protocol.EncodeServerSysparam(protocol.ServerSysparam{
		Param: protocol.SPISetScreenSaveSecure,
	}), "Sysparam")
	p.zOrderDirty = true
}

// Teardown cancels pending work, destroys every window, and closes the
// channels in reverse open order. Idempotent.
func (p *Peer) Teardown() {
	if p.torn {
		return
	}
	p.torn = true
	p.watchdog.Stop()
	p.queue.Cancel()

	var snapshot []*Window
	p.windows.ForEach(func(_ uint32, w *Window) bool {
		snapshot = append(snapshot, w)
		return true
	})
	for _, w := range snapshot {
		p.destroyWindow(w)
	}
	if p.cursor != nil {
		p.sendPointerDefault()
		p.cursor = nil
	}
	if err := p.mgr.CloseAll(); err != nil {
		p.log.Warn("transport close failed", zap.Error(err))
	}
	p.log.Info("peer torn down")
}

// TornDown reports whether Teardown has run.
func (p *Peer) TornDown() bool { return p.torn }

// NotifyWindowActivated records the surface holding focus and schedules
// a z-order broadcast. A nil surface clears focus.
func (p *Peer) NotifyWindowActivated(s compositor.Surface) {
	p.activeSurface = s
	p.zOrderDirty = true
}

// NotifyZOrderChanged schedules a z-order broadcast after the
// compositor restacked its views.
func (p *Peer) NotifyZOrderChanged() {
	p.zOrderDirty = true
}

// SetProxyView registers the view standing in for a window the client
// manages locally. While set, the view contributes the marker id to the
// stacking broadcast instead of its own window. A nil view clears it.
func (p *Peer) SetProxyView(v compositor.View) {
	if p.proxyView == v {
		return
	}
	p.proxyView = v
	p.zOrderDirty = true
}

// StartLocalMoveSize hands an interactive move or resize to the client,
// anchored at the given compositor-space point. Reports whether the
// hand-off was sent.
func (p *Peer) StartLocalMoveSize(s compositor.Surface, moveSizeType uint16, pos geom.Point) bool {
	return p.sendLocalMoveSize(s, moveSizeType, pos, true)
}

// EndLocalMoveSize finishes an interactive move or resize previously
// handed to the client.
func (p *Peer) EndLocalMoveSize(s compositor.Surface, moveSizeType uint16, pos geom.Point) bool {
	return p.sendLocalMoveSize(s, moveSizeType, pos, false)
}

func (p *Peer) sendLocalMoveSize(s compositor.Surface, moveSizeType uint16, pos geom.Point, start bool) bool {
	w := p.bySurface[s]
	if w == nil || !w.created {
		return false
	}
	if p.clientStatus&protocol.ClientStatusAllowLocalMoveSize == 0 {
		p.log.Debug("client does not take local move/size")
		return false
	}
	if start {
		// The client constrains the drag loop with the track bounds; the
		// answer arrives through SendMinMaxInfo.
		p.shell.RequestMinMaxInfo(s)
	}
	client := pos
	if p.layout != nil {
		if cp, _, ok := p.layout.ToClient(pos); ok {
			client = cp
		}
	}
	p.sendRail(protocol.EncodeLocalMoveSize(protocol.LocalMoveSize{
		WindowID:     w.id,
		IsStart:      start,
		MoveSizeType: moveSizeType,
		PosX:         clampI16(client.X),
		PosY:         clampI16(client.Y),
	}), "LocalMoveSize")
	return true
}

// SendMinMaxInfo publishes a window's sizing limits, translated into
// client pixels through the window's head.
func (p *Peer) SendMinMaxInfo(s compositor.Surface, info compositor.MinMaxInfo) {
	w := p.bySurface[s]
	if w == nil || !w.created {
		return
	}
	scale := float32(1)
	if p.layout != nil {
		if head := p.layout.HeadAt(s.Position()); head != nil {
			scale = head.Scale
		}
	}
	p.sendRail(protocol.EncodeMinMaxInfo(protocol.MinMaxInfo{
		WindowID:       w.id,
		MaxWidth:       clampI16(scalePx(info.MaxSize.W, scale)),
		MaxHeight:      clampI16(scalePx(info.MaxSize.H, scale)),
		MaxPosX:        clampI16(scalePx(info.MaxPosition.X, scale)),
		MaxPosY:        clampI16(scalePx(info.MaxPosition.Y, scale)),
		MinTrackWidth:  clampI16(scalePx(info.MinTrackSize.W, scale)),
		MinTrackHeight: clampI16(scalePx(info.MinTrackSize.H, scale)),
		MaxTrackWidth:  clampI16(scalePx(info.MaxTrackSize.W, scale)),
		MaxTrackHeight: clampI16(scalePx(info.MaxTrackSize.H, scale)),
	}), "MinMaxInfo")
}

// Send helpers. Write failures mean the transport is gone; the peer is
// scheduled for teardown and the failure is not retried.

func (p *Peer) sendRail(payload []byte, order string) {
	if err := p.railCh.Write(payload); err != nil {
		p.sendFailed(order, err)
		return
	}
	p.observeOrder(order)
}

func (p *Peer) sendUpdate(updateType uint16, body []byte, order string) {
	if err := p.updateCh.Write(protocol.EncodeUpdate(updateType, body)); err != nil {
		p.sendFailed(order, err)
		return
	}
	p.observeOrder(order)
}

func (p *Peer) sendGfx(payload []byte, order string) {
	if err := p.gfxCh.Write(payload); err != nil {
		p.sendFailed(order, err)
		return
	}
	p.observeOrder(order)
}

func (p *Peer) sendShm(payload []byte, order string) {
	if err := p.shmCh.Write(payload); err != nil {
		p.sendFailed(order, err)
		return
	}
	p.observeOrder(order)
}

func (p *Peer) sendPointerDefault() {
	p.sendUpdate(protocol.UpdatePointerSystem,
		protocol.EncodePointerSystem(protocol.PointerSystem{Kind: protocol.PointerDefault}),
		"PointerSystem")
}

func (p *Peer) sendFailed(order string, err error) {
	if errors.Is(err, transport.ErrChannelClosed) {
		p.log.Debug("write on closed channel", zap.String("order", order))
		return
	}
	p.log.Error("channel write failed", zap.String("order", order), zap.Error(err))
	p.queue.Post(func(freeOnly bool) {
		if freeOnly {
			return
		}
		p.Teardown()
	})
}

func (p *Peer) observeOrder(order string) {
	if p.obs != nil {
		p.obs.OrderSent(order)
	}
}

// post wraps fn for the dispatch queue; the free-only path drops the
// captured payload without side effects.
func (p *Peer) post(fn func()) {
	p.queue.Post(func(freeOnly bool) {
		if freeOnly {
			return
		}
		fn()
	})
}
