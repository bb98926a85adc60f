package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/config"
	"github.com/IcebergThings/railbridge/geom"
	"github.com/IcebergThings/railbridge/internal/sim"
	"github.com/IcebergThings/railbridge/protocol"
	"github.com/IcebergThings/railbridge/rail"
	"github.com/IcebergThings/railbridge/transport"
)

// stressStats are the client-side tallies, shared across all sessions.
type stressStats struct {
	connects atomic.Uint64
	moves    atomic.Uint64
	creates  atomic.Uint64
	deletes  atomic.Uint64
	frames   atomic.Uint64
	presents atomic.Uint64
	bytes    atomic.Uint64
}

func main() {
	socketPath := flag.String("socket", "/tmp/railbridge-stress.sock", "Unix socket path for the stress server")
	sessions := flag.Int("sessions", 4, "number of concurrent client sessions")
	duration := flag.Duration("duration", 10*time.Second, "total duration of the stress run")
	moveInterval := flag.Duration("move", 20*time.Millisecond, "interval between move orders")
	movesPerCycle := flag.Int("moves", 25, "move orders to send before reconnecting")
	windows := flag.Int("windows", 4, "scripted windows on the simulated desktop")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := config.Default()
	comp := sim.New(sim.Params{FrameInterval: 25 * time.Millisecond})
	sim.StartScript(comp, *windows)
	counting := rail.NewCountingObserver()

	serve := func(conn *transport.Conn) {
		peer, err := rail.NewPeer(rail.Params{
			Options:   opts,
			Shell:     comp.Shell(),
			Scene:     comp.Scene(),
			Transport: conn,
			Wake:      comp.Wake,
			Log:       zap.NewNop(),
			Observer:  counting,
		})
		if err != nil {
			_ = conn.CloseAll()
			return
		}
		if err := peer.ConfigureDisplay(comp.Monitors(), []compositor.Output{comp.Output()}); err != nil {
			peer.Teardown()
			return
		}
		comp.Post(func() {
			comp.SetOutputRegion(peer.Layout().Bounds)
			comp.Attach(peer)
		})
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan struct{})
	go func() {
		comp.Run(loopCtx)
		close(loopDone)
	}()

	listener := transport.NewListener(*socketPath, nil)
	if err := listener.Start(serve); err != nil {
		log.Fatalf("server start failed: %v", err)
	}

	stats := &stressStats{}
	var wg sync.WaitGroup
	for i := 0; i < *sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSession(ctx, *socketPath, stats, *moveInterval, *movesPerCycle)
		}()
	}
	wg.Wait()

	timeoutCtx, cancelStop := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelStop()
	_ = listener.Stop(timeoutCtx)
	stopLoop()
	<-loopDone
	_ = os.Remove(*socketPath)

	fmt.Println("stress run complete")
	fmt.Printf("client: connects=%d moves=%d creates=%d deletes=%d\n",
		stats.connects.Load(), stats.moves.Load(), stats.creates.Load(), stats.deletes.Load())
	fmt.Printf("client: frames=%d presents=%d pixelBytes=%d\n",
		stats.frames.Load(), stats.presents.Load(), stats.bytes.Load())
	created, destroyed := counting.Windows()
	fmt.Printf("server: repaints=%d windowsCreated=%d windowsDestroyed=%d\n",
		counting.Repaints(), created, destroyed)
	orders := counting.Orders()
	names := make([]string, 0, len(orders))
	for name := range orders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("server: order %-24s %d\n", name, orders[name])
	}
}

// runSession dials, activates, storms move orders for one cycle, then
// reconnects, so attach and teardown churn as hard as the order path.
func runSession(ctx context.Context, socket string, stats *stressStats, moveEvery time.Duration, movesPerCycle int) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := net.Dial("unix", socket)
		if err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		stats.connects.Add(1)
		sess := newSession(conn, stats)
		if err := sess.activate(); err != nil {
			_ = sess.tp.CloseAll()
			continue
		}
		sess.storm(ctx, moveEvery, movesPerCycle)
		_ = sess.tp.CloseAll()
	}
}

// session is one synthetic client. It acks every frame and present so
// the server never throttles, and tracks window rects so the move storm
// sends plausible coordinates.
type session struct {
	tp     *transport.Conn
	railCh transport.Channel
	gfxCh  transport.Channel
	shmCh  transport.Channel
	stats  *stressStats

	mu      sync.Mutex
	windows map[uint32]geom.Rect
	frames  uint32
}

func newSession(conn net.Conn, stats *stressStats) *session {
	return &session{
		tp:      transport.NewConn(conn, nil),
		stats:   stats,
		windows: make(map[uint32]geom.Rect),
	}
}

func (s *session) activate() error {
	var err error
	if _, err = s.tp.Open(protocol.ChannelUpdate, s.onUpdate); err != nil {
		return err
	}
	if s.railCh, err = s.tp.Open(protocol.ChannelRail, func([]byte) {}); err != nil {
		return err
	}
	if s.gfxCh, err = s.tp.Open(protocol.ChannelGfx, s.onGfx); err != nil {
		return err
	}
	if s.shmCh, err = s.tp.Open(protocol.ChannelShm, s.onShm); err != nil {
		return err
	}
	if err := s.railCh.Write(protocol.EncodeHandshake(protocol.Handshake{BuildNumber: 6020})); err != nil {
		return err
	}
	if err := s.railCh.Write(protocol.EncodeClientStatus(protocol.ClientStatus{
		Flags: protocol.ClientStatusAllowLocalMoveSize | protocol.ClientStatusZOrderSync,
	})); err != nil {
		return err
	}
	if err := s.gfxCh.Write(protocol.EncodeGfxCapsAdvertise(protocol.GfxCapsAdvertise{
		CapSets: []protocol.GfxCapSet{{Version: protocol.GfxCapsVersion104}},
	})); err != nil {
		return err
	}
	return s.shmCh.Write(protocol.EncodeShmCaps(protocol.ShmCaps{Version: protocol.ShmVersion1}))
}

func (s *session) storm(ctx context.Context, every time.Duration, target int) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for sent := 0; sent < target; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m, ok := s.pickMove()
			if !ok {
				continue
			}
			if err := s.railCh.Write(protocol.EncodeWindowMove(m)); err != nil {
				return
			}
			s.stats.moves.Add(1)
			sent++
		}
	}
}

// pickMove nudges one tracked window by up to 64 pixels on each axis.
// Map iteration order stands in for random selection.
func (s *session) pickMove() (protocol.WindowMove, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.windows {
		dx := rand.Intn(129) - 64
		dy := rand.Intn(129) - 64
		return protocol.WindowMove{
			WindowID: id,
			Left:     int16(r.X + dx),
			Top:      int16(r.Y + dy),
			Right:    int16(r.X + dx + r.W),
			Bottom:   int16(r.Y + dy + r.H),
		}, true
	}
	return protocol.WindowMove{}, false
}

func (s *session) onUpdate(payload []byte) {
	updateType, body, err := protocol.DecodeUpdateHeader(payload)
	if err != nil || updateType != protocol.UpdateWindowOrder {
		return
	}
	if _, err := protocol.DecodeDesktopOrder(body); err == nil {
		return
	}
	w, err := protocol.DecodeWindowOrder(body)
	if err != nil || w.Fields&protocol.WindowOrderTypeWindow == 0 {
		return
	}
	if w.Fields&(protocol.WindowOrderIcon|protocol.WindowOrderCachedIcon) != 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.Fields&protocol.WindowOrderStateDeleted != 0 {
		delete(s.windows, w.WindowID)
		s.stats.deletes.Add(1)
		return
	}
	if w.Fields&protocol.WindowOrderStateNew != 0 {
		s.stats.creates.Add(1)
	}
	r := s.windows[w.WindowID]
	if w.Fields&protocol.WindowFieldWndOffset != 0 {
		r.X, r.Y = w.WndOffset.X, w.WndOffset.Y
	}
	if w.Fields&protocol.WindowFieldWndSize != 0 {
		r.W, r.H = w.WndSize.W, w.WndSize.H
	}
	s.windows[w.WindowID] = r
}

func (s *session) onGfx(payload []byte) {
	hdr, body, err := protocol.DecodeGfxHeader(payload)
	if err != nil {
		return
	}
	switch hdr.CmdID {
	case protocol.GfxCmdWireToSurface1:
		if w, err := protocol.DecodeGfxWireToSurface1(body); err == nil {
			s.stats.bytes.Add(uint64(len(w.BitmapData)))
		}
	case protocol.GfxCmdEndFrame:
		f, err := protocol.DecodeGfxEndFrame(body)
		if err != nil {
			return
		}
		s.stats.frames.Add(1)
		s.mu.Lock()
		s.frames++
		total := s.frames
		s.mu.Unlock()
		_ = s.gfxCh.Write(protocol.EncodeGfxFrameAcknowledge(protocol.GfxFrameAcknowledge{
			FrameID:            f.FrameID,
			TotalFramesDecoded: total,
		}))
	}
}

func (s *session) onShm(payload []byte) {
	msgType, body, err := protocol.DecodeShmHeader(payload)
	if err != nil || msgType != protocol.ShmMsgPresentBuffer {
		return
	}
	p, err := protocol.DecodeShmPresentBuffer(body)
	if err != nil {
		return
	}
	s.stats.presents.Add(1)
	_ = s.shmCh.Write(protocol.EncodeShmPresentBufferAck(protocol.ShmPresentBufferAck{
		PresentID: p.PresentID,
		WindowID:  p.WindowID,
	}))
}
