// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cmd/railbridge-sim/main.go
// Summary: Serves the bridge protocol from the synthetic compositor.
// Usage: Executed by operators to project scripted windows over a unix socket.
// Notes: Focuses on wiring flags and lifecycle around the sim loop.

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/config"
	"github.com/IcebergThings/railbridge/internal/logging"
	"github.com/IcebergThings/railbridge/internal/sim"
	"github.com/IcebergThings/railbridge/rail"
	"github.com/IcebergThings/railbridge/transport"
)

func main() {
	socketPath := flag.String("socket", "/tmp/railbridge.sock", "Unix socket path")
	configPath := flag.String("config", "", "Optional YAML options file")
	width := flag.Int("width", 1920, "Simulated desktop width in pixels")
	height := flag.Int("height", 1080, "Simulated desktop height in pixels")
	scale := flag.Int("scale", 100, "Simulated desktop scale percent")
	windows := flag.Int("windows", 3, "Scripted painter windows")
	interval := flag.Duration("interval", 50*time.Millisecond, "Frame interval")
	execCmd := flag.String("exec", "", "Command to run under a pty-captured window")
	cpuProfile := flag.String("pprof-cpu", "", "Write CPU profile to file")
	memProfile := flag.String("pprof-mem", "", "Write heap profile to file on exit")
	flag.Parse()

	opts, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load options: %v\n", err)
		os.Exit(1)
	}
	log := logging.Must(opts.Logging)
	defer func() { _ = log.Sync() }()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create CPU profile: %v\n", err)
			os.Exit(1)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}

	comp := sim.New(sim.Params{
		Width:         *width,
		Height:        *height,
		ScalePercent:  *scale,
		FrameInterval: *interval,
		Log:           log.Named("sim"),
	})
	sim.StartScript(comp, *windows)
	if *execCmd != "" {
		if _, err := comp.Shell().LaunchProcess(*execCmd); err != nil {
			fmt.Fprintf(os.Stderr, "failed to launch %q: %v\n", *execCmd, err)
			os.Exit(1)
		}
	}

	// notifyDone only moves on the compositor loop thread.
	notifyDone := opts.NotifySocket == ""

	serve := func(conn *transport.Conn) {
		peerLog := log.Named("peer").With(zap.String("conn", uuid.NewString()[:8]))
		peer, err := rail.NewPeer(rail.Params{
			Options:   opts,
			Shell:     comp.Shell(),
			Scene:     comp.Scene(),
			Transport: conn,
			Wake:      comp.Wake,
			Log:       peerLog,
			Observer:  rail.NewLogObserver(peerLog),
		})
		if err != nil {
			peerLog.Error("peer setup failed", zap.Error(err))
			_ = conn.CloseAll()
			return
		}
		if err := peer.ConfigureDisplay(comp.Monitors(), []compositor.Output{comp.Output()}); err != nil {
			peerLog.Error("display configuration failed", zap.Error(err))
			peer.Teardown()
			return
		}
		comp.Post(func() {
			comp.SetOutputRegion(peer.Layout().Bounds)
			comp.Attach(peer)
			if !notifyDone {
				comp.OnTick(func() {
					if notifyDone || !peer.Activated() {
						return
					}
					notifyDone = true
					go notifyReady(opts.NotifySocket, log)
				})
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		comp.Run(ctx)
		close(loopDone)
	}()

	listener := transport.NewListener(*socketPath, log.Named("transport"))
	if err := listener.Start(serve); err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		cancel()
		os.Exit(1)
	}

	fmt.Printf("railbridge sim listening on %s\n", *socketPath)
	fmt.Println("Connect railbridge-view or railbridge-stress to project the scripted windows.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := listener.Stop(stopCtx); err != nil {
		log.Warn("listener stop timed out", zap.Error(err))
	}
	cancel()
	<-loopDone
	_ = os.Remove(*socketPath)

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create heap profile: %v\n", err)
		} else {
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "failed to write heap profile: %v\n", err)
			}
			_ = f.Close()
		}
	}

	fmt.Println("railbridge sim stopped")
}

// notifyReady sends the single READY=1 datagram the session leader waits
// for before handing the desktop over.
func notifyReady(path string, log *zap.Logger) {
	conn, err := net.Dial("unixgram", path)
	if err != nil {
		log.Warn("readiness notify failed", zap.String("socket", path), zap.Error(err))
		return
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		log.Warn("readiness notify failed", zap.String("socket", path), zap.Error(err))
		return
	}
	log.Info("readiness notified", zap.String("socket", path))
}
