package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Listener accepts bridge connections on a unix socket. Each accepted
// connection is wrapped in a Conn and handed to the serve callback on
// its own goroutine.
type Listener struct {
	addr     string
	log      *zap.Logger
	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup
}

func NewListener(addr string, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		addr: addr,
		log:  log,
		quit: make(chan struct{}),
	}
}

// Start begins listening and accepting. serve is invoked once per
// accepted connection; it owns the Conn and must close it.
func (l *Listener) Start(serve func(*Conn)) error {
	if err := os.RemoveAll(l.addr); err != nil {
		return fmt.Errorf("could not remove stale socket %s: %w", l.addr, err)
	}
	ln, err := net.Listen("unix", l.addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", l.addr, err)
	}
	l.listener = ln
	l.log.Info("listening", zap.String("addr", l.addr))

	l.wg.Add(1)
	go l.acceptLoop(serve)
	return nil
}

func (l *Listener) acceptLoop(serve func(*Conn)) {
	defer l.wg.Done()
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("accept failed", zap.Error(err))
			continue
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			serve(NewConn(conn, l.log))
		}()
	}
}

// Stop closes the listener and waits for serve callbacks to return, or
// for ctx to expire.
func (l *Listener) Stop(ctx context.Context) error {
	close(l.quit)
	if l.listener != nil {
		l.listener.Close()
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
