package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/protocol"
)

const readPollInterval = 200 * time.Millisecond

// Conn is a Manager over a single net.Conn. One goroutine reads frames
// and hands payloads to the registered receivers; writes from any
// goroutine are serialised under writeMu with per-channel sequence
// numbers stamped in write order.
type Conn struct {
	conn net.Conn
	log  *zap.Logger

	writeMu sync.Mutex
	seq     [protocol.NumChannels]uint64

	mu        sync.Mutex
	channels  map[protocol.Channel]*connChannel
	openOrder []protocol.Channel
	closed    bool

	quit     chan struct{}
	wg       sync.WaitGroup
	activity chan struct{}
	closeErr error
	closeOne sync.Once
}

type connChannel struct {
	owner *Conn
	id    protocol.Channel
	recv  Receiver

	mu     sync.Mutex
	closed bool
}

// NewConn wraps conn and starts its receive goroutine. The caller keeps
// ownership of nothing: CloseAll closes conn.
func NewConn(conn net.Conn, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Conn{
		conn:     conn,
		log:      log,
		channels: make(map[protocol.Channel]*connChannel),
		quit:     make(chan struct{}),
		activity: make(chan struct{}, 1),
	}
	t.wg.Add(1)
	go t.readLoop()
	return t
}

func (t *Conn) Open(ch protocol.Channel, recv Receiver) (Channel, error) {
	if ch >= protocol.NumChannels {
		return nil, ErrUnknownChannel
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if _, ok := t.channels[ch]; ok {
		return nil, ErrChannelOpen
	}
	c := &connChannel{owner: t, id: ch, recv: recv}
	t.channels[ch] = c
	t.openOrder = append(t.openOrder, ch)
	t.log.Debug("channel opened", zap.String("channel", ch.String()))
	return c, nil
}

func (t *Conn) Pump(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.activity:
	case <-timer.C:
	case <-t.quit:
	}
}

// CloseAll closes channels in reverse open order, then the connection.
// Safe to call more than once.
func (t *Conn) CloseAll() error {
	t.closeOne.Do(func() {
		t.mu.Lock()
		t.closed = true
		order := make([]protocol.Channel, len(t.openOrder))
		copy(order, t.openOrder)
		t.mu.Unlock()

		for i := len(order) - 1; i >= 0; i-- {
			t.mu.Lock()
			c := t.channels[order[i]]
			t.mu.Unlock()
			if c != nil {
				c.Close()
			}
		}
		close(t.quit)
		t.closeErr = t.conn.Close()
		t.wg.Wait()
	})
	return t.closeErr
}

func (t *Conn) readLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.quit:
			return
		default:
		}

		t.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		hdr, payload, err := protocol.ReadFrame(t.conn)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
				return
			}
			t.log.Warn("read failed", zap.Error(err))
			return
		}

		t.mu.Lock()
		c := t.channels[hdr.Channel]
		t.mu.Unlock()
		if c == nil {
			t.log.Warn("frame for unopened channel",
				zap.String("channel", hdr.Channel.String()),
				zap.Int("len", len(payload)))
			continue
		}
		if c.recv != nil {
			c.recv(payload)
		}
		select {
		case t.activity <- struct{}{}:
		default:
		}
	}
}

func (t *Conn) write(ch protocol.Channel, payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.seq[ch]++
	hdr := protocol.Header{
		Version:  protocol.Version,
		Channel:  ch,
		Flags:    protocol.FlagChecksum,
		Sequence: t.seq[ch],
	}
	if err := protocol.WriteFrame(t.conn, hdr, payload); err != nil {
		t.log.Warn("write failed", zap.String("channel", ch.String()), zap.Error(err))
		return err
	}
	return nil
}

func (c *connChannel) ID() protocol.Channel { return c.id }
func (c *connChannel) Name() string         { return c.id.String() }

func (c *connChannel) Write(payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	return c.owner.write(c.id, payload)
}

func (c *connChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.owner.log.Debug("channel closed", zap.String("channel", c.id.String()))
	return nil
}
