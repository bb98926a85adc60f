package transport

import (
	"sync"
	"time"

	"github.com/IcebergThings/railbridge/protocol"
)

// Loopback is an in-process Manager for tests and the simulator. Frames
// written by the bridge are captured per channel; Inject feeds payloads
// to the registered receivers on a dedicated delivery goroutine so the
// threading matches a real connection.
type Loopback struct {
	mu        sync.Mutex
	recv      map[protocol.Channel]Receiver
	sent      map[protocol.Channel][][]byte
	openOrder []protocol.Channel
	closedCh  map[protocol.Channel]bool
	closed    bool

	inject   chan injectedPayload
	quit     chan struct{}
	wg       sync.WaitGroup
	activity chan struct{}
}

type injectedPayload struct {
	ch      protocol.Channel
	payload []byte
	done    chan struct{}
}

func NewLoopback() *Loopback {
	l := &Loopback{
		recv:     make(map[protocol.Channel]Receiver),
		sent:     make(map[protocol.Channel][][]byte),
		closedCh: make(map[protocol.Channel]bool),
		inject:   make(chan injectedPayload, 64),
		quit:     make(chan struct{}),
		activity: make(chan struct{}, 1),
	}
	l.wg.Add(1)
	go l.deliverLoop()
	return l
}

func (l *Loopback) Open(ch protocol.Channel, recv Receiver) (Channel, error) {
	if ch >= protocol.NumChannels {
		return nil, ErrUnknownChannel
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if _, ok := l.recv[ch]; ok {
		return nil, ErrChannelOpen
	}
	l.recv[ch] = recv
	l.openOrder = append(l.openOrder, ch)
	return &loopChannel{owner: l, id: ch}, nil
}

func (l *Loopback) Pump(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.activity:
	case <-timer.C:
	case <-l.quit:
	}
}

func (l *Loopback) CloseAll() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for i := len(l.openOrder) - 1; i >= 0; i-- {
		l.closedCh[l.openOrder[i]] = true
	}
	l.mu.Unlock()
	close(l.quit)
	l.wg.Wait()
	return nil
}

// Inject delivers one inbound payload asynchronously on the delivery
// goroutine.
func (l *Loopback) Inject(ch protocol.Channel, payload []byte) {
	l.enqueue(ch, payload, nil)
}

// InjectSync delivers one inbound payload and waits until the receiver
// has returned.
func (l *Loopback) InjectSync(ch protocol.Channel, payload []byte) {
	done := make(chan struct{})
	l.enqueue(ch, payload, done)
	select {
	case <-done:
	case <-l.quit:
	}
}

func (l *Loopback) enqueue(ch protocol.Channel, payload []byte, done chan struct{}) {
	p := make([]byte, len(payload))
	copy(p, payload)
	select {
	case l.inject <- injectedPayload{ch: ch, payload: p, done: done}:
	case <-l.quit:
		if done != nil {
			close(done)
		}
	}
}

func (l *Loopback) deliverLoop() {
	defer l.wg.Done()
	for {
		select {
		case in := <-l.inject:
			l.mu.Lock()
			recv := l.recv[in.ch]
			l.mu.Unlock()
			if recv != nil {
				recv(in.payload)
			}
			select {
			case l.activity <- struct{}{}:
			default:
			}
			if in.done != nil {
				close(in.done)
			}
		case <-l.quit:
			return
		}
	}
}

// Sent returns a copy of every payload written to ch so far.
func (l *Loopback) Sent(ch protocol.Channel) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.sent[ch]))
	copy(out, l.sent[ch])
	return out
}

// TakeSent returns the payloads written to ch and clears the capture,
// so successive assertions see only new traffic.
func (l *Loopback) TakeSent(ch protocol.Channel) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.sent[ch]
	l.sent[ch] = nil
	return out
}

// ChannelClosed reports whether the bridge has closed ch.
func (l *Loopback) ChannelClosed(ch protocol.Channel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closedCh[ch]
}

// OpenOrder returns the channels in the order the bridge opened them.
func (l *Loopback) OpenOrder() []protocol.Channel {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.Channel, len(l.openOrder))
	copy(out, l.openOrder)
	return out
}

type loopChannel struct {
	owner *Loopback
	id    protocol.Channel
}

func (c *loopChannel) ID() protocol.Channel { return c.id }
func (c *loopChannel) Name() string         { return c.id.String() }

func (c *loopChannel) Write(payload []byte) error {
	c.owner.mu.Lock()
	defer c.owner.mu.Unlock()
	if c.owner.closed || c.owner.closedCh[c.id] {
		return ErrChannelClosed
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	c.owner.sent[c.id] = append(c.owner.sent[c.id], p)
	return nil
}

func (c *loopChannel) Close() error {
	c.owner.mu.Lock()
	defer c.owner.mu.Unlock()
	c.owner.closedCh[c.id] = true
	return nil
}
