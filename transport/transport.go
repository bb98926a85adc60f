// Package transport moves protocol frames between the bridge and the
// remote client over a small set of fixed channels. Inbound frames are
// delivered on a dedicated receive goroutine; outbound writes may come
// from any goroutine and are serialised per connection.
package transport

import (
	"errors"
	"time"

	"github.com/IcebergThings/railbridge/protocol"
)

var (
	ErrClosed         = errors.New("transport: closed")
	ErrChannelOpen    = errors.New("transport: channel already open")
	ErrChannelClosed  = errors.New("transport: channel not open")
	ErrUnknownChannel = errors.New("transport: unknown channel")
)

// Receiver consumes one inbound payload. It is called on the manager's
// receive goroutine and must not retain the slice after returning;
// anything needed later must be copied out.
type Receiver func(payload []byte)

// Channel is one open stream on a manager.
type Channel interface {
	ID() protocol.Channel
	Name() string
	// Write sends one payload as a single frame. Safe for concurrent use.
	Write(payload []byte) error
	Close() error
}

// Manager owns a connection's channels. Open order is recorded; CloseAll
// shuts channels in reverse order before tearing the connection down.
type Manager interface {
	// Open registers recv for inbound payloads and returns the channel
	// for writing. Each channel may be opened once.
	Open(ch protocol.Channel, recv Receiver) (Channel, error)
	// Pump blocks until the receive side delivers at least one inbound
	// payload or the timeout elapses. Used by drain loops that wait for
	// acknowledgements while the caller's own loop is stalled.
	Pump(timeout time.Duration)
	// CloseAll closes every channel and the underlying connection.
	CloseAll() error
}
