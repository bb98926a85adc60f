package transport

import (
	"bytes"
	"testing"
	"time"

	"github.com/IcebergThings/railbridge/protocol"
)

func TestLoopbackCapturesWrites(t *testing.T) {
	l := NewLoopback()
	defer l.CloseAll()

	ch, err := l.Open(protocol.ChannelRail, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := ch.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := ch.Write([]byte{4}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	sent := l.Sent(protocol.ChannelRail)
	if len(sent) != 2 {
		t.Fatalf("captured %d payloads, want 2", len(sent))
	}
	if !bytes.Equal(sent[0], []byte{1, 2, 3}) || !bytes.Equal(sent[1], []byte{4}) {
		t.Fatalf("captured payloads %v", sent)
	}

	if got := l.TakeSent(protocol.ChannelRail); len(got) != 2 {
		t.Fatalf("TakeSent returned %d payloads, want 2", len(got))
	}
	if got := l.Sent(protocol.ChannelRail); len(got) != 0 {
		t.Fatalf("capture not cleared, still %d payloads", len(got))
	}
}

func TestLoopbackDeliversInjected(t *testing.T) {
	l := NewLoopback()
	defer l.CloseAll()

	got := make(chan []byte, 1)
	if _, err := l.Open(protocol.ChannelGfx, func(p []byte) { got <- p }); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	l.InjectSync(protocol.ChannelGfx, []byte{9, 8, 7})
	select {
	case p := <-got:
		if !bytes.Equal(p, []byte{9, 8, 7}) {
			t.Fatalf("received %v", p)
		}
	default:
		t.Fatal("receiver not called")
	}
}

func TestLoopbackDoubleOpen(t *testing.T) {
	l := NewLoopback()
	defer l.CloseAll()

	if _, err := l.Open(protocol.ChannelShm, nil); err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if _, err := l.Open(protocol.ChannelShm, nil); err != ErrChannelOpen {
		t.Fatalf("second Open: got %v, want ErrChannelOpen", err)
	}
}

func TestLoopbackCloseAllClosesChannels(t *testing.T) {
	l := NewLoopback()
	ch, err := l.Open(protocol.ChannelUpdate, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := l.CloseAll(); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if err := ch.Write([]byte{1}); err != ErrChannelClosed {
		t.Fatalf("Write after CloseAll: got %v, want ErrChannelClosed", err)
	}
	if !l.ChannelClosed(protocol.ChannelUpdate) {
		t.Fatal("channel not marked closed")
	}
}

func TestLoopbackPump(t *testing.T) {
	l := NewLoopback()
	defer l.CloseAll()

	if _, err := l.Open(protocol.ChannelRail, func([]byte) {}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	start := time.Now()
	l.Pump(10 * time.Millisecond)
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("Pump returned before timeout with no traffic")
	}

	l.Inject(protocol.ChannelRail, []byte{1})
	done := make(chan struct{})
	go func() {
		l.Pump(5 * time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pump did not wake on delivery")
	}
}
