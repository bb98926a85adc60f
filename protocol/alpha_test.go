package protocol

import (
	"bytes"
	"testing"
)

func TestAlphaOpaqueCollapsesToRuns(t *testing.T) {
	payload := EncodeAlphaOpaque(800, 600)
	if len(payload) >= 800*600 {
		t.Fatalf("opaque plane not compressed: %d bytes", len(payload))
	}
	w, h, plane, err := DecodeAlpha(payload)
	if err != nil {
		t.Fatalf("DecodeAlpha: %v", err)
	}
	if w != 800 || h != 600 || len(plane) != 800*600 {
		t.Fatalf("decoded %dx%d, %d bytes", w, h, len(plane))
	}
	for i, v := range plane {
		if v != 0xFF {
			t.Fatalf("plane[%d] = 0x%02x, want opaque", i, v)
		}
	}
}

func TestAlphaRLERoundTrip(t *testing.T) {
	plane := make([]byte, 64*64)
	for i := range plane {
		if i%64 < 8 {
			plane[i] = 0x00 // transparent left edge
		} else {
			plane[i] = 0xFF
		}
	}
	payload, err := EncodeAlphaRLE(64, 64, plane)
	if err != nil {
		t.Fatalf("EncodeAlphaRLE: %v", err)
	}
	_, _, got, err := DecodeAlpha(payload)
	if err != nil {
		t.Fatalf("DecodeAlpha: %v", err)
	}
	if !bytes.Equal(got, plane) {
		t.Fatal("RLE round trip altered the plane")
	}
}

func TestAlphaRawRoundTrip(t *testing.T) {
	plane := make([]byte, 16*16)
	for i := range plane {
		plane[i] = byte(i * 7)
	}
	payload, err := EncodeAlphaRaw(16, 16, plane)
	if err != nil {
		t.Fatalf("EncodeAlphaRaw: %v", err)
	}
	_, _, got, err := DecodeAlpha(payload)
	if err != nil {
		t.Fatalf("DecodeAlpha: %v", err)
	}
	if !bytes.Equal(got, plane) {
		t.Fatal("raw round trip altered the plane")
	}
}

func TestAlphaRejectsBadInput(t *testing.T) {
	if _, err := EncodeAlphaRLE(8, 8, make([]byte, 3)); err == nil {
		t.Fatal("undersized plane accepted")
	}
	if _, _, _, err := DecodeAlpha([]byte{'X', 'Y', 0}); err == nil {
		t.Fatal("bad signature accepted")
	}
	truncated := EncodeAlphaOpaque(32, 32)
	if _, _, _, err := DecodeAlpha(truncated[:len(truncated)-2]); err == nil {
		t.Fatal("truncated payload accepted")
	}
}
