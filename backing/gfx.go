// Package backing owns the client-visible pixel container behind each
// projected window: a graphics-channel surface or a shared-memory
// pool+buffer pair. The engine picks one mode per peer at activation;
// a window keeps its mode until an explicit recreate.
package backing

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/geom"
	"github.com/IcebergThings/railbridge/protocol"
	"github.com/IcebergThings/railbridge/transport"
)

// GfxSurface is one client-side surface on the graphics channel. All
// methods are compositor-thread only.
type GfxSurface struct {
	ch     transport.Channel
	log    *zap.Logger
	id     uint16
	size   geom.Size
	closed bool
}

// NewGfxSurface allocates the client surface. The id comes from the
// surface allocator; the size is the content size in buffer pixels.
func NewGfxSurface(ch transport.Channel, id uint16, size geom.Size, log *zap.Logger) (*GfxSurface, error) {
	s := &GfxSurface{ch: ch, log: log, id: id, size: size}
	cmd := protocol.EncodeGfxCreateSurface(protocol.GfxCreateSurface{
		SurfaceID:   id,
		Width:       uint16(size.W),
		Height:      uint16(size.H),
		PixelFormat: protocol.GfxPixelFormatARGB,
	})
	if err := ch.Write(cmd); err != nil {
		return nil, fmt.Errorf("backing: create surface %d: %w", id, err)
	}
	log.Debug("surface created", zap.Uint16("surface", id),
		zap.Int("w", size.W), zap.Int("h", size.H))
	return s, nil
}

func (s *GfxSurface) ID() uint16      { return s.id }
func (s *GfxSurface) Size() geom.Size { return s.size }

// PushAlpha sends the alpha plane for dest. An opaque view sends the
// run-length opaque fill instead of a full plane.
func (s *GfxSurface) PushAlpha(dest geom.Rect, plane []byte, opaque bool) error {
	var data []byte
	var err error
	if opaque {
		data = protocol.EncodeAlphaOpaque(dest.W, dest.H)
	} else {
		data, err = protocol.EncodeAlphaRLE(dest.W, dest.H, plane)
		if err != nil {
			return fmt.Errorf("backing: alpha encode: %w", err)
		}
	}
	cmd := protocol.EncodeGfxWireToSurface1(protocol.GfxWireToSurface1{
		SurfaceID:   s.id,
		CodecID:     protocol.GfxCodecAlpha,
		PixelFormat: protocol.GfxPixelFormatARGB,
		DestRect:    dest,
		BitmapData:  data,
	})
	return s.ch.Write(cmd)
}

// PushPixels sends uncompressed BGRA rows for dest; pix holds dest.H
// rows of dest.W*4 bytes.
func (s *GfxSurface) PushPixels(dest geom.Rect, pix []byte) error {
	if len(pix) != dest.W*dest.H*4 {
		return fmt.Errorf("backing: pixel payload %d bytes, rect needs %d", len(pix), dest.W*dest.H*4)
	}
	cmd := protocol.EncodeGfxWireToSurface1(protocol.GfxWireToSurface1{
		SurfaceID:   s.id,
		CodecID:     protocol.GfxCodecUncompressed,
		PixelFormat: protocol.GfxPixelFormatARGB,
		DestRect:    dest,
		BitmapData:  pix,
	})
	return s.ch.Write(cmd)
}

// MapScaled binds the surface to a window; the client scales mapped
// content pixels onto the target client-space size.
func (s *GfxSurface) MapScaled(windowID uint32, mapped, target geom.Size) error {
	cmd := protocol.EncodeGfxMapSurfaceToScaledWindow(protocol.GfxMapSurfaceToScaledWindow{
		SurfaceID:    s.id,
		WindowID:     uint64(windowID),
		MappedWidth:  uint32(mapped.W),
		MappedHeight: uint32(mapped.H),
		TargetWidth:  uint32(target.W),
		TargetHeight: uint32(target.H),
	})
	return s.ch.Write(cmd)
}

// Close deletes the client surface. Safe to call twice.
func (s *GfxSurface) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	cmd := protocol.EncodeGfxDeleteSurface(protocol.GfxDeleteSurface{SurfaceID: s.id})
	if err := s.ch.Write(cmd); err != nil {
		return fmt.Errorf("backing: delete surface %d: %w", s.id, err)
	}
	s.log.Debug("surface deleted", zap.Uint16("surface", s.id))
	return nil
}
