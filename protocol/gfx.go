package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/IcebergThings/railbridge/geom"
)

// Graphics channel command identifiers.
const (
	GfxCmdWireToSurface1           uint16 = 0x0001
	GfxCmdSolidFill                uint16 = 0x0004
	GfxCmdSurfaceToSurface         uint16 = 0x0005
	GfxCmdCreateSurface            uint16 = 0x0009
	GfxCmdDeleteSurface            uint16 = 0x000A
	GfxCmdStartFrame               uint16 = 0x000B
	GfxCmdEndFrame                 uint16 = 0x000C
	GfxCmdFrameAcknowledge         uint16 = 0x000D
	GfxCmdResetGraphics            uint16 = 0x000E
	GfxCmdMapSurfaceToOutput       uint16 = 0x000F
	GfxCmdCacheImportOffer         uint16 = 0x0010
	GfxCmdCacheImportReply         uint16 = 0x0011
	GfxCmdCapsAdvertise            uint16 = 0x0012
	GfxCmdCapsConfirm              uint16 = 0x0013
	GfxCmdMapSurfaceToWindow       uint16 = 0x0015
	GfxCmdQoeFrameAcknowledge      uint16 = 0x0016
	GfxCmdMapSurfaceToScaledOutput uint16 = 0x0017
	GfxCmdMapSurfaceToScaledWindow uint16 = 0x0018
)

// Graphics capability set versions, newest last.
const (
	GfxCapsVersion8   uint32 = 0x00080004
	GfxCapsVersion81  uint32 = 0x00080105
	GfxCapsVersion10  uint32 = 0x000A0002
	GfxCapsVersion101 uint32 = 0x000A0100
	GfxCapsVersion102 uint32 = 0x000A0200
	GfxCapsVersion103 uint32 = 0x000A0301
	GfxCapsVersion104 uint32 = 0x000A0400
	GfxCapsVersion105 uint32 = 0x000A0502
	GfxCapsVersion106 uint32 = 0x000A0600
	GfxCapsVersion107 uint32 = 0x000A0701
)

// Graphics capability flags.
const (
	GfxCapsFlagThinClient   uint32 = 0x00000001
	GfxCapsFlagSmallCache   uint32 = 0x00000002
	GfxCapsFlagAvc420       uint32 = 0x00000010
	GfxCapsFlagAvcDisabled  uint32 = 0x00000020
	GfxCapsFlagAvcThin      uint32 = 0x00000040
	GfxCapsFlagScaledOutput uint32 = 0x00000080
)

// Codecs accepted in WireToSurface1.
const (
	GfxCodecUncompressed uint16 = 0x0000
	GfxCodecAlpha        uint16 = 0x000C
)

// Pixel formats.
const (
	GfxPixelFormatXRGB uint8 = 0x20
	GfxPixelFormatARGB uint8 = 0x21
)

// FrameAckSuspended in FrameAcknowledge.QueueDepth suspends frame
// acknowledgement; the server must stop gating frames on acks.
const FrameAckSuspended uint32 = 0xFFFFFFFF

const gfxHeaderSize = 8

var errGfxLength = errors.New("protocol: gfx command length mismatch")

// GfxHeader prefixes every graphics channel command. PduLength covers
// the header itself.
type GfxHeader struct {
	CmdID     uint16
	Flags     uint16
	PduLength uint32
}

// EncodeGfxCommand wraps body with the graphics command header.
func EncodeGfxCommand(cmdID uint16, body []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, gfxHeaderSize+len(body)))
	putU16(buf, cmdID)
	putU16(buf, 0)
	putU32(buf, uint32(gfxHeaderSize+len(body)))
	buf.Write(body)
	return buf.Bytes()
}

// DecodeGfxHeader splits one graphics channel payload into header and
// body, validating the declared length.
func DecodeGfxHeader(b []byte) (GfxHeader, []byte, error) {
	var h GfxHeader
	var err error
	rest := b
	if h.CmdID, rest, err = getU16(rest); err != nil {
		return h, nil, err
	}
	if h.Flags, rest, err = getU16(rest); err != nil {
		return h, nil, err
	}
	if h.PduLength, rest, err = getU32(rest); err != nil {
		return h, nil, err
	}
	if int(h.PduLength) != len(b) || h.PduLength < gfxHeaderSize {
		return h, nil, fmt.Errorf("%w: cmd 0x%04x declares %d bytes, payload has %d", errGfxLength, h.CmdID, h.PduLength, len(b))
	}
	return h, rest, nil
}

// GfxCapSet is one capability set inside CapsAdvertise/CapsConfirm.
type GfxCapSet struct {
	Version uint32
	Flags   uint32
}

// GfxCapsAdvertise lists the capability sets the client supports.
type GfxCapsAdvertise struct {
	CapSets []GfxCapSet
}

func EncodeGfxCapsAdvertise(c GfxCapsAdvertise) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 2+12*len(c.CapSets)))
	putU16(body, uint16(len(c.CapSets)))
	for _, s := range c.CapSets {
		putU32(body, s.Version)
		putU32(body, 4) // capsDataLength: flags only
		putU32(body, s.Flags)
	}
	return EncodeGfxCommand(GfxCmdCapsAdvertise, body.Bytes())
}

func DecodeGfxCapsAdvertise(b []byte) (GfxCapsAdvertise, error) {
	var c GfxCapsAdvertise
	count, b, err := getU16(b)
	if err != nil {
		return c, err
	}
	c.CapSets = make([]GfxCapSet, 0, count)
	for i := 0; i < int(count); i++ {
		var s GfxCapSet
		if s.Version, b, err = getU32(b); err != nil {
			return c, err
		}
		var dataLen uint32
		if dataLen, b, err = getU32(b); err != nil {
			return c, err
		}
		var data []byte
		if data, b, err = getBytes(b, int(dataLen)); err != nil {
			return c, err
		}
		if len(data) >= 4 {
			s.Flags, _, _ = getU32(data)
		}
		c.CapSets = append(c.CapSets, s)
	}
	return c, nil
}

// GfxCapsConfirm echoes the capability set the server selected.
type GfxCapsConfirm struct {
	CapSet GfxCapSet
}

func EncodeGfxCapsConfirm(c GfxCapsConfirm) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 12))
	putU32(body, c.CapSet.Version)
	putU32(body, 4)
	putU32(body, c.CapSet.Flags)
	return EncodeGfxCommand(GfxCmdCapsConfirm, body.Bytes())
}

func DecodeGfxCapsConfirm(b []byte) (GfxCapsConfirm, error) {
	var c GfxCapsConfirm
	var err error
	if c.CapSet.Version, b, err = getU32(b); err != nil {
		return c, err
	}
	var dataLen uint32
	if dataLen, b, err = getU32(b); err != nil {
		return c, err
	}
	data, _, err := getBytes(b, int(dataLen))
	if err != nil {
		return c, err
	}
	if len(data) >= 4 {
		c.CapSet.Flags, _, _ = getU32(data)
	}
	return c, nil
}

// GfxCreateSurface allocates a client-side surface.
type GfxCreateSurface struct {
	SurfaceID   uint16
	Width       uint16
	Height      uint16
	PixelFormat uint8
}

func EncodeGfxCreateSurface(s GfxCreateSurface) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 7))
	putU16(body, s.SurfaceID)
	putU16(body, s.Width)
	putU16(body, s.Height)
	putU8(body, s.PixelFormat)
	return EncodeGfxCommand(GfxCmdCreateSurface, body.Bytes())
}

func DecodeGfxCreateSurface(b []byte) (GfxCreateSurface, error) {
	var s GfxCreateSurface
	var err error
	if s.SurfaceID, b, err = getU16(b); err != nil {
		return s, err
	}
	if s.Width, b, err = getU16(b); err != nil {
		return s, err
	}
	if s.Height, b, err = getU16(b); err != nil {
		return s, err
	}
	s.PixelFormat, _, err = getU8(b)
	return s, err
}

// GfxDeleteSurface releases a client-side surface.
type GfxDeleteSurface struct {
	SurfaceID uint16
}

func EncodeGfxDeleteSurface(s GfxDeleteSurface) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 2))
	putU16(body, s.SurfaceID)
	return EncodeGfxCommand(GfxCmdDeleteSurface, body.Bytes())
}

func DecodeGfxDeleteSurface(b []byte) (GfxDeleteSurface, error) {
	var s GfxDeleteSurface
	var err error
	s.SurfaceID, _, err = getU16(b)
	return s, err
}

// GfxStartFrame opens a frame; all surface commands until EndFrame
// belong to it.
type GfxStartFrame struct {
	Timestamp uint32
	FrameID   uint32
}

func EncodeGfxStartFrame(f GfxStartFrame) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 8))
	putU32(body, f.Timestamp)
	putU32(body, f.FrameID)
	return EncodeGfxCommand(GfxCmdStartFrame, body.Bytes())
}

func DecodeGfxStartFrame(b []byte) (GfxStartFrame, error) {
	var f GfxStartFrame
	var err error
	if f.Timestamp, b, err = getU32(b); err != nil {
		return f, err
	}
	f.FrameID, _, err = getU32(b)
	return f, err
}

// GfxEndFrame closes the frame opened by the matching StartFrame.
type GfxEndFrame struct {
	FrameID uint32
}

func EncodeGfxEndFrame(f GfxEndFrame) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 4))
	putU32(body, f.FrameID)
	return EncodeGfxCommand(GfxCmdEndFrame, body.Bytes())
}

func DecodeGfxEndFrame(b []byte) (GfxEndFrame, error) {
	var f GfxEndFrame
	var err error
	f.FrameID, _, err = getU32(b)
	return f, err
}

// GfxFrameAcknowledge is the client's receipt for one frame.
type GfxFrameAcknowledge struct {
	QueueDepth         uint32
	FrameID            uint32
	TotalFramesDecoded uint32
}

func EncodeGfxFrameAcknowledge(a GfxFrameAcknowledge) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 12))
	putU32(body, a.QueueDepth)
	putU32(body, a.FrameID)
	putU32(body, a.TotalFramesDecoded)
	return EncodeGfxCommand(GfxCmdFrameAcknowledge, body.Bytes())
}

func DecodeGfxFrameAcknowledge(b []byte) (GfxFrameAcknowledge, error) {
	var a GfxFrameAcknowledge
	var err error
	if a.QueueDepth, b, err = getU32(b); err != nil {
		return a, err
	}
	if a.FrameID, b, err = getU32(b); err != nil {
		return a, err
	}
	a.TotalFramesDecoded, _, err = getU32(b)
	return a, err
}

// GfxWireToSurface1 delivers encoded bitmap data into a surface region.
type GfxWireToSurface1 struct {
	SurfaceID   uint16
	CodecID     uint16
	PixelFormat uint8
	DestRect    geom.Rect
	BitmapData  []byte
}

func EncodeGfxWireToSurface1(w GfxWireToSurface1) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 17+len(w.BitmapData)))
	putU16(body, w.SurfaceID)
	putU16(body, w.CodecID)
	putU8(body, w.PixelFormat)
	putRect16(body, w.DestRect)
	putU32(body, uint32(len(w.BitmapData)))
	body.Write(w.BitmapData)
	return EncodeGfxCommand(GfxCmdWireToSurface1, body.Bytes())
}

func DecodeGfxWireToSurface1(b []byte) (GfxWireToSurface1, error) {
	var w GfxWireToSurface1
	var err error
	if w.SurfaceID, b, err = getU16(b); err != nil {
		return w, err
	}
	if w.CodecID, b, err = getU16(b); err != nil {
		return w, err
	}
	if w.PixelFormat, b, err = getU8(b); err != nil {
		return w, err
	}
	if w.DestRect, b, err = getRect16(b); err != nil {
		return w, err
	}
	var cb uint32
	if cb, b, err = getU32(b); err != nil {
		return w, err
	}
	w.BitmapData, _, err = getBytes(b, int(cb))
	return w, err
}

// GfxSolidFill fills surface rectangles with one color (b, g, r, a).
type GfxSolidFill struct {
	SurfaceID uint16
	Color     [4]byte
	Rects     []geom.Rect
}

func EncodeGfxSolidFill(f GfxSolidFill) ([]byte, error) {
	if len(f.Rects) > maxOrderRects {
		return nil, errTooManyRects
	}
	body := bytes.NewBuffer(make([]byte, 0, 8+8*len(f.Rects)))
	putU16(body, f.SurfaceID)
	body.Write(f.Color[:])
	putU16(body, uint16(len(f.Rects)))
	for _, r := range f.Rects {
		putRect16(body, r)
	}
	return EncodeGfxCommand(GfxCmdSolidFill, body.Bytes()), nil
}

func DecodeGfxSolidFill(b []byte) (GfxSolidFill, error) {
	var f GfxSolidFill
	var err error
	if f.SurfaceID, b, err = getU16(b); err != nil {
		return f, err
	}
	var color []byte
	if color, b, err = getBytes(b, 4); err != nil {
		return f, err
	}
	copy(f.Color[:], color)
	f.Rects, _, err = decodeOrderRects(b)
	return f, err
}

// GfxMapSurfaceToScaledWindow binds a surface to a window, with the
// client scaling mapped content to the target size.
type GfxMapSurfaceToScaledWindow struct {
	SurfaceID    uint16
	WindowID     uint64
	MappedWidth  uint32
	MappedHeight uint32
	TargetWidth  uint32
	TargetHeight uint32
}

func EncodeGfxMapSurfaceToScaledWindow(m GfxMapSurfaceToScaledWindow) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 26))
	putU16(body, m.SurfaceID)
	putU64(body, m.WindowID)
	putU32(body, m.MappedWidth)
	putU32(body, m.MappedHeight)
	putU32(body, m.TargetWidth)
	putU32(body, m.TargetHeight)
	return EncodeGfxCommand(GfxCmdMapSurfaceToScaledWindow, body.Bytes())
}

func DecodeGfxMapSurfaceToScaledWindow(b []byte) (GfxMapSurfaceToScaledWindow, error) {
	var m GfxMapSurfaceToScaledWindow
	var err error
	if m.SurfaceID, b, err = getU16(b); err != nil {
		return m, err
	}
	if m.WindowID, b, err = getU64(b); err != nil {
		return m, err
	}
	if m.MappedWidth, b, err = getU32(b); err != nil {
		return m, err
	}
	if m.MappedHeight, b, err = getU32(b); err != nil {
		return m, err
	}
	if m.TargetWidth, b, err = getU32(b); err != nil {
		return m, err
	}
	m.TargetHeight, _, err = getU32(b)
	return m, err
}

// GfxCacheImportOffer lists cache entries the client kept from an
// earlier session. The server ignores the entries but must consume the
// command.
type GfxCacheImportOffer struct {
	Entries []GfxCacheEntry
}

// GfxCacheEntry is one offered cache slot.
type GfxCacheEntry struct {
	CacheKey     uint64
	BitmapLength uint32
}

func DecodeGfxCacheImportOffer(b []byte) (GfxCacheImportOffer, error) {
	var o GfxCacheImportOffer
	count, b, err := getU16(b)
	if err != nil {
		return o, err
	}
	o.Entries = make([]GfxCacheEntry, 0, count)
	for i := 0; i < int(count); i++ {
		var e GfxCacheEntry
		if e.CacheKey, b, err = getU64(b); err != nil {
			return o, err
		}
		if e.BitmapLength, b, err = getU32(b); err != nil {
			return o, err
		}
		o.Entries = append(o.Entries, e)
	}
	return o, nil
}

// EncodeGfxCacheImportReply acknowledges an import offer without
// importing anything.
func EncodeGfxCacheImportReply() []byte {
	body := bytes.NewBuffer(make([]byte, 0, 2))
	putU16(body, 0)
	return EncodeGfxCommand(GfxCmdCacheImportReply, body.Bytes())
}
