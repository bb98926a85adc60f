package protocol

import (
	"bytes"
	"fmt"

	"github.com/IcebergThings/railbridge/geom"
)

// Shared-memory channel message types.
const (
	ShmMsgCaps             uint16 = 0x0001
	ShmMsgCapsConfirm      uint16 = 0x0002
	ShmMsgOpenPool         uint16 = 0x0003
	ShmMsgClosePool        uint16 = 0x0004
	ShmMsgCreateBuffer     uint16 = 0x0005
	ShmMsgDestroyBuffer    uint16 = 0x0006
	ShmMsgPresentBuffer    uint16 = 0x0007
	ShmMsgPresentBufferAck uint16 = 0x0008
)

// ShmVersion1 is the only shared-memory protocol version in use.
const ShmVersion1 uint32 = 1

// Buffer pixel formats.
const (
	ShmFormatXRGB uint8 = 0x20
	ShmFormatARGB uint8 = 0x21
)

// maxPresentOpaqueRects bounds the opaque hint list in PresentBuffer.
const maxPresentOpaqueRects = 64

// shmMessage wraps a body with the shared-memory channel's message
// header. The declared length covers the header.
func shmMessage(msgType uint16, body []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4+len(body)))
	putU16(buf, msgType)
	putU16(buf, uint16(4+len(body)))
	buf.Write(body)
	return buf.Bytes()
}

// DecodeShmHeader splits one shared-memory payload into message type
// and body.
func DecodeShmHeader(b []byte) (uint16, []byte, error) {
	msgType, rest, err := getU16(b)
	if err != nil {
		return 0, nil, err
	}
	msgLen, rest, err := getU16(rest)
	if err != nil {
		return 0, nil, err
	}
	if int(msgLen) != len(b) || msgLen < 4 {
		return 0, nil, fmt.Errorf("protocol: shm message 0x%04x declares %d bytes, payload has %d", msgType, msgLen, len(b))
	}
	return msgType, rest, nil
}

// ShmCaps negotiates the shared-memory protocol version.
type ShmCaps struct {
	Version uint32
	Flags   uint32
}

func EncodeShmCaps(c ShmCaps) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 8))
	putU32(body, c.Version)
	putU32(body, c.Flags)
	return shmMessage(ShmMsgCaps, body.Bytes())
}

func DecodeShmCaps(b []byte) (ShmCaps, error) {
	var c ShmCaps
	var err error
	if c.Version, b, err = getU32(b); err != nil {
		return c, err
	}
	c.Flags, _, err = getU32(b)
	return c, err
}

// EncodeShmCapsConfirm confirms the version the server accepted.
func EncodeShmCapsConfirm(c ShmCaps) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 8))
	putU32(body, c.Version)
	putU32(body, c.Flags)
	return shmMessage(ShmMsgCapsConfirm, body.Bytes())
}

// ShmOpenPool announces a named shared-memory section of SectionSize
// bytes backing subsequent buffers.
type ShmOpenPool struct {
	PoolID      uint32
	SectionSize uint64
	Name        string
}

func EncodeShmOpenPool(p ShmOpenPool) ([]byte, error) {
	body := bytes.NewBuffer(make([]byte, 0, 16+len(p.Name)))
	putU32(body, p.PoolID)
	putU64(body, p.SectionSize)
	if err := putString(body, p.Name); err != nil {
		return nil, err
	}
	return shmMessage(ShmMsgOpenPool, body.Bytes()), nil
}

func DecodeShmOpenPool(b []byte) (ShmOpenPool, error) {
	var p ShmOpenPool
	var err error
	if p.PoolID, b, err = getU32(b); err != nil {
		return p, err
	}
	if p.SectionSize, b, err = getU64(b); err != nil {
		return p, err
	}
	p.Name, _, err = getString(b)
	return p, err
}

// ShmClosePool releases a pool. Buffers must be destroyed first.
type ShmClosePool struct {
	PoolID uint32
}

func EncodeShmClosePool(p ShmClosePool) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 4))
	putU32(body, p.PoolID)
	return shmMessage(ShmMsgClosePool, body.Bytes())
}

func DecodeShmClosePool(b []byte) (ShmClosePool, error) {
	var p ShmClosePool
	var err error
	p.PoolID, _, err = getU32(b)
	return p, err
}

// ShmCreateBuffer carves a pixel buffer out of an open pool.
type ShmCreateBuffer struct {
	BufferID uint32
	PoolID   uint32
	Offset   uint64
	Width    uint32
	Height   uint32
	Stride   uint32
	Format   uint8
}

func EncodeShmCreateBuffer(c ShmCreateBuffer) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 29))
	putU32(body, c.BufferID)
	putU32(body, c.PoolID)
	putU64(body, c.Offset)
	putU32(body, c.Width)
	putU32(body, c.Height)
	putU32(body, c.Stride)
	putU8(body, c.Format)
	return shmMessage(ShmMsgCreateBuffer, body.Bytes())
}

func DecodeShmCreateBuffer(b []byte) (ShmCreateBuffer, error) {
	var c ShmCreateBuffer
	var err error
	if c.BufferID, b, err = getU32(b); err != nil {
		return c, err
	}
	if c.PoolID, b, err = getU32(b); err != nil {
		return c, err
	}
	if c.Offset, b, err = getU64(b); err != nil {
		return c, err
	}
	if c.Width, b, err = getU32(b); err != nil {
		return c, err
	}
	if c.Height, b, err = getU32(b); err != nil {
		return c, err
	}
	if c.Stride, b, err = getU32(b); err != nil {
		return c, err
	}
	c.Format, _, err = getU8(b)
	return c, err
}

// ShmDestroyBuffer releases a buffer.
type ShmDestroyBuffer struct {
	BufferID uint32
}

func EncodeShmDestroyBuffer(d ShmDestroyBuffer) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 4))
	putU32(body, d.BufferID)
	return shmMessage(ShmMsgDestroyBuffer, body.Bytes())
}

func DecodeShmDestroyBuffer(b []byte) (ShmDestroyBuffer, error) {
	var d ShmDestroyBuffer
	var err error
	d.BufferID, _, err = getU32(b)
	return d, err
}

// ShmPresentBuffer asks the client to display buffer contents on a
// window. The dirty rectangle names what changed since the previous
// present; opaque rectangles are a hint for occlusion. The client
// answers with ShmPresentBufferAck carrying the same PresentID.
type ShmPresentBuffer struct {
	PresentID    uint32
	WindowID     uint32
	BufferID     uint32
	Dirty        geom.Rect
	OpaqueRects  []geom.Rect
	TargetWidth  uint32
	TargetHeight uint32
}

func EncodeShmPresentBuffer(p ShmPresentBuffer) ([]byte, error) {
	if len(p.OpaqueRects) > maxPresentOpaqueRects {
		return nil, errTooManyRects
	}
	body := bytes.NewBuffer(make([]byte, 0, 40+16*len(p.OpaqueRects)))
	putU32(body, p.PresentID)
	putU32(body, p.WindowID)
	putU32(body, p.BufferID)
	putRect32(body, p.Dirty)
	putU16(body, uint16(len(p.OpaqueRects)))
	for _, r := range p.OpaqueRects {
		putRect32(body, r)
	}
	putU32(body, p.TargetWidth)
	putU32(body, p.TargetHeight)
	return shmMessage(ShmMsgPresentBuffer, body.Bytes()), nil
}

func DecodeShmPresentBuffer(b []byte) (ShmPresentBuffer, error) {
	var p ShmPresentBuffer
	var err error
	if p.PresentID, b, err = getU32(b); err != nil {
		return p, err
	}
	if p.WindowID, b, err = getU32(b); err != nil {
		return p, err
	}
	if p.BufferID, b, err = getU32(b); err != nil {
		return p, err
	}
	if p.Dirty, b, err = getRect32(b); err != nil {
		return p, err
	}
	var count uint16
	if count, b, err = getU16(b); err != nil {
		return p, err
	}
	if count > maxPresentOpaqueRects {
		return p, errTooManyRects
	}
	p.OpaqueRects = make([]geom.Rect, count)
	for i := range p.OpaqueRects {
		if p.OpaqueRects[i], b, err = getRect32(b); err != nil {
			return p, err
		}
	}
	if p.TargetWidth, b, err = getU32(b); err != nil {
		return p, err
	}
	p.TargetHeight, _, err = getU32(b)
	return p, err
}

// ShmPresentBufferAck is the client's receipt for one present.
type ShmPresentBufferAck struct {
	PresentID uint32
	WindowID  uint32
}

func EncodeShmPresentBufferAck(a ShmPresentBufferAck) []byte {
	body := bytes.NewBuffer(make([]byte, 0, 8))
	putU32(body, a.PresentID)
	putU32(body, a.WindowID)
	return shmMessage(ShmMsgPresentBufferAck, body.Bytes())
}

func DecodeShmPresentBufferAck(b []byte) (ShmPresentBufferAck, error) {
	var a ShmPresentBufferAck
	var err error
	if a.PresentID, b, err = getU32(b); err != nil {
		return a, err
	}
	a.WindowID, _, err = getU32(b)
	return a, err
}
