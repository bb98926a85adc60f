package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"unicode/utf16"

	"github.com/IcebergThings/railbridge/geom"
)

var (
	errStringTooLong = errors.New("protocol: string exceeds 64KB limit")
	errPayloadShort  = errors.New("protocol: payload too short")
	errTooManyRects  = errors.New("protocol: rectangle count exceeds limit")
)

func putU8(buf *bytes.Buffer, v uint8) {
	buf.WriteByte(v)
}

func putU16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func putI16(buf *bytes.Buffer, v int16) { putU16(buf, uint16(v)) }
func putI32(buf *bytes.Buffer, v int32) { putU32(buf, uint32(v)) }

func getU8(b []byte) (uint8, []byte, error) {
	if len(b) < 1 {
		return 0, nil, errPayloadShort
	}
	return b[0], b[1:], nil
}

func getU16(b []byte) (uint16, []byte, error) {
	if len(b) < 2 {
		return 0, nil, errPayloadShort
	}
	return binary.LittleEndian.Uint16(b[:2]), b[2:], nil
}

func getU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, errPayloadShort
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func getU64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errPayloadShort
	}
	return binary.LittleEndian.Uint64(b[:8]), b[8:], nil
}

func getI16(b []byte) (int16, []byte, error) {
	v, rest, err := getU16(b)
	return int16(v), rest, err
}

func getI32(b []byte) (int32, []byte, error) {
	v, rest, err := getU32(b)
	return int32(v), rest, err
}

func getBytes(b []byte, n int) ([]byte, []byte, error) {
	if n < 0 || len(b) < n {
		return nil, nil, errPayloadShort
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out, b[n:], nil
}

// putString writes a byte-length-prefixed raw string.
func putString(buf *bytes.Buffer, value string) error {
	if len(value) > 0xFFFF {
		return errStringTooLong
	}
	putU16(buf, uint16(len(value)))
	if len(value) > 0 {
		buf.WriteString(value)
	}
	return nil
}

func getString(b []byte) (string, []byte, error) {
	length, b, err := getU16(b)
	if err != nil {
		return "", nil, err
	}
	if len(b) < int(length) {
		return "", nil, errPayloadShort
	}
	return string(b[:length]), b[length:], nil
}

// putUTF16 writes a string as a byte-count-prefixed little-endian
// UTF-16 sequence without a terminator, the form window titles and
// launch paths take on the wire.
func putUTF16(buf *bytes.Buffer, value string) error {
	units := utf16.Encode([]rune(value))
	if len(units)*2 > 0xFFFF {
		return errStringTooLong
	}
	putU16(buf, uint16(len(units)*2))
	for _, u := range units {
		putU16(buf, u)
	}
	return nil
}

func getUTF16(b []byte) (string, []byte, error) {
	cb, b, err := getU16(b)
	if err != nil {
		return "", nil, err
	}
	if cb%2 != 0 || len(b) < int(cb) {
		return "", nil, errPayloadShort
	}
	units := make([]uint16, cb/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units)), b[cb:], nil
}

// utf16Fixed renders value into a fixed-size little-endian UTF-16
// buffer, truncating at the buffer's capacity and zero-filling the rest.
func utf16Fixed(value string, byteLen int) []byte {
	out := make([]byte, byteLen)
	units := utf16.Encode([]rune(value))
	if len(units) > byteLen/2 {
		units = units[:byteLen/2]
	}
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out
}

func utf16FromFixed(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// putRect16 writes a rectangle as left/top/right/bottom int16 edges.
func putRect16(buf *bytes.Buffer, r geom.Rect) {
	putI16(buf, int16(r.X))
	putI16(buf, int16(r.Y))
	putI16(buf, int16(r.Right()))
	putI16(buf, int16(r.Bottom()))
}

func getRect16(b []byte) (geom.Rect, []byte, error) {
	if len(b) < 8 {
		return geom.Rect{}, nil, errPayloadShort
	}
	l := int16(binary.LittleEndian.Uint16(b[0:]))
	t := int16(binary.LittleEndian.Uint16(b[2:]))
	r := int16(binary.LittleEndian.Uint16(b[4:]))
	bo := int16(binary.LittleEndian.Uint16(b[6:]))
	return geom.Rect{X: int(l), Y: int(t), W: int(r - l), H: int(bo - t)}, b[8:], nil
}

// putRect32 writes a rectangle as x/y/width/height int32.
func putRect32(buf *bytes.Buffer, r geom.Rect) {
	putI32(buf, int32(r.X))
	putI32(buf, int32(r.Y))
	putI32(buf, int32(r.W))
	putI32(buf, int32(r.H))
}

func getRect32(b []byte) (geom.Rect, []byte, error) {
	if len(b) < 16 {
		return geom.Rect{}, nil, errPayloadShort
	}
	x := int32(binary.LittleEndian.Uint32(b[0:]))
	y := int32(binary.LittleEndian.Uint32(b[4:]))
	w := int32(binary.LittleEndian.Uint32(b[8:]))
	h := int32(binary.LittleEndian.Uint32(b[12:]))
	return geom.Rect{X: int(x), Y: int(y), W: int(w), H: int(h)}, b[16:], nil
}
