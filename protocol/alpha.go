package protocol

import (
	"bytes"
	"errors"
)

// The alpha codec carries a window's transparency plane separately from
// its color data. The payload is a 2-byte signature, a mode byte and
// the plane either raw (width*height bytes, rows top-down) or run-length
// encoded as (count uint16, value uint8) pairs.

const (
	alphaModeRaw uint8 = 0
	alphaModeRLE uint8 = 1

	maxAlphaRun = 0xFFFF
)

var (
	alphaSig = [2]byte{'A', 'L'}

	ErrAlphaSignature = errors.New("protocol: bad alpha codec signature")
	ErrAlphaTruncated = errors.New("protocol: alpha plane truncated")
)

// EncodeAlphaRLE run-length encodes an alpha plane. Most windows are
// fully opaque so planes collapse to a handful of runs; planes too
// noisy to fit the run-count field fall back to the raw form.
func EncodeAlphaRLE(width, height int, plane []byte) ([]byte, error) {
	if len(plane) != width*height {
		return nil, ErrAlphaTruncated
	}
	runs := 0
	for i := 0; i < len(plane); runs++ {
		v := plane[i]
		n := 1
		for i+n < len(plane) && plane[i+n] == v && n < maxAlphaRun {
			n++
		}
		i += n
	}
	if runs > 0xFFFF {
		return EncodeAlphaRaw(width, height, plane)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 10+3*runs))
	buf.Write(alphaSig[:])
	putU8(buf, alphaModeRLE)
	putU16(buf, uint16(width))
	putU16(buf, uint16(height))
	putU16(buf, uint16(runs))
	for i := 0; i < len(plane); {
		v := plane[i]
		n := 1
		for i+n < len(plane) && plane[i+n] == v && n < maxAlphaRun {
			n++
		}
		putU16(buf, uint16(n))
		putU8(buf, v)
		i += n
	}
	return buf.Bytes(), nil
}

// EncodeAlphaOpaque produces the one-run plane for a fully opaque
// window.
func EncodeAlphaOpaque(width, height int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 16))
	buf.Write(alphaSig[:])
	putU8(buf, alphaModeRLE)
	putU16(buf, uint16(width))
	putU16(buf, uint16(height))

	total := width * height
	runs := (total + maxAlphaRun - 1) / maxAlphaRun
	putU16(buf, uint16(runs))
	for total > 0 {
		n := min(total, maxAlphaRun)
		putU16(buf, uint16(n))
		putU8(buf, 0xFF)
		total -= n
	}
	return buf.Bytes()
}

// EncodeAlphaRaw emits the plane uncompressed.
func EncodeAlphaRaw(width, height int, plane []byte) ([]byte, error) {
	if len(plane) != width*height {
		return nil, ErrAlphaTruncated
	}
	buf := bytes.NewBuffer(make([]byte, 0, 8+len(plane)))
	buf.Write(alphaSig[:])
	putU8(buf, alphaModeRaw)
	putU16(buf, uint16(width))
	putU16(buf, uint16(height))
	buf.Write(plane)
	return buf.Bytes(), nil
}

// DecodeAlpha expands an alpha codec payload back into a raw plane.
func DecodeAlpha(b []byte) (width, height int, plane []byte, err error) {
	if len(b) < 3 || b[0] != alphaSig[0] || b[1] != alphaSig[1] {
		return 0, 0, nil, ErrAlphaSignature
	}
	mode := b[2]
	b = b[3:]
	var w, h uint16
	if w, b, err = getU16(b); err != nil {
		return 0, 0, nil, err
	}
	if h, b, err = getU16(b); err != nil {
		return 0, 0, nil, err
	}
	total := int(w) * int(h)
	plane = make([]byte, 0, total)

	switch mode {
	case alphaModeRaw:
		if len(b) < total {
			return 0, 0, nil, ErrAlphaTruncated
		}
		plane = append(plane, b[:total]...)
	case alphaModeRLE:
		var runs uint16
		if runs, b, err = getU16(b); err != nil {
			return 0, 0, nil, err
		}
		for i := 0; i < int(runs); i++ {
			var n uint16
			var v uint8
			if n, b, err = getU16(b); err != nil {
				return 0, 0, nil, err
			}
			if v, b, err = getU8(b); err != nil {
				return 0, 0, nil, err
			}
			for j := 0; j < int(n); j++ {
				plane = append(plane, v)
			}
		}
		if len(plane) != total {
			return 0, 0, nil, ErrAlphaTruncated
		}
	default:
		return 0, 0, nil, ErrAlphaSignature
	}
	return int(w), int(h), plane, nil
}
