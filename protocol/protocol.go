package protocol

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

const (
	magic      uint32 = 0x52414901 // "RAI\x01"
	headerSize        = 24

	// maxFrameSize bounds a single frame's payload. Pixel pushes are the
	// largest frames and stay well under this for any plausible window.
	maxFrameSize = 64 << 20
)

// Flag bits for the header Flags byte.
const (
	FlagChecksum uint8 = 0x01
)

// Version is the framing version implemented by this package.
const Version uint8 = 1

// Channel identifies one of the multiplexed streams sharing a transport
// connection. Channel numbers are fixed; both ends open them in this
// order and close them in reverse.
type Channel uint8

const (
	// ChannelUpdate carries window information orders and pointer updates.
	ChannelUpdate Channel = iota
	// ChannelRail carries remote-application control orders both ways.
	ChannelRail
	// ChannelGfx carries the graphics pipeline commands and frame acks.
	ChannelGfx
	// ChannelShm carries shared-memory pool control and present acks.
	ChannelShm

	NumChannels
)

func (c Channel) String() string {
	switch c {
	case ChannelUpdate:
		return "update"
	case ChannelRail:
		return "rail"
	case ChannelGfx:
		return "gfx"
	case ChannelShm:
		return "shm"
	}
	return "unknown"
}

// Dynamic virtual channel names the graphics and shared-memory streams
// are negotiated under on a full remoting stack.
const (
	WireNameGfx = "Microsoft::Windows::RDS::Graphics"
	WireNameShm = "WSL::SharedMemory"
)

// Header describes the fixed portion of every frame exchanged over the
// transport. Sequence numbers are per-channel and ascend from zero.
type Header struct {
	Version    uint8
	Channel    Channel
	Flags      uint8
	Reserved   uint8
	Sequence   uint64
	PayloadLen uint32
	Checksum   uint32
}

var (
	ErrInvalidMagic     = errors.New("protocol: invalid magic")
	ErrUnsupportedVer   = errors.New("protocol: unsupported version")
	ErrUnknownChannel   = errors.New("protocol: unknown channel")
	ErrShortPayload     = errors.New("protocol: payload shorter than declared length")
	ErrFrameTooLarge    = errors.New("protocol: frame exceeds size limit")
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
)

// WriteFrame serialises the header and payload to w. The payload slice
// is written as-is; callers retain ownership of the buffer.
func WriteFrame(w io.Writer, hdr Header, payload []byte) error {
	if len(payload) > maxFrameSize {
		return ErrFrameTooLarge
	}
	hdr.PayloadLen = uint32(len(payload))

	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:], magic)
	buf[4] = hdr.Version
	buf[5] = byte(hdr.Channel)
	buf[6] = hdr.Flags
	buf[7] = hdr.Reserved
	binary.LittleEndian.PutUint64(buf[8:16], hdr.Sequence)
	binary.LittleEndian.PutUint32(buf[16:20], hdr.PayloadLen)

	checksum := hdr.Checksum
	if hdr.Flags&FlagChecksum != 0 {
		crc := crc32.NewIEEE()
		_, _ = crc.Write(buf[4:20])
		if len(payload) > 0 {
			_, _ = crc.Write(payload)
		}
		checksum = crc.Sum32()
	}
	binary.LittleEndian.PutUint32(buf[20:24], checksum)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame from r. The returned payload is freshly
// allocated and owned by the caller.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	var hdr Header
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return hdr, nil, err
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != magic {
		return hdr, nil, ErrInvalidMagic
	}

	hdr.Version = buf[4]
	hdr.Channel = Channel(buf[5])
	hdr.Flags = buf[6]
	hdr.Reserved = buf[7]
	hdr.Sequence = binary.LittleEndian.Uint64(buf[8:16])
	hdr.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	hdr.Checksum = binary.LittleEndian.Uint32(buf[20:24])

	if hdr.Version != Version {
		return hdr, nil, ErrUnsupportedVer
	}
	if hdr.Channel >= NumChannels {
		return hdr, nil, ErrUnknownChannel
	}
	if hdr.PayloadLen > maxFrameSize {
		return hdr, nil, ErrFrameTooLarge
	}

	payload := make([]byte, hdr.PayloadLen)
	if hdr.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return hdr, nil, ErrShortPayload
			}
			return hdr, nil, err
		}
	}

	if hdr.Flags&FlagChecksum != 0 {
		crc := crc32.NewIEEE()
		_, _ = crc.Write(buf[4:20])
		if len(payload) > 0 {
			_, _ = crc.Write(payload)
		}
		if crc.Sum32() != hdr.Checksum {
			return hdr, nil, ErrChecksumMismatch
		}
	}

	return hdr, payload, nil
}
