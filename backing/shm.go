package backing

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/IcebergThings/railbridge/geom"
	"github.com/IcebergThings/railbridge/protocol"
	"github.com/IcebergThings/railbridge/transport"
)

// shmNameBudget is the longest region name shared with the client.
const shmNameBudget = 32

// ShmBuffer is one window's shared-memory backing: a named region file
// under the shared mount point, mapped read-write, announced to the
// client as a pool with a single full-size buffer.
type ShmBuffer struct {
	ch  transport.Channel
	log *zap.Logger

	poolID   uint32
	bufferID uint32
	size     geom.Size
	stride   int

	path    string
	section uint64
	data    []byte
	closed  bool
}

// NewShmBuffer creates the region file, maps it, and announces
// OpenPool + CreateBuffer. mountPoint must be the shared-memory mount
// visible to both sides.
func NewShmBuffer(ch transport.Channel, mountPoint string, poolID, bufferID uint32, size geom.Size, log *zap.Logger) (*ShmBuffer, error) {
	if mountPoint == "" {
		return nil, fmt.Errorf("backing: shared-memory mount point not configured")
	}
	name := regionName()
	b := &ShmBuffer{
		ch:       ch,
		log:      log,
		poolID:   poolID,
		bufferID: bufferID,
		size:     size,
		stride:   size.W * 4,
		path:     filepath.Join(mountPoint, name),
		section:  roundUpToPage(uint64(size.W) * uint64(size.H) * 4),
	}

	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("backing: create region %s: %w", b.path, err)
	}
	defer f.Close()
	if err := f.Truncate(int64(b.section)); err != nil {
		os.Remove(b.path)
		return nil, fmt.Errorf("backing: size region %s: %w", b.path, err)
	}
	b.data, err = unix.Mmap(int(f.Fd()), 0, int(b.section), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(b.path)
		return nil, fmt.Errorf("backing: map region %s: %w", b.path, err)
	}

	open, err := protocol.EncodeShmOpenPool(protocol.ShmOpenPool{
		PoolID:      poolID,
		SectionSize: b.section,
		Name:        name,
	})
	if err != nil {
		b.release()
		return nil, err
	}
	if err := ch.Write(open); err != nil {
		b.release()
		return nil, fmt.Errorf("backing: open pool %d: %w", poolID, err)
	}
	create := protocol.EncodeShmCreateBuffer(protocol.ShmCreateBuffer{
		BufferID: bufferID,
		PoolID:   poolID,
		Offset:   0,
		Width:    uint32(size.W),
		Height:   uint32(size.H),
		Stride:   uint32(b.stride),
		Format:   protocol.ShmFormatARGB,
	})
	if err := ch.Write(create); err != nil {
		b.release()
		return nil, fmt.Errorf("backing: create buffer %d: %w", bufferID, err)
	}

	log.Debug("shared buffer created", zap.Uint32("pool", poolID),
		zap.Uint32("buffer", bufferID), zap.String("region", name),
		zap.Uint64("section", b.section))
	return b, nil
}

func (b *ShmBuffer) PoolID() uint32   { return b.poolID }
func (b *ShmBuffer) BufferID() uint32 { return b.bufferID }
func (b *ShmBuffer) Size() geom.Size  { return b.size }
func (b *ShmBuffer) Path() string     { return b.path }

// CopyPixels writes BGRA rows for dest into the mapped region. pix
// holds dest.H rows of dest.W*4 bytes.
func (b *ShmBuffer) CopyPixels(dest geom.Rect, pix []byte) error {
	if b.closed {
		return fmt.Errorf("backing: buffer %d closed", b.bufferID)
	}
	clipped := dest.Intersect(geom.Rect{W: b.size.W, H: b.size.H})
	if clipped != dest {
		return fmt.Errorf("backing: rect %v outside buffer %dx%d", dest, b.size.W, b.size.H)
	}
	if len(pix) < dest.W*dest.H*4 {
		return fmt.Errorf("backing: pixel payload %d bytes, rect needs %d", len(pix), dest.W*dest.H*4)
	}
	rowLen := dest.W * 4
	for row := 0; row < dest.H; row++ {
		off := (dest.Y+row)*b.stride + dest.X*4
		copy(b.data[off:off+rowLen], pix[row*rowLen:(row+1)*rowLen])
	}
	return nil
}

// Present asks the client to display the dirty region. The caller owns
// present-id sequencing and the pending flag.
func (b *ShmBuffer) Present(presentID, windowID uint32, dirty geom.Rect, opaque []geom.Rect, target geom.Size) error {
	if b.closed {
		return fmt.Errorf("backing: buffer %d closed", b.bufferID)
	}
	msg, err := protocol.EncodeShmPresentBuffer(protocol.ShmPresentBuffer{
		PresentID:    presentID,
		WindowID:     windowID,
		BufferID:     b.bufferID,
		Dirty:        dirty,
		OpaqueRects:  opaque,
		TargetWidth:  uint32(target.W),
		TargetHeight: uint32(target.H),
	})
	if err != nil {
		return err
	}
	return b.ch.Write(msg)
}

// Close announces DestroyBuffer + ClosePool, unmaps and unlinks the
// region. Safe to call twice.
func (b *ShmBuffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	if err := b.ch.Write(protocol.EncodeShmDestroyBuffer(protocol.ShmDestroyBuffer{BufferID: b.bufferID})); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := b.ch.Write(protocol.EncodeShmClosePool(protocol.ShmClosePool{PoolID: b.poolID})); err != nil && firstErr == nil {
		firstErr = err
	}
	b.release()
	b.log.Debug("shared buffer destroyed", zap.Uint32("pool", b.poolID),
		zap.Uint32("buffer", b.bufferID))
	return firstErr
}

func (b *ShmBuffer) release() {
	if b.data != nil {
		unix.Munmap(b.data)
		b.data = nil
	}
	os.Remove(b.path)
}

func regionName() string {
	name := "rail-" + uuid.NewString()
	if len(name) > shmNameBudget {
		name = name[:shmNameBudget]
	}
	return name
}

func roundUpToPage(n uint64) uint64 {
	page := uint64(os.Getpagesize())
	if n == 0 {
		return page
	}
	return (n + page - 1) / page * page
}
