// Package tz defines the secure runtime the fingerprint driver talks to, and
// the shared-buffer channel used for bulk payloads.
package tz

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrTransport = errors.New("secure transport failure")
var ErrSecureRejected = errors.New("rejected by secure side")
var ErrAllocationFailed = errors.New("shared buffer allocation failed")
var ErrTrustletNotFound = errors.New("trustlet not found")
var ErrClosed = errors.New("secure runtime closed")

// ErrProtocol reports a reply value outside what the command allows.
var ErrProtocol = errors.New("protocol violation")

// Handle identifies a loaded trustlet instance.
type Handle uint32

// SharedBuffer is a memory region mapped into both worlds.
type SharedBuffer struct {
	Handle  uint32
	Address uint32 // as seen by the secure world
	FD      int
	Data    []byte

	released bool
}

// Size returns the length of the mapped region.
func (b *SharedBuffer) Size() int {
	return len(b.Data)
}

// BufferDescriptor tells the runtime which shared buffer backs a BufferRef
// request, and at which request offset its address must be patched in.
type BufferDescriptor struct {
	FD           int
	CmdBufOffset int
}

// Runtime is the secure-world runtime: it loads trustlets, exchanges command
// buffers with them, and hands out shared memory.
type Runtime interface {
	// LoadTrustlet loads the named trustlet image and binds a command
	// buffer of bufferSize bytes to it.
	LoadTrustlet(path, name string, bufferSize int) (Handle, error)

	// Send delivers req to the trustlet and fills resp with its reply.
	Send(h Handle, req, resp []byte) error

	// SendWithBuffer is Send with one extra shared buffer attached.
	SendWithBuffer(h Handle, req, resp []byte, desc BufferDescriptor) error

	AllocShared(size int) (*SharedBuffer, error)
	FreeShared(buf *SharedBuffer) error

	// SetBandwidth raises or lowers the secure-side bus bandwidth vote.
	SetBandwidth(h Handle, high bool) error

	// Close unloads every trustlet and releases the runtime.
	Close() error
}

// Opener opens a Runtime.
type Opener func() (Runtime, error)

// Channel allocates and releases shared buffers on a Runtime.
type Channel struct {
	rt Runtime
	l  *zap.SugaredLogger
}

// NewChannel returns a Channel backed by rt.
func NewChannel(rt Runtime, l *zap.SugaredLogger) *Channel {
	if l == nil {
		l = zap.NewNop().Sugar()
	}

	return &Channel{
		rt: rt,
		l:  l,
	}
}

// Allocate returns a zeroed shared buffer of size bytes. The caller owns it
// and must Release it on every return path.
func (c *Channel) Allocate(size int) (*SharedBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid size %d, %w", size, ErrAllocationFailed)
	}

	buf, err := c.rt.AllocShared(size)
	if err != nil {
		c.l.Errorw("shared buffer allocation failed", "length", size, "error", err)
		return nil, fmt.Errorf("cannot allocate %d bytes, %v, %w", size, err, ErrAllocationFailed)
	}

	if len(buf.Data) < size {
		c.rt.FreeShared(buf)
		return nil, fmt.Errorf("runtime returned %d of %d bytes, %w", len(buf.Data), size, ErrAllocationFailed)
	}

	buf.Data = buf.Data[:size]
	for i := range buf.Data {
		buf.Data[i] = 0
	}

	return buf, nil
}

// Release frees buf. Releasing nil or an already released buffer is a no-op.
func (c *Channel) Release(buf *SharedBuffer) {
	if buf == nil || buf.released {
		return
	}

	buf.released = true

	if err := c.rt.FreeShared(buf); err != nil {
		c.l.Errorw("cannot free shared buffer", "handle", buf.Handle, "error", err)
	}
}
