// Package client implements the normal-world session with a loaded trustlet.
package client

import (
	"fmt"
	"sync"

	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/fpc-kitakami/fpcd/tz/types"
	"go.uber.org/zap"
)

// Session owns the request and response areas bound to one trustlet. At most
// one exchange is in flight at a time.
type Session struct {
	mu sync.Mutex

	rt tz.Runtime
	h  tz.Handle
	ch *tz.Channel

	req  types.Slot
	resp []byte

	l *zap.SugaredLogger
}

// NewSession binds a session to the trustlet h. bufferSize is the command
// buffer size the trustlet was loaded with; everything past the request slot
// is response area.
func NewSession(rt tz.Runtime, h tz.Handle, bufferSize int, l *zap.SugaredLogger) (*Session, error) {
	if bufferSize < 2*types.SlotSize {
		return nil, fmt.Errorf("buffer size %d cannot hold a request and a response slot", bufferSize)
	}

	if l == nil {
		l = zap.NewNop().Sugar()
	}

	return &Session{
		rt:   rt,
		h:    h,
		ch:   tz.NewChannel(rt, l),
		resp: make([]byte, bufferSize-types.SlotSize),
		l:    l,
	}, nil
}

// Handle returns the trustlet this session is bound to.
func (s *Session) Handle() tz.Handle {
	return s.h
}

// Exchange sends req and decodes the response slot into resp. A nil resp
// discards the reply.
func (s *Session) Exchange(cmd uint32, req interface{}, resp interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.send(cmd, req, types.SlotSize)
	if err != nil {
		return err
	}

	if resp == nil {
		return nil
	}

	return types.Decode(out, resp)
}

// Query sends req and returns a copy of the whole response area, for replies
// larger than one slot.
func (s *Session) Query(cmd uint32, req interface{}) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.send(cmd, req, len(s.resp))
	if err != nil {
		return nil, err
	}

	ret := make([]byte, len(out))
	copy(ret, out)

	return ret, nil
}

func (s *Session) send(cmd uint32, req interface{}, respLen int) ([]byte, error) {
	slot, err := types.Encode(req)
	if err != nil {
		return nil, err
	}

	s.req = slot
	out := s.resp[:respLen]
	zero(out)

	if err := s.rt.Send(s.h, s.req[:], out); err != nil {
		s.l.Errorw("secure command failed", "cmd", cmd, "error", err)
		return nil, fmt.Errorf("command %#x, %v, %w", cmd, err, tz.ErrTransport)
	}

	return out, nil
}

// SendPlain sends a Plain record and returns the response scalar. A negative
// scalar is a valid reply; only a failed round trip is an error.
func (s *Session) SendPlain(cmd uint32, in int32) (int32, error) {
	var resp types.Plain
	err := s.Exchange(cmd, types.Plain{Cmd: cmd, Value: in}, &resp)
	if err != nil {
		return 0, err
	}

	s.l.Debugw("plain command", "cmd", cmd, "in", in, "out", resp.Value)

	return resp.Value, nil
}

// SendWide sends a Wide record and returns the 64-bit response scalar.
func (s *Session) SendWide(cmd uint32, in int64) (int64, error) {
	var resp types.Wide
	err := s.Exchange(cmd, types.Wide{Cmd: cmd, Value: in}, &resp)
	if err != nil {
		return 0, err
	}

	return resp.Value, nil
}

// SendWithBuffer hands payload to the trustlet through a shared buffer.
func (s *Session) SendWithBuffer(cmd uint32, payload []byte) error {
	buf, err := s.ch.Allocate(len(payload))
	if err != nil {
		return err
	}
	defer s.ch.Release(buf)

	copy(buf.Data, payload)

	return s.exchangeBuffer(cmd, buf)
}

// FetchWithBuffer lets the trustlet fill a zeroed shared buffer of length
// bytes and returns a copy of it.
func (s *Session) FetchWithBuffer(cmd uint32, length int) ([]byte, error) {
	buf, err := s.ch.Allocate(length)
	if err != nil {
		return nil, err
	}
	defer s.ch.Release(buf)

	if err := s.exchangeBuffer(cmd, buf); err != nil {
		return nil, err
	}

	ret := make([]byte, len(buf.Data))
	copy(ret, buf.Data)

	return ret, nil
}

// exchangeBuffer performs a BufferRef round trip. The trustlet echoes a zero
// address once it consumed the buffer; anything else is a rejection.
func (s *Session) exchangeBuffer(cmd uint32, buf *tz.SharedBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := types.Encode(types.BufferRef{
		Cmd:     cmd,
		Address: buf.Address,
		Length:  uint32(buf.Size()),
	})
	if err != nil {
		return err
	}

	s.req = slot
	out := s.resp[:types.SlotSize]
	zero(out)

	desc := tz.BufferDescriptor{
		FD:           buf.FD,
		CmdBufOffset: types.AddressOffset,
	}

	if err := s.rt.SendWithBuffer(s.h, s.req[:], out, desc); err != nil {
		s.l.Errorw("buffer command failed", "cmd", cmd, "length", buf.Size(), "error", err)
		return fmt.Errorf("command %#x, %v, %w", cmd, err, tz.ErrTransport)
	}

	var resp types.BufferRef
	if err := types.Decode(out, &resp); err != nil {
		return err
	}

	if resp.Address != 0 {
		s.l.Errorw("error on tz", "cmd", cmd, "address", resp.Address)
		return fmt.Errorf("command %#x returned address %#x, %w", cmd, resp.Address, tz.ErrSecureRejected)
	}

	return nil
}

// SetBandwidth votes the secure-side bandwidth up or down.
func (s *Session) SetBandwidth(high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rt.SetBandwidth(s.h, high); err != nil {
		return fmt.Errorf("cannot set bandwidth, %v, %w", err, tz.ErrTransport)
	}

	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
