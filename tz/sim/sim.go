// Package sim is an in-process secure runtime. It hosts simulated trustlets,
// hands out shared buffers from normal memory and counts every allocation, so
// the driver can run and be tested without secure hardware.
package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/fpc-kitakami/fpcd/tz/types"
	"go.uber.org/zap"
)

// Compile-time check which fails if Runtime doesn't comply with
// tz.Runtime interface.
var _ tz.Runtime = (*Runtime)(nil)

var ErrInjected = errors.New("injected failure")
var ErrUnknownBuffer = errors.New("unknown shared buffer")
var ErrCommandNotSupported = errors.New("command not supported")

// baseAddress is where the first shared buffer is mapped in the secure world.
const baseAddress = 0x0d000000

// Trustlet is a simulated secure application.
type Trustlet interface {
	Name() string
	Commands() []uint32

	// Handle serves one command. req is the request slot, resp the response
	// area, shared the attached buffer when the command came with one.
	Handle(cmd uint32, req, resp, shared []byte) error
}

// Hook may intercept a command before it reaches its trustlet. Returning
// handled=false lets the trustlet serve it.
type Hook func(name string, cmd uint32, req, resp, shared []byte) (handled bool, err error)

type loaded struct {
	t        Trustlet
	bufSize  int
	commands map[uint32]struct{}
}

// Runtime is a simulated secure runtime.
type Runtime struct {
	mu sync.Mutex

	images  map[string]Trustlet
	loaded  map[tz.Handle]*loaded
	buffers map[int]*tz.SharedBuffer

	nextHandle tz.Handle
	nextFD     int
	nextAddr   uint32

	allocs    int
	frees     int
	calls     []uint32
	bandwidth []bool
	sendErr   map[uint32]error
	allocErr  error
	hook      Hook
	closed    bool

	l *zap.SugaredLogger
}

// New returns an empty Runtime.
func New(l *zap.SugaredLogger) *Runtime {
	if l == nil {
		l = zap.NewNop().Sugar()
	}

	return &Runtime{
		images:   map[string]Trustlet{},
		loaded:   map[tz.Handle]*loaded{},
		buffers:  map[int]*tz.SharedBuffer{},
		nextFD:   3,
		nextAddr: baseAddress,
		sendErr:  map[uint32]error{},
		l:        l,
	}
}

// Register makes trustlets loadable by name.
// If a trustlet was already registered, an error will be returned.
func (r *Runtime) Register(trustlets ...Trustlet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range trustlets {
		if _, exists := r.images[t.Name()]; exists {
			return fmt.Errorf("trustlet %s already registered", t.Name())
		}

		r.images[t.Name()] = t
	}

	return nil
}

// Opener returns a tz.Opener handing out r.
func (r *Runtime) Opener() tz.Opener {
	return func() (tz.Runtime, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.closed {
			return nil, tz.ErrClosed
		}

		return r, nil
	}
}

// FailCommand makes every exchange of cmd fail at the transport level.
// A nil err clears the injection.
func (r *Runtime) FailCommand(cmd uint32, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		delete(r.sendErr, cmd)
		return
	}

	r.sendErr[cmd] = err
}

// FailAlloc makes shared buffer allocations fail with err until cleared.
func (r *Runtime) FailAlloc(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.allocErr = err
}

// SetHook installs h in front of every trustlet.
func (r *Runtime) SetHook(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hook = h
}

// Allocs returns how many shared buffers were handed out.
func (r *Runtime) Allocs() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.allocs
}

// Frees returns how many shared buffers were released.
func (r *Runtime) Frees() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.frees
}

// Outstanding returns how many shared buffers are still mapped.
func (r *Runtime) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.buffers)
}

// Calls returns every command delivered so far, in order.
func (r *Runtime) Calls() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ret := make([]uint32, len(r.calls))
	copy(ret, r.calls)

	return ret
}

// Bandwidth returns every bandwidth vote, in order.
func (r *Runtime) Bandwidth() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ret := make([]bool, len(r.bandwidth))
	copy(ret, r.bandwidth)

	return ret
}

func (r *Runtime) LoadTrustlet(path, name string, bufferSize int) (tz.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, tz.ErrClosed
	}

	t, found := r.images[name]
	if !found {
		return 0, fmt.Errorf("cannot load %s/%s, %w", path, name, tz.ErrTrustletNotFound)
	}

	cmds := map[uint32]struct{}{}
	for _, c := range t.Commands() {
		cmds[c] = struct{}{}
	}

	r.nextHandle++
	r.loaded[r.nextHandle] = &loaded{
		t:        t,
		bufSize:  bufferSize,
		commands: cmds,
	}

	r.l.Debugw("trustlet loaded", "name", name, "handle", r.nextHandle)

	return r.nextHandle, nil
}

func (r *Runtime) Send(h tz.Handle, req, resp []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.dispatch(h, req, resp, nil)
}

func (r *Runtime) SendWithBuffer(h tz.Handle, req, resp []byte, desc tz.BufferDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, found := r.buffers[desc.FD]
	if !found {
		return fmt.Errorf("fd %d, %w", desc.FD, ErrUnknownBuffer)
	}

	if desc.CmdBufOffset+4 > len(req) {
		return fmt.Errorf("buffer offset %d outside request", desc.CmdBufOffset)
	}

	if addr := binary.LittleEndian.Uint32(req[desc.CmdBufOffset:]); addr != buf.Address {
		return fmt.Errorf("request address %#x does not match fd %d at %#x", addr, desc.FD, buf.Address)
	}

	return r.dispatch(h, req, resp, buf.Data)
}

func (r *Runtime) dispatch(h tz.Handle, req, resp, shared []byte) error {
	if r.closed {
		return tz.ErrClosed
	}

	lt, found := r.loaded[h]
	if !found {
		return fmt.Errorf("handle %d, %w", h, tz.ErrTrustletNotFound)
	}

	if len(req) < 4 {
		return fmt.Errorf("request of %d bytes has no command id", len(req))
	}

	if len(req)+len(resp) > lt.bufSize {
		return fmt.Errorf("exchange of %d bytes exceeds %d byte buffer", len(req)+len(resp), lt.bufSize)
	}

	cmd := binary.LittleEndian.Uint32(req)
	r.calls = append(r.calls, cmd)

	if err, found := r.sendErr[cmd]; found {
		return err
	}

	if r.hook != nil {
		handled, err := r.hook(lt.t.Name(), cmd, req, resp, shared)
		if handled || err != nil {
			return err
		}
	}

	if _, found := lt.commands[cmd]; !found {
		return fmt.Errorf("command %#x in %s, %w", cmd, lt.t.Name(), ErrCommandNotSupported)
	}

	return lt.t.Handle(cmd, req, resp, shared)
}

func (r *Runtime) AllocShared(size int) (*tz.SharedBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.allocErr != nil {
		return nil, r.allocErr
	}

	if r.closed {
		return nil, tz.ErrClosed
	}

	buf := &tz.SharedBuffer{
		Handle:  uint32(r.nextFD),
		Address: r.nextAddr,
		FD:      r.nextFD,
		Data:    make([]byte, size),
	}

	r.buffers[buf.FD] = buf
	r.nextFD++
	// page aligned, never zero
	r.nextAddr += uint32((size + 0xfff) &^ 0xfff)
	r.allocs++

	return buf, nil
}

func (r *Runtime) FreeShared(buf *tz.SharedBuffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.buffers[buf.FD]; !found {
		return fmt.Errorf("fd %d, %w", buf.FD, ErrUnknownBuffer)
	}

	delete(r.buffers, buf.FD)
	r.frees++

	return nil
}

func (r *Runtime) SetBandwidth(h tz.Handle, high bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.loaded[h]; !found {
		return fmt.Errorf("handle %d, %w", h, tz.ErrTrustletNotFound)
	}

	r.bandwidth = append(r.bandwidth, high)

	return nil
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return tz.ErrClosed
	}

	r.closed = true
	r.loaded = map[tz.Handle]*loaded{}

	return nil
}

// reply encodes rec at the head of resp.
func reply(resp []byte, rec interface{}) error {
	slot, err := types.Encode(rec)
	if err != nil {
		return err
	}

	if len(resp) < types.SlotSize {
		return fmt.Errorf("response area of %d bytes, %w", len(resp), types.ErrShortSlot)
	}

	copy(resp, slot[:])

	return nil
}
