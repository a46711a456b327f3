// Package fingerprint drives enrollment, authentication and template
// database management on a fingerprint trustlet.
//
// A Manager is created once per process. Init loads the trustlets and runs
// the bootstrap handshake; every other operation goes through the secure
// session it creates, and Close tears it down again.
package fingerprint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fpc-kitakami/fpcd/device"
	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/fpc-kitakami/fpcd/tz/client"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("print not found")
var ErrInvalidState = errors.New("invalid state")
var ErrNotInitialized = errors.New("not initialized")
var ErrNoMatch = errors.New("no usable capture")

// ErrRemainingTouches marks an enroll step whose capture was accepted but
// whose remaining touch count could not be read.
var ErrRemainingTouches = errors.New("remaining touches unavailable")

// State is the enrollment/authentication state.
type State int

const (
	Idle State = iota
	Enrolling
	EnrollComplete
	Authenticating
	Matched
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Enrolling:
		return "enrolling"
	case EnrollComplete:
		return "enroll complete"
	case Authenticating:
		return "authenticating"
	case Matched:
		return "matched"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Power controls the sensor.
type Power interface {
	Enable() error
	Disable() error
	WaitForFinger(c device.Commander) (device.FingerState, error)
}

// Compile-time check which fails if device.Sequencer doesn't comply with
// Power interface.
var _ Power = (*device.Sequencer)(nil)

// TrustletImage locates a trustlet binary.
type TrustletImage struct {
	Path string
	Name string
}

// Options configure a Manager.
type Options struct {
	Opener     tz.Opener
	Power      Power
	Fs         afero.Fs
	Logger     *zap.SugaredLogger
	BufferSize int

	Fingerprint TrustletImage
	Keymaster   TrustletImage
}

// Manager is the fingerprint driver. All methods are safe for concurrent
// use; secure exchanges and captures are serialized.
type Manager struct {
	mu sync.Mutex

	opener     tz.Opener
	power      Power
	fs         afero.Fs
	bufferSize int
	fpImage    TrustletImage
	kmImage    TrustletImage

	rt    tz.Runtime
	fp    *client.Session
	state State

	l *zap.SugaredLogger
}

// New returns a Manager. Zero fields in o take their defaults.
func New(o Options) *Manager {
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}

	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}

	if o.BufferSize == 0 {
		o.BufferSize = info.BufferSize
	}

	if o.Fingerprint == (TrustletImage{}) {
		o.Fingerprint = TrustletImage{Path: info.TrustletPath, Name: info.FingerprintTrustletName}
	}

	if o.Keymaster == (TrustletImage{}) {
		o.Keymaster = TrustletImage{Path: info.TrustletPath, Name: info.KeymasterTrustletName}
	}

	return &Manager{
		opener:     o.Opener,
		power:      o.Power,
		fs:         o.Fs,
		bufferSize: o.BufferSize,
		fpImage:    o.Fingerprint,
		kmImage:    o.Keymaster,
		l:          o.Logger,
	}
}

// State returns the current enrollment/authentication state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *Manager) session() (*client.Session, error) {
	if m.fp == nil {
		return nil, ErrNotInitialized
	}

	return m.fp, nil
}

func (m *Manager) transition(to State) {
	if m.state != to {
		m.l.Debugw("state change", "from", m.state.String(), "to", to.String())
	}

	m.state = to
}

// expect sends a plain command with argument zero and fails with kind when
// the reply is not want.
func expect(s *client.Session, cmd uint32, want int32, kind error) (int32, error) {
	got, err := s.SendPlain(cmd, 0)
	if err != nil {
		return got, err
	}

	if got != want {
		return got, fmt.Errorf("command %#x returned %d, expected %d, %w", cmd, got, want, kind)
	}

	return got, nil
}

// StepError is returned by EnrollStep when the capture succeeded but the
// remaining touch count could not be read. It matches ErrRemainingTouches
// and unwraps to the underlying failure.
type StepError struct {
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%v: %v", ErrRemainingTouches, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return target == ErrRemainingTouches
}

// timeNow is swapped in tests.
var timeNow = time.Now
