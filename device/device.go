// Package device drives the fingerprint sensor's power, clock and wake
// signals, and waits for a finger between captures.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz"
	"go.uber.org/zap"
)

var ErrDeviceIO = errors.New("device i/o failure")

// DefaultIRQTimeout bounds a single finger wait.
const DefaultIRQTimeout = time.Second

// FingerState is the outcome of WaitForFinger.
type FingerState int

const (
	// Ready means a finger is on the sensor and a capture can be issued.
	Ready FingerState = iota
	// CheckAgain means nothing happened yet; the caller may wait again.
	CheckAgain
	// NotNeeded means the trustlet did not ask for a finger wait.
	NotNeeded
)

func (s FingerState) String() string {
	switch s {
	case Ready:
		return "ready"
	case CheckAgain:
		return "check again"
	case NotNeeded:
		return "not needed"
	default:
		return fmt.Sprintf("FingerState(%d)", int(s))
	}
}

// Commander sends a plain command to the fingerprint trustlet.
type Commander interface {
	SendPlain(cmd uint32, in int32) (int32, error)
}

// Sequencer owns the sensor power state. Callers serialize its use.
type Sequencer struct {
	attrs   AttrWriter
	irq     IRQWaiter
	timeout time.Duration

	l *zap.SugaredLogger
}

// NewSequencer returns a Sequencer writing attributes through attrs and
// waiting for interrupts on irq, each wait bounded by timeout.
func NewSequencer(attrs AttrWriter, irq IRQWaiter, timeout time.Duration, l *zap.SugaredLogger) *Sequencer {
	if l == nil {
		l = zap.NewNop().Sugar()
	}

	if timeout <= 0 {
		timeout = DefaultIRQTimeout
	}

	return &Sequencer{
		attrs:   attrs,
		irq:     irq,
		timeout: timeout,
		l:       l,
	}
}

func (s *Sequencer) write(a Attr, value string) error {
	if err := s.attrs.WriteAttr(a, value); err != nil {
		s.l.Errorw("attribute write failed", "attr", a.String(), "value", value, "error", err)
		if errors.Is(err, ErrDeviceIO) {
			return err
		}

		return fmt.Errorf("%s=%s: %v, %w", a, value, err, ErrDeviceIO)
	}

	return nil
}

// Enable prepares the bus, then turns its clock on.
func (s *Sequencer) Enable() error {
	if err := s.write(AttrPrepare, "enable"); err != nil {
		return err
	}

	return s.write(AttrClock, "1")
}

// Disable turns the clock off, then releases the bus.
func (s *Sequencer) Disable() error {
	if err := s.write(AttrClock, "0"); err != nil {
		return err
	}

	return s.write(AttrPrepare, "disable")
}

// restore brings the clock back up and disarms wake after a low-power wait.
func (s *Sequencer) restore() error {
	clkErr := s.write(AttrClock, "1")
	wakeErr := s.write(AttrWake, "0")

	if clkErr != nil {
		return clkErr
	}

	return wakeErr
}

// WaitForFinger asks the trustlet which finger transition it waits for,
// parks the sensor in low-power wake mode and blocks until the interrupt
// fires or the wait times out. Only the trustlet decides whether the wake
// was a real touch.
func (s *Sequencer) WaitForFinger(c Commander) (FingerState, error) {
	state, err := c.SendPlain(info.CmdChkFPLost, int32(info.CmdChkFPLost))
	if err != nil {
		return CheckAgain, err
	}

	switch state {
	case info.FingerWaitLift:
		s.l.Debug("wait for finger up")
	case info.FingerWaitTouch:
		s.l.Debug("wait for finger down")
	case info.FingerNotNeeded:
		s.l.Debug("wait for finger not needed")
		return NotNeeded, nil
	default:
		return CheckAgain, fmt.Errorf("unexpected finger state %d, %w", state, tz.ErrProtocol)
	}

	if err := s.write(AttrWake, "1"); err != nil {
		return CheckAgain, err
	}

	ret, err := c.SendPlain(info.CmdSetWake, 0)
	if err == nil && ret != 0 {
		err = fmt.Errorf("returned %d", ret)
	}

	if err != nil {
		s.l.Errorw("error sending set wake to tz", "error", err)
		s.write(AttrWake, "0")
		return CheckAgain, fmt.Errorf("cannot arm wake: %v, %w", err, ErrDeviceIO)
	}

	if err := s.write(AttrClock, "0"); err != nil {
		s.restore()
		return CheckAgain, err
	}

	s.l.Debugw("polling device irq", "timeout", s.timeout)

	if err := s.irq.Wait(s.timeout); err != nil {
		if !errors.Is(err, ErrIRQTimeout) {
			s.l.Warnw("irq wait failed", "error", err)
		}

		if err := s.restore(); err != nil {
			return CheckAgain, err
		}

		return CheckAgain, nil
	}

	if err := s.restore(); err != nil {
		return CheckAgain, err
	}

	wake, err := c.SendPlain(info.CmdGetWakeType, 0)
	if err != nil {
		return CheckAgain, err
	}

	if wake != info.WakeTypeFinger {
		s.l.Debugw("not ready, try again", "wake_type", wake)
		return CheckAgain, nil
	}

	s.l.Debug("ready to capture")

	return Ready, nil
}
