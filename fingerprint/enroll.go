package fingerprint

import (
	"fmt"

	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/fpc-kitakami/fpcd/tz/client"
	"github.com/fpc-kitakami/fpcd/tz/types"
)

// EnrollStart opens an enrollment. hint is the slot the caller would like
// the template stored in; the trustlet may pick another one.
func (m *Manager) EnrollStart(hint int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return err
	}

	if m.state != Idle {
		return fmt.Errorf("enroll start while %s, %w", m.state, ErrInvalidState)
	}

	var resp types.Plain
	err = s.Exchange(info.CmdEnrollStart, types.EnrollStart{
		Cmd:        info.CmdEnrollStart,
		Magic:      info.EnrollStartMagic,
		PrintIndex: hint,
	}, &resp)
	if err != nil {
		return err
	}

	if resp.Value != 0 {
		return fmt.Errorf("enroll start returned %d, %w", resp.Value, tz.ErrSecureRejected)
	}

	m.transition(Enrolling)

	return nil
}

func remainingTouches(s *client.Session) (uint32, error) {
	n, err := s.SendPlain(info.CmdGetRemainingTouches, 0)
	if err != nil {
		return 0, err
	}

	if n < 0 {
		return 0, fmt.Errorf("remaining touches returned %d, %w", n, tz.ErrSecureRejected)
	}

	return uint32(n), nil
}

// EnrollStep captures one touch into the open enrollment and returns how
// many touches are still needed.
//
// A negative capture result is returned as an error and the step may be
// retried. When the capture is accepted but the touch count cannot be read,
// the returned error matches ErrRemainingTouches: the touch is kept, and
// RemainingTouches reads the count again without a new capture.
func (m *Manager) EnrollStep() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return 0, err
	}

	if m.state != Enrolling {
		return 0, fmt.Errorf("enroll step while %s, %w", m.state, ErrInvalidState)
	}

	ret, err := s.SendPlain(info.CmdEnrollStep, info.EnrollStepArg)
	if err != nil {
		return 0, err
	}

	if ret < 0 {
		return 0, fmt.Errorf("enroll step returned %d, %w", ret, tz.ErrSecureRejected)
	}

	touches, err := remainingTouches(s)
	if err != nil {
		m.l.Warnw("touch accepted, remaining touches unavailable", "error", err)
		return 0, &StepError{Err: err}
	}

	m.l.Debugw("enroll step", "result", ret, "remaining", touches)

	if touches == 0 {
		m.transition(EnrollComplete)
	}

	return touches, nil
}

// RemainingTouches reads the open enrollment's remaining touch count.
func (m *Manager) RemainingTouches() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return 0, err
	}

	if m.state != Enrolling && m.state != EnrollComplete {
		return 0, fmt.Errorf("remaining touches while %s, %w", m.state, ErrInvalidState)
	}

	touches, err := remainingTouches(s)
	if err != nil {
		return 0, err
	}

	if touches == 0 {
		m.transition(EnrollComplete)
	}

	return touches, nil
}

// EnrollEnd closes the enrollment and returns the new print's identifier.
// A transport failure leaves the enrollment open so the call can be
// retried; any other outcome returns to Idle.
func (m *Manager) EnrollEnd() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return 0, err
	}

	if m.state != Enrolling && m.state != EnrollComplete {
		return 0, fmt.Errorf("enroll end while %s, %w", m.state, ErrInvalidState)
	}

	slot, err := s.SendPlain(info.CmdEnrollEnd, 0)
	if err != nil {
		return 0, err
	}

	m.transition(Idle)

	if slot < 0 || slot >= types.MaxPrints {
		m.l.Errorw("error sending enroll end to tz", "slot", slot)
		return 0, fmt.Errorf("enroll end returned slot %d, %w", slot, tz.ErrProtocol)
	}

	id, err := printID(s, uint32(slot))
	if err != nil {
		return 0, err
	}

	m.l.Infow("print enrolled", "slot", slot, "id", id)

	return id, nil
}
