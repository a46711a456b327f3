package fingerprint

import (
	"fmt"

	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/fpc-kitakami/fpcd/tz/types"
)

// AuthStart opens an authentication against every enrolled template.
func (m *Manager) AuthStart() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return err
	}

	if m.state != Idle {
		return fmt.Errorf("auth start while %s, %w", m.state, ErrInvalidState)
	}

	set, err := enrolledSlots(s)
	if err != nil {
		return err
	}

	m.l.Infow("number of prints available", "count", set.Count)

	var resp types.Plain
	err = s.Exchange(info.CmdAuthStart, types.IndexList{
		Cmd:    info.CmdAuthStart,
		Prints: set.Prints,
		Count:  set.Count,
	}, &resp)
	if err != nil {
		m.l.Errorw("error sending auth start to tz", "error", err)
		return err
	}

	if resp.Value != 0 {
		return fmt.Errorf("auth start returned %d, %w", resp.Value, tz.ErrSecureRejected)
	}

	m.transition(Authenticating)

	return nil
}

// AuthStep captures one touch and matches it. ErrNoMatch means the capture
// was not usable and the step may be repeated.
func (m *Manager) AuthStep() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return 0, err
	}

	if m.state != Authenticating {
		return 0, fmt.Errorf("auth step while %s, %w", m.state, ErrInvalidState)
	}

	var resp types.AuthStep
	err = s.Exchange(info.CmdAuthStep, types.Plain{Cmd: info.CmdAuthStep}, &resp)
	if err != nil {
		return 0, err
	}

	if resp.Value < info.AuthStepMinMatch {
		return 0, fmt.Errorf("auth step returned %d, %w", resp.Value, ErrNoMatch)
	}

	id, err := printID(s, resp.ID)
	if err != nil {
		return 0, err
	}

	m.l.Infow("print matched", "slot", resp.ID, "id", id)
	m.transition(Matched)

	return id, nil
}

// AuthEnd closes the authentication. The state returns to Idle even when
// the trustlet reports a failure.
func (m *Manager) AuthEnd() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return err
	}

	if m.state != Authenticating && m.state != Matched {
		return fmt.Errorf("auth end while %s, %w", m.state, ErrInvalidState)
	}

	defer m.transition(Idle)

	if _, err := expect(s, info.CmdAuthEnd, 0, tz.ErrSecureRejected); err != nil {
		m.l.Errorw("error sending auth end to tz", "error", err)
		return err
	}

	return nil
}
