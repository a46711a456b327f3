package fingerprint

import (
	"fmt"

	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz"
)

// SetAuthChallenge asks the trustlet to start a new authentication
// challenge. The trustlet generates the challenge itself; the argument is
// accepted for interface compatibility only.
func (m *Manager) SetAuthChallenge(_ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return err
	}

	_, err = expect(s, info.CmdSetAuthChallenge, 0, tz.ErrSecureRejected)

	return err
}

// LoadAuthChallenge returns the trustlet's current authentication challenge.
func (m *Manager) LoadAuthChallenge() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return 0, err
	}

	return s.SendWide(info.CmdGetAuthChallenge, 0)
}

// LoadDatabaseID returns the id of the template database currently loaded.
func (m *Manager) LoadDatabaseID() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return 0, err
	}

	return s.SendWide(info.CmdGetDBID, 0)
}

// HardwareAuthToken fetches the length byte auth token produced by the last
// successful match.
func (m *Manager) HardwareAuthToken(length int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return nil, err
	}

	hat, err := s.FetchWithBuffer(info.CmdGetAuthHAT, length)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch auth token, %w", err)
	}

	return hat, nil
}

// VerifyAuthChallenge hands an auth token to the trustlet for verification
// against the pending challenge.
func (m *Manager) VerifyAuthChallenge(hat []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return err
	}

	return s.SendWithBuffer(info.CmdVerifyAuthChallenge, hat)
}
