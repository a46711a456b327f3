package fingerprint

import (
	"fmt"

	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/fpc-kitakami/fpcd/tz/client"
	"github.com/fpc-kitakami/fpcd/tz/types"
)

// Init opens the secure runtime, loads both trustlets and runs the
// fingerprint trustlet's bootstrap handshake. Each step relies on the state
// left by the one before it, so the first failure aborts the whole sequence.
// A failed Init leaves the Manager uninitialized.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fp != nil {
		return fmt.Errorf("already initialized, %w", ErrInvalidState)
	}

	if m.opener == nil || m.power == nil {
		return fmt.Errorf("manager needs a secure runtime and a sensor, %w", ErrNotInitialized)
	}

	m.l.Info("init fpc tz app")

	rt, err := m.opener()
	if err != nil {
		return fmt.Errorf("cannot open secure runtime, %w", err)
	}

	fp, err := m.bootstrap(rt)
	if err != nil {
		m.l.Errorw("bootstrap failed", "error", err)

		if cerr := rt.Close(); cerr != nil {
			m.l.Warnw("cannot close secure runtime", "error", cerr)
		}

		return err
	}

	m.rt = rt
	m.fp = fp
	m.transition(Idle)

	return nil
}

func (m *Manager) load(rt tz.Runtime, img TrustletImage) (*client.Session, error) {
	h, err := rt.LoadTrustlet(img.Path, img.Name, m.bufferSize)
	if err != nil {
		return nil, fmt.Errorf("could not load app %s, %w", img.Name, err)
	}

	return client.NewSession(rt, h, m.bufferSize, m.l.With("trustlet", img.Name))
}

// keymasterCert asks the key-management trustlet for the certificate blob
// the fingerprint trustlet needs to initialize.
func (m *Manager) keymasterCert(km *client.Session) ([]byte, error) {
	resp, err := km.Query(info.KeymasterCmdGetCert, types.Plain{
		Cmd:   info.KeymasterCmdGetCert,
		Value: info.KeymasterCertVariant,
	})
	if err != nil {
		return nil, err
	}

	h, cert, err := types.DecodeKeymaster(resp)
	if err != nil {
		return nil, fmt.Errorf("keymaster response: %v, %w", err, tz.ErrProtocol)
	}

	m.l.Infow("keymaster response", "code", h.Value, "length", h.Length)

	return cert, nil
}

func (m *Manager) bootstrap(rt tz.Runtime) (*client.Session, error) {
	if err := m.power.Enable(); err != nil {
		return nil, fmt.Errorf("error starting device, %w", err)
	}

	fp, err := m.load(rt, m.fpImage)
	if err != nil {
		return nil, err
	}

	km, err := m.load(rt, m.kmImage)
	if err != nil {
		return nil, err
	}

	cert, err := m.keymasterCert(km)
	if err != nil {
		return nil, err
	}

	if err := fp.SendWithBuffer(info.CmdSetInitData, cert); err != nil {
		return nil, fmt.Errorf("error sending data to tz, %w", err)
	}

	if _, err := expect(fp, info.CmdInit, 0, tz.ErrSecureRejected); err != nil {
		return nil, err
	}

	if _, err := expect(fp, info.CmdGetInitState, 0, tz.ErrSecureRejected); err != nil {
		return nil, err
	}

	if _, err := expect(fp, info.CmdInitUnk1, info.InitUnk1Expected, tz.ErrProtocol); err != nil {
		return nil, err
	}

	if err := m.power.Enable(); err != nil {
		return nil, fmt.Errorf("error starting device, %w", err)
	}

	if _, err := expect(fp, info.CmdInitUnk2, 0, tz.ErrSecureRejected); err != nil {
		return nil, err
	}

	sensor, err := fp.SendPlain(info.CmdInitUnk0, 0)
	if err != nil {
		return nil, err
	}

	m.l.Infow("got device data", "info", sensor)

	if err := m.power.Disable(); err != nil {
		return nil, fmt.Errorf("error stopping device, %w", err)
	}

	if err := fp.SetBandwidth(true); err != nil {
		return nil, err
	}

	if err := m.newDatabase(fp); err != nil {
		if berr := fp.SetBandwidth(false); berr != nil {
			m.l.Warnw("cannot lower bandwidth", "error", berr)
		}

		return nil, err
	}

	if err := fp.SetBandwidth(false); err != nil {
		return nil, err
	}

	return fp, nil
}

func (m *Manager) newDatabase(fp *client.Session) error {
	if _, err := expect(fp, info.CmdInitNewDB, 0, tz.ErrSecureRejected); err != nil {
		return err
	}

	_, err := expect(fp, info.CmdSetFPStore, 0, tz.ErrSecureRejected)

	return err
}

// Close powers the sensor down and releases the secure runtime. The runtime
// is released even when the sensor could not be disabled.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fp == nil {
		return ErrNotInitialized
	}

	disableErr := m.power.Disable()
	if disableErr != nil {
		m.l.Errorw("error stopping device", "error", disableErr)
	}

	closeErr := m.rt.Close()

	m.rt = nil
	m.fp = nil
	m.transition(Idle)

	if disableErr != nil {
		return fmt.Errorf("error stopping device, %w", disableErr)
	}

	if closeErr != nil {
		return fmt.Errorf("cannot close secure runtime, %w", closeErr)
	}

	return nil
}

// SetGroupID is reserved. This sensor generation keeps no per-group
// template stores, so the group id is accepted and not forwarded.
func (m *Manager) SetGroupID(gid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fp == nil {
		return ErrNotInitialized
	}

	m.l.Debugw("group id not used on this sensor", "gid", gid)

	return nil
}
