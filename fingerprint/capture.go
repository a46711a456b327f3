package fingerprint

import (
	"fmt"

	"github.com/fpc-kitakami/fpcd/device"
	"github.com/fpc-kitakami/fpcd/fpc/info"
)

// CaptureImage powers the sensor up, waits for a finger and captures an
// image. It returns the trustlet's capture result, or info.CaptureNothing
// when no finger showed up; that value is above the vendor error base so
// callers do not alert the user. The sensor is powered down afterwards in
// every case, and a failure to do so replaces the result.
func (m *Manager) CaptureImage() (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return 0, err
	}

	if err := m.power.Enable(); err != nil {
		m.l.Errorw("error starting device", "error", err)
		return 0, err
	}

	ret, captureErr := m.capture(s)

	if err := m.power.Disable(); err != nil {
		m.l.Errorw("error stopping device", "error", err)
		return 0, fmt.Errorf("error stopping device, %w", err)
	}

	return ret, captureErr
}

func (m *Manager) capture(c device.Commander) (int32, error) {
	state, err := m.power.WaitForFinger(c)
	if err != nil {
		return 0, err
	}

	if state != device.Ready {
		m.l.Debugw("nothing to capture", "finger", state.String())
		return info.CaptureNothing, nil
	}

	return c.SendPlain(info.CmdCaptureImage, 0)
}
