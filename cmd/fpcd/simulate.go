package main

import (
	"time"

	"github.com/fpc-kitakami/fpcd/config"
	"github.com/fpc-kitakami/fpcd/device"
	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/fpc-kitakami/fpcd/tz/sim"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// touchDelay stands in for the time a user needs to put a finger down.
const touchDelay = 150 * time.Millisecond

// touch is an interrupt line that always fires after touchDelay.
type touch struct{}

func (touch) Wait(timeout time.Duration) error {
	if timeout < touchDelay {
		time.Sleep(timeout)
		return device.ErrIRQTimeout
	}

	time.Sleep(touchDelay)

	return nil
}

// simulated builds a secure runtime hosting the simulated trustlets and a
// sensor whose attributes live in memory.
func simulated(cfg config.Config, l *zap.SugaredLogger) (tz.Opener, device.AttrWriter, device.IRQWaiter, error) {
	rt := sim.New(l.Named("sim"))
	if err := rt.Register(sim.NewFingerprint(), sim.NewKeymaster()); err != nil {
		return nil, nil, nil, err
	}

	fs := afero.NewMemMapFs()
	files := cfg.AttrFiles()

	for _, a := range []device.Attr{device.AttrClock, device.AttrPrepare, device.AttrWake, device.AttrIRQ} {
		if err := afero.WriteFile(fs, files.Path(cfg.SPIDir, a), nil, 0644); err != nil {
			return nil, nil, nil, err
		}
	}

	return rt.Opener(), device.NewSysfsAttrs(fs, cfg.SPIDir, files), touch{}, nil
}
