package fingerprint

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fpc-kitakami/fpcd/device"
	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/fpc-kitakami/fpcd/tz/sim"
	"github.com/fpc-kitakami/fpcd/tz/types"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// attrLog records sensor attribute writes and can refuse one of them.
type attrLog struct {
	mu     sync.Mutex
	writes []string
	failOn string
}

func (a *attrLog) WriteAttr(attr device.Attr, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := fmt.Sprintf("%s=%s", attr, value)
	a.writes = append(a.writes, w)

	if w == a.failOn {
		return errors.New("write refused")
	}

	return nil
}

func (a *attrLog) fail(w string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failOn = w
}

func (a *attrLog) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.writes = nil
}

func (a *attrLog) log() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.writes...)
}

// touch fires the interrupt right away.
type touch struct{}

func (touch) Wait(time.Duration) error {
	return nil
}

type rig struct {
	rt    *sim.Runtime
	fp    *sim.Fingerprint
	attrs *attrLog
	fs    afero.Fs
	m     *Manager
}

func newRig(t *testing.T, fs afero.Fs) *rig {
	t.Helper()

	if fs == nil {
		fs = afero.NewMemMapFs()
	}

	r := &rig{
		rt:    sim.New(nil),
		fp:    sim.NewFingerprint(),
		attrs: &attrLog{},
		fs:    fs,
	}

	require.NoError(t, r.rt.Register(r.fp, sim.NewKeymaster()))

	r.m = New(Options{
		Opener: r.rt.Opener(),
		Power:  device.NewSequencer(r.attrs, touch{}, 0, nil),
		Fs:     fs,
	})

	return r
}

func initRig(t *testing.T, fs afero.Fs) *rig {
	t.Helper()

	r := newRig(t, fs)
	require.NoError(t, r.m.Init())
	r.attrs.reset()

	return r
}

// plainOverride answers fingerprint trustlet plain commands for which f
// returns true.
func plainOverride(f func(cmd uint32, in int32) (int32, bool)) sim.Hook {
	return func(name string, cmd uint32, req, resp, _ []byte) (bool, error) {
		if name != info.FingerprintTrustletName {
			return false, nil
		}

		var r types.Plain
		if err := types.Decode(req, &r); err != nil {
			return false, err
		}

		out, ok := f(cmd, r.Value)
		if !ok {
			return false, nil
		}

		slot, err := types.Encode(types.Plain{Cmd: cmd, Value: out})
		if err != nil {
			return true, err
		}
		copy(resp, slot[:])

		return true, nil
	}
}

func TestManager_Init(t *testing.T) {
	r := newRig(t, nil)

	require.NoError(t, r.m.Init())
	require.Equal(t, Idle, r.m.State())

	require.Equal(t, []uint32{
		info.KeymasterCmdGetCert,
		info.CmdSetInitData,
		info.CmdInit,
		info.CmdGetInitState,
		info.CmdInitUnk1,
		info.CmdInitUnk2,
		info.CmdInitUnk0,
		info.CmdInitNewDB,
		info.CmdSetFPStore,
	}, r.rt.Calls())

	require.Equal(t, []bool{true, false}, r.rt.Bandwidth())
	require.Equal(t, []string{
		"prepare=enable",
		"clock=1",
		"prepare=enable",
		"clock=1",
		"clock=0",
		"prepare=disable",
	}, r.attrs.log())
	require.Zero(t, r.rt.Outstanding())
}

func TestManager_InitTwice(t *testing.T) {
	r := initRig(t, nil)
	require.ErrorIs(t, r.m.Init(), ErrInvalidState)
}

func TestManager_InitWithoutRuntime(t *testing.T) {
	m := New(Options{})
	require.ErrorIs(t, m.Init(), ErrNotInitialized)
}

func TestManager_InitOpenFailure(t *testing.T) {
	errOpen := errors.New("qseecom unavailable")

	m := New(Options{
		Opener: func() (tz.Runtime, error) {
			return nil, errOpen
		},
		Power: device.NewSequencer(&attrLog{}, touch{}, 0, nil),
	})

	require.ErrorIs(t, m.Init(), errOpen)
}

func TestManager_InitAbortsOnSensorMismatch(t *testing.T) {
	r := newRig(t, nil)
	r.rt.SetHook(plainOverride(func(cmd uint32, _ int32) (int32, bool) {
		if cmd == info.CmdInitUnk1 {
			return info.InitUnk1Expected - 1, true
		}

		return 0, false
	}))

	require.ErrorIs(t, r.m.Init(), tz.ErrProtocol)

	calls := r.rt.Calls()
	require.Equal(t, info.CmdInitUnk1, calls[len(calls)-1])
	require.NotContains(t, calls, info.CmdInitUnk2)
	require.NotContains(t, calls, info.CmdInitUnk0)
	require.Empty(t, r.rt.Bandwidth())
	require.Equal(t, []string{"prepare=enable", "clock=1"}, r.attrs.log())

	_, err := r.m.PrintCount()
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestManager_InitStepFailures(t *testing.T) {
	tests := []struct {
		name    string
		cmd     uint32
		reply   int32
		wantErr error
	}{
		{"init rejected", info.CmdInit, -1, tz.ErrSecureRejected},
		{"init state rejected", info.CmdGetInitState, 1, tz.ErrSecureRejected},
		{"new db rejected", info.CmdInitNewDB, -5, tz.ErrSecureRejected},
		{"fp store rejected", info.CmdSetFPStore, -5, tz.ErrSecureRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, nil)
			r.rt.SetHook(plainOverride(func(cmd uint32, _ int32) (int32, bool) {
				return tt.reply, cmd == tt.cmd
			}))

			require.ErrorIs(t, r.m.Init(), tt.wantErr)

			if bw := r.rt.Bandwidth(); len(bw) > 0 {
				require.False(t, bw[len(bw)-1], "bandwidth left high")
			}
		})
	}
}

func TestManager_InitTransportFailure(t *testing.T) {
	r := newRig(t, nil)
	r.rt.FailCommand(info.CmdSetInitData, errors.New("ioctl failed"))

	require.ErrorIs(t, r.m.Init(), tz.ErrTransport)
	require.Zero(t, r.rt.Outstanding())
}

func TestManager_NotInitialized(t *testing.T) {
	m := newRig(t, nil).m

	require.ErrorIs(t, m.EnrollStart(0), ErrNotInitialized)
	require.ErrorIs(t, m.AuthStart(), ErrNotInitialized)
	require.ErrorIs(t, m.DeletePrint(1), ErrNotInitialized)
	require.ErrorIs(t, m.Close(), ErrNotInitialized)

	_, err := m.CaptureImage()
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestManager_Close(t *testing.T) {
	r := initRig(t, nil)

	require.NoError(t, r.m.Close())
	require.Equal(t, []string{"clock=0", "prepare=disable"}, r.attrs.log())
	require.ErrorIs(t, r.m.EnrollStart(0), ErrNotInitialized)
	require.ErrorIs(t, r.m.Close(), ErrNotInitialized)
}

func TestManager_CloseDisableFailure(t *testing.T) {
	r := initRig(t, nil)
	r.attrs.fail("clock=0")

	require.ErrorIs(t, r.m.Close(), device.ErrDeviceIO)

	_, err := r.rt.Opener()()
	require.ErrorIs(t, err, tz.ErrClosed)
}

func TestManager_SetGroupID(t *testing.T) {
	r := initRig(t, nil)
	calls := len(r.rt.Calls())

	require.NoError(t, r.m.SetGroupID(1000))
	require.Len(t, r.rt.Calls(), calls)
}
