package fingerprint

import (
	"errors"
	"testing"

	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/stretchr/testify/require"
)

func TestManager_Enroll(t *testing.T) {
	r := initRig(t, nil)

	require.NoError(t, r.m.EnrollStart(0))
	require.Equal(t, Enrolling, r.m.State())

	for want := uint32(2); ; want-- {
		left, err := r.m.EnrollStep()
		require.NoError(t, err)
		require.Equal(t, want, left)

		if left == 0 {
			break
		}

		require.Equal(t, Enrolling, r.m.State())
	}

	require.Equal(t, EnrollComplete, r.m.State())

	id, err := r.m.EnrollEnd()
	require.NoError(t, err)
	require.Equal(t, Idle, r.m.State())
	require.Equal(t, map[int]uint32{0: id}, r.fp.Enrolled())

	ids, err := r.m.PrintIDs()
	require.NoError(t, err)
	require.Equal(t, []uint32{id}, ids)
}

func TestManager_EnrollStartRejected(t *testing.T) {
	r := initRig(t, nil)

	for i := 0; i < 5; i++ {
		_, err := r.fp.Enroll(i, []byte("template"))
		require.NoError(t, err)
	}

	require.ErrorIs(t, r.m.EnrollStart(0), tz.ErrSecureRejected)
	require.Equal(t, Idle, r.m.State())
}

func TestManager_EnrollEndSlot(t *testing.T) {
	tests := []struct {
		name    string
		slot    int32
		wantID  uint32
		wantErr error
	}{
		{"last valid slot", 4, 0x44, nil},
		{"slot past the table", 5, 0, tz.ErrProtocol},
		{"negative slot", -1, 0, tz.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := initRig(t, nil)
			require.NoError(t, r.m.EnrollStart(0))

			r.rt.SetHook(plainOverride(func(cmd uint32, in int32) (int32, bool) {
				switch {
				case cmd == info.CmdEnrollEnd:
					return tt.slot, true
				case cmd == info.CmdGetPrintID && in == 4:
					return 0x44, true
				}

				return 0, false
			}))

			id, err := r.m.EnrollEnd()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			require.Equal(t, tt.wantID, id)
			require.Equal(t, Idle, r.m.State())
		})
	}
}

func TestManager_EnrollEndTransportKeepsEnrollment(t *testing.T) {
	r := initRig(t, nil)
	require.NoError(t, r.m.EnrollStart(0))

	r.rt.FailCommand(info.CmdEnrollEnd, errors.New("ioctl failed"))
	_, err := r.m.EnrollEnd()
	require.ErrorIs(t, err, tz.ErrTransport)
	require.Equal(t, Enrolling, r.m.State())
}

func TestManager_EnrollStepKeepsTouch(t *testing.T) {
	r := initRig(t, nil)
	require.NoError(t, r.m.EnrollStart(0))

	errTouches := errors.New("ioctl failed")
	r.rt.FailCommand(info.CmdGetRemainingTouches, errTouches)

	_, err := r.m.EnrollStep()
	require.ErrorIs(t, err, ErrRemainingTouches)
	require.ErrorIs(t, err, tz.ErrTransport)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, Enrolling, r.m.State())

	r.rt.FailCommand(info.CmdGetRemainingTouches, nil)

	left, err := r.m.RemainingTouches()
	require.NoError(t, err)
	require.Equal(t, uint32(2), left)
}

func TestManager_EnrollStepRejected(t *testing.T) {
	r := initRig(t, nil)
	require.NoError(t, r.m.EnrollStart(0))

	r.rt.SetHook(plainOverride(func(cmd uint32, _ int32) (int32, bool) {
		return -3, cmd == info.CmdEnrollStep
	}))

	_, err := r.m.EnrollStep()
	require.ErrorIs(t, err, tz.ErrSecureRejected)
	require.NotErrorIs(t, err, ErrRemainingTouches)
	require.Equal(t, Enrolling, r.m.State())
}

func TestManager_InvalidState(t *testing.T) {
	r := initRig(t, nil)

	_, err := r.m.EnrollStep()
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = r.m.EnrollEnd()
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = r.m.RemainingTouches()
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = r.m.AuthStep()
	require.ErrorIs(t, err, ErrInvalidState)

	require.ErrorIs(t, r.m.AuthEnd(), ErrInvalidState)

	require.NoError(t, r.m.EnrollStart(0))
	require.ErrorIs(t, r.m.EnrollStart(0), ErrInvalidState)
	require.ErrorIs(t, r.m.AuthStart(), ErrInvalidState)
	require.Equal(t, Enrolling, r.m.State())
}
