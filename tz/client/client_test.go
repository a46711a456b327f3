package client_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/fpc-kitakami/fpcd/tz/client"
	"github.com/fpc-kitakami/fpcd/tz/sim"
	"github.com/fpc-kitakami/fpcd/tz/types"
	"github.com/stretchr/testify/require"
)

const (
	cmdPut uint32 = iota + 1
	cmdGet
	cmdReject
	cmdNegative
	cmdWide
)

// store keeps the last buffer it was handed and gives it back on request.
type store struct {
	data []byte
}

func (s *store) Name() string {
	return "store"
}

func (s *store) Commands() []uint32 {
	return []uint32{cmdPut, cmdGet, cmdReject, cmdNegative, cmdWide}
}

func (s *store) Handle(cmd uint32, req, resp, shared []byte) error {
	var out interface{}

	switch cmd {
	case cmdPut:
		s.data = append([]byte(nil), shared...)
		out = types.BufferRef{Cmd: cmd}
	case cmdGet:
		copy(shared, s.data)
		out = types.BufferRef{Cmd: cmd}
	case cmdReject:
		out = types.BufferRef{Cmd: cmd, Address: binary.LittleEndian.Uint32(req[types.AddressOffset:])}
	case cmdNegative:
		out = types.Plain{Cmd: cmd, Value: -22}
	case cmdWide:
		var in types.Wide
		if err := types.Decode(req, &in); err != nil {
			return err
		}
		out = types.Wide{Cmd: cmd, Value: in.Value * 2}
	}

	slot, err := types.Encode(out)
	if err != nil {
		return err
	}
	copy(resp, slot[:])

	return nil
}

func session(t *testing.T) (*sim.Runtime, *client.Session) {
	t.Helper()

	rt := sim.New(nil)
	require.NoError(t, rt.Register(&store{}))

	h, err := rt.LoadTrustlet("/firmware/image", "store", 1024)
	require.NoError(t, err)

	s, err := client.NewSession(rt, h, 1024, nil)
	require.NoError(t, err)
	require.Equal(t, h, s.Handle())

	return rt, s
}

func TestNewSession_SmallBuffer(t *testing.T) {
	_, err := client.NewSession(sim.New(nil), 1, 100, nil)
	require.Error(t, err)
}

func TestSession_BufferRoundTrip(t *testing.T) {
	rt, s := session(t)

	payload := []byte("fpc template database")
	require.NoError(t, s.SendWithBuffer(cmdPut, payload))

	got, err := s.FetchWithBuffer(cmdGet, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.Equal(t, 2, rt.Allocs())
	require.Equal(t, 2, rt.Frees())
	require.Zero(t, rt.Outstanding())
}

func TestSession_BuffersReleasedOnEveryPath(t *testing.T) {
	tests := []struct {
		name    string
		cmd     uint32
		fail    error
		wantErr error
	}{
		{"success", cmdPut, nil, nil},
		{"transport failure", cmdPut, errors.New("ioctl failed"), tz.ErrTransport},
		{"rejected", cmdReject, nil, tz.ErrSecureRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, s := session(t)
			rt.FailCommand(tt.cmd, tt.fail)

			err := s.SendWithBuffer(tt.cmd, []byte{1, 2, 3})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			_, err = s.FetchWithBuffer(tt.cmd, 16)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			require.Equal(t, 2, rt.Allocs())
			require.Equal(t, rt.Allocs(), rt.Frees())
			require.Zero(t, rt.Outstanding())
		})
	}
}

func TestSession_AllocationFailure(t *testing.T) {
	rt, s := session(t)
	rt.FailAlloc(errors.New("out of ion memory"))

	require.ErrorIs(t, s.SendWithBuffer(cmdPut, []byte{1}), tz.ErrAllocationFailed)
	require.Empty(t, rt.Calls())
}

func TestSession_SendPlain(t *testing.T) {
	rt, s := session(t)

	v, err := s.SendPlain(cmdNegative, 0)
	require.NoError(t, err)
	require.Equal(t, int32(-22), v)

	rt.FailCommand(cmdNegative, errors.New("ioctl failed"))
	_, err = s.SendPlain(cmdNegative, 0)
	require.ErrorIs(t, err, tz.ErrTransport)
}

func TestSession_SendWide(t *testing.T) {
	_, s := session(t)

	v, err := s.SendWide(cmdWide, 1<<40)
	require.NoError(t, err)
	require.Equal(t, int64(1<<41), v)
}

func TestSession_SetBandwidth(t *testing.T) {
	rt, s := session(t)

	require.NoError(t, s.SetBandwidth(true))
	require.NoError(t, s.SetBandwidth(false))
	require.Equal(t, []bool{true, false}, rt.Bandwidth())
}
