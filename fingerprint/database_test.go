package fingerprint

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const dbPath = "/data/fpc/user.db"

func TestManager_StoreLoadDatabase(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	timeNow = func() time.Time {
		return now
	}
	defer func() {
		timeNow = time.Now
	}()

	fs := afero.NewMemMapFs()

	r := initRig(t, fs)
	a, err := r.fp.Enroll(0, []byte("left thumb"))
	require.NoError(t, err)
	b, err := r.fp.Enroll(3, []byte("right index"))
	require.NoError(t, err)

	require.NoError(t, r.m.StoreDatabase(0, dbPath))
	require.NoError(t, r.m.Close())

	exists, err := afero.Exists(fs, dbPath+".tmp")
	require.NoError(t, err)
	require.False(t, exists)

	n := initRig(t, fs)
	require.Empty(t, n.fp.Enrolled())

	require.NoError(t, n.m.LoadDatabase(dbPath))
	require.Equal(t, map[int]uint32{0: a, 3: b}, n.fp.Enrolled())

	ids, err := n.m.PrintIDs()
	require.NoError(t, err)
	require.Equal(t, []uint32{a, b}, ids)

	require.Zero(t, r.rt.Outstanding())
	require.Zero(t, n.rt.Outstanding())
}

func TestManager_DatabaseLength(t *testing.T) {
	r := initRig(t, nil)

	empty, err := r.m.DatabaseLength()
	require.NoError(t, err)

	_, err = r.fp.Enroll(1, []byte("template"))
	require.NoError(t, err)

	full, err := r.m.DatabaseLength()
	require.NoError(t, err)
	require.Greater(t, full, empty)
}

func TestManager_StoreDatabaseShortLength(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := initRig(t, fs)

	_, err := r.fp.Enroll(0, []byte("template"))
	require.NoError(t, err)

	require.ErrorIs(t, r.m.StoreDatabase(4, dbPath), tz.ErrSecureRejected)

	exists, err := afero.Exists(fs, dbPath)
	require.NoError(t, err)
	require.False(t, exists)
	require.Zero(t, r.rt.Outstanding())
}

func TestManager_LoadDatabaseRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, dbPath, []byte("not a database"), 0600))

	r := initRig(t, fs)
	id, err := r.fp.Enroll(2, []byte("template"))
	require.NoError(t, err)

	require.ErrorIs(t, r.m.LoadDatabase(dbPath), tz.ErrSecureRejected)
	require.Equal(t, map[int]uint32{2: id}, r.fp.Enrolled())
	require.Zero(t, r.rt.Outstanding())
}

func TestManager_LoadDatabaseMissing(t *testing.T) {
	r := initRig(t, nil)
	calls := len(r.rt.Calls())

	require.Error(t, r.m.LoadDatabase(dbPath))
	require.Len(t, r.rt.Calls(), calls)
}

func TestManager_AuthToken(t *testing.T) {
	r := initRig(t, nil)

	require.NoError(t, r.m.SetAuthChallenge(0))
	require.NoError(t, r.m.SetAuthChallenge(0))

	challenge, err := r.m.LoadAuthChallenge()
	require.NoError(t, err)
	require.Equal(t, int64(2), challenge)

	dbID, err := r.m.LoadDatabaseID()
	require.NoError(t, err)
	require.NotZero(t, dbID)

	hat, err := r.m.HardwareAuthToken(32)
	require.NoError(t, err)
	require.Len(t, hat, 32)
	require.Equal(t, uint64(challenge), binary.LittleEndian.Uint64(hat[0:]))
	require.Equal(t, uint64(dbID), binary.LittleEndian.Uint64(hat[8:]))

	require.NoError(t, r.m.VerifyAuthChallenge(hat))
	require.Equal(t, hat, r.fp.VerifiedToken())

	_, err = r.m.HardwareAuthToken(8)
	require.ErrorIs(t, err, tz.ErrSecureRejected)
	require.Zero(t, r.rt.Outstanding())
}
