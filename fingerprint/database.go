package fingerprint

import (
	"encoding/hex"
	"fmt"

	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/fpc-kitakami/fpcd/tz/client"
	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"
)

func digest(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// LoadDatabase replaces the trustlet's template database with the snapshot
// stored at path. The trustlet keeps its current database unless the whole
// snapshot was handed over.
func (m *Manager) LoadDatabase(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return err
	}

	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return fmt.Errorf("error opening file %s, %w", path, err)
	}

	m.l.Infow("loading db", "path", path, "length", len(data), "digest", digest(data))

	start := timeNow()
	if err := s.SendWithBuffer(info.CmdSetDBData, data); err != nil {
		return fmt.Errorf("cannot load db %s, %w", path, err)
	}

	m.l.Debugw("db loaded", "elapsed", timeNow().Sub(start))

	return nil
}

func databaseLength(s *client.Session) (uint32, error) {
	n, err := s.SendPlain(info.CmdGetDBLength, 0)
	if err != nil {
		return 0, err
	}

	if n <= 0 {
		return 0, fmt.Errorf("db length %d, %w", n, tz.ErrProtocol)
	}

	return uint32(n), nil
}

// DatabaseLength returns the size of the trustlet's template database.
func (m *Manager) DatabaseLength() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return 0, err
	}

	return databaseLength(s)
}

// StoreDatabase writes a snapshot of length bytes of the trustlet's template
// database to path. A zero length asks the trustlet for the size first.
// The file is only written once the whole snapshot has been read back, and
// is replaced atomically.
func (m *Manager) StoreDatabase(length uint32, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return err
	}

	if length == 0 {
		if length, err = databaseLength(s); err != nil {
			return err
		}
	}

	data, err := s.FetchWithBuffer(info.CmdGetDBData, int(length))
	if err != nil {
		return fmt.Errorf("cannot read db, %w", err)
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0600); err != nil {
		return fmt.Errorf("error opening file %s, %w", tmp, err)
	}

	if err := m.fs.Rename(tmp, path); err != nil {
		m.fs.Remove(tmp)
		return fmt.Errorf("cannot replace %s, %w", path, err)
	}

	m.l.Infow("db stored", "path", path, "length", len(data), "digest", digest(data))

	return nil
}
