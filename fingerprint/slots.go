package fingerprint

import (
	"fmt"

	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz"
	"github.com/fpc-kitakami/fpcd/tz/client"
	"github.com/fpc-kitakami/fpcd/tz/types"
)

// IndexSet lists the trustlet slots holding a template. Slot numbers are
// internal; PrintID turns them into stable identifiers.
type IndexSet struct {
	Prints [types.MaxPrints]uint32
	Count  uint32
}

// Slots returns the occupied part of Prints.
func (s IndexSet) Slots() []uint32 {
	n := s.Count
	if n > types.MaxPrints {
		n = types.MaxPrints
	}

	return s.Prints[:n]
}

func printCount(s *client.Session) (uint32, error) {
	n, err := s.SendPlain(info.CmdGetIDCount, 0)
	if err != nil {
		return 0, err
	}

	if n < 0 || n > types.MaxPrints {
		return 0, fmt.Errorf("print count %d, %w", n, tz.ErrProtocol)
	}

	return uint32(n), nil
}

func printSlots(s *client.Session, count uint32) (IndexSet, error) {
	var resp types.IndexList

	err := s.Exchange(info.CmdGetIDList, types.Plain{
		Cmd:    info.CmdGetIDList,
		Value:  int32(count),
		Length: count,
	}, &resp)
	if err != nil {
		return IndexSet{}, err
	}

	if resp.Count > types.MaxPrints {
		return IndexSet{}, fmt.Errorf("index list holds %d prints, %w", resp.Count, tz.ErrProtocol)
	}

	return IndexSet{
		Prints: resp.Prints,
		Count:  resp.Count,
	}, nil
}

func printID(s *client.Session, slot uint32) (uint32, error) {
	id, err := s.SendPlain(info.CmdGetPrintID, int32(slot))
	if err != nil {
		return 0, err
	}

	if id < 0 {
		return 0, fmt.Errorf("slot %d resolved to %d, %w", slot, id, tz.ErrSecureRejected)
	}

	return uint32(id), nil
}

// enrolledSlots fetches the print count, then the index set for it.
func enrolledSlots(s *client.Session) (IndexSet, error) {
	count, err := printCount(s)
	if err != nil {
		return IndexSet{}, err
	}

	return printSlots(s, count)
}

// PrintCount returns how many templates the trustlet holds.
func (m *Manager) PrintCount() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return 0, err
	}

	return printCount(s)
}

// PrintSlots returns the raw slot numbers of up to count templates.
func (m *Manager) PrintSlots(count uint32) (IndexSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return IndexSet{}, err
	}

	return printSlots(s, count)
}

// PrintID resolves a slot to its stable print identifier.
func (m *Manager) PrintID(slot uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return 0, err
	}

	return printID(s, slot)
}

// PrintIDs returns the identifier of every enrolled template, resolving one
// slot per round trip.
func (m *Manager) PrintIDs() ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return nil, err
	}

	set, err := enrolledSlots(s)
	if err != nil {
		return nil, err
	}

	ids := make([]uint32, 0, set.Count)
	for _, slot := range set.Slots() {
		id, err := printID(s, slot)
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// DeletePrint removes the template whose identifier is id. It does not
// depend on, nor change, the enrollment/authentication state.
func (m *Manager) DeletePrint(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.session()
	if err != nil {
		return err
	}

	set, err := enrolledSlots(s)
	if err != nil {
		return err
	}

	m.l.Infow("delete print", "id", id, "count", set.Count)

	for i, slot := range set.Slots() {
		pid, err := printID(s, slot)
		if err != nil {
			return err
		}

		if pid != id {
			continue
		}

		m.l.Debugw("print index found", "index", i, "slot", slot)

		ret, err := s.SendPlain(info.CmdDelPrint, int32(slot))
		if err != nil {
			return err
		}

		if ret != 0 {
			return fmt.Errorf("delete slot %d returned %d, %w", slot, ret, tz.ErrSecureRejected)
		}

		return nil
	}

	return fmt.Errorf("print %d, %w", id, ErrNotFound)
}
