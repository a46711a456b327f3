package sim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fpc-kitakami/fpcd/tz/types"
)

var dbMagic = [4]byte{'F', 'P', 'D', 'B'}

var ErrBadDatabase = errors.New("malformed template database")

type dbHeader struct {
	Magic [4]byte
	DBID  int64
	Next  uint32
	Count uint32
}

type dbEntry struct {
	Slot   uint32
	ID     uint32
	Length uint32
}

// marshal serializes every stored template.
func (f *Fingerprint) marshal() []byte {
	b := &bytes.Buffer{}

	binary.Write(b, binary.LittleEndian, dbHeader{
		Magic: dbMagic,
		DBID:  f.dbID,
		Next:  f.nextID,
		Count: f.count(),
	})

	for i, t := range f.slots {
		if t == nil {
			continue
		}

		binary.Write(b, binary.LittleEndian, dbEntry{
			Slot:   uint32(i),
			ID:     t.id,
			Length: uint32(len(t.data)),
		})
		b.Write(t.data)
	}

	return b.Bytes()
}

// unmarshal replaces every stored template with the content of data. Nothing
// is replaced when data is malformed.
func (f *Fingerprint) unmarshal(data []byte) error {
	r := bytes.NewReader(data)

	var h dbHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("header: %v, %w", err, ErrBadDatabase)
	}

	if h.Magic != dbMagic || h.Count > types.MaxPrints {
		return ErrBadDatabase
	}

	var slots [types.MaxPrints]*template

	for i := uint32(0); i < h.Count; i++ {
		var e dbEntry
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return fmt.Errorf("entry %d: %v, %w", i, err, ErrBadDatabase)
		}

		if e.Slot >= types.MaxPrints || int64(e.Length) > int64(r.Len()) {
			return fmt.Errorf("entry %d out of bounds, %w", i, ErrBadDatabase)
		}

		t := &template{id: e.ID, data: make([]byte, e.Length)}
		if _, err := io.ReadFull(r, t.data); err != nil {
			return fmt.Errorf("entry %d: %v, %w", i, err, ErrBadDatabase)
		}

		slots[e.Slot] = t
	}

	f.slots = slots
	f.dbID = h.DBID
	f.nextID = h.Next

	return nil
}
