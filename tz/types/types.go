// Package types holds the fixed-layout command records exchanged with the
// fingerprint and key-management trustlets.
package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// SlotSize is the size of a request or response slot, regardless of the
// record shape it carries.
const SlotSize = 64

// MaxPrints is the number of template slots held by the trustlet.
const MaxPrints = 5

var ErrRecordTooLarge = errors.New("record does not fit in slot")
var ErrShortSlot = errors.New("slot too short for record")

// Slot is one request or response area.
type Slot [SlotSize]byte

// Plain carries a single 32-bit scalar in and out.
type Plain struct {
	Cmd    uint32 // 4 bytes
	Value  int32  // 4 bytes
	Length uint32 // 4 bytes
}

// Wide carries a single 64-bit scalar in and out.
type Wide struct {
	Cmd      uint32 // 4 bytes
	Reserved uint32 // 4 bytes, keeps Value 8-aligned
	Value    int64  // 8 bytes
}

// BufferRef describes a separately allocated shared buffer. The record itself
// carries no payload bytes.
type BufferRef struct {
	Cmd      uint32 // 4 bytes
	Address  uint32 // 4 bytes, at AddressOffset
	Length   uint32 // 4 bytes
	Reserved uint32 // 4 bytes
}

// AddressOffset is where BufferRef.Address sits inside the slot. The secure
// runtime patches the mapped address in at this offset.
const AddressOffset = 4

// EnrollStart opens an enrollment in the given print slot.
type EnrollStart struct {
	Cmd        uint32 // 4 bytes
	Value      int32  // 4 bytes
	Magic      uint32 // 4 bytes
	PrintIndex int32  // 4 bytes
}

// IndexList carries the raw slot numbers of enrolled prints. It is the
// response shape of the id list query and the request shape of auth start.
type IndexList struct {
	Cmd    uint32            // 4 bytes
	Value  int32             // 4 bytes
	Prints [MaxPrints]uint32 // 20 bytes
	Count  uint32            // 4 bytes
}

// AuthStep is the response shape of an authentication step.
type AuthStep struct {
	Cmd   uint32 // 4 bytes
	Value int32  // 4 bytes
	ID    uint32 // 4 bytes
}

// KeymasterHeader prefixes the key-management trustlet's certificate reply.
// Length bytes of data follow it directly.
type KeymasterHeader struct {
	Cmd    uint32 // 4 bytes
	Value  uint32 // 4 bytes
	Length uint32 // 4 bytes
}

// Encode serializes rec into a zero-filled slot.
func Encode(rec interface{}) (Slot, error) {
	var s Slot

	size := binary.Size(rec)
	if size < 0 {
		return s, fmt.Errorf("cannot encode %T", rec)
	}

	if size > SlotSize {
		return s, fmt.Errorf("%T is %d bytes, %w", rec, size, ErrRecordTooLarge)
	}

	b := &bytes.Buffer{}
	if err := binary.Write(b, binary.LittleEndian, rec); err != nil {
		return s, fmt.Errorf("cannot encode %T, %w", rec, err)
	}

	copy(s[:], b.Bytes())

	return s, nil
}

// Decode reads a record from the head of data into dest, which must be a
// pointer to one of the record types.
func Decode(data []byte, dest interface{}) error {
	size := binary.Size(dest)
	if size < 0 {
		return fmt.Errorf("cannot decode into %T", dest)
	}

	if len(data) < size {
		return fmt.Errorf("%T needs %d bytes, have %d, %w", dest, size, len(data), ErrShortSlot)
	}

	if err := binary.Read(bytes.NewReader(data[:size]), binary.LittleEndian, dest); err != nil {
		return fmt.Errorf("invalid data, %w", err)
	}

	return nil
}

// DecodeKeymaster splits a certificate reply into its header and the blob
// following it.
func DecodeKeymaster(data []byte) (KeymasterHeader, []byte, error) {
	var h KeymasterHeader
	if err := Decode(data, &h); err != nil {
		return h, nil, err
	}

	start := binary.Size(h)
	if uint64(h.Length) > uint64(len(data)-start) {
		return h, nil, fmt.Errorf("blob length %d exceeds %d available bytes, %w", h.Length, len(data)-start, ErrShortSlot)
	}

	blob := make([]byte, h.Length)
	copy(blob, data[start:start+int(h.Length)])

	return h, blob, nil
}
