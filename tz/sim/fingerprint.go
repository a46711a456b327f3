package sim

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz/types"
)

// DefaultEnrollTouches is how many steps an enrollment needs.
const DefaultEnrollTouches = 3

// sensorInfo is what the sensor reports during bootstrap.
const sensorInfo = 0x1021

const firstPrintID = 0x2a000001

// hatMinSize holds the challenge and the database id.
const hatMinSize = 16

type template struct {
	id   uint32
	data []byte
}

// Fingerprint simulates the fingerprint trustlet: template slots, enrollment
// and authentication state, and the template database blob.
type Fingerprint struct {
	mu sync.Mutex

	// FingerState is returned by the finger-lost query.
	FingerState int32
	// WakeType is returned by the wake type query.
	WakeType int32
	// EnrollTouches is how many steps a new enrollment needs.
	EnrollTouches uint32
	// NoMatch makes every auth step report an unusable capture.
	NoMatch bool

	slots      [types.MaxPrints]*template
	initData   []byte
	ready      bool
	enrolling  bool
	touches    uint32
	authSet    []uint32
	nextID     uint32
	challenge  int64
	dbID       int64
	captures   int
	lastVerify []byte
}

// NewFingerprint returns an empty, uninitialized fingerprint trustlet.
func NewFingerprint() *Fingerprint {
	return &Fingerprint{
		FingerState:   info.FingerWaitTouch,
		WakeType:      info.WakeTypeFinger,
		EnrollTouches: DefaultEnrollTouches,
		nextID:        firstPrintID,
		dbID:          0x5eed,
	}
}

func (f *Fingerprint) Name() string {
	return info.FingerprintTrustletName
}

func (f *Fingerprint) Commands() []uint32 {
	return []uint32{
		info.CmdInit,
		info.CmdGetInitState,
		info.CmdInitUnk0,
		info.CmdInitUnk1,
		info.CmdInitUnk2,
		info.CmdInitNewDB,
		info.CmdSetFPStore,
		info.CmdSetInitData,
		info.CmdChkFPLost,
		info.CmdSetWake,
		info.CmdGetWakeType,
		info.CmdCaptureImage,
		info.CmdEnrollStart,
		info.CmdEnrollStep,
		info.CmdEnrollEnd,
		info.CmdGetRemainingTouches,
		info.CmdAuthStart,
		info.CmdAuthStep,
		info.CmdAuthEnd,
		info.CmdGetIDCount,
		info.CmdGetIDList,
		info.CmdGetPrintID,
		info.CmdDelPrint,
		info.CmdGetDBLength,
		info.CmdGetDBData,
		info.CmdSetDBData,
		info.CmdSetAuthChallenge,
		info.CmdGetAuthChallenge,
		info.CmdVerifyAuthChallenge,
		info.CmdGetAuthHAT,
		info.CmdGetDBID,
	}
}

// Enroll stores a template directly, bypassing the enrollment flow, and
// returns its print identifier.
func (f *Fingerprint) Enroll(slot int, data []byte) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if slot < 0 || slot >= types.MaxPrints {
		return 0, fmt.Errorf("slot %d out of range", slot)
	}

	f.slots[slot] = &template{id: f.nextID, data: data}
	f.nextID++

	return f.slots[slot].id, nil
}

// Captures returns how many images were captured.
func (f *Fingerprint) Captures() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.captures
}

// Enrolled returns the identifiers of all stored templates, by slot.
func (f *Fingerprint) Enrolled() map[int]uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	ret := map[int]uint32{}
	for i, t := range f.slots {
		if t != nil {
			ret[i] = t.id
		}
	}

	return ret
}

// VerifiedToken returns the last auth token handed in for verification.
func (f *Fingerprint) VerifiedToken() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastVerify
}

func (f *Fingerprint) Handle(cmd uint32, req, resp, shared []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd {
	case info.CmdSetInitData, info.CmdGetDBData, info.CmdSetDBData, info.CmdGetAuthHAT, info.CmdVerifyAuthChallenge:
		return f.handleBuffer(cmd, req, resp, shared)
	case info.CmdEnrollStart:
		return f.handleEnrollStart(req, resp)
	case info.CmdAuthStart:
		return f.handleAuthStart(req, resp)
	case info.CmdAuthStep:
		return f.handleAuthStep(resp)
	case info.CmdGetIDList:
		return f.handleIDList(resp)
	case info.CmdGetAuthChallenge:
		return reply(resp, types.Wide{Cmd: cmd, Value: f.challenge})
	case info.CmdGetDBID:
		return reply(resp, types.Wide{Cmd: cmd, Value: f.dbID})
	}

	var r types.Plain
	if err := types.Decode(req, &r); err != nil {
		return err
	}

	return reply(resp, types.Plain{Cmd: cmd, Value: f.plain(cmd, r.Value)})
}

func (f *Fingerprint) plain(cmd uint32, in int32) int32 {
	switch cmd {
	case info.CmdInit:
		if len(f.initData) == 0 {
			return -1
		}

		f.ready = true

		return 0
	case info.CmdGetInitState:
		if !f.ready {
			return -1
		}

		return 0
	case info.CmdInitUnk1:
		return info.InitUnk1Expected
	case info.CmdInitUnk0:
		return sensorInfo
	case info.CmdInitUnk2, info.CmdInitNewDB, info.CmdSetFPStore, info.CmdSetWake, info.CmdAuthEnd:
		return 0
	case info.CmdChkFPLost:
		return f.FingerState
	case info.CmdGetWakeType:
		return f.WakeType
	case info.CmdCaptureImage:
		f.captures++
		return 0
	case info.CmdEnrollStep:
		if !f.enrolling {
			return -1
		}

		if f.touches > 0 {
			f.touches--
		}

		return 0
	case info.CmdGetRemainingTouches:
		if !f.enrolling {
			return -1
		}

		return int32(f.touches)
	case info.CmdEnrollEnd:
		return f.enrollEnd()
	case info.CmdGetIDCount:
		return int32(f.count())
	case info.CmdGetPrintID:
		if in < 0 || int(in) >= types.MaxPrints || f.slots[in] == nil {
			return -1
		}

		return int32(f.slots[in].id)
	case info.CmdDelPrint:
		if in < 0 || int(in) >= types.MaxPrints || f.slots[in] == nil {
			return -1
		}

		f.slots[in] = nil

		return 0
	case info.CmdGetDBLength:
		return int32(len(f.marshal()))
	case info.CmdSetAuthChallenge:
		f.challenge++
		return 0
	}

	return -1
}

func (f *Fingerprint) count() uint32 {
	var n uint32
	for _, t := range f.slots {
		if t != nil {
			n++
		}
	}

	return n
}

func (f *Fingerprint) freeSlot() int {
	for i, t := range f.slots {
		if t == nil {
			return i
		}
	}

	return -1
}

func (f *Fingerprint) handleEnrollStart(req, resp []byte) error {
	var r types.EnrollStart
	if err := types.Decode(req, &r); err != nil {
		return err
	}

	ret := int32(0)

	switch {
	case r.Magic != info.EnrollStartMagic:
		ret = -1
	case f.freeSlot() < 0:
		ret = -2
	default:
		f.enrolling = true
		f.touches = f.EnrollTouches
	}

	return reply(resp, types.Plain{Cmd: r.Cmd, Value: ret})
}

func (f *Fingerprint) enrollEnd() int32 {
	if !f.enrolling || f.touches > 0 {
		return -1
	}

	slot := f.freeSlot()
	if slot < 0 {
		return -1
	}

	f.enrolling = false
	f.slots[slot] = &template{
		id:   f.nextID,
		data: []byte(fmt.Sprintf("template-%08x", f.nextID)),
	}
	f.nextID++

	return int32(slot)
}

func (f *Fingerprint) handleIDList(resp []byte) error {
	l := types.IndexList{Cmd: info.CmdGetIDList}

	for i, t := range f.slots {
		if t == nil {
			continue
		}

		l.Prints[l.Count] = uint32(i)
		l.Count++
	}

	return reply(resp, l)
}

func (f *Fingerprint) handleAuthStart(req, resp []byte) error {
	var r types.IndexList
	if err := types.Decode(req, &r); err != nil {
		return err
	}

	ret := int32(0)
	if r.Count > types.MaxPrints {
		ret = -1
	} else {
		f.authSet = append([]uint32{}, r.Prints[:r.Count]...)
	}

	return reply(resp, types.Plain{Cmd: r.Cmd, Value: ret})
}

func (f *Fingerprint) handleAuthStep(resp []byte) error {
	r := types.AuthStep{Cmd: info.CmdAuthStep, Value: 1}

	if !f.NoMatch {
		for _, slot := range f.authSet {
			if int(slot) < types.MaxPrints && f.slots[slot] != nil {
				r.Value = info.AuthStepMinMatch
				r.ID = slot
				break
			}
		}
	}

	return reply(resp, r)
}

// handleBuffer serves BufferRef commands. The response echoes the address
// back as zero on success, and leaves it set on rejection.
func (f *Fingerprint) handleBuffer(cmd uint32, req, resp, shared []byte) error {
	var r types.BufferRef
	if err := types.Decode(req, &r); err != nil {
		return err
	}

	ok := int(r.Length) == len(shared)

	if ok {
		switch cmd {
		case info.CmdSetInitData:
			ok = len(shared) > 0
			f.initData = append([]byte{}, shared...)
		case info.CmdGetDBData:
			db := f.marshal()
			ok = len(shared) >= len(db)
			copy(shared, db)
		case info.CmdSetDBData:
			ok = f.unmarshal(shared) == nil
		case info.CmdGetAuthHAT:
			ok = f.ready && len(shared) >= hatMinSize
			if ok {
				binary.LittleEndian.PutUint64(shared[0:], uint64(f.challenge))
				binary.LittleEndian.PutUint64(shared[8:], uint64(f.dbID))
			}
		case info.CmdVerifyAuthChallenge:
			f.lastVerify = append([]byte{}, shared...)
		}
	}

	ret := types.BufferRef{Cmd: cmd}
	if !ok {
		ret.Address = r.Address
	}

	return reply(resp, ret)
}
