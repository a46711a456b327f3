// Package info names the fingerprint and key-management trustlets and the
// commands they understand.
package info

const (
	FingerprintTrustletName = "tzfingerprint"
	KeymasterTrustletName   = "keymaster"
	TrustletPath            = "/firmware/image"

	// BufferSize is the command buffer bound to each trustlet.
	BufferSize = 1024
)

// Fingerprint trustlet commands.
const (
	CmdInit                uint32 = 0x01
	CmdGetInitState        uint32 = 0x02
	CmdInitUnk1            uint32 = 0x03
	CmdInitNewDB           uint32 = 0x08
	CmdSetFPStore          uint32 = 0x0E
	CmdInitUnk0            uint32 = 0x17
	CmdInitUnk2            uint32 = 0x1F
	CmdSetInitData         uint32 = 0x26
	CmdChkFPLost           uint32 = 0x09
	CmdSetWake             uint32 = 0x0A
	CmdGetWakeType         uint32 = 0x0B
	CmdCaptureImage        uint32 = 0x05
	CmdEnrollStart         uint32 = 0x10
	CmdEnrollStep          uint32 = 0x11
	CmdEnrollEnd           uint32 = 0x12
	CmdGetRemainingTouches uint32 = 0x13
	CmdAuthStart           uint32 = 0x14
	CmdAuthStep            uint32 = 0x15
	CmdAuthEnd             uint32 = 0x16
	CmdGetIDCount          uint32 = 0x18
	CmdGetIDList           uint32 = 0x19
	CmdGetPrintID          uint32 = 0x1A
	CmdDelPrint            uint32 = 0x1B
	CmdGetDBLength         uint32 = 0x1C
	CmdGetDBData           uint32 = 0x1D
	CmdSetDBData           uint32 = 0x1E
	CmdSetAuthChallenge    uint32 = 0x20
	CmdGetAuthChallenge    uint32 = 0x21
	CmdVerifyAuthChallenge uint32 = 0x22
	CmdGetAuthHAT          uint32 = 0x23
	CmdGetDBID             uint32 = 0x24
)

// Key-management trustlet certificate request.
const (
	KeymasterCmdGetCert  uint32 = 0x205
	KeymasterCertVariant int32  = 0x02
)

// Finger detection states returned by CmdChkFPLost.
const (
	FingerNotNeeded int32 = 2
	FingerWaitLift  int32 = 4
	FingerWaitTouch int32 = 8
)

const (
	// WakeTypeFinger is the CmdGetWakeType reply meaning a finger is down.
	WakeTypeFinger int32 = 3

	// InitUnk1Expected is the only CmdInitUnk1 reply that lets bootstrap go on.
	InitUnk1Expected int32 = 12

	// EnrollStartMagic is the fixed third word of an enroll start record.
	EnrollStartMagic uint32 = 0x45

	// EnrollStepArg is the argument sent with every enroll step.
	EnrollStepArg int32 = 0x24

	// AuthStepMinMatch is the lowest auth step reply carrying a slot.
	AuthStepMinMatch int32 = 2

	// CaptureNothing is returned by a capture that found nothing to report.
	// It sits above the vendor error base so callers do not alert the user.
	CaptureNothing int32 = 1000
)
