package sim

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/fpc-kitakami/fpcd/fpc/info"
	"github.com/fpc-kitakami/fpcd/tz/types"
)

// Keymaster answers the one certificate request the fingerprint driver makes
// at bootstrap.
type Keymaster struct {
	// Cert is the blob handed out. NewKeymaster fills in a fixed one.
	Cert []byte
}

// NewKeymaster returns a Keymaster with a deterministic certificate blob.
func NewKeymaster() *Keymaster {
	sum := sha256.Sum256([]byte("fpc keymaster certificate"))
	cert := append([]byte("KMCERT01"), sum[:]...)

	return &Keymaster{
		Cert: cert,
	}
}

func (k *Keymaster) Name() string {
	return info.KeymasterTrustletName
}

func (k *Keymaster) Commands() []uint32 {
	return []uint32{
		info.KeymasterCmdGetCert,
	}
}

func (k *Keymaster) Handle(cmd uint32, req, resp, _ []byte) error {
	var r types.Plain
	if err := types.Decode(req, &r); err != nil {
		return err
	}

	if r.Value != info.KeymasterCertVariant {
		return fmt.Errorf("unsupported certificate variant %d", r.Value)
	}

	h := types.KeymasterHeader{
		Cmd:    cmd,
		Length: uint32(len(k.Cert)),
	}

	start := binary.Size(h)
	if len(resp) < start+len(k.Cert) {
		return fmt.Errorf("response area of %d bytes cannot hold %d byte certificate", len(resp), len(k.Cert))
	}

	if err := reply(resp, h); err != nil {
		return err
	}

	copy(resp[start:], k.Cert)

	return nil
}
