//go:build !linux
// +build !linux

package device

import (
	"errors"
	"time"
)

// Wait is only supported on linux.
func (s SysfsIRQ) Wait(_ time.Duration) error {
	return errors.New("irq polling not supported on this platform")
}
