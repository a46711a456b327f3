package device

import (
	"errors"
	"time"
)

// ErrIRQTimeout is returned by an IRQWaiter when no interrupt arrived in time.
var ErrIRQTimeout = errors.New("irq wait timed out")

// IRQWaiter blocks until the sensor raises its interrupt line.
type IRQWaiter interface {
	// Wait returns nil on interrupt, ErrIRQTimeout when timeout elapsed, or
	// any other error when the wait itself failed.
	Wait(timeout time.Duration) error
}

// SysfsIRQ waits on the sensor's irq attribute file.
type SysfsIRQ struct {
	Path string
}
