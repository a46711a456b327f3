package device

import (
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Wait blocks until the irq attribute signals a change or timeout elapses.
func (s SysfsIRQ) Wait(timeout time.Duration) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", s.Path, err)
	}
	defer f.Close()

	// sysfs only notifies pollers that read the attribute first
	if _, err := io.ReadAll(f); err != nil {
		return fmt.Errorf("cannot read %s: %w", s.Path, err)
	}

	const events = unix.POLLPRI | unix.POLLERR
	pollFds := []unix.PollFd{
		{Fd: int32(f.Fd()), Events: events},
	}

	n, err := unix.Poll(pollFds, int(timeout/time.Millisecond))
	if err != nil {
		return fmt.Errorf("cannot poll %s: %w", s.Path, err)
	}

	if n == 0 {
		return ErrIRQTimeout
	}

	return nil
}
