//go:build linux

package serialport

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// breakLine holds a descriptor used only for TIOCSBRK and TIOCCBRK. It never
// reads, writes or changes termios.
type breakLine struct {
	fd int
}

func openBreakLine(path string, exclusive bool) (breaker, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if exclusive {
		if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
			_ = unix.Close(fd)
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, fmt.Errorf("%s is in use by another process", path)
			}
			return nil, fmt.Errorf("lock: %w", err)
		}
	}
	return &breakLine{fd: fd}, nil
}

func (b *breakLine) set(on bool) error {
	if b == nil {
		return errors.New("no break descriptor")
	}
	if on {
		return unix.IoctlSetInt(b.fd, unix.TIOCSBRK, 0)
	}
	return unix.IoctlSetInt(b.fd, unix.TIOCCBRK, 0)
}

func (b *breakLine) close() error {
	if b == nil || b.fd < 0 {
		return nil
	}
	fd := b.fd
	b.fd = -1
	return unix.Close(fd)
}
