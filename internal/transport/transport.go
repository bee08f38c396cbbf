// Package transport defines the byte-level link between the host and a
// battery pack, and an in-memory emulated pack for tests and dry runs.
package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable reports that the link is not open or was lost.
var ErrUnavailable = errors.New("transport unavailable")

// ControlLine names a modem-control or line-state signal.
type ControlLine int

const (
	// Break holds TX in the spacing (low) state.
	Break ControlLine = iota
	// DTR is the data-terminal-ready output.
	DTR
	// RTS is the request-to-send output.
	RTS
)

func (c ControlLine) String() string {
	switch c {
	case Break:
		return "BREAK"
	case DTR:
		return "DTR"
	case RTS:
		return "RTS"
	default:
		return fmt.Sprintf("ControlLine(%d)", int(c))
	}
}

// Transport is the capability the command channel needs from a serial link.
//
// Read blocks for at most the configured timeout and may return fewer than n
// bytes (or none) when the pack stays silent; that is not an error. Errors
// are reserved for a closed or broken link and wrap ErrUnavailable.
type Transport interface {
	// Open acquires the link. Opening an open transport is a no-op.
	Open() error

	// Close releases the link.
	Close() error

	// Write sends wire bytes as-is.
	Write(p []byte) error

	// Read returns up to n wire bytes.
	Read(n int) ([]byte, error)

	// SetControlLine drives a control line on or off.
	SetControlLine(line ControlLine, on bool) error

	// FlushInput discards bytes received but not yet read.
	FlushInput() error

	// String returns a human-readable description of the transport.
	String() string
}

// Options configures a serial transport.
type Options struct {
	Baud        int           // Line speed; the pack only speaks 4800
	ReadTimeout time.Duration // Upper bound on a single Read
	Exclusive   bool          // Take an advisory lock on the device node
}

// DefaultOptions returns the line settings the pack expects: 4800 baud,
// 8 data bits, no parity, 2 stop bits, with a 0.8 s read timeout.
func DefaultOptions() Options {
	return Options{
		Baud:        4800,
		ReadTimeout: 800 * time.Millisecond,
		Exclusive:   true,
	}
}

// Unavailable wraps err (which may be nil) so that errors.Is(err,
// ErrUnavailable) holds.
func Unavailable(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
