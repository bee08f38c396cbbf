package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidlao2k/m18-protocol/internal/transport"
)

// Error kinds. Use errors.Is against these; concrete errors are
// *ExchangeError values wrapping one of them.
var (
	// ErrTransportUnavailable: the link is closed or broken. Fatal to the
	// session; the channel disconnects itself.
	ErrTransportUnavailable = transport.ErrUnavailable

	// ErrHandshakeFailed: the reset sync byte was not echoed. Retry reset.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrChecksumMismatch: the reply's trailing checksum is wrong.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrShortRead: fewer bytes arrived than the exchange expects.
	ErrShortRead = errors.New("short read")

	// ErrUnsupported: the pack answered with the short 0x82 marker or an
	// unexpected header.
	ErrUnsupported = errors.New("unsupported request")

	// ErrExchangeInFlight: a command was sent while a reply is outstanding.
	ErrExchangeInFlight = errors.New("exchange already in flight")
)

// ExchangeError describes a failed exchange.
type ExchangeError struct {
	Op      string
	Address uint16
	HasAddr bool
	Kind    error
	Detail  string
}

func (e *ExchangeError) Error() string {
	msg := e.Op
	if e.HasAddr {
		msg += fmt.Sprintf(" 0x%04X", e.Address)
	}
	msg += ": " + e.Kind.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap returns the error kind.
func (e *ExchangeError) Unwrap() error {
	return e.Kind
}

func opError(op string, kind error, format string, args ...any) *ExchangeError {
	return &ExchangeError{Op: op, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func addrError(op string, addr uint16, kind error, format string, args ...any) *ExchangeError {
	return &ExchangeError{Op: op, Address: addr, HasAddr: true, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err must stop a sweep: a lost link or a cancelled
// context. Everything else is local to one field.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransportUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Kind returns a short snake_case name for the error kind, used as a
// metrics label and in reports.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTransportUnavailable):
		return "transport_unavailable"
	case errors.Is(err, ErrHandshakeFailed):
		return "handshake_failed"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrShortRead):
		return "short_read"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrExchangeInFlight):
		return "in_flight"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
