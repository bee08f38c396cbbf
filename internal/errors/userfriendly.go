package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/davidlao2k/m18-protocol/internal/decoder"
	"github.com/davidlao2k/m18-protocol/internal/session"
)

// wiringHint is the adapter hookup shown whenever the pack does not answer.
const wiringHint = "UART-TX to J2, UART-RX to J1, GND to the pack's negative terminal; the pack must be off the charger"

// UserFriendlyError provides user-friendly error messages with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// WrapTransportError wraps serial link errors with user-friendly context
func WrapTransportError(err error, port string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to talk to the pack on %s", port),
		Reason:  extractTransportReason(err),
		Hint:    "Check the adapter wiring: " + wiringHint,
		Try:     fmt.Sprintf("m18 reset --port %s", port),
		Err:     err,
	}
}

// WrapHandshakeError wraps a reset that never got its sync echo
func WrapHandshakeError(err error, port string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Pack on %s did not answer the reset", port),
		Reason:  "The sync byte was not echoed",
		Hint:    "The pack may be asleep or the TX/RX lines swapped: " + wiringHint,
		Try:     fmt.Sprintf("m18 idle --port %s, reseat the pack, then m18 reset --port %s", port, port),
		Err:     err,
	}
}

// WrapProtocolError wraps a failed exchange with the pack
func WrapProtocolError(err error, operation string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Pack exchange failed: %s", operation),
		Reason:  extractProtocolReason(err),
		Hint:    "Noise on the line or an unsupported register; a retry usually clears checksum errors",
		Try:     "Run again with --log-level debug to see the raw frames",
		Err:     err,
	}
}

// WrapConfigError wraps configuration errors with user-friendly context
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "Settings can also be given as M18_* environment variables",
		Try:     "m18 config show to print the effective configuration",
		Err:     err,
	}
}

// Wrap picks the wrapper matching err's kind.
func Wrap(err error, port, operation string) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, session.ErrTransportUnavailable):
		return WrapTransportError(err, port)
	case stderrors.Is(err, session.ErrHandshakeFailed):
		return WrapHandshakeError(err, port)
	case stderrors.Is(err, session.ErrChecksumMismatch),
		stderrors.Is(err, session.ErrShortRead),
		stderrors.Is(err, session.ErrUnsupported),
		stderrors.Is(err, session.ErrExchangeInFlight),
		stderrors.Is(err, decoder.ErrDecode):
		return WrapProtocolError(err, operation)
	}
	return err
}

func extractTransportReason(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "no such file") {
		return "Serial device not found - adapter unplugged or wrong port name"
	}
	if strings.Contains(errStr, "permission denied") {
		return "Permission denied - add your user to the dialout group"
	}
	if strings.Contains(errStr, "in use") {
		return "Port is held by another process"
	}
	if strings.Contains(errStr, "input/output error") {
		return "Adapter disconnected during the exchange"
	}

	return "Serial link unavailable"
}

func extractProtocolReason(err error) string {
	switch {
	case stderrors.Is(err, session.ErrChecksumMismatch):
		return "Reply failed its checksum"
	case stderrors.Is(err, session.ErrShortRead):
		return "Pack replied with fewer bytes than expected"
	case stderrors.Is(err, session.ErrUnsupported):
		return "Pack refused the request"
	case stderrors.Is(err, session.ErrExchangeInFlight):
		return "A previous reply was never read"
	case stderrors.Is(err, decoder.ErrDecode):
		return "Reply could not be decoded"
	}
	return "Protocol error occurred"
}
