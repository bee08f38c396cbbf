package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/davidlao2k/m18-protocol/internal/frame"
)

// Charger limits sent with configure, in milliamps.
const (
	CutoffCurrent = 300
	MaxCurrent    = 6000
)

// Reply sizes of the session commands.
const (
	configureReplyLen = 5
	snapshotReplyLen  = 8
	keepaliveReplyLen = 9
	calibrateReplyLen = 8

	// header [0x81, 0x00, len] plus the 2-byte checksum
	registerOverhead = 5
	maxRegisterLen   = 255
)

// Note register layout.
const (
	NoteAddress = 0x0023
	NoteLength  = 20
	notePad     = '-'
	opNoteWrite = 0x05
)

// ResetRetry calls Reset up to attempts times and fails with
// ErrHandshakeFailed when the pack never echoes.
func (c *Channel) ResetRetry(ctx context.Context, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := c.Reset()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		c.log.Verbose("reset attempt %d/%d failed", i, attempts)
	}
	return opError("reset", ErrHandshakeFailed, "no sync echo after %d attempts", attempts)
}

// ReadRegister reads length bytes starting at addr and returns the data
// portion of the reply. The reply is validated in order: no reply, 0x82
// refusal, truncated, bad checksum, unexpected header.
func (c *Channel) ReadRegister(addr uint16, length int) ([]byte, error) {
	const op = "read register"
	if length < 1 || length > maxRegisterLen {
		return nil, addrError(op, addr, ErrUnsupported, "length %d out of range 1..%d", length, maxRegisterLen)
	}
	start := c.now()
	data, err := c.readRegister(addr, length)
	c.observe("read", err, start)
	return data, err
}

func (c *Channel) readRegister(addr uint16, length int) ([]byte, error) {
	const op = "read register"
	if err := c.SendCommand(OpRegister, byte(addr>>8), byte(addr), []byte{byte(length)}); err != nil {
		return nil, err
	}
	want := length + registerOverhead
	resp, err := c.ReadResponse(want)
	if err != nil {
		var ee *ExchangeError
		if errors.As(err, &ee) && !IsFatal(err) {
			ee.Op, ee.Address, ee.HasAddr = op, addr, true
		}
		return nil, err
	}

	switch {
	case resp[0] == MarkerShort:
		return nil, addrError(op, addr, ErrUnsupported, "pack refused (%s)", frame.Hex(resp))
	case len(resp) < want:
		return nil, addrError(op, addr, ErrShortRead, "got %d of %d bytes", len(resp), want)
	case !frame.VerifyChecksum(resp):
		return nil, addrError(op, addr, ErrChecksumMismatch, "reply %s", frame.Hex(resp))
	case resp[0] != MarkerOK:
		return nil, addrError(op, addr, ErrUnsupported, "unexpected header 0x%02X", resp[0])
	}
	return resp[3 : 3+length], nil
}

// Raw sends one addressed command and returns the reply unvalidated.
// expect is the number of reply bytes to wait for.
func (c *Channel) Raw(opcode byte, addr uint16, extra []byte, expect int) ([]byte, error) {
	start := c.now()
	if err := c.SendCommand(opcode, byte(addr>>8), byte(addr), extra); err != nil {
		return nil, err
	}
	resp, err := c.ReadResponse(expect)
	c.observe("raw", err, start)
	return resp, err
}

// Configure sends the charger configuration for state. The access code
// returns to its first value beforehand.
func (c *Channel) Configure(state byte) ([]byte, error) {
	c.resetAccessCode()
	payload := []byte{
		OpConfigure, c.AccessCode(), 0x08,
		byte(CutoffCurrent >> 8), byte(CutoffCurrent & 0xFF),
		byte(MaxCurrent >> 8), byte(MaxCurrent & 0xFF),
		byte(MaxCurrent >> 8), byte(MaxCurrent & 0xFF),
		state, 0x0D,
	}
	return c.command("configure", payload, configureReplyLen, false)
}

// Snapshot requests a status snapshot and advances the access code.
func (c *Channel) Snapshot() ([]byte, error) {
	return c.command("snapshot", []byte{OpSnapshot, c.AccessCode(), 0x00}, snapshotReplyLen, true)
}

// Keepalive pings the pack with the current access code.
func (c *Channel) Keepalive() ([]byte, error) {
	return c.command("keepalive", []byte{OpKeepalive, c.AccessCode(), 0x00}, keepaliveReplyLen, false)
}

// Calibrate requests calibration and advances the access code.
func (c *Channel) Calibrate() ([]byte, error) {
	return c.command("calibrate", []byte{OpCalibrate, c.AccessCode(), 0x00}, calibrateReplyLen, true)
}

// command runs a session command. The access code advances once the
// request is on the wire, whatever the reply.
func (c *Channel) command(name string, payload []byte, replyLen int, rotate bool) ([]byte, error) {
	start := c.now()
	resp, err := c.exchange(name, payload, replyLen, rotate)
	c.observe(name, err, start)
	c.log.LogExchange(name, payload, resp, c.now().Sub(start), err)
	return resp, err
}

func (c *Channel) exchange(name string, payload []byte, replyLen int, rotate bool) ([]byte, error) {
	if err := c.send(payload); err != nil {
		return nil, err
	}
	if rotate {
		c.RotateAccessCode()
	}
	resp, err := c.ReadResponse(replyLen)
	if err != nil {
		return nil, err
	}
	switch {
	case resp[0] == MarkerShort:
		return resp, opError(name, ErrUnsupported, "pack refused (%s)", frame.Hex(resp))
	case len(resp) < replyLen:
		return resp, opError(name, ErrShortRead, "got %d of %d bytes", len(resp), replyLen)
	case !frame.VerifyChecksum(resp):
		return resp, opError(name, ErrChecksumMismatch, "reply %s", frame.Hex(resp))
	}
	return resp, nil
}

// WriteNote stores msg in the pack's 20-character note register, padding
// with '-'. The pack is reset first.
func (c *Channel) WriteNote(ctx context.Context, msg string) error {
	if len(msg) > NoteLength {
		return fmt.Errorf("note too long: %d characters (maximum %d)", len(msg), NoteLength)
	}
	for i := 0; i < len(msg); i++ {
		if msg[i] < 0x20 || msg[i] > 0x7E {
			return fmt.Errorf("note contains non-printable or non-ASCII byte 0x%02X at %d", msg[i], i)
		}
	}
	if err := c.ResetRetry(ctx, 1); err != nil {
		c.Quiesce()
		return err
	}

	padded := msg + strings.Repeat(string(notePad), NoteLength-len(msg))
	start := c.now()
	for i := 0; i < NoteLength; i++ {
		if err := ctx.Err(); err != nil {
			c.Quiesce()
			return err
		}
		addr := uint16(NoteAddress + i)
		if err := c.send([]byte{OpRegister, opNoteWrite, framingAddress, byte(addr >> 8), byte(addr), padded[i]}); err != nil {
			c.Quiesce()
			return err
		}
		resp, err := c.ReadResponse(2)
		if err != nil {
			c.observe("note", err, start)
			c.Quiesce()
			return err
		}
		if resp[0] == MarkerShort {
			err := addrError("write note", addr, ErrUnsupported, "pack refused (%s)", frame.Hex(resp))
			c.observe("note", err, start)
			c.Quiesce()
			return err
		}
	}
	c.observe("note", nil, start)
	c.log.Info("note written: %q", padded)
	return nil
}

// Quiesce leaves the line idle if the link is still up. Used after an
// interrupted operation.
func (c *Channel) Quiesce() {
	if !c.connected {
		return
	}
	if err := c.Idle(); err != nil {
		c.log.Verbose("idle after interrupt: %v", err)
	}
}
