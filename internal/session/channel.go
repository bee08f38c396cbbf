// Package session implements the command channel to a battery pack.
//
// A Channel owns one transport and the pack's rotating access code. It
// performs the reset handshake, frames and paces every exchange, and keeps
// at most one exchange in flight. A Channel is not safe for concurrent use;
// one physical connection gets one Channel.
package session

import (
	"errors"
	"time"

	"github.com/davidlao2k/m18-protocol/internal/frame"
	"github.com/davidlao2k/m18-protocol/internal/logging"
	"github.com/davidlao2k/m18-protocol/internal/transport"
)

// Wire constants.
const (
	SyncByte = 0xAA

	MarkerOK    = 0x81 // leading byte of a valid reply
	MarkerShort = 0x82 // leading byte of a two-byte refusal

	framingCommand = 0x04
	framingAddress = 0x03
)

// Opcodes.
const (
	OpRegister  = 0x01
	OpCalibrate = 0x55
	OpConfigure = 0x60
	OpSnapshot  = 0x61
	OpKeepalive = 0x62
)

// AccessCodes is the rotation sequence of the session token.
var AccessCodes = [3]byte{0x04, 0x0C, 0x1C}

// Timing holds the pacing the pack requires.
type Timing struct {
	Pulse    time.Duration // each half of the reset line pulse
	Recovery time.Duration // after every response
	Settle   time.Duration // after the sync echo
}

// DefaultTiming returns the pack's pacing: 300 ms pulses, 50 ms recovery
// and a 10 ms settle after the sync echo.
func DefaultTiming() Timing {
	return Timing{
		Pulse:    300 * time.Millisecond,
		Recovery: 50 * time.Millisecond,
		Settle:   10 * time.Millisecond,
	}
}

// Observer receives exchange outcomes, typically a metrics collector.
type Observer interface {
	ObserveExchange(command, result string, d time.Duration)
	ObserveRotation()
}

// Tap receives every chunk of wire bytes, typically a trace recorder.
type Tap interface {
	Tx(wire []byte)
	Rx(wire []byte)
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Channel) { c.log = logging.OrNop(l) }
}

// WithObserver sets the exchange observer.
func WithObserver(o Observer) Option {
	return func(c *Channel) { c.obs = o }
}

// WithTap sets the wire tap.
func WithTap(t Tap) Option {
	return func(c *Channel) { c.tap = t }
}

// WithTiming overrides the pacing.
func WithTiming(t Timing) Option {
	return func(c *Channel) { c.timing = t }
}

// WithSleep replaces time.Sleep, mainly for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Channel) { c.sleep = sleep }
}

// Channel is a command channel over one transport.
type Channel struct {
	t      transport.Transport
	log    *logging.Logger
	obs    Observer
	tap    Tap
	timing Timing
	sleep  func(time.Duration)
	now    func() time.Time

	access    int
	connected bool
	pending   bool
}

// New returns a channel over t. The transport is not opened until Connect.
func New(t transport.Transport, opts ...Option) *Channel {
	c := &Channel{
		t:      t,
		log:    logging.Nop(),
		timing: DefaultTiming(),
		sleep:  time.Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transport returns the underlying transport.
func (c *Channel) Transport() transport.Transport { return c.t }

// Connected reports whether the transport is open.
func (c *Channel) Connected() bool { return c.connected }

// Connect opens the transport and leaves the line idle.
func (c *Channel) Connect() error {
	if c.connected {
		return nil
	}
	if err := c.t.Open(); err != nil {
		return opError("connect", ErrTransportUnavailable, "%s: %v", c.t, err)
	}
	c.connected = true
	c.pending = false
	c.log.Verbose("connected to %s", c.t)
	return c.Idle()
}

// Disconnect idles the line and closes the transport.
func (c *Channel) Disconnect() error {
	if !c.connected {
		return nil
	}
	if err := c.setLines(true); err != nil {
		c.log.Verbose("idle before disconnect: %v", err)
	}
	c.connected = false
	c.pending = false
	if err := c.t.Close(); err != nil {
		return opError("disconnect", ErrTransportUnavailable, "%v", err)
	}
	c.log.Verbose("disconnected from %s", c.t)
	return nil
}

// AccessCode returns the current access code.
func (c *Channel) AccessCode() byte { return AccessCodes[c.access] }

// RotateAccessCode advances the access code to the next value in sequence.
func (c *Channel) RotateAccessCode() {
	c.access = (c.access + 1) % len(AccessCodes)
	if c.obs != nil {
		c.obs.ObserveRotation()
	}
}

func (c *Channel) resetAccessCode() { c.access = 0 }

// Reset returns the pack to its initial protocol state: the access code
// goes back to its first value, the line is pulsed, and a sync byte is
// sent. It reports whether the pack echoed the sync byte. A missing or
// wrong echo is not an error; only a broken link is.
func (c *Channel) Reset() (bool, error) {
	start := c.now()
	c.resetAccessCode()
	c.pending = false
	if !c.connected {
		return false, opError("reset", ErrTransportUnavailable, "not connected")
	}

	if err := c.setLines(true); err != nil {
		return false, err
	}
	c.sleep(c.timing.Pulse)
	if err := c.setLines(false); err != nil {
		return false, err
	}
	c.sleep(c.timing.Pulse)

	if err := c.write([]byte{SyncByte}); err != nil {
		return false, err
	}
	c.pending = true
	resp, err := c.ReadResponse(1)
	if err != nil && !errors.Is(err, ErrShortRead) {
		c.observe("reset", err, start)
		return false, err
	}
	c.sleep(c.timing.Settle)

	ok := len(resp) == 1 && resp[0] == SyncByte
	if ok {
		c.observe("reset", nil, start)
		c.log.Verbose("reset: pack answered sync")
	} else {
		c.observe("reset", ErrHandshakeFailed, start)
		c.log.Verbose("reset: no sync echo (got %s)", frame.Hex(resp))
	}
	return ok, nil
}

// SendCommand frames and writes a command addressed to a register:
// [opcode, 0x04, 0x03, addrHigh, addrLow, extra...] plus checksum. Pending
// input is discarded first so the next read belongs to this command.
func (c *Channel) SendCommand(opcode, addrHigh, addrLow byte, extra []byte) error {
	payload := make([]byte, 0, 5+len(extra))
	payload = append(payload, opcode, framingCommand, framingAddress, addrHigh, addrLow)
	payload = append(payload, extra...)
	return c.send(payload)
}

// ReadResponse reads one reply of expected bytes. A reply that starts
// with the 0x82 marker is two bytes long whatever was expected. Bytes come
// back in logical bit order. A silent pack gives ErrShortRead; a reply cut
// short is returned as-is for the caller to judge.
func (c *Channel) ReadResponse(expected int) ([]byte, error) {
	defer func() { c.pending = false }()
	if !c.connected {
		return nil, opError("read", ErrTransportUnavailable, "not connected")
	}

	first, err := c.t.Read(1)
	if err != nil {
		return nil, c.fail("read", err)
	}
	if len(first) == 0 {
		return nil, opError("read", ErrShortRead, "no reply within timeout")
	}
	c.tapRx(first)
	resp := []byte{frame.ReverseBits(first[0])}

	more := expected - 1
	if resp[0] == MarkerShort {
		more = 1
	}
	if more > 0 {
		rest, err := c.t.Read(more)
		if err != nil {
			return nil, c.fail("read", err)
		}
		c.tapRx(rest)
		resp = append(resp, frame.FromWire(rest)...)
	}
	c.log.LogHex("rx", resp)

	c.sleep(c.timing.Recovery)
	return resp, nil
}

// send checksums and writes a logical payload, marking a reply outstanding.
func (c *Channel) send(payload []byte) error {
	if c.pending {
		return opError("send", ErrExchangeInFlight, "read the previous reply first")
	}
	if err := c.write(frame.AddChecksum(payload)); err != nil {
		return err
	}
	c.pending = true
	return nil
}

// write flushes input and writes a logical frame bit-reversed.
func (c *Channel) write(logical []byte) error {
	if !c.connected {
		return opError("write", ErrTransportUnavailable, "not connected")
	}
	if err := c.t.FlushInput(); err != nil {
		return c.fail("flush", err)
	}
	wire := frame.ToWire(logical)
	c.log.LogHex("tx", logical)
	if c.tap != nil {
		c.tap.Tx(wire)
	}
	if err := c.t.Write(wire); err != nil {
		return c.fail("write", err)
	}
	return nil
}

func (c *Channel) tapRx(wire []byte) {
	if c.tap != nil && len(wire) > 0 {
		c.tap.Rx(wire)
	}
}

// fail handles a transport error: the link is dropped and the error is
// reported as ErrTransportUnavailable.
func (c *Channel) fail(op string, err error) error {
	c.log.Error("%s on %s: %v", op, c.t, err)
	c.connected = false
	c.pending = false
	if cerr := c.t.Close(); cerr != nil {
		c.log.Verbose("close after failure: %v", cerr)
	}
	return opError(op, ErrTransportUnavailable, "%v", err)
}

func (c *Channel) observe(command string, err error, start time.Time) {
	if c.obs != nil {
		c.obs.ObserveExchange(command, Kind(err), c.now().Sub(start))
	}
}
