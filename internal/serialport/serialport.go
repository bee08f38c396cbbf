// Package serialport is the host serial backend for transport.Transport.
//
// Line settings, reads, writes, DTR and RTS go through go.bug.st/serial.
// BREAK is different: the pack idles with BREAK held for as long as the
// session lasts, and the library only offers a timed Break(d). The port
// therefore keeps a second descriptor on the device node, opened before the
// library takes exclusive access, and drives BREAK on it directly.
package serialport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/davidlao2k/m18-protocol/internal/logging"
	"github.com/davidlao2k/m18-protocol/internal/transport"
)

// Port is a serial device node opened 8N2 with no flow control.
type Port struct {
	mu    sync.Mutex
	path  string
	opts  transport.Options
	log   *logging.Logger
	port  serial.Port
	brk   breaker
	open  bool
	dial  func(string, *serial.Mode) (serial.Port, error)
	lines func(string, bool) (breaker, error)
}

// breaker holds BREAK asserted or released until told otherwise.
type breaker interface {
	set(on bool) error
	close() error
}

var _ transport.Transport = (*Port)(nil)

// New returns a port for the device at path. Nothing is opened until Open.
// Zero option fields take their defaults.
func New(path string, opts transport.Options, log *logging.Logger) *Port {
	def := transport.DefaultOptions()
	if opts.Baud == 0 {
		opts.Baud = def.Baud
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	return &Port{
		path:  path,
		opts:  opts,
		log:   logging.OrNop(log),
		dial:  serial.Open,
		lines: openBreakLine,
	}
}

// Path returns the device node.
func (p *Port) Path() string { return p.path }

func (p *Port) String() string {
	return fmt.Sprintf("%s@%d", p.path, p.opts.Baud)
}

// Mode returns the line settings Open applies.
func (p *Port) Mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: p.opts.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
		InitialStatusBits: &serial.ModemOutputBits{
			DTR: true,
			RTS: false,
		},
	}
}

// Open opens and configures the device.
func (p *Port) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return nil
	}
	// the BREAK descriptor must exist before the library sets TIOCEXCL
	brk, err := p.lines(p.path, p.opts.Exclusive)
	if err != nil {
		return transport.Unavailable("open "+p.path, err)
	}
	port, err := p.dial(p.path, p.Mode())
	if err != nil {
		_ = brk.close()
		return transport.Unavailable("open "+p.path, describe(p.path, err))
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		_ = brk.close()
		return transport.Unavailable("flush "+p.path, err)
	}
	p.port, p.brk, p.open = port, brk, true
	p.log.Verbose("opened %s (%d baud, 8N2, timeout %s)", p.path, p.opts.Baud, p.opts.ReadTimeout)
	return nil
}

// describe turns the library's error codes into something a user can act on.
func describe(path string, err error) error {
	var perr *serial.PortError
	if !errors.As(err, &perr) {
		return err
	}
	switch perr.Code() {
	case serial.PortBusy:
		return fmt.Errorf("%s is in use by another process", path)
	case serial.PortNotFound:
		return fmt.Errorf("%s not found", path)
	case serial.PermissionDenied:
		return fmt.Errorf("permission denied on %s", path)
	case serial.InvalidSpeed:
		return fmt.Errorf("unsupported baud rate: %w", err)
	}
	return err
}

// Close releases the device and its lock.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil
	}
	p.open = false
	port, brk := p.port, p.brk
	p.port, p.brk = nil, nil
	err := errors.Join(port.Close(), brk.close())
	if err != nil {
		return transport.Unavailable("close "+p.path, err)
	}
	return nil
}

// Write sends b and waits until it has left the UART.
func (p *Port) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return transport.Unavailable("write "+p.path, nil)
	}
	for len(b) > 0 {
		n, err := p.port.Write(b)
		if err != nil {
			return transport.Unavailable("write "+p.path, err)
		}
		b = b[n:]
	}
	// half duplex: the reply must not overlap our own bytes
	if err := p.port.Drain(); err != nil {
		return transport.Unavailable("drain "+p.path, err)
	}
	return nil
}

// Read returns up to n bytes, waiting at most the read timeout in total.
func (p *Port) Read(n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil, transport.Unavailable("read "+p.path, nil)
	}
	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(p.opts.ReadTimeout)
	for got < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := p.port.SetReadTimeout(remaining); err != nil {
			return buf[:got], transport.Unavailable("read "+p.path, err)
		}
		m, err := p.port.Read(buf[got:])
		if err != nil {
			return buf[:got], transport.Unavailable("read "+p.path, err)
		}
		if m == 0 {
			break
		}
		got += m
	}
	return buf[:got], nil
}

// SetControlLine drives BREAK, DTR or RTS.
func (p *Port) SetControlLine(line transport.ControlLine, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return transport.Unavailable("set "+line.String(), nil)
	}
	var err error
	switch line {
	case transport.Break:
		err = p.brk.set(on)
	case transport.DTR:
		err = p.port.SetDTR(on)
	case transport.RTS:
		err = p.port.SetRTS(on)
	default:
		err = fmt.Errorf("unknown control line %s", line)
	}
	if err != nil {
		return transport.Unavailable("set "+line.String()+" on "+p.path, err)
	}
	return nil
}

// FlushInput discards unread input.
func (p *Port) FlushInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return transport.Unavailable("flush "+p.path, nil)
	}
	if err := p.port.ResetInputBuffer(); err != nil {
		return transport.Unavailable("flush "+p.path, err)
	}
	return nil
}
