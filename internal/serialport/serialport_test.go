package serialport

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/davidlao2k/m18-protocol/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort stands in for the library port. Read hands out rx in chunks and
// returns 0 once it is empty, as the library does on a read timeout.
type fakePort struct {
	serial.Port
	rx       []byte
	chunk    int
	tx       []byte
	drained  int
	flushed  int
	dtr, rts bool
	timeouts []time.Duration
	closed   bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	n := min(len(p), len(f.rx), f.chunk)
	copy(p, f.rx[:n])
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	// short writes exercise the retry loop
	n := min(len(p), 2)
	f.tx = append(f.tx, p[:n]...)
	return n, nil
}

func (f *fakePort) Drain() error                         { f.drained++; return nil }
func (f *fakePort) ResetInputBuffer() error              { f.flushed++; return nil }
func (f *fakePort) SetDTR(on bool) error                 { f.dtr = on; return nil }
func (f *fakePort) SetRTS(on bool) error                 { f.rts = on; return nil }
func (f *fakePort) SetReadTimeout(d time.Duration) error { f.timeouts = append(f.timeouts, d); return nil }
func (f *fakePort) Close() error                         { f.closed = true; return nil }

type fakeBreak struct {
	on     bool
	closed bool
}

func (b *fakeBreak) set(on bool) error { b.on = on; return nil }
func (b *fakeBreak) close() error      { b.closed = true; return nil }

func newFakePort(t *testing.T) (*Port, *fakePort, *fakeBreak) {
	t.Helper()
	fp := &fakePort{chunk: 3}
	fb := &fakeBreak{}
	p := New("/dev/ttyUSB0", transport.DefaultOptions(), nil)
	p.dial = func(path string, mode *serial.Mode) (serial.Port, error) {
		assert.Equal(t, "/dev/ttyUSB0", path)
		return fp, nil
	}
	p.lines = func(string, bool) (breaker, error) { return fb, nil }
	require.NoError(t, p.Open())
	return p, fp, fb
}

func TestNewDefaults(t *testing.T) {
	p := New("/dev/ttyUSB0", transport.Options{}, nil)
	assert.Equal(t, "/dev/ttyUSB0@4800", p.String())
	assert.Equal(t, "/dev/ttyUSB0", p.Path())
	assert.Equal(t, 800*time.Millisecond, p.opts.ReadTimeout)
}

func TestMode(t *testing.T) {
	m := New("/dev/ttyUSB0", transport.Options{}, nil).Mode()
	assert.Equal(t, 4800, m.BaudRate)
	assert.Equal(t, 8, m.DataBits)
	assert.Equal(t, serial.NoParity, m.Parity)
	assert.Equal(t, serial.TwoStopBits, m.StopBits)
}

func TestClosedPortIsUnavailable(t *testing.T) {
	p := New("/dev/ttyUSB0", transport.DefaultOptions(), nil)

	assert.ErrorIs(t, p.Write([]byte{0x55}), transport.ErrUnavailable)
	_, err := p.Read(1)
	assert.ErrorIs(t, err, transport.ErrUnavailable)
	assert.ErrorIs(t, p.SetControlLine(transport.Break, true), transport.ErrUnavailable)
	assert.ErrorIs(t, p.FlushInput(), transport.ErrUnavailable)
	require.NoError(t, p.Close(), "closing a closed port is a no-op")
}

func TestOpenMissingDevice(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "ttyUSB9"), transport.DefaultOptions(), nil)
	err := p.Open()
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrUnavailable)
}

func TestOpenNotATerminal(t *testing.T) {
	p := New("/dev/null", transport.Options{Baud: 4800, ReadTimeout: time.Millisecond}, nil)
	err := p.Open()
	assert.ErrorIs(t, err, transport.ErrUnavailable)
}

func TestOpenFailureReleasesBreakLine(t *testing.T) {
	fb := &fakeBreak{}
	p := New("/dev/ttyUSB0", transport.DefaultOptions(), nil)
	p.lines = func(string, bool) (breaker, error) { return fb, nil }
	p.dial = func(string, *serial.Mode) (serial.Port, error) {
		return nil, errors.New("boom")
	}
	assert.ErrorIs(t, p.Open(), transport.ErrUnavailable)
	assert.True(t, fb.closed)
}

func TestWriteDrains(t *testing.T) {
	p, fp, _ := newFakePort(t)
	require.NoError(t, p.Write([]byte{0x80, 0x20, 0x00, 0x10, 0x30}))
	assert.Equal(t, []byte{0x80, 0x20, 0x00, 0x10, 0x30}, fp.tx)
	assert.Equal(t, 1, fp.drained)
	assert.Equal(t, 1, fp.flushed, "input flushed on open")
}

func TestReadCollectsChunks(t *testing.T) {
	p, fp, _ := newFakePort(t)
	fp.rx = []byte{1, 2, 3, 4, 5, 6, 7}

	got, err := p.Read(5)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, got)
	require.Len(t, fp.timeouts, 2)
	assert.LessOrEqual(t, fp.timeouts[1], fp.timeouts[0], "one deadline across reads")

	got, err = p.Read(5)
	require.NoError(t, err)
	assert.Equal(t, []byte{6, 7}, got, "short read on timeout")
}

func TestControlLines(t *testing.T) {
	p, fp, fb := newFakePort(t)

	require.NoError(t, p.SetControlLine(transport.Break, true))
	require.NoError(t, p.SetControlLine(transport.DTR, true))
	require.NoError(t, p.SetControlLine(transport.RTS, true))
	assert.True(t, fb.on)
	assert.True(t, fp.dtr)
	assert.True(t, fp.rts)

	require.NoError(t, p.SetControlLine(transport.Break, false))
	require.NoError(t, p.SetControlLine(transport.DTR, false))
	assert.False(t, fb.on)
	assert.False(t, fp.dtr)

	require.NoError(t, p.Close())
	assert.True(t, fp.closed)
	assert.True(t, fb.closed)
}

func TestDescribe(t *testing.T) {
	err := describe("/dev/ttyUSB0", &serial.PortError{})
	assert.Error(t, err)

	plain := errors.New("plain")
	assert.Equal(t, plain, describe("/dev/ttyUSB0", plain))
}
