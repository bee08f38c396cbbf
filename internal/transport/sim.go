package transport

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/davidlao2k/m18-protocol/internal/frame"
)

const (
	simSync        = 0xAA
	simOK          = 0x81
	simUnsupported = 0x82
)

// SimDevice is an in-memory battery pack that speaks the wire protocol.
//
// It answers the sync byte, register reads, note writes and the four
// session commands, and checks the access code the way a real pack does.
// Fault hooks let tests corrupt, drop or cut replies.
type SimDevice struct {
	mu sync.Mutex

	open    bool
	lost    bool
	rx      []byte
	lines   map[ControlLine]bool
	regions map[uint16][]byte
	access  byte
	frames  int
	sent    [][]byte

	corrupt         map[uint16]bool
	mute            bool
	echo            *byte
	disconnectAfter int
}

// NewSimDevice returns a pack holding a copy of image, keyed by start
// address. A nil image yields an empty pack that refuses every read.
func NewSimDevice(image map[uint16][]byte) *SimDevice {
	regions := make(map[uint16][]byte, len(image))
	for addr, data := range image {
		regions[addr] = append([]byte(nil), data...)
	}
	return &SimDevice{
		lines:   make(map[ControlLine]bool),
		regions: regions,
		access:  0x04,
		corrupt: make(map[uint16]bool),
	}
}

// Open implements Transport.
func (d *SimDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return Unavailable("open sim", nil)
	}
	d.open = true
	return nil
}

// Close implements Transport.
func (d *SimDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.rx = nil
	return nil
}

// Write implements Transport. The frame is decoded and, when the pack has
// something to say, a reply is queued for the next Read.
func (d *SimDevice) Write(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open || d.lost {
		return Unavailable("write sim", nil)
	}
	if d.disconnectAfter > 0 && d.frames >= d.disconnectAfter {
		d.lost = true
		d.open = false
		return Unavailable("write sim", nil)
	}
	d.frames++

	logical := frame.FromWire(p)
	d.sent = append(d.sent, logical)
	if d.mute {
		return nil
	}
	if len(logical) == 1 && logical[0] == simSync {
		d.access = 0x04
		if d.echo != nil {
			d.queue([]byte{*d.echo})
		} else {
			d.queue([]byte{simSync})
		}
		return nil
	}
	if !frame.VerifyChecksum(logical) {
		return nil
	}
	body, _ := frame.StripChecksum(logical)
	d.handle(body)
	return nil
}

// Read implements Transport. An empty result stands for a read timeout.
func (d *SimDevice) Read(n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open || d.lost {
		return nil, Unavailable("read sim", nil)
	}
	if n > len(d.rx) {
		n = len(d.rx)
	}
	out := append([]byte(nil), d.rx[:n]...)
	d.rx = d.rx[n:]
	return out, nil
}

// SetControlLine implements Transport. Holding BREAK puts the pack back in
// its initial state.
func (d *SimDevice) SetControlLine(line ControlLine, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open || d.lost {
		return Unavailable("control sim", nil)
	}
	d.lines[line] = on
	if line == Break && on {
		d.rx = nil
		d.access = 0x04
	}
	return nil
}

// FlushInput implements Transport.
func (d *SimDevice) FlushInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open || d.lost {
		return Unavailable("flush sim", nil)
	}
	d.rx = nil
	return nil
}

func (d *SimDevice) String() string { return "sim" }

// Line reports the last level driven on line.
func (d *SimDevice) Line(line ControlLine) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines[line]
}

// Sent returns the logical (un-reversed) frames received so far.
func (d *SimDevice) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	copy(out, d.sent)
	return out
}

// Memory returns a copy of n bytes starting at addr, or nil when the range
// is not backed by a region.
func (d *SimDevice) Memory(addr uint16, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.lookup(addr, n)
	if !ok {
		return nil
	}
	return append([]byte(nil), data...)
}

// CorruptAt makes register reads starting at addr return a bad checksum.
func (d *SimDevice) CorruptAt(addr uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt[addr] = true
}

// SetMute stops the pack from answering anything.
func (d *SimDevice) SetMute(mute bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mute = mute
}

// SetEcho makes the pack answer the sync byte with b.
func (d *SimDevice) SetEcho(b byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.echo = &b
}

// DisconnectAfter drops the link once n frames have been accepted.
func (d *SimDevice) DisconnectAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnectAfter = n
}

func (d *SimDevice) handle(body []byte) {
	if len(body) == 0 {
		return
	}
	switch body[0] {
	case 0x01:
		d.handleRegister(body)
	case 0x60:
		// configure always carries the initial code
		if len(body) < 2 || body[1] != 0x04 {
			d.refuse()
			return
		}
		d.access = 0x04
		d.reply([]byte{simOK, 0x00, 0x00})
	case 0x61, 0x55:
		if !d.checkAccess(body) {
			return
		}
		d.rotate()
		d.reply([]byte{simOK, 0x00, 0x03, body[0], d.access, 0x00})
	case 0x62:
		if !d.checkAccess(body) {
			return
		}
		d.reply([]byte{simOK, 0x00, 0x04, body[0], d.access, 0x00, 0x00})
	default:
		d.refuse()
	}
}

func (d *SimDevice) handleRegister(body []byte) {
	if len(body) != 6 || body[2] != 0x03 {
		d.refuse()
		return
	}
	addr := binary.BigEndian.Uint16(body[3:5])
	switch body[1] {
	case 0x04:
		n := int(body[5])
		data, ok := d.lookup(addr, n)
		if !ok {
			d.refuse()
			return
		}
		resp := frame.AddChecksum(append([]byte{simOK, 0x00, byte(n)}, data...))
		if d.corrupt[addr] {
			resp[len(resp)-1] ^= 0xFF
		}
		d.queue(resp)
	case 0x05:
		data, ok := d.lookup(addr, 1)
		if !ok {
			d.refuse()
			return
		}
		data[0] = body[5]
		d.queue([]byte{simOK, 0x05})
	default:
		d.refuse()
	}
}

func (d *SimDevice) checkAccess(body []byte) bool {
	if len(body) < 2 || body[1] != d.access {
		d.refuse()
		return false
	}
	return true
}

func (d *SimDevice) rotate() {
	switch d.access {
	case 0x04:
		d.access = 0x0C
	case 0x0C:
		d.access = 0x1C
	default:
		d.access = 0x04
	}
}

// lookup returns the live slice backing [addr, addr+n).
func (d *SimDevice) lookup(addr uint16, n int) ([]byte, bool) {
	if n <= 0 {
		return nil, false
	}
	starts := make([]int, 0, len(d.regions))
	for s := range d.regions {
		starts = append(starts, int(s))
	}
	sort.Ints(starts)
	for _, s := range starts {
		data := d.regions[uint16(s)]
		off := int(addr) - s
		if off >= 0 && off+n <= len(data) {
			return data[off : off+n], true
		}
	}
	return nil, false
}

func (d *SimDevice) reply(payload []byte) {
	d.queue(frame.AddChecksum(payload))
}

func (d *SimDevice) refuse() {
	d.queue([]byte{simUnsupported, 0x00})
}

func (d *SimDevice) queue(logical []byte) {
	d.rx = append(d.rx, frame.ToWire(logical)...)
}
