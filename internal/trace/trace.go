// Package trace records the raw serial exchange with a pack as a pcap file.
//
// Each packet is one transport write or read: a direction byte (0x00 host to
// pack, 0x01 pack to host) followed by the bytes exactly as they crossed the
// wire, bit-reversed. Files use the USER0 link type so Wireshark shows the
// payload as raw data.
package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/davidlao2k/m18-protocol/internal/frame"
)

// LinkType is DLT_USER0.
const LinkType = layers.LinkType(147)

const snapLen = 65535

// Direction of a recorded chunk.
type Direction byte

const (
	ToPack   Direction = 0x00
	FromPack Direction = 0x01
)

func (d Direction) String() string {
	if d == FromPack {
		return "rx"
	}
	return "tx"
}

// Recorder appends wire chunks to a pcap stream. It is safe for concurrent
// use; a nil Recorder records nothing.
type Recorder struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	now    func() time.Time
	count  int
	err    error
}

// NewRecorder writes a pcap header to w and returns a recorder on it.
func NewRecorder(w io.Writer) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, LinkType); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Recorder{w: pw, now: time.Now}, nil
}

// Create opens path for writing and returns a recorder on it.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	r, err := NewRecorder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Tx records bytes written to the pack.
func (r *Recorder) Tx(wire []byte) { r.record(ToPack, wire) }

// Rx records bytes read from the pack.
func (r *Recorder) Rx(wire []byte) { r.record(FromPack, wire) }

func (r *Recorder) record(dir Direction, wire []byte) {
	if r == nil || len(wire) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	data := make([]byte, 0, len(wire)+1)
	data = append(data, byte(dir))
	data = append(data, wire...)
	ci := gopacket.CaptureInfo{
		Timestamp:     r.now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := r.w.WritePacket(ci, data); err != nil {
		r.err = fmt.Errorf("write trace packet: %w", err)
		return
	}
	r.count++
}

// Count returns the number of chunks recorded.
func (r *Recorder) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the underlying file when the recorder owns one.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return r.err
	}
	err := r.closer.Close()
	r.closer = nil
	return errors.Join(r.err, err)
}

// Record is one captured chunk.
type Record struct {
	Time      time.Time
	Direction Direction
	Wire      []byte
}

// Logical returns the chunk with bit order restored.
func (r Record) Logical() []byte {
	return frame.FromWire(r.Wire)
}

// Read decodes every record in a trace stream.
func Read(rd io.Reader) ([]Record, error) {
	pr, err := pcapgo.NewReader(rd)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	if pr.LinkType() != LinkType {
		return nil, fmt.Errorf("unexpected link type %v", pr.LinkType())
	}
	var out []Record
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read trace packet %d: %w", len(out)+1, err)
		}
		if len(data) < 1 {
			continue
		}
		out = append(out, Record{
			Time:      ci.Timestamp,
			Direction: Direction(data[0]),
			Wire:      append([]byte(nil), data[1:]...),
		})
	}
}

// ReadFile decodes every record in the trace at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Read(f)
}
