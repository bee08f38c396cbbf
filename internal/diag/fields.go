// Package diag drives a command channel through the register dictionary
// and assembles diagnostic results: decoded field sets, battery health
// reports and brute-force register scans.
package diag

import (
	"context"
	"fmt"
	"time"

	"github.com/davidlao2k/m18-protocol/internal/catalog"
	"github.com/davidlao2k/m18-protocol/internal/decoder"
	"github.com/davidlao2k/m18-protocol/internal/logging"
	"github.com/davidlao2k/m18-protocol/internal/session"
)

// Pack is the part of session.Channel the aggregator drives.
type Pack interface {
	ResetRetry(ctx context.Context, attempts int) error
	ReadRegister(addr uint16, length int) ([]byte, error)
	Raw(opcode byte, addr uint16, extra []byte, expect int) ([]byte, error)
	Quiesce()
}

var _ Pack = (*session.Channel)(nil)

// Observer receives per-field and per-hit outcomes.
type Observer interface {
	ObserveField(result string)
	ObserveScanHit()
}

// Options controls a sweep.
type Options struct {
	Decode           decoder.Options
	HandshakeRetries int // reset attempts before the sweep
	FieldRetries     int // extra reads after a field-local failure
	Logger           *logging.Logger
	Observer         Observer
	Progress         func(done, total int)
	Now              func() time.Time
}

// DefaultOptions returns three handshake attempts and one field retry.
func DefaultOptions() Options {
	return Options{HandshakeRetries: 3, FieldRetries: 1}
}

func (o Options) normalize() Options {
	if o.HandshakeRetries < 1 {
		o.HandshakeRetries = 1
	}
	if o.FieldRetries < 0 {
		o.FieldRetries = 0
	}
	o.Logger = logging.OrNop(o.Logger)
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Entry is one register of a sweep: the decoded field, or the reason it is
// missing.
type Entry struct {
	Descriptor catalog.Descriptor
	Field      decoder.Field
	Err        error
}

// OK reports whether the field was read and decoded.
func (e Entry) OK() bool { return e.Err == nil }

// FieldSet is the ordered result of ReadFields, keyed by label. Entries keep
// catalog order whatever the selection order was.
type FieldSet struct {
	entries []Entry
	byLabel map[string]int
	byKey   map[string]int
}

func newFieldSet(n int) *FieldSet {
	return &FieldSet{
		entries: make([]Entry, 0, n),
		byLabel: make(map[string]int, n),
		byKey:   make(map[string]int, n),
	}
}

func (s *FieldSet) add(e Entry) {
	s.byLabel[e.Descriptor.Label] = len(s.entries)
	s.byKey[e.Descriptor.Key] = len(s.entries)
	s.entries = append(s.entries, e)
}

// Len returns the number of entries, failed ones included.
func (s *FieldSet) Len() int { return len(s.entries) }

// Entries returns every entry in catalog order.
func (s *FieldSet) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Labels returns the labels in catalog order.
func (s *FieldSet) Labels() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Descriptor.Label
	}
	return out
}

// Get returns the entry for label.
func (s *FieldSet) Get(label string) (Entry, bool) {
	i, ok := s.byLabel[label]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Field returns the decoded field stored under key, if it was read.
func (s *FieldSet) Field(key string) (decoder.Field, bool) {
	i, ok := s.byKey[key]
	if !ok || s.entries[i].Err != nil {
		return decoder.Field{}, false
	}
	return s.entries[i].Field, true
}

// Failures maps the label of every failed field to its error text.
func (s *FieldSet) Failures() map[string]string {
	out := make(map[string]string)
	for _, e := range s.entries {
		if e.Err != nil {
			out[e.Descriptor.Label] = e.Err.Error()
		}
	}
	return out
}

// Succeeded returns how many fields were decoded.
func (s *FieldSet) Succeeded() int {
	n := 0
	for _, e := range s.entries {
		if e.Err == nil {
			n++
		}
	}
	return n
}

// ReadFields resets the pack and reads the registers named by ids (all of
// them when ids is empty) in catalog order.
//
// A field that fails to read or decode is recorded on its entry and the
// sweep moves on. A lost link or a cancelled context stops the sweep; the
// entries read so far are returned together with the error. The line is
// left idle afterwards, including when the handshake fails.
func ReadFields(ctx context.Context, p Pack, cat *catalog.Catalog, ids []int, opts Options) (*FieldSet, error) {
	opts = opts.normalize()
	descs, err := cat.Select(ids)
	if err != nil {
		return nil, err
	}
	defer p.Quiesce()
	if err := p.ResetRetry(ctx, opts.HandshakeRetries); err != nil {
		return nil, err
	}

	set := newFieldSet(len(descs))
	for i, d := range descs {
		if err := ctx.Err(); err != nil {
			opts.Logger.Info("sweep cancelled after %d of %d fields", i, len(descs))
			return set, err
		}
		entry, err := readField(p, d, opts)
		set.add(entry)
		if opts.Observer != nil {
			opts.Observer.ObserveField(fieldResult(entry.Err))
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(descs))
		}
		if err != nil {
			return set, err
		}
	}
	opts.Logger.Verbose("read %d of %d fields", set.Succeeded(), set.Len())
	return set, nil
}

// readField reads and decodes one register. The returned error is non-nil
// only when it is fatal to the sweep.
func readField(p Pack, d catalog.Descriptor, opts Options) (Entry, error) {
	entry := Entry{Descriptor: d}
	var raw []byte
	var err error
	for attempt := 0; attempt <= opts.FieldRetries; attempt++ {
		raw, err = p.ReadRegister(uint16(d.Address), int(d.Length))
		if err == nil || session.IsFatal(err) {
			break
		}
		opts.Logger.Verbose("%s (%s): %v", d.Key, d.Address, err)
	}
	if err != nil {
		entry.Err = fmt.Errorf("%s: %w", d.Key, err)
		if session.IsFatal(err) {
			return entry, err
		}
		return entry, nil
	}

	entry.Field, entry.Err = decoder.Decode(d, raw, opts.Decode)
	if entry.Err != nil {
		opts.Logger.Verbose("%s: %v", d.Key, entry.Err)
	}
	return entry, nil
}

func fieldResult(err error) string {
	if err == nil {
		return "ok"
	}
	if k := session.Kind(err); k != "error" {
		return k
	}
	return "decode_error"
}
