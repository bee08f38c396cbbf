package diag

import (
	"context"
	"fmt"
	"iter"

	"github.com/davidlao2k/m18-protocol/internal/frame"
	"github.com/davidlao2k/m18-protocol/internal/session"
)

// ScanRange is an inclusive address range to probe.
type ScanRange struct {
	Start  uint16
	Stop   uint16
	Length int // bytes requested per read

	// SweepLengths probes every length 0..Length-1 at each address
	// instead of Length alone.
	SweepLengths bool
}

// From returns the range resumed at addr.
func (r ScanRange) From(addr uint16) ScanRange {
	r.Start = addr
	return r
}

// Validate checks the range.
func (r ScanRange) Validate() error {
	if r.Stop < r.Start {
		return fmt.Errorf("scan range 0x%04X-0x%04X is empty", r.Start, r.Stop)
	}
	if r.Length < 1 || r.Length > 255 {
		return fmt.Errorf("scan length %d out of range 1..255", r.Length)
	}
	return nil
}

// Probes returns how many reads the range issues.
func (r ScanRange) Probes() int {
	n := int(r.Stop) - int(r.Start) + 1
	if r.SweepLengths {
		n *= r.Length
	}
	return n
}

// ScanResult is the outcome of one probe.
type ScanResult struct {
	Address    uint16 `json:"address"`
	Length     int    `json:"length"`
	Response   []byte `json:"response"`
	Valid      bool   `json:"valid"` // reply led with 0x81
	ChecksumOK bool   `json:"checksum_ok"`
	Err        error  `json:"-"`
}

// Data returns the register bytes of a valid reply.
func (r ScanResult) Data() []byte {
	if !r.Valid || len(r.Response) < 3+r.Length {
		return nil
	}
	return r.Response[3 : 3+r.Length]
}

// BruteScan probes every address in r with a register read and yields each
// outcome in address order. The sequence is lazy: nothing is sent until it
// is ranged over, and stopping the range stops the scan.
//
// Ranging the sequence starts with a reset, so a scan stopped at any
// address can be resumed with r.From(next). Field-local failures are
// reported on the result and the scan continues; a lost link or cancelled
// context is yielded as the error and ends the sequence. The line is left
// idle.
func BruteScan(ctx context.Context, p Pack, r ScanRange, opts Options) iter.Seq2[ScanResult, error] {
	opts = opts.normalize()
	return func(yield func(ScanResult, error) bool) {
		if err := r.Validate(); err != nil {
			yield(ScanResult{Address: r.Start}, err)
			return
		}
		defer p.Quiesce()
		if err := p.ResetRetry(ctx, opts.HandshakeRetries); err != nil {
			yield(ScanResult{Address: r.Start}, err)
			return
		}

		lengths := []int{r.Length}
		if r.SweepLengths {
			lengths = make([]int, r.Length)
			for i := range lengths {
				lengths[i] = i
			}
		}

		total, done := r.Probes(), 0
		for addr := int(r.Start); addr <= int(r.Stop); addr++ {
			for _, n := range lengths {
				if err := ctx.Err(); err != nil {
					yield(ScanResult{Address: uint16(addr), Length: n}, err)
					return
				}
				res := probe(p, uint16(addr), n)
				done++
				if res.Valid {
					opts.Logger.Info("0x%04X len %d: %s", addr, n, frame.Hex(res.Response))
					if opts.Observer != nil {
						opts.Observer.ObserveScanHit()
					}
				}
				if opts.Progress != nil {
					opts.Progress(done, total)
				}
				var fatal error
				if session.IsFatal(res.Err) {
					fatal = res.Err
				}
				if !yield(res, fatal) || fatal != nil {
					return
				}
			}
		}
	}
}

func probe(p Pack, addr uint16, n int) ScanResult {
	res := ScanResult{Address: addr, Length: n}
	res.Response, res.Err = p.Raw(session.OpRegister, addr, []byte{byte(n)}, n+5)
	if len(res.Response) > 0 {
		res.Valid = res.Response[0] == session.MarkerOK
		res.ChecksumOK = res.Valid && frame.VerifyChecksum(res.Response)
	}
	return res
}

// Hits collects the valid results of a scan, stopping at the first fatal
// error.
func Hits(seq iter.Seq2[ScanResult, error]) ([]ScanResult, error) {
	var hits []ScanResult
	for res, err := range seq {
		if err != nil {
			return hits, err
		}
		if res.Valid {
			hits = append(hits, res)
		}
	}
	return hits, nil
}
