// Package frame implements the byte-level wire format spoken by the pack.
//
// Every logical byte travels bit-reversed (bit 0 becomes bit 7). Frames sent
// to the pack carry a trailing 16-bit big-endian checksum, the plain sum of
// all payload bytes truncated to 16 bits:
//
//	logical:  [PAYLOAD...][SUM_H][SUM_L]
//	wire:     reverse(each byte of the logical frame)
//
// The codec holds no state. Transcoding happens at the edge: writes call
// ToWire last, reads call FromWire first.
package frame

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// ChecksumSize is the number of trailing checksum bytes on a frame.
const ChecksumSize = 2

// ReverseBits reverses the bit order within a single byte.
func ReverseBits(b byte) byte {
	return bits.Reverse8(b)
}

// ToWire returns a copy of logical with every byte bit-reversed.
func ToWire(logical []byte) []byte {
	out := make([]byte, len(logical))
	for i, b := range logical {
		out[i] = ReverseBits(b)
	}
	return out
}

// FromWire returns a copy of wire with every byte bit-reversed.
// Bit reversal is its own inverse, so this mirrors ToWire.
func FromWire(wire []byte) []byte {
	return ToWire(wire)
}

// Checksum returns the unsigned sum of all bytes, wrapped to 16 bits.
func Checksum(payload []byte) uint16 {
	var sum uint16
	for _, b := range payload {
		sum += uint16(b)
	}
	return sum
}

// AddChecksum returns payload followed by its checksum, high byte first.
// The input slice is not modified.
func AddChecksum(payload []byte) []byte {
	out := make([]byte, len(payload), len(payload)+ChecksumSize)
	copy(out, payload)
	return binary.BigEndian.AppendUint16(out, Checksum(payload))
}

// VerifyChecksum reports whether the trailing two bytes of f equal the
// checksum of everything before them. Frames shorter than the checksum
// itself never verify.
func VerifyChecksum(f []byte) bool {
	if len(f) < ChecksumSize {
		return false
	}
	body := f[:len(f)-ChecksumSize]
	got := binary.BigEndian.Uint16(f[len(f)-ChecksumSize:])
	return got == Checksum(body)
}

// StripChecksum returns the payload portion of a checksummed frame.
func StripChecksum(f []byte) ([]byte, error) {
	if len(f) < ChecksumSize {
		return nil, fmt.Errorf("frame too short: %d bytes (minimum %d)", len(f), ChecksumSize)
	}
	return f[:len(f)-ChecksumSize], nil
}

// Encode builds the wire bytes for a logical payload: checksum appended,
// then every byte bit-reversed.
func Encode(payload []byte) []byte {
	return ToWire(AddChecksum(payload))
}

// Hex renders b as space separated hex pairs, the format used in logs and
// the raw CLI output.
func Hex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	out := make([]byte, 0, len(b)*3-1)
	const digits = "0123456789abcdef"
	for i, v := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, digits[v>>4], digits[v&0x0F])
	}
	return string(out)
}
