// Package decoder turns raw register bytes into typed values.
//
// Decoding is pure: the same descriptor and bytes always give the same
// value. The only failure is a slice shorter than the descriptor declares.
package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/davidlao2k/m18-protocol/internal/catalog"
)

// ErrDecode marks a register that could not be decoded.
var ErrDecode = errors.New("decode error")

// DateLayout is the rendering of date registers.
const DateLayout = "2006-01-02 15:04:05"

// PadChar is the filler the note write path appends to short strings.
const PadChar = '-'

// Two-point thermistor calibration.
const (
	adc1 = 0x0180
	adc2 = 0x022E
	r1   = 10000.0
	r2   = 20000.0
	t1   = 50.0
	t2   = 35.0
)

// Options adjusts decoding.
type Options struct {
	// TrimPadding strips trailing pad characters from ascii and serial
	// number registers.
	TrimPadding bool
}

// Cells is the value of a cell_voltage_array register.
type Cells struct {
	Millivolts []uint16 `json:"millivolts"`
	Imbalance  uint16   `json:"imbalance_mv"`
}

// Total returns the sum of all cell readings in millivolts.
func (c Cells) Total() uint32 {
	var sum uint32
	for _, mv := range c.Millivolts {
		sum += uint32(mv)
	}
	return sum
}

func (c Cells) String() string {
	parts := make([]string, len(c.Millivolts))
	for i, mv := range c.Millivolts {
		parts[i] = strconv.Itoa(int(mv))
	}
	return fmt.Sprintf("%s (imbalance %d mV)", strings.Join(parts, ", "), c.Imbalance)
}

// Field is one decoded register.
//
// Value holds uint64 for uint, string for date, duration, ascii and
// serial_number, float64 for adc_temperature and scaled_decimal, and Cells
// for cell_voltage_array.
type Field struct {
	ID      int          `json:"id"`
	Key     string       `json:"key"`
	Label   string       `json:"label"`
	Type    catalog.Type `json:"type"`
	Address string       `json:"address"`
	Value   any          `json:"value"`
	Raw     []byte       `json:"-"`
}

// String renders the value for display.
func (f Field) String() string {
	switch v := f.Value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', 2, 64)
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func errTooShort(typ catalog.Type, got, need int) error {
	return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrDecode, typ, need, got)
}

// Decode decodes raw according to d. Bytes past d.Length are ignored.
func Decode(d catalog.Descriptor, raw []byte, opts Options) (Field, error) {
	f := Field{
		ID:      d.ID,
		Key:     d.Key,
		Label:   d.Label,
		Type:    d.Type,
		Address: d.Address.String(),
	}
	need := int(d.Length)
	if len(raw) < need {
		return f, errTooShort(d.Type, len(raw), need)
	}
	raw = raw[:need]
	f.Raw = append([]byte(nil), raw...)

	var err error
	switch d.Type {
	case catalog.TypeUint:
		f.Value, err = Uint(raw)
	case catalog.TypeDate:
		f.Value, err = Date(raw)
	case catalog.TypeDuration:
		f.Value, err = Duration(raw)
	case catalog.TypeASCII, catalog.TypeSerialNumber:
		f.Value = ASCII(raw, opts.TrimPadding)
	case catalog.TypeADCTemperature:
		f.Value, err = ADCTemperature(raw)
	case catalog.TypeScaledDecimal:
		f.Value, err = ScaledDecimal(raw, d.Scale)
	case catalog.TypeCellVoltageArray:
		f.Value, err = CellVoltages(raw)
	default:
		err = fmt.Errorf("%w: unknown type %q", ErrDecode, d.Type)
	}
	if err != nil {
		return f, err
	}
	return f, nil
}

// Uint decodes a big-endian unsigned integer of up to 8 bytes.
func Uint(raw []byte) (uint64, error) {
	if len(raw) > 8 {
		return 0, fmt.Errorf("%w: uint wider than 8 bytes (%d)", ErrDecode, len(raw))
	}
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// Date decodes a big-endian 32-bit Unix timestamp and renders it in UTC.
func Date(raw []byte) (string, error) {
	if len(raw) < 4 {
		return "", errTooShort(catalog.TypeDate, len(raw), 4)
	}
	sec := binary.BigEndian.Uint32(raw)
	return time.Unix(int64(sec), 0).UTC().Format(DateLayout), nil
}

// Duration decodes a big-endian 32-bit seconds count as H:MM:SS.
func Duration(raw []byte) (string, error) {
	if len(raw) < 4 {
		return "", errTooShort(catalog.TypeDuration, len(raw), 4)
	}
	return FormatDuration(binary.BigEndian.Uint32(raw)), nil
}

// FormatDuration renders seconds as H:MM:SS with unbounded hours.
func FormatDuration(total uint32) string {
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// ASCII returns raw as a string, optionally without trailing pad characters.
func ASCII(raw []byte, trim bool) string {
	s := string(raw)
	if trim {
		s = strings.TrimRight(s, string(PadChar))
	}
	return s
}

// ADCTemperature converts a 16-bit thermistor reading to degrees Celsius,
// rounded to two decimals. Readings outside the calibration points
// extrapolate linearly.
func ADCTemperature(raw []byte) (float64, error) {
	if len(raw) < 2 {
		return 0, errTooShort(catalog.TypeADCTemperature, len(raw), 2)
	}
	return TemperatureFromADC(binary.BigEndian.Uint16(raw)), nil
}

// TemperatureFromADC applies the two-point calibration to adc.
func TemperatureFromADC(adc uint16) float64 {
	resistance := r1 + (float64(adc)-adc1)*(r2-r1)/(adc2-adc1)
	slope := (t2 - t1) / (r2 - r1)
	intercept := t1 - slope*r1
	return round2(slope*resistance + intercept)
}

// ScaledDecimal decodes a big-endian unsigned integer divided by scale.
// A non-positive scale is treated as 1.
func ScaledDecimal(raw []byte, scale float64) (float64, error) {
	v, err := Uint(raw)
	if err != nil {
		return 0, err
	}
	if scale <= 0 {
		scale = 1
	}
	return float64(v) / scale, nil
}

// CellVoltages decodes consecutive big-endian millivolt readings, one per
// cell, and the spread between the highest and lowest.
func CellVoltages(raw []byte) (Cells, error) {
	if len(raw) < 2 {
		return Cells{}, errTooShort(catalog.TypeCellVoltageArray, len(raw), 2)
	}
	n := len(raw) / 2
	cells := Cells{Millivolts: make([]uint16, n)}
	lo, hi := uint16(math.MaxUint16), uint16(0)
	for i := 0; i < n; i++ {
		mv := binary.BigEndian.Uint16(raw[i*2:])
		cells.Millivolts[i] = mv
		lo = min(lo, mv)
		hi = max(hi, mv)
	}
	cells.Imbalance = hi - lo
	return cells, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
