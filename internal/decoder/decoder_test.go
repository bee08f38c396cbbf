package decoder

import (
	"testing"

	"github.com/davidlao2k/m18-protocol/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func desc(typ catalog.Type, length uint16) catalog.Descriptor {
	return catalog.Descriptor{ID: 7, Key: "k", Label: "Label", Address: 0x9000, Length: length, Type: typ}
}

func TestDecodeUint(t *testing.T) {
	f, err := Decode(desc(catalog.TypeUint, 2), []byte{0x00, 0xA5}, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(165), f.Value)
	assert.Equal(t, "165", f.String())
	assert.Equal(t, "0x9000", f.Address)
	assert.Equal(t, []byte{0x00, 0xA5}, f.Raw)

	f, err = Decode(desc(catalog.TypeUint, 4), []byte{0x00, 0x20, 0xF5, 0x80}, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2160000), f.Value)

	_, err = Uint(make([]byte, 9))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeDate(t *testing.T) {
	f, err := Decode(desc(catalog.TypeDate, 4), []byte{0x60, 0x40, 0x23, 0x00}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "2021-03-04 00:00:00", f.Value)

	got, err := Date([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "1970-01-01 00:00:00", got)
}

func TestDuration(t *testing.T) {
	tests := []struct {
		seconds uint32
		want    string
	}{
		{3661, "1:01:01"},
		{59, "0:00:59"},
		{0, "0:00:00"},
		{360000, "100:00:00"},
		{86399, "23:59:59"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.seconds))
	}

	f, err := Decode(desc(catalog.TypeDuration, 4), []byte{0x00, 0x00, 0x0E, 0x4D}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "1:01:01", f.Value)
}

func TestADCTemperatureAnchors(t *testing.T) {
	assert.Equal(t, 50.0, TemperatureFromADC(0x0180))
	assert.Equal(t, 35.0, TemperatureFromADC(0x022E))

	// extrapolation, no clamping
	assert.Greater(t, TemperatureFromADC(0x0100), 50.0)
	assert.Less(t, TemperatureFromADC(0x0300), 35.0)

	f, err := Decode(desc(catalog.TypeADCTemperature, 2), []byte{0x01, 0x80}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 50.0, f.Value)
	assert.Equal(t, "50.00", f.String())
}

func TestADCTemperatureRounding(t *testing.T) {
	got := TemperatureFromADC(0x0200)
	assert.Equal(t, got, round2(got))
	assert.InDelta(t, 38.97, got, 0.005)
}

func TestScaledDecimal(t *testing.T) {
	d := desc(catalog.TypeScaledDecimal, 2)
	d.Scale = 10
	f, err := Decode(d, []byte{0x01, 0x85}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 38.9, f.Value)

	v, err := ScaledDecimal([]byte{0x05}, 0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
}

func TestCellVoltages(t *testing.T) {
	raw := []byte{0x0C, 0xE4, 0x0C, 0xE0, 0x0C, 0xE2, 0x0C, 0xE1, 0x0C, 0xE3}
	f, err := Decode(desc(catalog.TypeCellVoltageArray, 10), raw, Options{})
	require.NoError(t, err)

	cells, ok := f.Value.(Cells)
	require.True(t, ok)
	assert.Equal(t, []uint16{3300, 3296, 3298, 3297, 3299}, cells.Millivolts)
	assert.Equal(t, uint16(4), cells.Imbalance)
	assert.Equal(t, uint32(16490), cells.Total())
	assert.Equal(t, "3300, 3296, 3298, 3297, 3299 (imbalance 4 mV)", f.String())
}

func TestASCIIPadding(t *testing.T) {
	raw := []byte("HELLO---------------")

	f, err := Decode(desc(catalog.TypeASCII, 20), raw, Options{})
	require.NoError(t, err)
	assert.Equal(t, "HELLO---------------", f.Value, "no trimming unless asked")

	f, err = Decode(desc(catalog.TypeASCII, 20), raw, Options{TrimPadding: true})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", f.Value)

	f, err = Decode(desc(catalog.TypeSerialNumber, 9), []byte("F23KA0142"), Options{TrimPadding: true})
	require.NoError(t, err)
	assert.Equal(t, "F23KA0142", f.Value)
	assert.Equal(t, catalog.TypeSerialNumber, f.Type)
}

func TestDecodeShortSlice(t *testing.T) {
	for _, typ := range catalog.Types {
		length := uint16(4)
		if typ == catalog.TypeADCTemperature {
			length = 2
		}
		d := desc(typ, length)
		d.Scale = 1
		_, err := Decode(d, []byte{0x01}, Options{})
		assert.ErrorIsf(t, err, ErrDecode, "type %s", typ)
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	f, err := Decode(desc(catalog.TypeUint, 1), []byte{0x07, 0xFF, 0xFF}, Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f.Value)
	assert.Equal(t, []byte{0x07}, f.Raw)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode(desc("float", 1), []byte{0x00}, Options{})
	assert.ErrorIs(t, err, ErrDecode)
}
