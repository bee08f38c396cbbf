package catalog

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "m18", c.Name())
	assert.Equal(t, 39, c.Len())

	first := c.All()[0]
	assert.Equal(t, "cell_type", first.Key)
	assert.Equal(t, Address(0x0000), first.Address)
	assert.Equal(t, TypeUint, first.Type)

	note, ok := c.Lookup("note")
	require.True(t, ok)
	assert.Equal(t, Address(0x0023), note.Address)
	assert.Equal(t, uint16(20), note.Length)
	assert.Equal(t, TypeASCII, note.Type)

	temp, ok := c.Lookup("temperature_forge")
	require.True(t, ok)
	assert.Equal(t, 10.0, temp.Scale)
}

func TestDefaultCatalogCoversEveryType(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	seen := make(map[Type]bool)
	for _, d := range c.All() {
		seen[d.Type] = true
	}
	for _, typ := range Types {
		assert.Truef(t, seen[typ], "no register of type %s", typ)
	}
}

func TestSelectPreservesCatalogOrder(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	got, err := c.Select([]int{12, 0, 7, 0})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 7, 12}, []int{got[0].ID, got[1].ID, got[2].ID})

	all, err := c.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, c.Len())

	_, err = c.Select([]int{999})
	assert.Error(t, err)
}

func TestParseSelection(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	ids, err := c.ParseSelection("0, 20-22,note")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 20, 21, 22, 5}, ids)

	_, err = c.ParseSelection("bogus")
	assert.Error(t, err)

	_, err = c.ParseSelection("9-3")
	assert.Error(t, err)
}

func TestParseSelectionRangeBounds(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	ids, err := c.ParseSelection(fmt.Sprintf("0-%d", c.Len()-1))
	require.NoError(t, err)
	assert.Len(t, ids, c.Len())

	ids, err = c.ParseSelection("0-100000000")
	assert.ErrorContains(t, err, "outside register ids")
	assert.Nil(t, ids)

	_, err = c.ParseSelection("-5-3")
	assert.Error(t, err)
}

func TestBuckets(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	buckets := c.Buckets()
	require.Len(t, buckets, 14)
	assert.Equal(t, "1-10A", buckets[0].Bucket)
	assert.Equal(t, ">130A", buckets[len(buckets)-1].Bucket)
}

func TestBatteryLookup(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	b, ok := c.Battery("165")
	require.True(t, ok)
	assert.Equal(t, 5.0, b.CapacityAh)

	_, ok = c.Battery("9999")
	assert.False(t, ok)
	assert.NotEmpty(t, c.Batteries())
}

func TestSearch(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	matches := c.Search("charge count")
	require.Len(t, matches, 2)
	assert.Equal(t, "redlink_charge_count", matches[0].Key)

	assert.Len(t, c.Search("0x9000"), 1)
	assert.Len(t, c.Search(""), c.Len())
}

func TestValidate(t *testing.T) {
	base := func() *File {
		return &File{
			Version: 1,
			Name:    "test",
			Registers: []*Descriptor{
				{ID: 0, Key: "a", Address: 0x10, Length: 2, Type: TypeUint, Label: "A"},
				{ID: 1, Key: "b", Address: 0x20, Length: 4, Type: TypeDate, Label: "B"},
			},
		}
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(f *File)
		want   string
	}{
		{"version", func(f *File) { f.Version = 2 }, "unsupported catalog version"},
		{"empty", func(f *File) { f.Registers = nil }, "no registers"},
		{"duplicate key", func(f *File) { f.Registers[1].Key = "a" }, "duplicate key"},
		{"duplicate id", func(f *File) { f.Registers[1].ID = 0 }, "duplicate id"},
		{"unknown type", func(f *File) { f.Registers[0].Type = "float" }, "unknown type"},
		{"zero length", func(f *File) { f.Registers[0].Length = 0 }, "out of range"},
		{"too long", func(f *File) { f.Registers[0].Length = 256 }, "out of range"},
		{"wide uint", func(f *File) { f.Registers[0].Length = 9 }, "longer than 8"},
		{"short date", func(f *File) { f.Registers[1].Length = 2 }, "must be 4 bytes"},
		{"no scale", func(f *File) { f.Registers[0].Type = TypeScaledDecimal }, "positive scale"},
		{"odd cells", func(f *File) {
			f.Registers[0].Type = TypeCellVoltageArray
			f.Registers[0].Length = 5
		}, "must be even"},
		{"battery capacity", func(f *File) {
			f.Batteries = []*Battery{{Code: "1", CapacityAh: 0}}
		}, "capacity_ah"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base()
			tt.mutate(f)
			err := f.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "export.yaml")
	require.NoError(t, Save(path, c.File()))

	file, err := LoadAndValidate(path)
	require.NoError(t, err)
	require.Len(t, file.Registers, c.Len())
	assert.Equal(t, Address(0x9000), file.Registers[10].Address)

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, c.All(), reopened.All())
}

func TestAddressYAML(t *testing.T) {
	file, err := Parse([]byte(strings.Join([]string{
		"version: 1",
		"name: t",
		"registers:",
		"  - {id: 0, key: a, address: \"0x1F\", length: 1, type: uint, label: A}",
		"  - {id: 1, key: b, address: 64, length: 1, type: uint, label: B}",
	}, "\n")))
	require.NoError(t, err)
	assert.Equal(t, Address(0x1F), file.Registers[0].Address)
	assert.Equal(t, Address(64), file.Registers[1].Address)
	assert.Equal(t, byte(0x00), file.Registers[0].Address.High())
	assert.Equal(t, byte(0x1F), file.Registers[0].Address.Low())

	_, err = Parse([]byte("version: 1\nregisters:\n  - {address: \"0x10000\"}\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
