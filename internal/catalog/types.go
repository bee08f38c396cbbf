// Package catalog provides the register dictionary and battery model table.
package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Type is the semantic type of a register's bytes.
type Type string

const (
	TypeUint             Type = "uint"
	TypeDate             Type = "date"
	TypeASCII            Type = "ascii"
	TypeSerialNumber     Type = "serial_number"
	TypeADCTemperature   Type = "adc_temperature"
	TypeScaledDecimal    Type = "scaled_decimal"
	TypeCellVoltageArray Type = "cell_voltage_array"
	TypeDuration         Type = "duration_hhmmss"
)

// Types lists every semantic type in declaration order.
var Types = []Type{
	TypeUint,
	TypeDate,
	TypeASCII,
	TypeSerialNumber,
	TypeADCTemperature,
	TypeScaledDecimal,
	TypeCellVoltageArray,
	TypeDuration,
}

// Valid reports whether t is a known semantic type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Address is a 16-bit register address. It reads and writes YAML as a hex
// string ("0x9000") and also accepts plain integers.
type Address uint16

// High returns the most significant byte.
func (a Address) High() byte { return byte(a >> 8) }

// Low returns the least significant byte.
func (a Address) Low() byte { return byte(a) }

func (a Address) String() string { return fmt.Sprintf("0x%04X", uint16(a)) }

// MarshalYAML implements yaml.Marshaler.
func (a Address) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Address) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseAddress(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*a = v
	return nil
}

// ParseAddress parses a decimal or 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Address(v), nil
}

// Descriptor describes one register.
type Descriptor struct {
	ID      int     `yaml:"id"`
	Key     string  `yaml:"key"`
	Address Address `yaml:"address"`
	Length  uint16  `yaml:"length"`
	Type    Type    `yaml:"type"`
	Label   string  `yaml:"label"`
	Scale   float64 `yaml:"scale,omitempty"`  // divisor for scaled_decimal
	Bucket  string  `yaml:"bucket,omitempty"` // current-histogram bucket name
}

// Battery is one row of the model lookup table.
type Battery struct {
	Code       string  `yaml:"code"`
	CapacityAh float64 `yaml:"capacity_ah"`
	Model      string  `yaml:"model"`
}

// File represents a catalog YAML file.
type File struct {
	Version   int           `yaml:"version"`
	Name      string        `yaml:"name"`
	Registers []*Descriptor `yaml:"registers"`
	Batteries []*Battery    `yaml:"batteries,omitempty"`
}

// MaxLength is the largest register read the wire format can request.
const MaxLength = 255

// Validate checks the catalog file for consistency.
func (f *File) Validate() error {
	if f.Version != 1 {
		return fmt.Errorf("unsupported catalog version: %d", f.Version)
	}
	if len(f.Registers) == 0 {
		return fmt.Errorf("catalog %q has no registers", f.Name)
	}

	ids := make(map[int]bool)
	keys := make(map[string]bool)
	for i, d := range f.Registers {
		if d == nil {
			return fmt.Errorf("register %d: empty entry", i)
		}
		if d.Key == "" {
			return fmt.Errorf("register %d: missing key", i)
		}
		if keys[d.Key] {
			return fmt.Errorf("register %d: duplicate key %q", i, d.Key)
		}
		keys[d.Key] = true
		if ids[d.ID] {
			return fmt.Errorf("register %q: duplicate id %d", d.Key, d.ID)
		}
		ids[d.ID] = true

		if d.Label == "" {
			return fmt.Errorf("register %q: missing label", d.Key)
		}
		if !d.Type.Valid() {
			return fmt.Errorf("register %q: unknown type %q", d.Key, d.Type)
		}
		if d.Length == 0 || d.Length > MaxLength {
			return fmt.Errorf("register %q: length %d out of range 1..%d", d.Key, d.Length, MaxLength)
		}
		if err := checkTypeLength(d); err != nil {
			return fmt.Errorf("register %q: %w", d.Key, err)
		}
	}

	codes := make(map[string]bool)
	for i, b := range f.Batteries {
		if b == nil || b.Code == "" {
			return fmt.Errorf("battery %d: missing code", i)
		}
		if codes[b.Code] {
			return fmt.Errorf("battery %d: duplicate code %q", i, b.Code)
		}
		codes[b.Code] = true
		if b.CapacityAh <= 0 {
			return fmt.Errorf("battery %q: capacity_ah must be positive", b.Code)
		}
	}

	return nil
}

func checkTypeLength(d *Descriptor) error {
	switch d.Type {
	case TypeUint:
		if d.Length > 8 {
			return fmt.Errorf("uint longer than 8 bytes (%d)", d.Length)
		}
	case TypeDate, TypeDuration:
		if d.Length != 4 {
			return fmt.Errorf("%s must be 4 bytes, got %d", d.Type, d.Length)
		}
	case TypeADCTemperature:
		if d.Length != 2 {
			return fmt.Errorf("adc_temperature must be 2 bytes, got %d", d.Length)
		}
	case TypeCellVoltageArray:
		if d.Length%2 != 0 {
			return fmt.Errorf("cell_voltage_array length must be even, got %d", d.Length)
		}
	case TypeScaledDecimal:
		if d.Length > 8 {
			return fmt.Errorf("scaled_decimal longer than 8 bytes (%d)", d.Length)
		}
		if d.Scale <= 0 {
			return fmt.Errorf("scaled_decimal needs a positive scale")
		}
	}
	return nil
}
