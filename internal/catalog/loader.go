package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/m18.yaml
var embedded []byte

// Embedded returns the raw YAML of the built-in catalog.
func Embedded() []byte {
	return append([]byte(nil), embedded...)
}

// Parse decodes catalog YAML.
func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog YAML: %w", err)
	}
	return &file, nil
}

// Load reads a catalog from a YAML file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// LoadAndValidate reads a catalog and validates it.
func LoadAndValidate(path string) (*File, error) {
	file, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return file, nil
}

// Save writes a catalog to a YAML file.
func Save(path string, file *File) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write catalog file: %w", err)
	}
	return nil
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	file, err := Parse(embedded)
	if err != nil {
		return nil, err
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("validate embedded catalog: %w", err)
	}
	return NewCatalog(file), nil
}

// Open returns the catalog at path, or the built-in one when path is empty.
func Open(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	file, err := LoadAndValidate(path)
	if err != nil {
		return nil, err
	}
	return NewCatalog(file), nil
}

// Catalog provides indexed, read-only access to a register dictionary.
// It is safe for concurrent use once built.
type Catalog struct {
	file      *File
	byKey     map[string]*Descriptor
	byID      map[int]*Descriptor
	order     map[int]int // id -> position in file
	batteries map[string]*Battery
}

// NewCatalog creates an indexed catalog from a file.
func NewCatalog(file *File) *Catalog {
	c := &Catalog{
		file:      file,
		byKey:     make(map[string]*Descriptor),
		byID:      make(map[int]*Descriptor),
		order:     make(map[int]int),
		batteries: make(map[string]*Battery),
	}
	for i, d := range file.Registers {
		c.byKey[d.Key] = d
		c.byID[d.ID] = d
		c.order[d.ID] = i
	}
	for _, b := range file.Batteries {
		c.batteries[b.Code] = b
	}
	return c
}

// Name returns the catalog name.
func (c *Catalog) Name() string { return c.file.Name }

// Len returns the number of registers.
func (c *Catalog) Len() int { return len(c.file.Registers) }

// All returns every descriptor in device order.
func (c *Catalog) All() []Descriptor {
	out := make([]Descriptor, len(c.file.Registers))
	for i, d := range c.file.Registers {
		out[i] = *d
	}
	return out
}

// Lookup finds a descriptor by key.
func (c *Catalog) Lookup(key string) (Descriptor, bool) {
	d, ok := c.byKey[key]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// ByID finds a descriptor by id.
func (c *Catalog) ByID(id int) (Descriptor, bool) {
	d, ok := c.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Select returns the descriptors for ids in catalog order, whatever the
// order of ids. A nil or empty selection returns every register.
func (c *Catalog) Select(ids []int) ([]Descriptor, error) {
	if len(ids) == 0 {
		return c.All(), nil
	}
	seen := make(map[int]bool, len(ids))
	picked := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.byID[id]; !ok {
			return nil, fmt.Errorf("unknown register id %d", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		picked = append(picked, id)
	}
	sort.Slice(picked, func(i, j int) bool { return c.order[picked[i]] < c.order[picked[j]] })

	out := make([]Descriptor, len(picked))
	for i, id := range picked {
		out[i] = *c.byID[id]
	}
	return out, nil
}

// ParseSelection resolves a comma separated list of ids, id ranges
// ("20-33") and keys into register ids.
func (c *Catalog) ParseSelection(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, errA := strconv.Atoi(strings.TrimSpace(lo))
			b, errB := strconv.Atoi(strings.TrimSpace(hi))
			if errA == nil && errB == nil {
				if a > b {
					return nil, fmt.Errorf("invalid range %q", part)
				}
				if first, last := c.idSpan(); a < first || b > last {
					return nil, fmt.Errorf("range %q outside register ids %d-%d", part, first, last)
				}
				for id := a; id <= b; id++ {
					ids = append(ids, id)
				}
				continue
			}
		}
		if id, err := strconv.Atoi(part); err == nil {
			ids = append(ids, id)
			continue
		}
		d, ok := c.byKey[part]
		if !ok {
			return nil, fmt.Errorf("unknown register %q", part)
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// idSpan returns the lowest and highest register id.
func (c *Catalog) idSpan() (first, last int) {
	for i, d := range c.file.Registers {
		if i == 0 || d.ID < first {
			first = d.ID
		}
		if i == 0 || d.ID > last {
			last = d.ID
		}
	}
	return first, last
}

// Buckets returns the current-histogram registers in device order.
func (c *Catalog) Buckets() []Descriptor {
	var out []Descriptor
	for _, d := range c.file.Registers {
		if d.Bucket != "" {
			out = append(out, *d)
		}
	}
	return out
}

// Search finds descriptors whose key, label or type contains query.
func (c *Catalog) Search(query string) []Descriptor {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return c.All()
	}
	var matches []Descriptor
	for _, d := range c.file.Registers {
		if strings.Contains(strings.ToLower(d.Key), query) ||
			strings.Contains(strings.ToLower(d.Label), query) ||
			strings.Contains(string(d.Type), query) ||
			strings.Contains(strings.ToLower(d.Address.String()), query) {
			matches = append(matches, *d)
		}
	}
	return matches
}

// Battery resolves a cell type code through the model table.
func (c *Catalog) Battery(code string) (Battery, bool) {
	b, ok := c.batteries[code]
	if !ok {
		return Battery{}, false
	}
	return *b, true
}

// Batteries returns the model table in file order.
func (c *Catalog) Batteries() []Battery {
	out := make([]Battery, len(c.file.Batteries))
	for i, b := range c.file.Batteries {
		out[i] = *b
	}
	return out
}

// File returns the underlying catalog file.
func (c *Catalog) File() *File {
	return c.file
}
