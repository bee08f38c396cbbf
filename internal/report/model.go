package report

import (
	"time"

	"github.com/davidlao2k/m18-protocol/internal/catalog"
	"github.com/davidlao2k/m18-protocol/internal/diag"
	"github.com/davidlao2k/m18-protocol/internal/frame"
)

// Meta identifies where and when a report was taken.
type Meta struct {
	GeneratedAt string `json:"generated_at"`
	Port        string `json:"port,omitempty"`
	Catalog     string `json:"catalog,omitempty"`
	Version     string `json:"m18_version,omitempty"`
}

// NewMeta stamps a report taken now on port.
func NewMeta(now time.Time, port, catalog, version string) Meta {
	return Meta{
		GeneratedAt: FormatTimestamp(now),
		Port:        port,
		Catalog:     catalog,
		Version:     version,
	}
}

// FieldRecord is one register of a field report.
type FieldRecord struct {
	ID      int    `json:"id"`
	Key     string `json:"key"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Address string `json:"address"`
	Value   any    `json:"value,omitempty"`
	Text    string `json:"text,omitempty"`
	Raw     string `json:"raw,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FieldsReport is the serialisable form of a field set.
type FieldsReport struct {
	Meta
	Read   int           `json:"read"`
	Failed int           `json:"failed"`
	Fields []FieldRecord `json:"fields"`
}

// NewFieldsReport flattens set in catalog order.
func NewFieldsReport(meta Meta, set *diag.FieldSet) FieldsReport {
	r := FieldsReport{Meta: meta, Fields: make([]FieldRecord, 0, set.Len())}
	for _, e := range set.Entries() {
		rec := FieldRecord{
			ID:      e.Descriptor.ID,
			Key:     e.Descriptor.Key,
			Label:   e.Descriptor.Label,
			Type:    string(e.Descriptor.Type),
			Address: e.Descriptor.Address.String(),
		}
		if e.Err != nil {
			rec.Error = e.Err.Error()
			r.Failed++
		} else {
			rec.Value = e.Field.Value
			rec.Text = e.Field.String()
			rec.Raw = frame.Hex(e.Field.Raw)
			r.Read++
		}
		r.Fields = append(r.Fields, rec)
	}
	return r
}

// HealthReport wraps a health report with its metadata.
type HealthReport struct {
	Meta   Meta         `json:"meta"`
	Health *diag.Health `json:"health"`
}

// ScanRecord is one probe of a register scan.
type ScanRecord struct {
	Address    string `json:"address"`
	Length     int    `json:"length"`
	Valid      bool   `json:"valid"`
	ChecksumOK bool   `json:"checksum_ok"`
	Response   string `json:"response,omitempty"`
	Data       string `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewScanRecord flattens one scan result.
func NewScanRecord(res diag.ScanResult) ScanRecord {
	rec := ScanRecord{
		Address:    addrString(res.Address),
		Length:     res.Length,
		Valid:      res.Valid,
		ChecksumOK: res.ChecksumOK,
		Response:   frame.Hex(res.Response),
		Data:       frame.Hex(res.Data()),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	return rec
}

// ScanReport summarises a register scan.
type ScanReport struct {
	Meta
	Start    string       `json:"start"`
	Stop     string       `json:"stop"`
	Length   int          `json:"length"`
	Probes   int          `json:"probes"`
	Complete bool         `json:"complete"`
	Results  []ScanRecord `json:"results"`
}

// NewScanReport starts an empty report for r.
func NewScanReport(meta Meta, r diag.ScanRange) *ScanReport {
	return &ScanReport{
		Meta:    meta,
		Start:   addrString(r.Start),
		Stop:    addrString(r.Stop),
		Length:  r.Length,
		Results: []ScanRecord{},
	}
}

// Add records one probe. Only valid replies are kept unless all is set.
func (s *ScanReport) Add(res diag.ScanResult, all bool) {
	s.Probes++
	if res.Valid || all {
		s.Results = append(s.Results, NewScanRecord(res))
	}
}

func addrString(a uint16) string {
	return catalog.Address(a).String()
}
