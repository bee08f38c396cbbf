package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/davidlao2k/m18-protocol/internal/catalog"
	"github.com/davidlao2k/m18-protocol/internal/diag"
	"github.com/davidlao2k/m18-protocol/internal/session"
	"github.com/davidlao2k/m18-protocol/internal/transport"
)

func readAll(t *testing.T, sim *transport.SimDevice, ids []int) (*diag.FieldSet, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	ch := session.New(sim, session.WithSleep(func(time.Duration) {}))
	if err := ch.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	set, err := diag.ReadFields(context.Background(), ch, cat, ids, diag.DefaultOptions())
	if err != nil {
		t.Fatalf("ReadFields: %v", err)
	}
	return set, cat
}

func TestNewFieldsReport(t *testing.T) {
	sim := transport.NewSimDevice(transport.DefaultImage())
	sim.CorruptAt(0x4000)
	set, _ := readAll(t, sim, []int{0, 7, 2})

	r := NewFieldsReport(testMeta, set)
	if r.Read != 2 || r.Failed != 1 {
		t.Fatalf("read/failed = %d/%d, want 2/1", r.Read, r.Failed)
	}
	if r.Fields[0].Key != "cell_type" || r.Fields[0].Address != "0x0000" {
		t.Errorf("first field = %+v", r.Fields[0])
	}
	if !strings.Contains(r.Fields[1].Text, transport.ImageSerial) {
		t.Errorf("fields should follow catalog order, got %+v", r.Fields[1])
	}
	if r.Fields[2].Key != "cell_voltages" || r.Fields[2].Error == "" || r.Fields[2].Raw != "" {
		t.Errorf("corrupt field should carry only an error: %+v", r.Fields[2])
	}
}

func TestWriteFieldsFormats(t *testing.T) {
	r := FieldsReport{
		Meta:   testMeta,
		Read:   1,
		Failed: 1,
		Fields: []FieldRecord{
			{ID: 0, Key: "cell_type", Label: "Cell type", Type: "uint", Address: "0x0000", Value: uint64(165), Text: "165", Raw: "00 a5"},
			{ID: 7, Key: "cell_voltages", Label: "Cell voltages (mV)", Type: "cell_voltage_array", Address: "0x4000", Error: "checksum mismatch"},
		},
	}

	var label bytes.Buffer
	if err := WriteFields(&label, r, FormatLabel); err != nil {
		t.Fatalf("label: %v", err)
	}
	for _, want := range []string{"Cell type:", "165", "error: checksum mismatch", "1 read, 1 failed"} {
		if !strings.Contains(label.String(), want) {
			t.Errorf("label output missing %q:\n%s", want, label.String())
		}
	}

	var raw bytes.Buffer
	if err := WriteFields(&raw, r, FormatRaw); err != nil {
		t.Fatalf("raw: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(raw.String()), "\n")
	if len(lines) != 2 || lines[0] != "0\t0x0000\t00 a5\t165" {
		t.Errorf("raw output = %q", raw.String())
	}
	if lines[1] != "7\t0x4000\t-\tERR checksum mismatch" {
		t.Errorf("raw error line = %q", lines[1])
	}

	var buf bytes.Buffer
	if err := WriteFields(&buf, r, FormatCSV); err != nil {
		t.Fatalf("csv: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("csv parse: %v", err)
	}
	if len(records) != 3 || records[0][0] != "id" || records[2][7] != "checksum mismatch" {
		t.Errorf("csv records = %v", records)
	}

	var js bytes.Buffer
	if err := WriteFields(&js, r, FormatJSON); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(js.String(), `"key": "cell_voltages"`) {
		t.Errorf("json output = %s", js.String())
	}

	if err := WriteFields(&js, r, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestHealthText(t *testing.T) {
	sim := transport.NewSimDevice(transport.DefaultImage())
	sim.CorruptAt(0x901C)
	set, cat := readAll(t, sim, nil)
	h := diag.BuildHealth(set, cat, time.Date(2023, 10, 11, 0, 0, 0, 0, time.UTC))

	out := HealthText(h)
	for _, want := range []string{
		"M18 battery health report",
		"5Ah XC (5s2p 18650)",
		transport.ImageSerial,
		"16.49 V",
		"38.97 °C (adc)",
		"122 (redlink 98, dumb 24)",
		"600.00 Ah",
		"120.00 (5.0 Ah pack)",
		"Time by discharge current",
		"1 fields could not be read:",
		"Total time on tool (>1A)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("health text missing %q", want)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("plain rendering should not contain escape sequences")
	}

	var buf bytes.Buffer
	if err := WriteHealthText(&buf, h); err != nil {
		t.Fatalf("WriteHealthText: %v", err)
	}
	if buf.String() != out+"\n" {
		t.Error("WriteHealthText to a buffer should match HealthText")
	}
}

func TestHealthTextUnknownCapacity(t *testing.T) {
	out := HealthText(&diag.Health{Type: "999", Model: "Unknown"})
	if !strings.Contains(out, "n/a (unknown capacity)") {
		t.Error("cycles should be n/a without a capacity")
	}
	if !strings.Contains(out, "Temperature") || !strings.Contains(out, "n/a") {
		t.Error("temperature should be n/a without a source")
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Days since") && !strings.Contains(line, "n/a") {
			t.Errorf("unread date should render n/a: %q", line)
		}
	}
}

func TestWriteScanText(t *testing.T) {
	s := NewScanReport(testMeta, diag.ScanRange{Start: 0x10, Stop: 0x15, Length: 2})
	s.Add(diag.ScanResult{Address: 0x10, Length: 2, Response: []byte{0x81, 0x00, 0x10, 0x02, 0x00, 0x93}, Valid: true, ChecksumOK: true}, true)
	s.Add(diag.ScanResult{Address: 0x12, Length: 2, Response: []byte{0x82, 0x00}}, true)

	var buf bytes.Buffer
	if err := WriteScanText(&buf, s); err != nil {
		t.Fatalf("WriteScanText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Scan 0x0010-0x0015, length 2", "0x0010 len 2", "valid", "refused", "2 probes, 1 valid, stopped early"} {
		if !strings.Contains(out, want) {
			t.Errorf("scan text missing %q:\n%s", want, out)
		}
	}
}

func TestWriteCatalog(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteCatalog(&buf, cat.All()); err != nil {
		t.Fatalf("WriteCatalog: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != cat.Len()+1 {
		t.Errorf("got %d lines, want header plus %d", len(lines), cat.Len())
	}
	if !strings.Contains(lines[1], "0x0000") || !strings.Contains(lines[1], "cell_type") {
		t.Errorf("first row = %q", lines[1])
	}
}
