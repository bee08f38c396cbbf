package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davidlao2k/m18-protocol/internal/diag"
)

var testMeta = NewMeta(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), "/dev/ttyUSB0", "builtin", "1.0.0")

func TestWriteJSON(t *testing.T) {
	report := HealthReport{
		Meta:   testMeta,
		Health: &diag.Health{ID: "abc", Type: "165", PackVoltage: 16.49},
	}

	var buf bytes.Buffer
	if err := WriteJSON(&buf, report); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var decoded map[string]map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if got := decoded["meta"]["generated_at"]; got != "2024-01-15T10:00:00Z" {
		t.Errorf("generated_at = %v, want 2024-01-15T10:00:00Z", got)
	}
	if got := decoded["health"]["pack_voltage"]; got != 16.49 {
		t.Errorf("pack_voltage = %v, want 16.49", got)
	}
}

func TestWriteJSONFile(t *testing.T) {
	report := NewScanReport(testMeta, diag.ScanRange{Start: 0x10, Stop: 0x12, Length: 2})
	report.Add(diag.ScanResult{Address: 0x10, Length: 2, Response: []byte{0x81, 0x01, 0x02}, Valid: true}, false)
	report.Add(diag.ScanResult{Address: 0x11, Length: 2, Response: []byte{0x82, 0x00}}, false)

	path := filepath.Join(t.TempDir(), "scan.json")
	if err := WriteJSONFile(path, report); err != nil {
		t.Fatalf("WriteJSONFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	var decoded ScanReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("File content is not valid JSON: %v", err)
	}
	if decoded.Probes != 2 {
		t.Errorf("Probes = %d, want 2", decoded.Probes)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].Address != "0x0010" {
		t.Errorf("Results = %+v, want only the 0x0010 hit", decoded.Results)
	}
	if decoded.Port != "/dev/ttyUSB0" {
		t.Errorf("Port = %q, want /dev/ttyUSB0", decoded.Port)
	}
}

func TestWriteJSONFileBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "scan.json")
	if err := WriteJSONFile(path, testMeta); err == nil {
		t.Error("expected error for missing directory")
	}
}
