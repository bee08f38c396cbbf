package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidlao2k/m18-protocol/internal/transport"
)

// run executes the CLI against a fresh emulated pack with pacing disabled.
func run(t *testing.T, sim *transport.SimDevice, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	if sim == nil {
		sim = transport.NewSimDevice(transport.DefaultImage())
	}
	g := &globalFlags{sim: sim, sleep: func(time.Duration) {}}
	cmd := buildRootCmd(g)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--log-level", "silent"))
	err := cmd.Execute()
	return out.String(), err
}

func TestArgumentErrors(t *testing.T) {
	tests := []struct {
		name    string
		cmd     func(*globalFlags) *cobra.Command
		args    []string
		wantErr string
	}{
		{"scan missing range", newScanCmd, nil, "required flags --start and --stop not set"},
		{"scan bad address", newScanCmd, []string{"--start", "zz", "--stop", "0x10"}, `invalid address "zz"`},
		{"scan empty range", newScanCmd, []string{"--start", "0x10", "--stop", "0x01"}, "is empty"},
		{"scan bad length", newScanCmd, []string{"--start", "0", "--stop", "1", "--length", "0"}, "out of range 1..255"},
		{"health bad format", newHealthCmd, []string{"--format", "xml"}, `unknown format "xml"`},
		{"read bad format", newReadCmd, []string{"--format", "xml"}, `unknown format "xml"`},
		{"command unknown", newCommandCmd, []string{"charge"}, `unknown command "charge"`},
		{"raw missing address", newRawCmd, []string{"0x01"}, "accepts between 2 and 3 arg(s)"},
		{"note too long", newNoteCmd, []string{"THIS NOTE IS FAR TOO LONG"}, "note too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.cmd(&globalFlags{})
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			cmd.SetArgs(tt.args)
			err := cmd.Execute()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error: got %q want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParseRaw(t *testing.T) {
	req, err := parseRaw([]string{"0x01", "0x0011", "04"}, 0)
	if err != nil {
		t.Fatalf("parseRaw: %v", err)
	}
	if req.opcode != 0x01 || req.addr != 0x0011 || !bytes.Equal(req.extra, []byte{0x04}) || req.expect != 9 {
		t.Errorf("parsed %+v", req)
	}

	req, err = parseRaw([]string{"0x61", "0"}, 0)
	if err != nil || req.expect != 5 || len(req.extra) != 0 {
		t.Errorf("no extra bytes: %+v, %v", req, err)
	}

	req, err = parseRaw([]string{"1", "0x4000", "0x0a"}, 2)
	if err != nil || req.expect != 2 || req.extra[0] != 0x0A {
		t.Errorf("explicit expect: %+v, %v", req, err)
	}

	if _, err := parseRaw([]string{"0x100", "0"}, 0); err == nil {
		t.Error("opcode above 0xFF should fail")
	}
	if _, err := parseRaw([]string{"1", "0", "xyz"}, 0); err == nil {
		t.Error("non-hex extra bytes should fail")
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, nil, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "m18 version dev") {
		t.Errorf("output %q", out)
	}
}

func TestHealthCmd(t *testing.T) {
	out, err := run(t, nil, "health", "--port", "sim")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	for _, want := range []string{"M18 battery health report", transport.ImageSerial, "16.49 V"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHealthCmdJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health.json")
	if _, err := run(t, nil, "health", "--port", "sim", "--format", "json", "--output", path); err != nil {
		t.Fatalf("health: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded struct {
		Meta struct {
			Port string `json:"port"`
		} `json:"meta"`
		Health struct {
			Serial      string  `json:"serial"`
			PackVoltage float64 `json:"pack_voltage"`
		} `json:"health"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Meta.Port != "sim" || decoded.Health.Serial != transport.ImageSerial || decoded.Health.PackVoltage != 16.49 {
		t.Errorf("decoded %+v", decoded)
	}
}

func TestHealthCmdSilentPack(t *testing.T) {
	sim := transport.NewSimDevice(transport.DefaultImage())
	sim.SetMute(true)
	_, err := run(t, sim, "health", "--port", "sim")
	if err == nil {
		t.Fatal("expected handshake error")
	}
	if !strings.Contains(err.Error(), "J2") {
		t.Errorf("error should carry the wiring hint: %v", err)
	}
}

func TestReadCmdCSV(t *testing.T) {
	out, err := run(t, nil, "read", "--port", "sim", "--fields", "cell_type,7", "--format", "csv")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("want header and 2 rows, got:\n%s", out)
	}
	if !strings.HasPrefix(lines[1], "0,cell_type,") || !strings.HasPrefix(lines[2], "7,cell_voltages,") {
		t.Errorf("rows = %q", lines[1:])
	}
}

func TestReadCmdUnknownField(t *testing.T) {
	_, err := run(t, nil, "read", "--port", "sim", "--fields", "nonsense")
	if err == nil || !strings.Contains(err.Error(), `unknown register "nonsense"`) {
		t.Errorf("got %v", err)
	}
}

func TestScanCmd(t *testing.T) {
	out, err := run(t, nil, "scan", "--port", "sim", "--start", "0x10", "--stop", "0x15", "--no-progress")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for _, want := range []string{"0x0010 len 2", "0x0011 len 2", "6 probes, 2 valid, complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestResetAndCommandCmds(t *testing.T) {
	out, err := run(t, nil, "reset", "--port", "sim")
	if err != nil || !strings.Contains(out, "answered sync (access code 0x04)") {
		t.Fatalf("reset: %v\n%s", err, out)
	}

	out, err = run(t, nil, "command", "snapshot", "--port", "sim", "--count", "3")
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	for _, want := range []string{"snapshot (access 0x04)", "snapshot (access 0x0C)", "snapshot (access 0x1C)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRawCmd(t *testing.T) {
	out, err := run(t, nil, "raw", "0x01", "0x0000", "02", "--port", "sim")
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if !strings.Contains(out, "reply (7 of 7 bytes): 81 00 02") || !strings.Contains(out, "checksum ok: true") {
		t.Errorf("output %q", out)
	}
}

func TestNoteCmd(t *testing.T) {
	sim := transport.NewSimDevice(transport.DefaultImage())
	if _, err := run(t, sim, "note", "SHOP 3", "--port", "sim"); err != nil {
		t.Fatalf("note: %v", err)
	}
	if got := string(sim.Memory(0x0023, 20)); got != "SHOP 3--------------" {
		t.Errorf("note memory = %q", got)
	}
}

func TestLineCmds(t *testing.T) {
	sim := transport.NewSimDevice(transport.DefaultImage())
	if _, err := run(t, sim, "high", "--for", "300ms", "--port", "sim"); err != nil {
		t.Fatalf("high: %v", err)
	}
	if !sim.Line(transport.Break) {
		t.Error("line should be idle after high")
	}
	if _, err := run(t, sim, "idle", "--port", "sim"); err != nil {
		t.Fatalf("idle: %v", err)
	}
}

func TestSelfTestCmd(t *testing.T) {
	out, err := run(t, nil, "selftest", "--fast")
	if err != nil {
		t.Fatalf("selftest: %v\n%s", err, out)
	}
	if strings.Contains(out, "FAIL") || !strings.Contains(out, "selftest passed (7 steps)") {
		t.Errorf("output:\n%s", out)
	}
}

func TestTraceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset.pcap")
	if _, err := run(t, nil, "reset", "--port", "sim", "--trace-pcap", path); err != nil {
		t.Fatalf("reset: %v", err)
	}
	out, err := run(t, nil, "trace", "dump", path)
	if err != nil {
		t.Fatalf("trace dump: %v", err)
	}
	if !strings.Contains(out, "tx       aa") || !strings.Contains(out, "rx       aa") {
		t.Errorf("sync exchange missing from dump:\n%s", out)
	}
}

func TestMetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m18.prom")
	if _, err := run(t, nil, "read", "--port", "sim", "--fields", "0-3", "--metrics-file", path); err != nil {
		t.Fatalf("read: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(data), `m18_fields_total{result="ok"} 4`) {
		t.Errorf("metrics:\n%s", data)
	}
}

func TestCatalogCmds(t *testing.T) {
	out, err := run(t, nil, "catalog", "list", "--search", "temperature")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "temperature_adc") || strings.Contains(out, "cell_type") {
		t.Errorf("list output:\n%s", out)
	}

	out, err = run(t, nil, "catalog", "show", "temperature_forge")
	if err != nil || !strings.Contains(out, "scale:   10") {
		t.Errorf("show: %v\n%s", err, out)
	}

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if _, err := run(t, nil, "catalog", "export", "--output", path); err != nil {
		t.Fatalf("export: %v", err)
	}
	out, err = run(t, nil, "catalog", "validate", path)
	if err != nil || !strings.Contains(out, "OK") {
		t.Errorf("validate: %v\n%s", err, out)
	}
}

func TestConfigCmds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m18.yaml")
	if _, err := run(t, nil, "config", "init", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	out, err := run(t, nil, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "# source: "+path) || !strings.Contains(out, "baud: 4800") {
		t.Errorf("show output:\n%s", out)
	}
}
