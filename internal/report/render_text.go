package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/davidlao2k/m18-protocol/internal/catalog"
	"github.com/davidlao2k/m18-protocol/internal/diag"
)

// Output formats for field reports.
const (
	FormatLabel = "label"
	FormatRaw   = "raw"
	FormatCSV   = "csv"
	FormatJSON  = "json"
)

// Formats lists the accepted field report formats.
var Formats = []string{FormatLabel, FormatRaw, FormatCSV, FormatJSON}

type styles struct {
	title   lipgloss.Style
	section lipgloss.Style
	label   lipgloss.Style
	meta    lipgloss.Style
	bad     lipgloss.Style
	frame   lipgloss.Style
}

// newStyles binds styles to w, so colour is only emitted on a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		section: r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		label:   r.NewStyle().Width(28),
		meta:    r.NewStyle().Foreground(lipgloss.Color("8")),
		bad:     r.NewStyle().Foreground(lipgloss.Color("1")),
		frame: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1),
	}
}

// WriteHealthText renders a health report for a terminal.
func WriteHealthText(w io.Writer, h *diag.Health) error {
	_, err := io.WriteString(w, renderHealth(newStyles(w), h)+"\n")
	return err
}

// HealthText renders a health report as plain text.
func HealthText(h *diag.Health) string {
	var b strings.Builder
	return renderHealth(newStyles(&b), h)
}

func renderHealth(st styles, h *diag.Health) string {
	row := func(label, value string) string {
		return "  " + st.label.Render(label) + value
	}
	lines := []string{
		st.title.Render("M18 battery health report"),
		st.meta.Render(fmt.Sprintf("%s  id %s", FormatTimestamp(h.GeneratedAt), h.ID)),
		"",
		st.section.Render("Pack"),
		row("Type", fmt.Sprintf("%s (%s)", h.Type, h.Model)),
		row("Serial", h.Serial),
		row("Manufacture date", h.ManufactureDate),
		row("Days since first charge", formatDays(h.DaysSinceFirstCharge)),
		row("Days since last tool use", formatDays(h.DaysSinceLastUse)),
		row("Days since last charge", formatDays(h.DaysSinceLastCharge)),
		"",
		st.section.Render("Voltages"),
		row("Pack voltage", fmt.Sprintf("%.2f V", h.PackVoltage)),
		row("Cell voltages (mV)", joinUints(h.CellVoltages)),
		row("Cell imbalance", fmt.Sprintf("%d mV", h.CellImbalance)),
		row("Temperature", formatTemperature(h)),
		"",
		st.section.Render("Charging"),
		row("Charge count", fmt.Sprintf("%d (redlink %d, dumb %d)", h.ChargeCountTotal, h.ChargeCountRedlink, h.ChargeCountDumb)),
		row("Total charge time", h.TotalChargeTime),
		row("Idle on charger", h.IdleOnChargerTime),
		row("Low-voltage charges", strconv.FormatUint(h.LowVoltageCharges, 10)),
		"",
		st.section.Render("Discharge"),
		row("Total discharge", fmt.Sprintf("%.2f Ah", h.TotalDischargeAh)),
		row("Discharge cycles", formatCycles(h)),
		row("Discharged to empty", strconv.FormatUint(h.DischargedToEmpty, 10)),
		row("Overheat events", strconv.FormatUint(h.OverheatEvents, 10)),
		row("Overcurrent events", strconv.FormatUint(h.OvercurrentEvents, 10)),
		row("Low-voltage events", strconv.FormatUint(h.LowVoltageEvents, 10)),
		row("Low-voltage bounce", strconv.FormatUint(h.LowVoltageBounce, 10)),
		row("Total time on tool", h.TotalTimeOnTool),
	}
	if len(h.CurrentBuckets) > 0 {
		lines = append(lines, "", st.section.Render("Time by discharge current"))
		for _, b := range h.CurrentBuckets {
			lines = append(lines, row(b.Range, b.Duration))
		}
	}
	if len(h.Failures) > 0 {
		lines = append(lines, "", st.bad.Render(fmt.Sprintf("%d fields could not be read:", len(h.Failures))))
		labels := make([]string, 0, len(h.Failures))
		for label := range h.Failures {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			lines = append(lines, st.bad.Render("  "+label+": "+h.Failures[label]))
		}
	}
	return st.frame.Render(strings.Join(lines, "\n"))
}

func formatTemperature(h *diag.Health) string {
	if h.TemperatureSource == "" {
		return "n/a"
	}
	return fmt.Sprintf("%.2f °C (%s)", h.Temperature, h.TemperatureSource)
}

func formatDays(days *int) string {
	if days == nil {
		return "n/a"
	}
	return strconv.Itoa(*days)
}

func formatCycles(h *diag.Health) string {
	if h.CapacityAh == 0 {
		return "n/a (unknown capacity)"
	}
	return fmt.Sprintf("%.2f (%.1f Ah pack)", h.DischargeCycles, h.CapacityAh)
}

func joinUints(v []uint16) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(int(x))
	}
	return strings.Join(parts, ", ")
}

// WriteFields renders a field report in one of Formats.
func WriteFields(w io.Writer, r FieldsReport, format string) error {
	switch format {
	case FormatLabel, "":
		return writeFieldsLabel(w, r)
	case FormatRaw:
		return writeFieldsRaw(w, r)
	case FormatCSV:
		return writeFieldsCSV(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	}
	return fmt.Errorf("unknown format %q (want %s)", format, strings.Join(Formats, ", "))
}

func writeFieldsLabel(w io.Writer, r FieldsReport) error {
	st := newStyles(w)
	for _, f := range r.Fields {
		value := f.Text
		if f.Error != "" {
			value = st.bad.Render("error: " + f.Error)
		}
		if _, err := fmt.Fprintf(w, "%s%s\n", st.label.Width(40).Render(f.Label+":"), value); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, st.meta.Render(fmt.Sprintf("%d read, %d failed", r.Read, r.Failed)))
	return err
}

// writeFieldsRaw prints one tab separated line per register: id, address,
// raw bytes, value. Failed registers show their error kind instead.
func writeFieldsRaw(w io.Writer, r FieldsReport) error {
	for _, f := range r.Fields {
		raw, value := f.Raw, f.Text
		if f.Error != "" {
			raw, value = "-", "ERR "+f.Error
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", f.ID, f.Address, raw, value); err != nil {
			return err
		}
	}
	return nil
}

func writeFieldsCSV(w io.Writer, r FieldsReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "key", "label", "type", "address", "value", "raw", "error"}); err != nil {
		return err
	}
	for _, f := range r.Fields {
		if err := cw.Write([]string{strconv.Itoa(f.ID), f.Key, f.Label, f.Type, f.Address, f.Text, f.Raw, f.Error}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteScanText renders the results of a register scan.
func WriteScanText(w io.Writer, s *ScanReport) error {
	st := newStyles(w)
	lines := []string{st.section.Render(fmt.Sprintf("Scan %s-%s, length %d", s.Start, s.Stop, s.Length))}
	for _, rec := range s.Results {
		mark := "valid"
		switch {
		case rec.Error != "":
			mark = st.bad.Render(rec.Error)
		case !rec.Valid:
			mark = st.meta.Render("refused")
		case !rec.ChecksumOK:
			mark = st.bad.Render("bad checksum")
		}
		lines = append(lines, fmt.Sprintf("  %s len %-3d %-10s %s", rec.Address, rec.Length, mark, rec.Response))
	}
	hits := 0
	for _, rec := range s.Results {
		if rec.Valid {
			hits++
		}
	}
	status := "complete"
	if !s.Complete {
		status = "stopped early"
	}
	lines = append(lines, st.meta.Render(fmt.Sprintf("%d probes, %d valid, %s", s.Probes, hits, status)))
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

// WriteCatalog renders register descriptors as a table.
func WriteCatalog(w io.Writer, descs []catalog.Descriptor) error {
	st := newStyles(w)
	header := fmt.Sprintf("%-4s %-7s %-4s %-19s %-24s %s", "ID", "ADDR", "LEN", "TYPE", "KEY", "LABEL")
	if _, err := fmt.Fprintln(w, st.section.Render(header)); err != nil {
		return err
	}
	for _, d := range descs {
		if _, err := fmt.Fprintf(w, "%-4d %-7s %-4d %-19s %-24s %s\n", d.ID, d.Address, d.Length, d.Type, d.Key, d.Label); err != nil {
			return err
		}
	}
	return nil
}
