package metrics

// Exchange metrics for pack sessions

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Result labels.
const (
	ResultOK = "ok"
)

// Collector holds the counters for one process. All methods are safe on a
// nil receiver so callers can leave metrics switched off.
type Collector struct {
	reg *prometheus.Registry

	Exchanges        *prometheus.CounterVec   // labels: command, result
	ExchangeDuration *prometheus.HistogramVec // labels: command
	Rotations        prometheus.Counter
	Fields           *prometheus.CounterVec // labels: result
	ScanHits         prometheus.Counter
}

// New registers the exchange metrics on a fresh registry.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "m18_exchanges_total",
			Help: "Command/response exchanges with the pack.",
		}, []string{"command", "result"}),
		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "m18_exchange_duration_seconds",
			Help:    "Exchange latency including the recovery delay.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 3},
		}, []string{"command"}),
		Rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "m18_access_code_rotations_total",
			Help: "Access code advances.",
		}),
		Fields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "m18_fields_total",
			Help: "Register fields read, by outcome.",
		}, []string{"result"}),
		ScanHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "m18_scan_hits_total",
			Help: "Addresses that answered a brute scan.",
		}),
	}
	c.reg.MustRegister(c.Exchanges, c.ExchangeDuration, c.Rotations, c.Fields, c.ScanHits)
	return c
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.reg
}

// ObserveExchange records one exchange.
func (c *Collector) ObserveExchange(command, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.Exchanges.WithLabelValues(command, result).Inc()
	c.ExchangeDuration.WithLabelValues(command).Observe(d.Seconds())
}

// ObserveRotation records an access code advance.
func (c *Collector) ObserveRotation() {
	if c == nil {
		return
	}
	c.Rotations.Inc()
}

// ObserveField records the outcome of one register read.
func (c *Collector) ObserveField(result string) {
	if c == nil {
		return
	}
	c.Fields.WithLabelValues(result).Inc()
}

// ObserveScanHit records an address that answered a scan.
func (c *Collector) ObserveScanHit() {
	if c == nil {
		return
	}
	c.ScanHits.Inc()
}

// WriteTextfile writes the registry in the node exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// CommandStats aggregates exchanges for one command.
type CommandStats struct {
	Command   string
	Total     int
	Failed    int
	MeanRTTMs float64
}

// Summary contains aggregated statistics
type Summary struct {
	TotalExchanges int
	FailedOps      int
	Rotations      int
	FieldsOK       int
	FieldsFailed   int
	ScanHits       int
	ByCommand      []CommandStats
}

// Summary gathers the registry into totals for display.
func (c *Collector) Summary() (Summary, error) {
	var s Summary
	if c == nil {
		return s, nil
	}
	families, err := c.reg.Gather()
	if err != nil {
		return s, fmt.Errorf("gather metrics: %w", err)
	}

	byCommand := make(map[string]*CommandStats)
	stats := func(cmd string) *CommandStats {
		if st, ok := byCommand[cmd]; ok {
			return st
		}
		st := &CommandStats{Command: cmd}
		byCommand[cmd] = st
		return st
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := labelMap(m)
			switch mf.GetName() {
			case "m18_exchanges_total":
				n := int(m.GetCounter().GetValue())
				st := stats(labels["command"])
				st.Total += n
				s.TotalExchanges += n
				if labels["result"] != ResultOK {
					st.Failed += n
					s.FailedOps += n
				}
			case "m18_exchange_duration_seconds":
				h := m.GetHistogram()
				if h.GetSampleCount() > 0 {
					stats(labels["command"]).MeanRTTMs = h.GetSampleSum() / float64(h.GetSampleCount()) * 1000
				}
			case "m18_access_code_rotations_total":
				s.Rotations = int(m.GetCounter().GetValue())
			case "m18_fields_total":
				if labels["result"] == ResultOK {
					s.FieldsOK += int(m.GetCounter().GetValue())
				} else {
					s.FieldsFailed += int(m.GetCounter().GetValue())
				}
			case "m18_scan_hits_total":
				s.ScanHits = int(m.GetCounter().GetValue())
			}
		}
	}

	for _, st := range byCommand {
		s.ByCommand = append(s.ByCommand, *st)
	}
	sort.Slice(s.ByCommand, func(i, j int) bool { return s.ByCommand[i].Command < s.ByCommand[j].Command })
	return s, nil
}

func labelMap(m *dto.Metric) map[string]string {
	out := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}
