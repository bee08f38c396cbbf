package diag

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/davidlao2k/m18-protocol/internal/catalog"
	"github.com/davidlao2k/m18-protocol/internal/decoder"
	"github.com/google/uuid"
)

// Bucket is the time spent in one discharge-current band.
type Bucket struct {
	Range    string `json:"range"`
	Seconds  uint32 `json:"seconds"`
	Duration string `json:"duration"`
}

// Health is a battery health report. It is built once per sweep and not
// modified afterwards.
type Health struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`

	Type            string  `json:"type"`
	Model           string  `json:"model"`
	CapacityAh      float64 `json:"capacity_ah,omitempty"`
	Serial          string  `json:"serial"`
	ManufactureDate string  `json:"manufacture_date"`

	// Nil when the date register could not be read.
	DaysSinceFirstCharge *int `json:"days_since_first_charge,omitempty"`
	DaysSinceLastUse     *int `json:"days_since_last_use,omitempty"`
	DaysSinceLastCharge  *int `json:"days_since_last_charge,omitempty"`

	PackVoltage       float64  `json:"pack_voltage"`
	CellVoltages      []uint16 `json:"cell_voltages"`
	CellImbalance     uint16   `json:"cell_imbalance_mv"`
	Temperature       float64  `json:"temperature"`
	TemperatureSource string   `json:"temperature_source,omitempty"`

	ChargeCountRedlink uint64 `json:"charge_count_redlink"`
	ChargeCountDumb    uint64 `json:"charge_count_dumb"`
	ChargeCountTotal   uint64 `json:"charge_count_total"`
	TotalChargeTime    string `json:"total_charge_time"`
	IdleOnChargerTime  string `json:"idle_on_charger_time"`
	LowVoltageCharges  uint64 `json:"low_voltage_charges"`

	TotalDischargeAh  float64 `json:"total_discharge_ah"`
	DischargeCycles   float64 `json:"discharge_cycles"`
	DischargedToEmpty uint64  `json:"discharged_to_empty"`
	OverheatEvents    uint64  `json:"overheat_events"`
	OvercurrentEvents uint64  `json:"overcurrent_events"`
	LowVoltageEvents  uint64  `json:"low_voltage_events"`
	LowVoltageBounce  uint64  `json:"low_voltage_bounce"`

	TotalTimeOnTool string   `json:"total_time_on_tool"`
	CurrentBuckets  []Bucket `json:"current_buckets"`

	Failures map[string]string `json:"failures,omitempty"`

	fields *FieldSet
}

// Fields returns the field set the report was built from.
func (h *Health) Fields() *FieldSet { return h.fields }

// HealthReport reads every register and builds a health report.
//
// When the sweep stops early the report is built from what was read and
// returned with the error; nil is returned only when nothing was read.
func HealthReport(ctx context.Context, p Pack, cat *catalog.Catalog, opts Options) (*Health, error) {
	opts = opts.normalize()
	set, err := ReadFields(ctx, p, cat, nil, opts)
	if set == nil {
		return nil, err
	}
	return BuildHealth(set, cat, opts.Now()), err
}

// BuildHealth maps a field set onto a health report, deriving the
// composite values against now.
func BuildHealth(set *FieldSet, cat *catalog.Catalog, now time.Time) *Health {
	h := &Health{
		ID:          uuid.NewString(),
		GeneratedAt: now.UTC(),
		Failures:    set.Failures(),
		fields:      set,
	}
	b := builder{set: set}

	if code, ok := b.num("cell_type"); ok {
		h.Type = strconv.FormatUint(code, 10)
		if bat, ok := cat.Battery(h.Type); ok {
			h.Model = bat.Model
			h.CapacityAh = bat.CapacityAh
		} else {
			h.Model = "Unknown"
		}
	}
	h.Serial, _ = b.text("serial_number")
	h.ManufactureDate, _ = b.text("manufacture_date")

	h.DaysSinceFirstCharge = b.daysSince("first_charge_date", now)
	h.DaysSinceLastUse = b.daysSince("last_tool_use_date", now)
	h.DaysSinceLastCharge = b.daysSince("last_charge_date", now)

	if f, ok := set.Field("cell_voltages"); ok {
		if cells, ok := f.Value.(decoder.Cells); ok {
			h.CellVoltages = cells.Millivolts
			h.CellImbalance = cells.Imbalance
			h.PackVoltage = round2(float64(cells.Total()) / 1000)
		}
	}
	h.Temperature, h.TemperatureSource = b.temperature()

	h.ChargeCountRedlink, _ = b.num("redlink_charge_count")
	h.ChargeCountDumb, _ = b.num("dumb_charge_count")
	h.ChargeCountTotal = h.ChargeCountRedlink + h.ChargeCountDumb
	h.TotalChargeTime, _ = b.text("charge_time_total")
	h.IdleOnChargerTime, _ = b.text("charger_idle_time")
	h.LowVoltageCharges, _ = b.num("low_voltage_charges")

	if amps, ok := b.num("total_discharge_amp_s"); ok {
		h.TotalDischargeAh = round2(float64(amps) / 3600)
		if h.CapacityAh > 0 {
			h.DischargeCycles = round2(h.TotalDischargeAh / h.CapacityAh)
		}
	}
	h.DischargedToEmpty, _ = b.num("discharged_to_empty")
	h.OverheatEvents, _ = b.num("overheat_events")
	h.OvercurrentEvents, _ = b.num("overcurrent_events")
	h.LowVoltageEvents, _ = b.num("low_voltage_events")
	h.LowVoltageBounce, _ = b.num("low_voltage_bounce")

	var bucketTotal uint32
	for _, d := range cat.Buckets() {
		secs, ok := b.seconds(d.Key)
		if !ok {
			continue
		}
		bucketTotal += secs
		h.CurrentBuckets = append(h.CurrentBuckets, Bucket{
			Range:    d.Bucket,
			Seconds:  secs,
			Duration: decoder.FormatDuration(secs),
		})
	}
	if v, ok := b.text("time_on_tool"); ok {
		h.TotalTimeOnTool = v
	} else if len(h.CurrentBuckets) > 0 {
		h.TotalTimeOnTool = decoder.FormatDuration(bucketTotal)
	}
	return h
}

type builder struct {
	set *FieldSet
}

func (b builder) num(key string) (uint64, bool) {
	f, ok := b.set.Field(key)
	if !ok {
		return 0, false
	}
	v, ok := f.Value.(uint64)
	return v, ok
}

func (b builder) text(key string) (string, bool) {
	f, ok := b.set.Field(key)
	if !ok {
		return "", false
	}
	v, ok := f.Value.(string)
	return v, ok
}

// seconds returns the raw count behind a date or duration register.
func (b builder) seconds(key string) (uint32, bool) {
	f, ok := b.set.Field(key)
	if !ok {
		return 0, false
	}
	v, err := decoder.Uint(f.Raw)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func (b builder) daysSince(key string, now time.Time) *int {
	epoch, ok := b.seconds(key)
	if !ok {
		return nil
	}
	days := int(now.Sub(time.Unix(int64(epoch), 0)).Hours() / 24)
	return &days
}

// temperature prefers the ADC reading and falls back to the scaled
// register when the ADC reads zero or is missing.
func (b builder) temperature() (float64, string) {
	if f, ok := b.set.Field("temperature_adc"); ok {
		if adc, err := decoder.Uint(f.Raw); err == nil && adc != 0 {
			if v, ok := f.Value.(float64); ok {
				return v, "adc"
			}
		}
	}
	if f, ok := b.set.Field("temperature_forge"); ok {
		if v, ok := f.Value.(float64); ok {
			return v, "forge"
		}
	}
	return 0, ""
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
