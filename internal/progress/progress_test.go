package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// fakeClock advances by step on every reading.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func newTestBar(total int, desc string) (*ProgressBar, *bytes.Buffer) {
	pb := NewProgressBar(total, desc)
	var buf bytes.Buffer
	pb.output = &buf
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pb.startTime, pb.lastUpdate = start, start
	pb.now = fakeClock(start, time.Second)
	return pb, &buf
}

func TestNewProgressBar(t *testing.T) {
	pb := NewProgressBar(39, "reading")
	if pb.total != 39 {
		t.Errorf("total = %d, want 39", pb.total)
	}
	if !pb.enabled {
		t.Error("should be enabled by default")
	}
	if pb.description != "reading" {
		t.Errorf("description = %q, want %q", pb.description, "reading")
	}
}

func TestProgressBar_Disabled(t *testing.T) {
	pb, buf := newTestBar(10, "")
	pb.Disable()
	pb.Set(5)
	pb.Finish()
	if buf.Len() > 0 {
		t.Errorf("disabled bar wrote %q", buf.String())
	}

	pb.Enable()
	pb.Set(6)
	if buf.Len() == 0 {
		t.Error("re-enabled bar should render")
	}
}

func TestProgressBar_Render(t *testing.T) {
	pb, buf := newTestBar(10, "reading")
	pb.Set(5)
	out := buf.String()
	for _, want := range []string{"\rreading [", "5/10 (50.0%)", "ETA: "} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "hits") {
		t.Error("hit counter shown without CountHits")
	}
}

func TestProgressBar_Throttle(t *testing.T) {
	pb, buf := newTestBar(10, "")
	pb.now = fakeClock(pb.startTime, 10*time.Millisecond)
	pb.Set(1)
	if buf.Len() != 0 {
		t.Error("update inside the interval should be skipped")
	}
	pb.Set(10)
	if !strings.Contains(buf.String(), "10/10") {
		t.Error("completion should always render")
	}
}

func TestProgressBar_Func(t *testing.T) {
	pb, buf := newTestBar(0, "scan")
	pb.CountHits()
	fn := pb.Func()
	pb.Hit()
	pb.Hit()
	fn(4, 8)
	if pb.total != 8 || pb.current != 4 {
		t.Errorf("total/current = %d/%d, want 8/4", pb.total, pb.current)
	}
	if !strings.Contains(buf.String(), "hits: 2") {
		t.Errorf("output %q missing hit count", buf.String())
	}
}

func TestProgressBar_Finish(t *testing.T) {
	pb, buf := newTestBar(4, "")
	pb.Set(4)
	pb.Finish()
	out := buf.String()
	if !strings.HasSuffix(out, "\n") {
		t.Error("Finish should end the line")
	}
	if !strings.Contains(out, "["+strings.Repeat("=", barWidth)+"]") {
		t.Errorf("full bar expected, got %q", out)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{65 * time.Second, "1m05s"},
		{2*time.Hour + 3*time.Minute, "2h03m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
