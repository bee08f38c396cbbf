package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const barWidth = 40

// ProgressBar renders sweep progress on a single terminal line
type ProgressBar struct {
	mu          sync.Mutex
	total       int
	current     int
	hits        int
	countHits   bool
	startTime   time.Time
	lastUpdate  time.Time
	interval    time.Duration
	output      io.Writer
	enabled     bool
	description string
	now         func() time.Time
}

// NewProgressBar creates a progress bar writing to stderr
func NewProgressBar(total int, description string) *ProgressBar {
	now := time.Now()
	return &ProgressBar{
		total:       total,
		startTime:   now,
		lastUpdate:  now,
		interval:    100 * time.Millisecond,
		output:      os.Stderr, // keep stdout clean for reports
		enabled:     true,
		description: description,
		now:         time.Now,
	}
}

// SetOutput redirects rendering
func (p *ProgressBar) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

// Disable disables the progress bar
func (p *ProgressBar) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
}

// Enable enables the progress bar
func (p *ProgressBar) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
}

// CountHits adds a hit counter to the line, for register scans
func (p *ProgressBar) CountHits() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.countHits = true
}

// Set sets the current progress
func (p *ProgressBar) Set(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = n
	p.render(false)
}

// Hit records one scan hit
func (p *ProgressBar) Hit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hits++
}

// Func adapts the bar to a done/total progress callback
func (p *ProgressBar) Func() func(done, total int) {
	return func(done, total int) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.total = total
		p.current = done
		p.render(false)
	}
}

// Finish draws the final state and ends the line
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	p.render(true)
	fmt.Fprint(p.output, "\n")
}

func (p *ProgressBar) render(force bool) {
	if !p.enabled {
		return
	}

	now := p.now()
	if !force && now.Sub(p.lastUpdate) < p.interval && p.current < p.total {
		return
	}
	p.lastUpdate = now

	var percent float64
	if p.total > 0 {
		percent = float64(p.current) / float64(p.total) * 100
	}

	elapsed := now.Sub(p.startTime)
	var eta time.Duration
	if p.current > 0 && p.current < p.total && elapsed > 0 {
		perItem := elapsed / time.Duration(p.current)
		eta = perItem * time.Duration(p.total-p.current)
	}

	filled := min(int(float64(barWidth)*percent/100), barWidth)
	bar := strings.Repeat("=", filled)
	if filled < barWidth {
		bar += ">" + strings.Repeat("-", barWidth-filled-1)
	}

	var b strings.Builder
	b.WriteString("\r")
	if p.description != "" {
		b.WriteString(p.description + " ")
	}
	fmt.Fprintf(&b, "[%s] %d/%d (%.1f%%)", bar, p.current, p.total, percent)
	if p.countHits {
		fmt.Fprintf(&b, " | hits: %d", p.hits)
	}
	fmt.Fprintf(&b, " | %s", formatDuration(elapsed))
	if eta > 0 {
		fmt.Fprintf(&b, " | ETA: %s", formatDuration(eta))
	}
	fmt.Fprint(p.output, b.String())
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
