package session

import (
	"context"
	"time"

	"github.com/davidlao2k/m18-protocol/internal/transport"
)

// highSlice bounds how long HighFor sleeps between context checks.
const highSlice = 100 * time.Millisecond

// Idle holds TX low (BREAK and DTR asserted). This is the safe state for
// plugging a pack in and keeps charge counters from ticking.
func (c *Channel) Idle() error {
	return c.setLines(true)
}

// High releases BREAK and DTR, letting the line float high.
func (c *Channel) High() error {
	return c.setLines(false)
}

// HighFor holds the line high for d, then idles it. Cancelling ctx cuts the
// wait short; the line is idled either way.
func (c *Channel) HighFor(ctx context.Context, d time.Duration) error {
	if err := c.High(); err != nil {
		return err
	}
	for remaining := d; remaining > 0; remaining -= highSlice {
		if ctx.Err() != nil {
			break
		}
		c.sleep(min(remaining, highSlice))
	}
	if err := c.Idle(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Channel) setLines(on bool) error {
	if !c.connected {
		return opError("line control", ErrTransportUnavailable, "not connected")
	}
	for _, line := range []transport.ControlLine{transport.Break, transport.DTR} {
		if err := c.t.SetControlLine(line, on); err != nil {
			return c.fail("set "+line.String(), err)
		}
	}
	return nil
}
