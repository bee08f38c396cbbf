//go:build !linux

package serialport

import (
	"errors"
	"runtime"
)

var errNoBreak = errors.New("holding BREAK is only supported on linux, not " + runtime.GOOS)

// breakLine is a placeholder; the reset pulse cannot be driven here.
type breakLine struct{}

func openBreakLine(string, bool) (breaker, error) { return &breakLine{}, nil }

func (*breakLine) set(bool) error { return errNoBreak }

func (*breakLine) close() error { return nil }
