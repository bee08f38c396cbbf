// Package portselect finds the serial adapter the pack is wired to.
package portselect

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// Sim names the built-in simulated pack in place of a device path.
const Sim = "sim"

// Patterns are the device globs searched for USB-serial adapters.
var Patterns = []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*"}

// ErrNoPorts is returned when no adapter is plugged in and none was named.
var ErrNoPorts = errors.New("no serial ports found")

// Selector resolves a port name. The zero value is not usable; call New.
type Selector struct {
	Glob        func(pattern string) ([]string, error)
	Interactive func() bool
	Prompt      func(options []string) (string, error)
}

// New returns a Selector over the real filesystem and terminal.
func New() *Selector {
	return &Selector{
		Glob: filepath.Glob,
		Interactive: func() bool {
			return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stderr.Fd())
		},
		Prompt: prompt,
	}
}

// Candidates lists the serial devices present, sorted and deduplicated.
func (s *Selector) Candidates() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range Patterns {
		matches, err := s.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Resolve returns requested when set. Otherwise a single adapter is used
// as is, and several are offered in a picker on a terminal.
func (s *Selector) Resolve(requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	ports, err := s.Candidates()
	if err != nil {
		return "", err
	}
	switch {
	case len(ports) == 1:
		return ports[0], nil
	case !s.Interactive():
		if len(ports) == 0 {
			return "", fmt.Errorf("%w; pass --port <device> or --port %s", ErrNoPorts, Sim)
		}
		return "", fmt.Errorf("several serial ports found (%s); pass --port", strings.Join(ports, ", "))
	}
	return s.Prompt(ports)
}

func prompt(ports []string) (string, error) {
	choice := ""
	opts := make([]huh.Option[string], 0, len(ports)+1)
	for _, p := range ports {
		opts = append(opts, huh.NewOption(p, p))
	}
	opts = append(opts, huh.NewOption("Simulated pack", Sim))

	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Serial port").
			Description("Adapter wired to the battery data pin.").
			Key("port").
			Options(opts...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("select port: %w", err)
	}
	return choice, nil
}
