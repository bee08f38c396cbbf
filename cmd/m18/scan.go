package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/davidlao2k/m18-protocol/internal/diag"
	"github.com/davidlao2k/m18-protocol/internal/progress"
	"github.com/davidlao2k/m18-protocol/internal/report"
)

type scanFlags struct {
	start        string
	stop         string
	length       int
	sweepLengths bool
	all          bool
	format       string
	output       string
	noProgress   bool
}

func newScanCmd(g *globalFlags) *cobra.Command {
	flags := &scanFlags{length: 2, format: "text"}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Probe an address range for readable registers",
		Long: `Send a register read to every address in [start, stop] and report which
addresses the pack answers. Refused reads are normal and are hidden
unless --all is given. Interrupting the scan prints the results so far
and the address to resume from.`,
		Example: `  # Look for 2-byte registers in the identity block
  m18 scan --start 0x0000 --stop 0x0040

  # Try every length below 8 at each address
  m18 scan --start 0x6000 --stop 0x6010 --length 8 --sweep-lengths

  # Keep refused probes too, as JSON
  m18 scan --start 0x9000 --stop 0x90FF --all --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, g, flags)
		},
	}

	cmd.Flags().StringVar(&flags.start, "start", "", "First address (hex with 0x, or decimal)")
	cmd.Flags().StringVar(&flags.stop, "stop", "", "Last address, inclusive")
	cmd.Flags().IntVarP(&flags.length, "length", "n", 2, "Bytes requested per read (1-255)")
	cmd.Flags().BoolVar(&flags.sweepLengths, "sweep-lengths", false, "Probe every length 0..length-1 at each address")
	cmd.Flags().BoolVar(&flags.all, "all", false, "Report refused probes as well as hits")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "text", "Output format: text or json")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write the JSON report to this file")
	cmd.Flags().BoolVar(&flags.noProgress, "no-progress", false, "Hide the progress bar")

	return cmd
}

func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint16(v), nil
}

func runScan(cmd *cobra.Command, g *globalFlags, flags *scanFlags) error {
	if flags.start == "" || flags.stop == "" {
		return fmt.Errorf("required flags --start and --stop not set")
	}
	if flags.format != "text" && flags.format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", flags.format)
	}
	start, err := parseAddress(flags.start)
	if err != nil {
		return err
	}
	stop, err := parseAddress(flags.stop)
	if err != nil {
		return err
	}
	r := diag.ScanRange{Start: start, Stop: stop, Length: flags.length, SweepLengths: flags.sweepLengths}
	if err := r.Validate(); err != nil {
		return err
	}

	return withPack(cmd, g, func(e *env) error {
		opts := e.diagOptions()
		bar := progress.NewProgressBar(r.Probes(), "scanning")
		bar.SetOutput(cmd.ErrOrStderr())
		bar.CountHits()
		if flags.noProgress {
			bar.Disable()
		}
		opts.Progress = bar.Func()

		rep := report.NewScanReport(e.meta(), r)
		var scanErr error
		var last uint16
		for res, err := range diag.BruteScan(cmd.Context(), e.ch, r, opts) {
			if err != nil {
				scanErr = err
				break
			}
			last = res.Address
			if res.Valid {
				bar.Hit()
			}
			rep.Add(res, flags.all)
		}
		bar.Finish()
		rep.Complete = scanErr == nil

		if scanErr != nil && rep.Probes > 0 {
			e.log.Error("scan stopped at 0x%04X; resume with --start 0x%04X", last, last)
		}

		switch {
		case flags.output != "":
			if werr := report.WriteJSONFile(flags.output, rep); werr != nil {
				return werr
			}
		case flags.format == "json":
			if werr := report.WriteJSON(cmd.OutOrStdout(), rep); werr != nil {
				return werr
			}
		default:
			if werr := report.WriteScanText(cmd.OutOrStdout(), rep); werr != nil {
				return werr
			}
		}
		return e.wrap(scanErr, "register scan")
	})
}
