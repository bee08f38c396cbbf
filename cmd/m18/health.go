package main

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/davidlao2k/m18-protocol/internal/diag"
	"github.com/davidlao2k/m18-protocol/internal/report"
)

type healthFlags struct {
	format string
	output string
	copy   bool
}

func newHealthCmd(g *globalFlags) *cobra.Command {
	flags := &healthFlags{format: "text"}

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Read every register and print a health report",
		Long: `Reset the pack, read the whole register catalog and derive a health
report: pack and cell voltages, temperature, charge counts, discharge
totals and the time spent in each discharge-current band.

Registers that cannot be read are listed at the end of the report; the
rest of the report is still printed.`,
		Example: `  # Health report from the only attached adapter
  m18 health

  # JSON report written to a file
  m18 health --port /dev/ttyUSB0 --format json --output pack.json

  # Copy the text report to the clipboard
  m18 health --copy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd, g, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.format, "format", "f", "text", "Output format: text or json")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write the report to this file instead of stdout")
	cmd.Flags().BoolVar(&flags.copy, "copy", false, "Also copy the text report to the clipboard")

	return cmd
}

func runHealth(cmd *cobra.Command, g *globalFlags, flags *healthFlags) error {
	if flags.format != "text" && flags.format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", flags.format)
	}
	return withPack(cmd, g, func(e *env) error {
		h, err := diag.HealthReport(cmd.Context(), e.ch, e.cat, e.diagOptions())
		if h == nil {
			return e.wrap(err, "health report")
		}
		if err != nil {
			e.log.Error("sweep stopped early, report is partial: %v", err)
		}

		if flags.copy {
			if cerr := clipboard.WriteAll(report.HealthText(h)); cerr != nil {
				e.log.Error("copy to clipboard: %v", cerr)
			} else {
				e.log.Info("report copied to clipboard")
			}
		}

		out := cmd.OutOrStdout()
		switch {
		case flags.format == "json" && flags.output != "":
			if werr := report.WriteJSONFile(flags.output, report.HealthReport{Meta: e.meta(), Health: h}); werr != nil {
				return werr
			}
		case flags.format == "json":
			if werr := report.WriteJSON(out, report.HealthReport{Meta: e.meta(), Health: h}); werr != nil {
				return werr
			}
		case flags.output != "":
			if werr := writeTextFile(flags.output, report.HealthText(h)); werr != nil {
				return werr
			}
		default:
			if werr := report.WriteHealthText(out, h); werr != nil {
				return werr
			}
		}
		return e.wrap(err, "health report")
	})
}
