package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidlao2k/m18-protocol/internal/diag"
	"github.com/davidlao2k/m18-protocol/internal/progress"
	"github.com/davidlao2k/m18-protocol/internal/report"
)

type readFlags struct {
	fields   string
	format   string
	output   string
	progress bool
}

func newReadCmd(g *globalFlags) *cobra.Command {
	flags := &readFlags{format: report.FormatLabel}

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read and decode registers from the catalog",
		Long: `Reset the pack and read registers in catalog order. Without --fields
every register is read. Each register is decoded according to its type;
registers that fail are reported with the error and the sweep continues.`,
		Example: `  # All registers, one labelled line each
  m18 read

  # Selected registers by id, id range or key
  m18 read --fields 7,8,20-33,serial_number

  # Spreadsheet-friendly output
  m18 read --format csv --output pack.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, g, flags)
		},
	}

	cmd.Flags().StringVar(&flags.fields, "fields", "", "Registers to read: ids, id ranges (20-33) or keys, comma separated")
	cmd.Flags().StringVarP(&flags.format, "format", "f", report.FormatLabel, "Output format: label, raw, csv or json")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write the output to this file instead of stdout")
	cmd.Flags().BoolVar(&flags.progress, "progress", false, "Show a progress bar on stderr")

	return cmd
}

func runRead(cmd *cobra.Command, g *globalFlags, flags *readFlags) error {
	if !slices.Contains(report.Formats, flags.format) {
		return fmt.Errorf("unknown format %q (want %s)", flags.format, strings.Join(report.Formats, ", "))
	}
	return withPack(cmd, g, func(e *env) error {
		var ids []int
		if flags.fields != "" {
			var err error
			if ids, err = e.cat.ParseSelection(flags.fields); err != nil {
				return err
			}
		}

		opts := e.diagOptions()
		if flags.progress {
			bar := progress.NewProgressBar(0, "reading")
			bar.SetOutput(cmd.ErrOrStderr())
			opts.Progress = bar.Func()
			defer bar.Finish()
		}

		set, err := diag.ReadFields(cmd.Context(), e.ch, e.cat, ids, opts)
		if set == nil {
			return e.wrap(err, "read registers")
		}

		var out io.Writer = cmd.OutOrStdout()
		f, ferr := createOutput(flags.output)
		if ferr != nil {
			return ferr
		}
		if f != nil {
			defer f.Close()
			out = f
		}
		if werr := report.WriteFields(out, report.NewFieldsReport(e.meta(), set), flags.format); werr != nil {
			return werr
		}
		if err == nil && set.Succeeded() < set.Len() {
			e.log.Info("%d of %d registers failed", set.Len()-set.Succeeded(), set.Len())
		}
		return e.wrap(err, "read registers")
	})
}
