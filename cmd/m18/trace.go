package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidlao2k/m18-protocol/internal/frame"
	"github.com/davidlao2k/m18-protocol/internal/trace"
)

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect wire traces recorded with --trace-pcap",
	}

	var wire bool
	dump := &cobra.Command{
		Use:   "dump <file.pcap>",
		Short: "Print every frame of a trace with bit order restored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := trace.ReadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, r := range records {
				offset := r.Time.Sub(records[0].Time)
				data := r.Logical()
				if wire {
					data = r.Wire
				}
				fmt.Fprintf(out, "%4d %10.3fs %-8s %s\n", i+1, offset.Seconds(), r.Direction, frame.Hex(data))
			}
			fmt.Fprintf(out, "%d frames\n", len(records))
			return nil
		},
	}
	dump.Flags().BoolVar(&wire, "wire", false, "Show bytes as sent on the wire (bit-reversed)")
	cmd.AddCommand(dump)

	return cmd
}
