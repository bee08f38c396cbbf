package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	return buildRootCmd(&globalFlags{})
}

func buildRootCmd(g *globalFlags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "m18",
		Short: "Diagnostics for M18 battery packs over a serial adapter",
		Long: `m18 talks to the battery management chip of an M18 pack through a
USB-serial adapter wired to the pack's J1/J2 pins. It reads the register
map, builds a health report, scans for undocumented registers and sends
the charger session commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.register(rootCmd)

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newHealthCmd(g))
	rootCmd.AddCommand(newReadCmd(g))
	rootCmd.AddCommand(newScanCmd(g))
	rootCmd.AddCommand(newResetCmd(g))
	rootCmd.AddCommand(newCommandCmd(g))
	rootCmd.AddCommand(newRawCmd(g))
	rootCmd.AddCommand(newIdleCmd(g))
	rootCmd.AddCommand(newHighCmd(g))
	rootCmd.AddCommand(newNoteCmd(g))
	rootCmd.AddCommand(newCatalogCmd(g))
	rootCmd.AddCommand(newConfigCmd(g))
	rootCmd.AddCommand(newSelfTestCmd(g))
	rootCmd.AddCommand(newTraceCmd())

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != cmd.Root() {
			fmt.Fprint(cmd.OutOrStdout(), cmd.UsageString())
			return
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Usage:\n  %s <command> [arguments] [options]\n\n", cmd.Name())
		fmt.Fprintf(out, "Available Commands:\n")
		for _, subCmd := range cmd.Commands() {
			if !subCmd.Hidden {
				fmt.Fprintf(out, "  %-15s %s\n", subCmd.Name(), subCmd.Short)
			}
		}
		fmt.Fprintf(out, "\nUse \"%s help <command>\" for more information about a command.\n", cmd.Name())
	})
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
