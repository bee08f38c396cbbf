package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidlao2k/m18-protocol/internal/diag"
	"github.com/davidlao2k/m18-protocol/internal/portselect"
	"github.com/davidlao2k/m18-protocol/internal/session"
	"github.com/davidlao2k/m18-protocol/internal/transport"
)

type selfTestFlags struct {
	fast bool
}

func newSelfTestCmd(g *globalFlags) *cobra.Command {
	flags := &selfTestFlags{}

	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run the full protocol stack against the emulated pack",
		Long: `Connect to the built-in emulated pack and exercise the handshake,
register reads, the health report, the session commands, a note write, a
short scan and checksum fault handling. No hardware is needed.`,
		Example: `  # Real protocol pacing
  m18 selftest

  # Skip the protocol sleeps
  m18 selftest --fast --trace-pcap selftest.pcap`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelfTest(cmd, g, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.fast, "fast", false, "Skip protocol pacing sleeps")

	return cmd
}

type selfTestStep struct {
	name string
	run  func(ctx context.Context, e *env) (string, error)
}

func runSelfTest(cmd *cobra.Command, g *globalFlags, flags *selfTestFlags) error {
	sim := g.sim
	if sim == nil {
		sim = transport.NewSimDevice(transport.DefaultImage())
	}
	local := *g
	local.port = portselect.Sim
	local.sim = sim
	if flags.fast && local.sleep == nil {
		local.sleep = func(time.Duration) {}
	}

	steps := []selfTestStep{
		{"handshake", func(ctx context.Context, e *env) (string, error) {
			if err := e.ch.ResetRetry(ctx, e.cfg.Session.HandshakeRetries); err != nil {
				return "", err
			}
			return "sync echoed", nil
		}},
		{"read registers", func(ctx context.Context, e *env) (string, error) {
			set, err := diag.ReadFields(ctx, e.ch, e.cat, nil, e.diagOptions())
			if err != nil {
				return "", err
			}
			if set.Succeeded() != set.Len() {
				return "", fmt.Errorf("%d of %d registers failed", set.Len()-set.Succeeded(), set.Len())
			}
			return fmt.Sprintf("%d/%d registers", set.Succeeded(), set.Len()), nil
		}},
		{"health report", func(ctx context.Context, e *env) (string, error) {
			h, err := diag.HealthReport(ctx, e.ch, e.cat, e.diagOptions())
			if err != nil {
				return "", err
			}
			if h.Serial != transport.ImageSerial || len(h.Failures) > 0 {
				return "", fmt.Errorf("serial %q, %d failures", h.Serial, len(h.Failures))
			}
			return fmt.Sprintf("type %s, %.2f V, %d charges", h.Type, h.PackVoltage, h.ChargeCountTotal), nil
		}},
		{"session commands", func(ctx context.Context, e *env) (string, error) {
			if err := e.ch.ResetRetry(ctx, e.cfg.Session.HandshakeRetries); err != nil {
				return "", err
			}
			if _, err := e.ch.Configure(1); err != nil {
				return "", err
			}
			for _, send := range []func() ([]byte, error){e.ch.Snapshot, e.ch.Keepalive, e.ch.Calibrate} {
				if _, err := send(); err != nil {
					return "", err
				}
			}
			if code := e.ch.AccessCode(); code != session.AccessCodes[2] {
				return "", fmt.Errorf("access code 0x%02X after rotation, want 0x%02X", code, session.AccessCodes[2])
			}
			return "configure, snapshot, keepalive, calibrate", nil
		}},
		{"note write", func(ctx context.Context, e *env) (string, error) {
			const msg = "SELFTEST"
			if err := e.ch.WriteNote(ctx, msg); err != nil {
				return "", err
			}
			got, err := e.ch.ReadRegister(session.NoteAddress, session.NoteLength)
			if err != nil {
				return "", err
			}
			if want := "SELFTEST------------"; string(got) != want {
				return "", fmt.Errorf("read back %q, want %q", got, want)
			}
			return fmt.Sprintf("%q read back", got), nil
		}},
		{"register scan", func(ctx context.Context, e *env) (string, error) {
			r := diag.ScanRange{Start: 0x0000, Stop: 0x0007, Length: 2}
			hits, err := diag.Hits(diag.BruteScan(ctx, e.ch, r, e.diagOptions()))
			if err != nil {
				return "", err
			}
			if len(hits) == 0 {
				return "", errors.New("no readable registers found")
			}
			return fmt.Sprintf("%d of %d addresses readable", len(hits), r.Probes()), nil
		}},
		{"checksum fault", func(ctx context.Context, e *env) (string, error) {
			sim.CorruptAt(0x4000)
			if err := e.ch.ResetRetry(ctx, e.cfg.Session.HandshakeRetries); err != nil {
				return "", err
			}
			_, err := e.ch.ReadRegister(0x4000, 10)
			if !errors.Is(err, session.ErrChecksumMismatch) {
				return "", fmt.Errorf("corrupt reply gave %v", err)
			}
			return "corrupt reply rejected", nil
		}},
	}

	return withPack(cmd, &local, func(e *env) error {
		out := cmd.OutOrStdout()
		failed := 0
		for _, step := range steps {
			detail, err := step.run(cmd.Context(), e)
			if err != nil {
				failed++
				fmt.Fprintf(out, "FAIL %-18s %v\n", step.name, err)
				if session.IsFatal(err) {
					break
				}
				continue
			}
			fmt.Fprintf(out, "ok   %-18s %s\n", step.name, detail)
		}
		if failed > 0 {
			return fmt.Errorf("selftest: %d of %d steps failed", failed, len(steps))
		}
		fmt.Fprintf(out, "selftest passed (%d steps)\n", len(steps))
		return nil
	})
}
