package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidlao2k/m18-protocol/internal/frame"
	"github.com/davidlao2k/m18-protocol/internal/session"
)

type resetFlags struct {
	retries int
}

func newResetCmd(g *globalFlags) *cobra.Command {
	flags := &resetFlags{}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Run the reset handshake and check the pack answers",
		Long: `Pulse BREAK and DTR, send the sync byte and wait for the pack to echo it.
A pack that answers is wired correctly and awake.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd, g, flags)
		},
	}

	cmd.Flags().IntVar(&flags.retries, "retries", 0, "Handshake attempts (default: session.handshakeRetries)")

	return cmd
}

func runReset(cmd *cobra.Command, g *globalFlags, flags *resetFlags) error {
	return withPack(cmd, g, func(e *env) error {
		retries := flags.retries
		if retries <= 0 {
			retries = e.cfg.Session.HandshakeRetries
		}
		if err := e.ch.ResetRetry(cmd.Context(), retries); err != nil {
			return e.wrap(err, "reset")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pack on %s answered sync (access code 0x%02X)\n", e.port, e.ch.AccessCode())
		return nil
	})
}

type commandFlags struct {
	state int
	count int
}

func newCommandCmd(g *globalFlags) *cobra.Command {
	flags := &commandFlags{state: 1, count: 1}

	cmd := &cobra.Command{
		Use:   "command <configure|snapshot|keepalive|calibrate>",
		Short: "Send a charger session command",
		Long: `Reset the pack and send one of the charger session commands, printing
the raw reply. snapshot and calibrate advance the access code; configure
restarts it. --count repeats the command to watch the rotation.`,
		Example: `  # Charger configuration, state 2
  m18 command configure --state 2

  # Three snapshots in a row
  m18 command snapshot --count 3`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"configure", "snapshot", "keepalive", "calibrate"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, g, flags, args[0])
		},
	}

	cmd.Flags().IntVar(&flags.state, "state", 1, "State byte sent with configure")
	cmd.Flags().IntVar(&flags.count, "count", 1, "Number of times to send the command")

	return cmd
}

func runCommand(cmd *cobra.Command, g *globalFlags, flags *commandFlags, name string) error {
	var send func(ch *session.Channel) ([]byte, error)
	switch name {
	case "configure":
		if flags.state < 0 || flags.state > 0xFF {
			return fmt.Errorf("state %d out of range 0-255", flags.state)
		}
		state := byte(flags.state)
		send = func(ch *session.Channel) ([]byte, error) { return ch.Configure(state) }
	case "snapshot":
		send = (*session.Channel).Snapshot
	case "keepalive":
		send = (*session.Channel).Keepalive
	case "calibrate":
		send = (*session.Channel).Calibrate
	default:
		return fmt.Errorf("unknown command %q (want configure, snapshot, keepalive or calibrate)", name)
	}
	if flags.count < 1 {
		return fmt.Errorf("count must be at least 1")
	}

	return withPack(cmd, g, func(e *env) error {
		if err := e.ch.ResetRetry(cmd.Context(), e.cfg.Session.HandshakeRetries); err != nil {
			return e.wrap(err, name)
		}
		out := cmd.OutOrStdout()
		for i := 0; i < flags.count; i++ {
			code := e.ch.AccessCode()
			resp, err := send(e.ch)
			fmt.Fprintf(out, "%s (access 0x%02X): %s\n", name, code, frame.Hex(resp))
			if err != nil {
				return e.wrap(err, name)
			}
		}
		return nil
	})
}

type rawFlags struct {
	expect int
}

func newRawCmd(g *globalFlags) *cobra.Command {
	flags := &rawFlags{}

	cmd := &cobra.Command{
		Use:   "raw <opcode> <address> [extra-bytes]",
		Short: "Send one arbitrary command and print the reply",
		Long: `Reset the pack, send one command built from an opcode, a 16-bit
address and optional extra bytes (hex), and print the reply unvalidated.
The reply length defaults to the first extra byte plus 5, the size of a
register read reply.`,
		Example: `  # Register read of 4 bytes at 0x0011
  m18 raw 0x01 0x0011 04

  # Wait for 2 bytes only
  m18 raw 0x01 0x4000 0a --expect 2`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRaw(cmd, g, flags, args)
		},
	}

	cmd.Flags().IntVar(&flags.expect, "expect", 0, "Reply bytes to wait for (default: first extra byte + 5)")

	return cmd
}

// rawRequest is a parsed raw command line.
type rawRequest struct {
	opcode byte
	addr   uint16
	extra  []byte
	expect int
}

func parseRaw(args []string, expect int) (rawRequest, error) {
	var req rawRequest
	op, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return req, fmt.Errorf("invalid opcode %q", args[0])
	}
	req.opcode = byte(op)
	if req.addr, err = parseAddress(args[1]); err != nil {
		return req, err
	}
	if len(args) > 2 {
		s := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(args[2])
		if req.extra, err = hex.DecodeString(s); err != nil {
			return req, fmt.Errorf("invalid extra bytes %q: %w", args[2], err)
		}
	}
	req.expect = expect
	if req.expect <= 0 {
		req.expect = 5
		if len(req.extra) > 0 {
			req.expect = int(req.extra[0]) + 5
		}
	}
	return req, nil
}

func runRaw(cmd *cobra.Command, g *globalFlags, flags *rawFlags, args []string) error {
	req, err := parseRaw(args, flags.expect)
	if err != nil {
		return err
	}
	return withPack(cmd, g, func(e *env) error {
		if err := e.ch.ResetRetry(cmd.Context(), e.cfg.Session.HandshakeRetries); err != nil {
			return e.wrap(err, "raw command")
		}
		resp, err := e.ch.Raw(req.opcode, req.addr, req.extra, req.expect)
		if err != nil {
			return e.wrap(err, "raw command")
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "reply (%d of %d bytes): %s\n", len(resp), req.expect, frame.Hex(resp))
		if len(resp) > 2 {
			fmt.Fprintf(out, "checksum ok: %t\n", frame.VerifyChecksum(resp))
		}
		return nil
	})
}

func newIdleCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "idle",
		Short: "Hold TX low so the pack can be connected safely",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPack(cmd, g, func(e *env) error {
				if err := e.ch.Idle(); err != nil {
					return e.wrap(err, "idle")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: TX held low\n", e.port)
				return nil
			})
		},
	}
}

type highFlags struct {
	duration time.Duration
}

func newHighCmd(g *globalFlags) *cobra.Command {
	flags := &highFlags{}

	cmd := &cobra.Command{
		Use:   "high",
		Short: "Release TX so J2 floats high, then idle again",
		Long: `Release BREAK and DTR so J2 sits at pack voltage, for --for or until
interrupted, then return the line to idle. Charge counters may tick while
the line is high.`,
		Example: `  # Hold high for five seconds
  m18 high --for 5s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHigh(cmd, g, flags)
		},
	}

	cmd.Flags().DurationVar(&flags.duration, "for", 0, "How long to hold the line high (default: until interrupted)")

	return cmd
}

func runHigh(cmd *cobra.Command, g *globalFlags, flags *highFlags) error {
	d := flags.duration
	if d <= 0 {
		d = time.Duration(1<<63 - 1)
	}
	return withPack(cmd, g, func(e *env) error {
		e.log.Info("line high on %s", e.port)
		err := e.ch.HighFor(cmd.Context(), d)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			return e.wrap(err, "line high")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: line back to idle\n", e.port)
		return nil
	})
}

func newNoteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "note <message>",
		Short: "Write a note of up to 20 ASCII characters to the pack",
		Long: `Store a short message in the pack's note register. Shorter messages are
padded with '-'. Read it back with: m18 read --fields note`,
		Example: `  m18 note "SHOP 3 PACK 12"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := args[0]
			if len(msg) > session.NoteLength {
				return fmt.Errorf("note too long: %d characters (maximum %d)", len(msg), session.NoteLength)
			}
			return withPack(cmd, g, func(e *env) error {
				if err := e.ch.WriteNote(cmd.Context(), msg); err != nil {
					return e.wrap(err, "write note")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "note written: %q\n", msg)
				return nil
			})
		},
	}
}
