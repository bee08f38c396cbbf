package main

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidlao2k/m18-protocol/internal/catalog"
	"github.com/davidlao2k/m18-protocol/internal/config"
	"github.com/davidlao2k/m18-protocol/internal/diag"
	m18errors "github.com/davidlao2k/m18-protocol/internal/errors"
	"github.com/davidlao2k/m18-protocol/internal/logging"
	"github.com/davidlao2k/m18-protocol/internal/metrics"
	"github.com/davidlao2k/m18-protocol/internal/portselect"
	"github.com/davidlao2k/m18-protocol/internal/report"
	"github.com/davidlao2k/m18-protocol/internal/serialport"
	"github.com/davidlao2k/m18-protocol/internal/session"
	"github.com/davidlao2k/m18-protocol/internal/trace"
	"github.com/davidlao2k/m18-protocol/internal/transport"
)

// globalFlags are the persistent flags shared by every pack command.
type globalFlags struct {
	port        string
	configPath  string
	logLevel    string
	tracePCAP   string
	metricsFile string
	catalogPath string

	// sim and sleep replace the emulated pack and the pacing sleeper in tests.
	sim   *transport.SimDevice
	sleep func(time.Duration)
}

func (g *globalFlags) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&g.port, "port", "p", "", "Serial device, or \"sim\" for the emulated pack (default: autodetect)")
	f.StringVar(&g.configPath, "config", "", "Config file (default: ./m18.yaml or ~/.config/m18/m18.yaml)")
	f.StringVar(&g.logLevel, "log-level", "", "Log level: silent, error, info, verbose, debug")
	f.StringVar(&g.tracePCAP, "trace-pcap", "", "Record every wire frame to this pcap file")
	f.StringVar(&g.metricsFile, "metrics-file", "", "Write exchange metrics to this node-exporter textfile")
	f.StringVar(&g.catalogPath, "catalog", "", "Register catalog YAML (default: built-in)")
}

// env holds what a command needs to talk to a pack.
type env struct {
	cfg     *config.Config
	log     *logging.Logger
	cat     *catalog.Catalog
	metrics *metrics.Collector
	trace   *trace.Recorder
	ch      *session.Channel
	port    string
	g       *globalFlags
}

// loadEnv reads the config, applies flag overrides and builds the logger,
// catalog and metrics collector. Nothing is opened yet.
func loadEnv(cmd *cobra.Command, g *globalFlags) (*env, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}

	logOpts, err := cfg.LogOptions()
	if err != nil {
		return nil, m18errors.WrapConfigError(err, cfg.Source)
	}
	logOpts.Output = cmd.ErrOrStderr()
	log, err := logging.New(logOpts)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		log.Close()
		return nil, m18errors.WrapConfigError(fmt.Errorf("load catalog: %w", err), cfg.Catalog.Path)
	}
	log.Debug("catalog %s: %d registers", cat.Name(), cat.Len())

	return &env{cfg: cfg, log: log, cat: cat, metrics: metrics.New(), g: g}, nil
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.port != "" {
		cfg.Serial.Port = g.port
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.tracePCAP != "" {
		cfg.Trace.PCAP = g.tracePCAP
	}
	if g.metricsFile != "" {
		cfg.Metrics.Textfile = g.metricsFile
	}
	if g.catalogPath != "" {
		cfg.Catalog.Path = g.catalogPath
	}
	if err := config.Validate(cfg); err != nil {
		return nil, m18errors.WrapConfigError(err, cfg.Source)
	}
	return cfg, nil
}

// openEnv loads the environment and connects to the pack.
func openEnv(cmd *cobra.Command, g *globalFlags) (*env, error) {
	e, err := loadEnv(cmd, g)
	if err != nil {
		return nil, err
	}
	if err := e.connect(); err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func (e *env) connect() error {
	port, err := portselect.New().Resolve(e.cfg.Serial.Port)
	if err != nil {
		return err
	}
	e.port = port

	var t transport.Transport
	if port == portselect.Sim {
		sim := e.g.sim
		if sim == nil {
			sim = transport.NewSimDevice(transport.DefaultImage())
		}
		t = sim
	} else {
		t = serialport.New(port, e.cfg.TransportOptions(), e.log)
	}

	opts := []session.Option{
		session.WithLogger(e.log),
		session.WithObserver(e.metrics),
		session.WithTiming(e.cfg.Timing()),
	}
	if e.g.sleep != nil {
		opts = append(opts, session.WithSleep(e.g.sleep))
	}
	if path := e.cfg.Trace.PCAP; path != "" {
		rec, err := trace.Create(path)
		if err != nil {
			return err
		}
		e.trace = rec
		opts = append(opts, session.WithTap(rec))
		e.log.Verbose("recording wire trace to %s", path)
	}

	ch := session.New(t, opts...)
	if err := ch.Connect(); err != nil {
		return m18errors.WrapTransportError(err, port)
	}
	e.ch = ch
	return nil
}

// diagOptions returns the sweep policy wired to the logger and metrics.
func (e *env) diagOptions() diag.Options {
	opts := e.cfg.DiagOptions()
	opts.Logger = e.log
	opts.Observer = e.metrics
	return opts
}

func (e *env) meta() report.Meta {
	source := e.cfg.Catalog.Path
	if source == "" {
		source = "builtin:" + e.cat.Name()
	}
	return report.NewMeta(time.Now(), e.port, source, version)
}

// wrap turns a protocol failure into a user-facing error.
func (e *env) wrap(err error, operation string) error {
	return m18errors.Wrap(err, e.port, operation)
}

// close disconnects and flushes the trace and metrics.
func (e *env) close() error {
	var errs []error
	if e.ch != nil {
		if err := e.ch.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.trace != nil {
		if err := e.trace.Close(); err != nil {
			errs = append(errs, err)
		}
		e.log.Verbose("wire trace: %d frames", e.trace.Count())
	}
	if path := e.cfg.Metrics.Textfile; path != "" {
		if err := e.metrics.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		}
	}
	if s, err := e.metrics.Summary(); err == nil && s.TotalExchanges > 0 {
		e.log.Verbose("%d exchanges, %d failed, %d rotations", s.TotalExchanges, s.FailedOps, s.Rotations)
	}
	if err := e.log.Close(); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

// withPack runs fn against a connected pack and closes everything after.
func withPack(cmd *cobra.Command, g *globalFlags, fn func(e *env) error) (err error) {
	e, err := openEnv(cmd, g)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	return fn(e)
}
