package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/davidlao2k/m18-protocol/internal/diag"
	"github.com/davidlao2k/m18-protocol/internal/errors"
	"github.com/davidlao2k/m18-protocol/internal/logging"
	"github.com/davidlao2k/m18-protocol/internal/session"
	"github.com/davidlao2k/m18-protocol/internal/transport"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. M18_SERIAL_PORT.
const EnvPrefix = "M18"

// DefaultName is the config file searched for when no path is given.
const DefaultName = "m18"

// SerialConfig configures the serial link
type SerialConfig struct {
	Port        string        `mapstructure:"port"` // device node, or "sim" for the emulated pack
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	Exclusive   bool          `mapstructure:"exclusive"`
}

// SessionConfig configures pacing and retry policy
type SessionConfig struct {
	HandshakeRetries int           `mapstructure:"handshakeRetries"`
	FieldRetries     int           `mapstructure:"fieldRetries"`
	Pulse            time.Duration `mapstructure:"pulse"`
	Recovery         time.Duration `mapstructure:"recovery"`
	Settle           time.Duration `mapstructure:"settle"`
}

// CatalogConfig selects the register dictionary
type CatalogConfig struct {
	Path string `mapstructure:"path"` // empty means the built-in dictionary
}

// DecodeConfig adjusts register decoding
type DecodeConfig struct {
	TrimPadding bool `mapstructure:"trimPadding"`
}

// LumberjackConfig configures log file rotation
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig configures log level and outputs
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// TraceConfig configures the wire capture
type TraceConfig struct {
	PCAP string `mapstructure:"pcap"`
}

// MetricsConfig configures the metrics textfile
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Config is the top-level configuration
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Session SessionConfig `mapstructure:"session"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Decode  DecodeConfig  `mapstructure:"decode"`
	Logging LoggingConfig `mapstructure:"logging"`
	Trace   TraceConfig   `mapstructure:"trace"`
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Source is the file the config was read from, empty for defaults only.
	Source string `mapstructure:"-"`

	v *viper.Viper
}

// Load reads configuration from path, the environment and defaults, in
// increasing order of precedence for the environment. With an empty path
// m18.yaml is looked up in the working directory and ~/.config/m18; a
// missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/m18")
		}
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, errors.WrapConfigError(fmt.Errorf("read config: %w", err), displayPath(path))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapConfigError(fmt.Errorf("unmarshal config: %w", err), displayPath(path))
	}
	cfg.Source = v.ConfigFileUsed()
	cfg.v = v

	if err := Validate(&cfg); err != nil {
		return nil, errors.WrapConfigError(err, displayPath(cfg.Source))
	}
	return &cfg, nil
}

func displayPath(path string) string {
	if path == "" {
		return "defaults"
	}
	return path
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 4800)
	v.SetDefault("serial.readTimeout", "800ms")
	v.SetDefault("serial.exclusive", true)

	v.SetDefault("session.handshakeRetries", 3)
	v.SetDefault("session.fieldRetries", 1)
	v.SetDefault("session.pulse", "300ms")
	v.SetDefault("session.recovery", "50ms")
	v.SetDefault("session.settle", "10ms")

	v.SetDefault("catalog.path", "")
	v.SetDefault("decode.trimPadding", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("trace.pcap", "")
	v.SetDefault("metrics.textfile", "")
}

// Default returns the built-in configuration without reading any file or
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	cfg.v = v
	return &cfg
}

// WriteDefault writes the built-in configuration to path as YAML. An
// existing file is not overwritten.
func WriteDefault(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Settings returns the effective settings as a nested map, for display.
func (c *Config) Settings() map[string]any {
	if c.v == nil {
		return Default().v.AllSettings()
	}
	return c.v.AllSettings()
}

// Validate checks a configuration
func Validate(cfg *Config) error {
	if cfg.Serial.Baud != 4800 {
		return fmt.Errorf("serial.baud must be 4800 (got %d); the pack speaks no other rate", cfg.Serial.Baud)
	}
	if cfg.Serial.ReadTimeout <= 0 {
		return fmt.Errorf("serial.readTimeout must be positive")
	}
	if cfg.Session.HandshakeRetries < 1 {
		return fmt.Errorf("session.handshakeRetries must be at least 1")
	}
	if cfg.Session.FieldRetries < 0 {
		return fmt.Errorf("session.fieldRetries must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"session.pulse":    cfg.Session.Pulse,
		"session.recovery": cfg.Session.Recovery,
		"session.settle":   cfg.Session.Settle,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch cfg.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", cfg.Logging.Format)
	}
	if cfg.Logging.File.Filename != "" && cfg.Logging.File.MaxSizeMB <= 0 {
		return fmt.Errorf("logging.file.maxSize must be positive")
	}
	return nil
}

// TransportOptions returns the serial line settings.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		Baud:        c.Serial.Baud,
		ReadTimeout: c.Serial.ReadTimeout,
		Exclusive:   c.Serial.Exclusive,
	}
}

// Timing returns the session pacing.
func (c *Config) Timing() session.Timing {
	return session.Timing{
		Pulse:    c.Session.Pulse,
		Recovery: c.Session.Recovery,
		Settle:   c.Session.Settle,
	}
}

// DiagOptions returns the sweep policy. Logger, observer and progress are
// left for the caller.
func (c *Config) DiagOptions() diag.Options {
	opts := diag.DefaultOptions()
	opts.HandshakeRetries = c.Session.HandshakeRetries
	opts.FieldRetries = c.Session.FieldRetries
	opts.Decode.TrimPadding = c.Decode.TrimPadding
	return opts
}

// LogOptions returns the logger settings.
func (c *Config) LogOptions() (logging.Options, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Options{}, err
	}
	return logging.Options{
		Level:  level,
		Format: c.Logging.Format,
		File: logging.FileOptions{
			Filename:   c.Logging.File.Filename,
			MaxSizeMB:  c.Logging.File.MaxSizeMB,
			MaxBackups: c.Logging.File.MaxBackups,
			MaxAgeDays: c.Logging.File.MaxAgeDays,
			Compress:   c.Logging.File.Compress,
		},
	}, nil
}
