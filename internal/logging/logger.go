package logging

// Levelled logging for the m18 tool, backed by zap.

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

var levelNames = map[LogLevel]string{
	LogLevelSilent:  "silent",
	LogLevelError:   "error",
	LogLevelInfo:    "info",
	LogLevelVerbose: "verbose",
	LogLevelDebug:   "debug",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// ParseLevel maps a level name to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "off", "none":
		return LogLevelSilent, nil
	case "error":
		return LogLevelError, nil
	case "", "info":
		return LogLevelInfo, nil
	case "verbose":
		return LogLevelVerbose, nil
	case "debug":
		return LogLevelDebug, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q (want silent, error, info, verbose or debug)", s)
}

// FileOptions configures the rotating log file.
type FileOptions struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Options configures a Logger.
type Options struct {
	Level  LogLevel
	Format string    // "console" (default) or "json"
	Output io.Writer // console destination, os.Stderr when nil
	File   FileOptions
}

// Logger provides levelled logging
type Logger struct {
	mu    sync.Mutex
	level LogLevel
	zl    *zap.Logger
	sugar *zap.SugaredLogger
	file  *lumberjack.Logger
}

// New builds a logger writing to the console and, when configured, to a
// rotating file.
func New(opts Options) (*Logger, error) {
	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.Format(time.RFC3339Nano)) },
		EncodeDuration: zapcore.MillisDurationEncoder,
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	syncers := []zapcore.WriteSyncer{zapcore.AddSync(out)}

	l := &Logger{level: opts.Level}
	if opts.File.Filename != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File.Filename,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   opts.File.Compress,
		}
		syncers = append(syncers, zapcore.AddSync(l.file))
	}

	// Level gating happens in Logger; zap sees everything that gets through.
	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), zapcore.DebugLevel)
	l.zl = zap.New(core)
	l.sugar = l.zl.Sugar()
	return l, nil
}

// NewLogger creates a console logger at level, also writing to logFile when
// it is not empty.
func NewLogger(level LogLevel, logFile string) (*Logger, error) {
	return New(Options{Level: level, File: FileOptions{Filename: logFile}})
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	zl := zap.NewNop()
	return &Logger{level: LogLevelSilent, zl: zl, sugar: zl.Sugar()}
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.zl.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.enabled(LogLevelError) {
		l.sugar.Errorf(format, v...)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.enabled(LogLevelInfo) {
		l.sugar.Infof(format, v...)
	}
}

// Verbose logs a verbose message
func (l *Logger) Verbose(format string, v ...interface{}) {
	if l.enabled(LogLevelVerbose) {
		l.sugar.Debugf(format, v...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.enabled(LogLevelDebug) {
		l.sugar.Debugw(fmt.Sprintf(format, v...), "detail", true)
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) enabled(level LogLevel) bool {
	return l.GetLevel() >= level
}

// LogExchange logs one command/response exchange with the pack.
func (l *Logger) LogExchange(op string, tx, rx []byte, d time.Duration, err error) {
	if err != nil {
		if l.enabled(LogLevelVerbose) {
			l.sugar.Debugw("exchange failed", "op", op, "tx", hexString(tx), "rx", hexString(rx), "elapsed", d, "error", err)
		}
		return
	}
	if l.enabled(LogLevelDebug) {
		l.sugar.Debugw("exchange", "op", op, "tx", hexString(tx), "rx", hexString(rx), "elapsed", d)
	}
}

// LogHex logs hex data (for debug level)
func (l *Logger) LogHex(label string, data []byte) {
	if l.enabled(LogLevelDebug) {
		l.Debug("%s: %s", label, hexString(data))
	}
}

func hexString(data []byte) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", v)
	}
	return b.String()
}
