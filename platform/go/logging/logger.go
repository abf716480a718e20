package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type Config struct {
	// Component is attached to every entry as "component", e.g. "xentri-api" or "xentri-cli".
	Component string
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is FormatJSON (default, Cloud Logging friendly) or FormatConsole for local development.
	Format string
	// Output defaults to stdout.
	Output zapcore.WriteSyncer
}

// NewLogger builds the process logger. JSON output uses Cloud Logging's severity and message keys.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	enc, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	out := cfg.Output
	if out == nil {
		out = zapcore.Lock(os.Stdout)
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Component != "" {
		opts = append(opts, zap.Fields(zap.String("component", cfg.Component)))
	}
	return zap.New(zapcore.NewCore(enc, out, level), opts...), nil
}

func parseLevel(raw string) (zap.AtomicLevel, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}
	level, err := zap.ParseAtomicLevel(raw)
	if err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("log level %q: %w", raw, err)
	}
	return level, nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "severity",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeLevel:    severityEncoder,
		}), nil
	case FormatConsole:
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		return zapcore.NewConsoleEncoder(ec), nil
	default:
		return nil, fmt.Errorf("log format %q: want %s or %s", format, FormatJSON, FormatConsole)
	}
}

// severityEncoder maps zap levels onto Cloud Logging LogSeverity names.
func severityEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	severity, ok := map[zapcore.Level]string{
		zapcore.DebugLevel:  "DEBUG",
		zapcore.InfoLevel:   "INFO",
		zapcore.WarnLevel:   "WARNING",
		zapcore.ErrorLevel:  "ERROR",
		zapcore.DPanicLevel: "CRITICAL",
		zapcore.PanicLevel:  "ALERT",
		zapcore.FatalLevel:  "EMERGENCY",
	}[l]
	if !ok {
		severity = "DEFAULT"
	}
	enc.AppendString(severity)
}
