// Package logging builds the process slog handler: a zap JSON core reached
// through zapr and logr, with OpenTelemetry trace correlation on top.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps debug, info, warn, warning and error to a slog level.
// The empty string is info. The second result is false for anything else.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// LevelFromEnv reads <envPrefix>_LOG_LEVEL, then LOG_LEVEL. An invalid value
// logs a warning and yields info.
func LevelFromEnv(envPrefix string) slog.Level {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	value := v.GetString("LOG_LEVEL")
	if value == "" {
		value = os.Getenv("LOG_LEVEL")
	}

	level, ok := ParseLevel(value)
	if !ok {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", value)
	}
	return level
}

// NewHandler returns a JSON handler writing to w at the given minimum level.
func NewHandler(w io.Writer, level slog.Level) slog.Handler {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	// slog debug levels reach zap as negative levels
	zapLevel := zapcore.InfoLevel
	if level < slog.LevelInfo {
		zapLevel = zapcore.Level(level)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(w), zapLevel)
	logger := zapr.NewLogger(zap.New(core))

	return &traceHandler{
		Handler: logr.ToSlogHandler(logger),
		level:   level,
	}
}

// Setup installs NewHandler(os.Stderr, level) as the slog default and returns it.
func Setup(level slog.Level) slog.Handler {
	handler := NewHandler(os.Stderr, level)
	slog.SetDefault(slog.New(handler))
	return handler
}

// traceHandler adds trace_id and span_id of the active span to each record.
// It also enforces the minimum level above info, which the zap core is not
// configured for.
type traceHandler struct {
	slog.Handler
	level slog.Level
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.Handler.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}
