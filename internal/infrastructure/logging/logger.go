package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/cmdbroker/internal/infrastructure/config"
)

// ServiceName is attached to every entry as the "service" field.
const ServiceName = "cmdbroker"

// Logger is a slog.Logger carrying the service and version fields.
//
// It satisfies the narrow Logger interfaces declared by the command queue,
// the audit recorder, the relay, the telemetry reporter and the MQTT client.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from the logging section of config.yaml.
//
// It configures:
//   - Output destination (cfg.Output: "stdout" or "stderr")
//   - Output format (JSON by default, "text" for development)
//   - Level filtering
//   - Default fields (service name, version)
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Build version attached to every entry
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWithWriter(writerFor(cfg.Output), cfg, version)
}

// NewWithWriter creates a Logger writing to w; cfg.Output is ignored.
// Format "text" selects logfmt-style output, anything else JSON.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	}))}
}

// Discard returns a Logger that writes nothing.
func Discard() *Logger {
	return NewWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "")
}

// Component returns a child Logger tagged with component=name.
//
//	relayLog := log.Component("relay")
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// With returns a child Logger with extra attributes.
//
// Parameters:
//   - args: Key-value pairs added to every entry of the child
//
// Returns:
//   - *Logger: New logger with the added attributes
//
// Example:
//
//	cmdLog := log.With("command_id", id)
//	cmdLog.Info("dispatched") // Includes command_id=<id>
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func writerFor(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel maps debug, info, warn(ing) and error case-insensitively.
// Anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
