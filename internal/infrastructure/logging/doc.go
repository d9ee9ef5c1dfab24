// Package logging provides structured logging for cmdbroker.
//
// It wraps log/slog: JSON or text output, level filtering, and service and
// version fields on every entry. Each subsystem logs through a child
// created with Component, so entries can be filtered by component.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 5000)
//
//	queueLog := logger.Component("queue")
//	queueLog.Warn("persist failed", "error", err)
//
// Never log secrets, tokens or passwords. Command params are logged only at
// debug level.
package logging
