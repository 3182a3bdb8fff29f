// Package logging provides structured logging for the Gray Logic Hub.
//
// This package wraps Go's standard log/slog package. Every entry carries
// the service name and build version. Domain packages never import this
// package directly: they declare a small Logger interface and receive a
// *logging.Logger through SetLogger.
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
//	logger.Info("starting service", "port", 8080)
//	logger.Error("failed to connect", "error", err)
//
// Never log secrets, tokens, or passwords.
package logging
