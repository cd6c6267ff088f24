// Package logging provides structured logging for Therapy Core.
//
// It wraps log/slog so every component emits entries with the same
// default fields (service, version) and the same level handling.
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
//	logger.Component("dispatch").Info("command published", "topic", topic)
//
// Never log patient names, tokens or passwords. Identify patients by id only.
package logging
