// Package logging provides structured logging for the device agent.
//
// It wraps Go's standard log/slog package so the agent logs consistently
// and the resulting *Logger can be injected directly into a
// losantmqtt.Device (it satisfies the losantmqtt.Logger interface).
//
// # Configuration
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting agent", "device_id", cfg.Device.ID)
//
// Never log the device access key or secret.
package logging
