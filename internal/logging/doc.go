// Package logging provides structured logging for gearctl and the protocol
// packages.
//
// This package wraps a global zap logger with convenience functions. Until
// Initialize is called with a level (or GEARCTL_LOG_LEVEL is set) the logger
// is a no-op, so library code can log freely without producing output.
//
// # Log Levels
//
//   - Debug: every frame sent or received, with hex and ASCII dumps
//   - Info: connection events, TLS handshakes
//   - Warn: unmatched or mismatched responses, handler faults
//   - Error: malformed headers and other fatal protocol errors
//
// # Usage
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
//	logging.Info("Connected to job server",
//	    zap.String("remote_addr", addr),
//	)
//
// # Testing
//
// SetLogger swaps in any *zap.Logger, typically one built on
// go.uber.org/zap/zaptest/observer, and returns a restore function.
package logging
