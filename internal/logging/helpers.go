package logging

import (
	"log/slog"
	"time"
)

// Common field helpers for consistent structured logging.

// Port creates the (deviceId, comPort) pair every agent-side log line carries.
func Port(deviceID, portName string) []any {
	return []any{
		slog.String("device_id", deviceID),
		slog.String("port", portName),
	}
}

// Duration logs a duration in milliseconds.
func Duration(name string, d time.Duration) slog.Attr {
	return slog.Int64(name+"_ms", d.Milliseconds())
}

// Err creates an error field.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Count creates a count field.
func Count(name string, count int) slog.Attr {
	return slog.Int(name+"_count", count)
}
