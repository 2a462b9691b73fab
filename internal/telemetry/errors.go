package telemetry

import "errors"

// Domain errors for the telemetry package.
var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("telemetry: queue closed")

	// ErrInvalidRecord is returned when a record lacks a device ID or type.
	ErrInvalidRecord = errors.New("telemetry: invalid record")

	// ErrWriterRunning is returned when Start is called on a running Writer.
	ErrWriterRunning = errors.New("telemetry: writer already running")
)
