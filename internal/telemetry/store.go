package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/iot-mcp-bridge/internal/device"
)

// Query limits.
const (
	// MaxReadingRows caps QueryReadings results.
	MaxReadingRows = 1000

	// MaxEventRows caps QueryEvents results.
	MaxEventRows = 500
)

// Event types written to device_events.
const (
	EventTypeError        = "error"
	EventTypeStatusChange = "status_change"
)

// Event is one row of device_events.
type Event struct {
	ID        int64     `json:"id,omitempty"`
	DeviceID  string    `json:"device_id"`
	EventType string    `json:"event_type"`
	Data      string    `json:"data,omitempty"` // raw JSON
	Severity  int       `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter selects events in QueryEvents. Zero fields match everything.
type EventFilter struct {
	DeviceID    string
	EventType   string
	SeverityMin int
	Since       time.Time
}

// DeviceRecord is the persisted registration of a device (the devices table).
type DeviceRecord struct {
	DeviceID     string
	Capabilities device.Capabilities
	Online       bool
	LastSeen     time.Time
}

// CleanupResult reports rows removed by Cleanup.
type CleanupResult struct {
	Readings       int64 `json:"readings"`
	Events         int64 `json:"events"`
	ActuatorStates int64 `json:"actuator_states"`
}

// Total returns the number of rows removed across all tables.
func (r CleanupResult) Total() int64 {
	return r.Readings + r.Events + r.ActuatorStates
}

// Store is the durable sink for telemetry.
//
// Implementations must be safe for concurrent use. Append methods are called
// from the persistence Writer only; query methods may be called from any
// dispatcher goroutine.
type Store interface {
	AppendReading(ctx context.Context, r device.SensorReading) error
	AppendActuatorState(ctx context.Context, s device.ActuatorState) error
	AppendEvent(ctx context.Context, e Event) error

	// UpsertDevice inserts or replaces the device's registration row.
	UpsertDevice(ctx context.Context, d DeviceRecord) error

	// UpdateDeviceStatus sets the status column. Unknown devices get a minimal row.
	UpdateDeviceStatus(ctx context.Context, deviceID string, online bool, at time.Time) error

	// QueryReadings returns readings newer than since, newest first, at most MaxReadingRows.
	QueryReadings(ctx context.Context, deviceID, sensorType string, since time.Time) ([]device.SensorReading, error)

	// QueryEvents returns matching events, newest first, at most MaxEventRows.
	QueryEvents(ctx context.Context, f EventFilter) ([]Event, error)

	// SaveMetrics writes a snapshot of per-device counters.
	SaveMetrics(ctx context.Context, metrics map[string]device.Metrics) error

	// Cleanup removes readings and events older than retention, and actuator
	// history older than retention except the latest row per actuator.
	Cleanup(ctx context.Context, retention time.Duration) (CleanupResult, error)

	// Stats returns row counts per table and the database size in bytes.
	Stats(ctx context.Context) (map[string]int64, error)
}
