package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/iot-mcp-bridge/internal/device"
)

// PointWriter receives time-series points. *influxdb.Client satisfies it.
// Writes are asynchronous and never fail the caller.
type PointWriter interface {
	WriteSensorReading(deviceID, sensorType string, value float64, unit string, quality *float64, ts time.Time)
	WriteActuatorState(deviceID, actuatorType, state string, ts time.Time)
	WriteDeviceEvent(deviceID, eventType string, severity int, message string, ts time.Time)
	WriteDeviceCounters(deviceID string, counters map[string]int64, ts time.Time)
}

// Mirror is a Store that forwards every successful write on the primary
// store to a PointWriter. Queries are served by the primary only.
type Mirror struct {
	Store
	points PointWriter
	clock  device.Clock
}

// NewMirror wraps primary. A nil points writer returns primary unchanged.
func NewMirror(primary Store, points PointWriter) Store {
	if points == nil {
		return primary
	}
	return &Mirror{Store: primary, points: points, clock: device.SystemClock}
}

// AppendReading writes to the primary store, then mirrors the reading.
func (m *Mirror) AppendReading(ctx context.Context, r device.SensorReading) error {
	if err := m.Store.AppendReading(ctx, r); err != nil {
		return err
	}
	unit := ""
	if r.Unit != nil {
		unit = *r.Unit
	}
	m.points.WriteSensorReading(r.DeviceID, r.SensorType, r.Value, unit, r.Quality, r.Timestamp)
	return nil
}

// AppendActuatorState writes to the primary store, then mirrors the state.
func (m *Mirror) AppendActuatorState(ctx context.Context, s device.ActuatorState) error {
	if err := m.Store.AppendActuatorState(ctx, s); err != nil {
		return err
	}
	m.points.WriteActuatorState(s.DeviceID, s.ActuatorType, s.State, s.Timestamp)
	return nil
}

// AppendEvent writes to the primary store, then mirrors the event.
func (m *Mirror) AppendEvent(ctx context.Context, e Event) error {
	if err := m.Store.AppendEvent(ctx, e); err != nil {
		return err
	}
	m.points.WriteDeviceEvent(e.DeviceID, e.EventType, e.Severity, e.Data, e.Timestamp)
	return nil
}

// SaveMetrics writes to the primary store, then mirrors each device's counters.
func (m *Mirror) SaveMetrics(ctx context.Context, metrics map[string]device.Metrics) error {
	if err := m.Store.SaveMetrics(ctx, metrics); err != nil {
		return err
	}
	now := m.clock()
	for id, dm := range metrics {
		m.points.WriteDeviceCounters(id, map[string]int64{
			"messages_sent":       dm.MessagesSent,
			"messages_received":   dm.MessagesReceived,
			"connection_failures": dm.ConnectionFailures,
			"sensor_read_errors":  dm.SensorReadErrors,
		}, now)
	}
	return nil
}
