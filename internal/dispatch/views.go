package dispatch

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/nerrad567/iot-mcp-bridge/internal/device"
)

// DeviceSummary is one entry of list_devices.
type DeviceSummary struct {
	DeviceID        string                  `json:"device_id"`
	Online          bool                    `json:"online"`
	LastSeen        time.Time               `json:"last_seen"`
	Sensors         []string                `json:"sensors"`
	Actuators       []string                `json:"actuators"`
	FirmwareVersion string                  `json:"firmware_version,omitempty"`
	CurrentReadings map[string]ReadingValue `json:"current_readings"`
	ActuatorStates  map[string]string       `json:"actuator_states"`
}

// ReadingValue is a sensor value as returned to callers.
type ReadingValue struct {
	Value     float64   `json:"value"`
	Unit      *string   `json:"unit,omitempty"`
	Quality   *float64  `json:"quality,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SensorReadResult is the result of read_sensor.
type SensorReadResult struct {
	DeviceID     string         `json:"device_id"`
	SensorType   string         `json:"sensor_type"`
	CurrentValue float64        `json:"current_value"`
	Unit         *string        `json:"unit,omitempty"`
	Quality      *float64       `json:"quality,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	History      []ReadingValue `json:"history,omitempty"`
}

// SensorResult is one cell of read_all_sensors; Error is set instead of a value
// when the sensor could not be read.
type SensorResult struct {
	Value     *float64   `json:"value,omitempty"`
	Unit      *string    `json:"unit,omitempty"`
	Quality   *float64   `json:"quality,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// DeviceReadings is one device of read_all_sensors.
type DeviceReadings struct {
	Sensors map[string]SensorResult `json:"sensors,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// BulkReadResult is the result of read_all_sensors.
type BulkReadResult struct {
	Timestamp     time.Time                 `json:"timestamp"`
	Devices       map[string]DeviceReadings `json:"devices"`
	TotalDevices  int                       `json:"total_devices"`
	OnlineDevices int                       `json:"online_devices"`
}

// CommandResult is the result of control_actuator.
type CommandResult struct {
	CommandID    string    `json:"command_id"`
	DeviceID     string    `json:"device_id"`
	ActuatorType string    `json:"actuator_type"`
	Action       string    `json:"action"`
	Value        any       `json:"value"`
	Topic        string    `json:"topic"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
}

// commandPayload is the wire format of an actuator command.
type commandPayload struct {
	CommandID string  `json:"command_id"`
	Action    string  `json:"action"`
	Value     any     `json:"value"`
	Timestamp float64 `json:"timestamp"`
}

// DeviceInfo is the result of get_device_info.
type DeviceInfo struct {
	DeviceID      string               `json:"device_id"`
	Online        bool                 `json:"online"`
	LastSeen      time.Time            `json:"last_seen"`
	UptimeSeconds float64              `json:"uptime_seconds"`
	Capabilities  device.Capabilities  `json:"capabilities"`
	CurrentState  CurrentState         `json:"current_state"`
	Metrics       device.Metrics       `json:"metrics"`
	RecentErrors  []device.ErrorRecord `json:"recent_errors"`
}

// CurrentState holds the latest sensor and actuator values with their age.
type CurrentState struct {
	Sensors   map[string]AgedReading  `json:"sensors"`
	Actuators map[string]AgedActuator `json:"actuators"`
}

// AgedReading is a reading plus seconds since it was captured.
type AgedReading struct {
	ReadingValue
	AgeSeconds float64 `json:"age_seconds"`
}

// AgedActuator is an actuator state plus seconds since it was reported.
type AgedActuator struct {
	State      string    `json:"state"`
	Timestamp  time.Time `json:"timestamp"`
	AgeSeconds float64   `json:"age_seconds"`
}

// DeviceMatch is one entry of query_devices.
type DeviceMatch struct {
	DeviceID          string   `json:"device_id"`
	Online            bool     `json:"online"`
	MatchingSensors   []string `json:"matching_sensors"`
	MatchingActuators []string `json:"matching_actuators"`
}

// Alert is one error record of get_alerts.
type Alert struct {
	DeviceID  string          `json:"device_id"`
	EventType string          `json:"event_type"`
	ErrorType string          `json:"error_type,omitempty"`
	Message   string          `json:"message,omitempty"`
	Severity  int             `json:"severity"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Source    string          `json:"source"`
}

// AlertsResult is the result of get_alerts.
type AlertsResult struct {
	Alerts      []Alert `json:"alerts"`
	Count       int     `json:"count"`
	SeverityMin int     `json:"severity_min"`
	HoursBack   int     `json:"hours_back"`
}

// SystemStatus is the result of get_system_status.
type SystemStatus struct {
	TotalDevices    int              `json:"total_devices"`
	OnlineDevices   int              `json:"online_devices"`
	OfflineDevices  int              `json:"offline_devices"`
	Persistence     *QueueStatus     `json:"persistence,omitempty"`
	DatabaseStats   map[string]int64 `json:"database_stats,omitempty"`
	DatabaseError   string           `json:"database_error,omitempty"`
	SystemTimestamp time.Time        `json:"system_timestamp"`
}

// QueueStatus reports the persistence queue.
type QueueStatus struct {
	Pending int    `json:"pending"`
	Dropped uint64 `json:"dropped"`
}

// DeviceMetrics is the result of get_device_metrics.
type DeviceMetrics struct {
	DeviceID           string    `json:"device_id"`
	MessagesSent       int64     `json:"messages_sent"`
	MessagesReceived   int64     `json:"messages_received"`
	ConnectionFailures int64     `json:"connection_failures"`
	SensorReadErrors   int64     `json:"sensor_read_errors"`
	LastActivity       time.Time `json:"last_activity"`
	UptimeStart        time.Time `json:"uptime_start"`
	UptimeSeconds      float64   `json:"uptime_seconds"`
}

func readingValue(r device.SensorReading) ReadingValue {
	return ReadingValue{Value: r.Value, Unit: r.Unit, Quality: r.Quality, Timestamp: r.Timestamp}
}

// knownSensors returns declared and reported sensor types, sorted and unique.
func knownSensors(dev device.Device) []string {
	names := slices.Clone(dev.Capabilities.Sensors)
	for name := range dev.Sensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// knownActuators returns declared and reported actuator types, sorted and unique.
func knownActuators(dev device.Device) []string {
	names := slices.Clone(dev.Capabilities.Actuators)
	for name := range dev.Actuators {
		names = append(names, name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// ageSeconds clamps to zero for future timestamps.
func ageSeconds(now, ts time.Time) float64 {
	if ts.IsZero() || now.Before(ts) {
		return 0
	}
	return now.Sub(ts).Seconds()
}
