package device

import (
	"slices"
	"time"
)

// Error types that feed per-device metric counters.
// Any other type is stored but not counted.
const (
	ErrorTypeSensor     = "sensor_error"
	ErrorTypeConnection = "connection_error"
)

// DefaultMaxErrors is the per-device error history cap.
const DefaultMaxErrors = 100

// DefaultDeviceType is assumed when a capability announcement omits device_type.
const DefaultDeviceType = "esp32"

// Device is one addressable IoT endpoint and everything the bridge knows about it.
//
// Values returned by the Registry are deep copies; callers can read or modify
// them freely without affecting registry state.
type Device struct {
	ID       string    `json:"device_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`

	Capabilities Capabilities `json:"capabilities"`

	// Sensors and Actuators hold only the latest value per type.
	Sensors   map[string]SensorReading `json:"sensors"`
	Actuators map[string]ActuatorState `json:"actuators"`

	// Errors is oldest first and never longer than the registry's cap.
	Errors []ErrorRecord `json:"errors"`

	Metrics Metrics `json:"metrics"`
}

// Capabilities is what a device announces about itself.
type Capabilities struct {
	Sensors         []string       `json:"sensors"`
	Actuators       []string       `json:"actuators"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	HardwareVersion string         `json:"hardware_version,omitempty"`
	DeviceType      string         `json:"device_type,omitempty"`
	Location        string         `json:"location,omitempty"`
}

// SensorReading is one immutable sensor sample.
type SensorReading struct {
	DeviceID   string    `json:"device_id"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	Unit       *string   `json:"unit,omitempty"`
	Quality    *float64  `json:"quality,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ActuatorState is the last reported state of one actuator.
type ActuatorState struct {
	DeviceID     string    `json:"device_id"`
	ActuatorType string    `json:"actuator_type"`
	State        string    `json:"state"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrorRecord is one error reported by a device.
// Severity follows 0=info .. 3=critical; higher means more severe.
type ErrorRecord struct {
	Type      string    `json:"error_type"`
	Message   string    `json:"message"`
	Severity  int       `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics holds per-device counters.
type Metrics struct {
	MessagesSent       int64     `json:"messages_sent"`
	MessagesReceived   int64     `json:"messages_received"`
	ConnectionFailures int64     `json:"connection_failures"`
	SensorReadErrors   int64     `json:"sensor_read_errors"`
	LastActivity       time.Time `json:"last_activity"`
	UptimeStart        time.Time `json:"uptime_start"`
}

// UptimeSeconds returns seconds elapsed since the device was first seen.
func (m Metrics) UptimeSeconds(now time.Time) float64 {
	if m.UptimeStart.IsZero() || now.Before(m.UptimeStart) {
		return 0
	}
	return now.Sub(m.UptimeStart).Seconds()
}

// HasSensor reports whether the device declares sensorType in its capabilities.
func (d *Device) HasSensor(sensorType string) bool {
	return slices.Contains(d.Capabilities.Sensors, sensorType)
}

// HasActuator reports whether the device declares actuatorType in its capabilities.
func (d *Device) HasActuator(actuatorType string) bool {
	return slices.Contains(d.Capabilities.Actuators, actuatorType)
}

// DeclaresActuator reports whether the device either declares actuatorType or
// has reported a state for it.
func (d *Device) DeclaresActuator(actuatorType string) bool {
	if d.HasActuator(actuatorType) {
		return true
	}
	_, ok := d.Actuators[actuatorType]
	return ok
}

// RecentErrors returns up to n of the newest errors, oldest first.
func (d *Device) RecentErrors(n int) []ErrorRecord {
	if n <= 0 || len(d.Errors) == 0 {
		return []ErrorRecord{}
	}
	start := max(len(d.Errors)-n, 0)
	return slices.Clone(d.Errors[start:])
}

// DeepCopy creates a complete independent copy of the Device.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Capabilities = d.Capabilities.DeepCopy()

	if d.Sensors != nil {
		cpy.Sensors = make(map[string]SensorReading, len(d.Sensors))
		for k, v := range d.Sensors {
			cpy.Sensors[k] = v
		}
	}
	if d.Actuators != nil {
		cpy.Actuators = make(map[string]ActuatorState, len(d.Actuators))
		for k, v := range d.Actuators {
			cpy.Actuators[k] = v
		}
	}
	if d.Errors != nil {
		cpy.Errors = slices.Clone(d.Errors)
	}

	// SensorReading's Unit and Quality pointers are never mutated after
	// construction, so sharing them is safe.
	return &cpy
}

// DeepCopy returns an independent copy of the capability set.
func (c Capabilities) DeepCopy() Capabilities {
	cpy := c
	if c.Sensors != nil {
		cpy.Sensors = slices.Clone(c.Sensors)
	}
	if c.Actuators != nil {
		cpy.Actuators = slices.Clone(c.Actuators)
	}
	cpy.Metadata = deepCopyMap(c.Metadata)
	return cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
