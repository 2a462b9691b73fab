package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/iot-mcp-bridge/internal/device"
)

// Payload defaults.
const (
	defaultErrorType     = "unknown"
	defaultErrorSeverity = 2
	minErrorSeverity     = 0
	maxErrorSeverity     = 3
	unknownActuatorState = "unknown"

	minQuality = 0
	maxQuality = 100
)

// CapabilitiesMessage is a parsed devices/{id}/capabilities payload.
type CapabilitiesMessage struct {
	Capabilities device.Capabilities
	Timestamp    time.Time
}

// SensorMessage is a parsed devices/{id}/sensors/{type}/data payload.
type SensorMessage struct {
	Value     float64
	Unit      *string
	Quality   *float64
	Timestamp time.Time
}

// ActuatorMessage is a parsed devices/{id}/actuators/{type}/status payload.
type ActuatorMessage struct {
	State     string
	Timestamp time.Time
}

// StatusMessage is a parsed devices/{id}/status payload.
type StatusMessage struct {
	Status    string
	Online    bool
	Timestamp time.Time
}

// ErrorMessage is a parsed devices/{id}/error payload.
type ErrorMessage struct {
	Type      string
	Message   string
	Severity  int
	Timestamp time.Time

	// Raw is the original payload, stored verbatim with the event.
	Raw json.RawMessage
}

// decodeObject decodes payload as a JSON object, keeping numbers as json.Number.
func decodeObject(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	return obj, nil
}

// timestampOf returns the payload's unix-seconds timestamp, or now when absent or invalid.
func timestampOf(obj map[string]any, now time.Time) time.Time {
	if ts, ok := device.ParseUnixSeconds(obj["timestamp"]); ok {
		return ts
	}
	return now
}

// ParseCapabilities parses a capability announcement.
func ParseCapabilities(payload []byte, now time.Time) (CapabilitiesMessage, error) {
	obj, err := decodeObject(payload)
	if err != nil {
		return CapabilitiesMessage{}, err
	}

	sensors, err := stringList(obj, "sensors")
	if err != nil {
		return CapabilitiesMessage{}, err
	}
	actuators, err := stringList(obj, "actuators")
	if err != nil {
		return CapabilitiesMessage{}, err
	}

	caps := device.Capabilities{
		Sensors:         sensors,
		Actuators:       actuators,
		FirmwareVersion: stringField(obj, "firmware_version"),
		HardwareVersion: stringField(obj, "hardware_version"),
		DeviceType:      stringField(obj, "device_type"),
		Location:        stringField(obj, "location"),
	}
	if caps.DeviceType == "" {
		caps.DeviceType = device.DefaultDeviceType
	}
	if md, ok := obj["metadata"].(map[string]any); ok {
		caps.Metadata = md
	}

	return CapabilitiesMessage{Capabilities: caps, Timestamp: timestampOf(obj, now)}, nil
}

// ParseSensor parses a sensor reading. The value is either a bare number or an
// object with reading, unit and quality fields. A quality outside 0..100 is
// discarded; a missing or non-numeric reading is an error.
func ParseSensor(payload []byte, now time.Time) (SensorMessage, error) {
	obj, err := decodeObject(payload)
	if err != nil {
		return SensorMessage{}, err
	}

	msg := SensorMessage{Timestamp: timestampOf(obj, now)}

	switch v := obj["value"].(type) {
	case map[string]any:
		reading, ok := toFloat(v["reading"])
		if !ok {
			return SensorMessage{}, fmt.Errorf("%w: missing or non-numeric reading", ErrMalformedPayload)
		}
		msg.Value = reading
		if unit, ok := v["unit"].(string); ok {
			msg.Unit = &unit
		}
		if q, ok := toFloat(v["quality"]); ok && q >= minQuality && q <= maxQuality {
			msg.Quality = &q
		}
	default:
		reading, ok := toFloat(v)
		if !ok {
			return SensorMessage{}, fmt.Errorf("%w: missing or non-numeric value", ErrMalformedPayload)
		}
		msg.Value = reading
	}

	return msg, nil
}

// ParseActuator parses an actuator status report.
func ParseActuator(payload []byte, now time.Time) (ActuatorMessage, error) {
	obj, err := decodeObject(payload)
	if err != nil {
		return ActuatorMessage{}, err
	}

	state := unknownActuatorState
	if s, ok := formatState(obj["state"]); ok {
		state = s
	} else if s, ok := formatState(obj["value"]); ok {
		state = s
	}

	return ActuatorMessage{State: state, Timestamp: timestampOf(obj, now)}, nil
}

// ParseStatus parses a device status message. online, connected and active
// (any case) mean online; every other value means offline.
func ParseStatus(payload []byte, now time.Time) (StatusMessage, error) {
	obj, err := decodeObject(payload)
	if err != nil {
		return StatusMessage{}, err
	}

	status, ok := obj["status"].(string)
	if !ok {
		status, _ = obj["value"].(string)
	}

	return StatusMessage{
		Status:    status,
		Online:    isOnlineStatus(status),
		Timestamp: timestampOf(obj, now),
	}, nil
}

// ParseError parses a device error report. Fields are read from the nested
// value object, falling back to the top level when value is absent.
func ParseError(payload []byte, now time.Time) (ErrorMessage, error) {
	obj, err := decodeObject(payload)
	if err != nil {
		return ErrorMessage{}, err
	}

	fields, ok := obj["value"].(map[string]any)
	if !ok {
		fields = obj
	}

	msg := ErrorMessage{
		Type:      stringField(fields, "error_type"),
		Message:   stringField(fields, "message"),
		Severity:  defaultErrorSeverity,
		Timestamp: timestampOf(obj, now),
		Raw:       append(json.RawMessage(nil), bytes.TrimSpace(payload)...),
	}
	if msg.Type == "" {
		msg.Type = defaultErrorType
	}
	if sev, ok := toFloat(fields["severity"]); ok {
		msg.Severity = int(math.Max(minErrorSeverity, math.Min(maxErrorSeverity, sev)))
	}

	return msg, nil
}

func isOnlineStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "online", "connected", "active":
		return true
	}
	return false
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// stringList reads an optional array of strings. Non-string elements are skipped.
func stringList(obj map[string]any, key string) ([]string, error) {
	raw, present := obj[key]
	if !present || raw == nil {
		return []string{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a list", ErrMalformedPayload, key)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// formatState renders a scalar state value as a string.
func formatState(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}
