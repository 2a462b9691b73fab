package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the device bus.
//
// Devices publish under devices/{device_id}/... and receive actuator commands on
// devices/{device_id}/actuators/{actuator_type}/cmd. The bridge's own liveness is
// published under the system prefix.
const (
	// TopicPrefixDevices is the base for all device topics.
	TopicPrefixDevices = "devices"

	// TopicPrefixSystem is the base for bridge system topics.
	TopicPrefixSystem = "iotbridge/system"
)

// Topic category segments (the third segment of a device topic).
const (
	CategoryCapabilities = "capabilities"
	CategorySensors      = "sensors"
	CategoryActuators    = "actuators"
	CategoryStatus       = "status"
	CategoryError        = "error"
)

// Topic leaf segments for per-sensor and per-actuator topics.
const (
	leafSensorData     = "data"
	leafActuatorStatus = "status"
	leafActuatorCmd    = "cmd"
)

// Topics provides builders for device bus topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	cmd := topics.ActuatorCommand("esp32_kitchen", "led")
//	// Returns: "devices/esp32_kitchen/actuators/led/cmd"
type Topics struct{}

// =============================================================================
// Per-device Topics
// =============================================================================

// DeviceCapabilities returns the capability announcement topic for a device.
//
// Example: devices/esp32_kitchen/capabilities
func (Topics) DeviceCapabilities(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, CategoryCapabilities)
}

// SensorData returns the topic a device publishes sensor readings on.
//
// Example: devices/esp32_kitchen/sensors/temperature/data
func (Topics) SensorData(deviceID, sensorType string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", TopicPrefixDevices, deviceID, CategorySensors, sensorType, leafSensorData)
}

// ActuatorStatus returns the topic a device publishes actuator state on.
//
// Example: devices/esp32_kitchen/actuators/led/status
func (Topics) ActuatorStatus(deviceID, actuatorType string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", TopicPrefixDevices, deviceID, CategoryActuators, actuatorType, leafActuatorStatus)
}

// ActuatorCommand returns the topic the bridge publishes actuator commands on.
//
// Example: devices/esp32_kitchen/actuators/led/cmd
func (Topics) ActuatorCommand(deviceID, actuatorType string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", TopicPrefixDevices, deviceID, CategoryActuators, actuatorType, leafActuatorCmd)
}

// DeviceStatus returns the liveness status topic for a device.
//
// Example: devices/esp32_kitchen/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, CategoryStatus)
}

// DeviceError returns the error report topic for a device.
//
// Example: devices/esp32_kitchen/error
func (Topics) DeviceError(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, CategoryError)
}

// =============================================================================
// Wildcard Subscriptions
// =============================================================================

// AllCapabilities matches capability announcements from every device.
func (Topics) AllCapabilities() string {
	return TopicPrefixDevices + "/+/" + CategoryCapabilities
}

// AllSensorData matches sensor readings from every device and sensor.
func (Topics) AllSensorData() string {
	return TopicPrefixDevices + "/+/" + CategorySensors + "/+/" + leafSensorData
}

// AllActuatorStatus matches actuator status from every device and actuator.
func (Topics) AllActuatorStatus() string {
	return TopicPrefixDevices + "/+/" + CategoryActuators + "/+/" + leafActuatorStatus
}

// AllDeviceStatus matches liveness status from every device.
func (Topics) AllDeviceStatus() string {
	return TopicPrefixDevices + "/+/" + CategoryStatus
}

// AllDeviceErrors matches error reports from every device.
func (Topics) AllDeviceErrors() string {
	return TopicPrefixDevices + "/+/" + CategoryError
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the bridge's own online/offline status topic (LWT target).
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// =============================================================================
// Matching
// =============================================================================

// MatchTopic reports whether topic matches an MQTT subscription pattern.
// "+" matches exactly one level; "#" matches the remaining levels and must be last.
func MatchTopic(pattern, topic string) bool {
	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")

	for i, p := range patternParts {
		if p == "#" {
			return i == len(patternParts)-1
		}
		if i >= len(topicParts) {
			return false
		}
		if p != "+" && p != topicParts[i] {
			return false
		}
	}

	return len(patternParts) == len(topicParts)
}
