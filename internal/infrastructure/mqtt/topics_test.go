package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceCapabilities", topics.DeviceCapabilities("esp32_kitchen"), "devices/esp32_kitchen/capabilities"},
		{"SensorData", topics.SensorData("esp32_kitchen", "temperature"), "devices/esp32_kitchen/sensors/temperature/data"},
		{"ActuatorStatus", topics.ActuatorStatus("esp32_kitchen", "led"), "devices/esp32_kitchen/actuators/led/status"},
		{"ActuatorCommand", topics.ActuatorCommand("esp32_kitchen", "led"), "devices/esp32_kitchen/actuators/led/cmd"},
		{"DeviceStatus", topics.DeviceStatus("esp32_kitchen"), "devices/esp32_kitchen/status"},
		{"DeviceError", topics.DeviceError("esp32_kitchen"), "devices/esp32_kitchen/error"},
		{"AllCapabilities", topics.AllCapabilities(), "devices/+/capabilities"},
		{"AllSensorData", topics.AllSensorData(), "devices/+/sensors/+/data"},
		{"AllActuatorStatus", topics.AllActuatorStatus(), "devices/+/actuators/+/status"},
		{"AllDeviceStatus", topics.AllDeviceStatus(), "devices/+/status"},
		{"AllDeviceErrors", topics.AllDeviceErrors(), "devices/+/error"},
		{"SystemStatus", topics.SystemStatus(), "iotbridge/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestWildcardsMatchBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{topics.AllCapabilities(), topics.DeviceCapabilities("a"), true},
		{topics.AllSensorData(), topics.SensorData("a", "humidity"), true},
		{topics.AllActuatorStatus(), topics.ActuatorStatus("a", "relay"), true},
		{topics.AllDeviceStatus(), topics.DeviceStatus("a"), true},
		{topics.AllDeviceErrors(), topics.DeviceError("a"), true},

		// Commands must never loop back into the status subscription.
		{topics.AllActuatorStatus(), topics.ActuatorCommand("a", "relay"), false},
		{topics.AllDeviceStatus(), topics.ActuatorStatus("a", "relay"), false},
		{topics.AllSensorData(), "devices/a/sensors/temperature", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.topic, func(t *testing.T) {
			if got := MatchTopic(tt.pattern, tt.topic); got != tt.want {
				t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
			}
		})
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"devices/#", "devices/a/status", true},
		{"devices/#", "devices", true},
		{"#", "anything/at/all", true},
		{"devices/+", "devices/a", true},
		{"devices/+", "devices/a/b", false},
		{"devices/a/status", "devices/a/status", true},
		{"devices/a/status", "devices/b/status", false},
		{"devices/+/status", "devices//status", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.topic, func(t *testing.T) {
			if got := MatchTopic(tt.pattern, tt.topic); got != tt.want {
				t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
			}
		})
	}
}
