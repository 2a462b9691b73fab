package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementSensorReadings = "sensor_readings"
	MeasurementActuatorStates = "actuator_states"
	MeasurementDeviceEvents   = "device_events"
	MeasurementDeviceMetrics  = "device_metrics"
)

// WriteSensorReading mirrors one sensor reading.
// Unit becomes a tag; quality is only written when known.
//
// Example:
//
//	client.WriteSensorReading("esp32_kitchen", "temperature", 23.5, "°C", nil, ts)
func (c *Client) WriteSensorReading(deviceID, sensorType string, value float64, unit string, quality *float64, ts time.Time) {
	tags := map[string]string{
		"device_id":   deviceID,
		"sensor_type": sensorType,
	}
	if unit != "" {
		tags["unit"] = unit
	}

	fields := map[string]interface{}{
		"value": value,
	}
	if quality != nil {
		fields["quality"] = *quality
	}

	c.WritePointWithTime(MeasurementSensorReadings, tags, fields, ts)
}

// WriteActuatorState mirrors one actuator state change.
func (c *Client) WriteActuatorState(deviceID, actuatorType, state string, ts time.Time) {
	c.WritePointWithTime(MeasurementActuatorStates,
		map[string]string{
			"device_id":     deviceID,
			"actuator_type": actuatorType,
		},
		map[string]interface{}{
			"state": state,
		},
		ts,
	)
}

// WriteDeviceEvent mirrors one device event (errors, status changes).
func (c *Client) WriteDeviceEvent(deviceID, eventType string, severity int, message string, ts time.Time) {
	c.WritePointWithTime(MeasurementDeviceEvents,
		map[string]string{
			"device_id":  deviceID,
			"event_type": eventType,
		},
		map[string]interface{}{
			"severity": severity,
			"message":  message,
		},
		ts,
	)
}

// WriteDeviceCounters mirrors a per-device metrics snapshot.
func (c *Client) WriteDeviceCounters(deviceID string, counters map[string]int64, ts time.Time) {
	if len(counters) == 0 {
		return
	}

	fields := make(map[string]interface{}, len(counters))
	for k, v := range counters {
		fields[k] = v
	}

	c.WritePointWithTime(MeasurementDeviceMetrics,
		map[string]string{"device_id": deviceID},
		fields,
		ts,
	)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// It is a no-op when the client is not connected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
