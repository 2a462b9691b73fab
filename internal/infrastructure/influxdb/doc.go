// Package influxdb provides an optional InfluxDB mirror for device telemetry.
//
// It wraps the official influxdb-client-go v2 library. SQLite remains the
// bridge's system of record; when influxdb.enabled is true, sensor readings,
// actuator states, device events and metrics snapshots are also written here
// for dashboards.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without the mirror
//	}
//	defer client.Close()
//
//	client.WriteSensorReading("esp32_kitchen", "temperature", 23.5, "°C", nil, ts)
//
// # Error Handling
//
// Writes are non-blocking and batched; failures are delivered to the
// SetOnError callback wrapped in ErrWriteFailed. Connection and health check
// errors are returned directly.
package influxdb
