// Package dispatch executes named tool calls for LLM clients.
//
// A Dispatcher owns a fixed table of tools (list_devices, read_sensor,
// control_actuator and so on). Each call takes raw JSON arguments and returns
// a Result holding either data or a ToolError with a stable code:
//
//	res := d.Dispatch(ctx, "read_sensor", json.RawMessage(`{"device_id":"esp32_kitchen","sensor_type":"temperature"}`))
//	if res.Error != nil {
//	    // res.Error.Code is one of the Code constants
//	}
//
// Reads come from the device Registry; reading history, persisted alerts and
// database statistics come from the optional telemetry Store. control_actuator
// publishes devices/{id}/actuators/{type}/cmd through the Publisher, bounded by
// the publish timeout.
package dispatch
