package dispatch

// Tool names.
const (
	ToolListDevices      = "list_devices"
	ToolReadSensor       = "read_sensor"
	ToolReadAllSensors   = "read_all_sensors"
	ToolControlActuator  = "control_actuator"
	ToolGetDeviceInfo    = "get_device_info"
	ToolQueryDevices     = "query_devices"
	ToolGetAlerts        = "get_alerts"
	ToolGetSystemStatus  = "get_system_status"
	ToolGetDeviceMetrics = "get_device_metrics"
)

func (d *Dispatcher) buildTools() map[string]Tool {
	tools := []Tool{
		{
			Name:        ToolListDevices,
			Description: "List all known IoT devices with their current readings and actuator states",
			Parameters: object(nil, map[string]any{
				"online_only": boolean("Only include devices that are currently online"),
			}),
			handler: d.listDevices,
		},
		{
			Name:        ToolReadSensor,
			Description: "Read the current value of one sensor, optionally with recent history",
			Parameters: object([]string{"device_id", "sensor_type"}, map[string]any{
				"device_id":       str("Device identifier"),
				"sensor_type":     str("Sensor type, e.g. temperature"),
				"history_minutes": integer("Include persisted readings from this many minutes back"),
			}),
			handler: d.readSensor,
		},
		{
			Name:        ToolReadAllSensors,
			Description: "Read several sensors across several devices at once",
			Parameters: object(nil, map[string]any{
				"device_ids":   strList("Devices to read; defaults to every online device"),
				"sensor_types": strList("Sensor types to read; defaults to every sensor the device has reported"),
			}),
			handler: d.readAllSensors,
		},
		{
			Name:        ToolControlActuator,
			Description: "Send a command to a device actuator",
			Parameters: object([]string{"device_id", "actuator_type", "action"}, map[string]any{
				"device_id":     str("Device identifier"),
				"actuator_type": str("Actuator type, e.g. led"),
				"action":        str("Action to perform, e.g. on, off, toggle, set"),
				"value":         map[string]any{"description": "Optional action value"},
			}),
			handler: d.controlActuator,
		},
		{
			Name:        ToolGetDeviceInfo,
			Description: "Get capabilities, current state, metrics and recent errors for one device",
			Parameters: object([]string{"device_id"}, map[string]any{
				"device_id": str("Device identifier"),
			}),
			handler: d.getDeviceInfo,
		},
		{
			Name:        ToolQueryDevices,
			Description: "Find devices by declared sensor or actuator type",
			Parameters: object(nil, map[string]any{
				"sensor_type":   str("Required sensor capability"),
				"actuator_type": str("Required actuator capability"),
				"online_only":   boolean("Only include devices that are currently online"),
			}),
			handler: d.queryDevices,
		},
		{
			Name:        ToolGetAlerts,
			Description: "List recent device errors, newest first",
			Parameters: object(nil, map[string]any{
				"device_id":         str("Limit to one device"),
				"severity_min":      integer("Minimum severity, 0 (info) to 3 (critical); default 1"),
				"hours_back":        integer("Look-back window in hours; default 24"),
				"include_persisted": boolean("Also search persisted events; default true"),
			}),
			handler: d.getAlerts,
		},
		{
			Name:        ToolGetSystemStatus,
			Description: "Get device counts and persistence statistics",
			Parameters:  object(nil, map[string]any{}),
			handler:     d.getSystemStatus,
		},
		{
			Name:        ToolGetDeviceMetrics,
			Description: "Get message and error counters for one device",
			Parameters: object([]string{"device_id"}, map[string]any{
				"device_id": str("Device identifier"),
			}),
			handler: d.getDeviceMetrics,
		},
	}

	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	return byName
}

// JSON Schema helpers for tool parameters.

func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolean(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func strList(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}
