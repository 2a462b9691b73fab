package dispatch

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/iot-mcp-bridge/internal/device"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-mcp-bridge/internal/telemetry"
)

// get_alerts bounds and defaults.
const (
	maxAlerts          = 50
	defaultSeverityMin = 1
	defaultHoursBack   = 24
	recentErrorsShown  = 10

	alertSourceMemory = "memory"
	alertSourceStore  = "store"

	statusCommandSent = "command_sent"
)

type listDevicesArgs struct {
	OnlineOnly bool `json:"online_only"`
}

func (d *Dispatcher) listDevices(_ context.Context, raw json.RawMessage) (any, *ToolError) {
	var args listDevicesArgs
	if terr := decodeArgs(raw, &args); terr != nil {
		return nil, terr
	}

	devices := d.registry.List(args.OnlineOnly)
	out := make([]DeviceSummary, 0, len(devices))
	for _, dev := range devices {
		summary := DeviceSummary{
			DeviceID:        dev.ID,
			Online:          dev.Online,
			LastSeen:        dev.LastSeen,
			Sensors:         knownSensors(dev),
			Actuators:       knownActuators(dev),
			FirmwareVersion: dev.Capabilities.FirmwareVersion,
			CurrentReadings: make(map[string]ReadingValue, len(dev.Sensors)),
			ActuatorStates:  make(map[string]string, len(dev.Actuators)),
		}
		for name, r := range dev.Sensors {
			summary.CurrentReadings[name] = readingValue(r)
		}
		for name, s := range dev.Actuators {
			summary.ActuatorStates[name] = s.State
		}
		out = append(out, summary)
	}
	return out, nil
}

type readSensorArgs struct {
	DeviceID       string `json:"device_id"`
	SensorType     string `json:"sensor_type"`
	HistoryMinutes int    `json:"history_minutes"`
}

func (d *Dispatcher) readSensor(ctx context.Context, raw json.RawMessage) (any, *ToolError) {
	var args readSensorArgs
	if terr := decodeArgs(raw, &args); terr != nil {
		return nil, terr
	}
	if args.DeviceID == "" {
		return nil, invalidArgs("device_id is required")
	}
	if args.SensorType == "" {
		return nil, invalidArgs("sensor_type is required")
	}
	if args.HistoryMinutes < 0 {
		return nil, invalidArgs("history_minutes must not be negative")
	}

	dev, ok := d.registry.Get(args.DeviceID)
	if !ok {
		return nil, notFound("device %s not found", args.DeviceID)
	}
	reading, ok := dev.Sensors[args.SensorType]
	if !ok {
		return nil, notFound("sensor %s not found on device %s", args.SensorType, args.DeviceID)
	}

	result := SensorReadResult{
		DeviceID:     args.DeviceID,
		SensorType:   args.SensorType,
		CurrentValue: reading.Value,
		Unit:         reading.Unit,
		Quality:      reading.Quality,
		Timestamp:    reading.Timestamp,
	}
	if args.HistoryMinutes > 0 {
		result.History = d.sensorHistory(ctx, args.DeviceID, args.SensorType, time.Duration(args.HistoryMinutes)*time.Minute)
	}
	return result, nil
}

// sensorHistory returns persisted readings newer than window, newest first.
// Store failures are logged and yield an empty history.
func (d *Dispatcher) sensorHistory(ctx context.Context, deviceID, sensorType string, window time.Duration) []ReadingValue {
	if d.store == nil {
		return []ReadingValue{}
	}
	readings, err := d.store.QueryReadings(ctx, deviceID, sensorType, d.clock().Add(-window))
	if err != nil {
		d.logger.Warn("failed to query sensor history",
			"device_id", deviceID,
			"sensor_type", sensorType,
			"error", err,
		)
		return []ReadingValue{}
	}
	out := make([]ReadingValue, 0, len(readings))
	for _, r := range readings {
		out = append(out, readingValue(r))
	}
	return out
}

type readAllSensorsArgs struct {
	DeviceIDs   []string `json:"device_ids"`
	SensorTypes []string `json:"sensor_types"`
}

func (d *Dispatcher) readAllSensors(_ context.Context, raw json.RawMessage) (any, *ToolError) {
	var args readAllSensorsArgs
	if terr := decodeArgs(raw, &args); terr != nil {
		return nil, terr
	}

	ids := args.DeviceIDs
	if ids == nil {
		for _, dev := range d.registry.List(true) {
			ids = append(ids, dev.ID)
		}
	}

	result := BulkReadResult{
		Timestamp:    d.clock(),
		Devices:      make(map[string]DeviceReadings, len(ids)),
		TotalDevices: len(ids),
	}
	for _, id := range ids {
		dev, ok := d.registry.Get(id)
		switch {
		case !ok:
			result.Devices[id] = DeviceReadings{Error: fmt.Sprintf("device %s not found", id)}
			continue
		case !dev.Online:
			result.Devices[id] = DeviceReadings{Error: fmt.Sprintf("device %s is offline", id)}
			continue
		}
		result.OnlineDevices++

		types := args.SensorTypes
		if len(types) == 0 {
			types = make([]string, 0, len(dev.Sensors))
			for name := range dev.Sensors {
				types = append(types, name)
			}
			slices.Sort(types)
		}

		sensors := make(map[string]SensorResult, len(types))
		for _, name := range types {
			r, ok := dev.Sensors[name]
			if !ok {
				sensors[name] = SensorResult{Error: fmt.Sprintf("sensor %s not found", name)}
				continue
			}
			sensors[name] = SensorResult{Value: &r.Value, Unit: r.Unit, Quality: r.Quality, Timestamp: &r.Timestamp}
		}
		result.Devices[id] = DeviceReadings{Sensors: sensors}
	}
	return result, nil
}

type controlActuatorArgs struct {
	DeviceID     string          `json:"device_id"`
	ActuatorType string          `json:"actuator_type"`
	Action       string          `json:"action"`
	Value        json.RawMessage `json:"value"`
}

func (d *Dispatcher) controlActuator(ctx context.Context, raw json.RawMessage) (any, *ToolError) {
	var args controlActuatorArgs
	if terr := decodeArgs(raw, &args); terr != nil {
		return nil, terr
	}
	switch {
	case args.DeviceID == "":
		return nil, invalidArgs("device_id is required")
	case args.ActuatorType == "":
		return nil, invalidArgs("actuator_type is required")
	case args.Action == "":
		return nil, invalidArgs("action is required")
	}

	var value any
	if len(args.Value) > 0 {
		if err := json.Unmarshal(args.Value, &value); err != nil {
			return nil, invalidArgs("decode value: %v", err)
		}
	}

	result, terr := d.sendCommand(ctx, args.DeviceID, args.ActuatorType, args.Action, value)
	if terr != nil {
		d.metrics.CommandFailed(terr.Code)
		return nil, terr
	}
	d.metrics.CommandSent()
	return result, nil
}

// sendCommand validates the target and publishes one actuator command.
func (d *Dispatcher) sendCommand(ctx context.Context, deviceID, actuatorType, action string, value any) (CommandResult, *ToolError) {
	dev, ok := d.registry.Get(deviceID)
	if !ok {
		return CommandResult{}, notFound("device %s not found", deviceID)
	}
	if !dev.Online {
		return CommandResult{}, precondition("device %s is offline", deviceID)
	}
	if !dev.DeclaresActuator(actuatorType) {
		return CommandResult{}, precondition("actuator %s not found on device %s", actuatorType, deviceID)
	}
	if d.publisher == nil {
		return CommandResult{}, publishFailed("transport not configured")
	}

	now := d.clock()
	commandID := uuid.NewString()
	payload, err := json.Marshal(commandPayload{
		CommandID: commandID,
		Action:    action,
		Value:     value,
		Timestamp: float64(now.Unix()) + float64(now.Nanosecond())/float64(time.Second),
	})
	if err != nil {
		return CommandResult{}, invalidArgs("encode command: %v", err)
	}

	topic := mqtt.Topics{}.ActuatorCommand(deviceID, actuatorType)
	pubCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()

	if err := d.publisher.PublishContext(pubCtx, topic, payload, d.commandQoS, false); err != nil {
		d.logger.Warn("actuator command publish failed",
			"device_id", deviceID,
			"actuator_type", actuatorType,
			"command_id", commandID,
			"error", err,
		)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(pubCtx.Err(), context.DeadlineExceeded) {
			return CommandResult{}, publishFailed("publish to %s timed out after %s", topic, d.publishTimeout)
		}
		return CommandResult{}, publishFailed("publish to %s: %v", topic, err)
	}

	if err := d.registry.IncrementSent(deviceID); err != nil {
		d.logger.Warn("failed to count sent command", "device_id", deviceID, "error", err)
	}

	d.logger.Info("actuator command sent",
		"device_id", deviceID,
		"actuator_type", actuatorType,
		"action", action,
		"command_id", commandID,
	)
	return CommandResult{
		CommandID:    commandID,
		DeviceID:     deviceID,
		ActuatorType: actuatorType,
		Action:       action,
		Value:        value,
		Topic:        topic,
		Timestamp:    now,
		Status:       statusCommandSent,
	}, nil
}

type deviceIDArgs struct {
	DeviceID string `json:"device_id"`
}

func (a deviceIDArgs) validate() *ToolError {
	if a.DeviceID == "" {
		return invalidArgs("device_id is required")
	}
	return nil
}

func (d *Dispatcher) getDeviceInfo(_ context.Context, raw json.RawMessage) (any, *ToolError) {
	var args deviceIDArgs
	if terr := decodeArgs(raw, &args); terr != nil {
		return nil, terr
	}
	if terr := args.validate(); terr != nil {
		return nil, terr
	}

	dev, ok := d.registry.Get(args.DeviceID)
	if !ok {
		return nil, notFound("device %s not found", args.DeviceID)
	}

	now := d.clock()
	info := DeviceInfo{
		DeviceID:      dev.ID,
		Online:        dev.Online,
		LastSeen:      dev.LastSeen,
		UptimeSeconds: dev.Metrics.UptimeSeconds(now),
		Capabilities:  dev.Capabilities,
		CurrentState: CurrentState{
			Sensors:   make(map[string]AgedReading, len(dev.Sensors)),
			Actuators: make(map[string]AgedActuator, len(dev.Actuators)),
		},
		Metrics:      dev.Metrics,
		RecentErrors: dev.RecentErrors(recentErrorsShown),
	}
	for name, r := range dev.Sensors {
		info.CurrentState.Sensors[name] = AgedReading{ReadingValue: readingValue(r), AgeSeconds: ageSeconds(now, r.Timestamp)}
	}
	for name, s := range dev.Actuators {
		info.CurrentState.Actuators[name] = AgedActuator{State: s.State, Timestamp: s.Timestamp, AgeSeconds: ageSeconds(now, s.Timestamp)}
	}
	return info, nil
}

type queryDevicesArgs struct {
	SensorType   string `json:"sensor_type"`
	ActuatorType string `json:"actuator_type"`
	OnlineOnly   bool   `json:"online_only"`
}

func (d *Dispatcher) queryDevices(_ context.Context, raw json.RawMessage) (any, *ToolError) {
	var args queryDevicesArgs
	if terr := decodeArgs(raw, &args); terr != nil {
		return nil, terr
	}

	devices := d.registry.Query(device.Filter{
		SensorType:   args.SensorType,
		ActuatorType: args.ActuatorType,
		OnlineOnly:   args.OnlineOnly,
	})
	out := make([]DeviceMatch, 0, len(devices))
	for _, dev := range devices {
		out = append(out, DeviceMatch{
			DeviceID:          dev.ID,
			Online:            dev.Online,
			MatchingSensors:   matching(knownSensors(dev), args.SensorType),
			MatchingActuators: matching(knownActuators(dev), args.ActuatorType),
		})
	}
	return out, nil
}

// matching keeps names equal to want, or all names when want is empty.
func matching(names []string, want string) []string {
	if want == "" {
		return names
	}
	out := []string{}
	for _, n := range names {
		if n == want {
			out = append(out, n)
		}
	}
	return out
}

type getAlertsArgs struct {
	DeviceID         string `json:"device_id"`
	SeverityMin      *int   `json:"severity_min"`
	HoursBack        *int   `json:"hours_back"`
	IncludePersisted *bool  `json:"include_persisted"`
}

func (d *Dispatcher) getAlerts(ctx context.Context, raw json.RawMessage) (any, *ToolError) {
	var args getAlertsArgs
	if terr := decodeArgs(raw, &args); terr != nil {
		return nil, terr
	}

	severityMin := defaultSeverityMin
	if args.SeverityMin != nil {
		severityMin = *args.SeverityMin
	}
	hoursBack := defaultHoursBack
	if args.HoursBack != nil {
		if *args.HoursBack <= 0 {
			return nil, invalidArgs("hours_back must be positive")
		}
		hoursBack = *args.HoursBack
	}
	includePersisted := args.IncludePersisted == nil || *args.IncludePersisted

	since := d.clock().Add(-time.Duration(hoursBack) * time.Hour)

	var devices []device.Device
	if args.DeviceID != "" {
		if dev, ok := d.registry.Get(args.DeviceID); ok {
			devices = []device.Device{dev}
		}
	} else {
		devices = d.registry.List(false)
	}

	seen := make(map[string]struct{})
	alerts := []Alert{}
	for _, dev := range devices {
		for _, rec := range dev.Errors {
			if rec.Severity < severityMin || rec.Timestamp.Before(since) {
				continue
			}
			seen[alertKey(dev.ID, rec.Timestamp, rec.Severity)] = struct{}{}
			alerts = append(alerts, Alert{
				DeviceID:  dev.ID,
				EventType: telemetry.EventTypeError,
				ErrorType: rec.Type,
				Message:   rec.Message,
				Severity:  rec.Severity,
				Timestamp: rec.Timestamp,
				Source:    alertSourceMemory,
			})
		}
	}

	if includePersisted && d.store != nil {
		events, err := d.store.QueryEvents(ctx, telemetry.EventFilter{
			DeviceID:    args.DeviceID,
			EventType:   telemetry.EventTypeError,
			SeverityMin: severityMin,
			Since:       since,
		})
		if err != nil {
			d.logger.Warn("failed to query persisted alerts", "error", err)
		}
		for _, ev := range events {
			if _, dup := seen[alertKey(ev.DeviceID, ev.Timestamp, ev.Severity)]; dup {
				continue
			}
			errType, msg := errorFields(ev.Data)
			alerts = append(alerts, Alert{
				DeviceID:  ev.DeviceID,
				EventType: ev.EventType,
				ErrorType: errType,
				Message:   msg,
				Severity:  ev.Severity,
				Timestamp: ev.Timestamp,
				Data:      rawJSON(ev.Data),
				Source:    alertSourceStore,
			})
		}
	}

	slices.SortStableFunc(alerts, func(a, b Alert) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.DeviceID, b.DeviceID)
	})
	if len(alerts) > maxAlerts {
		alerts = alerts[:maxAlerts]
	}

	return AlertsResult{
		Alerts:      alerts,
		Count:       len(alerts),
		SeverityMin: severityMin,
		HoursBack:   hoursBack,
	}, nil
}

func alertKey(deviceID string, ts time.Time, severity int) string {
	return fmt.Sprintf("%s|%d|%d", deviceID, ts.UnixNano(), severity)
}

// errorFields extracts error_type and message from a stored error payload.
func errorFields(data string) (errType, msg string) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return "", ""
	}
	fields, ok := obj["value"].(map[string]any)
	if !ok {
		fields = obj
	}
	errType, _ = fields["error_type"].(string)
	msg, _ = fields["message"].(string)
	return errType, msg
}

// rawJSON returns data as raw JSON when valid, otherwise as a JSON string.
func rawJSON(data string) json.RawMessage {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return nil
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(trimmed)
	return quoted
}

func (d *Dispatcher) getSystemStatus(ctx context.Context, _ json.RawMessage) (any, *ToolError) {
	total := d.registry.Count()
	online := d.registry.CountOnline()

	status := SystemStatus{
		TotalDevices:    total,
		OnlineDevices:   online,
		OfflineDevices:  total - online,
		SystemTimestamp: d.clock(),
	}
	if d.queue != nil {
		status.Persistence = &QueueStatus{Pending: d.queue.Pending(), Dropped: d.queue.Dropped()}
	}
	if d.store != nil {
		stats, err := d.store.Stats(ctx)
		if err != nil {
			d.logger.Warn("failed to read database stats", "error", err)
			status.DatabaseError = err.Error()
		} else {
			status.DatabaseStats = stats
		}
	}
	return status, nil
}

func (d *Dispatcher) getDeviceMetrics(_ context.Context, raw json.RawMessage) (any, *ToolError) {
	var args deviceIDArgs
	if terr := decodeArgs(raw, &args); terr != nil {
		return nil, terr
	}
	if terr := args.validate(); terr != nil {
		return nil, terr
	}

	m, ok := d.registry.Metrics(args.DeviceID)
	if !ok {
		return nil, notFound("device %s not found", args.DeviceID)
	}
	if m.LastActivity.IsZero() {
		return nil, &ToolError{Code: CodeNoMetrics, Message: fmt.Sprintf("no metrics available for device %s", args.DeviceID)}
	}

	return DeviceMetrics{
		DeviceID:           args.DeviceID,
		MessagesSent:       m.MessagesSent,
		MessagesReceived:   m.MessagesReceived,
		ConnectionFailures: m.ConnectionFailures,
		SensorReadErrors:   m.SensorReadErrors,
		LastActivity:       m.LastActivity,
		UptimeStart:        m.UptimeStart,
		UptimeSeconds:      m.UptimeSeconds(d.clock()),
	}, nil
}
