package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/iot-mcp-bridge/internal/device"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/iot-mcp-bridge/internal/telemetry"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// publishedMessage records one publish call.
type publishedMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// MockPublisher records publishes. When block is set it waits for the context.
type MockPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
	block     bool
}

func (m *MockPublisher) PublishContext(ctx context.Context, topic string, payload []byte, qos byte, _ bool) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, publishedMessage{Topic: topic, Payload: payload, QoS: qos})
	return nil
}

func (m *MockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

// fakeStore serves canned history, events and stats.
type fakeStore struct {
	telemetry.Store

	readings []device.SensorReading
	events   []telemetry.Event
	stats    map[string]int64
	err      error

	lastSince  time.Time
	lastFilter telemetry.EventFilter
}

func (s *fakeStore) QueryReadings(_ context.Context, _, _ string, since time.Time) ([]device.SensorReading, error) {
	s.lastSince = since
	return s.readings, s.err
}

func (s *fakeStore) QueryEvents(_ context.Context, f telemetry.EventFilter) ([]telemetry.Event, error) {
	s.lastFilter = f
	return s.events, s.err
}

func (s *fakeStore) Stats(context.Context) (map[string]int64, error) {
	return s.stats, s.err
}

type fakeQueue struct{}

func (fakeQueue) Pending() int    { return 3 }
func (fakeQueue) Dropped() uint64 { return 7 }

type fixture struct {
	d         *Dispatcher
	registry  *device.Registry
	publisher *MockPublisher
	store     *fakeStore
	prom      *prometheus.Registry
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		registry:  device.NewRegistry(0),
		publisher: &MockPublisher{},
		store:     &fakeStore{stats: map[string]int64{"sensor_data_count": 42}},
		prom:      prometheus.NewRegistry(),
		now:       testNow,
	}
	clock := func() time.Time { return f.now }
	f.registry.SetClock(clock)

	d, err := New(Options{
		Registry:   f.registry,
		Store:      f.store,
		Publisher:  f.publisher,
		Queue:      fakeQueue{},
		Metrics:    metrics.New(f.prom),
		Clock:      clock,
		CommandQoS: 1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.d = d
	return f
}

func (f *fixture) call(t *testing.T, tool string, args string) Result {
	t.Helper()
	return f.d.Dispatch(context.Background(), tool, json.RawMessage(args))
}

func (f *fixture) addReading(t *testing.T, id, sensorType string, v float64, unit string) {
	t.Helper()
	r := device.SensorReading{DeviceID: id, SensorType: sensorType, Value: v, Timestamp: f.now}
	if unit != "" {
		r.Unit = &unit
	}
	if _, err := f.registry.RecordSensorReading(r); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) addDevice(t *testing.T, id string, sensors, actuators []string) {
	t.Helper()
	if _, err := f.registry.UpsertCapabilities(id, device.Capabilities{Sensors: sensors, Actuators: actuators}); err != nil {
		t.Fatal(err)
	}
}

func wantError(t *testing.T, res Result, code string) {
	t.Helper()
	if res.Error == nil {
		t.Fatalf("expected %s error, got data %+v", code, res.Data)
	}
	if res.Error.Code != code {
		t.Fatalf("error code = %s (%s), want %s", res.Error.Code, res.Error.Message, code)
	}
	if res.Success {
		t.Error("Success should be false on error")
	}
}

func wantData[T any](t *testing.T, res Result) T {
	t.Helper()
	if res.Error != nil {
		t.Fatalf("unexpected error: %s: %s", res.Error.Code, res.Error.Message)
	}
	data, ok := res.Data.(T)
	if !ok {
		t.Fatalf("data type = %T", res.Data)
	}
	return data
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without registry")
	}
	if _, err := New(Options{Registry: device.NewRegistry(0), CommandQoS: 3}); err == nil {
		t.Error("expected error for qos 3")
	}
}

func TestTools(t *testing.T) {
	f := newFixture(t)

	tools := f.d.Tools()
	if len(tools) != 9 {
		t.Fatalf("len(Tools()) = %d, want 9", len(tools))
	}
	for i := 1; i < len(tools); i++ {
		if tools[i-1].Name >= tools[i].Name {
			t.Errorf("tools not sorted: %s before %s", tools[i-1].Name, tools[i].Name)
		}
	}
	for _, tool := range tools {
		if tool.Description == "" || tool.Parameters["type"] != "object" {
			t.Errorf("tool %s missing description or schema", tool.Name)
		}
	}

	encoded, err := json.Marshal(tools[0])
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(encoded), "handler") {
		t.Error("handler should not be serialised")
	}
}

func TestDispatch_UnknownTool(t *testing.T) {
	f := newFixture(t)

	res := f.call(t, "reboot_everything", `{}`)
	wantError(t, res, CodeUnknownTool)
	if len(res.Error.Available) != 9 {
		t.Errorf("available tools = %v", res.Error.Available)
	}
}

func TestDispatch_InvalidArguments(t *testing.T) {
	tests := []struct {
		tool string
		args string
	}{
		{ToolReadSensor, `{"sensor_type": "temperature"}`},
		{ToolReadSensor, `{"device_id": "a"}`},
		{ToolReadSensor, `{"device_id": 5, "sensor_type": "temperature"}`},
		{ToolReadSensor, `{"device_id": "a", "sensor_type": "t", "history_minutes": -1}`},
		{ToolReadSensor, `{`},
		{ToolControlActuator, `{"device_id": "a", "actuator_type": "led"}`},
		{ToolControlActuator, `{"device_id": "a", "action": "on"}`},
		{ToolControlActuator, `{"actuator_type": "led", "action": "on"}`},
		{ToolGetDeviceInfo, `{}`},
		{ToolGetDeviceMetrics, `{"device_id": ""}`},
		{ToolGetAlerts, `{"hours_back": 0}`},
		{ToolGetAlerts, `{"severity_min": "high"}`},
		{ToolReadAllSensors, `{"device_ids": "a"}`},
		{ToolListDevices, `{"online_only": "yes"}`},
	}

	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.tool+" "+tt.args, func(t *testing.T) {
			wantError(t, f.call(t, tt.tool, tt.args), CodeInvalidArguments)
		})
	}
}

func TestDispatch_NullArguments(t *testing.T) {
	f := newFixture(t)
	f.addDevice(t, "a", nil, nil)

	for _, args := range []string{"", "null", "  "} {
		res := f.d.Dispatch(context.Background(), ToolListDevices, json.RawMessage(args))
		if got := wantData[[]DeviceSummary](t, res); len(got) != 1 {
			t.Errorf("args %q: devices = %d, want 1", args, len(got))
		}
	}
}

func TestListDevices(t *testing.T) {
	f := newFixture(t)
	f.addDevice(t, "kitchen", []string{"temperature"}, []string{"led"})
	f.addReading(t, "kitchen", "humidity", 40, "%")
	_, _ = f.registry.SetOnline("garage", false)

	all := wantData[[]DeviceSummary](t, f.call(t, ToolListDevices, `{}`))
	if len(all) != 2 || all[0].DeviceID != "garage" {
		t.Fatalf("devices = %+v", all)
	}

	online := wantData[[]DeviceSummary](t, f.call(t, ToolListDevices, `{"online_only": true}`))
	if len(online) != 1 || online[0].DeviceID != "kitchen" {
		t.Fatalf("online devices = %+v", online)
	}
	k := online[0]
	if fmt.Sprint(k.Sensors) != "[humidity temperature]" {
		t.Errorf("sensors = %v", k.Sensors)
	}
	if k.CurrentReadings["humidity"].Value != 40 {
		t.Errorf("current readings = %+v", k.CurrentReadings)
	}
}

func TestReadSensor_ScenarioA(t *testing.T) {
	f := newFixture(t)
	f.addReading(t, "esp32_kitchen", "temperature", 23.5, "°C")

	got := wantData[SensorReadResult](t, f.call(t, ToolReadSensor, `{"device_id": "esp32_kitchen", "sensor_type": "temperature"}`))
	if got.CurrentValue != 23.5 || got.Unit == nil || *got.Unit != "°C" {
		t.Errorf("result = %+v", got)
	}
	if got.History != nil {
		t.Errorf("history should be omitted without history_minutes, got %v", got.History)
	}
}

func TestReadSensor_NotFound(t *testing.T) {
	f := newFixture(t)
	f.addReading(t, "a", "temperature", 1, "")

	res := f.call(t, ToolReadSensor, `{"device_id": "ghost", "sensor_type": "temperature"}`)
	wantError(t, res, CodeNotFound)
	if !strings.Contains(res.Error.Message, "device ghost not found") {
		t.Errorf("message = %q", res.Error.Message)
	}

	res = f.call(t, ToolReadSensor, `{"device_id": "a", "sensor_type": "pressure"}`)
	wantError(t, res, CodeNotFound)
	if !strings.Contains(res.Error.Message, "sensor pressure not found") {
		t.Errorf("message = %q", res.Error.Message)
	}
}

func TestReadSensor_History(t *testing.T) {
	f := newFixture(t)
	f.addReading(t, "a", "temperature", 22, "C")
	f.store.readings = []device.SensorReading{
		{DeviceID: "a", SensorType: "temperature", Value: 22, Timestamp: testNow},
		{DeviceID: "a", SensorType: "temperature", Value: 21, Timestamp: testNow.Add(-time.Minute)},
	}

	got := wantData[SensorReadResult](t, f.call(t, ToolReadSensor, `{"device_id": "a", "sensor_type": "temperature", "history_minutes": 30}`))
	if len(got.History) != 2 || got.History[1].Value != 21 {
		t.Errorf("history = %+v", got.History)
	}
	if want := testNow.Add(-30 * time.Minute); !f.store.lastSince.Equal(want) {
		t.Errorf("since = %v, want %v", f.store.lastSince, want)
	}

	f.store.err = errors.New("database locked")
	got = wantData[SensorReadResult](t, f.call(t, ToolReadSensor, `{"device_id": "a", "sensor_type": "temperature", "history_minutes": 30}`))
	if got.CurrentValue != 22 || len(got.History) != 0 {
		t.Errorf("store failure should yield current value with empty history, got %+v", got)
	}
}

func TestReadAllSensors(t *testing.T) {
	f := newFixture(t)
	f.addReading(t, "a", "temperature", 20, "C")
	f.addReading(t, "a", "humidity", 50, "%")
	f.addReading(t, "b", "temperature", 18, "C")
	_, _ = f.registry.SetOnline("sleepy", false)

	t.Run("defaults to online devices", func(t *testing.T) {
		got := wantData[BulkReadResult](t, f.call(t, ToolReadAllSensors, `{}`))
		if got.TotalDevices != 2 || got.OnlineDevices != 2 {
			t.Errorf("totals = %d/%d, want 2/2", got.TotalDevices, got.OnlineDevices)
		}
		if len(got.Devices["a"].Sensors) != 2 || *got.Devices["b"].Sensors["temperature"].Value != 18 {
			t.Errorf("devices = %+v", got.Devices)
		}
		if _, ok := got.Devices["sleepy"]; ok {
			t.Error("offline device should not be read by default")
		}
	})

	t.Run("partial results", func(t *testing.T) {
		got := wantData[BulkReadResult](t, f.call(t, ToolReadAllSensors,
			`{"device_ids": ["a", "ghost", "sleepy"], "sensor_types": ["temperature", "co2"]}`))
		if got.TotalDevices != 3 || got.OnlineDevices != 1 {
			t.Errorf("totals = %d/%d, want 3/1", got.TotalDevices, got.OnlineDevices)
		}
		if !strings.Contains(got.Devices["ghost"].Error, "not found") {
			t.Errorf("ghost = %+v", got.Devices["ghost"])
		}
		if !strings.Contains(got.Devices["sleepy"].Error, "offline") {
			t.Errorf("sleepy = %+v", got.Devices["sleepy"])
		}
		a := got.Devices["a"]
		if *a.Sensors["temperature"].Value != 20 || a.Sensors["co2"].Error == "" {
			t.Errorf("a = %+v", a)
		}
	})
}

func TestControlActuator_Success(t *testing.T) {
	f := newFixture(t)
	f.addDevice(t, "esp32_kitchen", nil, []string{"led"})

	got := wantData[CommandResult](t, f.call(t, ToolControlActuator,
		`{"device_id": "esp32_kitchen", "actuator_type": "led", "action": "set", "value": 75}`))

	if got.Status != "command_sent" || got.CommandID == "" {
		t.Errorf("result = %+v", got)
	}
	if f.publisher.count() != 1 {
		t.Fatalf("published %d messages, want 1", f.publisher.count())
	}
	msg := f.publisher.published[0]
	if msg.Topic != "devices/esp32_kitchen/actuators/led/cmd" || msg.QoS != 1 {
		t.Errorf("published to %s qos %d", msg.Topic, msg.QoS)
	}

	var payload struct {
		CommandID string  `json:"command_id"`
		Action    string  `json:"action"`
		Value     float64 `json:"value"`
		Timestamp float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.CommandID != got.CommandID || payload.Action != "set" || payload.Value != 75 {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Timestamp != float64(testNow.Unix()) {
		t.Errorf("timestamp = %v, want %d", payload.Timestamp, testNow.Unix())
	}

	m, _ := f.registry.Metrics("esp32_kitchen")
	if m.MessagesSent != 1 {
		t.Errorf("MessagesSent = %d, want 1", m.MessagesSent)
	}
	if got := metricValue(t, f.prom, "iotbridge_commands_sent_total"); got != 1 {
		t.Errorf("commands sent metric = %v, want 1", got)
	}
}

func TestControlActuator_ReportedActuatorCountsAsDeclared(t *testing.T) {
	f := newFixture(t)
	if _, err := f.registry.RecordActuatorState(device.ActuatorState{DeviceID: "a", ActuatorType: "relay", State: "off"}); err != nil {
		t.Fatal(err)
	}

	res := f.call(t, ToolControlActuator, `{"device_id": "a", "actuator_type": "relay", "action": "on"}`)
	wantData[CommandResult](t, res)
}

func TestControlActuator_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture)
		args    string
		code    string
		message string
	}{
		{
			name:    "unknown device",
			setup:   func(*testing.T, *fixture) {},
			args:    `{"device_id": "ghost", "actuator_type": "led", "action": "on"}`,
			code:    CodeNotFound,
			message: "not found",
		},
		{
			name: "never online",
			setup: func(t *testing.T, f *fixture) {
				_ = f.registry.AppendError("esp32_kitchen", device.ErrorRecord{Type: "boot", Severity: 0})
			},
			args:    `{"device_id": "esp32_kitchen", "actuator_type": "led", "action": "toggle"}`,
			code:    CodePreconditionFailed,
			message: "offline",
		},
		{
			name: "went offline",
			setup: func(t *testing.T, f *fixture) {
				f.addDevice(t, "esp32_kitchen", nil, []string{"led"})
				_, _ = f.registry.SetOnline("esp32_kitchen", false)
			},
			args:    `{"device_id": "esp32_kitchen", "actuator_type": "led", "action": "on"}`,
			code:    CodePreconditionFailed,
			message: "offline",
		},
		{
			name: "undeclared actuator",
			setup: func(t *testing.T, f *fixture) {
				f.addDevice(t, "esp32_kitchen", []string{"temperature"}, []string{"led"})
			},
			args:    `{"device_id": "esp32_kitchen", "actuator_type": "servo", "action": "set"}`,
			code:    CodePreconditionFailed,
			message: "actuator servo not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)

			res := f.call(t, ToolControlActuator, tt.args)
			wantError(t, res, tt.code)
			if !strings.Contains(res.Error.Message, tt.message) {
				t.Errorf("message = %q, want it to contain %q", res.Error.Message, tt.message)
			}
			if f.publisher.count() != 0 {
				t.Errorf("published %d messages, want none", f.publisher.count())
			}
			if got := metricValue(t, f.prom, "iotbridge_commands_failed_total", "code", tt.code); got != 1 {
				t.Errorf("commands failed metric = %v, want 1", got)
			}
		})
	}
}

func TestControlActuator_PublishFailures(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		f := newFixture(t)
		f.addDevice(t, "a", nil, []string{"led"})
		f.publisher.block = true
		f.d.publishTimeout = 20 * time.Millisecond

		start := time.Now()
		res := f.call(t, ToolControlActuator, `{"device_id": "a", "actuator_type": "led", "action": "on"}`)
		wantError(t, res, CodePublishFailed)
		if !strings.Contains(res.Error.Message, "timed out") {
			t.Errorf("message = %q", res.Error.Message)
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("publish blocked for %v", elapsed)
		}
		if m, _ := f.registry.Metrics("a"); m.MessagesSent != 0 {
			t.Errorf("MessagesSent = %d after a failed publish", m.MessagesSent)
		}
	})

	t.Run("transport error", func(t *testing.T) {
		f := newFixture(t)
		f.addDevice(t, "a", nil, []string{"led"})
		f.publisher.err = errors.New("not connected")

		res := f.call(t, ToolControlActuator, `{"device_id": "a", "actuator_type": "led", "action": "on"}`)
		wantError(t, res, CodePublishFailed)
		if !strings.Contains(res.Error.Message, "not connected") {
			t.Errorf("message = %q", res.Error.Message)
		}
	})

	t.Run("no transport", func(t *testing.T) {
		reg := device.NewRegistry(0)
		_, _ = reg.UpsertCapabilities("a", device.Capabilities{Actuators: []string{"led"}})
		d, _ := New(Options{Registry: reg})

		res := d.Dispatch(context.Background(), ToolControlActuator, json.RawMessage(`{"device_id": "a", "actuator_type": "led", "action": "on"}`))
		wantError(t, res, CodePublishFailed)
	})
}

func TestGetDeviceInfo(t *testing.T) {
	f := newFixture(t)
	f.addDevice(t, "a", []string{"temperature"}, []string{"led"})
	f.addReading(t, "a", "temperature", 21, "C")
	_, _ = f.registry.RecordActuatorState(device.ActuatorState{DeviceID: "a", ActuatorType: "led", State: "on", Timestamp: testNow})
	for i := range 15 {
		_ = f.registry.AppendError("a", device.ErrorRecord{Type: "sensor_error", Message: fmt.Sprint(i), Timestamp: testNow})
	}
	f.now = f.now.Add(90 * time.Second)

	got := wantData[DeviceInfo](t, f.call(t, ToolGetDeviceInfo, `{"device_id": "a"}`))
	if got.CurrentState.Sensors["temperature"].AgeSeconds != 90 {
		t.Errorf("sensor age = %v, want 90", got.CurrentState.Sensors["temperature"].AgeSeconds)
	}
	if got.CurrentState.Actuators["led"].State != "on" || got.CurrentState.Actuators["led"].AgeSeconds != 90 {
		t.Errorf("actuator = %+v", got.CurrentState.Actuators["led"])
	}
	if len(got.RecentErrors) != 10 || got.RecentErrors[0].Message != "5" || got.RecentErrors[9].Message != "14" {
		t.Errorf("recent errors = %+v", got.RecentErrors)
	}
	if got.UptimeSeconds != 90 {
		t.Errorf("uptime = %v, want 90", got.UptimeSeconds)
	}
	if got.Metrics.SensorReadErrors != 15 {
		t.Errorf("SensorReadErrors = %d, want 15", got.Metrics.SensorReadErrors)
	}

	wantError(t, f.call(t, ToolGetDeviceInfo, `{"device_id": "ghost"}`), CodeNotFound)
}

func TestQueryDevices_CapabilityFilter(t *testing.T) {
	f := newFixture(t)
	f.addDevice(t, "a", []string{"temperature", "humidity"}, []string{"led"})
	f.addDevice(t, "b", []string{"temperature"}, nil)
	// c reports humidity but never declared it.
	f.addReading(t, "c", "humidity", 40, "%")
	f.addDevice(t, "d", []string{"humidity"}, nil)
	_, _ = f.registry.SetOnline("d", false)

	tests := []struct {
		args string
		want string
	}{
		{`{"sensor_type": "humidity"}`, "[a d]"},
		{`{"sensor_type": "humidity", "online_only": true}`, "[a]"},
		{`{"sensor_type": "temperature", "actuator_type": "led"}`, "[a]"},
		{`{"actuator_type": "servo"}`, "[]"},
		{`{}`, "[a b c d]"},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			got := wantData[[]DeviceMatch](t, f.call(t, ToolQueryDevices, tt.args))
			ids := make([]string, len(got))
			for i, m := range got {
				ids[i] = m.DeviceID
			}
			if fmt.Sprint(ids) != tt.want {
				t.Errorf("ids = %v, want %s", ids, tt.want)
			}
		})
	}

	got := wantData[[]DeviceMatch](t, f.call(t, ToolQueryDevices, `{"sensor_type": "humidity"}`))
	if fmt.Sprint(got[0].MatchingSensors) != "[humidity]" || fmt.Sprint(got[0].MatchingActuators) != "[led]" {
		t.Errorf("match = %+v", got[0])
	}
}

func TestGetAlerts(t *testing.T) {
	f := newFixture(t)

	rec := func(id string, sev int, age time.Duration, msg string) {
		_ = f.registry.AppendError(id, device.ErrorRecord{Type: "sensor_error", Message: msg, Severity: sev, Timestamp: testNow.Add(-age)})
	}
	rec("a", 3, time.Minute, "newest")
	rec("a", 0, 2*time.Minute, "info only")
	rec("b", 2, time.Hour, "older")
	rec("b", 2, 48*time.Hour, "outside window")

	// One event duplicates an in-memory record; the other only exists in the store.
	f.store.events = []telemetry.Event{
		{DeviceID: "b", EventType: telemetry.EventTypeError, Severity: 2, Timestamp: testNow.Add(-time.Hour),
			Data: `{"value": {"error_type": "sensor_error", "message": "older"}}`},
		{DeviceID: "c", EventType: telemetry.EventTypeError, Severity: 1, Timestamp: testNow.Add(-3 * time.Hour),
			Data: `{"value": {"error_type": "connection_error", "message": "from before restart"}}`},
	}

	got := wantData[AlertsResult](t, f.call(t, ToolGetAlerts, `{}`))
	var msgs []string
	for _, a := range got.Alerts {
		msgs = append(msgs, a.Message)
	}
	if fmt.Sprint(msgs) != "[newest older from before restart]" {
		t.Errorf("alerts = %v", msgs)
	}
	if got.Alerts[2].Source != "store" || got.Alerts[2].ErrorType != "connection_error" {
		t.Errorf("persisted alert = %+v", got.Alerts[2])
	}
	if f.store.lastFilter.SeverityMin != 1 || !f.store.lastFilter.Since.Equal(testNow.Add(-24*time.Hour)) {
		t.Errorf("store filter = %+v", f.store.lastFilter)
	}

	got = wantData[AlertsResult](t, f.call(t, ToolGetAlerts, `{"severity_min": 0, "device_id": "a", "include_persisted": false}`))
	if got.Count != 2 || got.Alerts[1].Message != "info only" {
		t.Errorf("device a alerts = %+v", got.Alerts)
	}

	f.store.err = errors.New("io error")
	got = wantData[AlertsResult](t, f.call(t, ToolGetAlerts, `{"hours_back": 72}`))
	if got.Count != 3 {
		t.Errorf("memory-only alerts with store failure = %d, want 3", got.Count)
	}
}

func TestGetAlerts_Capped(t *testing.T) {
	f := newFixture(t)
	for i := range 80 {
		_ = f.registry.AppendError("a", device.ErrorRecord{Severity: 2, Message: fmt.Sprint(i), Timestamp: testNow.Add(time.Duration(i-80) * time.Second)})
	}

	got := wantData[AlertsResult](t, f.call(t, ToolGetAlerts, `{"include_persisted": false}`))
	if got.Count != 50 {
		t.Fatalf("count = %d, want 50", got.Count)
	}
	if got.Alerts[0].Message != "79" || got.Alerts[49].Message != "30" {
		t.Errorf("first/last = %s/%s, want 79/30", got.Alerts[0].Message, got.Alerts[49].Message)
	}
}

func TestGetSystemStatus(t *testing.T) {
	f := newFixture(t)
	f.addDevice(t, "a", nil, nil)
	_, _ = f.registry.SetOnline("b", false)

	got := wantData[SystemStatus](t, f.call(t, ToolGetSystemStatus, `{}`))
	if got.TotalDevices != 2 || got.OnlineDevices != 1 || got.OfflineDevices != 1 {
		t.Errorf("counts = %+v", got)
	}
	if got.Persistence == nil || got.Persistence.Pending != 3 || got.Persistence.Dropped != 7 {
		t.Errorf("persistence = %+v", got.Persistence)
	}
	if got.DatabaseStats["sensor_data_count"] != 42 {
		t.Errorf("stats = %v", got.DatabaseStats)
	}

	f.store.err = errors.New("closed")
	got = wantData[SystemStatus](t, f.call(t, ToolGetSystemStatus, `{}`))
	if got.DatabaseError != "closed" || got.DatabaseStats != nil {
		t.Errorf("status with store error = %+v", got)
	}
}

func TestGetDeviceMetrics(t *testing.T) {
	f := newFixture(t)
	f.addReading(t, "a", "temperature", 1, "")
	_, _ = f.registry.SetOnline("quiet", true)
	f.now = f.now.Add(time.Minute)

	got := wantData[DeviceMetrics](t, f.call(t, ToolGetDeviceMetrics, `{"device_id": "a"}`))
	if got.MessagesReceived != 1 || got.UptimeSeconds != 60 {
		t.Errorf("metrics = %+v", got)
	}

	wantError(t, f.call(t, ToolGetDeviceMetrics, `{"device_id": "ghost"}`), CodeNotFound)
	wantError(t, f.call(t, ToolGetDeviceMetrics, `{"device_id": "quiet"}`), CodeNoMetrics)
}

// panicStore panics on Stats.
type panicStore struct{ telemetry.Store }

func (panicStore) Stats(context.Context) (map[string]int64, error) { panic("driver bug") }

func TestDispatch_RecoversPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	d, _ := New(Options{Registry: device.NewRegistry(0), Store: panicStore{}, Metrics: metrics.New(reg)})

	res := d.Dispatch(context.Background(), ToolGetSystemStatus, nil)
	wantError(t, res, CodeInternal)
	if got := metricValue(t, reg, "iotbridge_tool_calls_total", "tool", ToolGetSystemStatus, "outcome", CodeInternal); got != 1 {
		t.Errorf("tool call metric = %v, want 1", got)
	}
}

func TestDispatch_ConcurrentWithMutations(t *testing.T) {
	f := newFixture(t)
	for i := range 5 {
		f.addDevice(t, fmt.Sprintf("dev-%d", i), []string{"temperature"}, []string{"led"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			id := fmt.Sprintf("dev-%d", i%5)
			_, _ = f.registry.RecordSensorReading(device.SensorReading{DeviceID: id, SensorType: "temperature", Value: float64(i)})
			_ = f.registry.AppendError(id, device.ErrorRecord{Severity: 2})
		}
	}()

	tools := []struct{ name, args string }{
		{ToolListDevices, `{}`},
		{ToolReadAllSensors, `{}`},
		{ToolGetDeviceInfo, `{"device_id": "dev-1"}`},
		{ToolGetAlerts, `{"include_persisted": false}`},
		{ToolControlActuator, `{"device_id": "dev-2", "actuator_type": "led", "action": "on"}`},
	}
	for w := range 4 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range 50 {
				tool := tools[(w+i)%len(tools)]
				if res := f.d.Dispatch(ctx, tool.name, json.RawMessage(tool.args)); res.Error != nil {
					t.Errorf("%s: %s", tool.name, res.Error.Message)
				}
			}
		}(w)
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()
}

// metricValue sums the samples of name whose labels include every key/value pair given.
func metricValue(t *testing.T, reg prometheus.Gatherer, name string, labelPairs ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for i := 0; i+1 < len(labelPairs); i += 2 {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == labelPairs[i] && lp.GetValue() == labelPairs[i+1] {
						found = true
					}
				}
				if !found {
					continue next
				}
			}
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return total
}
