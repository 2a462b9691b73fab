package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/config"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line-protocol bodies sent to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
	server *httptest.Server
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.writes = append(f.writes, string(body))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeInflux) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

// waitFor polls until the recorded writes contain want.
func (f *fakeInflux) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(f.body(), want) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("write containing %q not received; got:\n%s", want, f.body())
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "iotbridge-test-token",
		Org:           "iotbridge",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, f *fakeInflux) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(testConfig(f.server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestConnect(t *testing.T) {
	client := connect(t, newFakeInflux(t))

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if _, err := influxdb.Connect(testConfig("http://127.0.0.1:1")); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := testConfig(f.server.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if !client.IsConnected() {
		t.Error("IsConnected() = false with defaulted batch settings")
	}
}

func TestWriteSensorReading(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	quality := 95.0
	ts := time.Unix(1700000000, 0)
	client.WriteSensorReading("esp32_kitchen", "temperature", 23.5, "C", &quality, ts)
	client.Flush()

	f.waitFor(t, "sensor_readings,device_id=esp32_kitchen,sensor_type=temperature,unit=C")
	f.waitFor(t, "value=23.5")
	f.waitFor(t, "quality=95")
}

func TestWriteSensorReading_NoUnitNoQuality(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	client.WriteSensorReading("esp32_lab", "humidity", 40, "", nil, time.Unix(1700000000, 0))
	client.Flush()

	f.waitFor(t, "sensor_readings,device_id=esp32_lab,sensor_type=humidity value=40")
	if strings.Contains(f.body(), "quality") {
		t.Error("quality field written for unknown quality")
	}
}

func TestWriteActuatorStateAndEvent(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	ts := time.Unix(1700000000, 0)
	client.WriteActuatorState("esp32_kitchen", "led", "on", ts)
	client.WriteDeviceEvent("esp32_kitchen", "sensor_error", 2, "read timeout", ts)
	client.WriteDeviceCounters("esp32_kitchen", map[string]int64{"messages_received": 7}, ts)
	client.Flush()

	f.waitFor(t, `actuator_states,actuator_type=led,device_id=esp32_kitchen state="on"`)
	f.waitFor(t, `device_events,device_id=esp32_kitchen,event_type=sensor_error`)
	f.waitFor(t, `device_metrics,device_id=esp32_kitchen messages_received=7i`)
}

func TestWriteAfterClose(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(f.server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	// Must not panic or send.
	client.WritePoint("late", map[string]string{"k": "v"}, map[string]interface{}{"x": 1})
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() on nil client = true")
	}
	client.Flush()
}
