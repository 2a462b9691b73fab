package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/iot-mcp-bridge/internal/device"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-mcp-bridge/internal/telemetry"
)

// Maintenance defaults.
const (
	DefaultMetricsFlushInterval = 5 * time.Minute
	DefaultCleanupInterval      = 24 * time.Hour
	DefaultRetention            = 30 * 24 * time.Hour

	// maintenanceTimeout bounds one flush or cleanup run.
	maintenanceTimeout = 30 * time.Second
)

// Subscription QoS per topic class.
const (
	qosCapabilities   byte = 1
	qosSensorData     byte = 0
	qosActuatorStatus byte = 1
	qosDeviceStatus   byte = 1
	qosDeviceError    byte = 1
)

// Logger defines the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subscriber is the inbound half of the MQTT transport.
// *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Sink accepts persistence ops without blocking.
// *telemetry.Writer satisfies it.
type Sink interface {
	Submit(op telemetry.Op)
}

// Options holds configuration for creating a Bridge.
type Options struct {
	// Registry is the shared device state. Required.
	Registry *device.Registry

	// Subscriber delivers inbound device messages. Required.
	Subscriber Subscriber

	// Sink receives durable facts. Optional; nil disables persistence.
	Sink Sink

	// Store runs the periodic metrics flush and data cleanup. Optional.
	Store telemetry.Store

	Metrics *metrics.Collector
	Logger  Logger
	Clock   device.Clock

	// MetricsFlushInterval is how often per-device counters are saved. Default: 5 minutes.
	MetricsFlushInterval time.Duration

	// CleanupInterval is how often old rows are purged. Default: 24 hours.
	CleanupInterval time.Duration

	// Retention is how long readings and events are kept. Default: 30 days.
	Retention time.Duration
}

// Bridge routes inbound device messages into the Registry and the persistence Sink.
//
// Each message is classified by Route, parsed into a typed message, applied to
// the Registry as one mutation and then handed to the Sink. A bad message is
// logged and dropped; it never stops routing of later messages.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	registry   *device.Registry
	subscriber Subscriber
	sink       Sink
	store      telemetry.Store
	metrics    *metrics.Collector
	logger     Logger
	clock      device.Clock

	flushInterval   time.Duration
	cleanupInterval time.Duration
	retention       time.Duration

	mu         sync.Mutex
	started    bool
	subscribed []string

	// Shutdown coordination
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBridge creates a bridge from opts.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Subscriber == nil {
		return nil, fmt.Errorf("subscriber is required")
	}

	b := &Bridge{
		registry:        opts.Registry,
		subscriber:      opts.Subscriber,
		sink:            opts.Sink,
		store:           opts.Store,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		clock:           opts.Clock,
		flushInterval:   opts.MetricsFlushInterval,
		cleanupInterval: opts.CleanupInterval,
		retention:       opts.Retention,
		done:            make(chan struct{}),
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	if b.clock == nil {
		b.clock = device.SystemClock
	}
	if b.flushInterval <= 0 {
		b.flushInterval = DefaultMetricsFlushInterval
	}
	if b.cleanupInterval <= 0 {
		b.cleanupInterval = DefaultCleanupInterval
	}
	if b.retention <= 0 {
		b.retention = DefaultRetention
	}
	return b, nil
}

// Start subscribes to every device topic class and starts the maintenance
// loops when a Store is configured.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrBridgeRunning
	}

	topics := mqtt.Topics{}
	subs := []struct {
		topic string
		qos   byte
	}{
		{topics.AllCapabilities(), qosCapabilities},
		{topics.AllSensorData(), qosSensorData},
		{topics.AllActuatorStatus(), qosActuatorStatus},
		{topics.AllDeviceStatus(), qosDeviceStatus},
		{topics.AllDeviceErrors(), qosDeviceError},
	}
	for _, s := range subs {
		if err := b.subscriber.Subscribe(s.topic, s.qos, b.HandleMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", s.topic, err)
		}
		b.subscribed = append(b.subscribed, s.topic)
		b.logger.Debug("subscribed", "topic", s.topic, "qos", s.qos)
	}
	b.started = true

	if b.store != nil {
		b.wg.Add(2)
		go b.runEvery(ctx, b.flushInterval, b.FlushMetrics)
		go b.runEvery(ctx, b.cleanupInterval, b.Cleanup)
	}

	b.logger.Info("event router started", "subscriptions", len(subs))
	return nil
}

// Stop unsubscribes from the device topics and halts the maintenance loops.
// Safe to call multiple times. An unsubscribe failure is logged; the
// subscription then ends when the MQTT client is closed.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.unsubscribeAll()
		close(b.done)
		b.wg.Wait()
		b.logger.Info("event router stopped")
	})
}

func (b *Bridge) unsubscribeAll() {
	b.mu.Lock()
	topics := b.subscribed
	b.subscribed = nil
	b.mu.Unlock()

	for _, topic := range topics {
		if err := b.subscriber.Unsubscribe(topic); err != nil {
			b.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (b *Bridge) runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, maintenanceTimeout)
			fn(runCtx)
			cancel()
		}
	}
}

// HandleMessage routes one inbound message. It matches mqtt.MessageHandler.
// Dropped messages return an error for the transport to log; panics are
// recovered and returned as errors.
func (b *Bridge) HandleMessage(topic string, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked", "topic", topic, "panic", r)
			err = fmt.Errorf("handle %s: panic: %v", topic, r)
		}
	}()

	info, err := Route(topic)
	if err != nil {
		b.metrics.MessageDropped(metrics.DropMalformedTopic)
		return err
	}

	now := b.clock()
	switch info.Category {
	case CategoryCapabilities:
		err = b.handleCapabilities(info, payload, now)
	case CategorySensorData:
		err = b.handleSensor(info, payload, now)
	case CategoryActuatorStatus:
		err = b.handleActuator(info, payload, now)
	case CategoryDeviceStatus:
		err = b.handleStatus(info, payload, now)
	case CategoryDeviceError:
		err = b.handleError(info, payload, now)
	default:
		b.metrics.MessageDropped(metrics.DropUnrecognized)
		b.logger.Debug("ignoring unrecognized topic", "topic", topic)
		return nil
	}

	if err != nil {
		b.metrics.MessageDropped(metrics.DropMalformedPayload)
		return fmt.Errorf("handle %s: %w", topic, err)
	}

	b.metrics.MessageRouted(string(info.Category))
	b.metrics.SetDevices(b.registry.Count(), b.registry.CountOnline())
	return nil
}

func (b *Bridge) handleCapabilities(info RouteInfo, payload []byte, now time.Time) error {
	msg, err := ParseCapabilities(payload, now)
	if err != nil {
		return err
	}
	// The device row below already records online, so no separate status op.
	if _, err := b.registry.UpsertCapabilities(info.DeviceID, msg.Capabilities); err != nil {
		return err
	}

	b.logger.Info("device capabilities received",
		"device_id", info.DeviceID,
		"sensors", msg.Capabilities.Sensors,
		"actuators", msg.Capabilities.Actuators,
	)
	b.submit(telemetry.DeviceOp{Record: telemetry.DeviceRecord{
		DeviceID:     info.DeviceID,
		Capabilities: msg.Capabilities,
		Online:       true,
		LastSeen:     now,
	}})
	return nil
}

func (b *Bridge) handleSensor(info RouteInfo, payload []byte, now time.Time) error {
	msg, err := ParseSensor(payload, now)
	if err != nil {
		return err
	}

	reading := device.SensorReading{
		DeviceID:   info.DeviceID,
		SensorType: info.Type,
		Value:      msg.Value,
		Unit:       msg.Unit,
		Quality:    msg.Quality,
		Timestamp:  msg.Timestamp,
	}
	wentOnline, err := b.registry.RecordSensorReading(reading)
	if err != nil {
		return err
	}

	b.logger.Debug("sensor reading", "device_id", info.DeviceID, "sensor_type", info.Type, "value", msg.Value)
	b.submit(telemetry.ReadingOp{Reading: reading})
	b.submitPromotion(info.DeviceID, wentOnline, now)
	return nil
}

func (b *Bridge) handleActuator(info RouteInfo, payload []byte, now time.Time) error {
	msg, err := ParseActuator(payload, now)
	if err != nil {
		return err
	}

	state := device.ActuatorState{
		DeviceID:     info.DeviceID,
		ActuatorType: info.Type,
		State:        msg.State,
		Timestamp:    msg.Timestamp,
	}
	wentOnline, err := b.registry.RecordActuatorState(state)
	if err != nil {
		return err
	}

	b.logger.Debug("actuator status", "device_id", info.DeviceID, "actuator_type", info.Type, "state", msg.State)
	b.submit(telemetry.ActuatorOp{State: state})
	b.submitPromotion(info.DeviceID, wentOnline, now)
	return nil
}

func (b *Bridge) handleStatus(info RouteInfo, payload []byte, now time.Time) error {
	msg, err := ParseStatus(payload, now)
	if err != nil {
		return err
	}

	changed, err := b.registry.SetOnline(info.DeviceID, msg.Online)
	if err != nil {
		return err
	}
	if changed {
		b.submit(telemetry.StatusOp{ID: info.DeviceID, Online: msg.Online, At: now})
	}
	return nil
}

func (b *Bridge) handleError(info RouteInfo, payload []byte, now time.Time) error {
	msg, err := ParseError(payload, now)
	if err != nil {
		return err
	}

	rec := device.ErrorRecord{
		Type:      msg.Type,
		Message:   msg.Message,
		Severity:  msg.Severity,
		Timestamp: msg.Timestamp,
	}
	if err := b.registry.AppendError(info.DeviceID, rec); err != nil {
		return err
	}

	b.logger.Warn("device error reported",
		"device_id", info.DeviceID,
		"error_type", msg.Type,
		"severity", msg.Severity,
		"message", msg.Message,
	)
	b.submit(telemetry.EventOp{Event: telemetry.Event{
		DeviceID:  info.DeviceID,
		EventType: telemetry.EventTypeError,
		Data:      string(msg.Raw),
		Severity:  msg.Severity,
		Timestamp: msg.Timestamp,
	}})
	return nil
}

// submitPromotion records an implicit offline to online transition.
func (b *Bridge) submitPromotion(id string, wentOnline bool, now time.Time) {
	if wentOnline {
		b.submit(telemetry.StatusOp{ID: id, Online: true, At: now})
	}
}

func (b *Bridge) submit(op telemetry.Op) {
	if b.sink != nil {
		b.sink.Submit(op)
	}
}

// OnDevicesDemoted persists timeout demotions. It matches device.DemotedFunc.
func (b *Bridge) OnDevicesDemoted(_ context.Context, ids []string) error {
	now := b.clock()
	for _, id := range ids {
		b.submit(telemetry.StatusOp{ID: id, Online: false, At: now})
	}
	b.metrics.DevicesDemoted(len(ids))
	b.metrics.SetDevices(b.registry.Count(), b.registry.CountOnline())
	return nil
}

// FlushMetrics saves a snapshot of every device's counters to the Store.
func (b *Bridge) FlushMetrics(ctx context.Context) {
	if b.store == nil {
		return
	}
	snap := b.registry.MetricsSnapshot()
	if len(snap) == 0 {
		return
	}
	if err := b.store.SaveMetrics(ctx, snap); err != nil {
		b.metrics.PersistFailed("metrics")
		b.logger.Error("failed to flush device metrics", "devices", len(snap), "error", err)
		return
	}
	b.logger.Debug("device metrics flushed", "devices", len(snap))
}

// Cleanup purges rows older than the retention period.
func (b *Bridge) Cleanup(ctx context.Context) {
	if b.store == nil {
		return
	}
	res, err := b.store.Cleanup(ctx, b.retention)
	if err != nil {
		b.metrics.PersistFailed("cleanup")
		b.logger.Error("data cleanup failed", "error", err)
		return
	}
	b.logger.Info("data cleanup complete",
		"readings", res.Readings,
		"events", res.Events,
		"actuator_states", res.ActuatorStates,
		"retention_days", int(b.retention.Hours()/24),
	)
}
