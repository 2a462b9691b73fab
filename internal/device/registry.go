package device

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the Registry and Monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is one device record with its own lock.
type entry struct {
	mu  sync.Mutex
	dev Device
}

// Registry is the in-memory source of truth for every device the bridge has seen.
//
// Locking: mu guards the id->entry map only and is held just long enough to
// look up or insert an entry. Each entry's mutex guards all of that device's
// fields, so operations on different devices never block each other. No lock
// is ever held while calling out of the package.
//
// All public methods are thread-safe.
type Registry struct {
	mu        sync.RWMutex
	devices   map[string]*entry
	online    atomic.Int64
	maxErrors int
	clock     Clock
	logger    Logger
}

// NewRegistry creates an empty registry. maxErrors <= 0 uses DefaultMaxErrors.
func NewRegistry(maxErrors int) *Registry {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Registry{
		devices:   make(map[string]*entry),
		maxErrors: maxErrors,
		clock:     SystemClock,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry. Call before use.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// SetClock replaces the clock used for last-seen and activity stamps. Call before use.
func (r *Registry) SetClock(clock Clock) {
	if clock == nil {
		clock = SystemClock
	}
	r.clock = clock
}

// lookup returns the entry for id, or nil.
func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id]
}

// getOrCreate returns the entry for id, creating an empty offline device if needed.
func (r *Registry) getOrCreate(id string) *entry {
	if e := r.lookup(id); e != nil {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.devices[id]; ok {
		return e
	}

	now := r.clock()
	e := &entry{dev: Device{
		ID:        id,
		LastSeen:  now,
		Sensors:   make(map[string]SensorReading),
		Actuators: make(map[string]ActuatorState),
		Errors:    []ErrorRecord{},
		Metrics:   Metrics{UptimeStart: now},
	}}
	r.devices[id] = e

	r.logger.Info("device registered", "device_id", id)
	return e
}

// snapshotEntries returns the current entries without holding the map lock afterwards.
func (r *Registry) snapshotEntries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*entry, 0, len(r.devices))
	for _, e := range r.devices {
		entries = append(entries, e)
	}
	return entries
}

// setOnlineLocked updates the online flag and logs a transition.
// The caller must hold e.mu. It reports whether the flag changed.
func (r *Registry) setOnlineLocked(e *entry, online bool, reason string) bool {
	if e.dev.Online == online {
		return false
	}
	e.dev.Online = online
	if online {
		r.online.Add(1)
	} else {
		r.online.Add(-1)
	}
	r.logger.Info("device status changed",
		"device_id", e.dev.ID,
		"online", online,
		"reason", reason,
	)
	return true
}

// UpsertCapabilities replaces the device's declared capabilities, refreshes
// last-seen and promotes it online. It reports whether the device went online.
func (r *Registry) UpsertCapabilities(id string, caps Capabilities) (bool, error) {
	if id == "" {
		return false, ErrInvalidDeviceID
	}

	e := r.getOrCreate(id)
	now := r.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	caps = caps.DeepCopy()
	if caps.Sensors == nil {
		caps.Sensors = []string{}
	}
	if caps.Actuators == nil {
		caps.Actuators = []string{}
	}
	e.dev.Capabilities = caps
	e.dev.LastSeen = now
	e.dev.Metrics.LastActivity = now

	r.logger.Debug("device capabilities updated",
		"device_id", id,
		"sensors", len(caps.Sensors),
		"actuators", len(caps.Actuators),
	)
	return r.setOnlineLocked(e, true, "capabilities"), nil
}

// RecordSensorReading replaces the latest reading for (device, sensor type),
// counts a received message and promotes the device online.
// It reports whether the device went online.
func (r *Registry) RecordSensorReading(reading SensorReading) (bool, error) {
	if reading.DeviceID == "" {
		return false, ErrInvalidDeviceID
	}

	e := r.getOrCreate(reading.DeviceID)
	now := r.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.dev.Sensors[reading.SensorType] = reading
	e.dev.LastSeen = now
	e.dev.Metrics.MessagesReceived++
	e.dev.Metrics.LastActivity = now

	return r.setOnlineLocked(e, true, "sensor_data"), nil
}

// RecordActuatorState replaces the latest state for (device, actuator type),
// counts a received message and promotes the device online.
// It reports whether the device went online.
func (r *Registry) RecordActuatorState(state ActuatorState) (bool, error) {
	if state.DeviceID == "" {
		return false, ErrInvalidDeviceID
	}

	e := r.getOrCreate(state.DeviceID)
	now := r.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.dev.Actuators[state.ActuatorType] = state
	e.dev.LastSeen = now
	e.dev.Metrics.MessagesReceived++
	e.dev.Metrics.LastActivity = now

	return r.setOnlineLocked(e, true, "actuator_status"), nil
}

// SetOnline sets the online flag from an explicit status message and refreshes
// last-seen. Repeating the current value is a no-op apart from last-seen; the
// transition is logged only when the value changes. It reports whether it changed.
func (r *Registry) SetOnline(id string, online bool) (bool, error) {
	if id == "" {
		return false, ErrInvalidDeviceID
	}

	e := r.getOrCreate(id)
	now := r.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.dev.LastSeen = now
	return r.setOnlineLocked(e, online, "status"), nil
}

// AppendError adds rec to the device's error history, evicting the oldest
// records beyond the cap, and bumps the matching metric counter.
func (r *Registry) AppendError(id string, rec ErrorRecord) error {
	if id == "" {
		return ErrInvalidDeviceID
	}

	e := r.getOrCreate(id)
	now := r.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.dev.Errors = append(e.dev.Errors, rec)
	if over := len(e.dev.Errors) - r.maxErrors; over > 0 {
		// Shift down rather than reslicing so the backing array does not grow forever.
		n := copy(e.dev.Errors, e.dev.Errors[over:])
		clear(e.dev.Errors[n:])
		e.dev.Errors = e.dev.Errors[:n]
	}

	switch rec.Type {
	case ErrorTypeSensor:
		e.dev.Metrics.SensorReadErrors++
	case ErrorTypeConnection:
		e.dev.Metrics.ConnectionFailures++
	}

	e.dev.LastSeen = now
	return nil
}

// IncrementSent counts one command successfully published to the device.
// It does not create unknown devices.
func (r *Registry) IncrementSent(id string) error {
	e := r.lookup(id)
	if e == nil {
		return ErrDeviceNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.dev.Metrics.MessagesSent++
	e.dev.Metrics.LastActivity = r.clock()
	return nil
}

// Get returns a deep copy of the device.
func (r *Registry) Get(id string) (Device, bool) {
	e := r.lookup(id)
	if e == nil {
		return Device{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.dev.DeepCopy(), true
}

// List returns deep copies of all devices, or only online ones, sorted by ID.
func (r *Registry) List(onlineOnly bool) []Device {
	return r.Query(Filter{OnlineOnly: onlineOnly})
}

// Filter selects devices in Query. Empty fields match everything; set fields AND together.
type Filter struct {
	// SensorType matches devices whose capability list declares it.
	SensorType string
	// ActuatorType matches devices whose capability list declares it.
	ActuatorType string
	OnlineOnly   bool
}

// Query returns deep copies of devices matching f, sorted by ID.
// Capability filters test the declared capability lists, not reported readings.
func (r *Registry) Query(f Filter) []Device {
	entries := r.snapshotEntries()

	devices := make([]Device, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		match := (!f.OnlineOnly || e.dev.Online) &&
			(f.SensorType == "" || e.dev.HasSensor(f.SensorType)) &&
			(f.ActuatorType == "" || e.dev.HasActuator(f.ActuatorType))
		var cpy *Device
		if match {
			cpy = e.dev.DeepCopy()
		}
		e.mu.Unlock()

		if cpy != nil {
			devices = append(devices, *cpy)
		}
	}

	slices.SortFunc(devices, func(a, b Device) int {
		return strings.Compare(a.ID, b.ID)
	})
	return devices
}

// Metrics returns a copy of the device's counters.
func (r *Registry) Metrics(id string) (Metrics, bool) {
	e := r.lookup(id)
	if e == nil {
		return Metrics{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dev.Metrics, true
}

// MetricsSnapshot returns every device's counters keyed by device ID.
func (r *Registry) MetricsSnapshot() map[string]Metrics {
	entries := r.snapshotEntries()

	out := make(map[string]Metrics, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out[e.dev.ID] = e.dev.Metrics
		e.mu.Unlock()
	}
	return out
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// CountOnline returns the number of devices currently online without
// visiting each device.
func (r *Registry) CountOnline() int {
	return int(r.online.Load())
}

// ExpireStale marks offline every online device whose last-seen is more than
// timeout before now, logging one transition per device. It never promotes.
// It returns the demoted IDs, sorted.
func (r *Registry) ExpireStale(now time.Time, timeout time.Duration) []string {
	var demoted []string

	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		if e.dev.Online && now.Sub(e.dev.LastSeen) > timeout {
			e.dev.Online = false
			r.online.Add(-1)
			demoted = append(demoted, e.dev.ID)
			r.logger.Info("device marked offline (timeout)",
				"device_id", e.dev.ID,
				"last_seen", e.dev.LastSeen,
				"timeout", timeout,
			)
		}
		e.mu.Unlock()
	}

	slices.Sort(demoted)
	return demoted
}
