package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Liveness defaults.
const (
	DefaultCheckInterval = 60 * time.Second
	DefaultTimeout       = 5 * time.Minute
)

// MonitorConfig holds configuration for the liveness monitor.
type MonitorConfig struct {
	// Interval is how often the registry is scanned.
	// Default: 60 seconds.
	Interval time.Duration

	// Timeout is how long a device may stay silent before it is marked offline.
	// Default: 5 minutes.
	Timeout time.Duration
}

// DemotedFunc is called after a scan that marked devices offline.
// An error is logged and does not stop the monitor.
type DemotedFunc func(ctx context.Context, ids []string) error

// Monitor periodically marks silent devices offline.
//
// It only ever demotes. Promotion back to online happens when the device
// next publishes something the router accepts.
type Monitor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	clock    Clock

	onDemoted DemotedFunc

	mu      sync.Mutex
	started bool

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewMonitor creates a liveness monitor over reg. Call Start to begin scanning.
func NewMonitor(reg *Registry, cfg MonitorConfig) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Monitor{
		registry: reg,
		interval: interval,
		timeout:  timeout,
		clock:    SystemClock,
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the monitor. Call before Start.
func (m *Monitor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// SetClock replaces the clock used to judge staleness. Call before Start.
func (m *Monitor) SetClock(clock Clock) {
	if clock == nil {
		clock = SystemClock
	}
	m.clock = clock
}

// SetOnDemoted registers a callback for devices marked offline. Call before Start.
func (m *Monitor) SetOnDemoted(fn DemotedFunc) {
	m.onDemoted = fn
}

// Timeout returns the configured offline threshold.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// Start begins periodic scanning until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrMonitorRunning
	}
	m.started = true

	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.Info("liveness monitor started",
		"interval", m.interval,
		"timeout", m.timeout,
	)
	return nil
}

// Stop halts scanning and waits for an in-flight scan to finish.
// Safe to call multiple times, and before Start.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one scan and returns the IDs it marked offline.
// A panic inside the scan or the callback is logged and swallowed so the
// loop keeps running.
func (m *Monitor) Tick(ctx context.Context) (demoted []string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("liveness scan panicked", "panic", fmt.Sprint(r))
		}
	}()

	demoted = m.registry.ExpireStale(m.clock(), m.timeout)
	if len(demoted) == 0 {
		return demoted
	}

	m.logger.Debug("liveness scan complete", "demoted", len(demoted))

	if m.onDemoted != nil {
		if err := m.onDemoted(ctx, demoted); err != nil {
			m.logger.Warn("failed to handle demoted devices", "count", len(demoted), "error", err)
		}
	}
	return demoted
}
