package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/metrics"
)

// Writer defaults.
const (
	DefaultBatchSize     = 64
	DefaultFlushInterval = time.Second
	DefaultDrainTimeout  = 5 * time.Second

	// writeTimeout bounds one batch while running.
	writeTimeout = 10 * time.Second
)

// Logger defines the logging interface used by the Writer.
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

// WriterConfig holds configuration for the persistence writer.
type WriterConfig struct {
	// QueueSize bounds the in-memory queue. Default: 1024.
	QueueSize int

	// BatchSize is the most ops applied per flush. Default: 64.
	BatchSize int

	// FlushInterval is the idle flush period. Default: 1 second.
	FlushInterval time.Duration

	// DrainTimeout bounds the final flush on shutdown. Default: 5 seconds.
	DrainTimeout time.Duration
}

// Writer moves queued ops into a Store on its own goroutine.
//
// Submit is safe to call from any goroutine and never blocks. Store failures
// are logged and counted; the failed op is discarded.
type Writer struct {
	queue         *Queue
	store         Store
	batchSize     int
	flushInterval time.Duration
	drainTimeout  time.Duration

	metrics *metrics.Collector
	logger  Logger

	mu      sync.Mutex
	started bool

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWriter creates a writer over store. Call Start to begin draining.
func NewWriter(store Store, cfg WriterConfig) (*Writer, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}

	return &Writer{
		queue:         NewQueue(cfg.QueueSize),
		store:         store,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		drainTimeout:  drainTimeout,
		logger:        noopLogger{},
		done:          make(chan struct{}),
	}, nil
}

// SetLogger sets the logger for the writer. Call before Start.
func (w *Writer) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	w.logger = logger
}

// SetMetrics attaches a Prometheus collector. Call before Start.
func (w *Writer) SetMetrics(m *metrics.Collector) {
	w.metrics = m
}

// Submit queues op for persistence. When the queue is full the oldest op is
// discarded, logged and counted.
func (w *Writer) Submit(op Op) {
	evicted, err := w.queue.Enqueue(op)
	if err != nil {
		w.logger.Debug("persistence op rejected", "kind", op.Kind(), "device_id", op.DeviceID(), "error", err)
		return
	}
	if evicted != nil {
		w.metrics.QueueDropped()
		w.logger.Warn("persistence queue full, dropped oldest",
			"kind", evicted.Kind(),
			"device_id", evicted.DeviceID(),
			"capacity", w.queue.Cap(),
		)
	}
	w.metrics.SetQueueLength(w.queue.Len())
}

// Pending returns the number of ops waiting to be written.
func (w *Writer) Pending() int {
	return w.queue.Len()
}

// Dropped returns how many ops were evicted because the queue was full.
func (w *Writer) Dropped() uint64 {
	return w.queue.Dropped()
}

// Start begins draining until ctx is cancelled or Stop is called.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrWriterRunning
	}
	w.started = true

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop halts the writer, flushing what remains within the drain timeout.
// Safe to call multiple times.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
}

func (w *Writer) loop(ctx context.Context) {
	defer w.wg.Done()
	defer w.drain()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.queue.Ready():
			w.flushAll(ctx)
		case <-ticker.C:
			w.flushAll(ctx)
		}
	}
}

// flushAll writes batches until the queue is empty or shutdown is requested.
// Anything left on shutdown is handled by drain.
func (w *Writer) flushAll(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-w.done:
			return
		default:
		}

		batchCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		n := w.Flush(batchCtx)
		cancel()
		if n < w.batchSize {
			return
		}
	}
}

// drain performs the final bounded flush, abandoning anything left at the deadline.
func (w *Writer) drain() {
	w.queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()

	for ctx.Err() == nil {
		if w.Flush(ctx) == 0 {
			break
		}
	}

	if left := w.queue.Len(); left > 0 {
		w.logger.Warn("persistence drain timed out, abandoning ops", "remaining", left)
	}
	w.metrics.SetQueueLength(w.queue.Len())
}

// Flush applies one batch to the store and returns how many ops it dequeued.
func (w *Writer) Flush(ctx context.Context) int {
	batch := w.queue.DequeueBatch(w.batchSize)
	if len(batch) == 0 {
		return 0
	}

	start := time.Now()
	written := 0
	for _, op := range batch {
		if err := w.apply(ctx, op); err != nil {
			w.metrics.PersistFailed(op.Kind())
			w.logger.Error("persistence write failed",
				"kind", op.Kind(),
				"device_id", op.DeviceID(),
				"error", err,
			)
			continue
		}
		written++
	}

	w.metrics.PersistWritten(written)
	w.metrics.ObserveBatch(time.Since(start))
	w.metrics.SetQueueLength(w.queue.Len())
	return len(batch)
}

// apply runs one op, converting a store panic into an error.
func (w *Writer) apply(ctx context.Context, op Op) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying %s: %v", op.Kind(), r)
		}
	}()
	return op.Apply(ctx, w.store)
}
