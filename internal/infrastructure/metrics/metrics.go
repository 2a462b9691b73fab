package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "iotbridge"

// Drop reasons recorded by the event router.
const (
	DropMalformedTopic   = "malformed_topic"
	DropMalformedPayload = "malformed_payload"
	DropUnrecognized     = "unrecognized"
)

// Collector holds the bridge's process-wide Prometheus metrics.
//
// Every method is safe on a nil *Collector so components can run without
// metrics in tests.
type Collector struct {
	messagesRouted  *prometheus.CounterVec
	messagesDropped *prometheus.CounterVec

	queueLength  prometheus.Gauge
	queueDropped prometheus.Counter

	persistWritten  prometheus.Counter
	persistFailures *prometheus.CounterVec
	persistLatency  prometheus.Histogram

	commandsSent   prometheus.Counter
	commandsFailed *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec

	devicesTotal  prometheus.Gauge
	devicesOnline prometheus.Gauge
	demotions     prometheus.Counter
}

// New creates the collectors and registers them with reg.
// It panics if registration fails, like prometheus.MustRegister.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Device messages applied to the registry, by category.",
		}, []string{"category"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Device messages dropped before reaching the registry, by reason.",
		}, []string{"reason"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persist_queue_length",
			Help:      "Persistence records waiting in the in-memory queue.",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_queue_dropped_total",
			Help:      "Persistence records evicted because the queue was full.",
		}),
		persistWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_written_total",
			Help:      "Persistence records successfully written to the store.",
		}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Store operations that failed, by operation.",
		}, []string{"op"}),
		persistLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_batch_seconds",
			Help:      "Time to write one drained batch to the store.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Actuator commands published successfully.",
		}),
		commandsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_failed_total",
			Help:      "Actuator commands rejected or not published, by error code.",
		}, []string{"code"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Dispatched tool calls, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		devicesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_known",
			Help:      "Devices present in the registry.",
		}),
		devicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_online",
			Help:      "Devices currently marked online.",
		}),
		demotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_demotions_total",
			Help:      "Devices marked offline by the liveness monitor.",
		}),
	}

	reg.MustRegister(
		c.messagesRouted, c.messagesDropped,
		c.queueLength, c.queueDropped,
		c.persistWritten, c.persistFailures, c.persistLatency,
		c.commandsSent, c.commandsFailed, c.toolCalls,
		c.devicesTotal, c.devicesOnline, c.demotions,
	)

	return c
}

// MessageRouted counts one message applied for category.
func (c *Collector) MessageRouted(category string) {
	if c == nil {
		return
	}
	c.messagesRouted.WithLabelValues(category).Inc()
}

// MessageDropped counts one message dropped for reason.
func (c *Collector) MessageDropped(reason string) {
	if c == nil {
		return
	}
	c.messagesDropped.WithLabelValues(reason).Inc()
}

// SetQueueLength records the current persistence queue depth.
func (c *Collector) SetQueueLength(n int) {
	if c == nil {
		return
	}
	c.queueLength.Set(float64(n))
}

// QueueDropped counts one record evicted from a full queue.
func (c *Collector) QueueDropped() {
	if c == nil {
		return
	}
	c.queueDropped.Inc()
}

// PersistWritten counts n records written to the store.
func (c *Collector) PersistWritten(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.persistWritten.Add(float64(n))
}

// PersistFailed counts one failed store operation.
func (c *Collector) PersistFailed(op string) {
	if c == nil {
		return
	}
	c.persistFailures.WithLabelValues(op).Inc()
}

// ObserveBatch records how long one batch write took.
func (c *Collector) ObserveBatch(d time.Duration) {
	if c == nil {
		return
	}
	c.persistLatency.Observe(d.Seconds())
}

// CommandSent counts one successfully published actuator command.
func (c *Collector) CommandSent() {
	if c == nil {
		return
	}
	c.commandsSent.Inc()
}

// CommandFailed counts one actuator command that was not published.
func (c *Collector) CommandFailed(code string) {
	if c == nil {
		return
	}
	c.commandsFailed.WithLabelValues(code).Inc()
}

// ToolCall counts one dispatched tool call with its outcome ("ok" or an error code).
func (c *Collector) ToolCall(tool, outcome string) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// SetDevices records registry population.
func (c *Collector) SetDevices(total, online int) {
	if c == nil {
		return
	}
	c.devicesTotal.Set(float64(total))
	c.devicesOnline.Set(float64(online))
}

// DevicesDemoted counts devices marked offline by the liveness monitor.
func (c *Collector) DevicesDemoted(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.demotions.Add(float64(n))
}
