package dispatch

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/iot-mcp-bridge/internal/device"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/iot-mcp-bridge/internal/telemetry"
)

// Dispatcher defaults.
const (
	DefaultPublishTimeout = 5 * time.Second

	outcomeOK = "ok"
)

// Logger defines the logging interface used by the Dispatcher.
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

// Publisher is the outbound half of the MQTT transport.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// QueueStats reports the persistence queue state.
// *telemetry.Writer satisfies it.
type QueueStats interface {
	Pending() int
	Dropped() uint64
}

// Options holds configuration for creating a Dispatcher.
type Options struct {
	// Registry is the shared device state. Required.
	Registry *device.Registry

	// Store serves reading history, persisted alerts and stats. Optional.
	Store telemetry.Store

	// Publisher sends actuator commands. Optional; without it control_actuator fails.
	Publisher Publisher

	Queue   QueueStats
	Metrics *metrics.Collector
	Logger  Logger
	Clock   device.Clock

	// PublishTimeout bounds one command publish. Default: 5 seconds.
	PublishTimeout time.Duration

	// CommandQoS is the MQTT QoS for commands (0-2).
	CommandQoS byte
}

// Result is the outcome of one tool call. Exactly one of Data and Error is set.
type Result struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ToolError `json:"error,omitempty"`
}

// handlerFunc runs one tool against decoded raw arguments.
type handlerFunc func(ctx context.Context, args json.RawMessage) (any, *ToolError)

// Tool describes one callable operation.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	handler handlerFunc
}

// Dispatcher executes named tool calls against the Registry, the Store and the transport.
//
// Thread Safety: Dispatch is safe for concurrent use.
type Dispatcher struct {
	registry  *device.Registry
	store     telemetry.Store
	publisher Publisher
	queue     QueueStats
	metrics   *metrics.Collector
	logger    Logger
	clock     device.Clock

	publishTimeout time.Duration
	commandQoS     byte

	tools map[string]Tool
}

// New creates a dispatcher from opts.
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	d := &Dispatcher{
		registry:       opts.Registry,
		store:          opts.Store,
		publisher:      opts.Publisher,
		queue:          opts.Queue,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		clock:          opts.Clock,
		publishTimeout: opts.PublishTimeout,
		commandQoS:     opts.CommandQoS,
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	if d.clock == nil {
		d.clock = device.SystemClock
	}
	if d.publishTimeout <= 0 {
		d.publishTimeout = DefaultPublishTimeout
	}
	if opts.CommandQoS > 2 {
		return nil, fmt.Errorf("command qos %d out of range", opts.CommandQoS)
	}

	d.tools = d.buildTools()
	return d, nil
}

// Tools returns the registered tools sorted by name.
func (d *Dispatcher) Tools() []Tool {
	out := make([]Tool, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Tool) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (d *Dispatcher) toolNames() []string {
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dispatch runs the named tool. It never panics; failures are returned in Result.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage) (res Result) {
	tool, ok := d.tools[name]
	if !ok {
		d.metrics.ToolCall(name, CodeUnknownTool)
		return Result{Error: &ToolError{
			Code:      CodeUnknownTool,
			Message:   fmt.Sprintf("unknown tool: %s", name),
			Available: d.toolNames(),
		}}
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked", "tool", name, "panic", fmt.Sprint(r))
			res = Result{Error: &ToolError{Code: CodeInternal, Message: fmt.Sprintf("internal error in %s", name)}}
		}
		outcome := outcomeOK
		if res.Error != nil {
			outcome = res.Error.Code
		}
		d.metrics.ToolCall(name, outcome)
	}()

	data, terr := tool.handler(ctx, normalizeArgs(args))
	if terr != nil {
		d.logger.Debug("tool call failed", "tool", name, "code", terr.Code, "error", terr.Message)
		return Result{Error: terr}
	}
	return Result{Success: true, Data: data}
}

// normalizeArgs maps absent or null arguments to an empty object.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return trimmed
}

// decodeArgs unmarshals args into dst, reporting shape errors as invalid arguments.
func decodeArgs(args json.RawMessage, dst any) *ToolError {
	if err := json.Unmarshal(args, dst); err != nil {
		return invalidArgs("decode arguments: %v", err)
	}
	return nil
}
