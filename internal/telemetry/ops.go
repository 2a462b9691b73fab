package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/iot-mcp-bridge/internal/device"
)

// Op kinds, used as the "op" label on persistence failure metrics.
const (
	OpReading  = "reading"
	OpActuator = "actuator"
	OpEvent    = "event"
	OpDevice   = "device"
	OpStatus   = "status"
)

// Op is one queued persistence write.
type Op interface {
	Kind() string
	DeviceID() string
	Apply(ctx context.Context, s Store) error
}

// ReadingOp persists a sensor reading.
type ReadingOp struct{ Reading device.SensorReading }

func (o ReadingOp) Kind() string     { return OpReading }
func (o ReadingOp) DeviceID() string { return o.Reading.DeviceID }
func (o ReadingOp) Apply(ctx context.Context, s Store) error {
	return s.AppendReading(ctx, o.Reading)
}

// ActuatorOp persists an actuator state.
type ActuatorOp struct{ State device.ActuatorState }

func (o ActuatorOp) Kind() string     { return OpActuator }
func (o ActuatorOp) DeviceID() string { return o.State.DeviceID }
func (o ActuatorOp) Apply(ctx context.Context, s Store) error {
	return s.AppendActuatorState(ctx, o.State)
}

// EventOp persists a device event.
type EventOp struct{ Event Event }

func (o EventOp) Kind() string     { return OpEvent }
func (o EventOp) DeviceID() string { return o.Event.DeviceID }
func (o EventOp) Apply(ctx context.Context, s Store) error {
	return s.AppendEvent(ctx, o.Event)
}

// DeviceOp persists a device registration.
type DeviceOp struct{ Record DeviceRecord }

func (o DeviceOp) Kind() string     { return OpDevice }
func (o DeviceOp) DeviceID() string { return o.Record.DeviceID }
func (o DeviceOp) Apply(ctx context.Context, s Store) error {
	return s.UpsertDevice(ctx, o.Record)
}

// StatusOp persists an online/offline transition.
type StatusOp struct {
	ID     string
	Online bool
	At     time.Time
}

func (o StatusOp) Kind() string     { return OpStatus }
func (o StatusOp) DeviceID() string { return o.ID }
func (o StatusOp) Apply(ctx context.Context, s Store) error {
	return s.UpdateDeviceStatus(ctx, o.ID, o.Online, o.At)
}
