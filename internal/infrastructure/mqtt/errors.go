package mqtt

import "errors"

// Broker connection state.
var (
	ErrNotConnected     = errors.New("mqtt: broker not connected")
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")
)

// Operation failures. Broker-side errors and timeouts are wrapped beneath
// these, so errors.Is matches both the operation and ErrTimeout.
var (
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrTimeout           = errors.New("mqtt: broker did not acknowledge in time")
)

// Argument validation, checked before the broker is contacted.
var (
	ErrInvalidTopic    = errors.New("mqtt: topic is empty")
	ErrInvalidQoS      = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrNilHandler      = errors.New("mqtt: message handler is nil")
	ErrPayloadTooLarge = errors.New("mqtt: payload exceeds 1 MiB")
)
