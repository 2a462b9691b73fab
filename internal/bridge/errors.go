package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrMalformedTopic is returned for a device topic with the wrong shape for its category.
	ErrMalformedTopic = errors.New("bridge: malformed topic")

	// ErrMalformedPayload is returned when a payload cannot be parsed for its category.
	ErrMalformedPayload = errors.New("bridge: malformed payload")

	// ErrBridgeRunning is returned when Start is called on a running Bridge.
	ErrBridgeRunning = errors.New("bridge: already running")
)
