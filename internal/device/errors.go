package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDeviceID is returned for an empty device ID.
	ErrInvalidDeviceID = errors.New("device: invalid id")

	// ErrMonitorRunning is returned when Start is called on a running Monitor.
	ErrMonitorRunning = errors.New("device: monitor already running")
)
