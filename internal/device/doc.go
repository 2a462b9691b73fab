// Package device holds the in-memory device registry and liveness monitor.
//
// The Registry is the single source of truth for every device the bridge has
// heard from: its declared capabilities, the latest reading per sensor, the
// latest state per actuator, a bounded error history and per-device counters.
// Devices are created lazily the first time any message names them.
//
// # Locking
//
// A read-write mutex guards the id-to-record map and each record carries its
// own mutex. Updates to different devices proceed in parallel; updates to one
// device are serialised. Every read returns a deep copy.
//
// # Liveness
//
// A device is online after a capabilities, sensor, actuator or "online"
// status message. The Monitor demotes devices whose last-seen is older than
// the configured timeout. It never promotes.
//
//	reg := device.NewRegistry(100)
//	mon := device.NewMonitor(reg, device.MonitorConfig{Timeout: 5 * time.Minute})
//	if err := mon.Start(ctx); err != nil {
//	    return err
//	}
//	defer mon.Stop()
package device
