// Package bridge is the event router between the MQTT transport and the
// device registry.
//
// Devices publish under devices/{device_id}/:
//
//	capabilities                   what the device supports
//	sensors/{sensor_type}/data     one sensor reading
//	actuators/{actuator_type}/status
//	status                         online/offline
//	error                          error report
//
// Route classifies a topic and the Parse functions turn the JSON payload into
// a typed message. HandleMessage applies it to the Registry and submits the
// durable part to the persistence Sink. Malformed messages are counted and
// dropped.
//
//	b, err := bridge.NewBridge(bridge.Options{
//	    Registry:   registry,
//	    Subscriber: mqttClient,
//	    Sink:       writer,
//	    Store:      store,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
package bridge
