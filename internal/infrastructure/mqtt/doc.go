// Package mqtt provides MQTT client connectivity for the IoT bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees and bounded waits
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) on iotbridge/system/status
//
// # Topic Layout
//
// Devices own the devices/{device_id}/ subtree:
//
//	devices/{id}/capabilities                 device -> bridge
//	devices/{id}/sensors/{type}/data          device -> bridge
//	devices/{id}/actuators/{type}/status      device -> bridge
//	devices/{id}/status                       device -> bridge
//	devices/{id}/error                        device -> bridge
//	devices/{id}/actuators/{type}/cmd         bridge -> device
//
// Use the Topics builder rather than formatting topic strings by hand.
//
// # Ordering
//
// The client enables paho's ordered delivery, so handlers run sequentially.
// Messages on one topic reach the handler in broker delivery order.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllSensorData(), 0, handler)
//
//	topic := mqtt.Topics{}.ActuatorCommand("esp32_kitchen", "led")
//	err = client.PublishContext(ctx, topic, payload, 1, false)
package mqtt
