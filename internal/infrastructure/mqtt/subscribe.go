package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe registers a handler for messages on the specified topic.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "devices/+/sensors/+/data" matches any device and sensor
//   - # (multi-level): "devices/#" matches every device topic
//
// Handlers should not block for extended periods as this stalls delivery
// for every other subscription.
//
// Subscriptions are automatically restored if the connection is lost and
// reconnected (tracked internally).
//
// Parameters:
//   - topic: The topic pattern to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	err := client.Subscribe(mqtt.Topics{}.AllDeviceStatus(), 1,
//	    func(topic string, payload []byte) error {
//	        return router.Route(topic, payload)
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return ErrNilHandler
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.untrack(topic)
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.untrack(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Unsubscribe removes a subscription and stops receiving messages for a topic.
//
// After unsubscribing, the handler will no longer be called for new messages
// on this topic. Any messages in flight may still be delivered.
//
// Parameters:
//   - topic: The exact topic pattern that was subscribed to
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.untrack(topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrUnsubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// routeUnmatched receives messages paho has no route for, such as those still
// in flight when Unsubscribe removed the route. A message matching a tracked
// pattern goes to that handler; anything else is logged and dropped.
func (c *Client) routeUnmatched(_ pahomqtt.Client, msg pahomqtt.Message) {
	c.subMu.RLock()
	var handlers []MessageHandler
	for _, sub := range c.subscriptions {
		if MatchTopic(sub.topic, msg.Topic()) {
			handlers = append(handlers, sub.handler)
		}
	}
	c.subMu.RUnlock()

	if len(handlers) == 0 {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT message on unsubscribed topic dropped", "topic", msg.Topic())
		}
		return
	}
	for _, h := range handlers {
		c.wrapHandler(h)(nil, msg)
	}
}

func (c *Client) untrack(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
