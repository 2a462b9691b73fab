package mqtt

import (
	"context"
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic, waiting at most
// defaultPublishTimeout for the broker acknowledgment.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// Example:
//
//	topic := mqtt.Topics{}.ActuatorCommand("esp32_kitchen", "led")
//	err := client.Publish(topic, []byte(`{"action":"on"}`), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	return c.PublishContext(ctx, topic, payload, qos, retained)
}

// PublishContext is Publish bounded by ctx instead of the default timeout.
// A cancelled or expired context returns ErrTimeout wrapped in ErrPublishFailed;
// the message may still reach the broker afterwards.
func (c *Client) PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w: %w", ErrPublishFailed, ErrTimeout, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	return nil
}
