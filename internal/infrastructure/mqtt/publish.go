package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps a single message at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker acknowledgement
// (up to 5s at QoS 1 and 2).
//
// Parameters:
//   - topic: e.g. Topics{}.Reading("PC", "TA_PC")
//   - payload: Message body, at most 1MB
//   - qos: 0, 1 or 2
//   - retained: Retain on the broker; used for status and round topics only
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected or ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %s: payload is %d bytes, limit %d",
			ErrPublishFailed, topic, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := await(c.paho.Publish(topic, qos, retained, payload), ackTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishJSON encodes v and publishes it at the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: encoding payload: %w", ErrPublishFailed, topic, err)
	}
	return c.Publish(topic, payload, byte(c.cfg.QoS), retained)
}
