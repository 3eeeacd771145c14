package mqtt

import (
	"fmt"
)

// maxPayloadSize bounds a single message; ioBroker states are far smaller.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to accept it.
// The mirror publishes states retained so a restarted watcher, or a new
// subscriber, sees the latest value at once.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS or ErrNotConnected for bad
//     calls; ErrPublishFailed wrapping the cause otherwise
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	// Check connection state
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Publish with timeout
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
