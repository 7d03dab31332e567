package mqtt

import (
	"fmt"
	"time"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// PublishAsync hands the message to paho and returns a channel that
// receives exactly one value: nil once the broker has acknowledged it, or
// the failure.
//
// The message is queued before PublishAsync returns, so consecutive calls
// from one goroutine reach the broker in call order even though their
// results are awaited independently.
//
// Example:
//
//	done := client.PublishAsync(topic, cfg, 2, true)
//	go func() {
//	    if err := <-done; err != nil {
//	        log.Warn("discovery publish failed", "error", err)
//	    }
//	}()
func (c *Client) PublishAsync(topic string, payload []byte, qos byte, retained bool) <-chan error {
	result := make(chan error, 1)

	if err := validatePublish(topic, payload, qos); err != nil {
		result <- err
		return result
	}
	if !c.IsConnected() {
		result <- ErrNotConnected
		return result
	}

	token := c.client.Publish(topic, qos, retained, payload)

	go func() {
		result <- waitToken(token, defaultPublishTimeout)
	}()

	return result
}

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}

// tokenWaiter is the subset of pahomqtt.Token used when awaiting a result.
type tokenWaiter interface {
	WaitTimeout(time.Duration) bool
	Error() error
}

func waitToken(token tokenWaiter, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", ErrPublishFailed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
