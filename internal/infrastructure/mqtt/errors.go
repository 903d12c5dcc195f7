package mqtt

import "errors"

// Sentinel errors. Broker and token errors are wrapped underneath them, so
// callers match with errors.Is.
var (
	// ErrNotConnected means the client has no live broker session.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed is returned by Connect.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects anything above QoS 2.
	ErrInvalidQoS = errors.New("mqtt: QoS must be 0, 1 or 2")

	// ErrInvalidTopic rejects an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")

	// ErrTimeout means the broker did not acknowledge a token in time.
	ErrTimeout = errors.New("mqtt: broker did not acknowledge in time")
)
