package mqtt

import "fmt"

// Subscribe routes messages matching topic (wildcards allowed, e.g.
// Topics{}.AllReadings()) to handler. The route is replayed after every
// reconnect until Unsubscribe.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := await(c.paho.Subscribe(topic, qos, c.wrapHandler(handler)), ackTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	c.mu.Lock()
	c.routes[topic] = route{qos: qos, handler: handler}
	c.mu.Unlock()
	return nil
}

// Unsubscribe drops the route for topic, which must match the pattern
// given to Subscribe. Messages already in flight may still arrive.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	delete(c.routes, topic)
	c.mu.Unlock()

	if err := await(c.paho.Unsubscribe(topic), ackTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}
	return nil
}

// SubscriptionCount returns the number of routes replayed on reconnect.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes)
}

// HasSubscription reports whether topic (exact pattern) has a route.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.routes[topic]
	return ok
}

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
