package mqtt

import "fmt"

// Subscribe routes messages matching pattern to handler.
//
// The pattern may carry MQTT wildcards ("+/+/+" for every device topic,
// "fes/+/ack" for one device type's acknowledgements). A successful
// subscription is replayed on every reconnect; a failed one is forgotten.
func (c *Client) Subscribe(pattern string, qos byte, handler MessageHandler) error {
	if err := checkTopicQoS(pattern, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, pattern)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.subs[pattern] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := await(c.client.Subscribe(pattern, qos, c.wrapHandler(handler)), defaultPublishTimeout); err != nil {
		c.mu.Lock()
		delete(c.subs, pattern)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, pattern, err)
	}
	return nil
}

// HasSubscription reports whether pattern is currently tracked.
func (c *Client) HasSubscription(pattern string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[pattern]
	return ok
}
