package espnow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Discovery constants.
const (
	// DefaultDiscoveryCooldown is the quiet period after a discovery
	// publish before state is sent, giving Home Assistant time to create
	// the entity.
	DefaultDiscoveryCooldown = time.Second

	discoveryQoS byte = 2
	stateQoS     byte = 1
)

// Publisher is the MQTT capability the Coordinator needs.
type Publisher interface {
	// PublishAsync publishes in call order; the channel yields the outcome.
	PublishAsync(topic string, payload []byte, qos byte, retained bool) <-chan error
}

// Coordinator announces discoverables and publishes their state without
// ever letting state overtake its own discovery.
//
// Thread Safety: must only be used on the Scheduler goroutine.
type Coordinator struct {
	mqtt     Publisher
	sched    Scheduler
	cooldown time.Duration
	logger   Logger
}

// NewCoordinator creates a Coordinator. A non-positive cooldown selects
// DefaultDiscoveryCooldown.
func NewCoordinator(mqtt Publisher, sched Scheduler, cooldown time.Duration, logger Logger) *Coordinator {
	if cooldown <= 0 {
		cooldown = DefaultDiscoveryCooldown
	}
	return &Coordinator{mqtt: mqtt, sched: sched, cooldown: cooldown, logger: logger}
}

// Discover publishes the discovery config of d (QoS 2, retained) and
// holds state updates until the cooldown after the broker ack. then, if
// non-nil, runs once discovery has finished, with the publish error if any.
// A Discover call during an in-flight discovery joins it.
func (c *Coordinator) Discover(d discoverable, then func(error)) {
	lc := d.lifecycle()
	if then != nil {
		lc.waiters = append(lc.waiters, then)
	}
	if lc.discovering {
		return
	}

	payload, err := json.Marshal(d.discoveryConfig())
	if err != nil {
		c.logWarn("marshalling discovery config failed", "topic", d.discoveryTopic(), "error", err)
		c.finish(d, fmt.Errorf("marshalling discovery config: %w", err))
		return
	}

	lc.discovering = true
	topic := d.discoveryTopic()
	c.logDebug("publishing discovery", "topic", topic)

	c.sched.Await(c.mqtt.PublishAsync(topic, payload, discoveryQoS, true), func(err error) {
		if err != nil {
			c.logWarn("discovery publish failed", "topic", topic, "error", err)
			c.finish(d, err)
			return
		}
		c.sched.After(c.cooldown, func() { c.finish(d, nil) })
	})
}

// finish ends a discovery: waiters are notified and the queued state, if
// any, is published.
func (c *Coordinator) finish(d discoverable, err error) {
	lc := d.lifecycle()
	lc.discovering = false

	for _, w := range lc.takeWaiters() {
		w(err)
	}

	if v, ok := lc.takeQueued(); ok {
		c.UpdateState(d, v)
	}
}

// UpdateState publishes value on the state topic of d (QoS 1, not
// retained), or queues it while d is discovering. Only the last queued
// value survives.
func (c *Coordinator) UpdateState(d discoverable, value any) {
	lc := d.lifecycle()
	if lc.discovering {
		lc.queue(value)
		return
	}

	payload, err := formatState(value)
	if err != nil {
		c.logWarn("encoding state failed", "topic", d.stateTopic(), "error", err)
		return
	}

	topic := d.stateTopic()
	c.sched.Await(c.mqtt.PublishAsync(topic, payload, stateQoS, false), func(err error) {
		if err != nil {
			c.logWarn("state publish failed", "topic", topic, "error", err)
		}
	})
}

// UpdateDebounced calls UpdateState with the latest value once no other
// UpdateDebounced call for d has happened for delay.
func (c *Coordinator) UpdateDebounced(d discoverable, value any, delay time.Duration) {
	lc := d.lifecycle()
	lc.debounceGen++
	gen := lc.debounceGen
	lc.debouncing = true
	lc.debouncedNext = value

	c.sched.After(delay, func() {
		if lc.debounceGen != gen {
			return
		}
		lc.debouncing = false
		v := lc.debouncedNext
		lc.debouncedNext = nil
		c.UpdateState(d, v)
	})
}

// formatState renders a state value as an MQTT payload: strings verbatim,
// integers in decimal, everything else as JSON.
func formatState(v any) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	case int:
		return []byte(strconv.Itoa(s)), nil
	case int8:
		return []byte(strconv.Itoa(int(s))), nil
	case bool:
		if s {
			return []byte(StateOn), nil
		}
		return []byte(StateOff), nil
	default:
		return json.Marshal(v)
	}
}

func (c *Coordinator) logDebug(msg string, kv ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, kv...)
	}
}

func (c *Coordinator) logWarn(msg string, kv ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, kv...)
	}
}
