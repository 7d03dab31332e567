// Package mqtt provides MQTT client connectivity for espnow2mqtt.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Ordered asynchronous publishing (PublishAsync)
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - A retained availability topic backed by the Last Will
//
// # Availability
//
// Connect takes the status topic (normally "<bridge prefix>/status").
// The broker publishes the retained will "offline" if the process dies;
// the client publishes "online" on every (re)connect and "offline" from
// Close.
//
// # Ordering
//
// PublishAsync queues the message with paho before returning, so results
// can be awaited on other goroutines without reordering the wire traffic.
// The bridge relies on this to publish a discovery config and then
// continue its event loop without blocking on the broker.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, "espnow2mqtt/status")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("espnow2mqtt/+/+/cmd", 1,
//	    func(topic string, payload []byte) error {
//	        return bridge.HandleCommand(topic, payload)
//	    })
package mqtt
