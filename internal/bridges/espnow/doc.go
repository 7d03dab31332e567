// Package espnow bridges an ESP-NOW mesh to Home Assistant over MQTT.
//
// Packets from the gateway radio arrive as frame.Packet values. The bridge
// bootstraps devices and entities from discovery packets, announces them
// with Home Assistant MQTT discovery and then forwards their state. MQTT
// commands travel the other way and leave as ESPNOW_TX frames.
//
// # Topic Structure
//
//	homeassistant/{platform}/{unique_id}/config        discovery (retained)
//	espnow2mqtt/{device_id}_{mac}/{entity_id}/state     entity state
//	espnow2mqtt/{device_id}_{mac}/{entity_id}/cmd       entity commands
//	espnow2mqtt/{device_id}_{mac}/.rssi/state           signal strength
//	espnow2mqtt/gateway_device/serial/state             gateway link state
//
// # Mesh Payloads
//
// Nodes send compact JSON objects:
//
//	{".t":"d","dev_id":"kitchen","id":"motion","p":"binary_sensor"}  discovery
//	{".t":"s","dev_id":"kitchen","id":"motion","stat":"ON"}          state
//	{".t":"h","dev_id":"desk","id":"lamp","p":"light","stat":"ON","br":80}
//
// A state packet for an entity the bridge has not seen yet is parked and a
// discovery request {".t":"d","id":...} is sent back to the node.
//
// # Concurrency
//
// Registry and discovery state is owned by a single goroutine (see Loop).
// Serial, MQTT and timer callbacks hand work to it through a Scheduler, so
// none of the maps below are locked.
package espnow
