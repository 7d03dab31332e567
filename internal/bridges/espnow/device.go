package espnow

import (
	"maps"
	"slices"
)

// rssiEntityID is the entity segment of the RSSI sensor topic. The leading
// dot keeps it clear of node entity ids.
const rssiEntityID = ".rssi"

// Device is a mesh node. It is created on first reference and lives for
// the rest of the process.
type Device struct {
	ID  string
	MAC string

	entities map[string]Entity
	rssi     *rssiSensor
	topics   Topics
}

func newDevice(id, mac string, topics Topics, origin *Origin) *Device {
	d := &Device{
		ID:       id,
		MAC:      mac,
		entities: make(map[string]Entity),
		topics:   topics,
	}
	d.rssi = &rssiSensor{device: d, origin: origin}
	return d
}

// Entity returns the entity with the given id.
func (d *Device) Entity(id string) (Entity, bool) {
	e, ok := d.entities[id]
	return e, ok
}

// EntityIDs returns the ids of all known entities, sorted.
func (d *Device) EntityIDs() []string {
	return slices.Sorted(maps.Keys(d.entities))
}

// rssiSensor is the diagnostic signal strength sensor every node gets.
type rssiSensor struct {
	device *Device
	origin *Origin
	lc     lifecycle
}

func (s *rssiSensor) lifecycle() *lifecycle { return &s.lc }

func (s *rssiSensor) base() string {
	return s.device.topics.EntityBase(s.device.ID, s.device.MAC, rssiEntityID)
}

func (s *rssiSensor) discoveryTopic() string {
	return s.device.topics.Discovery(string(platformSensor), s.device.ID, "rssi")
}

func (s *rssiSensor) stateTopic() string {
	return s.device.topics.State(s.base())
}

func (s *rssiSensor) discoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Device:            fullDeviceInfo(s.device.ID, s.device.MAC),
		Origin:            s.origin,
		Base:              s.base(),
		UniqueID:          s.device.topics.UniqueID(s.device.ID, "rssi"),
		StateTopic:        relStateTopic,
		DeviceClass:       "signal_strength",
		UnitOfMeasurement: "dBm",
		EntityCategory:    "diagnostic",
		QoS:               2,
	}
}
