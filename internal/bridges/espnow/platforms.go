package espnow

import (
	"encoding/json"
	"fmt"
)

// newEntity creates an entity for platform. hint is the discovery payload
// that announced it and may be nil.
func newEntity(platform Platform, id string, dev *Device, hint *NowPayload) (Entity, error) {
	base := baseEntity{id: id, device: dev}
	switch platform {
	case PlatformBinarySensor:
		return &BinarySensor{baseEntity: base}, nil
	case PlatformSwitch:
		return &Switch{baseEntity: base}, nil
	case PlatformLight:
		l := &Light{baseEntity: base}
		if hint != nil {
			l.brightness = hint.Brightness != nil
		}
		return l, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
	}
}

// baseEntity carries what every platform shares.
type baseEntity struct {
	id     string
	device *Device
	lc     lifecycle
}

func (e *baseEntity) ID() string            { return e.id }
func (e *baseEntity) Device() *Device       { return e.device }
func (e *baseEntity) lifecycle() *lifecycle { return &e.lc }

func (e *baseEntity) base() string {
	return e.device.topics.EntityBase(e.device.ID, e.device.MAC, e.id)
}

func (e *baseEntity) stateTopic() string { return e.device.topics.State(e.base()) }

// CommandTopic returns the absolute command topic of the entity.
func (e *baseEntity) CommandTopic() string { return e.device.topics.Command(e.base()) }

func (e *baseEntity) discoveryTopicFor(p Platform) string {
	return e.device.topics.Discovery(string(p), e.device.ID, e.id)
}

func (e *baseEntity) configFor(p Platform) DiscoveryConfig {
	cfg := DiscoveryConfig{
		Device:     shortDeviceInfo(e.device.ID, e.device.MAC),
		Base:       e.base(),
		Name:       DisplayName(e.id),
		UniqueID:   e.device.topics.UniqueID(e.device.ID, e.id),
		StateTopic: relStateTopic,
		QoS:        2,
	}
	if p.Commandable() {
		cfg.CommandTopic = relCommandTopic
	}
	return cfg
}

// requireState extracts the ON/OFF state of a payload.
func requireState(p *NowPayload) (string, error) {
	if p.State == "" {
		return "", fmt.Errorf("%w: %s has no stat", ErrInvalidPayload, p.ID)
	}
	return p.State, nil
}

// =============================================================================
// Binary sensor
// =============================================================================

// BinarySensor reports ON/OFF and accepts no commands.
type BinarySensor struct {
	baseEntity
}

func (*BinarySensor) Platform() Platform { return PlatformBinarySensor }

func (b *BinarySensor) discoveryTopic() string { return b.discoveryTopicFor(PlatformBinarySensor) }

func (b *BinarySensor) discoveryConfig() DiscoveryConfig { return b.configFor(PlatformBinarySensor) }

// StateFromPayload returns "ON" or "OFF".
func (*BinarySensor) StateFromPayload(p *NowPayload) (any, error) {
	return requireState(p)
}

// =============================================================================
// Switch
// =============================================================================

// Switch reports and accepts ON/OFF.
type Switch struct {
	baseEntity
}

func (*Switch) Platform() Platform { return PlatformSwitch }

func (s *Switch) discoveryTopic() string { return s.discoveryTopicFor(PlatformSwitch) }

func (s *Switch) discoveryConfig() DiscoveryConfig { return s.configFor(PlatformSwitch) }

// StateFromPayload returns "ON" or "OFF".
func (*Switch) StateFromPayload(p *NowPayload) (any, error) {
	return requireState(p)
}

// CommandFromMessage maps "ON" to on and everything else to off.
func (s *Switch) CommandFromMessage(payload []byte) ([]byte, error) {
	return json.Marshal(meshCommand{ID: s.id, State: onOff(payload)})
}

// =============================================================================
// Light
// =============================================================================

// Light is a monochromatic light using the Home Assistant JSON schema.
type Light struct {
	baseEntity

	// brightness is set when the announcing payload carried "br".
	brightness bool
}

func (*Light) Platform() Platform { return PlatformLight }

func (l *Light) discoveryTopic() string { return l.discoveryTopicFor(PlatformLight) }

func (l *Light) discoveryConfig() DiscoveryConfig {
	cfg := l.configFor(PlatformLight)
	cfg.Schema = "json"
	cfg.SupportedColorModes = []string{"onoff"}
	if l.brightness {
		cfg.SupportedColorModes = []string{"brightness"}
	}
	brightness := l.brightness
	cfg.Brightness = &brightness
	return cfg
}

// StateFromPayload returns a LightState.
func (*Light) StateFromPayload(p *NowPayload) (any, error) {
	state, err := requireState(p)
	if err != nil {
		return nil, err
	}
	return LightState{State: state, Brightness: p.Brightness}, nil
}

// CommandFromMessage accepts a JSON schema command such as
// {"state":"ON","brightness":128}. Anything that is not a JSON object is
// treated as a plain ON/OFF payload.
func (l *Light) CommandFromMessage(payload []byte) ([]byte, error) {
	var cmd LightState
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return json.Marshal(meshCommand{ID: l.id, State: onOff(payload)})
	}
	return json.Marshal(meshCommand{ID: l.id, State: cmd.State, Brightness: cmd.Brightness})
}
