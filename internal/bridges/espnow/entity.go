package espnow

// Platform is a Home Assistant entity platform.
type Platform string

// Supported platforms.
const (
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformSwitch       Platform = "switch"
	PlatformLight        Platform = "light"

	// platformSensor is only used by the per-device RSSI sensor.
	platformSensor Platform = "sensor"
)

// Commandable reports whether the platform has a command topic.
func (p Platform) Commandable() bool {
	return p == PlatformSwitch || p == PlatformLight
}

// Entity is a mesh entity announced to Home Assistant.
//
// The concrete types are *BinarySensor, *Switch and *Light. Optional
// behaviour is exposed through StateHandler and CommandHandler and should
// be discovered with a type assertion.
type Entity interface {
	ID() string
	Device() *Device
	Platform() Platform

	discoverable
}

// StateHandler converts a mesh state payload into the value published on
// the entity's state topic.
type StateHandler interface {
	Entity
	StateFromPayload(p *NowPayload) (any, error)
}

// CommandHandler converts an MQTT command payload into the JSON sent to
// the node.
type CommandHandler interface {
	Entity
	CommandFromMessage(payload []byte) ([]byte, error)
	CommandTopic() string
}

// discoverable is anything the Coordinator can announce and update.
type discoverable interface {
	discoveryTopic() string
	discoveryConfig() DiscoveryConfig
	stateTopic() string
	lifecycle() *lifecycle
}

// Phase is the discovery phase of a lifecycle.
type Phase int

// Lifecycle phases.
const (
	// PhaseIdle publishes state immediately.
	PhaseIdle Phase = iota

	// PhasePending has a debounced update armed.
	PhasePending

	// PhaseDiscovering queues state until the discovery cooldown ends.
	PhaseDiscovering
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePending:
		return "pending"
	case PhaseDiscovering:
		return "discovering"
	default:
		return "unknown"
	}
}

// lifecycle is the discovery state machine shared by every discoverable.
// It is only touched on the loop goroutine.
type lifecycle struct {
	discovering bool
	waiters     []func(error)

	// queued holds the last state received while discovering.
	queued    any
	hasQueued bool

	// Debounce generation; only the timer armed last may fire.
	debounceGen   uint64
	debouncing    bool
	debouncedNext any
}

// Phase returns the current phase. Discovery takes precedence over a
// pending debounce.
func (l *lifecycle) Phase() Phase {
	switch {
	case l.discovering:
		return PhaseDiscovering
	case l.debouncing:
		return PhasePending
	default:
		return PhaseIdle
	}
}

func (l *lifecycle) queue(v any) {
	l.queued = v
	l.hasQueued = true
}

// takeQueued returns and clears the queued state.
func (l *lifecycle) takeQueued() (any, bool) {
	if !l.hasQueued {
		return nil, false
	}
	v := l.queued
	l.queued, l.hasQueued = nil, false
	return v, true
}

func (l *lifecycle) takeWaiters() []func(error) {
	w := l.waiters
	l.waiters = nil
	return w
}
