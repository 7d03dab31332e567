package espnow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanishqmanuja/espnow2mqtt/internal/frame"
)

// Bridge defaults.
const (
	// DefaultRSSIDebounce collapses RSSI bursts per device.
	DefaultRSSIDebounce = time.Second

	// DefaultSupportURL is advertised in the discovery origin block.
	DefaultSupportURL = "https://github.com/tanishqmanuja/espnow2mqtt"

	commandQoS byte = 1
)

// Logger interface for optional logging.
// Compatible with slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	Publisher

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Transport is the serial link to the gateway radio.
type Transport interface {
	Sender
	LinkState
}

// Telemetry receives time series samples. It is optional.
// This interface is satisfied by *influxdb.Client.
type Telemetry interface {
	WriteRSSI(deviceID, mac string, rssi int)
	WriteTxStatus(mac string, status uint8)
	WriteGatewayState(port string, connected bool)
}

// History journals mesh activity. It is optional.
// This interface is satisfied by *history.Recorder.
type History interface {
	DeviceSeen(deviceID, mac string, rssi int)
	EntitySeen(deviceID, entityID, platform, state string)
	TxStatus(mac string, status uint8)
}

// Config holds the bridge settings.
type Config struct {
	HAPrefix     string
	BridgePrefix string

	DiscoveryCooldown   time.Duration
	RSSIDebounce        time.Duration
	DiscoveryRequestTTL time.Duration

	// MaxPendingJobs caps parked jobs per entity; 0 is unbounded.
	MaxPendingJobs int

	GatewayInterval time.Duration

	// WizmoteTopic is subscribed for WiZmote button names. Empty disables it.
	WizmoteTopic string

	SupportURL string
	Version    string
	SerialPort string
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the bridge configuration.
	Config Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Transport is the serial link.
	Transport Transport

	// Scheduler serialises all registry work. Usually a *Loop.
	Scheduler Scheduler

	// Logger is optional structured logger.
	Logger Logger

	// Telemetry is optional. If nil, no time series are written.
	Telemetry Telemetry

	// History is optional. If nil, no sightings are journalled.
	History History
}

// Stats holds bridge counters.
type Stats struct {
	PacketsHandled  uint64
	InvalidPayloads uint64
	CommandsSent    uint64
	TxFailures      uint64
}

// Bridge routes packets from the mesh to MQTT and commands back.
//
// Thread Safety: the exported Handle* methods may be called from any
// goroutine; they hand the work to the Scheduler.
type Bridge struct {
	cfg       Config
	topics    Topics
	mqtt      MQTTClient
	transport Transport
	sched     Scheduler
	telemetry Telemetry
	history   History
	logger    Logger

	parser   *payloadParser
	registry *Registry
	coord    *Coordinator
	gateway  *Gateway
	wizmote  *Wizmote

	packetsHandled  atomic.Uint64
	invalidPayloads atomic.Uint64
	commandsSent    atomic.Uint64
	txFailures      atomic.Uint64

	stopOnce sync.Once
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}

	cfg := opts.Config
	if cfg.RSSIDebounce <= 0 {
		cfg.RSSIDebounce = DefaultRSSIDebounce
	}
	if cfg.SupportURL == "" {
		cfg.SupportURL = DefaultSupportURL
	}

	topics := NewTopics(cfg.HAPrefix, cfg.BridgePrefix)
	origin := &Origin{Name: originName, SoftwareVersion: cfg.Version, SupportURL: cfg.SupportURL}

	b := &Bridge{
		cfg:       cfg,
		topics:    topics,
		mqtt:      opts.MQTTClient,
		transport: opts.Transport,
		sched:     opts.Scheduler,
		telemetry: opts.Telemetry,
		history:   opts.History,
		logger:    opts.Logger,
		parser:    newPayloadParser(),
		wizmote:   NewWizmote(opts.Transport),
	}

	b.coord = NewCoordinator(opts.MQTTClient, opts.Scheduler, cfg.DiscoveryCooldown, opts.Logger)
	b.registry = NewRegistry(RegistryConfig{
		Topics:         topics,
		Origin:         origin,
		MaxPendingJobs: cfg.MaxPendingJobs,
		RequestTTL:     cfg.DiscoveryRequestTTL,
	}, opts.Scheduler, opts.Transport, opts.Logger)
	b.gateway = NewGateway(GatewayConfig{
		Topics:     topics,
		Origin:     origin,
		Version:    cfg.Version,
		SerialPort: cfg.SerialPort,
		Interval:   cfg.GatewayInterval,
	}, b.coord, opts.Scheduler, opts.Transport, opts.Telemetry, opts.Logger)

	return b, nil
}

// Topics returns the topic builder in use.
func (b *Bridge) Topics() Topics { return b.topics }

// Start subscribes to command topics and starts the gateway report loop.
func (b *Bridge) Start(ctx context.Context) error {
	commandTopic := b.topics.CommandSubscription()
	if err := b.mqtt.Subscribe(commandTopic, commandQoS, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	if b.cfg.WizmoteTopic != "" {
		if err := b.mqtt.Subscribe(b.cfg.WizmoteTopic, commandQoS, b.handleWizmoteMessage); err != nil {
			return fmt.Errorf("subscribe to wizmote: %w", err)
		}
		b.logInfo("subscribed to wizmote", "topic", b.cfg.WizmoteTopic)
	}

	b.gateway.Start(ctx)

	if b.mqtt.IsConnected() {
		b.HandleMQTTConnect()
	}

	b.logInfo("bridge started",
		"ha_prefix", b.topics.HAPrefix,
		"bridge_prefix", b.topics.BridgePrefix)
	return nil
}

// Stop shuts down the gateway report loop.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.gateway.Stop()
		b.logInfo("bridge stopped")
	})
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		PacketsHandled:  b.packetsHandled.Load(),
		InvalidPayloads: b.invalidPayloads.Load(),
		CommandsSent:    b.commandsSent.Load(),
		TxFailures:      b.txFailures.Load(),
	}
}

// HandlePacket queues a decoded frame for dispatch.
func (b *Bridge) HandlePacket(p frame.Packet) {
	b.sched.Post(func() { b.dispatch(p) })
}

// HandleMQTTConnect re-announces the gateway after a broker (re)connect.
func (b *Bridge) HandleMQTTConnect() {
	b.sched.Post(func() { b.gateway.RequestDiscovery("") })
}

// HandleSerialConnect publishes the gateway link as up.
func (b *Bridge) HandleSerialConnect() {
	b.sched.Post(func() { b.gateway.SetConnected(true) })
}

// HandleSerialDisconnect publishes the gateway link as down.
func (b *Bridge) HandleSerialDisconnect(err error) {
	b.sched.Post(func() {
		b.logWarn("gateway link down", "error", err)
		b.gateway.SetConnected(false)
	})
}

// =============================================================================
// Packet dispatch (scheduler goroutine)
// =============================================================================

func (b *Bridge) dispatch(p frame.Packet) {
	b.packetsHandled.Add(1)

	switch pkt := p.(type) {
	case *frame.GatewayInit:
		b.logInfo("gateway radio initialised", "mac", pkt.MAC)
		b.gateway.RequestDiscovery(pkt.MAC)
	case *frame.EspNowRx:
		b.handleRx(pkt)
	case *frame.EspNowTxStatus:
		b.handleTxStatus(pkt)
	default:
		b.logDebug("ignoring packet", "type", p.Type().String())
	}
}

func (b *Bridge) handleRx(pkt *frame.EspNowRx) {
	msg, err := b.parser.Parse(pkt.Payload)
	if err != nil {
		b.invalidPayloads.Add(1)
		b.logWarn("dropping mesh payload", "mac", pkt.MAC, "error", err)
		return
	}

	rssi := int(pkt.RSSI)
	if b.telemetry != nil {
		b.telemetry.WriteRSSI(msg.DeviceID, pkt.MAC, rssi)
	}

	switch msg.Type {
	case PacketDiscovery:
		b.handleDiscovery(pkt.MAC, rssi, msg)
	case PacketState:
		b.handleState(pkt.MAC, rssi, msg)
	case PacketHybrid:
		if _, _, known := b.registry.Lookup(msg.DeviceID, msg.ID); !known {
			b.handleDiscovery(pkt.MAC, rssi, msg)
		}
		b.handleState(pkt.MAC, rssi, msg)
	}
}

func (b *Bridge) handleDiscovery(mac string, rssi int, msg *NowPayload) {
	dev := b.bootstrapDevice(msg.DeviceID, mac, rssi)

	b.coord.Discover(dev.rssi, func(error) {
		b.coord.UpdateDebounced(dev.rssi, rssi, b.cfg.RSSIDebounce)
	})

	platform := Platform(msg.Platform)
	e, err := b.registry.BootstrapEntity(dev, msg.ID, platform, msg)
	if err != nil {
		b.logWarn("ignoring entity", "device", dev.ID, "entity", msg.ID, "error", err)
		return
	}
	if b.history != nil {
		b.history.EntitySeen(dev.ID, e.ID(), string(e.Platform()), "")
	}

	b.coord.Discover(e, nil)
	b.registry.OnEntityReady(dev.ID, e.ID())
}

func (b *Bridge) handleState(mac string, rssi int, msg *NowPayload) {
	dev := b.bootstrapDevice(msg.DeviceID, mac, rssi)
	b.coord.UpdateDebounced(dev.rssi, rssi, b.cfg.RSSIDebounce)

	b.registry.ResolveOrDefer(msg.DeviceID, msg.ID, mac, func(d *Device, e Entity) {
		b.applyState(d, e, msg, rssi)
	})
}

func (b *Bridge) applyState(dev *Device, e Entity, msg *NowPayload, rssi int) {
	h, ok := e.(StateHandler)
	if !ok {
		b.logWarn("entity does not accept state", "device", dev.ID, "entity", e.ID())
		return
	}
	if msg.Platform != "" && Platform(msg.Platform) != e.Platform() {
		b.logWarn("dropping state",
			"device", dev.ID,
			"entity", e.ID(),
			"error", fmt.Errorf("%w: got %s, entity is %s", ErrPlatformMismatch, msg.Platform, e.Platform()))
		return
	}

	value, err := h.StateFromPayload(msg)
	if err != nil {
		b.invalidPayloads.Add(1)
		b.logWarn("dropping state", "device", dev.ID, "entity", e.ID(), "error", err)
		return
	}

	b.coord.UpdateState(e, value)
	b.coord.UpdateDebounced(dev.rssi, rssi, b.cfg.RSSIDebounce)

	if b.history != nil {
		state, _ := formatState(value)
		b.history.EntitySeen(dev.ID, e.ID(), string(e.Platform()), string(state))
	}
}

func (b *Bridge) bootstrapDevice(id, mac string, rssi int) *Device {
	dev := b.registry.BootstrapDevice(id, mac)
	if b.history != nil {
		b.history.DeviceSeen(dev.ID, dev.MAC, rssi)
	}
	return dev
}

func (b *Bridge) handleTxStatus(pkt *frame.EspNowTxStatus) {
	b.logDebug("tx status", "mac", pkt.MAC, "status", pkt.Status)
	if pkt.Status != 0 {
		b.txFailures.Add(1)
		b.logWarn("mesh delivery failed", "mac", pkt.MAC, "status", pkt.Status)
	}
	if b.telemetry != nil {
		b.telemetry.WriteTxStatus(pkt.MAC, pkt.Status)
	}
	if b.history != nil {
		b.history.TxStatus(pkt.MAC, pkt.Status)
	}
}

// =============================================================================
// MQTT handlers
// =============================================================================

// handleCommandMessage runs on the MQTT client goroutine.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) {
	payload = bytes.Clone(payload)
	b.sched.Post(func() { b.handleCommand(topic, payload) })
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	ref, ok := b.topics.ParseEntityTopic(topic)
	if !ok || ref.Suffix != suffixCommand || strings.HasPrefix(ref.EntityID, ".") {
		b.logDebug("ignoring command", "topic", topic, "error", ErrInvalidTopic)
		return
	}

	b.registry.ResolveOrDefer(ref.DeviceID, ref.EntityID, ref.MAC, func(d *Device, e Entity) {
		if err := b.sendCommand(d, e, payload); err != nil {
			b.logWarn("command failed", "topic", topic, "error", err)
		}
	})
}

func (b *Bridge) sendCommand(dev *Device, e Entity, payload []byte) error {
	h, ok := e.(CommandHandler)
	if !ok {
		return fmt.Errorf("%w: %s/%s is a %s", ErrNotCommandable, dev.ID, e.ID(), e.Platform())
	}

	out, err := h.CommandFromMessage(payload)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	frameBytes, err := frame.EncodeEspNowTx(dev.MAC, out)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if err := b.transport.Send(frameBytes); err != nil {
		return fmt.Errorf("sending to %s: %w", dev.MAC, err)
	}

	b.commandsSent.Add(1)
	b.logDebug("command sent", "device", dev.ID, "entity", e.ID(), "payload", string(out))
	return nil
}

// handleWizmoteMessage runs on the MQTT client goroutine.
func (b *Bridge) handleWizmoteMessage(_ string, payload []byte) {
	button := string(payload)
	if err := b.wizmote.Press(button); err != nil {
		if errors.Is(err, ErrUnknownButton) {
			b.logDebug("ignoring wizmote message", "error", err)
			return
		}
		b.logWarn("wizmote send failed", "button", button, "error", err)
		return
	}
	b.commandsSent.Add(1)
}

// =============================================================================
// Logging helpers
// =============================================================================

func (b *Bridge) logInfo(msg string, kv ...any) {
	if b.logger != nil {
		b.logger.Info(msg, kv...)
	}
}

func (b *Bridge) logWarn(msg string, kv ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, kv...)
	}
}

func (b *Bridge) logDebug(msg string, kv ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, kv...)
	}
}
