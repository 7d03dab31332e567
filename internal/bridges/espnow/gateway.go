package espnow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Gateway device constants.
const (
	// GatewayDeviceID identifies the gateway radio in Home Assistant and
	// is the via_device of every node.
	GatewayDeviceID = "gateway_device"

	// DefaultGatewayInterval is how often the link state is republished.
	DefaultGatewayInterval = 60 * time.Second

	gatewayEntityID          = "serial"
	gatewayDiscoveryDebounce = time.Second
	protocolVersion          = 1
)

// LinkState reports whether the serial link to the radio is up.
type LinkState interface {
	IsConnected() bool
}

// GatewayConfig configures the gateway device.
type GatewayConfig struct {
	Topics     Topics
	Origin     *Origin
	Version    string
	SerialPort string

	// Interval defaults to DefaultGatewayInterval. Home Assistant marks
	// the sensor unavailable after two missed intervals.
	Interval time.Duration
}

// Gateway publishes the "serial" connectivity sensor of the gateway radio.
//
// RequestDiscovery and SetConnected must run on the Scheduler goroutine.
// Start and Stop may be called from anywhere.
type Gateway struct {
	cfg       GatewayConfig
	coord     *Coordinator
	sched     Scheduler
	link      LinkState
	telemetry Telemetry
	logger    Logger

	mac         string
	lc          lifecycle
	discoverGen uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewGateway creates the gateway device.
func NewGateway(cfg GatewayConfig, coord *Coordinator, sched Scheduler, link LinkState, telemetry Telemetry, logger Logger) *Gateway {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultGatewayInterval
	}
	return &Gateway{
		cfg:       cfg,
		coord:     coord,
		sched:     sched,
		link:      link,
		telemetry: telemetry,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// MAC returns the radio MAC learned from GATEWAY_INIT, if any.
func (g *Gateway) MAC() string { return g.mac }

// RequestDiscovery re-announces the gateway after a 1 s quiet period. A
// non-empty mac is remembered and advertised as a device connection.
// The current link state is published once the announcement settles.
func (g *Gateway) RequestDiscovery(mac string) {
	if mac != "" {
		g.mac = mac
	}
	g.discoverGen++
	gen := g.discoverGen

	g.sched.After(gatewayDiscoveryDebounce, func() {
		if gen != g.discoverGen {
			return
		}
		g.coord.Discover(g, func(err error) {
			if err == nil {
				g.logDebug("gateway discovery published", "mac", g.mac)
			}
		})
		g.coord.UpdateState(g, g.connected())
	})
}

// SetConnected publishes a serial link change.
func (g *Gateway) SetConnected(connected bool) {
	g.coord.UpdateState(g, connected)
	if g.telemetry != nil {
		g.telemetry.WriteGatewayState(g.cfg.SerialPort, connected)
	}
}

// Start republishes the link state every interval until ctx is cancelled
// or Stop is called.
func (g *Gateway) Start(ctx context.Context) {
	g.wg.Add(1)
	go g.reportLoop(ctx)
}

// Stop ends the report loop. Safe to call multiple times.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
		g.wg.Wait()
	})
}

func (g *Gateway) reportLoop(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.done:
			return
		case <-ticker.C:
			g.sched.Post(func() { g.SetConnected(g.connected()) })
		}
	}
}

func (g *Gateway) connected() bool {
	return g.link != nil && g.link.IsConnected()
}

func (g *Gateway) lifecycle() *lifecycle { return &g.lc }

func (g *Gateway) base() string {
	return g.cfg.Topics.BridgePrefix + "/" + GatewayDeviceID + "/" + gatewayEntityID
}

func (g *Gateway) discoveryTopic() string {
	return g.cfg.Topics.Discovery(string(PlatformBinarySensor), GatewayDeviceID, gatewayEntityID)
}

func (g *Gateway) stateTopic() string { return g.cfg.Topics.State(g.base()) }

func (g *Gateway) discoveryConfig() DiscoveryConfig {
	dev := &DeviceInfo{
		Identifiers:     []string{GatewayDeviceID},
		Name:            "ESPNow Gateway",
		Manufacturer:    manufacturer,
		Model:           gatewayModel,
		SoftwareVersion: g.cfg.Version,
		HardwareVersion: fmt.Sprintf("%s // Protocol v%d", g.cfg.SerialPort, protocolVersion),
	}
	if g.mac != "" {
		dev.Connections = [][2]string{{"mac", g.mac}}
	}

	return DiscoveryConfig{
		Device:         dev,
		Origin:         g.cfg.Origin,
		Base:           g.base(),
		Name:           DisplayName(gatewayEntityID),
		UniqueID:       g.cfg.Topics.UniqueID(GatewayDeviceID, gatewayEntityID),
		StateTopic:     relStateTopic,
		DeviceClass:    "connectivity",
		EntityCategory: "diagnostic",
		ExpireAfter:    int(2 * g.cfg.Interval / time.Second),
		ForceUpdate:    true,
		QoS:            2,
	}
}

func (g *Gateway) logDebug(msg string, kv ...any) {
	if g.logger != nil {
		g.logger.Debug(msg, kv...)
	}
}
