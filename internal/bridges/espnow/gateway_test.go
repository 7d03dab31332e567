package espnow

import (
	"context"
	"testing"
	"time"
)

const (
	gatewayConfigTopic = "homeassistant/binary_sensor/espnow_gateway_device_serial/config"
	gatewayStateTopic  = "espnow2mqtt/gateway_device/serial/state"
)

type gatewayHarness struct {
	gw        *Gateway
	mqtt      *MockMQTTClient
	serial    *MockSerial
	sched     *manualScheduler
	telemetry *mockTelemetry
}

func newGatewayHarness(interval time.Duration) *gatewayHarness {
	h := &gatewayHarness{
		mqtt:      NewMockMQTTClient(),
		serial:    NewMockSerial(),
		sched:     newManualScheduler(),
		telemetry: &mockTelemetry{},
	}
	coord := NewCoordinator(h.mqtt, h.sched, time.Second, nil)
	h.gw = NewGateway(GatewayConfig{
		Topics:     NewTopics("", ""),
		Origin:     &Origin{Name: originName, SoftwareVersion: "1.2.3"},
		Version:    "1.2.3",
		SerialPort: "/dev/ttyUSB0",
		Interval:   interval,
	}, coord, h.sched, h.serial, h.telemetry, nil)
	return h
}

func TestGateway_DiscoveryConfig(t *testing.T) {
	h := newGatewayHarness(0)
	h.gw.RequestDiscovery(testMAC)
	h.sched.Advance(time.Second)

	configs := h.mqtt.PublishedTo(gatewayConfigTopic)
	if len(configs) != 1 {
		t.Fatalf("gateway discovery published %d times, want 1", len(configs))
	}
	cfg := decodeJSON(t, configs[0].Payload)

	for k, v := range map[string]any{
		"~":       "espnow2mqtt/gateway_device/serial",
		"name":    "Serial",
		"uniq_id": "espnow_gateway_device_serial",
		"stat_t":  "~/state",
		"dev_cla": "connectivity",
		"ent_cat": "diagnostic",
		"exp_aft": float64(120),
		"frc_upd": true,
	} {
		if cfg[k] != v {
			t.Errorf("config[%q] = %v, want %v", k, cfg[k], v)
		}
	}

	dev := cfg["dev"].(map[string]any)
	if dev["hw"] != "/dev/ttyUSB0 // Protocol v1" || dev["sw"] != "1.2.3" || dev["mdl"] != gatewayModel {
		t.Errorf("dev = %v", dev)
	}
	cns := dev["cns"].([]any)
	if pair := cns[0].([]any); pair[0] != "mac" || pair[1] != testMAC {
		t.Errorf("dev.cns = %v", cns)
	}
	if h.gw.MAC() != testMAC {
		t.Errorf("MAC() = %q", h.gw.MAC())
	}

	// Current link state follows once the cooldown ends.
	h.sched.Advance(time.Second)
	if got := payloads(h.mqtt.PublishedTo(gatewayStateTopic)); len(got) != 1 || got[0] != StateOn {
		t.Errorf("state payloads = %v, want [ON]", got)
	}
}

func TestGateway_DiscoveryWithoutMAC(t *testing.T) {
	h := newGatewayHarness(0)
	h.gw.RequestDiscovery("")
	h.sched.Advance(time.Second)

	configs := h.mqtt.PublishedTo(gatewayConfigTopic)
	if len(configs) != 1 {
		t.Fatalf("gateway discovery published %d times, want 1", len(configs))
	}
	dev := decodeJSON(t, configs[0].Payload)["dev"].(map[string]any)
	if _, ok := dev["cns"]; ok {
		t.Error("dev.cns set without a known MAC")
	}
}

func TestGateway_DiscoveryDebounced(t *testing.T) {
	h := newGatewayHarness(0)

	h.gw.RequestDiscovery("")
	h.sched.Advance(600 * time.Millisecond)
	h.gw.RequestDiscovery(testMAC)
	h.sched.Advance(600 * time.Millisecond)

	if n := len(h.mqtt.PublishedTo(gatewayConfigTopic)); n != 0 {
		t.Fatalf("discovery published %d times before quiet period", n)
	}

	h.sched.Advance(400 * time.Millisecond)
	if n := len(h.mqtt.PublishedTo(gatewayConfigTopic)); n != 1 {
		t.Errorf("discovery published %d times, want 1", n)
	}
}

func TestGateway_SetConnected(t *testing.T) {
	h := newGatewayHarness(0)

	h.gw.SetConnected(false)
	h.sched.Flush()
	h.gw.SetConnected(true)
	h.sched.Flush()

	if got := payloads(h.mqtt.PublishedTo(gatewayStateTopic)); len(got) != 2 || got[0] != StateOff || got[1] != StateOn {
		t.Errorf("state payloads = %v, want [OFF ON]", got)
	}
	if len(h.telemetry.gateway) != 2 {
		t.Errorf("telemetry writes = %v", h.telemetry.gateway)
	}
}

func TestGateway_ReportLoop(t *testing.T) {
	h := newGatewayHarness(10 * time.Millisecond)
	h.serial.SetConnected(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.gw.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for len(h.mqtt.PublishedTo(gatewayStateTopic)) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("report loop did not publish")
		}
		time.Sleep(5 * time.Millisecond)
		h.sched.Flush()
	}

	h.gw.Stop()
	h.gw.Stop()

	for _, p := range h.mqtt.PublishedTo(gatewayStateTopic) {
		if string(p.Payload) != StateOff {
			t.Errorf("reported %s, want OFF", p.Payload)
		}
	}
}

func TestGateway_ReportLoopStopsOnCancel(t *testing.T) {
	h := newGatewayHarness(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	h.gw.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		h.gw.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("report loop ignored cancellation")
	}
	h.gw.Stop()
}
