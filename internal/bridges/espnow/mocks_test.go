package espnow

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tanishqmanuja/espnow2mqtt/internal/frame"
)

// =============================================================================
// MQTT
// =============================================================================

// MockMQTTClient implements MQTTClient for testing. Publishes are acked
// immediately unless the topic has a configured error.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]func(topic string, payload []byte)
	connected bool
	failures  map[string]error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
		failures:  make(map[string]error),
	}
}

func (m *MockMQTTClient) PublishAsync(topic string, payload []byte, qos byte, retained bool) <-chan error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	ch := make(chan error, 1)
	ch <- m.failures[topic]
	return ch
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// FailTopic makes every publish to topic fail with err.
func (m *MockMQTTClient) FailTopic(topic string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[topic] = err
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns the payloads published to topic, in order.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers a message to the handler subscribed with pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
	return ok
}

// =============================================================================
// Serial
// =============================================================================

// MockSerial implements Transport for testing.
type MockSerial struct {
	mu        sync.Mutex
	sent      [][]byte
	connected bool
	sendErr   error
}

func NewMockSerial() *MockSerial {
	return &MockSerial{connected: true}
}

func (m *MockSerial) Send(frameBytes []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, frameBytes)
	return nil
}

func (m *MockSerial) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockSerial) SetConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

type sentFrame struct {
	MAC     string
	Payload []byte
}

// Sent decodes every ESPNOW_TX frame written so far.
func (m *MockSerial) Sent(t *testing.T) []sentFrame {
	t.Helper()
	m.mu.Lock()
	raw := append([][]byte(nil), m.sent...)
	m.mu.Unlock()

	out := make([]sentFrame, 0, len(raw))
	for _, b := range raw {
		out = append(out, decodeTx(t, b))
	}
	return out
}

func (m *MockSerial) Clear() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

// decodeTx unpacks an ESPNOW_TX frame and checks its checksum.
func decodeTx(t *testing.T, b []byte) sentFrame {
	t.Helper()
	const head = frame.HeaderSize + frame.MACSize + 1
	if len(b) < head+frame.CRCSize || b[0] != frame.Sync || frame.Type(b[2]) != frame.TypeEspNowTx {
		t.Fatalf("not an ESPNOW_TX frame: % X", b)
	}
	n := int(b[head-1])
	if len(b) != head+n+frame.CRCSize {
		t.Fatalf("frame length %d, want %d", len(b), head+n+frame.CRCSize)
	}
	if got, want := b[len(b)-1], frame.CRC8(b[1:len(b)-1]); got != want {
		t.Fatalf("frame CRC 0x%02X, want 0x%02X", got, want)
	}
	return sentFrame{
		MAC:     frame.FormatMAC(b[frame.HeaderSize : frame.HeaderSize+frame.MACSize]),
		Payload: b[head : head+n],
	}
}

// =============================================================================
// Scheduler
// =============================================================================

// manualScheduler is a Scheduler driven by a virtual clock. Nothing runs
// until the test calls Flush or Advance.
type manualScheduler struct {
	mu     sync.Mutex
	posted []func()

	now    time.Duration
	seq    int
	timers []manualTimer
	awaits []manualAwait
}

type manualTimer struct {
	at  time.Duration
	seq int
	fn  func()
}

type manualAwait struct {
	ch <-chan error
	fn func(error)
}

func newManualScheduler() *manualScheduler { return &manualScheduler{} }

func (s *manualScheduler) Post(fn func()) {
	s.mu.Lock()
	s.posted = append(s.posted, fn)
	s.mu.Unlock()
}

func (s *manualScheduler) After(d time.Duration, fn func()) {
	s.seq++
	s.timers = append(s.timers, manualTimer{at: s.now + d, seq: s.seq, fn: fn})
}

func (s *manualScheduler) Await(ch <-chan error, fn func(error)) {
	s.awaits = append(s.awaits, manualAwait{ch: ch, fn: fn})
}

func (s *manualScheduler) takePosted() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.posted
	s.posted = nil
	return q
}

// Flush runs posted work and completed awaits until nothing is runnable.
func (s *manualScheduler) Flush() {
	for {
		progressed := false

		for _, fn := range s.takePosted() {
			fn()
			progressed = true
		}

		awaits := s.awaits
		s.awaits = nil
		for _, a := range awaits {
			select {
			case err := <-a.ch:
				a.fn(err)
				progressed = true
			default:
				s.awaits = append(s.awaits, a)
			}
		}

		if !progressed {
			return
		}
	}
}

// Advance moves the clock forward by d, firing due timers in order.
func (s *manualScheduler) Advance(d time.Duration) {
	target := s.now + d
	s.Flush()
	for {
		idx := -1
		for i, tm := range s.timers {
			if tm.at > target {
				continue
			}
			if idx < 0 || tm.at < s.timers[idx].at || (tm.at == s.timers[idx].at && tm.seq < s.timers[idx].seq) {
				idx = i
			}
		}
		if idx < 0 {
			break
		}
		tm := s.timers[idx]
		s.timers = append(s.timers[:idx], s.timers[idx+1:]...)
		s.now = tm.at
		tm.fn()
		s.Flush()
	}
	s.now = target
}

// =============================================================================
// Telemetry and history
// =============================================================================

type mockTelemetry struct {
	mu       sync.Mutex
	rssi     []string
	txStatus []uint8
	gateway  []bool
}

func (m *mockTelemetry) WriteRSSI(deviceID, mac string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rssi = append(m.rssi, deviceID+"@"+mac)
}

func (m *mockTelemetry) WriteTxStatus(_ string, status uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txStatus = append(m.txStatus, status)
}

func (m *mockTelemetry) WriteGatewayState(_ string, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateway = append(m.gateway, connected)
}

type mockHistory struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockHistory) add(s string) {
	m.mu.Lock()
	m.calls = append(m.calls, s)
	m.mu.Unlock()
}

func (m *mockHistory) DeviceSeen(deviceID, _ string, _ int) { m.add("device:" + deviceID) }

func (m *mockHistory) EntitySeen(deviceID, entityID, _, state string) {
	m.add("entity:" + deviceID + "/" + entityID + "=" + state)
}

func (m *mockHistory) TxStatus(mac string, _ uint8) { m.add("tx:" + mac) }

func (m *mockHistory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// =============================================================================
// Harness
// =============================================================================

const (
	testMAC     = "aa:bb:cc:dd:ee:ff"
	testCompact = "aabbccddeeff"
)

var errBroker = errors.New("broker unavailable")

type harness struct {
	bridge    *Bridge
	mqtt      *MockMQTTClient
	serial    *MockSerial
	sched     *manualScheduler
	telemetry *mockTelemetry
	history   *mockHistory
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	h := &harness{
		mqtt:      NewMockMQTTClient(),
		serial:    NewMockSerial(),
		sched:     newManualScheduler(),
		telemetry: &mockTelemetry{},
		history:   &mockHistory{},
	}

	cfg := Config{
		Version:        "1.2.3",
		SerialPort:     "/dev/ttyUSB0",
		WizmoteTopic:   DefaultWizmoteTopic,
		MaxPendingJobs: DefaultMaxPendingJobs,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	b, err := NewBridge(BridgeOptions{
		Config:     cfg,
		MQTTClient: h.mqtt,
		Transport:  h.serial,
		Scheduler:  h.sched,
		Telemetry:  h.telemetry,
		History:    h.history,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	h.bridge = b
	return h
}

// rx delivers an ESPNOW_RX packet and runs the resulting work.
func (h *harness) rx(mac string, rssi int8, payload string) {
	h.bridge.HandlePacket(&frame.EspNowRx{MAC: mac, RSSI: rssi, Payload: json.RawMessage(payload)})
	h.sched.Flush()
}

// command delivers an MQTT message on an entity command topic.
func (h *harness) command(t *testing.T, topic, payload string) {
	t.Helper()
	if !h.mqtt.SimulateMessage(h.bridge.Topics().CommandSubscription(), topic, []byte(payload)) {
		t.Fatal("command topic not subscribed; call Start first")
	}
	h.sched.Flush()
}

func decodeJSON(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("invalid JSON %s: %v", b, err)
	}
	return m
}
