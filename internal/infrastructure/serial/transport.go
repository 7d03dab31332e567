package serial

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanishqmanuja/espnow2mqtt/internal/frame"
)

// Defaults for Config fields left at zero.
const (
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultWriteQueue        = 64
	defaultReadTimeout       = 500 * time.Millisecond

	readBufferSize = 512

	// Reset pulse timing for ESP32 dev boards (RTS drives EN).
	resetHold   = 100 * time.Millisecond
	resetSettle = 200 * time.Millisecond
)

// Config describes the serial link.
type Config struct {
	Port           string
	BaudRate       int
	ResetOnConnect bool

	// ReconnectDelay is the first retry delay; it grows 1.5x per failed
	// attempt up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	WriteQueue  int
	ReadTimeout time.Duration
}

// Stats holds transport counters.
type Stats struct {
	BytesRx      uint64
	PacketsRx    uint64
	FramesTx     uint64
	DecodeErrors uint64
	WriteErrors  uint64
	Reconnects   uint64
	Connected    bool
}

// Logger interface for optional logging.
// Compatible with slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close()                { c.once.Do(func() { close(c.ch) }) }
func (c *closeOnce) Done() <-chan struct{} { return c.ch }

// Transport maintains the connection to the gateway radio.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Transport struct {
	cfg    Config
	open   Opener
	logger Logger

	decoder *frame.Decoder // only touched by the session goroutine

	portMu    sync.Mutex
	port      Port
	connected atomic.Bool

	queue chan []byte

	onPacket     func(frame.Packet)
	onConnect    func()
	onDisconnect func(error)
	callbackMu   sync.RWMutex

	done *closeOnce
	wg   sync.WaitGroup

	bytesRx      atomic.Uint64
	packetsRx    atomic.Uint64
	framesTx     atomic.Uint64
	decodeErrors atomic.Uint64
	writeErrors  atomic.Uint64
	reconnects   atomic.Uint64
}

// Option configures a Transport.
type Option func(*Transport)

// WithOpener replaces OpenPort.
func WithOpener(o Opener) Option {
	return func(t *Transport) { t.open = o }
}

// WithLogger sets the transport logger.
func WithLogger(l Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New validates cfg, applies defaults and returns an idle Transport.
func New(cfg Config, opts ...Option) (*Transport, error) {
	if cfg.Port == "" {
		return nil, ErrNoPort
	}
	if cfg.BaudRate <= 0 {
		return nil, fmt.Errorf("serial: invalid baud rate %d", cfg.BaudRate)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = max(defaultMaxReconnectDelay, cfg.ReconnectDelay)
	}
	if cfg.WriteQueue <= 0 {
		cfg.WriteQueue = defaultWriteQueue
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	t := &Transport{
		cfg:     cfg,
		open:    OpenPort,
		decoder: frame.NewDecoder(),
		queue:   make(chan []byte, cfg.WriteQueue),
		done:    newCloseOnce(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// PortName returns the configured device path.
func (t *Transport) PortName() string { return t.cfg.Port }

// SetOnPacket sets the callback for decoded frames.
func (t *Transport) SetOnPacket(fn func(frame.Packet)) {
	t.callbackMu.Lock()
	t.onPacket = fn
	t.callbackMu.Unlock()
}

// SetOnConnect sets the callback invoked each time the port is opened.
func (t *Transport) SetOnConnect(fn func()) {
	t.callbackMu.Lock()
	t.onConnect = fn
	t.callbackMu.Unlock()
}

// SetOnDisconnect sets the callback invoked when an open port fails.
func (t *Transport) SetOnDisconnect(fn func(error)) {
	t.callbackMu.Lock()
	t.onDisconnect = fn
	t.callbackMu.Unlock()
}

// Start launches the connection loop. It returns immediately; the port is
// opened (and reopened) in the background until ctx is cancelled or Close
// is called.
func (t *Transport) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.connectLoop(ctx)
}

// Close stops the connection loop and closes the port. Safe to call
// multiple times.
func (t *Transport) Close() error {
	t.done.Close()
	t.closePort()
	t.wg.Wait()
	return nil
}

// IsConnected reports whether the port is currently open.
func (t *Transport) IsConnected() bool {
	return t.connected.Load()
}

// Send queues an encoded frame for the writer goroutine.
func (t *Transport) Send(frameBytes []byte) error {
	if t.isClosed() {
		return ErrClosed
	}
	if !t.connected.Load() {
		return ErrNotConnected
	}
	select {
	case t.queue <- frameBytes:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		BytesRx:      t.bytesRx.Load(),
		PacketsRx:    t.packetsRx.Load(),
		FramesTx:     t.framesTx.Load(),
		DecodeErrors: t.decodeErrors.Load(),
		WriteErrors:  t.writeErrors.Load(),
		Reconnects:   t.reconnects.Load(),
		Connected:    t.connected.Load(),
	}
}

// connectLoop opens the port, runs a session until it fails and retries.
func (t *Transport) connectLoop(ctx context.Context) {
	defer t.wg.Done()

	backoff := t.cfg.ReconnectDelay
	sessions := 0

	for {
		if t.isClosed() || ctx.Err() != nil {
			return
		}

		port, err := t.open(t.cfg.Port, t.cfg.BaudRate)
		if err != nil {
			t.logWarn("serial open failed", "port", t.cfg.Port, "error", err, "retry_in", backoff.String())
			if !t.wait(ctx, backoff) {
				return
			}
			backoff = min(time.Duration(float64(backoff)*1.5), t.cfg.MaxReconnectDelay)
			continue
		}

		backoff = t.cfg.ReconnectDelay
		if sessions > 0 {
			t.reconnects.Add(1)
		}
		sessions++

		err = t.runSession(ctx, port)
		if t.isClosed() || ctx.Err() != nil {
			return
		}
		t.logWarn("serial link lost", "port", t.cfg.Port, "error", err, "retry_in", backoff.String())
		if !t.wait(ctx, backoff) {
			return
		}
	}
}

// runSession owns one open port until it fails. It returns the cause.
func (t *Transport) runSession(ctx context.Context, port Port) error {
	if err := t.preparePort(ctx, port); err != nil {
		port.Close()
		return err
	}

	t.portMu.Lock()
	t.port = port
	t.portMu.Unlock()

	t.decoder.Reset()
	t.drainQueue()
	t.connected.Store(true)
	t.logInfo("serial port opened", "port", t.cfg.Port, "baud", t.cfg.BaudRate)
	t.fireConnect()

	sessionDone := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		t.writeLoop(port, sessionDone)
	}()

	err := t.readLoop(ctx, port)

	close(sessionDone)
	t.connected.Store(false)
	t.closePort()
	<-writerDone

	if !t.isClosed() {
		t.fireDisconnect(err)
	}
	return err
}

// preparePort configures the read timeout and performs the optional reset pulse.
func (t *Transport) preparePort(ctx context.Context, port Port) error {
	if err := port.SetReadTimeout(t.cfg.ReadTimeout); err != nil {
		return fmt.Errorf("setting read timeout: %w", err)
	}

	if t.cfg.ResetOnConnect {
		if err := port.SetDTR(false); err != nil {
			return fmt.Errorf("reset pulse: %w", err)
		}
		if err := port.SetRTS(true); err != nil {
			return fmt.Errorf("reset pulse: %w", err)
		}
		if !t.wait(ctx, resetHold) {
			return ErrClosed
		}
		if err := port.SetRTS(false); err != nil {
			return fmt.Errorf("reset pulse: %w", err)
		}
		if !t.wait(ctx, resetSettle) {
			return ErrClosed
		}
		t.logDebug("gateway reset pulse sent", "port", t.cfg.Port)
	}

	if err := port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("flushing input: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context, port Port) error {
	buf := make([]byte, readBufferSize)

	for {
		if t.isClosed() {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := port.Read(buf)
		if n > 0 {
			t.bytesRx.Add(uint64(n)) //nolint:gosec // n >= 0
			t.handleBytes(buf[:n])
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", t.cfg.Port, err)
		}
		// n == 0 && err == nil is a read timeout.
	}
}

func (t *Transport) handleBytes(chunk []byte) {
	packets, err := t.decoder.Feed(chunk)
	if err != nil {
		t.decodeErrors.Add(1)
		t.logWarn("dropping undecodable frame", "error", err)
	}
	if len(packets) == 0 {
		return
	}

	t.callbackMu.RLock()
	cb := t.onPacket
	t.callbackMu.RUnlock()

	for _, p := range packets {
		t.packetsRx.Add(1)
		if cb != nil {
			t.safeCall("packet", func() { cb(p) })
		}
	}
}

func (t *Transport) writeLoop(port Port, sessionDone <-chan struct{}) {
	for {
		select {
		case <-sessionDone:
			return
		case b := <-t.queue:
			if _, err := port.Write(b); err != nil {
				t.writeErrors.Add(1)
				t.logError("serial write failed", "error", err)
				// Closing the port fails the pending Read and ends the session.
				t.closePort()
				return
			}
			t.framesTx.Add(1)
		}
	}
}

func (t *Transport) closePort() {
	t.portMu.Lock()
	defer t.portMu.Unlock()
	if t.port != nil {
		t.port.Close()
		t.port = nil
	}
}

func (t *Transport) drainQueue() {
	for {
		select {
		case <-t.queue:
		default:
			return
		}
	}
}

func (t *Transport) fireConnect() {
	t.callbackMu.RLock()
	cb := t.onConnect
	t.callbackMu.RUnlock()
	if cb != nil {
		t.safeCall("connect", cb)
	}
}

func (t *Transport) fireDisconnect(err error) {
	t.callbackMu.RLock()
	cb := t.onDisconnect
	t.callbackMu.RUnlock()
	if cb != nil {
		t.safeCall("disconnect", func() { cb(err) })
	}
}

func (t *Transport) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logError("serial callback panic", "callback", name, "panic", r)
		}
	}()
	fn()
}

// wait sleeps for d. It returns false if the transport was closed or ctx
// cancelled first.
func (t *Transport) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.done.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done.Done():
		return true
	default:
		return false
	}
}

func (t *Transport) logDebug(msg string, kv ...any) {
	if t.logger != nil {
		t.logger.Debug(msg, kv...)
	}
}

func (t *Transport) logInfo(msg string, kv ...any) {
	if t.logger != nil {
		t.logger.Info(msg, kv...)
	}
}

func (t *Transport) logWarn(msg string, kv ...any) {
	if t.logger != nil {
		t.logger.Warn(msg, kv...)
	}
}

func (t *Transport) logError(msg string, kv ...any) {
	if t.logger != nil {
		t.logger.Error(msg, kv...)
	}
}
