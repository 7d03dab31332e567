package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the number of records buffered ahead of the worker.
const DefaultQueueSize = 256

// writeTimeout bounds a single database write.
const writeTimeout = 5 * time.Second

// DefaultPruneInterval is how often expired delivery reports are removed.
const DefaultPruneInterval = time.Hour

// Logger is the logging interface used by the recorder.
// Compatible with slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// writer is the subset of Store used by the worker.
type writer interface {
	UpsertDevice(ctx context.Context, deviceID, mac string, rssi *int, at time.Time) error
	UpsertEntity(ctx context.Context, deviceID, entityID, platform, state string, at time.Time) error
	RecordTxStatus(ctx context.Context, mac string, status uint8, at time.Time) error
	PruneTxStatus(ctx context.Context, before time.Time) (int64, error)
}

type recordKind int

const (
	kindDevice recordKind = iota
	kindEntity
	kindTxStatus
)

type record struct {
	kind     recordKind
	at       time.Time
	deviceID string
	entityID string
	platform string
	state    string
	mac      string
	rssi     *int
	status   uint8
}

// RecorderStats reports recorder throughput.
type RecorderStats struct {
	Written uint64
	Dropped uint64
	Failed  uint64
	Pruned  uint64
}

// Recorder journals mesh activity asynchronously.
//
// Thread Safety: all methods are safe for concurrent use.
type Recorder struct {
	store  writer
	logger Logger
	queue  chan record
	now    func() time.Time

	retention     time.Duration
	pruneInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	pruned  atomic.Uint64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan record, n)
		}
	}
}

// WithRetention removes delivery reports older than retention, checking
// every interval. A zero retention keeps reports forever; a zero interval
// uses DefaultPruneInterval.
func WithRetention(retention, interval time.Duration) RecorderOption {
	return func(r *Recorder) {
		r.retention = retention
		if interval > 0 {
			r.pruneInterval = interval
		}
	}
}

// WithLogger sets the recorder logger.
func WithLogger(l Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a Recorder writing to store. Call Start before use.
func NewRecorder(store *Store, opts ...RecorderOption) *Recorder {
	return newRecorder(store, opts...)
}

func newRecorder(store writer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		queue:  make(chan record, DefaultQueueSize),
		now:    time.Now,
		stopCh: make(chan struct{}),

		pruneInterval: DefaultPruneInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the worker goroutine, plus the pruning loop when a
// retention is set. The worker returns when ctx is cancelled or Stop is
// called, after draining whatever is already queued.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)

	if r.retention > 0 {
		r.wg.Add(1)
		go r.pruneLoop(ctx)
	}
}

// Stop signals the worker to drain and exit, then waits for it.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Stats returns a snapshot of the recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
		Pruned:  r.pruned.Load(),
	}
}

// DeviceSeen journals a frame received from a device.
func (r *Recorder) DeviceSeen(deviceID, mac string, rssi int) {
	r.enqueue(record{kind: kindDevice, deviceID: deviceID, mac: mac, rssi: &rssi})
}

// EntitySeen journals an entity announcement or state report.
func (r *Recorder) EntitySeen(deviceID, entityID, platform, state string) {
	r.enqueue(record{kind: kindEntity, deviceID: deviceID, entityID: entityID, platform: platform, state: state})
}

// TxStatus journals a delivery report.
func (r *Recorder) TxStatus(mac string, status uint8) {
	r.enqueue(record{kind: kindTxStatus, mac: mac, status: status})
}

func (r *Recorder) enqueue(rec record) {
	rec.at = r.now()
	select {
	case <-r.stopCh:
		r.dropped.Add(1)
		return
	default:
	}
	select {
	case r.queue <- rec:
	default:
		if r.dropped.Add(1) == 1 && r.logger != nil {
			r.logger.Warn("history queue full, dropping records", "capacity", cap(r.queue))
		}
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case rec := <-r.queue:
			r.write(ctx, rec)
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx))
			return
		case <-r.stopCh:
			r.drain(ctx)
			return
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case rec := <-r.queue:
			r.write(ctx, rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec record) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var err error
	switch rec.kind {
	case kindDevice:
		err = r.store.UpsertDevice(ctx, rec.deviceID, rec.mac, rec.rssi, rec.at)
	case kindEntity:
		err = r.store.UpsertEntity(ctx, rec.deviceID, rec.entityID, rec.platform, rec.state, rec.at)
	case kindTxStatus:
		err = r.store.RecordTxStatus(ctx, rec.mac, rec.status, rec.at)
	}

	if err != nil {
		r.failed.Add(1)
		if r.logger != nil {
			r.logger.Error("history write failed", "error", err)
		}
		return
	}
	r.written.Add(1)
}

// pruneLoop deletes expired delivery reports once at start and then on
// every tick.
func (r *Recorder) pruneLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pruneInterval)
	defer ticker.Stop()

	r.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.prune(ctx)
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	cutoff := r.now().Add(-r.retention)
	n, err := r.store.PruneTxStatus(ctx, cutoff)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("pruning tx status log failed", "error", err)
		}
		return
	}
	r.pruned.Add(uint64(n)) // #nosec G115 -- RowsAffected is never negative
	if n > 0 && r.logger != nil {
		r.logger.Debug("pruned tx status log", "rows", n, "before", cutoff)
	}
}
