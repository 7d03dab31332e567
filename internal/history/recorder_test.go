package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeWriter records calls made by the recorder worker.
type fakeWriter struct {
	mu      sync.Mutex
	calls   []string
	fail    bool
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeWriter) add(call string) error {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.fail {
		return errors.New("disk full")
	}
	return nil
}

func (f *fakeWriter) UpsertDevice(_ context.Context, deviceID, _ string, _ *int, _ time.Time) error {
	return f.add("device:" + deviceID)
}

func (f *fakeWriter) UpsertEntity(_ context.Context, deviceID, entityID, _, _ string, _ time.Time) error {
	return f.add("entity:" + deviceID + "/" + entityID)
}

func (f *fakeWriter) RecordTxStatus(_ context.Context, mac string, _ uint8, _ time.Time) error {
	return f.add("tx:" + mac)
}

func (f *fakeWriter) PruneTxStatus(_ context.Context, before time.Time) (int64, error) {
	if err := f.add("prune:" + before.UTC().Format(time.RFC3339)); err != nil {
		return 0, err
	}
	return 2, nil
}

// waitForCalls polls until the writer has seen at least n calls.
func (f *fakeWriter) waitForCalls(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("writer saw %v, want at least %d calls", f.snapshot(), n)
	return nil
}

func (f *fakeWriter) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func TestRecorder_WritesInOrderAndDrainsOnStop(t *testing.T) {
	w := &fakeWriter{}
	r := newRecorder(w, WithLogger(nopLogger{}))
	r.Start(context.Background())

	r.DeviceSeen("kitchen", "aa:bb:cc:dd:ee:ff", -40)
	r.EntitySeen("kitchen", "lamp", "light", "ON")
	r.TxStatus("aa:bb:cc:dd:ee:ff", 0)
	r.Stop()

	want := []string{"device:kitchen", "entity:kitchen/lamp", "tx:aa:bb:cc:dd:ee:ff"}
	got := w.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
	if s := r.Stats(); s.Written != 3 || s.Dropped != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	r := newRecorder(w, WithQueueSize(1), WithLogger(nopLogger{}))
	r.Start(context.Background())

	// First record occupies the worker.
	r.DeviceSeen("a", "m", 0)
	<-w.entered

	r.DeviceSeen("b", "m", 0) // queued
	r.DeviceSeen("c", "m", 0) // dropped

	close(w.block)
	r.Stop()

	if s := r.Stats(); s.Dropped != 1 || s.Written != 2 {
		t.Errorf("Stats() = %+v, want 2 written / 1 dropped", s)
	}
}

func TestRecorder_CountsFailures(t *testing.T) {
	w := &fakeWriter{fail: true}
	r := newRecorder(w, WithLogger(nopLogger{}))
	r.Start(context.Background())
	r.TxStatus("m", 1)
	r.Stop()

	if s := r.Stats(); s.Failed != 1 || s.Written != 0 {
		t.Errorf("Stats() = %+v, want 1 failed", s)
	}
}

func TestRecorder_AfterStopDrops(t *testing.T) {
	w := &fakeWriter{}
	r := newRecorder(w)
	r.Start(context.Background())
	r.Stop()
	r.Stop() // idempotent

	r.DeviceSeen("late", "m", 0)
	if s := r.Stats(); s.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", s.Dropped)
	}
}

func TestRecorder_ContextCancelStopsWorker(t *testing.T) {
	w := &fakeWriter{}
	r := newRecorder(w)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	r.EntitySeen("d", "e", "switch", "")
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after cancel")
	}
	if got := w.snapshot(); len(got) != 1 {
		t.Errorf("calls = %v, want the queued entity written", got)
	}
}

func TestRecorder_DetachedContextKeepsLateRecords(t *testing.T) {
	w := &fakeWriter{}
	r := newRecorder(w)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(context.WithoutCancel(ctx))

	// Shutdown order in main: the signal cancels ctx, the event loop drains
	// and records one more sighting, then Stop flushes the queue.
	cancel()
	r.DeviceSeen("late", "m", -70)
	r.Stop()

	got := w.snapshot()
	if len(got) != 1 || got[0] != "device:late" {
		t.Errorf("calls = %v, want the late sighting written", got)
	}
	if s := r.Stats(); s.Written != 1 || s.Dropped != 0 {
		t.Errorf("Stats() = %+v, want 1 written", s)
	}
}

// ============================================================================
// Retention
// ============================================================================

func TestRecorder_PrunesExpiredTxStatus(t *testing.T) {
	w := &fakeWriter{}
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	r := newRecorder(w, WithLogger(nopLogger{}), WithRetention(24*time.Hour, 10*time.Millisecond))
	r.now = func() time.Time { return now }

	r.Start(context.Background())
	got := w.waitForCalls(t, 2)
	r.Stop()

	want := "prune:2026-10-16T12:00:00Z"
	for i, call := range got[:2] {
		if call != want {
			t.Errorf("call %d = %q, want %q", i, call, want)
		}
	}
	if s := r.Stats(); s.Pruned < 4 {
		t.Errorf("Pruned = %d, want at least 4", s.Pruned)
	}
}

func TestRecorder_NoRetentionKeepsReports(t *testing.T) {
	w := &fakeWriter{}
	r := newRecorder(w, WithRetention(0, 10*time.Millisecond))
	r.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	r.TxStatus("m", 0)
	r.Stop()

	got := w.snapshot()
	if len(got) != 1 || got[0] != "tx:m" {
		t.Errorf("calls = %v, want only the tx report", got)
	}
}

func TestRecorder_PruneFailureIsLogged(t *testing.T) {
	w := &fakeWriter{fail: true}
	log := &countingLogger{}
	r := newRecorder(w, WithLogger(log), WithRetention(time.Hour, time.Hour))

	r.Start(context.Background())
	w.waitForCalls(t, 1)
	r.Stop()

	if s := r.Stats(); s.Pruned != 0 {
		t.Errorf("Pruned = %d, want 0", s.Pruned)
	}
	if log.errors.Load() != 1 {
		t.Errorf("errors logged = %d, want 1", log.errors.Load())
	}
}

type countingLogger struct {
	nopLogger
	errors atomic.Int32
}

func (l *countingLogger) Error(string, ...any) { l.errors.Add(1) }
