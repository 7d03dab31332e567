package espnow

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs callbacks on the goroutine that owns the registry and
// the discovery state. Every callback passed to a Scheduler runs on that
// goroutine, one at a time.
type Scheduler interface {
	// Post queues fn.
	Post(fn func())

	// After queues fn once d has elapsed.
	After(d time.Duration, fn func())

	// Await queues fn with the first value received from ch.
	Await(ch <-chan error, fn func(error))
}

// Loop is the production Scheduler: a single dispatcher goroutine fed by
// an unbounded queue, so callbacks may post more work without blocking.
//
// Thread Safety: Post, After and Await are safe for concurrent use.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}

	logger Logger
}

// NewLoop creates a Loop. Call Run to start dispatching.
func NewLoop(logger Logger) *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run dispatches queued callbacks until ctx is cancelled. Work queued
// before cancellation is still run. Run returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()

	for {
		for _, fn := range l.take() {
			l.safeRun(fn)
		}

		select {
		case <-ctx.Done():
			for _, fn := range l.take() {
				l.safeRun(fn)
			}
			return nil
		case <-l.wake:
		}
	}
}

// Post implements Scheduler. Calls after Run has returned are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// After implements Scheduler.
func (l *Loop) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Post(fn) })
}

// Await implements Scheduler. If the loop stops first, fn is never run.
func (l *Loop) Await(ch <-chan error, fn func(error)) {
	go func() {
		select {
		case err := <-ch:
			l.Post(func() { fn(err) })
		case <-l.done:
		}
	}()
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.queue
	l.queue = nil
	return q
}

func (l *Loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		l.stopped = true
		l.queue = nil
		close(l.done)
	}
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil && l.logger != nil {
			l.logger.Error("panic in bridge loop", "panic", r)
		}
	}()
	fn()
}
