package examsession

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/store"
)

const (
	writeQueueSize = 256
	writeTimeout   = 10 * time.Second
)

// writeJob is one persistence call of the answer/mark/navigation path.
type writeJob struct {
	name string
	run  func(ctx context.Context) error
}

// writer runs persistence jobs one at a time in submission order, so two
// writes to the same row always land in the order they were made.
type writer struct {
	jobs    chan writeJob
	backoff time.Duration
	onError func(name string, err error)
	done    chan struct{}
	pending sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newWriter(backoff time.Duration, onError func(string, error)) *writer {
	w := &writer{
		jobs:    make(chan writeJob, writeQueueSize),
		backoff: backoff,
		onError: onError,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// enqueue reports false once the writer is closed.
func (w *writer) enqueue(name string, run func(ctx context.Context) error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.pending.Add(1)
	w.jobs <- writeJob{name: name, run: run}
	return true
}

// wait blocks until every queued job has finished.
func (w *writer) wait() { w.pending.Wait() }

// close stops accepting jobs. Queued jobs still run.
func (w *writer) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
}

func (w *writer) loop() {
	defer close(w.done)
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := retryOnce(ctx, w.backoff, job.run)
		cancel()
		if err != nil && w.onError != nil {
			w.onError(job.name, err)
		}
		w.pending.Done()
	}
}

// retryOnce runs fn and, on a transient failure, once more after backoff.
func retryOnce(ctx context.Context, backoff time.Duration, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil || !retryable(err) {
		return err
	}
	t := time.NewTimer(backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-t.C:
	}
	return fn(ctx)
}

func retryable(err error) bool {
	return !errors.Is(err, store.ErrSessionClosed) &&
		!errors.Is(err, store.ErrNotFound) &&
		!errors.Is(err, context.Canceled)
}
