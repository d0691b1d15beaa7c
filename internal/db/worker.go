package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrWorkerClosed is returned by Do after Close.
var ErrWorkerClosed = errors.New("db: writer closed")

type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker serializes every write transaction through one goroutine so sqlite
// never sees two writers.
type Worker struct {
	db   *sql.DB
	jobs chan job
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close stops accepting jobs, finishes the queued ones and waits for the
// loop to exit. It is safe to call more than once.
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
}

// Do runs fn in a transaction on the writer goroutine. fn's error rolls the
// transaction back; otherwise it commits.
func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWorkerClosed
	}
	// Enqueue, giving up if the caller's context expires while the buffer is full.
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	// The loop still finishes a job whose caller gave up; the result lands in
	// the buffered ch and is dropped.
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		if err := j.ctx.Err(); err != nil {
			j.ch <- err
			continue
		}

		tx, err := w.db.BeginTx(j.ctx, nil)
		if err != nil {
			j.ch <- err
			continue
		}

		if err := j.fn(j.ctx, tx); err != nil {
			_ = tx.Rollback()
			j.ch <- err
			continue
		}

		j.ch <- tx.Commit()
	}
}
