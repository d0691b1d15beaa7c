package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultQueueSize    = 1024
	DefaultWriteTimeout = 2 * time.Second
)

// Observer receives recorder health signals. *observability.Metrics
// satisfies it.
type Observer interface {
	AuditDropped()
	AuditWriteFailed(sink string)
}

type Options struct {
	QueueSize    int
	WriteTimeout time.Duration
	Logger       *logrus.Logger
	Observer     Observer
	// Now stamps events that arrive without timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Recorder is the asynchronous audit log. Record never blocks and never
// fails; when the queue is full the oldest pending event is discarded.
type Recorder struct {
	sink Sink
	opt  Options
	log  *logrus.Entry

	mu      sync.Mutex
	ring    []Event
	head    int
	size    int
	closed  bool
	started bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	abandon  atomic.Bool
	dropped  atomic.Uint64
}

func NewRecorder(sink Sink, opt Options) *Recorder {
	if opt.QueueSize <= 0 {
		opt.QueueSize = DefaultQueueSize
	}
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = DefaultWriteTimeout
	}
	if opt.Logger == nil {
		opt.Logger = logrus.StandardLogger()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Recorder{
		sink: sink,
		opt:  opt,
		log:  opt.Logger.WithField("component", "audit"),
		ring: make([]Event, opt.QueueSize),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Record enqueues ev, filling in the id, type, card hash and timestamps
// when the caller left them empty.
func (r *Recorder) Record(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.EventType == "" {
		ev.EventType = EventAccessAttempt
	}
	if ev.CardIDHash == nil {
		ev.CardIDHash = HashCardID(ev.CardID)
	}
	now := r.opt.Now().UTC()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = now
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.drop(ev, "recorder closed")
		return
	}
	var evicted *Event
	if r.size == len(r.ring) {
		old := r.ring[r.head]
		evicted = &old
		r.head = (r.head + 1) % len(r.ring)
		r.size--
	}
	r.ring[(r.head+r.size)%len(r.ring)] = ev
	r.size++
	r.mu.Unlock()

	if evicted != nil {
		r.drop(*evicted, "queue full")
	}

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many events are queued.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Dropped reports how many events were discarded since construction.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Start launches the drain goroutine. It stops when ctx is cancelled or
// Close is called, flushing what is left either way.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.run(ctx)
}

// Close stops accepting events and waits, up to ctx, for the queue to
// drain. Events still queued when ctx expires are abandoned.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	first := !r.closed
	r.closed = true
	started := r.started
	r.mu.Unlock()

	if !started {
		if first {
			r.flush(ctx)
		}
		return ctx.Err()
	}

	r.stopOnce.Do(func() { close(r.stop) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		r.abandon.Store(true)
		<-r.done
		return ctx.Err()
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-r.wake:
			r.flush(ctx)
		case <-r.stop:
			r.flush(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
			r.flush(context.WithoutCancel(ctx))
			return
		}
	}
}

// flush writes queued events one at a time until the queue is empty.
func (r *Recorder) flush(ctx context.Context) {
	for {
		r.mu.Lock()
		if r.size == 0 {
			r.mu.Unlock()
			return
		}
		ev := r.ring[r.head]
		r.ring[r.head] = Event{}
		r.head = (r.head + 1) % len(r.ring)
		r.size--
		r.mu.Unlock()

		if r.abandon.Load() {
			r.drop(ev, "shutdown deadline")
			continue
		}
		r.write(ctx, ev)
	}
}

func (r *Recorder) write(ctx context.Context, ev Event) {
	if r.sink == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, r.opt.WriteTimeout)
	defer cancel()

	err := r.sink.Write(wctx, ev)
	if err == nil {
		return
	}
	for _, name := range failedSinks(err) {
		if r.opt.Observer != nil {
			r.opt.Observer.AuditWriteFailed(name)
		}
	}
	r.log.WithFields(logrus.Fields{
		"event_id":  ev.ID,
		"module_id": ev.ModuleID,
		"door":      ev.DoorName,
		"reason":    ev.Reason,
	}).WithError(err).Warn("audit write failed")
}

func (r *Recorder) drop(ev Event, why string) {
	r.dropped.Add(1)
	if r.opt.Observer != nil {
		r.opt.Observer.AuditDropped()
	}
	r.log.WithFields(logrus.Fields{
		"event_id":  ev.ID,
		"module_id": ev.ModuleID,
		"cause":     why,
	}).Warn("audit event dropped")
}

// SinkError tags a failure with the sink that produced it.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return "audit sink " + e.Sink + ": " + e.Err.Error() }
func (e *SinkError) Unwrap() error { return e.Err }

// Named wraps s so its failures carry name.
func Named(name string, s Sink) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) error {
		if err := s.Write(ctx, ev); err != nil {
			return &SinkError{Sink: name, Err: err}
		}
		return nil
	})
}

// failedSinks lists the sink names found in err, walking joined errors.
func failedSinks(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		var se *SinkError
		if j, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range j.Unwrap() {
				walk(inner)
			}
			return
		}
		if errors.As(e, &se) {
			out = append(out, se.Sink)
			return
		}
		out = append(out, "default")
	}
	walk(err)
	return out
}
