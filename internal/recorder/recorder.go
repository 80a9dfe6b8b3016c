// Package recorder moves decision-loop events off the hot path. The loop
// emits without blocking; one goroutine fans each event out to the sinks.
package recorder

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// Sink consumes events. Errors are logged and never stop the recorder.
type Sink interface {
	Name() string
	Record(ctx context.Context, ev domain.Event) error
}

// Recorder buffers events and delivers them to every sink in order.
type Recorder struct {
	events  chan domain.Event
	sinks   []Sink
	timeout time.Duration
	dropped atomic.Uint64
	logger  *slog.Logger
}

// New creates a recorder with a buffer of the given size.
func New(buffer int, logger *slog.Logger, sinks ...Sink) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Recorder{
		events:  make(chan domain.Event, buffer),
		sinks:   sinks,
		timeout: 5 * time.Second,
		logger:  logger.With(slog.String("component", "recorder")),
	}
}

// Emit queues ev. It never blocks; when the buffer is full the event is
// dropped and counted.
func (r *Recorder) Emit(ev domain.Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case r.events <- ev:
		return true
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("event buffer full, dropping", slog.String("kind", string(ev.Kind)), slog.Uint64("dropped_total", n))
		}
		return false
	}
}

// Dropped returns how many events Emit discarded.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Run delivers events until ctx is cancelled, then flushes what is already
// buffered with a fresh deadline.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		case ev := <-r.events:
			r.deliver(ctx, ev)
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for {
		select {
		case ev := <-r.events:
			r.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) deliver(ctx context.Context, ev domain.Event) {
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := s.Record(sctx, ev)
		cancel()
		if err != nil {
			r.logger.WarnContext(ctx, "sink failed",
				slog.String("sink", s.Name()),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}
