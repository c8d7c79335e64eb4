package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit publisher closed")

// Publisher captures audit events. Without a buffer it writes to the sink
// synchronously; with one, Emit never blocks and a worker drains the buffer
// in the background.
type Publisher struct {
	sink    Sink
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	buffer    *RingBuffer
	batchSize int
	worker    *worker

	mu     sync.RWMutex
	closed bool
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous delivery through a ring buffer of the
// given capacity.
func WithAsyncBuffer(capacity int) Option {
	return func(p *Publisher) {
		p.buffer = NewRingBuffer(capacity)
	}
}

// WithBatchSize bounds how many events the worker hands to the sink at once.
func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:      sink,
		logger:    slog.Default(),
		now:       time.Now,
		batchSize: 64,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.worker = newWorker(p.buffer, p.sink, p.batchSize, p.logger, p.metrics)
		p.worker.start()
	}
	return p
}

// Emit records an event. In async mode it only fails after Close.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}

	if p.buffer == nil {
		if err := p.sink.Write(ctx, []Event{event}); err != nil {
			p.metrics.incSinkFailures()
			return err
		}
		p.metrics.incEmitted()
		return nil
	}

	if p.buffer.Enqueue(event) {
		p.metrics.incDropped()
		p.logger.WarnContext(ctx, "audit buffer full, dropped oldest event",
			"dropped_total", p.buffer.Dropped(),
		)
	}
	p.metrics.incEmitted()
	p.worker.notify()
	return nil
}

// Close stops accepting events and, in async mode, drains what is buffered.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.worker != nil {
		p.worker.stop()
	}
}
