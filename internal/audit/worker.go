package audit

import (
	"context"
	"log/slog"
	"time"
)

const sinkTimeout = 5 * time.Second

// worker drains the ring buffer into the sink.
type worker struct {
	buffer    *RingBuffer
	sink      Sink
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newWorker(buffer *RingBuffer, sink Sink, batchSize int, logger *slog.Logger, metrics *Metrics) *worker {
	return &worker{
		buffer:    buffer,
		sink:      sink,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (w *worker) start() {
	go w.run()
}

// notify wakes the worker without blocking; one pending signal is enough.
func (w *worker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) stop() {
	close(w.quit)
	<-w.done
}

func (w *worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-w.quit:
			w.drain()
			return
		}
	}
}

func (w *worker) drain() {
	for {
		batch := w.buffer.DequeueBatch(w.batchSize)
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := w.sink.Write(ctx, batch)
		cancel()
		if err != nil {
			w.metrics.incSinkFailures()
			w.logger.Error("audit sink write failed",
				"events", len(batch),
				"error", err,
			)
		}
	}
}
