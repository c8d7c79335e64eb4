package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"attestor/internal/connector"
	"attestor/internal/facts"
	"attestor/pkg/platform/circuit"
	"attestor/pkg/platform/sentinel"
)

// guardedCall runs one connector call under its breaker. Retries happen only
// on a normal permit; a half-open probe gets exactly one attempt. Every
// attempt of the call is reported to the breaker as a single outcome, except
// when the caller cancels: the permit is then released unrecorded.
func (r *Resolver) guardedCall(ctx context.Context, entry connector.Entry, subject connector.Subject) outcome {
	name := entry.Connector.Name()
	start := r.now()

	ctx, span := r.tracer.Start(ctx, "connector.Fetch", trace.WithAttributes(
		attribute.String("connector", name),
	))
	defer span.End()

	breaker := r.breakers.Get(name)
	permit, err := breaker.Allow()
	if err != nil {
		cerr := connector.NewError(connector.CategoryCircuitOpen, name, "circuit open", err)
		r.finishCall(ctx, span, name, start, 0, cerr)
		return outcome{err: cerr}
	}

	attempts := 1 + max(entry.Policy.Retries, 0)
	if permit.Probe() {
		attempts = 1
	}

	var (
		values facts.Values
		last   *connector.Error
		tried  int
	)
	for tried = 1; tried <= attempts; tried++ {
		if tried > 1 {
			if err := sleep(ctx, entry.Policy.Backoff(tried-1)); err != nil {
				tried--
				break
			}
		}
		values, err = r.attempt(ctx, entry, subject)
		if err == nil {
			last = nil
			break
		}
		last = connector.Classify(name, err)
		if !last.Retryable || ctx.Err() != nil {
			break
		}
	}
	tried = min(tried, attempts)

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		breaker.Release(permit)
	case last != nil && connector.CountsAsFailure(last):
		breaker.Done(permit, last)
	default:
		breaker.Done(permit, nil)
	}
	r.finishCall(ctx, span, name, start, tried, last)

	if last != nil {
		return outcome{err: last, attempts: tried}
	}
	return outcome{values: values, attempts: tried}
}

type fetchResult struct {
	values facts.Values
	err    error
}

// attempt runs a single Fetch under the per-attempt timeout. The result of a
// connector that ignores its context is abandoned once the timeout passes.
func (r *Resolver) attempt(ctx context.Context, entry connector.Entry, subject connector.Subject) (facts.Values, error) {
	name := entry.Connector.Name()
	actx := ctx
	if entry.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, entry.Policy.Timeout)
		defer cancel()
	}

	ch := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- fetchResult{err: connector.NewError(connector.CategoryInternal, name, "connector panicked", fmt.Errorf("%v", p))}
			}
		}()
		values, err := entry.Connector.Fetch(actx, subject)
		ch <- fetchResult{values: values, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && connector.CategoryOf(res.err) != connector.CategoryTimeout {
			return nil, connector.NewError(connector.CategoryTimeout, name, "attempt timed out", res.err)
		}
		return res.values, res.err
	case <-actx.Done():
		if errors.Is(actx.Err(), context.Canceled) {
			return nil, connector.NewError(connector.CategoryCanceled, name, "canceled by caller", actx.Err())
		}
		return nil, connector.NewError(connector.CategoryTimeout, name, "attempt timed out", actx.Err())
	}
}

func (r *Resolver) finishCall(ctx context.Context, span trace.Span, name string, start time.Time, attempts int, err *connector.Error) {
	label := "ok"
	if err != nil {
		label = string(err.Category)
		span.SetStatus(codes.Error, label)
		span.SetAttributes(attribute.String("error.category", label))
	}
	span.SetAttributes(attribute.Int("attempts", attempts))
	r.metrics.observeCall(name, label, r.now().Sub(start))

	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		r.logger.DebugContext(ctx, "connector has no record",
			"connector", name,
			"attempts", attempts,
		)
	case err.Category == connector.CategoryCanceled:
		r.logger.DebugContext(ctx, "connector call canceled",
			"connector", name,
			"attempts", attempts,
		)
	default:
		r.logger.WarnContext(ctx, "connector call failed",
			"connector", name,
			"category", label,
			"attempts", attempts,
			"error", err.Error(),
		)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StateChangeHook logs breaker transitions and feeds the breaker metrics.
// Pass it to circuit.WithOnStateChange when building the table.
func StateChangeHook(logger *slog.Logger, m *Metrics) func(string, circuit.StateChange) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(name string, change circuit.StateChange) {
		if !change.Changed() {
			return
		}
		m.observeBreaker(name, change.To)
		level := slog.LevelInfo
		if change.Opened {
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "circuit breaker state changed",
			"connector", name,
			"from", change.From.String(),
			"to", change.To.String(),
		)
	}
}
