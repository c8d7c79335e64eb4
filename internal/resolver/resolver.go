// Package resolver gathers the facts a verdict needs by calling connectors
// concurrently behind per-connector circuit breakers.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"attestor/internal/connector"
	"attestor/internal/facts"
	"attestor/pkg/platform/circuit"
)

// DefaultDeadline bounds a resolution when the caller's context has none.
const DefaultDeadline = 5 * time.Second

// Pseudonymiser turns subject identifiers into stable log tokens.
type Pseudonymiser interface {
	Pseudonymise(id string) string
}

// Failure records one connector that did not contribute facts.
type Failure struct {
	Connector string             `json:"connector"`
	Category  connector.Category `json:"category"`
	Message   string             `json:"message"`
	Attempts  int                `json:"attempts"`
}

// Resolution is the outcome of one resolve call. It never carries an error:
// failed connectors surface as Failures and Unavailable markers.
type Resolution struct {
	Facts     facts.Set
	Failures  []Failure
	Consulted []string
	TimedOut  bool
	Duration  time.Duration
}

// Resolver fans out to connectors. It is safe for concurrent use; the only
// state it shares across requests is the breaker table.
type Resolver struct {
	registry *connector.Registry
	breakers *circuit.Table
	deadline time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	hasher   Pseudonymiser
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Resolver)

func WithDeadline(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.deadline = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func WithPseudonymiser(p Pseudonymiser) Option {
	return func(r *Resolver) {
		r.hasher = p
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Resolver) {
		r.tracer = t
	}
}

// New builds a resolver. breakers is owned by the caller so health endpoints
// can read the same table.
func New(registry *connector.Registry, breakers *circuit.Table, opts ...Option) *Resolver {
	r := &Resolver{
		registry: registry,
		breakers: breakers,
		deadline: DefaultDeadline,
		logger:   slog.Default(),
		tracer:   otel.Tracer("attestor/resolver"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type outcome struct {
	values   facts.Values
	err      *connector.Error
	attempts int
}

// collector accepts results until frozen. Calls that finish after the
// deadline are dropped.
type collector struct {
	mu      sync.Mutex
	closed  bool
	results map[int]outcome
}

func (c *collector) put(i int, o outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.results[i] = o
	}
}

func (c *collector) freeze() map[int]outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.results
}

// Resolve fetches the wanted facts for subject. Connectors are selected by
// their declared facts; wildcard connectors are always consulted. The call
// returns when every connector has answered or the deadline passes,
// whichever is first.
func (r *Resolver) Resolve(ctx context.Context, subject connector.Subject, wanted []string) Resolution {
	start := r.now()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.deadline)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "resolver.Resolve", trace.WithAttributes(
		attribute.String("jurisdiction", subject.Jurisdiction),
		attribute.Int("facts.wanted", len(wanted)),
	))
	defer span.End()

	selected := r.registry.Select(wanted)
	col := &collector{results: make(map[int]outcome, len(selected))}

	var g errgroup.Group
	for i, entry := range selected {
		g.Go(func() error {
			col.put(i, r.guardedCall(ctx, entry, subject))
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	results := col.freeze()
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	res := r.merge(selected, results, wanted)
	res.TimedOut = timedOut
	res.Duration = r.now().Sub(start)

	span.SetAttributes(
		attribute.Int("facts.resolved", res.Facts.Len()),
		attribute.Int("connectors.failed", len(res.Failures)),
		attribute.Bool("timed_out", timedOut),
	)
	if timedOut {
		r.metrics.incrementTimeouts()
	}
	r.logger.InfoContext(ctx, "facts resolved",
		"subject_hash", r.pseudonymise(subject.ID),
		"jurisdiction", subject.Jurisdiction,
		"connectors", len(selected),
		"failed", len(res.Failures),
		"facts", res.Facts.Len(),
		"unavailable", len(res.Facts.UnavailableNames()),
		"timed_out", timedOut,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res
}

// merge folds results in declaration order so the first declared connector
// wins for overlapping facts, then marks wanted facts owned by failed
// connectors as unavailable.
func (r *Resolver) merge(selected []connector.Entry, results map[int]outcome, wanted []string) Resolution {
	b := facts.NewBuilder()
	res := Resolution{Consulted: make([]string, 0, len(selected))}
	failed := make([]int, 0)

	for i, entry := range selected {
		name := entry.Connector.Name()
		res.Consulted = append(res.Consulted, name)

		o, ok := results[i]
		if !ok {
			o = outcome{err: connector.NewError(connector.CategoryTimeout, name, "no answer before deadline", context.DeadlineExceeded)}
		}
		if o.err != nil {
			failed = append(failed, i)
			res.Failures = append(res.Failures, Failure{
				Connector: name,
				Category:  o.err.Category,
				Message:   o.err.Message,
				Attempts:  o.attempts,
			})
			continue
		}
		b.PutAll(o.values)
	}

	for _, fact := range wanted {
		if b.Has(fact) {
			continue
		}
		for _, i := range failed {
			if connector.Supplies(selected[i].Connector, fact) {
				b.MarkUnavailable(fact, facts.Unavailable{
					Connector: selected[i].Connector.Name(),
					Cause:     string(res.Failures[slices.Index(failed, i)].Category),
				})
				break
			}
		}
	}

	res.Facts = b.Freeze()
	return res
}

func (r *Resolver) pseudonymise(id string) string {
	if r.hasher == nil {
		return "-"
	}
	return r.hasher.Pseudonymise(id)
}
