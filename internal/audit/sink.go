package audit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// Sink receives batches of events.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, events []Event) error {
	for _, e := range events {
		s.logger.InfoContext(ctx, "audit",
			"action", string(e.Action),
			"request_id", e.RequestID,
			"subject_hash", e.SubjectHash,
			"jurisdiction", e.Jurisdiction,
			"client_id", e.ClientID,
			"client_kind", e.ClientKind,
			"outcome", e.Outcome,
			"matched_rule", e.MatchedRule,
			"default", e.Default,
			"facts_resolved", e.FactsResolved,
			"connectors_failed", e.ConnectorsFailed,
			"timed_out", e.TimedOut,
			"security_check", e.SecurityCheck,
			"failure", e.Failure,
			"duration_ms", e.DurationMS,
		)
	}
	return nil
}

// MemorySink keeps events in memory for tests and local runs.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// Fanout writes every batch to all sinks and joins their errors.
type Fanout []Sink

func (f Fanout) Write(ctx context.Context, events []Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Write(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
