package rules

import (
	"fmt"
	"time"

	"attestor/internal/facts"
)

// DefaultNoMatchReason is used when no rule of a jurisdiction matches.
const DefaultNoMatchReason = "no applicable rule matched"

// TraceEntry records one rule considered during evaluation.
type TraceEntry struct {
	Rule    string `json:"rule" cbor:"1,keyasint"`
	Matched bool   `json:"matched" cbor:"2,keyasint"`
	Reason  string `json:"reason" cbor:"3,keyasint"`
}

// Verdict is the engine's decision and the ordered trace that produced it.
type Verdict struct {
	Outcome      Outcome      `json:"outcome"`
	MatchedRule  string       `json:"matched_rule,omitempty"`
	Reason       string       `json:"reason"`
	Jurisdiction string       `json:"jurisdiction"`
	EvaluatedAt  time.Time    `json:"evaluated_at"`
	Default      bool         `json:"default"`
	Trace        []TraceEntry `json:"trace"`
}

// Engine evaluates a RuleSet. It holds no per-request state; the only clock
// read is the verdict timestamp.
type Engine struct {
	defaultOutcome Outcome
	defaultReason  string
	now            func() time.Time
}

type EngineOption func(*Engine)

// WithDefault sets the verdict returned when no rule matches.
func WithDefault(outcome Outcome, reason string) EngineOption {
	return func(e *Engine) {
		e.defaultOutcome = outcome
		if reason != "" {
			e.defaultReason = reason
		}
	}
}

// WithClock injects the clock used for EvaluatedAt.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		defaultOutcome: OutcomeNo,
		defaultReason:  DefaultNoMatchReason,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the jurisdiction's rules in declared order against fs. The
// first matching rule decides; otherwise the default verdict is returned.
// Evaluation never fails: missing facts and kind mismatches make predicates
// false.
func (e *Engine) Evaluate(rs *RuleSet, jurisdiction string, fs facts.Set) Verdict {
	j := normalizeJurisdiction(jurisdiction)
	list := rs.Rules(j)
	v := Verdict{
		Jurisdiction: j,
		EvaluatedAt:  e.now().UTC().Truncate(time.Second),
		Trace:        make([]TraceEntry, 0, len(list)),
	}

	for i := range list {
		r := &list[i]
		res := evaluate(&r.Condition, fs)
		if !res.matched {
			reason := r.ReasonFail
			if reason == "" {
				reason = "condition failed: " + describe(res)
			}
			v.Trace = append(v.Trace, TraceEntry{Rule: r.Name, Matched: false, Reason: reason})
			continue
		}

		reason := r.ReasonPass
		if reason == "" {
			reason = fmt.Sprintf("rule %s matched: %s", r.Name, describe(res))
		}
		v.Trace = append(v.Trace, TraceEntry{Rule: r.Name, Matched: true, Reason: reason})
		v.Outcome = r.Action.outcome()
		v.MatchedRule = r.Name
		v.Reason = reason
		return v
	}

	v.Outcome = e.defaultOutcome
	v.Reason = e.defaultReason
	v.Default = true
	return v
}

// Deny returns a NO verdict for a request refused before its rules ran. It
// is marked Default because no rule produced it, and its trace is empty.
func (e *Engine) Deny(jurisdiction, reason string) Verdict {
	return Verdict{
		Outcome:      OutcomeNo,
		Reason:       reason,
		Jurisdiction: normalizeJurisdiction(jurisdiction),
		EvaluatedAt:  e.now().UTC().Truncate(time.Second),
		Default:      true,
		Trace:        []TraceEntry{},
	}
}
