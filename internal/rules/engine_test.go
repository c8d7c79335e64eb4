package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attestor/internal/facts"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)

func fixedClock() time.Time { return fixedNow }

func creditRules(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := NewRuleSet([]Rule{
		{
			Name:         "CreditScoreCheck",
			Jurisdiction: "US",
			Condition: All(
				Predicate("credit_score", OpGreaterThanOrEqual, facts.Int(700)),
				Predicate("annual_income", OpGreaterThan, facts.Int(50000)),
			),
			Action:     ActionGrantYes,
			ReasonPass: "credit and income sufficient",
		},
		{
			Name:         "SanctionsHit",
			Jurisdiction: "US",
			Condition:    Predicate("sanctions_listed", OpEquals, facts.Bool(true)),
			Action:       ActionGrantNo,
			ReasonPass:   "subject is sanctioned",
		},
	}, ValidationOptions{})
	require.NoError(t, err)
	return rs
}

func TestEvaluateCreditScoreCheck(t *testing.T) {
	engine := NewEngine(WithClock(fixedClock))
	rs := creditRules(t)

	t.Run("both conditions satisfied", func(t *testing.T) {
		v := engine.Evaluate(rs, "US", facts.Of(facts.Values{
			"credit_score":  facts.Int(720),
			"annual_income": facts.Int(60000),
		}))
		assert.Equal(t, OutcomeYes, v.Outcome)
		assert.Equal(t, "CreditScoreCheck", v.MatchedRule)
		assert.Equal(t, "credit and income sufficient", v.Reason)
		assert.False(t, v.Default)
		assert.Equal(t, fixedNow.Truncate(time.Second), v.EvaluatedAt)
	})

	t.Run("income below threshold falls through to default", func(t *testing.T) {
		v := engine.Evaluate(rs, "US", facts.Of(facts.Values{
			"credit_score":  facts.Int(720),
			"annual_income": facts.Int(40000),
		}))
		assert.Equal(t, OutcomeNo, v.Outcome)
		assert.True(t, v.Default)
		assert.Equal(t, DefaultNoMatchReason, v.Reason)
		require.Len(t, v.Trace, 2)
		assert.False(t, v.Trace[0].Matched)
		assert.Contains(t, v.Trace[0].Reason, "annual_income")
	})

	t.Run("lowercase jurisdiction selects the same rules", func(t *testing.T) {
		v := engine.Evaluate(rs, " us ", facts.Of(facts.Values{
			"credit_score":  facts.Int(700),
			"annual_income": facts.Int(50001),
		}))
		assert.Equal(t, OutcomeYes, v.Outcome)
		assert.Equal(t, "US", v.Jurisdiction)
	})
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	rs, err := NewRuleSet([]Rule{
		{Name: "deny", Jurisdiction: "EU", Condition: Predicate("age", OpLessThan, facts.Int(18)), Action: ActionGrantNo},
		{Name: "allow", Jurisdiction: "EU", Condition: Predicate("age", OpLessThan, facts.Int(100)), Action: ActionGrantYes},
	}, ValidationOptions{})
	require.NoError(t, err)

	v := NewEngine().Evaluate(rs, "EU", facts.Of(facts.Values{"age": facts.Int(16)}))
	assert.Equal(t, OutcomeNo, v.Outcome)
	assert.Equal(t, "deny", v.MatchedRule)
	require.Len(t, v.Trace, 1)
	assert.Contains(t, v.Reason, "rule deny matched")
}

func TestEvaluateMissingFactsAreFalse(t *testing.T) {
	rs, err := NewRuleSet([]Rule{
		{Name: "not-sanctioned", Jurisdiction: "UK", Condition: Predicate("sanctions_listed", OpNotEquals, facts.Bool(true)), Action: ActionGrantYes},
	}, ValidationOptions{})
	require.NoError(t, err)

	b := facts.NewBuilder()
	b.MarkUnavailable("sanctions_listed", facts.Unavailable{Connector: "sanctions", Cause: "timeout"})
	v := NewEngine().Evaluate(rs, "UK", b.Freeze())

	assert.Equal(t, OutcomeNo, v.Outcome)
	assert.True(t, v.Default)
	assert.Contains(t, v.Trace[0].Reason, "unavailable")
}

func TestEvaluateUnknownJurisdictionDefaults(t *testing.T) {
	engine := NewEngine(WithDefault(OutcomeNo, "jurisdiction has no rules"))
	v := engine.Evaluate(creditRules(t), "FR", facts.Of(nil))
	assert.True(t, v.Default)
	assert.Equal(t, "jurisdiction has no rules", v.Reason)
	assert.Empty(t, v.Trace)
}

func TestDenyIgnoresConfiguredDefault(t *testing.T) {
	e := NewEngine(WithDefault(OutcomeYes, "open by default"), WithClock(fixedClock))
	v := e.Deny(" us ", "answers did not match")

	assert.Equal(t, OutcomeNo, v.Outcome)
	assert.Equal(t, "US", v.Jurisdiction)
	assert.Equal(t, "answers did not match", v.Reason)
	assert.True(t, v.Default)
	assert.Empty(t, v.MatchedRule)
	assert.Empty(t, v.Trace)
	assert.Equal(t, fixedNow.Truncate(time.Second), v.EvaluatedAt)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	engine := NewEngine(WithClock(fixedClock))
	rs := creditRules(t)
	fs := facts.Of(facts.Values{
		"credit_score":     facts.Int(650),
		"annual_income":    facts.Int(90000),
		"sanctions_listed": facts.Bool(true),
	})

	first := engine.Evaluate(rs, "US", fs)
	for range 100 {
		assert.Equal(t, first, engine.Evaluate(rs, "US", fs))
	}
	assert.Equal(t, "SanctionsHit", first.MatchedRule)
}

func TestCompareOperators(t *testing.T) {
	num := func(s string) facts.Value {
		v, err := facts.NumberFromString(s)
		require.NoError(t, err)
		return v
	}
	tests := []struct {
		name    string
		op      Operator
		fact    facts.Value
		operand facts.Value
		want    bool
	}{
		{"equals number exact", OpEquals, num("1.10"), num("1.1"), true},
		{"equals kind mismatch", OpEquals, facts.String("1"), facts.Int(1), false},
		{"not equals kind mismatch", OpNotEquals, facts.String("1"), facts.Int(1), false},
		{"not equals", OpNotEquals, facts.String("a"), facts.String("b"), true},
		{"greater than decimal edge", OpGreaterThanOrEqual, num("599.9999999999999999"), facts.Int(600), false},
		{"less than", OpLessThan, facts.Int(3), facts.Int(4), true},
		{"ordering on strings", OpGreaterThan, facts.String("b"), facts.String("a"), false},
		{"in list", OpIn, facts.String("US"), facts.List(facts.String("US"), facts.String("CA")), true},
		{"not in list", OpNotIn, facts.String("MX"), facts.List(facts.String("US"), facts.String("CA")), true},
		{"not in wrong kind", OpNotIn, facts.Int(1), facts.List(facts.String("US")), false},
		{"contains substring", OpContains, facts.String("ACME Holdings"), facts.String("Holdings"), true},
		{"contains list member", OpContains, facts.List(facts.String("pep"), facts.String("aml")), facts.String("aml"), true},
		{"not contains list", OpNotContains, facts.List(facts.String("pep")), facts.String("aml"), true},
		{"contains bool fact", OpContains, facts.Bool(true), facts.String("t"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compare(tt.op, tt.fact, tt.operand))
		})
	}
}

func TestEvaluateShortCircuits(t *testing.T) {
	c := Any(
		Predicate("a", OpEquals, facts.Bool(true)),
		Predicate("missing", OpEquals, facts.Bool(true)),
	)
	res := evaluate(&c, facts.Of(facts.Values{"a": facts.Bool(true)}))
	assert.True(t, res.matched)
	assert.Equal(t, "a", res.leaf.Fact)

	c = All(
		Predicate("missing", OpEquals, facts.Bool(true)),
		Predicate("a", OpEquals, facts.Bool(true)),
	)
	res = evaluate(&c, facts.Of(facts.Values{"a": facts.Bool(true)}))
	assert.False(t, res.matched)
	assert.True(t, res.missing)
}
