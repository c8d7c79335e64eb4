package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"attestor/internal/facts"
)

// DefaultMaxDepth bounds condition trees when no limit is configured.
const DefaultMaxDepth = 16

// ErrRuleSetInvalid is matched by every load-time validation failure.
var ErrRuleSetInvalid = errors.New("rule set invalid")

// Problem is a single validation finding.
type Problem struct {
	Rule    string
	Path    string
	Message string
}

func (p Problem) String() string {
	loc := p.Rule
	if loc == "" {
		loc = "<unnamed>"
	}
	if p.Path != "" {
		loc += " " + p.Path
	}
	return loc + ": " + p.Message
}

// InvalidError lists every problem found while validating a rule set.
type InvalidError struct {
	Problems []Problem
}

func (e *InvalidError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("%s: %s", ErrRuleSetInvalid, strings.Join(parts, "; "))
}

func (e *InvalidError) Is(target error) bool {
	return target == ErrRuleSetInvalid
}

// RuleSet is an immutable, validated snapshot of rules partitioned by
// jurisdiction. Safe for concurrent reads without locking.
type RuleSet struct {
	byJurisdiction map[string][]Rule
	referenced     map[string][]string
	jurisdictions  []string
	size           int
	loadedAt       time.Time
}

// ValidationOptions bounds what a rule set may contain.
type ValidationOptions struct {
	MaxDepth int
}

// NewRuleSet validates rules and partitions them, preserving declared order
// within each jurisdiction.
func NewRuleSet(rules []Rule, opts ValidationOptions) (*RuleSet, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	var problems []Problem
	seen := make(map[string]map[string]bool)
	for i, r := range rules {
		problems = append(problems, validateRule(i, r, opts)...)

		key := normalizeJurisdiction(r.Jurisdiction)
		if seen[key] == nil {
			seen[key] = make(map[string]bool)
		}
		if r.Name != "" && seen[key][r.Name] {
			problems = append(problems, Problem{Rule: r.Name, Message: fmt.Sprintf("duplicate rule name in jurisdiction %q", key)})
		}
		seen[key][r.Name] = true
	}
	if len(problems) > 0 {
		return nil, &InvalidError{Problems: problems}
	}

	rs := &RuleSet{
		byJurisdiction: make(map[string][]Rule),
		referenced:     make(map[string][]string),
		size:           len(rules),
		loadedAt:       time.Now(),
	}
	for _, r := range rules {
		r.Jurisdiction = normalizeJurisdiction(r.Jurisdiction)
		rs.byJurisdiction[r.Jurisdiction] = append(rs.byJurisdiction[r.Jurisdiction], r)
	}
	for j, list := range rs.byJurisdiction {
		rs.jurisdictions = append(rs.jurisdictions, j)
		rs.referenced[j] = referencedFacts(list)
	}
	sort.Strings(rs.jurisdictions)
	return rs, nil
}

// Rules returns the ordered rules of a jurisdiction. The slice must not be
// modified.
func (rs *RuleSet) Rules(jurisdiction string) []Rule {
	if rs == nil {
		return nil
	}
	return rs.byJurisdiction[normalizeJurisdiction(jurisdiction)]
}

// HasJurisdiction reports whether any rule targets jurisdiction.
func (rs *RuleSet) HasJurisdiction(jurisdiction string) bool {
	return len(rs.Rules(jurisdiction)) > 0
}

// Jurisdictions lists the jurisdictions with rules, sorted.
func (rs *RuleSet) Jurisdictions() []string {
	if rs == nil {
		return nil
	}
	return append([]string(nil), rs.jurisdictions...)
}

// ReferencedFacts lists, in first-reference order, every fact a
// jurisdiction's rules mention.
func (rs *RuleSet) ReferencedFacts(jurisdiction string) []string {
	if rs == nil {
		return nil
	}
	return append([]string(nil), rs.referenced[normalizeJurisdiction(jurisdiction)]...)
}

// Len is the total number of rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return rs.size
}

// LoadedAt is when the snapshot was built.
func (rs *RuleSet) LoadedAt() time.Time {
	if rs == nil {
		return time.Time{}
	}
	return rs.loadedAt
}

func referencedFacts(list []Rule) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range list {
		r.Condition.walkFacts(func(name string) {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		})
	}
	return out
}

func normalizeJurisdiction(j string) string {
	return strings.ToUpper(strings.TrimSpace(j))
}

func validateRule(index int, r Rule, opts ValidationOptions) []Problem {
	var problems []Problem
	name := r.Name
	add := func(path, format string, args ...any) {
		problems = append(problems, Problem{Rule: name, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(r.Name) == "" {
		name = fmt.Sprintf("rules[%d]", index)
		add("", "name is required")
	}
	if normalizeJurisdiction(r.Jurisdiction) == "" {
		add("", "jurisdiction is required")
	}
	switch r.Action {
	case ActionGrantYes, ActionGrantNo:
	default:
		add("", "unknown action %q", r.Action)
	}
	if depth := r.Condition.Depth(); depth > opts.MaxDepth {
		add("condition", "depth %d exceeds limit %d", depth, opts.MaxDepth)
		return problems
	}
	validateCondition(r.Condition, "condition", add)
	return problems
}

func validateCondition(c Condition, path string, add func(path, format string, args ...any)) {
	switch c.Kind {
	case NodeAll, NodeAny:
		if len(c.Children) == 0 {
			add(path, "%s requires at least one child", c.Kind)
		}
		for i, child := range c.Children {
			validateCondition(child, fmt.Sprintf("%s.%s[%d]", path, c.Kind, i), add)
		}
	case NodePredicate:
		if strings.TrimSpace(c.Fact) == "" {
			add(path, "fact is required")
		}
		if !c.Operator.valid() {
			add(path, "unknown operator %q", c.Operator)
			return
		}
		validateOperand(c, path, add)
	default:
		add(path, "unknown node kind %d", c.Kind)
	}
}

func validateOperand(c Condition, path string, add func(path, format string, args ...any)) {
	kind := c.Operand.Kind()
	switch {
	case kind == facts.KindAbsent:
		add(path, "value is required")
	case c.Operator.ordering() && kind != facts.KindNumber:
		add(path, "%s requires a numeric value, got %s", c.Operator, kind)
	case (c.Operator == OpIn || c.Operator == OpNotIn) && kind != facts.KindList:
		add(path, "%s requires a list value, got %s", c.Operator, kind)
	case (c.Operator == OpContains || c.Operator == OpNotContains) && kind == facts.KindList:
		add(path, "%s requires a scalar value", c.Operator)
	}
}

// Summary is a read-only description of a rule for listing endpoints.
type Summary struct {
	Name         string   `json:"name"`
	Jurisdiction string   `json:"jurisdiction"`
	Action       Action   `json:"action"`
	Facts        []string `json:"facts"`
	Depth        int      `json:"depth"`
}

// Summaries lists every rule grouped by jurisdiction, in evaluation order.
func (rs *RuleSet) Summaries() []Summary {
	if rs == nil {
		return nil
	}
	out := make([]Summary, 0, rs.size)
	for _, j := range rs.jurisdictions {
		for _, r := range rs.byJurisdiction[j] {
			out = append(out, Summary{
				Name:         r.Name,
				Jurisdiction: r.Jurisdiction,
				Action:       r.Action,
				Facts:        referencedFacts([]Rule{r}),
				Depth:        r.Condition.Depth(),
			})
		}
	}
	return out
}
