package rules

import (
	"fmt"
	"strings"

	"attestor/internal/facts"
)

// outcome of evaluating a subtree: the boolean result and the predicate that
// decided it, kept for the justification trace.
type evaluation struct {
	matched bool
	leaf    *Condition
	missing bool
}

// evaluate walks the tree in declared order, short-circuiting AND on the
// first false child and OR on the first true child.
func evaluate(c *Condition, fs facts.Set) evaluation {
	switch c.Kind {
	case NodeAll:
		var last evaluation
		for i := range c.Children {
			last = evaluate(&c.Children[i], fs)
			if !last.matched {
				return last
			}
		}
		return last
	case NodeAny:
		var last evaluation
		for i := range c.Children {
			last = evaluate(&c.Children[i], fs)
			if last.matched {
				return last
			}
		}
		return last
	default:
		v, ok := fs.Lookup(c.Fact)
		if !ok {
			return evaluation{leaf: c, missing: true}
		}
		return evaluation{matched: compare(c.Operator, v, c.Operand), leaf: c}
	}
}

// compare applies op to a fact value and a rule literal. Mismatched kinds
// never satisfy any operator, including the negated ones.
func compare(op Operator, fact, operand facts.Value) bool {
	switch op {
	case OpEquals:
		return fact.Kind() == operand.Kind() && fact.Equal(operand)
	case OpNotEquals:
		return fact.Kind() == operand.Kind() && !fact.Equal(operand)
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		a, ok := fact.AsNumber()
		if !ok {
			return false
		}
		b, ok := operand.AsNumber()
		if !ok {
			return false
		}
		cmp := a.Cmp(b)
		switch op {
		case OpGreaterThan:
			return cmp > 0
		case OpGreaterThanOrEqual:
			return cmp >= 0
		case OpLessThan:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn, OpNotIn:
		items, ok := operand.AsList()
		if !ok || fact.Kind() == facts.KindList {
			return false
		}
		found := member(items, fact)
		if op == OpIn {
			return found
		}
		return !found && sameKindAsAny(items, fact)
	case OpContains, OpNotContains:
		found, comparable := contains(fact, operand)
		if !comparable {
			return false
		}
		if op == OpContains {
			return found
		}
		return !found
	}
	return false
}

func member(items []facts.Value, v facts.Value) bool {
	for _, item := range items {
		if item.Equal(v) {
			return true
		}
	}
	return false
}

// sameKindAsAny keeps NOT_IN from matching a fact whose kind cannot appear
// in the list at all.
func sameKindAsAny(items []facts.Value, v facts.Value) bool {
	if len(items) == 0 {
		return true
	}
	for _, item := range items {
		if item.Kind() == v.Kind() {
			return true
		}
	}
	return false
}

// contains is substring search for strings and membership for lists.
func contains(fact, operand facts.Value) (found, comparable bool) {
	switch fact.Kind() {
	case facts.KindString:
		s, _ := fact.AsString()
		sub, ok := operand.AsString()
		if !ok {
			return false, false
		}
		return strings.Contains(s, sub), true
	case facts.KindList:
		items, _ := fact.AsList()
		for _, item := range items {
			if item.Kind() == operand.Kind() {
				comparable = true
			}
			if item.Equal(operand) {
				return true, true
			}
		}
		return false, comparable || len(items) == 0
	}
	return false, false
}

func describe(e evaluation) string {
	if e.leaf == nil {
		return "empty condition"
	}
	if e.missing {
		return fmt.Sprintf("fact %q unavailable", e.leaf.Fact)
	}
	return fmt.Sprintf("%s %s %s is %t", e.leaf.Fact, e.leaf.Operator, e.leaf.Operand, e.matched)
}
