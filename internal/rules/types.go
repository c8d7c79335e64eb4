// Package rules holds the declarative rule model and the deterministic engine
// that evaluates it.
package rules

import (
	"attestor/internal/facts"
)

// Operator is the comparison performed by an atomic predicate.
type Operator string

const (
	OpEquals             Operator = "EQUALS"
	OpNotEquals          Operator = "NOT_EQUALS"
	OpGreaterThan        Operator = "GREATER_THAN"
	OpGreaterThanOrEqual Operator = "GREATER_THAN_OR_EQUAL_TO"
	OpLessThan           Operator = "LESS_THAN"
	OpLessThanOrEqual    Operator = "LESS_THAN_OR_EQUAL_TO"
	OpIn                 Operator = "IN"
	OpNotIn              Operator = "NOT_IN"
	OpContains           Operator = "CONTAINS"
	OpNotContains        Operator = "NOT_CONTAINS"
)

// operatorAliases accepts the short spellings used by older rule files.
var operatorAliases = map[string]Operator{
	"GREATER_THAN_EQUAL": OpGreaterThanOrEqual,
	"LESS_THAN_EQUAL":    OpLessThanOrEqual,
}

func (o Operator) valid() bool {
	switch o {
	case OpEquals, OpNotEquals,
		OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual,
		OpIn, OpNotIn, OpContains, OpNotContains:
		return true
	}
	return false
}

func (o Operator) ordering() bool {
	switch o {
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		return true
	}
	return false
}

// NodeKind tags a Condition.
type NodeKind uint8

const (
	NodePredicate NodeKind = iota
	NodeAll
	NodeAny
)

func (k NodeKind) String() string {
	switch k {
	case NodeAll:
		return "AND"
	case NodeAny:
		return "OR"
	default:
		return "predicate"
	}
}

// Condition is a tagged tree node: either an atomic predicate over one fact
// or an ordered AND/OR over children. Trees are built by value, so they
// cannot contain cycles.
type Condition struct {
	Kind     NodeKind
	Fact     string
	Operator Operator
	Operand  facts.Value
	Children []Condition
}

// Predicate builds an atomic condition.
func Predicate(fact string, op Operator, operand facts.Value) Condition {
	return Condition{Kind: NodePredicate, Fact: fact, Operator: op, Operand: operand}
}

// All is true when every child is true.
func All(children ...Condition) Condition {
	return Condition{Kind: NodeAll, Children: children}
}

// Any is true when at least one child is true.
func Any(children ...Condition) Condition {
	return Condition{Kind: NodeAny, Children: children}
}

// Depth is the height of the tree; a lone predicate has depth 1.
func (c Condition) Depth() int {
	if c.Kind == NodePredicate {
		return 1
	}
	max := 0
	for _, child := range c.Children {
		if d := child.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

// Size is the number of nodes, which bounds evaluation cost.
func (c Condition) Size() int {
	n := 1
	for _, child := range c.Children {
		n += child.Size()
	}
	return n
}

// walkFacts visits fact names in declaration order.
func (c Condition) walkFacts(visit func(string)) {
	if c.Kind == NodePredicate {
		visit(c.Fact)
		return
	}
	for _, child := range c.Children {
		child.walkFacts(visit)
	}
}

// Action is what a matching rule grants.
type Action string

const (
	ActionGrantYes Action = "GRANT_YES"
	ActionGrantNo  Action = "GRANT_NO"
)

// Outcome is the YES/NO verdict.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome accepts YES or NO.
func ParseOutcome(s string) (Outcome, bool) {
	switch Outcome(s) {
	case OutcomeYes, OutcomeNo:
		return Outcome(s), true
	}
	return "", false
}

func (a Action) outcome() Outcome {
	if a == ActionGrantYes {
		return OutcomeYes
	}
	return OutcomeNo
}

// Rule is one entry of a jurisdiction's ordered rule list.
type Rule struct {
	Name         string
	Jurisdiction string
	Condition    Condition
	Action       Action
	ReasonPass   string
	ReasonFail   string
}
