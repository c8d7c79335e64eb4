package rules

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"attestor/internal/facts"
	"attestor/pkg/platform/document"
)

// LoadFile reads a rule document (YAML, JSON or JSONC) and validates it.
// Only read failures come back without ErrRuleSetInvalid.
func LoadFile(path string, opts ValidationOptions) (*RuleSet, error) {
	root, err := document.ReadFile(path)
	if err != nil {
		return nil, malformed(err)
	}
	return fromNode(root, opts)
}

// Load parses a rule document. hint is a file name used to select the
// format; pass "" for YAML.
func Load(hint string, data []byte, opts ValidationOptions) (*RuleSet, error) {
	root, err := document.Parse(hint, data)
	if err != nil {
		return nil, malformed(err)
	}
	return fromNode(root, opts)
}

func malformed(err error) error {
	if errors.Is(err, document.ErrMalformed) {
		return structural("document", err)
	}
	return err
}

// structural reports a schema violation found before semantic validation.
// Parsing stops at the first one, so there is a single problem.
func structural(path string, err error) *InvalidError {
	return &InvalidError{Problems: []Problem{{Path: path, Message: err.Error()}}}
}

func fromNode(root *yaml.Node, opts ValidationOptions) (*RuleSet, error) {
	if root.Kind != yaml.MappingNode {
		return nil, structural("document", fmt.Errorf("line %d: rule document must be a mapping", root.Line))
	}
	var list *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "rules" {
			list = root.Content[i+1]
		}
	}
	if list == nil {
		return nil, structural("document", errors.New("no rules key"))
	}
	if list.Kind != yaml.SequenceNode {
		return nil, structural("rules", fmt.Errorf("line %d: rules must be a list", list.Line))
	}

	parsed := make([]Rule, 0, len(list.Content))
	for i, node := range list.Content {
		r, err := parseRule(node)
		if err != nil {
			return nil, structural(fmt.Sprintf("rules[%d]", i), err)
		}
		parsed = append(parsed, r)
	}
	return NewRuleSet(parsed, opts)
}

func parseRule(node *yaml.Node) (Rule, error) {
	if node.Kind != yaml.MappingNode {
		return Rule{}, fmt.Errorf("line %d: rule must be a mapping", node.Line)
	}
	var r Rule
	var cond *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "name":
			r.Name = val.Value
		case "jurisdiction":
			r.Jurisdiction = val.Value
		case "action":
			r.Action = Action(strings.ToUpper(strings.TrimSpace(val.Value)))
		case "reason_pass":
			r.ReasonPass = val.Value
		case "reason_fail":
			r.ReasonFail = val.Value
		case "description":
		case "condition", "conditions":
			if cond != nil {
				return Rule{}, fmt.Errorf("line %d: condition declared twice", key.Line)
			}
			cond = val
		default:
			return Rule{}, fmt.Errorf("line %d: unknown rule field %q", key.Line, key.Value)
		}
	}
	if cond == nil {
		return Rule{}, fmt.Errorf("line %d: rule %q has no condition", node.Line, r.Name)
	}
	c, err := parseCondition(cond)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", r.Name, err)
	}
	r.Condition = c
	return r, nil
}

func parseCondition(node *yaml.Node) (Condition, error) {
	if node.Kind != yaml.MappingNode {
		return Condition{}, fmt.Errorf("line %d: condition must be a mapping", node.Line)
	}
	if len(node.Content) == 2 {
		switch strings.ToUpper(node.Content[0].Value) {
		case "AND":
			return parseComposite(NodeAll, node.Content[1])
		case "OR":
			return parseComposite(NodeAny, node.Content[1])
		}
	}

	var c Condition
	var operand *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "fact":
			c.Fact = strings.TrimSpace(val.Value)
		case "operator":
			op := strings.ToUpper(strings.TrimSpace(val.Value))
			if alias, ok := operatorAliases[op]; ok {
				c.Operator = alias
			} else {
				c.Operator = Operator(op)
			}
		case "value":
			operand = val
		case "AND", "OR", "and", "or":
			return Condition{}, fmt.Errorf("line %d: %s must be the only key of its condition", key.Line, key.Value)
		default:
			return Condition{}, fmt.Errorf("line %d: unknown condition field %q", key.Line, key.Value)
		}
	}
	if operand != nil {
		v, err := facts.FromYAML(operand)
		if err != nil {
			return Condition{}, err
		}
		c.Operand = v
	}
	c.Kind = NodePredicate
	return c, nil
}

func parseComposite(kind NodeKind, node *yaml.Node) (Condition, error) {
	if node.Kind != yaml.SequenceNode {
		return Condition{}, fmt.Errorf("line %d: %s takes a list of conditions", node.Line, kind)
	}
	c := Condition{Kind: kind, Children: make([]Condition, 0, len(node.Content))}
	for _, child := range node.Content {
		parsed, err := parseCondition(child)
		if err != nil {
			return Condition{}, err
		}
		c.Children = append(c.Children, parsed)
	}
	return c, nil
}
