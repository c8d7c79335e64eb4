package facts

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FromYAML converts a YAML scalar or sequence node into a Value, reading
// numbers from their source text.
func FromYAML(node *yaml.Node) (Value, error) {
	if node == nil {
		return Value{}, fmt.Errorf("missing value")
	}
	switch node.Kind {
	case yaml.ScalarNode:
		return scalarFromYAML(node)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(node.Content))
		for i, child := range node.Content {
			if child.Kind != yaml.ScalarNode {
				return Value{}, fmt.Errorf("line %d: list item %d must be a scalar", child.Line, i)
			}
			item, err := scalarFromYAML(child)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return List(items...), nil
	case yaml.AliasNode:
		return Value{}, fmt.Errorf("line %d: anchors and aliases are not permitted in values", node.Line)
	default:
		return Value{}, fmt.Errorf("line %d: value must be a scalar or a list", node.Line)
	}
}

func scalarFromYAML(node *yaml.Node) (Value, error) {
	switch node.ShortTag() {
	case "!!int", "!!float":
		v, err := NumberFromString(node.Value)
		if err != nil {
			return Value{}, fmt.Errorf("line %d: %w", node.Line, err)
		}
		return v, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", node.Line, err)
		}
		return Bool(b), nil
	case "!!str":
		return String(node.Value), nil
	case "!!null":
		return Value{}, fmt.Errorf("line %d: null is not a valid value", node.Line)
	default:
		return Value{}, fmt.Errorf("line %d: unsupported tag %s", node.Line, node.ShortTag())
	}
}
