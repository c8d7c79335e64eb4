// Package static serves facts from an in-memory table, typically declared in
// the connectors document for demos and offline testing.
package static

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"attestor/internal/connector"
	"attestor/internal/facts"
)

type Connector struct {
	name     string
	provides []string
	subjects map[string]facts.Values
}

// New builds a connector over subjects keyed by identifier. Identifiers are
// matched case-insensitively.
func New(name string, provides []string, subjects map[string]facts.Values) *Connector {
	table := make(map[string]facts.Values, len(subjects))
	for id, values := range subjects {
		table[strings.ToUpper(strings.TrimSpace(id))] = values
	}
	return &Connector{name: name, provides: provides, subjects: table}
}

// FromYAML reads a mapping of subject id to a mapping of fact values.
func FromYAML(name string, provides []string, node *yaml.Node) (*Connector, error) {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("static %s: subjects must be a mapping", name)
	}
	subjects := make(map[string]facts.Values, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		id, body := node.Content[i].Value, node.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("static %s: subject %q must map facts to values", name, id)
		}
		values := make(facts.Values, len(body.Content)/2)
		for j := 0; j+1 < len(body.Content); j += 2 {
			v, err := facts.FromYAML(body.Content[j+1])
			if err != nil {
				return nil, fmt.Errorf("static %s: subject %q fact %q: %w", name, id, body.Content[j].Value, err)
			}
			values[body.Content[j].Value] = v
		}
		subjects[id] = values
	}
	return New(name, provides, subjects), nil
}

func (c *Connector) Name() string { return c.name }

func (c *Connector) Provides() []string { return c.provides }

func (c *Connector) Fetch(ctx context.Context, subject connector.Subject) (facts.Values, error) {
	if err := ctx.Err(); err != nil {
		return nil, connector.Classify(c.name, err)
	}
	values, ok := c.subjects[strings.ToUpper(strings.TrimSpace(subject.ID))]
	if !ok {
		return nil, connector.NewError(connector.CategoryNotFound, c.name, "subject not found", nil)
	}
	out := make(facts.Values, len(values))
	for name, v := range values {
		if len(c.provides) == 0 || connector.Supplies(c, name) {
			out[name] = v
		}
	}
	return out, nil
}
