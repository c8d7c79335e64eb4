package connector

import (
	"fmt"
	"slices"
)

// Entry is one registered connector with its call policy.
type Entry struct {
	Connector Connector
	Policy    Policy
}

// Registry keeps connectors in declaration order. That order decides which
// connector wins when two supply the same fact.
type Registry struct {
	entries []Entry
	byName  map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register appends c. A zero policy is replaced with DefaultPolicy.
func (r *Registry) Register(c Connector, policy Policy) error {
	name := c.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	if policy == (Policy{}) {
		policy = DefaultPolicy()
	}
	r.byName[name] = len(r.entries)
	r.entries = append(r.entries, Entry{Connector: c, Policy: policy})
	return nil
}

func (r *Registry) Get(name string) (Entry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// All returns entries in declaration order.
func (r *Registry) All() []Entry {
	return slices.Clone(r.entries)
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Select returns, in declaration order, every connector that provides at
// least one of the wanted facts plus every wildcard connector.
func (r *Registry) Select(wanted []string) []Entry {
	var out []Entry
	for _, e := range r.entries {
		provides := e.Connector.Provides()
		if len(provides) == 0 {
			out = append(out, e)
			continue
		}
		for _, f := range provides {
			if slices.Contains(wanted, f) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Supplies reports whether c is expected to supply fact.
func Supplies(c Connector, fact string) bool {
	provides := c.Provides()
	return len(provides) == 0 || slices.Contains(provides, fact)
}
