package facts

import "sort"

// Values is what a single source returns: fact name to value.
type Values map[string]Value

// Unavailable records why an expected fact could not be resolved.
type Unavailable struct {
	Connector string
	Cause     string
}

// Set is the frozen fact collection handed to the rule engine. It is safe for
// concurrent reads and has no mutating methods.
type Set struct {
	values      map[string]Value
	unavailable map[string]Unavailable
}

// Lookup returns the value for name. Absent and unavailable facts both
// report false; predicates treat them identically.
func (s Set) Lookup(name string) (Value, bool) {
	v, ok := s.values[name]
	if !ok || v.IsAbsent() {
		return Value{}, false
	}
	return v, true
}

// UnavailableReason reports whether name was expected but could not be
// fetched.
func (s Set) UnavailableReason(name string) (Unavailable, bool) {
	u, ok := s.unavailable[name]
	return u, ok
}

// Names returns resolved fact names in sorted order.
func (s Set) Names() []string {
	return sortedKeys(s.values)
}

// UnavailableNames returns the names of unavailable facts in sorted order.
func (s Set) UnavailableNames() []string {
	return sortedKeys(s.unavailable)
}

// Len is the number of resolved facts.
func (s Set) Len() int { return len(s.values) }

// Of builds a Set directly from values.
func Of(values Values) Set {
	b := NewBuilder()
	for _, name := range sortedKeys(values) {
		b.Put(name, values[name])
	}
	return b.Freeze()
}

// Builder accumulates facts for one request. Not safe for concurrent use;
// the resolver merges connector results on a single goroutine.
type Builder struct {
	values      map[string]Value
	unavailable map[string]Unavailable
	frozen      bool
}

func NewBuilder() *Builder {
	return &Builder{
		values:      make(map[string]Value),
		unavailable: make(map[string]Unavailable),
	}
}

// Put records name unless a value was already recorded. First writer wins so
// merge order, not timing, decides overlaps. Reports whether it was stored.
func (b *Builder) Put(name string, v Value) bool {
	if b.frozen || v.IsAbsent() {
		return false
	}
	if _, exists := b.values[name]; exists {
		return false
	}
	b.values[name] = v
	delete(b.unavailable, name)
	return true
}

// PutAll merges values in sorted name order.
func (b *Builder) PutAll(values Values) {
	for _, name := range sortedKeys(values) {
		b.Put(name, values[name])
	}
}

// Has reports whether name already holds a value.
func (b *Builder) Has(name string) bool {
	_, ok := b.values[name]
	return ok
}

// MarkUnavailable records why name is missing. Ignored if the fact already
// has a value or an earlier reason.
func (b *Builder) MarkUnavailable(name string, u Unavailable) {
	if b.frozen {
		return
	}
	if _, ok := b.values[name]; ok {
		return
	}
	if _, ok := b.unavailable[name]; ok {
		return
	}
	b.unavailable[name] = u
}

// Freeze returns the immutable Set. The builder must not be reused.
func (b *Builder) Freeze() Set {
	b.frozen = true
	return Set{values: b.values, unavailable: b.unavailable}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
