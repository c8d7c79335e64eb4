package circuit

import (
	"sort"
	"sync"
)

// Table owns one breaker per dependency name. Breakers are created lazily
// with the table's settings, so independent tables never share state.
type Table struct {
	settings settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewTable(opts ...Option) *Table {
	s := defaultSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return &Table{
		settings: s,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (t *Table) Get(name string) *Breaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.breakers[name]
	if !ok {
		b = newBreaker(name, t.settings)
		t.breakers[name] = b
	}
	return b
}

// Snapshot returns the status of every known breaker, sorted by name.
func (t *Table) Snapshot() []Status {
	t.mu.Lock()
	breakers := make([]*Breaker, 0, len(t.breakers))
	for _, b := range t.breakers {
		breakers = append(breakers, b)
	}
	t.mu.Unlock()

	out := make([]Status, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
