package rules

import (
	"errors"
	"sync/atomic"
)

// Store publishes the active RuleSet. Readers take a snapshot with Current
// and keep using it for the whole request, even if a reload happens.
type Store struct {
	current atomic.Pointer[RuleSet]
}

func NewStore(initial *RuleSet) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

func (s *Store) Current() *RuleSet {
	return s.current.Load()
}

// Swap publishes next and returns the previous snapshot. A nil next is
// rejected so a failed reload keeps the old rules in place.
func (s *Store) Swap(next *RuleSet) (*RuleSet, error) {
	if next == nil {
		return nil, errors.New("rules: refusing to publish an empty snapshot")
	}
	return s.current.Swap(next), nil
}

// ReloadFile loads and validates path, publishing it only on success.
func (s *Store) ReloadFile(path string, opts ValidationOptions) (*RuleSet, error) {
	next, err := LoadFile(path, opts)
	if err != nil {
		return nil, err
	}
	if _, err := s.Swap(next); err != nil {
		return nil, err
	}
	return next, nil
}
