// Package contract holds reusable test suites every connector implementation
// must pass.
package contract

import (
	"context"
	"slices"
	"testing"

	"attestor/internal/connector"
	"attestor/internal/facts"
)

// FetchTest is one successful-fetch expectation.
type FetchTest struct {
	Name         string
	Subject      connector.Subject
	Expected     facts.Values
	ValidateFunc func(values facts.Values) error
}

// Suite is a collection of contract tests for one connector.
type Suite struct {
	Connector connector.Connector
	Tests     []FetchTest
}

// Run executes all fetch tests in the suite.
func (s *Suite) Run(t *testing.T) {
	t.Helper()
	for _, test := range s.Tests {
		t.Run(test.Name, func(t *testing.T) {
			values, err := s.Connector.Fetch(context.Background(), test.Subject)
			if err != nil {
				t.Fatalf("fetch failed: %v", err)
			}

			if provides := s.Connector.Provides(); len(provides) > 0 {
				for name := range values {
					if !slices.Contains(provides, name) {
						t.Errorf("fact %q returned but not declared", name)
					}
				}
			}

			for name, want := range test.Expected {
				got, ok := values[name]
				if !ok {
					t.Errorf("fact %q missing", name)
					continue
				}
				if !got.Equal(want) {
					t.Errorf("fact %q: expected %s, got %s", name, want, got)
				}
			}

			if test.ValidateFunc != nil {
				if err := test.ValidateFunc(values); err != nil {
					t.Errorf("custom validation failed: %v", err)
				}
			}
		})
	}
}

// ErrorTest validates that a failing fetch follows the taxonomy.
type ErrorTest struct {
	Name          string
	Connector     connector.Connector
	Subject       connector.Subject
	ExpectedError connector.Category
	ExpectedRetry bool
}

func (et *ErrorTest) Run(t *testing.T) {
	t.Helper()
	t.Run(et.Name, func(t *testing.T) {
		_, err := et.Connector.Fetch(context.Background(), et.Subject)
		if err == nil {
			t.Fatal("expected error but got none")
		}
		if category := connector.CategoryOf(err); category != et.ExpectedError {
			t.Errorf("expected error category %s, got %s", et.ExpectedError, category)
		}
		if retry := connector.IsRetryable(err); retry != et.ExpectedRetry {
			t.Errorf("expected retryable=%v, got %v", et.ExpectedRetry, retry)
		}
	})
}
