//go:generate mockgen -source=connector.go -destination=mocks/mocks.go -package=mocks Connector

// Package connector defines the capability every external fact source
// implements, the normalized failure taxonomy, and the ordered registry the
// resolver draws from.
package connector

import (
	"context"
	"time"

	"attestor/internal/facts"
)

// Subject identifies who facts are fetched for. It lives for one request
// and must never be persisted or logged raw.
type Subject struct {
	ID           string
	Jurisdiction string
	ClientID     string
	Context      map[string]string
}

// Connector is the universal interface all fact sources implement.
type Connector interface {
	// Name is the stable identity used for breaker state and attribution.
	Name() string

	// Provides lists the facts this connector can supply. An empty list
	// marks a wildcard connector that is consulted for every request.
	Provides() []string

	// Fetch returns the facts known about subject. Implementations must
	// honor ctx cancellation; the resolver abandons calls that outlive it.
	Fetch(ctx context.Context, subject Subject) (facts.Values, error)
}

// Policy bounds how the resolver calls one connector.
type Policy struct {
	Timeout     time.Duration
	Retries     int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy is applied to connectors registered without one.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:     2 * time.Second,
		Retries:     1,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  time.Second,
	}
}

// Backoff is the sleep before retry attempt n (1-based): base * 2^(n-1),
// capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseBackoff <= 0 {
		return 0
	}
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
