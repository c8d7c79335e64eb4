// Package redisconn reads subject facts from a Redis hash.
package redisconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"

	"attestor/internal/connector"
	"attestor/internal/facts"
)

// DefaultKeyPattern places facts for subject ABC at "facts:ABC".
const DefaultKeyPattern = "facts:{subject}"

// Config describes one Redis-backed fact source.
type Config struct {
	Name       string
	KeyPattern string
	Provides   []string
	// Types declares how hash fields are decoded; undeclared fields are
	// strings.
	Types map[string]facts.Kind
}

// Connector implements connector.Connector with HGETALL.
type Connector struct {
	cfg    Config
	client redis.Cmdable
}

func New(client redis.Cmdable, cfg Config) (*Connector, error) {
	if client == nil {
		return nil, errors.New("redisconn: client is required")
	}
	if cfg.Name == "" {
		return nil, errors.New("redisconn: name is required")
	}
	if cfg.KeyPattern == "" {
		cfg.KeyPattern = DefaultKeyPattern
	}
	if !strings.Contains(cfg.KeyPattern, "{subject}") {
		return nil, fmt.Errorf("redisconn %s: key pattern %q has no {subject} placeholder", cfg.Name, cfg.KeyPattern)
	}
	return &Connector{cfg: cfg, client: client}, nil
}

func (c *Connector) Name() string { return c.cfg.Name }

func (c *Connector) Provides() []string { return c.cfg.Provides }

func (c *Connector) key(subjectID string) string {
	return strings.ReplaceAll(c.cfg.KeyPattern, "{subject}", subjectID)
}

func (c *Connector) Fetch(ctx context.Context, subject connector.Subject) (facts.Values, error) {
	fields, err := c.client.HGetAll(ctx, c.key(subject.ID)).Result()
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	if len(fields) == 0 {
		return nil, connector.NewError(connector.CategoryNotFound, c.cfg.Name, "subject not found", nil)
	}
	return c.decode(fields)
}

func (c *Connector) decode(fields map[string]string) (facts.Values, error) {
	out := make(facts.Values, len(fields))
	for name, raw := range fields {
		if len(c.cfg.Provides) > 0 && !connector.Supplies(c, name) {
			continue
		}
		kind, ok := c.cfg.Types[name]
		if !ok {
			kind = facts.KindString
		}
		v, err := facts.Coerce(raw, kind)
		if err != nil {
			return nil, connector.NewError(connector.CategoryBadData, c.cfg.Name, "field "+name, err)
		}
		out[name] = v
	}
	return out, nil
}

func (c *Connector) classify(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil, errors.As(err, &netErr) && netErr.Timeout():
		return connector.NewError(connector.CategoryTimeout, c.cfg.Name, "redis timed out", err)
	case strings.HasPrefix(err.Error(), "NOAUTH"), strings.HasPrefix(err.Error(), "WRONGPASS"):
		return connector.NewError(connector.CategoryAuth, c.cfg.Name, "redis rejected credentials", err)
	case strings.HasPrefix(err.Error(), "WRONGTYPE"):
		return connector.NewError(connector.CategoryBadData, c.cfg.Name, "key is not a hash", err)
	default:
		return connector.NewError(connector.CategoryTransport, c.cfg.Name, "redis call failed", err)
	}
}
