// Package sqlconn reads subject facts from a Postgres query. Each result
// column becomes a fact named after the column.
package sqlconn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"attestor/internal/connector"
	"attestor/internal/facts"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Config describes one SQL fact source. Query receives the subject id as $1
// and the jurisdiction as $2 and must return at most one row.
type Config struct {
	Name     string
	Query    string
	Provides []string
}

type Connector struct {
	cfg Config
	db  Querier
}

func New(db Querier, cfg Config) (*Connector, error) {
	if db == nil {
		return nil, errors.New("sqlconn: querier is required")
	}
	if cfg.Name == "" {
		return nil, errors.New("sqlconn: name is required")
	}
	if !strings.Contains(cfg.Query, "$1") {
		return nil, fmt.Errorf("sqlconn %s: query must reference the subject as $1", cfg.Name)
	}
	return &Connector{cfg: cfg, db: db}, nil
}

func (c *Connector) Name() string { return c.cfg.Name }

func (c *Connector) Provides() []string { return c.cfg.Provides }

func (c *Connector) Fetch(ctx context.Context, subject connector.Subject) (facts.Values, error) {
	args := []any{subject.ID}
	if strings.Contains(c.cfg.Query, "$2") {
		args = append(args, subject.Jurisdiction)
	}

	rows, err := c.db.Query(ctx, c.cfg.Query, args...)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, c.classify(ctx, err)
		}
		return nil, connector.NewError(connector.CategoryNotFound, c.cfg.Name, "subject not found", nil)
	}
	raw, err := rows.Values()
	if err != nil {
		return nil, connector.NewError(connector.CategoryBadData, c.cfg.Name, "read row", err)
	}
	return c.decode(rows.FieldDescriptions(), raw)
}

func (c *Connector) decode(fields []pgconn.FieldDescription, raw []any) (facts.Values, error) {
	out := make(facts.Values, len(fields))
	for i, fd := range fields {
		if i >= len(raw) {
			break
		}
		name := fd.Name
		if len(c.cfg.Provides) > 0 && !connector.Supplies(c, name) {
			continue
		}
		v, err := toValue(raw[i])
		if err != nil {
			return nil, connector.NewError(connector.CategoryBadData, c.cfg.Name, "column "+name, err)
		}
		if !v.IsAbsent() {
			out[name] = v
		}
	}
	return out, nil
}

// toValue converts driver values; numerics keep their exact digits.
func toValue(x any) (facts.Value, error) {
	switch t := x.(type) {
	case pgtype.Numeric:
		if !t.Valid {
			return facts.Absent(), nil
		}
		if t.NaN || t.InfinityModifier != pgtype.Finite {
			return facts.Value{}, errors.New("non-finite numeric")
		}
		return facts.Number(decimal.NewFromBigInt(t.Int, t.Exp)), nil
	case time.Time:
		return facts.String(t.UTC().Format(time.RFC3339)), nil
	case []byte:
		return facts.String(string(t)), nil
	}
	return facts.FromAny(x)
}

func (c *Connector) classify(ctx context.Context, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil, pgconn.Timeout(err):
		return connector.NewError(connector.CategoryTimeout, c.cfg.Name, "query timed out", err)
	case errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "28"):
		return connector.NewError(connector.CategoryAuth, c.cfg.Name, "database rejected credentials", err)
	case errors.As(err, &pgErr):
		return connector.NewError(connector.CategoryBadStatus, c.cfg.Name, "query failed: "+pgErr.Code, err)
	default:
		return connector.NewError(connector.CategoryTransport, c.cfg.Name, "database unreachable", err)
	}
}
