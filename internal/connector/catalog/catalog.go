// Package catalog builds the connector registry from the connectors
// document.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"attestor/internal/connector"
	"attestor/internal/connector/httpconn"
	"attestor/internal/connector/redisconn"
	"attestor/internal/connector/sqlconn"
	"attestor/internal/connector/static"
	"attestor/internal/facts"
	"attestor/pkg/platform/document"
	strs "attestor/pkg/platform/strings"
)

// Kind selects the connector implementation.
type Kind string

const (
	KindHTTP   Kind = "http"
	KindStatic Kind = "static"
	KindRedis  Kind = "redis"
	KindSQL    Kind = "sql"
)

// Spec is one entry of the connectors document.
type Spec struct {
	Name        string            `yaml:"name"`
	Type        Kind              `yaml:"type"`
	Provides    []string          `yaml:"provides"`
	Timeout     time.Duration     `yaml:"timeout"`
	Retries     *int              `yaml:"retries"`
	BaseBackoff time.Duration     `yaml:"base_backoff"`
	MaxBackoff  time.Duration     `yaml:"max_backoff"`
	URL         string            `yaml:"url"`
	Method      string            `yaml:"method"`
	Auth        AuthSpec          `yaml:"auth"`
	Fields      map[string]string `yaml:"fields"`
	KeyPattern  string            `yaml:"key_pattern"`
	Types       map[string]string `yaml:"types"`
	Query       string            `yaml:"query"`
	Subjects    yaml.Node         `yaml:"subjects"`
}

// AuthSpec names the credential mode. The token is read from TokenEnv so
// secrets stay out of the document; Token is accepted for local setups.
type AuthSpec struct {
	Type     string `yaml:"type"`
	Token    string `yaml:"token"`
	TokenEnv string `yaml:"token_env"`
}

// Document is the connectors file layout.
type Document struct {
	Connectors []Spec `yaml:"connectors"`
}

// Deps carries shared clients. A nil client makes specs that need it fail.
type Deps struct {
	Redis    redis.Cmdable
	DB       sqlconn.Querier
	Getenv   func(string) string
	HTTPOpts []httpconn.Option
}

// LoadFile parses a connectors document.
func LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes a connectors document; hint selects YAML or JSON(C).
func Parse(hint string, data []byte) (Document, error) {
	doc, err := document.Decode[Document](hint, data)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// NeedsRedis reports whether any spec reads from Redis.
func (d Document) NeedsRedis() bool { return d.uses(KindRedis) }

// NeedsDB reports whether any spec reads from Postgres.
func (d Document) NeedsDB() bool { return d.uses(KindSQL) }

func (d Document) uses(k Kind) bool {
	for _, s := range d.Connectors {
		if s.Type == k {
			return true
		}
	}
	return false
}

// Build constructs every connector in document order.
func Build(doc Document, deps Deps) (*connector.Registry, error) {
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}
	reg := connector.NewRegistry()
	var errs []error
	for i, spec := range doc.Connectors {
		c, err := build(spec, deps)
		if err != nil {
			errs = append(errs, fmt.Errorf("connectors[%d] %s: %w", i, spec.Name, err))
			continue
		}
		if err := reg.Register(c, spec.policy()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

func (s Spec) policy() connector.Policy {
	p := connector.DefaultPolicy()
	if s.Timeout > 0 {
		p.Timeout = s.Timeout
	}
	if s.Retries != nil && *s.Retries >= 0 {
		p.Retries = *s.Retries
	}
	if s.BaseBackoff > 0 {
		p.BaseBackoff = s.BaseBackoff
	}
	if s.MaxBackoff > 0 {
		p.MaxBackoff = s.MaxBackoff
	}
	return p
}

func build(spec Spec, deps Deps) (connector.Connector, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.New("name is required")
	}
	spec.Provides = strs.DedupeAndTrim(spec.Provides)
	switch spec.Type {
	case KindHTTP:
		token := spec.Auth.Token
		if spec.Auth.TokenEnv != "" {
			token = deps.Getenv(spec.Auth.TokenEnv)
		}
		return httpconn.New(httpconn.Config{
			Name:     spec.Name,
			URL:      spec.URL,
			Method:   spec.Method,
			Auth:     httpconn.AuthMode(strings.ToLower(spec.Auth.Type)),
			Token:    token,
			Provides: spec.Provides,
			Fields:   spec.Fields,
		}, deps.HTTPOpts...)
	case KindStatic:
		return static.FromYAML(spec.Name, spec.Provides, &spec.Subjects)
	case KindRedis:
		if deps.Redis == nil {
			return nil, errors.New("redis connector configured but no redis client available")
		}
		types := make(map[string]facts.Kind, len(spec.Types))
		for name, raw := range spec.Types {
			kind, err := facts.ParseKind(raw)
			if err != nil {
				return nil, fmt.Errorf("types.%s: %w", name, err)
			}
			types[name] = kind
		}
		return redisconn.New(deps.Redis, redisconn.Config{
			Name:       spec.Name,
			KeyPattern: spec.KeyPattern,
			Provides:   spec.Provides,
			Types:      types,
		})
	case KindSQL:
		if deps.DB == nil {
			return nil, errors.New("sql connector configured but no database pool available")
		}
		return sqlconn.New(deps.DB, sqlconn.Config{
			Name:     spec.Name,
			Query:    spec.Query,
			Provides: spec.Provides,
		})
	default:
		return nil, fmt.Errorf("unknown connector type %q", spec.Type)
	}
}
