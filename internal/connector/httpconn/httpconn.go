// Package httpconn fetches facts from a JSON HTTP endpoint.
package httpconn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"attestor/internal/connector"
	"attestor/internal/facts"
)

// SubjectPlaceholder is substituted with the escaped subject identifier.
const SubjectPlaceholder = "{subject}"

const maxResponseBytes = 1 << 20

// AuthMode selects how credentials are attached.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthAPIKey AuthMode = "api_key"
	AuthBearer AuthMode = "bearer"
)

// Config describes one HTTP fact source.
type Config struct {
	Name     string
	URL      string
	Method   string
	Auth     AuthMode
	Token    string
	Provides []string
	// Fields maps fact names to top-level response keys when they differ.
	Fields map[string]string
}

// Connector implements connector.Connector over HTTP.
type Connector struct {
	cfg    Config
	client *http.Client
}

type Option func(*Connector)

// WithHTTPClient replaces the default client. Per-call deadlines come from
// the context, so the client needs no timeout of its own.
func WithHTTPClient(c *http.Client) Option {
	return func(conn *Connector) {
		conn.client = c
	}
}

func New(cfg Config, opts ...Option) (*Connector, error) {
	if cfg.Name == "" {
		return nil, errors.New("httpconn: name is required")
	}
	if _, err := url.Parse(strings.ReplaceAll(cfg.URL, SubjectPlaceholder, "x")); err != nil || cfg.URL == "" {
		return nil, fmt.Errorf("httpconn %s: invalid url %q", cfg.Name, cfg.URL)
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	switch cfg.Method {
	case "":
		cfg.Method = http.MethodGet
	case http.MethodGet, http.MethodPost:
	default:
		return nil, fmt.Errorf("httpconn %s: unsupported method %q", cfg.Name, cfg.Method)
	}
	switch cfg.Auth {
	case "":
		cfg.Auth = AuthNone
	case AuthNone:
	case AuthAPIKey, AuthBearer:
		if cfg.Token == "" {
			return nil, fmt.Errorf("httpconn %s: auth %s requires a token", cfg.Name, cfg.Auth)
		}
	default:
		return nil, fmt.Errorf("httpconn %s: unknown auth mode %q", cfg.Name, cfg.Auth)
	}

	c := &Connector{cfg: cfg, client: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Connector) Name() string       { return c.cfg.Name }
func (c *Connector) Provides() []string { return c.cfg.Provides }

func (c *Connector) Fetch(ctx context.Context, subject connector.Subject) (facts.Values, error) {
	req, err := c.newRequest(ctx, subject)
	if err != nil {
		return nil, connector.NewError(connector.CategoryInternal, c.cfg.Name, "build request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	return c.parseResponse(resp.StatusCode, body)
}

func (c *Connector) newRequest(ctx context.Context, subject connector.Subject) (*http.Request, error) {
	target := strings.ReplaceAll(c.cfg.URL, SubjectPlaceholder, url.PathEscape(subject.ID))

	var body io.Reader
	if c.cfg.Method == http.MethodPost {
		payload, err := json.Marshal(map[string]any{
			"subject":      subject.ID,
			"jurisdiction": subject.Jurisdiction,
			"context":      subject.Context,
		})
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, c.cfg.Method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch c.cfg.Auth {
	case AuthAPIKey:
		req.Header.Set("X-API-Key", c.cfg.Token)
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	return req, nil
}

func (c *Connector) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return connector.NewError(connector.CategoryCanceled, c.cfg.Name, "request canceled", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		return connector.NewError(connector.CategoryTimeout, c.cfg.Name, "request timed out", err)
	}
	return connector.NewError(connector.CategoryTransport, c.cfg.Name, "request failed", err)
}

// parseResponse maps a status and body to facts. Only the declared facts are
// kept when the connector declares any.
func (c *Connector) parseResponse(status int, body []byte) (facts.Values, error) {
	switch {
	case status == http.StatusNotFound:
		return nil, connector.NewError(connector.CategoryNotFound, c.cfg.Name, "subject not found", nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, connector.NewError(connector.CategoryAuth, c.cfg.Name, fmt.Sprintf("status %d", status), nil)
	case status < 200 || status > 299:
		return nil, connector.NewError(connector.CategoryBadStatus, c.cfg.Name, fmt.Sprintf("status %d", status), nil)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, connector.NewError(connector.CategoryBadData, c.cfg.Name, "decode response", err)
	}

	out := make(facts.Values)
	if len(c.cfg.Provides) == 0 {
		// Wildcard sources may carry nested payloads; keep what maps to facts.
		for key, val := range raw {
			v, err := facts.FromAny(val)
			if err != nil {
				continue
			}
			if !v.IsAbsent() {
				out[key] = v
			}
		}
		return out, nil
	}

	for _, name := range c.cfg.Provides {
		key := name
		if mapped, ok := c.cfg.Fields[name]; ok {
			key = mapped
		}
		val, ok := raw[key]
		if !ok {
			continue
		}
		v, err := facts.FromAny(val)
		if err != nil {
			return nil, connector.NewError(connector.CategoryBadData, c.cfg.Name, "field "+key, err)
		}
		if !v.IsAbsent() {
			out[name] = v
		}
	}
	return out, nil
}
