// Package config loads server configuration from ATTESTOR_* environment
// variables.
//
// Required variables:
//   - ATTESTOR_MASTER_KEY: hex-encoded secret of at least 32 bytes. Signing,
//     binding and pseudonymisation keys are all derived from it.
//
// Optional variables (defaults in parentheses):
//   - ATTESTOR_HTTP_ADDR (":8080")
//   - ATTESTOR_LOG_LEVEL ("info"), ATTESTOR_LOG_FORMAT ("json" or "text")
//   - ATTESTOR_RULES_PATH ("config/rules.yaml")
//   - ATTESTOR_CONNECTORS_PATH ("config/connectors.yaml")
//   - ATTESTOR_TRUSTED_KEYS_PATH: public keys of other issuers to accept.
//   - ATTESTOR_SECURITY_QUESTIONS: comma-separated fact names a client may
//     answer in security_answers; "none" disables the check. Defaults to
//     the knowledge-based questions in defaultSecurityQuestions.
//   - ATTESTOR_JURISDICTIONS: comma-separated allow-list; empty allows every
//     jurisdiction the rule set declares.
//   - ATTESTOR_REQUEST_DEADLINE ("5s")
//   - ATTESTOR_ISSUER ("attestor"), ATTESTOR_SIGNING_ALG ("EdDSA"),
//     ATTESTOR_KEY_ID ("k1"), ATTESTOR_CREDENTIAL_TTL ("15m")
//   - ATTESTOR_QR_ENABLED ("true"), ATTESTOR_QR_SIZE ("256")
//   - ATTESTOR_DEFAULT_OUTCOME ("NO"), ATTESTOR_DEFAULT_REASON
//   - ATTESTOR_MAX_CONDITION_DEPTH ("16")
//   - ATTESTOR_BREAKER_THRESHOLD ("3"), ATTESTOR_BREAKER_WINDOW ("1m"),
//     ATTESTOR_BREAKER_COOLDOWN ("30s"), ATTESTOR_BREAKER_MAX_COOLDOWN ("5m"),
//     ATTESTOR_BREAKER_BACKOFF ("2")
//   - ATTESTOR_REDIS_URL, ATTESTOR_DATABASE_URL: required only when a
//     configured connector needs them.
//   - ATTESTOR_KAFKA_BROKERS, ATTESTOR_AUDIT_TOPIC ("attestor.audit"),
//     ATTESTOR_AUDIT_BUFFER ("1024")
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	strs "attestor/pkg/platform/strings"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	defaultHTTPAddr        = ":8080"
	defaultRulesPath       = "config/rules.yaml"
	defaultConnectorsPath  = "config/connectors.yaml"
	defaultRequestDeadline = 5 * time.Second
	defaultIssuer          = "attestor"
	defaultSigningAlg      = "EdDSA"
	defaultKeyID           = "k1"
	defaultCredentialTTL   = 15 * time.Minute
	defaultQRSize          = 256
	defaultOutcome         = "NO"
	defaultMaxDepth        = 16
	defaultBreakerFailures = 3
	defaultBreakerWindow   = time.Minute
	defaultBreakerCooldown = 30 * time.Second
	defaultBreakerMax      = 5 * time.Minute
	defaultBreakerBackoff  = 2.0
	defaultAuditTopic      = "attestor.audit"
	defaultAuditBuffer     = 1024
	minMasterKeyBytes      = 32
)

var defaultSecurityQuestions = []string{
	"car_registration",
	"first_movie_seen",
	"first_pet_name",
	"mothers_maiden_name",
	"first_school_name",
	"favorite_color",
	"birth_town",
}

// Breaker holds circuit breaker settings shared by every connector.
type Breaker struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
	MaxCooldown      time.Duration
	BackoffFactor    float64
}

// Config holds the runtime configuration for the attestor server.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	RulesPath       string
	ConnectorsPath  string
	TrustedKeysPath string
	Jurisdictions   []string
	RequestDeadline time.Duration
	MaxDepth        int
	DefaultOutcome  string
	DefaultReason   string

	SecurityQuestions []string

	MasterKey     []byte
	Issuer        string
	SigningAlg    string
	KeyID         string
	CredentialTTL time.Duration
	QREnabled     bool
	QRSize        int

	Breaker Breaker

	RedisURL    string
	DatabaseURL string

	KafkaBrokers []string
	AuditTopic   string
	AuditBuffer  int
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv, so tests need not touch the
// process environment.
func LoadFrom(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	cfg := Config{
		HTTPAddr:        p.str("ATTESTOR_HTTP_ADDR", defaultHTTPAddr),
		LogLevel:        p.str("ATTESTOR_LOG_LEVEL", "info"),
		LogFormat:       p.oneOf("ATTESTOR_LOG_FORMAT", "json", "json", "text"),
		RulesPath:       p.str("ATTESTOR_RULES_PATH", defaultRulesPath),
		ConnectorsPath:  p.str("ATTESTOR_CONNECTORS_PATH", defaultConnectorsPath),
		TrustedKeysPath: p.str("ATTESTOR_TRUSTED_KEYS_PATH", ""),
		Jurisdictions:   strs.DedupeAndTrimUpper(p.list("ATTESTOR_JURISDICTIONS")),
		RequestDeadline: p.duration("ATTESTOR_REQUEST_DEADLINE", defaultRequestDeadline),
		MaxDepth:        p.positiveInt("ATTESTOR_MAX_CONDITION_DEPTH", defaultMaxDepth),
		DefaultOutcome:  strings.ToUpper(p.oneOf("ATTESTOR_DEFAULT_OUTCOME", defaultOutcome, "YES", "NO")),
		DefaultReason:   p.str("ATTESTOR_DEFAULT_REASON", ""),

		SecurityQuestions: p.securityQuestions("ATTESTOR_SECURITY_QUESTIONS"),

		MasterKey:     p.masterKey("ATTESTOR_MASTER_KEY"),
		Issuer:        p.str("ATTESTOR_ISSUER", defaultIssuer),
		SigningAlg:    p.oneOf("ATTESTOR_SIGNING_ALG", defaultSigningAlg, "HS256", "EdDSA", "ML-DSA-65"),
		KeyID:         p.str("ATTESTOR_KEY_ID", defaultKeyID),
		CredentialTTL: p.duration("ATTESTOR_CREDENTIAL_TTL", defaultCredentialTTL),
		QREnabled:     p.boolean("ATTESTOR_QR_ENABLED", true),
		QRSize:        p.positiveInt("ATTESTOR_QR_SIZE", defaultQRSize),

		Breaker: Breaker{
			FailureThreshold: p.positiveInt("ATTESTOR_BREAKER_THRESHOLD", defaultBreakerFailures),
			Window:           p.duration("ATTESTOR_BREAKER_WINDOW", defaultBreakerWindow),
			Cooldown:         p.duration("ATTESTOR_BREAKER_COOLDOWN", defaultBreakerCooldown),
			MaxCooldown:      p.duration("ATTESTOR_BREAKER_MAX_COOLDOWN", defaultBreakerMax),
			BackoffFactor:    p.factor("ATTESTOR_BREAKER_BACKOFF", defaultBreakerBackoff),
		},

		RedisURL:    p.str("ATTESTOR_REDIS_URL", ""),
		DatabaseURL: p.str("ATTESTOR_DATABASE_URL", ""),

		KafkaBrokers: p.list("ATTESTOR_KAFKA_BROKERS"),
		AuditTopic:   p.str("ATTESTOR_AUDIT_TOPIC", defaultAuditTopic),
		AuditBuffer:  p.positiveInt("ATTESTOR_AUDIT_BUFFER", defaultAuditBuffer),
	}

	if cfg.Breaker.MaxCooldown < cfg.Breaker.Cooldown {
		p.fail("ATTESTOR_BREAKER_MAX_COOLDOWN must not be below ATTESTOR_BREAKER_COOLDOWN")
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

// parser collects every problem instead of stopping at the first.
type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) fail(format string, args ...any) {
	p.errs = append(p.errs, fmt.Errorf(format, args...))
}

func (p *parser) raw(key string) string {
	return strings.TrimSpace(p.getenv(key))
}

func (p *parser) str(key, fallback string) string {
	if v := p.raw(key); v != "" {
		return v
	}
	return fallback
}

func (p *parser) oneOf(key, fallback string, allowed ...string) string {
	v := p.raw(key)
	if v == "" {
		return fallback
	}
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return a
		}
	}
	p.fail("%s must be one of %s", key, strings.Join(allowed, ", "))
	return fallback
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := p.raw(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail("parse %s: %w", key, err)
		return fallback
	}
	if d <= 0 {
		p.fail("%s must be > 0", key)
		return fallback
	}
	return d
}

func (p *parser) positiveInt(key string, fallback int) int {
	v := p.raw(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		p.fail("%s must be a positive integer", key)
		return fallback
	}
	return n
}

func (p *parser) factor(key string, fallback float64) float64 {
	v := p.raw(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 1 {
		p.fail("%s must be a number >= 1", key)
		return fallback
	}
	return f
}

func (p *parser) boolean(key string, fallback bool) bool {
	v := p.raw(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail("parse %s: %w", key, err)
		return fallback
	}
	return b
}

func (p *parser) list(key string) []string {
	v := p.raw(key)
	if v == "" {
		return nil
	}
	return strs.SplitList(v, ",")
}

func (p *parser) securityQuestions(key string) []string {
	v := p.raw(key)
	switch {
	case v == "":
		return strs.DedupeAndTrim(defaultSecurityQuestions)
	case strings.EqualFold(v, "none"):
		return nil
	}
	return p.list(key)
}

func (p *parser) masterKey(key string) []byte {
	v := p.raw(key)
	if v == "" {
		p.fail("%s is required", key)
		return nil
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		p.fail("%s must be hex-encoded", key)
		return nil
	}
	if len(b) < minMasterKeyBytes {
		p.fail("%s must decode to at least %d bytes", key, minMasterKeyBytes)
		return nil
	}
	return b
}
