package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"attestor/internal/audit"
	auditkafka "attestor/internal/audit/kafka"
	"attestor/internal/connector/catalog"
	"attestor/internal/connector/httpconn"
	"attestor/internal/credential"
	"attestor/internal/platform/config"
	"attestor/internal/platform/metrics"
	"attestor/internal/platform/postgres"
	platformredis "attestor/internal/platform/redis"
	"attestor/internal/resolver"
	"attestor/internal/rules"
	"attestor/internal/verification"
	"attestor/internal/verification/handler"
	"attestor/pkg/platform/circuit"
)

const (
	dbMaxConns        = 10
	kafkaSetupTimeout = 15 * time.Second
)

type app struct {
	store   *rules.Store
	service *verification.Service
	handler *handler.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build assembles the service graph. On error, everything opened so far is
// closed again.
func build(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	rs, err := rules.LoadFile(cfg.RulesPath, rules.ValidationOptions{MaxDepth: cfg.MaxDepth})
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	a.store = rules.NewStore(rs)

	doc, err := catalog.LoadFile(cfg.ConnectorsPath)
	if err != nil {
		return nil, fmt.Errorf("load connectors: %w", err)
	}
	deps := catalog.Deps{
		HTTPOpts: []httpconn.Option{
			httpconn.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
		},
	}
	if doc.NeedsRedis() {
		if cfg.RedisURL == "" {
			return nil, errors.New("a redis connector is configured but ATTESTOR_REDIS_URL is empty")
		}
		rdb, err := platformredis.New(ctx, cfg.RedisURL, platformredis.Options{})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		deps.Redis = rdb
	}
	if doc.NeedsDB() {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("a sql connector is configured but ATTESTOR_DATABASE_URL is empty")
		}
		var pool *pgxpool.Pool
		pool, err = postgres.Open(ctx, cfg.DatabaseURL, dbMaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		metrics.RegisterPoolMetrics(m.Registry, pool)
		deps.DB = pool
	}
	registry, err := catalog.Build(doc, deps)
	if err != nil {
		return nil, fmt.Errorf("build connectors: %w", err)
	}

	pseudoKey, err := credential.DeriveKey(cfg.MasterKey, "pseudonym", 32)
	if err != nil {
		return nil, fmt.Errorf("derive pseudonym key: %w", err)
	}
	pseudo, err := audit.NewPseudonymiser(pseudoKey)
	if err != nil {
		return nil, err
	}

	resolverMetrics := resolver.NewMetrics(m.Registry)
	breakers := circuit.NewTable(
		circuit.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		circuit.WithWindow(cfg.Breaker.Window),
		circuit.WithCooldown(cfg.Breaker.Cooldown),
		circuit.WithBackoff(cfg.Breaker.BackoffFactor, cfg.Breaker.MaxCooldown),
		circuit.WithOnStateChange(resolver.StateChangeHook(log, resolverMetrics)),
	)
	res := resolver.New(registry, breakers,
		resolver.WithDeadline(cfg.RequestDeadline),
		resolver.WithLogger(log),
		resolver.WithMetrics(resolverMetrics),
		resolver.WithPseudonymiser(pseudo),
	)

	signer, err := credential.NewSigner(credential.KeySpec{Algorithm: cfg.SigningAlg, KeyID: cfg.KeyID}, cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}
	bindKey, err := credential.DeriveKey(cfg.MasterKey, "binding", 32)
	if err != nil {
		return nil, fmt.Errorf("derive binding key: %w", err)
	}
	binder, err := credential.NewBinder(bindKey)
	if err != nil {
		return nil, err
	}
	issuer, err := credential.NewIssuer(signer, cfg.Issuer, binder,
		credential.WithValidity(cfg.CredentialTTL),
		credential.WithQR(cfg.QREnabled, cfg.QRSize),
		credential.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("build issuer: %w", err)
	}

	keys := credential.NewKeyRing()
	keys.Add(cfg.Issuer, signer)
	if cfg.TrustedKeysPath != "" {
		trusted, err := credential.LoadTrustedKeys(cfg.TrustedKeysPath)
		if err != nil {
			return nil, fmt.Errorf("load trusted keys: %w", err)
		}
		if err := keys.AddTrusted(trusted); err != nil {
			return nil, fmt.Errorf("trust keys: %w", err)
		}
		log.Info("trusted issuers loaded", "issuers", keys.Issuers())
	}

	publisher, err := a.buildAudit(ctx, cfg, log, m)
	if err != nil {
		return nil, err
	}

	engine := rules.NewEngine(rules.WithDefault(rules.Outcome(cfg.DefaultOutcome), cfg.DefaultReason))
	a.service = verification.New(a.store, engine, res, issuer, credential.NewChecker(keys),
		verification.WithJurisdictions(cfg.Jurisdictions),
		verification.WithSecurityQuestions(cfg.SecurityQuestions),
		verification.WithAuditor(publisher),
		verification.WithPseudonymiser(pseudo),
		verification.WithBinder(binder),
		verification.WithMetrics(verification.NewMetrics(m.Registry)),
		verification.WithLogger(log),
	)

	opts := []handler.Option{
		handler.WithConnectors(registry, breakers),
		handler.WithQRSize(cfg.QRSize),
	}
	if pub, ok := credential.Export(cfg.Issuer, signer); ok {
		opts = append(opts, handler.WithPublicKeys(pub))
	}
	a.handler = handler.New(a.service, log, opts...)

	log.Info("attestor assembled",
		"rules", rs.Len(),
		"connectors", registry.Len(),
		"redis", deps.Redis != nil,
		"postgres", deps.DB != nil,
	)
	return a, nil
}

// buildAudit logs every event and, with brokers configured, also streams
// them to Kafka. The publisher is asynchronous; it is closed before the
// Kafka client so buffered events are flushed.
func (a *app) buildAudit(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) (*audit.Publisher, error) {
	sinks := audit.Fanout{audit.NewLogSink(log)}

	if len(cfg.KafkaBrokers) > 0 {
		ks, err := auditkafka.New(auditkafka.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.AuditTopic}, log)
		if err != nil {
			return nil, fmt.Errorf("audit kafka sink: %w", err)
		}
		setupCtx, cancel := context.WithTimeout(ctx, kafkaSetupTimeout)
		defer cancel()
		if err := ks.EnsureTopic(setupCtx, 1, 1); err != nil {
			log.Warn("audit topic not ensured", "topic", ks.Topic(), "error", err)
		}
		a.closers = append(a.closers, func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), kafkaSetupTimeout)
			defer cancel()
			ks.Close(flushCtx)
		})
		sinks = append(sinks, ks)
		log.Info("audit stream enabled", "topic", ks.Topic(), "brokers", cfg.KafkaBrokers)
	}

	publisher := audit.NewPublisher(sinks,
		audit.WithAsyncBuffer(cfg.AuditBuffer),
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetrics(m.Registry)),
	)
	a.closers = append(a.closers, publisher.Close)
	return publisher, nil
}
