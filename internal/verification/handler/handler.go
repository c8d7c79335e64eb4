// Package handler exposes the verification service over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"attestor/internal/connector"
	"attestor/internal/credential"
	"attestor/internal/rules"
	"attestor/internal/verification"
	dErrors "attestor/pkg/domain-errors"
	"attestor/pkg/platform/circuit"
	"attestor/pkg/platform/httputil"
	"attestor/pkg/requestcontext"
)

// Service defines the verification operations the handler needs.
type Service interface {
	Verify(ctx context.Context, req verification.Request) (*verification.Result, error)
	VerifyCredential(ctx context.Context, token string) credential.Result
	VerifyBinding(ctx context.Context, token string, req verification.BindingRequest) (verification.BindingResult, error)
	Rules() *rules.RuleSet
	Jurisdictions() []string
}

// Handler wires verification endpoints to the service.
type Handler struct {
	service    Service
	logger     *slog.Logger
	registry   *connector.Registry
	breakers   *circuit.Table
	publicKeys []credential.PublicKey
	qrSize     int
}

type Option func(*Handler)

// WithConnectors enables GET /v1/connectors.
func WithConnectors(registry *connector.Registry, breakers *circuit.Table) Option {
	return func(h *Handler) {
		h.registry = registry
		h.breakers = breakers
	}
}

// WithPublicKeys publishes keys on GET /v1/keys for offline verifiers.
func WithPublicKeys(keys ...credential.PublicKey) Option {
	return func(h *Handler) {
		h.publicKeys = append(h.publicKeys, keys...)
	}
}

func WithQRSize(size int) Option {
	return func(h *Handler) {
		if size > 0 {
			h.qrSize = size
		}
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{service: service, logger: logger, qrSize: credential.DefaultQRSize}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/verify", h.HandleVerify)
	r.Post("/v1/credentials/verify", h.HandleVerifyCredential)
	r.Post("/v1/credentials/verify-request", h.HandleVerifyBinding)
	r.Get("/v1/qr/{token}", h.HandleQR)
	r.Get("/v1/rules", h.HandleRules)
	r.Get("/v1/keys", h.HandleKeys)
	if h.registry != nil {
		r.Get("/v1/connectors", h.HandleConnectors)
	}
	r.Get("/healthz", h.HandleHealth)
}

// HandleVerify handles POST /v1/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = requestcontext.ClientID(ctx)
	}

	result, err := h.service.Verify(ctx, verification.Request{
		SubjectID:     req.SubjectID,
		Jurisdiction:  req.Jurisdiction,
		ClientID:      clientID,
		RequiredFacts: req.RequiredFacts,
		Context:       req.Context,

		SecurityAnswers: req.SecurityAnswers,
	})
	if err != nil {
		level := slog.LevelWarn
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "verification failed",
			"request_id", requestID,
			"kind", verification.KindOf(err),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, fromResult(result))
}

// HandleVerifyCredential handles POST /v1/credentials/verify. An invalid
// credential is a successful check with valid=false, not an HTTP error.
func (h *Handler) HandleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[TokenRequest](w, r, h.logger, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromCheck(h.service.VerifyCredential(ctx, req.Token)))
}

// HandleVerifyBinding handles POST /v1/credentials/verify-request.
func (h *Handler) HandleVerifyBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[BindingRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = requestcontext.ClientID(ctx)
	}

	res, err := h.service.VerifyBinding(ctx, req.Token, verification.BindingRequest{
		SubjectID:    req.SubjectID,
		Jurisdiction: req.Jurisdiction,
		ClientID:     clientID,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BindingResponse{
		CredentialResponse: fromCheck(res.Credential),
		Binding:            res.Binding,
	})
}

// HandleQR handles GET /v1/qr/{token}. Only tokens whose signature checks
// out are rendered; expired ones still are, since the image adds nothing.
func (h *Handler) HandleQR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "token")
	if err := validateToken(token); err != nil {
		httputil.WriteError(w, err)
		return
	}

	res := h.service.VerifyCredential(ctx, token)
	if !res.Valid && res.Failure != credential.FailureExpired {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "credential rejected: "+string(res.Failure)))
		return
	}

	png, err := credential.QRPNG(token, h.qrSize)
	if err != nil {
		if errors.Is(err, credential.ErrQRCapacity) {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "credential too large for a QR code"))
			return
		}
		h.logger.ErrorContext(ctx, "render QR failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "render QR"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// HandleRules handles GET /v1/rules.
func (h *Handler) HandleRules(w http.ResponseWriter, _ *http.Request) {
	rs := h.service.Rules()
	served := h.service.Jurisdictions()

	var summaries []rules.Summary
	for _, s := range rs.Summaries() {
		if slices.Contains(served, s.Jurisdiction) {
			summaries = append(summaries, s)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, RulesResponse{
		Jurisdictions: served,
		LoadedAt:      rs.LoadedAt(),
		Rules:         summaries,
	})
}

// HandleKeys handles GET /v1/keys.
func (h *Handler) HandleKeys(w http.ResponseWriter, _ *http.Request) {
	keys := h.publicKeys
	if keys == nil {
		keys = []credential.PublicKey{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// HandleConnectors handles GET /v1/connectors. Breaker state is reported
// for connectors that have been called at least once.
func (h *Handler) HandleConnectors(w http.ResponseWriter, _ *http.Request) {
	states := make(map[string]circuit.Status)
	if h.breakers != nil {
		for _, st := range h.breakers.Snapshot() {
			states[st.Name] = st
		}
	}

	entries := h.registry.All()
	out := make([]ConnectorStatus, 0, len(entries))
	for _, e := range entries {
		name := e.Connector.Name()
		cs := ConnectorStatus{
			Name:     name,
			Provides: e.Connector.Provides(),
			Wildcard: len(e.Connector.Provides()) == 0,
			Timeout:  e.Policy.Timeout.String(),
			Retries:  e.Policy.Retries,
		}
		if st, ok := states[name]; ok {
			cs.Breaker = &st
		}
		out = append(out, cs)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"connectors": out})
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	rs := h.service.Rules()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"rules":     rs.Len(),
		"loaded_at": rs.LoadedAt().Format(time.RFC3339),
	})
}
