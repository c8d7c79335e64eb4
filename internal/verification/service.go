// Package verification runs the request pipeline: normalise the request,
// resolve facts, evaluate the jurisdiction's rules and issue a signed
// credential. Nothing about the subject outlives the call.
package verification

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"attestor/internal/audit"
	"attestor/internal/connector"
	"attestor/internal/credential"
	"attestor/internal/facts"
	"attestor/internal/resolver"
	"attestor/internal/rules"
	strs "attestor/pkg/platform/strings"
	"attestor/pkg/requestcontext"
)

const (
	minSubjectLength = 3
	maxSubjectLength = 128
	maxRequiredFacts = 64
	maxAnswers       = 8
)

// SecurityMismatchReason is the verdict reason when security answers do not
// match the resolved facts. It never says which answer failed.
const SecurityMismatchReason = "security answers did not match"

// FactResolver gathers facts for a subject.
type FactResolver interface {
	Resolve(ctx context.Context, subject connector.Subject, wanted []string) resolver.Resolution
}

// Auditor records audit events. audit.Publisher satisfies it.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Request asks for a verdict about one subject in one jurisdiction.
type Request struct {
	SubjectID     string
	Jurisdiction  string
	ClientID      string
	RequiredFacts []string
	Context       map[string]string

	// SecurityAnswers maps an allow-listed fact name to the subject's answer.
	// Answers are compared and dropped; they are never logged or audited.
	SecurityAnswers map[string]string
}

// Summary describes fact resolution without exposing fact values.
type Summary struct {
	Consulted     []string           `json:"consulted"`
	Failures      []resolver.Failure `json:"failures,omitempty"`
	Unavailable   []string           `json:"unavailable,omitempty"`
	FactsResolved int                `json:"facts_resolved"`
	TimedOut      bool               `json:"timed_out"`
	DurationMS    int64              `json:"duration_ms"`
}

// Result is a successful verification.
type Result struct {
	Credential *credential.Credential
	Verdict    rules.Verdict
	Resolution Summary
}

// BindingStatus says whether presented request parameters match a token.
type BindingStatus string

const (
	BindingMatch    BindingStatus = "match"
	BindingMismatch BindingStatus = "mismatch"
	// BindingUnbound means the token carries no binding this instance can check.
	BindingUnbound BindingStatus = "unbound"
)

// BindingResult pairs the credential check with the binding comparison.
type BindingResult struct {
	Credential credential.Result
	Binding    BindingStatus
}

// Service is safe for concurrent use. The rule store and the resolver's
// breaker table are the only state shared across requests.
type Service struct {
	rules    *rules.Store
	engine   *rules.Engine
	resolver FactResolver
	issuer   *credential.Issuer
	checker  *credential.Checker
	binder   *credential.Binder

	allowed   []string
	questions []string
	auditor   Auditor
	hasher    resolver.Pseudonymiser
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Service)

// WithJurisdictions restricts service to the listed jurisdictions. Without
// it every jurisdiction in the loaded rule set is served.
func WithJurisdictions(list []string) Option {
	return func(s *Service) {
		s.allowed = strs.DedupeAndTrimUpper(list)
	}
}

// WithSecurityQuestions lists the fact names clients may answer in
// Request.SecurityAnswers. Without it any answer is rejected as invalid.
func WithSecurityQuestions(names []string) Option {
	return func(s *Service) {
		s.questions = strs.DedupeAndTrim(names)
	}
}

func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithPseudonymiser(p resolver.Pseudonymiser) Option {
	return func(s *Service) {
		s.hasher = p
	}
}

// WithBinder enables VerifyBinding. It must hold the issuer's binding key.
func WithBinder(b *credential.Binder) Option {
	return func(s *Service) {
		s.binder = b
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store *rules.Store, engine *rules.Engine, fr FactResolver, issuer *credential.Issuer, checker *credential.Checker, opts ...Option) *Service {
	s := &Service{
		rules:    store,
		engine:   engine,
		resolver: fr,
		issuer:   issuer,
		checker:  checker,
		logger:   slog.Default(),
		tracer:   otel.Tracer("attestor/verification"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify resolves facts, evaluates the jurisdiction's rules and issues a
// credential. Unreachable connectors never fail the call; they surface in
// the Summary and usually as a NO verdict.
func (s *Service) Verify(ctx context.Context, req Request) (*Result, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "verification.Verify")
	defer span.End()

	req, err := normalise(req)
	if err == nil {
		err = s.checkAnswerFields(req.SecurityAnswers)
	}
	if err != nil {
		return nil, s.reject(ctx, span, req, err, start)
	}
	span.SetAttributes(attribute.String("jurisdiction", req.Jurisdiction))

	rs := s.rules.Current()
	if !rs.HasJurisdiction(req.Jurisdiction) || !s.jurisdictionAllowed(req.Jurisdiction) {
		return nil, s.reject(ctx, span, req, unknownJurisdiction(req.Jurisdiction), start)
	}

	subjectHash := s.pseudonymise(req.SubjectID)
	s.emit(ctx, audit.Event{
		Action:       audit.ActionVerificationRequested,
		SubjectHash:  subjectHash,
		Jurisdiction: req.Jurisdiction,
		ClientID:     req.ClientID,
	})

	wanted := req.RequiredFacts
	if len(wanted) == 0 {
		wanted = rs.ReferencedFacts(req.Jurisdiction)
	}
	wanted = withAnswerFacts(wanted, req.SecurityAnswers)
	res := s.resolver.Resolve(ctx, connector.Subject{
		ID:           req.SubjectID,
		Jurisdiction: req.Jurisdiction,
		ClientID:     req.ClientID,
		Context:      req.Context,
	}, wanted)

	security := securityNotChecked
	if len(req.SecurityAnswers) > 0 {
		security = securityPassed
		if !answersMatch(res.Facts, req.SecurityAnswers) {
			security = securityFailed
		}
	}

	var verdict rules.Verdict
	if security == securityFailed {
		verdict = s.engine.Deny(req.Jurisdiction, SecurityMismatchReason)
		s.logger.WarnContext(ctx, "security answers rejected",
			"request_id", requestcontext.RequestID(ctx),
			"subject_hash", subjectHash,
			"jurisdiction", req.Jurisdiction,
			"answers", len(req.SecurityAnswers),
		)
	} else {
		verdict = s.engine.Evaluate(rs, req.Jurisdiction, res.Facts)
	}
	summary := summarise(res)

	cred, err := s.issuer.Issue(ctx, verdict, credential.RequestBinding{
		Subject:      req.SubjectID,
		Jurisdiction: req.Jurisdiction,
		Client:       req.ClientID,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "credential issuance failed",
			"request_id", requestcontext.RequestID(ctx),
			"subject_hash", subjectHash,
			"jurisdiction", req.Jurisdiction,
			"error", err,
		)
		return nil, s.reject(ctx, span, req, issuanceFailed(err), start)
	}

	elapsed := s.now().Sub(start)
	s.metrics.incrementOutcome(string(verdict.Outcome), verdict.Jurisdiction, verdict.Default)
	s.metrics.observeVerify(elapsed)
	span.SetAttributes(
		attribute.String("outcome", string(verdict.Outcome)),
		attribute.String("matched_rule", verdict.MatchedRule),
		attribute.Bool("default", verdict.Default),
	)

	s.emit(ctx, audit.Event{
		Action:           audit.ActionVerificationCompleted,
		SubjectHash:      subjectHash,
		Jurisdiction:     req.Jurisdiction,
		ClientID:         req.ClientID,
		Outcome:          string(verdict.Outcome),
		MatchedRule:      verdict.MatchedRule,
		Default:          verdict.Default,
		FactsResolved:    summary.FactsResolved,
		ConnectorsFailed: failedConnectors(res.Failures),
		TimedOut:         res.TimedOut,
		SecurityCheck:    security,
		DurationMS:       elapsed.Milliseconds(),
	})
	s.logger.InfoContext(ctx, "verdict issued",
		"request_id", requestcontext.RequestID(ctx),
		"subject_hash", subjectHash,
		"jurisdiction", req.Jurisdiction,
		"outcome", verdict.Outcome,
		"matched_rule", verdict.MatchedRule,
		"default", verdict.Default,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &Result{Credential: cred, Verdict: verdict, Resolution: summary}, nil
}

// VerifyCredential checks a token offline. It never calls connectors or
// re-evaluates rules.
func (s *Service) VerifyCredential(ctx context.Context, token string) credential.Result {
	_, span := s.tracer.Start(ctx, "verification.VerifyCredential")
	defer span.End()

	res := s.checker.Verify(strings.TrimSpace(token))
	result := "valid"
	if !res.Valid {
		result = string(res.Failure)
	}
	span.SetAttributes(attribute.String("result", result))
	s.metrics.incrementCheck(result)

	event := audit.Event{
		Action:  audit.ActionCredentialVerified,
		Failure: string(res.Failure),
	}
	if res.Claims != nil {
		event.Outcome = res.Claims.Outcome
		event.Jurisdiction = res.Claims.Jurisdiction
		event.MatchedRule = res.Claims.MatchedRule
	}
	s.emit(ctx, event)
	return res
}

// BindingRequest carries the parameters a relying party believes a token
// was issued for.
type BindingRequest struct {
	SubjectID    string
	Jurisdiction string
	ClientID     string
}

// VerifyBinding checks the token and then whether req hashes to the
// binding digest inside it. Only tokens from this issuer can be bound,
// because the binding key is never distributed.
func (s *Service) VerifyBinding(ctx context.Context, token string, req BindingRequest) (BindingResult, error) {
	norm, err := normalise(Request{SubjectID: req.SubjectID, Jurisdiction: req.Jurisdiction, ClientID: req.ClientID})
	if err != nil {
		s.metrics.incrementRejection(KindOf(err))
		return BindingResult{}, err
	}

	res := s.VerifyCredential(ctx, token)
	out := BindingResult{Credential: res, Binding: BindingUnbound}
	if !res.Valid || s.binder == nil || res.Claims.BindingDigest == "" || res.Claims.Issuer != s.issuer.Name() {
		return out, nil
	}

	out.Binding = BindingMismatch
	if s.binder.Matches(credential.RequestBinding{
		Subject:      norm.SubjectID,
		Jurisdiction: norm.Jurisdiction,
		Client:       norm.ClientID,
	}, res.Claims.BindingDigest) {
		out.Binding = BindingMatch
	}

	s.emit(ctx, audit.Event{
		Action:       audit.ActionBindingVerified,
		SubjectHash:  s.pseudonymise(norm.SubjectID),
		Jurisdiction: norm.Jurisdiction,
		ClientID:     norm.ClientID,
		Outcome:      string(out.Binding),
	})
	return out, nil
}

// Rules returns the current rule set snapshot.
func (s *Service) Rules() *rules.RuleSet {
	return s.rules.Current()
}

// Jurisdictions lists the jurisdictions currently served.
func (s *Service) Jurisdictions() []string {
	var out []string
	for _, j := range s.rules.Current().Jurisdictions() {
		if s.jurisdictionAllowed(j) {
			out = append(out, j)
		}
	}
	return out
}

func (s *Service) jurisdictionAllowed(j string) bool {
	return len(s.allowed) == 0 || slices.Contains(s.allowed, j)
}

func (s *Service) reject(ctx context.Context, span trace.Span, req Request, err error, start time.Time) error {
	kind := KindOf(err)
	s.metrics.incrementRejection(kind)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))

	event := audit.Event{
		Action:       audit.ActionVerificationRejected,
		Jurisdiction: req.Jurisdiction,
		ClientID:     req.ClientID,
		Failure:      string(kind),
		DurationMS:   s.now().Sub(start).Milliseconds(),
	}
	if len(req.SubjectID) >= minSubjectLength {
		event.SubjectHash = s.pseudonymise(req.SubjectID)
	}
	s.emit(ctx, event)
	return err
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if s.auditor == nil {
		return
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	if e.ClientKind == "" {
		e.ClientKind = requestcontext.ClientKind(ctx)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx).UTC()
	}
	if err := s.auditor.Emit(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed",
			"action", string(e.Action),
			"request_id", e.RequestID,
			"error", err,
		)
	}
}

func (s *Service) pseudonymise(id string) string {
	if s.hasher == nil {
		return ""
	}
	return s.hasher.Pseudonymise(id)
}

// normalise trims and upper-cases identifiers and validates shape. On error
// the partially normalised request is still returned for auditing.
func normalise(req Request) (Request, error) {
	req.SubjectID = strings.ToUpper(strings.TrimSpace(req.SubjectID))
	req.Jurisdiction = strings.ToUpper(strings.TrimSpace(req.Jurisdiction))
	req.ClientID = strings.TrimSpace(req.ClientID)

	switch {
	case req.SubjectID == "":
		return req, invalid("subject_id is required")
	case len(req.SubjectID) < minSubjectLength:
		return req, invalid("subject_id must be at least 3 characters")
	case len(req.SubjectID) > maxSubjectLength:
		return req, invalid("subject_id is too long")
	case req.Jurisdiction == "":
		return req, invalid("jurisdiction is required")
	case len(req.RequiredFacts) > maxRequiredFacts:
		return req, invalid("too many required_facts")
	}

	var required []string
	for _, f := range req.RequiredFacts {
		f = strings.TrimSpace(f)
		if f == "" {
			return req, invalid("required_facts must not contain empty names")
		}
		if !slices.Contains(required, f) {
			required = append(required, f)
		}
	}
	req.RequiredFacts = required
	return req, nil
}

const (
	securityNotChecked = ""
	securityPassed     = "passed"
	securityFailed     = "failed"
)

// checkAnswerFields validates the shape of security answers. Only field
// names appear in errors.
func (s *Service) checkAnswerFields(answers map[string]string) error {
	if len(answers) == 0 {
		return nil
	}
	if len(answers) > maxAnswers {
		return invalid("too many security_answers")
	}
	for name, answer := range answers {
		if !slices.Contains(s.questions, name) {
			return invalid(fmt.Sprintf("security answer %q is not accepted", name))
		}
		if strings.TrimSpace(answer) == "" {
			return invalid(fmt.Sprintf("security answer %q is empty", name))
		}
	}
	return nil
}

func withAnswerFacts(wanted []string, answers map[string]string) []string {
	if len(answers) == 0 {
		return wanted
	}
	out := slices.Clone(wanted)
	for name := range answers {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	slices.Sort(out[len(wanted):])
	return out
}

// answersMatch requires every answer to equal its fact, ignoring case and
// surrounding space. A missing or unavailable fact is a mismatch.
func answersMatch(fs facts.Set, answers map[string]string) bool {
	ok := true
	for name, answer := range answers {
		v, found := fs.Lookup(name)
		if !found {
			ok = false
			continue
		}
		stored, isString := v.AsString()
		if !isString {
			stored = fmt.Sprint(v.Interface())
		}
		if subtle.ConstantTimeCompare([]byte(foldAnswer(stored)), []byte(foldAnswer(answer))) != 1 {
			ok = false
		}
	}
	return ok
}

func foldAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func summarise(res resolver.Resolution) Summary {
	return Summary{
		Consulted:     res.Consulted,
		Failures:      res.Failures,
		Unavailable:   res.Facts.UnavailableNames(),
		FactsResolved: res.Facts.Len(),
		TimedOut:      res.TimedOut,
		DurationMS:    res.Duration.Milliseconds(),
	}
}

func failedConnectors(failures []resolver.Failure) []string {
	if len(failures) == 0 {
		return nil
	}
	out := make([]string, len(failures))
	for i, f := range failures {
		out[i] = f.Connector
	}
	return out
}
