package handler

import (
	"time"

	"attestor/internal/credential"
	"attestor/internal/rules"
	"attestor/internal/verification"
	"attestor/pkg/platform/circuit"
)

// VerifyResponse is the HTTP response for POST /v1/verify.
type VerifyResponse struct {
	Outcome      rules.Outcome          `json:"outcome"`
	MatchedRule  string                 `json:"matched_rule,omitempty"`
	Reason       string                 `json:"reason"`
	Jurisdiction string                 `json:"jurisdiction"`
	Default      bool                   `json:"default"`
	EvaluatedAt  time.Time              `json:"evaluated_at"`
	Credential   *credential.Credential `json:"credential"`
	Resolution   verification.Summary   `json:"resolution"`
}

func fromResult(res *verification.Result) *VerifyResponse {
	return &VerifyResponse{
		Outcome:      res.Verdict.Outcome,
		MatchedRule:  res.Verdict.MatchedRule,
		Reason:       res.Verdict.Reason,
		Jurisdiction: res.Verdict.Jurisdiction,
		Default:      res.Verdict.Default,
		EvaluatedAt:  res.Verdict.EvaluatedAt,
		Credential:   res.Credential,
		Resolution:   res.Resolution,
	}
}

// CredentialResponse is the HTTP response for credential checks.
type CredentialResponse struct {
	Valid     bool               `json:"valid"`
	Failure   credential.Failure `json:"failure,omitempty"`
	Algorithm string             `json:"algorithm,omitempty"`
	KeyID     string             `json:"key_id,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	Claims    *ClaimsResponse    `json:"claims,omitempty"`
}

// ClaimsResponse exposes what a credential asserted.
type ClaimsResponse struct {
	Issuer              string    `json:"issuer"`
	Outcome             string    `json:"outcome"`
	MatchedRule         string    `json:"matched_rule,omitempty"`
	Reason              string    `json:"reason"`
	Jurisdiction        string    `json:"jurisdiction"`
	Default             bool      `json:"default"`
	EvaluatedAt         time.Time `json:"evaluated_at"`
	IssuedAt            time.Time `json:"issued_at"`
	JustificationDigest string    `json:"justification_digest"`
	Nonce               string    `json:"nonce"`
}

func fromCheck(res credential.Result) CredentialResponse {
	out := CredentialResponse{
		Valid:     res.Valid,
		Failure:   res.Failure,
		Algorithm: res.Algorithm,
		KeyID:     res.KeyID,
	}
	if !res.ExpiresAt.IsZero() {
		exp := res.ExpiresAt
		out.ExpiresAt = &exp
	}
	if c := res.Claims; c != nil {
		cr := &ClaimsResponse{
			Issuer:              c.Issuer,
			Outcome:             c.Outcome,
			MatchedRule:         c.MatchedRule,
			Reason:              c.Reason,
			Jurisdiction:        c.Jurisdiction,
			Default:             c.Default,
			EvaluatedAt:         time.Unix(c.EvaluatedAt, 0).UTC(),
			JustificationDigest: c.JustificationDigest,
			Nonce:               c.ID,
		}
		if c.IssuedAt != nil {
			cr.IssuedAt = c.IssuedAt.UTC()
		}
		out.Claims = cr
	}
	return out
}

// BindingResponse is the HTTP response for POST /v1/credentials/verify-request.
type BindingResponse struct {
	CredentialResponse
	Binding verification.BindingStatus `json:"binding"`
}

// RulesResponse is the HTTP response for GET /v1/rules.
type RulesResponse struct {
	Jurisdictions []string        `json:"jurisdictions"`
	LoadedAt      time.Time       `json:"loaded_at"`
	Rules         []rules.Summary `json:"rules"`
}

// ConnectorStatus describes one connector without its configuration, which
// may hold credentials.
type ConnectorStatus struct {
	Name     string          `json:"name"`
	Provides []string        `json:"provides"`
	Wildcard bool            `json:"wildcard"`
	Timeout  string          `json:"timeout"`
	Retries  int             `json:"retries"`
	Breaker  *circuit.Status `json:"breaker,omitempty"`
}
