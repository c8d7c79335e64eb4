package handler

import (
	dErrors "attestor/pkg/domain-errors"
)

const (
	maxTokenBytes   = 16 << 10
	maxContextPairs = 32
	maxContextValue = 256
)

// VerifyRequest is the body of POST /v1/verify. Identifier normalisation is
// the service's job; this only rejects what is structurally unusable.
type VerifyRequest struct {
	SubjectID     string            `json:"subject_id"`
	Jurisdiction  string            `json:"jurisdiction"`
	ClientID      string            `json:"client_id,omitempty"`
	RequiredFacts []string          `json:"required_facts,omitempty"`
	Context       map[string]string `json:"context,omitempty"`

	SecurityAnswers map[string]string `json:"security_answers,omitempty"`
}

func (r *VerifyRequest) Validate() error {
	if len(r.Context) > maxContextPairs {
		return dErrors.New(dErrors.CodeInvalidInput, "context has too many entries")
	}
	for k, v := range r.Context {
		if k == "" || len(v) > maxContextValue {
			return dErrors.New(dErrors.CodeInvalidInput, "context entries must have a name and a short value")
		}
	}
	for _, v := range r.SecurityAnswers {
		if len(v) > maxContextValue {
			return dErrors.New(dErrors.CodeInvalidInput, "security answers must be short")
		}
	}
	return nil
}

// TokenRequest is the body of POST /v1/credentials/verify.
type TokenRequest struct {
	Token string `json:"token"`
}

func (r *TokenRequest) Validate() error {
	return validateToken(r.Token)
}

// BindingRequest is the body of POST /v1/credentials/verify-request.
type BindingRequest struct {
	Token        string `json:"token"`
	SubjectID    string `json:"subject_id"`
	Jurisdiction string `json:"jurisdiction"`
	ClientID     string `json:"client_id,omitempty"`
}

func (r *BindingRequest) Validate() error {
	return validateToken(r.Token)
}

func validateToken(token string) error {
	switch {
	case token == "":
		return dErrors.New(dErrors.CodeInvalidInput, "token is required")
	case len(token) > maxTokenBytes:
		return dErrors.New(dErrors.CodeInvalidInput, "token is too large")
	}
	return nil
}
