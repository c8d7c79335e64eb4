package credential

import (
	"github.com/golang-jwt/jwt/v5"

	"attestor/internal/rules"
)

// Claims is the credential payload.
type Claims struct {
	Outcome             string `json:"outcome"`
	MatchedRule         string `json:"matched_rule,omitempty"`
	Reason              string `json:"reason"`
	Jurisdiction        string `json:"jurisdiction"`
	EvaluatedAt         int64  `json:"evaluated_at"`
	Default             bool   `json:"default"`
	JustificationDigest string `json:"justification_digest"`
	BindingDigest       string `json:"binding_digest,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) structurallyValid() bool {
	if _, ok := rules.ParseOutcome(c.Outcome); !ok {
		return false
	}
	return c.Jurisdiction != "" &&
		c.JustificationDigest != "" &&
		c.Issuer != "" &&
		c.ID != "" &&
		c.IssuedAt != nil &&
		c.ExpiresAt != nil
}
