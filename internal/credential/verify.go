package credential

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Failure is why a credential did not verify.
type Failure string

const (
	FailureNone              Failure = ""
	FailureExpired           Failure = "expired"
	FailureSignatureMismatch Failure = "signature_mismatch"
	FailureMalformed         Failure = "malformed"
	FailureUnknownIssuer     Failure = "unknown_issuer"
)

// Result is the outcome of verifying a credential. Claims are only set when
// the signature checked out, so expired credentials still expose what they
// said.
type Result struct {
	Valid     bool
	Failure   Failure
	Claims    *Claims
	Algorithm string
	KeyID     string
	ExpiresAt time.Time
}

// Checker verifies credentials offline against a KeyRing.
type Checker struct {
	keys *KeyRing
	now  func() time.Time
}

type CheckerOption func(*Checker)

func WithCheckerClock(now func() time.Time) CheckerOption {
	return func(c *Checker) {
		c.now = now
	}
}

func NewChecker(keys *KeyRing, opts ...CheckerOption) *Checker {
	c := &Checker{keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify checks structure, key, signature and expiry in that order. A
// credential is expired from the second named by exp onward.
func (c *Checker) Verify(token string) Result {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Result{Failure: FailureMalformed}
	}

	parser := jwt.NewParser()
	claims := &Claims{}
	parsed, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return Result{Failure: FailureMalformed}
	}
	alg, _ := parsed.Header["alg"].(string)
	kid, _ := parsed.Header["kid"].(string)
	res := Result{Algorithm: alg, KeyID: kid}
	if alg == "" || kid == "" {
		res.Failure = FailureMalformed
		return res
	}

	verifier, ok := c.keys.Lookup(claims.Issuer, kid)
	if !ok {
		res.Failure = FailureUnknownIssuer
		return res
	}

	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		res.Failure = FailureMalformed
		return res
	}
	if verifier.Algorithm() != alg || !verifier.Verify([]byte(parts[0]+"."+parts[1]), sig) {
		res.Failure = FailureSignatureMismatch
		return res
	}

	if !claims.structurallyValid() {
		res.Failure = FailureMalformed
		return res
	}
	res.Claims = claims
	res.ExpiresAt = claims.ExpiresAt.Time
	if !c.now().Before(claims.ExpiresAt.Time) {
		res.Failure = FailureExpired
		return res
	}
	res.Valid = true
	return res
}
