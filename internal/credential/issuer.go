package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"attestor/internal/rules"
)

// DefaultValidity is how long an issued credential stays valid.
const DefaultValidity = 15 * time.Minute

// Credential is an issued token plus its rendered forms.
type Credential struct {
	Token     string    `json:"token"`
	QRCode    string    `json:"qr_code,omitempty"`
	// QROmitted is set when QR rendering is enabled but the token does not
	// fit, which is always the case for ML-DSA-65.
	QROmitted bool      `json:"qr_omitted,omitempty"`
	Algorithm string    `json:"algorithm"`
	KeyID     string    `json:"key_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Claims    Claims    `json:"-"`
}

// Issuer signs verdicts. It shares nothing mutable between requests.
type Issuer struct {
	signer   Signer
	issuer   string
	binder   *Binder
	validity time.Duration
	qrSize   int
	qr       bool
	now      func() time.Time
	nonce    func() string
	logger   *slog.Logger
}

type IssuerOption func(*Issuer)

func WithValidity(d time.Duration) IssuerOption {
	return func(i *Issuer) {
		if d > 0 {
			i.validity = d
		}
	}
}

// WithQR toggles QR rendering; size <= 0 keeps DefaultQRSize.
func WithQR(enabled bool, size int) IssuerOption {
	return func(i *Issuer) {
		i.qr = enabled
		if size > 0 {
			i.qrSize = size
		}
	}
}

func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

func WithNonce(fn func() string) IssuerOption {
	return func(i *Issuer) {
		i.nonce = fn
	}
}

func WithLogger(logger *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		i.logger = logger
	}
}

func NewIssuer(signer Signer, issuer string, binder *Binder, opts ...IssuerOption) (*Issuer, error) {
	if signer == nil {
		return nil, errors.New("credential: signer is required")
	}
	if issuer == "" {
		return nil, errors.New("credential: issuer is required")
	}
	i := &Issuer{
		signer:   signer,
		issuer:   issuer,
		binder:   binder,
		validity: DefaultValidity,
		qrSize:   DefaultQRSize,
		qr:       true,
		now:      time.Now,
		nonce:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Name is the issuer identity placed in the iss claim.
func (i *Issuer) Name() string { return i.issuer }

// Issue signs v. The request binding is hashed into the credential when the
// issuer has a Binder; the raw subject never enters the token.
func (i *Issuer) Issue(ctx context.Context, v rules.Verdict, req RequestBinding) (*Credential, error) {
	justification, err := JustificationDigest(v)
	if err != nil {
		return nil, err
	}
	var binding string
	if i.binder != nil {
		if binding, err = i.binder.Digest(req); err != nil {
			return nil, err
		}
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.validity)
	claims := Claims{
		Outcome:             string(v.Outcome),
		MatchedRule:         v.MatchedRule,
		Reason:              v.Reason,
		Jurisdiction:        v.Jurisdiction,
		EvaluatedAt:         v.EvaluatedAt.Unix(),
		Default:             v.Default,
		JustificationDigest: justification,
		BindingDigest:       binding,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        i.nonce(),
		},
	}

	token := jwt.NewWithClaims(signingMethod{alg: i.signer.Algorithm()}, claims)
	token.Header["kid"] = i.signer.KeyID()
	signed, err := token.SignedString(i.signer)
	if err != nil {
		return nil, fmt.Errorf("sign credential: %w", err)
	}

	cred := &Credential{
		Token:     signed,
		Algorithm: i.signer.Algorithm(),
		KeyID:     i.signer.KeyID(),
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Claims:    claims,
	}
	if i.qr {
		qr, err := QRBase64(signed, i.qrSize)
		switch {
		case err == nil:
			cred.QRCode = qr
		case errors.Is(err, ErrQRCapacity):
			cred.QROmitted = true
			i.logger.WarnContext(ctx, "credential too large for QR code",
				"algorithm", cred.Algorithm,
				"token_bytes", len(signed),
			)
		default:
			return nil, fmt.Errorf("render QR: %w", err)
		}
	}
	return cred, nil
}
