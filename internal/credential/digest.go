package credential

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"attestor/internal/rules"
)

// encMode uses Core Deterministic Encoding so the same logical value always
// hashes to the same digest.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("credential: CBOR encoder initialization failed: " + err.Error())
	}
}

type justification struct {
	Outcome      string             `cbor:"1,keyasint"`
	MatchedRule  string             `cbor:"2,keyasint"`
	Reason       string             `cbor:"3,keyasint"`
	Jurisdiction string             `cbor:"4,keyasint"`
	EvaluatedAt  int64              `cbor:"5,keyasint"`
	Default      bool               `cbor:"6,keyasint"`
	Trace        []rules.TraceEntry `cbor:"7,keyasint"`
}

// JustificationDigest commits to the verdict and the ordered rule trace that
// produced it. It is unkeyed: anyone holding the trace can recompute it.
func JustificationDigest(v rules.Verdict) (string, error) {
	data, err := encMode.Marshal(justification{
		Outcome:      string(v.Outcome),
		MatchedRule:  v.MatchedRule,
		Reason:       v.Reason,
		Jurisdiction: v.Jurisdiction,
		EvaluatedAt:  v.EvaluatedAt.Unix(),
		Default:      v.Default,
		Trace:        v.Trace,
	})
	if err != nil {
		return "", fmt.Errorf("encode justification: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// RequestBinding is the request a credential was issued for.
type RequestBinding struct {
	Subject      string `cbor:"1,keyasint"`
	Jurisdiction string `cbor:"2,keyasint"`
	Client       string `cbor:"3,keyasint"`
}

// Binder computes keyed request digests. The key keeps subject identifiers
// from being recoverable by hashing guesses against a published token.
type Binder struct {
	key []byte
}

// NewBinder takes a 32-byte key, usually from DeriveKey.
func NewBinder(key []byte) (*Binder, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("binding key must be 32 bytes, got %d", len(key))
	}
	return &Binder{key: append([]byte(nil), key...)}, nil
}

func (b *Binder) Digest(req RequestBinding) (string, error) {
	data, err := encMode.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode binding: %w", err)
	}
	h, err := blake3.NewKeyed(b.key)
	if err != nil {
		return "", fmt.Errorf("binding hasher: %w", err)
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Matches reports whether req hashes to digest.
func (b *Binder) Matches(req RequestBinding, digest string) bool {
	got, err := b.Digest(req)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}
