// Package credential issues and verifies signed verdict credentials.
package credential

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

// Algorithm names as they appear in the token header.
const (
	AlgHS256    = "HS256"
	AlgEdDSA    = "EdDSA"
	AlgMLDSA65  = "ML-DSA-65"
	minHMACSize = 32
)

// Verifier checks signatures for one key.
type Verifier interface {
	Algorithm() string
	KeyID() string
	Verify(msg, sig []byte) bool
}

// Signer produces signatures with one key. Signers hold key material
// read-only and are safe for concurrent use.
type Signer interface {
	Verifier
	Sign(msg []byte) ([]byte, error)
}

// PublicKeyer is implemented by asymmetric signers whose verification key
// can be shared.
type PublicKeyer interface {
	PublicKey() []byte
}

var ErrWeakKey = errors.New("key too short")

type hmacSigner struct {
	kid string
	key []byte
}

// NewHMAC returns an HS256 signer. The secret must be at least 32 bytes.
func NewHMAC(kid string, secret []byte) (Signer, error) {
	if len(secret) < minHMACSize {
		return nil, fmt.Errorf("%w: HS256 needs %d bytes, got %d", ErrWeakKey, minHMACSize, len(secret))
	}
	return &hmacSigner{kid: kid, key: append([]byte(nil), secret...)}, nil
}

func (s *hmacSigner) Algorithm() string { return AlgHS256 }
func (s *hmacSigner) KeyID() string     { return s.kid }

func (s *hmacSigner) Sign(msg []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(msg)
	return mac.Sum(nil), nil
}

func (s *hmacSigner) Verify(msg, sig []byte) bool {
	expected, _ := s.Sign(msg)
	return hmac.Equal(expected, sig)
}

type ed25519Signer struct {
	kid  string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519 returns an EdDSA signer for a 32-byte seed.
func NewEd25519(kid string, seed []byte) (Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &ed25519Signer{kid: kid, priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (s *ed25519Signer) Algorithm() string { return AlgEdDSA }
func (s *ed25519Signer) KeyID() string     { return s.kid }
func (s *ed25519Signer) PublicKey() []byte { return append([]byte(nil), s.pub...) }

func (s *ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

func (s *ed25519Signer) Verify(msg, sig []byte) bool {
	return ed25519.Verify(s.pub, msg, sig)
}

type ed25519Verifier struct {
	kid string
	pub ed25519.PublicKey
}

func (v *ed25519Verifier) Algorithm() string { return AlgEdDSA }
func (v *ed25519Verifier) KeyID() string     { return v.kid }

func (v *ed25519Verifier) Verify(msg, sig []byte) bool {
	return ed25519.Verify(v.pub, msg, sig)
}

type mldsaSigner struct {
	kid  string
	priv *mldsa65.PrivateKey
	pub  *mldsa65.PublicKey
}

// NewMLDSA65 returns a post-quantum ML-DSA-65 signer for a 32-byte seed.
// Signatures are deterministic.
func NewMLDSA65(kid string, seed []byte) (Signer, error) {
	if len(seed) != mldsa65.SeedSize {
		return nil, fmt.Errorf("ml-dsa-65 seed must be %d bytes, got %d", mldsa65.SeedSize, len(seed))
	}
	var s [mldsa65.SeedSize]byte
	copy(s[:], seed)
	pub, priv := mldsa65.NewKeyFromSeed(&s)
	return &mldsaSigner{kid: kid, priv: priv, pub: pub}, nil
}

func (s *mldsaSigner) Algorithm() string { return AlgMLDSA65 }
func (s *mldsaSigner) KeyID() string     { return s.kid }

func (s *mldsaSigner) PublicKey() []byte {
	b, _ := s.pub.MarshalBinary()
	return b
}

func (s *mldsaSigner) Sign(msg []byte) ([]byte, error) {
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(s.priv, msg, nil, false, sig); err != nil {
		return nil, fmt.Errorf("ml-dsa-65 sign: %w", err)
	}
	return sig, nil
}

func (s *mldsaSigner) Verify(msg, sig []byte) bool {
	return mldsa65.Verify(s.pub, msg, nil, sig)
}

type mldsaVerifier struct {
	kid string
	pub *mldsa65.PublicKey
}

func (v *mldsaVerifier) Algorithm() string { return AlgMLDSA65 }
func (v *mldsaVerifier) KeyID() string     { return v.kid }

func (v *mldsaVerifier) Verify(msg, sig []byte) bool {
	return mldsa65.Verify(v.pub, msg, nil, sig)
}

// NewVerifier builds a verifier from public key material. HS256 has no
// public form, so it is rejected here.
func NewVerifier(alg, kid string, public []byte) (Verifier, error) {
	switch alg {
	case AlgEdDSA:
		if len(public) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(public))
		}
		return &ed25519Verifier{kid: kid, pub: append(ed25519.PublicKey(nil), public...)}, nil
	case AlgMLDSA65:
		pub := new(mldsa65.PublicKey)
		if err := pub.UnmarshalBinary(public); err != nil {
			return nil, fmt.Errorf("ml-dsa-65 public key: %w", err)
		}
		return &mldsaVerifier{kid: kid, pub: pub}, nil
	case AlgHS256:
		return nil, errors.New("HS256 keys cannot be distributed as public material")
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
}
