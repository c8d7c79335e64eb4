package credential

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const derivationSalt = "attestor.credential.v1"

// DeriveKey expands a master secret into n bytes bound to purpose. Distinct
// purposes yield independent keys from the same secret.
func DeriveKey(master []byte, purpose string, n int) ([]byte, error) {
	if len(master) < minHMACSize {
		return nil, fmt.Errorf("%w: master secret needs %d bytes, got %d", ErrWeakKey, minHMACSize, len(master))
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, []byte(derivationSalt), []byte(purpose)), out); err != nil {
		return nil, fmt.Errorf("derive %s: %w", purpose, err)
	}
	return out, nil
}

// KeySpec selects the signing algorithm and key id. Key material is derived
// from the master secret so one secret provisions every algorithm.
type KeySpec struct {
	Algorithm string
	KeyID     string
}

// NewSigner derives the signing key for spec from master.
func NewSigner(spec KeySpec, master []byte) (Signer, error) {
	if spec.KeyID == "" {
		return nil, errors.New("key id is required")
	}
	key, err := DeriveKey(master, "signing/"+spec.Algorithm+"/"+spec.KeyID, 32)
	if err != nil {
		return nil, err
	}
	switch spec.Algorithm {
	case AlgHS256:
		return NewHMAC(spec.KeyID, key)
	case AlgEdDSA:
		return NewEd25519(spec.KeyID, key)
	case AlgMLDSA65:
		return NewMLDSA65(spec.KeyID, key)
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", spec.Algorithm)
	}
}

// KeyRing maps issuer and key id to a verification key. It is safe for
// concurrent use; keys may be added while verifications run.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]map[string]Verifier
}

func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]map[string]Verifier)}
}

// Add registers v for issuer. A later key with the same id replaces the
// earlier one.
func (k *KeyRing) Add(issuer string, v Verifier) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys[issuer] == nil {
		k.keys[issuer] = make(map[string]Verifier)
	}
	k.keys[issuer][v.KeyID()] = v
}

func (k *KeyRing) Lookup(issuer, kid string) (Verifier, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.keys[issuer][kid]
	return v, ok
}

// Issuers lists known issuers.
func (k *KeyRing) Issuers() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.keys))
	for iss := range k.keys {
		out = append(out, iss)
	}
	return out
}
