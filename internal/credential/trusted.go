package credential

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"attestor/pkg/platform/document"
)

// PublicKey is the distributable form of a verification key.
type PublicKey struct {
	Issuer    string `yaml:"issuer" json:"issuer"`
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	KeyID     string `yaml:"key_id" json:"key_id"`
	Key       string `yaml:"public_key" json:"public_key"`
}

// Verifier decodes the key and builds a verifier for it.
func (p PublicKey) Verifier() (Verifier, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Key)
	if err != nil {
		return nil, fmt.Errorf("key %s/%s: decode public key: %w", p.Issuer, p.KeyID, err)
	}
	v, err := NewVerifier(p.Algorithm, p.KeyID, raw)
	if err != nil {
		return nil, fmt.Errorf("key %s/%s: %w", p.Issuer, p.KeyID, err)
	}
	return v, nil
}

// Export returns the public form of signer, or false for HS256.
func Export(issuer string, signer Signer) (PublicKey, bool) {
	pk, ok := signer.(PublicKeyer)
	if !ok {
		return PublicKey{}, false
	}
	return PublicKey{
		Issuer:    issuer,
		Algorithm: signer.Algorithm(),
		KeyID:     signer.KeyID(),
		Key:       base64.StdEncoding.EncodeToString(pk.PublicKey()),
	}, true
}

type trustedDocument struct {
	Keys []PublicKey `yaml:"keys"`
}

// LoadTrustedKeys reads a YAML or JSON document listing public keys:
//
//	keys:
//	  - issuer: partner-attestor
//	    algorithm: EdDSA
//	    key_id: k1
//	    public_key: <base64>
func LoadTrustedKeys(path string) ([]PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseTrustedKeys(path, data)
}

// ParseTrustedKeys validates every entry and reports all bad ones.
func ParseTrustedKeys(hint string, data []byte) ([]PublicKey, error) {
	doc, err := document.Decode[trustedDocument](hint, data)
	if err != nil {
		return nil, err
	}
	var errs []error
	for i, k := range doc.Keys {
		if k.Issuer == "" || k.KeyID == "" {
			errs = append(errs, fmt.Errorf("keys[%d]: issuer and key_id are required", i))
			continue
		}
		if _, err := k.Verifier(); err != nil {
			errs = append(errs, fmt.Errorf("keys[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return doc.Keys, nil
}

// AddTrusted registers every key with the ring.
func (k *KeyRing) AddTrusted(keys []PublicKey) error {
	for _, pk := range keys {
		v, err := pk.Verifier()
		if err != nil {
			return err
		}
		k.Add(pk.Issuer, v)
	}
	return nil
}
