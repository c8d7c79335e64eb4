package audit

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Pseudonymiser maps identifiers to stable tokens with keyed BLAKE3. The
// same key always yields the same token, so events about one subject can be
// correlated without storing the subject.
type Pseudonymiser struct {
	key []byte
}

// NewPseudonymiser takes a 32-byte key.
func NewPseudonymiser(key []byte) (*Pseudonymiser, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("pseudonymiser key must be 32 bytes, got %d", len(key))
	}
	if _, err := blake3.NewKeyed(key); err != nil {
		return nil, err
	}
	return &Pseudonymiser{key: append([]byte(nil), key...)}, nil
}

// Pseudonymise returns the first 16 bytes of the keyed digest, hex-encoded.
func (p *Pseudonymiser) Pseudonymise(id string) string {
	h, err := blake3.NewKeyed(p.key)
	if err != nil {
		panic("audit: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
