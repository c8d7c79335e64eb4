package credential

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// signingMethod lets golang-jwt assemble and split tokens while the actual
// cryptography stays with Signer and Verifier.
type signingMethod struct {
	alg string
}

func (m signingMethod) Alg() string { return m.alg }

func (m signingMethod) Sign(signingString string, key any) ([]byte, error) {
	s, ok := key.(Signer)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	if s.Algorithm() != m.alg {
		return nil, errors.New("signer algorithm does not match token algorithm")
	}
	return s.Sign([]byte(signingString))
}

func (m signingMethod) Verify(signingString string, sig []byte, key any) error {
	v, ok := key.(Verifier)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	if v.Algorithm() != m.alg || !v.Verify([]byte(signingString), sig) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// ML-DSA-65 is not built into golang-jwt; registering it lets the parser
// resolve the header. HS256 and EdDSA keep their built-in registrations.
func init() {
	jwt.RegisterSigningMethod(AlgMLDSA65, func() jwt.SigningMethod {
		return signingMethod{alg: AlgMLDSA65}
	})
}
