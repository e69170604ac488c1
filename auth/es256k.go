package auth

import (
	"crypto/sha256"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/golang-jwt/jwt/v4"

	"github.com/stacks-network/gaia-hub/cryptoutils"
)

// SigningMethodES256K implements JOSE ES256K (secp256k1 with SHA-256,
// 64-byte R||S signatures) for the jwt library, which ships only the NIST
// curves. Verification keys are *secp256k1.PublicKey, signing keys are
// *secp256k1.PrivateKey.
type SigningMethodES256K struct{}

// MethodES256K is the shared instance registered with the jwt library.
var MethodES256K = &SigningMethodES256K{}

func init() {
	jwt.RegisterSigningMethod(MethodES256K.Alg(), func() jwt.SigningMethod {
		return MethodES256K
	})
}

// Alg returns the JWA identifier.
func (m *SigningMethodES256K) Alg() string { return "ES256K" }

// Verify checks the signature over the signing string.
func (m *SigningMethodES256K) Verify(signingString, signature string, key interface{}) error {
	pub, ok := key.(*secp256k1.PublicKey)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	sig, err := jwt.DecodeSegment(signature)
	if err != nil {
		return err
	}
	digest := sha256.Sum256([]byte(signingString))
	if !cryptoutils.VerifyCompactSignature(pub, digest[:], sig) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// Sign produces the signature segment for the signing string.
func (m *SigningMethodES256K) Sign(signingString string, key interface{}) (string, error) {
	priv, ok := key.(*secp256k1.PrivateKey)
	if !ok {
		return "", jwt.ErrInvalidKeyType
	}
	digest := sha256.Sum256([]byte(signingString))
	sig, err := cryptoutils.SignCompact(priv, digest[:])
	if err != nil {
		return "", err
	}
	return jwt.EncodeSegment(sig), nil
}
