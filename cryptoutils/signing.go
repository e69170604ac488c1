package cryptoutils

import (
	"crypto/sha256"
	"fmt"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// CompactSignatureLength is the length of an R||S signature as used in
// ES256K JOSE signatures.
const CompactSignatureLength = 64

// VerifyCompactSignature checks a 64-byte R||S signature over digest.
func VerifyCompactSignature(pub *secp256k1.PublicKey, digest, sig []byte) bool {
	if len(sig) != CompactSignatureLength {
		return false
	}
	return ethcrypto.VerifySignature(pub.SerializeCompressed(), digest, sig)
}

// VerifyDERSignature checks a DER-encoded ECDSA signature over digest.
// Legacy bearer tokens carry this encoding.
func VerifyDERSignature(pub *secp256k1.PublicKey, digest, derSig []byte) bool {
	parsed, err := secpecdsa.ParseDERSignature(derSig)
	if err != nil {
		return false
	}
	return parsed.Verify(digest, pub)
}

// SignCompact produces a 64-byte R||S signature over digest.
func SignCompact(priv *secp256k1.PrivateKey, digest []byte) ([]byte, error) {
	ecdsaPriv := priv.ToECDSA()
	// ethcrypto.Sign rejects keys whose Curve is not its own S256 instance,
	// and decred's ToECDSA sets the decred curve.
	ecdsaPriv.Curve = ethcrypto.S256()
	sig, err := ethcrypto.Sign(digest, ecdsaPriv)
	if err != nil {
		return nil, fmt.Errorf("secp256k1 sign: %w", err)
	}
	// Drop the recovery byte, JOSE signatures carry R||S only.
	return sig[:CompactSignatureLength], nil
}

// SignDER produces a DER-encoded ECDSA signature over digest, the encoding
// legacy bearer tokens use.
func SignDER(priv *secp256k1.PrivateKey, digest []byte) []byte {
	return secpecdsa.Sign(priv, digest).Serialize()
}

// Sha256 is a convenience wrapper returning the digest as a slice.
func Sha256(data []byte) []byte {
	digest := sha256.Sum256(data)
	return digest[:]
}
