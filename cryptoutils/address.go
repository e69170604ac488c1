package cryptoutils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 is defined over RIPEMD-160
)

// addressVersion is the base58check version byte for hub addresses.
const addressVersion = 0x00

// ParsePublicKey decodes a hex-encoded secp256k1 public key. Both the
// 33-byte compressed and 65-byte uncompressed encodings are accepted.
func ParsePublicKey(pubkeyHex string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid secp256k1 public key: %w", err)
	}
	return pub, nil
}

// AddressFromPublicKey derives the address for a public key:
// base58check over version byte plus ripemd160(sha256(compressed pubkey)).
// The derivation is deterministic; the address is the storage namespace
// owner and audit principal.
func AddressFromPublicKey(pub *secp256k1.PublicKey) string {
	shaDigest := sha256.Sum256(pub.SerializeCompressed())
	ripe := ripemd160.New()
	ripe.Write(shaDigest[:])
	hash160 := ripe.Sum(nil)

	payload := make([]byte, 0, 1+len(hash160)+4)
	payload = append(payload, addressVersion)
	payload = append(payload, hash160...)

	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	payload = append(payload, second[:4]...)

	return base58.Encode(payload)
}

// AddressFromPublicKeyHex derives the address for a hex-encoded public key.
func AddressFromPublicKeyHex(pubkeyHex string) (string, error) {
	pub, err := ParsePublicKey(pubkeyHex)
	if err != nil {
		return "", err
	}
	return AddressFromPublicKey(pub), nil
}
