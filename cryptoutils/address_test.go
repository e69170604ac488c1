package cryptoutils

import (
	"encoding/hex"
	"testing"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressDerivation(t *testing.T) {
	// Known vector: the generator-point public key maps to the well-known
	// base58check address for hash160(02x79be66...).
	priv := secp256k1.PrivKeyFromBytes([]byte{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1,
	})
	address := AddressFromPublicKey(priv.PubKey())
	assert.Equal(t, "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH", address)
}

func TestAddressDeterministic(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	a1 := AddressFromPublicKey(priv.PubKey())
	a2, err := AddressFromPublicKeyHex(hex.EncodeToString(priv.PubKey().SerializeCompressed()))
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	// Uncompressed encoding derives the same address: hashing always runs
	// over the compressed form.
	a3, err := AddressFromPublicKeyHex(hex.EncodeToString(priv.PubKey().SerializeUncompressed()))
	require.NoError(t, err)
	assert.Equal(t, a1, a3)
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKey("not-hex")
	assert.Error(t, err)

	_, err = ParsePublicKey("02deadbeef")
	assert.Error(t, err)
}

func TestCompactSignatureRoundTrip(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	digest := Sha256([]byte("hello"))

	sig, err := SignCompact(priv, digest)
	require.NoError(t, err)
	require.Len(t, sig, CompactSignatureLength)
	assert.True(t, VerifyCompactSignature(priv.PubKey(), digest, sig))

	other, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	assert.False(t, VerifyCompactSignature(other.PubKey(), digest, sig))
	assert.False(t, VerifyCompactSignature(priv.PubKey(), Sha256([]byte("other")), sig))
}

func TestDERSignatureRoundTrip(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	digest := Sha256([]byte("hello"))

	sig := SignDER(priv, digest)
	assert.True(t, VerifyDERSignature(priv.PubKey(), digest, sig))
	assert.False(t, VerifyDERSignature(priv.PubKey(), digest, sig[:len(sig)-1]))
}
