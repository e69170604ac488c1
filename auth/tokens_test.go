package auth

import (
	"testing"
	"time"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacks-network/gaia-hub/cryptoutils"
	"github.com/stacks-network/gaia-hub/interfaces"
)

const testServer = "gaia.example.org"

func newTestKey(t *testing.T) (*secp256k1.PrivateKey, string) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv, cryptoutils.AddressFromPublicKey(priv.PubKey())
}

func validate(t *testing.T, header, address string, oldest int64) (string, error) {
	t.Helper()
	return ValidateAuthorizationHeader(header, testServer, address, false, nil, oldest)
}

func TestChallengeTexts(t *testing.T) {
	current := ChallengeText(testServer)
	assert.Equal(t, `["gaiahub","0","gaia.example.org","blockstack_storage_please_sign"]`, current)

	texts := AcceptableChallengeTexts(testServer)
	require.Len(t, texts, 4)
	assert.Equal(t, current, texts[0])
	assert.Contains(t, texts[1], `"2018"`)
}

func TestParseAuthHeader(t *testing.T) {
	_, err := ParseAuthHeader("")
	assert.Error(t, err)

	_, err = ParseAuthHeader("Basic abcdef")
	assert.Error(t, err)

	_, err = ParseAuthHeader("bearer v2:sometoken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported auth token version")
}

func TestLegacyToken(t *testing.T) {
	priv, address := newTestKey(t)
	header := "bearer " + SignLegacyToken(priv, ChallengeText(testServer))

	signer, err := validate(t, header, address, 0)
	require.NoError(t, err)
	assert.Equal(t, address, signer)

	// Uppercase keyword is accepted too.
	_, err = validate(t, "BEARER "+SignLegacyToken(priv, ChallengeText(testServer)), address, 0)
	assert.NoError(t, err)
}

func TestLegacyTokenWrongAddress(t *testing.T) {
	priv, _ := newTestKey(t)
	_, otherAddress := newTestKey(t)
	header := "bearer " + SignLegacyToken(priv, ChallengeText(testServer))

	_, err := validate(t, header, otherAddress, 0)
	require.Error(t, err)
	assert.IsType(t, &interfaces.ValidationError{}, err)
}

func TestLegacyTokenLegacyChallenge(t *testing.T) {
	priv, address := newTestKey(t)
	legacyText := AcceptableChallengeTexts(testServer)[2]
	header := "bearer " + SignLegacyToken(priv, legacyText)

	_, err := validate(t, header, address, 0)
	assert.NoError(t, err)
}

func TestLegacyTokenRejectedAfterRevocation(t *testing.T) {
	priv, address := newTestKey(t)
	header := "bearer " + SignLegacyToken(priv, ChallengeText(testServer))

	_, err := validate(t, header, address, time.Now().Unix())
	require.Error(t, err)
	assert.IsType(t, &interfaces.AuthTokenTimestampValidationError{}, err)
}

func TestV1Token(t *testing.T) {
	priv, address := newTestKey(t)
	header, err := SignV1Token(priv, V1TokenClaims{GaiaChallenge: ChallengeText(testServer)})
	require.NoError(t, err)

	signer, err := validate(t, "bearer "+header, address, 0)
	require.NoError(t, err)
	assert.Equal(t, address, signer)
}

func TestV1TokenWrongIssuer(t *testing.T) {
	priv, _ := newTestKey(t)
	_, otherAddress := newTestKey(t)
	header, err := SignV1Token(priv, V1TokenClaims{GaiaChallenge: ChallengeText(testServer)})
	require.NoError(t, err)

	_, err = validate(t, "bearer "+header, otherAddress, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match the bucket address")
}

func TestV1TokenBadChallenge(t *testing.T) {
	priv, address := newTestKey(t)
	header, err := SignV1Token(priv, V1TokenClaims{GaiaChallenge: ChallengeText("other.server")})
	require.NoError(t, err)

	_, err = validate(t, "bearer "+header, address, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gaiaChallenge")
}

func TestV1TokenExpiry(t *testing.T) {
	priv, address := newTestKey(t)

	expired, err := SignV1Token(priv, V1TokenClaims{
		GaiaChallenge: ChallengeText(testServer),
		ExpiresAt:     time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	_, err = validate(t, "bearer "+expired, address, 0)
	assert.Error(t, err)

	fresh, err := SignV1Token(priv, V1TokenClaims{
		GaiaChallenge: ChallengeText(testServer),
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = validate(t, "bearer "+fresh, address, 0)
	assert.NoError(t, err)
}

func TestV1TokenHubURL(t *testing.T) {
	priv, address := newTestKey(t)

	// No hubUrl claim fails when the hub demands one.
	noClaim, err := SignV1Token(priv, V1TokenClaims{GaiaChallenge: ChallengeText(testServer)})
	require.NoError(t, err)
	_, err = ValidateAuthorizationHeader("bearer "+noClaim, testServer, address, true, nil, 0)
	assert.Error(t, err)

	// Trailing slashes are ignored during comparison.
	slashed, err := SignV1Token(priv, V1TokenClaims{
		GaiaChallenge: ChallengeText(testServer),
		HubURL:        "https://" + testServer + "/",
	})
	require.NoError(t, err)
	_, err = ValidateAuthorizationHeader("bearer "+slashed, testServer, address, true, nil, 0)
	assert.NoError(t, err)

	wrong, err := SignV1Token(priv, V1TokenClaims{
		GaiaChallenge: ChallengeText(testServer),
		HubURL:        "https://evil.example.com",
	})
	require.NoError(t, err)
	_, err = ValidateAuthorizationHeader("bearer "+wrong, testServer, address, true, nil, 0)
	assert.Error(t, err)

	// Extra hub URLs extend the accepted set.
	_, err = ValidateAuthorizationHeader("bearer "+wrong, testServer, address, true, []string{"https://evil.example.com"}, 0)
	assert.NoError(t, err)
}

func TestV1TokenRevocationWatermark(t *testing.T) {
	priv, address := newTestKey(t)
	watermark := time.Now().Unix()

	stale, err := SignV1Token(priv, V1TokenClaims{
		GaiaChallenge: ChallengeText(testServer),
		IssuedAt:      time.Unix(watermark-100, 0),
	})
	require.NoError(t, err)
	_, err = validate(t, "bearer "+stale, address, watermark)
	require.Error(t, err)
	var tsErr *interfaces.AuthTokenTimestampValidationError
	require.ErrorAs(t, err, &tsErr)
	assert.Equal(t, watermark, tsErr.OldestValidTokenTimestamp)

	// Tokens without iat cannot survive a revocation either.
	noIat, err := SignV1Token(priv, V1TokenClaims{GaiaChallenge: ChallengeText(testServer)})
	require.NoError(t, err)
	_, err = validate(t, "bearer "+noIat, address, watermark)
	assert.Error(t, err)

	fresh, err := SignV1Token(priv, V1TokenClaims{
		GaiaChallenge: ChallengeText(testServer),
		IssuedAt:      time.Unix(watermark+100, 0),
	})
	require.NoError(t, err)
	_, err = validate(t, "bearer "+fresh, address, watermark)
	assert.NoError(t, err)
}

func TestV1TokenScopeValidation(t *testing.T) {
	priv, address := newTestKey(t)

	tooMany := make([]Scope, MaxAuthScopes+1)
	for i := range tooMany {
		tooMany[i] = Scope{Scope: ScopePutFile, Domain: "a.txt"}
	}
	header, err := SignV1Token(priv, V1TokenClaims{
		GaiaChallenge: ChallengeText(testServer),
		Scopes:        tooMany,
	})
	require.NoError(t, err)
	_, err = validate(t, "bearer "+header, address, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many")

	header, err = SignV1Token(priv, V1TokenClaims{
		GaiaChallenge: ChallengeText(testServer),
		Scopes:        []Scope{{Scope: "readFile", Domain: "a.txt"}},
	})
	require.NoError(t, err)
	_, err = validate(t, "bearer "+header, address, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized scope")
}

func TestV1TokenScopeCategories(t *testing.T) {
	priv, address := newTestKey(t)
	header, err := SignV1Token(priv, V1TokenClaims{
		GaiaChallenge: ChallengeText(testServer),
		Scopes: []Scope{
			{Scope: ScopePutFile, Domain: "exact.txt"},
			{Scope: ScopePutFilePrefix, Domain: "public/"},
			{Scope: ScopeDeleteFile, Domain: "exact.txt"},
			{Scope: ScopePutFileArchivalPrefix, Domain: "archive/"},
		},
	})
	require.NoError(t, err)

	token, err := ParseAuthHeader("bearer " + header)
	require.NoError(t, err)
	_, err = token.Validate(address, AcceptableChallengeTexts(testServer), nil)
	require.NoError(t, err)

	scopes := token.AuthScopes()
	assert.Equal(t, []string{"exact.txt"}, scopes.WritePaths)
	assert.Equal(t, []string{"public/"}, scopes.WritePrefixes)
	assert.Equal(t, []string{"exact.txt"}, scopes.DeletePaths)
	assert.Equal(t, []string{"archive/"}, scopes.WriteArchivalPrefixes)
	assert.True(t, scopes.HasWriteScopes())
	assert.True(t, scopes.HasDeleteScopes())
}

func TestAssociationTokenDelegation(t *testing.T) {
	parentPriv, parentAddress := newTestKey(t)
	childPriv, childAddress := newTestKey(t)

	association, err := SignAssociationToken(parentPriv, childPriv.PubKey(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	header, err := SignV1Token(childPriv, V1TokenClaims{
		GaiaChallenge:    ChallengeText(testServer),
		AssociationToken: association,
	})
	require.NoError(t, err)

	// The bucket is the child's; the resolved authority is the parent's.
	signer, err := validate(t, "bearer "+header, childAddress, 0)
	require.NoError(t, err)
	assert.Equal(t, parentAddress, signer)
}

func TestAssociationTokenChildMismatch(t *testing.T) {
	parentPriv, _ := newTestKey(t)
	childPriv, _ := newTestKey(t)
	strangerPriv, strangerAddress := newTestKey(t)

	// Association names childPriv, but the outer token is signed by a
	// stranger key for the stranger's bucket.
	association, err := SignAssociationToken(parentPriv, childPriv.PubKey(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	header, err := SignV1Token(strangerPriv, V1TokenClaims{
		GaiaChallenge:    ChallengeText(testServer),
		AssociationToken: association,
	})
	require.NoError(t, err)

	_, err = validate(t, "bearer "+header, strangerAddress, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match bearer address")
}

func TestAssociationTokenExpired(t *testing.T) {
	parentPriv, _ := newTestKey(t)
	childPriv, childAddress := newTestKey(t)

	association, err := SignAssociationToken(parentPriv, childPriv.PubKey(), time.Now().Add(-time.Minute))
	require.NoError(t, err)

	header, err := SignV1Token(childPriv, V1TokenClaims{
		GaiaChallenge:    ChallengeText(testServer),
		AssociationToken: association,
	})
	require.NoError(t, err)

	_, err = validate(t, "bearer "+header, childAddress, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestV1TokenTamperedSignature(t *testing.T) {
	priv, address := newTestKey(t)

	header, err := SignV1Token(priv, V1TokenClaims{GaiaChallenge: ChallengeText(testServer)})
	require.NoError(t, err)

	tampered := header[:len(header)-4] + "AAAA"
	_, err = validate(t, "bearer "+tampered, address, 0)
	assert.Error(t, err)
}
