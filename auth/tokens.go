package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/golang-jwt/jwt/v4"

	"github.com/stacks-network/gaia-hub/cryptoutils"
	"github.com/stacks-network/gaia-hub/interfaces"
)

// ValidationOptions carries the per-request knobs for token validation.
type ValidationOptions struct {
	// RequireCorrectHubURL demands the token name this hub in its hubUrl
	// claim, preventing replay of tokens minted for other hubs.
	RequireCorrectHubURL bool

	// ValidHubURLs is the set of URLs this hub answers to. Trailing
	// slashes are ignored during comparison.
	ValidHubURLs []string

	// OldestValidTokenTimestamp, when positive, is the revocation
	// watermark: tokens must carry iat at or above it.
	OldestValidTokenTimestamp int64
}

// Token is a parsed bearer credential. Two formats implement it: the
// legacy raw-signature scheme and the v1 JWT scheme.
type Token interface {
	// Validate verifies the credential against the bucket address and the
	// acceptable challenge texts, returning the address of the signer
	// whose authority the request carries. Under v1 delegation that is
	// the association token's signer, not the bucket address.
	Validate(address string, challengeTexts []string, opts *ValidationOptions) (string, error)

	// AuthScopes returns the categorized scope restrictions. Legacy
	// tokens have none.
	AuthScopes() *ScopeValues
}

var versionPrefixRe = regexp.MustCompile(`^v[0-9]+:`)

// ParseAuthHeader parses an Authorization header into a bearer token.
// The header must carry the (case-insensitive) "bearer" keyword; the
// credential is either "v1:<jwt>" or legacy base64-encoded JSON.
func ParseAuthHeader(header string) (Token, error) {
	if header == "" {
		return nil, interfaces.NewValidationError("missing authorization header")
	}
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return nil, interfaces.NewValidationError("authorization header should start with 'bearer'")
	}
	credential := strings.TrimSpace(header[len("bearer "):])

	if strings.HasPrefix(credential, "v1:") {
		return parseV1Token(strings.TrimPrefix(credential, "v1:"))
	}
	if versionPrefixRe.MatchString(credential) {
		return nil, interfaces.NewValidationError("unsupported auth token version: %s", credential[:strings.Index(credential, ":")])
	}
	return parseLegacyToken(credential)
}

// LegacyToken is the original bearer format: a public key and a signature
// over a challenge text, base64-encoded as JSON. No scopes, no expiry, no
// delegation.
type LegacyToken struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

func parseLegacyToken(credential string) (*LegacyToken, error) {
	raw, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		return nil, interfaces.NewValidationError("failed to decode bearer credential: %v", err)
	}
	var token LegacyToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, interfaces.NewValidationError("failed to parse bearer credential: %v", err)
	}
	if token.PublicKey == "" || token.Signature == "" {
		return nil, interfaces.NewValidationError("bearer credential missing publicKey or signature")
	}
	return &token, nil
}

// Validate implements Token. The signature is checked against each
// acceptable challenge text; any single match suffices.
func (t *LegacyToken) Validate(address string, challengeTexts []string, opts *ValidationOptions) (string, error) {
	if opts != nil && opts.OldestValidTokenTimestamp > 0 {
		// Legacy tokens carry no issued-at claim, so once an address has
		// revoked, none of its legacy tokens can be accepted.
		return "", interfaces.NewAuthTokenTimestampValidationError(opts.OldestValidTokenTimestamp)
	}

	pub, err := cryptoutils.ParsePublicKey(t.PublicKey)
	if err != nil {
		return "", interfaces.NewValidationError("invalid publicKey in bearer credential: %v", err)
	}
	if derived := cryptoutils.AddressFromPublicKey(pub); derived != address {
		return "", interfaces.NewValidationError("address %s does not match the public key in the bearer credential", address)
	}

	sig, err := hex.DecodeString(t.Signature)
	if err != nil {
		return "", interfaces.NewValidationError("invalid signature encoding in bearer credential: %v", err)
	}
	for _, text := range challengeTexts {
		if cryptoutils.VerifyDERSignature(pub, cryptoutils.Sha256([]byte(text)), sig) {
			return address, nil
		}
	}
	return "", interfaces.NewValidationError("signature does not match any acceptable challenge text")
}

// AuthScopes implements Token. Legacy tokens carry no scopes.
func (t *LegacyToken) AuthScopes() *ScopeValues { return &ScopeValues{} }

// v1Payload is the claim set of a v1 bearer token.
type v1Payload struct {
	Iss              string
	GaiaChallenge    string
	Exp              int64
	Iat              int64
	HubURL           string
	AssociationToken string
	Scopes           []Scope
}

// V1Token is the JWT bearer format: signed with the issuer key over
// ES256K, optionally carrying scopes and an association token delegating
// authority from a whitelisted parent key.
type V1Token struct {
	issuerPub *secp256k1.PublicKey
	payload   v1Payload
	scopes    *ScopeValues
}

func parseV1Token(raw string) (*V1Token, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{MethodES256K.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var issuerPub *secp256k1.PublicKey
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		issHex, _ := claims["iss"].(string)
		if issHex == "" {
			return nil, interfaces.NewValidationError("auth token should be a JWT with at least an iss claim")
		}
		pub, err := cryptoutils.ParsePublicKey(issHex)
		if err != nil {
			return nil, err
		}
		issuerPub = pub
		return pub, nil
	})
	if err != nil {
		return nil, interfaces.NewValidationError("failed to verify auth token: %v", err)
	}

	payload := v1Payload{
		Iss:              stringClaim(claims, "iss"),
		GaiaChallenge:    stringClaim(claims, "gaiaChallenge"),
		Exp:              int64Claim(claims, "exp"),
		Iat:              int64Claim(claims, "iat"),
		HubURL:           stringClaim(claims, "hubUrl"),
		AssociationToken: stringClaim(claims, "associationToken"),
	}
	scopes, err := scopesClaim(claims)
	if err != nil {
		return nil, err
	}
	if err := validateScopes(scopes); err != nil {
		return nil, err
	}
	payload.Scopes = scopes

	return &V1Token{
		issuerPub: issuerPub,
		payload:   payload,
		scopes:    categorizeScopes(scopes),
	}, nil
}

// Validate implements Token.
func (t *V1Token) Validate(address string, challengeTexts []string, opts *ValidationOptions) (string, error) {
	// The outer signer must always equal the bucket address. Delegation
	// never relaxes this: the association token instead substitutes whose
	// authority the request carries (the parent's), resolved below.
	issuerAddress := cryptoutils.AddressFromPublicKey(t.issuerPub)
	if issuerAddress != address {
		return "", interfaces.NewValidationError("token issuer address %s does not match the bucket address %s", issuerAddress, address)
	}

	challengeOK := false
	for _, text := range challengeTexts {
		if t.payload.GaiaChallenge == text {
			challengeOK = true
			break
		}
	}
	if !challengeOK {
		return "", interfaces.NewValidationError("invalid gaiaChallenge text %q", t.payload.GaiaChallenge)
	}

	now := time.Now().Unix()
	if t.payload.Exp != 0 && t.payload.Exp <= now {
		return "", interfaces.NewValidationError("auth token expired at %d", t.payload.Exp)
	}

	if opts != nil && opts.RequireCorrectHubURL {
		if t.payload.HubURL == "" {
			return "", interfaces.NewValidationError("auth token does not contain a hubUrl claim")
		}
		tokenHubURL := strings.TrimSuffix(t.payload.HubURL, "/")
		matched := false
		for _, valid := range opts.ValidHubURLs {
			if tokenHubURL == strings.TrimSuffix(valid, "/") {
				matched = true
				break
			}
		}
		if !matched {
			return "", interfaces.NewValidationError("auth token hubUrl %q not valid for this hub", t.payload.HubURL)
		}
	}

	if opts != nil && opts.OldestValidTokenTimestamp > 0 {
		if t.payload.Iat == 0 || t.payload.Iat < opts.OldestValidTokenTimestamp {
			return "", interfaces.NewAuthTokenTimestampValidationError(opts.OldestValidTokenTimestamp)
		}
	}

	if t.payload.AssociationToken != "" {
		return checkAssociationToken(t.payload.AssociationToken, address)
	}
	return address, nil
}

// AuthScopes implements Token.
func (t *V1Token) AuthScopes() *ScopeValues { return t.scopes }

// checkAssociationToken verifies a delegation JWT. The token is signed by
// the delegating (parent) key and names the outer token's signer as
// childToAssociate; on success the parent's address is returned as the
// authority behind the request.
func checkAssociationToken(raw, bearerAddress string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{MethodES256K.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		issHex, _ := claims["iss"].(string)
		if issHex == "" {
			return nil, interfaces.NewValidationError("association token missing iss claim")
		}
		return cryptoutils.ParsePublicKey(issHex)
	})
	if err != nil {
		return "", interfaces.NewValidationError("failed to verify association token: %v", err)
	}

	issHex := stringClaim(claims, "iss")
	childHex := stringClaim(claims, "childToAssociate")
	exp := int64Claim(claims, "exp")
	if issHex == "" || childHex == "" || exp == 0 {
		return "", interfaces.NewValidationError("association token missing iss, childToAssociate or exp claim")
	}
	if exp <= time.Now().Unix() {
		return "", interfaces.NewValidationError("association token expired at %d", exp)
	}

	childAddress, err := cryptoutils.AddressFromPublicKeyHex(childHex)
	if err != nil {
		return "", interfaces.NewValidationError("invalid childToAssociate public key: %v", err)
	}
	if childAddress != bearerAddress {
		return "", interfaces.NewValidationError("association token child address %s does not match bearer address %s", childAddress, bearerAddress)
	}
	return cryptoutils.AddressFromPublicKeyHex(issHex)
}

// ValidateAuthorizationHeader is the top-level entry point: it builds the
// acceptable challenge set (current plus legacy) and the valid hub URL set
// (always including https://<serverName>), parses the header, and
// validates the token against the bucket address.
func ValidateAuthorizationHeader(header, serverName, address string, requireCorrectHubURL bool, validHubURLs []string, oldestValidTokenTimestamp int64) (string, error) {
	token, err := ParseAuthHeader(header)
	if err != nil {
		return "", err
	}
	opts := &ValidationOptions{
		RequireCorrectHubURL:      requireCorrectHubURL,
		ValidHubURLs:              append([]string{"https://" + serverName}, validHubURLs...),
		OldestValidTokenTimestamp: oldestValidTokenTimestamp,
	}
	return token.Validate(address, AcceptableChallengeTexts(serverName), opts)
}

func stringClaim(claims jwt.MapClaims, key string) string {
	value, _ := claims[key].(string)
	return value
}

func int64Claim(claims jwt.MapClaims, key string) int64 {
	switch v := claims[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case int64:
		return v
	default:
		return 0
	}
}

func scopesClaim(claims jwt.MapClaims) ([]Scope, error) {
	rawScopes, present := claims["scopes"]
	if !present || rawScopes == nil {
		return nil, nil
	}
	entries, ok := rawScopes.([]interface{})
	if !ok {
		return nil, interfaces.NewValidationError("scopes claim must be a list")
	}
	scopes := make([]Scope, 0, len(entries))
	for _, entry := range entries {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			return nil, interfaces.NewValidationError("each scope must be an object with scope and domain fields")
		}
		scope, _ := fields["scope"].(string)
		domain, _ := fields["domain"].(string)
		if scope == "" || domain == "" {
			return nil, interfaces.NewValidationError("each scope must carry non-empty scope and domain fields")
		}
		scopes = append(scopes, Scope{Scope: scope, Domain: domain})
	}
	return scopes, nil
}
