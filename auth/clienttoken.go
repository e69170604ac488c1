package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/golang-jwt/jwt/v4"

	"github.com/stacks-network/gaia-hub/cryptoutils"
)

// Token minting. The hub itself never mints tokens; these helpers exist
// for client tooling and tests exercising the validation path.

// V1TokenClaims describes a v1 bearer token to mint. Zero-valued fields
// are omitted from the payload.
type V1TokenClaims struct {
	GaiaChallenge    string
	ExpiresAt        time.Time
	IssuedAt         time.Time
	HubURL           string
	AssociationToken string
	Scopes           []Scope
}

// SignV1Token mints a "v1:<jwt>" bearer credential signed by priv.
func SignV1Token(priv *secp256k1.PrivateKey, c V1TokenClaims) (string, error) {
	claims := jwt.MapClaims{
		"iss":           hex.EncodeToString(priv.PubKey().SerializeCompressed()),
		"gaiaChallenge": c.GaiaChallenge,
		"salt":          newSalt(),
	}
	if !c.ExpiresAt.IsZero() {
		claims["exp"] = c.ExpiresAt.Unix()
	}
	if !c.IssuedAt.IsZero() {
		claims["iat"] = c.IssuedAt.Unix()
	}
	if c.HubURL != "" {
		claims["hubUrl"] = c.HubURL
	}
	if c.AssociationToken != "" {
		claims["associationToken"] = c.AssociationToken
	}
	if len(c.Scopes) > 0 {
		scopes := make([]map[string]string, 0, len(c.Scopes))
		for _, s := range c.Scopes {
			scopes = append(scopes, map[string]string{"scope": s.Scope, "domain": s.Domain})
		}
		claims["scopes"] = scopes
	}

	signed, err := jwt.NewWithClaims(MethodES256K, claims).SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("signing v1 token: %w", err)
	}
	return "v1:" + signed, nil
}

// SignAssociationToken mints a delegation JWT: the parent key grants write
// authority to the child key until expiresAt.
func SignAssociationToken(parentPriv *secp256k1.PrivateKey, childPub *secp256k1.PublicKey, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":              hex.EncodeToString(parentPriv.PubKey().SerializeCompressed()),
		"childToAssociate": hex.EncodeToString(childPub.SerializeCompressed()),
		"exp":              expiresAt.Unix(),
		"iat":              time.Now().Unix(),
		"salt":             newSalt(),
	}
	signed, err := jwt.NewWithClaims(MethodES256K, claims).SignedString(parentPriv)
	if err != nil {
		return "", fmt.Errorf("signing association token: %w", err)
	}
	return signed, nil
}

// SignLegacyToken mints a legacy bearer credential: base64 JSON carrying
// the public key and a DER signature over the challenge text.
func SignLegacyToken(priv *secp256k1.PrivateKey, challengeText string) string {
	sig := cryptoutils.SignDER(priv, cryptoutils.Sha256([]byte(challengeText)))
	payload, _ := json.Marshal(LegacyToken{
		PublicKey: hex.EncodeToString(priv.PubKey().SerializeCompressed()),
		Signature: hex.EncodeToString(sig),
	})
	return base64.StdEncoding.EncodeToString(payload)
}

func newSalt() string {
	salt := make([]byte, 16)
	rand.Read(salt)
	return hex.EncodeToString(salt)
}
