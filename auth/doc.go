// Package auth implements the hub's bearer token protocol.
//
// Two token formats are accepted in the Authorization header:
//
//   - Legacy: base64-encoded JSON {publicKey, signature}, where signature
//     is a DER-encoded ECDSA signature over sha256 of a challenge text.
//     No scopes, no expiry, no delegation.
//   - V1: "v1:<jwt>" signed with ES256K by the key whose address owns the
//     bucket, carrying gaiaChallenge, optional exp/iat, optional hubUrl
//     binding, optional path-restricting scopes, and an optional
//     association token delegating authority from a parent key.
//
// # Challenge texts
//
// Tokens are bound to a server through a challenge text, the JSON array
// ["gaiahub", "0", serverName, "blockstack_storage_please_sign"]. Earlier
// challenge formats used calendar-year markers; those texts remain
// acceptable indefinitely so long-lived tokens keep working across
// challenge rotations.
//
// # Revocation
//
// A v1 token's iat claim is compared against the address's revocation
// watermark. Tokens issued before the watermark fail with a distinguished
// AuthTokenTimestampValidationError carrying the watermark value.
//
// # Delegation
//
// An association token is a JWT signed by a parent key naming the outer
// token's signer in childToAssociate. Validation always checks the outer
// signer against the bucket address first; only then is delegation
// resolved, and the parent's address is returned as the authority behind
// the request (and is what whitelists are checked against).
package auth
