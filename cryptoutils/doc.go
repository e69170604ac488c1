// Package cryptoutils provides the secp256k1 primitives token validation
// is built on: public key parsing, base58check address derivation, and
// signing/verification in both the compact R||S encoding used by ES256K
// JWTs and the DER encoding used by legacy bearer credentials.
package cryptoutils
