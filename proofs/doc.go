// Package proofs gates writes on published social proofs. A hub
// configured with a nonzero proof requirement fetches the bucket's
// profile document through the public read URL and refuses writes from
// addresses whose profiles carry too few proof-bearing accounts.
package proofs
