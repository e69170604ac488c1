// Package hub contains the request-handling core of the storage hub.
//
// Server validates every inbound operation against the bearer token
// protocol, enforces scope restrictions, mediates between the storage
// driver and the proof checker, and keeps concurrent writers from
// corrupting the same logical object.
//
// Data flow per operation: revocation watermark lookup, token validation,
// scope check, write-guard acquisition, archival relocation, proof check,
// driver dispatch, guard release.
//
// # Archival semantics
//
// Paths matched by archival scopes never lose history: a write first
// relocates the prior version to a timestamped .history. sibling, and a
// delete moves the live object into history instead of erasing it.
// Listings never surface history entries.
//
// # Concurrency
//
// WriteGuard rejects, rather than queues, a second in-flight write or
// delete per (address, path). AuthTimestampCache keeps the per-address
// revocation watermark monotonically non-decreasing under arbitrary
// read/write interleaving. Both are process-local accelerants; the
// backend-persisted watermark file is authoritative.
package hub
