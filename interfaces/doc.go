// Package interfaces defines the contracts and shared types of the Gaia
// storage hub, separating interface definitions from implementations.
//
// # Driver Contract
//
// Driver: the uniform interface every storage backend implements — write,
// read, stat, delete, rename and paginated listing over a flat keyspace
// namespaced by owning address. Drivers report whether they can enforce
// etag preconditions via SupportsETagMatching; the hub refuses conditional
// writes on backends that cannot.
//
// # Collaborators
//
// ProofChecker: consulted between authentication and the driver write,
// gating storage on an address's verified social proofs.
//
// # Error Taxonomy
//
// The package defines the closed set of typed errors shared by every layer:
//
//   - ValidationError: authentication/authorization failure (HTTP 401)
//   - AuthTokenTimestampValidationError: token predates revocation watermark (401)
//   - NotEnoughProofError: insufficient social proofs (402)
//   - BadPathError: traversal or malformed path (403)
//   - DoesNotExistError: target absent (404)
//   - ConflictError: concurrent write detected (409)
//   - PreconditionFailedError: etag precondition mismatch (412)
//   - InvalidInputError: malformed content-type, page token or body (400)
//   - PayloadTooLargeError: body over the configured limit (413)
//
// The HTTP layer dispatches on these types with errors.As; ErrorName maps a
// typed error back to the name echoed in client-facing JSON bodies.
package interfaces
