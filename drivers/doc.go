// Package drivers provides the storage backends behind the hub: local
// disk, in-memory, Amazon S3, Azure Blob Storage and IPFS. All of them
// satisfy interfaces.Driver and are selected by name through NewDriver.
//
// Backends differ in what they can promise. Disk, memory and azure
// support etag preconditions; s3 and ipfs do not and say so through
// SupportsETagMatching, letting the hub reject conditional requests
// before any data moves. Backends without native content-type or
// modification-time tracking (disk, ipfs) keep that state in JSON
// sidecars under a metadata directory that never appears in listings.
//
// Page tokens are opaque to callers: numeric offsets for disk, memory
// and ipfs, native continuation tokens for s3 and azure.
package drivers
