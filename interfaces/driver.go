package interfaces

import (
	"context"
	"io"
	"strings"
	"time"
)

// MaxContentTypeLength caps the content-type header a write may carry.
// Backends store the value in object metadata, which has its own limits.
const MaxContentTypeLength = 1024

// HistoryInfix marks archived object versions. Entries containing it are
// storage-internal and never surfaced by list operations.
const HistoryInfix = ".history."

// WriteArgs describes a single object write.
type WriteArgs struct {
	// StorageTopLevel is the owning address, the top-level namespace.
	StorageTopLevel string

	// Path is the object key within the namespace.
	Path string

	// Stream supplies the object content. Drivers must treat a stream
	// error as fatal to the write and clean up any partial object.
	Stream io.Reader

	// ContentLength is the declared body size in bytes.
	ContentLength int64

	// ContentType is stored alongside the object and echoed on read.
	ContentType string

	// IfMatch, when set, requires the current object's etag to equal it.
	IfMatch string

	// IfNoneMatch supports only "*": require that no object exists yet.
	IfNoneMatch string
}

// WriteResult is returned by a successful write.
type WriteResult struct {
	// PublicURL is where the object can be fetched, using the driver's
	// native read URL prefix.
	PublicURL string

	// ETag is the content-derived version identifier of the stored bytes.
	ETag string
}

// ReadResult carries an object's content and metadata.
type ReadResult struct {
	Exists        bool
	Data          io.ReadCloser
	ETag          string
	ContentType   string
	ContentLength int64
	LastModified  time.Time
}

// StatResult carries object metadata without the body. Exists is false,
// rather than an error, when the object is absent.
type StatResult struct {
	Exists        bool
	ETag          string
	ContentType   string
	ContentLength int64
	LastModified  time.Time
}

// ListArgs describes a paginated listing request.
type ListArgs struct {
	// StorageTopLevel is the owning address.
	StorageTopLevel string

	// PathPrefix narrows the listing to keys under the prefix.
	PathPrefix string

	// Page is the opaque continuation token from a prior page, or empty.
	Page string

	// PageSize caps entries per page. Zero means the driver default.
	PageSize int
}

// ListResult is one page of object names. Page is the continuation token
// for the next page, empty when the listing is exhausted.
type ListResult struct {
	Entries []string
	Page    string
}

// ListEntry is one object name plus its stat metadata. Serialized as-is
// in list-files responses.
type ListEntry struct {
	Name          string    `json:"name"`
	ETag          string    `json:"etag"`
	ContentLength int64     `json:"contentLength"`
	LastModified  time.Time `json:"lastModified"`
}

// ListStatResult is one page of entries with metadata.
type ListStatResult struct {
	Entries []ListEntry
	Page    string
}

// Driver is the contract every storage backend implements. Implementations
// must be safe for concurrent use; the hub serializes writes per
// (address, path) but distinct keys proceed fully in parallel.
type Driver interface {
	// EnsureInitialized prepares the backend (creating the bucket or
	// container if needed). Idempotent.
	EnsureInitialized(ctx context.Context) error

	// Dispose releases backend connections.
	Dispose() error

	// ReadURLPrefix returns the backend-native URL prefix under which
	// stored objects are publicly readable.
	ReadURLPrefix() string

	// PerformWrite stores an object, honoring etag preconditions where
	// SupportsETagMatching reports true.
	PerformWrite(ctx context.Context, args *WriteArgs) (WriteResult, error)

	// PerformRead fetches an object. Returns DoesNotExistError when the
	// object is absent or the path denotes a prefix rather than an object.
	PerformRead(ctx context.Context, storageTopLevel, path string) (*ReadResult, error)

	// PerformStat fetches object metadata. Absence is reported via
	// StatResult.Exists, not an error.
	PerformStat(ctx context.Context, storageTopLevel, path string) (StatResult, error)

	// PerformDelete removes an object. Returns DoesNotExistError when the
	// object is absent or the path denotes a prefix.
	PerformDelete(ctx context.Context, storageTopLevel, path string) error

	// PerformRename moves an object to a new key within the same
	// namespace. Returns DoesNotExistError when the source is absent.
	PerformRename(ctx context.Context, storageTopLevel, path, newPath string) error

	// ListFiles returns a page of object names under the prefix.
	ListFiles(ctx context.Context, args *ListArgs) (ListResult, error)

	// ListFilesStat returns a page of entries with stat metadata.
	ListFilesStat(ctx context.Context, args *ListArgs) (ListStatResult, error)

	// SupportsETagMatching reports whether the backend can enforce
	// IfMatch/IfNoneMatch as true conditional writes.
	SupportsETagMatching() bool
}

// ProofChecker gates writes on an address's verified social proofs. It is
// consulted after authentication and before the driver write.
type ProofChecker interface {
	// CheckProofs returns nil when the write may proceed, or a
	// NotEnoughProofError describing why not.
	CheckProofs(ctx context.Context, address, path, readURLPrefix string) error
}

// IsPathValid reports whether an object path is safe to hand to a driver:
// no traversal markers, no backslashes, no NUL bytes, and not
// directory-like (trailing slash).
func IsPathValid(path string) bool {
	if path == "" {
		return false
	}
	if strings.Contains(path, "..") {
		return false
	}
	if strings.ContainsAny(path, "\\\x00") {
		return false
	}
	if strings.HasSuffix(path, "/") {
		return false
	}
	return true
}
