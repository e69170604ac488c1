package drivers

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/stacks-network/gaia-hub/interfaces"
)

// Config is the static per-backend connection info plus operational knobs.
// Not mutated after construction.
type Config struct {
	// DriverName selects the backend: disk, memory, s3, azure or ipfs.
	DriverName string

	// ReadURL is the public URL prefix objects are served under. Required
	// for disk, memory and ipfs; optional override for s3 and azure.
	ReadURL string

	// PageSize is the default listing page size.
	PageSize int

	// CacheControl, when set, is stored on written objects where the
	// backend supports it.
	CacheControl string

	// Disk
	DiskRootDirectory string

	// S3
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	// Azure Blob
	AzureAccountName string
	AzureAccountKey  string
	AzureContainer   string

	// IPFS
	IPFSAPIAddress string
	IPFSPrefix     string
}

// DefaultPageSize is used when Config.PageSize is unset.
const DefaultPageSize = 100

// NewDriver creates the storage driver named by the configuration.
func NewDriver(cfg *Config, log *slog.Logger) (interfaces.Driver, error) {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	switch strings.ToLower(cfg.DriverName) {
	case "disk":
		return NewDiskDriver(cfg, log)
	case "memory":
		return NewMemoryDriver(cfg.ReadURL, cfg.PageSize), nil
	case "s3":
		return NewS3Driver(cfg, log)
	case "azure":
		return NewAzureDriver(cfg, log)
	case "ipfs":
		return NewIPFSDriver(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.DriverName)
	}
}

// contentETag derives the etag for stored bytes: the md5 hex digest, the
// convention S3 established for non-multipart objects.
func contentETag(data []byte) string {
	digest := md5.Sum(data)
	return hex.EncodeToString(digest[:])
}

// parsePageToken decodes the numeric continuation tokens used by the
// disk, memory and ipfs drivers. Invalid tokens fail predictably.
func parsePageToken(page string) (int, error) {
	if page == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(page)
	if err != nil || offset < 0 {
		return 0, interfaces.NewInvalidInputError("invalid page token %q", page)
	}
	return offset, nil
}

// validateWriteArgs applies the checks every driver must make before
// touching its backend.
func validateWriteArgs(args *interfaces.WriteArgs) error {
	if !interfaces.IsPathValid(args.Path) {
		return interfaces.NewBadPathError("invalid path %q", args.Path)
	}
	if len(args.ContentType) > interfaces.MaxContentTypeLength {
		return interfaces.NewInvalidInputError("content-type too long: %d bytes", len(args.ContentType))
	}
	return nil
}

// paginate slices sorted keys into one page, returning the continuation
// token for the next page or empty when exhausted.
func paginate(keys []string, offset, pageSize int) ([]string, string) {
	if offset >= len(keys) {
		return []string{}, ""
	}
	end := offset + pageSize
	if end >= len(keys) {
		return keys[offset:], ""
	}
	return keys[offset:end], strconv.Itoa(end)
}
