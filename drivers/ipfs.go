package drivers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/stacks-network/gaia-hub/interfaces"
)

const ipfsMetadataDirName = ".gaia-metadata"

// IPFSDriver stores objects in the mutable files (MFS) area of an IPFS
// node, rooted at a configurable prefix. MFS tracks neither content type
// nor modification time, so both live in JSON sidecars under a metadata
// directory beside the object tree. Writes are not conditional, so
// SupportsETagMatching reports false.
type IPFSDriver struct {
	shell    *shell.Shell
	rootDir  string
	readURL  string
	pageSize int
	log      *slog.Logger
}

type ipfsMetadata struct {
	ContentType  string    `json:"content-type"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last-modified"`
}

// NewIPFSDriver creates an IPFS driver talking to the node API at the
// configured multiaddr or host:port.
func NewIPFSDriver(cfg *Config, log *slog.Logger) (*IPFSDriver, error) {
	if cfg.IPFSAPIAddress == "" {
		return nil, fmt.Errorf("ipfs driver requires an API address")
	}
	if cfg.ReadURL == "" {
		return nil, fmt.Errorf("ipfs driver requires a read URL")
	}
	rootDir := cfg.IPFSPrefix
	if rootDir == "" {
		rootDir = "/gaia"
	}
	rootDir = "/" + strings.Trim(rootDir, "/")

	return &IPFSDriver{
		shell:    shell.NewShell(cfg.IPFSAPIAddress),
		rootDir:  rootDir,
		readURL:  cfg.ReadURL,
		pageSize: cfg.PageSize,
		log:      log,
	}, nil
}

// EnsureInitialized implements interfaces.Driver, verifying the node is
// reachable and creating the root directories.
func (d *IPFSDriver) EnsureInitialized(ctx context.Context) error {
	if !d.shell.IsUp() {
		return fmt.Errorf("ipfs node at configured API address is not reachable")
	}
	if err := d.shell.FilesMkdir(ctx, d.rootDir, shell.FilesMkdir.Parents(true)); err != nil {
		return fmt.Errorf("failed to create ipfs root directory: %w", err)
	}
	if err := d.shell.FilesMkdir(ctx, d.metadataRoot(), shell.FilesMkdir.Parents(true)); err != nil {
		return fmt.Errorf("failed to create ipfs metadata directory: %w", err)
	}
	return nil
}

// Dispose implements interfaces.Driver.
func (d *IPFSDriver) Dispose() error { return nil }

// ReadURLPrefix implements interfaces.Driver.
func (d *IPFSDriver) ReadURLPrefix() string { return d.readURL }

// SupportsETagMatching implements interfaces.Driver.
func (d *IPFSDriver) SupportsETagMatching() bool { return false }

func (d *IPFSDriver) objectPath(storageTopLevel, path string) string {
	return d.rootDir + "/" + objectKey(storageTopLevel, path)
}

func (d *IPFSDriver) metadataRoot() string {
	return d.rootDir + "/" + ipfsMetadataDirName
}

func (d *IPFSDriver) metadataPath(storageTopLevel, path string) string {
	return d.metadataRoot() + "/" + objectKey(storageTopLevel, path)
}

// PerformWrite implements interfaces.Driver.
func (d *IPFSDriver) PerformWrite(ctx context.Context, args *interfaces.WriteArgs) (interfaces.WriteResult, error) {
	if err := validateWriteArgs(args); err != nil {
		return interfaces.WriteResult{}, err
	}
	data, err := io.ReadAll(args.Stream)
	if err != nil {
		return interfaces.WriteResult{}, fmt.Errorf("upload stream failed: %w", err)
	}

	mfsPath := d.objectPath(args.StorageTopLevel, args.Path)
	err = d.shell.FilesWrite(ctx, mfsPath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return interfaces.WriteResult{}, fmt.Errorf("failed to write file to ipfs: %w", err)
	}

	etag := contentETag(data)
	meta := ipfsMetadata{
		ContentType:  args.ContentType,
		ETag:         etag,
		LastModified: time.Now().UTC(),
	}
	if err := d.writeMetadata(ctx, args.StorageTopLevel, args.Path, &meta); err != nil {
		return interfaces.WriteResult{}, err
	}

	d.log.Debug("Stored file in IPFS",
		slog.String("path", mfsPath),
		slog.Int("size", len(data)))

	return interfaces.WriteResult{
		PublicURL: d.readURL + objectKey(args.StorageTopLevel, args.Path),
		ETag:      etag,
	}, nil
}

// PerformRead implements interfaces.Driver.
func (d *IPFSDriver) PerformRead(ctx context.Context, storageTopLevel, path string) (*interfaces.ReadResult, error) {
	if !interfaces.IsPathValid(path) {
		return nil, interfaces.NewBadPathError("invalid path %q", path)
	}
	mfsPath := d.objectPath(storageTopLevel, path)
	stat, err := d.shell.FilesStat(ctx, mfsPath)
	if err != nil {
		if isIPFSNotFound(err) {
			return nil, interfaces.NewDoesNotExistError("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to stat ipfs file: %w", err)
	}
	if stat.Type != "file" {
		return nil, interfaces.NewDoesNotExistError("file not found: %s", path)
	}

	reader, err := d.shell.FilesRead(ctx, mfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ipfs file: %w", err)
	}

	meta := d.readMetadata(ctx, storageTopLevel, path)
	return &interfaces.ReadResult{
		Exists:        true,
		Data:          reader,
		ETag:          meta.ETag,
		ContentType:   meta.ContentType,
		ContentLength: int64(stat.Size),
		LastModified:  meta.LastModified,
	}, nil
}

// PerformStat implements interfaces.Driver.
func (d *IPFSDriver) PerformStat(ctx context.Context, storageTopLevel, path string) (interfaces.StatResult, error) {
	if !interfaces.IsPathValid(path) {
		return interfaces.StatResult{}, interfaces.NewBadPathError("invalid path %q", path)
	}
	stat, err := d.shell.FilesStat(ctx, d.objectPath(storageTopLevel, path))
	if err != nil {
		if isIPFSNotFound(err) {
			return interfaces.StatResult{Exists: false}, nil
		}
		return interfaces.StatResult{}, fmt.Errorf("failed to stat ipfs file: %w", err)
	}
	if stat.Type != "file" {
		return interfaces.StatResult{Exists: false}, nil
	}

	meta := d.readMetadata(ctx, storageTopLevel, path)
	return interfaces.StatResult{
		Exists:        true,
		ETag:          meta.ETag,
		ContentType:   meta.ContentType,
		ContentLength: int64(stat.Size),
		LastModified:  meta.LastModified,
	}, nil
}

// PerformDelete implements interfaces.Driver.
func (d *IPFSDriver) PerformDelete(ctx context.Context, storageTopLevel, path string) error {
	if !interfaces.IsPathValid(path) {
		return interfaces.NewBadPathError("invalid path %q", path)
	}
	mfsPath := d.objectPath(storageTopLevel, path)
	stat, err := d.shell.FilesStat(ctx, mfsPath)
	if err != nil {
		if isIPFSNotFound(err) {
			return interfaces.NewDoesNotExistError("file not found: %s", path)
		}
		return fmt.Errorf("failed to stat ipfs file: %w", err)
	}
	if stat.Type != "file" {
		return interfaces.NewDoesNotExistError("file not found: %s", path)
	}

	if err := d.shell.FilesRm(ctx, mfsPath, true); err != nil {
		return fmt.Errorf("failed to delete ipfs file: %w", err)
	}
	// Orphaned sidecars are harmless.
	_ = d.shell.FilesRm(ctx, d.metadataPath(storageTopLevel, path), true)
	return nil
}

// PerformRename implements interfaces.Driver.
func (d *IPFSDriver) PerformRename(ctx context.Context, storageTopLevel, path, newPath string) error {
	if !interfaces.IsPathValid(path) {
		return interfaces.NewBadPathError("invalid path %q", path)
	}
	if !interfaces.IsPathValid(newPath) {
		return interfaces.NewBadPathError("invalid path %q", newPath)
	}

	srcPath := d.objectPath(storageTopLevel, path)
	dstPath := d.objectPath(storageTopLevel, newPath)
	if err := d.ensureParent(ctx, dstPath); err != nil {
		return err
	}
	if err := d.shell.FilesMv(ctx, srcPath, dstPath); err != nil {
		if isIPFSNotFound(err) {
			return interfaces.NewDoesNotExistError("file not found: %s", path)
		}
		return fmt.Errorf("failed to move ipfs file: %w", err)
	}

	srcMeta := d.metadataPath(storageTopLevel, path)
	dstMeta := d.metadataPath(storageTopLevel, newPath)
	if err := d.ensureParent(ctx, dstMeta); err == nil {
		_ = d.shell.FilesMv(ctx, srcMeta, dstMeta)
	}
	return nil
}

// ListFiles implements interfaces.Driver.
func (d *IPFSDriver) ListFiles(ctx context.Context, args *interfaces.ListArgs) (interfaces.ListResult, error) {
	names, page, err := d.listNames(ctx, args)
	if err != nil {
		return interfaces.ListResult{}, err
	}
	return interfaces.ListResult{Entries: names, Page: page}, nil
}

// ListFilesStat implements interfaces.Driver.
func (d *IPFSDriver) ListFilesStat(ctx context.Context, args *interfaces.ListArgs) (interfaces.ListStatResult, error) {
	names, page, err := d.listNames(ctx, args)
	if err != nil {
		return interfaces.ListStatResult{}, err
	}
	entries := make([]interfaces.ListEntry, 0, len(names))
	for _, name := range names {
		lookup := name
		if lookup == "" {
			lookup = args.PathPrefix
		}
		stat, err := d.PerformStat(ctx, args.StorageTopLevel, lookup)
		if err != nil || !stat.Exists {
			continue
		}
		entries = append(entries, interfaces.ListEntry{
			Name:          name,
			ETag:          stat.ETag,
			ContentLength: stat.ContentLength,
			LastModified:  stat.LastModified,
		})
	}
	return interfaces.ListStatResult{Entries: entries, Page: page}, nil
}

func (d *IPFSDriver) listNames(ctx context.Context, args *interfaces.ListArgs) ([]string, string, error) {
	offset, err := parsePageToken(args.Page)
	if err != nil {
		return nil, "", err
	}
	pageSize := args.PageSize
	if pageSize <= 0 {
		pageSize = d.pageSize
	}

	topDir := d.rootDir + "/" + args.StorageTopLevel
	var names []string
	if err := d.walk(ctx, topDir, "", &names); err != nil {
		return nil, "", err
	}

	filtered := names[:0]
	exactMatch := false
	for _, name := range names {
		if !strings.HasPrefix(name, args.PathPrefix) {
			continue
		}
		if name == args.PathPrefix && args.PathPrefix != "" {
			exactMatch = true
			continue
		}
		filtered = append(filtered, name)
	}
	if exactMatch && len(filtered) == 0 {
		return []string{""}, "", nil
	}

	sort.Strings(filtered)
	pageEntries, nextPage := paginate(filtered, offset, pageSize)
	return pageEntries, nextPage, nil
}

func (d *IPFSDriver) walk(ctx context.Context, dir, rel string, names *[]string) error {
	entries, err := d.shell.FilesLs(ctx, dir, shell.FilesLs.Stat(true))
	if err != nil {
		if isIPFSNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to list ipfs directory: %w", err)
	}
	for _, entry := range entries {
		childRel := entry.Name
		if rel != "" {
			childRel = rel + "/" + entry.Name
		}
		if entry.Type == shell.TDirectory {
			if err := d.walk(ctx, dir+"/"+entry.Name, childRel, names); err != nil {
				return err
			}
			continue
		}
		*names = append(*names, childRel)
	}
	return nil
}

func (d *IPFSDriver) writeMetadata(ctx context.Context, storageTopLevel, path string, meta *ipfsMetadata) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode ipfs metadata: %w", err)
	}
	err = d.shell.FilesWrite(ctx, d.metadataPath(storageTopLevel, path), bytes.NewReader(encoded),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("failed to write ipfs metadata: %w", err)
	}
	return nil
}

// readMetadata tolerates missing or corrupt sidecars, falling back to
// zero values rather than failing the read.
func (d *IPFSDriver) readMetadata(ctx context.Context, storageTopLevel, path string) ipfsMetadata {
	var meta ipfsMetadata
	reader, err := d.shell.FilesRead(ctx, d.metadataPath(storageTopLevel, path))
	if err != nil {
		return meta
	}
	defer reader.Close()
	_ = json.NewDecoder(reader).Decode(&meta)
	return meta
}

func (d *IPFSDriver) ensureParent(ctx context.Context, mfsPath string) error {
	idx := strings.LastIndex(mfsPath, "/")
	if idx <= 0 {
		return nil
	}
	return d.shell.FilesMkdir(ctx, mfsPath[:idx], shell.FilesMkdir.Parents(true))
}

func isIPFSNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "file does not exist") || strings.Contains(msg, "no link named")
}
