package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stacks-network/gaia-hub/interfaces"
)

// metadataDirName holds per-object sidecar files carrying content-type
// and etag, which the filesystem cannot store natively. The directory is
// invisible to list operations.
const metadataDirName = ".gaia-metadata"

// DiskDriver stores objects on the local filesystem under
// <root>/<address>/<path>. It honors etag preconditions by consulting the
// sidecar metadata under the write lock the hub already holds.
type DiskDriver struct {
	rootDir  string
	readURL  string
	pageSize int
	log      *slog.Logger
}

type diskMetadata struct {
	ContentType string `json:"content-type"`
	ETag        string `json:"etag"`
}

// NewDiskDriver creates a disk driver rooted at cfg.DiskRootDirectory.
func NewDiskDriver(cfg *Config, log *slog.Logger) (*DiskDriver, error) {
	if cfg.DiskRootDirectory == "" {
		return nil, fmt.Errorf("disk driver requires a root directory")
	}
	if cfg.ReadURL == "" {
		return nil, fmt.Errorf("disk driver requires a read URL")
	}
	return &DiskDriver{
		rootDir:  cfg.DiskRootDirectory,
		readURL:  cfg.ReadURL,
		pageSize: cfg.PageSize,
		log:      log,
	}, nil
}

// EnsureInitialized implements interfaces.Driver.
func (d *DiskDriver) EnsureInitialized(ctx context.Context) error {
	if err := os.MkdirAll(d.rootDir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage root: %w", err)
	}
	return nil
}

// Dispose implements interfaces.Driver.
func (d *DiskDriver) Dispose() error { return nil }

// ReadURLPrefix implements interfaces.Driver.
func (d *DiskDriver) ReadURLPrefix() string { return d.readURL }

// SupportsETagMatching implements interfaces.Driver.
func (d *DiskDriver) SupportsETagMatching() bool { return true }

func (d *DiskDriver) objectPath(storageTopLevel, path string) string {
	return filepath.Join(d.rootDir, storageTopLevel, filepath.FromSlash(path))
}

func (d *DiskDriver) metadataPath(storageTopLevel, path string) string {
	return filepath.Join(d.rootDir, storageTopLevel, metadataDirName, filepath.FromSlash(path))
}

func (d *DiskDriver) readMetadata(storageTopLevel, path string) (diskMetadata, error) {
	raw, err := os.ReadFile(d.metadataPath(storageTopLevel, path))
	if err != nil {
		return diskMetadata{}, err
	}
	var meta diskMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return diskMetadata{}, err
	}
	return meta, nil
}

func (d *DiskDriver) writeMetadata(storageTopLevel, path string, meta diskMetadata) error {
	metaPath := d.metadataPath(storageTopLevel, path)
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, raw, 0o644)
}

// PerformWrite implements interfaces.Driver. Content is staged to a
// temporary file and moved into place, so readers never observe a partial
// object and a broken upload stream leaves nothing behind.
func (d *DiskDriver) PerformWrite(ctx context.Context, args *interfaces.WriteArgs) (interfaces.WriteResult, error) {
	if err := validateWriteArgs(args); err != nil {
		return interfaces.WriteResult{}, err
	}

	if args.IfMatch != "" || args.IfNoneMatch == "*" {
		if err := d.checkPreconditions(args); err != nil {
			return interfaces.WriteResult{}, err
		}
	}

	objPath := d.objectPath(args.StorageTopLevel, args.Path)
	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return interfaces.WriteResult{}, fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(objPath), ".upload-*")
	if err != nil {
		return interfaces.WriteResult{}, fmt.Errorf("failed to stage upload: %w", err)
	}
	data, err := io.ReadAll(args.Stream)
	if err == nil {
		_, err = tmp.Write(data)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return interfaces.WriteResult{}, fmt.Errorf("upload stream failed: %w", err)
	}
	if err := os.Rename(tmp.Name(), objPath); err != nil {
		os.Remove(tmp.Name())
		return interfaces.WriteResult{}, fmt.Errorf("failed to commit object: %w", err)
	}

	etag := contentETag(data)
	if err := d.writeMetadata(args.StorageTopLevel, args.Path, diskMetadata{
		ContentType: args.ContentType,
		ETag:        etag,
	}); err != nil {
		return interfaces.WriteResult{}, fmt.Errorf("failed to write object metadata: %w", err)
	}

	d.log.Debug("Stored object on disk",
		slog.String("path", objPath),
		slog.Int("size", len(data)))

	return interfaces.WriteResult{
		PublicURL: d.readURL + args.StorageTopLevel + "/" + args.Path,
		ETag:      etag,
	}, nil
}

func (d *DiskDriver) checkPreconditions(args *interfaces.WriteArgs) error {
	stat, err := d.PerformStat(context.Background(), args.StorageTopLevel, args.Path)
	if err != nil {
		return err
	}
	if args.IfNoneMatch == "*" && stat.Exists {
		return interfaces.NewPreconditionFailedError("", stat.ETag)
	}
	if args.IfMatch != "" {
		if !stat.Exists {
			return interfaces.NewPreconditionFailedError(args.IfMatch, "")
		}
		if stat.ETag != args.IfMatch {
			return interfaces.NewPreconditionFailedError(args.IfMatch, stat.ETag)
		}
	}
	return nil
}

// PerformRead implements interfaces.Driver. A directory path reports
// DoesNotExistError: reads never act as implicit listings.
func (d *DiskDriver) PerformRead(ctx context.Context, storageTopLevel, path string) (*interfaces.ReadResult, error) {
	if !interfaces.IsPathValid(path) {
		return nil, interfaces.NewBadPathError("invalid path %q", path)
	}
	objPath := d.objectPath(storageTopLevel, path)
	info, err := os.Stat(objPath)
	if err != nil || info.IsDir() {
		return nil, interfaces.NewDoesNotExistError("file not found: %s", path)
	}
	file, err := os.Open(objPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}

	meta, err := d.readMetadata(storageTopLevel, path)
	if err != nil {
		meta = diskMetadata{ContentType: "application/octet-stream"}
	}
	return &interfaces.ReadResult{
		Exists:        true,
		Data:          file,
		ETag:          meta.ETag,
		ContentType:   meta.ContentType,
		ContentLength: info.Size(),
		LastModified:  info.ModTime(),
	}, nil
}

// PerformStat implements interfaces.Driver.
func (d *DiskDriver) PerformStat(ctx context.Context, storageTopLevel, path string) (interfaces.StatResult, error) {
	if !interfaces.IsPathValid(path) {
		return interfaces.StatResult{}, interfaces.NewBadPathError("invalid path %q", path)
	}
	info, err := os.Stat(d.objectPath(storageTopLevel, path))
	if err != nil || info.IsDir() {
		return interfaces.StatResult{Exists: false}, nil
	}
	meta, err := d.readMetadata(storageTopLevel, path)
	if err != nil {
		meta = diskMetadata{ContentType: "application/octet-stream"}
	}
	return interfaces.StatResult{
		Exists:        true,
		ETag:          meta.ETag,
		ContentType:   meta.ContentType,
		ContentLength: info.Size(),
		LastModified:  info.ModTime(),
	}, nil
}

// PerformDelete implements interfaces.Driver. Deleting a directory path
// reports DoesNotExistError, matching object-store semantics.
func (d *DiskDriver) PerformDelete(ctx context.Context, storageTopLevel, path string) error {
	if !interfaces.IsPathValid(path) {
		return interfaces.NewBadPathError("invalid path %q", path)
	}
	objPath := d.objectPath(storageTopLevel, path)
	info, err := os.Stat(objPath)
	if err != nil || info.IsDir() {
		return interfaces.NewDoesNotExistError("file not found: %s", path)
	}
	if err := os.Remove(objPath); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	os.Remove(d.metadataPath(storageTopLevel, path))
	return nil
}

// PerformRename implements interfaces.Driver.
func (d *DiskDriver) PerformRename(ctx context.Context, storageTopLevel, path, newPath string) error {
	if !interfaces.IsPathValid(path) {
		return interfaces.NewBadPathError("invalid path %q", path)
	}
	if !interfaces.IsPathValid(newPath) {
		return interfaces.NewBadPathError("invalid path %q", newPath)
	}
	srcPath := d.objectPath(storageTopLevel, path)
	info, err := os.Stat(srcPath)
	if err != nil || info.IsDir() {
		return interfaces.NewDoesNotExistError("file not found: %s", path)
	}

	dstPath := d.objectPath(storageTopLevel, newPath)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return fmt.Errorf("failed to rename object: %w", err)
	}

	srcMeta := d.metadataPath(storageTopLevel, path)
	if _, err := os.Stat(srcMeta); err == nil {
		dstMeta := d.metadataPath(storageTopLevel, newPath)
		if err := os.MkdirAll(filepath.Dir(dstMeta), 0o755); err == nil {
			os.Rename(srcMeta, dstMeta)
		}
	}
	return nil
}

// ListFiles implements interfaces.Driver.
func (d *DiskDriver) ListFiles(ctx context.Context, args *interfaces.ListArgs) (interfaces.ListResult, error) {
	names, page, err := d.listKeys(args)
	if err != nil {
		return interfaces.ListResult{}, err
	}
	return interfaces.ListResult{Entries: names, Page: page}, nil
}

// ListFilesStat implements interfaces.Driver.
func (d *DiskDriver) ListFilesStat(ctx context.Context, args *interfaces.ListArgs) (interfaces.ListStatResult, error) {
	names, page, err := d.listKeys(args)
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

func (d *DiskDriver) listKeys(args *interfaces.ListArgs) ([]string, string, error) {
	offset, err := parsePageToken(args.Page)
	if err != nil {
		return nil, "", err
	}
	pageSize := args.PageSize
	if pageSize <= 0 {
		pageSize = d.pageSize
	}

	topDir := filepath.Join(d.rootDir, args.StorageTopLevel)
	var names []string
	walkErr := filepath.WalkDir(topDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			if entry.Name() == metadataDirName {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(topDir, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return nil, "", fmt.Errorf("failed to list objects: %w", walkErr)
	}

	if args.PathPrefix != "" {
		filtered := names[:0]
		exactMatch := false
		for _, name := range names {
			if name == args.PathPrefix {
				exactMatch = true
				continue
			}
			if strings.HasPrefix(name, args.PathPrefix) {
				filtered = append(filtered, name)
			}
		}
		names = filtered
		if exactMatch && len(names) == 0 {
			return []string{""}, "", nil
		}
	}

	sort.Strings(names)
	pageEntries, nextPage := paginate(names, offset, pageSize)
	return pageEntries, nextPage, nil
}
