package drivers

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stacks-network/gaia-hub/interfaces"
)

// MemoryDriver is the in-memory reference implementation of the driver
// contract. It upholds every guarantee the contract names, including etag
// matching, and is the backend the hub's own tests run against.
// Safe for concurrent use.
type MemoryDriver struct {
	mu       sync.RWMutex
	objects  map[string]*memoryObject
	readURL  string
	pageSize int
}

type memoryObject struct {
	data         []byte
	contentType  string
	etag         string
	lastModified time.Time
}

// NewMemoryDriver creates an empty in-memory driver.
func NewMemoryDriver(readURL string, pageSize int) *MemoryDriver {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &MemoryDriver{
		objects:  make(map[string]*memoryObject),
		readURL:  readURL,
		pageSize: pageSize,
	}
}

// EnsureInitialized implements interfaces.Driver.
func (d *MemoryDriver) EnsureInitialized(ctx context.Context) error { return nil }

// Dispose implements interfaces.Driver.
func (d *MemoryDriver) Dispose() error { return nil }

// ReadURLPrefix implements interfaces.Driver.
func (d *MemoryDriver) ReadURLPrefix() string { return d.readURL }

// SupportsETagMatching implements interfaces.Driver.
func (d *MemoryDriver) SupportsETagMatching() bool { return true }

func objectKey(storageTopLevel, path string) string {
	return storageTopLevel + "/" + path
}

// PerformWrite implements interfaces.Driver.
func (d *MemoryDriver) PerformWrite(ctx context.Context, args *interfaces.WriteArgs) (interfaces.WriteResult, error) {
	if err := validateWriteArgs(args); err != nil {
		return interfaces.WriteResult{}, err
	}
	data, err := io.ReadAll(args.Stream)
	if err != nil {
		return interfaces.WriteResult{}, err
	}

	key := objectKey(args.StorageTopLevel, args.Path)

	d.mu.Lock()
	defer d.mu.Unlock()

	existing := d.objects[key]
	if args.IfNoneMatch == "*" && existing != nil {
		return interfaces.WriteResult{}, interfaces.NewPreconditionFailedError("", existing.etag)
	}
	if args.IfMatch != "" {
		if existing == nil {
			return interfaces.WriteResult{}, interfaces.NewPreconditionFailedError(args.IfMatch, "")
		}
		if existing.etag != args.IfMatch {
			return interfaces.WriteResult{}, interfaces.NewPreconditionFailedError(args.IfMatch, existing.etag)
		}
	}

	etag := contentETag(data)
	d.objects[key] = &memoryObject{
		data:         data,
		contentType:  args.ContentType,
		etag:         etag,
		lastModified: time.Now(),
	}
	return interfaces.WriteResult{
		PublicURL: d.readURL + key,
		ETag:      etag,
	}, nil
}

// PerformRead implements interfaces.Driver.
func (d *MemoryDriver) PerformRead(ctx context.Context, storageTopLevel, path string) (*interfaces.ReadResult, error) {
	if !interfaces.IsPathValid(path) {
		return nil, interfaces.NewBadPathError("invalid path %q", path)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	obj, ok := d.objects[objectKey(storageTopLevel, path)]
	if !ok {
		return nil, interfaces.NewDoesNotExistError("file not found: %s", path)
	}
	return &interfaces.ReadResult{
		Exists:        true,
		Data:          io.NopCloser(bytes.NewReader(obj.data)),
		ETag:          obj.etag,
		ContentType:   obj.contentType,
		ContentLength: int64(len(obj.data)),
		LastModified:  obj.lastModified,
	}, nil
}

// PerformStat implements interfaces.Driver.
func (d *MemoryDriver) PerformStat(ctx context.Context, storageTopLevel, path string) (interfaces.StatResult, error) {
	if !interfaces.IsPathValid(path) {
		return interfaces.StatResult{}, interfaces.NewBadPathError("invalid path %q", path)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	obj, ok := d.objects[objectKey(storageTopLevel, path)]
	if !ok {
		return interfaces.StatResult{Exists: false}, nil
	}
	return interfaces.StatResult{
		Exists:        true,
		ETag:          obj.etag,
		ContentType:   obj.contentType,
		ContentLength: int64(len(obj.data)),
		LastModified:  obj.lastModified,
	}, nil
}

// PerformDelete implements interfaces.Driver. Deleting a key that only
// exists as a prefix of other keys reports DoesNotExistError.
func (d *MemoryDriver) PerformDelete(ctx context.Context, storageTopLevel, path string) error {
	if !interfaces.IsPathValid(path) {
		return interfaces.NewBadPathError("invalid path %q", path)
	}
	key := objectKey(storageTopLevel, path)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.objects[key]; !ok {
		return interfaces.NewDoesNotExistError("file not found: %s", path)
	}
	delete(d.objects, key)
	return nil
}

// PerformRename implements interfaces.Driver.
func (d *MemoryDriver) PerformRename(ctx context.Context, storageTopLevel, path, newPath string) error {
	if !interfaces.IsPathValid(path) {
		return interfaces.NewBadPathError("invalid path %q", path)
	}
	if !interfaces.IsPathValid(newPath) {
		return interfaces.NewBadPathError("invalid path %q", newPath)
	}
	srcKey := objectKey(storageTopLevel, path)
	dstKey := objectKey(storageTopLevel, newPath)

	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.objects[srcKey]
	if !ok {
		return interfaces.NewDoesNotExistError("file not found: %s", path)
	}
	d.objects[dstKey] = obj
	delete(d.objects, srcKey)
	return nil
}

// ListFiles implements interfaces.Driver.
func (d *MemoryDriver) ListFiles(ctx context.Context, args *interfaces.ListArgs) (interfaces.ListResult, error) {
	names, page, err := d.listKeys(args)
	if err != nil {
		return interfaces.ListResult{}, err
	}
	return interfaces.ListResult{Entries: names, Page: page}, nil
}

// ListFilesStat implements interfaces.Driver.
func (d *MemoryDriver) ListFilesStat(ctx context.Context, args *interfaces.ListArgs) (interfaces.ListStatResult, error) {
	names, page, err := d.listKeys(args)
	if err != nil {
		return interfaces.ListStatResult{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	entries := make([]interfaces.ListEntry, 0, len(names))
	for _, name := range names {
		lookup := name
		if lookup == "" {
			lookup = args.PathPrefix
		}
		obj, ok := d.objects[objectKey(args.StorageTopLevel, lookup)]
		if !ok {
			continue
		}
		entries = append(entries, interfaces.ListEntry{
			Name:          name,
			ETag:          obj.etag,
			ContentLength: int64(len(obj.data)),
			LastModified:  obj.lastModified,
		})
	}
	return interfaces.ListStatResult{Entries: entries, Page: page}, nil
}

func (d *MemoryDriver) listKeys(args *interfaces.ListArgs) ([]string, string, error) {
	offset, err := parsePageToken(args.Page)
	if err != nil {
		return nil, "", err
	}
	pageSize := args.PageSize
	if pageSize <= 0 {
		pageSize = d.pageSize
	}

	topPrefix := args.StorageTopLevel + "/"
	fullPrefix := topPrefix + args.PathPrefix

	d.mu.RLock()
	var names []string
	exactMatch := false
	for key := range d.objects {
		if !strings.HasPrefix(key, fullPrefix) {
			continue
		}
		if key == fullPrefix && args.PathPrefix != "" {
			exactMatch = true
			continue
		}
		names = append(names, strings.TrimPrefix(key, topPrefix))
	}
	d.mu.RUnlock()

	// A prefix naming a single object rather than a directory lists as
	// one empty entry, mirroring object-store no-real-directories
	// semantics.
	if exactMatch && len(names) == 0 {
		return []string{""}, "", nil
	}

	sort.Strings(names)
	pageEntries, nextPage := paginate(names, offset, pageSize)
	return pageEntries, nextPage, nil
}
