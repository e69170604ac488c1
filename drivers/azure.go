package drivers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/stacks-network/gaia-hub/interfaces"
)

// AzureDriver stores objects as block blobs in an Azure Storage container.
// Blob uploads accept If-Match and If-None-Match access conditions
// natively, so SupportsETagMatching reports true and etags are the
// service-assigned blob etags rather than content digests.
type AzureDriver struct {
	container    azblob.ContainerURL
	readURL      string
	cacheControl string
	pageSize     int
	log          *slog.Logger
}

// NewAzureDriver creates an Azure Blob driver from the configuration.
func NewAzureDriver(cfg *Config, log *slog.Logger) (*AzureDriver, error) {
	if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" {
		return nil, fmt.Errorf("azure driver requires account name and key")
	}
	if cfg.AzureContainer == "" {
		return nil, fmt.Errorf("azure driver requires a container name")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccountName))
	if err != nil {
		return nil, fmt.Errorf("invalid azure account name: %w", err)
	}
	container := azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(cfg.AzureContainer)

	readURL := cfg.ReadURL
	if readURL == "" {
		readURL = fmt.Sprintf("https://%s.blob.core.windows.net/%s/", cfg.AzureAccountName, cfg.AzureContainer)
	}

	return &AzureDriver{
		container:    container,
		readURL:      readURL,
		cacheControl: cfg.CacheControl,
		pageSize:     cfg.PageSize,
		log:          log,
	}, nil
}

// EnsureInitialized implements interfaces.Driver, creating the container
// with public blob access if it does not exist yet.
func (d *AzureDriver) EnsureInitialized(ctx context.Context) error {
	_, err := d.container.Create(ctx, azblob.Metadata{}, azblob.PublicAccessBlob)
	if err != nil {
		var stgErr azblob.StorageError
		if errors.As(err, &stgErr) && stgErr.ServiceCode() == azblob.ServiceCodeContainerAlreadyExists {
			return nil
		}
		return fmt.Errorf("failed to create azure container: %w", err)
	}
	return nil
}

// Dispose implements interfaces.Driver.
func (d *AzureDriver) Dispose() error { return nil }

// ReadURLPrefix implements interfaces.Driver.
func (d *AzureDriver) ReadURLPrefix() string { return d.readURL }

// SupportsETagMatching implements interfaces.Driver.
func (d *AzureDriver) SupportsETagMatching() bool { return true }

// PerformWrite implements interfaces.Driver.
func (d *AzureDriver) PerformWrite(ctx context.Context, args *interfaces.WriteArgs) (interfaces.WriteResult, error) {
	if err := validateWriteArgs(args); err != nil {
		return interfaces.WriteResult{}, err
	}

	key := objectKey(args.StorageTopLevel, args.Path)
	blobURL := d.container.NewBlockBlobURL(key)

	conditions := azblob.BlobAccessConditions{}
	if args.IfMatch != "" {
		conditions.ModifiedAccessConditions.IfMatch = azblob.ETag(args.IfMatch)
	}
	if args.IfNoneMatch == "*" {
		conditions.ModifiedAccessConditions.IfNoneMatch = azblob.ETagAny
	}

	resp, err := azblob.UploadStreamToBlockBlob(ctx, args.Stream, blobURL, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: 4 * 1024 * 1024,
		MaxBuffers: 4,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType:  args.ContentType,
			CacheControl: d.cacheControl,
		},
		AccessConditions: conditions,
	})
	if err != nil {
		if isAzurePreconditionFailed(err) {
			return interfaces.WriteResult{}, interfaces.NewPreconditionFailedError(args.IfMatch, "")
		}
		return interfaces.WriteResult{}, fmt.Errorf("failed to upload blob: %w", err)
	}

	d.log.Debug("Stored blob in Azure",
		slog.String("key", key),
		slog.Int64("size", args.ContentLength))

	return interfaces.WriteResult{
		PublicURL: d.readURL + key,
		ETag:      trimETag(string(resp.ETag())),
	}, nil
}

// PerformRead implements interfaces.Driver.
func (d *AzureDriver) PerformRead(ctx context.Context, storageTopLevel, path string) (*interfaces.ReadResult, error) {
	if !interfaces.IsPathValid(path) {
		return nil, interfaces.NewBadPathError("invalid path %q", path)
	}
	blobURL := d.container.NewBlockBlobURL(objectKey(storageTopLevel, path))
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, interfaces.NewDoesNotExistError("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to download blob: %w", err)
	}
	return &interfaces.ReadResult{
		Exists:        true,
		Data:          resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3}),
		ETag:          trimETag(string(resp.ETag())),
		ContentType:   resp.ContentType(),
		ContentLength: resp.ContentLength(),
		LastModified:  resp.LastModified(),
	}, nil
}

// PerformStat implements interfaces.Driver.
func (d *AzureDriver) PerformStat(ctx context.Context, storageTopLevel, path string) (interfaces.StatResult, error) {
	if !interfaces.IsPathValid(path) {
		return interfaces.StatResult{}, interfaces.NewBadPathError("invalid path %q", path)
	}
	blobURL := d.container.NewBlockBlobURL(objectKey(storageTopLevel, path))
	resp, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return interfaces.StatResult{Exists: false}, nil
		}
		return interfaces.StatResult{}, fmt.Errorf("failed to stat blob: %w", err)
	}
	return interfaces.StatResult{
		Exists:        true,
		ETag:          trimETag(string(resp.ETag())),
		ContentType:   resp.ContentType(),
		ContentLength: resp.ContentLength(),
		LastModified:  resp.LastModified(),
	}, nil
}

// PerformDelete implements interfaces.Driver.
func (d *AzureDriver) PerformDelete(ctx context.Context, storageTopLevel, path string) error {
	if !interfaces.IsPathValid(path) {
		return interfaces.NewBadPathError("invalid path %q", path)
	}
	blobURL := d.container.NewBlockBlobURL(objectKey(storageTopLevel, path))
	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		if isAzureNotFound(err) {
			return interfaces.NewDoesNotExistError("file not found: %s", path)
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// PerformRename implements interfaces.Driver, as server-side copy plus
// delete. Same-container copies normally complete synchronously; the
// poll loop covers the async case.
func (d *AzureDriver) PerformRename(ctx context.Context, storageTopLevel, path, newPath string) error {
	if !interfaces.IsPathValid(path) {
		return interfaces.NewBadPathError("invalid path %q", path)
	}
	if !interfaces.IsPathValid(newPath) {
		return interfaces.NewBadPathError("invalid path %q", newPath)
	}

	srcURL := d.container.NewBlockBlobURL(objectKey(storageTopLevel, path))
	dstURL := d.container.NewBlockBlobURL(objectKey(storageTopLevel, newPath))

	resp, err := dstURL.StartCopyFromURL(ctx, srcURL.URL(), azblob.Metadata{},
		azblob.ModifiedAccessConditions{}, azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return interfaces.NewDoesNotExistError("file not found: %s", path)
		}
		return fmt.Errorf("failed to copy blob: %w", err)
	}

	copyStatus := resp.CopyStatus()
	for copyStatus == azblob.CopyStatusPending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
		props, err := dstURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
		if err != nil {
			return fmt.Errorf("failed to poll blob copy: %w", err)
		}
		copyStatus = props.CopyStatus()
	}
	if copyStatus != azblob.CopyStatusSuccess {
		return fmt.Errorf("blob copy finished with status %s", copyStatus)
	}

	_, err = srcURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		return fmt.Errorf("failed to delete source blob: %w", err)
	}
	return nil
}

// ListFiles implements interfaces.Driver using the flat-listing marker as
// the opaque page token.
func (d *AzureDriver) ListFiles(ctx context.Context, args *interfaces.ListArgs) (interfaces.ListResult, error) {
	resp, err := d.list(ctx, args)
	if err != nil {
		return interfaces.ListResult{}, err
	}
	topPrefix := args.StorageTopLevel + "/"
	entries := make([]string, 0, len(resp.Segment.BlobItems))
	for _, item := range resp.Segment.BlobItems {
		entries = append(entries, strings.TrimPrefix(item.Name, topPrefix))
	}
	return interfaces.ListResult{
		Entries: entries,
		Page:    nextMarker(resp.NextMarker),
	}, nil
}

// ListFilesStat implements interfaces.Driver.
func (d *AzureDriver) ListFilesStat(ctx context.Context, args *interfaces.ListArgs) (interfaces.ListStatResult, error) {
	resp, err := d.list(ctx, args)
	if err != nil {
		return interfaces.ListStatResult{}, err
	}
	topPrefix := args.StorageTopLevel + "/"
	entries := make([]interfaces.ListEntry, 0, len(resp.Segment.BlobItems))
	for _, item := range resp.Segment.BlobItems {
		var contentLength int64
		if item.Properties.ContentLength != nil {
			contentLength = *item.Properties.ContentLength
		}
		entries = append(entries, interfaces.ListEntry{
			Name:          strings.TrimPrefix(item.Name, topPrefix),
			ETag:          trimETag(string(item.Properties.Etag)),
			ContentLength: contentLength,
			LastModified:  item.Properties.LastModified,
		})
	}
	return interfaces.ListStatResult{
		Entries: entries,
		Page:    nextMarker(resp.NextMarker),
	}, nil
}

func (d *AzureDriver) list(ctx context.Context, args *interfaces.ListArgs) (*azblob.ListBlobsFlatSegmentResponse, error) {
	pageSize := args.PageSize
	if pageSize <= 0 {
		pageSize = d.pageSize
	}
	marker := azblob.Marker{}
	if args.Page != "" {
		page := args.Page
		marker.Val = &page
	}
	resp, err := d.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
		Prefix:     objectKey(args.StorageTopLevel, args.PathPrefix),
		MaxResults: int32(pageSize),
	})
	if err != nil {
		var stgErr azblob.StorageError
		if errors.As(err, &stgErr) && stgErr.Response() != nil && stgErr.Response().StatusCode == 400 {
			return nil, interfaces.NewInvalidInputError("invalid page token %q", args.Page)
		}
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return resp, nil
}

func nextMarker(marker azblob.Marker) string {
	if marker.Val == nil {
		return ""
	}
	return *marker.Val
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func isAzureNotFound(err error) bool {
	var stgErr azblob.StorageError
	if errors.As(err, &stgErr) {
		switch stgErr.ServiceCode() {
		case azblob.ServiceCodeBlobNotFound, azblob.ServiceCodeContainerNotFound:
			return true
		}
	}
	return false
}

func isAzurePreconditionFailed(err error) bool {
	var stgErr azblob.StorageError
	if errors.As(err, &stgErr) {
		switch stgErr.ServiceCode() {
		case azblob.ServiceCodeConditionNotMet, azblob.ServiceCodeBlobAlreadyExists:
			return true
		}
		if resp := stgErr.Response(); resp != nil && (resp.StatusCode == 412 || resp.StatusCode == 409) {
			return true
		}
	}
	return false
}
