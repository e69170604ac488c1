package drivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/stacks-network/gaia-hub/interfaces"
)

// S3Driver stores objects in Amazon S3 or any S3-compatible service.
// The v1 SDK offers no conditional PutObject, so SupportsETagMatching
// reports false and the hub refuses etag preconditions up front.
type S3Driver struct {
	client       *s3.S3
	bucket       string
	readURL      string
	cacheControl string
	pageSize     int
	log          *slog.Logger
}

// NewS3Driver creates an S3 driver from the configuration. A custom
// endpoint switches the client to path-style addressing for
// S3-compatible services.
func NewS3Driver(cfg *Config, log *slog.Logger) (*S3Driver, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 driver requires a bucket name")
	}
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg := aws.Config{Region: aws.String(region)}
	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, "")
	}
	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	readURL := cfg.ReadURL
	if readURL == "" {
		readURL = fmt.Sprintf("https://%s.s3.amazonaws.com/", cfg.S3Bucket)
	}

	return &S3Driver{
		client:       s3.New(sess),
		bucket:       cfg.S3Bucket,
		readURL:      readURL,
		cacheControl: cfg.CacheControl,
		pageSize:     cfg.PageSize,
		log:          log,
	}, nil
}

// EnsureInitialized implements interfaces.Driver, creating the bucket if
// it does not exist yet.
func (d *S3Driver) EnsureInitialized(ctx context.Context) error {
	_, err := d.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(d.bucket),
	})
	if err != nil {
		var awsErr awserr.Error
		if errors.As(err, &awsErr) {
			switch awsErr.Code() {
			case s3.ErrCodeBucketAlreadyOwnedByYou, s3.ErrCodeBucketAlreadyExists:
				return nil
			}
		}
		return fmt.Errorf("failed to create bucket %s: %w", d.bucket, err)
	}
	return nil
}

// Dispose implements interfaces.Driver.
func (d *S3Driver) Dispose() error { return nil }

// ReadURLPrefix implements interfaces.Driver.
func (d *S3Driver) ReadURLPrefix() string { return d.readURL }

// SupportsETagMatching implements interfaces.Driver.
func (d *S3Driver) SupportsETagMatching() bool { return false }

// PerformWrite implements interfaces.Driver.
func (d *S3Driver) PerformWrite(ctx context.Context, args *interfaces.WriteArgs) (interfaces.WriteResult, error) {
	if err := validateWriteArgs(args); err != nil {
		return interfaces.WriteResult{}, err
	}
	data, err := io.ReadAll(args.Stream)
	if err != nil {
		return interfaces.WriteResult{}, fmt.Errorf("upload stream failed: %w", err)
	}

	key := objectKey(args.StorageTopLevel, args.Path)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(args.ContentType),
		ACL:         aws.String("public-read"),
	}
	if d.cacheControl != "" {
		input.CacheControl = aws.String(d.cacheControl)
	}
	resp, err := d.client.PutObjectWithContext(ctx, input)
	if err != nil {
		return interfaces.WriteResult{}, fmt.Errorf("failed to upload object to S3: %w", err)
	}

	etag := contentETag(data)
	if resp.ETag != nil {
		etag = strings.Trim(aws.StringValue(resp.ETag), `"`)
	}

	d.log.Debug("Stored object in S3",
		slog.String("bucket", d.bucket),
		slog.String("key", key),
		slog.Int("size", len(data)))

	return interfaces.WriteResult{
		PublicURL: d.readURL + key,
		ETag:      etag,
	}, nil
}

// PerformRead implements interfaces.Driver.
func (d *S3Driver) PerformRead(ctx context.Context, storageTopLevel, path string) (*interfaces.ReadResult, error) {
	if !interfaces.IsPathValid(path) {
		return nil, interfaces.NewBadPathError("invalid path %q", path)
	}
	key := objectKey(storageTopLevel, path)
	resp, err := d.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, interfaces.NewDoesNotExistError("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return &interfaces.ReadResult{
		Exists:        true,
		Data:          resp.Body,
		ETag:          strings.Trim(aws.StringValue(resp.ETag), `"`),
		ContentType:   aws.StringValue(resp.ContentType),
		ContentLength: aws.Int64Value(resp.ContentLength),
		LastModified:  aws.TimeValue(resp.LastModified),
	}, nil
}

// PerformStat implements interfaces.Driver.
func (d *S3Driver) PerformStat(ctx context.Context, storageTopLevel, path string) (interfaces.StatResult, error) {
	if !interfaces.IsPathValid(path) {
		return interfaces.StatResult{}, interfaces.NewBadPathError("invalid path %q", path)
	}
	resp, err := d.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(objectKey(storageTopLevel, path)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return interfaces.StatResult{Exists: false}, nil
		}
		return interfaces.StatResult{}, fmt.Errorf("failed to stat object in S3: %w", err)
	}
	return interfaces.StatResult{
		Exists:        true,
		ETag:          strings.Trim(aws.StringValue(resp.ETag), `"`),
		ContentType:   aws.StringValue(resp.ContentType),
		ContentLength: aws.Int64Value(resp.ContentLength),
		LastModified:  aws.TimeValue(resp.LastModified),
	}, nil
}

// PerformDelete implements interfaces.Driver. S3 deletes are silently
// idempotent, so absence is detected with a preceding head request.
func (d *S3Driver) PerformDelete(ctx context.Context, storageTopLevel, path string) error {
	stat, err := d.PerformStat(ctx, storageTopLevel, path)
	if err != nil {
		return err
	}
	if !stat.Exists {
		return interfaces.NewDoesNotExistError("file not found: %s", path)
	}
	_, err = d.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(objectKey(storageTopLevel, path)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return nil
}

// PerformRename implements interfaces.Driver, as server-side copy plus
// delete. The copy lands before the source delete, so a reader always
// observes at least one of the two keys.
func (d *S3Driver) PerformRename(ctx context.Context, storageTopLevel, path, newPath string) error {
	if !interfaces.IsPathValid(newPath) {
		return interfaces.NewBadPathError("invalid path %q", newPath)
	}
	stat, err := d.PerformStat(ctx, storageTopLevel, path)
	if err != nil {
		return err
	}
	if !stat.Exists {
		return interfaces.NewDoesNotExistError("file not found: %s", path)
	}

	srcKey := objectKey(storageTopLevel, path)
	dstKey := objectKey(storageTopLevel, newPath)
	_, err = d.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(url.PathEscape(d.bucket + "/" + srcKey)),
		ACL:        aws.String("public-read"),
	})
	if err != nil {
		return fmt.Errorf("failed to copy object in S3: %w", err)
	}
	_, err = d.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(srcKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete source object in S3: %w", err)
	}
	return nil
}

// ListFiles implements interfaces.Driver using ListObjectsV2 continuation
// tokens as the opaque page token.
func (d *S3Driver) ListFiles(ctx context.Context, args *interfaces.ListArgs) (interfaces.ListResult, error) {
	resp, err := d.list(ctx, args)
	if err != nil {
		return interfaces.ListResult{}, err
	}
	topPrefix := args.StorageTopLevel + "/"
	entries := make([]string, 0, len(resp.Contents))
	for _, obj := range resp.Contents {
		entries = append(entries, strings.TrimPrefix(aws.StringValue(obj.Key), topPrefix))
	}
	return interfaces.ListResult{
		Entries: entries,
		Page:    aws.StringValue(resp.NextContinuationToken),
	}, nil
}

// ListFilesStat implements interfaces.Driver.
func (d *S3Driver) ListFilesStat(ctx context.Context, args *interfaces.ListArgs) (interfaces.ListStatResult, error) {
	resp, err := d.list(ctx, args)
	if err != nil {
		return interfaces.ListStatResult{}, err
	}
	topPrefix := args.StorageTopLevel + "/"
	entries := make([]interfaces.ListEntry, 0, len(resp.Contents))
	for _, obj := range resp.Contents {
		entries = append(entries, interfaces.ListEntry{
			Name:          strings.TrimPrefix(aws.StringValue(obj.Key), topPrefix),
			ETag:          strings.Trim(aws.StringValue(obj.ETag), `"`),
			ContentLength: aws.Int64Value(obj.Size),
			LastModified:  aws.TimeValue(obj.LastModified),
		})
	}
	return interfaces.ListStatResult{
		Entries: entries,
		Page:    aws.StringValue(resp.NextContinuationToken),
	}, nil
}

func (d *S3Driver) list(ctx context.Context, args *interfaces.ListArgs) (*s3.ListObjectsV2Output, error) {
	pageSize := args.PageSize
	if pageSize <= 0 {
		pageSize = d.pageSize
	}
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(objectKey(args.StorageTopLevel, args.PathPrefix)),
		MaxKeys: aws.Int64(int64(pageSize)),
	}
	if args.Page != "" {
		input.ContinuationToken = aws.String(args.Page)
	}
	resp, err := d.client.ListObjectsV2WithContext(ctx, input)
	if err != nil {
		var awsErr awserr.Error
		if errors.As(err, &awsErr) && awsErr.Code() == "InvalidArgument" {
			return nil, interfaces.NewInvalidInputError("invalid page token %q", args.Page)
		}
		return nil, fmt.Errorf("failed to list objects in S3: %w", err)
	}
	return resp, nil
}

func isS3NotFound(err error) bool {
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}
