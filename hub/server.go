package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdpath "path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacks-network/gaia-hub/auth"
	"github.com/stacks-network/gaia-hub/interfaces"
)

// Config is the hub's static configuration, constructed once at startup.
type Config struct {
	// ServerName identifies this hub in challenge texts and hub URLs.
	ServerName string

	// Whitelist, when non-empty, restricts operations to tokens whose
	// resolved (post-delegation) signing address is a member.
	Whitelist []string

	// ReadURL, when set, overrides the driver's native read URL prefix in
	// all outward-facing object URLs.
	ReadURL string

	// RequireCorrectHubURL demands tokens carry a hubUrl claim naming
	// this hub.
	RequireCorrectHubURL bool

	// ValidHubURLs extends the accepted hubUrl set beyond
	// https://<ServerName>.
	ValidHubURLs []string

	// MaxFileUploadSize caps object bodies in bytes. Enforced by the
	// transport layer; advertised here so it lives with the rest of the
	// policy knobs.
	MaxFileUploadSize int64

	// PageSize is the default listing page size handed to the driver.
	PageSize int

	// AuthTimestampCacheSize bounds the in-memory revocation cache.
	AuthTimestampCacheSize int
}

// RequestHeaders carries the header values the hub inspects. The transport
// layer extracts them from the HTTP request.
type RequestHeaders struct {
	Authorization string
	ContentType   string
	ContentLength int64
	IfMatch       string
	IfNoneMatch   string
}

// ListFilesResult is one page of a bucket listing. Entries is populated
// for plain listings, StatEntries when stat metadata was requested.
type ListFilesResult struct {
	Entries     []string
	StatEntries []interfaces.ListEntry
	Page        string
}

// Server orchestrates every hub operation: token validation, scope
// enforcement, archival bookkeeping, proof checking and driver dispatch.
//
// The revocation cache and write guard are process-local. A multi-instance
// deployment gets best-effort enforcement of single-writer and
// fresh-revocation guarantees across instances; the driver-persisted
// watermark file remains the source of truth.
type Server struct {
	driver       interfaces.Driver
	proofChecker interfaces.ProofChecker
	cfg          *Config
	log          *slog.Logger
	whitelist    map[string]struct{}

	authTimestamps *AuthTimestampCache
	guard          *WriteGuard
}

// NewServer creates a hub server. proofChecker may be nil to disable proof
// gating entirely.
func NewServer(driver interfaces.Driver, proofChecker interfaces.ProofChecker, cfg *Config, log *slog.Logger) (*Server, error) {
	cacheSize := cfg.AuthTimestampCacheSize
	if cacheSize <= 0 {
		cacheSize = 50000
	}
	authTimestamps, err := NewAuthTimestampCache(driver, log, cacheSize)
	if err != nil {
		return nil, err
	}

	var whitelist map[string]struct{}
	if len(cfg.Whitelist) > 0 {
		whitelist = make(map[string]struct{}, len(cfg.Whitelist))
		for _, addr := range cfg.Whitelist {
			whitelist[addr] = struct{}{}
		}
	}

	return &Server{
		driver:         driver,
		proofChecker:   proofChecker,
		cfg:            cfg,
		log:            log,
		whitelist:      whitelist,
		authTimestamps: authTimestamps,
		guard:          NewWriteGuard(),
	}, nil
}

// Close releases the server's background resources.
func (s *Server) Close() {
	s.authTimestamps.Close()
}

// ReadURLPrefix returns the prefix under which stored objects are publicly
// readable: the configured override when present, else the driver's.
func (s *Server) ReadURLPrefix() string {
	if s.cfg.ReadURL != "" {
		return s.cfg.ReadURL
	}
	return s.driver.ReadURLPrefix()
}

// Config returns the server's static configuration.
func (s *Server) Config() *Config { return s.cfg }

// GuardOpenCount reports currently held write-guard keys.
func (s *Server) GuardOpenCount() int { return s.guard.OpenCount() }

// Validate authenticates the Authorization header against the bucket
// address and, when a whitelist is configured, checks the resolved signing
// address against it. Returns the resolved signing address.
func (s *Server) Validate(address, authHeader string, oldestValidTokenTimestamp int64) (string, error) {
	signer, _, err := s.validateToken(address, authHeader, oldestValidTokenTimestamp)
	return signer, err
}

func (s *Server) validateToken(address, authHeader string, oldestValidTokenTimestamp int64) (string, auth.Token, error) {
	token, err := auth.ParseAuthHeader(authHeader)
	if err != nil {
		return "", nil, err
	}
	opts := &auth.ValidationOptions{
		RequireCorrectHubURL:      s.cfg.RequireCorrectHubURL,
		ValidHubURLs:              append([]string{"https://" + s.cfg.ServerName}, s.cfg.ValidHubURLs...),
		OldestValidTokenTimestamp: oldestValidTokenTimestamp,
	}
	signer, err := token.Validate(address, auth.AcceptableChallengeTexts(s.cfg.ServerName), opts)
	if err != nil {
		return "", nil, err
	}
	if s.whitelist != nil {
		if _, ok := s.whitelist[signer]; !ok {
			return "", nil, interfaces.NewValidationError("address %s not authorized for writes", signer)
		}
	}
	return signer, token, nil
}

// HandleRequest stores an object. The flow: watermark lookup, token
// validation, scope check, write-guard acquisition, archival relocation,
// proof check, driver write, public URL rewrite.
func (s *Server) HandleRequest(ctx context.Context, address, path string, hdr *RequestHeaders, body io.Reader) (interfaces.WriteResult, error) {
	if !interfaces.IsPathValid(path) {
		return interfaces.WriteResult{}, interfaces.NewBadPathError("invalid path %q", path)
	}

	oldest, err := s.authTimestamps.GetAuthTimestamp(ctx, address)
	if err != nil {
		return interfaces.WriteResult{}, err
	}
	_, token, err := s.validateToken(address, hdr.Authorization, oldest)
	if err != nil {
		return interfaces.WriteResult{}, err
	}

	contentType := hdr.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if len(contentType) > interfaces.MaxContentTypeLength {
		return interfaces.WriteResult{}, interfaces.NewInvalidInputError("content-type too long: %d bytes", len(contentType))
	}

	isArchival, err := checkWriteScopes(token.AuthScopes(), address, path)
	if err != nil {
		return interfaces.WriteResult{}, err
	}

	if (hdr.IfMatch != "" || hdr.IfNoneMatch != "") && !s.driver.SupportsETagMatching() {
		return interfaces.WriteResult{}, &interfaces.PreconditionFailedError{
			Message: "etag preconditions are not supported by the storage backend",
		}
	}

	release, ok := s.guard.TryAcquire(guardKey(address, path))
	if !ok {
		return interfaces.WriteResult{}, interfaces.NewConflictError("concurrent operation on %s/%s", address, path)
	}
	defer release()

	if isArchival {
		if err := s.relocateToHistory(ctx, address, path); err != nil {
			return interfaces.WriteResult{}, err
		}
	}

	if s.proofChecker != nil {
		if err := s.proofChecker.CheckProofs(ctx, address, path, s.ReadURLPrefix()); err != nil {
			return interfaces.WriteResult{}, err
		}
	}

	result, err := s.driver.PerformWrite(ctx, &interfaces.WriteArgs{
		StorageTopLevel: address,
		Path:            path,
		Stream:          body,
		ContentLength:   hdr.ContentLength,
		ContentType:     contentType,
		IfMatch:         hdr.IfMatch,
		IfNoneMatch:     hdr.IfNoneMatch,
	})
	if err != nil {
		return interfaces.WriteResult{}, err
	}

	result.PublicURL = s.rewriteReadURL(result.PublicURL)
	s.log.Info("Stored object",
		slog.String("address", address),
		slog.String("path", path),
		slog.String("etag", result.ETag))
	return result, nil
}

// HandleDelete removes an object. Under archival scopes the live object is
// moved into history instead of erased, preserving the version trail.
func (s *Server) HandleDelete(ctx context.Context, address, path string, hdr *RequestHeaders) error {
	if !interfaces.IsPathValid(path) {
		return interfaces.NewBadPathError("invalid path %q", path)
	}

	oldest, err := s.authTimestamps.GetAuthTimestamp(ctx, address)
	if err != nil {
		return err
	}
	_, token, err := s.validateToken(address, hdr.Authorization, oldest)
	if err != nil {
		return err
	}

	isArchival, err := checkDeleteScopes(token.AuthScopes(), address, path)
	if err != nil {
		return err
	}

	release, ok := s.guard.TryAcquire(guardKey(address, path))
	if !ok {
		return interfaces.NewConflictError("concurrent operation on %s/%s", address, path)
	}
	defer release()

	if isArchival {
		if err := s.driver.PerformRename(ctx, address, path, historyPath(path)); err != nil {
			return err
		}
		s.log.Info("Archived object on delete",
			slog.String("address", address),
			slog.String("path", path))
		return nil
	}

	if err := s.driver.PerformDelete(ctx, address, path); err != nil {
		return err
	}
	s.log.Info("Deleted object",
		slog.String("address", address),
		slog.String("path", path))
	return nil
}

// HandleListFiles returns one page of the bucket's object names, hiding
// archived history entries. Listing requires a valid token but no write
// scopes.
func (s *Server) HandleListFiles(ctx context.Context, address, page string, stat bool, hdr *RequestHeaders) (*ListFilesResult, error) {
	oldest, err := s.authTimestamps.GetAuthTimestamp(ctx, address)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.validateToken(address, hdr.Authorization, oldest); err != nil {
		return nil, err
	}

	args := &interfaces.ListArgs{
		StorageTopLevel: address,
		Page:            page,
		PageSize:        s.cfg.PageSize,
	}

	if stat {
		listed, err := s.driver.ListFilesStat(ctx, args)
		if err != nil {
			return nil, err
		}
		entries := make([]interfaces.ListEntry, 0, len(listed.Entries))
		for _, entry := range listed.Entries {
			if strings.Contains(entry.Name, interfaces.HistoryInfix) {
				continue
			}
			entries = append(entries, entry)
		}
		return &ListFilesResult{StatEntries: entries, Page: listed.Page}, nil
	}

	listed, err := s.driver.ListFiles(ctx, args)
	if err != nil {
		return nil, err
	}
	entries := make([]string, 0, len(listed.Entries))
	for _, name := range listed.Entries {
		if strings.Contains(name, interfaces.HistoryInfix) {
			continue
		}
		entries = append(entries, name)
	}
	return &ListFilesResult{Entries: entries, Page: listed.Page}, nil
}

// HandleAuthBump raises the address's revocation watermark. A bearer may
// only revoke its own tokens: the resolved signing address must equal the
// bucket address, so delegates cannot revoke for the parent or vice versa.
func (s *Server) HandleAuthBump(ctx context.Context, address string, oldestValidTimestamp int64, hdr *RequestHeaders) error {
	signer, _, err := s.validateToken(address, hdr.Authorization, 0)
	if err != nil {
		return err
	}
	if signer != address {
		return interfaces.NewValidationError("only the bucket owner may revoke its tokens")
	}
	return s.authTimestamps.SetAuthTimestamp(ctx, address, oldestValidTimestamp)
}

// relocateToHistory moves the current object version, if any, to its
// timestamped history sibling before an archival overwrite.
func (s *Server) relocateToHistory(ctx context.Context, address, path string) error {
	err := s.driver.PerformRename(ctx, address, path, historyPath(path))
	if err != nil {
		var notFound *interfaces.DoesNotExistError
		if errors.As(err, &notFound) {
			// First write to this path, nothing to archive.
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) rewriteReadURL(publicURL string) string {
	driverPrefix := s.driver.ReadURLPrefix()
	if s.cfg.ReadURL == "" || s.cfg.ReadURL == driverPrefix {
		return publicURL
	}
	if strings.HasPrefix(publicURL, driverPrefix) {
		return s.cfg.ReadURL + strings.TrimPrefix(publicURL, driverPrefix)
	}
	return publicURL
}

func guardKey(address, path string) string {
	return address + "/" + path
}

// historyPath builds the sibling key an archived version is stored under:
// <dir>/.history.<unixMillis>.<entropy>.<basename>.
func historyPath(path string) string {
	dir, base := stdpath.Split(path)
	entropy := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%s%d.%s.%s", dir, interfaces.HistoryInfix, time.Now().UnixMilli(), entropy, base)
}

// checkWriteScopes authorizes a write path against the token's scopes and
// reports whether archival semantics apply. Tokens with no write scopes
// may write anywhere in their bucket.
func checkWriteScopes(scopes *auth.ScopeValues, address, path string) (archival bool, err error) {
	if !scopes.HasWriteScopes() {
		return false, nil
	}
	if containsExact(scopes.WritePaths, path) || matchesPrefix(scopes.WritePrefixes, path) {
		return false, nil
	}
	if containsExact(scopes.WriteArchivalPaths, path) || matchesPrefix(scopes.WriteArchivalPrefixes, path) {
		return true, nil
	}
	return false, interfaces.NewValidationError("address %s not authorized to write to %s by scopes", address, path)
}

// checkDeleteScopes is the delete-side analogue. Archival write scopes
// also authorize deletes, which then archive instead of erase.
func checkDeleteScopes(scopes *auth.ScopeValues, address, path string) (archival bool, err error) {
	if !scopes.HasDeleteScopes() {
		return false, nil
	}
	if containsExact(scopes.DeletePaths, path) || matchesPrefix(scopes.DeletePrefixes, path) {
		return false, nil
	}
	if containsExact(scopes.WriteArchivalPaths, path) || matchesPrefix(scopes.WriteArchivalPrefixes, path) {
		return true, nil
	}
	return false, interfaces.NewValidationError("address %s not authorized to delete %s by scopes", address, path)
}

func containsExact(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}

func matchesPrefix(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
