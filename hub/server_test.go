package hub

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacks-network/gaia-hub/auth"
	"github.com/stacks-network/gaia-hub/cryptoutils"
	"github.com/stacks-network/gaia-hub/drivers"
	"github.com/stacks-network/gaia-hub/interfaces"
)

const testServerName = "gaia.test"

type hubFixture struct {
	server  *Server
	driver  *drivers.MemoryDriver
	priv    *secp256k1.PrivateKey
	address string
}

func newHubFixture(t *testing.T, cfg *Config) *hubFixture {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = testServerName
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxFileUploadSize == 0 {
		cfg.MaxFileUploadSize = 1 << 20
	}

	driver := drivers.NewMemoryDriver("http://read.local/", cfg.PageSize)
	server, err := NewServer(driver, nil, cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(server.Close)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	return &hubFixture{
		server:  server,
		driver:  driver,
		priv:    priv,
		address: cryptoutils.AddressFromPublicKey(priv.PubKey()),
	}
}

func (f *hubFixture) authHeader(t *testing.T, claims auth.V1TokenClaims) string {
	t.Helper()
	if claims.GaiaChallenge == "" {
		claims.GaiaChallenge = auth.ChallengeText(testServerName)
	}
	header, err := auth.SignV1Token(f.priv, claims)
	require.NoError(t, err)
	return "bearer " + header
}

func (f *hubFixture) store(t *testing.T, path, content, authHeader string) (interfaces.WriteResult, error) {
	t.Helper()
	return f.server.HandleRequest(context.Background(), f.address, path, &RequestHeaders{
		Authorization: authHeader,
		ContentType:   "text/plain",
		ContentLength: int64(len(content)),
	}, strings.NewReader(content))
}

func TestStoreAndList(t *testing.T) {
	f := newHubFixture(t, nil)
	header := f.authHeader(t, auth.V1TokenClaims{})

	result, err := f.store(t, "notes/hello.txt", "hello", header)
	require.NoError(t, err)
	assert.Equal(t, "http://read.local/"+f.address+"/notes/hello.txt", result.PublicURL)
	assert.NotEmpty(t, result.ETag)

	listed, err := f.server.HandleListFiles(context.Background(), f.address, "", false, &RequestHeaders{Authorization: header})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/hello.txt"}, listed.Entries)

	statListed, err := f.server.HandleListFiles(context.Background(), f.address, "", true, &RequestHeaders{Authorization: header})
	require.NoError(t, err)
	require.Len(t, statListed.StatEntries, 1)
	assert.Equal(t, "notes/hello.txt", statListed.StatEntries[0].Name)
	assert.Equal(t, result.ETag, statListed.StatEntries[0].ETag)
	assert.Equal(t, int64(5), statListed.StatEntries[0].ContentLength)
}

func TestStoreRejectsBadPaths(t *testing.T) {
	f := newHubFixture(t, nil)
	header := f.authHeader(t, auth.V1TokenClaims{})

	for _, path := range []string{"", "a/../b.txt", "a\\b.txt", "dir/"} {
		_, err := f.store(t, path, "x", header)
		assert.IsType(t, &interfaces.BadPathError{}, err, "path %q", path)
	}
}

func TestStoreReadURLOverride(t *testing.T) {
	f := newHubFixture(t, &Config{ReadURL: "https://cdn.example.com/"})
	header := f.authHeader(t, auth.V1TokenClaims{})

	result, err := f.store(t, "file.txt", "x", header)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/"+f.address+"/file.txt", result.PublicURL)
}

func TestStoreScopeEnforcement(t *testing.T) {
	f := newHubFixture(t, nil)
	header := f.authHeader(t, auth.V1TokenClaims{
		Scopes: []auth.Scope{
			{Scope: auth.ScopePutFile, Domain: "allowed.txt"},
			{Scope: auth.ScopePutFilePrefix, Domain: "public/"},
		},
	})

	_, err := f.store(t, "allowed.txt", "x", header)
	assert.NoError(t, err)
	_, err = f.store(t, "public/sub/a.txt", "x", header)
	assert.NoError(t, err)

	_, err = f.store(t, "forbidden.txt", "x", header)
	require.Error(t, err)
	assert.IsType(t, &interfaces.ValidationError{}, err)
}

func TestDeleteScopeEnforcement(t *testing.T) {
	f := newHubFixture(t, nil)
	writeAll := f.authHeader(t, auth.V1TokenClaims{})
	_, err := f.store(t, "a.txt", "x", writeAll)
	require.NoError(t, err)
	_, err = f.store(t, "b.txt", "x", writeAll)
	require.NoError(t, err)

	scoped := f.authHeader(t, auth.V1TokenClaims{
		Scopes: []auth.Scope{{Scope: auth.ScopeDeleteFile, Domain: "a.txt"}},
	})

	err = f.server.HandleDelete(context.Background(), f.address, "a.txt", &RequestHeaders{Authorization: scoped})
	assert.NoError(t, err)

	err = f.server.HandleDelete(context.Background(), f.address, "b.txt", &RequestHeaders{Authorization: scoped})
	require.Error(t, err)
	assert.IsType(t, &interfaces.ValidationError{}, err)
}

func TestDeleteMissingObject(t *testing.T) {
	f := newHubFixture(t, nil)
	header := f.authHeader(t, auth.V1TokenClaims{})

	err := f.server.HandleDelete(context.Background(), f.address, "ghost.txt", &RequestHeaders{Authorization: header})
	require.Error(t, err)
	assert.IsType(t, &interfaces.DoesNotExistError{}, err)
}

func TestArchivalWriteKeepsHistory(t *testing.T) {
	f := newHubFixture(t, nil)
	header := f.authHeader(t, auth.V1TokenClaims{
		Scopes: []auth.Scope{{Scope: auth.ScopePutFileArchival, Domain: "doc.txt"}},
	})

	_, err := f.store(t, "doc.txt", "v1", header)
	require.NoError(t, err)
	_, err = f.store(t, "doc.txt", "v2", header)
	require.NoError(t, err)

	// The live object holds the latest version.
	read, err := f.driver.PerformRead(context.Background(), f.address, "doc.txt")
	require.NoError(t, err)
	content, err := io.ReadAll(read.Data)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	// The prior version lives under a history sibling the listing hides.
	raw, err := f.driver.ListFiles(context.Background(), &interfaces.ListArgs{StorageTopLevel: f.address})
	require.NoError(t, err)
	historyCount := 0
	for _, name := range raw.Entries {
		if strings.Contains(name, interfaces.HistoryInfix) {
			historyCount++
		}
	}
	assert.Equal(t, 1, historyCount)

	listed, err := f.server.HandleListFiles(context.Background(), f.address, "", false, &RequestHeaders{Authorization: header})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.txt"}, listed.Entries)
}

func TestArchivalDeleteArchivesInsteadOfErasing(t *testing.T) {
	f := newHubFixture(t, nil)
	header := f.authHeader(t, auth.V1TokenClaims{
		Scopes: []auth.Scope{{Scope: auth.ScopePutFileArchivalPrefix, Domain: "docs/"}},
	})

	_, err := f.store(t, "docs/doc.txt", "v1", header)
	require.NoError(t, err)

	err = f.server.HandleDelete(context.Background(), f.address, "docs/doc.txt", &RequestHeaders{Authorization: header})
	require.NoError(t, err)

	// Live object gone, history entry present.
	_, err = f.driver.PerformRead(context.Background(), f.address, "docs/doc.txt")
	assert.IsType(t, &interfaces.DoesNotExistError{}, err)

	raw, err := f.driver.ListFiles(context.Background(), &interfaces.ListArgs{StorageTopLevel: f.address})
	require.NoError(t, err)
	require.Len(t, raw.Entries, 1)
	assert.Contains(t, raw.Entries[0], interfaces.HistoryInfix)
}

func TestRevokeThenWrite(t *testing.T) {
	f := newHubFixture(t, nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	staleHeader := f.authHeader(t, auth.V1TokenClaims{IssuedAt: past})

	_, err := f.store(t, "before.txt", "x", staleHeader)
	require.NoError(t, err)

	// Bump the watermark past the stale token's iat.
	watermark := past.Add(30 * time.Minute).Unix()
	freshHeader := f.authHeader(t, auth.V1TokenClaims{IssuedAt: time.Now()})
	err = f.server.HandleAuthBump(ctx, f.address, watermark, &RequestHeaders{Authorization: freshHeader})
	require.NoError(t, err)

	_, err = f.store(t, "after.txt", "x", staleHeader)
	require.Error(t, err)
	assert.IsType(t, &interfaces.AuthTokenTimestampValidationError{}, err)

	_, err = f.store(t, "after.txt", "x", freshHeader)
	assert.NoError(t, err)
}

func TestRevokeRequiresBucketOwner(t *testing.T) {
	f := newHubFixture(t, nil)

	// Delegated bearer: the child signs, the parent is the authority. The
	// resolved signer differs from the bucket address, so revocation is
	// refused.
	parentPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	association, err := auth.SignAssociationToken(parentPriv, f.priv.PubKey(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	header := f.authHeader(t, auth.V1TokenClaims{AssociationToken: association})

	err = f.server.HandleAuthBump(context.Background(), f.address, time.Now().Unix(), &RequestHeaders{Authorization: header})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket owner")
}

func TestWhitelist(t *testing.T) {
	f := newHubFixture(t, &Config{Whitelist: []string{"1SomebodyElse"}})
	header := f.authHeader(t, auth.V1TokenClaims{})

	_, err := f.store(t, "file.txt", "x", header)
	require.Error(t, err)
	assert.IsType(t, &interfaces.ValidationError{}, err)
}

func TestWhitelistAdmitsDelegatedParent(t *testing.T) {
	parentPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	parentAddress := cryptoutils.AddressFromPublicKey(parentPriv.PubKey())

	f := newHubFixture(t, &Config{Whitelist: []string{parentAddress}})

	association, err := auth.SignAssociationToken(parentPriv, f.priv.PubKey(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	header := f.authHeader(t, auth.V1TokenClaims{AssociationToken: association})

	// The child's bucket is writable because the resolved authority, the
	// parent, is whitelisted.
	_, err = f.store(t, "file.txt", "x", header)
	assert.NoError(t, err)
}

func TestConcurrentWriteConflict(t *testing.T) {
	f := newHubFixture(t, nil)
	header := f.authHeader(t, auth.V1TokenClaims{})
	ctx := context.Background()

	pr, pw := io.Pipe()
	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		close(started)
		_, err := f.server.HandleRequest(ctx, f.address, "contested.txt", &RequestHeaders{
			Authorization: header,
			ContentType:   "text/plain",
		}, pr)
		done <- err
	}()

	<-started
	// Wait until the first write holds the guard.
	require.Eventually(t, func() bool {
		return f.server.GuardOpenCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := f.store(t, "contested.txt", "second", header)
	require.Error(t, err)
	assert.IsType(t, &interfaces.ConflictError{}, err)

	_, err = pw.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, <-done)

	assert.Equal(t, 0, f.server.GuardOpenCount())

	// The path is writable again once the first write finishes.
	_, err = f.store(t, "contested.txt", "third", header)
	assert.NoError(t, err)
}

func TestETagPreconditions(t *testing.T) {
	f := newHubFixture(t, nil)
	header := f.authHeader(t, auth.V1TokenClaims{})
	ctx := context.Background()

	result, err := f.server.HandleRequest(ctx, f.address, "doc.txt", &RequestHeaders{
		Authorization: header,
		IfNoneMatch:   "*",
	}, strings.NewReader("v1"))
	require.NoError(t, err)

	// Create-only write against an existing object fails.
	_, err = f.server.HandleRequest(ctx, f.address, "doc.txt", &RequestHeaders{
		Authorization: header,
		IfNoneMatch:   "*",
	}, strings.NewReader("v2"))
	assert.IsType(t, &interfaces.PreconditionFailedError{}, err)

	// Matching etag succeeds, stale etag fails.
	_, err = f.server.HandleRequest(ctx, f.address, "doc.txt", &RequestHeaders{
		Authorization: header,
		IfMatch:       result.ETag,
	}, strings.NewReader("v2"))
	require.NoError(t, err)

	_, err = f.server.HandleRequest(ctx, f.address, "doc.txt", &RequestHeaders{
		Authorization: header,
		IfMatch:       result.ETag,
	}, strings.NewReader("v3"))
	assert.IsType(t, &interfaces.PreconditionFailedError{}, err)
}

type noETagDriver struct {
	interfaces.Driver
}

func (d *noETagDriver) SupportsETagMatching() bool { return false }

func TestETagPreconditionRejectedWithoutDriverSupport(t *testing.T) {
	f := newHubFixture(t, nil)
	server, err := NewServer(&noETagDriver{Driver: f.driver}, nil, f.server.Config(), testLogger())
	require.NoError(t, err)
	t.Cleanup(server.Close)
	header := f.authHeader(t, auth.V1TokenClaims{})

	_, err = server.HandleRequest(context.Background(), f.address, "doc.txt", &RequestHeaders{
		Authorization: header,
		IfNoneMatch:   "*",
	}, strings.NewReader("v1"))
	require.Error(t, err)
	assert.IsType(t, &interfaces.PreconditionFailedError{}, err)
}

func TestListFilesRequiresAuth(t *testing.T) {
	f := newHubFixture(t, nil)

	_, err := f.server.HandleListFiles(context.Background(), f.address, "", false, &RequestHeaders{Authorization: "bearer garbage"})
	require.Error(t, err)
	assert.IsType(t, &interfaces.ValidationError{}, err)
}

func TestListFilesEmptyBucket(t *testing.T) {
	f := newHubFixture(t, nil)
	header := f.authHeader(t, auth.V1TokenClaims{})

	listed, err := f.server.HandleListFiles(context.Background(), f.address, "", false, &RequestHeaders{Authorization: header})
	require.NoError(t, err)
	assert.NotNil(t, listed.Entries)
	assert.Empty(t, listed.Entries)
	assert.Empty(t, listed.Page)
}
