package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacks-network/gaia-hub/auth"
	"github.com/stacks-network/gaia-hub/cryptoutils"
	"github.com/stacks-network/gaia-hub/drivers"
	"github.com/stacks-network/gaia-hub/hub"
)

const testServerName = "gaia.test"

type apiFixture struct {
	router  http.Handler
	priv    *secp256k1.PrivateKey
	address string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	driver := drivers.NewMemoryDriver("http://read.local/", 100)
	hubServer, err := hub.NewServer(driver, nil, &hub.Config{
		ServerName:        testServerName,
		MaxFileUploadSize: 1 << 20,
		PageSize:          100,
	}, log)
	require.NoError(t, err)

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      log,
		DrainDuration:            time.Second,
		GracefulShutdownDuration: time.Second,
	}, hubServer)
	require.NoError(t, err)
	t.Cleanup(hubServer.Close)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	return &apiFixture{
		router:  srv.getRouter(),
		priv:    priv,
		address: cryptoutils.AddressFromPublicKey(priv.PubKey()),
	}
}

func (f *apiFixture) authHeader(t *testing.T) string {
	t.Helper()
	header, err := auth.SignV1Token(f.priv, auth.V1TokenClaims{
		GaiaChallenge: auth.ChallengeText(testServerName),
		IssuedAt:      time.Now(),
	})
	require.NoError(t, err)
	return "bearer " + header
}

func (f *apiFixture) do(t *testing.T, method, url, authHeader string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, body)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHubInfo(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/hub_info/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info HubInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, auth.ChallengeText(testServerName), info.ChallengeText)
	assert.Equal(t, "v1", info.LatestAuthVersion)
	assert.Equal(t, int64(1), info.MaxFileUploadSizeMegabytes)
	assert.Equal(t, "http://read.local/", info.ReadURLPrefix)
}

func TestStoreEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	header := f.authHeader(t)

	rec := f.do(t, http.MethodPost, "/store/"+f.address+"/notes/a.txt", header, strings.NewReader("hello"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		PublicURL string `json:"publicURL"`
		ETag      string `json:"etag"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "http://read.local/"+f.address+"/notes/a.txt", resp.PublicURL)
	assert.NotEmpty(t, resp.ETag)
}

func TestStoreEndpointUnauthorized(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/store/"+f.address+"/a.txt", "bearer garbage", strings.NewReader("x"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ValidationError", resp.Error)
	assert.NotEmpty(t, resp.Message)
}

func TestStoreEndpointBadPath(t *testing.T) {
	f := newAPIFixture(t)
	header := f.authHeader(t)

	rec := f.do(t, http.MethodPost, "/store/"+f.address+"/a/../b.txt", header, strings.NewReader("x"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	header := f.authHeader(t)

	rec := f.do(t, http.MethodPost, "/store/"+f.address+"/a.txt", header, strings.NewReader("x"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodDelete, "/delete/"+f.address+"/a.txt", header, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodDelete, "/delete/"+f.address+"/a.txt", header, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFilesEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	header := f.authHeader(t)

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/store/%s/item-%d.txt", f.address, i), header, strings.NewReader("x"))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	// Empty body means first page, no stat.
	rec := f.do(t, http.MethodPost, "/list-files/"+f.address, header, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Entries []string `json:"entries"`
		Page    string   `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Entries, 3)
	assert.Empty(t, resp.Page)

	// Stat listing carries metadata per entry.
	rec = f.do(t, http.MethodPost, "/list-files/"+f.address, header, strings.NewReader(`{"stat":true}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var statResp struct {
		Entries []struct {
			Name          string `json:"name"`
			ETag          string `json:"etag"`
			ContentLength int64  `json:"contentLength"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statResp))
	require.Len(t, statResp.Entries, 3)
	assert.NotEmpty(t, statResp.Entries[0].ETag)
}

func TestRevokeAllEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	staleHeader, err := auth.SignV1Token(f.priv, auth.V1TokenClaims{
		GaiaChallenge: auth.ChallengeText(testServerName),
		IssuedAt:      time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]int64{"oldestValidTimestamp": time.Now().Add(-time.Minute).Unix()})
	rec := f.do(t, http.MethodPost, "/revoke-all/"+f.address, f.authHeader(t), bytes.NewReader(body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The stale token is now rejected with the watermark status.
	rec = f.do(t, http.MethodPost, "/store/"+f.address+"/a.txt", "bearer "+staleHeader, strings.NewReader("x"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AuthTokenTimestampValidationError", resp.Error)

	// A fresh token still works.
	rec = f.do(t, http.MethodPost, "/store/"+f.address+"/a.txt", f.authHeader(t), strings.NewReader("x"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRevokeAllRejectsBadBody(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/revoke-all/"+f.address, f.authHeader(t), strings.NewReader("{}"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/revoke-all/"+f.address, f.authHeader(t), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/livez", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/drain", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodGet, "/undrain", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStoreEndpointPayloadTooLarge(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	driver := drivers.NewMemoryDriver("http://read.local/", 100)
	hubServer, err := hub.NewServer(driver, nil, &hub.Config{
		ServerName:        testServerName,
		MaxFileUploadSize: 8,
		PageSize:          100,
	}, log)
	require.NoError(t, err)
	t.Cleanup(hubServer.Close)

	srv, err := New(&HTTPServerConfig{ListenAddr: "127.0.0.1:0", Log: log}, hubServer)
	require.NoError(t, err)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	address := cryptoutils.AddressFromPublicKey(priv.PubKey())
	token, err := auth.SignV1Token(priv, auth.V1TokenClaims{GaiaChallenge: auth.ChallengeText(testServerName)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/store/"+address+"/big.txt", strings.NewReader("way more than eight bytes"))
	req.Header.Set("Authorization", "bearer "+token)
	rec := httptest.NewRecorder()
	srv.getRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
