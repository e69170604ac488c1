package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacks-network/gaia-hub/auth"
	"github.com/stacks-network/gaia-hub/hub"
	"github.com/stacks-network/gaia-hub/interfaces"
	"github.com/stacks-network/gaia-hub/metrics"
)

const (
	// maxJSONBodySize caps the JSON bodies of list-files and revoke-all.
	maxJSONBodySize = 4096

	bytesPerMegabyte = 1024 * 1024
)

// Handler translates HTTP requests into hub operations and hub errors
// into status codes.
type Handler struct {
	hub        *hub.Server
	metricsSrv *metrics.MetricsServer
	log        *slog.Logger
}

// NewHandler creates an HTTP handler around the hub server. metricsSrv
// may be nil when no metrics listener is configured.
func NewHandler(hubServer *hub.Server, metricsSrv *metrics.MetricsServer, log *slog.Logger) *Handler {
	return &Handler{
		hub:        hubServer,
		metricsSrv: metricsSrv,
		log:        log,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type storeResponse struct {
	PublicURL string `json:"publicURL"`
	ETag      string `json:"etag,omitempty"`
}

type listFilesRequest struct {
	Page string `json:"page"`
	Stat bool   `json:"stat"`
}

type listFilesResponse struct {
	Entries interface{} `json:"entries"`
	Page    string      `json:"page,omitempty"`
}

type revokeAllRequest struct {
	OldestValidTimestamp int64 `json:"oldestValidTimestamp"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// HubInfoResponse is the public descriptor clients fetch before minting
// tokens against this hub.
type HubInfoResponse struct {
	ChallengeText              string `json:"challenge_text"`
	LatestAuthVersion          string `json:"latest_auth_version"`
	MaxFileUploadSizeMegabytes int64  `json:"max_file_upload_size_megabytes"`
	ReadURLPrefix              string `json:"read_url_prefix"`
}

// HandleStore stores an object under the caller's bucket.
//
// URL format: POST /store/{address}/{path}
func (h *Handler) HandleStore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	address := chi.URLParam(r, "address")
	path := chi.URLParam(r, "*")

	maxSize := h.hub.Config().MaxFileUploadSize
	body := http.MaxBytesReader(w, r.Body, maxSize)

	result, err := h.hub.HandleRequest(r.Context(), address, path, &hub.RequestHeaders{
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
		IfMatch:       r.Header.Get("If-Match"),
		IfNoneMatch:   r.Header.Get("If-None-Match"),
	}, body)
	if err != nil {
		h.writeError(w, "store", err)
		return
	}

	if h.metricsSrv != nil {
		h.metricsSrv.IncRequest("store", "ok")
		h.metricsSrv.ObserveDuration("store", time.Since(start).Seconds())
		h.metricsSrv.AddStoredBytes(r.ContentLength)
	}
	h.writeJSON(w, http.StatusAccepted, storeResponse{
		PublicURL: result.PublicURL,
		ETag:      result.ETag,
	})
}

// HandleDelete removes an object from the caller's bucket.
//
// URL format: DELETE /delete/{address}/{path}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	address := chi.URLParam(r, "address")
	path := chi.URLParam(r, "*")

	err := h.hub.HandleDelete(r.Context(), address, path, &hub.RequestHeaders{
		Authorization: r.Header.Get("Authorization"),
	})
	if err != nil {
		h.writeError(w, "delete", err)
		return
	}

	if h.metricsSrv != nil {
		h.metricsSrv.IncRequest("delete", "ok")
		h.metricsSrv.ObserveDuration("delete", time.Since(start).Seconds())
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleListFiles returns one page of the bucket's object names.
//
// URL format: POST /list-files/{address}
// Request body: JSON {"page": "<token>", "stat": bool}, both optional.
func (h *Handler) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	address := chi.URLParam(r, "address")

	var req listFilesRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, "list-files", interfaces.NewInvalidInputError("invalid request body: %v", err))
		return
	}

	result, err := h.hub.HandleListFiles(r.Context(), address, req.Page, req.Stat, &hub.RequestHeaders{
		Authorization: r.Header.Get("Authorization"),
	})
	if err != nil {
		h.writeError(w, "list-files", err)
		return
	}

	resp := listFilesResponse{Page: result.Page}
	if req.Stat {
		resp.Entries = result.StatEntries
	} else {
		resp.Entries = result.Entries
	}

	if h.metricsSrv != nil {
		h.metricsSrv.IncRequest("list-files", "ok")
		h.metricsSrv.ObserveDuration("list-files", time.Since(start).Seconds())
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

// HandleRevokeAll bumps the bucket's revocation watermark, invalidating
// every token issued before it.
//
// URL format: POST /revoke-all/{address}
// Request body: JSON {"oldestValidTimestamp": <unix seconds>}
func (h *Handler) HandleRevokeAll(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	address := chi.URLParam(r, "address")

	var req revokeAllRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	if err := decoder.Decode(&req); err != nil {
		h.writeError(w, "revoke-all", interfaces.NewInvalidInputError("invalid request body: %v", err))
		return
	}
	if req.OldestValidTimestamp <= 0 {
		h.writeError(w, "revoke-all", interfaces.NewInvalidInputError("oldestValidTimestamp must be positive"))
		return
	}

	err := h.hub.HandleAuthBump(r.Context(), address, req.OldestValidTimestamp, &hub.RequestHeaders{
		Authorization: r.Header.Get("Authorization"),
	})
	if err != nil {
		h.writeError(w, "revoke-all", err)
		return
	}

	if h.metricsSrv != nil {
		h.metricsSrv.IncRequest("revoke-all", "ok")
		h.metricsSrv.ObserveDuration("revoke-all", time.Since(start).Seconds())
	}
	h.writeJSON(w, http.StatusAccepted, statusResponse{Status: "success"})
}

// HandleHubInfo describes this hub to clients.
//
// URL format: GET /hub_info/
func (h *Handler) HandleHubInfo(w http.ResponseWriter, r *http.Request) {
	cfg := h.hub.Config()
	h.writeJSON(w, http.StatusOK, HubInfoResponse{
		ChallengeText:              auth.ChallengeText(cfg.ServerName),
		LatestAuthVersion:          auth.LatestAuthVersion,
		MaxFileUploadSizeMegabytes: cfg.MaxFileUploadSize / bytesPerMegabyte,
		ReadURLPrefix:              h.hub.ReadURLPrefix(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// writeError maps hub errors onto status codes and a JSON error envelope.
func (h *Handler) writeError(w http.ResponseWriter, operation string, err error) {
	status := http.StatusInternalServerError

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		err = interfaces.NewPayloadTooLargeError("request body exceeds %d bytes", maxBytesErr.Limit)
	}

	switch err.(type) {
	case *interfaces.ValidationError, *interfaces.AuthTokenTimestampValidationError:
		status = http.StatusUnauthorized
	case *interfaces.NotEnoughProofError:
		status = http.StatusPaymentRequired
	case *interfaces.BadPathError:
		status = http.StatusForbidden
	case *interfaces.DoesNotExistError:
		status = http.StatusNotFound
	case *interfaces.ConflictError:
		status = http.StatusConflict
	case *interfaces.PreconditionFailedError:
		status = http.StatusPreconditionFailed
	case *interfaces.InvalidInputError:
		status = http.StatusBadRequest
	case *interfaces.PayloadTooLargeError:
		status = http.StatusRequestEntityTooLarge
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", slog.String("operation", operation), "err", err)
	} else {
		h.log.Debug("Request rejected",
			slog.String("operation", operation),
			slog.Int("status", status),
			"err", err)
	}

	if h.metricsSrv != nil {
		h.metricsSrv.IncRequest(operation, interfaces.ErrorName(err))
	}
	h.writeJSON(w, status, errorResponse{
		Error:   interfaces.ErrorName(err),
		Message: err.Error(),
	})
}
