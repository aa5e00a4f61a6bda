package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ragcache/ragcache/internal/metrics"
	"github.com/ragcache/ragcache/internal/orchestrator"
	"github.com/ragcache/ragcache/internal/parse"
	"github.com/ragcache/ragcache/internal/provider"
	"github.com/ragcache/ragcache/internal/querycache"
	"github.com/ragcache/ragcache/internal/sqlflow"
	"github.com/ragcache/ragcache/internal/storage"
	"github.com/ragcache/ragcache/internal/store"
)

// Handler holds the orchestrator and the dependencies the HTTP surface needs.
type Handler struct {
	orch        *orchestrator.Orchestrator
	store       *store.Store
	collector   *metrics.Collector
	logger      zerolog.Logger
	backendName string
	maxBodySize int64
	version     string
}

// NewHandler creates a Handler. A maxBodySize of 0 means unlimited.
func NewHandler(
	orch *orchestrator.Orchestrator,
	st *store.Store,
	collector *metrics.Collector,
	logger zerolog.Logger,
	backendName string,
	maxBodySize int64,
	version string,
) *Handler {
	return &Handler{
		orch:        orch,
		store:       st,
		collector:   collector,
		logger:      logger,
		backendName: backendName,
		maxBodySize: maxBodySize,
		version:     version,
	}
}

// trackActive keeps the in-flight request gauge.
func (h *Handler) trackActive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.collector.IncrementActive()
		defer h.collector.DecrementActive()
		next.ServeHTTP(w, r)
	})
}

// HandleUpload ingests one document. The body is either multipart/form-data
// with a "file" field, or raw bytes with the filename in the "filename"
// query parameter.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}

	filename, data, err := readUpload(r)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filename == "" {
		writeJSONError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if len(data) == 0 {
		writeJSONError(w, http.StatusBadRequest, "empty document")
		return
	}

	result, err := h.orch.HandleUpload(r.Context(), filepath.Base(filename), data)
	if err != nil {
		h.writeDomainError(w, r, err, "upload failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func readUpload(r *http.Request) (filename string, data []byte, err error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, errors.New("multipart upload requires a \"file\" field")
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		if err != nil {
			return "", nil, err
		}
		return header.Filename, data, nil
	}

	data, err = io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	defer r.Body.Close()
	return r.URL.Query().Get("filename"), data, nil
}

// HandleGetDocument returns the original uploaded bytes for a digest.
func (h *Handler) HandleGetDocument(w http.ResponseWriter, r *http.Request) {
	digest := chi.URLParam(r, "digest")

	data, err := h.orch.DocumentBytes(r.Context(), digest)
	if err != nil {
		h.writeDomainError(w, r, err, "document lookup failed")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleClearDocument removes one document, or every document when no
// digest is present in the path.
func (h *Handler) HandleClearDocument(w http.ResponseWriter, r *http.Request) {
	digest := chi.URLParam(r, "digest")

	removed, err := h.orch.ClearDocuments(r.Context(), digest)
	if err != nil {
		h.writeDomainError(w, r, err, "clearing documents failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// HandleQuery routes and serves one question.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeJSONError(w, http.StatusBadRequest, "question is required")
		return
	}

	result, err := h.orch.HandleQuery(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type sqlGenerateRequest struct {
	Question string `json:"question"`
}

// HandleSQLGenerate generates SQL for a question and records it for approval.
func (h *Handler) HandleSQLGenerate(w http.ResponseWriter, r *http.Request) {
	var req sqlGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeJSONError(w, http.StatusBadRequest, "question is required")
		return
	}

	result, err := h.orch.SQLGenerate(r.Context(), req.Question)
	if err != nil {
		h.writeDomainError(w, r, err, "sql generation failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type sqlDecideRequest struct {
	Approved bool `json:"approved"`
}

type sqlDecideResponse struct {
	Query   *sqlflow.Query      `json:"query"`
	Results *provider.ResultSet `json:"results,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// HandleSQLDecide applies an approval decision to a pending record. An
// execution failure is reported in the response body; the record stays
// approved so the decision can be retried.
func (h *Handler) HandleSQLDecide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sqlDecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.orch.SQLDecide(r.Context(), id, req.Approved)
	if err != nil && outcome == nil {
		h.writeDomainError(w, r, err, "sql decision failed")
		return
	}

	resp := sqlDecideResponse{Query: outcome.Query, Results: outcome.Results}
	if err != nil {
		resp.Error = outcome.Query.Error
		h.logger.Warn().Err(err).Str("query_id", id).Msg("api: sql execution failed")
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSQLPending lists records awaiting a decision.
func (h *Handler) HandleSQLPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.orch.SQLListPending(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err, "listing pending queries failed")
		return
	}
	if pending == nil {
		pending = []*sqlflow.Query{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": pending})
}

// HandleStats aggregates every cache's view.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orch.GetCacheStats(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err, "collecting stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleClearCache invalidates query-cache entries. Query parameters:
// "type" selects one cache type (empty means all), "pattern" is a glob
// over the normalized key hashes (default "*").
func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	types := querycache.Types
	if t := r.URL.Query().Get("type"); t != "" {
		ct := querycache.Type(t)
		if !querycache.ValidType(ct) {
			writeJSONError(w, http.StatusBadRequest, "unknown cache type "+t)
			return
		}
		types = []querycache.Type{ct}
	}

	var removed int64
	for _, t := range types {
		n, err := h.orch.ClearQueryCache(t, pattern)
		if err != nil {
			h.writeDomainError(w, r, err, "cache invalidation failed")
			return
		}
		removed += n
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// HandleHealth returns a simple JSON health check response.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// HandleReady reports per-subsystem readiness. The store is probed with a
// live ping; the storage backend proved itself reachable at construction.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	subsystems := map[string]string{
		"storage": h.backendName,
		"store":   "ok",
	}
	status := http.StatusOK

	if err := h.store.Ping(); err != nil {
		subsystems["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":     http.StatusText(status),
		"subsystems": subsystems,
	})
}

// writeDomainError maps domain sentinel errors onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, sqlflow.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, parse.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, parse.ErrParse):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, provider.ErrProvider):
		status = http.StatusBadGateway
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= 500 {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("api: " + msg)
	} else {
		h.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("api: " + msg)
	}
	writeJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	data, _ := json.Marshal(v)
	_, _ = w.Write(data)
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
		},
	}
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}
