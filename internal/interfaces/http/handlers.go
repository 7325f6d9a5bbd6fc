package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/keywordlab/trendpulse/internal/cache"
	"github.com/keywordlab/trendpulse/internal/engine"
	"github.com/keywordlab/trendpulse/internal/persistence"
	"github.com/keywordlab/trendpulse/internal/retry"
	"github.com/keywordlab/trendpulse/internal/scoring"
	"github.com/keywordlab/trendpulse/internal/trends"
)

const maxRequestBody = 1 << 20

// Runner executes trend queries. Satisfied by *engine.Engine; tests
// substitute stubs.
type Runner interface {
	Execute(ctx context.Context, params engine.Params, requestID string) (*engine.Response, error)
}

// Handlers owns the HTTP endpoints and their collaborators.
type Handlers struct {
	engine  Runner
	cache   *cache.Cache
	store   persistence.QueryStore
	logger  zerolog.Logger
	version string
}

// NewHandlers wires the endpoint handlers.
func NewHandlers(runner Runner, c *cache.Cache, store persistence.QueryStore, logger zerolog.Logger, version string) *Handlers {
	return &Handlers{
		engine:  runner,
		cache:   c,
		store:   store,
		logger:  logger.With().Str("component", "http").Logger(),
		version: version,
	}
}

// Query handles POST /v1/trends/query: validate, run the engine
// protocol, map failures onto the status-code contract.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	params, verr := req.Validate()
	if verr != nil {
		h.writeError(w, r, http.StatusBadRequest, "validation failed", verr.Fields)
		return
	}

	resp, err := h.engine.Execute(r.Context(), params, RequestIDFrom(r.Context()))
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeQueryError maps engine failures onto the API error contract.
// Anything recoverable was already recovered inside the engine; what
// arrives here is terminal for this request.
func (h *Handlers) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	logger := h.logger.With().Str("request_id", RequestIDFrom(r.Context())).Logger()

	var exhausted *retry.ExhaustedError
	var storageErr *persistence.StorageError

	switch {
	case errors.Is(err, trends.ErrNoData):
		h.writeError(w, r, http.StatusNotFound, "no data for this keyword", nil)

	case errors.As(err, &exhausted):
		logger.Error().Err(err).Bool("blocked", exhausted.Blocked).Msg("upstream unavailable")
		h.writeError(w, r, http.StatusServiceUnavailable, "trends provider unavailable",
			map[string]interface{}{"attempts": exhausted.Attempts})

	case errors.As(err, &storageErr):
		logger.Error().Err(err).Msg("query store failure")
		h.writeError(w, r, http.StatusInternalServerError, "internal error", nil)

	case errors.Is(err, context.Canceled):
		// The caller is gone; the body goes nowhere but the log matters.
		logger.Warn().Msg("request cancelled by caller")
		h.writeError(w, r, http.StatusInternalServerError, "request cancelled", nil)

	case errors.Is(err, context.DeadlineExceeded):
		logger.Error().Err(err).Msg("query deadline exceeded")
		h.writeError(w, r, http.StatusServiceUnavailable, "query timed out", nil)

	default:
		logger.Error().Err(err).Msg("query failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal error", nil)
	}
}

// Regions handles GET /v1/regions.
func (h *Handlers) Regions(w http.ResponseWriter, r *http.Request) {
	resp := RegionsResponse{Countries: make([]RegionInfo, 0, len(trends.SupportedCountries))}
	for _, code := range trends.SupportedCountries {
		resp.Countries = append(resp.Countries, RegionInfo{Code: code, Name: countryNames[code]})
	}
	writeJSON(w, http.StatusOK, resp)
}

// QueriesResponse is the audit listing.
type QueriesResponse struct {
	Queries []persistence.TrendQuery `json:"queries"`
	Counts  map[string]int           `json:"counts,omitempty"`
}

// RecentQueries handles GET /v1/queries: the newest audit rows plus
// per-status totals.
func (h *Handlers) RecentQueries(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		limit = parsed
	}

	queries, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list queries")
		h.writeError(w, r, http.StatusInternalServerError, "internal error", nil)
		return
	}

	resp := QueriesResponse{Queries: queries}
	if counts, err := h.store.CountByStatus(r.Context()); err == nil {
		resp.Counts = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetQuery handles GET /v1/queries/{id}.
func (h *Handlers) GetQuery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	query, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, "query not found", nil)
			return
		}
		h.logger.Error().Err(err).Str("query_id", id).Msg("failed to load query")
		h.writeError(w, r, http.StatusInternalServerError, "internal error", nil)
		return
	}

	writeJSON(w, http.StatusOK, query)
}

// Health handles GET /health: dependency connectivity plus the audit
// backlog split by status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     "ok",
		Version:    h.version,
		Components: map[string]string{},
	}
	code := http.StatusOK

	if err := h.cache.Ping(ctx); err != nil {
		resp.Components["redis"] = err.Error()
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	} else {
		resp.Components["redis"] = "ok"
	}

	if err := h.store.Ping(ctx); err != nil {
		resp.Components["postgres"] = err.Error()
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	} else {
		resp.Components["postgres"] = "ok"

		if counts, err := h.store.CountByStatus(ctx); err == nil {
			resp.Queries = counts
		}
	}

	writeJSON(w, code, resp)
}

// Index handles GET /.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, IndexResponse{
		Service: "trendpulse",
		Version: h.version,
		Endpoints: []string{
			"POST /v1/trends/query",
			"GET /v1/regions",
			"GET /v1/queries",
			"GET /v1/queries/{id}",
			"GET /health",
			"GET /metrics",
		},
	})
}

// MockTrends handles POST /dev/mock-trends: the full scoring pipeline
// over generated data, no upstream, no cache, no audit row. Lets
// clients integrate against realistic payloads while the real provider
// blocks the network.
func (h *Handlers) MockTrends(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	params, verr := req.Validate()
	if verr != nil {
		h.writeError(w, r, http.StatusBadRequest, "validation failed", verr.Fields)
		return
	}

	mock := trends.NewMockProvider()
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -(params.WindowDays + params.BaselineDays - 1))

	series, err := mock.FetchSeries(r.Context(), params.Keyword, params.Country, start, end)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "mock generation failed", nil)
		return
	}
	byCountry, err := mock.FetchByCountry(r.Context(), params.Keyword)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "mock generation failed", nil)
		return
	}

	values := make([]int, len(series))
	for i, p := range series {
		values[i] = p.Value
	}
	scored, err := scoring.Score(values, params.Keyword, params.Country, params.WindowDays)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "scoring failed", nil)
		return
	}

	writeJSON(w, http.StatusOK, &engine.Response{
		Keyword:      params.Keyword,
		Country:      params.Country,
		WindowDays:   params.WindowDays,
		BaselineDays: params.BaselineDays,
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		SourcesUsed:  []string{mock.Source()},
		TrendScore:   scored.TrendScore,
		Signals:      scored.Signals,
		Series:       series,
		ByCountry:    byCountry,
		Explain:      scored.Explanations,
		Cache:        engine.CacheInfo{Hit: false, TTLSeconds: 0},
		RequestID:    RequestIDFrom(r.Context()),
	})
}

type clearCacheRequest struct {
	Pattern string `json:"pattern"`
}

// ClearCache handles POST /dev/clear-cache. The pattern must stay
// inside the trend keyspace so a typo cannot flush foreign keys.
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	var req clearCacheRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if req.Pattern != "" && !strings.HasPrefix(req.Pattern, "trend:") {
		h.writeError(w, r, http.StatusBadRequest, "pattern must target trend: keys", nil)
		return
	}

	keys, err := h.cache.Clear(r.Context(), req.Pattern)
	if err != nil {
		h.logger.Error().Err(err).Msg("cache clear failed")
		h.writeError(w, r, http.StatusInternalServerError, "cache clear failed", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": len(keys),
		"keys":    keys,
	})
}

// CacheInfo handles GET /dev/cache-info.
func (h *Handlers) CacheInfo(w http.ResponseWriter, r *http.Request) {
	infos, err := h.cache.Info(r.Context(), "")
	if err != nil {
		h.logger.Error().Err(err).Msg("cache info failed")
		h.writeError(w, r, http.StatusInternalServerError, "cache info failed", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(infos),
		"keys":  infos,
	})
}

// NotFound answers unmatched routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint not found", nil)
}

// MethodNotAllowed answers matched routes with the wrong verb.
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, message string, details interface{}) {
	writeJSON(w, status, ErrorResponse{
		Error:     message,
		Details:   details,
		RequestID: RequestIDFrom(r.Context()),
	})
}

// decodeBody reads a JSON body with a size cap. An empty body leaves
// dst at its zero value so optional-body endpoints can default.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// An encode failure here means the client hung up; there is nothing
	// left to send them.
	_ = json.NewEncoder(w).Encode(data)
}
