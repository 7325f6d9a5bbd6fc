// Package engine orchestrates a trend query: fresh cache, audit row,
// gated upstream fetches under the retry envelope, scoring,
// persistence, and the dual cache write. The stale cache tier absorbs
// upstream failures so callers see degraded data before they see
// errors.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keywordlab/trendpulse/internal/cache"
	"github.com/keywordlab/trendpulse/internal/gate"
	"github.com/keywordlab/trendpulse/internal/persistence"
	"github.com/keywordlab/trendpulse/internal/retry"
	"github.com/keywordlab/trendpulse/internal/scoring"
	"github.com/keywordlab/trendpulse/internal/telemetry"
	"github.com/keywordlab/trendpulse/internal/trends"
)

// staleWarning annotates responses that fell back to the stale tier.
const staleWarning = "upstream provider unavailable; response served from stale cache"

// Params is one validated trend query.
type Params struct {
	Keyword      string
	Country      string
	WindowDays   int
	BaselineDays int
}

// CacheInfo describes how the cache served a response.
type CacheInfo struct {
	Hit        bool   `json:"hit"`
	TTLSeconds int    `json:"ttl_seconds"`
	Stale      bool   `json:"stale,omitempty"`
	AgeSeconds int64  `json:"age_seconds,omitempty"`
	CachedAt   string `json:"cached_at,omitempty"`
}

// Response is the full query result. Its marshaled form is what the
// cache stores, so a fresh hit is byte-identical to the original
// response except for the cache block and request id.
type Response struct {
	Keyword      string                `json:"keyword"`
	Country      string                `json:"country"`
	WindowDays   int                   `json:"window_days"`
	BaselineDays int                   `json:"baseline_days"`
	GeneratedAt  string                `json:"generated_at"`
	SourcesUsed  []string              `json:"sources_used"`
	TrendScore   float64               `json:"trend_score"`
	Signals      scoring.Signals       `json:"signals"`
	Series       []trends.Point        `json:"series"`
	ByCountry    []trends.CountryValue `json:"by_country"`
	Explain      []string              `json:"explain"`
	Warning      string                `json:"warning,omitempty"`
	Cache        CacheInfo             `json:"cache"`
	RequestID    string                `json:"request_id"`
}

// Config bundles the engine's tunables.
type Config struct {
	// Policy is the retry envelope for each upstream operation.
	Policy retry.Policy
	// RequestDelay is the unconditional pause between the series and
	// by-country fetches of one query.
	RequestDelay time.Duration
}

// Engine coordinates one trend query end to end.
type Engine struct {
	cache    *cache.Cache
	store    persistence.QueryStore
	provider trends.Provider
	gate     *gate.Gate
	cfg      Config
	logger   zerolog.Logger
	metrics  *telemetry.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New assembles an engine. All collaborators are required except
// metrics, which may be nil.
func New(c *cache.Cache, store persistence.QueryStore, provider trends.Provider, g *gate.Gate, cfg Config, logger zerolog.Logger, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		cache:    c,
		store:    store,
		provider: provider,
		gate:     g,
		cfg:      cfg,
		logger:   logger.With().Str("component", "engine").Logger(),
		metrics:  metrics,
		now:      time.Now,
		sleep:    retry.Wait,
	}
}

// Execute runs the query protocol. It returns a *Response on success
// (including the stale-fallback path) and an error otherwise:
// trends.ErrNoData when the provider knows nothing about the keyword,
// *retry.ExhaustedError when the upstream failed every attempt, and
// *persistence.StorageError when the audit row could not be created.
func (e *Engine) Execute(ctx context.Context, params Params, requestID string) (*Response, error) {
	began := e.now()
	fp := cache.Fingerprint{
		Keyword:      params.Keyword,
		Country:      params.Country,
		WindowDays:   params.WindowDays,
		BaselineDays: params.BaselineDays,
	}
	logger := e.logger.With().
		Str("request_id", requestID).
		Str("keyword", params.Keyword).
		Str("country", params.Country).
		Logger()

	if payload, ok, err := e.cache.GetFresh(ctx, fp); err != nil {
		logger.Warn().Err(err).Msg("fresh cache read failed, treating as miss")
	} else if ok {
		resp, err := e.freshHit(ctx, fp, payload, requestID)
		if err == nil {
			e.metrics.RecordQuery("cache_hit", e.now().Sub(began))
			logger.Info().Int("ttl_seconds", resp.Cache.TTLSeconds).Msg("served from fresh cache")
			return resp, nil
		}
		logger.Warn().Err(err).Msg("unreadable fresh cache entry, refetching")
	}

	queryID := uuid.NewString()
	row := &persistence.TrendQuery{
		ID:           queryID,
		Keyword:      params.Keyword,
		Country:      params.Country,
		WindowDays:   params.WindowDays,
		BaselineDays: params.BaselineDays,
	}
	if err := e.store.CreateRunning(ctx, row); err != nil {
		e.metrics.RecordQuery(persistence.StatusError, e.now().Sub(began))
		return nil, &persistence.StorageError{Op: "create_running", Err: err}
	}
	logger = logger.With().Str("query_id", queryID).Logger()

	series, byCountry, fetchErr := e.fetchUnderGate(ctx, logger, params)
	if fetchErr != nil {
		return e.recoverFromFetch(ctx, logger, began, fp, queryID, requestID, fetchErr)
	}

	values := make([]int, len(series))
	for i, p := range series {
		values[i] = p.Value
	}
	scored, err := scoring.Score(values, params.Keyword, params.Country, params.WindowDays)
	if err != nil {
		// The connector guarantees a non-empty series, so this branch
		// is an internal invariant break.
		e.markError(ctx, logger, queryID, err.Error())
		e.metrics.RecordQuery(persistence.StatusError, e.now().Sub(began))
		return nil, fmt.Errorf("scoring failed: %w", err)
	}

	if err := ctx.Err(); err != nil {
		logger.Warn().Msg("caller gone before persistence, leaving audit row running")
		e.metrics.RecordQuery("cancelled", e.now().Sub(began))
		return nil, err
	}

	resp := &Response{
		Keyword:      params.Keyword,
		Country:      params.Country,
		WindowDays:   params.WindowDays,
		BaselineDays: params.BaselineDays,
		GeneratedAt:  e.now().UTC().Format(time.RFC3339),
		SourcesUsed:  []string{e.provider.Source()},
		TrendScore:   scored.TrendScore,
		Signals:      scored.Signals,
		Series:       series,
		ByCountry:    byCountry,
		Explain:      scored.Explanations,
		Cache: CacheInfo{
			Hit:        false,
			TTLSeconds: int(e.cache.FreshTTL() / time.Second),
		},
		RequestID: requestID,
	}

	duration := e.now().Sub(began)
	e.persist(ctx, logger, queryID, scored, series, byCountry, resp.SourcesUsed, duration)

	if payload, err := json.Marshal(resp); err != nil {
		logger.Error().Err(err).Msg("failed to encode response for cache")
	} else if err := e.cache.Set(ctx, fp, payload); err != nil {
		logger.Warn().Err(err).Msg("cache write failed")
	}

	e.metrics.RecordQuery(persistence.StatusDone, duration)
	logger.Info().
		Float64("trend_score", resp.TrendScore).
		Dur("duration", duration).
		Msg("query completed")
	return resp, nil
}

// fetchUnderGate serializes the upstream section: gate, series fetch,
// the inter-request pause, by-country fetch. The gate is released on
// every exit path.
func (e *Engine) fetchUnderGate(ctx context.Context, logger zerolog.Logger, params Params) ([]trends.Point, []trends.CountryValue, error) {
	e.metrics.SetGateWaiters(e.gate.Waiters())
	if err := e.gate.Acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer func() {
		e.gate.Release()
		e.metrics.SetGateWaiters(e.gate.Waiters())
	}()

	start, end := e.fetchRange(params)

	var series []trends.Point
	err := retry.Do(ctx, e.cfg.Policy, logger, "fetch_series", func(ctx context.Context) error {
		points, err := e.provider.FetchSeries(ctx, params.Keyword, params.Country, start, end)
		if err != nil {
			if errors.Is(err, trends.ErrNoData) {
				return retry.Unrecoverable(err)
			}
			return err
		}
		series = points
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	// Unconditional pause: back-to-back calls from one logical query
	// still look like a burst to the provider.
	if err := e.sleep(ctx, e.cfg.RequestDelay); err != nil {
		return nil, nil, err
	}

	var byCountry []trends.CountryValue
	err = retry.Do(ctx, e.cfg.Policy, logger, "fetch_by_country", func(ctx context.Context) error {
		values, err := e.provider.FetchByCountry(ctx, params.Keyword)
		if err != nil {
			return err
		}
		byCountry = values
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return series, byCountry, nil
}

// recoverFromFetch handles a failed upstream section: record the
// error, prefer the stale tier, surface the failure only when no
// degraded mode exists. Cancellation skips the audit write entirely.
func (e *Engine) recoverFromFetch(ctx context.Context, logger zerolog.Logger, began time.Time, fp cache.Fingerprint, queryID, requestID string, fetchErr error) (*Response, error) {
	if errors.Is(fetchErr, context.Canceled) || errors.Is(fetchErr, context.DeadlineExceeded) {
		logger.Warn().Msg("query cancelled, leaving audit row running")
		e.metrics.RecordQuery("cancelled", e.now().Sub(began))
		return nil, fetchErr
	}

	var exhausted *retry.ExhaustedError
	if errors.As(fetchErr, &exhausted) && exhausted.Blocked {
		e.metrics.RecordBlocked()
	}

	e.markError(ctx, logger, queryID, fetchErr.Error())

	entry, ok, err := e.cache.GetStale(ctx, fp)
	if err != nil {
		logger.Warn().Err(err).Msg("stale cache read failed")
	}
	if ok {
		resp, err := e.staleHit(entry, requestID)
		if err == nil {
			e.metrics.RecordStaleFallback()
			e.metrics.RecordQuery("stale", e.now().Sub(began))
			logger.Info().
				Dur("age", entry.Age).
				Err(fetchErr).
				Msg("served from stale cache after upstream failure")
			return resp, nil
		}
		logger.Warn().Err(err).Msg("unreadable stale cache entry")
	}

	e.metrics.RecordQuery(persistence.StatusError, e.now().Sub(began))
	logger.Error().Err(fetchErr).Msg("query failed with no stale fallback")
	return nil, fetchErr
}

// freshHit rehydrates a cached response, rewriting only the cache
// block and the request id.
func (e *Engine) freshHit(ctx context.Context, fp cache.Fingerprint, payload []byte, requestID string) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}

	ttl, err := e.cache.TTL(ctx, fp)
	if err != nil {
		ttl = 0
	}
	resp.Cache = CacheInfo{Hit: true, TTLSeconds: ttl}
	resp.RequestID = requestID
	return &resp, nil
}

// staleHit rehydrates the stale payload and annotates it as degraded.
func (e *Engine) staleHit(entry *cache.StaleEntry, requestID string) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(entry.Payload, &resp); err != nil {
		return nil, fmt.Errorf("decode stale response: %w", err)
	}

	resp.SourcesUsed = []string{"stale_cache"}
	resp.Warning = staleWarning
	resp.Cache = CacheInfo{
		Hit:        true,
		TTLSeconds: 0,
		Stale:      true,
		AgeSeconds: int64(entry.Age.Seconds()),
		CachedAt:   entry.CachedAt.UTC().Format(time.RFC3339),
	}
	resp.RequestID = requestID
	return &resp, nil
}

// persist writes the result and flips the audit row to done. Failures
// downgrade the row, never the response: a persisted-nothing query is
// marked errored so done rows always carry a result.
func (e *Engine) persist(ctx context.Context, logger zerolog.Logger, queryID string, scored scoring.Result, series []trends.Point, byCountry []trends.CountryValue, sources []string, duration time.Duration) {
	res := persistence.Result{
		Score:        scored.TrendScore,
		Signals:      scored.Signals,
		Explanations: scored.Explanations,
		Series:       series,
		ByCountry:    byCountry,
		SourcesUsed:  sources,
	}
	if err := e.store.PersistResult(ctx, queryID, res); err != nil {
		logger.Error().Err(err).Msg("failed to persist result")
		e.markError(ctx, logger, queryID, "failed to persist result: "+err.Error())
		return
	}
	if err := e.store.MarkDone(ctx, queryID, duration); err != nil {
		logger.Error().Err(err).Msg("failed to mark query done")
	}
}

// markError is best-effort: the transition failing must not mask the
// original error.
func (e *Engine) markError(ctx context.Context, logger zerolog.Logger, queryID, message string) {
	if err := e.store.MarkError(ctx, queryID, message); err != nil {
		logger.Error().Err(err).Msg("failed to mark query errored")
	}
}

// fetchRange derives the inclusive UTC date range covering the window
// plus its baseline, ending today.
func (e *Engine) fetchRange(params Params) (time.Time, time.Time) {
	end := e.now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -(params.WindowDays + params.BaselineDays - 1))
	return start, end
}
