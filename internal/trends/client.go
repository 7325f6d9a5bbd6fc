package trends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/keywordlab/trendpulse/internal/telemetry"
)

const (
	defaultBaseURL = "https://trends.google.com"
	userAgent      = "TrendPulse/1.0"

	widgetTimeseries = "TIMESERIES"
	widgetGeoMap     = "GEO_MAP"

	// Fixed window for the cross-country snapshot.
	geoTimeframe = "today 12-m"
)

// Config holds connector settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements Provider against the widget API: an explore call
// mints per-widget tokens, then widgetdata calls return the payloads.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewClient creates a provider client. The circuit breaker trips on
// five consecutive failures, so a single exhausted retry envelope
// (three attempts) never opens it on its own.
func NewClient(cfg Config, logger zerolog.Logger, metrics *telemetry.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	componentLogger := logger.With().Str("component", "trends").Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "trends-provider",
		MaxRequests: 1,
		Interval:    2 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			componentLogger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  componentLogger,
		metrics: metrics,
	}
}

// Source identifies this provider in response payloads.
func (c *Client) Source() string {
	return "google_trends"
}

// FetchSeries returns interest over time for keyword in country
// between start and end.
func (c *Client) FetchSeries(ctx context.Context, keyword, country string, start, end time.Time) ([]Point, error) {
	began := time.Now()
	timeframe := fmt.Sprintf("%s %s", start.UTC().Format(dateLayout), end.UTC().Format(dateLayout))

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchSeries(ctx, keyword, country, timeframe)
	})
	if err != nil {
		c.metrics.RecordUpstream("fetch_series", "error", time.Since(began))
		return nil, err
	}

	points := out.([]Point)
	c.metrics.RecordUpstream("fetch_series", "success", time.Since(began))
	c.logger.Debug().
		Str("keyword", keyword).
		Str("country", country).
		Str("timeframe", timeframe).
		Int("points", len(points)).
		Msg("series fetched")
	return points, nil
}

func (c *Client) fetchSeries(ctx context.Context, keyword, geo, timeframe string) ([]Point, error) {
	w, err := c.explore(ctx, keyword, geo, timeframe, widgetTimeseries)
	if err != nil {
		return nil, err
	}

	var payload multilineResponse
	if err := c.widgetData(ctx, "trends/api/widgetdata/multiline", w, &payload); err != nil {
		return nil, err
	}

	points, err := normalizeSeries(payload.Default.TimelineData)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoData, keyword)
	}
	return points, nil
}

// FetchByCountry returns the supported-country comparison from one
// global query. Per-country fan-out would multiply request count and
// block risk, so the provider is asked once and filtered locally.
func (c *Client) FetchByCountry(ctx context.Context, keyword string) ([]CountryValue, error) {
	began := time.Now()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchByCountry(ctx, keyword)
	})
	if err != nil {
		c.metrics.RecordUpstream("fetch_by_country", "error", time.Since(began))
		return nil, err
	}

	values := out.([]CountryValue)
	c.metrics.RecordUpstream("fetch_by_country", "success", time.Since(began))
	return values, nil
}

func (c *Client) fetchByCountry(ctx context.Context, keyword string) ([]CountryValue, error) {
	w, err := c.explore(ctx, keyword, "", geoTimeframe, widgetGeoMap)
	if err != nil {
		return nil, err
	}

	var payload comparedGeoResponse
	if err := c.widgetData(ctx, "trends/api/widgetdata/comparedgeo", w, &payload); err != nil {
		return nil, err
	}
	return filterCountries(payload.Default.GeoMapData), nil
}

// explore mints widget tokens for a keyword query and returns the
// widget matching widgetID.
func (c *Client) explore(ctx context.Context, keyword, geo, timeframe, widgetID string) (*widget, error) {
	req := exploreRequest{
		ComparisonItem: []comparisonItem{{Keyword: keyword, Geo: geo, Time: timeframe}},
		Category:       0,
		Property:       "",
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode explore request: %w", err)
	}

	q := url.Values{}
	q.Set("hl", "en-US")
	q.Set("tz", "0")
	q.Set("req", string(reqJSON))

	var resp exploreResponse
	if err := c.get(ctx, "trends/api/explore", q, &resp); err != nil {
		return nil, err
	}

	for i := range resp.Widgets {
		if resp.Widgets[i].ID == widgetID {
			return &resp.Widgets[i], nil
		}
	}
	return nil, &RequestError{
		Endpoint: "explore",
		Message:  fmt.Sprintf("no %s widget in response", widgetID),
	}
}

func (c *Client) widgetData(ctx context.Context, endpoint string, w *widget, out interface{}) error {
	q := url.Values{}
	q.Set("hl", "en-US")
	q.Set("tz", "0")
	q.Set("req", string(w.Request))
	q.Set("token", w.Token)
	return c.get(ctx, endpoint, q, out)
}

// get performs one GET against the provider and decodes the
// XSSI-guarded JSON body into out.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	u := fmt.Sprintf("%s/%s?%s", strings.TrimRight(c.cfg.BaseURL, "/"), endpoint, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &RequestError{
			Endpoint:   endpoint,
			HTTPStatus: resp.StatusCode,
			Message:    snippet(body),
		}
	}

	if err := json.Unmarshal(stripXSSI(body), out); err != nil {
		// The snippet keeps a challenge page's HTML signature visible
		// to the blocked-response classifier.
		return fmt.Errorf("failed to parse %s response: %w: %s", endpoint, err, snippet(body))
	}
	return nil
}
