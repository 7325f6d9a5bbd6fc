package http

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/keywordlab/trendpulse/internal/engine"
	"github.com/keywordlab/trendpulse/internal/trends"
)

// Request validation bounds. The day budget caps the provider date
// range: window plus baseline must stay within five years.
const (
	keywordMinLen = 2
	keywordMaxLen = 60

	baselineMinDays = 30
	totalMaxDays    = 1825

	defaultWindowDays   = 30
	defaultBaselineDays = 365
)

var allowedWindows = []int{7, 30, 90, 365}

// QueryRequest is the submit-query body. Zero window and baseline mean
// "use the defaults".
type QueryRequest struct {
	Keyword      string `json:"keyword"`
	Country      string `json:"country"`
	WindowDays   int    `json:"window_days"`
	BaselineDays int    `json:"baseline_days"`
}

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every violation in a request so the caller
// can fix them in one round trip.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return fmt.Sprintf("invalid request: %s", strings.Join(names, ", "))
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate normalizes the request and returns the engine parameters,
// or a ValidationError listing everything wrong with it. The keyword
// keeps its display casing; the cache key lowercases it later.
func (q QueryRequest) Validate() (engine.Params, *ValidationError) {
	verr := &ValidationError{}

	keyword := strings.TrimSpace(q.Keyword)
	if n := utf8.RuneCountInString(keyword); n < keywordMinLen || n > keywordMaxLen {
		verr.add("keyword", "must be %d-%d characters, got %d", keywordMinLen, keywordMaxLen, n)
	}

	country := strings.ToUpper(strings.TrimSpace(q.Country))
	if country == "" {
		verr.add("country", "is required")
	} else if !trends.IsSupportedCountry(country) {
		verr.add("country", "must be one of %s", strings.Join(trends.SupportedCountries, ", "))
	}

	window := q.WindowDays
	if window == 0 {
		window = defaultWindowDays
	}
	if !allowedWindow(window) {
		verr.add("window_days", "must be one of 7, 30, 90, 365")
	}

	baseline := q.BaselineDays
	if baseline == 0 {
		baseline = defaultBaselineDays
	}
	switch {
	case baseline < baselineMinDays:
		verr.add("baseline_days", "must be at least %d", baselineMinDays)
	case baseline < window:
		verr.add("baseline_days", "must be at least window_days (%d)", window)
	case window+baseline > totalMaxDays:
		verr.add("baseline_days", "window_days + baseline_days must not exceed %d", totalMaxDays)
	}

	if len(verr.Fields) > 0 {
		return engine.Params{}, verr
	}

	return engine.Params{
		Keyword:      keyword,
		Country:      country,
		WindowDays:   window,
		BaselineDays: baseline,
	}, nil
}

func allowedWindow(days int) bool {
	for _, w := range allowedWindows {
		if w == days {
			return true
		}
	}
	return false
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id"`
}

// RegionInfo is one supported country in the regions listing.
type RegionInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// RegionsResponse lists the supported countries.
type RegionsResponse struct {
	Countries []RegionInfo `json:"countries"`
}

// countryNames maps supported codes to display names.
var countryNames = map[string]string{
	"MX": "México",
	"CR": "Costa Rica",
	"ES": "España",
}

// HealthResponse reports service and dependency status.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
	Queries    map[string]int    `json:"queries,omitempty"`
}

// IndexResponse describes the service at the root path.
type IndexResponse struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}
