// Package persistence defines the query lifecycle store. Every trend
// query gets a row at submission time; the row moves exactly once from
// running to done or error and is immutable after that. Completed
// queries keep their result and the raw points that produced it.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/keywordlab/trendpulse/internal/scoring"
	"github.com/keywordlab/trendpulse/internal/trends"
)

// Query lifecycle states.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

var (
	// ErrNotFound is returned when no query row matches the id.
	ErrNotFound = errors.New("query not found")

	// ErrNotRunning is returned when a terminal transition targets a
	// row that is absent or already terminal. Done and error rows
	// never change again.
	ErrNotRunning = errors.New("query is not in running state")
)

// StorageError wraps a store failure with the operation that hit it,
// so callers can tell a failed audit write from a failed lookup.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TrendQuery is one row of the query audit trail.
type TrendQuery struct {
	ID           string     `db:"id" json:"id"`
	Keyword      string     `db:"keyword" json:"keyword"`
	Country      string     `db:"country" json:"country"`
	WindowDays   int        `db:"window_days" json:"window_days"`
	BaselineDays int        `db:"baseline_days" json:"baseline_days"`
	Status       string     `db:"status" json:"status"`
	ErrorMessage *string    `db:"error_message" json:"error,omitempty"`
	DurationMS   *int64     `db:"duration_ms" json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// TrendResult is the 1:1 result row of a completed query. The JSONB
// columns stay raw on read.
type TrendResult struct {
	QueryID      string          `db:"query_id" json:"query_id"`
	Score        float64         `db:"score" json:"score"`
	Signals      json.RawMessage `db:"signals" json:"signals"`
	Explanations json.RawMessage `db:"explanations" json:"explanations"`
	SourcesUsed  json.RawMessage `db:"sources_used" json:"sources_used"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Result carries everything PersistResult writes for a completed
// query: the result row plus the raw series and country points.
type Result struct {
	Score        float64
	Signals      scoring.Signals
	Explanations []string
	Series       []trends.Point
	ByCountry    []trends.CountryValue
	SourcesUsed  []string
}

// QueryStore records the lifecycle of trend queries.
type QueryStore interface {
	// CreateRunning inserts the row in running state. ID, keyword,
	// country, window and baseline must be set by the caller.
	CreateRunning(ctx context.Context, q *TrendQuery) error

	// PersistResult writes the result row and the series and country
	// points in one transaction.
	PersistResult(ctx context.Context, id string, res Result) error

	// MarkDone moves a running query to done and records how long it
	// took. Returns ErrNotRunning if the row is absent or already
	// terminal.
	MarkDone(ctx context.Context, id string, duration time.Duration) error

	// MarkError moves a running query to error with a message.
	// Returns ErrNotRunning if the row is absent or already terminal.
	MarkError(ctx context.Context, id string, message string) error

	// Get fetches one query by id, ErrNotFound when absent.
	Get(ctx context.Context, id string) (*TrendQuery, error)

	// Recent returns the newest queries, newest first.
	Recent(ctx context.Context, limit int) ([]TrendQuery, error)

	// CountByStatus reports how many queries sit in each state.
	CountByStatus(ctx context.Context) (map[string]int, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
