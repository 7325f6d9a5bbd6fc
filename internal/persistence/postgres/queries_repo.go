// Package postgres implements the query lifecycle store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/keywordlab/trendpulse/internal/persistence"
)

const defaultTimeout = 10 * time.Second

// queriesRepo implements persistence.QueryStore.
type queriesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewQueriesRepo wraps db with per-call timeouts.
func NewQueriesRepo(db *sqlx.DB, timeout time.Duration) persistence.QueryStore {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &queriesRepo{
		db:      db,
		timeout: timeout,
	}
}

// Open connects to PostgreSQL and tunes the pool. The workload is a
// handful of short statements per query, so the pool stays small.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}

// ApplySchema executes ddl inside one transaction. Backs the migrate
// command; the schema file is written to be re-runnable.
func ApplySchema(ctx context.Context, db *sqlx.DB, ddl string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	return tx.Commit()
}

// CreateRunning inserts the query row in running state and fills in
// the database-assigned timestamps.
func (r *queriesRepo) CreateRunning(ctx context.Context, q *persistence.TrendQuery) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO trend_queries (id, keyword, country, window_days, baseline_days, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		q.ID, q.Keyword, q.Country, q.WindowDays, q.BaselineDays,
		persistence.StatusRunning).
		Scan(&q.CreatedAt, &q.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate query id %s: %w", q.ID, err)
		}
		return fmt.Errorf("failed to insert query: %w", err)
	}

	q.Status = persistence.StatusRunning
	return nil
}

// PersistResult writes the result row plus every series and country
// point atomically. Point rows go through prepared statements; a query
// carries at most a few hundred of them.
func (r *queriesRepo) PersistResult(ctx context.Context, id string, res persistence.Result) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	signals, err := json.Marshal(res.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}
	explanations, err := json.Marshal(res.Explanations)
	if err != nil {
		return fmt.Errorf("failed to marshal explanations: %w", err)
	}
	sources, err := json.Marshal(res.SourcesUsed)
	if err != nil {
		return fmt.Errorf("failed to marshal sources_used: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trend_results (query_id, score, signals, explanations, sources_used)
		VALUES ($1, $2, $3, $4, $5)`,
		id, res.Score, signals, explanations, sources)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("result already persisted for query %s: %w", id, err)
		}
		return fmt.Errorf("failed to insert result: %w", err)
	}

	seriesStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO series_points (query_id, date, value)
		VALUES ($1, $2, $3)`)
	if err != nil {
		return fmt.Errorf("failed to prepare series insert: %w", err)
	}
	defer seriesStmt.Close()

	for _, p := range res.Series {
		if _, err := seriesStmt.ExecContext(ctx, id, p.Date, p.Value); err != nil {
			return fmt.Errorf("failed to insert series point: %w", err)
		}
	}

	countryStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO country_points (query_id, country, value)
		VALUES ($1, $2, $3)`)
	if err != nil {
		return fmt.Errorf("failed to prepare country insert: %w", err)
	}
	defer countryStmt.Close()

	for _, cv := range res.ByCountry {
		if _, err := countryStmt.ExecContext(ctx, id, cv.Country, cv.Value); err != nil {
			return fmt.Errorf("failed to insert country point: %w", err)
		}
	}

	return tx.Commit()
}

// MarkDone moves a running query to done and records its duration.
// The status guard in the WHERE clause keeps terminal rows immutable.
func (r *queriesRepo) MarkDone(ctx context.Context, id string, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE trend_queries
		SET status = $2, duration_ms = $3,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4`

	result, err := r.db.ExecContext(ctx, query,
		id, persistence.StatusDone, duration.Milliseconds(), persistence.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark query done: %w", err)
	}

	return requireTransition(result)
}

// MarkError moves a running query to error. Same immutability guard
// as MarkDone.
func (r *queriesRepo) MarkError(ctx context.Context, id string, message string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE trend_queries
		SET status = $2, error_message = $3,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4`

	result, err := r.db.ExecContext(ctx, query,
		id, persistence.StatusError, message, persistence.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark query errored: %w", err)
	}

	return requireTransition(result)
}

// Get fetches one query row by id.
func (r *queriesRepo) Get(ctx context.Context, id string) (*persistence.TrendQuery, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, keyword, country, window_days, baseline_days, status,
		       error_message, duration_ms, created_at, updated_at, completed_at
		FROM trend_queries
		WHERE id = $1`

	var q persistence.TrendQuery
	if err := r.db.GetContext(ctx, &q, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get query: %w", err)
	}

	return &q, nil
}

// Recent returns the newest queries first. Limits outside [1,100]
// fall back to 20.
func (r *queriesRepo) Recent(ctx context.Context, limit int) ([]persistence.TrendQuery, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, keyword, country, window_days, baseline_days, status,
		       error_message, duration_ms, created_at, updated_at, completed_at
		FROM trend_queries
		ORDER BY created_at DESC
		LIMIT $1`

	var queries []persistence.TrendQuery
	if err := r.db.SelectContext(ctx, &queries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent queries: %w", err)
	}

	return queries, nil
}

// CountByStatus reports row counts per lifecycle state. States with no
// rows report zero so the stats payload always carries all three keys.
func (r *queriesRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT status, COUNT(*)
		FROM trend_queries
		GROUP BY status`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count queries: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
		persistence.StatusRunning: 0,
		persistence.StatusDone:    0,
		persistence.StatusError:   0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

// Ping tests database connectivity for the health endpoint.
func (r *queriesRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.db.PingContext(ctx)
}

// requireTransition converts a zero-row UPDATE into ErrNotRunning.
func requireTransition(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotRunning
	}
	return nil
}
