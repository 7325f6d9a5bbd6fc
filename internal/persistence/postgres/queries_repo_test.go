package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keywordlab/trendpulse/internal/persistence"
	"github.com/keywordlab/trendpulse/internal/scoring"
	"github.com/keywordlab/trendpulse/internal/trends"
)

func newMockRepo(t *testing.T) (persistence.QueryStore, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	return NewQueriesRepo(db, 5*time.Second), mock
}

func sampleResult() persistence.Result {
	return persistence.Result{
		Score: 72.45,
		Signals: scoring.Signals{
			Growth7v30:   1.25,
			Slope14d:     0.033,
			RecentPeak30: 0.9,
		},
		Explanations: []string{"searches for 'cafe' grew 25% in the last week"},
		Series: []trends.Point{
			{Date: "2026-08-01", Value: 55},
			{Date: "2026-08-02", Value: 61},
		},
		ByCountry: []trends.CountryValue{
			{Country: "MX", Value: 88},
			{Country: "ES", Value: 40},
			{Country: "CR", Value: 0},
		},
		SourcesUsed: []string{"google_trends"},
	}
}

func TestCreateRunning(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO trend_queries").
		WithArgs("q-1", "cafe", "MX", 30, 365, persistence.StatusRunning).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	q := &persistence.TrendQuery{
		ID:           "q-1",
		Keyword:      "cafe",
		Country:      "MX",
		WindowDays:   30,
		BaselineDays: 365,
	}
	require.NoError(t, repo.CreateRunning(context.Background(), q))

	assert.Equal(t, persistence.StatusRunning, q.Status)
	assert.Equal(t, now, q.CreatedAt)
	assert.Equal(t, now, q.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunningDuplicateID(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO trend_queries").
		WillReturnError(&pq.Error{Code: pq.ErrorCode("23505")})

	err := repo.CreateRunning(context.Background(), &persistence.TrendQuery{ID: "q-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate query id")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistResultCommitsAllRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	res := sampleResult()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO trend_results").
		WithArgs("q-1", 72.45,
			[]byte(`{"growth_7_vs_30":1.25,"slope_14d":0.033,"recent_peak_30d":0.9}`),
			sqlmock.AnyArg(), // explanations
			[]byte(`["google_trends"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	series := mock.ExpectPrepare("INSERT INTO series_points")
	series.ExpectExec().WithArgs("q-1", "2026-08-01", 55).WillReturnResult(sqlmock.NewResult(1, 1))
	series.ExpectExec().WithArgs("q-1", "2026-08-02", 61).WillReturnResult(sqlmock.NewResult(2, 1))

	country := mock.ExpectPrepare("INSERT INTO country_points")
	country.ExpectExec().WithArgs("q-1", "MX", 88).WillReturnResult(sqlmock.NewResult(1, 1))
	country.ExpectExec().WithArgs("q-1", "ES", 40).WillReturnResult(sqlmock.NewResult(2, 1))
	country.ExpectExec().WithArgs("q-1", "CR", 0).WillReturnResult(sqlmock.NewResult(3, 1))

	mock.ExpectCommit()

	require.NoError(t, repo.PersistResult(context.Background(), "q-1", res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistResultRollsBackOnPointFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	res := sampleResult()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO trend_results").
		WillReturnResult(sqlmock.NewResult(0, 1))

	series := mock.ExpectPrepare("INSERT INTO series_points")
	series.ExpectExec().WithArgs("q-1", "2026-08-01", 55).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.PersistResult(context.Background(), "q-1", res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert series point")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistResultDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO trend_results").
		WillReturnError(&pq.Error{Code: pq.ErrorCode("23505")})
	mock.ExpectRollback()

	err := repo.PersistResult(context.Background(), "q-1", sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "result already persisted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDone(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE trend_queries").
		WithArgs("q-1", persistence.StatusDone, int64(1500), persistence.StatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkDone(context.Background(), "q-1", 1500*time.Millisecond))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDoneNotRunning(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE trend_queries").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkDone(context.Background(), "q-1", time.Second)
	assert.ErrorIs(t, err, persistence.ErrNotRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE trend_queries").
		WithArgs("q-1", persistence.StatusError, "upstream exhausted after 3 attempts", persistence.StatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkError(context.Background(), "q-1", "upstream exhausted after 3 attempts"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkErrorIsTerminal(t *testing.T) {
	repo, mock := newMockRepo(t)

	// The transition targets a row already moved to done.
	mock.ExpectExec("UPDATE trend_queries").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkError(context.Background(), "q-1", "late failure")
	assert.ErrorIs(t, err, persistence.ErrNotRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func queryColumns() []string {
	return []string{
		"id", "keyword", "country", "window_days", "baseline_days", "status",
		"error_message", "duration_ms", "created_at", "updated_at", "completed_at",
	}
}

func TestGet(t *testing.T) {
	repo, mock := newMockRepo(t)

	created := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	completed := created.Add(12 * time.Second)

	rows := sqlmock.NewRows(queryColumns()).AddRow(
		"q-1", "cafe", "MX", 30, 365, persistence.StatusDone,
		nil, int64(12000), created, completed, completed,
	)
	mock.ExpectQuery("SELECT (.+) FROM trend_queries").
		WithArgs("q-1").
		WillReturnRows(rows)

	q, err := repo.Get(context.Background(), "q-1")
	require.NoError(t, err)

	assert.Equal(t, "q-1", q.ID)
	assert.Equal(t, persistence.StatusDone, q.Status)
	assert.Nil(t, q.ErrorMessage)
	require.NotNil(t, q.DurationMS)
	assert.Equal(t, int64(12000), *q.DurationMS)
	require.NotNil(t, q.CompletedAt)
	assert.Equal(t, completed, *q.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunningRowHasNulls(t *testing.T) {
	repo, mock := newMockRepo(t)

	created := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(queryColumns()).AddRow(
		"q-2", "tamales", "CR", 7, 90, persistence.StatusRunning,
		nil, nil, created, created, nil,
	)
	mock.ExpectQuery("SELECT (.+) FROM trend_queries").
		WithArgs("q-2").
		WillReturnRows(rows)

	q, err := repo.Get(context.Background(), "q-2")
	require.NoError(t, err)

	assert.Equal(t, persistence.StatusRunning, q.Status)
	assert.Nil(t, q.DurationMS)
	assert.Nil(t, q.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM trend_queries").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentClampsLimit(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM trend_queries ORDER BY created_at DESC").
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows(queryColumns()))

	queries, err := repo.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, queries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("done", 7).
			AddRow("running", 1))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, counts[persistence.StatusDone])
	assert.Equal(t, 1, counts[persistence.StatusRunning])
	assert.Equal(t, 0, counts[persistence.StatusError], "missing states report zero")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySchema(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, ApplySchema(context.Background(), db, "CREATE TABLE t (id INT)"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySchemaRollsBackOnFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = ApplySchema(context.Background(), db, "CREATE TABLE broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}
