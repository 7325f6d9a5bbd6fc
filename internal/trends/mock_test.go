package trends

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProviderDeterministic(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()
	start := time.Date(2025, 7, 25, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 8, 24, 0, 0, 0, 0, time.UTC)

	first, err := m.FetchSeries(ctx, "bitcoin", "MX", start, end)
	require.NoError(t, err)
	second, err := m.FetchSeries(ctx, "bitcoin", "MX", start, end)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same keyword and range must reproduce the series")

	other, err := m.FetchSeries(ctx, "sourdough", "MX", start, end)
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "different keywords should diverge")
}

func TestMockProviderSeriesShape(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()
	end := time.Date(2025, 8, 24, 0, 0, 0, 0, time.UTC)

	t.Run("daily for short ranges", func(t *testing.T) {
		points, err := m.FetchSeries(ctx, "bitcoin", "MX", end.AddDate(0, 0, -29), end)
		require.NoError(t, err)
		assert.Len(t, points, 30)
		for i, p := range points {
			assert.GreaterOrEqual(t, p.Value, 0)
			assert.LessOrEqual(t, p.Value, 100)
			if i > 0 {
				assert.Greater(t, p.Date, points[i-1].Date, "dates must ascend")
			}
		}
	})

	t.Run("weekly beyond 90 days", func(t *testing.T) {
		points, err := m.FetchSeries(ctx, "bitcoin", "MX", end.AddDate(0, 0, -364), end)
		require.NoError(t, err)
		require.NotEmpty(t, points)
		assert.Len(t, points, 53)

		d0, err := time.Parse("2006-01-02", points[0].Date)
		require.NoError(t, err)
		d1, err := time.Parse("2006-01-02", points[1].Date)
		require.NoError(t, err)
		assert.Equal(t, 7*24*time.Hour, d1.Sub(d0))
	})
}

func TestMockProviderByCountry(t *testing.T) {
	m := NewMockProvider()

	values, err := m.FetchByCountry(context.Background(), "bitcoin")
	require.NoError(t, err)
	require.Len(t, values, 3)

	seen := map[string]bool{}
	for i, cv := range values {
		assert.True(t, IsSupportedCountry(cv.Country))
		assert.False(t, seen[cv.Country], "country %s repeated", cv.Country)
		seen[cv.Country] = true
		if i > 0 {
			assert.LessOrEqual(t, cv.Value, values[i-1].Value, "values must descend")
		}
	}

	again, err := m.FetchByCountry(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, values, again)
}
