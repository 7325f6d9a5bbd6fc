package trends

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"
)

// MockProvider generates deterministic keyword-seeded data without
// touching the network. It backs development mode and the dev mock
// endpoint for environments where the real provider blocks traffic.
type MockProvider struct{}

// NewMockProvider returns a deterministic offline provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Source identifies this provider in response payloads.
func (m *MockProvider) Source() string {
	return "mock"
}

// keywordSeed derives a stable seed from the keyword so repeated
// queries return identical data.
func keywordSeed(keyword string) int64 {
	var seed int64
	for _, r := range strings.ToLower(strings.TrimSpace(keyword)) {
		seed += int64(r)
	}
	return seed
}

// FetchSeries synthesizes a plausible interest curve: a keyword-seeded
// base level, a mild drift, a two-week wave, and noise, all clamped to
// [0,100]. Granularity mirrors the real provider: daily up to 90 days,
// weekly beyond.
func (m *MockProvider) FetchSeries(ctx context.Context, keyword, country string, start, end time.Time) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	startDay := start.UTC().Truncate(24 * time.Hour)
	endDay := end.UTC().Truncate(24 * time.Hour)
	days := int(endDay.Sub(startDay).Hours()/24) + 1
	if days < 1 {
		return nil, ErrNoData
	}

	step := 1
	if days > 90 {
		step = 7
	}
	n := (days-1)/step + 1

	rng := rand.New(rand.NewSource(keywordSeed(keyword)))
	base := float64(35 + rng.Intn(30))
	amplitude := 10 + rng.Float64()*15
	drift := (rng.Float64() - 0.4) * 30

	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		progress := 0.0
		if n > 1 {
			progress = float64(i) / float64(n-1)
		}
		wave := amplitude * math.Sin(2*math.Pi*float64(i)/14)
		noise := (rng.Float64() - 0.5) * 12

		points = append(points, Point{
			Date:  startDay.AddDate(0, 0, i*step).Format(dateLayout),
			Value: clampValue(int(math.Round(base + drift*progress + wave + noise))),
		})
	}
	return points, nil
}

// FetchByCountry synthesizes the supported-country comparison with
// keyword-seeded values, sorted like the real provider output.
func (m *MockProvider) FetchByCountry(ctx context.Context, keyword string) ([]CountryValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(keywordSeed(keyword) + 7))
	out := make([]CountryValue, 0, len(SupportedCountries))
	for _, code := range SupportedCountries {
		out = append(out, CountryValue{Country: code, Value: 20 + rng.Intn(70)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Country < out[j].Country
	})
	return out, nil
}
