package trends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripXSSI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"explore guard", ")]}'\n{\"a\":1}", `{"a":1}`},
		{"widgetdata guard", ")]}',\n{\"a\":1}", `{"a":1}`},
		{"no guard", `{"a":1}`, `{"a":1}`},
		{"leading whitespace", "\n )]}'\n{}", `{}`},
		{"html untouched", "<!DOCTYPE html>", "<!DOCTYPE html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(stripXSSI([]byte(tt.in))))
		})
	}
}

func TestNormalizeSeries(t *testing.T) {
	entries := []timelinePoint{
		{Time: "1755993600", Value: []int{72}},   // 2025-08-24
		{Time: "1755820800", Value: []int{-3}},   // 2025-08-22, clamped up
		{Time: "1755907200", Value: []int{140}},  // 2025-08-23, clamped down
		{Time: "1755820800", Value: []int{40}},   // duplicate date, last wins
		{Time: "1755993601", Value: nil},         // same UTC day as first, no value
	}

	points, err := normalizeSeries(entries)
	require.NoError(t, err)

	assert.Equal(t, []Point{
		{Date: "2025-08-22", Value: 40},
		{Date: "2025-08-23", Value: 100},
		{Date: "2025-08-24", Value: 0},
	}, points)
}

func TestNormalizeSeriesBadTimestamp(t *testing.T) {
	_, err := normalizeSeries([]timelinePoint{{Time: "not-a-number", Value: []int{1}}})
	require.Error(t, err)
}

func TestFilterCountriesTieBreaksByCode(t *testing.T) {
	out := filterCountries([]geoPoint{
		{GeoCode: "MX", Value: []int{50}},
		{GeoCode: "ES", Value: []int{50}},
		{GeoCode: "CR", Value: []int{10}},
		{GeoCode: "BR", Value: []int{99}},
	})

	assert.Equal(t, []CountryValue{
		{Country: "ES", Value: 50},
		{Country: "MX", Value: 50},
		{Country: "CR", Value: 10},
	}, out)
}

func TestFilterCountriesZeroFills(t *testing.T) {
	out := filterCountries(nil)
	require.Len(t, out, 3)
	for _, cv := range out {
		assert.Zero(t, cv.Value)
	}
	// All-zero ties sort by country code.
	assert.Equal(t, "CR", out[0].Country)
	assert.Equal(t, "ES", out[1].Country)
	assert.Equal(t, "MX", out[2].Country)
}

func TestSnippetCollapsesAndTruncates(t *testing.T) {
	long := make([]byte, 0, 400)
	for i := 0; i < 40; i++ {
		long = append(long, []byte("<html>lots\nof\twords ")...)
	}
	s := snippet(long)
	assert.LessOrEqual(t, len(s), 164)
	assert.NotContains(t, s, "\n")
}
