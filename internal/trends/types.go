// Package trends is the connector to the trends data provider. It
// owns the provider's wire quirks (XSSI guards, widget tokens, epoch
// timestamps) and exposes two fetch operations. The connector never
// retries; failures surface raw so the retry envelope can classify
// them.
package trends

import (
	"context"
	"time"
)

const dateLayout = "2006-01-02"

// SupportedCountries is the fixed cross-country comparison set.
var SupportedCountries = []string{"CR", "ES", "MX"}

// IsSupportedCountry reports whether code belongs to the comparison set.
func IsSupportedCountry(code string) bool {
	for _, c := range SupportedCountries {
		if c == code {
			return true
		}
	}
	return false
}

// Point is one sample of interest over time.
type Point struct {
	Date  string `json:"date"`
	Value int    `json:"value"`
}

// CountryValue is the interest level for one country.
type CountryValue struct {
	Country string `json:"country"`
	Value   int    `json:"value"`
}

// Provider fetches keyword interest data.
type Provider interface {
	// FetchSeries returns interest points for keyword in country
	// between start and end, ascending by date, de-duplicated,
	// values in [0,100]. Granularity is provider-chosen: daily for
	// ranges up to ~90 days, weekly beyond.
	FetchSeries(ctx context.Context, keyword, country string, start, end time.Time) ([]Point, error)

	// FetchByCountry returns interest for the supported countries
	// from one global query, sorted descending by value.
	FetchByCountry(ctx context.Context, keyword string) ([]CountryValue, error)

	// Source names the provider in response and audit payloads.
	Source() string
}
