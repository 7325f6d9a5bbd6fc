package trends

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Widget API wire shapes.

type exploreRequest struct {
	ComparisonItem []comparisonItem `json:"comparisonItem"`
	Category       int              `json:"category"`
	Property       string           `json:"property"`
}

type comparisonItem struct {
	Keyword string `json:"keyword"`
	Geo     string `json:"geo"`
	Time    string `json:"time"`
}

type exploreResponse struct {
	Widgets []widget `json:"widgets"`
}

type widget struct {
	ID      string          `json:"id"`
	Token   string          `json:"token"`
	Request json.RawMessage `json:"request"`
}

type multilineResponse struct {
	Default struct {
		TimelineData []timelinePoint `json:"timelineData"`
	} `json:"default"`
}

type timelinePoint struct {
	Time  string `json:"time"`
	Value []int  `json:"value"`
}

type comparedGeoResponse struct {
	Default struct {
		GeoMapData []geoPoint `json:"geoMapData"`
	} `json:"default"`
}

type geoPoint struct {
	GeoCode string `json:"geoCode"`
	Value   []int  `json:"value"`
}

var xssiPrefix = []byte(")]}'")

// stripXSSI removes the anti-hijacking guard the provider prepends to
// every JSON body.
func stripXSSI(body []byte) []byte {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if !bytes.HasPrefix(trimmed, xssiPrefix) {
		return body
	}
	rest := bytes.TrimPrefix(trimmed, xssiPrefix)
	rest = bytes.TrimPrefix(rest, []byte(","))
	return bytes.TrimLeft(rest, "\r\n")
}

// snippet renders the head of a response body on a single line, for
// error messages.
func snippet(body []byte) string {
	const limit = 160
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// normalizeSeries converts timeline entries into calendar-day points:
// epoch seconds become UTC dates, values are clamped to [0,100], and
// the result is de-duplicated and ascending. On duplicate dates the
// last entry wins.
func normalizeSeries(entries []timelinePoint) ([]Point, error) {
	byDate := make(map[string]int, len(entries))
	for _, e := range entries {
		sec, err := strconv.ParseInt(e.Time, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp %q: %w", e.Time, err)
		}
		date := time.Unix(sec, 0).UTC().Format(dateLayout)
		byDate[date] = clampValue(firstValue(e.Value))
	}

	points := make([]Point, 0, len(byDate))
	for date, value := range byDate {
		points = append(points, Point{Date: date, Value: value})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}

// filterCountries reduces a global geo map to the supported set,
// zero-filling absentees, sorted descending by value with country
// code as tiebreak.
func filterCountries(entries []geoPoint) []CountryValue {
	values := make(map[string]int, len(SupportedCountries))
	for _, code := range SupportedCountries {
		values[code] = 0
	}
	for _, e := range entries {
		code := strings.ToUpper(e.GeoCode)
		if _, ok := values[code]; !ok {
			continue
		}
		values[code] = clampValue(firstValue(e.Value))
	}

	out := make([]CountryValue, 0, len(values))
	for code, value := range values {
		out = append(out, CountryValue{Country: code, Value: value})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Country < out[j].Country
	})
	return out
}

func firstValue(values []int) int {
	if len(values) == 0 {
		return 0
	}
	return values[0]
}

func clampValue(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
