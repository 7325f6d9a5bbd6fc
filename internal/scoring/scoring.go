// Package scoring turns an interest-over-time series into a 0-100
// trend score: three momentum signals, normalized with fixed anchors,
// combined with fixed weights.
package scoring

import (
	"errors"
	"math"
)

// The weights and anchors are definitional. Changing them changes the
// meaning of every score ever persisted.
const (
	weightGrowth = 0.5
	weightSlope  = 0.3
	weightPeak   = 0.2

	growthFloor = 0.7
	growthCeil  = 1.7
	slopeShift  = 0.5
	slopeRange  = 1.0
)

// ErrEmptySeries is returned when there are no values to score.
var ErrEmptySeries = errors.New("scoring: empty series")

// Signals are the three momentum components behind a score.
type Signals struct {
	Growth7v30   float64 `json:"growth_7_vs_30"`
	Slope14d     float64 `json:"slope_14d"`
	RecentPeak30 float64 `json:"recent_peak_30d"`
}

// Result is one scored series.
type Result struct {
	TrendScore   float64
	Signals      Signals
	Explanations []string
}

// Score computes the trend score for an ordered series of interest
// values in [0,100]. keyword and country shape only the explanation
// lines and windowDays their period phrasing; none of them influence
// the numbers. Series shorter than 14 points degrade gracefully: the
// slope signal falls back to 0 and the averages use what is there.
func Score(values []int, keyword, country string, windowDays int) (Result, error) {
	if len(values) == 0 {
		return Result{}, ErrEmptySeries
	}

	growth := growth7v30(values)
	slope := slope14(values)
	peak := recentPeak30(values)

	g := clamp01((growth - growthFloor) / (growthCeil - growthFloor))
	s := clamp01((slope + slopeShift) / slopeRange)

	score := 100 * clamp01(weightGrowth*g+weightSlope*s+weightPeak*peak)

	return Result{
		TrendScore: round(score, 2),
		Signals: Signals{
			Growth7v30:   round(growth, 2),
			Slope14d:     round(slope, 4),
			RecentPeak30: round(peak, 2),
		},
		Explanations: explain(growth, slope, peak, keyword, country, windowDays),
	}, nil
}

// growth7v30 compares the mean of the last 7 values against the mean
// of the last 30. Neutral 1.0 when the 30-window average is zero.
func growth7v30(values []int) float64 {
	avg7 := mean(tail(values, 7))
	avg30 := mean(tail(values, 30))
	if avg30 == 0 {
		return 1.0
	}
	return avg7 / avg30
}

// slope14 fits an ordinary least-squares line through the last 14
// values against indices 0..n-1 and divides the slope by the window
// mean so the result is scale-free.
func slope14(values []int) float64 {
	last := tail(values, 14)
	n := len(last)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range last {
		x, y := float64(i), float64(v)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (nf*sumXY - sumX*sumY) / denom

	meanY := sumY / nf
	if meanY == 0 {
		return 0
	}
	return slope / meanY
}

// recentPeak30 is the maximum of the last 30 values on a 0-1 scale.
func recentPeak30(values []int) float64 {
	last := tail(values, 30)
	if len(last) == 0 {
		return 0
	}
	peak := last[0]
	for _, v := range last[1:] {
		if v > peak {
			peak = v
		}
	}
	return float64(peak) / 100
}

func tail(values []int, n int) []int {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func mean(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func round(x float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(x*shift) / shift
}
