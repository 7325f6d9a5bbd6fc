package scoring

import (
	"fmt"
	"math"
)

// explain renders the four explanation lines: growth, slope, peak,
// country. Each line opens with its verdict so consumers can key on
// the first word.
func explain(growth, slope, peak float64, keyword, country string, windowDays int) []string {
	lines := make([]string, 0, 4)

	growthPct := math.Abs(round((growth-1)*100, 1))
	switch {
	case growth > 1.1:
		lines = append(lines, fmt.Sprintf("grew %.1f%% in the last 7 days versus the prior 30", growthPct))
	case growth < 0.9:
		lines = append(lines, fmt.Sprintf("fell %.1f%% in the last 7 days versus the prior 30", growthPct))
	default:
		lines = append(lines, "stable interest in the last 7 days versus the prior 30")
	}

	trendPeriod := formatPeriod(min(14, windowDays*2))
	switch {
	case slope > 0.01:
		lines = append(lines, fmt.Sprintf("positive trend over the last %s", trendPeriod))
	case slope < -0.01:
		lines = append(lines, fmt.Sprintf("negative trend over the last %s", trendPeriod))
	default:
		lines = append(lines, fmt.Sprintf("flat trend over the last %s", trendPeriod))
	}

	peakPct := int(math.Round(peak * 100))
	peakPeriod := formatPeriod(max(30, windowDays))
	switch {
	case peak > 0.8:
		lines = append(lines, fmt.Sprintf("high recent interest (%d%% of peak popularity in the last %s)", peakPct, peakPeriod))
	case peak >= 0.5:
		lines = append(lines, fmt.Sprintf("moderate recent interest (%d%% of peak popularity in the last %s)", peakPct, peakPeriod))
	default:
		lines = append(lines, fmt.Sprintf("low recent interest (%d%% of peak popularity in the last %s)", peakPct, peakPeriod))
	}

	lines = append(lines, fmt.Sprintf("data reflects search interest for %q in %s", keyword, country))
	return lines
}

// formatPeriod renders a day count in the largest natural unit.
func formatPeriod(days int) string {
	switch {
	case days >= 365:
		years := days / 365
		if years == 1 {
			return "year"
		}
		return fmt.Sprintf("%d years", years)
	case days >= 30:
		months := days / 30
		if months == 1 {
			return "month"
		}
		return fmt.Sprintf("%d months", months)
	case days == 1:
		return "day"
	default:
		return fmt.Sprintf("%d days", days)
	}
}
