package series

import (
	"sort"
	"time"
)

// Frequency describes the sampling cadence of a series, used to annualize
// risk metrics. PeriodsPerYear is never hard-coded downstream.
type Frequency struct {
	PeriodsPerYear float64       `json:"periods_per_year"`
	MedianSpacing  time.Duration `json:"median_spacing"`
}

// Annualization factors by cadence. Daily uses trading days.
const (
	PeriodsDaily   = 252.0
	PeriodsWeekly  = 52.0
	PeriodsMonthly = 12.0
	PeriodsYearly  = 1.0
)

// InferFrequency classifies the sampling cadence from the median spacing
// between consecutive dates. Gaps (holidays, missing data) are tolerated
// because the median is robust to them.
func InferFrequency(dates []time.Time) Frequency {
	if len(dates) < 2 {
		return Frequency{PeriodsPerYear: PeriodsDaily}
	}
	gaps := make([]time.Duration, 0, len(dates)-1)
	for i := 1; i < len(dates); i++ {
		gaps = append(gaps, dates[i].Sub(dates[i-1]))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	median := gaps[len(gaps)/2]

	f := Frequency{MedianSpacing: median}
	switch {
	case median <= 4*24*time.Hour:
		f.PeriodsPerYear = PeriodsDaily
	case median <= 10*24*time.Hour:
		f.PeriodsPerYear = PeriodsWeekly
	case median <= 45*24*time.Hour:
		f.PeriodsPerYear = PeriodsMonthly
	default:
		f.PeriodsPerYear = PeriodsYearly
	}
	return f
}
