package series

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Point is a single observation in a fund's history. Fundamentals is nil
// when no fundamental snapshot was published on that date.
type Point struct {
	Date         time.Time          `json:"date"`
	Price        float64            `json:"price"`
	Volume       float64            `json:"volume"`
	Fundamentals map[string]float64 `json:"fundamentals,omitempty"`
}

// FundSeries is an ordered price/volume/fundamental history for one fund.
// Dates must be strictly increasing; missing dates are gaps, not zeros.
type FundSeries struct {
	FundID string  `json:"fund_id"`
	Points []Point `json:"points"`
}

// Validate checks the strictly-increasing-dates invariant.
func (s FundSeries) Validate() error {
	if s.FundID == "" {
		return fmt.Errorf("fund series missing fund id")
	}
	for i := 1; i < len(s.Points); i++ {
		prev, cur := s.Points[i-1].Date, s.Points[i].Date
		if !cur.After(prev) {
			return fmt.Errorf("fund %s: dates not strictly increasing at index %d (%s then %s)",
				s.FundID, i, prev.Format("2006-01-02"), cur.Format("2006-01-02"))
		}
	}
	return nil
}

// Start returns the first observation date, zero time if empty.
func (s FundSeries) Start() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[0].Date
}

// End returns the last observation date, zero time if empty.
func (s FundSeries) End() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Date
}

// Prices returns the price column in date order.
func (s FundSeries) Prices() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Price
	}
	return out
}

// Dates returns the date column in order.
func (s FundSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Date
	}
	return out
}

// ReturnKind selects simple or log returns.
type ReturnKind string

const (
	ReturnSimple ReturnKind = "simple"
	ReturnLog    ReturnKind = "log"
)

// Returns is a dated return sequence. Dates[i] is the date the return was
// realized (the later of the two prices that produced it).
type Returns struct {
	FundID string      `json:"fund_id"`
	Dates  []time.Time `json:"dates"`
	Values []float64   `json:"values"`
}

// Len reports the number of return observations.
func (r Returns) Len() int { return len(r.Values) }

// Returns derives the per-period return sequence from the price column.
func (s FundSeries) Returns(kind ReturnKind) Returns {
	r := Returns{FundID: s.FundID}
	if len(s.Points) < 2 {
		return r
	}
	r.Dates = make([]time.Time, 0, len(s.Points)-1)
	r.Values = make([]float64, 0, len(s.Points)-1)
	for i := 1; i < len(s.Points); i++ {
		prev, cur := s.Points[i-1].Price, s.Points[i].Price
		var v float64
		if kind == ReturnLog {
			v = math.Log(cur / prev)
		} else {
			v = cur/prev - 1
		}
		r.Dates = append(r.Dates, s.Points[i].Date)
		r.Values = append(r.Values, v)
	}
	return r
}

// Cumulative compounds a simple-return sequence into a wealth curve
// starting at 1.0. The result has len(values)+1 entries.
func Cumulative(values []float64) []float64 {
	wealth := make([]float64, len(values)+1)
	wealth[0] = 1.0
	for i, v := range values {
		wealth[i+1] = wealth[i] * (1 + v)
	}
	return wealth
}

// Align intersects two return sequences by date, preserving order. Both
// results carry exactly the shared dates.
func Align(a, b Returns) (Returns, Returns) {
	idx := make(map[time.Time]int, len(b.Dates))
	for i, d := range b.Dates {
		idx[d] = i
	}
	outA := Returns{FundID: a.FundID}
	outB := Returns{FundID: b.FundID}
	for i, d := range a.Dates {
		j, ok := idx[d]
		if !ok {
			continue
		}
		outA.Dates = append(outA.Dates, d)
		outA.Values = append(outA.Values, a.Values[i])
		outB.Dates = append(outB.Dates, d)
		outB.Values = append(outB.Values, b.Values[j])
	}
	return outA, outB
}

// AlignAll intersects any number of return sequences by date. The returned
// slice preserves input order; all entries share identical date columns.
func AlignAll(rs []Returns) []Returns {
	if len(rs) == 0 {
		return nil
	}
	counts := make(map[time.Time]int)
	for _, r := range rs {
		for _, d := range r.Dates {
			counts[d]++
		}
	}
	shared := make([]time.Time, 0)
	for d, n := range counts {
		if n == len(rs) {
			shared = append(shared, d)
		}
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i].Before(shared[j]) })

	out := make([]Returns, len(rs))
	for i, r := range rs {
		idx := make(map[time.Time]int, len(r.Dates))
		for j, d := range r.Dates {
			idx[d] = j
		}
		aligned := Returns{FundID: r.FundID}
		for _, d := range shared {
			aligned.Dates = append(aligned.Dates, d)
			aligned.Values = append(aligned.Values, r.Values[idx[d]])
		}
		out[i] = aligned
	}
	return out
}

// WeightedCombination blends aligned return sequences into a single
// portfolio return series. All inputs must share identical date columns
// (use AlignAll first).
func WeightedCombination(rs []Returns, weights []float64) (Returns, error) {
	if len(rs) == 0 {
		return Returns{}, fmt.Errorf("no return series to combine")
	}
	if len(rs) != len(weights) {
		return Returns{}, fmt.Errorf("series/weight count mismatch: %d vs %d", len(rs), len(weights))
	}
	n := rs[0].Len()
	for _, r := range rs[1:] {
		if r.Len() != n {
			return Returns{}, fmt.Errorf("unaligned series: %s has %d observations, expected %d", r.FundID, r.Len(), n)
		}
	}
	combined := Returns{
		FundID: "portfolio",
		Dates:  append([]time.Time(nil), rs[0].Dates...),
		Values: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		var v float64
		for j, r := range rs {
			v += weights[j] * r.Values[i]
		}
		combined.Values[i] = v
	}
	return combined, nil
}
