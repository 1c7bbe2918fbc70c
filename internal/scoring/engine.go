package scoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfund/fundrank/internal/alpha"
	"github.com/quantfund/fundrank/internal/risk"
	"github.com/quantfund/fundrank/internal/stats"
)

// Input is everything the engine may know about one fund on one evaluation
// date. Any of Risk, Alpha, or Fundamentals may be absent; the configured
// missing policy decides what that costs.
type Input struct {
	FundID       string
	Date         time.Time
	Risk         *risk.Profile
	Alpha        *alpha.Prediction
	Fundamentals map[string]float64
}

// Contribution is one component's share of a composite score. The full
// slice reconstructs the score: Score = Σ Contribution over non-excluded
// components, with the applied weights summing to 1.
type Contribution struct {
	Name         string  `json:"name"`
	Raw          float64 `json:"raw"`
	Normalized   float64 `json:"normalized"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Excluded     bool    `json:"excluded,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// CompositeScore is the ranked output for one fund on one date.
type CompositeScore struct {
	FundID     string         `json:"fund_id"`
	Date       time.Time      `json:"date"`
	Score      float64        `json:"score"`
	Components []Contribution `json:"components"`
}

// Skipped records a fund that could not be scored on a date, with the
// reason, so "not computed" is always distinguishable from "score = 0".
type Skipped struct {
	FundID string    `json:"fund_id"`
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
}

// Result is the engine output: scores in deterministic rank order plus the
// explicitly tagged skips.
type Result struct {
	Scores  []CompositeScore `json:"scores"`
	Skipped []Skipped        `json:"skipped,omitempty"`
}

// Engine combines cross-sectionally normalized risk, alpha, and fundamental
// signals into composite scores.
type Engine struct {
	cfg  WeightConfig
	diag *stats.Diagnostics
	log  zerolog.Logger
}

// NewEngine validates the weight configuration up front; an invalid
// configuration is a run-wide error.
func NewEngine(cfg WeightConfig, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, log: log.With().Str("component", "scoring").Logger()}, nil
}

// SetDiagnostics wires in alpha-model diagnostics. When the configuration
// gates alpha on diagnostics and the signal is unreliable, the alpha
// component is excluded for every fund with an explanatory reason.
func (e *Engine) SetDiagnostics(d *stats.Diagnostics) { e.diag = d }

// Score batches inputs by evaluation date, normalizes each component across
// all funds on that date, and combines them by the configured weights.
// Ordering is deterministic: score descending, fund id ascending on ties.
func (e *Engine) Score(inputs []Input) (*Result, error) {
	res := &Result{}
	for _, batch := range batchByDate(inputs) {
		e.scoreBatch(batch, res)
	}
	sort.Slice(res.Scores, func(i, j int) bool {
		a, b := res.Scores[i], res.Scores[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.FundID < b.FundID
	})
	return res, nil
}

// rawComponent resolves one component's raw value for a fund, or explains
// why it is unavailable.
func (e *Engine) rawComponent(name string, in Input) (float64, bool, string) {
	switch name {
	case ComponentRisk:
		v := in.Risk.Metric(e.cfg.RiskMetric)
		if !v.Defined {
			return 0, false, fmt.Sprintf("risk metric %s undefined", e.cfg.RiskMetric)
		}
		return v.V, true, ""
	case ComponentAlpha:
		if e.cfg.GateAlphaOnDiagnostics && e.diag != nil && !e.diag.AlphaReliable {
			return 0, false, "alpha signal not statistically reliable"
		}
		if in.Alpha == nil {
			return 0, false, "no alpha prediction"
		}
		if in.Alpha.AsOf.After(in.Date) {
			return 0, false, "alpha prediction postdates evaluation"
		}
		if e.cfg.MaxAlphaStaleness > 0 && in.Date.Sub(in.Alpha.AsOf) > e.cfg.MaxAlphaStaleness {
			return 0, false, "alpha prediction stale"
		}
		return in.Alpha.Forward, true, ""
	case ComponentFundamental:
		if e.cfg.FundamentalMetric == "" {
			return 0, false, "fundamental metric not configured"
		}
		v, ok := in.Fundamentals[e.cfg.FundamentalMetric]
		if !ok {
			return 0, false, fmt.Sprintf("fundamental %s unavailable", e.cfg.FundamentalMetric)
		}
		return v, true, ""
	default:
		return 0, false, fmt.Sprintf("unknown component %s", name)
	}
}

// scoreBatch finalizes every fund in one date's cross-section. The full
// pass over all funds happens before any score is finalized because the
// normalization is relative to the date's cross-section.
func (e *Engine) scoreBatch(batch []Input, res *Result) {
	names, weights := e.cfg.normalized()

	cells := make(map[string][]cell, len(names)) // component → per-fund
	for _, name := range names {
		col := make([]cell, len(batch))
		for i, in := range batch {
			raw, ok, reason := e.rawComponent(name, in)
			col[i] = cell{raw: raw, ok: ok, reason: reason}
		}
		cells[name] = col
	}

	normalized := make(map[string][]float64, len(names))
	for _, name := range names {
		normalized[name] = e.normalizeColumn(cells[name], e.descending(name))
	}

	for i, in := range batch {
		contribs := make([]Contribution, 0, len(names))
		presentWeight := 0.0
		for _, name := range names {
			c := Contribution{Name: name, Weight: weights[name]}
			if cells[name][i].ok {
				c.Raw = cells[name][i].raw
				c.Normalized = normalized[name][i]
				presentWeight += weights[name]
			} else {
				c.Excluded = true
				c.Reason = cells[name][i].reason
			}
			contribs = append(contribs, c)
		}

		if presentWeight == 0 {
			res.Skipped = append(res.Skipped, Skipped{
				FundID: in.FundID,
				Date:   in.Date,
				Reason: "no component could be computed",
			})
			continue
		}

		score := 0.0
		for j := range contribs {
			c := &contribs[j]
			switch {
			case !c.Excluded:
				if e.cfg.MissingPolicy == MissingExclude {
					c.Weight = c.Weight / presentWeight
				}
			case e.cfg.MissingPolicy == MissingPenalize:
				// Penalized components stay in at full weight with the
				// penalty as their normalized value.
				c.Excluded = false
				c.Reason = "penalized: " + c.Reason
				c.Normalized = -e.cfg.Penalty
			default:
				c.Weight = 0
				continue
			}
			c.Contribution = c.Weight * c.Normalized
			score += c.Contribution
		}

		res.Scores = append(res.Scores, CompositeScore{
			FundID:     in.FundID,
			Date:       in.Date,
			Score:      score,
			Components: contribs,
		})
	}
}

// descending reports whether higher raw values rank better for a component.
func (e *Engine) descending(name string) bool {
	switch name {
	case ComponentRisk:
		return !e.cfg.RiskAscending
	case ComponentFundamental:
		return !e.cfg.FundamentalAscending
	default:
		return true
	}
}

// cell is one component's resolved raw value for one fund.
type cell struct {
	raw    float64
	ok     bool
	reason string
}

// normalizeColumn rescales one component across the date's cross-section.
// Only defined cells participate; undefined cells get a zero placeholder
// the caller never reads.
func (e *Engine) normalizeColumn(col []cell, higherBetter bool) []float64 {
	var defined []float64
	for _, c := range col {
		if c.ok {
			defined = append(defined, c.raw)
		}
	}
	out := make([]float64, len(col))
	if len(defined) == 0 {
		return out
	}

	direction := 1.0
	if !higherBetter {
		direction = -1.0
	}

	switch e.cfg.Normalization {
	case NormalizeRank:
		sorted := append([]float64(nil), defined...)
		sort.Float64s(sorted)
		for i, c := range col {
			if !c.ok {
				continue
			}
			// percentile rank mapped onto [-1, 1]
			pct := percentileRank(sorted, c.raw)
			out[i] = direction * (2*pct - 1)
		}
	default: // z-score
		mean := stat.Mean(defined, nil)
		sd := 0.0
		if len(defined) > 1 {
			sd = stat.StdDev(defined, nil)
		}
		for i, c := range col {
			if !c.ok {
				continue
			}
			if sd > 0 {
				out[i] = direction * (c.raw - mean) / sd
			}
		}
	}
	return out
}

// percentileRank places v within the sorted sample using the midpoint
// convention so ties share a rank.
func percentileRank(sorted []float64, v float64) float64 {
	below, equal := 0, 0
	for _, s := range sorted {
		switch {
		case s < v:
			below++
		case s == v:
			equal++
		}
	}
	return (float64(below) + float64(equal)/2) / float64(len(sorted))
}

// batchByDate groups inputs into per-date cross-sections in ascending date
// order, funds ordered by id inside each batch.
func batchByDate(inputs []Input) [][]Input {
	byDate := make(map[time.Time][]Input)
	for _, in := range inputs {
		byDate[in.Date] = append(byDate[in.Date], in)
	}
	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	out := make([][]Input, 0, len(dates))
	for _, d := range dates {
		batch := byDate[d]
		sort.Slice(batch, func(i, j int) bool { return batch[i].FundID < batch[j].FundID })
		out = append(out, batch)
	}
	return out
}
