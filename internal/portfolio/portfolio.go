package portfolio

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfund/fundrank/internal/risk"
	"github.com/quantfund/fundrank/internal/scoring"
	"github.com/quantfund/fundrank/internal/series"
)

// ErrEmptyUniverse marks a construction where no fund passed the
// eligibility filter. This is a run-wide error: continuing would produce a
// meaningless empty allocation.
var ErrEmptyUniverse = errors.New("no eligible funds in universe")

// Rule selects the allocation scheme applied to the ranked list.
type Rule string

const (
	RuleTopNEqual         Rule = "top-n-equal"
	RuleScoreProportional Rule = "score-proportional"
	RuleMinVariance       Rule = "min-variance"
)

// Config parameterizes portfolio construction.
type Config struct {
	Rule      Rule        `yaml:"rule"`
	TopN      int         `yaml:"top_n"`
	MinScore  *float64    `yaml:"min_score"`  // optional eligibility floor
	Shrinkage float64     `yaml:"shrinkage"`  // covariance ridge for min-variance
	Risk      risk.Config `yaml:"risk"`
}

// DefaultConfig builds an equal-weight top-5 portfolio.
func DefaultConfig() Config {
	return Config{
		Rule:      RuleTopNEqual,
		TopN:      5,
		Shrinkage: 1e-4,
		Risk:      risk.DefaultConfig(),
	}
}

// Validate checks construction parameters.
func (c Config) Validate() error {
	switch c.Rule {
	case RuleTopNEqual, RuleScoreProportional, RuleMinVariance:
	default:
		return fmt.Errorf("unknown construction rule %q", c.Rule)
	}
	if c.TopN < 1 {
		return fmt.Errorf("top_n %d must be positive", c.TopN)
	}
	if c.Shrinkage < 0 {
		return fmt.Errorf("shrinkage %v must be non-negative", c.Shrinkage)
	}
	return c.Risk.Validate()
}

// Holding is one allocation line. Holdings are ordered by rank and weights
// sum to 1.
type Holding struct {
	FundID string  `json:"fund_id"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

// Portfolio is a constructed allocation with aggregate statistics computed
// over the weighted combination of constituent return series, aligned by
// date intersection.
type Portfolio struct {
	Rule           Rule           `json:"rule"`
	Holdings       []Holding      `json:"holdings"`
	Aggregate      *risk.Profile  `json:"aggregate"`
	Combined       series.Returns `json:"-"`
	EffectiveN     float64        `json:"effective_n"`
	AvgCorrelation risk.Value     `json:"avg_correlation"`
}

// Builder constructs portfolios from ranked composite scores.
type Builder struct {
	cfg Config
	log zerolog.Logger
}

// NewBuilder validates the configuration up front.
func NewBuilder(cfg Config, log zerolog.Logger) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg, log: log.With().Str("component", "portfolio").Logger()}, nil
}

// Build selects the eligible top of the ranked list, assigns weights per
// the configured rule, and computes the aggregate risk profile of the
// weighted combination. ranked must already be in rank order (the scoring
// engine's output contract). benchmark may be nil.
func (b *Builder) Build(ranked []scoring.CompositeScore, returnsByFund map[string]series.Returns, benchmark *series.Returns) (*Portfolio, error) {
	selected := b.eligible(ranked, returnsByFund)
	if len(selected) == 0 {
		return nil, ErrEmptyUniverse
	}

	aligned := series.AlignAll(selectReturns(selected, returnsByFund))
	weights, err := b.weights(selected, aligned)
	if err != nil {
		return nil, err
	}

	combined, err := series.WeightedCombination(aligned, weights)
	if err != nil {
		return nil, fmt.Errorf("combining constituent returns: %w", err)
	}
	aggregate, err := risk.Compute(combined, benchmark, b.cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("aggregate risk profile: %w", err)
	}

	p := &Portfolio{
		Rule:      b.cfg.Rule,
		Aggregate: aggregate,
		Combined:  combined,
	}
	for i, s := range selected {
		p.Holdings = append(p.Holdings, Holding{FundID: s.FundID, Weight: weights[i], Score: s.Score})
	}
	p.EffectiveN = effectiveN(weights)
	p.AvgCorrelation = avgPairwiseCorrelation(aligned)

	b.log.Info().Str("rule", string(b.cfg.Rule)).Int("holdings", len(p.Holdings)).
		Float64("effective_n", p.EffectiveN).Msg("portfolio constructed")
	return p, nil
}

// eligible walks the ranked list in order, keeping funds that clear the
// score floor and have a return series, up to TopN.
func (b *Builder) eligible(ranked []scoring.CompositeScore, returnsByFund map[string]series.Returns) []scoring.CompositeScore {
	var out []scoring.CompositeScore
	for _, s := range ranked {
		if len(out) == b.cfg.TopN {
			break
		}
		if b.cfg.MinScore != nil && s.Score < *b.cfg.MinScore {
			continue
		}
		r, ok := returnsByFund[s.FundID]
		if !ok || r.Len() == 0 {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (b *Builder) weights(selected []scoring.CompositeScore, aligned []series.Returns) ([]float64, error) {
	switch b.cfg.Rule {
	case RuleScoreProportional:
		return scoreProportional(selected), nil
	case RuleMinVariance:
		return b.minVariance(aligned)
	default:
		return equalWeights(len(selected)), nil
	}
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// scoreProportional shifts scores onto positive support before
// normalizing, so the worst selected fund still receives a non-zero
// allocation. Equal scores degrade to equal weights.
func scoreProportional(selected []scoring.CompositeScore) []float64 {
	n := len(selected)
	min, max := selected[0].Score, selected[0].Score
	for _, s := range selected[1:] {
		min = math.Min(min, s.Score)
		max = math.Max(max, s.Score)
	}
	span := max - min
	if span == 0 {
		return equalWeights(n)
	}
	w := make([]float64, n)
	total := 0.0
	for i, s := range selected {
		w[i] = s.Score - min + span/float64(n)
		total += w[i]
	}
	for i := range w {
		w[i] /= total
	}
	return w
}

// minVariance solves Σw ∝ Σ⁻¹·1 on the shrunken sample covariance, clamped
// long-only and renormalized. Falls back to equal weight when the solve is
// degenerate or everything clamps to zero.
func (b *Builder) minVariance(aligned []series.Returns) ([]float64, error) {
	k := len(aligned)
	if k == 1 {
		return []float64{1}, nil
	}
	n := aligned[0].Len()
	if n < k+2 {
		b.log.Warn().Int("observations", n).Int("constituents", k).
			Msg("too few overlapping dates for min-variance, using equal weight")
		return equalWeights(k), nil
	}

	obs := mat.NewDense(n, k, nil)
	for j, r := range aligned {
		for i, v := range r.Values {
			obs.Set(i, j, v)
		}
	}
	cov := mat.NewSymDense(k, nil)
	stat.CovarianceMatrix(cov, obs, nil)
	for j := 0; j < k; j++ {
		cov.SetSym(j, j, cov.At(j, j)+b.cfg.Shrinkage)
	}

	ones := mat.NewVecDense(k, nil)
	for j := 0; j < k; j++ {
		ones.SetVec(j, 1)
	}
	var sol mat.VecDense
	if err := sol.SolveVec(cov, ones); err != nil {
		b.log.Warn().Err(err).Msg("singular covariance, using equal weight")
		return equalWeights(k), nil
	}

	w := make([]float64, k)
	total := 0.0
	for j := 0; j < k; j++ {
		w[j] = math.Max(0, sol.AtVec(j)) // long-only
		total += w[j]
	}
	if total == 0 {
		return equalWeights(k), nil
	}
	for j := range w {
		w[j] /= total
	}
	return w, nil
}

// effectiveN is the inverse Herfindahl of the weights: N for equal weight,
// approaching 1 as the allocation concentrates.
func effectiveN(weights []float64) float64 {
	var ss float64
	for _, w := range weights {
		ss += w * w
	}
	if ss == 0 {
		return 0
	}
	return 1 / ss
}

// avgPairwiseCorrelation averages the off-diagonal return correlations of
// the aligned constituents. Undefined for single-fund portfolios.
func avgPairwiseCorrelation(aligned []series.Returns) risk.Value {
	if len(aligned) < 2 || aligned[0].Len() < 2 {
		return risk.Undefined()
	}
	var total float64
	var count int
	for i := 0; i < len(aligned); i++ {
		for j := i + 1; j < len(aligned); j++ {
			c := stat.Correlation(aligned[i].Values, aligned[j].Values, nil)
			if math.IsNaN(c) {
				continue
			}
			total += c
			count++
		}
	}
	if count == 0 {
		return risk.Undefined()
	}
	return risk.Defined(total / float64(count))
}

// StressTest applies a uniform per-period shock to the portfolio's combined
// returns and recomputes its risk profile under the same configuration.
func (b *Builder) StressTest(p *Portfolio, shock float64) (*risk.Profile, error) {
	if p == nil || p.Combined.Len() == 0 {
		return nil, fmt.Errorf("portfolio has no combined return series")
	}
	shocked := series.Returns{
		FundID: p.Combined.FundID,
		Dates:  p.Combined.Dates,
		Values: make([]float64, p.Combined.Len()),
	}
	for i, v := range p.Combined.Values {
		shocked.Values[i] = v + shock
	}
	return risk.Compute(shocked, nil, b.cfg.Risk)
}

func selectReturns(selected []scoring.CompositeScore, returnsByFund map[string]series.Returns) []series.Returns {
	out := make([]series.Returns, 0, len(selected))
	for _, s := range selected {
		out = append(out, returnsByFund[s.FundID])
	}
	return out
}
