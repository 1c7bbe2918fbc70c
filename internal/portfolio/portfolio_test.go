package portfolio

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfund/fundrank/internal/risk"
	"github.com/quantfund/fundrank/internal/scoring"
	"github.com/quantfund/fundrank/internal/series"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

// syntheticReturns builds a deterministic daily return series. amp controls
// volatility, drift the mean.
func syntheticReturns(fundID string, n int, drift, amp, phase float64) series.Returns {
	r := series.Returns{FundID: fundID}
	for i := 0; i < n; i++ {
		r.Dates = append(r.Dates, day(i+1))
		r.Values = append(r.Values, drift+amp*math.Sin(float64(i)/5+phase))
	}
	return r
}

func rankedScores(scores map[string]float64, order []string) []scoring.CompositeScore {
	out := make([]scoring.CompositeScore, 0, len(order))
	for _, id := range order {
		out = append(out, scoring.CompositeScore{FundID: id, Date: day(60), Score: scores[id]})
	}
	return out
}

func testUniverse(n int) (map[string]series.Returns, []scoring.CompositeScore) {
	byFund := map[string]series.Returns{
		"A": syntheticReturns("A", n, 0.0010, 0.004, 0),
		"B": syntheticReturns("B", n, 0.0008, 0.006, 1.1),
		"C": syntheticReturns("C", n, 0.0005, 0.010, 2.3),
		"D": syntheticReturns("D", n, 0.0002, 0.012, 3.7),
	}
	ranked := rankedScores(map[string]float64{"A": 1.4, "B": 0.9, "C": 0.3, "D": -0.5},
		[]string{"A", "B", "C", "D"})
	return byFund, ranked
}

func TestBuild_TopNEqualWeights(t *testing.T) {
	byFund, ranked := testUniverse(60)
	cfg := DefaultConfig()
	cfg.TopN = 3
	b, err := NewBuilder(cfg, zerolog.Nop())
	require.NoError(t, err)

	p, err := b.Build(ranked, byFund, nil)
	require.NoError(t, err)
	require.Len(t, p.Holdings, 3)

	assert.Equal(t, "A", p.Holdings[0].FundID)
	assert.Equal(t, "B", p.Holdings[1].FundID)
	assert.Equal(t, "C", p.Holdings[2].FundID)
	total := 0.0
	for _, h := range p.Holdings {
		assert.InDelta(t, 1.0/3, h.Weight, 1e-12)
		total += h.Weight
	}
	assert.InDelta(t, 1.0, total, 1e-12)
	assert.InDelta(t, 3.0, p.EffectiveN, 1e-9, "equal weight maximizes effective N")
	assert.True(t, p.AvgCorrelation.Defined)
	require.NotNil(t, p.Aggregate)
	assert.True(t, p.Aggregate.Metric(risk.MetricSharpe).Defined)
}

func TestBuild_SingleFundMatchesStandaloneProfile(t *testing.T) {
	byFund, ranked := testUniverse(60)
	cfg := DefaultConfig()
	cfg.TopN = 1
	b, err := NewBuilder(cfg, zerolog.Nop())
	require.NoError(t, err)

	p, err := b.Build(ranked, byFund, nil)
	require.NoError(t, err)
	require.Len(t, p.Holdings, 1)
	assert.Equal(t, "A", p.Holdings[0].FundID)
	assert.Equal(t, 1.0, p.Holdings[0].Weight)

	standalone, err := risk.Compute(byFund["A"], nil, cfg.Risk)
	require.NoError(t, err)
	for _, name := range []string{risk.MetricSharpe, risk.MetricVolatility, risk.MetricMaxDrawdown} {
		want := standalone.Metric(name)
		got := p.Aggregate.Metric(name)
		require.Equal(t, want.Defined, got.Defined, name)
		assert.InDelta(t, want.V, got.V, 1e-12, name)
	}
	assert.False(t, p.AvgCorrelation.Defined, "correlation needs at least two constituents")
}

func TestBuild_EmptyUniverse(t *testing.T) {
	byFund, ranked := testUniverse(60)
	b, err := NewBuilder(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, err = b.Build(nil, byFund, nil)
	require.ErrorIs(t, err, ErrEmptyUniverse)

	// A floor above every score empties the universe too.
	cfg := DefaultConfig()
	floor := 10.0
	cfg.MinScore = &floor
	b2, err := NewBuilder(cfg, zerolog.Nop())
	require.NoError(t, err)
	_, err = b2.Build(ranked, byFund, nil)
	require.ErrorIs(t, err, ErrEmptyUniverse)
}

func TestBuild_MinScoreFiltersButKeepsRest(t *testing.T) {
	byFund, ranked := testUniverse(60)
	cfg := DefaultConfig()
	floor := 0.0
	cfg.MinScore = &floor
	b, err := NewBuilder(cfg, zerolog.Nop())
	require.NoError(t, err)

	p, err := b.Build(ranked, byFund, nil)
	require.NoError(t, err)
	require.Len(t, p.Holdings, 3, "the negative-score fund is filtered")
	for _, h := range p.Holdings {
		assert.NotEqual(t, "D", h.FundID)
	}
}

func TestBuild_FundWithoutReturnsSkipped(t *testing.T) {
	byFund, ranked := testUniverse(60)
	delete(byFund, "A")
	cfg := DefaultConfig()
	cfg.TopN = 2
	b, err := NewBuilder(cfg, zerolog.Nop())
	require.NoError(t, err)

	p, err := b.Build(ranked, byFund, nil)
	require.NoError(t, err)
	require.Len(t, p.Holdings, 2)
	assert.Equal(t, "B", p.Holdings[0].FundID)
	assert.Equal(t, "C", p.Holdings[1].FundID)
}

func TestBuild_ScoreProportional(t *testing.T) {
	byFund, ranked := testUniverse(60)
	cfg := DefaultConfig()
	cfg.Rule = RuleScoreProportional
	cfg.TopN = 3
	b, err := NewBuilder(cfg, zerolog.Nop())
	require.NoError(t, err)

	p, err := b.Build(ranked, byFund, nil)
	require.NoError(t, err)
	require.Len(t, p.Holdings, 3)

	total := 0.0
	for i, h := range p.Holdings {
		assert.Positive(t, h.Weight, "worst selected fund still gets an allocation")
		if i > 0 {
			assert.Less(t, h.Weight, p.Holdings[i-1].Weight, "higher score means higher weight")
		}
		total += h.Weight
	}
	assert.InDelta(t, 1.0, total, 1e-12)
}

func TestScoreProportional_EqualScores(t *testing.T) {
	selected := rankedScores(map[string]float64{"A": 0.5, "B": 0.5, "C": 0.5},
		[]string{"A", "B", "C"})
	w := scoreProportional(selected)
	for _, v := range w {
		assert.InDelta(t, 1.0/3, v, 1e-12)
	}
}

func TestBuild_MinVariance(t *testing.T) {
	byFund, ranked := testUniverse(120)
	cfg := DefaultConfig()
	cfg.Rule = RuleMinVariance
	cfg.TopN = 4
	b, err := NewBuilder(cfg, zerolog.Nop())
	require.NoError(t, err)

	p, err := b.Build(ranked, byFund, nil)
	require.NoError(t, err)
	require.Len(t, p.Holdings, 4)

	total := 0.0
	weights := make(map[string]float64)
	for _, h := range p.Holdings {
		assert.GreaterOrEqual(t, h.Weight, 0.0, "long-only clamp")
		total += h.Weight
		weights[h.FundID] = h.Weight
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	// The lowest-volatility constituent should not be the smallest holding.
	assert.Greater(t, weights["A"], weights["D"],
		"min-variance should favor the low-volatility fund over the high-volatility one")

	// Portfolio volatility should not exceed equal weight's.
	cfg.Rule = RuleTopNEqual
	eq, err := NewBuilder(cfg, zerolog.Nop())
	require.NoError(t, err)
	equal, err := eq.Build(ranked, byFund, nil)
	require.NoError(t, err)
	mv := p.Aggregate.Metric(risk.MetricVolatility)
	ew := equal.Aggregate.Metric(risk.MetricVolatility)
	require.True(t, mv.Defined)
	require.True(t, ew.Defined)
	assert.LessOrEqual(t, mv.V, ew.V+1e-9)
}

func TestBuild_MinVarianceTooFewObservations(t *testing.T) {
	byFund := map[string]series.Returns{
		"A": syntheticReturns("A", 4, 0.001, 0.004, 0),
		"B": syntheticReturns("B", 4, 0.001, 0.008, 1),
		"C": syntheticReturns("C", 4, 0.001, 0.012, 2),
	}
	ranked := rankedScores(map[string]float64{"A": 1, "B": 0.5, "C": 0.1}, []string{"A", "B", "C"})
	cfg := DefaultConfig()
	cfg.Rule = RuleMinVariance
	cfg.TopN = 3
	b, err := NewBuilder(cfg, zerolog.Nop())
	require.NoError(t, err)

	p, err := b.Build(ranked, byFund, nil)
	require.NoError(t, err)
	for _, h := range p.Holdings {
		assert.InDelta(t, 1.0/3, h.Weight, 1e-12, "falls back to equal weight")
	}
}

func TestStressTest(t *testing.T) {
	byFund, ranked := testUniverse(60)
	cfg := DefaultConfig()
	cfg.TopN = 3
	b, err := NewBuilder(cfg, zerolog.Nop())
	require.NoError(t, err)

	p, err := b.Build(ranked, byFund, nil)
	require.NoError(t, err)

	shocked, err := b.StressTest(p, -0.01)
	require.NoError(t, err)

	base := p.Aggregate.Metric(risk.MetricSharpe)
	stressed := shocked.Metric(risk.MetricSharpe)
	require.True(t, base.Defined)
	require.True(t, stressed.Defined)
	assert.Less(t, stressed.V, base.V, "a uniform negative shock lowers the Sharpe ratio")

	baseDD := p.Aggregate.Metric(risk.MetricMaxDrawdown)
	stressedDD := shocked.Metric(risk.MetricMaxDrawdown)
	require.True(t, baseDD.Defined)
	require.True(t, stressedDD.Defined)
	assert.LessOrEqual(t, stressedDD.V, baseDD.V, "the shock cannot shrink the max drawdown")

	_, err = b.StressTest(nil, -0.01)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(c *Config) {}, true},
		{"unknown rule", func(c *Config) { c.Rule = "equal-ish" }, false},
		{"zero top n", func(c *Config) { c.TopN = 0 }, false},
		{"negative shrinkage", func(c *Config) { c.Shrinkage = -1 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
