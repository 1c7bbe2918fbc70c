package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfund/fundrank/internal/pipeline"
	"github.com/quantfund/fundrank/internal/portfolio"
	"github.com/quantfund/fundrank/internal/risk"
	"github.com/quantfund/fundrank/internal/scoring"
)

func sampleResult() *pipeline.Result {
	date := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	return &pipeline.Result{
		EvaluationDate: date,
		Scores: []scoring.CompositeScore{
			{
				FundID: "A", Date: date, Score: 0.82,
				Components: []scoring.Contribution{
					{Name: "risk", Raw: 1.4, Normalized: 0.9, Weight: 0.6, Contribution: 0.54},
					{Name: "alpha", Excluded: true, Reason: "no alpha prediction", Weight: 0.4},
				},
			},
			{
				FundID: "B", Date: date, Score: -0.82,
				Components: []scoring.Contribution{
					{Name: "risk", Raw: 0.2, Normalized: -0.9, Weight: 0.6, Contribution: -0.54},
					{Name: "alpha", Excluded: true, Reason: "no alpha prediction", Weight: 0.4},
				},
			},
		},
		Unscored: []pipeline.Unscored{{FundID: "C", Stage: "features", Reason: "insufficient history"}},
		Profiles: map[string]*risk.Profile{
			"A": {FundID: "A", Metrics: map[string]risk.Value{
				risk.MetricSharpe:      risk.Defined(1.4),
				risk.MetricMaxDrawdown: risk.Defined(-0.12),
				risk.MetricVaR:         risk.Undefined(),
			}},
			"B": {FundID: "B", Metrics: map[string]risk.Value{
				risk.MetricSharpe: risk.Defined(0.2),
			}},
		},
		Timings: map[string]time.Duration{"per_fund": time.Millisecond},
	}
}

func TestWriteScores(t *testing.T) {
	base := t.TempDir()
	w := NewWriter(base, zerolog.Nop())
	require.Len(t, w.RunID(), 8)

	res := sampleResult()
	require.NoError(t, w.WriteScores(res))

	dir, err := w.Dir()
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(dir, "scores.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	header := rows[0]
	assert.Equal(t, []string{"rank", "fund_id", "date", "score"}, header[:4])
	assert.Contains(t, header, "risk_raw")
	assert.Contains(t, header, "alpha_status")

	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "A", rows[1][1])
	assert.Equal(t, "2024-06-28", rows[1][2])
	assert.Contains(t, rows[1], "excluded: no alpha prediction")

	data, err := os.ReadFile(filepath.Join(dir, "result.json"))
	require.NoError(t, err)
	var decoded pipeline.Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded.Scores, 2)
	assert.Equal(t, "C", decoded.Unscored[0].FundID)
}

func TestWritePortfolio(t *testing.T) {
	w := NewWriter(t.TempDir(), zerolog.Nop())
	p := &portfolio.Portfolio{
		Rule: portfolio.RuleTopNEqual,
		Holdings: []portfolio.Holding{
			{FundID: "A", Weight: 0.5, Score: 0.8},
			{FundID: "B", Weight: 0.5, Score: 0.4},
		},
		EffectiveN: 2,
		Aggregate: &risk.Profile{Metrics: map[string]risk.Value{
			risk.MetricSharpe: risk.Defined(1.1),
		}},
	}
	require.NoError(t, w.WritePortfolio(p))

	dir, err := w.Dir()
	require.NoError(t, err)
	f, err := os.Open(filepath.Join(dir, "portfolio.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"fund_id", "weight", "score", "rule"}, rows[0])
	assert.Equal(t, "A", rows[1][0])
	assert.Equal(t, string(portfolio.RuleTopNEqual), rows[1][3])
}

func TestFormatFloat_NaNPrintsEmpty(t *testing.T) {
	assert.Equal(t, "", formatFloat(math.NaN()))
	assert.Equal(t, "0.500000", formatFloat(0.5))
}

func TestRenderScores(t *testing.T) {
	var buf bytes.Buffer
	RenderScores(&buf, sampleResult(), 10)
	out := buf.String()
	assert.Contains(t, out, "A")
	assert.Contains(t, out, "undefined", "undefined VaR renders explicitly")
	assert.Contains(t, out, "unscored (features)")
}

func TestRenderPortfolio(t *testing.T) {
	var buf bytes.Buffer
	RenderPortfolio(&buf, &portfolio.Portfolio{
		Rule:       portfolio.RuleScoreProportional,
		Holdings:   []portfolio.Holding{{FundID: "A", Weight: 1, Score: 0.9}},
		EffectiveN: 1,
		Aggregate: &risk.Profile{Metrics: map[string]risk.Value{
			risk.MetricVolatility: risk.Defined(0.12),
		}},
		AvgCorrelation: risk.Undefined(),
	})
	out := buf.String()
	assert.Contains(t, out, "100.00%")
	assert.Contains(t, out, "Effective N")
}
