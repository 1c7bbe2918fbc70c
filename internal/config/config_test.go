package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfund/fundrank/internal/scoring"
)

func TestDefaultRunConfigValid(t *testing.T) {
	require.NoError(t, DefaultRunConfig().Validate())
}

func TestValidate_SectionErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RunConfig)
		msg    string
	}{
		{"zero workers", func(c *RunConfig) { c.Workers = 0 }, "workers"},
		{"bad window", func(c *RunConfig) { c.Features.Windows = []int{0} }, "features"},
		{"bad confidence", func(c *RunConfig) { c.Risk.Confidence = 2 }, "risk"},
		{"bad fold step", func(c *RunConfig) { c.Alpha.Step = 0 }, "alpha"},
		{"bad significance", func(c *RunConfig) { c.Stats.Significance = 0 }, "stats"},
		{"bad weights", func(c *RunConfig) { c.Scoring.Weights = map[string]float64{"risk": -1} }, "scoring"},
		{"bad top n", func(c *RunConfig) { c.Portfolio.TopN = 0 }, "portfolio"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestValidate_PreservesWeightErrorChain(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.Scoring.Weights = map[string]float64{"risk": -1}
	require.ErrorIs(t, cfg.Validate(), scoring.ErrInvalidWeights)
}

func TestWindowConfigTranslation(t *testing.T) {
	fc := FeaturesConfig{
		Windows:       []int{5, 21},
		MAShort:       5,
		MALong:        21,
		ReturnKind:    "log",
		StalenessDays: 90,
	}
	wc := fc.WindowConfig()
	assert.Equal(t, []int{5, 21}, wc.Windows)
	assert.Equal(t, 90*24*time.Hour, wc.StalenessLimit)
	assert.EqualValues(t, "log", wc.ReturnKind)
}

func TestWeightConfigTranslation(t *testing.T) {
	sc := ScoringConfig{
		Weights:            map[string]float64{"risk": 1},
		Normalization:      "rank",
		MissingPolicy:      "penalize",
		Penalty:            1.5,
		RiskMetric:         "sortino",
		RiskAscending:      false,
		AlphaStalenessDays: 30,
		GateAlphaOnDiag:    true,
	}
	wc := sc.WeightConfig()
	assert.Equal(t, scoring.NormalizeRank, wc.Normalization)
	assert.Equal(t, scoring.MissingPenalize, wc.MissingPolicy)
	assert.Equal(t, 30*24*time.Hour, wc.MaxAlphaStaleness)
	assert.True(t, wc.GateAlphaOnDiagnostics)
}

func TestLoad_PartialFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	doc := `
workers: 2
risk:
  confidence: 0.99
scoring:
  risk_metric: sortino
portfolio:
  rule: score-proportional
  top_n: 10
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 0.99, cfg.Risk.Confidence)
	assert.Equal(t, "sortino", cfg.Scoring.RiskMetric)
	assert.EqualValues(t, "score-proportional", cfg.Portfolio.Rule)
	assert.Equal(t, 10, cfg.Portfolio.TopN)

	// Untouched sections keep their defaults.
	def := DefaultRunConfig()
	assert.Equal(t, def.Features.Windows, cfg.Features.Windows)
	assert.Equal(t, def.Stats.Significance, cfg.Stats.Significance)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("workers: [not, an, int]"), 0o644))
	_, err = Load(bad)
	require.Error(t, err)

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("workers: 0"), 0o644))
	_, err = Load(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
}
