package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantfund/fundrank/internal/alpha"
	"github.com/quantfund/fundrank/internal/features"
	"github.com/quantfund/fundrank/internal/portfolio"
	"github.com/quantfund/fundrank/internal/risk"
	"github.com/quantfund/fundrank/internal/scoring"
	"github.com/quantfund/fundrank/internal/series"
	"github.com/quantfund/fundrank/internal/stats"
)

// FeaturesConfig is the YAML surface for feature engineering. Durations are
// expressed in days so config files stay unit-free.
type FeaturesConfig struct {
	Windows       []int  `yaml:"windows"`
	MAShort       int    `yaml:"ma_short"`
	MALong        int    `yaml:"ma_long"`
	ReturnKind    string `yaml:"return_kind"`
	StalenessDays int    `yaml:"staleness_days"`
}

// WindowConfig translates to the typed feature-engineering configuration.
func (c FeaturesConfig) WindowConfig() features.WindowConfig {
	return features.WindowConfig{
		Windows:        c.Windows,
		MAShort:        c.MAShort,
		MALong:         c.MALong,
		ReturnKind:     series.ReturnKind(c.ReturnKind),
		StalenessLimit: time.Duration(c.StalenessDays) * 24 * time.Hour,
	}
}

// ScoringConfig is the YAML surface for the composite scoring engine.
type ScoringConfig struct {
	Weights              map[string]float64 `yaml:"weights"`
	Normalization        string             `yaml:"normalization"`
	MissingPolicy        string             `yaml:"missing_policy"`
	Penalty              float64            `yaml:"penalty"`
	RiskMetric           string             `yaml:"risk_metric"`
	RiskAscending        bool               `yaml:"risk_ascending"`
	FundamentalMetric    string             `yaml:"fundamental_metric"`
	FundamentalAscending bool               `yaml:"fundamental_ascending"`
	AlphaStalenessDays   int                `yaml:"alpha_staleness_days"`
	GateAlphaOnDiag      bool               `yaml:"gate_alpha_on_diagnostics"`
}

// WeightConfig translates to the typed scoring configuration.
func (c ScoringConfig) WeightConfig() scoring.WeightConfig {
	return scoring.WeightConfig{
		Weights:                c.Weights,
		Normalization:          scoring.Normalization(c.Normalization),
		MissingPolicy:          scoring.MissingPolicy(c.MissingPolicy),
		Penalty:                c.Penalty,
		RiskMetric:             c.RiskMetric,
		RiskAscending:          c.RiskAscending,
		FundamentalMetric:      c.FundamentalMetric,
		FundamentalAscending:   c.FundamentalAscending,
		MaxAlphaStaleness:      time.Duration(c.AlphaStalenessDays) * 24 * time.Hour,
		GateAlphaOnDiagnostics: c.GateAlphaOnDiag,
	}
}

// RunConfig is the complete typed configuration for one analytics run.
// Construct via DefaultRunConfig or Load; validation happens up front so ad
// hoc maps never travel through the pipeline.
type RunConfig struct {
	Workers   int              `yaml:"workers"`
	Features  FeaturesConfig   `yaml:"features"`
	Risk      risk.Config      `yaml:"risk"`
	Alpha     alpha.FoldConfig `yaml:"alpha"`
	Stats     stats.Config     `yaml:"stats"`
	Scoring   ScoringConfig    `yaml:"scoring"`
	Portfolio portfolio.Config `yaml:"portfolio"`
}

// DefaultRunConfig mirrors every package's defaults.
func DefaultRunConfig() RunConfig {
	fc := features.DefaultWindowConfig()
	sc := scoring.DefaultWeightConfig()
	return RunConfig{
		Workers: 4,
		Features: FeaturesConfig{
			Windows:       fc.Windows,
			MAShort:       fc.MAShort,
			MALong:        fc.MALong,
			ReturnKind:    string(fc.ReturnKind),
			StalenessDays: int(fc.StalenessLimit / (24 * time.Hour)),
		},
		Risk:  risk.DefaultConfig(),
		Alpha: alpha.DefaultFoldConfig(),
		Stats: stats.DefaultConfig(),
		Scoring: ScoringConfig{
			Weights:            sc.Weights,
			Normalization:      string(sc.Normalization),
			MissingPolicy:      string(sc.MissingPolicy),
			Penalty:            sc.Penalty,
			RiskMetric:         sc.RiskMetric,
			AlphaStalenessDays: int(sc.MaxAlphaStaleness / (24 * time.Hour)),
			GateAlphaOnDiag:    sc.GateAlphaOnDiagnostics,
		},
		Portfolio: portfolio.DefaultConfig(),
	}
}

// Validate checks every section. Weight errors surface as
// scoring.ErrInvalidWeights so callers can abort the run.
func (c RunConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers %d must be positive", c.Workers)
	}
	if err := c.Features.WindowConfig().Validate(); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if err := c.Alpha.Validate(); err != nil {
		return fmt.Errorf("alpha: %w", err)
	}
	if err := c.Stats.Validate(); err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	if err := c.Scoring.WeightConfig().Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := c.Portfolio.Validate(); err != nil {
		return fmt.Errorf("portfolio: %w", err)
	}
	return nil
}

// Load reads a YAML file over the defaults, so partial configuration files
// work, then validates the result.
func Load(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
