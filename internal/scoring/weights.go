package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrInvalidWeights marks a run-wide misconfiguration: negative weights or
// a non-positive total. This aborts the run rather than silently producing
// meaningless scores.
var ErrInvalidWeights = errors.New("invalid component weights")

// Component names recognized by the engine.
const (
	ComponentRisk        = "risk"
	ComponentAlpha       = "alpha"
	ComponentFundamental = "fundamental"
)

// Normalization selects how raw component values are rescaled across all
// funds evaluated on the same date.
type Normalization string

const (
	NormalizeZScore Normalization = "zscore"
	NormalizeRank   Normalization = "rank"
)

// MissingPolicy decides how an undefined component affects a fund's score.
type MissingPolicy string

const (
	// MissingExclude drops the component and renormalizes the remaining
	// weights to sum to 1.
	MissingExclude MissingPolicy = "exclude"
	// MissingPenalize keeps the component at full weight with the
	// configured penalty as its normalized value.
	MissingPenalize MissingPolicy = "penalize"
)

// WeightConfig parameterizes the composite scoring engine.
type WeightConfig struct {
	Weights                map[string]float64 `yaml:"weights"`
	Normalization          Normalization      `yaml:"normalization"`
	MissingPolicy          MissingPolicy      `yaml:"missing_policy"`
	Penalty                float64            `yaml:"penalty"` // normalized units, applied under penalize
	RiskMetric             string             `yaml:"risk_metric"`
	RiskAscending          bool               `yaml:"risk_ascending"` // true when lower metric values are better
	FundamentalMetric      string             `yaml:"fundamental_metric"`
	FundamentalAscending   bool               `yaml:"fundamental_ascending"`
	MaxAlphaStaleness      time.Duration      `yaml:"-"` // predictions older than this are treated as missing
	GateAlphaOnDiagnostics bool               `yaml:"gate_alpha_on_diagnostics"`
}

// DefaultWeightConfig weights risk, alpha, and fundamentals 50/30/20 with
// z-score normalization and exclude-and-renormalize missing handling.
func DefaultWeightConfig() WeightConfig {
	return WeightConfig{
		Weights: map[string]float64{
			ComponentRisk:        0.5,
			ComponentAlpha:       0.3,
			ComponentFundamental: 0.2,
		},
		Normalization:          NormalizeZScore,
		MissingPolicy:          MissingExclude,
		Penalty:                1.0,
		RiskMetric:             "sharpe",
		MaxAlphaStaleness:      45 * 24 * time.Hour,
		GateAlphaOnDiagnostics: true,
	}
}

// Validate fails with ErrInvalidWeights on negative weights or a
// non-positive total, and rejects unknown policy values.
func (c WeightConfig) Validate() error {
	if len(c.Weights) == 0 {
		return fmt.Errorf("no component weights configured: %w", ErrInvalidWeights)
	}
	total := 0.0
	for name, w := range c.Weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("component %s has weight %v: %w", name, w, ErrInvalidWeights)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("weights sum to %v: %w", total, ErrInvalidWeights)
	}
	switch c.Normalization {
	case NormalizeZScore, NormalizeRank:
	default:
		return fmt.Errorf("unknown normalization %q", c.Normalization)
	}
	switch c.MissingPolicy {
	case MissingExclude, MissingPenalize:
	default:
		return fmt.Errorf("unknown missing policy %q", c.MissingPolicy)
	}
	if c.RiskMetric == "" {
		return fmt.Errorf("risk metric not configured")
	}
	return nil
}

// normalized returns the weight map rescaled to sum to exactly 1, in a
// deterministic iteration order.
func (c WeightConfig) normalized() ([]string, map[string]float64) {
	names := make([]string, 0, len(c.Weights))
	total := 0.0
	for name, w := range c.Weights {
		names = append(names, name)
		total += w
	}
	sort.Strings(names)
	out := make(map[string]float64, len(names))
	for _, name := range names {
		out[name] = c.Weights[name] / total
	}
	return names, out
}
