package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/quantfund/fundrank/internal/series"
)

// ErrInsufficientHistory marks a fund/date whose lookback exceeds the
// available prior observations. Callers must treat such dates as unscored,
// never zero-scored.
var ErrInsufficientHistory = errors.New("insufficient history")

// WindowConfig controls which rolling features are derived and how stale a
// carried-forward fundamental snapshot may be before it is flagged.
type WindowConfig struct {
	Windows        []int             // rolling lookbacks in observations
	MAShort        int               // short moving-average window
	MALong         int               // long moving-average window
	ReturnKind     series.ReturnKind // simple or log
	StalenessLimit time.Duration     // 0 disables staleness flagging
}

// DefaultWindowConfig mirrors the conventional monthly/quarterly/half-year
// trading-day lookbacks.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Windows:        []int{21, 63, 126},
		MAShort:        21,
		MALong:         63,
		ReturnKind:     series.ReturnSimple,
		StalenessLimit: 120 * 24 * time.Hour,
	}
}

// Validate checks window sanity at construction time.
func (c WindowConfig) Validate() error {
	if len(c.Windows) == 0 {
		return fmt.Errorf("at least one rolling window required")
	}
	for _, w := range c.Windows {
		if w < 2 {
			return fmt.Errorf("rolling window %d too small, need >= 2", w)
		}
	}
	if c.MAShort < 1 || c.MALong < 1 {
		return fmt.Errorf("moving-average windows must be positive")
	}
	if c.MAShort >= c.MALong {
		return fmt.Errorf("short MA window %d must be below long MA window %d", c.MAShort, c.MALong)
	}
	return nil
}

// MinObservations is the smallest series length that yields one vector.
func (c WindowConfig) MinObservations() int {
	need := c.MALong
	for _, w := range c.Windows {
		if w+1 > need {
			need = w + 1
		}
	}
	return need
}

// Vector holds the engineered features for one fund as of one date. Every
// value is computed from observations at or before AsOf.
type Vector struct {
	FundID            string             `json:"fund_id"`
	AsOf              time.Time          `json:"as_of"`
	Values            map[string]float64 `json:"values"`
	FundamentalsStale bool               `json:"fundamentals_stale,omitempty"`
}

// Compute derives one Vector per date that has sufficient trailing history.
// Dates before the warm-up threshold are skipped; if no date qualifies the
// call fails with ErrInsufficientHistory. Pure function of its inputs.
func Compute(s series.FundSeries, cfg WindowConfig) ([]Vector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	minObs := cfg.MinObservations()
	if len(s.Points) < minObs {
		return nil, fmt.Errorf("fund %s: %d observations, need %d: %w",
			s.FundID, len(s.Points), minObs, ErrInsufficientHistory)
	}

	prices := s.Prices()
	rets := s.Returns(cfg.ReturnKind)

	out := make([]Vector, 0, len(s.Points)-minObs+1)
	for i := minObs - 1; i < len(s.Points); i++ {
		out = append(out, computeAt(s, prices, rets.Values, i, cfg))
	}
	return out, nil
}

// computeAt builds the vector for point index i using only the prefix
// [0, i]. Return index i-1 is the return realized on date i.
func computeAt(s series.FundSeries, prices, rets []float64, i int, cfg WindowConfig) Vector {
	v := Vector{
		FundID: s.FundID,
		AsOf:   s.Points[i].Date,
		Values: make(map[string]float64),
	}

	v.Values["return_1"] = rets[i-1]
	v.Values["log_return_1"] = math.Log(prices[i] / prices[i-1])

	cum := 0.0
	peak := prices[0]
	for j := 0; j <= i; j++ {
		if j > 0 {
			cum += rets[j-1]
		}
		if prices[j] > peak {
			peak = prices[j]
		}
	}
	v.Values["cumulative_return"] = cum
	v.Values["drawdown"] = prices[i]/peak - 1

	for _, w := range cfg.Windows {
		window := rets[i-w : i] // the w returns realized up to and including date i
		v.Values[fmt.Sprintf("momentum_%d", w)] = sum(window)
		v.Values[fmt.Sprintf("avg_return_%d", w)] = stat.Mean(window, nil)
		v.Values[fmt.Sprintf("volatility_%d", w)] = stat.StdDev(window, nil)
	}

	maShort := stat.Mean(prices[i-cfg.MAShort+1:i+1], nil)
	maLong := stat.Mean(prices[i-cfg.MALong+1:i+1], nil)
	v.Values[fmt.Sprintf("ma_ratio_%d_%d", cfg.MAShort, cfg.MALong)] = maShort / maLong
	v.Values[fmt.Sprintf("price_ma_%d", cfg.MALong)] = prices[i] / maLong

	attachFundamentals(&v, s, i, cfg.StalenessLimit)
	return v
}

// attachFundamentals carries the most recent snapshot at or before the
// as-of date forward into the vector, flagging it when older than the
// configured limit.
func attachFundamentals(v *Vector, s series.FundSeries, i int, limit time.Duration) {
	for j := i; j >= 0; j-- {
		if s.Points[j].Fundamentals == nil {
			continue
		}
		for name, val := range s.Points[j].Fundamentals {
			v.Values["fund_"+name] = val
		}
		if limit > 0 && v.AsOf.Sub(s.Points[j].Date) > limit {
			v.FundamentalsStale = true
		}
		return
	}
}

func sum(xs []float64) float64 {
	var t float64
	for _, x := range xs {
		t += x
	}
	return t
}
