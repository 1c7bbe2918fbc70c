package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/quantfund/fundrank/internal/series"
)

// ErrAlignment marks a fund whose benchmark overlap is below the configured
// minimum, so beta and tracking error cannot be trusted.
var ErrAlignment = errors.New("insufficient benchmark overlap")

// VaRMethod selects how Value-at-Risk is estimated.
type VaRMethod string

const (
	VaRHistorical VaRMethod = "historical"
	VaRParametric VaRMethod = "parametric"
)

// Metric name keys used in Profile.Metrics.
const (
	MetricAvgReturn   = "avg_return"
	MetricVolatility  = "volatility"
	MetricSharpe      = "sharpe"
	MetricSortino     = "sortino"
	MetricDownsideDev = "downside_deviation"
	MetricMaxDrawdown = "max_drawdown"
	MetricVaR         = "var"
	MetricCVaR        = "cvar"
	MetricSkewness    = "skewness"
	MetricKurtosis    = "kurtosis"
	MetricBeta        = "beta"
	MetricTrackingErr = "tracking_error"
)

// Config parameterizes a risk computation run. PeriodsPerYear must come
// from the series' observed sampling frequency, never a daily assumption.
type Config struct {
	PeriodsPerYear float64   `yaml:"periods_per_year"`
	RiskFree       float64   `yaml:"risk_free"` // per-period rate
	Confidence     float64   `yaml:"confidence"`
	VaRMethod      VaRMethod `yaml:"var_method"`
	MinObs         int       `yaml:"min_obs"`
	MinVaRObs      int       `yaml:"min_var_obs"`
	MinOverlap     int       `yaml:"min_overlap"`
}

// DefaultConfig returns conservative minimum-sample settings with
// historical-simulation VaR at 95%.
func DefaultConfig() Config {
	return Config{
		Confidence: 0.95,
		VaRMethod:  VaRHistorical,
		MinObs:     2,
		MinVaRObs:  20,
		MinOverlap: 10,
	}
}

// Validate checks parameter ranges at construction time.
func (c Config) Validate() error {
	if c.Confidence <= 0 || c.Confidence >= 1 {
		return fmt.Errorf("confidence %v outside (0, 1)", c.Confidence)
	}
	if c.VaRMethod != VaRHistorical && c.VaRMethod != VaRParametric {
		return fmt.Errorf("unknown VaR method %q", c.VaRMethod)
	}
	if c.MinObs < 2 {
		return fmt.Errorf("min_obs %d too small, drawdown needs >= 2 points", c.MinObs)
	}
	if c.MinVaRObs < c.MinObs {
		return fmt.Errorf("min_var_obs %d below min_obs %d", c.MinVaRObs, c.MinObs)
	}
	if c.MinOverlap < 2 {
		return fmt.Errorf("min_overlap %d too small", c.MinOverlap)
	}
	return nil
}

// Value is a metric that is either computed or explicitly undefined.
// Undefined is never silently coerced to zero.
type Value struct {
	Defined bool    `json:"defined"`
	V       float64 `json:"value"`
}

// Defined wraps a computed metric value.
func Defined(v float64) Value { return Value{Defined: true, V: v} }

// Undefined marks a metric that could not be computed for this window.
func Undefined() Value { return Value{} }

// Window describes the evaluation span a profile covers.
type Window struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Length int       `json:"length"`
}

// Profile holds every configured risk metric for one fund and window.
// Metrics that could not be computed are present and marked undefined so
// downstream scoring can apply an explicit policy.
type Profile struct {
	FundID        string           `json:"fund_id"`
	Window        Window           `json:"window"`
	Metrics       map[string]Value `json:"metrics"`
	DrawdownPeak  time.Time        `json:"drawdown_peak,omitempty"`
	DrawdownTrough time.Time       `json:"drawdown_trough,omitempty"`
}

// Metric returns the named metric, undefined when absent.
func (p *Profile) Metric(name string) Value {
	if p == nil {
		return Undefined()
	}
	if v, ok := p.Metrics[name]; ok {
		return v
	}
	return Undefined()
}

// Compute derives the full risk-metric mapping for one return sequence.
// benchmark may be nil; when present it is aligned by date intersection and
// the call fails with ErrAlignment if fewer than MinOverlap dates remain.
func Compute(r series.Returns, benchmark *series.Returns, cfg Config) (*Profile, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = series.InferFrequency(r.Dates).PeriodsPerYear
	}

	p := &Profile{
		FundID:  r.FundID,
		Metrics: make(map[string]Value),
	}
	if n := r.Len(); n > 0 {
		p.Window = Window{Start: r.Dates[0], End: r.Dates[n-1], Length: n}
	}

	computeCore(p, r, cfg)
	computeTails(p, r.Values, cfg)
	computeDrawdown(p, r, cfg)

	if benchmark != nil {
		if err := computeRelative(p, r, *benchmark, cfg); err != nil {
			return nil, err
		}
	} else {
		p.Metrics[MetricBeta] = Undefined()
		p.Metrics[MetricTrackingErr] = Undefined()
	}
	return p, nil
}

// computeCore fills the mean/volatility family. Annualization uses the
// explicit periods-per-year from the config.
func computeCore(p *Profile, r series.Returns, cfg Config) {
	n := r.Len()
	ann := math.Sqrt(cfg.PeriodsPerYear)

	if n < cfg.MinObs {
		for _, m := range []string{MetricAvgReturn, MetricVolatility, MetricSharpe,
			MetricSortino, MetricDownsideDev, MetricSkewness, MetricKurtosis} {
			p.Metrics[m] = Undefined()
		}
		return
	}

	mean := stat.Mean(r.Values, nil)
	sd := stat.StdDev(r.Values, nil)
	p.Metrics[MetricAvgReturn] = Defined(mean * cfg.PeriodsPerYear)
	p.Metrics[MetricVolatility] = Defined(sd * ann)

	if sd > 0 {
		p.Metrics[MetricSharpe] = Defined((mean - cfg.RiskFree) / sd * ann)
	} else {
		p.Metrics[MetricSharpe] = Undefined()
	}

	dd := downsideDeviation(r.Values, cfg.RiskFree)
	p.Metrics[MetricDownsideDev] = Defined(dd * ann)
	if dd > 0 {
		p.Metrics[MetricSortino] = Defined((mean - cfg.RiskFree) / dd * ann)
	} else {
		p.Metrics[MetricSortino] = Undefined()
	}

	if n >= 3 {
		p.Metrics[MetricSkewness] = Defined(stat.Skew(r.Values, nil))
	} else {
		p.Metrics[MetricSkewness] = Undefined()
	}
	if n >= 4 {
		p.Metrics[MetricKurtosis] = Defined(stat.ExKurtosis(r.Values, nil))
	} else {
		p.Metrics[MetricKurtosis] = Undefined()
	}
}

// computeTails fills VaR/CVaR, reported as positive losses at the
// configured confidence level.
func computeTails(p *Profile, values []float64, cfg Config) {
	if len(values) < cfg.MinVaRObs {
		p.Metrics[MetricVaR] = Undefined()
		p.Metrics[MetricCVaR] = Undefined()
		return
	}

	switch cfg.VaRMethod {
	case VaRParametric:
		mean := stat.Mean(values, nil)
		sd := stat.StdDev(values, nil)
		z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - cfg.Confidence)
		q := mean + z*sd
		p.Metrics[MetricVaR] = Defined(-q)
		// Expected shortfall of a normal tail.
		pdf := distuv.Normal{Mu: 0, Sigma: 1}.Prob(z)
		p.Metrics[MetricCVaR] = Defined(-(mean - sd*pdf/(1-cfg.Confidence)))
	default: // historical simulation
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		q := stat.Quantile(1-cfg.Confidence, stat.Empirical, sorted, nil)
		p.Metrics[MetricVaR] = Defined(-q)

		var tailSum float64
		var tailN int
		for _, v := range sorted {
			if v <= q {
				tailSum += v
				tailN++
			}
		}
		if tailN > 0 {
			p.Metrics[MetricCVaR] = Defined(-tailSum / float64(tailN))
		} else {
			p.Metrics[MetricCVaR] = Undefined()
		}
	}
}

// computeDrawdown scans the cumulative wealth curve and records the worst
// peak-to-trough ratio with its dates for explainability.
func computeDrawdown(p *Profile, r series.Returns, cfg Config) {
	if r.Len() < cfg.MinObs {
		p.Metrics[MetricMaxDrawdown] = Undefined()
		return
	}
	wealth := series.Cumulative(r.Values)

	peak := wealth[0]
	peakIdx := 0
	worst := 0.0
	worstPeak, worstTrough := 0, 0
	for i := 1; i < len(wealth); i++ {
		if wealth[i] > peak {
			peak = wealth[i]
			peakIdx = i
			continue
		}
		dd := wealth[i]/peak - 1
		if dd < worst {
			worst = dd
			worstPeak = peakIdx
			worstTrough = i
		}
	}
	p.Metrics[MetricMaxDrawdown] = Defined(worst)
	if worst < 0 {
		// wealth index i corresponds to the return dated Dates[i-1];
		// wealth[0] predates the first return.
		if worstPeak > 0 {
			p.DrawdownPeak = r.Dates[worstPeak-1]
		} else {
			p.DrawdownPeak = r.Dates[0]
		}
		p.DrawdownTrough = r.Dates[worstTrough-1]
	}
}

// computeRelative fills beta and tracking error against the benchmark after
// aligning both sequences by date intersection.
func computeRelative(p *Profile, r, benchmark series.Returns, cfg Config) error {
	fund, bench := series.Align(r, benchmark)
	if fund.Len() < cfg.MinOverlap {
		return fmt.Errorf("fund %s: %d overlapping dates with benchmark, need %d: %w",
			r.FundID, fund.Len(), cfg.MinOverlap, ErrAlignment)
	}

	benchVar := stat.Variance(bench.Values, nil)
	if benchVar > 0 {
		cov := stat.Covariance(fund.Values, bench.Values, nil)
		p.Metrics[MetricBeta] = Defined(cov / benchVar)
	} else {
		p.Metrics[MetricBeta] = Undefined()
	}

	diffs := make([]float64, fund.Len())
	for i := range diffs {
		diffs[i] = fund.Values[i] - bench.Values[i]
	}
	p.Metrics[MetricTrackingErr] = Defined(stat.StdDev(diffs, nil) * math.Sqrt(cfg.PeriodsPerYear))
	return nil
}

// downsideDeviation is the root mean square of below-target returns,
// matching the Sortino denominator convention.
func downsideDeviation(values []float64, target float64) float64 {
	var ss float64
	for _, v := range values {
		if d := v - target; d < 0 {
			ss += d * d
		}
	}
	return math.Sqrt(ss / float64(len(values)))
}
