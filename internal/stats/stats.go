package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/quantfund/fundrank/internal/alpha"
)

// Config parameterizes significance testing of the alpha signal.
type Config struct {
	Significance float64 `yaml:"significance"` // p-value threshold for mean-IC test
	MinFoldObs   int     `yaml:"min_fold_obs"` // pairs needed to score a fold's IC
}

// DefaultConfig uses the conventional 5% level.
func DefaultConfig() Config {
	return Config{Significance: 0.05, MinFoldObs: 3}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.Significance <= 0 || c.Significance >= 1 {
		return fmt.Errorf("significance %v outside (0, 1)", c.Significance)
	}
	if c.MinFoldObs < 2 {
		return fmt.Errorf("min_fold_obs %d too small", c.MinFoldObs)
	}
	return nil
}

// ICResult is the information coefficient for one walk-forward fold.
type ICResult struct {
	Fold int     `json:"fold"`
	IC   float64 `json:"ic"`
	N    int     `json:"n"`
}

// Stability summarizes how a coefficient varied across folds.
type Stability struct {
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Dispersion float64 `json:"dispersion"` // std / |mean|, 0 when mean is 0
}

// ResidualDiagnostics holds distributional tests on prediction errors.
type ResidualDiagnostics struct {
	JarqueBera    float64 `json:"jarque_bera"`
	JBPValue      float64 `json:"jb_p_value"`
	DurbinWatson  float64 `json:"durbin_watson"`
	ResidualCount int     `json:"residual_count"`
}

// Diagnostics is the evaluation record consumed by scoring and reporting.
// AlphaReliable gates whether the composite score should trust the alpha
// component at all.
type Diagnostics struct {
	ICByFold      []ICResult           `json:"ic_by_fold"`
	MeanIC        float64              `json:"mean_ic"`
	ICStd         float64              `json:"ic_std"`
	TStat         float64              `json:"t_stat"`
	PValue        float64              `json:"p_value"`
	SignificantIC bool                 `json:"significant_ic"`
	AlphaReliable bool                 `json:"alpha_reliable"`
	Coefficients  map[string]Stability `json:"coefficient_stability"`
	Residuals     ResidualDiagnostics  `json:"residuals"`
}

// Evaluate computes per-fold information coefficients, tests whether the
// mean IC differs from zero, and summarizes coefficient stability across
// folds. realized maps fund id and as-of date to the realized forward
// return over the same horizon the model predicted. Inputs are never
// mutated.
func Evaluate(preds []alpha.Prediction, realized map[string]map[time.Time]float64, report *alpha.FoldReport, cfg Config) (*Diagnostics, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Diagnostics{}
	byFold := groupByFold(preds)
	folds := make([]int, 0, len(byFold))
	for f := range byFold {
		folds = append(folds, f)
	}
	sort.Ints(folds)

	var ics []float64
	var residuals []residual
	for _, f := range folds {
		predicted, actual, res := matchOutcomes(byFold[f], realized)
		residuals = append(residuals, res...)
		if len(predicted) < cfg.MinFoldObs {
			continue
		}
		ic := spearman(predicted, actual)
		d.ICByFold = append(d.ICByFold, ICResult{Fold: f, IC: ic, N: len(predicted)})
		ics = append(ics, ic)
	}

	if len(ics) > 0 {
		d.MeanIC = stat.Mean(ics, nil)
	}
	if len(ics) > 1 {
		d.ICStd = stat.StdDev(ics, nil)
		d.TStat, d.PValue = meanTTest(ics)
		d.SignificantIC = d.PValue < cfg.Significance
	} else {
		d.PValue = 1
	}
	d.AlphaReliable = d.SignificantIC && d.MeanIC > 0

	if report != nil {
		d.Coefficients = coefficientStability(report)
	}
	evaluateResiduals(d, residuals)
	return d, nil
}

type residual struct {
	asOf  time.Time
	value float64
}

func groupByFold(preds []alpha.Prediction) map[int][]alpha.Prediction {
	out := make(map[int][]alpha.Prediction)
	for _, p := range preds {
		out[p.Fold] = append(out[p.Fold], p)
	}
	return out
}

// matchOutcomes pairs predictions with realized outcomes, dropping pairs
// the realized map cannot resolve.
func matchOutcomes(preds []alpha.Prediction, realized map[string]map[time.Time]float64) (predicted, actual []float64, residuals []residual) {
	for _, p := range preds {
		byDate, ok := realized[p.FundID]
		if !ok {
			continue
		}
		outcome, ok := byDate[p.AsOf]
		if !ok {
			continue
		}
		predicted = append(predicted, p.Forward)
		actual = append(actual, outcome)
		residuals = append(residuals, residual{asOf: p.AsOf, value: outcome - p.Forward})
	}
	return predicted, actual, residuals
}

// spearman is the rank correlation between two paired samples.
func spearman(x, y []float64) float64 {
	rx, ry := ranks(x), ranks(y)
	c := stat.Correlation(rx, ry, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// ranks assigns average ranks, handling ties the standard way.
func ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	out := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

// meanTTest is a one-sample t-test of the mean against zero.
func meanTTest(xs []float64) (tStat, pValue float64) {
	n := float64(len(xs))
	mean := stat.Mean(xs, nil)
	sd := stat.StdDev(xs, nil)
	if sd == 0 {
		if mean == 0 {
			return 0, 1
		}
		return math.Inf(sign(mean)), 0
	}
	tStat = mean / (sd / math.Sqrt(n))
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 1}
	pValue = 2 * (1 - t.CDF(math.Abs(tStat)))
	return tStat, pValue
}

// coefficientStability measures dispersion of each feature's coefficient
// across the folds that actually fitted.
func coefficientStability(report *alpha.FoldReport) map[string]Stability {
	out := make(map[string]Stability, len(report.FeatureNames))
	for _, name := range report.FeatureNames {
		var vals []float64
		for _, coefs := range report.Coefficients {
			if coefs == nil {
				continue // fold skipped for lack of rows
			}
			vals = append(vals, coefs[name])
		}
		if len(vals) == 0 {
			continue
		}
		s := Stability{Mean: stat.Mean(vals, nil)}
		if len(vals) > 1 {
			s.Std = stat.StdDev(vals, nil)
		}
		if s.Mean != 0 {
			s.Dispersion = s.Std / math.Abs(s.Mean)
		}
		out[name] = s
	}
	return out
}

// evaluateResiduals runs Jarque-Bera normality and Durbin-Watson
// autocorrelation tests on time-ordered prediction errors.
func evaluateResiduals(d *Diagnostics, residuals []residual) {
	d.Residuals.ResidualCount = len(residuals)
	if len(residuals) < 4 {
		d.Residuals.JBPValue = 1
		d.Residuals.DurbinWatson = 2 // no evidence either way
		return
	}
	sort.Slice(residuals, func(i, j int) bool { return residuals[i].asOf.Before(residuals[j].asOf) })
	vals := make([]float64, len(residuals))
	for i, r := range residuals {
		vals[i] = r.value
	}

	n := float64(len(vals))
	skew := stat.Skew(vals, nil)
	exKurt := stat.ExKurtosis(vals, nil)
	jb := n / 6 * (skew*skew + exKurt*exKurt/4)
	d.Residuals.JarqueBera = jb
	d.Residuals.JBPValue = 1 - distuv.ChiSquared{K: 2}.CDF(jb)

	var num, den float64
	for i := range vals {
		den += vals[i] * vals[i]
		if i > 0 {
			diff := vals[i] - vals[i-1]
			num += diff * diff
		}
	}
	if den > 0 {
		d.Residuals.DurbinWatson = num / den
	} else {
		d.Residuals.DurbinWatson = 2
	}
}

func sign(x float64) int {
	if x < 0 {
		return -1
	}
	return 1
}
