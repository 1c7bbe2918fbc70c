package alpha

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfund/fundrank/internal/features"
	"github.com/quantfund/fundrank/internal/series"
)

// Sample is one training/prediction row: a feature vector with its realized
// forward return, when the series extends far enough to know it. TargetEnd
// is the date the forward window closes; a sample is only trainable for a
// fold whose cutoff is at or after that date, which keeps future returns
// out of every training set.
type Sample struct {
	FundID    string
	AsOf      time.Time
	Features  map[string]float64
	Target    float64
	TargetEnd time.Time
	HasTarget bool
}

// Prediction is the model's forward-return estimate for one fund/date.
// The producing fold's training data ends strictly before AsOf.
type Prediction struct {
	FundID      string    `json:"fund_id"`
	AsOf        time.Time `json:"as_of"`
	Forward     float64   `json:"forward"`
	ResidualStd float64   `json:"residual_std"`
	Fold        int       `json:"fold"`
}

// FoldReport carries per-fold diagnostics for statistical evaluation: the
// fold boundaries actually used and the coefficient snapshot each fold
// produced.
type FoldReport struct {
	Folds        []Fold               `json:"folds"`
	FeatureNames []string             `json:"feature_names"`
	Coefficients []map[string]float64 `json:"coefficients"`
	TrainSizes   []int                `json:"train_sizes"`
}

// BuildSamples joins feature vectors with their realized forward return
// over the configured horizon. Vectors near the series end keep
// HasTarget=false: they can be predicted but never trained on.
func BuildSamples(vectors []features.Vector, rets series.Returns, horizon int) []Sample {
	idx := make(map[time.Time]int, len(rets.Dates))
	for i, d := range rets.Dates {
		idx[d] = i
	}
	samples := make([]Sample, 0, len(vectors))
	for _, v := range vectors {
		s := Sample{FundID: v.FundID, AsOf: v.AsOf, Features: v.Values}
		if i, ok := idx[v.AsOf]; ok && i+horizon < rets.Len() {
			forward := 1.0
			for j := i + 1; j <= i+horizon; j++ {
				forward *= 1 + rets.Values[j]
			}
			s.Target = forward - 1
			s.TargetEnd = rets.Dates[i+horizon]
			s.HasTarget = true
		}
		samples = append(samples, s)
	}
	return samples
}

// Runner drives walk-forward fitting and prediction over pooled
// cross-sectional samples.
type Runner struct {
	cfg      FoldConfig
	log      zerolog.Logger
	newModel func() Model
}

// NewRunner creates a walk-forward runner backed by ridge regression.
func NewRunner(cfg FoldConfig, log zerolog.Logger) *Runner {
	return &Runner{
		cfg: cfg,
		log: log.With().Str("component", "alpha").Logger(),
		newModel: func() Model {
			return NewRidgeModel(cfg.Ridge)
		},
	}
}

// SetModelFactory overrides the learner (for testing and experimentation).
func (r *Runner) SetModelFactory(f func() Model) { r.newModel = f }

// FitPredict runs the fold sequence: for each fold, fit on samples whose
// forward-return window closed at or before the cutoff, then predict every
// sample with as-of date inside the fold's validation range. Every emitted
// prediction satisfies cutoff < as-of strictly.
func (r *Runner) FitPredict(samples []Sample) ([]Prediction, *FoldReport, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if len(samples) == 0 {
		return nil, nil, fmt.Errorf("no samples: %w", ErrInsufficientFolds)
	}

	dates := uniqueDates(samples)
	folds, err := Folds(dates, r.cfg)
	if err != nil {
		return nil, nil, err
	}
	names := featureNames(samples)

	report := &FoldReport{Folds: folds, FeatureNames: names}
	var preds []Prediction

	for _, fold := range folds {
		train := trainable(samples, fold)
		if len(train) <= len(names) {
			r.log.Warn().Int("fold", fold.Index).Int("rows", len(train)).
				Msg("skipping fold with too few trainable rows")
			report.Coefficients = append(report.Coefficients, nil)
			report.TrainSizes = append(report.TrainSizes, len(train))
			continue
		}

		model := r.newModel()
		x, y := designMatrix(train, names)
		if err := model.Fit(x, y); err != nil {
			return nil, nil, fmt.Errorf("fold %d fit: %w", fold.Index, err)
		}
		resid := residualStd(model, train, names)

		report.Coefficients = append(report.Coefficients, namedCoefficients(model, names))
		report.TrainSizes = append(report.TrainSizes, len(train))

		for _, s := range samples {
			if !s.AsOf.After(fold.Cutoff) || s.AsOf.After(fold.TestEnd) {
				continue
			}
			pred, err := model.Predict(row(s, names))
			if err != nil {
				return nil, nil, fmt.Errorf("fold %d predict %s@%s: %w",
					fold.Index, s.FundID, s.AsOf.Format("2006-01-02"), err)
			}
			preds = append(preds, Prediction{
				FundID:      s.FundID,
				AsOf:        s.AsOf,
				Forward:     pred,
				ResidualStd: resid,
				Fold:        fold.Index,
			})
		}
	}

	if len(preds) == 0 {
		return nil, nil, fmt.Errorf("no fold produced predictions: %w", ErrInsufficientFolds)
	}
	sort.Slice(preds, func(i, j int) bool {
		if !preds[i].AsOf.Equal(preds[j].AsOf) {
			return preds[i].AsOf.Before(preds[j].AsOf)
		}
		return preds[i].FundID < preds[j].FundID
	})

	r.log.Info().Int("folds", len(folds)).Int("predictions", len(preds)).
		Int("features", len(names)).Msg("walk-forward fit complete")
	return preds, report, nil
}

// trainable selects samples usable for this fold: the training window must
// contain the as-of date AND the forward-return window must have closed by
// the cutoff.
func trainable(samples []Sample, fold Fold) []Sample {
	var out []Sample
	for _, s := range samples {
		if !s.HasTarget {
			continue
		}
		if s.AsOf.Before(fold.TrainStart) || s.TargetEnd.After(fold.Cutoff) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func uniqueDates(samples []Sample) []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, s := range samples {
		if !seen[s.AsOf] {
			seen[s.AsOf] = true
			dates = append(dates, s.AsOf)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// featureNames fixes a deterministic column order shared by every fold.
func featureNames(samples []Sample) []string {
	seen := make(map[string]bool)
	for _, s := range samples {
		for name := range s.Features {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func row(s Sample, names []string) []float64 {
	out := make([]float64, len(names))
	for j, name := range names {
		out[j] = s.Features[name] // missing feature defaults to zero
	}
	return out
}

func designMatrix(samples []Sample, names []string) (*mat.Dense, []float64) {
	x := mat.NewDense(len(samples), len(names), nil)
	y := make([]float64, len(samples))
	for i, s := range samples {
		x.SetRow(i, row(s, names))
		y[i] = s.Target
	}
	return x, y
}

func residualStd(model Model, train []Sample, names []string) float64 {
	resid := make([]float64, 0, len(train))
	for _, s := range train {
		pred, err := model.Predict(row(s, names))
		if err != nil {
			continue
		}
		resid = append(resid, s.Target-pred)
	}
	if len(resid) < 2 {
		return 0
	}
	return stat.StdDev(resid, nil)
}

func namedCoefficients(model Model, names []string) map[string]float64 {
	coef := model.Coefficients()
	out := make(map[string]float64, len(names))
	for j, name := range names {
		out[name] = coef[j]
	}
	return out
}
