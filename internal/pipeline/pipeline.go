package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantfund/fundrank/internal/alpha"
	"github.com/quantfund/fundrank/internal/config"
	"github.com/quantfund/fundrank/internal/features"
	"github.com/quantfund/fundrank/internal/portfolio"
	"github.com/quantfund/fundrank/internal/risk"
	"github.com/quantfund/fundrank/internal/scoring"
	"github.com/quantfund/fundrank/internal/series"
	"github.com/quantfund/fundrank/internal/stats"
	"github.com/quantfund/fundrank/internal/telemetry"
)

// Unscored records a fund that dropped out at some stage with the reason,
// so a data gap in one fund never silently disappears and never blocks
// the rest of the universe.
type Unscored struct {
	FundID string `json:"fund_id"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Result is the full output of one analytics run.
type Result struct {
	EvaluationDate time.Time                `json:"evaluation_date"`
	Scores         []scoring.CompositeScore `json:"scores"`
	Unscored       []Unscored               `json:"unscored,omitempty"`
	Profiles       map[string]*risk.Profile `json:"profiles"`
	Predictions    []alpha.Prediction       `json:"predictions,omitempty"`
	FoldReport     *alpha.FoldReport        `json:"fold_report,omitempty"`
	Diagnostics    *stats.Diagnostics       `json:"diagnostics,omitempty"`
	AlphaDisabled  string                   `json:"alpha_disabled,omitempty"`
	Timings        map[string]time.Duration `json:"timings"`
}

// fundArtifacts is the per-fund output of the parallel stage: independent
// entities, no shared mutable state.
type fundArtifacts struct {
	fundID  string
	vectors []features.Vector
	returns series.Returns
	profile *risk.Profile
	samples []alpha.Sample
}

// Runner orchestrates the full analytics pipeline: features → {risk, alpha}
// → statistical evaluation → scoring. Portfolio construction is a separate
// call so the CLI can rank without allocating.
type Runner struct {
	cfg     config.RunConfig
	log     zerolog.Logger
	metrics *telemetry.Metrics
}

// NewRunner validates the configuration; invalid weights abort here, before
// any computation.
func NewRunner(cfg config.RunConfig, log zerolog.Logger, metrics *telemetry.Metrics) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// The portfolio's aggregate profile must use the same risk settings as
	// the per-fund profiles.
	cfg.Portfolio.Risk = cfg.Risk
	return &Runner{
		cfg:     cfg,
		log:     log.With().Str("component", "pipeline").Logger(),
		metrics: metrics,
	}, nil
}

// Run executes the pipeline over already-loaded series. Per-fund failures
// (insufficient history, benchmark misalignment) become Unscored entries;
// run-wide misconfigurations propagate as errors.
func (r *Runner) Run(ctx context.Context, funds []series.FundSeries, benchmark *series.FundSeries) (*Result, error) {
	res := &Result{
		Profiles: make(map[string]*risk.Profile),
		Timings:  make(map[string]time.Duration),
	}

	sorted := append([]series.FundSeries(nil), funds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FundID < sorted[j].FundID })

	var benchReturns *series.Returns
	if benchmark != nil {
		if err := benchmark.Validate(); err != nil {
			return nil, fmt.Errorf("benchmark series: %w", err)
		}
		br := benchmark.Returns(series.ReturnSimple)
		benchReturns = &br
	}

	riskCfg := r.resolveRiskConfig(sorted, benchmark)

	artifacts, err := r.perFundStage(ctx, sorted, benchReturns, riskCfg, res)
	if err != nil {
		return nil, err
	}
	res.EvaluationDate = evaluationDate(artifacts)

	samples := r.alphaStage(artifacts, res)
	r.statsStage(samples, res)
	if err := r.scoringStage(artifacts, res); err != nil {
		return nil, err
	}

	r.log.Info().Int("scored", len(res.Scores)).Int("unscored", len(res.Unscored)).
		Time("evaluation_date", res.EvaluationDate).Msg("run complete")
	return res, nil
}

// resolveRiskConfig fills the annualization factor from observed data when
// the configuration leaves it at zero.
func (r *Runner) resolveRiskConfig(funds []series.FundSeries, benchmark *series.FundSeries) risk.Config {
	cfg := r.cfg.Risk
	if cfg.PeriodsPerYear > 0 {
		return cfg
	}
	var dates []time.Time
	if benchmark != nil && len(benchmark.Points) > 1 {
		dates = benchmark.Dates()
	} else if len(funds) > 0 {
		dates = funds[0].Dates()
	}
	freq := series.InferFrequency(dates)
	cfg.PeriodsPerYear = freq.PeriodsPerYear
	r.log.Debug().Float64("periods_per_year", cfg.PeriodsPerYear).
		Msg("annualization inferred from sampling frequency")
	return cfg
}

// perFundStage fans feature, return, and risk computation out across a
// bounded worker group. Each worker reads one fund and produces independent
// artifacts; failures stay inside the fund boundary.
func (r *Runner) perFundStage(ctx context.Context, funds []series.FundSeries, benchReturns *series.Returns, riskCfg risk.Config, res *Result) (map[string]*fundArtifacts, error) {
	start := time.Now()
	windowCfg := r.cfg.Features.WindowConfig()

	var mu sync.Mutex
	artifacts := make(map[string]*fundArtifacts, len(funds))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, fund := range funds {
		fund := fund
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			art, unscored := r.processFund(fund, benchReturns, windowCfg, riskCfg)
			mu.Lock()
			defer mu.Unlock()
			if unscored != nil {
				res.Unscored = append(res.Unscored, *unscored)
				if r.metrics != nil {
					r.metrics.FundUnscored(unscored.Stage)
				}
				return nil
			}
			artifacts[fund.FundID] = art
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Deterministic ordering regardless of worker interleaving.
	sort.Slice(res.Unscored, func(i, j int) bool { return res.Unscored[i].FundID < res.Unscored[j].FundID })
	for id, art := range artifacts {
		res.Profiles[id] = art.profile
	}
	r.observe(res, "per_fund", time.Since(start))
	return artifacts, nil
}

// processFund computes one fund's features, returns, risk profile, and
// alpha samples. A nil artifact with a non-nil Unscored means the fund
// dropped out at that stage.
func (r *Runner) processFund(fund series.FundSeries, benchReturns *series.Returns, windowCfg features.WindowConfig, riskCfg risk.Config) (*fundArtifacts, *Unscored) {
	if err := fund.Validate(); err != nil {
		return nil, &Unscored{FundID: fund.FundID, Stage: "validate", Reason: err.Error()}
	}

	vectors, err := features.Compute(fund, windowCfg)
	if err != nil {
		return nil, &Unscored{FundID: fund.FundID, Stage: "features", Reason: err.Error()}
	}

	rets := fund.Returns(series.ReturnSimple)
	profile, err := risk.Compute(rets, benchReturns, riskCfg)
	if err != nil {
		return nil, &Unscored{FundID: fund.FundID, Stage: "risk", Reason: err.Error()}
	}

	return &fundArtifacts{
		fundID:  fund.FundID,
		vectors: vectors,
		returns: rets,
		profile: profile,
		samples: alpha.BuildSamples(vectors, rets, r.cfg.Alpha.Horizon),
	}, nil
}

// alphaStage pools samples across funds and runs the walk-forward model.
// Too little history disables the alpha component for the run instead of
// aborting: scoring handles the missing component by policy.
func (r *Runner) alphaStage(artifacts map[string]*fundArtifacts, res *Result) []alpha.Sample {
	start := time.Now()
	defer func() { r.observe(res, "alpha", time.Since(start)) }()

	var samples []alpha.Sample
	for _, id := range sortedKeys(artifacts) {
		samples = append(samples, artifacts[id].samples...)
	}
	if len(samples) == 0 {
		res.AlphaDisabled = "no feature samples available"
		return nil
	}

	runner := alpha.NewRunner(r.cfg.Alpha, r.log)
	preds, report, err := runner.FitPredict(samples)
	if err != nil {
		if errors.Is(err, alpha.ErrInsufficientFolds) {
			res.AlphaDisabled = err.Error()
			r.log.Warn().Err(err).Msg("alpha model disabled for this run")
			return samples
		}
		r.log.Error().Err(err).Msg("alpha model failed, continuing without alpha")
		res.AlphaDisabled = err.Error()
		return samples
	}
	res.Predictions = preds
	res.FoldReport = report
	return samples
}

// statsStage evaluates prediction quality against realized forward returns.
func (r *Runner) statsStage(samples []alpha.Sample, res *Result) {
	if len(res.Predictions) == 0 {
		return
	}
	start := time.Now()
	defer func() { r.observe(res, "stats", time.Since(start)) }()

	realized := make(map[string]map[time.Time]float64)
	for _, s := range samples {
		if !s.HasTarget {
			continue
		}
		if realized[s.FundID] == nil {
			realized[s.FundID] = make(map[time.Time]float64)
		}
		realized[s.FundID][s.AsOf] = s.Target
	}

	diag, err := stats.Evaluate(res.Predictions, realized, res.FoldReport, r.cfg.Stats)
	if err != nil {
		r.log.Warn().Err(err).Msg("statistical evaluation failed")
		return
	}
	res.Diagnostics = diag
	r.log.Info().Float64("mean_ic", diag.MeanIC).Float64("p_value", diag.PValue).
		Bool("alpha_reliable", diag.AlphaReliable).Msg("alpha diagnostics")
}

// scoringStage fuses risk, alpha, and fundamentals into ranked composite
// scores at the run's evaluation date.
func (r *Runner) scoringStage(artifacts map[string]*fundArtifacts, res *Result) error {
	start := time.Now()
	defer func() { r.observe(res, "scoring", time.Since(start)) }()

	engine, err := scoring.NewEngine(r.cfg.Scoring.WeightConfig(), r.log)
	if err != nil {
		return err // run-wide: invalid weights abort
	}
	engine.SetDiagnostics(res.Diagnostics)

	latestPred := latestPredictions(res.Predictions)

	var inputs []scoring.Input
	for _, id := range sortedKeys(artifacts) {
		art := artifacts[id]
		inputs = append(inputs, scoring.Input{
			FundID:       id,
			Date:         res.EvaluationDate,
			Risk:         art.profile,
			Alpha:        latestPred[id],
			Fundamentals: latestFundamentals(art.vectors),
		})
	}

	scored, err := engine.Score(inputs)
	if err != nil {
		return err
	}
	res.Scores = scored.Scores
	for _, s := range scored.Skipped {
		res.Unscored = append(res.Unscored, Unscored{FundID: s.FundID, Stage: "scoring", Reason: s.Reason})
		if r.metrics != nil {
			r.metrics.FundUnscored("scoring")
		}
	}
	if r.metrics != nil {
		for range res.Scores {
			r.metrics.FundScored()
		}
	}
	return nil
}

// BuildPortfolio constructs an allocation from a completed run's ranking.
// An empty eligible universe is a run-wide error.
func (r *Runner) BuildPortfolio(res *Result, funds []series.FundSeries, benchmark *series.FundSeries) (*portfolio.Portfolio, error) {
	builder, err := portfolio.NewBuilder(r.cfg.Portfolio, r.log)
	if err != nil {
		return nil, err
	}
	returnsByFund := make(map[string]series.Returns, len(funds))
	for _, f := range funds {
		returnsByFund[f.FundID] = f.Returns(series.ReturnSimple)
	}
	var benchReturns *series.Returns
	if benchmark != nil {
		br := benchmark.Returns(series.ReturnSimple)
		benchReturns = &br
	}
	return builder.Build(res.Scores, returnsByFund, benchReturns)
}

func (r *Runner) observe(res *Result, stage string, d time.Duration) {
	res.Timings[stage] = d
	if r.metrics != nil {
		r.metrics.ObserveStage(stage, d)
	}
}

// evaluationDate is the latest as-of date any fund produced features for.
func evaluationDate(artifacts map[string]*fundArtifacts) time.Time {
	var latest time.Time
	for _, art := range artifacts {
		if n := len(art.vectors); n > 0 && art.vectors[n-1].AsOf.After(latest) {
			latest = art.vectors[n-1].AsOf
		}
	}
	return latest
}

// latestPredictions keeps each fund's most recent prediction.
func latestPredictions(preds []alpha.Prediction) map[string]*alpha.Prediction {
	out := make(map[string]*alpha.Prediction)
	for i := range preds {
		p := &preds[i]
		cur, ok := out[p.FundID]
		if !ok || p.AsOf.After(cur.AsOf) {
			out[p.FundID] = p
		}
	}
	return out
}

// latestFundamentals extracts the carried-forward fundamental ratios from a
// fund's newest feature vector. Stale snapshots are withheld so scoring
// treats them as missing.
func latestFundamentals(vectors []features.Vector) map[string]float64 {
	if len(vectors) == 0 {
		return nil
	}
	last := vectors[len(vectors)-1]
	if last.FundamentalsStale {
		return nil
	}
	out := make(map[string]float64)
	for name, v := range last.Values {
		if len(name) > 5 && name[:5] == "fund_" {
			out[name[5:]] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sortedKeys(m map[string]*fundArtifacts) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
