package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantfund/fundrank/internal/config"
	"github.com/quantfund/fundrank/internal/dataload"
	"github.com/quantfund/fundrank/internal/pipeline"
	"github.com/quantfund/fundrank/internal/portfolio"
	"github.com/quantfund/fundrank/internal/report"
	"github.com/quantfund/fundrank/internal/series"
	"github.com/quantfund/fundrank/internal/telemetry"
)

// runContext bundles everything a command execution produced.
type runContext struct {
	cfg     config.RunConfig
	funds   []series.FundSeries
	bench   *series.FundSeries
	runner  *pipeline.Runner
	writer  *report.Writer
	metrics *telemetry.Metrics
	result  *pipeline.Result
}

func runRank(cmd *cobra.Command, args []string) error {
	rc, err := executePipeline(cmd)
	if err != nil {
		return err
	}
	return finishRun(cmd, rc)
}

func runPortfolio(cmd *cobra.Command, args []string) error {
	rc, err := executePipeline(cmd)
	if err != nil {
		return err
	}

	p, err := rc.runner.BuildPortfolio(rc.result, rc.funds, rc.bench)
	if err != nil {
		return fmt.Errorf("building portfolio: %w", err)
	}
	report.RenderPortfolio(os.Stdout, p)
	if err := rc.writer.WritePortfolio(p); err != nil {
		return err
	}
	return finishRun(cmd, rc)
}

// executePipeline loads inputs, applies flag overrides, and runs the
// analytics pipeline.
func executePipeline(cmd *cobra.Command) (*runContext, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	input, _ := cmd.Flags().GetString("input")
	funds, err := dataload.LoadFunds(input)
	if err != nil {
		return nil, fmt.Errorf("loading fund series: %w", err)
	}
	log.Info().Int("funds", len(funds)).Str("input", input).Msg("fund universe loaded")

	var bench *series.FundSeries
	if path, _ := cmd.Flags().GetString("benchmark"); path != "" {
		bench, err = dataload.LoadBenchmark(path)
		if err != nil {
			return nil, fmt.Errorf("loading benchmark: %w", err)
		}
	}

	metrics := telemetry.NewMetrics()
	runner, err := pipeline.NewRunner(cfg, log.Logger, metrics)
	if err != nil {
		return nil, err
	}

	result, err := runner.Run(cmd.Context(), funds, bench)
	if err != nil {
		return nil, err
	}

	outDir, _ := cmd.Flags().GetString("out")
	return &runContext{
		cfg:     cfg,
		funds:   funds,
		bench:   bench,
		runner:  runner,
		writer:  report.NewWriter(outDir, log.Logger),
		metrics: metrics,
		result:  result,
	}, nil
}

// finishRun renders the ranking and persists artifacts plus the metrics
// snapshot.
func finishRun(cmd *cobra.Command, rc *runContext) error {
	topN, _ := cmd.Flags().GetInt("top-n")
	report.RenderScores(os.Stdout, rc.result, topN)

	if err := rc.writer.WriteScores(rc.result); err != nil {
		return err
	}
	dir, err := rc.writer.Dir()
	if err != nil {
		return err
	}
	if _, err := rc.metrics.WriteSnapshot(dir); err != nil {
		log.Warn().Err(err).Msg("metrics snapshot failed")
	}
	log.Info().Str("run_id", rc.writer.RunID()).Str("dir", dir).Msg("done")
	return nil
}

// loadConfig reads the YAML configuration when given and layers CLI flag
// overrides on top.
func loadConfig(cmd *cobra.Command) (config.RunConfig, error) {
	cfg := config.DefaultRunConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return cfg, err
		}
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Workers = workers
	}
	if cmd.Flags().Lookup("rule") != nil {
		if rule, _ := cmd.Flags().GetString("rule"); rule != "" {
			cfg.Portfolio.Rule = portfolio.Rule(rule)
		}
		if n, _ := cmd.Flags().GetInt("n"); n > 0 {
			cfg.Portfolio.TopN = n
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
