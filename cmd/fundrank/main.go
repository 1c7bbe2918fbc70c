package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "fundrank"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Rank investment funds and evaluate candidate portfolios",
		Version: version,
		Long: `fundrank combines technical signals, fundamental ratios, risk metrics,
and a walk-forward-validated alpha model into one composite score per fund,
then evaluates candidate portfolios built from the top-ranked funds.`,
	}

	rankCmd := &cobra.Command{
		Use:   "rank",
		Short: "Run the analytics pipeline and print the composite ranking",
		Long:  "Feature engineering, risk metrics, walk-forward alpha, and composite scoring over a fund universe",
		RunE:  runRank,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the fundrank version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}

	portfolioCmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Rank funds, then construct and evaluate a portfolio",
		Long:  "Runs the full ranking pipeline and applies a construction rule to the top of the list",
		RunE:  runPortfolio,
	}

	for _, cmd := range []*cobra.Command{rankCmd, portfolioCmd} {
		cmd.Flags().String("input", "", "Fund series CSV (fund_id,date,price,volume[,fundamentals...])")
		cmd.Flags().String("benchmark", "", "Benchmark CSV (date,price), optional")
		cmd.Flags().String("config", "", "Run configuration YAML, optional")
		cmd.Flags().String("out", "artifacts", "Artifact output directory")
		cmd.Flags().Int("top-n", 20, "Rows to show in the ranking table")
		cmd.Flags().Int("workers", 0, "Parallel fund workers (0 = config default)")
		_ = cmd.MarkFlagRequired("input")
	}
	portfolioCmd.Flags().String("rule", "", "Construction rule (top-n-equal|score-proportional|min-variance)")
	portfolioCmd.Flags().Int("n", 0, "Number of constituents (0 = config default)")

	rootCmd.AddCommand(rankCmd, portfolioCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
