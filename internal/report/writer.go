package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantfund/fundrank/internal/pipeline"
	"github.com/quantfund/fundrank/internal/portfolio"
	"github.com/quantfund/fundrank/internal/scoring"
)

const dateLayout = "2006-01-02"

// Writer persists run outputs as tabular artifacts under a unique run
// directory: one row per fund/date for scores, one row per allocation line
// for portfolios.
type Writer struct {
	baseDir string
	runID   string
	log     zerolog.Logger
}

// NewWriter stamps a run directory under baseDir with the date and a short
// run id.
func NewWriter(baseDir string, log zerolog.Logger) *Writer {
	runID := uuid.NewString()[:8]
	return &Writer{
		baseDir: filepath.Join(baseDir, time.Now().Format(dateLayout), runID),
		runID:   runID,
		log:     log.With().Str("component", "report").Logger(),
	}
}

// RunID returns the short identifier stamped on this writer's artifacts.
func (w *Writer) RunID() string { return w.runID }

// Dir returns the run's artifact directory, creating it on first use.
func (w *Writer) Dir() (string, error) {
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}
	return w.baseDir, nil
}

// WriteScores emits scores.csv (one row per fund/date with the component
// breakdown) and the full result as result.json.
func (w *Writer) WriteScores(res *pipeline.Result) error {
	dir, err := w.Dir()
	if err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, "scores.csv"))
	if err != nil {
		return fmt.Errorf("creating scores.csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := []string{"rank", "fund_id", "date", "score"}
	for _, name := range componentNames(res.Scores) {
		header = append(header,
			name+"_raw", name+"_normalized", name+"_weight", name+"_contribution", name+"_status")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, s := range res.Scores {
		row := []string{
			strconv.Itoa(i + 1),
			s.FundID,
			s.Date.Format(dateLayout),
			formatFloat(s.Score),
		}
		for _, c := range s.Components {
			status := "computed"
			if c.Excluded {
				status = "excluded: " + c.Reason
			} else if c.Reason != "" {
				status = c.Reason
			}
			row = append(row,
				formatFloat(c.Raw), formatFloat(c.Normalized),
				formatFloat(c.Weight), formatFloat(c.Contribution), status)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing scores.csv: %w", err)
	}

	if err := w.writeJSON("result.json", res); err != nil {
		return err
	}
	w.log.Info().Str("dir", dir).Int("scores", len(res.Scores)).Msg("artifacts written")
	return nil
}

// WritePortfolio emits portfolio.csv (one row per allocation line) and
// portfolio.json with the aggregate profile.
func (w *Writer) WritePortfolio(p *portfolio.Portfolio) error {
	dir, err := w.Dir()
	if err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, "portfolio.csv"))
	if err != nil {
		return fmt.Errorf("creating portfolio.csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"fund_id", "weight", "score", "rule"}); err != nil {
		return err
	}
	for _, h := range p.Holdings {
		if err := cw.Write([]string{
			h.FundID, formatFloat(h.Weight), formatFloat(h.Score), string(p.Rule),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing portfolio.csv: %w", err)
	}
	return w.writeJSON("portfolio.json", p)
}

func (w *Writer) writeJSON(name string, v any) error {
	dir, err := w.Dir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// componentNames returns the breakdown column order from the first score;
// the engine emits identical component sets for every fund.
func componentNames(scores []scoring.CompositeScore) []string {
	if len(scores) == 0 {
		return nil
	}
	names := make([]string, 0, len(scores[0].Components))
	for _, c := range scores[0].Components {
		names = append(names, c.Name)
	}
	return names
}

// formatFloat keeps undefined-friendly output: NaN prints empty rather than
// a misleading number.
func formatFloat(v float64) string {
	if v != v {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}
