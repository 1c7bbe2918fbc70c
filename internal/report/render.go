package report

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/quantfund/fundrank/internal/pipeline"
	"github.com/quantfund/fundrank/internal/portfolio"
	"github.com/quantfund/fundrank/internal/risk"
)

// RenderScores prints the ranking as a console table, top N rows.
func RenderScores(out io.Writer, res *pipeline.Result, topN int) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Fund", "Score", "Sharpe", "Max DD", "VaR", "Alpha", "Status"})

	for i, s := range res.Scores {
		if topN > 0 && i >= topN {
			break
		}
		profile := res.Profiles[s.FundID]
		alphaCell := ""
		for _, c := range s.Components {
			if c.Name != "alpha" {
				continue
			}
			if c.Excluded {
				alphaCell = "-"
			} else {
				alphaCell = fmt.Sprintf("%.4f", c.Raw)
			}
		}
		t.AppendRow(table.Row{
			i + 1,
			s.FundID,
			fmt.Sprintf("%.4f", s.Score),
			metricCell(profile, risk.MetricSharpe),
			metricCell(profile, risk.MetricMaxDrawdown),
			metricCell(profile, risk.MetricVaR),
			alphaCell,
			"scored",
		})
	}
	for _, u := range res.Unscored {
		t.AppendRow(table.Row{"", u.FundID, "", "", "", "", "", "unscored (" + u.Stage + ")"})
	}
	t.Render()
}

// RenderPortfolio prints the allocation and its aggregate statistics.
func RenderPortfolio(out io.Writer, p *portfolio.Portfolio) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("Portfolio (%s)", p.Rule))
	t.AppendHeader(table.Row{"Fund", "Weight", "Score"})
	for _, h := range p.Holdings {
		t.AppendRow(table.Row{h.FundID, fmt.Sprintf("%.2f%%", h.Weight*100), fmt.Sprintf("%.4f", h.Score)})
	}
	t.AppendFooter(table.Row{"Effective N", fmt.Sprintf("%.2f", p.EffectiveN), ""})
	t.Render()

	if p.Aggregate == nil {
		return
	}
	a := table.NewWriter()
	a.SetOutputMirror(out)
	a.SetStyle(table.StyleLight)
	a.SetTitle("Aggregate risk")
	a.AppendHeader(table.Row{"Metric", "Value"})
	for _, name := range []string{
		risk.MetricAvgReturn, risk.MetricVolatility, risk.MetricSharpe, risk.MetricSortino,
		risk.MetricMaxDrawdown, risk.MetricVaR, risk.MetricCVaR, risk.MetricBeta,
	} {
		a.AppendRow(table.Row{name, metricCell(p.Aggregate, name)})
	}
	if p.AvgCorrelation.Defined {
		a.AppendRow(table.Row{"avg_pairwise_correlation", fmt.Sprintf("%.4f", p.AvgCorrelation.V)})
	}
	a.Render()
}

// metricCell renders a profile metric, an explicit marker when undefined.
func metricCell(p *risk.Profile, name string) string {
	v := p.Metric(name)
	if !v.Defined {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", v.V)
}
