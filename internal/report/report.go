// Package report renders run results on stdout. Structured logs go to stderr;
// these tables are the summary an operator reads after a run.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/app"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/backlog"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
	"github.com/stembridge-labs/grant-screening-pipeline/internal/util"
)

const rationaleWidth = 75

// Run prints the screening report: written results grouped by verdict, then a
// per-grant summary table, then the run totals.
func Run(w io.Writer, sum app.Summary) {
	rule := strings.Repeat("=", 50)
	_, _ = fmt.Fprintf(w, "\n%s\nSCREENING REPORT\n%s\n", rule, rule)

	for _, v := range []screening.Verdict{screening.VerdictGreen, screening.VerdictYellow, screening.VerdictRed} {
		bucket := writtenWithVerdict(sum, v)
		if len(bucket) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "\n%s (%d):\n", v, len(bucket))
		for _, o := range bucket {
			_, _ = fmt.Fprintf(w, "- %s: %s\n", o.Grant.Foundation, o.Result.Rationale)
			_, _ = fmt.Fprintf(w, "  Confidence: %.2f, Amount: %s\n", o.Result.Confidence, orNA(o.Grant.Amount))
			if urls := o.Result.SourceURLs(); len(urls) > 0 {
				if len(urls) > 3 {
					urls = urls[:3]
				}
				_, _ = fmt.Fprintf(w, "  Sources: %s\n", strings.Join(urls, ", "))
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\n%s\nSUMMARY TABLE\n%s\n", rule, rule)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Foundation", "Outcome", "Verdict", "Conf", "Detail"})
	for _, o := range sum.Outcomes {
		t.AppendRow(outcomeRow(o))
	}
	t.Render()

	_, _ = fmt.Fprintf(w, "\n%d written, %d skipped, %d failed in %s\n",
		sum.Written, sum.Skipped, sum.Failed, sum.Elapsed.Round(time.Second))
}

func outcomeRow(o app.Outcome) table.Row {
	switch o.Status {
	case app.StatusWritten:
		return table.Row{
			o.Grant.Foundation,
			string(o.Status),
			string(o.Result.Verdict),
			fmt.Sprintf("%.2f", o.Result.Confidence),
			truncate(o.Result.Rationale, rationaleWidth),
		}
	default:
		return table.Row{
			o.Grant.Foundation,
			string(o.Status),
			"",
			"",
			truncate(util.RedactSecrets(o.Reason), rationaleWidth),
		}
	}
}

func writtenWithVerdict(sum app.Summary, v screening.Verdict) []app.Outcome {
	var out []app.Outcome
	for _, o := range sum.Outcomes {
		if o.Status == app.StatusWritten && o.Result.Verdict == v {
			out = append(out, o)
		}
	}
	return out
}

// StageBreakdown prints the per-stage row counts with the screening stage
// marked, plus a total footer.
func StageBreakdown(w io.Writer, counts []backlog.StageCount, backlogStage string) {
	_, _ = fmt.Fprintln(w, "Stage breakdown:")
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Stage", "Rows", ""})
	total := 0
	for _, sc := range counts {
		marker := ""
		if sc.Stage == backlogStage {
			marker = "<-- backlog"
		}
		t.AppendRow(table.Row{sc.Stage, sc.Count, marker})
		total += sc.Count
	}
	t.AppendFooter(table.Row{"Total", total, ""})
	t.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + ".."
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
