package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-autopilot/internal/domain"
)

// RenderedReport is the weekly report ready to send.
type RenderedReport struct {
	Subject     string
	Body        string
	Attachments []domain.Attachment
}

// RenderReport builds the email subject, body and attachments for a run.
func RenderReport(run RunContext, state *State) (RenderedReport, error) {
	if state.Analysis == nil {
		return RenderedReport{}, fmt.Errorf("RenderReport: no analysis")
	}
	result := state.Analysis

	var b strings.Builder
	fmt.Fprintf(&b, "Budget report for %s\n\n", run.WeekLabel())
	fmt.Fprintf(&b, "Budget:   %s\n", money(result.TotalBudget))
	fmt.Fprintf(&b, "Spent:    %s\n", money(result.TotalActual))
	fmt.Fprintf(&b, "Variance: %s (%s)\n\n", money(result.TotalVariance), result.Status)

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Category\tBudget\tSpent\tVariance\t%\t")
	for _, v := range result.Categories {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", v.Category, money(v.Budgeted), money(v.Actual), money(v.Variance), percent(v))
	}
	if err := tw.Flush(); err != nil {
		return RenderedReport{}, fmt.Errorf("RenderReport: table: %w", err)
	}

	if result.UncategorizedCount > 0 {
		fmt.Fprintf(&b, "\n%d uncategorized transactions totalling %s are not in the table.\n",
			result.UncategorizedCount, money(result.UncategorizedTotal))
	}

	if state.Insight != "" {
		fmt.Fprintf(&b, "\n%s\n", state.Insight)
	}

	fmt.Fprintf(&b, "\n%s\n", transferIntent(result))

	csvData, err := VarianceCSV(result)
	if err != nil {
		return RenderedReport{}, err
	}
	body := b.String()

	return RenderedReport{
		Subject: "Weekly budget report: " + run.WeekLabel(),
		Body:    body,
		Attachments: []domain.Attachment{
			{Filename: VarianceFilename(run.WeekStart), ContentType: "text/csv", Data: csvData},
			{Filename: ReportFilename(run.WeekStart), ContentType: "text/plain; charset=utf-8", Data: []byte(body)},
		},
	}, nil
}

// ReportFilename is the name of the text report of the week starting at
// weekStart.
func ReportFilename(weekStart time.Time) string {
	return "report-" + weekStart.Format(dateLayout) + ".txt"
}

// VarianceFilename is the name of the week's per-category CSV.
func VarianceFilename(weekStart time.Time) string {
	return "variance-" + weekStart.Format(dateLayout) + ".csv"
}

// VarianceCSV renders the per-category variances as CSV.
func VarianceCSV(result *domain.BudgetAnalysisResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{{"category", "budgeted", "actual", "variance", "variance_percent"}}
	for _, v := range result.Categories {
		pct := ""
		if v.VariancePercent != nil {
			pct = v.VariancePercent.StringFixed(domain.AmountPlaces)
		}
		rows = append(rows, []string{v.Category, money(v.Budgeted), money(v.Actual), money(v.Variance), pct})
	}
	rows = append(rows,
		[]string{domain.UncategorizedCategory, "", money(result.UncategorizedTotal), "", ""},
		[]string{"TOTAL", money(result.TotalBudget), money(result.TotalActual), money(result.TotalVariance), ""},
	)

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("VarianceCSV: %w", err)
	}
	return buf.Bytes(), nil
}

// SummaryInsight describes the week from the figures alone.
func SummaryInsight(result *domain.BudgetAnalysisResult) string {
	if result == nil {
		return ""
	}

	var over []string
	for _, v := range result.Categories {
		if v.OverBudget() {
			over = append(over, fmt.Sprintf("%s by %s", v.Category, money(v.Variance.Neg())))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You spent %s of a %s budget this week", money(result.TotalActual), money(result.TotalBudget))
	switch {
	case result.Status == domain.StatusSurplus:
		fmt.Fprintf(&b, ", leaving %s unspent.", money(result.TotalVariance))
	case result.TotalVariance.IsZero():
		b.WriteString(", exactly on budget.")
	default:
		fmt.Fprintf(&b, ", %s over budget.", money(result.TotalVariance.Neg()))
	}
	if len(over) > 0 {
		fmt.Fprintf(&b, " Over budget: %s.", strings.Join(over, ", "))
	}
	return b.String()
}

func transferIntent(result *domain.BudgetAnalysisResult) string {
	if result.Status == domain.StatusSurplus {
		return fmt.Sprintf("A transfer of %s to savings will be attempted.", money(result.TransferAmount))
	}
	return "No savings transfer this week."
}

func money(d decimal.Decimal) string {
	return d.StringFixed(domain.AmountPlaces)
}

func percent(v domain.CategoryVariance) string {
	if v.VariancePercent == nil {
		return "n/a"
	}
	return v.VariancePercent.StringFixed(domain.AmountPlaces)
}
