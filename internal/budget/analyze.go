package budget

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
)

const opAnalyze = "budget.Analyze"

// Analyze aggregates the transactions against the categories and computes the
// week's variances, totals and transfer amount.
func Analyze(transactions []domain.Transaction, categories []domain.Category) (*domain.BudgetAnalysisResult, error) {
	if len(categories) == 0 {
		return nil, apperror.Critical(opAnalyze, "no budget categories", nil)
	}
	if err := checkCategories(categories); err != nil {
		return nil, err
	}

	agg := Aggregate(transactions, categories)

	variances := make([]domain.CategoryVariance, 0, len(categories))
	for _, c := range categories {
		variances = append(variances, CalculateVariance(c.Name, c.WeeklyBudget, agg.Actual[c.Name]))
	}
	totals := CalculateTotal(variances)

	result := &domain.BudgetAnalysisResult{
		TotalBudget:        totals.Budget,
		TotalActual:        totals.Actual,
		TotalVariance:      totals.Variance,
		Categories:         variances,
		UncategorizedTotal: agg.UncategorizedTotal.Round(domain.AmountPlaces),
		UncategorizedCount: agg.UncategorizedCount,
		Status:             totals.Status,
		TransferAmount:     totals.TransferAmount(),
		TransactionCount:   agg.TransactionCount,
	}

	if err := CheckInvariants(result); err != nil {
		return nil, err
	}
	return result, nil
}

// CheckInvariants verifies that the totals of a result agree with its
// categories and with each other.
func CheckInvariants(r *domain.BudgetAnalysisResult) error {
	budget, actual := decimal.Zero, decimal.Zero
	for _, v := range r.Categories {
		budget = budget.Add(v.Budgeted)
		actual = actual.Add(v.Actual)
	}

	var problems []string
	if !withinTolerance(budget, r.TotalBudget) {
		problems = append(problems, fmt.Sprintf("category budgets sum to %s, total budget is %s", budget, r.TotalBudget))
	}
	if !withinTolerance(actual, r.TotalActual) {
		problems = append(problems, fmt.Sprintf("category actuals sum to %s, total actual is %s", actual, r.TotalActual))
	}
	if !withinTolerance(r.TotalBudget.Sub(r.TotalActual), r.TotalVariance) {
		problems = append(problems, fmt.Sprintf("total variance %s does not match %s - %s", r.TotalVariance, r.TotalBudget, r.TotalActual))
	}

	surplus := r.TotalVariance.IsPositive()
	switch {
	case surplus && r.Status != domain.StatusSurplus, !surplus && r.Status != domain.StatusDeficit:
		problems = append(problems, fmt.Sprintf("status %s does not match total variance %s", r.Status, r.TotalVariance))
	case r.Status == domain.StatusDeficit && !r.TransferAmount.IsZero():
		problems = append(problems, fmt.Sprintf("deficit week carries transfer amount %s", r.TransferAmount))
	case r.Status == domain.StatusSurplus && !r.TransferAmount.Equal(r.TotalVariance.Round(domain.AmountPlaces)):
		problems = append(problems, fmt.Sprintf("transfer amount %s does not match surplus %s", r.TransferAmount, r.TotalVariance))
	}

	if len(problems) > 0 {
		return apperror.Critical(opAnalyze, "analysis invariant violated: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

func checkCategories(categories []domain.Category) error {
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		if strings.TrimSpace(c.Name) == "" {
			return apperror.Validation(opAnalyze, "category with empty name", nil)
		}
		if strings.EqualFold(strings.TrimSpace(c.Name), domain.UncategorizedCategory) {
			return apperror.Validation(opAnalyze, fmt.Sprintf("category name %q is reserved", c.Name), nil)
		}
		if _, dup := seen[c.Name]; dup {
			return apperror.Validation(opAnalyze, fmt.Sprintf("duplicate category %q", c.Name), nil)
		}
		if c.WeeklyBudget.IsNegative() {
			return apperror.Validation(opAnalyze, fmt.Sprintf("category %q has negative budget %s", c.Name, c.WeeklyBudget), nil)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}
