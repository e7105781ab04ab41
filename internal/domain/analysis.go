package domain

import "github.com/shopspring/decimal"

// AmountPlaces is the precision used when amounts are displayed or compared.
const AmountPlaces = 2

// BudgetStatus is the overall outcome of a week.
type BudgetStatus string

const (
	StatusSurplus BudgetStatus = "surplus"
	StatusDeficit BudgetStatus = "deficit"
)

// CategoryVariance compares planned and actual spend for one category.
// VariancePercent is nil when the budget is zero.
type CategoryVariance struct {
	Category        string           `json:"category"`
	Budgeted        decimal.Decimal  `json:"budgeted"`
	Actual          decimal.Decimal  `json:"actual"`
	Variance        decimal.Decimal  `json:"variance"`
	VariancePercent *decimal.Decimal `json:"variance_percent"`
}

// OverBudget reports whether actual spend exceeded the budget.
func (v CategoryVariance) OverBudget() bool {
	return v.Variance.IsNegative()
}

// BudgetAnalysisResult is the output of the analysis stage.
//
// TotalVariance always equals TotalBudget - TotalActual at AmountPlaces, and
// TransferAmount is max(TotalVariance, 0) rounded to AmountPlaces.
type BudgetAnalysisResult struct {
	TotalBudget        decimal.Decimal    `json:"total_budget"`
	TotalActual        decimal.Decimal    `json:"total_actual"`
	TotalVariance      decimal.Decimal    `json:"total_variance"`
	Categories         []CategoryVariance `json:"categories"`
	UncategorizedTotal decimal.Decimal    `json:"uncategorized_total"`
	UncategorizedCount int                `json:"uncategorized_count"`
	Status             BudgetStatus       `json:"status"`
	TransferAmount     decimal.Decimal    `json:"transfer_amount"`
	TransactionCount   int                `json:"transaction_count"`
}

// Variance returns the variance entry for a category name.
func (r *BudgetAnalysisResult) Variance(category string) (CategoryVariance, bool) {
	for _, v := range r.Categories {
		if v.Category == category {
			return v, true
		}
	}
	return CategoryVariance{}, false
}
