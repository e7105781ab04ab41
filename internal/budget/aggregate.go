// Package budget turns a week of categorized transactions into per-category
// variances and an overall surplus or deficit.
package budget

import (
	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-autopilot/internal/domain"
)

// Aggregation holds the per-category spend of a week.
type Aggregation struct {
	// Actual has an entry for every known category, zero when nothing matched.
	Actual map[string]decimal.Decimal
	// UncategorizedTotal sums transactions whose category is empty or unknown.
	UncategorizedTotal decimal.Decimal
	UncategorizedCount int
	TransactionCount   int
}

// Aggregate sums transaction amounts by category name. Transactions that do
// not match a known category are counted separately instead of failing.
func Aggregate(transactions []domain.Transaction, categories []domain.Category) Aggregation {
	agg := Aggregation{
		Actual:             make(map[string]decimal.Decimal, len(categories)),
		UncategorizedTotal: decimal.Zero,
		TransactionCount:   len(transactions),
	}
	for _, c := range categories {
		agg.Actual[c.Name] = decimal.Zero
	}

	for _, tx := range transactions {
		sum, known := agg.Actual[tx.Category]
		if !known || !tx.IsCategorized() {
			agg.UncategorizedTotal = agg.UncategorizedTotal.Add(tx.Amount)
			agg.UncategorizedCount++
			continue
		}
		agg.Actual[tx.Category] = sum.Add(tx.Amount)
	}
	return agg
}

// CategorizedTotal is the sum of all per-category actuals.
func (a Aggregation) CategorizedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, v := range a.Actual {
		total = total.Add(v)
	}
	return total
}
