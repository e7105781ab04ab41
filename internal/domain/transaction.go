package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UncategorizedCategory is assigned when no known category could be resolved
// for a transaction location.
const UncategorizedCategory = "Uncategorized"

// Transaction is one bank transaction for the analysed week.
// Amount is signed: spending is positive, refunds and income are negative,
// which matches how the budget store records weekly spend.
// Timestamp is normalized to the run's reference timezone by the source client.
type Transaction struct {
	ID         string          // store key, assigned by the retrieval stage
	ExternalID string          // source-side identifier used for dedup, may be empty
	Location   string          // merchant / payee as reported by the bank
	Amount     decimal.Decimal // currency units
	Timestamp  time.Time
	Category   string // empty until the categorization stage runs
}

// IsCategorized reports whether the transaction carries a category other than
// the uncategorized marker.
func (t Transaction) IsCategorized() bool {
	return t.Category != "" && t.Category != UncategorizedCategory
}

// Category is a budget line with its planned weekly amount.
type Category struct {
	Name         string
	WeeklyBudget decimal.Decimal
}

// CategoryNames returns the names of the given categories in order.
func CategoryNames(categories []Category) []string {
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}
	return names
}
