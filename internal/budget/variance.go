package budget

import (
	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-autopilot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Tolerance is the largest difference allowed between independently derived
// totals.
var Tolerance = decimal.New(1, -domain.AmountPlaces)

// CalculateVariance compares the budgeted and actual amounts of a category.
// The percentage is left nil for a zero budget.
func CalculateVariance(category string, budgeted, actual decimal.Decimal) domain.CategoryVariance {
	v := domain.CategoryVariance{
		Category: category,
		Budgeted: budgeted,
		Actual:   actual,
		Variance: budgeted.Sub(actual),
	}
	if !budgeted.IsZero() {
		pct := v.Variance.Div(budgeted).Mul(hundred).Round(domain.AmountPlaces)
		v.VariancePercent = &pct
	}
	return v
}

// Totals summarises a set of category variances.
type Totals struct {
	Budget   decimal.Decimal
	Actual   decimal.Decimal
	Variance decimal.Decimal
	Status   domain.BudgetStatus
}

// CalculateTotal sums the variances. Amounts are rounded half away from zero
// to two places. A week that exactly breaks even is a deficit.
func CalculateTotal(variances []domain.CategoryVariance) Totals {
	budget, actual, variance := decimal.Zero, decimal.Zero, decimal.Zero
	for _, v := range variances {
		budget = budget.Add(v.Budgeted)
		actual = actual.Add(v.Actual)
		variance = variance.Add(v.Variance)
	}

	t := Totals{
		Budget:   budget.Round(domain.AmountPlaces),
		Actual:   actual.Round(domain.AmountPlaces),
		Variance: variance.Round(domain.AmountPlaces),
		Status:   domain.StatusDeficit,
	}
	if t.Variance.IsPositive() {
		t.Status = domain.StatusSurplus
	}
	return t
}

// TransferAmount is the surplus available for savings, zero unless the week
// is a surplus.
func (t Totals) TransferAmount() decimal.Decimal {
	if t.Status != domain.StatusSurplus {
		return decimal.Zero
	}
	return t.Variance.Round(domain.AmountPlaces)
}

// withinTolerance reports whether a and b differ by at most Tolerance.
func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
