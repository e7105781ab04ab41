package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
)

type CategoryRow struct {
	CategoryName string            `bigquery:"category_name"` // REQUIRED
	WeeklyBudget *big.Rat          `bigquery:"weekly_budget"` // REQUIRED NUMERIC
	IsActive     bigquery.NullBool `bigquery:"is_active"`     // NULLABLE
}

// ReadCategories returns the active budget categories ordered by name.
func (s *Store) ReadCategories(ctx context.Context) ([]domain.Category, error) {
	const op = "bigquery.ReadCategories"

	q := s.client.Query(fmt.Sprintf(`
		SELECT
		  category_name,
		  weekly_budget,
		  is_active
		FROM %s
		WHERE COALESCE(is_active, TRUE)
		ORDER BY category_name
	`, s.table(categoriesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, classify(op, "query read", err)
	}

	var rows []CategoryRow
	for {
		var r CategoryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify(op, "iter next", err)
		}
		rows = append(rows, r)
	}

	categories := make([]domain.Category, 0, len(rows))
	for _, r := range rows {
		c, err := categoryFromRow(r)
		if err != nil {
			return nil, apperror.Validation(op, "invalid category row", err)
		}
		categories = append(categories, c)
	}
	return categories, nil
}

func categoryFromRow(r CategoryRow) (domain.Category, error) {
	name := strings.TrimSpace(r.CategoryName)
	if name == "" {
		return domain.Category{}, fmt.Errorf("category without a name")
	}
	budget, err := decimalFromRat(r.WeeklyBudget)
	if err != nil {
		return domain.Category{}, fmt.Errorf("category %q: %w", name, err)
	}
	return domain.Category{Name: name, WeeklyBudget: budget}, nil
}

// numericScale is the number of decimal places of a BigQuery NUMERIC.
const numericScale = 9

func decimalFromRat(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, fmt.Errorf("missing NUMERIC value")
	}
	return decimal.NewFromString(r.FloatString(numericScale))
}

func ratFromDecimal(d decimal.Decimal) *big.Rat {
	return d.Round(numericScale).Rat()
}
