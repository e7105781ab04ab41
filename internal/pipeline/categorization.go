package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/logger"
	"github.com/dvloznov/budget-autopilot/internal/retry"
)

// CategorizationStage assigns a category to every transaction by location.
type CategorizationStage struct {
	Generator InsightGenerator
	Store     BudgetStore
	Exec      *retry.Executor
	// CoverageThreshold is the share of transactions that must end up with a
	// known category before the stage warns.
	CoverageThreshold float64
	// SimilarityThreshold is the minimum ratio for a fuzzy category match.
	SimilarityThreshold float64
}

func (s *CategorizationStage) Name() StageName { return StageCategorization }

func (s *CategorizationStage) Execute(ctx context.Context, run RunContext, state *State) StageStatus {
	log := logger.FromContext(ctx)
	names := domain.CategoryNames(state.Categories)
	resolver := NewCategoryResolver(names, s.similarityThreshold())

	locations := pendingLocations(state.Transactions)
	if len(locations) == 0 {
		state.Coverage = coverage(state.Transactions, state.Categories)
		return s.withCoverage(succeeded(StageCategorization), state)
	}

	res := retry.Do(ctx, s.Exec, retry.Call{Class: classGenerate, Operation: "gemini.categorize"},
		func(ctx context.Context) (map[string]string, error) {
			return s.Generator.Categorize(ctx, locations, names)
		})
	if !res.OK() {
		return failedWith(StageCategorization, res.Err)
	}

	proposals := make(map[string]string, len(res.Value))
	for location, category := range res.Value {
		proposals[normalizeCategory(location)] = category
	}

	counts := map[MatchKind]int{}
	changed := make([]domain.Transaction, 0, len(state.Transactions))
	for i := range state.Transactions {
		tx := &state.Transactions[i]
		if tx.Category != "" {
			continue
		}
		category, kind := resolver.Resolve(proposals[normalizeCategory(tx.Location)])
		tx.Category = category
		counts[kind]++
		changed = append(changed, *tx)
	}
	state.Coverage = coverage(state.Transactions, state.Categories)

	status := succeeded(StageCategorization)
	if counts[MatchFuzzy] > 0 {
		status.warn(fmt.Sprintf("%d categories resolved by fuzzy match", counts[MatchFuzzy]))
	}
	s.writeBack(ctx, changed, &status)

	log.Info().
		Int("transactions", len(state.Transactions)).
		Int("exact", counts[MatchExact]+counts[MatchNormalized]).
		Int("fuzzy", counts[MatchFuzzy]).
		Int("uncategorized", counts[MatchNone]).
		Float64("coverage", state.Coverage).
		Msg("Categorized transactions")
	return s.withCoverage(status, state)
}

// Fallback marks every transaction without a category as uncategorized.
func (s *CategorizationStage) Fallback(ctx context.Context, run RunContext, state *State, failed StageStatus) StageStatus {
	changed := make([]domain.Transaction, 0, len(state.Transactions))
	for i := range state.Transactions {
		if state.Transactions[i].Category == "" {
			state.Transactions[i].Category = domain.UncategorizedCategory
			changed = append(changed, state.Transactions[i])
		}
	}
	state.Coverage = coverage(state.Transactions, state.Categories)

	status := failed
	status.Degraded = true
	status.warn(fmt.Sprintf("categorization unavailable, %d transactions marked %s", len(changed), domain.UncategorizedCategory))
	s.writeBack(ctx, changed, &status)
	return s.withCoverage(status, state)
}

func (s *CategorizationStage) writeBack(ctx context.Context, changed []domain.Transaction, status *StageStatus) {
	if len(changed) == 0 || s.Store == nil {
		return
	}
	out := retry.Run(ctx, s.Exec, retry.Call{Class: classStore, Operation: "store.write_categories"},
		func(ctx context.Context) error {
			return s.Store.WriteCategoriesFor(ctx, changed)
		})
	if !out.OK() {
		status.warn("categories not saved to the budget store: " + out.Err.Error())
	}
}

func (s *CategorizationStage) withCoverage(status StageStatus, state *State) StageStatus {
	threshold := s.CoverageThreshold
	if threshold <= 0 {
		threshold = DefaultCoverageThreshold
	}
	if state.Coverage < threshold {
		status.warn(fmt.Sprintf("categorization coverage %.1f%% below %.1f%%", state.Coverage*100, threshold*100))
	}
	return status
}

func (s *CategorizationStage) similarityThreshold() float64 {
	if s.SimilarityThreshold <= 0 {
		return DefaultSimilarityThreshold
	}
	return s.SimilarityThreshold
}

// pendingLocations returns the distinct locations of transactions without a
// category, sorted.
func pendingLocations(txs []domain.Transaction) []string {
	seen := make(map[string]struct{})
	var locations []string
	for _, tx := range txs {
		if tx.Category != "" {
			continue
		}
		if _, ok := seen[tx.Location]; ok {
			continue
		}
		seen[tx.Location] = struct{}{}
		locations = append(locations, tx.Location)
	}
	sort.Strings(locations)
	return locations
}

// coverage is the share of transactions assigned to one of the categories.
// An empty week is fully covered.
func coverage(txs []domain.Transaction, categories []domain.Category) float64 {
	if len(txs) == 0 {
		return 1
	}
	known := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		known[c.Name] = struct{}{}
	}
	n := 0
	for _, tx := range txs {
		if _, ok := known[tx.Category]; ok && tx.IsCategorized() {
			n++
		}
	}
	return float64(n) / float64(len(txs))
}
