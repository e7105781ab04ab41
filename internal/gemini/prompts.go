package gemini

import (
	"fmt"
	"strings"

	"github.com/dvloznov/budget-autopilot/internal/domain"
)

// buildCategorizePrompt asks for a strict JSON object mapping each location
// to one of the category names.
func buildCategorizePrompt(locations, categories []string) string {
	var b strings.Builder
	b.WriteString("You are a personal finance assistant that categorizes bank transactions by merchant.\n\n")

	b.WriteString("Use ONLY the following categories:\n")
	for _, c := range categories {
		b.WriteString("  - " + c + "\n")
	}

	b.WriteString("\nMerchants / locations:\n")
	for _, l := range locations {
		b.WriteString("  - " + l + "\n")
	}

	b.WriteString("\nCATEGORY ASSIGNMENT RULES:\n")
	b.WriteString("1. Category must be EXACTLY one of the category names shown above (case-sensitive).\n")
	b.WriteString("2. Every location listed above must appear exactly once as a key, spelled exactly as given.\n")
	fmt.Fprintf(&b, "3. If you are unsure, use category %q.\n", domain.UncategorizedCategory)
	b.WriteString("\nReturn ONLY a valid raw JSON object of the form {\"<location>\": \"<category>\"}.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Output must begin with \"{\" and end with \"}\".\n")
	return b.String()
}

const insightSystemPrompt = "You write short, friendly weekly budget summaries. " +
	"Use only the figures you are given. Write 3 to 5 sentences of plain text without Markdown."

// buildInsightPrompt lists the week's figures for the narrative.
func buildInsightPrompt(r *domain.BudgetAnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total budget: %s\n", r.TotalBudget.StringFixed(domain.AmountPlaces))
	fmt.Fprintf(&b, "Total spent: %s\n", r.TotalActual.StringFixed(domain.AmountPlaces))
	fmt.Fprintf(&b, "Total variance (budget minus spent): %s\n", r.TotalVariance.StringFixed(domain.AmountPlaces))
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	if r.UncategorizedCount > 0 {
		fmt.Fprintf(&b, "Uncategorized: %d transactions, %s\n", r.UncategorizedCount, r.UncategorizedTotal.StringFixed(domain.AmountPlaces))
	}

	b.WriteString("\nCategories (budget / spent / variance):\n")
	for _, v := range r.Categories {
		fmt.Fprintf(&b, "  - %s: %s / %s / %s\n", v.Category,
			v.Budgeted.StringFixed(domain.AmountPlaces),
			v.Actual.StringFixed(domain.AmountPlaces),
			v.Variance.StringFixed(domain.AmountPlaces))
	}

	b.WriteString("\nSummarise the week, call out the categories that went over budget, and suggest one concrete adjustment for next week.\n")
	return b.String()
}
