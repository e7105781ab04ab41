package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
)

// MockGenerator is a mock implementation of contentGenerator for testing.
type MockGenerator struct {
	GenerateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

	Prompts []string
	Configs []*genai.GenerateContentConfig
}

func (m *MockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	for _, c := range contents {
		for _, p := range c.Parts {
			m.Prompts = append(m.Prompts, p.Text)
		}
	}
	m.Configs = append(m.Configs, config)
	if m.GenerateContentFunc != nil {
		return m.GenerateContentFunc(ctx, model, contents, config)
	}
	return nil, errors.New("not implemented")
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func respondWith(text string) *MockGenerator {
	return &MockGenerator{
		GenerateContentFunc: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return textResponse(text), nil
		},
	}
}

func failWith(err error) *MockGenerator {
	return &MockGenerator{
		GenerateContentFunc: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, err
		},
	}
}

func TestCategorize(t *testing.T) {
	locations := []string{"TESCO STORES 2231", "SHELL"}
	categories := []string{"Groceries", "Fuel"}

	tests := []struct {
		name     string
		response string
		want     map[string]string
		wantKind apperror.Kind
	}{
		{
			name:     "plain JSON",
			response: `{"TESCO STORES 2231": "Groceries", "SHELL": "Fuel"}`,
			want:     map[string]string{"TESCO STORES 2231": "Groceries", "SHELL": "Fuel"},
		},
		{
			name:     "fenced JSON",
			response: "```json\n{\"SHELL\": \"Fuel\"}\n```",
			want:     map[string]string{"SHELL": "Fuel"},
		},
		{
			name:     "prose around object",
			response: "Here you go: {\"SHELL\": \"Fuel\"} hope this helps",
			want:     map[string]string{"SHELL": "Fuel"},
		},
		{
			name:     "not JSON",
			response: "I cannot help with that",
			wantKind: apperror.KindValidation,
		},
		{
			name:     "empty response",
			response: "   ",
			wantKind: apperror.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := respondWith(tt.response)
			c := newClientWith(gen, "")

			got, err := c.Categorize(context.Background(), locations, categories)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperror.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategorize_PromptAndConfig(t *testing.T) {
	gen := respondWith(`{}`)
	c := newClientWith(gen, "test-model")

	_, err := c.Categorize(context.Background(), []string{"SHELL"}, []string{"Fuel", "Groceries"})
	require.NoError(t, err)

	require.Len(t, gen.Prompts, 1)
	prompt := gen.Prompts[0]
	assert.Contains(t, prompt, "  - Fuel\n")
	assert.Contains(t, prompt, "  - Groceries\n")
	assert.Contains(t, prompt, "  - SHELL\n")
	assert.Contains(t, prompt, `"Uncategorized"`)

	require.Len(t, gen.Configs, 1)
	assert.Equal(t, "application/json", gen.Configs[0].ResponseMIMEType)
	require.NotNil(t, gen.Configs[0].Temperature)
	assert.Equal(t, float32(0), *gen.Configs[0].Temperature)
}

func TestCategorize_NoLocationsSkipsModel(t *testing.T) {
	gen := &MockGenerator{}
	c := newClientWith(gen, "")

	got, err := c.Categorize(context.Background(), nil, []string{"Fuel"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, gen.Prompts)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperror.Kind
	}{
		{"rate limited", genai.APIError{Code: 429, Message: "quota"}, apperror.KindTransient},
		{"server error", genai.APIError{Code: 503, Message: "unavailable"}, apperror.KindTransient},
		{"bad key", genai.APIError{Code: 401, Message: "API key not valid"}, apperror.KindAuth},
		{"bad request", genai.APIError{Code: 400, Message: "invalid argument"}, apperror.KindValidation},
		{"wrapped api error", fmt.Errorf("call: %w", genai.APIError{Code: 500}), apperror.KindTransient},
		{"transport", errors.New("connection reset by peer"), apperror.KindTransient},
		{"canceled", context.Canceled, apperror.KindCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClientWith(failWith(tt.err), "")
			_, err := c.Categorize(context.Background(), []string{"SHELL"}, []string{"Fuel"})
			require.Error(t, err)
			assert.Equal(t, tt.want, apperror.KindOf(err))
		})
	}
}

func TestGenerateInsight(t *testing.T) {
	pct := decimal.RequireFromString("-20.00")
	analysis := &domain.BudgetAnalysisResult{
		TotalBudget:   decimal.RequireFromString("300"),
		TotalActual:   decimal.RequireFromString("250"),
		TotalVariance: decimal.RequireFromString("50"),
		Status:        domain.StatusSurplus,
		Categories: []domain.CategoryVariance{{
			Category:        "Groceries",
			Budgeted:        decimal.RequireFromString("100"),
			Actual:          decimal.RequireFromString("120"),
			Variance:        decimal.RequireFromString("-20"),
			VariancePercent: &pct,
		}},
		UncategorizedCount: 2,
		UncategorizedTotal: decimal.RequireFromString("12.5"),
	}

	gen := respondWith("  You finished the week 50.00 under budget.  \n")
	c := newClientWith(gen, "")

	got, err := c.GenerateInsight(context.Background(), analysis)
	require.NoError(t, err)
	assert.Equal(t, "You finished the week 50.00 under budget.", got)

	require.Len(t, gen.Prompts, 1)
	prompt := gen.Prompts[0]
	assert.Contains(t, prompt, "Total budget: 300.00")
	assert.Contains(t, prompt, "Total spent: 250.00")
	assert.Contains(t, prompt, "Status: surplus")
	assert.Contains(t, prompt, "Uncategorized: 2 transactions, 12.50")
	assert.Contains(t, prompt, "Groceries: 100.00 / 120.00 / -20.00")
	require.NotNil(t, gen.Configs[0].SystemInstruction)
}

func TestGenerateInsight_NilAnalysis(t *testing.T) {
	c := newClientWith(&MockGenerator{}, "")
	_, err := c.GenerateInsight(context.Background(), nil)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":"b"}`, `{"a":"b"}`},
		{"```json\n{\"a\":\"b\"}\n```", `{"a":"b"}`},
		{"```\n{\"a\":\"b\"}```", `{"a":"b"}`},
		{"sure! {\"a\":\"b\"}", `{"a":"b"}`},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanModelJSON(tt.in))
	}
}
