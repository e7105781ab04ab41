// Package gemini categorizes transaction locations and words the weekly
// insight with a Gemini model.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/logger"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// contentGenerator is the part of the genai client this package uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client is the text generator for categorization and insights.
type Client struct {
	models contentGenerator
	model  string
}

// NewClient creates a Gemini client. Without an API key the genai library
// reads credentials from the environment.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	cfg := &genai.ClientConfig{}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewClient: create genai client: %w", err)
	}
	return newClientWith(client.Models, model), nil
}

func newClientWith(models contentGenerator, model string) *Client {
	if model == "" {
		model = DefaultModelName
	}
	return &Client{models: models, model: model}
}

// Categorize maps each location to one of the categories. The mapping is
// returned as the model produced it; callers validate the category names.
func (c *Client) Categorize(ctx context.Context, locations, categories []string) (map[string]string, error) {
	const op = "gemini.categorize"
	if len(locations) == 0 {
		return map[string]string{}, nil
	}

	prompt := buildCategorizePrompt(locations, categories)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	rawText, err := c.generate(ctx, op, prompt, config)
	if err != nil {
		return nil, err
	}

	clean := cleanModelJSON(rawText)
	var mapping map[string]string
	if err := json.Unmarshal([]byte(clean), &mapping); err != nil {
		return nil, apperror.Validation(op, "unmarshal JSON, raw response: "+truncate(rawText, 500), err)
	}

	ctxLog := logger.FromContext(ctx)
	ctxLog.Debug().
		Int("locations", len(locations)).
		Int("mapped", len(mapping)).
		Msg("Model categorized locations")
	return mapping, nil
}

// GenerateInsight writes a short narrative about the week's figures.
func (c *Client) GenerateInsight(ctx context.Context, analysis *domain.BudgetAnalysisResult) (string, error) {
	const op = "gemini.generate_insight"
	if analysis == nil {
		return "", apperror.Validation(op, "no analysis", nil)
	}

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0.4),
		SystemInstruction: genai.NewContentFromText(insightSystemPrompt, genai.RoleUser),
	}
	text, err := c.generate(ctx, op, buildInsightPrompt(analysis), config)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) generate(ctx context.Context, op, prompt string, config *genai.GenerateContentConfig) (string, error) {
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
	if err != nil {
		return "", classify(op, err)
	}
	rawText := resp.Text()
	if strings.TrimSpace(rawText) == "" {
		return "", apperror.Validation(op, "empty response from model", nil)
	}
	return rawText, nil
}

// classify maps genai errors onto the error taxonomy. Errors without an API
// status come from the transport and are retried.
func classify(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		ae := apperror.FromHTTPStatus(op, apiErr.Code, "", apiErr.Message)
		if ae == nil {
			return apperror.Critical(op, "generate content", err)
		}
		ae.Err = err
		return ae
	}
	if errors.Is(err, context.Canceled) {
		return apperror.Critical(op, "generate content", err)
	}
	return apperror.Transient(op, "generate content", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
