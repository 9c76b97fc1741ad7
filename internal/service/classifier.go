package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/prompts"
)

// Payload fields that never help the classifier tell products apart.
var classifierSkipFields = map[string]bool{
	domain.PayloadDatasourceID: true,
	domain.PayloadSourceMarker: true,
	domain.PayloadSyncedAt:     true,
}

// LLMClassifier classifies duplicate groups with an OpenAI-compatible chat model.
type LLMClassifier struct {
	client   *resty.Client
	model    string
	endpoint string
}

// NewLLMClassifier creates a new classifier.
// Parameters:
//   - cfg: classifier configuration including model, API key and base URL.
//
// Returns:
//   - *LLMClassifier: initialized classifier.
func NewLLMClassifier(cfg *config.ClassifierConfig) *LLMClassifier {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	// Default to OpenAI compatible endpoint if not specified
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &LLMClassifier{
		client:   client,
		model:    cfg.Model,
		endpoint: strings.TrimRight(baseURL, "/") + "/chat/completions",
	}
}

// GetModel returns the model name being used.
func (c *LLMClassifier) GetModel() string {
	return c.model
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Classify asks the model for a category and recommendation for group.
// Returns:
//   - *domain.Classification: validated classification.
//   - error: wraps ErrClassifierFailed (and ErrAuth / ErrTransient where they apply).
func (c *LLMClassifier) Classify(ctx context.Context, group *domain.DuplicateGroup) (*domain.Classification, error) {
	products, err := classifierProducts(group)
	if err != nil {
		return nil, fmt.Errorf("encode group: %w: %v", domain.ErrClassifierFailed, err)
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompts.DuplicateClassifierSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(prompts.DuplicateClassifierUserPrompt, len(group.Members), group.AvgSimilarity, products)},
		},
		MaxTokens:   400,
		Temperature: 0,
	}

	var resp chatResponse
	var apiErr chatResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&apiErr).
		Post(c.endpoint)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to call classifier API: %w: %w: %v", domain.ErrTransient, domain.ErrClassifierFailed, err)
	}

	if code := httpResp.StatusCode(); code < 200 || code >= 300 {
		msg := strings.TrimSpace(string(httpResp.Body()))
		if apiErr.Error != nil {
			msg = apiErr.Error.Message
		}
		return nil, classifyHTTPStatus("classifier API", code, msg, domain.ErrClassifierFailed)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("classifier API error: %s: %w", resp.Error.Message, domain.ErrClassifierFailed)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in classifier response: %w", domain.ErrClassifierFailed)
	}

	return parseClassification(resp.Choices[0].Message.Content)
}

// classifierProducts renders members as a JSON array, dropping bookkeeping fields.
func classifierProducts(group *domain.DuplicateGroup) (string, error) {
	items := make([]map[string]interface{}, 0, len(group.Members))
	for _, m := range group.Members {
		item := map[string]interface{}{"id": m.ID}
		for k, v := range m.Payload {
			if !classifierSkipFields[k] {
				item[k] = v
			}
		}
		items = append(items, item)
	}
	raw, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// parseClassification extracts and validates the model's JSON answer. Models
// sometimes wrap it in a markdown fence or add prose around it.
func parseClassification(content string) (*domain.Classification, error) {
	text := strings.TrimSpace(content)
	if start := strings.Index(text, "{"); start != -1 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var out domain.Classification
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("invalid classifier JSON: %w: %v", domain.ErrClassifierFailed, err)
	}
	if !out.Category.Valid() {
		return nil, fmt.Errorf("unknown category %q: %w", out.Category, domain.ErrClassifierFailed)
	}
	if !out.Recommendation.Valid() {
		return nil, fmt.Errorf("unknown recommendation %q: %w", out.Recommendation, domain.ErrClassifierFailed)
	}
	if math.IsNaN(out.Confidence) {
		out.Confidence = 0
	}
	out.Confidence = math.Max(0, math.Min(1, out.Confidence))
	out.Differences = dedupeStrings(out.Differences)
	return &out, nil
}
