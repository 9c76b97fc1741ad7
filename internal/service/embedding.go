package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/domain"
)

const (
	jinaBaseURL             = "https://api.jina.ai/v1"
	defaultEmbeddingTimeout = 30 * time.Second
)

// EmbeddingService calls Jina or any OpenAI-compatible /embeddings endpoint.
type EmbeddingService struct {
	http  *resty.Client
	url   string
	model string
	dims  int
	jina  bool
}

// NewEmbeddingService expects cfg with env references already resolved.
func NewEmbeddingService(cfg *config.EmbeddingConfig) *EmbeddingService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultEmbeddingTimeout
	}
	base := cfg.BaseURL
	jina := cfg.Provider == "jina"
	if base == "" && jina {
		base = jinaBaseURL
	}
	return &EmbeddingService{
		http: resty.New().
			SetAuthToken(cfg.APIKey).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
		url:   strings.TrimRight(base, "/") + "/embeddings",
		model: cfg.Model,
		dims:  cfg.Dimensions,
		jina:  jina,
	}
}

func (s *EmbeddingService) GetModel() string { return s.model }

func (s *EmbeddingService) Dimensions() int { return s.dims }

type embeddingRequest struct {
	Model         string   `json:"model"`
	Input         []string `json:"input"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Task          string   `json:"task,omitempty"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// providerError covers both error shapes: Jina's "detail" and the OpenAI
// style "error.message".
type providerError struct {
	Detail string `json:"detail,omitempty"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *providerError) text(raw []byte) string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Error != nil && e.Error.Message != "":
		return e.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("empty embedding: %w", domain.ErrEmbeddingFailed)
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in input order. Errors wrap ErrAuth
// for rejected credentials, ErrTransient for throttling, 5xx and network
// failures, and ErrEmbeddingFailed otherwise.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	body := embeddingRequest{Model: s.model, Input: texts, Dimensions: s.dims}
	if s.jina {
		// Stored products are compared with each other, so the symmetric task.
		body.Task = "text-matching"
		body.EmbeddingType = "float"
	}

	var out embeddingResponse
	var perr providerError
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&perr).
		Post(s.url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("embedding API: %w: %w: %v", domain.ErrTransient, domain.ErrEmbeddingFailed, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyHTTPStatus("embedding API", resp.StatusCode(), perr.text(resp.Body()), domain.ErrEmbeddingFailed)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs: %w", len(out.Data), len(texts), domain.ErrEmbeddingFailed)
	}

	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding API returned index %d: %w", d.Index, domain.ErrEmbeddingFailed)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// classifyHTTPStatus wraps a non-2xx answer from an AI provider.
func classifyHTTPStatus(api string, code int, msg string, failure error) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s returned HTTP %d: %s: %w", api, code, msg, domain.ErrAuth)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%s returned HTTP %d: %s: %w: %w", api, code, msg, domain.ErrTransient, failure)
	default:
		return fmt.Errorf("%s returned HTTP %d: %s: %w", api, code, msg, failure)
	}
}
