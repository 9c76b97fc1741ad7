package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/domain"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantErr  bool
		category domain.DuplicateCategory
		conf     float64
	}{
		{
			name:     "plain json",
			content:  `{"category":"size_variant","confidence":0.8,"reason":"500ml vs 1l","differences":["size"],"recommendation":"keep_both"}`,
			category: domain.CategorySizeVariant,
			conf:     0.8,
		},
		{
			name:     "fenced with prose",
			content:  "Here you go:\n```json\n{\"category\":\"real_duplicate\",\"confidence\":1.7,\"reason\":\"same\",\"differences\":[],\"recommendation\":\"merge\"}\n```",
			category: domain.CategoryRealDuplicate,
			conf:     1,
		},
		{name: "unknown category", content: `{"category":"cousin","confidence":0.5,"recommendation":"merge"}`, wantErr: true},
		{name: "unknown recommendation", content: `{"category":"color_variant","confidence":0.5,"recommendation":"delete"}`, wantErr: true},
		{name: "not json", content: `I think they are duplicates.`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClassification(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseClassification() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, domain.ErrClassifierFailed) {
					t.Errorf("error %v does not wrap ErrClassifierFailed", err)
				}
				return
			}
			if got.Category != tt.category || got.Confidence != tt.conf {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestLLMClassifierClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		user := req.Messages[1].Content
		if !strings.Contains(user, "Taladro") || strings.Contains(user, domain.PayloadSyncedAt) {
			t.Errorf("user prompt = %s", user)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"category\":\"model_variant\",\"confidence\":0.9,\"reason\":\"X-1 vs X-2\",\"differences\":[\"modelo\"],\"recommendation\":\"keep_both\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewLLMClassifier(&config.ClassifierConfig{Model: "gpt-test", APIKey: "k", BaseURL: srv.URL})
	group := &domain.DuplicateGroup{
		AvgSimilarity: 0.93,
		Members: []domain.DuplicateMember{
			{ID: "a", Payload: map[string]interface{}{"descripcion": "Taladro", "modelo": "X-1", domain.PayloadSyncedAt: "2024-01-01T00:00:00Z"}},
			{ID: "b", Payload: map[string]interface{}{"descripcion": "Taladro", "modelo": "X-2"}},
		},
	}
	got, err := c.Classify(context.Background(), group)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Category != domain.CategoryModelVariant || got.Recommendation != domain.GroupKeepBoth {
		t.Errorf("Classify() = %+v", got)
	}
}

func TestLLMClassifierAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	c := NewLLMClassifier(&config.ClassifierConfig{Model: "gpt-test", BaseURL: srv.URL})
	_, err := c.Classify(context.Background(), &domain.DuplicateGroup{Members: []domain.DuplicateMember{{ID: "a"}}})
	if !errors.Is(err, domain.ErrAuth) {
		t.Errorf("Classify() error = %v, want ErrAuth", err)
	}
}
