package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
)

// ValidationOptions tunes the existence validator.
type ValidationOptions struct {
	SimilarityThreshold float64
	ExactThreshold      float64
	MaxMatches          int
	BrandField          string
	ModelField          string
}

// ValidationOptionsFromConfig builds ValidationOptions from the validation config section.
func ValidationOptionsFromConfig(cfg *config.ValidationConfig) *ValidationOptions {
	return &ValidationOptions{
		SimilarityThreshold: cfg.SimilarityThreshold,
		ExactThreshold:      cfg.ExactThreshold,
		MaxMatches:          cfg.MaxMatches,
		BrandField:          cfg.BrandField,
		ModelField:          cfg.ModelField,
	}
}

func (o *ValidationOptions) withDefaults() *ValidationOptions {
	out := *o
	if out.SimilarityThreshold <= 0 {
		out.SimilarityThreshold = 0.90
	}
	if out.ExactThreshold <= 0 {
		out.ExactThreshold = 0.97
	}
	if out.MaxMatches <= 0 {
		out.MaxMatches = 10
	}
	if out.BrandField == "" {
		out.BrandField = "marca"
	}
	if out.ModelField == "" {
		out.ModelField = "modelo"
	}
	return &out
}

// ExistenceValidator decides whether a candidate product already exists in a
// collection. It only reads from the vector store.
type ExistenceValidator struct {
	embedder Embedder
	store    VectorStore
	opts     *ValidationOptions
}

// NewExistenceValidator creates a validator.
func NewExistenceValidator(embedder Embedder, store VectorStore, opts *ValidationOptions) *ExistenceValidator {
	if opts == nil {
		opts = &ValidationOptions{}
	}
	return &ExistenceValidator{embedder: embedder, store: store, opts: opts.withDefaults()}
}

// Validate checks a candidate product against the collection.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: candidate description with optional brand, model and threshold.
// Returns:
//   - *domain.ValidationResult: accept when nothing clears the threshold,
//     reject for an exact match whose brand and model agree, review otherwise.
//   - error: not_found for an unknown collection, invalid_argument for bad input.
func (v *ExistenceValidator) Validate(ctx context.Context, req domain.ValidateProductRequest) (*domain.ValidationResult, error) {
	if strings.TrimSpace(req.Collection) == "" {
		return nil, domain.NewInvalidArgumentError("collection is required")
	}
	text := buildEmbeddingText(req.Descripcion, req.Marca, req.Modelo)
	if strings.TrimSpace(req.Descripcion) == "" || text == "" {
		return nil, domain.NewInvalidArgumentError("descripcion is required")
	}
	threshold := req.SimilarityThreshold
	if threshold == 0 {
		threshold = v.opts.SimilarityThreshold
	}
	if threshold <= 0 || threshold > 1 {
		return nil, domain.NewInvalidArgumentError("similarityThreshold must be in (0, 1], got %v", threshold)
	}
	exact := v.opts.ExactThreshold
	if exact < threshold {
		exact = threshold
	}

	if _, err := v.store.GetStats(ctx, req.Collection); err != nil {
		if errors.Is(err, domain.ErrCollectionNotFound) {
			return nil, domain.NewNotFoundError("collection %q not found", req.Collection)
		}
		return nil, err
	}

	vector, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed candidate product: %w", err)
	}
	hits, err := v.queryAbove(ctx, req.Collection, vector, float32(threshold))
	if err != nil {
		return nil, err
	}

	var maxSim float32
	matches := make([]domain.MatchedProduct, 0, len(hits))
	for _, h := range hits {
		if h.Score > maxSim {
			maxSim = h.Score
		}
		if h.Score >= float32(threshold) {
			matches = append(matches, domain.MatchedProduct{ID: h.ID, Similarity: h.Score, Payload: h.Payload})
		}
	}
	if len(matches) == 0 {
		nearest, err := v.store.Query(ctx, req.Collection, vector, 1, 0, nil)
		if err != nil {
			return nil, err
		}
		if len(nearest) > 0 {
			maxSim = nearest[0].Score
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})

	result := v.decide(req, matches, maxSim, float32(threshold), float32(exact))
	logger.With(logger.Fields{
		logger.FieldCollection: req.Collection,
		logger.FieldCount:      len(matches),
		"recommendation":       result.Recommendation,
		"max_similarity":       maxSim,
	}).Debug(ctx, "Product validated")
	return result, nil
}

// queryAbove returns every point scoring at least threshold. The limit starts
// at MaxMatches and doubles while a full page comes back.
func (v *ExistenceValidator) queryAbove(ctx context.Context, collection string, vector []float32, threshold float32) ([]domain.ScoredPoint, error) {
	limit := v.opts.MaxMatches
	for {
		hits, err := v.store.Query(ctx, collection, vector, limit, threshold, nil)
		if err != nil {
			return nil, err
		}
		if len(hits) < limit {
			return hits, nil
		}
		limit *= 2
	}
}

func (v *ExistenceValidator) decide(req domain.ValidateProductRequest, matches []domain.MatchedProduct, maxSim, threshold, exact float32) *domain.ValidationResult {
	if len(matches) == 0 {
		return &domain.ValidationResult{
			Exists:          false,
			Reason:          fmt.Sprintf("no product reaches similarity %.2f", threshold),
			Confidence:      1 - float64(maxSim),
			MatchedProducts: matches,
			Recommendation:  domain.VerdictAccept,
		}
	}

	top := matches[0]
	attrsMatch, mismatch := v.attributesMatch(req, top.Payload)
	if top.Similarity >= exact && attrsMatch {
		return &domain.ValidationResult{
			Exists:          true,
			IsExactMatch:    true,
			Reason:          fmt.Sprintf("product %s matches with similarity %.3f", top.ID, top.Similarity),
			Confidence:      float64(top.Similarity),
			MatchedProducts: matches,
			Recommendation:  domain.VerdictReject,
		}
	}

	reason := fmt.Sprintf("closest product %s has similarity %.3f, below the exact threshold %.2f", top.ID, top.Similarity, exact)
	if !attrsMatch {
		reason = fmt.Sprintf("closest product %s is similar (%.3f) but %s differs", top.ID, top.Similarity, mismatch)
	}
	return &domain.ValidationResult{
		Exists:          true,
		IsVariant:       true,
		Reason:          reason,
		Confidence:      float64(top.Similarity),
		MatchedProducts: matches,
		Recommendation:  domain.VerdictReview,
	}
}

// attributesMatch compares the supplied brand and model with the payload.
// Attributes the caller left empty are not compared.
func (v *ExistenceValidator) attributesMatch(req domain.ValidateProductRequest, payload map[string]interface{}) (bool, string) {
	checks := []struct{ field, want string }{
		{v.opts.BrandField, req.Marca},
		{v.opts.ModelField, req.Modelo},
	}
	for _, c := range checks {
		if strings.TrimSpace(c.want) == "" {
			continue
		}
		got, ok := payload[c.field]
		if !ok || got == nil || !sameAttribute(fmt.Sprint(got), c.want) {
			return false, c.field
		}
	}
	return true, ""
}

// sameAttribute compares brand or model values ignoring case and runs of
// whitespace, so "Black  &  Decker" equals "black & decker".
func sameAttribute(a, b string) bool {
	return strings.EqualFold(normalizeWhitespace(a), normalizeWhitespace(b))
}
