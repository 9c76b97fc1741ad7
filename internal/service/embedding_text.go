package service

import (
	"fmt"
	"strings"
)

func normalizeWhitespace(text string) string {
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// buildEmbeddingText joins the non-empty parts into the single line that is
// embedded. Sync and validation both go through it so that a candidate
// product and a stored row with the same fields produce the same text.
func buildEmbeddingText(parts ...string) string {
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = normalizeWhitespace(p); p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, " ")
}

// rowEmbeddingText renders the datasource's text columns of a row.
func rowEmbeddingText(fields map[string]interface{}, columns []string) string {
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		v, ok := fields[col]
		if !ok || v == nil {
			continue
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return buildEmbeddingText(parts...)
}

func dedupeStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
