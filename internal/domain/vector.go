package domain

import "sort"

// Payload keys written on every synced point.
const (
	PayloadSourceRecordID = "source_record_id"
	PayloadDatasourceID   = "datasource_id"
	PayloadSourceMarker   = "source_marker"
	PayloadSyncedAt       = "synced_at"
	PayloadUpdatedAt      = "updated_at"
)

// Point is one vector with its id and payload.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector,omitempty"`
	Payload map[string]interface{} `json:"payload"`
}

// ScoredPoint is a query hit.
type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// FieldMatch requires a payload field to equal Value exactly.
// Value may be a string, an integer or a bool.
type FieldMatch struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// PointFilter is a conjunction of exact payload matches.
type PointFilter struct {
	Must []FieldMatch `json:"must,omitempty"`
}

// IsEmpty reports whether the filter matches everything.
func (f *PointFilter) IsEmpty() bool {
	return f == nil || len(f.Must) == 0
}

// FilterFromMap builds a filter from a flat key/value map, ordered by key.
func FilterFromMap(m map[string]interface{}) *PointFilter {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	f := &PointFilter{Must: make([]FieldMatch, 0, len(keys))}
	for _, k := range keys {
		f.Must = append(f.Must, FieldMatch{Key: k, Value: m[k]})
	}
	return f
}

// Matches evaluates the filter against a payload. Numbers compare by value
// regardless of their Go type.
func (f *PointFilter) Matches(payload map[string]interface{}) bool {
	if f.IsEmpty() {
		return true
	}
	for _, cond := range f.Must {
		v, ok := payload[cond.Key]
		if !ok || !valuesEqual(v, cond.Value) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
