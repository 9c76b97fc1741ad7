package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

type stubClassifier struct {
	fail  map[string]bool // keyed by first member id
	calls int
}

func (c *stubClassifier) Classify(_ context.Context, g *domain.DuplicateGroup) (*domain.Classification, error) {
	if c.fail[g.Members[0].ID] {
		return nil, errors.New("upstream 502")
	}
	return &domain.Classification{
		Category:       domain.CategorySizeVariant,
		Confidence:     0.8,
		Reason:         "different pack size",
		Differences:    []string{"tamaño"},
		Recommendation: domain.GroupKeepBoth,
	}, nil
}

func transitiveStore() *scriptedStore {
	s := newScriptedStore([]string{"A", "B", "C", "D", "E"}, map[string]map[string]interface{}{
		"A": {"descripcion": "Tornillo 6x40", "marca": ""},
		"B": {"descripcion": "Tornillo 6x40 mm", "marca": "Fischer", "updated_at": "2024-03-01T00:00:00Z"},
		"C": {"descripcion": "Tornillo 6 x 40", "marca": "Fischer", "updated_at": "2024-01-01T00:00:00Z"},
		"D": {"descripcion": "Taco nylon 8", "marca": "Fischer"},
		"E": {"descripcion": "Taco nylon 8mm", "marca": "Fischer"},
	})
	s.setScore("A", "B", 0.90)
	s.setScore("B", "C", 0.88)
	s.setScore("A", "C", 0.40)
	s.setScore("D", "E", 0.95)
	s.setScore("C", "D", 0.50)
	return s
}

func TestDetectDuplicatesTransitiveGroups(t *testing.T) {
	det := NewDuplicateDetector(transitiveStore(), nil, nil, nil)
	report, err := det.Detect(context.Background(), domain.DetectDuplicatesRequest{Collection: "productos", SimilarityThreshold: 0.85})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if report.ScannedPoints != 5 || report.TotalGroups != 2 {
		t.Fatalf("scanned=%d groups=%d, want 5 and 2", report.ScannedPoints, report.TotalGroups)
	}

	abc := report.Groups[0]
	if got := abc.IDs(); len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Fatalf("first group = %v, want [A B C]", got)
	}
	if abc.EdgeCount != 2 {
		t.Errorf("edges = %d, want 2", abc.EdgeCount)
	}
	wantAvg := (float64(float32(0.90)) + float64(float32(0.88))) / 2
	if diff := abc.AvgSimilarity - wantAvg; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("avgSimilarity = %v, want %v", abc.AvgSimilarity, wantAvg)
	}
	// B and C have the same number of filled fields; B was updated later.
	if abc.Recommended != "B" {
		t.Errorf("recommended = %s, want B", abc.Recommended)
	}

	de := report.Groups[1]
	if got := de.IDs(); len(got) != 2 || got[0] != "D" {
		t.Errorf("second group = %v, want [D E]", got)
	}
	if de.Recommended != "D" {
		t.Errorf("recommended = %s, want D (smallest id on a tie)", de.Recommended)
	}

	if report.TotalDuplicates != 3 || report.EstimatedSavings != 3 {
		t.Errorf("duplicates=%d savings=%d, want 3 and 3", report.TotalDuplicates, report.EstimatedSavings)
	}
	if report.CategorySummary != nil {
		t.Errorf("category summary without classification: %v", report.CategorySummary)
	}
}

func TestDetectDuplicatesThresholdIsInclusive(t *testing.T) {
	s := newScriptedStore([]string{"A", "B"}, nil)
	s.setScore("A", "B", 0.85)
	report, err := NewDuplicateDetector(s, nil, nil, nil).Detect(context.Background(), domain.DetectDuplicatesRequest{Collection: "c"})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if report.TotalGroups != 1 {
		t.Errorf("groups = %d, want 1 at the default threshold", report.TotalGroups)
	}
}

func TestDetectDuplicatesClassification(t *testing.T) {
	cls := &stubClassifier{fail: map[string]bool{"D": true}}
	det := NewDuplicateDetector(transitiveStore(), cls, nil, &DedupeOptions{ClassifyConcurrency: 2})
	report, err := det.Detect(context.Background(), domain.DetectDuplicatesRequest{
		Collection:          "productos",
		SimilarityThreshold: 0.85,
		UseAIClassification: true,
	})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if c := report.Groups[0].Classification; c == nil || c.Category != domain.CategorySizeVariant {
		t.Errorf("first group classification = %+v", c)
	}
	failed := report.Groups[1].Classification
	if failed == nil || failed.Category != domain.CategoryReviewNeeded || failed.Confidence != 0 || failed.Recommendation != domain.GroupReview {
		t.Errorf("failed group classification = %+v, want review_needed", failed)
	}
	want := map[domain.DuplicateCategory]int{domain.CategorySizeVariant: 1, domain.CategoryReviewNeeded: 1}
	for k, v := range want {
		if report.CategorySummary[k] != v {
			t.Errorf("categorySummary[%s] = %d, want %d", k, report.CategorySummary[k], v)
		}
	}
}

func TestDetectDuplicatesArguments(t *testing.T) {
	missing := newScriptedStore(nil, nil)
	missing.missing = true

	tests := []struct {
		name  string
		store VectorStore
		req   domain.DetectDuplicatesRequest
		kind  domain.ErrorKind
	}{
		{"threshold above one", transitiveStore(), domain.DetectDuplicatesRequest{Collection: "c", SimilarityThreshold: 1.2}, domain.KindInvalidArgument},
		{"negative threshold", transitiveStore(), domain.DetectDuplicatesRequest{Collection: "c", SimilarityThreshold: -0.1}, domain.KindInvalidArgument},
		{"negative limit", transitiveStore(), domain.DetectDuplicatesRequest{Collection: "c", Limit: -1}, domain.KindInvalidArgument},
		{"classifier not configured", transitiveStore(), domain.DetectDuplicatesRequest{Collection: "c", UseAIClassification: true}, domain.KindInvalidArgument},
		{"storage not configured", transitiveStore(), domain.DetectDuplicatesRequest{Collection: "c", Persist: true}, domain.KindInvalidArgument},
		{"unknown collection", missing, domain.DetectDuplicatesRequest{Collection: "c"}, domain.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDuplicateDetector(tt.store, nil, nil, nil).Detect(context.Background(), tt.req)
			if !domain.IsKind(err, tt.kind) {
				t.Errorf("Detect() error = %v, want %s", err, tt.kind)
			}
		})
	}
}

func TestDetectDuplicatesLimitAndFilter(t *testing.T) {
	store := transitiveStore()
	det := NewDuplicateDetector(store, nil, nil, nil)

	report, err := det.Detect(context.Background(), domain.DetectDuplicatesRequest{Collection: "c", SimilarityThreshold: 0.85, Limit: 2})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if report.ScannedPoints != 2 {
		t.Errorf("scanned = %d, want 2", report.ScannedPoints)
	}

	report, err = det.Detect(context.Background(), domain.DetectDuplicatesRequest{
		Collection:          "c",
		SimilarityThreshold: 0.85,
		Filters:             map[string]interface{}{"marca": "Fischer"},
	})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	// A has no brand, so only B~C and D~E remain.
	if report.TotalGroups != 2 || len(report.Groups[0].Members) != 2 {
		t.Errorf("filtered groups = %d (first size %d), want two pairs", report.TotalGroups, len(report.Groups[0].Members))
	}
}

func TestDetectDuplicatesPersist(t *testing.T) {
	objects := newMemoryObjects()
	det := NewDuplicateDetector(transitiveStore(), nil, NewReportExporter(objects, ""), nil)
	report, err := det.Detect(context.Background(), domain.DetectDuplicatesRequest{Collection: "productos", Persist: true})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	key := "reports/productos/" + report.GeneratedAt.UTC().Format(reportTimeLayout) + ".json"
	if report.ReportURL != "mem://"+key {
		t.Errorf("reportUrl = %q, want mem://%s", report.ReportURL, key)
	}
	if _, ok := objects.data[key]; !ok {
		t.Errorf("object %s not written; have %v", key, objects.keys())
	}
}

func TestPickRepresentative(t *testing.T) {
	newer := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		members []domain.DuplicateMember
		want    string
	}{
		{"most fields", []domain.DuplicateMember{
			{ID: "a", Payload: map[string]interface{}{"x": "1"}},
			{ID: "b", Payload: map[string]interface{}{"x": "1", "y": "2"}},
		}, "b"},
		{"empty values ignored", []domain.DuplicateMember{
			{ID: "a", Payload: map[string]interface{}{"x": "1", "y": " ", "z": nil, "w": []interface{}{}}},
			{ID: "b", Payload: map[string]interface{}{"x": "1", "y": "2"}},
		}, "b"},
		{"newest update", []domain.DuplicateMember{
			{ID: "a", Payload: map[string]interface{}{"updated_at": "2024-01-01T00:00:00Z"}},
			{ID: "b", Payload: map[string]interface{}{"updated_at": newer}},
		}, "b"},
		{"smallest id", []domain.DuplicateMember{
			{ID: "b", Payload: map[string]interface{}{"x": "1"}},
			{ID: "a", Payload: map[string]interface{}{"x": "1"}},
		}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickRepresentative(tt.members); got != tt.want {
				t.Errorf("pickRepresentative() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUnionFind(t *testing.T) {
	uf := newUnionFind()
	uf.union("a", "b")
	uf.union("c", "d")
	uf.union("b", "c")
	uf.add("e")

	if uf.find("a") != uf.find("d") {
		t.Error("a and d should share a root")
	}
	if uf.find("e") == uf.find("a") {
		t.Error("e should be alone")
	}
	groups := uf.groups(2)
	if len(groups) != 1 {
		t.Fatalf("groups = %v, want one", groups)
	}
	for _, members := range groups {
		if len(members) != 4 {
			t.Errorf("group size = %d, want 4", len(members))
		}
	}
}
