package domain

import "time"

// DuplicateCategory is the classifier's verdict on a duplicate group.
type DuplicateCategory string

const (
	CategoryRealDuplicate      DuplicateCategory = "real_duplicate"
	CategorySizeVariant        DuplicateCategory = "size_variant"
	CategoryColorVariant       DuplicateCategory = "color_variant"
	CategoryModelVariant       DuplicateCategory = "model_variant"
	CategoryDescriptionVariant DuplicateCategory = "description_variant"
	CategoryReviewNeeded       DuplicateCategory = "review_needed"
)

// Valid reports whether c is a known category.
func (c DuplicateCategory) Valid() bool {
	switch c {
	case CategoryRealDuplicate, CategorySizeVariant, CategoryColorVariant,
		CategoryModelVariant, CategoryDescriptionVariant, CategoryReviewNeeded:
		return true
	}
	return false
}

// GroupRecommendation is the classifier's suggested action for a group.
type GroupRecommendation string

const (
	GroupMerge    GroupRecommendation = "merge"
	GroupKeepBoth GroupRecommendation = "keep_both"
	GroupReview   GroupRecommendation = "review"
)

// Valid reports whether r is a known recommendation.
func (r GroupRecommendation) Valid() bool {
	return r == GroupMerge || r == GroupKeepBoth || r == GroupReview
}

// Classification is the AI classifier's output for one group.
type Classification struct {
	Category       DuplicateCategory   `json:"category"`
	Confidence     float64             `json:"confidence"`
	Reason         string              `json:"reason"`
	Differences    []string            `json:"differences"`
	Recommendation GroupRecommendation `json:"recommendation"`
}

// ReviewNeeded is the classification used when the classifier cannot answer.
func ReviewNeeded(reason string) *Classification {
	return &Classification{
		Category:       CategoryReviewNeeded,
		Confidence:     0,
		Reason:         reason,
		Differences:    []string{},
		Recommendation: GroupReview,
	}
}

// DuplicateMember is one product inside a duplicate group.
type DuplicateMember struct {
	ID      string                 `json:"id"`
	Payload map[string]interface{} `json:"payload"`
}

// DuplicateGroup is a transitively connected cluster of near-duplicate points.
type DuplicateGroup struct {
	Members        []DuplicateMember `json:"products"`
	AvgSimilarity  float64           `json:"avgSimilarity"`
	EdgeCount      int               `json:"edgeCount"`
	Recommended    string            `json:"recommended"`
	Classification *Classification   `json:"classification,omitempty"`
}

// IDs returns the member ids in group order.
func (g *DuplicateGroup) IDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

// DuplicateReport is the result of one detection run.
type DuplicateReport struct {
	Collection          string                    `json:"collection"`
	SimilarityThreshold float64                   `json:"similarityThreshold"`
	ScannedPoints       int                       `json:"scannedPoints"`
	TotalGroups         int                       `json:"totalGroups"`
	TotalDuplicates     int                       `json:"totalDuplicates"`
	EstimatedSavings    int                       `json:"estimatedSavings"`
	Groups              []DuplicateGroup          `json:"groups"`
	CategorySummary     map[DuplicateCategory]int `json:"categorySummary,omitempty"`
	GeneratedAt         time.Time                 `json:"generatedAt"`
	ReportURL           string                    `json:"reportUrl,omitempty"`
}

// DetectDuplicatesRequest is the input of a detection run.
type DetectDuplicatesRequest struct {
	Collection          string                 `json:"collection" binding:"required"`
	SimilarityThreshold float64                `json:"similarityThreshold"`
	Limit               int                    `json:"limit"`
	UseAIClassification bool                   `json:"useAiClassification"`
	Filters             map[string]interface{} `json:"filters"`
	Persist             bool                   `json:"persist"`
}
