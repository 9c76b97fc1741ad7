package domain

// Verdict is the existence validator's decision for a candidate product.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
	VerdictReview Verdict = "review"
)

// MatchedProduct is one neighbor at or above the similarity threshold.
type MatchedProduct struct {
	ID         string                 `json:"id"`
	Similarity float32                `json:"similarity"`
	Payload    map[string]interface{} `json:"payload"`
}

// ValidationResult is returned synchronously by the existence validator.
type ValidationResult struct {
	Exists          bool             `json:"exists"`
	IsExactMatch    bool             `json:"isExactMatch"`
	IsVariant       bool             `json:"isVariant"`
	Reason          string           `json:"reason"`
	Confidence      float64          `json:"confidence"`
	MatchedProducts []MatchedProduct `json:"matchedProducts"`
	Recommendation  Verdict          `json:"recommendation"`
}

// ValidateProductRequest is a candidate product to check before insertion.
type ValidateProductRequest struct {
	Collection          string  `json:"collection" binding:"required"`
	Descripcion         string  `json:"descripcion" binding:"required"`
	Marca               string  `json:"marca,omitempty"`
	Modelo              string  `json:"modelo,omitempty"`
	SimilarityThreshold float64 `json:"similarityThreshold,omitempty"`
}

// TriggerSyncRequest starts a sync of a datasource.
type TriggerSyncRequest struct {
	DatasourceID string   `json:"datasourceId" binding:"required"`
	Type         SyncType `json:"type,omitempty"`
	ForceFull    bool     `json:"forceFull"`
	RecordKeys   []string `json:"recordIds,omitempty"`
}
