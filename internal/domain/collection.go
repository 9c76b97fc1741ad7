package domain

import (
	"strings"
	"time"
)

// DistanceMetric is the similarity function a collection is indexed with.
type DistanceMetric string

const (
	DistanceCosine    DistanceMetric = "Cosine"
	DistanceEuclidean DistanceMetric = "Euclidean"
	DistanceDot       DistanceMetric = "Dot"
)

// Valid reports whether m is a known metric.
func (m DistanceMetric) Valid() bool {
	return m == DistanceCosine || m == DistanceEuclidean || m == DistanceDot
}

// ParseDistance accepts the canonical names case-insensitively, plus "euclid".
func ParseDistance(s string) (DistanceMetric, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine":
		return DistanceCosine, true
	case "euclidean", "euclid":
		return DistanceEuclidean, true
	case "dot":
		return DistanceDot, true
	}
	return "", false
}

// HNSWParams are the index build parameters of a collection.
type HNSWParams struct {
	M           uint64 `json:"m"`
	EfConstruct uint64 `json:"efConstruct"`
}

// CollectionSpec is the immutable shape requested for a collection.
type CollectionSpec struct {
	Name       string         `json:"name"`
	VectorSize int            `json:"vectorSize"`
	Distance   DistanceMetric `json:"distance"`
	HNSW       HNSWParams     `json:"hnswParams"`
}

// Validate checks the spec can be created.
func (s CollectionSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return NewInvalidArgumentError("collection name is required")
	}
	if s.VectorSize <= 0 {
		return NewInvalidArgumentError("collection %q: vector size must be positive", s.Name)
	}
	if !s.Distance.Valid() {
		return NewInvalidArgumentError("collection %q: unknown distance %q", s.Name, s.Distance)
	}
	return nil
}

// Collection is the registry's metadata row for a vector collection.
type Collection struct {
	Name         string         `gorm:"type:text;primaryKey" json:"name"`
	VectorSize   int            `gorm:"not null" json:"vectorSize"`
	Distance     DistanceMetric `gorm:"type:text;not null" json:"distanceMetric"`
	HNSW         HNSWParams     `gorm:"embedded;embeddedPrefix:hnsw_" json:"hnswParams"`
	TotalPoints  int64          `gorm:"default:0" json:"totalPoints"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	LastSyncedAt *time.Time     `json:"lastSyncedAt,omitempty"`
}

// TableName returns the database table name for Collection.
func (Collection) TableName() string {
	return "collections"
}

// Spec returns the collection's schema.
func (c *Collection) Spec() CollectionSpec {
	return CollectionSpec{
		Name:       c.Name,
		VectorSize: c.VectorSize,
		Distance:   c.Distance,
		HNSW:       c.HNSW,
	}
}

// CollectionStats is what the vector store reports about a collection.
type CollectionStats struct {
	Name       string         `json:"name"`
	PointCount uint64         `json:"pointCount"`
	VectorSize int            `json:"vectorSize"`
	Distance   DistanceMetric `json:"distance"`
}
