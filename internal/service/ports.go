package service

import (
	"context"

	"github.com/timmy/catalogsync/internal/domain"
)

// VectorStore is the gateway to the vector database. QdrantRepository and
// LocalVectorRepository implement it.
type VectorStore interface {
	Ping(ctx context.Context) error
	CreateCollection(ctx context.Context, spec domain.CollectionSpec) error
	DeleteCollection(ctx context.Context, name string) error
	GetStats(ctx context.Context, name string) (*domain.CollectionStats, error)
	Upsert(ctx context.Context, collection string, points []domain.Point) error
	ExistingIDs(ctx context.Context, collection string, ids []string) (map[string]bool, error)
	Query(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32, filter *domain.PointFilter) ([]domain.ScoredPoint, error)
	Scroll(ctx context.Context, collection string, filter *domain.PointFilter, cursor string, limit int) ([]domain.Point, string, error)
}

// Embedder turns product text into vectors of a fixed dimensionality.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	GetModel() string
}

// Classifier labels a duplicate group (exact duplicate, variant, ...).
type Classifier interface {
	Classify(ctx context.Context, group *domain.DuplicateGroup) (*domain.Classification, error)
}

// JobSlots enforces one active sync job per datasource. JobSlotRepository
// (database) and RedisJobSlots implement it.
type JobSlots interface {
	Acquire(ctx context.Context, datasourceID, jobID string) error
	Release(ctx context.Context, datasourceID, jobID string) error
	Refresh(ctx context.Context, datasourceID, jobID string) error
	Holder(ctx context.Context, datasourceID string) (string, bool, error)
}

// slotLister is implemented by slot stores that can enumerate held slots.
type slotLister interface {
	List(ctx context.Context) ([]domain.ActiveSyncJob, error)
}
