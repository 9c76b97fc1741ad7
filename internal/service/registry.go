package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/repository"
)

// CollectionRegistry owns collection metadata and keeps it in step with the
// vector store. Vector size and distance are immutable once a collection exists.
type CollectionRegistry struct {
	repo  *repository.CollectionRepository
	store VectorStore
	mu    sync.Mutex
}

// NewCollectionRegistry creates a new CollectionRegistry.
func NewCollectionRegistry(repo *repository.CollectionRepository, store VectorStore) *CollectionRegistry {
	return &CollectionRegistry{repo: repo, store: store}
}

// EnsureCollection creates the collection if absent and returns its metadata row.
// Calling it again with the same vector size and distance is a no-op.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - spec: requested schema.
// Returns:
//   - *domain.Collection: the registry row.
//   - error: schema_conflict if the name exists with another size or distance.
func (r *CollectionRegistry) EnsureCollection(ctx context.Context, spec domain.CollectionSpec) (*domain.Collection, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.repo.Get(ctx, spec.Name)
	switch {
	case err == nil:
		if err := checkSchema(spec, existing.VectorSize, existing.Distance); err != nil {
			return nil, err
		}
		if err := r.restoreIfMissing(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	case !domain.IsKind(err, domain.KindNotFound):
		return nil, err
	}

	var total int64
	stats, err := r.store.GetStats(ctx, spec.Name)
	switch {
	case err == nil:
		// Created outside the registry: adopt it if the schema agrees.
		if err := checkSchema(spec, stats.VectorSize, stats.Distance); err != nil {
			return nil, err
		}
		total = int64(stats.PointCount)
	case errors.Is(err, domain.ErrCollectionNotFound):
		if err := r.store.CreateCollection(ctx, spec); err != nil {
			return nil, err
		}
		logger.With(logger.Fields{
			logger.FieldCollection: spec.Name,
			"vector_size":          spec.VectorSize,
			"distance":             spec.Distance,
		}).Info(ctx, "Created vector collection")
	default:
		return nil, err
	}

	row := &domain.Collection{
		Name:        spec.Name,
		VectorSize:  spec.VectorSize,
		Distance:    spec.Distance,
		HNSW:        spec.HNSW,
		TotalPoints: total,
	}
	created, err := r.repo.CreateIfAbsent(ctx, row)
	if err != nil {
		return nil, err
	}
	if !created {
		// Another instance registered it first.
		existing, err := r.repo.Get(ctx, spec.Name)
		if err != nil {
			return nil, err
		}
		if err := checkSchema(spec, existing.VectorSize, existing.Distance); err != nil {
			return nil, err
		}
		return existing, nil
	}
	return row, nil
}

// restoreIfMissing recreates a registered collection that was dropped from
// the vector store behind the registry's back.
func (r *CollectionRegistry) restoreIfMissing(ctx context.Context, c *domain.Collection) error {
	_, err := r.store.GetStats(ctx, c.Name)
	if err == nil || !errors.Is(err, domain.ErrCollectionNotFound) {
		return err
	}
	logger.With(logger.Fields{logger.FieldCollection: c.Name}).
		Warn(ctx, "Registered collection missing from vector store, recreating")
	if err := r.store.CreateCollection(ctx, c.Spec()); err != nil {
		return err
	}
	return r.repo.SetTotalPoints(ctx, c.Name, 0, time.Now())
}

func checkSchema(spec domain.CollectionSpec, size int, distance domain.DistanceMetric) error {
	if size != spec.VectorSize || distance != spec.Distance {
		return domain.NewSchemaConflictError(
			"collection %q exists with vector size %d and distance %s, requested %d and %s",
			spec.Name, size, distance, spec.VectorSize, spec.Distance)
	}
	return nil
}

// RecordUpsert adds newPoints to the collection's totalPoints and stamps
// updatedAt/lastSyncedAt. Safe under concurrent jobs: the counter is
// incremented in the database, never read-modify-written here.
func (r *CollectionRegistry) RecordUpsert(ctx context.Context, name string, newPoints int64, at time.Time) error {
	return r.repo.IncrementPoints(ctx, name, newPoints, at)
}

// Get returns the registry row of a collection.
func (r *CollectionRegistry) Get(ctx context.Context, name string) (*domain.Collection, error) {
	return r.repo.Get(ctx, name)
}

// List returns every registered collection.
func (r *CollectionRegistry) List(ctx context.Context) ([]domain.Collection, error) {
	return r.repo.List(ctx)
}

// Refresh overwrites totalPoints with the vector store's own count.
func (r *CollectionRegistry) Refresh(ctx context.Context, name string) (*domain.Collection, error) {
	if _, err := r.repo.Get(ctx, name); err != nil {
		return nil, err
	}
	stats, err := r.store.GetStats(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := r.repo.SetTotalPoints(ctx, name, int64(stats.PointCount), time.Now()); err != nil {
		return nil, err
	}
	return r.repo.Get(ctx, name)
}

// DeleteCollection removes the vector collection and its registry row.
// Datasources targeting it are left untouched; their next sync recreates it.
// Returns:
//   - error: not_found if neither the store nor the registry knew the name.
func (r *CollectionRegistry) DeleteCollection(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inStore := true
	if err := r.store.DeleteCollection(ctx, name); err != nil {
		if !errors.Is(err, domain.ErrCollectionNotFound) {
			return err
		}
		inStore = false
	}
	inRegistry, err := r.repo.Delete(ctx, name)
	if err != nil {
		return err
	}
	if !inStore && !inRegistry {
		return domain.NewNotFoundError("collection %q not found", name)
	}
	logger.With(logger.Fields{logger.FieldCollection: name}).Info(ctx, "Deleted collection")
	return nil
}
