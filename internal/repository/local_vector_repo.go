package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"go.etcd.io/bbolt"
)

var bucketCollections = []byte("collections")

func pointsBucket(collection string) []byte {
	return []byte("points:" + collection)
}

// LocalVectorRepository is a brute-force vector store kept in memory and,
// when opened with a path, mirrored to a bbolt file. It serves development
// setups without Qdrant and tests.
//
// Scores: Cosine and Dot return the raw similarity; Euclidean returns
// 1/(1+distance) so that higher is always closer.
type LocalVectorRepository struct {
	mu          sync.RWMutex
	db          *bbolt.DB
	collections map[string]*localCollection
}

type localCollection struct {
	spec   domain.CollectionSpec
	points map[string]domain.Point
}

// NewMemoryVectorRepository returns a store with no persistence.
func NewMemoryVectorRepository() *LocalVectorRepository {
	return &LocalVectorRepository{collections: make(map[string]*localCollection)}
}

// OpenLocalVectorRepository opens (or creates) a bbolt-backed store and loads it into memory.
func OpenLocalVectorRepository(path string) (*LocalVectorRepository, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open local vector store %s: %w", path, err)
	}
	r := &LocalVectorRepository{db: db, collections: make(map[string]*localCollection)}
	if err := r.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *LocalVectorRepository) load() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketCollections)
		if err != nil {
			return fmt.Errorf("failed to create collections bucket: %w", err)
		}
		return meta.ForEach(func(name, raw []byte) error {
			var spec domain.CollectionSpec
			if err := json.Unmarshal(raw, &spec); err != nil {
				return fmt.Errorf("corrupt collection %s: %w", name, err)
			}
			c := &localCollection{spec: spec, points: make(map[string]domain.Point)}
			if b := tx.Bucket(pointsBucket(spec.Name)); b != nil {
				if err := b.ForEach(func(id, raw []byte) error {
					var p domain.Point
					if err := json.Unmarshal(raw, &p); err != nil {
						return fmt.Errorf("corrupt point %s/%s: %w", spec.Name, id, err)
					}
					c.points[p.ID] = p
					return nil
				}); err != nil {
					return err
				}
			}
			r.collections[spec.Name] = c
			return nil
		})
	})
}

// Close closes the backing file, if any.
func (r *LocalVectorRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Ping always succeeds; the store is in-process.
func (r *LocalVectorRepository) Ping(context.Context) error {
	return nil
}

// CreateCollection registers an empty collection.
func (r *LocalVectorRepository) CreateCollection(_ context.Context, spec domain.CollectionSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.collections[spec.Name]; ok {
		return fmt.Errorf("collection %s already exists", spec.Name)
	}
	if r.db != nil {
		raw, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		if err := r.db.Update(func(tx *bbolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(pointsBucket(spec.Name)); err != nil {
				return err
			}
			return tx.Bucket(bucketCollections).Put([]byte(spec.Name), raw)
		}); err != nil {
			return fmt.Errorf("persist collection %s: %w", spec.Name, err)
		}
	}
	r.collections[spec.Name] = &localCollection{spec: spec, points: make(map[string]domain.Point)}
	return nil
}

// DeleteCollection drops a collection and its points.
func (r *LocalVectorRepository) DeleteCollection(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.collections[name]; !ok {
		return fmt.Errorf("delete collection %s: %w", name, domain.ErrCollectionNotFound)
	}
	if r.db != nil {
		if err := r.db.Update(func(tx *bbolt.Tx) error {
			if err := tx.DeleteBucket(pointsBucket(name)); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			return tx.Bucket(bucketCollections).Delete([]byte(name))
		}); err != nil {
			return fmt.Errorf("persist delete %s: %w", name, err)
		}
	}
	delete(r.collections, name)
	return nil
}

// GetStats reports the collection's point count and schema.
func (r *LocalVectorRepository) GetStats(_ context.Context, name string) (*domain.CollectionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.collections[name]
	if !ok {
		return nil, fmt.Errorf("get collection %s: %w", name, domain.ErrCollectionNotFound)
	}
	return &domain.CollectionStats{
		Name:       name,
		PointCount: uint64(len(c.points)),
		VectorSize: c.spec.VectorSize,
		Distance:   c.spec.Distance,
	}, nil
}

// Upsert overwrites points by id. The whole call is rejected if any vector
// has the wrong length.
func (r *LocalVectorRepository) Upsert(_ context.Context, collection string, points []domain.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.collections[collection]
	if !ok {
		return fmt.Errorf("upsert into %s: %w", collection, domain.ErrCollectionNotFound)
	}
	for _, p := range points {
		if len(p.Vector) != c.spec.VectorSize {
			return fmt.Errorf("point %s has %d dimensions, collection %s expects %d: %w",
				p.ID, len(p.Vector), collection, c.spec.VectorSize, domain.ErrDimensionMismatch)
		}
	}
	if r.db != nil {
		if err := r.db.Update(func(tx *bbolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists(pointsBucket(collection))
			if err != nil {
				return err
			}
			for _, p := range points {
				raw, err := json.Marshal(p)
				if err != nil {
					return err
				}
				if err := b.Put([]byte(p.ID), raw); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return fmt.Errorf("persist points: %w", err)
		}
	}
	for _, p := range points {
		c.points[p.ID] = clonePoint(p)
	}
	return nil
}

// ExistingIDs reports which of ids are already stored.
func (r *LocalVectorRepository) ExistingIDs(_ context.Context, collection string, ids []string) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.collections[collection]
	if !ok {
		return nil, fmt.Errorf("get points from %s: %w", collection, domain.ErrCollectionNotFound)
	}
	found := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := c.points[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

// Query scans every point. Ties are broken by id for stable output.
func (r *LocalVectorRepository) Query(_ context.Context, collection string, vector []float32, limit int, scoreThreshold float32, filter *domain.PointFilter) ([]domain.ScoredPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.collections[collection]
	if !ok {
		return nil, fmt.Errorf("search %s: %w", collection, domain.ErrCollectionNotFound)
	}
	if len(vector) != c.spec.VectorSize {
		return nil, fmt.Errorf("query vector has %d dimensions, collection %s expects %d: %w",
			len(vector), collection, c.spec.VectorSize, domain.ErrDimensionMismatch)
	}

	var hits []domain.ScoredPoint
	for _, p := range c.points {
		if !filter.Matches(p.Payload) {
			continue
		}
		score := localScore(c.spec.Distance, vector, p.Vector)
		if score < scoreThreshold {
			continue
		}
		hits = append(hits, domain.ScoredPoint{ID: p.ID, Score: score, Payload: copyPayload(p.Payload)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Scroll pages through points in id order. The cursor is the first id of the next page.
func (r *LocalVectorRepository) Scroll(_ context.Context, collection string, filter *domain.PointFilter, cursor string, limit int) ([]domain.Point, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.collections[collection]
	if !ok {
		return nil, "", fmt.Errorf("scroll %s: %w", collection, domain.ErrCollectionNotFound)
	}
	ids := make([]string, 0, len(c.points))
	for id, p := range c.points {
		if id >= cursor && filter.Matches(p.Payload) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	next := ""
	if limit > 0 && len(ids) > limit {
		next = ids[limit]
		ids = ids[:limit]
	}
	out := make([]domain.Point, len(ids))
	for i, id := range ids {
		out[i] = clonePoint(c.points[id])
	}
	return out, next, nil
}

func localScore(distance domain.DistanceMetric, a, b []float32) float32 {
	switch distance {
	case domain.DistanceDot:
		return dot(a, b)
	case domain.DistanceEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(1 / (1 + math.Sqrt(sum)))
	default:
		return CosineSimilarity(a, b)
	}
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// CosineSimilarity returns the cosine of the angle between a and b, 0 for zero vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var ab, aa, bb float64
	for i := range a {
		ab += float64(a[i]) * float64(b[i])
		aa += float64(a[i]) * float64(a[i])
		bb += float64(b[i]) * float64(b[i])
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	return float32(ab / (math.Sqrt(aa) * math.Sqrt(bb)))
}

func clonePoint(p domain.Point) domain.Point {
	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)
	return domain.Point{ID: p.ID, Vector: vec, Payload: copyPayload(p.Payload)}
}

func copyPayload(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
