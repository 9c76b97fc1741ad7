package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/repository"
	"github.com/timmy/catalogsync/internal/source"
	"gorm.io/gorm"
)

// fakeReader serves rows from memory in marker/key order.
type fakeReader struct {
	mu   sync.Mutex
	rows []source.Row
	gate chan struct{} // when set, CountRows and ReadRowsByKeys block until closed
}

func (r *fakeReader) add(key string, marker int64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, source.Row{
		Key:    key,
		Marker: domain.IDMarker(marker),
		Fields: map[string]interface{}{"sku": key, "version": marker, "descripcion": text},
	})
}

// addFields adds a row the way a SQL reader builds it from raw columns.
func (r *fakeReader) addFields(fields map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, source.BuildRow(testDatasource(), fields))
}

func (r *fakeReader) wait(ctx context.Context) error {
	if r.gate == nil {
		return nil
	}
	select {
	case <-r.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *fakeReader) sorted(after domain.Marker) []source.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]source.Row, 0, len(r.rows))
	for _, row := range r.rows {
		if after.IsZero() || row.Marker.After(after) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Marker.Compare(out[j].Marker); c != 0 {
			return c < 0
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (r *fakeReader) ReadRows(_ context.Context, _ *domain.Datasource, after domain.Marker, limit, offset int) ([]source.Row, error) {
	rows := r.sorted(after)
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], nil
}

func (r *fakeReader) ReadRowsByKeys(ctx context.Context, _ *domain.Datasource, keys []string) ([]source.Row, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []source.Row
	for _, row := range r.sorted(domain.Marker{}) {
		if want[row.Key] {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeReader) CountRows(ctx context.Context, _ *domain.Datasource, after domain.Marker) (int64, error) {
	if err := r.wait(ctx); err != nil {
		return 0, err
	}
	return int64(len(r.sorted(after))), nil
}

// fakeEmbedder derives a deterministic vector from the text. Texts listed in
// fail produce a row-level embedding error.
type fakeEmbedder struct {
	dims    int
	outDims int // length actually returned; 0 means dims
	fail    map[string]bool
	vectors map[string][]float32 // fixed vectors by text
}

func (e *fakeEmbedder) Dimensions() int  { return e.dims }
func (e *fakeEmbedder) GetModel() string { return "fake" }

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail[text] {
		return nil, fmt.Errorf("embed %q: %w", text, domain.ErrEmbeddingFailed)
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	n := e.outDims
	if n == 0 {
		n = e.dims
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = float32((seed>>(uint(i)%24))&0xff)/255 + 0.01
	}
	return vec, nil
}

// hookStore wraps a VectorStore and calls onUpsert before every Upsert.
type hookStore struct {
	VectorStore
	mu       sync.Mutex
	upserts  int
	onUpsert func(call int)
}

func (s *hookStore) Upsert(ctx context.Context, collection string, points []domain.Point) error {
	s.mu.Lock()
	s.upserts++
	call := s.upserts
	s.mu.Unlock()
	if s.onUpsert != nil {
		s.onUpsert(call)
	}
	return s.VectorStore.Upsert(ctx, collection, points)
}

type syncFixture struct {
	db          *gorm.DB
	datasources *repository.DatasourceRepository
	jobs        *repository.SyncJobRepository
	collections *repository.CollectionRepository
	slots       *repository.JobSlotRepository
	store       *hookStore
	local       *repository.LocalVectorRepository
	reader      *fakeReader
	embedder    *fakeEmbedder
	registry    *CollectionRegistry
	orch        *SyncOrchestrator
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testDatasource() *domain.Datasource {
	return &domain.Datasource{
		ID:               "erp",
		Name:             "ERP",
		Kind:             domain.SourceKindSQLite,
		Path:             "erp.db",
		Table:            "productos",
		KeyColumn:        "sku",
		MarkerColumn:     "version",
		WatermarkKind:    domain.WatermarkID,
		TextColumns:      domain.StringArray{"descripcion"},
		TargetCollection: "productos",
		Status:           domain.DatasourceIdle,
	}
}

func newSyncFixture(t *testing.T, batchSize int) *syncFixture {
	t.Helper()
	db := newTestDB(t)
	f := &syncFixture{
		db:          db,
		datasources: repository.NewDatasourceRepository(db),
		jobs:        repository.NewSyncJobRepository(db),
		collections: repository.NewCollectionRepository(db),
		slots:       repository.NewJobSlotRepository(db),
		local:       repository.NewMemoryVectorRepository(),
		reader:      &fakeReader{},
		embedder:    &fakeEmbedder{dims: 3},
	}
	f.store = &hookStore{VectorStore: f.local}
	f.registry = NewCollectionRegistry(f.collections, f.store)
	f.orch = NewSyncOrchestrator(f.datasources, f.jobs, f.slots, f.reader, f.embedder, f.store, f.registry, nil, &SyncOptions{
		BatchSize:        batchSize,
		EmbedConcurrency: 4,
		RetryAttempts:    2,
		RetryBackoff:     time.Millisecond,
		WaitPollInterval: 10 * time.Millisecond,
	})
	// Registered after the database cleanup so it runs first.
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.orch.Shutdown(ctx)
	})

	if err := f.datasources.Create(context.Background(), testDatasource()); err != nil {
		t.Fatalf("create datasource: %v", err)
	}
	return f
}

// runSync triggers a job and waits for its terminal state.
func (f *syncFixture) runSync(t *testing.T, req domain.TriggerSyncRequest) *domain.SyncJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := f.orch.TriggerSync(ctx, req)
	if err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}
	done, err := f.orch.Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return done
}

func (f *syncFixture) datasource(t *testing.T) *domain.Datasource {
	t.Helper()
	ds, err := f.datasources.GetByID(context.Background(), "erp")
	if err != nil {
		t.Fatalf("get datasource: %v", err)
	}
	return ds
}

// scriptedStore answers queries from a fixed similarity table. Each point's
// vector is a one-hot of its index, which is how Query recognizes the caller.
type scriptedStore struct {
	points  []domain.Point
	scores  map[[2]string]float32
	missing bool
}

func newScriptedStore(ids []string, payloads map[string]map[string]interface{}) *scriptedStore {
	s := &scriptedStore{scores: make(map[[2]string]float32)}
	for i, id := range ids {
		vec := make([]float32, len(ids))
		vec[i] = 1
		s.points = append(s.points, domain.Point{ID: id, Vector: vec, Payload: payloads[id]})
	}
	return s
}

func (s *scriptedStore) setScore(a, b string, score float32) {
	s.scores[[2]string{a, b}] = score
	s.scores[[2]string{b, a}] = score
}

func (s *scriptedStore) Ping(context.Context) error { return nil }
func (s *scriptedStore) CreateCollection(context.Context, domain.CollectionSpec) error {
	return nil
}
func (s *scriptedStore) DeleteCollection(context.Context, string) error { return nil }
func (s *scriptedStore) Upsert(context.Context, string, []domain.Point) error {
	return fmt.Errorf("scripted store is read-only")
}
func (s *scriptedStore) ExistingIDs(context.Context, string, []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (s *scriptedStore) GetStats(_ context.Context, name string) (*domain.CollectionStats, error) {
	if s.missing {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	return &domain.CollectionStats{Name: name, PointCount: uint64(len(s.points)), VectorSize: len(s.points), Distance: domain.DistanceCosine}, nil
}

func (s *scriptedStore) Scroll(_ context.Context, _ string, filter *domain.PointFilter, cursor string, limit int) ([]domain.Point, string, error) {
	start := 0
	if cursor != "" {
		_, _ = fmt.Sscanf(cursor, "%d", &start)
	}
	var out []domain.Point
	i := start
	for ; i < len(s.points) && len(out) < limit; i++ {
		if filter.Matches(s.points[i].Payload) {
			out = append(out, s.points[i])
		}
	}
	next := ""
	if i < len(s.points) {
		next = fmt.Sprintf("%d", i)
	}
	return out, next, nil
}

func (s *scriptedStore) Query(_ context.Context, _ string, vector []float32, limit int, threshold float32, filter *domain.PointFilter) ([]domain.ScoredPoint, error) {
	self := ""
	for i, v := range vector {
		if v == 1 && i < len(s.points) {
			self = s.points[i].ID
		}
	}
	var hits []domain.ScoredPoint
	for _, p := range s.points {
		score := float32(0)
		if p.ID == self {
			score = 1
		} else {
			score = s.scores[[2]string{self, p.ID}]
		}
		if score < threshold || !filter.Matches(p.Payload) {
			continue
		}
		hits = append(hits, domain.ScoredPoint{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// fixedStore returns the same hits for every query.
type fixedStore struct {
	scriptedStore
	hits []domain.ScoredPoint
}

func (s *fixedStore) Query(_ context.Context, _ string, _ []float32, limit int, threshold float32, _ *domain.PointFilter) ([]domain.ScoredPoint, error) {
	var out []domain.ScoredPoint
	for _, h := range s.hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
