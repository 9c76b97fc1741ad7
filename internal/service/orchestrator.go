package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/repository"
	"github.com/timmy/catalogsync/internal/source"
	"gorm.io/datatypes"
)

// errJobCancelled stops the batch loop when a cancellation was observed.
var errJobCancelled = errors.New("cancellation requested")

// SyncOptions tunes the orchestrator.
type SyncOptions struct {
	BatchSize        int
	EmbedConcurrency int
	RetryAttempts    int
	RetryBackoff     time.Duration
	Distance         domain.DistanceMetric // Used when a datasource does not set one
	HNSW             domain.HNSWParams
	PointNamespace   uuid.UUID // Namespace of the deterministic point ids
	WaitPollInterval time.Duration
}

// SyncOptionsFromConfig builds SyncOptions from the sync config section.
func SyncOptionsFromConfig(cfg *config.SyncConfig) *SyncOptions {
	distance, ok := domain.ParseDistance(cfg.Distance)
	if !ok {
		distance = domain.DistanceCosine
	}
	return &SyncOptions{
		BatchSize:        cfg.BatchSize,
		EmbedConcurrency: cfg.EmbedConcurrency,
		RetryAttempts:    cfg.RetryAttempts,
		RetryBackoff:     cfg.RetryBackoff,
		Distance:         distance,
		HNSW:             domain.HNSWParams{M: cfg.HNSWM, EfConstruct: cfg.HNSWEfConstruct},
	}
}

func (o *SyncOptions) withDefaults() *SyncOptions {
	out := *o
	if out.BatchSize <= 0 {
		out.BatchSize = 200
	}
	if out.EmbedConcurrency <= 0 {
		out.EmbedConcurrency = 8
	}
	if out.RetryAttempts <= 0 {
		out.RetryAttempts = 3
	}
	if out.Distance == "" {
		out.Distance = domain.DistanceCosine
	}
	if out.PointNamespace == uuid.Nil {
		out.PointNamespace = uuid.NameSpaceURL
	}
	if out.WaitPollInterval <= 0 {
		out.WaitPollInterval = 500 * time.Millisecond
	}
	return &out
}

// SyncOrchestrator runs sync jobs: it reads rows from a datasource, embeds
// them and upserts them into the datasource's target collection.
//
// Jobs run in the background, one goroutine per job. At most one job per
// datasource is active at a time; the slot is held in JobSlots so several
// orchestrator instances sharing a database (or Redis) coordinate.
type SyncOrchestrator struct {
	datasources *repository.DatasourceRepository
	jobs        *repository.SyncJobRepository
	slots       JobSlots
	reader      source.Reader
	embedder    Embedder
	store       VectorStore
	registry    *CollectionRegistry
	logger      *logger.Logger
	opts        *SyncOptions

	mu      sync.Mutex
	running map[string]chan struct{}
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

// NewSyncOrchestrator creates a new sync orchestrator
func NewSyncOrchestrator(
	datasources *repository.DatasourceRepository,
	jobs *repository.SyncJobRepository,
	slots JobSlots,
	reader source.Reader,
	embedder Embedder,
	store VectorStore,
	registry *CollectionRegistry,
	log *logger.Logger,
	opts *SyncOptions,
) *SyncOrchestrator {
	if opts == nil {
		opts = &SyncOptions{}
	}
	if log == nil {
		log = logger.GetDefault()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &SyncOrchestrator{
		datasources: datasources,
		jobs:        jobs,
		slots:       slots,
		reader:      reader,
		embedder:    embedder,
		store:       store,
		registry:    registry,
		logger:      log,
		opts:        opts.withDefaults(),
		running:     make(map[string]chan struct{}),
		baseCtx:     baseCtx,
		stop:        stop,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *SyncOrchestrator) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != logger.GetDefault() {
		return l
	}
	return s.logger
}

// TriggerSync validates the request, claims the datasource's active slot and
// starts the job in the background.
// Parameters:
//   - ctx: request context; the job itself outlives it.
//   - req: datasource, sync type, forceFull flag and (webhook) record keys.
// Returns:
//   - *domain.SyncJob: the job in pending state.
//   - error: conflict if the datasource already has an active job (no job is
//     created), not_found for an unknown datasource, invalid_argument for a bad request.
func (s *SyncOrchestrator) TriggerSync(ctx context.Context, req domain.TriggerSyncRequest) (*domain.SyncJob, error) {
	ds, err := s.datasources.GetByID(ctx, req.DatasourceID)
	if err != nil {
		return nil, err
	}
	syncType, err := resolveSyncType(req, ds)
	if err != nil {
		return nil, err
	}

	job := &domain.SyncJob{
		ID:             uuid.NewString(),
		DatasourceID:   ds.ID,
		Collection:     ds.TargetCollection,
		Type:           syncType,
		Status:         domain.JobStatusPending,
		StartWatermark: ds.Watermark,
	}
	var keys []string
	if syncType == domain.SyncTypeWebhook {
		keys = dedupeStrings(req.RecordKeys)
		if len(keys) == 0 {
			return nil, domain.NewInvalidArgumentError("webhook sync requires at least one record id")
		}
		raw, err := json.Marshal(keys)
		if err != nil {
			return nil, err
		}
		job.RecordKeys = datatypes.JSON(raw)
		job.StartWatermark = ""
	}
	if syncType == domain.SyncTypeFull {
		job.StartWatermark = ""
	}

	if err := s.slots.Acquire(ctx, ds.ID, job.ID); err != nil {
		return nil, err
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if relErr := s.slots.Release(context.WithoutCancel(ctx), ds.ID, job.ID); relErr != nil {
			s.log(ctx).WithError(relErr).Error("Failed to release slot after job creation failed")
		}
		return nil, err
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID:        job.ID,
		logger.FieldDatasourceID: ds.ID,
		logger.FieldSyncType:     syncType,
	}).Info("Sync job created")

	s.start(job, ds, keys)
	return job, nil
}

// resolveSyncType picks the effective type. An unspecified type is
// incremental when a watermark exists and full otherwise; forceFull always wins
// over incremental.
func resolveSyncType(req domain.TriggerSyncRequest, ds *domain.Datasource) (domain.SyncType, error) {
	switch req.Type {
	case "":
		if req.ForceFull || ds.Watermark == "" {
			return domain.SyncTypeFull, nil
		}
		return domain.SyncTypeIncremental, nil
	case domain.SyncTypeIncremental:
		if req.ForceFull {
			return domain.SyncTypeFull, nil
		}
		return domain.SyncTypeIncremental, nil
	case domain.SyncTypeFull, domain.SyncTypeWebhook:
		return req.Type, nil
	default:
		return "", domain.NewInvalidArgumentError("unknown sync type %q", req.Type)
	}
}

func (s *SyncOrchestrator) start(job *domain.SyncJob, ds *domain.Datasource, keys []string) {
	done := make(chan struct{})
	s.mu.Lock()
	s.running[job.ID] = done
	s.mu.Unlock()

	ctx := s.logger.ForJob(job.ID, ds.ID, ds.TargetCollection, job.Type).WithContext(s.baseCtx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, job.ID)
			s.mu.Unlock()
			close(done)
		}()
		s.run(ctx, job, ds, keys)
	}()
}

// runOutcome accumulates what a job did across batches.
//
// Rows arrive in marker order. maxMarker is the watermark the job may commit:
// the highest marker of a successful row that sorts strictly before every
// failed row, so the next incremental run reads the failed rows again.
type runOutcome struct {
	progress  domain.JobProgress
	newPoints int64
	maxMarker domain.Marker
	prev      domain.Marker // Highest successful marker below maxMarker
	blocked   bool
}

func (o *runOutcome) succeeded(m domain.Marker) {
	if o.blocked || !m.After(o.maxMarker) {
		return
	}
	o.prev, o.maxMarker = o.maxMarker, m
}

// failed stops the watermark below m. Rows without a marker are never read by
// an incremental run, so they do not hold it back.
func (o *runOutcome) failed(m domain.Marker) {
	if m.IsZero() || o.blocked {
		return
	}
	o.blocked = true
	if !m.After(o.maxMarker) {
		o.maxMarker = o.prev
	}
}

func (s *SyncOrchestrator) run(ctx context.Context, job *domain.SyncJob, ds *domain.Datasource, keys []string) {
	started := time.Now()
	out := &runOutcome{}

	requested, err := s.jobs.IsCancelRequested(ctx, job.ID)
	if err == nil && requested {
		s.finish(ctx, job, ds, out, errJobCancelled, started)
		return
	}
	if err == nil {
		err = s.jobs.MarkRunning(ctx, job.ID, time.Now())
	}
	if err == nil {
		err = s.datasources.SetStatus(ctx, ds.ID, domain.DatasourceSyncing, "")
	}
	if err == nil {
		s.log(ctx).WithField("model", s.embedder.GetModel()).Info("Sync job started")
		err = s.execute(ctx, job, ds, keys, out)
	}
	s.finish(ctx, job, ds, out, err, started)
}

func (s *SyncOrchestrator) execute(ctx context.Context, job *domain.SyncJob, ds *domain.Datasource, keys []string, out *runOutcome) error {
	distance := ds.Distance
	if distance == "" {
		distance = s.opts.Distance
	}
	if _, err := s.registry.EnsureCollection(ctx, domain.CollectionSpec{
		Name:       ds.TargetCollection,
		VectorSize: s.embedder.Dimensions(),
		Distance:   distance,
		HNSW:       s.opts.HNSW,
	}); err != nil {
		return err
	}

	if job.Type == domain.SyncTypeWebhook {
		return s.executeKeys(ctx, job, ds, keys, out)
	}

	var after domain.Marker
	if job.Type == domain.SyncTypeIncremental {
		var err error
		if after, err = ds.CurrentWatermark(); err != nil {
			return domain.NewInvalidStateError("datasource %q has an unreadable watermark: %v", ds.ID, err)
		}
	}

	var total int64
	if err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		total, err = s.reader.CountRows(ctx, ds, after)
		return err
	}); err != nil {
		return sourceError(err)
	}
	if err := s.jobs.SetTotal(ctx, job.ID, total, after.String()); err != nil {
		return err
	}

	for batch, offset := 0, 0; ; batch++ {
		if err := s.checkpoint(ctx, job, ds); err != nil {
			return err
		}
		var rows []source.Row
		if err := s.retry(ctx, func(ctx context.Context) error {
			var err error
			rows, err = s.reader.ReadRows(ctx, ds, after, s.opts.BatchSize, offset)
			return err
		}); err != nil {
			return sourceError(err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := s.processBatch(ctx, job, ds, batch, rows, nil, out); err != nil {
			return err
		}
		offset += len(rows)
		if len(rows) < s.opts.BatchSize {
			return nil
		}
	}
}

// executeKeys handles webhook jobs: the caller names the rows. Keys the source
// no longer has are recorded as row errors.
func (s *SyncOrchestrator) executeKeys(ctx context.Context, job *domain.SyncJob, ds *domain.Datasource, keys []string, out *runOutcome) error {
	if err := s.jobs.SetTotal(ctx, job.ID, int64(len(keys)), ""); err != nil {
		return err
	}
	for batch, start := 0, 0; start < len(keys); batch, start = batch+1, start+s.opts.BatchSize {
		if err := s.checkpoint(ctx, job, ds); err != nil {
			return err
		}
		end := start + s.opts.BatchSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		var rows []source.Row
		if err := s.retry(ctx, func(ctx context.Context) error {
			var err error
			rows, err = s.reader.ReadRowsByKeys(ctx, ds, chunk)
			return err
		}); err != nil {
			return sourceError(err)
		}

		found := make(map[string]bool, len(rows))
		for _, r := range rows {
			found[r.Key] = true
		}
		var missing []string
		for _, k := range chunk {
			if !found[k] {
				missing = append(missing, k)
			}
		}
		if err := s.processBatch(ctx, job, ds, batch, rows, missing, out); err != nil {
			return err
		}
	}
	return nil
}

// checkpoint runs at every batch boundary: it observes cancellation requests
// and renews the datasource slot.
func (s *SyncOrchestrator) checkpoint(ctx context.Context, job *domain.SyncJob, ds *domain.Datasource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	requested, err := s.jobs.IsCancelRequested(ctx, job.ID)
	if err != nil {
		return err
	}
	if requested {
		return errJobCancelled
	}
	return s.slots.Refresh(ctx, ds.ID, job.ID)
}

func (s *SyncOrchestrator) retry(ctx context.Context, op func(ctx context.Context) error) error {
	return withRetry(ctx, s.opts.RetryAttempts, s.opts.RetryBackoff, op)
}

// sourceError makes any read failure that survived retries fatal for the job.
func sourceError(err error) error {
	if domain.IsSystemic(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
}

func (s *SyncOrchestrator) finish(ctx context.Context, job *domain.SyncJob, ds *domain.Datasource, out *runOutcome, runErr error, started time.Time) {
	// The job context may already be cancelled (shutdown); bookkeeping must still land.
	ctx = context.WithoutCancel(ctx)
	now := time.Now()
	log := s.log(ctx).WithFields(logger.Fields{
		logger.FieldDurationMs: time.Since(started).Milliseconds(),
		"processed":            out.progress.Processed,
		"successful":           out.progress.Successful,
		"failed":               out.progress.Failed,
	})

	var err error
	switch {
	case runErr == nil:
		watermark := ""
		if job.Type != domain.SyncTypeWebhook {
			current, _ := ds.CurrentWatermark()
			if out.maxMarker.After(current) {
				watermark = out.maxMarker.String()
			}
		}
		end := watermark
		if end == "" {
			end = ds.Watermark
		}
		if err = s.jobs.Finish(ctx, job.ID, domain.JobStatusCompleted, "", end, now); err == nil {
			err = s.datasources.MarkSynced(ctx, ds.ID, watermark, now)
		}
		log.WithField(logger.FieldStatus, domain.JobStatusCompleted).WithField("watermark", end).Info("Sync job completed")
	case errors.Is(runErr, errJobCancelled):
		if err = s.jobs.Finish(ctx, job.ID, domain.JobStatusCancelled, "", "", now); err == nil {
			err = s.datasources.SetStatus(ctx, ds.ID, domain.DatasourceIdle, "")
		}
		log.WithField(logger.FieldStatus, domain.JobStatusCancelled).Info("Sync job cancelled")
	default:
		msg := runErr.Error()
		if errors.Is(runErr, context.Canceled) && s.baseCtx.Err() != nil {
			msg = "interrupted by shutdown: " + msg
		}
		if err = s.jobs.Finish(ctx, job.ID, domain.JobStatusFailed, msg, "", now); err == nil {
			err = s.datasources.SetStatus(ctx, ds.ID, domain.DatasourceError, msg)
		}
		log.WithField(logger.FieldStatus, domain.JobStatusFailed).WithError(runErr).Error("Sync job failed")
	}
	if err != nil {
		log.WithError(err).Error("Failed to record sync job outcome")
	}
	if err := s.slots.Release(ctx, ds.ID, job.ID); err != nil {
		log.WithError(err).Error("Failed to release datasource slot")
	}
}

// CancelJob requests cooperative cancellation; the job stops at its next
// batch boundary.
// Returns:
//   - error: not_found for an unknown job, invalid_state once the job is terminal.
func (s *SyncOrchestrator) CancelJob(ctx context.Context, id string) error {
	if err := s.jobs.RequestCancel(ctx, id); err != nil {
		return err
	}
	s.log(ctx).WithField(logger.FieldJobID, id).Info("Cancellation requested")
	return nil
}

// GetJob returns a job by id.
func (s *SyncOrchestrator) GetJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// ListJobs returns jobs matching filter, newest first.
func (s *SyncOrchestrator) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.SyncJob, error) {
	return s.jobs.List(ctx, filter)
}

// ListJobErrors returns one page of a job's row errors and their total count.
func (s *SyncOrchestrator) ListJobErrors(ctx context.Context, id string, limit, offset int) ([]domain.SyncError, int64, error) {
	if _, err := s.jobs.GetByID(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.jobs.ListErrors(ctx, id, limit, offset)
}

// Wait blocks until the job is terminal or ctx is done, then returns it.
// Jobs started by another instance are polled.
func (s *SyncOrchestrator) Wait(ctx context.Context, id string) (*domain.SyncJob, error) {
	s.mu.Lock()
	done, local := s.running[id]
	s.mu.Unlock()

	if local {
		select {
		case <-done:
			return s.jobs.GetByID(ctx, id)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ticker := time.NewTicker(s.opts.WaitPollInterval)
	defer ticker.Stop()
	for {
		job, err := s.jobs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// RecoverStale fails jobs left pending or running by a previous process and
// frees their slots. Call it once at startup, before triggering new jobs.
// Returns:
//   - int: number of jobs marked failed.
//   - error: non-nil if the job table cannot be read.
func (s *SyncOrchestrator) RecoverStale(ctx context.Context) (int, error) {
	active, err := s.jobs.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, job := range active {
		s.mu.Lock()
		_, local := s.running[job.ID]
		s.mu.Unlock()
		if local {
			continue
		}
		const msg = "interrupted: orchestrator stopped before the job finished"
		if err := s.jobs.Finish(ctx, job.ID, domain.JobStatusFailed, msg, "", time.Now()); err != nil {
			s.log(ctx).WithField(logger.FieldJobID, job.ID).WithError(err).Warn("Failed to recover stale job")
			continue
		}
		if err := s.datasources.SetStatus(ctx, job.DatasourceID, domain.DatasourceError, msg); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to reset datasource status")
		}
		if err := s.slots.Release(ctx, job.DatasourceID, job.ID); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to release stale slot")
		}
		recovered++
	}

	// Slots whose job is gone or already terminal.
	if lister, ok := s.slots.(slotLister); ok {
		slots, err := lister.List(ctx)
		if err != nil {
			return recovered, err
		}
		for _, slot := range slots {
			job, err := s.jobs.GetByID(ctx, slot.JobID)
			if err == nil && !job.Status.IsTerminal() {
				continue
			}
			if err != nil && !domain.IsKind(err, domain.KindNotFound) {
				return recovered, err
			}
			if err := s.slots.Release(ctx, slot.DatasourceID, slot.JobID); err != nil {
				return recovered, err
			}
		}
	}

	if recovered > 0 {
		s.log(ctx).WithField(logger.FieldCount, recovered).Warn("Recovered stale sync jobs")
	}
	return recovered, nil
}

// Shutdown interrupts running jobs and waits for them to record their outcome.
func (s *SyncOrchestrator) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
