package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"gorm.io/gorm"
)

// SyncJobRepository persists sync jobs and their row errors. Status updates are
// guarded by the expected current status so a terminal job is never rewritten.
type SyncJobRepository struct {
	db *gorm.DB
}

// NewSyncJobRepository creates a new SyncJobRepository.
func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Create inserts a pending job.
func (r *SyncJobRepository) Create(ctx context.Context, job *domain.SyncJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.SyncJob: job if found.
//   - error: not_found if absent, non-nil if lookup fails.
func (r *SyncJobRepository) GetByID(ctx context.Context, id string) (*domain.SyncJob, error) {
	var job domain.SyncJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("sync job %q not found", id)
		}
		return nil, err
	}
	return &job, nil
}

// List returns jobs newest first.
func (r *SyncJobRepository) List(ctx context.Context, filter domain.JobFilter) ([]domain.SyncJob, error) {
	q := r.db.WithContext(ctx).Model(&domain.SyncJob{})
	if filter.DatasourceID != "" {
		q = q.Where("datasource_id = ?", filter.DatasourceID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var jobs []domain.SyncJob
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// ListActive returns every pending or running job.
func (r *SyncJobRepository) ListActive(ctx context.Context) ([]domain.SyncJob, error) {
	var jobs []domain.SyncJob
	err := r.db.WithContext(ctx).Where("status IN ?", domain.ActiveStatuses).Order("created_at ASC").Find(&jobs).Error
	return jobs, err
}

// MarkRunning moves a pending job to running.
// Returns:
//   - error: invalid_state if the job was not pending.
func (r *SyncJobRepository) MarkRunning(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.SyncJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusRunning,
			"started_at": at,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewInvalidStateError("sync job %q is not pending", id)
	}
	return nil
}

// SetTotal records the size of the job's row set.
func (r *SyncJobRepository) SetTotal(ctx context.Context, id string, total int64, startWatermark string) error {
	return r.db.WithContext(ctx).Model(&domain.SyncJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"total_records":   total,
		"start_watermark": startWatermark,
		"updated_at":      time.Now(),
	}).Error
}

// AddProgress applies one batch's counters atomically.
func (r *SyncJobRepository) AddProgress(ctx context.Context, id string, p domain.JobProgress) error {
	return r.db.WithContext(ctx).Model(&domain.SyncJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed_records":  gorm.Expr("processed_records + ?", p.Processed),
		"successful_records": gorm.Expr("successful_records + ?", p.Successful),
		"failed_records":     gorm.Expr("failed_records + ?", p.Failed),
		"updated_at":         time.Now(),
	}).Error
}

// Finish applies a terminal transition to an active job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - status: terminal status.
//   - errMsg: failure description, empty unless failed.
//   - endWatermark: marker the datasource advanced to, if any.
//   - at: completion time.
// Returns:
//   - error: invalid_state if the job is already terminal.
func (r *SyncJobRepository) Finish(ctx context.Context, id string, status domain.JobStatus, errMsg, endWatermark string, at time.Time) error {
	if !status.IsTerminal() {
		return domain.NewInvalidArgumentError("status %q is not terminal", status)
	}
	res := r.db.WithContext(ctx).Model(&domain.SyncJob{}).
		Where("id = ? AND status IN ?", id, domain.ActiveStatuses).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
			"end_watermark": endWatermark,
			"completed_at":  at,
			"updated_at":    at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewInvalidStateError("sync job %q is already terminal", id)
	}
	return nil
}

// RequestCancel sets the cancellation flag on an active job.
// Returns:
//   - error: not_found for unknown ids, invalid_state for terminal jobs.
func (r *SyncJobRepository) RequestCancel(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&domain.SyncJob{}).
		Where("id = ? AND status IN ?", id, domain.ActiveStatuses).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return domain.NewInvalidStateError("sync job %q is %s and cannot be cancelled", id, job.Status)
}

// IsCancelRequested reports whether cancellation was requested for the job.
func (r *SyncJobRepository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var job domain.SyncJob
	if err := r.db.WithContext(ctx).Select("cancel_requested").First(&job, "id = ?", id).Error; err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// AppendErrors records failed rows. SyncErrors are never updated.
func (r *SyncJobRepository) AppendErrors(ctx context.Context, errs []domain.SyncError) error {
	if len(errs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(errs, 100).Error
}

// ListErrors returns a job's row errors in insertion order plus the total count.
func (r *SyncJobRepository) ListErrors(ctx context.Context, jobID string, limit, offset int) ([]domain.SyncError, int64, error) {
	var total int64
	q := r.db.WithContext(ctx).Model(&domain.SyncError{}).Where("job_id = ?", jobID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 100
	}
	var errs []domain.SyncError
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id ASC").Limit(limit).Offset(offset).Find(&errs).Error
	return errs, total, err
}
