package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobSlotRepository keeps the one-active-job-per-datasource slots in the
// metadata database, so every orchestrator sharing the database sees them.
type JobSlotRepository struct {
	db *gorm.DB
}

// NewJobSlotRepository creates a new JobSlotRepository.
func NewJobSlotRepository(db *gorm.DB) *JobSlotRepository {
	return &JobSlotRepository{db: db}
}

// Acquire claims the datasource's slot for jobID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - datasourceID: datasource whose slot is claimed.
//   - jobID: job that will hold the slot.
// Returns:
//   - error: conflict if another job holds the slot.
func (r *JobSlotRepository) Acquire(ctx context.Context, datasourceID, jobID string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.ActiveSyncJob{
		DatasourceID: datasourceID,
		JobID:        jobID,
		AcquiredAt:   now,
		HeartbeatAt:  now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		holder, _, err := r.Holder(ctx, datasourceID)
		if err != nil {
			return err
		}
		return domain.NewConflictError("datasource %q already has an active sync job %s", datasourceID, holder)
	}
	return nil
}

// Release frees the slot if jobID still holds it.
func (r *JobSlotRepository) Release(ctx context.Context, datasourceID, jobID string) error {
	return r.db.WithContext(ctx).
		Where("datasource_id = ? AND job_id = ?", datasourceID, jobID).
		Delete(&domain.ActiveSyncJob{}).Error
}

// Refresh records a heartbeat for the holder.
// Returns:
//   - error: conflict if jobID no longer holds the slot.
func (r *JobSlotRepository) Refresh(ctx context.Context, datasourceID, jobID string) error {
	res := r.db.WithContext(ctx).Model(&domain.ActiveSyncJob{}).
		Where("datasource_id = ? AND job_id = ?", datasourceID, jobID).
		Update("heartbeat_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewConflictError("sync job %s lost the active slot of datasource %q", jobID, datasourceID)
	}
	return nil
}

// Holder returns the job holding the datasource's slot, if any.
func (r *JobSlotRepository) Holder(ctx context.Context, datasourceID string) (string, bool, error) {
	var slot domain.ActiveSyncJob
	err := r.db.WithContext(ctx).First(&slot, "datasource_id = ?", datasourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return slot.JobID, true, nil
}

// List returns every held slot.
func (r *JobSlotRepository) List(ctx context.Context) ([]domain.ActiveSyncJob, error) {
	var slots []domain.ActiveSyncJob
	err := r.db.WithContext(ctx).Order("datasource_id ASC").Find(&slots).Error
	return slots, err
}
