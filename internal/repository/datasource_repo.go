package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DatasourceRepository handles datasource records.
type DatasourceRepository struct {
	db *gorm.DB
}

// NewDatasourceRepository creates a new DatasourceRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *DatasourceRepository: repository instance bound to db.
func NewDatasourceRepository(db *gorm.DB) *DatasourceRepository {
	return &DatasourceRepository{db: db}
}

// Create inserts a new datasource.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ds: datasource to persist.
// Returns:
//   - error: conflict if the id is taken, non-nil if the insert fails.
func (r *DatasourceRepository) Create(ctx context.Context, ds *domain.Datasource) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Datasource{}).Where("id = ?", ds.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return domain.NewConflictError("datasource %q already exists", ds.ID)
	}
	return r.db.WithContext(ctx).Create(ds).Error
}

// Seed creates the datasource or refreshes its connection descriptor, leaving
// the watermark and status of an existing record untouched.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ds: datasource declared in configuration.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *DatasourceRepository) Seed(ctx context.Context, ds *domain.Datasource) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "kind", "dsn_env", "path", "source_table", "query",
			"key_column", "marker_column", "watermark_kind", "text_columns",
			"payload_columns", "target_collection", "distance", "updated_at",
		}),
	}).Create(ds).Error
}

// GetByID retrieves a datasource by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: datasource ID.
// Returns:
//   - *domain.Datasource: datasource record if found.
//   - error: not_found if absent, non-nil if lookup fails.
func (r *DatasourceRepository) GetByID(ctx context.Context, id string) (*domain.Datasource, error) {
	var ds domain.Datasource
	if err := r.db.WithContext(ctx).First(&ds, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("datasource %q not found", id)
		}
		return nil, err
	}
	return &ds, nil
}

// List returns all datasources ordered by id.
func (r *DatasourceRepository) List(ctx context.Context) ([]domain.Datasource, error) {
	var out []domain.Datasource
	err := r.db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// MarkSynced advances the watermark after a completed sync. An empty watermark
// keeps the stored one.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: datasource ID.
//   - watermark: new persisted marker, or "" to leave it unchanged.
//   - at: completion time.
// Returns:
//   - error: non-nil if the update fails.
func (r *DatasourceRepository) MarkSynced(ctx context.Context, id, watermark string, at time.Time) error {
	updates := map[string]interface{}{
		"status":         domain.DatasourceIdle,
		"last_error":     "",
		"last_synced_at": at,
		"updated_at":     at,
	}
	if watermark != "" {
		updates["watermark"] = watermark
	}
	return r.db.WithContext(ctx).Model(&domain.Datasource{}).Where("id = ?", id).Updates(updates).Error
}

// SetStatus records the datasource's coarse sync state.
func (r *DatasourceRepository) SetStatus(ctx context.Context, id string, status domain.DatasourceStatus, lastError string) error {
	return r.db.WithContext(ctx).Model(&domain.Datasource{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"last_error": lastError,
		"updated_at": time.Now(),
	}).Error
}

// Delete removes a datasource that no sync job references.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: datasource ID.
// Returns:
//   - error: invalid_state while jobs reference it, not_found if absent.
func (r *DatasourceRepository) Delete(ctx context.Context, id string) error {
	var refs int64
	if err := r.db.WithContext(ctx).Model(&domain.SyncJob{}).Where("datasource_id = ?", id).Count(&refs).Error; err != nil {
		return err
	}
	if refs > 0 {
		return domain.NewInvalidStateError("datasource %q is referenced by %d sync jobs", id, refs)
	}
	res := r.db.WithContext(ctx).Delete(&domain.Datasource{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFoundError("datasource %q not found", id)
	}
	return nil
}
