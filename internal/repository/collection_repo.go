package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CollectionRepository holds the registry's collection metadata rows.
type CollectionRepository struct {
	db *gorm.DB
}

// NewCollectionRepository creates a new CollectionRepository.
func NewCollectionRepository(db *gorm.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// Get retrieves a collection row by name.
// Returns:
//   - error: not_found if absent.
func (r *CollectionRepository) Get(ctx context.Context, name string) (*domain.Collection, error) {
	var c domain.Collection
	if err := r.db.WithContext(ctx).First(&c, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("collection %q not found", name)
		}
		return nil, err
	}
	return &c, nil
}

// List returns all collection rows ordered by name.
func (r *CollectionRepository) List(ctx context.Context) ([]domain.Collection, error) {
	var out []domain.Collection
	err := r.db.WithContext(ctx).Order("name ASC").Find(&out).Error
	return out, err
}

// CreateIfAbsent inserts the row unless one with the same name exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - c: collection row to insert.
// Returns:
//   - bool: true if this call inserted the row.
//   - error: non-nil if the insert fails.
func (r *CollectionRepository) CreateIfAbsent(ctx context.Context, c *domain.Collection) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementPoints adds delta to totalPoints in a single UPDATE so concurrent
// jobs writing to the same collection never lose increments.
// Returns:
//   - error: not_found if the row does not exist.
func (r *CollectionRepository) IncrementPoints(ctx context.Context, name string, delta int64, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Collection{}).Where("name = ?", name).Updates(map[string]interface{}{
		"total_points":   gorm.Expr("total_points + ?", delta),
		"updated_at":     at,
		"last_synced_at": at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFoundError("collection %q not found", name)
	}
	return nil
}

// SetTotalPoints overwrites totalPoints with a count reported by the vector store.
func (r *CollectionRepository) SetTotalPoints(ctx context.Context, name string, total int64, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Collection{}).Where("name = ?", name).Updates(map[string]interface{}{
		"total_points": total,
		"updated_at":   at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewNotFoundError("collection %q not found", name)
	}
	return nil
}

// Delete removes the row. It reports whether a row existed.
func (r *CollectionRepository) Delete(ctx context.Context, name string) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&domain.Collection{}, "name = ?", name)
	return res.RowsAffected > 0, res.Error
}
