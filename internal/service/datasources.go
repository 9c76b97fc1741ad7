package service

import (
	"context"

	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/repository"
)

// DatasourceService manages datasource descriptors.
type DatasourceService struct {
	repo *repository.DatasourceRepository
}

// NewDatasourceService creates a new DatasourceService.
func NewDatasourceService(repo *repository.DatasourceRepository) *DatasourceService {
	return &DatasourceService{repo: repo}
}

// Seed creates or refreshes every datasource declared in configuration.
// Stored watermarks and statuses are kept.
func (s *DatasourceService) Seed(ctx context.Context, cfgs []config.DatasourceConfig) error {
	for i := range cfgs {
		ds := cfgs[i].ToDomain()
		if err := ds.Validate(); err != nil {
			return err
		}
		if err := s.repo.Seed(ctx, ds); err != nil {
			return err
		}
	}
	if len(cfgs) > 0 {
		logger.With(logger.Fields{logger.FieldCount: len(cfgs)}).Info(ctx, "Seeded datasources from configuration")
	}
	return nil
}

// Create registers a new datasource. The watermark may be preset to skip history.
func (s *DatasourceService) Create(ctx context.Context, ds *domain.Datasource) (*domain.Datasource, error) {
	if ds.Name == "" {
		ds.Name = ds.ID
	}
	ds.Status = domain.DatasourceIdle
	ds.LastError = ""
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, ds); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, ds.ID)
}

// Get returns a datasource by id.
func (s *DatasourceService) Get(ctx context.Context, id string) (*domain.Datasource, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns every datasource.
func (s *DatasourceService) List(ctx context.Context) ([]domain.Datasource, error) {
	return s.repo.List(ctx)
}

// Delete removes a datasource no sync job references.
func (s *DatasourceService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
