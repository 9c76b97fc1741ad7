package repository

import (
	"context"
	"testing"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

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

func TestDatasourceSeedKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewDatasourceRepository(db)

	if err := repo.Seed(ctx, testDatasource()); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := repo.MarkSynced(ctx, "erp", "17", time.Now()); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}

	reseeded := testDatasource()
	reseeded.Name = "ERP v2"
	if err := repo.Seed(ctx, reseeded); err != nil {
		t.Fatalf("second Seed() error = %v", err)
	}

	ds, err := repo.GetByID(ctx, "erp")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if ds.Name != "ERP v2" {
		t.Errorf("Name = %q, want descriptor refreshed", ds.Name)
	}
	if ds.Watermark != "17" {
		t.Errorf("Watermark = %q, want 17 kept across seeding", ds.Watermark)
	}
	if len(ds.TextColumns) != 1 || ds.TextColumns[0] != "descripcion" {
		t.Errorf("TextColumns = %v", ds.TextColumns)
	}

	if err := repo.Create(ctx, testDatasource()); !domain.IsKind(err, domain.KindConflict) {
		t.Errorf("Create() duplicate error = %v, want conflict", err)
	}
}

func TestDatasourceDeleteRefusedWhileReferenced(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewDatasourceRepository(db)
	jobs := NewSyncJobRepository(db)

	if err := repo.Create(ctx, testDatasource()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	newPendingJob(t, jobs, "job-1")

	if err := repo.Delete(ctx, "erp"); !domain.IsKind(err, domain.KindInvalidState) {
		t.Errorf("Delete() error = %v, want invalid_state", err)
	}
	if err := repo.Delete(ctx, "missing"); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("Delete() missing error = %v, want not_found", err)
	}
}
