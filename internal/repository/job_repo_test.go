package repository

import (
	"context"
	"testing"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

func newPendingJob(t *testing.T, repo *SyncJobRepository, id string) *domain.SyncJob {
	t.Helper()
	job := &domain.SyncJob{
		ID:           id,
		DatasourceID: "erp",
		Collection:   "productos",
		Type:         domain.SyncTypeFull,
		Status:       domain.JobStatusPending,
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return job
}

func TestSyncJobLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSyncJobRepository(newTestDB(t))
	newPendingJob(t, repo, "job-1")

	if err := repo.MarkRunning(ctx, "job-1", time.Now()); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if err := repo.MarkRunning(ctx, "job-1", time.Now()); !domain.IsKind(err, domain.KindInvalidState) {
		t.Errorf("second MarkRunning() error = %v, want invalid_state", err)
	}

	for i := 0; i < 3; i++ {
		if err := repo.AddProgress(ctx, "job-1", domain.JobProgress{Processed: 10, Successful: 9, Failed: 1}); err != nil {
			t.Fatalf("AddProgress() error = %v", err)
		}
	}

	if err := repo.Finish(ctx, "job-1", domain.JobStatusCompleted, "", "42", time.Now()); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := repo.Finish(ctx, "job-1", domain.JobStatusFailed, "late", "", time.Now()); !domain.IsKind(err, domain.KindInvalidState) {
		t.Errorf("Finish() on terminal job error = %v, want invalid_state", err)
	}

	job, err := repo.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("Status = %s, want completed", job.Status)
	}
	if job.ProcessedRecords != 30 || job.SuccessfulRecords != 27 || job.FailedRecords != 3 {
		t.Errorf("counters = %d/%d/%d, want 30/27/3", job.ProcessedRecords, job.SuccessfulRecords, job.FailedRecords)
	}
	if job.EndWatermark != "42" || job.StartedAt == nil || job.CompletedAt == nil {
		t.Errorf("job = %+v, want end watermark and timestamps set", job)
	}
}

func TestSyncJobRequestCancel(t *testing.T) {
	ctx := context.Background()
	repo := NewSyncJobRepository(newTestDB(t))
	newPendingJob(t, repo, "job-1")

	if err := repo.RequestCancel(ctx, "job-1"); err != nil {
		t.Fatalf("RequestCancel() error = %v", err)
	}
	requested, err := repo.IsCancelRequested(ctx, "job-1")
	if err != nil || !requested {
		t.Fatalf("IsCancelRequested() = %v, %v; want true", requested, err)
	}

	if err := repo.Finish(ctx, "job-1", domain.JobStatusCancelled, "", "", time.Now()); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := repo.RequestCancel(ctx, "job-1"); !domain.IsKind(err, domain.KindInvalidState) {
		t.Errorf("RequestCancel() on terminal job error = %v, want invalid_state", err)
	}
	if err := repo.RequestCancel(ctx, "missing"); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("RequestCancel() on unknown job error = %v, want not_found", err)
	}
}

func TestSyncJobErrorsAndListing(t *testing.T) {
	ctx := context.Background()
	repo := NewSyncJobRepository(newTestDB(t))
	newPendingJob(t, repo, "job-1")
	newPendingJob(t, repo, "job-2")

	errs := []domain.SyncError{
		{JobID: "job-1", RecordID: "sku-1", ErrorMessage: "embedding failed"},
		{JobID: "job-1", RecordID: "sku-7", ErrorMessage: "empty text"},
	}
	if err := repo.AppendErrors(ctx, errs); err != nil {
		t.Fatalf("AppendErrors() error = %v", err)
	}

	got, total, err := repo.ListErrors(ctx, "job-1", 1, 1)
	if err != nil {
		t.Fatalf("ListErrors() error = %v", err)
	}
	if total != 2 || len(got) != 1 || got[0].RecordID != "sku-7" {
		t.Errorf("ListErrors() = %v (total %d), want second error of 2", got, total)
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 2 {
		t.Errorf("len(ListActive()) = %d, want 2", len(active))
	}

	jobs, err := repo.List(ctx, domain.JobFilter{DatasourceID: "erp", Status: domain.JobStatusPending, Limit: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("len(List()) = %d, want 1", len(jobs))
	}
}
