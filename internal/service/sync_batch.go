package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/source"
	"golang.org/x/sync/errgroup"
)

const missingRowMessage = "record not found in source"

// processBatch embeds and upserts one batch. Row-level failures become
// SyncErrors; a systemic failure is returned and aborts the job. missing lists
// requested keys the source did not return (webhook jobs only).
//
// Counters, errors and the registry are updated only after every upsert of
// the batch has completed, so a batch is either fully accounted for or not at all.
func (s *SyncOrchestrator) processBatch(ctx context.Context, job *domain.SyncJob, ds *domain.Datasource, batch int, rows []source.Row, missing []string, out *runOutcome) error {
	started := time.Now()
	dims := s.embedder.Dimensions()

	vectors := make([][]float32, len(rows))
	rowErrs := make([]error, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.EmbedConcurrency)
	for i, row := range rows {
		if row.Err != nil {
			rowErrs[i] = row.Err
			continue
		}
		i, row := i, row
		g.Go(func() error {
			text := rowEmbeddingText(row.Fields, ds.TextColumns)
			if text == "" {
				rowErrs[i] = errors.New("row has no text to embed")
				return nil
			}
			var vec []float32
			err := s.retry(gctx, func(ctx context.Context) error {
				var err error
				vec, err = s.embedder.Embed(ctx, text)
				return err
			})
			if err != nil {
				if domain.IsSystemic(err) {
					return err
				}
				rowErrs[i] = err
				return nil
			}
			if len(vec) != dims {
				return fmt.Errorf("embedding of row %s has %d dimensions, collection %s expects %d: %w",
					row.Key, len(vec), ds.TargetCollection, dims, domain.ErrDimensionMismatch)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := time.Now().UTC()
	points := make([]domain.Point, 0, len(rows))
	pointRow := make([]int, 0, len(rows))
	for i, row := range rows {
		if vectors[i] == nil {
			continue
		}
		points = append(points, domain.Point{
			ID:      pointID(s.opts.PointNamespace, ds.ID, row.Key),
			Vector:  vectors[i],
			Payload: buildPayload(ds, row, now),
		})
		pointRow = append(pointRow, i)
	}

	newPoints, upsertErrs, err := s.upsertBatch(ctx, ds.TargetCollection, points)
	if err != nil {
		return err
	}
	for j, uerr := range upsertErrs {
		if uerr != nil {
			rowErrs[pointRow[j]] = uerr
		}
	}

	progress := domain.JobProgress{Processed: int64(len(rows) + len(missing))}
	syncErrs := make([]domain.SyncError, 0, len(missing))
	for i, row := range rows {
		if rowErrs[i] != nil {
			progress.Failed++
			syncErrs = append(syncErrs, domain.SyncError{JobID: job.ID, RecordID: recordID(row, batch, i), ErrorMessage: rowErrs[i].Error()})
			out.failed(row.Marker)
			continue
		}
		progress.Successful++
		out.succeeded(row.Marker)
	}
	for _, key := range missing {
		progress.Failed++
		syncErrs = append(syncErrs, domain.SyncError{JobID: job.ID, RecordID: key, ErrorMessage: missingRowMessage})
	}

	if err := s.jobs.AppendErrors(ctx, syncErrs); err != nil {
		return err
	}
	if err := s.jobs.AddProgress(ctx, job.ID, progress); err != nil {
		return err
	}
	if progress.Successful > 0 {
		if err := s.registry.RecordUpsert(ctx, ds.TargetCollection, newPoints, now); err != nil {
			return err
		}
	}

	out.progress.Processed += progress.Processed
	out.progress.Successful += progress.Successful
	out.progress.Failed += progress.Failed
	out.newPoints += newPoints

	logger.With(logger.Fields{
		logger.FieldBatch: batch,
		logger.FieldCount: len(rows),
		"failed":          progress.Failed,
		"new_points":      newPoints,
	}).Since(started).Debug(ctx, "Batch processed")
	return nil
}

// upsertBatch writes points in one call. If the store rejects the batch for a
// non-systemic reason it falls back to one call per point, so that a single
// bad point only fails its own row. Points written before a later failure
// stay visible; the vector store has no batch transaction.
// Returns:
//   - int64: how many of the written points did not exist before.
//   - []error: per-point failures, aligned with points (nil when all succeeded).
//   - error: a systemic failure that must abort the job.
func (s *SyncOrchestrator) upsertBatch(ctx context.Context, collection string, points []domain.Point) (int64, []error, error) {
	if len(points) == 0 {
		return 0, nil, nil
	}
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	var existing map[string]bool
	if err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		existing, err = s.store.ExistingIDs(ctx, collection, ids)
		return err
	}); err != nil {
		return 0, nil, err
	}

	err := s.retry(ctx, func(ctx context.Context) error {
		return s.store.Upsert(ctx, collection, points)
	})
	if err == nil {
		return countNew(points, existing, nil), nil, nil
	}
	if domain.IsSystemic(err) {
		return 0, nil, err
	}

	s.log(ctx).WithField(logger.FieldCount, len(points)).WithError(err).
		Warn("Batch upsert rejected, retrying points individually")
	perPoint := make([]error, len(points))
	for i := range points {
		perr := s.retry(ctx, func(ctx context.Context) error {
			return s.store.Upsert(ctx, collection, points[i:i+1])
		})
		if perr != nil && domain.IsSystemic(perr) {
			return 0, nil, perr
		}
		perPoint[i] = perr
	}
	return countNew(points, existing, perPoint), perPoint, nil
}

func countNew(points []domain.Point, existing map[string]bool, failed []error) int64 {
	var n int64
	for i, p := range points {
		if failed != nil && failed[i] != nil {
			continue
		}
		if !existing[p.ID] {
			n++
		}
	}
	return n
}

// recordID names a row in its SyncError. Rows read without a key are named by
// their position in the job.
func recordID(row source.Row, batch, i int) string {
	if row.Key != "" {
		return row.Key
	}
	return fmt.Sprintf("batch %d row %d", batch, i)
}

// pointID derives the stable point id of a source row, so re-syncing a row
// overwrites its point instead of adding a new one.
func pointID(namespace uuid.UUID, datasourceID, key string) string {
	return uuid.NewSHA1(namespace, []byte(datasourceID+":"+key)).String()
}

// buildPayload copies the row's columns (or the configured payload columns)
// and adds the bookkeeping fields every point carries.
func buildPayload(ds *domain.Datasource, row source.Row, syncedAt time.Time) map[string]interface{} {
	payload := make(map[string]interface{}, len(row.Fields)+4)
	if len(ds.PayloadColumns) > 0 {
		cols := append(append([]string{ds.KeyColumn, ds.MarkerColumn}, ds.TextColumns...), ds.PayloadColumns...)
		for _, c := range cols {
			if v, ok := row.Fields[c]; ok {
				payload[c] = payloadValue(v)
			}
		}
	} else {
		for k, v := range row.Fields {
			payload[k] = payloadValue(v)
		}
	}
	payload[domain.PayloadSourceRecordID] = row.Key
	payload[domain.PayloadDatasourceID] = ds.ID
	payload[domain.PayloadSourceMarker] = row.Marker.String()
	payload[domain.PayloadSyncedAt] = syncedAt.Format(time.RFC3339Nano)
	return payload
}

// payloadValue normalizes driver-specific values into JSON-friendly ones.
func payloadValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
