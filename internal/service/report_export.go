package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/storage"
)

const reportTimeLayout = "20060102T150405Z"

// ReportExporter writes duplicate reports to object storage as JSON.
// Keys look like <prefix>/<collection>/<timestamp>.json.
type ReportExporter struct {
	store  storage.Objects
	prefix string
}

// NewReportExporter creates an exporter; an empty prefix means "reports".
func NewReportExporter(store storage.Objects, prefix string) *ReportExporter {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "reports"
	}
	return &ReportExporter{store: store, prefix: prefix}
}

func (e *ReportExporter) key(collection string, at time.Time) string {
	return path.Join(e.prefix, collection, at.UTC().Format(reportTimeLayout)+".json")
}

// Export uploads the report and returns its URL.
func (e *ReportExporter) Export(ctx context.Context, report *domain.DuplicateReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode duplicate report: %w", err)
	}
	key := e.key(report.Collection, report.GeneratedAt)
	if err := e.store.Put(ctx, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("persist duplicate report: %w", err)
	}
	return e.store.URL(key), nil
}

// Fetch reads back a persisted report by collection and file name.
func (e *ReportExporter) Fetch(ctx context.Context, collection, name string) (*domain.DuplicateReport, error) {
	if collection == "" || strings.ContainsAny(collection, `/\`) || collection == ".." {
		return nil, domain.NewInvalidArgumentError("invalid collection name %q", collection)
	}
	if !strings.HasSuffix(name, ".json") || strings.ContainsAny(name, `/\`) {
		return nil, domain.NewInvalidArgumentError("invalid report name %q", name)
	}
	key := path.Join(e.prefix, collection, name)
	data, err := e.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NewNotFoundError("report %s not found", key)
		}
		return nil, err
	}

	var report domain.DuplicateReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode duplicate report %s: %w", key, err)
	}
	return &report, nil
}
