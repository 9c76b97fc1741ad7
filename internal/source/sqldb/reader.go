// Package sqldb reads product rows from SQLite databases through gorm.
package sqldb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/source"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Reader reads rows from SQLite files, keeping one handle per file.
type Reader struct {
	mu  sync.Mutex
	dbs map[string]*gorm.DB
}

// NewReader creates a Reader.
func NewReader() *Reader {
	return &Reader{dbs: make(map[string]*gorm.DB)}
}

// Close closes every open handle.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for path, db := range r.dbs {
		if sqlDB, err := db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
		delete(r.dbs, path)
	}
	return errors.Join(errs...)
}

func (r *Reader) open(ctx context.Context, ds *domain.Datasource) (*gorm.DB, error) {
	path := ds.Path
	if path == "" {
		path = os.Getenv(ds.DSNEnv)
	}
	if path == "" {
		return nil, fmt.Errorf("datasource %s: no sqlite path: %w", ds.ID, domain.ErrSourceUnavailable)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.dbs[path]; ok {
		return db.WithContext(ctx), nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("datasource %s: %w: %v", ds.ID, domain.ErrSourceUnavailable, err)
	}
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("datasource %s: %w: %v", ds.ID, domain.ErrSourceUnavailable, err)
	}
	r.dbs[path] = db
	return db.WithContext(ctx), nil
}

// ReadRows implements source.Reader.
func (r *Reader) ReadRows(ctx context.Context, ds *domain.Datasource, after domain.Marker, limit, offset int) ([]source.Row, error) {
	db, err := r.open(ctx, ds)
	if err != nil {
		return nil, err
	}
	where, args := markerPredicate(ds, after)
	args = append(args, limit, offset)
	sql := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s, %s LIMIT ? OFFSET ?",
		selector(ds), where, quoteIdent(ds.MarkerColumn), quoteIdent(ds.KeyColumn))
	return scanRows(db, ds, sql, args...)
}

// ReadRowsByKeys implements source.Reader.
func (r *Reader) ReadRowsByKeys(ctx context.Context, ds *domain.Datasource, keys []string) ([]source.Row, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	db, err := r.open(ctx, ds)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT * FROM %s WHERE CAST(%s AS TEXT) IN ? ORDER BY %s, %s",
		selector(ds), quoteIdent(ds.KeyColumn), quoteIdent(ds.MarkerColumn), quoteIdent(ds.KeyColumn))
	return scanRows(db, ds, sql, keys)
}

// CountRows implements source.Reader.
func (r *Reader) CountRows(ctx context.Context, ds *domain.Datasource, after domain.Marker) (int64, error) {
	db, err := r.open(ctx, ds)
	if err != nil {
		return 0, err
	}
	where, args := markerPredicate(ds, after)
	var n int64
	if err := db.Raw(fmt.Sprintf("SELECT count(*) FROM %s%s", selector(ds), where), args...).Scan(&n).Error; err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func scanRows(db *gorm.DB, ds *domain.Datasource, sql string, args ...interface{}) ([]source.Row, error) {
	var raw []map[string]interface{}
	if err := db.Raw(sql, args...).Scan(&raw).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]source.Row, 0, len(raw))
	for _, fields := range raw {
		out = append(out, source.BuildRow(ds, fields))
	}
	return out, nil
}

// markerPredicate compares timestamps through julianday so text and
// DATETIME columns order the same way.
func markerPredicate(ds *domain.Datasource, after domain.Marker) (string, []interface{}) {
	if after.IsZero() {
		return "", nil
	}
	col := quoteIdent(ds.MarkerColumn)
	if after.Kind == domain.WatermarkTimestamp {
		return fmt.Sprintf(" WHERE julianday(%s) > julianday(?)", col),
			[]interface{}{after.Time().UTC().Format("2006-01-02 15:04:05.000")}
	}
	return fmt.Sprintf(" WHERE %s > ?", col), []interface{}{after.Value()}
}

func selector(ds *domain.Datasource) string {
	if strings.TrimSpace(ds.Query) != "" {
		return "(" + strings.TrimRight(strings.TrimSpace(ds.Query), ";") + ") AS src"
	}
	parts := strings.Split(ds.Table, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// classify marks lock contention as transient; everything else is returned as is.
func classify(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && (sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("sqlite: %w: %v", domain.ErrTransient, err)
	}
	return fmt.Errorf("sqlite: %w", err)
}
