package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/source"
)

// Reader reads product rows from PostgreSQL through pgx.
type Reader struct {
	pools *PoolManager
}

// NewReader creates a Reader backed by pools.
func NewReader(pools *PoolManager) *Reader {
	return &Reader{pools: pools}
}

func (r *Reader) pool(ctx context.Context, ds *domain.Datasource) (querier, error) {
	dsn := os.Getenv(ds.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("datasource %s: environment variable %s is empty: %w", ds.ID, ds.DSNEnv, domain.ErrSourceUnavailable)
	}
	p, err := r.pools.Get(ctx, ds.ID, dsn)
	if err != nil {
		return nil, classify("connect", err)
	}
	return p, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ReadRows implements source.Reader.
func (r *Reader) ReadRows(ctx context.Context, ds *domain.Datasource, after domain.Marker, limit, offset int) ([]source.Row, error) {
	q, err := r.pool(ctx, ds)
	if err != nil {
		return nil, err
	}
	where, args := markerPredicate(ds, after)
	args = append(args, limit, offset)
	sql := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s NULLS FIRST, %s LIMIT $%d OFFSET $%d",
		selector(ds), where, ident(ds.MarkerColumn), ident(ds.KeyColumn), len(args)-1, len(args))
	return r.query(ctx, q, ds, sql, args...)
}

// ReadRowsByKeys implements source.Reader.
func (r *Reader) ReadRowsByKeys(ctx context.Context, ds *domain.Datasource, keys []string) ([]source.Row, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	q, err := r.pool(ctx, ds)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s::text = ANY($1) ORDER BY %s NULLS FIRST, %s",
		selector(ds), ident(ds.KeyColumn), ident(ds.MarkerColumn), ident(ds.KeyColumn))
	return r.query(ctx, q, ds, sql, keys)
}

// CountRows implements source.Reader.
func (r *Reader) CountRows(ctx context.Context, ds *domain.Datasource, after domain.Marker) (int64, error) {
	q, err := r.pool(ctx, ds)
	if err != nil {
		return 0, err
	}
	where, args := markerPredicate(ds, after)
	var n int64
	if err := q.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s%s", selector(ds), where), args...).Scan(&n); err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

func (r *Reader) query(ctx context.Context, q querier, ds *domain.Datasource, sql string, args ...any) ([]source.Row, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []source.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classify("scan", err)
		}
		m := make(map[string]interface{}, len(fields))
		for i, f := range fields {
			m[f.Name] = normalizeValue(values[i])
		}
		out = append(out, source.BuildRow(ds, m))
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read", err)
	}
	return out, nil
}

func markerPredicate(ds *domain.Datasource, after domain.Marker) (string, []any) {
	if after.IsZero() {
		return "", nil
	}
	return fmt.Sprintf(" WHERE %s > $1", ident(ds.MarkerColumn)), []any{after.Value()}
}

// selector returns the FROM target: a sanitized table name or the custom
// query wrapped as a subquery.
func selector(ds *domain.Datasource) string {
	if strings.TrimSpace(ds.Query) != "" {
		return "(" + strings.TrimRight(strings.TrimSpace(ds.Query), ";") + ") AS src"
	}
	return pgx.Identifier(strings.Split(ds.Table, ".")).Sanitize()
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case [16]byte:
		return uuid.UUID(t).String()
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case []byte:
		return string(t)
	default:
		return v
	}
}

// classify maps pgx failures onto the sync error sentinels: connection
// problems are transient and systemic, SQLSTATE class 28 is an auth failure.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("postgres %s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "28"):
			return fmt.Errorf("postgres %s: %w: %v", op, domain.ErrAuth, err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57P"):
			return fmt.Errorf("postgres %s: %w: %w: %v", op, domain.ErrTransient, domain.ErrSourceUnavailable, err)
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return fmt.Errorf("postgres %s: %w: %v", op, domain.ErrTransient, err)
		}
		return fmt.Errorf("postgres %s: %w", op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("postgres %s: %w: %w: %v", op, domain.ErrTransient, domain.ErrSourceUnavailable, err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}
