package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timmy/catalogsync/internal/domain"
)

// Row is one product row read from a source. A malformed row is still
// returned, with Err set, so the sync job can record it as a row failure.
// Key and Marker of a malformed row are whatever could be read.
type Row struct {
	Key    string                 // Value of the datasource's key column
	Marker domain.Marker          // Change marker (updated_at or monotonic id)
	Fields map[string]interface{} // Every selected column, keyed by column name
	Err    error
}

// ErrMalformedRow wraps every Row.Err.
var ErrMalformedRow = errors.New("malformed row")

// Reader extracts product rows from a relational source.
//
// Rows are always returned ordered by change marker, then key, so a sync job
// walking pages with limit/offset sees a stable order and can advance its
// watermark monotonically.
type Reader interface {
	// ReadRows reads one page of rows whose marker is strictly greater than after.
	// A zero after reads every row, including rows whose marker is unusable.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - ds: datasource descriptor.
	//   - after: lower bound (exclusive); the zero marker reads every row.
	//   - limit: page size.
	//   - offset: rows to skip.
	// Returns:
	//   - []Row: rows in marker/key order.
	//   - error: non-nil if the source cannot be read.
	ReadRows(ctx context.Context, ds *domain.Datasource, after domain.Marker, limit, offset int) ([]Row, error)

	// ReadRowsByKeys reads the rows with the given keys. Missing keys are
	// simply absent from the result.
	ReadRowsByKeys(ctx context.Context, ds *domain.Datasource, keys []string) ([]Row, error)

	// CountRows counts the rows ReadRows would page through.
	CountRows(ctx context.Context, ds *domain.Datasource, after domain.Marker) (int64, error)
}

// ChangeMarkerOf extracts the change marker of a raw row.
func ChangeMarkerOf(ds *domain.Datasource, fields map[string]interface{}) (domain.Marker, error) {
	v, ok := fields[ds.MarkerColumn]
	if !ok {
		return domain.Marker{}, fmt.Errorf("row has no marker column %q", ds.MarkerColumn)
	}
	m, err := domain.MarkerFromValue(ds.WatermarkKind, v)
	if err != nil {
		return domain.Marker{}, fmt.Errorf("column %q: %w", ds.MarkerColumn, err)
	}
	return m, nil
}

// BuildRow turns a column map into a Row. Byte slices are decoded as text.
// A missing key or an absent or unparsable marker sets Row.Err.
func BuildRow(ds *domain.Datasource, fields map[string]interface{}) Row {
	for k, v := range fields {
		if b, ok := v.([]byte); ok {
			fields[k] = string(b)
		}
	}
	row := Row{Fields: fields}
	if raw, ok := fields[ds.KeyColumn]; ok && raw != nil {
		row.Key = strings.TrimSpace(fmt.Sprint(raw))
	}
	marker, err := ChangeMarkerOf(ds, fields)
	row.Marker = marker
	switch {
	case row.Key == "":
		row.Err = fmt.Errorf("%w: no value in key column %q", ErrMalformedRow, ds.KeyColumn)
	case err != nil:
		row.Err = fmt.Errorf("%w: %w", ErrMalformedRow, err)
	}
	return row
}

// Rejected is a row that could not be decoded at all.
func Rejected(key string, err error) Row {
	return Row{Key: key, Err: fmt.Errorf("%w: %w", ErrMalformedRow, err)}
}

// Mux dispatches to the Reader registered for a datasource's kind.
type Mux struct {
	readers map[domain.SourceKind]Reader
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{readers: make(map[domain.SourceKind]Reader)}
}

// Register installs r for kind.
func (m *Mux) Register(kind domain.SourceKind, r Reader) *Mux {
	m.readers[kind] = r
	return m
}

func (m *Mux) reader(ds *domain.Datasource) (Reader, error) {
	r, ok := m.readers[ds.Kind]
	if !ok {
		return nil, domain.NewInvalidArgumentError("no reader for source kind %q", ds.Kind)
	}
	return r, nil
}

// ReadRows implements Reader.
func (m *Mux) ReadRows(ctx context.Context, ds *domain.Datasource, after domain.Marker, limit, offset int) ([]Row, error) {
	r, err := m.reader(ds)
	if err != nil {
		return nil, err
	}
	return r.ReadRows(ctx, ds, after, limit, offset)
}

// ReadRowsByKeys implements Reader.
func (m *Mux) ReadRowsByKeys(ctx context.Context, ds *domain.Datasource, keys []string) ([]Row, error) {
	r, err := m.reader(ds)
	if err != nil {
		return nil, err
	}
	return r.ReadRowsByKeys(ctx, ds, keys)
}

// CountRows implements Reader.
func (m *Mux) CountRows(ctx context.Context, ds *domain.Datasource, after domain.Marker) (int64, error) {
	r, err := m.reader(ds)
	if err != nil {
		return 0, err
	}
	return r.CountRows(ctx, ds, after)
}
