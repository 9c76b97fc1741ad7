package jsonl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/source"
)

const export = `{"sku": "A-1", "descripcion": "Taladro 500W", "version": 3}
{"sku": "B-2", "descripcion": "Martillo", "version": 1}
not json
{"descripcion": "sin clave", "version": 9}

{"sku": 77, "descripcion": "Sierra", "version": 2}
`

func newExport(t *testing.T) *domain.Datasource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "productos.jsonl")
	if err := os.WriteFile(path, []byte(export), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}
	return &domain.Datasource{
		ID:            "export",
		Kind:          domain.SourceKindJSONL,
		Path:          path,
		KeyColumn:     "sku",
		MarkerColumn:  "version",
		WatermarkKind: domain.WatermarkID,
		TextColumns:   domain.StringArray{"descripcion"},
	}
}

func TestReadRowsKeepsMalformedAndOrders(t *testing.T) {
	ctx := context.Background()
	ds := newExport(t)
	r := NewReader()

	rows, err := r.ReadRows(ctx, ds, domain.Marker{}, 10, 0)
	if err != nil {
		t.Fatalf("ReadRows() error = %v", err)
	}
	want := []struct {
		key       string
		malformed bool
	}{
		{"line 3", true}, // not JSON, no marker, sorts first
		{"B-2", false},
		{"77", false},
		{"A-1", false},
		{"", true}, // no key, marker 9
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v, want %d rows", rows, len(want))
	}
	for i, w := range want {
		if rows[i].Key != w.key {
			t.Errorf("rows[%d].Key = %q, want %q", i, rows[i].Key, w.key)
		}
		if (rows[i].Err != nil) != w.malformed {
			t.Errorf("rows[%d].Err = %v, malformed %v", i, rows[i].Err, w.malformed)
		}
		if rows[i].Err != nil && !errors.Is(rows[i].Err, source.ErrMalformedRow) {
			t.Errorf("rows[%d].Err = %v, want ErrMalformedRow", i, rows[i].Err)
		}
	}

	page, err := r.ReadRows(ctx, ds, domain.Marker{}, 2, 2)
	if err != nil {
		t.Fatalf("ReadRows() offset error = %v", err)
	}
	if len(page) != 2 || page[0].Key != "77" || page[1].Key != "A-1" {
		t.Errorf("page = %+v", page)
	}
}

func TestIncrementalAndKeys(t *testing.T) {
	ctx := context.Background()
	ds := newExport(t)
	r := NewReader()

	n, err := r.CountRows(ctx, ds, domain.IDMarker(1))
	if err != nil {
		t.Fatalf("CountRows() error = %v", err)
	}
	if n != 3 {
		t.Errorf("CountRows() = %d, want 3", n)
	}

	rows, err := r.ReadRowsByKeys(ctx, ds, []string{"A-1", "zzz"})
	if err != nil {
		t.Fatalf("ReadRowsByKeys() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Fields["descripcion"] != "Taladro 500W" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestMissingExport(t *testing.T) {
	ds := newExport(t)
	ds.Path = filepath.Join(t.TempDir(), "gone.jsonl")
	if _, err := NewReader().CountRows(context.Background(), ds, domain.Marker{}); !domain.IsSystemic(err) {
		t.Errorf("CountRows() error = %v, want systemic", err)
	}
}
