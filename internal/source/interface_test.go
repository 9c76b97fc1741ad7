package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

func TestBuildRow(t *testing.T) {
	ds := &domain.Datasource{KeyColumn: "sku", MarkerColumn: "updated_at", WatermarkKind: domain.WatermarkTimestamp}

	tests := []struct {
		name    string
		fields  map[string]interface{}
		wantKey string
		wantErr bool
	}{
		{
			name:    "text marker",
			fields:  map[string]interface{}{"sku": []byte("A-1"), "updated_at": "2024-03-01T10:00:00Z"},
			wantKey: "A-1",
		},
		{
			name:    "time marker",
			fields:  map[string]interface{}{"sku": int64(7), "updated_at": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
			wantKey: "7",
		},
		{name: "missing key", fields: map[string]interface{}{"updated_at": "2024-03-01"}, wantErr: true},
		{name: "blank key", fields: map[string]interface{}{"sku": "  ", "updated_at": "2024-03-01"}, wantErr: true},
		{name: "missing marker", fields: map[string]interface{}{"sku": "A-1"}, wantKey: "A-1", wantErr: true},
		{name: "null marker", fields: map[string]interface{}{"sku": "A-1", "updated_at": nil}, wantKey: "A-1", wantErr: true},
		{name: "bad marker", fields: map[string]interface{}{"sku": "A-1", "updated_at": "yesterday"}, wantKey: "A-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := BuildRow(ds, tt.fields)
			if (row.Err != nil) != tt.wantErr {
				t.Fatalf("BuildRow() Err = %v, wantErr %v", row.Err, tt.wantErr)
			}
			if row.Err != nil && !errors.Is(row.Err, ErrMalformedRow) {
				t.Errorf("Err = %v, want ErrMalformedRow", row.Err)
			}
			if row.Key != tt.wantKey {
				t.Errorf("Key = %q, want %q", row.Key, tt.wantKey)
			}
		})
	}
}

type countReader struct{ n int64 }

func (c countReader) ReadRows(context.Context, *domain.Datasource, domain.Marker, int, int) ([]Row, error) {
	return nil, nil
}

func (c countReader) ReadRowsByKeys(context.Context, *domain.Datasource, []string) ([]Row, error) {
	return nil, nil
}

func (c countReader) CountRows(context.Context, *domain.Datasource, domain.Marker) (int64, error) {
	return c.n, nil
}

func TestMuxDispatch(t *testing.T) {
	mux := NewMux().Register(domain.SourceKindSQLite, countReader{n: 3})

	n, err := mux.CountRows(context.Background(), &domain.Datasource{Kind: domain.SourceKindSQLite}, domain.Marker{})
	if err != nil || n != 3 {
		t.Errorf("CountRows() = %d, %v; want 3", n, err)
	}
	_, err = mux.CountRows(context.Background(), &domain.Datasource{Kind: domain.SourceKindPostgres}, domain.Marker{})
	if !domain.IsKind(err, domain.KindInvalidArgument) {
		t.Errorf("unregistered kind error = %v, want invalid_argument", err)
	}
}
