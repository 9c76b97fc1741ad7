package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"explicit", NewConflictError("busy"), KindConflict},
		{"wrapped explicit", fmt.Errorf("trigger: %w", NewNotFoundError("x")), KindNotFound},
		{"collection missing", fmt.Errorf("get: %w", ErrCollectionNotFound), KindNotFound},
		{"store down", fmt.Errorf("upsert: %w", ErrVectorStoreUnavailable), KindUnavailable},
		{"cancelled", context.Canceled, KindUnavailable},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSystemicAndTransient(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantSystemic  bool
		wantTransient bool
	}{
		{"source down", fmt.Errorf("read: %w", ErrSourceUnavailable), true, false},
		{"auth", fmt.Errorf("%w: %w", ErrTransient, ErrAuth), true, false},
		{"dimension", ErrDimensionMismatch, true, false},
		{"deadline", context.DeadlineExceeded, true, false},
		{"throttled", fmt.Errorf("embed: %w", ErrTransient), false, true},
		{"row failure", fmt.Errorf("row: %w", ErrEmbeddingFailed), false, false},
		{"nil", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSystemic(tt.err); got != tt.wantSystemic {
				t.Errorf("IsSystemic = %v, want %v", got, tt.wantSystemic)
			}
			if got := IsTransient(tt.err); got != tt.wantTransient {
				t.Errorf("IsTransient = %v, want %v", got, tt.wantTransient)
			}
		})
	}
}

func TestStringArrayScan(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    []string
		wantErr bool
	}{
		{"null", nil, []string{}, false},
		{"empty text", "", []string{}, false},
		{"text", `["a","b"]`, []string{"a", "b"}, false},
		{"bytes", []byte(`["c"]`), []string{"c"}, false},
		{"garbage", "not json", nil, true},
		{"wrong type", 3, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a StringArray
			err := a.Scan(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(a) != len(tt.want) {
				t.Fatalf("got %v, want %v", a, tt.want)
			}
			for i := range a {
				if a[i] != tt.want[i] {
					t.Errorf("got %v, want %v", a, tt.want)
				}
			}
		})
	}

	v, err := StringArray(nil).Value()
	if err != nil || v != "[]" {
		t.Errorf("nil Value = %v, %v", v, err)
	}
}
