package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/storage"
)

type memoryObjects struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{data: make(map[string][]byte)}
}

func (m *memoryObjects) Put(_ context.Context, key string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), body...)
	return nil
}

func (m *memoryObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return b, nil
}

func (m *memoryObjects) URL(key string) string { return "mem://" + key }

func (m *memoryObjects) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestReportExportAndFetch(t *testing.T) {
	objects := newMemoryObjects()
	exp := NewReportExporter(objects, "/audits/")
	at := time.Date(2024, 6, 2, 10, 30, 0, 0, time.UTC)
	report := &domain.DuplicateReport{
		Collection:      "productos",
		TotalGroups:     1,
		TotalDuplicates: 1,
		Groups:          []domain.DuplicateGroup{{Members: []domain.DuplicateMember{{ID: "a"}, {ID: "b"}}, Recommended: "a"}},
		GeneratedAt:     at,
	}

	url, err := exp.Export(context.Background(), report)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if url != "mem://audits/productos/20240602T103000Z.json" {
		t.Errorf("url = %q", url)
	}

	got, err := exp.Fetch(context.Background(), "productos", "20240602T103000Z.json")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.TotalGroups != 1 || len(got.Groups) != 1 || got.Groups[0].Recommended != "a" {
		t.Errorf("fetched report = %+v", got)
	}

	tests := []struct {
		collection, name string
		kind             domain.ErrorKind
	}{
		{"productos", "missing.json", domain.KindNotFound},
		{"productos", "../secrets.json", domain.KindInvalidArgument},
		{"productos", "report.txt", domain.KindInvalidArgument},
		{"..", "x.json", domain.KindInvalidArgument},
	}
	for _, tt := range tests {
		if _, err := exp.Fetch(context.Background(), tt.collection, tt.name); !domain.IsKind(err, tt.kind) {
			t.Errorf("Fetch(%q, %q) error = %v, want %s", tt.collection, tt.name, err, tt.kind)
		}
	}
}
