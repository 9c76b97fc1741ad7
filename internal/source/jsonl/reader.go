// Package jsonl reads product rows from JSON Lines exports, one object per line.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/source"
)

// Reader reads a JSONL export on every call. Lines that are not JSON objects,
// or lack a usable key or marker, come back as rows with Err set; a line
// that is not JSON is keyed "line <n>".
type Reader struct{}

// NewReader creates a Reader.
func NewReader() *Reader {
	return &Reader{}
}

// ReadRows implements source.Reader.
func (r *Reader) ReadRows(ctx context.Context, ds *domain.Datasource, after domain.Marker, limit, offset int) ([]source.Row, error) {
	rows, err := r.load(ctx, ds, after)
	if err != nil {
		return nil, err
	}
	if offset >= len(rows) {
		return []source.Row{}, nil
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end], nil
}

// ReadRowsByKeys implements source.Reader.
func (r *Reader) ReadRowsByKeys(ctx context.Context, ds *domain.Datasource, keys []string) ([]source.Row, error) {
	rows, err := r.load(ctx, ds, domain.Marker{})
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	var out []source.Row
	for _, row := range rows {
		if wanted[row.Key] {
			out = append(out, row)
		}
	}
	return out, nil
}

// CountRows implements source.Reader.
func (r *Reader) CountRows(ctx context.Context, ds *domain.Datasource, after domain.Marker) (int64, error) {
	rows, err := r.load(ctx, ds, after)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (r *Reader) load(ctx context.Context, ds *domain.Datasource, after domain.Marker) ([]source.Row, error) {
	path := ds.Path
	if path == "" {
		path = os.Getenv(ds.DSNEnv)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("datasource %s: %w: %v", ds.ID, domain.ErrSourceUnavailable, err)
	}
	defer file.Close()

	var rows []source.Row
	rejected, lineNo := 0, 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader([]byte(line)))
		dec.UseNumber()
		var fields map[string]interface{}
		var row source.Row
		if err := dec.Decode(&fields); err != nil || fields == nil {
			if err == nil {
				err = fmt.Errorf("line is not a JSON object")
			}
			row = source.Rejected(fmt.Sprintf("line %d", lineNo), err)
		} else {
			row = source.BuildRow(ds, fields)
		}
		if row.Err != nil {
			rejected++
		}
		if after.IsZero() || row.Marker.After(after) {
			rows = append(rows, row)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("datasource %s: error reading %s: %w", ds.ID, path, err)
	}
	if rejected > 0 {
		logger.With(logger.Fields{
			logger.FieldDatasourceID: ds.ID,
			logger.FieldCount:        rejected,
		}).Warn(ctx, "Malformed lines in %s", path)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].Marker.Compare(rows[j].Marker); c != 0 {
			return c < 0
		}
		return rows[i].Key < rows[j].Key
	})
	return rows, nil
}
