package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// WatermarkKind selects how a datasource's change marker is interpreted.
type WatermarkKind string

const (
	WatermarkTimestamp WatermarkKind = "timestamp"
	WatermarkID        WatermarkKind = "id"
)

// Valid reports whether k is a known watermark kind.
func (k WatermarkKind) Valid() bool {
	return k == WatermarkTimestamp || k == WatermarkID
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Marker is a comparable change marker: either a point in time or a monotonic id.
type Marker struct {
	Kind WatermarkKind
	ts   time.Time
	id   int64
}

// TimestampMarker builds a timestamp marker.
func TimestampMarker(t time.Time) Marker {
	return Marker{Kind: WatermarkTimestamp, ts: t.UTC()}
}

// IDMarker builds a monotonic id marker.
func IDMarker(id int64) Marker {
	return Marker{Kind: WatermarkID, id: id}
}

// ParseMarker decodes the persisted form produced by Marker.String.
func ParseMarker(kind WatermarkKind, s string) (Marker, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Marker{}, fmt.Errorf("empty %s marker", kind)
	}
	switch kind {
	case WatermarkID:
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Marker{}, fmt.Errorf("invalid id marker %q: %w", s, err)
		}
		return IDMarker(id), nil
	case WatermarkTimestamp:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return TimestampMarker(t), nil
			}
		}
		return Marker{}, fmt.Errorf("invalid timestamp marker %q", s)
	default:
		return Marker{}, fmt.Errorf("unknown watermark kind %q", kind)
	}
}

// MarkerFromValue converts a raw column value read from a source into a marker.
func MarkerFromValue(kind WatermarkKind, v interface{}) (Marker, error) {
	if v == nil {
		return Marker{}, fmt.Errorf("nil %s marker", kind)
	}
	switch kind {
	case WatermarkTimestamp:
		switch t := v.(type) {
		case time.Time:
			return TimestampMarker(t), nil
		case *time.Time:
			if t == nil {
				return Marker{}, fmt.Errorf("nil timestamp marker")
			}
			return TimestampMarker(*t), nil
		case string:
			return ParseMarker(kind, t)
		case []byte:
			return ParseMarker(kind, string(t))
		}
	case WatermarkID:
		switch n := v.(type) {
		case int64:
			return IDMarker(n), nil
		case int:
			return IDMarker(int64(n)), nil
		case int32:
			return IDMarker(int64(n)), nil
		case uint32:
			return IDMarker(int64(n)), nil
		case uint64:
			if n > math.MaxInt64 {
				return Marker{}, fmt.Errorf("id marker %d overflows int64", n)
			}
			return IDMarker(int64(n)), nil
		case float64:
			if n != math.Trunc(n) {
				return Marker{}, fmt.Errorf("id marker %v is not integral", n)
			}
			return IDMarker(int64(n)), nil
		case json.Number:
			return ParseMarker(kind, n.String())
		case string:
			return ParseMarker(kind, n)
		case []byte:
			return ParseMarker(kind, string(n))
		}
	default:
		return Marker{}, fmt.Errorf("unknown watermark kind %q", kind)
	}
	return Marker{}, fmt.Errorf("unsupported %s marker type %T", kind, v)
}

// IsZero reports whether m is unset.
func (m Marker) IsZero() bool {
	return m.Kind == ""
}

// String returns the persisted form: RFC3339Nano in UTC or a decimal id.
func (m Marker) String() string {
	switch m.Kind {
	case WatermarkTimestamp:
		return m.ts.Format(time.RFC3339Nano)
	case WatermarkID:
		return strconv.FormatInt(m.id, 10)
	default:
		return ""
	}
}

// Value returns the marker as a query argument.
func (m Marker) Value() interface{} {
	if m.Kind == WatermarkTimestamp {
		return m.ts
	}
	return m.id
}

// Time returns the timestamp of a timestamp marker.
func (m Marker) Time() time.Time {
	return m.ts
}

// Compare returns -1, 0 or 1. An unset marker sorts before any set marker.
func (m Marker) Compare(o Marker) int {
	switch {
	case m.IsZero() && o.IsZero():
		return 0
	case m.IsZero():
		return -1
	case o.IsZero():
		return 1
	}
	if m.Kind == WatermarkTimestamp {
		return m.ts.Compare(o.ts)
	}
	switch {
	case m.id < o.id:
		return -1
	case m.id > o.id:
		return 1
	}
	return 0
}

// After reports whether m is strictly greater than o.
func (m Marker) After(o Marker) bool {
	return m.Compare(o) > 0
}
