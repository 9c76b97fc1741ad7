package domain

import (
	"strings"
	"time"
)

// SourceKind identifies the relational (or file) source behind a datasource.
type SourceKind string

const (
	SourceKindPostgres SourceKind = "postgres"
	SourceKindSQLite   SourceKind = "sqlite"
	SourceKindJSONL    SourceKind = "jsonl"
)

// DatasourceStatus is the coarse health of a datasource's last sync.
type DatasourceStatus string

const (
	DatasourceIdle    DatasourceStatus = "idle"
	DatasourceSyncing DatasourceStatus = "syncing"
	DatasourceError   DatasourceStatus = "error"
)

// Datasource describes where product rows come from and which collection they land in.
// The connection string itself is never stored: DSNEnv names the environment
// variable that holds it, Path points at a file for jsonl/sqlite sources.
type Datasource struct {
	ID               string           `gorm:"type:text;primaryKey" json:"id"`
	Name             string           `gorm:"type:text;not null" json:"name"`
	Kind             SourceKind       `gorm:"type:text;not null" json:"kind"`
	DSNEnv           string           `gorm:"type:text" json:"dsn_env,omitempty"`
	Path             string           `gorm:"type:text" json:"path,omitempty"`
	Table            string           `gorm:"column:source_table;type:text" json:"table,omitempty"`
	Query            string           `gorm:"type:text" json:"query,omitempty"`
	KeyColumn        string           `gorm:"type:text;not null" json:"key_column"`
	MarkerColumn     string           `gorm:"type:text;not null" json:"marker_column"`
	WatermarkKind    WatermarkKind    `gorm:"type:text;not null" json:"watermark_kind"`
	TextColumns      StringArray      `gorm:"type:text" json:"text_columns"`
	PayloadColumns   StringArray      `gorm:"type:text" json:"payload_columns,omitempty"`
	TargetCollection string           `gorm:"type:text;not null;index" json:"target_collection"`
	Distance         DistanceMetric   `gorm:"type:text" json:"distance,omitempty"`
	Watermark        string           `gorm:"type:text" json:"watermark,omitempty"`
	Status           DatasourceStatus `gorm:"type:text;default:idle" json:"status"`
	LastError        string           `gorm:"type:text" json:"last_error,omitempty"`
	LastSyncedAt     *time.Time       `json:"last_synced_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Datasource.
func (Datasource) TableName() string {
	return "datasources"
}

// CurrentWatermark decodes the stored watermark. The zero marker means no
// successful sync has completed yet.
func (d *Datasource) CurrentWatermark() (Marker, error) {
	if strings.TrimSpace(d.Watermark) == "" {
		return Marker{}, nil
	}
	return ParseMarker(d.WatermarkKind, d.Watermark)
}

// Validate checks the descriptor is usable by a source reader.
func (d *Datasource) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return NewInvalidArgumentError("datasource id is required")
	}
	switch d.Kind {
	case SourceKindPostgres:
		if d.DSNEnv == "" {
			return NewInvalidArgumentError("datasource %q: dsn_env is required for postgres", d.ID)
		}
	case SourceKindSQLite, SourceKindJSONL:
		if d.Path == "" && d.DSNEnv == "" {
			return NewInvalidArgumentError("datasource %q: path or dsn_env is required for %s", d.ID, d.Kind)
		}
	default:
		return NewInvalidArgumentError("datasource %q: unknown kind %q", d.ID, d.Kind)
	}
	if d.Kind != SourceKindJSONL && d.Table == "" && d.Query == "" {
		return NewInvalidArgumentError("datasource %q: table or query is required", d.ID)
	}
	if d.KeyColumn == "" || d.MarkerColumn == "" {
		return NewInvalidArgumentError("datasource %q: key_column and marker_column are required", d.ID)
	}
	if !d.WatermarkKind.Valid() {
		return NewInvalidArgumentError("datasource %q: unknown watermark kind %q", d.ID, d.WatermarkKind)
	}
	if len(d.TextColumns) == 0 {
		return NewInvalidArgumentError("datasource %q: at least one text column is required", d.ID)
	}
	if d.TargetCollection == "" {
		return NewInvalidArgumentError("datasource %q: target_collection is required", d.ID)
	}
	if d.Distance != "" && !d.Distance.Valid() {
		return NewInvalidArgumentError("datasource %q: unknown distance %q", d.ID, d.Distance)
	}
	if d.Watermark != "" {
		if _, err := d.CurrentWatermark(); err != nil {
			return NewInvalidArgumentError("datasource %q: %v", d.ID, err)
		}
	}
	return nil
}
