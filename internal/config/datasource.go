package config

import (
	"github.com/timmy/catalogsync/internal/domain"
)

// DatasourceConfig declares a datasource seeded into the metadata store at startup.
type DatasourceConfig struct {
	ID               string   `mapstructure:"id"`
	Name             string   `mapstructure:"name"`
	Kind             string   `mapstructure:"kind"`
	DSNEnv           string   `mapstructure:"dsn_env"`
	Path             string   `mapstructure:"path"`
	Table            string   `mapstructure:"table"`
	Query            string   `mapstructure:"query"`
	KeyColumn        string   `mapstructure:"key_column"`
	MarkerColumn     string   `mapstructure:"marker_column"`
	WatermarkKind    string   `mapstructure:"watermark_kind"`
	TextColumns      []string `mapstructure:"text_columns"`
	PayloadColumns   []string `mapstructure:"payload_columns"`
	TargetCollection string   `mapstructure:"target_collection"`
	Distance         string   `mapstructure:"distance"`
}

// ToDomain converts the declaration to a datasource record. Runtime fields
// (watermark, status) are left zero so seeding never rewinds a stored watermark.
func (c *DatasourceConfig) ToDomain() *domain.Datasource {
	name := c.Name
	if name == "" {
		name = c.ID
	}
	var distance domain.DistanceMetric
	if c.Distance != "" {
		if d, ok := domain.ParseDistance(c.Distance); ok {
			distance = d
		} else {
			distance = domain.DistanceMetric(c.Distance)
		}
	}
	return &domain.Datasource{
		ID:               c.ID,
		Name:             name,
		Kind:             domain.SourceKind(c.Kind),
		DSNEnv:           c.DSNEnv,
		Path:             c.Path,
		Table:            c.Table,
		Query:            c.Query,
		KeyColumn:        c.KeyColumn,
		MarkerColumn:     c.MarkerColumn,
		WatermarkKind:    domain.WatermarkKind(c.WatermarkKind),
		TextColumns:      domain.StringArray(c.TextColumns),
		PayloadColumns:   domain.StringArray(c.PayloadColumns),
		TargetCollection: c.TargetCollection,
		Distance:         distance,
		Status:           domain.DatasourceIdle,
	}
}
