package logger

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Scope fields identify what a line belongs to. ForJob and ForRequest set them.
const (
	FieldRequestID    = "request_id"
	FieldJobID        = "job_id"
	FieldDatasourceID = "datasource_id"
	FieldCollection   = "collection"
	FieldSyncType     = "sync_type" // full, incremental, webhook
	FieldComponent    = "component" // sync, api
)

// Measurement fields, usually attached through Entry.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldBatch      = "batch" // zero-based within a job
	FieldStatus     = "status"
	FieldSize       = "size" // response bytes
)
