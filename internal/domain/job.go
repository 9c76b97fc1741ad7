package domain

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus represents the status of a sync job.
// pending -> running -> {completed | failed | cancelled}; terminal states are final.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s.IsTerminal()
}

// ActiveStatuses are the states that hold a datasource's active-job slot.
var ActiveStatuses = []JobStatus{JobStatusPending, JobStatusRunning}

// SyncType selects the row set a job reads.
type SyncType string

const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
	SyncTypeWebhook     SyncType = "webhook"
)

// Valid reports whether t is a known sync type.
func (t SyncType) Valid() bool {
	return t == SyncTypeFull || t == SyncTypeIncremental || t == SyncTypeWebhook
}

// SyncJob tracks one sync run of a datasource.
type SyncJob struct {
	ID                string         `gorm:"type:text;primaryKey" json:"id"`
	DatasourceID      string         `gorm:"type:text;not null;index" json:"datasourceId"`
	Collection        string         `gorm:"type:text;not null" json:"collection"`
	Type              SyncType       `gorm:"type:text;not null" json:"type"`
	Status            JobStatus      `gorm:"type:text;not null;index;default:pending" json:"status"`
	TotalRecords      int64          `gorm:"default:0" json:"totalRecords"`
	ProcessedRecords  int64          `gorm:"default:0" json:"processedRecords"`
	SuccessfulRecords int64          `gorm:"default:0" json:"successfulRecords"`
	FailedRecords     int64          `gorm:"default:0" json:"failedRecords"`
	StartWatermark    string         `gorm:"type:text" json:"startWatermark,omitempty"`
	EndWatermark      string         `gorm:"type:text" json:"endWatermark,omitempty"`
	RecordKeys        datatypes.JSON `json:"recordKeys,omitempty"`
	CancelRequested   bool           `gorm:"default:false" json:"cancelRequested"`
	ErrorMessage      string         `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	StartedAt         *time.Time     `json:"startedAt,omitempty"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// TableName returns the database table name for SyncJob.
func (SyncJob) TableName() string {
	return "sync_jobs"
}

// SyncError is an append-only record of one failed row.
type SyncError struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	JobID        string    `gorm:"type:text;not null;index" json:"jobId"`
	RecordID     string    `gorm:"type:text;not null" json:"recordId"`
	ErrorMessage string    `gorm:"type:text;not null" json:"errorMessage"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName returns the database table name for SyncError.
func (SyncError) TableName() string {
	return "sync_errors"
}

// ActiveSyncJob is the per-datasource slot held by a pending or running job.
// The primary key on DatasourceID is what makes a second acquisition fail.
type ActiveSyncJob struct {
	DatasourceID string    `gorm:"type:text;primaryKey" json:"datasourceId"`
	JobID        string    `gorm:"type:text;not null;uniqueIndex" json:"jobId"`
	AcquiredAt   time.Time `json:"acquiredAt"`
	HeartbeatAt  time.Time `json:"heartbeatAt"`
}

// TableName returns the database table name for ActiveSyncJob.
func (ActiveSyncJob) TableName() string {
	return "active_sync_jobs"
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	DatasourceID string
	Status       JobStatus
	Limit        int
}

// JobProgress is the per-batch delta applied to a job's counters.
type JobProgress struct {
	Processed  int64
	Successful int64
	Failed     int64
}
