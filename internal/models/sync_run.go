package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SyncTypeFull        = "full"
	SyncTypeIncremental = "incremental"
	SyncTypeSearch      = "search"
)

const (
	RunStatusPending    = "pending"
	RunStatusInProgress = "in_progress"
	RunStatusSuccess    = "success"
	RunStatusFailed     = "failed"
)

// SyncRun is the persisted checkpoint for one engine invocation. Cumulative
// counters are rewritten after every batch so progress can be polled mid-run.
type SyncRun struct {
	ID               uint64         `gorm:"primaryKey;autoIncrement"`
	AccountID        string         `gorm:"type:text;index;not null"`
	SyncType         string         `gorm:"type:text;not null"`
	Status           string         `gorm:"type:text;index;not null;default:pending"`
	StartTime        time.Time      `gorm:"type:timestamptz;not null"`
	EndTime          *time.Time     `gorm:"type:timestamptz"`
	DurationMs       *int64         ``
	TotalRecords     int            `gorm:"not null;default:0"`
	RecordsProcessed int            `gorm:"not null;default:0"`
	RecordsUpdated   int            `gorm:"not null;default:0"`
	RecordsCreated   int            `gorm:"not null;default:0"`
	RecordsFailed    int            `gorm:"not null;default:0"`
	BatchesTotal     int            `gorm:"not null;default:0"`
	BatchesFailed    int            `gorm:"not null;default:0"`
	Error            *string        `gorm:"type:text"`
	ErrorsJSON       datatypes.JSON `gorm:"type:jsonb"`
}

func (SyncRun) TableName() string {
	return "crm_sync_runs"
}

func (r *SyncRun) Terminal() bool {
	return r != nil && (r.Status == RunStatusSuccess || r.Status == RunStatusFailed)
}
