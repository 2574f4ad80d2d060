package models

import (
	"time"
)

const (
	SyncStateSynced     = "synced"
	SyncStateInProgress = "in_progress"
	SyncStateCompleted  = "completed"
	SyncStateFailed     = "failed"
)

// UserSyncState tracks the last trusted sync point per account.
// While SyncStatus is in_progress, LastSyncTimestamp must be nil so a crash
// forces a full resync instead of a trusted-but-wrong incremental one.
type UserSyncState struct {
	AccountID         string     `gorm:"primaryKey;type:text"`
	LastSyncTimestamp *time.Time `gorm:"type:timestamptz"`
	SyncStatus        string     `gorm:"type:text;not null;default:synced"`
	UpdatedAt         time.Time  `gorm:"type:timestamptz"`
}

func (UserSyncState) TableName() string {
	return "crm_user_sync_state"
}
