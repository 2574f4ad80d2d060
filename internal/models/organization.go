package models

import (
	"time"
)

type Organization struct {
	ID                  uint64     `gorm:"primaryKey;autoIncrement"`
	AccountID           string     `gorm:"type:text;index:idx_org_account_norm,unique;not null"`
	PipedriveID         *int64     `gorm:"index"`
	Name                string     `gorm:"type:text;not null"`
	NormalizedName      string     `gorm:"type:text;index:idx_org_account_norm,unique;not null"`
	UpdateSyncStatus    string     `gorm:"type:text;not null;default:pending"`
	LastPipedriveUpdate *time.Time `gorm:"type:timestamptz"`
	LastSeenAt          time.Time  `gorm:"type:timestamptz;not null"`
	CreatedAt           time.Time  `gorm:"type:timestamptz"`
	UpdatedAt           time.Time  `gorm:"type:timestamptz"`
}

func (Organization) TableName() string {
	return "crm_organizations"
}
