package models

import (
	"time"
)

type Activity struct {
	ID                  uint64     `gorm:"primaryKey;autoIncrement"`
	AccountID           string     `gorm:"type:text;index;not null"`
	PipedriveID         *int64     `gorm:"index"`
	Subject             string     `gorm:"type:text;not null"`
	Note                string     `gorm:"type:text"`
	Type                string     `gorm:"type:text"`
	DueDate             *time.Time `gorm:"type:timestamptz"`
	Done                bool       `gorm:"not null;default:false"`
	ContactID           *uint64    `gorm:"index"`
	CampaignID          *uint64    `gorm:"index"`
	UpdateSyncStatus    string     `gorm:"type:text;not null;default:pending"`
	LastPipedriveUpdate *time.Time `gorm:"type:timestamptz"`
	CreatedAt           time.Time  `gorm:"type:timestamptz"`
	UpdatedAt           time.Time  `gorm:"type:timestamptz"`
}

func (Activity) TableName() string {
	return "crm_activities"
}
