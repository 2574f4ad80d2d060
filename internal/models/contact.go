package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Update sync status values shared by Contact, Organization, Activity and Deal.
const (
	UpdateStatusSynced  = "synced"
	UpdateStatusPending = "pending"
	UpdateStatusFailed  = "failed"
)

type Contact struct {
	ID                  uint64         `gorm:"primaryKey;autoIncrement"`
	AccountID           string         `gorm:"type:text;index;not null"`
	PipedriveID         *int64         `gorm:"index"`
	Name                string         `gorm:"type:text;not null"`
	NormalizedName      string         `gorm:"type:text;index"`
	Email               string         `gorm:"type:text;index"`
	Phone               string         `gorm:"type:text"`
	OrgName             string         `gorm:"type:text"`
	PipedriveOrgID      *int64         `gorm:"index"`
	CampaignID          *uint64        `gorm:"index"`
	UpdateSyncStatus    string         `gorm:"type:text;not null;default:pending"`
	LastPipedriveUpdate *time.Time     `gorm:"type:timestamptz"`
	LastSeenAt          time.Time      `gorm:"type:timestamptz;not null"`
	RawJSON             datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt           time.Time      `gorm:"type:timestamptz"`
	UpdatedAt           time.Time      `gorm:"type:timestamptz"`
}

func (Contact) TableName() string {
	return "crm_contacts"
}

// BeforeSave keeps NormalizedName consistent for every writer: lowercase with
// internal whitespace collapsed, the same form identity matching queries on.
func (c *Contact) BeforeSave(*gorm.DB) error {
	c.NormalizedName = NormalizeContactName(c.Name)
	return nil
}

func NormalizeContactName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
