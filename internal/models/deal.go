package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Deal struct {
	ID                  uint64          `gorm:"primaryKey;autoIncrement"`
	AccountID           string          `gorm:"type:text;index;not null"`
	PipedriveID         *int64          `gorm:"index"`
	Title               string          `gorm:"type:text;not null"`
	Value               decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Currency            string          `gorm:"type:text;not null;default:USD"`
	Stage               string          `gorm:"type:text"`
	ContactID           *uint64         `gorm:"index"`
	UpdateSyncStatus    string          `gorm:"type:text;not null;default:pending"`
	LastPipedriveUpdate *time.Time      `gorm:"type:timestamptz"`
	CreatedAt           time.Time       `gorm:"type:timestamptz"`
	UpdatedAt           time.Time       `gorm:"type:timestamptz"`
}

func (Deal) TableName() string {
	return "crm_deals"
}
