package models

import (
	"time"
)

type Campaign struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	AccountID string    `gorm:"type:text;index;not null"`
	Name      string    `gorm:"type:text;not null"`
	ShortCode string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"type:timestamptz"`
	UpdatedAt time.Time `gorm:"type:timestamptz"`
}

func (Campaign) TableName() string {
	return "crm_campaigns"
}
