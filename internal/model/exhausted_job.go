package model

import (
	"time"

	"gorm.io/datatypes"
)

// ExhaustedJob is a queue job that used up every attempt without succeeding.
type ExhaustedJob struct {
	ID         uint           `gorm:"primaryKey"`
	CreatedAt  time.Time      // Automatically set by GORM
	TenantID   string         `gorm:"type:varchar(64);not null;index"`
	JobID      string         `gorm:"type:varchar(128);not null;index"`
	Queue      string         `gorm:"type:varchar(64);index;not null"`
	LastError  string         `gorm:"type:text"`
	Attempts   int            // attempts consumed, equal to MaxAttempts
	EnqueuedAt time.Time      `gorm:"index"`
	Payload    datatypes.JSON `gorm:"type:jsonb;not null"`
	Resolved   bool           `gorm:"index;default:false"`
	ResolvedAt *time.Time     `gorm:"index"`
	Notes      string         `gorm:"type:text"`
}

// TableName specifies the table name for the ExhaustedJob model.
func (ExhaustedJob) TableName() string {
	return "exhausted_jobs"
}
