package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionContext is the caller context stored under a voice call id.
type SessionContext struct {
	CallID    string `gorm:"size:128;primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	TenantID  string         `gorm:"type:uuid;index"`
	UserID    string         `gorm:"type:uuid"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	ExpiresAt time.Time      `gorm:"index;not null"`
}

// VapiLog is an audit row. Tool calls write one each; the tenant backend
// adds one end-of-call report per call.
type VapiLog struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	CreatedAt       time.Time
	VapiCallID      string         `gorm:"size:128;index"`
	ToolCallID      string         `gorm:"size:128"`
	InteractionType string         `gorm:"size:64;index;not null"`
	TenantID        *string        `gorm:"type:uuid;index"`
	UserID          *string        `gorm:"type:uuid"`
	CallerPhone     string         `gorm:"size:32"`
	Outcome         string         `gorm:"size:32"`
	RawLogData      datatypes.JSON `gorm:"type:jsonb"`

	// end-of-call report
	SkillKey        string `gorm:"size:64"`
	CalledPhone     string `gorm:"size:32"`
	SessionType     string `gorm:"size:32"`
	CallStatus      string `gorm:"column:status;size:32"`
	DurationSeconds *int
}

func (l *VapiLog) BeforeCreate(*gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
