package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	NoteTypeGeneral      = "general"
	NoteTypeSiteSpecific = "site_specific"
)

// VoiceNote is a free-form note left during a call.
type VoiceNote struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	TenantID       string  `gorm:"type:uuid;index;not null"`
	Tenant         *Tenant `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE;" json:"-"`
	UserID         string  `gorm:"type:uuid;index;not null"`
	User           User    `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	SiteID         *string `gorm:"type:uuid;index"`
	Site           *Entity `gorm:"foreignKey:SiteID;constraint:OnDelete:SET NULL;" json:"site,omitempty"`
	VapiCallID     string  `gorm:"size:128;index"`
	PhoneNumber    string  `gorm:"size:32"`
	NoteType       string  `gorm:"size:32;not null;default:general"`
	NoteContent    string  `gorm:"type:text;not null"`
	NoteSummary    string  `gorm:"size:128"`
	FullTranscript string  `gorm:"type:text"`
	Priority       string  `gorm:"size:16;default:medium"`
}

func (n *VoiceNote) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
