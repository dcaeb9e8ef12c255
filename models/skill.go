package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Skill is a master row for one capability a voice assistant can offer.
type Skill struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SkillKey        string  `gorm:"size:64;uniqueIndex;not null"`
	Name            string  `gorm:"size:255;not null"`
	Description     string  `gorm:"size:1024"`
	VapiAssistantID *string `gorm:"size:64"`
}

func (s *Skill) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// UserSkill enables a skill for a user.
type UserSkill struct {
	UserID    string `gorm:"type:uuid;primaryKey"`
	SkillID   string `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
	IsEnabled bool  `gorm:"default:true"`
	User      User  `gorm:"constraint:OnDelete:CASCADE;"`
	Skill     Skill `gorm:"constraint:OnDelete:CASCADE;"`
}
