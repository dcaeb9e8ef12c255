package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a person who calls in. The phone number identifies them.
type User struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	TenantID    string `gorm:"type:uuid;index;not null"`
	Tenant      Tenant `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Name        string `gorm:"size:255;not null"`
	PhoneNumber string `gorm:"size:32;not null;uniqueIndex"`
	Role        string `gorm:"size:32;default:user"`
	IsActive    bool   `gorm:"default:true"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
