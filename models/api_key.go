package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// APIKey stores a bcrypt hash of a tenant API key. Only the prefix is kept
// in clear so the key can be found.
type APIKey struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	TenantID   string `gorm:"type:uuid;index;not null"`
	Tenant     Tenant `gorm:"constraint:OnDelete:CASCADE;"`
	Label      string `gorm:"size:128"`
	Prefix     string `gorm:"size:16;not null;uniqueIndex"`
	SecretHash []byte `gorm:"not null"`
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	Revoked    bool `gorm:"default:false"`
}

func (k *APIKey) BeforeCreate(*gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return nil
}

// Usable reports whether the key may authenticate at now.
func (k *APIKey) Usable(now time.Time) bool {
	if k.Revoked {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}
