package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EntityTypeSite marks entities that are construction sites.
const EntityTypeSite = "sites"

// Entity is a tenant-owned thing callers talk about. Sites are the only
// type the voice skills use.
type Entity struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	TenantID   string  `gorm:"type:uuid;index;not null"`
	Tenant     Tenant  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	EntityType string  `gorm:"size:32;index;not null"`
	Name       string  `gorm:"size:255;not null"`
	Identifier *string `gorm:"size:64"`
	Address    *string `gorm:"size:512"`
	IsActive   bool    `gorm:"default:true"`
}

func (e *Entity) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
