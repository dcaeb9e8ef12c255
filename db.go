package main

import (
	"fmt"
	"log/slog"

	"vapidispatch/models"
	"vapidispatch/pkg/config"
	"vapidispatch/pkg/store"

	"gorm.io/gorm"
)

func initDB(cfg config.Config) (*gorm.DB, error) {
	db, err := store.Open(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	// DB_AUTO_MIGRATE=false leaves the schema to the operator
	if cfg.DBAutoMigrate {
		store.Migrate(db)
	}
	if cfg.IsDevelopment() {
		seedDB(db)
	}
	return db, nil
}

// seedDB creates a demo tenant, caller, sites and skills so a fresh
// development database can take calls. It is idempotent.
func seedDB(db *gorm.DB) {
	var tenant models.Tenant
	if err := db.Where(models.Tenant{Name: "BuiltByMK"}).Attrs(models.Tenant{IsActive: true}).FirstOrCreate(&tenant).Error; err != nil {
		slog.Warn("seed: tenant", "error", err)
		return
	}

	skills := []models.Skill{
		{SkillKey: "voice_notes", Name: "Voice Notes", Description: "Record general or site-specific voice notes."},
		{SkillKey: "site_updates", Name: "Site Progress Updates", Description: "Give a daily progress update for a site."},
	}
	for i := range skills {
		if err := db.Where(models.Skill{SkillKey: skills[i].SkillKey}).Attrs(skills[i]).FirstOrCreate(&skills[i]).Error; err != nil {
			slog.Warn("seed: skill", "skill_key", skills[i].SkillKey, "error", err)
		}
	}

	var user models.User
	if err := db.Where(models.User{PhoneNumber: "+61412345678"}).
		Attrs(models.User{TenantID: tenant.ID, Name: "John Smith", Role: "user", IsActive: true}).
		FirstOrCreate(&user).Error; err != nil {
		slog.Warn("seed: user", "error", err)
		return
	}
	for _, sk := range skills {
		if sk.ID == "" {
			continue
		}
		link := models.UserSkill{UserID: user.ID, SkillID: sk.ID, IsEnabled: true}
		if err := db.Where(models.UserSkill{UserID: user.ID, SkillID: sk.ID}).Attrs(link).FirstOrCreate(&link).Error; err != nil {
			slog.Warn("seed: user skill", "skill_key", sk.SkillKey, "error", err)
		}
	}

	sites := []struct{ name, identifier, address string }{
		{"Smith Street Renovation", "JSMB-001", "12 Smith Street, Paddington"},
		{"Harbour View Apartments", "HVA-002", "88 Harbour Road, Kirribilli"},
	}
	for _, s := range sites {
		identifier, address := s.identifier, s.address
		site := models.Entity{TenantID: tenant.ID, EntityType: models.EntityTypeSite, Name: s.name}
		attrs := models.Entity{Identifier: &identifier, Address: &address, IsActive: true}
		if err := db.Where(site).Attrs(attrs).FirstOrCreate(&site).Error; err != nil {
			slog.Warn("seed: site", "name", s.name, "error", err)
		}
	}
	slog.Info("development seed applied", "tenant_id", tenant.ID, "user_id", user.ID)
}
