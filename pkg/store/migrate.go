package store

import (
	"log/slog"

	"vapidispatch/models"

	"gorm.io/gorm"
)

// Migrate creates or updates the schema. Models are migrated one by one so
// a permission problem on one table does not block the others.
func Migrate(db *gorm.DB) {
	steps := []struct {
		table string
		model any
	}{
		{"tenants", &models.Tenant{}},
		{"users", &models.User{}},
		{"skills", &models.Skill{}},
		{"user_skills", &models.UserSkill{}},
		{"entities", &models.Entity{}},
		{"voice_notes", &models.VoiceNote{}},
		{"site_progress_updates", &models.SiteProgressUpdate{}},
		{"session_contexts", &models.SessionContext{}},
		{"vapi_logs", &models.VapiLog{}},
		{"api_keys", &models.APIKey{}},
	}
	for _, s := range steps {
		if err := db.AutoMigrate(s.model); err != nil {
			slog.Warn("migration warning", "table", s.table, "error", err)
		}
	}
	if err := ensureProgressConstraints(db); err != nil {
		slog.Warn("ensuring site_progress_updates constraints failed", "error", err)
	}
}

// ensureProgressConstraints adds the status check and the per-site daily
// index if they are missing.
func ensureProgressConstraints(db *gorm.DB) error {
	var n int64
	checkSQL := `SELECT count(*) FROM pg_constraint ct
		JOIN pg_class rel ON rel.oid = ct.conrelid
		WHERE rel.relname = 'site_progress_updates' AND ct.conname = 'chk_site_progress_updates_status'`
	if err := db.Raw(checkSQL).Scan(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		if err := db.Exec(`ALTER TABLE site_progress_updates
			ADD CONSTRAINT chk_site_progress_updates_status
			CHECK (processing_status IN ('pending', 'processing', 'completed', 'failed'))`).Error; err != nil {
			return err
		}
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_site_progress_updates_tenant_site_date
		ON site_progress_updates(tenant_id, site_id, update_date DESC)`).Error
}
