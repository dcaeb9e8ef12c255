package skills

import (
	"context"
	"time"

	"vapidispatch/models"
	"vapidispatch/pkg/extract"
	"vapidispatch/pkg/session"
	"vapidispatch/pkg/store"
)

// Directory resolves callers, tenants, skills and sites.
type Directory interface {
	UserByPhone(ctx context.Context, phone string) (*models.User, error)
	Tenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	EnabledSkills(ctx context.Context, tenantID, userID string) ([]models.Skill, error)
	ActiveSites(ctx context.Context, tenantID string) ([]models.Entity, error)
	Site(ctx context.Context, tenantID, siteID string) (*models.Entity, error)
	MatchSite(ctx context.Context, tenantID, description string) (*models.Entity, error)
}

// NoteStore persists voice notes.
type NoteStore interface {
	CreateVoiceNote(ctx context.Context, n *models.VoiceNote) error
	ListVoiceNotes(ctx context.Context, tenantID string, f store.NoteFilter) ([]models.VoiceNote, error)
}

// ProgressStore persists site progress updates.
type ProgressStore interface {
	CreateProgressUpdate(ctx context.Context, u *models.SiteProgressUpdate) error
	ProgressUpdate(ctx context.Context, tenantID, id string) (*models.SiteProgressUpdate, error)
	TransitionProgressUpdate(ctx context.Context, tenantID, id string, t store.Transition) (time.Time, error)
}

// Extractor turns raw update text into structured data.
type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (*extract.Result, error)
}

// Deps are the adapters handlers are allowed to use.
type Deps struct {
	Directory Directory
	Notes     NoteStore
	Updates   ProgressStore
	Sessions  session.Store
	Extractor Extractor
	// DefaultPhone is used for authentication when the call carries no
	// caller number, e.g. browser test calls.
	DefaultPhone string
	Now          func() time.Time
}
