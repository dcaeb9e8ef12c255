// Package store is the tenant-scoped gorm repository. Every method that
// touches tenant data takes the tenant id explicitly and refuses to run
// without it.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vapidispatch/models"
	"vapidispatch/pkg/apperr"
	"vapidispatch/pkg/sitematch"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// NoteFilter narrows ListVoiceNotes.
type NoteFilter struct {
	UserID   string
	NoteType string
	SiteID   string
	Limit    int
}

// UpdateFilter narrows ListProgressUpdates.
type UpdateFilter struct {
	SiteID     string
	UserID     string
	Status     models.ProcessingStatus
	UrgentOnly bool
	SafetyOnly bool
	Limit      int

	// UpdatedBefore keeps rows last written before this time.
	UpdatedBefore time.Time
}

// Transition is a guarded status change of one progress update. Fields are
// written in the same statement as the status.
type Transition struct {
	From   models.ProcessingStatus
	To     models.ProcessingStatus
	Seen   time.Time
	Fields map[string]any
	// Resubmit allows an explicit reprocess job to move a failed or stuck
	// (pending, processing) update back to processing.
	Resubmit bool
}

// Allowed reports whether the transition is legal.
func (t Transition) Allowed() bool {
	if t.Resubmit {
		return t.To == models.StatusProcessing && t.From != models.StatusCompleted && t.From.Valid()
	}
	return t.From.CanTransition(t.To)
}

// Repository is the Postgres implementation.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Open connects to Postgres.
func Open(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN")
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
}

// Stamp is the timestamp precision Postgres keeps, so values read back
// compare equal to the ones written.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return ErrTenantRequired
	}
	return nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// UserByPhone finds the active user owning phone. It is the lookup that
// establishes the tenant, so it is the one read without tenant scope.
func (r *Repository) UserByPhone(ctx context.Context, phone string) (*models.User, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, apperr.Validation("A phone number is required.", nil)
	}
	var u models.User
	err := r.db.WithContext(ctx).
		Joins("Tenant").
		Where("users.phone_number = ? AND users.is_active = ? AND \"Tenant\".is_active = ?", phone, true, true).
		First(&u).Error
	if err != nil {
		return nil, classify("user by phone", err, "Phone number not found or not authorized.")
	}
	return &u, nil
}

func (r *Repository) Tenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var t models.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", tenantID).First(&t).Error; err != nil {
		return nil, classify("tenant", err, "I couldn't find your company account.")
	}
	return &t, nil
}

// Tenants lists active tenants for maintenance jobs.
func (r *Repository) Tenants(ctx context.Context) ([]models.Tenant, error) {
	var out []models.Tenant
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("name").Find(&out).Error; err != nil {
		return nil, classify("tenants", err, "")
	}
	return out, nil
}

// EnabledSkills returns the skills enabled for a user of the tenant.
func (r *Repository) EnabledSkills(ctx context.Context, tenantID, userID string) ([]models.Skill, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var out []models.Skill
	err := r.db.WithContext(ctx).
		Joins("JOIN user_skills ON user_skills.skill_id = skills.id").
		Joins("JOIN users ON users.id = user_skills.user_id").
		Where("user_skills.user_id = ? AND user_skills.is_enabled = ? AND users.tenant_id = ?", userID, true, tenantID).
		Order("skills.name").
		Find(&out).Error
	if err != nil {
		return nil, classify("enabled skills", err, "")
	}
	return out, nil
}

func (r *Repository) ActiveSites(ctx context.Context, tenantID string) ([]models.Entity, error) {
	return r.ActiveEntities(ctx, tenantID, models.EntityTypeSite)
}

// ActiveEntities lists the tenant's active entities of one type by name.
func (r *Repository) ActiveEntities(ctx context.Context, tenantID, entityType string) ([]models.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var out []models.Entity
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_type = ? AND is_active = ?", tenantID, entityType, true).
		Order("name").
		Find(&out).Error
	if err != nil {
		return nil, classify("active entities", err, "")
	}
	return out, nil
}

// Site returns one active site of the tenant. Sites of other tenants are
// reported as not found.
func (r *Repository) Site(ctx context.Context, tenantID, siteID string) (*models.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var e models.Entity
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND entity_type = ? AND is_active = ?", siteID, tenantID, models.EntityTypeSite, true).
		First(&e).Error
	if err != nil {
		return nil, classify("site", err, "I couldn't find that site for your company.")
	}
	return &e, nil
}

// MatchSite fuzzy matches description against the tenant's active sites.
func (r *Repository) MatchSite(ctx context.Context, tenantID, description string) (*models.Entity, error) {
	sites, err := r.ActiveSites(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return MatchSite(sites, description)
}

// MatchSite picks from sites. Below the threshold the error is NotFound and
// its message names the candidates.
func MatchSite(sites []models.Entity, description string) (*models.Entity, error) {
	if len(sites) == 0 {
		return nil, apperr.NotFound("I couldn't find any active sites for your company.", nil)
	}
	cands := make([]sitematch.Candidate, len(sites))
	for i, s := range sites {
		cands[i] = sitematch.Candidate{ID: s.ID, Name: s.Name, Identifier: deref(s.Identifier), Address: deref(s.Address)}
	}
	m, ok := sitematch.Best(description, cands, sitematch.DefaultThreshold)
	if !ok {
		names := make([]string, len(sites))
		for i, s := range sites {
			names[i] = s.Name
		}
		return nil, apperr.NotFound(
			fmt.Sprintf("I couldn't tell which site you meant. Your sites are %s. Which one is it?", JoinNames(names)),
			fmt.Errorf("no site matched %q", description))
	}
	for i := range sites {
		if sites[i].ID == m.Candidate.ID {
			return &sites[i], nil
		}
	}
	return nil, apperr.NotFound("I couldn't find that site.", nil)
}

// JoinNames renders "A", "A or B", "A, B, or C".
func JoinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " or " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + ", or " + names[len(names)-1]
}

func (r *Repository) CreateVoiceNote(ctx context.Context, n *models.VoiceNote) error {
	if err := requireTenant(n.TenantID); err != nil {
		return err
	}
	now := Stamp(r.now())
	n.CreatedAt, n.UpdatedAt = now, now
	return classify("create voice note", r.db.WithContext(ctx).Create(n).Error, "")
}

func (r *Repository) ListVoiceNotes(ctx context.Context, tenantID string, f NoteFilter) ([]models.VoiceNote, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	q := r.db.WithContext(ctx).Preload("Site").Where("tenant_id = ?", tenantID)
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.NoteType != "" {
		q = q.Where("note_type = ?", f.NoteType)
	}
	if f.SiteID != "" {
		q = q.Where("site_id = ?", f.SiteID)
	}
	var out []models.VoiceNote
	if err := q.Order("created_at DESC").Limit(clampLimit(f.Limit)).Find(&out).Error; err != nil {
		return nil, classify("list voice notes", err, "")
	}
	return out, nil
}

// CreateProgressUpdate inserts a new pending row.
func (r *Repository) CreateProgressUpdate(ctx context.Context, u *models.SiteProgressUpdate) error {
	if err := requireTenant(u.TenantID); err != nil {
		return err
	}
	if u.ProcessingStatus == "" {
		u.ProcessingStatus = models.StatusPending
	}
	if u.ProcessingStatus != models.StatusPending {
		return apperr.Validation("New updates must start pending.", fmt.Errorf("create progress update with status %s", u.ProcessingStatus))
	}
	now := Stamp(r.now())
	u.CreatedAt, u.UpdatedAt = now, now
	return classify("create progress update", r.db.WithContext(ctx).Create(u).Error, "")
}

func (r *Repository) ProgressUpdate(ctx context.Context, tenantID, id string) (*models.SiteProgressUpdate, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	var u models.SiteProgressUpdate
	if err := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&u).Error; err != nil {
		return nil, classify("progress update", err, "I couldn't find that update.")
	}
	return &u, nil
}

func (r *Repository) ListProgressUpdates(ctx context.Context, tenantID string, f UpdateFilter) ([]models.SiteProgressUpdate, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	q := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if f.SiteID != "" {
		q = q.Where("site_id = ?", f.SiteID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("processing_status = ?", string(f.Status))
	}
	if f.UrgentOnly {
		q = q.Where("has_urgent_issues = ?", true)
	}
	if f.SafetyOnly {
		q = q.Where("has_safety_concerns = ?", true)
	}
	if !f.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", Stamp(f.UpdatedBefore))
	}
	var out []models.SiteProgressUpdate
	if err := q.Order("update_date DESC, created_at DESC").Limit(clampLimit(f.Limit)).Find(&out).Error; err != nil {
		return nil, classify("list progress updates", err, "")
	}
	return out, nil
}

// TransitionProgressUpdate applies t in one UPDATE guarded by the expected
// status and updated_at. It returns the new updated_at.
func (r *Repository) TransitionProgressUpdate(ctx context.Context, tenantID, id string, t Transition) (time.Time, error) {
	if err := requireTenant(tenantID); err != nil {
		return time.Time{}, err
	}
	if !t.Allowed() {
		return time.Time{}, apperr.Validation("That status change is not allowed.", fmt.Errorf("transition %s -> %s", t.From, t.To))
	}
	now := Stamp(r.now())
	if !now.After(t.Seen) {
		now = t.Seen.Add(time.Microsecond)
	}
	updates := make(map[string]any, len(t.Fields)+2)
	for k, v := range t.Fields {
		updates[k] = v
	}
	updates["processing_status"] = string(t.To)
	updates["updated_at"] = now

	res := r.db.WithContext(ctx).Model(&models.SiteProgressUpdate{}).
		Where("id = ? AND tenant_id = ? AND processing_status = ? AND updated_at = ?", id, tenantID, string(t.From), Stamp(t.Seen)).
		Updates(updates)
	if res.Error != nil {
		return time.Time{}, classify("transition progress update", res.Error, "")
	}
	if res.RowsAffected == 0 {
		return time.Time{}, ErrStaleUpdate
	}
	return now, nil
}

// LogInteraction appends an audit row. Calls that failed before the caller
// was identified are logged without a tenant, so this write is not scoped.
func (r *Repository) LogInteraction(ctx context.Context, l *models.VapiLog) error {
	l.CreatedAt = Stamp(r.now())
	return classify("log interaction", r.db.WithContext(ctx).Create(l).Error, "")
}

// APIKeyByPrefix finds a key by its public prefix. The secret is checked by
// the caller.
func (r *Repository) APIKeyByPrefix(ctx context.Context, prefix string) (*models.APIKey, error) {
	var k models.APIKey
	if err := r.db.WithContext(ctx).Where("prefix = ?", prefix).First(&k).Error; err != nil {
		return nil, classify("api key", err, "Unknown API key.")
	}
	return &k, nil
}

func (r *Repository) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	if err := requireTenant(k.TenantID); err != nil {
		return err
	}
	return classify("create api key", r.db.WithContext(ctx).Create(k).Error, "")
}

// TouchAPIKey records a successful use.
func (r *Repository) TouchAPIKey(ctx context.Context, tenantID, id string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	now := Stamp(r.now())
	return classify("touch api key", r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("last_used_at", now).Error, "")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
