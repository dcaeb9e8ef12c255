// Package memstore is an in-memory stand-in for store.Repository used by
// handler tests. It keeps the same tenant guard and transition rules.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vapidispatch/models"
	"vapidispatch/pkg/apperr"
	"vapidispatch/pkg/store"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.RWMutex
	tenants  map[string]models.Tenant
	users    map[string]models.User
	skills   map[string][]models.Skill
	entities map[string]models.Entity
	notes    []models.VoiceNote
	updates  map[string]*models.SiteProgressUpdate
	logs     []models.VapiLog
	apiKeys  map[string]models.APIKey
	tick     time.Time
	failNext error
}

func New() *Store {
	return &Store{
		tenants:  map[string]models.Tenant{},
		users:    map[string]models.User{},
		skills:   map[string][]models.Skill{},
		entities: map[string]models.Entity{},
		updates:  map[string]*models.SiteProgressUpdate{},
		apiKeys:  map[string]models.APIKey{},
		tick:     time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
	}
}

// now advances one millisecond per call so every write gets a distinct
// updated_at.
func (s *Store) now() time.Time {
	s.tick = s.tick.Add(time.Millisecond)
	return s.tick
}

// FailNext makes the next write return err.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *Store) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Store) AddTenant(name string) models.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := models.Tenant{ID: uuid.NewString(), Name: name, IsActive: true}
	s.tenants[t.ID] = t
	return t
}

func (s *Store) AddUser(tenantID, name, phone string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{ID: uuid.NewString(), TenantID: tenantID, Name: name, PhoneNumber: phone, Role: "user", IsActive: true}
	s.users[u.ID] = u
	return u
}

func (s *Store) AddSkill(userID, key, name, description string) models.Skill {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := models.Skill{ID: uuid.NewString(), SkillKey: key, Name: name, Description: description}
	s.skills[userID] = append(s.skills[userID], sk)
	return sk
}

func (s *Store) AddSite(tenantID, name, identifier, address string) models.Entity {
	return s.AddEntity(tenantID, models.EntityTypeSite, name, identifier, address)
}

func (s *Store) AddEntity(tenantID, entityType, name, identifier, address string) models.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := models.Entity{ID: uuid.NewString(), TenantID: tenantID, EntityType: entityType, Name: name, IsActive: true}
	if identifier != "" {
		e.Identifier = &identifier
	}
	if address != "" {
		e.Address = &address
	}
	s.entities[e.ID] = e
	return e
}

func (s *Store) AddAPIKey(k models.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	s.apiKeys[k.Prefix] = k
}

// APIKey returns the stored key with the given prefix.
func (s *Store) APIKey(prefix string) models.APIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKeys[prefix]
}

// Logs returns the audit rows written so far.
func (s *Store) Logs() []models.VapiLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.VapiLog(nil), s.logs...)
}

func guard(tenantID string) error {
	if tenantID == "" {
		return store.ErrTenantRequired
	}
	return nil
}

func (s *Store) UserByPhone(_ context.Context, phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.PhoneNumber == phone && u.IsActive && s.tenants[u.TenantID].IsActive {
			u.Tenant = s.tenants[u.TenantID]
			return &u, nil
		}
	}
	return nil, apperr.NotFound("Phone number not found or not authorized.", fmt.Errorf("no user with phone %s", phone))
}

func (s *Store) Tenant(_ context.Context, tenantID string) (*models.Tenant, error) {
	if err := guard(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, apperr.NotFound("I couldn't find your company account.", nil)
	}
	return &t, nil
}

func (s *Store) Tenants(context.Context) ([]models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Tenant
	for _, t := range s.tenants {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) EnabledSkills(_ context.Context, tenantID, userID string) ([]models.Skill, error) {
	if err := guard(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; !ok || u.TenantID != tenantID {
		return nil, nil
	}
	return append([]models.Skill(nil), s.skills[userID]...), nil
}

func (s *Store) ActiveSites(ctx context.Context, tenantID string) ([]models.Entity, error) {
	return s.ActiveEntities(ctx, tenantID, models.EntityTypeSite)
}

func (s *Store) ActiveEntities(_ context.Context, tenantID, entityType string) ([]models.Entity, error) {
	if err := guard(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Entity
	for _, e := range s.entities {
		if e.TenantID == tenantID && e.EntityType == entityType && e.IsActive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) Site(_ context.Context, tenantID, siteID string) (*models.Entity, error) {
	if err := guard(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[siteID]
	if !ok || e.TenantID != tenantID || e.EntityType != models.EntityTypeSite || !e.IsActive {
		return nil, apperr.NotFound("I couldn't find that site for your company.", nil)
	}
	return &e, nil
}

func (s *Store) MatchSite(ctx context.Context, tenantID, description string) (*models.Entity, error) {
	sites, err := s.ActiveSites(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return store.MatchSite(sites, description)
}

func (s *Store) CreateVoiceNote(_ context.Context, n *models.VoiceNote) error {
	if err := guard(n.TenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := s.now()
	n.CreatedAt, n.UpdatedAt = now, now
	s.notes = append(s.notes, *n)
	return nil
}

func (s *Store) ListVoiceNotes(_ context.Context, tenantID string, f store.NoteFilter) ([]models.VoiceNote, error) {
	if err := guard(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.VoiceNote
	for i := len(s.notes) - 1; i >= 0; i-- {
		n := s.notes[i]
		if n.TenantID != tenantID ||
			(f.UserID != "" && n.UserID != f.UserID) ||
			(f.NoteType != "" && n.NoteType != f.NoteType) ||
			(f.SiteID != "" && (n.SiteID == nil || *n.SiteID != f.SiteID)) {
			continue
		}
		if n.SiteID != nil {
			if e, ok := s.entities[*n.SiteID]; ok {
				n.Site = &e
			}
		}
		out = append(out, n)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateProgressUpdate(_ context.Context, u *models.SiteProgressUpdate) error {
	if err := guard(u.TenantID); err != nil {
		return err
	}
	if u.ProcessingStatus == "" {
		u.ProcessingStatus = models.StatusPending
	}
	if u.ProcessingStatus != models.StatusPending {
		return apperr.Validation("New updates must start pending.", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.updates[u.ID] = &cp
	return nil
}

func (s *Store) ProgressUpdate(_ context.Context, tenantID, id string) (*models.SiteProgressUpdate, error) {
	if err := guard(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.updates[id]
	if !ok || u.TenantID != tenantID {
		return nil, apperr.NotFound("I couldn't find that update.", nil)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) ListProgressUpdates(_ context.Context, tenantID string, f store.UpdateFilter) ([]models.SiteProgressUpdate, error) {
	if err := guard(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SiteProgressUpdate
	for _, u := range s.updates {
		if u.TenantID != tenantID ||
			(f.SiteID != "" && u.SiteID != f.SiteID) ||
			(f.UserID != "" && u.UserID != f.UserID) ||
			(f.Status != "" && u.ProcessingStatus != f.Status) ||
			(f.UrgentOnly && !u.HasUrgentIssues) ||
			(f.SafetyOnly && !u.HasSafetyConcerns) ||
			(!f.UpdatedBefore.IsZero() && !u.UpdatedAt.Before(f.UpdatedBefore)) {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// TransitionProgressUpdate mirrors the guarded UPDATE of the Postgres
// repository. Only the columns the extraction writes are understood.
func (s *Store) TransitionProgressUpdate(_ context.Context, tenantID, id string, t store.Transition) (time.Time, error) {
	if err := guard(tenantID); err != nil {
		return time.Time{}, err
	}
	if !t.Allowed() {
		return time.Time{}, apperr.Validation("That status change is not allowed.", fmt.Errorf("transition %s -> %s", t.From, t.To))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return time.Time{}, err
	}
	u, ok := s.updates[id]
	if !ok || u.TenantID != tenantID || u.ProcessingStatus != t.From || !u.UpdatedAt.Equal(t.Seen) {
		return time.Time{}, store.ErrStaleUpdate
	}
	next := *u
	for k, v := range t.Fields {
		if err := apply(&next, k, v); err != nil {
			return time.Time{}, err
		}
	}
	next.ProcessingStatus = t.To
	next.UpdatedAt = s.now()
	*u = next
	return next.UpdatedAt, nil
}

func (s *Store) LogInteraction(_ context.Context, l *models.VapiLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = s.now()
	s.logs = append(s.logs, *l)
	return nil
}

func (s *Store) APIKeyByPrefix(_ context.Context, prefix string) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.apiKeys[prefix]
	if !ok {
		return nil, apperr.NotFound("Unknown API key.", nil)
	}
	return &k, nil
}

func (s *Store) TouchAPIKey(_ context.Context, tenantID, id string) error {
	if err := guard(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, k := range s.apiKeys {
		if k.ID == id && k.TenantID == tenantID {
			now := s.now()
			k.LastUsedAt = &now
			s.apiKeys[p] = k
		}
	}
	return nil
}

func (s *Store) SiteSummaries(_ context.Context, tenantID string, from, to time.Time) ([]store.SiteSummary, error) {
	if err := guard(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bySite := map[string]*store.SiteSummary{}
	wet := map[string]map[string]bool{}
	for _, u := range s.updates {
		d := time.Time(u.UpdateDate)
		if u.TenantID != tenantID || d.Before(from) || !d.Before(to) {
			continue
		}
		sum, ok := bySite[u.SiteID]
		if !ok {
			sum = &store.SiteSummary{SiteID: u.SiteID, SiteName: s.entities[u.SiteID].Name}
			bySite[u.SiteID] = sum
			wet[u.SiteID] = map[string]bool{}
		}
		sum.Updates++
		if u.HasUrgentIssues {
			sum.Urgent++
		}
		if u.HasSafetyConcerns {
			sum.Safety++
		}
		if u.HasDelays {
			sum.Delays++
		}
		if u.IsWetWeatherClosure && !wet[u.SiteID][d.Format("2006-01-02")] {
			wet[u.SiteID][d.Format("2006-01-02")] = true
			sum.WetDays++
		}
		if u.ProcessingStatus == models.StatusFailed {
			sum.Failed++
		}
	}
	out := make([]store.SiteSummary, 0, len(bySite))
	for _, sum := range bySite {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SiteName < out[j].SiteName })
	return out, nil
}
