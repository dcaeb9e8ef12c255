package skills

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vapidispatch/models"
	"vapidispatch/pkg/apperr"
	"vapidispatch/pkg/logger"
	"vapidispatch/pkg/session"
	"vapidispatch/pkg/store"
)

type authentication struct {
	deps Deps
}

// SkillInfo describes a skill enabled for the caller.
type SkillInfo struct {
	Key             string  `json:"skill_key"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	VapiAssistantID *string `json:"vapi_assistant_id,omitempty"`
}

// SiteInfo describes a site the caller can report on.
type SiteInfo struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Identifier *string `json:"identifier,omitempty"`
	Address    *string `json:"address,omitempty"`
}

// AuthResult is returned to the assistant after authentication.
type AuthResult struct {
	Success    bool        `json:"success"`
	Authorized bool        `json:"authorized"`
	UserID     string      `json:"user_id"`
	UserName   string      `json:"user_name"`
	FirstName  string      `json:"first_name"`
	TenantID   string      `json:"tenant_id"`
	TenantName string      `json:"tenant_name"`
	Greeting   string      `json:"greeting"`
	Skills     []SkillInfo `json:"skills"`
	Sites      []SiteInfo  `json:"sites"`
	Message    string      `json:"message"`
}

func (a *authentication) authenticate(ctx context.Context, req Request) (any, error) {
	var args authenticateArgs
	if err := bind(req.Args, &args); err != nil {
		return nil, err
	}
	phone := req.CallerNumber
	if phone == "" {
		phone = args.CallerPhone.String()
	}
	if phone == "" {
		phone = a.deps.DefaultPhone
	}
	phone = normalizePhone(phone)
	if phone == "" {
		return nil, apperr.Validation("I need your phone number to verify who you are.", nil)
	}

	user, err := a.deps.Directory.UserByPhone(ctx, phone)
	if errors.Is(err, apperr.ErrNotFound) {
		logger.Warn(ctx, "authentication failed: unknown phone", "phone", maskPhone(phone))
		return nil, apperr.Unauthorized("Sorry, I don't recognise this phone number. Please contact your administrator to get access.", err)
	}
	if err != nil {
		return nil, err
	}
	ctx = logger.WithTenant(ctx, user.TenantID)

	tenantName := user.Tenant.Name
	if tenantName == "" {
		t, err := a.deps.Directory.Tenant(ctx, user.TenantID)
		if err != nil {
			return nil, err
		}
		tenantName = t.Name
	}
	skills, err := a.deps.Directory.EnabledSkills(ctx, user.TenantID, user.ID)
	if err != nil {
		return nil, err
	}
	sites, err := a.deps.Directory.ActiveSites(ctx, user.TenantID)
	if err != nil {
		return nil, err
	}

	sc := session.Context{
		UserID:      user.ID,
		TenantID:    user.TenantID,
		CallerPhone: phone,
		UserName:    user.Name,
		TenantName:  tenantName,
	}
	if err := a.deps.Sessions.Put(ctx, req.CallID, sc); err != nil {
		return nil, apperr.Upstream("I verified you but couldn't start your session. Please try again.", err)
	}
	logger.Info(ctx, "caller authenticated", "user_id", user.ID, "skills", len(skills), "sites", len(sites))

	res := AuthResult{
		Success:    true,
		Authorized: true,
		UserID:     user.ID,
		UserName:   user.Name,
		FirstName:  firstName(user.Name),
		TenantID:   user.TenantID,
		TenantName: tenantName,
		Greeting:   greeting(user.Name, skills),
		Skills:     make([]SkillInfo, 0, len(skills)),
		Sites:      make([]SiteInfo, 0, len(sites)),
	}
	for _, s := range skills {
		res.Skills = append(res.Skills, SkillInfo{Key: s.SkillKey, Name: s.Name, Description: s.Description, VapiAssistantID: s.VapiAssistantID})
	}
	for _, s := range sites {
		res.Sites = append(res.Sites, siteInfo(s))
	}
	res.Message = fmt.Sprintf("Authenticated %s from %s.", user.Name, tenantName)
	return res, nil
}

func siteInfo(s models.Entity) SiteInfo {
	return SiteInfo{ID: s.ID, Name: s.Name, Identifier: s.Identifier, Address: s.Address}
}

func greeting(name string, skills []models.Skill) string {
	first := firstName(name)
	names := make([]string, len(skills))
	for i, s := range skills {
		names[i] = s.Name
	}
	switch len(names) {
	case 0:
		return fmt.Sprintf("Hi %s! I don't have any skills configured for you yet. Please contact your administrator.", first)
	case 1:
		return fmt.Sprintf("Hi %s! Ready for %s? Let's get started.", first, names[0])
	}
	return fmt.Sprintf("Hi %s! I can help you with %s. What would you like to do?", first, store.JoinNames(names))
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return "there"
}

// normalizePhone strips spacing and punctuation but keeps a leading +.
func normalizePhone(p string) string {
	p = strings.TrimSpace(p)
	var b strings.Builder
	for i, r := range p {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func maskPhone(p string) string {
	if len(p) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(p)-4) + p[len(p)-4:]
}
