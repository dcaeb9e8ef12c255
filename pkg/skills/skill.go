// Package skills holds the business logic behind each voice-assistant tool.
// Handlers take a flat Request and never see the webhook envelope.
package skills

import (
	"context"
	"errors"
	"time"

	"vapidispatch/pkg/apperr"
	"vapidispatch/pkg/logger"
	"vapidispatch/pkg/session"
)

// Request is one tool invocation after the envelope has been unwrapped.
type Request struct {
	ToolCallID string
	// CallID keys the session context for the voice call.
	CallID       string
	CallerNumber string
	// Transcript is the conversation so far, one "User:"/"Assistant:" line
	// per turn. Empty when the platform sent no messages.
	Transcript string
	Args       map[string]any
}

// HandlerFunc runs one tool.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Tool is one callable function and the route it is served on.
type Tool struct {
	Name        string
	Description string
	Path        string
	Handler     HandlerFunc
}

// Skill groups tools offered together.
type Skill struct {
	Key         string
	Name        string
	Description string
	Tools       []Tool
}

// Registry is the ordered set of skills served by the process.
type Registry struct {
	skills []Skill
}

func (r *Registry) Register(s Skill) {
	r.skills = append(r.skills, s)
}

func (r *Registry) Skills() []Skill {
	return append([]Skill(nil), r.skills...)
}

// Tool finds a tool by function name.
func (r *Registry) Tool(name string) (Tool, bool) {
	for _, s := range r.skills {
		for _, t := range s.Tools {
			if t.Name == name {
				return t, true
			}
		}
	}
	return Tool{}, false
}

// NewRegistry wires every skill to its dependencies.
func NewRegistry(d Deps) *Registry {
	d = d.withDefaults()
	auth := &authentication{deps: d}
	notes := &voiceNotes{deps: d}
	updates := NewSiteUpdates(d)

	r := &Registry{}
	r.Register(Skill{
		Key:         "authentication",
		Name:        "Caller authentication",
		Description: "Identifies the caller by phone number and starts a session.",
		Tools: []Tool{
			{Name: "authenticate_caller", Description: "Authenticate the caller by phone number.", Path: "/api/v1/vapi/authenticate-by-phone", Handler: auth.authenticate},
		},
	})
	r.Register(Skill{
		Key:         "voice_notes",
		Name:        "Voice notes",
		Description: "Records general or site-specific voice notes.",
		Tools: []Tool{
			{Name: "identify_context", Description: "Decide whether a note is general or about a site.", Path: "/api/v1/skills/voice-notes/identify-context", Handler: notes.identifyContext},
			{Name: "save_note", Description: "Save a voice note.", Path: "/api/v1/skills/voice-notes/save-note", Handler: notes.saveNote},
			{Name: "get_my_notes", Description: "Read back the caller's recent notes.", Path: "/api/v1/skills/voice-notes/get-my-notes", Handler: notes.getMyNotes},
		},
	})
	r.Register(Skill{
		Key:         "site_updates",
		Name:        "Site progress updates",
		Description: "Collects daily site progress updates and extracts actions and risks.",
		Tools: []Tool{
			{Name: "identify_site", Description: "Work out which site the update is for.", Path: "/api/v1/skills/site-updates/identify-site", Handler: updates.identifySite},
			{Name: "save_update", Description: "Save and analyse a site progress update.", Path: "/api/v1/skills/site-updates/save-update", Handler: updates.saveUpdate},
		},
	})
	return r
}

// caller loads the session context written by authentication.
func (d Deps) caller(ctx context.Context, callID string) (session.Context, error) {
	if callID == "" {
		return session.Context{}, apperr.NotFound("I couldn't find your call session. Please call back so I can verify you again.", errors.New("no call id"))
	}
	sc, err := d.Sessions.Get(ctx, callID)
	if errors.Is(err, session.ErrNotFound) {
		return session.Context{}, apperr.NotFound("I couldn't find your call session. Please call back so I can verify you again.", err)
	}
	if err != nil {
		return session.Context{}, apperr.Upstream("I'm having trouble looking up your call right now. Please try again.", err)
	}
	if sc.TenantID == "" || sc.UserID == "" {
		return session.Context{}, apperr.Unauthorized("I couldn't verify who you are. Please call back so I can verify you again.", errors.New("session without user or tenant"))
	}
	logger.Debug(logger.WithTenant(ctx, sc.TenantID), "session context resolved", "user_id", sc.UserID)
	return sc, nil
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}
