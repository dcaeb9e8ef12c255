package skills

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"vapidispatch/models"
	"vapidispatch/pkg/apperr"
	"vapidispatch/pkg/logger"
	"vapidispatch/pkg/store"
)

const (
	summaryRunes    = 100
	defaultNoteList = 10
	maxNoteList     = 50
)

var siteKeywords = []string{"site", "project", "construction", "building", "house", "office"}

type voiceNotes struct {
	deps Deps
}

// ContextResult tells the assistant what kind of note is being taken.
type ContextResult struct {
	Success     bool   `json:"success"`
	NoteType    string `json:"note_type"`
	SiteID      string `json:"site_id,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	CompanyName string `json:"company_name"`
	Message     string `json:"message"`
}

func (v *voiceNotes) identifyContext(ctx context.Context, req Request) (any, error) {
	var args identifyContextArgs
	if err := bind(req.Args, &args); err != nil {
		return nil, err
	}
	sc, err := v.deps.caller(ctx, req.CallID)
	if err != nil {
		return nil, err
	}
	res := ContextResult{Success: true, NoteType: models.NoteTypeGeneral, CompanyName: sc.TenantName}

	input := strings.ToLower(args.UserInput.String())
	if !mentionsSite(input) {
		res.Message = fmt.Sprintf("I'll record a general note for %s.", sc.TenantName)
		return res, nil
	}
	site, err := v.deps.Directory.MatchSite(ctx, sc.TenantID, input)
	if errors.Is(err, apperr.ErrNotFound) {
		res.Message = fmt.Sprintf("I couldn't match that to one of your sites, so I'll record a general note for %s.", sc.TenantName)
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.NoteType = models.NoteTypeSiteSpecific
	res.SiteID = site.ID
	res.SiteName = site.Name
	res.Message = fmt.Sprintf("Got it, this note is for %s.", site.Name)
	return res, nil
}

func mentionsSite(input string) bool {
	for _, k := range siteKeywords {
		if strings.Contains(input, k) {
			return true
		}
	}
	return false
}

// SaveNoteResult confirms a saved note.
type SaveNoteResult struct {
	Success  bool   `json:"success"`
	NoteID   string `json:"note_id"`
	NoteType string `json:"note_type"`
	SiteName string `json:"site_name,omitempty"`
	Message  string `json:"message"`
}

func (v *voiceNotes) saveNote(ctx context.Context, req Request) (any, error) {
	var args saveNoteArgs
	if err := bind(req.Args, &args); err != nil {
		return nil, err
	}
	if err := args.validate(); err != nil {
		return nil, err
	}
	sc, err := v.deps.caller(ctx, req.CallID)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithTenant(ctx, sc.TenantID)

	note := &models.VoiceNote{
		TenantID:       sc.TenantID,
		UserID:         sc.UserID,
		VapiCallID:     req.CallID,
		PhoneNumber:    sc.CallerPhone,
		NoteType:       models.NoteTypeGeneral,
		NoteContent:    args.NoteText.String(),
		NoteSummary:    summarize(args.NoteText.String()),
		FullTranscript: "Voice note: " + args.NoteText.String(),
		Priority:       args.Priority.String(),
	}
	if args.NoteType == models.NoteTypeSiteSpecific {
		note.NoteType = models.NoteTypeSiteSpecific
	}
	var siteName string
	if args.SiteID != "" {
		site, err := v.deps.Directory.Site(ctx, sc.TenantID, args.SiteID.String())
		if err != nil {
			return nil, err
		}
		note.SiteID = &site.ID
		note.NoteType = models.NoteTypeSiteSpecific
		siteName = site.Name
	} else if note.NoteType == models.NoteTypeSiteSpecific {
		return nil, apperr.Validation("Which site is this note for?", nil)
	}

	if err := v.deps.Notes.CreateVoiceNote(ctx, note); err != nil {
		return nil, err
	}
	logger.Info(ctx, "voice note saved", "note_id", note.ID, "note_type", note.NoteType)

	msg := "Perfect! I've saved your voice note (general)."
	if siteName != "" {
		msg = fmt.Sprintf("Perfect! I've saved your voice note for %s.", siteName)
	}
	return SaveNoteResult{Success: true, NoteID: note.ID, NoteType: note.NoteType, SiteName: siteName, Message: msg}, nil
}

// summarize keeps the first hundred characters.
func summarize(text string) string {
	if utf8.RuneCountInString(text) <= summaryRunes {
		return text
	}
	r := []rune(text)
	return string(r[:summaryRunes]) + "..."
}

// NoteInfo is a note read back to the caller.
type NoteInfo struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Priority  string    `json:"priority"`
	SiteName  string    `json:"site_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NotesResult lists the caller's notes.
type NotesResult struct {
	Success           bool       `json:"success"`
	Count             int        `json:"count"`
	GeneralNotes      []NoteInfo `json:"general_notes"`
	SiteSpecificNotes []NoteInfo `json:"site_specific_notes"`
	Message           string     `json:"message"`
}

func (v *voiceNotes) getMyNotes(ctx context.Context, req Request) (any, error) {
	var args getMyNotesArgs
	if err := bind(req.Args, &args); err != nil {
		return nil, err
	}
	sc, err := v.deps.caller(ctx, req.CallID)
	if err != nil {
		return nil, err
	}
	limit := int(args.Limit)
	if limit <= 0 {
		limit = defaultNoteList
	}
	if limit > maxNoteList {
		limit = maxNoteList
	}
	notes, err := v.deps.Notes.ListVoiceNotes(ctx, sc.TenantID, store.NoteFilter{
		UserID:   sc.UserID,
		NoteType: args.NoteType.String(),
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	res := NotesResult{Success: true, Count: len(notes), GeneralNotes: []NoteInfo{}, SiteSpecificNotes: []NoteInfo{}}
	for _, n := range notes {
		info := NoteInfo{ID: n.ID, Summary: n.NoteSummary, Priority: n.Priority, CreatedAt: n.CreatedAt}
		if n.Site != nil {
			info.SiteName = n.Site.Name
		}
		if n.NoteType == models.NoteTypeSiteSpecific {
			res.SiteSpecificNotes = append(res.SiteSpecificNotes, info)
		} else {
			res.GeneralNotes = append(res.GeneralNotes, info)
		}
	}
	switch len(notes) {
	case 0:
		res.Message = "You don't have any notes yet."
	case 1:
		res.Message = "You have 1 note."
	default:
		res.Message = fmt.Sprintf("You have %d notes: %d general and %d site-specific.", len(notes), len(res.GeneralNotes), len(res.SiteSpecificNotes))
	}
	return res, nil
}
