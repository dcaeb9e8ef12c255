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
	"vapidispatch/pkg/extract"
	"vapidispatch/pkg/logger"
	"vapidispatch/pkg/store"

	"gorm.io/datatypes"
)

const (
	// failWriteTimeout bounds status writes that must land even after the
	// request context has expired.
	failWriteTimeout = 5 * time.Second
	maxErrorBytes    = 1000
)

// SiteUpdates saves progress updates and runs extraction on them.
type SiteUpdates struct {
	deps Deps
}

func NewSiteUpdates(d Deps) *SiteUpdates {
	return &SiteUpdates{deps: d.withDefaults()}
}

// IdentifySiteResult is the outcome of matching a spoken site description.
type IdentifySiteResult struct {
	Success  bool       `json:"success"`
	Matched  bool       `json:"matched"`
	SiteID   string     `json:"site_id,omitempty"`
	SiteName string     `json:"site_name,omitempty"`
	Sites    []SiteInfo `json:"sites,omitempty"`
	Message  string     `json:"message"`
}

func (s *SiteUpdates) identifySite(ctx context.Context, req Request) (any, error) {
	var args identifySiteArgs
	if err := bind(req.Args, &args); err != nil {
		return nil, err
	}
	sc, err := s.deps.caller(ctx, req.CallID)
	if err != nil {
		return nil, err
	}
	sites, err := s.deps.Directory.ActiveSites(ctx, sc.TenantID)
	if err != nil {
		return nil, err
	}
	if len(sites) == 0 {
		return nil, apperr.NotFound("I couldn't find any active sites for your company. Please contact your administrator.", nil)
	}

	if args.SiteDescription == "" {
		res := IdentifySiteResult{Success: true}
		names := make([]string, len(sites))
		for i, site := range sites {
			res.Sites = append(res.Sites, siteInfo(site))
			names[i] = site.Name
		}
		res.Message = fmt.Sprintf("Which site is this update for? Your sites are %s.", store.JoinNames(names))
		return res, nil
	}

	site, err := store.MatchSite(sites, args.SiteDescription.String())
	if err != nil {
		return nil, err
	}
	return IdentifySiteResult{
		Success:  true,
		Matched:  true,
		SiteID:   site.ID,
		SiteName: site.Name,
		Message:  fmt.Sprintf("Got it, %s. How did things go on site today?", site.Name),
	}, nil
}

// SaveUpdateResult confirms a processed update.
type SaveUpdateResult struct {
	Success           bool   `json:"success"`
	UpdateID          string `json:"update_id"`
	SiteName          string `json:"site_name"`
	Summary           string `json:"summary"`
	HasUrgentIssues   bool   `json:"has_urgent_issues"`
	HasSafetyConcerns bool   `json:"has_safety_concerns"`
	ActionItems       int    `json:"action_items"`
	Message           string `json:"message"`
}

func (s *SiteUpdates) saveUpdate(ctx context.Context, req Request) (any, error) {
	var args saveUpdateArgs
	if err := bind(req.Args, &args); err != nil {
		return nil, err
	}
	if err := args.validate(s.deps.Now()); err != nil {
		return nil, err
	}
	transcript := strings.TrimSpace(req.Transcript)
	if transcript == "" {
		transcript = args.RawNotes.String()
	}
	if transcript == "" {
		return nil, apperr.Validation("I didn't catch any details for that update. Could you tell me how things went on site?", nil)
	}

	sc, err := s.deps.caller(ctx, req.CallID)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithTenant(ctx, sc.TenantID)
	site, err := s.deps.Directory.Site(ctx, sc.TenantID, args.SiteID.String())
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NotFound("I couldn't verify that site. Which site is this update for?", err)
	}
	if err != nil {
		return nil, err
	}

	u := &models.SiteProgressUpdate{
		TenantID:            sc.TenantID,
		SiteID:              site.ID,
		UserID:              sc.UserID,
		UpdateDate:          datatypes.Date(args.date),
		MainFocus:           args.MainFocus.ptr(),
		MaterialsDelivered:  args.MaterialsDelivered.ptr(),
		WorkProgress:        args.WorkProgress.ptr(),
		Issues:              args.Issues.ptr(),
		Delays:              args.Delays.ptr(),
		Staffing:            args.Staffing.ptr(),
		SiteVisitors:        args.SiteVisitors.ptr(),
		SiteConditions:      args.SiteConditions.ptr(),
		FollowUpActions:     args.FollowUpActions.ptr(),
		RawTranscript:       transcript,
		IsWetWeatherClosure: args.IsWetWeatherClosure.Value,
		ProcessingStatus:    models.StatusPending,
	}
	if req.CallID != "" {
		callID := req.CallID
		u.VapiCallID = &callID
	}
	if err := s.deps.Updates.CreateProgressUpdate(ctx, u); err != nil {
		return nil, err
	}
	logger.Info(ctx, "progress update saved", "update_id", u.ID, "site_id", site.ID)

	if err := s.startProcessing(ctx, u); err != nil {
		logger.Error(ctx, "progress update left pending", "update_id", u.ID, "error", err)
		return nil, err
	}

	res, err := s.process(ctx, u, site.Name, args.IsWetWeatherClosure.Set)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Thanks, I've saved your update for %s.", site.Name)
	if res.HasUrgentIssues {
		msg += " I've flagged the urgent issues for immediate attention."
	}
	if res.HasSafetyConcerns {
		msg += " Safety concerns have been noted for follow-up."
	}
	return SaveUpdateResult{
		Success:           true,
		UpdateID:          u.ID,
		SiteName:          site.Name,
		Summary:           res.SummaryBrief,
		HasUrgentIssues:   res.HasUrgentIssues,
		HasSafetyConcerns: res.HasSafetyConcerns,
		ActionItems:       len(res.ActionItems),
		Message:           msg,
	}, nil
}

// startProcessing moves a fresh row out of pending. Rows it cannot move are
// picked up by ReprocessStale.
func (s *SiteUpdates) startProcessing(ctx context.Context, u *models.SiteProgressUpdate) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()
	seen, err := s.deps.Updates.TransitionProgressUpdate(wctx, u.TenantID, u.ID, store.Transition{
		From: models.StatusPending, To: models.StatusProcessing, Seen: u.UpdatedAt,
	})
	if err != nil {
		return err
	}
	u.ProcessingStatus, u.UpdatedAt = models.StatusProcessing, seen
	return nil
}

// process runs extraction for an update already in processing and writes
// either completed with every derived field or failed, in one update each.
func (s *SiteUpdates) process(ctx context.Context, u *models.SiteProgressUpdate, siteName string, keepWetWeather bool) (*extract.Result, error) {
	res, err := s.deps.Extractor.Extract(ctx, extractInput(u, siteName))
	if err != nil {
		s.markFailed(ctx, u, err)
		return nil, apperr.Upstream("I saved your update, but couldn't analyse it right now. The office will still see it.", err)
	}
	fields := completedFields(u, res, keepWetWeather)
	seen, err := s.deps.Updates.TransitionProgressUpdate(ctx, u.TenantID, u.ID, store.Transition{
		From: models.StatusProcessing, To: models.StatusCompleted, Seen: u.UpdatedAt, Fields: fields,
	})
	if err != nil {
		s.markFailed(ctx, u, err)
		return nil, err
	}
	u.ProcessingStatus, u.UpdatedAt = models.StatusCompleted, seen
	logger.Info(ctx, "progress update processed", "update_id", u.ID,
		"urgent", res.HasUrgentIssues, "safety", res.HasSafetyConcerns, "action_items", len(res.ActionItems))
	return res, nil
}

// markFailed uses a fresh deadline so a timed-out request still leaves the
// row in a terminal state.
func (s *SiteUpdates) markFailed(ctx context.Context, u *models.SiteProgressUpdate, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()
	reason := truncateUTF8(cause.Error(), maxErrorBytes)
	seen, err := s.deps.Updates.TransitionProgressUpdate(wctx, u.TenantID, u.ID, store.Transition{
		From: models.StatusProcessing, To: models.StatusFailed, Seen: u.UpdatedAt,
		Fields: map[string]any{"processing_error": &reason},
	})
	if err != nil {
		logger.Error(ctx, "could not mark progress update failed", "update_id", u.ID, "error", err)
		return
	}
	u.ProcessingStatus, u.UpdatedAt = models.StatusFailed, seen
	logger.Warn(ctx, "progress update extraction failed", "update_id", u.ID, "error", cause)
}

// Reprocess re-submits a failed update to extraction.
func (s *SiteUpdates) Reprocess(ctx context.Context, tenantID, id string) (*models.SiteProgressUpdate, error) {
	u, err := s.deps.Updates.ProgressUpdate(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if u.ProcessingStatus != models.StatusFailed {
		return nil, apperr.Validation("Only failed updates can be reprocessed.", fmt.Errorf("update %s is %s", id, u.ProcessingStatus))
	}
	return s.resubmit(ctx, u)
}

// ReprocessStale re-submits an update stuck in pending or processing whose
// last write is older than staleAfter.
func (s *SiteUpdates) ReprocessStale(ctx context.Context, tenantID, id string, staleAfter time.Duration) (*models.SiteProgressUpdate, error) {
	u, err := s.deps.Updates.ProgressUpdate(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if u.ProcessingStatus != models.StatusPending && u.ProcessingStatus != models.StatusProcessing {
		return nil, apperr.Validation("Only pending or processing updates can be swept.", fmt.Errorf("update %s is %s", id, u.ProcessingStatus))
	}
	if age := s.deps.Now().Sub(u.UpdatedAt); age < staleAfter {
		return nil, apperr.Validation("That update is still being processed.", fmt.Errorf("update %s last written %s ago", id, age))
	}
	return s.resubmit(ctx, u)
}

func (s *SiteUpdates) resubmit(ctx context.Context, u *models.SiteProgressUpdate) (*models.SiteProgressUpdate, error) {
	ctx = logger.WithTenant(ctx, u.TenantID)
	seen, err := s.deps.Updates.TransitionProgressUpdate(ctx, u.TenantID, u.ID, store.Transition{
		From: u.ProcessingStatus, To: models.StatusProcessing, Seen: u.UpdatedAt, Resubmit: true,
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "progress update resubmitted", "update_id", u.ID, "from", u.ProcessingStatus)
	u.ProcessingStatus, u.UpdatedAt = models.StatusProcessing, seen

	var siteName string
	if site, err := s.deps.Directory.Site(ctx, u.TenantID, u.SiteID); err == nil {
		siteName = site.Name
	}
	if _, err := s.process(ctx, u, siteName, u.IsWetWeatherClosure); err != nil {
		return nil, err
	}
	return s.deps.Updates.ProgressUpdate(ctx, u.TenantID, u.ID)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func extractInput(u *models.SiteProgressUpdate, siteName string) extract.Input {
	in := extract.Input{SiteName: siteName, Transcript: u.RawTranscript}
	for _, f := range []struct {
		label string
		value *string
	}{
		{"Main focus", u.MainFocus},
		{"Materials delivered", u.MaterialsDelivered},
		{"Work progress", u.WorkProgress},
		{"Issues", u.Issues},
		{"Delays", u.Delays},
		{"Staffing", u.Staffing},
		{"Site visitors", u.SiteVisitors},
		{"Site conditions", u.SiteConditions},
		{"Follow-up actions", u.FollowUpActions},
	} {
		if f.value != nil {
			in.Notes = append(in.Notes, extract.Note{Label: f.label, Value: *f.value})
		}
	}
	return in
}

// completedFields lists every column written with the completed status.
// Raw fields the caller already gave are kept; extracted values fill the
// gaps.
func completedFields(u *models.SiteProgressUpdate, res *extract.Result, keepWetWeather bool) map[string]any {
	brief, detailed := res.SummaryBrief, res.SummaryDetailed
	fields := map[string]any{
		"summary_brief":          &brief,
		"summary_detailed":       &detailed,
		"has_urgent_issues":      res.HasUrgentIssues,
		"has_safety_concerns":    res.HasSafetyConcerns,
		"has_delays":             res.HasDelays,
		"has_material_issues":    res.HasMaterialIssues,
		"extracted_action_items": datatypes.JSONSlice[models.ActionItem](res.ActionItems),
		"identified_blockers":    datatypes.JSONSlice[models.Blocker](res.Blockers),
		"flagged_concerns":       datatypes.JSONSlice[models.Concern](res.Concerns),
		"processing_error":       (*string)(nil),
	}
	if !keepWetWeather {
		fields["is_wet_weather_closure"] = res.IsWetWeatherClosure
	}
	fill := func(column string, have, got *string) {
		if have == nil && got != nil {
			fields[column] = got
		}
	}
	fill("main_focus", u.MainFocus, res.MainFocus)
	fill("materials_delivered", u.MaterialsDelivered, res.MaterialsDelivered)
	fill("work_progress", u.WorkProgress, res.WorkProgress)
	fill("issues", u.Issues, res.Issues)
	fill("delays", u.Delays, res.Delays)
	fill("staffing", u.Staffing, res.Staffing)
	fill("site_visitors", u.SiteVisitors, res.SiteVisitors)
	fill("site_conditions", u.SiteConditions, res.SiteConditions)
	fill("follow_up_actions", u.FollowUpActions, res.FollowUpActions)
	return fields
}
