package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vapidispatch/models"
	"vapidispatch/pkg/apperr"
	"vapidispatch/pkg/config"
	"vapidispatch/pkg/logger"
	"vapidispatch/pkg/middleware"
	"vapidispatch/pkg/session"
	"vapidispatch/pkg/skills"
	"vapidispatch/pkg/store"
	"vapidispatch/pkg/vapi"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

const (
	serviceName  = "vapi-skills-dispatcher"
	maxBodyBytes = 1 << 20
)

// backend is everything the HTTP layer needs from persistence. It is
// satisfied by store.Repository and by the in-memory store used in tests.
type backend interface {
	skills.Directory
	skills.NoteStore
	skills.ProgressStore
	ActiveEntities(ctx context.Context, tenantID, entityType string) ([]models.Entity, error)
	ListProgressUpdates(ctx context.Context, tenantID string, f store.UpdateFilter) ([]models.SiteProgressUpdate, error)
	SiteSummaries(ctx context.Context, tenantID string, from, to time.Time) ([]store.SiteSummary, error)
	LogInteraction(ctx context.Context, l *models.VapiLog) error
	APIKeyByPrefix(ctx context.Context, prefix string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, tenantID, id string) error
}

type server struct {
	cfg      config.Config
	data     backend
	sessions session.Store
	registry *skills.Registry
	updates  *skills.SiteUpdates
	now      func() time.Time
}

func newServer(cfg config.Config, data backend, sessions session.Store, ext skills.Extractor) *server {
	deps := skills.Deps{
		Directory:    data,
		Notes:        data,
		Updates:      data,
		Sessions:     sessions,
		Extractor:    ext,
		DefaultPhone: cfg.TestDefaultPhone,
	}
	return &server{
		cfg:      cfg,
		data:     data,
		sessions: sessions,
		registry: skills.NewRegistry(deps),
		updates:  skills.NewSiteUpdates(deps),
		now:      time.Now,
	}
}

func (s *server) setupRoutes(r *gin.Engine) {
	r.GET("/", s.rootHandler)
	r.GET("/health", healthHandler)
	r.GET("/api/v1/skills/list", s.listSkillsHandler)

	hooks := r.Group("")
	hooks.Use(middleware.WebhookSecret(s.cfg.VapiWebhookSecret))
	for _, sk := range s.registry.Skills() {
		for _, t := range sk.Tools {
			hooks.POST(t.Path, s.toolHandler(t))
		}
	}

	api := r.Group("/api/v1")
	api.Use(s.tenantAuthMiddleware())
	api.GET("/voice-notes", s.listVoiceNotesHandler)
	api.GET("/site-updates", s.listSiteUpdatesHandler)
	api.GET("/site-updates/:id", s.getSiteUpdateHandler)
	api.POST("/site-updates/:id/reprocess", s.reprocessHandler)
	api.GET("/reports/sites", s.siteReportHandler)
	api.POST("/vapi/log", s.callLogHandler)
	api.GET("/vapi/entities/:entity_type", s.listEntitiesHandler)

	if s.cfg.IsDevelopment() {
		r.GET("/debug/session/:call_id", s.debugSessionHandler)
	}
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
}

func (s *server) rootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     serviceName,
		"environment": s.cfg.Environment,
		"webhook_url": s.cfg.WebhookBaseURL(),
		"skills":      len(s.registry.Skills()),
	})
}

func (s *server) listSkillsHandler(c *gin.Context) {
	type toolInfo struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}
	type skillInfo struct {
		Key         string     `json:"skill_key"`
		Name        string     `json:"name"`
		Description string     `json:"description"`
		Tools       []toolInfo `json:"tools"`
	}
	var out []skillInfo
	for _, sk := range s.registry.Skills() {
		info := skillInfo{Key: sk.Key, Name: sk.Name, Description: sk.Description}
		for _, t := range sk.Tools {
			info.Tools = append(info.Tools, toolInfo{Name: t.Name, Path: t.Path})
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, gin.H{"skills": out})
}

// toolHandler adapts one skill tool to the VAPI webhook envelope. VAPI
// expects HTTP 200 with a results envelope even for failures.
func (s *server) toolHandler(t skills.Tool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			c.JSON(http.StatusOK, vapi.Failure(vapi.UnknownToolCallID, apperr.Malformed("could not read request body", err)))
			return
		}
		in, err := vapi.Decode(body)
		if err != nil {
			logger.Warn(ctx, "malformed tool call", "path", t.Path, "error", err)
			c.JSON(http.StatusOK, vapi.Failure(vapi.UnknownToolCallID, err))
			return
		}
		if in.ToolCall.Name != t.Name {
			logger.Debug(ctx, "tool name differs from route", "route_tool", t.Name, "function", in.ToolCall.Name)
		}

		req := skills.Request{
			ToolCallID:   in.ToolCall.ID,
			CallID:       in.SessionID(),
			CallerNumber: in.Call.CustomerNumber,
			Transcript:   in.Call.Transcript(),
			Args:         in.ToolCall.Arguments,
		}
		ctx = logger.WithCallID(ctx, req.CallID)
		if s.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
		}

		result, err := t.Handler(ctx, req)
		s.logInteraction(ctx, t.Name, req, result, err)
		if err != nil {
			kind := apperr.KindOf(err)
			if kind == apperr.KindUpstreamFailure {
				logger.Error(ctx, "tool failed", "tool", t.Name, "kind", kind, "error", err)
			} else {
				logger.Info(ctx, "tool rejected", "tool", t.Name, "kind", kind, "error", err)
			}
			c.JSON(http.StatusOK, vapi.Failure(req.ToolCallID, err))
			return
		}
		c.JSON(http.StatusOK, vapi.Success(req.ToolCallID, result))
	}
}

// logInteraction writes the audit row. Failures are logged and ignored.
func (s *server) logInteraction(ctx context.Context, tool string, req skills.Request, result any, callErr error) {
	entry := &models.VapiLog{
		VapiCallID:      req.CallID,
		ToolCallID:      req.ToolCallID,
		InteractionType: tool,
		CallerPhone:     req.CallerNumber,
		Outcome:         "success",
	}
	if callErr != nil {
		entry.Outcome = string(apperr.KindOf(callErr))
	}
	if ar, ok := result.(skills.AuthResult); ok {
		entry.TenantID, entry.UserID = &ar.TenantID, &ar.UserID
	} else if callErr == nil {
		// every other tool resolved the session already
		if sc, err := s.sessions.Get(ctx, req.CallID); err == nil {
			entry.TenantID, entry.UserID = &sc.TenantID, &sc.UserID
		}
	}
	raw, err := json.Marshal(gin.H{"arguments": req.Args, "result": result})
	if err == nil {
		entry.RawLogData = datatypes.JSON(raw)
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.data.LogInteraction(wctx, entry); err != nil {
		logger.Warn(ctx, "could not write interaction log", "tool", tool, "error", err)
	}
}

func (s *server) listVoiceNotesHandler(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	notes, err := s.data.ListVoiceNotes(c.Request.Context(), tenantID, store.NoteFilter{
		NoteType: c.Query("note_type"),
		SiteID:   c.Query("site_id"),
		Limit:    queryInt(c, "limit"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voice_notes": notes, "count": len(notes)})
}

func (s *server) listSiteUpdatesHandler(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	f := store.UpdateFilter{
		SiteID:     c.Query("site_id"),
		Status:     models.ProcessingStatus(c.Query("status")),
		UrgentOnly: queryBool(c, "urgent"),
		SafetyOnly: queryBool(c, "safety"),
		Limit:      queryInt(c, "limit"),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(c, apperr.Validation("unknown processing status", nil))
		return
	}
	rows, err := s.data.ListProgressUpdates(c.Request.Context(), tenantID, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"site_updates": rows, "count": len(rows)})
}

func (s *server) getSiteUpdateHandler(c *gin.Context) {
	u, err := s.data.ProgressUpdate(c.Request.Context(), c.GetString("tenant_id"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *server) reprocessHandler(c *gin.Context) {
	ctx := logger.WithTenant(c.Request.Context(), c.GetString("tenant_id"))
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	u, err := s.updates.Reprocess(ctx, c.GetString("tenant_id"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// siteReportHandler summarises a month of updates per site. month defaults
// to the current one.
func (s *server) siteReportHandler(c *gin.Context) {
	month := c.DefaultQuery("month", s.now().UTC().Format("2006-01"))
	from, to, err := store.MonthRange(month)
	if err != nil {
		writeError(c, err)
		return
	}
	rows, err := s.data.SiteSummaries(c.Request.Context(), c.GetString("tenant_id"), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"month": month, "sites": rows})
}

// callLogRequest is the end-of-call report the tenant backend posts once a
// call has ended.
type callLogRequest struct {
	VapiCallID      string         `json:"vapi_call_id" binding:"required"`
	SkillKey        string         `json:"skill_key" binding:"required"`
	CallerPhone     string         `json:"caller_phone" binding:"required"`
	CalledPhone     string         `json:"called_phone"`
	SessionType     string         `json:"session_type" binding:"required,oneof=internal_user external_customer"`
	Status          string         `json:"status"`
	DurationSeconds *int           `json:"duration_seconds" binding:"omitempty,min=0"`
	RawLogData      map[string]any `json:"raw_log_data"`
}

func (s *server) callLogHandler(c *gin.Context) {
	var req callLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Malformed("vapi_call_id, skill_key, caller_phone and session_type are required", err))
		return
	}
	tenantID := c.GetString("tenant_id")
	ctx := logger.WithCallID(logger.WithTenant(c.Request.Context(), tenantID), req.VapiCallID)
	if req.Status == "" {
		req.Status = "completed"
	}
	entry := &models.VapiLog{
		VapiCallID:      req.VapiCallID,
		InteractionType: "call_report",
		TenantID:        &tenantID,
		CallerPhone:     strings.TrimSpace(req.CallerPhone),
		SkillKey:        req.SkillKey,
		CalledPhone:     req.CalledPhone,
		SessionType:     req.SessionType,
		CallStatus:      req.Status,
		DurationSeconds: req.DurationSeconds,
		Outcome:         req.Status,
	}
	if req.SessionType == "internal_user" {
		// only a user of this tenant is linked
		if u, err := s.data.UserByPhone(ctx, entry.CallerPhone); err == nil && u.TenantID == tenantID {
			entry.UserID = &u.ID
		}
	}
	if req.RawLogData != nil {
		raw, err := json.Marshal(req.RawLogData)
		if err != nil {
			writeError(c, apperr.Malformed("raw_log_data must be a JSON object", err))
			return
		}
		entry.RawLogData = datatypes.JSON(raw)
	}
	if err := s.data.LogInteraction(ctx, entry); err != nil {
		writeError(c, apperr.Upstream("Could not store the call log.", err))
		return
	}
	logger.Info(ctx, "call report stored", "log_id", entry.ID, "status", entry.CallStatus)
	c.JSON(http.StatusOK, gin.H{"status": "logged", "log_id": entry.ID})
}

func (s *server) listEntitiesHandler(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	entityType := c.Param("entity_type")
	rows, err := s.data.ActiveEntities(c.Request.Context(), tenantID, entityType)
	if err != nil {
		writeError(c, err)
		return
	}
	entities := make([]skills.SiteInfo, len(rows))
	for i, e := range rows {
		entities[i] = skills.SiteInfo{ID: e.ID, Name: e.Name, Identifier: e.Identifier, Address: e.Address}
	}
	c.JSON(http.StatusOK, gin.H{
		"entities":    entities,
		"entity_type": entityType,
		"tenant_id":   tenantID,
		"total_count": len(entities),
	})
}

func (s *server) debugSessionHandler(c *gin.Context) {
	sc, err := s.sessions.Get(c.Request.Context(), c.Param("call_id"))
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, sc)
}

// writeError maps an error kind to an HTTP status for the tenant API.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindMalformedRequest, apperr.KindValidationFailed:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindUnauthorized:
		status = http.StatusUnauthorized
	case apperr.KindUpstreamFailure:
		status = http.StatusBadGateway
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": string(apperr.KindOf(err)), "message": apperr.SafeMessage(err)})
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

func queryBool(c *gin.Context, key string) bool {
	b, _ := strconv.ParseBool(c.Query(key))
	return b
}
