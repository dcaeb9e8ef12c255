package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vapidispatch/models"
	"vapidispatch/pkg/apikey"
	"vapidispatch/pkg/config"
	"vapidispatch/pkg/extract"
	"vapidispatch/pkg/middleware"
	"vapidispatch/pkg/session"
	"vapidispatch/pkg/store"
	"vapidispatch/pkg/store/memstore"
	"vapidispatch/pkg/vapi"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type stubExtractor struct{}

func (stubExtractor) Extract(context.Context, extract.Input) (*extract.Result, error) {
	return &extract.Result{SummaryBrief: "Framing finished.", SummaryDetailed: "Framing finished on level two."}, nil
}

type testServer struct {
	router *gin.Engine
	data   *memstore.Store
	tenant models.Tenant
	site   models.Entity
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	data := memstore.New()
	tenant := data.AddTenant("BuiltByMK")
	user := data.AddUser(tenant.ID, "John Smith", "+61412345678")
	data.AddSkill(user.ID, "voice_notes", "Voice Notes", "")
	site := data.AddSite(tenant.ID, "Smith Street Renovation", "JSMB-001", "")

	sqlite, err := session.OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"), time.Hour)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	srv := newServer(cfg, data, session.WithRetry(sqlite, 1, 0), stubExtractor{})
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery())
	srv.setupRoutes(r)
	return &testServer{router: r, data: data, tenant: tenant, site: site}
}

func envelope(toolCallID, name, callID string, args map[string]any) *bytes.Buffer {
	return envelopeFrom("+61412345678", toolCallID, name, callID, args)
}

func envelopeFrom(phone, toolCallID, name, callID string, args map[string]any) *bytes.Buffer {
	body := map[string]any{
		"message": map[string]any{
			"toolCalls": []any{map[string]any{
				"id":       toolCallID,
				"function": map[string]any{"name": name, "arguments": args},
			}},
			"call": map[string]any{
				"id":       callID,
				"customer": map[string]any{"number": phone},
			},
		},
	}
	b, _ := json.Marshal(body)
	return bytes.NewBuffer(b)
}

type toolResponse struct {
	Results []struct {
		ToolCallID string         `json:"toolCallId"`
		Result     map[string]any `json:"result"`
	} `json:"results"`
}

func decodeTool(t *testing.T, body []byte) (string, map[string]any) {
	t.Helper()
	var resp toolResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, body)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected one result, got %s", body)
	}
	return resp.Results[0].ToolCallID, resp.Results[0].Result
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec := performRequest(ts.router, http.MethodGet, "/health", nil, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "healthy" || body["service"] != serviceName {
		t.Fatalf("body = %v", body)
	}
}

func TestToolMalformedEnvelope(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	tests := []string{
		`not json`,
		`{}`,
		`{"message":{"toolCalls":[]}}`,
		`{"message":{"toolCalls":[{"id":"tc-1","function":{"name":"save_note"}}]}}`,
	}
	for _, body := range tests {
		rec := performRequest(ts.router, http.MethodPost, "/api/v1/skills/voice-notes/save-note", bytes.NewBufferString(body), "", "application/json")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", body, rec.Code)
		}
		id, result := decodeTool(t, rec.Body.Bytes())
		if id != vapi.UnknownToolCallID || result["success"] != false || result["error"] != "malformed_request" {
			t.Errorf("%s: got id=%q result=%v", body, id, result)
		}
	}
}

func TestAuthenticateThenSaveNote(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	rec := performRequest(ts.router, http.MethodPost, "/api/v1/vapi/authenticate-by-phone",
		envelope("tc-1", "authenticate_caller", "call-abc", map[string]any{}), "", "application/json")
	id, result := decodeTool(t, rec.Body.Bytes())
	if id != "tc-1" || result["authorized"] != true || result["first_name"] != "John" {
		t.Fatalf("authenticate: id=%q result=%v", id, result)
	}

	rec = performRequest(ts.router, http.MethodPost, "/api/v1/skills/voice-notes/save-note",
		envelope("tc-2", "save_note", "call-abc", map[string]any{"note_text": "Order more plasterboard", "site_id": ts.site.ID}), "", "application/json")
	id, result = decodeTool(t, rec.Body.Bytes())
	if id != "tc-2" || result["success"] != true || result["site_name"] != "Smith Street Renovation" {
		t.Fatalf("save_note: id=%q result=%v", id, result)
	}

	notes, _ := ts.data.ListVoiceNotes(context.Background(), ts.tenant.ID, store.NoteFilter{})
	if len(notes) != 1 || notes[0].VapiCallID != "call-abc" {
		t.Fatalf("notes = %+v", notes)
	}

	logs := ts.data.Logs()
	if len(logs) != 2 {
		t.Fatalf("expected 2 interaction logs, got %d", len(logs))
	}
	for _, l := range logs {
		if l.Outcome != "success" || l.TenantID == nil || *l.TenantID != ts.tenant.ID {
			t.Errorf("log not attributed: %+v", l)
		}
	}
}

func TestToolWithoutSession(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec := performRequest(ts.router, http.MethodPost, "/api/v1/skills/voice-notes/save-note",
		envelope("tc-9", "save_note", "call-unknown", map[string]any{"note_text": "hello"}), "", "application/json")
	id, result := decodeTool(t, rec.Body.Bytes())
	if id != "tc-9" || result["success"] != false || result["error"] != "not_found" {
		t.Fatalf("id=%q result=%v", id, result)
	}
	if logs := ts.data.Logs(); len(logs) != 1 || logs[0].Outcome != "not_found" {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestWebhookSecretRequired(t *testing.T) {
	ts := newTestServer(t, config.Config{VapiWebhookSecret: "s3cret"})
	body := envelope("tc-1", "authenticate_caller", "call-1", map[string]any{})
	rec := performRequest(ts.router, http.MethodPost, "/api/v1/vapi/authenticate-by-phone", body, "", "application/json")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/vapi/authenticate-by-phone",
		envelope("tc-1", "authenticate_caller", "call-1", map[string]any{}))
	req.Header.Set(middleware.WebhookSecretHeader, "s3cret")
	rec = serve(ts.router, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with secret = %d", rec.Code)
	}
}

func TestTenantAPIWithAPIKey(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	raw, prefix, hash, err := apikey.Generate()
	if err != nil {
		t.Fatal(err)
	}
	ts.data.AddAPIKey(models.APIKey{TenantID: ts.tenant.ID, Prefix: prefix, SecretHash: hash})

	other := ts.data.AddTenant("Other")
	otherSite := ts.data.AddSite(other.ID, "Elsewhere", "", "")
	foreign := &models.SiteProgressUpdate{TenantID: other.ID, SiteID: otherSite.ID, RawTranscript: "x"}
	if err := ts.data.CreateProgressUpdate(context.Background(), foreign); err != nil {
		t.Fatal(err)
	}

	rec := performRequest(ts.router, http.MethodGet, "/api/v1/site-updates", nil, raw, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d body=%s", rec.Code, rec.Body.String())
	}
	var list struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Count != 0 {
		t.Fatalf("another tenant's update leaked: count=%d", list.Count)
	}

	rec = performRequest(ts.router, http.MethodGet, "/api/v1/site-updates/"+foreign.ID, nil, raw, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign update status = %d, want 404", rec.Code)
	}
	if ts.data.APIKey(prefix).LastUsedAt == nil {
		t.Fatal("successful use should be recorded on the key")
	}

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong secret", "sk_" + prefix + "_wrong"},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := performRequest(ts.router, http.MethodGet, "/api/v1/site-updates", nil, tt.token, "")
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func issueAPIKey(t *testing.T, ts *testServer, tenantID string) string {
	t.Helper()
	raw, prefix, hash, err := apikey.Generate()
	if err != nil {
		t.Fatal(err)
	}
	ts.data.AddAPIKey(models.APIKey{TenantID: tenantID, Prefix: prefix, SecretHash: hash})
	return raw
}

func TestCallReport(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	raw := issueAPIKey(t, ts, ts.tenant.ID)

	body := `{"vapi_call_id":"call-77","skill_key":"site_updates","caller_phone":"+61412345678",
		"called_phone":"+61290000000","session_type":"internal_user","duration_seconds":184,
		"raw_log_data":{"endedReason":"customer-ended-call"}}`
	rec := performRequest(ts.router, http.MethodPost, "/api/v1/vapi/log", strings.NewReader(body), raw, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
		LogID  string `json:"log_id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "logged" || resp.LogID == "" {
		t.Fatalf("unexpected response %s", rec.Body.String())
	}

	logs := ts.data.Logs()
	if len(logs) != 1 {
		t.Fatalf("expected one log row, got %d", len(logs))
	}
	l := logs[0]
	if l.ID != resp.LogID || l.TenantID == nil || *l.TenantID != ts.tenant.ID || l.UserID == nil {
		t.Fatalf("row not attributed: %+v", l)
	}
	if l.CallStatus != "completed" || l.DurationSeconds == nil || *l.DurationSeconds != 184 || l.SkillKey != "site_updates" {
		t.Fatalf("call fields not stored: %+v", l)
	}
	if !strings.Contains(string(l.RawLogData), "customer-ended-call") {
		t.Fatalf("raw log data = %s", l.RawLogData)
	}

	// a user of another tenant is never linked
	other := ts.data.AddTenant("Other")
	ts.data.AddUser(other.ID, "Jane Doe", "+61400000000")
	body = `{"vapi_call_id":"call-78","skill_key":"voice_notes","caller_phone":"+61400000000","session_type":"internal_user","status":"failed"}`
	rec = performRequest(ts.router, http.MethodPost, "/api/v1/vapi/log", strings.NewReader(body), raw, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if l := ts.data.Logs()[1]; l.UserID != nil || l.CallStatus != "failed" {
		t.Fatalf("foreign caller linked or status lost: %+v", l)
	}

	tests := []struct {
		name  string
		body  string
		token string
		want  int
	}{
		{"missing fields", `{"vapi_call_id":"call-79"}`, raw, http.StatusBadRequest},
		{"bad session type", `{"vapi_call_id":"c","skill_key":"s","caller_phone":"p","session_type":"robot"}`, raw, http.StatusBadRequest},
		{"negative duration", `{"vapi_call_id":"c","skill_key":"s","caller_phone":"p","session_type":"internal_user","duration_seconds":-1}`, raw, http.StatusBadRequest},
		{"not json", `nope`, raw, http.StatusBadRequest},
		{"no token", body, "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := performRequest(ts.router, http.MethodPost, "/api/v1/vapi/log", strings.NewReader(tt.body), tt.token, "application/json")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d body=%s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if n := len(ts.data.Logs()); n != 2 {
		t.Fatalf("rejected reports must not be stored, have %d rows", n)
	}
}

func TestListEntities(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	raw := issueAPIKey(t, ts, ts.tenant.ID)
	ts.data.AddEntity(ts.tenant.ID, "projects", "Fitout Stage 2", "FS-2", "")
	other := ts.data.AddTenant("Other")
	ts.data.AddSite(other.ID, "Secret Warehouse", "", "")

	var resp struct {
		Entities []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"entities"`
		EntityType string `json:"entity_type"`
		TenantID   string `json:"tenant_id"`
		TotalCount int    `json:"total_count"`
	}
	rec := performRequest(ts.router, http.MethodGet, "/api/v1/vapi/entities/sites", nil, raw, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.TotalCount != 1 || resp.Entities[0].ID != ts.site.ID || resp.EntityType != "sites" || resp.TenantID != ts.tenant.ID {
		t.Fatalf("unexpected sites %s", rec.Body.String())
	}

	rec = performRequest(ts.router, http.MethodGet, "/api/v1/vapi/entities/projects", nil, raw, "")
	resp.Entities = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.TotalCount != 1 || resp.Entities[0].Name != "Fitout Stage 2" {
		t.Fatalf("unexpected projects %s", rec.Body.String())
	}

	rec = performRequest(ts.router, http.MethodGet, "/api/v1/vapi/entities/sites", nil, "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTenantAPIWithSupabaseJWT(t *testing.T) {
	secret := "jwt-test-secret"
	ts := newTestServer(t, config.Config{SupabaseJWTSecret: secret})

	sign := func(exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":          "user-1",
			"exp":          exp.Unix(),
			"app_metadata": map[string]any{"tenant_id": ts.tenant.ID},
		})
		s, err := tok.SignedString([]byte(secret))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	rec := performRequest(ts.router, http.MethodGet, "/api/v1/voice-notes?limit=5", nil, sign(time.Now().Add(time.Hour)), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec = performRequest(ts.router, http.MethodGet, "/api/v1/voice-notes", nil, sign(time.Now().Add(-time.Hour)), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token status = %d, want 401", rec.Code)
	}
}

func TestReprocessRejectsCompleted(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	raw, prefix, hash, err := apikey.Generate()
	if err != nil {
		t.Fatal(err)
	}
	ts.data.AddAPIKey(models.APIKey{TenantID: ts.tenant.ID, Prefix: prefix, SecretHash: hash})

	performRequest(ts.router, http.MethodPost, "/api/v1/vapi/authenticate-by-phone",
		envelope("tc-1", "authenticate_caller", "call-1", map[string]any{}), "", "application/json")
	rec := performRequest(ts.router, http.MethodPost, "/api/v1/skills/site-updates/save-update",
		envelope("tc-2", "save_update", "call-1", map[string]any{"site_id": ts.site.ID, "raw_notes": "Framing done."}), "", "application/json")
	_, result := decodeTool(t, rec.Body.Bytes())
	updateID, _ := result["update_id"].(string)
	if updateID == "" {
		t.Fatalf("save_update result = %v", result)
	}

	rec = performRequest(ts.router, http.MethodPost, "/api/v1/site-updates/"+updateID+"/reprocess", nil, raw, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reprocess completed status = %d, want 400", rec.Code)
	}
}

func TestSiteReport(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	raw, prefix, hash, err := apikey.Generate()
	if err != nil {
		t.Fatal(err)
	}
	ts.data.AddAPIKey(models.APIKey{TenantID: ts.tenant.ID, Prefix: prefix, SecretHash: hash})

	performRequest(ts.router, http.MethodPost, "/api/v1/vapi/authenticate-by-phone",
		envelope("tc-1", "authenticate_caller", "call-1", map[string]any{}), "", "application/json")
	for i, day := range []string{"2026-03-02", "2026-03-03", "2026-04-01"} {
		rec := performRequest(ts.router, http.MethodPost, "/api/v1/skills/site-updates/save-update",
			envelope("tc-u", "save_update", "call-1", map[string]any{
				"site_id": ts.site.ID, "raw_notes": "Rained out.", "update_date": day, "is_wet_weather_closure": i < 2,
			}), "", "application/json")
		if _, result := decodeTool(t, rec.Body.Bytes()); result["success"] != true {
			t.Fatalf("save_update %s: %v", day, result)
		}
	}

	rec := performRequest(ts.router, http.MethodGet, "/api/v1/reports/sites?month=2026-03", nil, raw, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var report struct {
		Sites []store.SiteSummary `json:"sites"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &report)
	if len(report.Sites) != 1 || report.Sites[0].Updates != 2 || report.Sites[0].WetDays != 2 {
		t.Fatalf("report = %+v", report.Sites)
	}

	rec = performRequest(ts.router, http.MethodGet, "/api/v1/reports/sites?month=march", nil, raw, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad month status = %d, want 400", rec.Code)
	}
}

func TestDebugSessionOnlyInDevelopment(t *testing.T) {
	prod := newTestServer(t, config.Config{Environment: "production"})
	if rec := performRequest(prod.router, http.MethodGet, "/debug/session/call-1", nil, "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("production debug route status = %d", rec.Code)
	}

	dev := newTestServer(t, config.Config{Environment: "development"})
	performRequest(dev.router, http.MethodPost, "/api/v1/vapi/authenticate-by-phone",
		envelope("tc-1", "authenticate_caller", "call-1", map[string]any{}), "", "application/json")
	rec := performRequest(dev.router, http.MethodGet, "/debug/session/call-1", nil, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("development debug route status = %d", rec.Code)
	}
}

func TestToolCatalogMatchesRegistry(t *testing.T) {
	cat, err := vapi.LoadCatalog("tools.yaml")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	srv := newServer(config.Config{}, memstore.New(), session.WithRetry(nil, 1, 0), stubExtractor{})
	seen := 0
	for _, ct := range cat.Tools {
		tool, ok := srv.registry.Tool(ct.Name)
		if !ok {
			t.Errorf("catalog tool %s is not served", ct.Name)
			continue
		}
		if tool.Path != ct.Path {
			t.Errorf("%s: catalog path %s, served on %s", ct.Name, ct.Path, tool.Path)
		}
		seen++
	}
	total := 0
	for _, sk := range srv.registry.Skills() {
		total += len(sk.Tools)
	}
	if seen != total {
		t.Errorf("catalog lists %d of %d served tools", seen, total)
	}
}
