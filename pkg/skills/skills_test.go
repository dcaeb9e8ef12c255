package skills

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"vapidispatch/models"
	"vapidispatch/pkg/apperr"
	"vapidispatch/pkg/extract"
	"vapidispatch/pkg/session"
	"vapidispatch/pkg/store"
	"vapidispatch/pkg/store/memstore"
)

type fakeExtractor struct {
	calls  int
	inputs []extract.Input
	result *extract.Result
	err    error
}

func (f *fakeExtractor) Extract(_ context.Context, in extract.Input) (*extract.Result, error) {
	f.calls++
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testEnv struct {
	store    *memstore.Store
	sessions session.Store
	ext      *fakeExtractor
	deps     Deps
	reg      *Registry
	updates  *SiteUpdates
	tenant   models.Tenant
	user     models.User
	smith    models.Entity
	harbour  models.Entity
	other    models.Tenant
	otherUsr models.User
	otherSit models.Entity
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := memstore.New()
	sqlite, err := session.OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"), time.Hour)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	e := &testEnv{store: ms, sessions: session.WithRetry(sqlite, 2, time.Millisecond)}
	e.tenant = ms.AddTenant("BuiltByMK")
	e.user = ms.AddUser(e.tenant.ID, "John Smith", "+61412345678")
	ms.AddSkill(e.user.ID, "voice_notes", "Voice Notes", "")
	ms.AddSkill(e.user.ID, "site_updates", "Site Progress Updates", "")
	e.smith = ms.AddSite(e.tenant.ID, "Smith Street Renovation", "JSMB-001", "12 Smith Street, Paddington")
	e.harbour = ms.AddSite(e.tenant.ID, "Harbour View Apartments", "HVA-002", "")

	e.other = ms.AddTenant("Other Builders")
	e.otherUsr = ms.AddUser(e.other.ID, "Jane Doe", "+61400000000")
	e.otherSit = ms.AddSite(e.other.ID, "Secret Warehouse", "", "")

	e.ext = &fakeExtractor{result: &extract.Result{
		SummaryBrief:      "Slab poured; scaffold tie loose.",
		SummaryDetailed:   "The slab was poured on schedule. A loose scaffold tie was found on the east side.",
		HasUrgentIssues:   true,
		HasSafetyConcerns: true,
		ActionItems:       []models.ActionItem{{Action: "Fix scaffold tie", Priority: "high"}},
		Concerns:          []models.Concern{{ConcernType: "safety", Severity: "high", Description: "Loose scaffold tie"}},
	}}
	deps := Deps{
		Directory: ms,
		Notes:     ms,
		Updates:   ms,
		Sessions:  e.sessions,
		Extractor: e.ext,
		Now:       func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) },
	}
	e.deps = deps
	e.reg = NewRegistry(deps)
	e.updates = NewSiteUpdates(deps)
	return e
}

func (e *testEnv) call(t *testing.T, tool string, req Request) (any, error) {
	t.Helper()
	tl, ok := e.reg.Tool(tool)
	if !ok {
		t.Fatalf("tool %s not registered", tool)
	}
	return tl.Handler(context.Background(), req)
}

func (e *testEnv) authenticate(t *testing.T, callID, phone string) AuthResult {
	t.Helper()
	out, err := e.call(t, "authenticate_caller", Request{CallID: callID, CallerNumber: phone, Args: map[string]any{}})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return out.(AuthResult)
}

func TestAuthenticateCaller(t *testing.T) {
	e := newEnv(t)

	res := e.authenticate(t, "call-1", "+61 412 345 678")
	if !res.Authorized || res.UserID != e.user.ID || res.TenantName != "BuiltByMK" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Greeting != "Hi John! I can help you with Voice Notes or Site Progress Updates. What would you like to do?" {
		t.Fatalf("greeting = %q", res.Greeting)
	}
	if len(res.Sites) != 2 || len(res.Skills) != 2 {
		t.Fatalf("expected 2 sites and 2 skills, got %d/%d", len(res.Sites), len(res.Skills))
	}
	sc, err := e.sessions.Get(context.Background(), "call-1")
	if err != nil || sc.UserID != e.user.ID || sc.TenantID != e.tenant.ID {
		t.Fatalf("session = %+v, %v", sc, err)
	}
}

func TestAuthenticatePhoneFallbacks(t *testing.T) {
	e := newEnv(t)
	out, err := e.call(t, "authenticate_caller", Request{CallID: "call-2", Args: map[string]any{"caller_phone": "+61412345678"}})
	if err != nil || out.(AuthResult).UserID != e.user.ID {
		t.Fatalf("argument phone should authenticate: %+v, %v", out, err)
	}

	_, err = e.call(t, "authenticate_caller", Request{CallID: "call-3", Args: map[string]any{}})
	if !errors.Is(err, apperr.ErrValidationFailed) {
		t.Fatalf("missing phone should be a validation failure, got %v", err)
	}
}

func TestAuthenticateUnknownPhone(t *testing.T) {
	e := newEnv(t)
	_, err := e.call(t, "authenticate_caller", Request{CallID: "call-1", CallerNumber: "+61499999999", Args: map[string]any{}})
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := e.sessions.Get(context.Background(), "call-1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("no session should be written, got %v", err)
	}
}

func TestGreeting(t *testing.T) {
	sk := func(names ...string) []models.Skill {
		var out []models.Skill
		for _, n := range names {
			out = append(out, models.Skill{Name: n})
		}
		return out
	}
	tests := []struct {
		skills []models.Skill
		want   string
	}{
		{nil, "Hi Ana! I don't have any skills configured for you yet. Please contact your administrator."},
		{sk("Voice Notes"), "Hi Ana! Ready for Voice Notes? Let's get started."},
		{sk("A", "B", "C"), "Hi Ana! I can help you with A, B, or C. What would you like to do?"},
	}
	for _, tt := range tests {
		if got := greeting("Ana Lee", tt.skills); got != tt.want {
			t.Errorf("greeting = %q, want %q", got, tt.want)
		}
	}
}

func TestSaveNoteUsesSessionContext(t *testing.T) {
	e := newEnv(t)
	e.authenticate(t, "call-1", "+61412345678")

	long := strings.Repeat("a", 120)
	out, err := e.call(t, "save_note", Request{CallID: "call-1", Args: map[string]any{"note_text": long}})
	if err != nil {
		t.Fatalf("save_note: %v", err)
	}
	res := out.(SaveNoteResult)
	if res.NoteType != models.NoteTypeGeneral || res.Message != "Perfect! I've saved your voice note (general)." {
		t.Fatalf("unexpected result %+v", res)
	}
	notes, _ := e.store.ListVoiceNotes(context.Background(), e.tenant.ID, store.NoteFilter{})
	if len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}
	n := notes[0]
	if n.UserID != e.user.ID || n.Priority != "medium" || n.VapiCallID != "call-1" {
		t.Fatalf("note not attributed to the session user: %+v", n)
	}
	if n.NoteSummary != strings.Repeat("a", 100)+"..." {
		t.Fatalf("summary = %q", n.NoteSummary)
	}
}

func TestSaveNoteForSite(t *testing.T) {
	e := newEnv(t)
	e.authenticate(t, "call-1", "+61412345678")

	out, err := e.call(t, "save_note", Request{CallID: "call-1", Args: map[string]any{
		"note_text": "Gate lock is broken", "site_id": e.smith.ID, "priority": "HIGH",
	}})
	if err != nil {
		t.Fatalf("save_note: %v", err)
	}
	res := out.(SaveNoteResult)
	if res.NoteType != models.NoteTypeSiteSpecific || res.Message != "Perfect! I've saved your voice note for Smith Street Renovation." {
		t.Fatalf("unexpected result %+v", res)
	}

	_, err = e.call(t, "save_note", Request{CallID: "call-1", Args: map[string]any{"note_text": "x", "site_id": e.otherSit.ID}})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("another tenant's site must not be usable, got %v", err)
	}
}

func TestSaveNoteFailures(t *testing.T) {
	e := newEnv(t)

	_, err := e.call(t, "save_note", Request{CallID: "call-404", Args: map[string]any{"note_text": "hello"}})
	if !errors.Is(err, apperr.ErrNotFound) || !strings.Contains(apperr.SafeMessage(err), "call session") {
		t.Fatalf("missing session should be a graceful not found, got %v", err)
	}

	e.authenticate(t, "call-1", "+61412345678")
	_, err = e.call(t, "save_note", Request{CallID: "call-1", Args: map[string]any{}})
	if !errors.Is(err, apperr.ErrValidationFailed) {
		t.Fatalf("missing note_text should be a validation failure, got %v", err)
	}
	_, err = e.call(t, "save_note", Request{CallID: "call-1", Args: map[string]any{"note_text": "x", "priority": "whenever"}})
	if !errors.Is(err, apperr.ErrValidationFailed) {
		t.Fatalf("bad priority should be a validation failure, got %v", err)
	}
}

func TestGetMyNotes(t *testing.T) {
	e := newEnv(t)
	e.authenticate(t, "call-1", "+61412345678")
	for _, args := range []map[string]any{
		{"note_text": "Order more nails"},
		{"note_text": "Crane booked", "site_id": e.harbour.ID},
		{"note_text": "Call the council"},
	} {
		if _, err := e.call(t, "save_note", Request{CallID: "call-1", Args: args}); err != nil {
			t.Fatal(err)
		}
	}
	out, err := e.call(t, "get_my_notes", Request{CallID: "call-1", Args: map[string]any{"limit": "5"}})
	if err != nil {
		t.Fatalf("get_my_notes: %v", err)
	}
	res := out.(NotesResult)
	if res.Count != 3 || len(res.GeneralNotes) != 2 || len(res.SiteSpecificNotes) != 1 {
		t.Fatalf("unexpected split %+v", res)
	}
	if res.SiteSpecificNotes[0].SiteName != "Harbour View Apartments" {
		t.Fatalf("site name = %q", res.SiteSpecificNotes[0].SiteName)
	}
}

func TestIdentifyContext(t *testing.T) {
	e := newEnv(t)
	e.authenticate(t, "call-1", "+61412345678")

	tests := []struct {
		input    string
		wantType string
		wantSite string
	}{
		{"note about the harbour view apartments site", models.NoteTypeSiteSpecific, e.harbour.ID},
		{"remind me to call the accountant", models.NoteTypeGeneral, ""},
		{"something about the office party", models.NoteTypeGeneral, ""},
	}
	for _, tt := range tests {
		out, err := e.call(t, "identify_context", Request{CallID: "call-1", Args: map[string]any{"user_input": tt.input}})
		if err != nil {
			t.Fatalf("identify_context(%q): %v", tt.input, err)
		}
		res := out.(ContextResult)
		if res.NoteType != tt.wantType || res.SiteID != tt.wantSite {
			t.Errorf("identify_context(%q) = %+v", tt.input, res)
		}
		if res.CompanyName != "BuiltByMK" {
			t.Errorf("company = %q", res.CompanyName)
		}
	}
}

func TestIdentifySite(t *testing.T) {
	e := newEnv(t)
	e.authenticate(t, "call-1", "+61412345678")

	out, err := e.call(t, "identify_site", Request{CallID: "call-1", Args: map[string]any{"site_description": "the smith street job"}})
	if err != nil {
		t.Fatalf("identify_site: %v", err)
	}
	if res := out.(IdentifySiteResult); !res.Matched || res.SiteID != e.smith.ID {
		t.Fatalf("unexpected match %+v", res)
	}

	out, err = e.call(t, "identify_site", Request{CallID: "call-1", Args: map[string]any{}})
	if err != nil {
		t.Fatalf("identify_site without description: %v", err)
	}
	if res := out.(IdentifySiteResult); res.Matched || len(res.Sites) != 2 {
		t.Fatalf("expected site list, got %+v", res)
	}

	_, err = e.call(t, "identify_site", Request{CallID: "call-1", Args: map[string]any{"site_description": "secret warehouse"}})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("another tenant's site must not match, got %v", err)
	}
	msg := apperr.SafeMessage(err)
	if !strings.Contains(msg, "Harbour View Apartments") || strings.Contains(msg, "Secret Warehouse") {
		t.Fatalf("disambiguation message = %q", msg)
	}
}

func TestSaveUpdateCompleted(t *testing.T) {
	e := newEnv(t)
	e.authenticate(t, "call-1", "+61412345678")

	out, err := e.call(t, "save_update", Request{
		CallID:     "call-1",
		Transcript: "Assistant: How did today go?\nUser: Slab poured, scaffold tie loose on the east side.\n",
		Args:       map[string]any{"site_id": e.smith.ID, "main_focus": "Slab pour"},
	})
	if err != nil {
		t.Fatalf("save_update: %v", err)
	}
	res := out.(SaveUpdateResult)
	if !res.HasUrgentIssues || !res.HasSafetyConcerns || !strings.Contains(res.Message, "flagged the urgent issues") {
		t.Fatalf("unexpected result %+v", res)
	}

	u, err := e.store.ProgressUpdate(context.Background(), e.tenant.ID, res.UpdateID)
	if err != nil {
		t.Fatal(err)
	}
	if u.ProcessingStatus != models.StatusCompleted {
		t.Fatalf("status = %s", u.ProcessingStatus)
	}
	if u.UserID != e.user.ID || u.SiteID != e.smith.ID || u.VapiCallID == nil || *u.VapiCallID != "call-1" {
		t.Fatalf("row not attributed correctly: %+v", u)
	}
	if u.SummaryBrief == nil || len(u.ExtractedActionItems) != 1 || len(u.FlaggedConcerns) != 1 {
		t.Fatalf("derived fields missing: %+v", u)
	}
	if u.MainFocus == nil || *u.MainFocus != "Slab pour" {
		t.Fatalf("caller-provided field lost: %v", u.MainFocus)
	}
	if time.Time(u.UpdateDate).Format("2006-01-02") != "2026-03-02" {
		t.Fatalf("update date = %v", time.Time(u.UpdateDate))
	}
	in := e.ext.inputs[0]
	if in.SiteName != "Smith Street Renovation" || !strings.Contains(in.Transcript, "User: Slab poured") || len(in.Notes) != 1 {
		t.Fatalf("unexpected extraction input %+v", in)
	}
}

func TestSaveUpdateExtractionFailure(t *testing.T) {
	e := newEnv(t)
	e.authenticate(t, "call-1", "+61412345678")
	e.ext.err = apperr.Upstream("bad model output", errors.New("no json object found"))

	_, err := e.call(t, "save_update", Request{CallID: "call-1", Args: map[string]any{"site_id": e.smith.ID, "raw_notes": "All good today."}})
	if !errors.Is(err, apperr.ErrUpstreamFailure) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if strings.Contains(apperr.SafeMessage(err), "json") {
		t.Fatalf("safe message leaks detail: %q", apperr.SafeMessage(err))
	}
	rows, _ := e.store.ListProgressUpdates(context.Background(), e.tenant.ID, store.UpdateFilter{})
	if len(rows) != 1 || rows[0].ProcessingStatus != models.StatusFailed || rows[0].ProcessingError == nil {
		t.Fatalf("row should be failed with a reason, got %+v", rows)
	}
	if rows[0].SummaryBrief != nil || rows[0].HasUrgentIssues || len(rows[0].ExtractedActionItems) != 0 {
		t.Fatalf("failed row must not carry derived fields: %+v", rows[0])
	}
	if rows[0].RawTranscript != "All good today." {
		t.Fatalf("raw notes should be kept, got %q", rows[0].RawTranscript)
	}

	e.ext.err = nil
	u, err := e.updates.Reprocess(context.Background(), e.tenant.ID, rows[0].ID)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if u.ProcessingStatus != models.StatusCompleted || u.ProcessingError != nil {
		t.Fatalf("reprocessed row = %+v", u)
	}
	if _, err := e.updates.Reprocess(context.Background(), e.tenant.ID, rows[0].ID); !errors.Is(err, apperr.ErrValidationFailed) {
		t.Fatalf("completed rows must not be reprocessed, got %v", err)
	}
	if _, err := e.updates.Reprocess(context.Background(), e.other.ID, rows[0].ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("other tenants must not see the row, got %v", err)
	}
}

func TestSaveUpdateFailureReasonStaysValidUTF8(t *testing.T) {
	e := newEnv(t)
	e.authenticate(t, "call-1", "+61412345678")
	// the second euro sign straddles the byte limit
	e.ext.err = errors.New(strings.Repeat("x", maxErrorBytes-1) + "€€€")

	if _, err := e.call(t, "save_update", Request{CallID: "call-1", Args: map[string]any{"site_id": e.smith.ID, "raw_notes": "x"}}); err == nil {
		t.Fatal("expected extraction failure")
	}
	rows, _ := e.store.ListProgressUpdates(context.Background(), e.tenant.ID, store.UpdateFilter{})
	if len(rows) != 1 || rows[0].ProcessingStatus != models.StatusFailed || rows[0].ProcessingError == nil {
		t.Fatalf("row should be failed with a reason, got %+v", rows)
	}
	reason := *rows[0].ProcessingError
	if !utf8.ValidString(reason) || len(reason) != maxErrorBytes-1 {
		t.Fatalf("reason cut badly: len=%d valid=%v", len(reason), utf8.ValidString(reason))
	}
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"ab€", 3, "ab"},
		{"ab€", 4, "ab"},
		{"ab€", 5, "ab€"},
		{"€", 0, ""},
	}
	for _, tt := range tests {
		if got := truncateUTF8(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateUTF8(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

// flakyUpdates fails the first pending -> processing move.
type flakyUpdates struct {
	ProgressStore
	tripped bool
}

func (f *flakyUpdates) TransitionProgressUpdate(ctx context.Context, tenantID, id string, t store.Transition) (time.Time, error) {
	if !f.tripped && t.From == models.StatusPending {
		f.tripped = true
		return time.Time{}, apperr.Upstream("I couldn't save that right now.", errors.New("connection reset"))
	}
	return f.ProgressStore.TransitionProgressUpdate(ctx, tenantID, id, t)
}

func TestStuckUpdatesAreSwept(t *testing.T) {
	e := newEnv(t)
	e.authenticate(t, "call-1", "+61412345678")
	ctx := context.Background()

	deps := e.deps
	deps.Updates = &flakyUpdates{ProgressStore: e.store}
	tl, _ := NewRegistry(deps).Tool("save_update")
	_, err := tl.Handler(ctx, Request{CallID: "call-1", Args: map[string]any{"site_id": e.smith.ID, "raw_notes": "Frames up."}})
	if !errors.Is(err, apperr.ErrUpstreamFailure) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	rows, _ := e.store.ListProgressUpdates(ctx, e.tenant.ID, store.UpdateFilter{Status: models.StatusPending})
	if len(rows) != 1 || e.ext.calls != 0 {
		t.Fatalf("expected one pending row and no extraction, got %d rows, %d calls", len(rows), e.ext.calls)
	}
	stuck := rows[0]

	if _, err := e.updates.Reprocess(ctx, e.tenant.ID, stuck.ID); !errors.Is(err, apperr.ErrValidationFailed) {
		t.Fatalf("Reprocess only takes failed rows, got %v", err)
	}
	age := e.deps.Now().Sub(stuck.UpdatedAt)
	if _, err := e.updates.ReprocessStale(ctx, e.tenant.ID, stuck.ID, age+time.Hour); !errors.Is(err, apperr.ErrValidationFailed) {
		t.Fatalf("recent rows must not be swept, got %v", err)
	}
	u, err := e.updates.ReprocessStale(ctx, e.tenant.ID, stuck.ID, time.Minute)
	if err != nil {
		t.Fatalf("ReprocessStale: %v", err)
	}
	if u.ProcessingStatus != models.StatusCompleted || u.SummaryBrief == nil {
		t.Fatalf("swept row = %+v", u)
	}
	if _, err := e.updates.ReprocessStale(ctx, e.tenant.ID, stuck.ID, time.Minute); !errors.Is(err, apperr.ErrValidationFailed) {
		t.Fatalf("completed rows must not be swept, got %v", err)
	}

	// a row abandoned mid-extraction
	p := &models.SiteProgressUpdate{TenantID: e.tenant.ID, SiteID: e.harbour.ID, UserID: e.user.ID, RawTranscript: "Crane on site."}
	if err := e.store.CreateProgressUpdate(ctx, p); err != nil {
		t.Fatal(err)
	}
	if _, err := e.store.TransitionProgressUpdate(ctx, e.tenant.ID, p.ID, store.Transition{From: models.StatusPending, To: models.StatusProcessing, Seen: p.UpdatedAt}); err != nil {
		t.Fatal(err)
	}
	u, err = e.updates.ReprocessStale(ctx, e.tenant.ID, p.ID, time.Minute)
	if err != nil || u.ProcessingStatus != models.StatusCompleted {
		t.Fatalf("processing row not recovered: %+v, %v", u, err)
	}
	if _, err := e.updates.ReprocessStale(ctx, e.other.ID, p.ID, time.Minute); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("other tenants must not see the row, got %v", err)
	}
}

func TestSaveUpdateValidation(t *testing.T) {
	e := newEnv(t)
	e.authenticate(t, "call-1", "+61412345678")

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"missing site", Request{CallID: "call-1", Args: map[string]any{"raw_notes": "x"}}, apperr.ErrValidationFailed},
		{"no content", Request{CallID: "call-1", Args: map[string]any{"site_id": e.smith.ID}}, apperr.ErrValidationFailed},
		{"bad date", Request{CallID: "call-1", Args: map[string]any{"site_id": e.smith.ID, "raw_notes": "x", "update_date": "yesterday"}}, apperr.ErrValidationFailed},
		{"foreign site", Request{CallID: "call-1", Args: map[string]any{"site_id": e.otherSit.ID, "raw_notes": "x"}}, apperr.ErrNotFound},
		{"no session", Request{CallID: "call-9", Args: map[string]any{"site_id": e.smith.ID, "raw_notes": "x"}}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.call(t, "save_update", tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
	if e.ext.calls != 0 {
		t.Fatalf("extraction should not run for rejected updates, ran %d times", e.ext.calls)
	}
	rows, _ := e.store.ListProgressUpdates(context.Background(), e.tenant.ID, store.UpdateFilter{})
	if len(rows) != 0 {
		t.Fatalf("rejected updates must not be stored, got %d rows", len(rows))
	}
}

func TestSaveUpdateDuplicatesAreKept(t *testing.T) {
	e := newEnv(t)
	e.authenticate(t, "call-1", "+61412345678")
	req := Request{CallID: "call-1", Args: map[string]any{"site_id": e.smith.ID, "raw_notes": "Same update"}}
	for i := 0; i < 2; i++ {
		if _, err := e.call(t, "save_update", req); err != nil {
			t.Fatal(err)
		}
	}
	rows, _ := e.store.ListProgressUpdates(context.Background(), e.tenant.ID, store.UpdateFilter{})
	if len(rows) != 2 || rows[0].ID == rows[1].ID {
		t.Fatalf("expected two distinct rows, got %+v", rows)
	}
}

func TestRegistryTools(t *testing.T) {
	e := newEnv(t)
	want := []string{"authenticate_caller", "identify_context", "save_note", "get_my_notes", "identify_site", "save_update"}
	for _, name := range want {
		tl, ok := e.reg.Tool(name)
		if !ok || tl.Path == "" || tl.Handler == nil {
			t.Errorf("tool %s not wired", name)
		}
	}
	if len(e.reg.Skills()) != 3 {
		t.Errorf("expected 3 skills, got %d", len(e.reg.Skills()))
	}
}
