package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vapidispatch/models"
)

var requiredKeys = []string{
	"summary_brief", "summary_detailed",
	"has_urgent_issues", "has_safety_concerns", "has_delays", "has_material_issues",
	"extracted_action_items", "identified_blockers", "flagged_concerns",
}

var optionalKeys = []string{
	"is_wet_weather_closure",
	"main_focus", "materials_delivered", "work_progress", "issues", "delays",
	"staffing", "site_visitors", "site_conditions", "follow_up_actions",
}

type wireResult struct {
	SummaryBrief    string `json:"summary_brief"`
	SummaryDetailed string `json:"summary_detailed"`

	MainFocus          *string `json:"main_focus"`
	MaterialsDelivered *string `json:"materials_delivered"`
	WorkProgress       *string `json:"work_progress"`
	Issues             *string `json:"issues"`
	Delays             *string `json:"delays"`
	Staffing           *string `json:"staffing"`
	SiteVisitors       *string `json:"site_visitors"`
	SiteConditions     *string `json:"site_conditions"`
	FollowUpActions    *string `json:"follow_up_actions"`

	IsWetWeatherClosure bool `json:"is_wet_weather_closure"`
	HasUrgentIssues     bool `json:"has_urgent_issues"`
	HasSafetyConcerns   bool `json:"has_safety_concerns"`
	HasDelays           bool `json:"has_delays"`
	HasMaterialIssues   bool `json:"has_material_issues"`

	ActionItems []models.ActionItem `json:"extracted_action_items"`
	Blockers    []models.Blocker    `json:"identified_blockers"`
	Concerns    []models.Concern    `json:"flagged_concerns"`
}

// Parse reads model output. The first JSON object in content is used; every
// required key must be present with the right type and no unknown key may
// appear.
func Parse(content string) (*Result, error) {
	obj := extractJSONObject(content)
	if obj == "" {
		return nil, errors.New("no json object found")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, err
	}
	allowed := map[string]struct{}{}
	for _, k := range requiredKeys {
		allowed[k] = struct{}{}
		if _, ok := raw[k]; !ok {
			return nil, fmt.Errorf("missing key %q", k)
		}
	}
	for _, k := range optionalKeys {
		allowed[k] = struct{}{}
	}
	for k := range raw {
		if _, ok := allowed[k]; !ok {
			return nil, fmt.Errorf("unexpected key %q", k)
		}
	}

	var w wireResult
	if err := json.Unmarshal([]byte(obj), &w); err != nil {
		return nil, err
	}
	out := &Result{
		SummaryBrief:        strings.TrimSpace(w.SummaryBrief),
		SummaryDetailed:     strings.TrimSpace(w.SummaryDetailed),
		MainFocus:           clean(w.MainFocus),
		MaterialsDelivered:  clean(w.MaterialsDelivered),
		WorkProgress:        clean(w.WorkProgress),
		Issues:              clean(w.Issues),
		Delays:              clean(w.Delays),
		Staffing:            clean(w.Staffing),
		SiteVisitors:        clean(w.SiteVisitors),
		SiteConditions:      clean(w.SiteConditions),
		FollowUpActions:     clean(w.FollowUpActions),
		IsWetWeatherClosure: w.IsWetWeatherClosure,
		HasUrgentIssues:     w.HasUrgentIssues,
		HasSafetyConcerns:   w.HasSafetyConcerns,
		HasDelays:           w.HasDelays,
		HasMaterialIssues:   w.HasMaterialIssues,
		ActionItems:         []models.ActionItem{},
		Blockers:            []models.Blocker{},
		Concerns:            []models.Concern{},
	}
	if out.SummaryBrief == "" || out.SummaryDetailed == "" {
		return nil, errors.New("summaries must not be empty")
	}
	for i, a := range w.ActionItems {
		a.Action = strings.TrimSpace(a.Action)
		if a.Action == "" {
			return nil, fmt.Errorf("action item %d has no action", i)
		}
		p, err := level(a.Priority)
		if err != nil {
			return nil, fmt.Errorf("action item %d: %w", i, err)
		}
		a.Priority = p
		a.Deadline = clean(a.Deadline)
		a.AssignedTo = clean(a.AssignedTo)
		out.ActionItems = append(out.ActionItems, a)
	}
	for i, b := range w.Blockers {
		b.Description = strings.TrimSpace(b.Description)
		if b.Description == "" {
			return nil, fmt.Errorf("blocker %d has no description", i)
		}
		b.BlockerType = strings.TrimSpace(b.BlockerType)
		b.Impact = strings.TrimSpace(b.Impact)
		b.EstimatedResolution = clean(b.EstimatedResolution)
		out.Blockers = append(out.Blockers, b)
	}
	for i, c := range w.Concerns {
		c.Description = strings.TrimSpace(c.Description)
		if c.Description == "" {
			return nil, fmt.Errorf("concern %d has no description", i)
		}
		s, err := level(c.Severity)
		if err != nil {
			return nil, fmt.Errorf("concern %d: %w", i, err)
		}
		c.Severity = s
		c.ConcernType = strings.TrimSpace(c.ConcernType)
		out.Concerns = append(out.Concerns, c)
	}
	return out, nil
}

func level(v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "high", "medium", "low":
		return v, nil
	case "":
		return "medium", nil
	}
	return "", fmt.Errorf("level must be high, medium, or low, got %q", v)
}

func clean(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// extractJSONObject returns the first balanced {...} in input, so code fences
// or stray prose around the object are tolerated.
func extractJSONObject(input string) string {
	start := strings.Index(input, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(input); i++ {
		ch := input[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if ch == '\\' {
				escaped = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return input[start : i+1]
			}
		}
	}
	return ""
}
