package skills

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vapidispatch/pkg/apperr"
)

// bind decodes the flat argument map into a typed struct. Assistants send
// loosely typed values, so the flex types below accept either JSON strings
// or numbers and booleans.
func bind(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return apperr.Validation("Some of the details I received were not in the expected format.", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Validation("Some of the details I received were not in the expected format.", err)
	}
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string, got %s", b)
	}
	*s = flexString(n.String())
	return nil
}

func (s flexString) String() string { return string(s) }

func (s flexString) ptr() *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*n = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("expected number, got %s", b)
	}
	*n = flexInt(f)
	return nil
}

// flexBool accepts true/false or the strings "true", "yes", "false", "no".
type flexBool struct {
	Set   bool
	Value bool
}

func (v *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(string(b)), `"`))
	switch s {
	case "null", "":
		*v = flexBool{}
	case "true", "yes", "y", "1":
		*v = flexBool{Set: true, Value: true}
	case "false", "no", "n", "0":
		*v = flexBool{Set: true, Value: false}
	default:
		return fmt.Errorf("expected boolean, got %s", b)
	}
	return nil
}

type authenticateArgs struct {
	CallerPhone flexString `json:"caller_phone"`
}

type identifyContextArgs struct {
	UserInput flexString `json:"user_input"`
}

type saveNoteArgs struct {
	NoteText flexString `json:"note_text"`
	NoteType flexString `json:"note_type"`
	SiteID   flexString `json:"site_id"`
	Priority flexString `json:"priority"`
}

func (a *saveNoteArgs) validate() error {
	if a.NoteText == "" {
		return apperr.Validation("I didn't receive any note content to save. What would you like me to note down?", nil)
	}
	p, ok := normalizePriority(a.Priority.String())
	if !ok {
		return apperr.Validation("Priority should be high, medium, or low.", fmt.Errorf("priority %q", a.Priority))
	}
	a.Priority = flexString(p)
	return nil
}

type getMyNotesArgs struct {
	NoteType flexString `json:"note_type"`
	Limit    flexInt    `json:"limit"`
}

type identifySiteArgs struct {
	SiteDescription flexString `json:"site_description"`
}

type saveUpdateArgs struct {
	SiteID     flexString `json:"site_id"`
	UpdateDate flexString `json:"update_date"`
	RawNotes   flexString `json:"raw_notes"`

	MainFocus          flexString `json:"main_focus"`
	MaterialsDelivered flexString `json:"materials_delivered"`
	WorkProgress       flexString `json:"work_progress"`
	Issues             flexString `json:"issues"`
	Delays             flexString `json:"delays"`
	Staffing           flexString `json:"staffing"`
	SiteVisitors       flexString `json:"site_visitors"`
	SiteConditions     flexString `json:"site_conditions"`
	FollowUpActions    flexString `json:"follow_up_actions"`

	IsWetWeatherClosure flexBool `json:"is_wet_weather_closure"`

	date time.Time
}

func (a *saveUpdateArgs) validate(now time.Time) error {
	if a.SiteID == "" {
		return apperr.Validation("I need to know which site this update is for.", nil)
	}
	a.date = now
	if a.UpdateDate != "" {
		d, err := time.Parse("2006-01-02", a.UpdateDate.String())
		if err != nil {
			return apperr.Validation("I couldn't understand the date of that update.", err)
		}
		a.date = d
	}
	return nil
}

func normalizePriority(p string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "":
		return "medium", true
	case "high", "urgent":
		return "high", true
	case "medium", "normal":
		return "medium", true
	case "low":
		return "low", true
	}
	return "", false
}
