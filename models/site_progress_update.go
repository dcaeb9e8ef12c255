package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProcessingStatus tracks extraction of a progress update.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next. Only
// pending -> processing -> completed|failed is allowed.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// ActionItem is one follow-up task pulled from an update.
type ActionItem struct {
	Action     string  `json:"action"`
	Priority   string  `json:"priority"`
	Deadline   *string `json:"deadline"`
	AssignedTo *string `json:"assigned_to"`
}

// Blocker is something stopping work on site.
type Blocker struct {
	BlockerType         string  `json:"blocker_type"`
	Description         string  `json:"description"`
	Impact              string  `json:"impact"`
	EstimatedResolution *string `json:"estimated_resolution"`
}

// Concern is a flagged safety, quality or schedule concern.
type Concern struct {
	ConcernType string `json:"concern_type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// SiteProgressUpdate is one daily update for a site.
type SiteProgressUpdate struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID   string         `gorm:"type:uuid;index;not null" json:"tenant_id"`
	Tenant     *Tenant        `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE;" json:"-"`
	SiteID     string         `gorm:"type:uuid;index;not null" json:"site_id"`
	Site       *Entity        `gorm:"foreignKey:SiteID;constraint:OnDelete:RESTRICT;" json:"-"`
	UserID     string         `gorm:"type:uuid;index;not null" json:"user_id"`
	User       *User          `gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT;" json:"-"`
	UpdateDate datatypes.Date `gorm:"index;not null" json:"update_date"`
	VapiCallID *string        `gorm:"size:128;index" json:"vapi_call_id"`

	MainFocus          *string `gorm:"type:text" json:"main_focus"`
	MaterialsDelivered *string `gorm:"type:text" json:"materials_delivered"`
	WorkProgress       *string `gorm:"type:text" json:"work_progress"`
	Issues             *string `gorm:"type:text" json:"issues"`
	Delays             *string `gorm:"type:text" json:"delays"`
	Staffing           *string `gorm:"type:text" json:"staffing"`
	SiteVisitors       *string `gorm:"type:text" json:"site_visitors"`
	SiteConditions     *string `gorm:"type:text" json:"site_conditions"`
	FollowUpActions    *string `gorm:"type:text" json:"follow_up_actions"`
	RawTranscript      string  `gorm:"type:text;not null" json:"raw_transcript"`

	IsWetWeatherClosure bool `gorm:"default:false;index" json:"is_wet_weather_closure"`
	HasUrgentIssues     bool `gorm:"default:false;index" json:"has_urgent_issues"`
	HasSafetyConcerns   bool `gorm:"default:false;index" json:"has_safety_concerns"`
	HasDelays           bool `gorm:"default:false" json:"has_delays"`
	HasMaterialIssues   bool `gorm:"default:false" json:"has_material_issues"`

	SummaryBrief         *string                         `gorm:"type:text" json:"summary_brief"`
	SummaryDetailed      *string                         `gorm:"type:text" json:"summary_detailed"`
	ExtractedActionItems datatypes.JSONSlice[ActionItem] `gorm:"type:jsonb" json:"extracted_action_items"`
	IdentifiedBlockers   datatypes.JSONSlice[Blocker]    `gorm:"type:jsonb" json:"identified_blockers"`
	FlaggedConcerns      datatypes.JSONSlice[Concern]    `gorm:"type:jsonb" json:"flagged_concerns"`

	ProcessingStatus ProcessingStatus `gorm:"size:16;not null;default:pending;index" json:"processing_status"`
	ProcessingError  *string          `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func (u *SiteProgressUpdate) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.ProcessingStatus == "" {
		u.ProcessingStatus = StatusPending
	}
	return nil
}
