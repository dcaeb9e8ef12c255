package memstore

import (
	"fmt"

	"vapidispatch/models"

	"gorm.io/datatypes"
)

func apply(u *models.SiteProgressUpdate, column string, v any) error {
	text := func(dst **string) error {
		switch val := v.(type) {
		case nil:
			*dst = nil
		case *string:
			*dst = val
		case string:
			*dst = &val
		default:
			return fmt.Errorf("column %s: unexpected %T", column, v)
		}
		return nil
	}
	flag := func(dst *bool) error {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("column %s: unexpected %T", column, v)
		}
		*dst = b
		return nil
	}
	switch column {
	case "main_focus":
		return text(&u.MainFocus)
	case "materials_delivered":
		return text(&u.MaterialsDelivered)
	case "work_progress":
		return text(&u.WorkProgress)
	case "issues":
		return text(&u.Issues)
	case "delays":
		return text(&u.Delays)
	case "staffing":
		return text(&u.Staffing)
	case "site_visitors":
		return text(&u.SiteVisitors)
	case "site_conditions":
		return text(&u.SiteConditions)
	case "follow_up_actions":
		return text(&u.FollowUpActions)
	case "summary_brief":
		return text(&u.SummaryBrief)
	case "summary_detailed":
		return text(&u.SummaryDetailed)
	case "processing_error":
		return text(&u.ProcessingError)
	case "is_wet_weather_closure":
		return flag(&u.IsWetWeatherClosure)
	case "has_urgent_issues":
		return flag(&u.HasUrgentIssues)
	case "has_safety_concerns":
		return flag(&u.HasSafetyConcerns)
	case "has_delays":
		return flag(&u.HasDelays)
	case "has_material_issues":
		return flag(&u.HasMaterialIssues)
	case "extracted_action_items":
		val, ok := v.(datatypes.JSONSlice[models.ActionItem])
		if !ok {
			return fmt.Errorf("column %s: unexpected %T", column, v)
		}
		u.ExtractedActionItems = val
	case "identified_blockers":
		val, ok := v.(datatypes.JSONSlice[models.Blocker])
		if !ok {
			return fmt.Errorf("column %s: unexpected %T", column, v)
		}
		u.IdentifiedBlockers = val
	case "flagged_concerns":
		val, ok := v.(datatypes.JSONSlice[models.Concern])
		if !ok {
			return fmt.Errorf("column %s: unexpected %T", column, v)
		}
		u.FlaggedConcerns = val
	default:
		return fmt.Errorf("unknown column %s", column)
	}
	return nil
}
