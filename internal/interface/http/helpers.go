package httpapi

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	appAlert "smartstock-alerts/internal/application/alert"
	alertDomain "smartstock-alerts/internal/domain/alert"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type createAlertRequest struct {
	Email          string          `json:"email"`
	Symbol         string          `json:"symbol"`
	AlertType      string          `json:"alert_type"`
	ConditionValue json.RawMessage `json:"condition_value"`
}

// conditionText 接受 JSON 數字或字串，保留原始文字以免 float 失真。
func conditionText(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return ""
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return text
		}
		return s
	}
	return text
}

type alertResponse struct {
	ID                 string  `json:"id"`
	Email              string  `json:"email"`
	Symbol             string  `json:"symbol"`
	AlertType          string  `json:"alert_type"`
	ConditionValue     string  `json:"condition_value"`
	Active             bool    `json:"active"`
	CreatedAt          string  `json:"created_at"`
	DeactivatedAt      *string `json:"deactivated_at,omitempty"`
	DeactivationReason string  `json:"deactivation_reason,omitempty"`
}

func toAlertResponse(a alertDomain.Alert) alertResponse {
	resp := alertResponse{
		ID:                 a.ID,
		Email:              a.Email,
		Symbol:             a.Symbol,
		AlertType:          string(a.Kind),
		ConditionValue:     a.ConditionValue.String(),
		Active:             a.Active,
		CreatedAt:          a.CreatedAt.UTC().Format(time.RFC3339),
		DeactivationReason: string(a.DeactivationReason),
	}
	if a.DeactivatedAt != nil {
		t := a.DeactivatedAt.UTC().Format(time.RFC3339)
		resp.DeactivatedAt = &t
	}
	return resp
}

type outcomeResponse struct {
	PassID    string `json:"pass_id"`
	AlertID   string `json:"alert_id"`
	Symbol    string `json:"symbol"`
	Status    string `json:"status"`
	Fired     bool   `json:"fired"`
	Notified  bool   `json:"notified"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

func toOutcomeResponses(outcomes []alertDomain.Outcome) []outcomeResponse {
	out := make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, outcomeResponse{
			PassID:    o.PassID,
			AlertID:   o.AlertID,
			Symbol:    o.Symbol,
			Status:    string(o.Status),
			Fired:     o.Fired,
			Notified:  o.Notified,
			Reason:    o.Reason,
			Timestamp: o.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return out
}

type passResponse struct {
	appAlert.PassReport
	DurationMS int64             `json:"duration_ms"`
	Outcomes   []outcomeResponse `json:"outcomes,omitempty"`
}

func toPassResponse(r appAlert.PassReport, withOutcomes bool) passResponse {
	resp := passResponse{PassReport: r}
	if !r.FinishedAt.IsZero() {
		resp.DurationMS = r.FinishedAt.Sub(r.StartedAt).Milliseconds()
	}
	if withOutcomes {
		resp.Outcomes = toOutcomeResponses(r.Outcomes)
	}
	return resp
}

func parseIntDefault(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func parseBoolDefault(s string, def bool) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
