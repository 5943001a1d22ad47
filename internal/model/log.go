package model

import "time"

// DetectionLog is the append-only audit record written once per executed
// action, success or failure.
type DetectionLog struct {
	ID               int64             `json:"id,omitempty"`
	UserID           string            `json:"user_id"`
	SessionID        string            `json:"session_id"`
	IPAddress        string            `json:"ip_address"`
	UserAgent        string            `json:"user_agent,omitempty"`
	Action           string            `json:"action"`
	RiskLevel        RiskLevel         `json:"risk_level"`
	RiskScore        float64           `json:"risk_score"`
	MatchedRules     map[string]any    `json:"matched_rules,omitempty"`
	DetectionDetails map[string]any    `json:"detection_details,omitempty"`
	ActionTaken      string            `json:"action_taken,omitempty"`
	ActionDetails    map[string]any    `json:"action_details,omitempty"`
	RequestPath      string            `json:"request_path,omitempty"`
	RequestMethod    string            `json:"request_method,omitempty"`
	RequestHeaders   map[string]string `json:"request_headers,omitempty"`
	CountryCode      string            `json:"country_code,omitempty"`
	IsProxy          bool              `json:"is_proxy"`
	IsBot            bool              `json:"is_bot"`
	ResponseTimeMs   int               `json:"response_time_ms,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}
