package model

import "time"

// Rule is an operator-authored override. Condition is an opaque boolean
// expression evaluated over the fixed variable schema; a terminal rule stops
// further evaluation once matched.
type Rule struct {
	ID          int64            `json:"id,omitempty"`
	Name        string           `json:"name"`
	Condition   string           `json:"condition"`
	Level       RiskLevel        `json:"level"`
	Action      ActionDescriptor `json:"action"`
	Priority    int              `json:"priority"`
	Terminal    bool             `json:"terminal"`
	Enabled     bool             `json:"enabled"`
	Description string           `json:"description,omitempty"`
	Version     int              `json:"version"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
