package model

import (
	"fmt"
	"time"
)

// Identifier types a profile can be keyed on.
const (
	IdentifierUser    = "user"
	IdentifierIP      = "ip"
	IdentifierDevice  = "device"
	IdentifierSession = "session"
)

func ValidIdentifierType(t string) bool {
	switch t {
	case IdentifierUser, IdentifierIP, IdentifierDevice, IdentifierSession:
		return true
	}
	return false
}

// Profile is the durable rolling reputation record for one identifier.
// Counters only ever increase; the level is recomputed from them in full on
// every update rather than adjusted incrementally.
type Profile struct {
	ID               int64          `json:"id,omitempty"`
	IdentifierType   string         `json:"identifier_type"`
	IdentifierValue  string         `json:"identifier_value"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	RiskScore        float64        `json:"risk_score"`
	TotalDetections  int            `json:"total_detections"`
	HighRiskCount    int            `json:"high_risk_detections"`
	MediumRiskCount  int            `json:"medium_risk_detections"`
	LowRiskCount     int            `json:"low_risk_detections"`
	BlockedActions   int            `json:"blocked_actions"`
	ThrottledActions int            `json:"throttled_actions"`
	RiskFactors      map[string]any `json:"risk_factors,omitempty"`
	BehaviorPatterns map[string]any `json:"behavior_patterns,omitempty"`
	LastHighRiskAt   *time.Time     `json:"last_high_risk_at,omitempty"`
	LastDetectionAt  *time.Time     `json:"last_detection_at,omitempty"`
	Whitelisted      bool           `json:"whitelisted"`
	Blacklisted      bool           `json:"blacklisted"`
	Notes            string         `json:"notes,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Version          int            `json:"version"`
}

func NewProfile(identifierType, identifierValue string) *Profile {
	now := time.Now().UTC()
	return &Profile{
		IdentifierType:  identifierType,
		IdentifierValue: identifierValue,
		RiskLevel:       LevelLow,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
}

func (p *Profile) HighRiskRatio() float64 {
	total := p.TotalDetections
	if total < 1 {
		total = 1
	}
	return float64(p.HighRiskCount) / float64(total)
}

func (p *Profile) String() string {
	return fmt.Sprintf("Profile [%s:%s] risk %s (%.2f)",
		p.IdentifierType, p.IdentifierValue, p.RiskLevel, p.RiskScore)
}
