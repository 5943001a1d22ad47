package model

import "time"

// Verdict is a single detector's output. Suggested names the action the
// detector would take on its own signal ("", "log", "throttle" or "block");
// the aggregator uses it to decide which profile counter to bump.
type Verdict struct {
	Level     RiskLevel      `json:"level"`
	Reasons   []string       `json:"reasons,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Suggested string         `json:"suggested,omitempty"`
}

func NewVerdict(level RiskLevel, reasons ...string) Verdict {
	return Verdict{Level: level, Reasons: reasons}
}

// Assessment is the aggregator's fused result across all detectors plus the
// reputation adjustment. Score is canonical on 0.0-1.0; IntScore exposes the
// 0-100 form used for level mapping.
type Assessment struct {
	Score     float64            `json:"score"`
	Level     RiskLevel          `json:"level"`
	Verdicts  map[string]Verdict `json:"verdicts,omitempty"`
	Details   map[string]any     `json:"details,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

func NewAssessment(score float64, level RiskLevel) *Assessment {
	return &Assessment{
		Score:     score,
		Level:     level,
		Verdicts:  make(map[string]Verdict),
		Details:   make(map[string]any),
		CreatedAt: time.Now().UTC(),
	}
}

func (a *Assessment) IntScore() int {
	return int(a.Score * 100)
}

func (a *Assessment) Reasons() []string {
	v, ok := a.Details["reasons"]
	if !ok {
		return nil
	}
	if reasons, ok := v.([]string); ok {
		return reasons
	}
	return nil
}

func (a *Assessment) AddReason(reason string) {
	if a.Details == nil {
		a.Details = make(map[string]any)
	}
	a.Details["reasons"] = append(a.Reasons(), reason)
}

func (a *Assessment) ShouldAct() bool {
	return a.Level.IsHigherThan(LevelMedium)
}

func (a *Assessment) IsHighRisk() bool {
	return a.Level == LevelHigh || a.Level == LevelCritical
}

// Merge reconciles two independent assessments of the same event: the higher
// score and level win, reason lists and detail maps union.
func (a *Assessment) Merge(other *Assessment) *Assessment {
	if other == nil {
		return a
	}
	merged := NewAssessment(a.Score, a.Level)
	if other.Score > a.Score {
		merged.Score = other.Score
	}
	if other.Level.IsHigherThan(a.Level) {
		merged.Level = other.Level
	}
	for name, v := range a.Verdicts {
		merged.Verdicts[name] = v
	}
	for name, v := range other.Verdicts {
		merged.Verdicts[name] = v
	}
	for k, v := range a.Details {
		merged.Details[k] = v
	}
	for k, v := range other.Details {
		if k == "reasons" {
			continue
		}
		merged.Details[k] = v
	}
	seen := make(map[string]struct{})
	var reasons []string
	for _, r := range append(a.Reasons(), other.Reasons()...) {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		reasons = append(reasons, r)
	}
	if len(reasons) > 0 {
		merged.Details["reasons"] = reasons
	}
	return merged
}

// ActionDescriptor names an action and its parameters the way rules store
// them ("block" with message, "throttle" with delay, "log" with level).
type ActionDescriptor struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Decision is the rule engine's result. It carries the same level/action
// vocabulary as the aggregator path so callers never branch on which path
// produced it. MatchedRules keeps every rule that matched for audit even
// though only the winning rule drives the action.
type Decision struct {
	Level        RiskLevel        `json:"level"`
	Action       ActionDescriptor `json:"action"`
	MatchedRules []Rule           `json:"matched_rules,omitempty"`
	Details      map[string]any   `json:"details,omitempty"`
}

func (d Decision) ShouldAct() bool {
	return d.Level.IsHigherThan(LevelMedium)
}

func (d Decision) MatchedRuleNames() []string {
	names := make([]string, 0, len(d.MatchedRules))
	for _, r := range d.MatchedRules {
		names = append(names, r.Name)
	}
	return names
}

// Response is the outward-facing result of an executed action. A nil
// *Response means the action was write-only (log).
type Response struct {
	Status  int               `json:"status"`
	Message string            `json:"message"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (r *Response) Blocking() bool {
	return r != nil && r.Status >= 400
}
