package detector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"fraudguard/internal/metrics"
	"fraudguard/internal/model"
)

const (
	maxScoreIncreaseRate  = 2.0
	maxDailyScoreIncrease = 10000.0
	maxSubmissionsPer5m   = 10
)

// Value shapes typical of hand-edited payloads: trailing nines, trailing
// zeros. Long digit runs are caught by hasRepeatedDigitRun; RE2 has no
// backreferences.
var suspiciousValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`999+$`),
	regexp.MustCompile(`000+$`),
}

// hasRepeatedDigitRun reports whether s contains n or more identical
// consecutive digits.
func hasRepeatedDigitRun(s string, n int) bool {
	run := 0
	var prev byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			run = 0
			continue
		}
		if run > 0 && c == prev {
			run++
		} else {
			run = 1
			prev = c
		}
		if run >= n {
			return true
		}
	}
	return false
}

// Actions that move score or money. Other actions skip this detector with a
// Low verdict.
var scoreActions = []string{
	"update_score", "add_points", "transfer_points",
	"claim_reward", "purchase", "withdrawal", "deposit",
}

// ScoreManipulationDetector inspects score-bearing operations for tampered
// values: suspicious numeric shapes, impossible growth, broken payload
// signatures, form/query parameter conflicts and burst submissions.
type ScoreManipulationDetector struct {
	secret    []byte
	collector *metrics.Collector
}

func NewScoreManipulationDetector(secret string, collector *metrics.Collector) *ScoreManipulationDetector {
	if secret == "" {
		secret = "default-secret"
	}
	return &ScoreManipulationDetector{secret: []byte(secret), collector: collector}
}

func (d *ScoreManipulationDetector) Name() string { return "score_manipulation" }

func (d *ScoreManipulationDetector) Detect(ctx context.Context, event *model.Context) (model.Verdict, error) {
	if !isScoreRelatedAction(event.Action) {
		v := model.NewVerdict(model.LevelLow)
		v.Details = map[string]any{"skipped": true, "reason": "not_score_related"}
		return v, nil
	}

	indicators := make(map[string]any)
	score := 0.0

	scoreData := scoreDataMap(event)
	if matched := d.checkSuspiciousPatterns(scoreData); len(matched) > 0 {
		indicators["suspicious_patterns"] = matched
		score += 0.4
	}
	if growth := d.checkAbnormalGrowth(event.UserID, scoreData); growth != nil {
		indicators["abnormal_growth"] = growth
		score += 0.5
	}
	if tamper := d.checkRequestTampering(event); tamper != nil {
		indicators["tampering"] = tamper
		score += 0.6
	}
	if count := d.collector.ActionCount(event.UserID, event.Action, "5m"); count > maxSubmissionsPer5m {
		indicators["abnormal_frequency"] = map[string]any{
			"count": count, "time_window": "5m", "threshold": maxSubmissionsPer5m,
		}
		score += 0.3
	}

	level := model.LevelLow
	switch {
	case score >= 0.8:
		level = model.LevelCritical
	case score >= 0.6:
		level = model.LevelHigh
	case score >= 0.3:
		level = model.LevelMedium
	}

	v := model.NewVerdict(level)
	v.Details = map[string]any{
		"manipulation_indicators": indicators,
		"risk_score":              score,
		"user_id":                 event.UserID,
		"action":                  event.Action,
	}
	if level != model.LevelLow {
		v.Reasons = append(v.Reasons, "Score manipulation detected")
	}
	return v, nil
}

func isScoreRelatedAction(action string) bool {
	lower := strings.ToLower(action)
	for _, a := range scoreActions {
		if strings.Contains(lower, a) {
			return true
		}
	}
	return false
}

func scoreDataMap(event *model.Context) map[string]any {
	v, ok := event.Attribute("score_data")
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}

func (d *ScoreManipulationDetector) checkSuspiciousPatterns(scoreData map[string]any) []map[string]any {
	var matched []map[string]any
	for field, raw := range scoreData {
		value, ok := numericValue(raw)
		if !ok {
			continue
		}
		str := formatNumeric(value)
		for _, pattern := range suspiciousValuePatterns {
			if pattern.MatchString(str) {
				matched = append(matched, map[string]any{
					"field": field, "value": raw, "pattern": pattern.String(),
				})
			}
		}
		if hasRepeatedDigitRun(str, 5) {
			matched = append(matched, map[string]any{
				"field": field, "value": raw, "pattern": "repeated_digit_run",
			})
		}
		if value > 1000000 {
			matched = append(matched, map[string]any{
				"field": field, "value": raw, "reason": "unusually_large_value",
			})
		}
	}
	return matched
}

func (d *ScoreManipulationDetector) checkAbnormalGrowth(userID string, scoreData map[string]any) map[string]any {
	current, _ := numericValue(scoreData["current_score"])
	previous, ok := numericValue(scoreData["previous_score"])
	if !ok {
		previous, ok = d.collector.UserLastScore(userID)
	}
	if !ok || previous == 0 {
		return nil
	}
	growthRate := current / previous
	if growthRate > maxScoreIncreaseRate {
		return map[string]any{
			"growth_rate": growthRate,
			"threshold":   maxScoreIncreaseRate,
			"previous":    previous,
			"current":     current,
			"type":        "excessive_growth_rate",
		}
	}
	increase := current - previous
	if daily := d.collector.UserDailyScoreIncrease(userID); daily+increase > maxDailyScoreIncrease {
		return map[string]any{
			"daily_increase": daily + increase,
			"threshold":      maxDailyScoreIncrease,
			"type":           "excessive_daily_increase",
		}
	}
	return nil
}

func (d *ScoreManipulationDetector) checkRequestTampering(event *model.Context) map[string]any {
	indicators := make(map[string]any)
	if signature := event.StringAttribute("request_signature"); signature != "" && !d.verifySignature(event, signature) {
		indicators["invalid_signature"] = true
	}
	if conflicts := parameterConflicts(event); len(conflicts) > 0 {
		indicators["parameter_conflicts"] = conflicts
	}
	if len(indicators) == 0 {
		return nil
	}
	return indicators
}

func (d *ScoreManipulationDetector) verifySignature(event *model.Context, signature string) bool {
	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte(event.StringAttribute("signed_data")))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// parameterConflicts returns keys present in both the form body and query
// string with different values. Legitimate clients never send both.
func parameterConflicts(event *model.Context) []string {
	form := attributeMap(event, "form_data")
	query := attributeMap(event, "query_data")
	var conflicts []string
	for key, formValue := range form {
		queryValue, ok := query[key]
		if !ok {
			continue
		}
		if fmt.Sprint(formValue) != fmt.Sprint(queryValue) {
			conflicts = append(conflicts, key)
		}
	}
	return conflicts
}

func attributeMap(event *model.Context, key string) map[string]any {
	v, ok := event.Attribute(key)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}

func numericValue(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func formatNumeric(value float64) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d", int64(value))
	}
	return fmt.Sprintf("%g", value)
}
