package detector

import (
	"context"
	"math"
	"strings"
	"time"

	"fraudguard/internal/metrics"
	"fraudguard/internal/model"
)

const (
	minHumanResponseTimeMs = 100
	maxActionsPerSecond    = 3
	perfectTimingThreshold = 0.95
	minTimingSamples       = 5
	timingSampleWindow     = 20
)

var automationAgentPatterns = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget",
	"python-requests", "postman", "insomnia", "axios", "fetch",
}

var commonBrowsers = []string{"chrome", "firefox", "safari", "edge", "opera"}

var timeNow = time.Now

// AutomationDetector accumulates weighted indicators of scripted operation:
// tooling user agents, inhuman response times, action frequency, metronomic
// timing, skipped JavaScript and form posts without any input events.
type AutomationDetector struct {
	collector *metrics.Collector
}

func NewAutomationDetector(collector *metrics.Collector) *AutomationDetector {
	return &AutomationDetector{collector: collector}
}

func (d *AutomationDetector) Name() string { return "automation" }

func (d *AutomationDetector) Detect(ctx context.Context, event *model.Context) (model.Verdict, error) {
	indicators := make(map[string]any)
	score := 0.0

	if reason := d.checkUserAgent(event.UserAgent); reason != "" {
		indicators["bot_user_agent"] = map[string]any{"reason": reason, "user_agent": event.UserAgent}
		score += 0.5
	}
	if rt, ok := event.FloatAttribute("response_time"); ok && rt < minHumanResponseTimeMs {
		indicators["inhuman_response_time"] = map[string]any{
			"response_time": rt, "threshold": minHumanResponseTimeMs,
		}
		score += 0.4
	}
	if aps := d.collector.ActionsPerSecond(event.SessionID); aps > maxActionsPerSecond {
		indicators["high_frequency"] = map[string]any{
			"actions_per_second": aps, "threshold": maxActionsPerSecond,
		}
		score += 0.4
	}
	if consistency, ok := d.timingConsistency(event.SessionID); ok {
		indicators["perfect_timing"] = map[string]any{
			"consistency": consistency, "threshold": perfectTimingThreshold,
		}
		score += 0.6
	}
	if _, hasToken := event.Attribute("js_token"); hasToken && !event.BoolAttribute("js_executed") {
		indicators["no_javascript"] = map[string]any{"js_disabled": true}
		score += 0.3
	}
	if d.formPostWithoutInteraction(event) {
		indicators["no_user_interaction"] = map[string]any{
			"mouse_events":    event.IntAttribute("mouse_events"),
			"keyboard_events": event.IntAttribute("keyboard_events"),
			"touch_events":    event.IntAttribute("touch_events"),
		}
		score += 0.5
	}

	level := model.LevelLow
	switch {
	case score >= 1.2:
		level = model.LevelCritical
	case score >= 0.8:
		level = model.LevelHigh
	case score >= 0.4:
		level = model.LevelMedium
	}

	v := model.NewVerdict(level)
	v.Details = map[string]any{
		"automation_indicators": indicators,
		"risk_score":            score,
		"session_id":            event.SessionID,
	}
	if level != model.LevelLow {
		v.Reasons = append(v.Reasons, "Automated client behavior detected")
	}
	return v, nil
}

func (d *AutomationDetector) checkUserAgent(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, pattern := range automationAgentPatterns {
		if strings.Contains(ua, pattern) {
			return pattern
		}
	}
	if strings.TrimSpace(ua) == "" {
		return "empty_user_agent"
	}
	for _, browser := range commonBrowsers {
		if strings.Contains(ua, browser) {
			return ""
		}
	}
	return "uncommon_browser"
}

// timingConsistency measures how metronomic the inter-action intervals are:
// 1 - stddev/mean approaches 1.0 when every gap is identical. Humans never
// get close.
func (d *AutomationDetector) timingConsistency(sessionID string) (float64, bool) {
	timings := d.collector.ActionTimings(sessionID, timingSampleWindow)
	if len(timings) < minTimingSamples {
		return 0, false
	}
	intervals := make([]float64, 0, len(timings)-1)
	for i := 1; i < len(timings); i++ {
		intervals = append(intervals, math.Abs(timings[i]-timings[i-1]))
	}
	mean := 0.0
	for _, iv := range intervals {
		mean += iv
	}
	mean /= float64(len(intervals))
	if mean <= 0 {
		return 0, false
	}
	variance := 0.0
	for _, iv := range intervals {
		variance += (iv - mean) * (iv - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(intervals)))
	consistency := 1 - stdDev/mean
	if consistency > perfectTimingThreshold {
		return consistency, true
	}
	return 0, false
}

func (d *AutomationDetector) formPostWithoutInteraction(event *model.Context) bool {
	if event.Method() != "POST" {
		return false
	}
	total := event.IntAttribute("mouse_events") +
		event.IntAttribute("keyboard_events") +
		event.IntAttribute("touch_events")
	return total == 0
}
