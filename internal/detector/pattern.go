package detector

import (
	"context"

	"fraudguard/internal/metrics"
	"fraudguard/internal/model"
)

// Baselines for normal traffic. Severity scales linearly with the overshoot
// past the threshold, capped at 1.0.
const (
	normalRequestRatePerMinute = 30
	normalUniquePathsPerHour   = 50
	normalErrorRate            = 0.1
	minRequestsForAnalysis     = 10
)

// AbnormalPatternDetector scores four weighted traffic anomalies: request
// rate, path diversity, error rate and night-time activity.
type AbnormalPatternDetector struct {
	collector *metrics.Collector
	nowHour   func() int
}

func NewAbnormalPatternDetector(collector *metrics.Collector) *AbnormalPatternDetector {
	return &AbnormalPatternDetector{
		collector: collector,
		nowHour:   localHour,
	}
}

func localHour() int {
	return timeNow().Hour()
}

func (d *AbnormalPatternDetector) Name() string { return "abnormal_pattern" }

func (d *AbnormalPatternDetector) Detect(ctx context.Context, event *model.Context) (model.Verdict, error) {
	anomalies := make(map[string]any)
	score := 0.0

	if sev, count := d.requestRateSeverity(event.IP); sev > 0 {
		anomalies["request_rate"] = map[string]any{
			"severity": sev, "request_count": count, "threshold": normalRequestRatePerMinute,
		}
		score += sev * 0.3
	}
	if sev, paths := d.pathDiversitySeverity(event.UserID); sev > 0 {
		anomalies["path_diversity"] = map[string]any{
			"severity": sev, "unique_paths": paths, "threshold": normalUniquePathsPerHour,
		}
		score += sev * 0.2
	}
	if sev, rate := d.errorRateSeverity(event.UserID); sev > 0 {
		anomalies["error_rate"] = map[string]any{
			"severity": sev, "error_rate": rate, "threshold": normalErrorRate,
		}
		score += sev * 0.3
	}
	if sev, count := d.nightActivitySeverity(event.UserID); sev > 0 {
		anomalies["time_pattern"] = map[string]any{
			"severity": sev, "request_count": count, "current_hour": d.nowHour(),
		}
		score += sev * 0.2
	}

	level := model.LevelLow
	switch {
	case score >= 0.7:
		level = model.LevelHigh
	case score >= 0.4:
		level = model.LevelMedium
	}

	v := model.NewVerdict(level)
	v.Details = map[string]any{
		"anomalies":  anomalies,
		"risk_score": score,
		"user_id":    event.UserID,
		"ip":         event.IP,
	}
	if level != model.LevelLow {
		v.Reasons = append(v.Reasons, "Abnormal traffic patterns detected")
	}
	return v, nil
}

func (d *AbnormalPatternDetector) requestRateSeverity(ip string) (float64, int) {
	if ip == "" {
		return 0, 0
	}
	count := d.collector.RequestCount(ip, "1m")
	if count <= normalRequestRatePerMinute {
		return 0, count
	}
	return capSeverity(float64(count-normalRequestRatePerMinute) / normalRequestRatePerMinute), count
}

func (d *AbnormalPatternDetector) pathDiversitySeverity(userID string) (float64, int) {
	paths := d.collector.UniquePathsCount(userID, "1h")
	if paths <= normalUniquePathsPerHour {
		return 0, paths
	}
	return capSeverity(float64(paths-normalUniquePathsPerHour) / normalUniquePathsPerHour), paths
}

func (d *AbnormalPatternDetector) errorRateSeverity(userID string) (float64, float64) {
	total := d.collector.RequestCount(userID, "1h")
	if total < minRequestsForAnalysis {
		return 0, 0
	}
	rate := float64(d.collector.ErrorCount(userID, "1h")) / float64(total)
	if rate <= normalErrorRate {
		return 0, rate
	}
	return capSeverity((rate - normalErrorRate) / normalErrorRate), rate
}

// nightActivitySeverity flags bursts during local hours 2 through 6, when
// legitimate interactive traffic is at its daily minimum.
func (d *AbnormalPatternDetector) nightActivitySeverity(userID string) (float64, int) {
	hour := d.nowHour()
	if hour < 2 || hour > 6 {
		return 0, 0
	}
	count := d.collector.RequestCount(userID, "30m")
	if count <= 10 {
		return 0, count
	}
	return 0.6, count
}

func capSeverity(sev float64) float64 {
	if sev > 1.0 {
		return 1.0
	}
	return sev
}
