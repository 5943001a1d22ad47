package detector

import (
	"context"
	"fmt"

	"fraudguard/internal/config"
	"fraudguard/internal/metrics"
	"fraudguard/internal/model"
)

// IPRateLimitDetector flags source addresses whose per-minute request rate
// exceeds the configured thresholds.
type IPRateLimitDetector struct {
	high      int
	critical  int
	collector *metrics.Collector
}

func NewIPRateLimitDetector(cfg config.IPRateLimitConfig, collector *metrics.Collector) *IPRateLimitDetector {
	high := cfg.HighThreshold
	if high <= 0 {
		high = 60
	}
	critical := cfg.CriticalThreshold
	if critical <= 0 {
		critical = 100
	}
	return &IPRateLimitDetector{high: high, critical: critical, collector: collector}
}

func (d *IPRateLimitDetector) Name() string { return "ip_rate_limit" }

func (d *IPRateLimitDetector) Detect(ctx context.Context, event *model.Context) (model.Verdict, error) {
	if event.IP == "" {
		return model.NewVerdict(model.LevelLow), nil
	}
	count := d.collector.RequestCount(event.IP, "1m")
	level := model.LevelLow
	switch {
	case count > d.critical:
		level = model.LevelCritical
	case count > d.high:
		level = model.LevelHigh
	}
	if level == model.LevelLow {
		return model.NewVerdict(model.LevelLow), nil
	}
	v := model.NewVerdict(level, fmt.Sprintf("IP request rate exceeded: %d requests per minute", count))
	v.Details = map[string]any{"ip": event.IP, "requests_per_minute": count}
	if level == model.LevelCritical {
		v.Suggested = "block"
	}
	return v, nil
}
