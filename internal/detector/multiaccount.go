package detector

import (
	"context"
	"time"

	"fraudguard/internal/config"
	"fraudguard/internal/metrics"
	"fraudguard/internal/model"
)

// MultiAccountDetector correlates distinct user accounts seen behind the
// same IP or device fingerprint inside the time window. Device counts are
// the stronger signal and are checked first.
type MultiAccountDetector struct {
	maxPerIP     int
	maxPerDevice int
	window       time.Duration
	collector    *metrics.Collector
}

func NewMultiAccountDetector(cfg config.MultiAccountConfig, collector *metrics.Collector) *MultiAccountDetector {
	d := &MultiAccountDetector{
		maxPerIP:     cfg.MaxPerIP,
		maxPerDevice: cfg.MaxPerDevice,
		window:       cfg.Window,
		collector:    collector,
	}
	if d.maxPerIP <= 0 {
		d.maxPerIP = 5
	}
	if d.maxPerDevice <= 0 {
		d.maxPerDevice = 3
	}
	if d.window <= 0 {
		d.window = time.Hour
	}
	return d
}

func (d *MultiAccountDetector) Name() string { return "multi_account" }

func (d *MultiAccountDetector) Detect(ctx context.Context, event *model.Context) (model.Verdict, error) {
	windowSeconds := int(d.window.Seconds())
	ipCount := 0
	if event.IP != "" {
		ipCount = d.collector.UniqueUsersCount(event.IP, "ip", windowSeconds)
	}
	deviceCount := 0
	if fp := event.StringAttribute("device_fingerprint"); fp != "" {
		deviceCount = d.collector.UniqueUsersCount(fp, "device", windowSeconds)
	}

	level := model.LevelLow
	switch {
	case deviceCount > d.maxPerDevice*2:
		level = model.LevelCritical
	case deviceCount > d.maxPerDevice:
		level = model.LevelHigh
	case ipCount > d.maxPerIP*2:
		level = model.LevelHigh
	case ipCount > d.maxPerIP:
		level = model.LevelMedium
	}

	v := model.NewVerdict(level)
	v.Details = map[string]any{
		"ip_account_count":       ipCount,
		"device_account_count":   deviceCount,
		"max_allowed_per_ip":     d.maxPerIP,
		"max_allowed_per_device": d.maxPerDevice,
	}
	if level != model.LevelLow {
		v.Reasons = append(v.Reasons, "Multiple accounts detected behind shared identifier")
	}
	return v, nil
}
