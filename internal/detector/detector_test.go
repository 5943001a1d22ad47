package detector

import (
	"context"
	"testing"
	"time"

	"fraudguard/internal/config"
	"fraudguard/internal/metrics"
	"fraudguard/internal/model"
)

func TestBotDetectorEmptyUserAgent(t *testing.T) {
	d := NewBotDetector()
	event := model.NewContext("u1", "s1", "203.0.113.7", "", "view_page")
	v, err := d.Detect(context.Background(), event)
	if err != nil {
		t.Fatalf("detect error: %v", err)
	}
	if v.Level != model.LevelHigh {
		t.Fatalf("empty user agent level = %s, want high", v.Level)
	}
	if len(v.Reasons) == 0 || v.Reasons[0] != "Empty or missing user agent detected" {
		t.Fatalf("unexpected reasons: %v", v.Reasons)
	}
}

func TestBotDetectorPatterns(t *testing.T) {
	d := NewBotDetector()
	cases := []struct {
		ua   string
		want model.RiskLevel
	}{
		{"Mozilla/5.0 (Windows NT 10.0) Chrome/120.0", model.LevelLow},
		{"Googlebot/2.1 (+http://www.google.com/bot.html)", model.LevelMedium},
		{"python-requests/2.31.0", model.LevelHigh},
		{"curl/8.0.1", model.LevelHigh},
		{"Mozilla/5.0 HeadlessChrome/119.0", model.LevelHigh},
	}
	for _, tc := range cases {
		event := model.NewContext("u1", "s1", "203.0.113.7", tc.ua, "view_page")
		v, err := d.Detect(context.Background(), event)
		if err != nil {
			t.Fatalf("detect error: %v", err)
		}
		if v.Level != tc.want {
			t.Fatalf("ua %q level = %s, want %s", tc.ua, v.Level, tc.want)
		}
	}
}

func TestIPRateLimitThresholds(t *testing.T) {
	collector := metrics.NewCollector(1000)
	d := NewIPRateLimitDetector(config.IPRateLimitConfig{HighThreshold: 60, CriticalThreshold: 100}, collector)
	event := model.NewContext("u1", "s1", "198.51.100.9", "Mozilla/5.0 Chrome", "api_call")

	v, _ := d.Detect(context.Background(), event)
	if v.Level != model.LevelLow {
		t.Fatalf("quiet ip level = %s, want low", v.Level)
	}

	for i := 0; i < 61; i++ {
		collector.RecordRequest("198.51.100.9")
	}
	v, _ = d.Detect(context.Background(), event)
	if v.Level != model.LevelHigh {
		t.Fatalf("61 rpm level = %s, want high", v.Level)
	}

	for i := 0; i < 40; i++ {
		collector.RecordRequest("198.51.100.9")
	}
	v, _ = d.Detect(context.Background(), event)
	if v.Level != model.LevelCritical {
		t.Fatalf("101 rpm level = %s, want critical", v.Level)
	}
	if v.Suggested != "block" {
		t.Fatalf("critical rate suggestion = %q, want block", v.Suggested)
	}
}

func TestProxyDetectorIndicators(t *testing.T) {
	d := NewProxyDetector()

	event := model.NewContext("u1", "s1", "203.0.113.7", "Mozilla/5.0 Chrome", "view_page")
	v, _ := d.Detect(context.Background(), event)
	if v.Level != model.LevelLow {
		t.Fatalf("clean event level = %s, want low", v.Level)
	}

	// Forwarding header (0.5) alone reaches Medium.
	event = model.NewContext("u1", "s1", "203.0.113.7", "Mozilla/5.0 Chrome", "view_page")
	event.SetAttribute("headers", map[string]string{"X-Forwarded-For": "10.1.2.3"})
	v, _ = d.Detect(context.Background(), event)
	if v.Level != model.LevelMedium {
		t.Fatalf("header-only level = %s, want medium", v.Level)
	}
	if v.Suggested != "throttle" {
		t.Fatalf("proxy suggestion = %q, want throttle", v.Suggested)
	}

	// Upstream proxy flag (0.8) reaches High on its own.
	event = model.NewContext("u1", "s1", "203.0.113.7", "Mozilla/5.0 Chrome", "view_page")
	event.SetAttribute("is_proxy", true)
	v, _ = d.Detect(context.Background(), event)
	if v.Level != model.LevelHigh {
		t.Fatalf("flagged proxy level = %s, want high", v.Level)
	}

	// Private range (0.3) plus SOCKS port (0.2) reaches Medium.
	event = model.NewContext("u1", "s1", "10.0.0.5", "Mozilla/5.0 Chrome", "view_page")
	event.SetAttribute("remote_port", 1080)
	v, _ = d.Detect(context.Background(), event)
	if v.Level != model.LevelMedium {
		t.Fatalf("range+port level = %s, want medium", v.Level)
	}
}

func TestMultiAccountThresholds(t *testing.T) {
	collector := metrics.NewCollector(1000)
	cfg := config.MultiAccountConfig{Enabled: true, MaxPerIP: 5, MaxPerDevice: 3, Window: time.Hour}
	d := NewMultiAccountDetector(cfg, collector)

	event := model.NewContext("u1", "s1", "198.51.100.20", "Mozilla/5.0 Chrome", "login")
	v, _ := d.Detect(context.Background(), event)
	if v.Level != model.LevelLow {
		t.Fatalf("fresh ip level = %s, want low", v.Level)
	}

	for i := 0; i < 6; i++ {
		collector.RecordUser("198.51.100.20", "ip", userID(i))
	}
	v, _ = d.Detect(context.Background(), event)
	if v.Level != model.LevelMedium {
		t.Fatalf("6 accounts/ip level = %s, want medium", v.Level)
	}

	for i := 6; i < 11; i++ {
		collector.RecordUser("198.51.100.20", "ip", userID(i))
	}
	v, _ = d.Detect(context.Background(), event)
	if v.Level != model.LevelHigh {
		t.Fatalf("11 accounts/ip level = %s, want high", v.Level)
	}

	event.SetAttribute("device_fingerprint", "fp-1")
	for i := 0; i < 7; i++ {
		collector.RecordUser("fp-1", "device", userID(i))
	}
	v, _ = d.Detect(context.Background(), event)
	if v.Level != model.LevelCritical {
		t.Fatalf("7 accounts/device level = %s, want critical", v.Level)
	}
}

func userID(i int) string {
	return string(rune('a' + i))
}

func TestScoreManipulationSkipsUnrelatedActions(t *testing.T) {
	collector := metrics.NewCollector(1000)
	d := NewScoreManipulationDetector("secret", collector)
	event := model.NewContext("u1", "s1", "203.0.113.7", "Mozilla/5.0 Chrome", "view_page")
	v, err := d.Detect(context.Background(), event)
	if err != nil {
		t.Fatalf("detect error: %v", err)
	}
	if v.Level != model.LevelLow {
		t.Fatalf("unrelated action level = %s, want low", v.Level)
	}
	if skipped, _ := v.Details["skipped"].(bool); !skipped {
		t.Fatalf("expected skipped detail, got %v", v.Details)
	}
}

func TestScoreManipulationSuspiciousValues(t *testing.T) {
	collector := metrics.NewCollector(1000)
	d := NewScoreManipulationDetector("secret", collector)

	// Suspicious pattern (0.4) plus impossible growth (0.5) crosses the
	// critical threshold.
	event := model.NewContext("u1", "s1", "203.0.113.7", "Mozilla/5.0 Chrome", "update_score")
	event.SetAttribute("score_data", map[string]any{
		"current_score":  999999.0,
		"previous_score": 100.0,
	})
	v, _ := d.Detect(context.Background(), event)
	if v.Level != model.LevelCritical {
		t.Fatalf("tampered score level = %s, want critical", v.Level)
	}
}

func TestScoreManipulationRepeatedDigitRun(t *testing.T) {
	collector := metrics.NewCollector(1000)
	d := NewScoreManipulationDetector("secret", collector)

	// Five identical consecutive digits without trailing nines or zeros.
	// The pattern indicator alone (0.4) lands on medium.
	event := model.NewContext("u1", "s1", "203.0.113.7", "Mozilla/5.0 Chrome", "update_score")
	event.SetAttribute("score_data", map[string]any{"current_score": 355555.0})
	v, _ := d.Detect(context.Background(), event)
	if v.Level != model.LevelMedium {
		t.Fatalf("digit run level = %s, want medium", v.Level)
	}

	cases := []struct {
		in   string
		want bool
	}{
		{"12345", false},
		{"111122", false},
		{"99999", true},
		{"a55555b", true},
		{"11.111", false},
	}
	for _, tc := range cases {
		if got := hasRepeatedDigitRun(tc.in, 5); got != tc.want {
			t.Errorf("hasRepeatedDigitRun(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestScoreManipulationParameterConflict(t *testing.T) {
	collector := metrics.NewCollector(1000)
	d := NewScoreManipulationDetector("secret", collector)

	event := model.NewContext("u1", "s1", "203.0.113.7", "Mozilla/5.0 Chrome", "purchase")
	event.SetAttribute("form_data", map[string]any{"amount": "100"})
	event.SetAttribute("query_data", map[string]any{"amount": "1"})
	v, _ := d.Detect(context.Background(), event)
	if v.Level != model.LevelHigh {
		t.Fatalf("conflicting parameters level = %s, want high", v.Level)
	}
}

func TestAutomationDetectorIndicators(t *testing.T) {
	collector := metrics.NewCollector(1000)
	d := NewAutomationDetector(collector)

	event := model.NewContext("u1", "s1", "203.0.113.7", "Mozilla/5.0 (X11) Chrome/120.0", "view_page")
	v, _ := d.Detect(context.Background(), event)
	if v.Level != model.LevelLow {
		t.Fatalf("browser event level = %s, want low", v.Level)
	}

	// Tooling user agent (0.5) plus inhuman response time (0.4) reaches
	// High.
	event = model.NewContext("u1", "s1", "203.0.113.7", "curl/8.0.1", "submit_form")
	event.SetAttribute("response_time", 20.0)
	v, _ = d.Detect(context.Background(), event)
	if v.Level != model.LevelHigh {
		t.Fatalf("scripted event level = %s, want high", v.Level)
	}
}

func TestAutomationPerfectTiming(t *testing.T) {
	collector := metrics.NewCollector(1000)
	d := NewAutomationDetector(collector)

	for i := 0; i < 10; i++ {
		collector.RecordSessionAction("s-metronome", float64(i))
	}
	event := model.NewContext("u1", "s-metronome", "203.0.113.7", "Mozilla/5.0 (X11) Chrome/120.0", "view_page")
	v, _ := d.Detect(context.Background(), event)
	if v.Level != model.LevelMedium {
		t.Fatalf("metronomic timing level = %s, want medium", v.Level)
	}
	if _, ok := v.Details["automation_indicators"].(map[string]any)["perfect_timing"]; !ok {
		t.Fatalf("expected perfect_timing indicator, got %v", v.Details)
	}
}

func TestDefaultRegistryRespectsToggles(t *testing.T) {
	collector := metrics.NewCollector(1000)
	cfg := config.DefaultConfig().Detectors
	r := NewDefaultRegistry(cfg, collector)
	if len(r.Detectors()) != 7 {
		t.Fatalf("default registry size = %d, want 7", len(r.Detectors()))
	}

	cfg.Bot.Enabled = false
	cfg.Proxy.Enabled = false
	r = NewDefaultRegistry(cfg, collector)
	if len(r.Detectors()) != 5 {
		t.Fatalf("trimmed registry size = %d, want 5", len(r.Detectors()))
	}
	if _, ok := r.Get("bot"); ok {
		t.Fatalf("disabled bot detector still registered")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewBotDetector()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(NewBotDetector()); err == nil {
		t.Fatalf("duplicate register should fail")
	}
}
