package detector

import (
	"context"
	"fmt"
	"strings"

	"fraudguard/internal/model"
)

// Known crawler and bot fragments. Matching is substring on the lowercased
// user agent, same as the signature lists most WAFs ship.
var botPatterns = []string{
	"bot", "crawler", "spider", "scraper",
	"facebook", "twitter", "linkedin", "whatsapp", "telegram", "slack",
	"google", "bing", "yahoo", "baidu", "yandex", "duckduck",
	"alexa", "semrush", "ahrefs", "mj12", "dotbot",
}

// Fragments that indicate scripted clients rather than crawlers. These rank
// High because they show up in credential stuffing and scraping runs.
var highRiskAgentPatterns = []string{
	"python-requests", "curl", "wget", "apache-httpclient", "java/",
	"scrapy", "headlesschrome", "phantomjs", "node-fetch",
	"http_request2", "guzzle", "libwww-perl", "lwp", "urllib", "httpclient",
}

type BotDetector struct{}

func NewBotDetector() *BotDetector {
	return &BotDetector{}
}

func (d *BotDetector) Name() string { return "bot" }

func (d *BotDetector) Detect(ctx context.Context, event *model.Context) (model.Verdict, error) {
	ua := strings.ToLower(strings.TrimSpace(event.UserAgent))
	if ua == "" {
		v := model.NewVerdict(model.LevelHigh, "Empty or missing user agent detected")
		v.Details = map[string]any{"user_agent": ""}
		return v, nil
	}
	for _, pattern := range highRiskAgentPatterns {
		if strings.Contains(ua, pattern) {
			v := model.NewVerdict(model.LevelHigh, fmt.Sprintf("Automated client user agent detected: %s", pattern))
			v.Details = map[string]any{"user_agent": event.UserAgent, "pattern": pattern}
			return v, nil
		}
	}
	for _, pattern := range botPatterns {
		if strings.Contains(ua, pattern) {
			v := model.NewVerdict(model.LevelMedium, fmt.Sprintf("Known bot user agent detected: %s", pattern))
			v.Details = map[string]any{"user_agent": event.UserAgent, "pattern": pattern}
			return v, nil
		}
	}
	return model.NewVerdict(model.LevelLow), nil
}
