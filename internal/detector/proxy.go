package detector

import (
	"context"
	"net/netip"
	"strings"

	"fraudguard/internal/model"
)

// Address ranges treated as proxy egress. Production deployments extend this
// with real VPN provider ranges via AddProxyRange.
var defaultProxyRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

var suspiciousPorts = map[int]bool{1080: true, 3128: true, 8080: true, 8888: true}

// Header names that forwarding proxies add. Compared case-insensitively
// against whatever header map the ingest layer attached.
var proxyHeaders = []string{
	"via",
	"x-forwarded-for",
	"forwarded-for",
	"x-forwarded",
	"forwarded",
	"client-ip",
	"forwarded-for-ip",
	"proxy-connection",
}

// ProxyDetector scores proxy and VPN indicators: forwarding headers, known
// egress ranges, SOCKS/HTTP proxy ports and an upstream proxy flag.
type ProxyDetector struct {
	ranges []netip.Prefix
}

func NewProxyDetector() *ProxyDetector {
	d := &ProxyDetector{}
	for _, r := range defaultProxyRanges {
		d.AddProxyRange(r)
	}
	return d
}

func (d *ProxyDetector) AddProxyRange(cidr string) error {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return err
	}
	d.ranges = append(d.ranges, prefix)
	return nil
}

func (d *ProxyDetector) Name() string { return "proxy" }

func (d *ProxyDetector) Detect(ctx context.Context, event *model.Context) (model.Verdict, error) {
	indicators := make(map[string]any)
	score := 0.0

	if detected := d.matchProxyHeaders(event.Headers()); len(detected) > 0 {
		indicators["proxy_headers"] = detected
		score += 0.5
	}
	if d.inProxyRange(event.IP) {
		indicators["ip_in_proxy_range"] = true
		score += 0.3
	}
	if port := event.IntAttribute("remote_port"); suspiciousPorts[port] {
		indicators["suspicious_port"] = port
		score += 0.2
	}
	if event.IsProxyIP() {
		indicators["marked_as_proxy"] = true
		score += 0.8
	}

	level := model.LevelLow
	switch {
	case score >= 0.8:
		level = model.LevelHigh
	case score >= 0.5:
		level = model.LevelMedium
	}

	v := model.NewVerdict(level)
	v.Details = map[string]any{
		"proxy_indicators": indicators,
		"risk_score":       score,
		"ip":               event.IP,
	}
	if level != model.LevelLow {
		v.Reasons = append(v.Reasons, "Proxy or VPN connection detected")
		v.Suggested = "throttle"
	}
	return v, nil
}

func (d *ProxyDetector) matchProxyHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	detected := make(map[string]string)
	for key, value := range headers {
		if value == "" {
			continue
		}
		normalized := strings.ToLower(strings.ReplaceAll(key, "_", "-"))
		normalized = strings.TrimPrefix(normalized, "http-")
		for _, h := range proxyHeaders {
			if normalized == h {
				detected[key] = value
				break
			}
		}
	}
	if len(detected) == 0 {
		return nil
	}
	return detected
}

func (d *ProxyDetector) inProxyRange(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range d.ranges {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
