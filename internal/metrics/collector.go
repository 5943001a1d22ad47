package metrics

import (
	"regexp"
	"sync"
	"time"
)

// Collector keeps the time-windowed counters the detectors and rule engine
// consume. Counters are real timestamp buffers pruned on access, so reads are
// exact within the retention horizon; the old read-then-write cache counter
// could lose increments under concurrency.
//
// All methods are safe for concurrent use. Increment calls are
// fire-and-forget: they never return errors and never block beyond the lock.
type Collector struct {
	mu          sync.Mutex
	requests    map[string][]time.Time
	errorEvents map[string][]time.Time
	logins      map[string][]time.Time
	actions     map[string][]time.Time
	paths       map[string]map[string]time.Time
	seenUsers   map[string]map[string]time.Time
	sessionActs map[string][]float64
	lastScores  map[string]float64
	dailyGains  map[string]dailyGain
	sampleLimit int
	now         func() time.Time
}

type dailyGain struct {
	day   string
	total float64
}

const retention = 24 * time.Hour

var windowPattern = regexp.MustCompile(`^(\d+)([mhd])$`)

func NewCollector(sampleLimit int) *Collector {
	if sampleLimit <= 0 {
		sampleLimit = 1000
	}
	return &Collector{
		requests:    make(map[string][]time.Time),
		errorEvents: make(map[string][]time.Time),
		logins:      make(map[string][]time.Time),
		actions:     make(map[string][]time.Time),
		paths:       make(map[string]map[string]time.Time),
		seenUsers:   make(map[string]map[string]time.Time),
		sessionActs: make(map[string][]float64),
		lastScores:  make(map[string]float64),
		dailyGains:  make(map[string]dailyGain),
		sampleLimit: sampleLimit,
		now:         time.Now,
	}
}

// ParseWindow parses window strings like "1m", "5m", "1h", "24h", "7d".
// Unparseable input falls back to one hour.
func ParseWindow(window string) time.Duration {
	m := windowPattern.FindStringSubmatch(window)
	if m == nil {
		return time.Hour
	}
	n := 0
	for _, ch := range m[1] {
		n = n*10 + int(ch-'0')
	}
	switch m[2] {
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	}
	return time.Hour
}

func (c *Collector) RecordRequest(identifier string) {
	c.append(c.requests, identifier)
}

func (c *Collector) RecordError(userID string) {
	c.append(c.errorEvents, userID)
}

func (c *Collector) RecordLogin(userID string) {
	c.append(c.logins, userID)
}

func (c *Collector) RecordAction(userID, action string) {
	c.append(c.actions, userID+"|"+action)
}

func (c *Collector) RecordPath(userID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.paths[userID]
	if !ok {
		m = make(map[string]time.Time)
		c.paths[userID] = m
	}
	m[path] = c.now()
}

// RecordUser marks userID as seen behind identifier (an IP or a device
// fingerprint, per typ) for multi-account correlation.
func (c *Collector) RecordUser(identifier, typ, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := typ + "|" + identifier
	m, ok := c.seenUsers[key]
	if !ok {
		m = make(map[string]time.Time)
		c.seenUsers[key] = m
	}
	m[userID] = c.now()
}

// RecordSessionAction appends an action timestamp (unix seconds, fractional)
// for timing analysis.
func (c *Collector) RecordSessionAction(sessionID string, at float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := append(c.sessionActs[sessionID], at)
	if len(list) > c.sampleLimit {
		list = list[len(list)-c.sampleLimit:]
	}
	c.sessionActs[sessionID] = list
}

// RecordScore stores the latest score for a user and accumulates the daily
// increase used by the tamper detector.
func (c *Collector) RecordScore(userID string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, hadPrev := c.lastScores[userID]
	c.lastScores[userID] = score
	if !hadPrev || score <= prev {
		return
	}
	day := c.now().UTC().Format("2006-01-02")
	g := c.dailyGains[userID]
	if g.day != day {
		g = dailyGain{day: day}
	}
	g.total += score - prev
	c.dailyGains[userID] = g
}

func (c *Collector) RequestCount(identifier, window string) int {
	return c.countSince(c.requests, identifier, ParseWindow(window))
}

func (c *Collector) ErrorCount(userID, window string) int {
	return c.countSince(c.errorEvents, userID, ParseWindow(window))
}

func (c *Collector) LoginCount(userID string) int {
	return c.countSince(c.logins, userID, time.Hour)
}

func (c *Collector) ActionCount(userID, action, window string) int {
	return c.countSince(c.actions, userID+"|"+action, ParseWindow(window))
}

func (c *Collector) UniquePathsCount(userID, window string) int {
	cutoff := c.now().Add(-ParseWindow(window))
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for path, seen := range c.paths[userID] {
		if seen.Before(cutoff) {
			delete(c.paths[userID], path)
			continue
		}
		n++
	}
	return n
}

func (c *Collector) UniqueUsersCount(identifier, typ string, seconds int) int {
	cutoff := c.now().Add(-time.Duration(seconds) * time.Second)
	key := typ + "|" + identifier
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for userID, seen := range c.seenUsers[key] {
		if seen.Before(cutoff) {
			delete(c.seenUsers[key], userID)
			continue
		}
		n++
	}
	return n
}

func (c *Collector) UserLastScore(userID string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	score, ok := c.lastScores[userID]
	return score, ok
}

func (c *Collector) UserDailyScoreIncrease(userID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.dailyGains[userID]
	if !ok || g.day != c.now().UTC().Format("2006-01-02") {
		return 0
	}
	return g.total
}

// ActionsPerSecond counts session actions recorded within the last second.
func (c *Collector) ActionsPerSecond(sessionID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.sessionActs[sessionID]
	if len(list) == 0 {
		return 0
	}
	cutoff := float64(c.now().UnixNano())/1e9 - 1.0
	n := 0
	for _, at := range list {
		if at > cutoff {
			n++
		}
	}
	return float64(n)
}

// ActionTimings returns up to limit session action timestamps, most recent
// first.
func (c *Collector) ActionTimings(sessionID string, limit int) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.sessionActs[sessionID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]float64, 0, limit)
	for i := len(list) - 1; i >= len(list)-limit; i-- {
		out = append(out, list[i])
	}
	return out
}

func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = make(map[string][]time.Time)
	c.errorEvents = make(map[string][]time.Time)
	c.logins = make(map[string][]time.Time)
	c.actions = make(map[string][]time.Time)
	c.paths = make(map[string]map[string]time.Time)
	c.seenUsers = make(map[string]map[string]time.Time)
	c.sessionActs = make(map[string][]float64)
	c.lastScores = make(map[string]float64)
	c.dailyGains = make(map[string]dailyGain)
}

func (c *Collector) append(m map[string][]time.Time, key string) {
	now := c.now()
	cutoff := now.Add(-retention)
	c.mu.Lock()
	defer c.mu.Unlock()
	list := m[key]
	start := 0
	for start < len(list) && list[start].Before(cutoff) {
		start++
	}
	list = append(list[start:], now)
	if len(list) > c.sampleLimit {
		list = list[len(list)-c.sampleLimit:]
	}
	m[key] = list
}

func (c *Collector) countSince(m map[string][]time.Time, key string, window time.Duration) int {
	cutoff := c.now().Add(-window)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ts := range m[key] {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}
