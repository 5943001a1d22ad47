package rule

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"fraudguard/internal/model"
	"fraudguard/internal/storage"
)

// Engine evaluates the merged rule set (built-in defaults plus stored
// custom rules) against events. The merged set is cached after the first
// load; Refresh invalidates the cache so edits take effect on the next
// evaluation.
type Engine struct {
	store     storage.Store
	evaluator Evaluator
	logger    *slog.Logger

	mu     sync.Mutex
	cached []model.Rule
	loaded bool
}

func NewEngine(store storage.Store, evaluator Evaluator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, evaluator: evaluator, logger: logger}
}

// Evaluate walks the active rules in descending priority (ties keep load
// order) and collects every match. A terminal match stops evaluation; rules
// already matched stay in the decision. Evaluation errors fail open: the
// rule is skipped and the walk continues.
func (e *Engine) Evaluate(ctx context.Context, event *model.Context) model.Decision {
	rules := e.activeRules(ctx)

	var matched []model.Rule
	for _, r := range rules {
		ok, err := e.evaluator.Matches(r, event)
		if err != nil {
			e.logger.Warn("rule condition failed", "rule", r.Name, "error", err)
			continue
		}
		if !ok {
			continue
		}
		matched = append(matched, r)
		if r.Terminal {
			break
		}
	}

	if len(matched) == 0 {
		return model.Decision{
			Level:  model.LevelLow,
			Action: model.ActionDescriptor{Type: "log"},
		}
	}

	// Rules are priority-sorted, so the first match wins.
	winner := matched[0]
	action := winner.Action
	if action.Type == "" {
		action = model.ActionDescriptor{Type: "log"}
	}
	return model.Decision{
		Level:        winner.Level,
		Action:       action,
		MatchedRules: matched,
		Details: map[string]any{
			"winning_rule": winner.Name,
		},
	}
}

// Refresh drops the cached rule set. The next Evaluate reloads defaults and
// stored rules.
func (e *Engine) Refresh() {
	e.mu.Lock()
	e.cached = nil
	e.loaded = false
	e.mu.Unlock()
}

// Rules returns the merged active rule set in evaluation order.
func (e *Engine) Rules(ctx context.Context) []model.Rule {
	rules := e.activeRules(ctx)
	out := make([]model.Rule, len(rules))
	copy(out, rules)
	return out
}

// SaveRule persists a custom rule and invalidates the cache.
func (e *Engine) SaveRule(ctx context.Context, r *model.Rule) error {
	if e.store == nil {
		return storage.ErrUnsupportedDriver
	}
	if err := e.store.SaveRule(ctx, r); err != nil {
		return err
	}
	e.Refresh()
	return nil
}

func (e *Engine) activeRules(ctx context.Context) []model.Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.cached
	}

	merged := DefaultRules()
	if e.store != nil {
		custom, err := e.store.ActiveRules(ctx)
		if err != nil {
			// Serve defaults and retry the load on the next evaluation.
			e.logger.Error("rule load failed", "error", err)
			return merged
		}
		merged = append(merged, custom...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Priority > merged[j].Priority
	})
	e.cached = merged
	e.loaded = true
	return e.cached
}

// DefaultRules is the built-in baseline: login rate limiting, API rate
// limiting, crawler user agents and proxy flags. Stored rules layer on top
// and can outrank them by priority.
func DefaultRules() []model.Rule {
	return []model.Rule{
		{
			Name:      "rate_limit_login",
			Condition: `request.path == "/login" && request_count("5m") > 5`,
			Level:     model.LevelHigh,
			Action: model.ActionDescriptor{
				Type:   "block",
				Params: map[string]any{"message": "Too many login attempts"},
			},
			Priority: 100,
			Terminal: true,
			Enabled:  true,
		},
		{
			Name:      "rate_limit_api",
			Condition: `request.path startsWith "/api/" && request_count("1m") > 100`,
			Level:     model.LevelMedium,
			Action: model.ActionDescriptor{
				Type:   "throttle",
				Params: map[string]any{"delay": 60},
			},
			Priority: 90,
			Enabled:  true,
		},
		{
			Name:      "suspicious_user_agent",
			Condition: `request.user_agent matches "(?i)(bot|crawler|spider)" && request.path != "/robots.txt"`,
			Level:     model.LevelMedium,
			Action: model.ActionDescriptor{
				Type:   "log",
				Params: map[string]any{"level": "warning", "message": "Suspicious user agent detected"},
			},
			Priority: 80,
			Enabled:  true,
		},
		{
			Name:      "proxy_ip_detected",
			Condition: `ip.is_proxy == true`,
			Level:     model.LevelMedium,
			Action: model.ActionDescriptor{
				Type:   "log",
				Params: map[string]any{"level": "warning", "message": "Proxy IP detected"},
			},
			Priority: 70,
			Enabled:  true,
		},
	}
}
