package guard

import (
	"context"
	"log/slog"
	"sync"

	"fraudguard/internal/action"
	"fraudguard/internal/config"
	"fraudguard/internal/metrics"
	"fraudguard/internal/model"
	"fraudguard/internal/rule"
	"fraudguard/internal/scorer"
)

// Guard is the assessment pipeline: record the event's metrics, ask the
// rule engine for an explicit verdict, and only when no rule overrides fall
// through to the weighted detector aggregation. Either path funnels into the
// action executor, which owns the audit trail.
type Guard struct {
	cfg      *config.Manager
	rules    *rule.Engine
	scorer   *scorer.Scorer
	executor *action.Executor
	metrics  *metrics.Collector
	logger   *slog.Logger

	events chan *model.Context
	wg     sync.WaitGroup
}

func New(cfg *config.Manager, rules *rule.Engine, sc *scorer.Scorer, executor *action.Executor, collector *metrics.Collector, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	buffer := cfg.Get().Ingest.ChannelBuffer
	if buffer <= 0 {
		buffer = 10000
	}
	return &Guard{
		cfg:      cfg,
		rules:    rules,
		scorer:   sc,
		executor: executor,
		metrics:  collector,
		logger:   logger,
		events:   make(chan *model.Context, buffer),
	}
}

// Events is the ingest channel. Producers use ingest.SendNonBlocking.
func (g *Guard) Events() chan<- *model.Context {
	return g.events
}

// Start consumes the event channel until ctx is canceled.
func (g *Guard) Start(ctx context.Context) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-g.events:
				if event == nil {
					continue
				}
				g.Process(ctx, event)
			}
		}
	}()
}

func (g *Guard) Wait() {
	g.wg.Wait()
}

// Process assesses one event and returns the outward response, or nil when
// the event passes. Every path fails open: an internal error lets the event
// through rather than blocking legitimate traffic.
func (g *Guard) Process(ctx context.Context, event *model.Context) *model.Response {
	g.observe(event)

	decision := g.rules.Evaluate(ctx, event)
	if len(decision.MatchedRules) > 0 && decision.ShouldAct() {
		g.logger.Info("rule override",
			"user_id", event.UserID,
			"ip", event.IP,
			"level", string(decision.Level),
			"rules", decision.MatchedRuleNames())
		return g.executeDecision(ctx, event, decision)
	}

	assessment := g.scorer.Assess(ctx, event)
	if assessment.Level == model.LevelLow {
		return nil
	}

	g.logger.Info("risk detected",
		"user_id", event.UserID,
		"ip", event.IP,
		"level", string(assessment.Level),
		"score", assessment.Score)

	act := g.actionForLevel(assessment.Level)
	if act == nil {
		return nil
	}
	return g.executor.Execute(ctx, act, event, assessment)
}

// executeDecision turns a rule decision into an executed action. The
// executor logs against an assessment, so the decision is lifted into one
// carrying the rule's level and matched rule names.
func (g *Guard) executeDecision(ctx context.Context, event *model.Context, decision model.Decision) *model.Response {
	assessment := model.NewAssessment(decision.Level.Weight(), decision.Level)
	assessment.Details["matched_rules"] = decision.MatchedRuleNames()
	for k, v := range decision.Details {
		assessment.Details[k] = v
	}
	act := action.FromDescriptor(decision.Action, g.logger)
	return g.executor.Execute(ctx, act, event, assessment)
}

// actionForLevel maps aggregated levels to responses: Critical blocks, High
// throttles, Medium is logged only.
func (g *Guard) actionForLevel(level model.RiskLevel) action.Action {
	switch level {
	case model.LevelCritical:
		return action.NewBlockAction("Access denied due to high risk activity")
	case model.LevelHigh:
		return action.NewThrottleAction(60)
	case model.LevelMedium:
		return action.NewLogAction(g.logger, "warning", "Elevated risk activity observed")
	}
	return nil
}

// observe folds the event into the windowed counters the detectors and rule
// conditions read.
func (g *Guard) observe(event *model.Context) {
	if g.metrics == nil {
		return
	}
	if event.IP != "" {
		g.metrics.RecordRequest(event.IP)
	}
	if event.UserID != "" {
		g.metrics.RecordRequest(event.UserID)
		g.metrics.RecordPath(event.UserID, event.Path())
		g.metrics.RecordAction(event.UserID, event.Action)
		if event.IP != "" {
			g.metrics.RecordUser(event.IP, "ip", event.UserID)
		}
		if fp := event.StringAttribute("device_fingerprint"); fp != "" {
			g.metrics.RecordUser(fp, "device", event.UserID)
		}
		if event.Action == "login" {
			g.metrics.RecordLogin(event.UserID)
		}
		if event.BoolAttribute("is_error") {
			g.metrics.RecordError(event.UserID)
		}
		if data, ok := event.Attribute("score_data"); ok {
			if m, ok := data.(map[string]any); ok {
				if score, ok := numeric(m["current_score"]); ok {
					g.metrics.RecordScore(event.UserID, score)
				}
			}
		}
	}
	if event.SessionID != "" {
		at := event.Timestamp
		g.metrics.RecordSessionAction(event.SessionID, float64(at.UnixNano())/1e9)
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
