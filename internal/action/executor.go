package action

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fraudguard/internal/model"
)

// Sink receives the audit record written for every action attempt.
type Sink interface {
	Record(ctx context.Context, log *model.DetectionLog)
}

// Execution is one completed action attempt kept for statistics.
type Execution struct {
	ActionName string
	Response   *model.Response
	Success    bool
	ExecutedAt time.Time
	Duration   time.Duration
}

// Stats aggregates execution timings per action type.
type Stats struct {
	Count         int           `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// Executor runs actions and writes one audit record per attempt, success or
// failure. Action failures never propagate: the request proceeds as if the
// action had been a no-op.
type Executor struct {
	sink   Sink
	logger *slog.Logger

	mu        sync.Mutex
	executed  []Execution
	keepLimit int
}

func NewExecutor(sink Sink, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{sink: sink, logger: logger, keepLimit: 1000}
}

func (e *Executor) Execute(ctx context.Context, act Action, event *model.Context, assessment *model.Assessment) *model.Response {
	start := time.Now()

	response, err := e.runAction(ctx, act, event)
	duration := time.Since(start)
	success := err == nil

	if err != nil {
		e.logger.Error("action execution failed", "action", act.Name(), "error", err)
	}
	e.record(ctx, act, event, assessment, response, err)

	e.mu.Lock()
	e.executed = append(e.executed, Execution{
		ActionName: act.Name(),
		Response:   response,
		Success:    success,
		ExecutedAt: start.UTC(),
		Duration:   duration,
	})
	if len(e.executed) > e.keepLimit {
		e.executed = e.executed[len(e.executed)-e.keepLimit:]
	}
	e.mu.Unlock()

	if err != nil {
		return nil
	}
	return response
}

// ExecuteMultiple runs actions in order. A blocking response (status >= 400)
// returns immediately and skips the rest; otherwise the first non-nil
// response wins.
func (e *Executor) ExecuteMultiple(ctx context.Context, actions []Action, event *model.Context, assessment *model.Assessment) *model.Response {
	var first *model.Response
	for _, act := range actions {
		if act == nil {
			continue
		}
		response := e.Execute(ctx, act, event, assessment)
		if response.Blocking() {
			return response
		}
		if response != nil && first == nil {
			first = response
		}
	}
	return first
}

func (e *Executor) runAction(ctx context.Context, act Action, event *model.Context) (response *model.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return act.Execute(ctx, event)
}

func (e *Executor) record(ctx context.Context, act Action, event *model.Context, assessment *model.Assessment, response *model.Response, execErr error) {
	if e.sink == nil {
		return
	}

	log := &model.DetectionLog{
		UserID:        event.UserID,
		SessionID:     event.SessionID,
		IPAddress:     event.IP,
		UserAgent:     event.UserAgent,
		Action:        event.Action,
		ActionTaken:   act.Name(),
		RequestPath:   event.Path(),
		RequestMethod: event.Method(),
		CountryCode:   event.IPCountry(),
		IsProxy:       event.IsProxyIP(),
		IsBot:         event.BoolAttribute("is_bot"),
		CreatedAt:     time.Now().UTC(),
	}
	if headers := event.Headers(); len(headers) > 0 {
		log.RequestHeaders = headers
	}
	if rt, ok := event.FloatAttribute("response_time"); ok {
		log.ResponseTimeMs = int(rt)
	}

	details := map[string]any{
		"action_executed": act.Name(),
		"action_success":  execErr == nil,
	}
	if execErr != nil {
		details["action_error"] = execErr.Error()
	}
	if response != nil {
		details["response_status"] = response.Status
		log.ActionDetails = map[string]any{
			"status":  response.Status,
			"message": response.Message,
		}
	}

	if assessment != nil {
		log.RiskLevel = assessment.Level
		log.RiskScore = assessment.Score
		details["assessment_details"] = assessment.Details

		matched := make(map[string]any)
		for name, v := range assessment.Verdicts {
			if v.Level == model.LevelLow {
				continue
			}
			matched[name] = map[string]any{
				"detector":   name,
				"risk_level": string(v.Level),
			}
		}
		if len(matched) > 0 {
			log.MatchedRules = matched
		}
	} else {
		log.RiskLevel = model.LevelLow
	}
	log.DetectionDetails = details

	e.sink.Record(ctx, log)
}

// Executed returns the retained execution history, oldest first.
func (e *Executor) Executed() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Execution, len(e.executed))
	copy(out, e.executed)
	return out
}

func (e *Executor) ClearExecuted() {
	e.mu.Lock()
	e.executed = nil
	e.mu.Unlock()
}

// Statistics aggregates the retained executions per action type.
func (e *Executor) Statistics() map[string]Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := make(map[string]Stats)
	for _, exec := range e.executed {
		s := stats[exec.ActionName]
		s.Count++
		s.TotalDuration += exec.Duration
		s.AvgDuration = s.TotalDuration / time.Duration(s.Count)
		stats[exec.ActionName] = s
	}
	return stats
}
