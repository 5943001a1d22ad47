package rule

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"fraudguard/internal/metrics"
	"fraudguard/internal/model"
)

// Evaluator decides whether a rule's condition holds for an event. The
// engine treats an error as a non-match, so a broken condition can never
// block traffic.
type Evaluator interface {
	Matches(r model.Rule, event *model.Context) (bool, error)
}

// ExprEvaluator evaluates rule conditions with expr. Compiled programs are
// cached by condition text; the per-event variable environment is rebuilt on
// every call.
//
// Conditions see these variables:
//
//	request.path, request.method, request.user_agent, request.ip
//	user.id, user.is_new
//	ip.country, ip.is_proxy
//	form.submit_time
//
// plus request_count(window), which counts requests from the event's IP
// inside the window ("1m", "5m", "1h", ...).
type ExprEvaluator struct {
	collector *metrics.Collector

	mu       sync.Mutex
	programs map[string]*vm.Program
}

func NewExprEvaluator(collector *metrics.Collector) *ExprEvaluator {
	return &ExprEvaluator{
		collector: collector,
		programs:  make(map[string]*vm.Program),
	}
}

func (e *ExprEvaluator) Matches(r model.Rule, event *model.Context) (bool, error) {
	if !r.Enabled {
		return false, nil
	}
	program, err := e.compile(r.Condition)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, e.environment(event))
	if err != nil {
		return false, err
	}
	matched, ok := out.(bool)
	return ok && matched, nil
}

func (e *ExprEvaluator) compile(condition string) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok := e.programs[condition]; ok {
		return program, nil
	}
	program, err := expr.Compile(condition, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}
	e.programs[condition] = program
	return program, nil
}

func (e *ExprEvaluator) environment(event *model.Context) map[string]any {
	submitTime, _ := event.FormSubmitTime()
	return map[string]any{
		"request": map[string]any{
			"path":       event.Path(),
			"method":     event.Method(),
			"user_agent": event.UserAgent,
			"ip":         event.IP,
		},
		"user": map[string]any{
			"id":     event.UserID,
			"is_new": event.IsNewUser(),
		},
		"ip": map[string]any{
			"country":  event.IPCountry(),
			"is_proxy": event.IsProxyIP(),
		},
		"form": map[string]any{
			"submit_time": submitTime,
		},
		"request_count": func(window string) int {
			if e.collector == nil {
				return 0
			}
			return e.collector.RequestCount(event.IP, window)
		},
	}
}
