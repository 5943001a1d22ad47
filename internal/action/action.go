package action

import (
	"context"
	"log/slog"
	"strconv"

	"fraudguard/internal/model"
)

// Action turns a decision into an outward response. A nil response means
// the action is write-only and the request proceeds.
type Action interface {
	Name() string
	Execute(ctx context.Context, event *model.Context) (*model.Response, error)
}

// BlockAction denies the request outright.
type BlockAction struct {
	Message string
	Status  int
	Headers map[string]string
}

func NewBlockAction(message string) *BlockAction {
	if message == "" {
		message = "Access denied"
	}
	return &BlockAction{Message: message, Status: 403}
}

func (a *BlockAction) Name() string { return "block" }

func (a *BlockAction) Execute(ctx context.Context, event *model.Context) (*model.Response, error) {
	status := a.Status
	if status == 0 {
		status = 403
	}
	headers := make(map[string]string, len(a.Headers))
	for k, v := range a.Headers {
		headers[k] = v
	}
	return &model.Response{Status: status, Message: a.Message, Headers: headers}, nil
}

// ThrottleAction slows the caller down with a 429 and Retry-After. The
// X-RateLimit-* headers are emitted only when set.
type ThrottleAction struct {
	RetryAfter         int
	Message            string
	RateLimit          int
	RateLimitRemaining int
	RateLimitReset     int64
}

func NewThrottleAction(retryAfter int) *ThrottleAction {
	if retryAfter <= 0 {
		retryAfter = 60
	}
	return &ThrottleAction{RetryAfter: retryAfter, Message: "Too Many Requests"}
}

func (a *ThrottleAction) Name() string { return "throttle" }

func (a *ThrottleAction) Execute(ctx context.Context, event *model.Context) (*model.Response, error) {
	headers := map[string]string{
		"Retry-After": strconv.Itoa(a.RetryAfter),
	}
	if a.RateLimit > 0 {
		headers["X-RateLimit-Limit"] = strconv.Itoa(a.RateLimit)
	}
	if a.RateLimitRemaining > 0 {
		headers["X-RateLimit-Remaining"] = strconv.Itoa(a.RateLimitRemaining)
	}
	if a.RateLimitReset > 0 {
		headers["X-RateLimit-Reset"] = strconv.FormatInt(a.RateLimitReset, 10)
	}
	message := a.Message
	if message == "" {
		message = "Too Many Requests"
	}
	return &model.Response{Status: 429, Message: message, Headers: headers}, nil
}

// LogAction records the event and lets the request through.
type LogAction struct {
	Logger   *slog.Logger
	Severity string
	Message  string
}

func NewLogAction(logger *slog.Logger, severity, message string) *LogAction {
	if logger == nil {
		logger = slog.Default()
	}
	if severity == "" {
		severity = "info"
	}
	if message == "" {
		message = "Risk detection triggered"
	}
	return &LogAction{Logger: logger, Severity: severity, Message: message}
}

func (a *LogAction) Name() string { return "log" }

func (a *LogAction) Execute(ctx context.Context, event *model.Context) (*model.Response, error) {
	attrs := []any{
		"path", event.Path(),
		"method", event.Method(),
		"ip", event.IP,
		"user_agent", event.UserAgent,
		"user_id", event.UserID,
	}
	switch a.Severity {
	case "debug":
		a.Logger.Debug(a.Message, attrs...)
	case "warning", "warn":
		a.Logger.Warn(a.Message, attrs...)
	case "error", "critical":
		a.Logger.Error(a.Message, attrs...)
	default:
		a.Logger.Info(a.Message, attrs...)
	}
	return nil, nil
}

// FromDescriptor builds an action from a rule's stored descriptor. Unknown
// types degrade to a log action.
func FromDescriptor(d model.ActionDescriptor, logger *slog.Logger) Action {
	params := d.Params
	switch d.Type {
	case "block":
		return NewBlockAction(stringParam(params, "message"))
	case "throttle":
		return NewThrottleAction(intParam(params, "delay"))
	default:
		return NewLogAction(logger, stringParam(params, "level"), stringParam(params, "message"))
	}
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}

func intParam(params map[string]any, key string) int {
	if params == nil {
		return 0
	}
	switch n := params[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
