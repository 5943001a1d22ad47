package action

import (
	"context"
	"sync"
	"testing"

	"fraudguard/internal/logging"
	"fraudguard/internal/model"
)

type captureSink struct {
	mu   sync.Mutex
	logs []*model.DetectionLog
}

func (s *captureSink) Record(ctx context.Context, log *model.DetectionLog) {
	s.mu.Lock()
	s.logs = append(s.logs, log)
	s.mu.Unlock()
}

type panicAction struct{}

func (panicAction) Name() string { return "panic" }

func (panicAction) Execute(ctx context.Context, event *model.Context) (*model.Response, error) {
	panic("action blew up")
}

func testEvent() *model.Context {
	return model.NewContext("u1", "s1", "203.0.113.7", "Mozilla/5.0 Chrome", "view_page")
}

func TestBlockActionResponse(t *testing.T) {
	act := NewBlockAction("Access denied due to high risk activity")
	resp, err := act.Execute(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != 403 {
		t.Fatalf("status = %d, want 403", resp.Status)
	}
	if resp.Message != "Access denied due to high risk activity" {
		t.Fatalf("message = %q", resp.Message)
	}
	if !resp.Blocking() {
		t.Fatalf("403 response should be blocking")
	}
}

func TestThrottleActionHeaders(t *testing.T) {
	act := NewThrottleAction(60)
	act.RateLimit = 100
	act.RateLimitRemaining = 5
	resp, err := act.Execute(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp.Status != 429 {
		t.Fatalf("status = %d, want 429", resp.Status)
	}
	if resp.Headers["Retry-After"] != "60" {
		t.Fatalf("Retry-After = %q, want 60", resp.Headers["Retry-After"])
	}
	if resp.Headers["X-RateLimit-Limit"] != "100" || resp.Headers["X-RateLimit-Remaining"] != "5" {
		t.Fatalf("rate limit headers = %v", resp.Headers)
	}
	if _, ok := resp.Headers["X-RateLimit-Reset"]; ok {
		t.Fatalf("unset reset header should be omitted")
	}
}

func TestLogActionPassesThrough(t *testing.T) {
	act := NewLogAction(logging.Nop(), "warning", "suspicious request")
	resp, err := act.Execute(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if resp != nil {
		t.Fatalf("log action response = %v, want nil", resp)
	}
}

func TestFromDescriptor(t *testing.T) {
	block := FromDescriptor(model.ActionDescriptor{
		Type:   "block",
		Params: map[string]any{"message": "nope"},
	}, logging.Nop())
	if block.Name() != "block" {
		t.Fatalf("type = %s, want block", block.Name())
	}
	if block.(*BlockAction).Message != "nope" {
		t.Fatalf("message = %q", block.(*BlockAction).Message)
	}

	throttle := FromDescriptor(model.ActionDescriptor{
		Type:   "throttle",
		Params: map[string]any{"delay": 30},
	}, logging.Nop())
	if throttle.(*ThrottleAction).RetryAfter != 30 {
		t.Fatalf("retry after = %d, want 30", throttle.(*ThrottleAction).RetryAfter)
	}

	// Unknown types degrade to logging.
	other := FromDescriptor(model.ActionDescriptor{Type: "quarantine"}, logging.Nop())
	if other.Name() != "log" {
		t.Fatalf("fallback type = %s, want log", other.Name())
	}
}

func TestExecutorRecordsEveryAttempt(t *testing.T) {
	sink := &captureSink{}
	ex := NewExecutor(sink, logging.Nop())
	assessment := model.NewAssessment(0.8, model.LevelHigh)
	assessment.Verdicts = map[string]model.Verdict{
		"proxy": model.NewVerdict(model.LevelHigh, "Proxy or VPN detected"),
		"bot":   model.NewVerdict(model.LevelLow),
	}

	resp := ex.Execute(context.Background(), NewThrottleAction(60), testEvent(), assessment)
	if resp == nil || resp.Status != 429 {
		t.Fatalf("response = %v, want 429", resp)
	}

	// A panicking action still produces an audit record and a nil response.
	resp = ex.Execute(context.Background(), panicAction{}, testEvent(), assessment)
	if resp != nil {
		t.Fatalf("failed action response = %v, want nil", resp)
	}

	if len(sink.logs) != 2 {
		t.Fatalf("audit records = %d, want 2", len(sink.logs))
	}
	first := sink.logs[0]
	if first.ActionTaken != "throttle" || first.RiskLevel != model.LevelHigh {
		t.Fatalf("first record = %s/%s", first.ActionTaken, first.RiskLevel)
	}
	if _, ok := first.MatchedRules["proxy"]; !ok {
		t.Fatalf("high verdict missing from matched rules: %v", first.MatchedRules)
	}
	if _, ok := first.MatchedRules["bot"]; ok {
		t.Fatalf("low verdict should not appear in matched rules")
	}
	second := sink.logs[1]
	if ok, _ := second.DetectionDetails["action_success"].(bool); ok {
		t.Fatalf("failed attempt recorded as success")
	}
	if _, ok := second.DetectionDetails["action_error"]; !ok {
		t.Fatalf("failed attempt missing action_error detail")
	}
}

func TestExecuteMultipleStopsAtBlockingResponse(t *testing.T) {
	sink := &captureSink{}
	ex := NewExecutor(sink, logging.Nop())
	actions := []Action{
		NewLogAction(logging.Nop(), "warning", "first"),
		NewBlockAction(""),
		NewThrottleAction(60),
	}
	resp := ex.ExecuteMultiple(context.Background(), actions, testEvent(), nil)
	if resp == nil || resp.Status != 403 {
		t.Fatalf("response = %v, want 403", resp)
	}
	// The throttle after the block never ran.
	if len(sink.logs) != 2 {
		t.Fatalf("audit records = %d, want 2", len(sink.logs))
	}
}

func TestExecuteMultipleSkipsNilAndPassThroughActions(t *testing.T) {
	ex := NewExecutor(nil, logging.Nop())
	throttleA := NewThrottleAction(30)
	throttleA.Message = "slow down"
	actions := []Action{
		nil,
		NewLogAction(logging.Nop(), "info", ""),
		throttleA,
	}
	resp := ex.ExecuteMultiple(context.Background(), actions, testEvent(), nil)
	if resp == nil || resp.Message != "slow down" {
		t.Fatalf("response = %v, want the throttle response", resp)
	}
}

func TestStatistics(t *testing.T) {
	ex := NewExecutor(nil, logging.Nop())
	for i := 0; i < 3; i++ {
		ex.Execute(context.Background(), NewThrottleAction(60), testEvent(), nil)
	}
	ex.Execute(context.Background(), NewBlockAction(""), testEvent(), nil)

	stats := ex.Statistics()
	if stats["throttle"].Count != 3 {
		t.Fatalf("throttle count = %d, want 3", stats["throttle"].Count)
	}
	if stats["block"].Count != 1 {
		t.Fatalf("block count = %d, want 1", stats["block"].Count)
	}
	if len(ex.Executed()) != 4 {
		t.Fatalf("executed history = %d, want 4", len(ex.Executed()))
	}

	ex.ClearExecuted()
	if len(ex.Executed()) != 0 {
		t.Fatalf("history not cleared")
	}
}
