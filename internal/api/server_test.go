package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fraudguard/internal/action"
	"fraudguard/internal/config"
	"fraudguard/internal/detections"
	"fraudguard/internal/logging"
	"fraudguard/internal/metrics"
	"fraudguard/internal/model"
	"fraudguard/internal/profile"
	"fraudguard/internal/rule"
	"fraudguard/internal/storage"
)

func newServerForTest(t *testing.T) (*Server, *profile.Service, *detections.Store) {
	t.Helper()
	store := storage.NewMemory()
	collector := metrics.NewCollector(100)
	detectionStore := detections.NewStore(10, nil, logging.Nop())
	profiles := profile.NewService(store, logging.Nop())
	s := &Server{
		cfg:        config.NewStaticManager(config.DefaultConfig()),
		detections: detectionStore,
		profiles:   profiles,
		rules:      rule.NewEngine(store, rule.NewExprEvaluator(collector), logging.Nop()),
		executor:   action.NewExecutor(detectionStore, logging.Nop()),
		collector:  collector,
		detectors:  []string{"bot", "proxy"},
		logger:     logging.Nop(),
		version:    "test",
	}
	return s, profiles, detectionStore
}

func TestStatusEndpoint(t *testing.T) {
	s, _, _ := newServerForTest(t)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Detectors) != 2 {
		t.Fatalf("detectors = %v", resp.Detectors)
	}

	rec = httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("post status = %d", rec.Code)
	}
}

func TestProfileFlagUpdateAndLookup(t *testing.T) {
	s, _, _ := newServerForTest(t)

	body := `{"identifier_type":"user","identifier_value":"u1","blacklisted":true,"notes":"abuse"}`
	rec := httptest.NewRecorder()
	s.handleProfiles(rec, httptest.NewRequest(http.MethodPost, "/profiles", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("flag update = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.handleProfiles(rec, httptest.NewRequest(http.MethodGet, "/profiles?type=user&value=u1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup = %d", rec.Code)
	}
	var p model.Profile
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.Blacklisted || p.RiskLevel != model.LevelCritical {
		t.Fatalf("profile = %+v", p)
	}

	rec = httptest.NewRecorder()
	s.handleProfiles(rec, httptest.NewRequest(http.MethodGet, "/profiles?type=user&value=nobody", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing profile = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleProfiles(rec, httptest.NewRequest(http.MethodGet, "/profiles?type=planet&value=u1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad identifier type = %d", rec.Code)
	}
}

func TestProfileListing(t *testing.T) {
	s, profiles, _ := newServerForTest(t)
	ctx := context.Background()
	if _, err := profiles.SetFlags(ctx, model.IdentifierUser, "bad", false, true, ""); err != nil {
		t.Fatalf("seed blacklist: %v", err)
	}
	if _, err := profiles.SetFlags(ctx, model.IdentifierIP, "10.0.0.1", true, false, ""); err != nil {
		t.Fatalf("seed whitelist: %v", err)
	}

	type listResp struct {
		Profiles []model.Profile `json:"profiles"`
		Count    int             `json:"count"`
	}

	rec := httptest.NewRecorder()
	s.handleProfiles(rec, httptest.NewRequest(http.MethodGet, "/profiles?level=critical", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("level query = %d", rec.Code)
	}
	var byLevel listResp
	if err := json.Unmarshal(rec.Body.Bytes(), &byLevel); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if byLevel.Count != 1 || byLevel.Profiles[0].IdentifierValue != "bad" {
		t.Fatalf("by level = %+v", byLevel)
	}

	rec = httptest.NewRecorder()
	s.handleProfiles(rec, httptest.NewRequest(http.MethodGet, "/profiles?flagged=white", nil))
	var white listResp
	if err := json.Unmarshal(rec.Body.Bytes(), &white); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if white.Count != 1 || white.Profiles[0].IdentifierValue != "10.0.0.1" {
		t.Fatalf("whitelisted = %+v", white)
	}

	rec = httptest.NewRecorder()
	s.handleProfiles(rec, httptest.NewRequest(http.MethodGet, "/profiles?level=extreme", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown level = %d", rec.Code)
	}

	// No selector at all is a client error, not an unbounded dump.
	rec = httptest.NewRecorder()
	s.handleProfiles(rec, httptest.NewRequest(http.MethodGet, "/profiles", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing selector = %d", rec.Code)
	}
}

func TestDetectionsLimit(t *testing.T) {
	s, _, detectionStore := newServerForTest(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		detectionStore.Record(ctx, &model.DetectionLog{UserID: id, RiskLevel: model.LevelLow, CreatedAt: time.Now().UTC()})
	}

	rec := httptest.NewRecorder()
	s.handleDetections(rec, httptest.NewRequest(http.MethodGet, "/detections?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("detections = %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}

	rec = httptest.NewRecorder()
	s.handleDetections(rec, httptest.NewRequest(http.MethodGet, "/detections?since=not-a-time", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since = %d", rec.Code)
	}
}

func TestRulePostValidation(t *testing.T) {
	s, _, _ := newServerForTest(t)

	rec := httptest.NewRecorder()
	s.handleRules(rec, httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(`{"name":"no_condition"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("rule without condition = %d", rec.Code)
	}

	body := `{"name":"geo_block","condition":"ip.country == \"XX\"","level":"high","priority":50,"action":{"type":"block"}}`
	rec = httptest.NewRecorder()
	s.handleRules(rec, httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("rule save = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.handleRules(rec, httptest.NewRequest(http.MethodGet, "/rules", nil))
	if !strings.Contains(rec.Body.String(), "geo_block") {
		t.Fatalf("rules listing missing saved rule: %s", rec.Body.String())
	}
}

func TestRulePostEnabledFlag(t *testing.T) {
	s, _, _ := newServerForTest(t)

	// Omitting "enabled" defaults to an active rule.
	body := `{"name":"default_on","condition":"user.is_new == true","level":"medium","priority":10,"action":{"type":"log"}}`
	rec := httptest.NewRecorder()
	s.handleRules(rec, httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("save = %d: %s", rec.Code, rec.Body.String())
	}
	var saved model.Rule
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !saved.Enabled {
		t.Fatalf("omitted enabled should default to true")
	}

	// An explicit enabled:false stays disabled and out of the active set.
	body = `{"name":"staged_off","condition":"user.is_new == true","level":"medium","priority":10,"enabled":false,"action":{"type":"log"}}`
	rec = httptest.NewRecorder()
	s.handleRules(rec, httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("save disabled = %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if saved.Enabled {
		t.Fatalf("explicit enabled:false was overridden")
	}

	rec = httptest.NewRecorder()
	s.handleRules(rec, httptest.NewRequest(http.MethodGet, "/rules", nil))
	listing := rec.Body.String()
	if !strings.Contains(listing, "default_on") {
		t.Fatalf("active listing missing enabled rule: %s", listing)
	}
	if strings.Contains(listing, "staged_off") {
		t.Fatalf("disabled rule leaked into the active listing: %s", listing)
	}
}
