package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fraudguard/internal/action"
	"fraudguard/internal/config"
	"fraudguard/internal/detections"
	"fraudguard/internal/metrics"
	"fraudguard/internal/model"
	"fraudguard/internal/profile"
	"fraudguard/internal/rule"
)

type Server struct {
	cfg        *config.Manager
	detections *detections.Store
	profiles   *profile.Service
	rules      *rule.Engine
	executor   *action.Executor
	collector  *metrics.Collector
	detectors  []string
	logger     *slog.Logger
	version    string
}

type statusResponse struct {
	Status    string       `json:"status"`
	Time      string       `json:"time"`
	Version   string       `json:"version"`
	Ingest    ingestStatus `json:"ingest"`
	Detectors []string     `json:"detectors"`
	Storage   string       `json:"storage"`
}

type ingestStatus struct {
	REST  bool `json:"rest"`
	Kafka bool `json:"kafka"`
}

func Start(ctx context.Context, cfg *config.Manager, detectionStore *detections.Store, profiles *profile.Service, rules *rule.Engine, executor *action.Executor, collector *metrics.Collector, detectorNames []string, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:        cfg,
		detections: detectionStore,
		profiles:   profiles,
		rules:      rules,
		executor:   executor,
		collector:  collector,
		detectors:  detectorNames,
		logger:     logger,
		version:    version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/detections", server.handleDetections)
	mux.HandleFunc("/profiles", server.handleProfiles)
	mux.HandleFunc("/rules", server.handleRules)
	mux.HandleFunc("/rules/refresh", server.handleRulesRefresh)
	mux.HandleFunc("/actions/stats", server.handleActionStats)
	mux.HandleFunc("/admin/clear", server.handleClear)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	storageDriver := "disabled"
	if cfg.Storage.Enabled {
		storageDriver = cfg.Storage.Driver
	}
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
		Ingest: ingestStatus{
			REST:  cfg.Ingest.REST.Enabled,
			Kafka: cfg.Ingest.Kafka.Enabled,
		},
		Detectors: s.detectors,
		Storage:   storageDriver,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.DetectionLog
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.detections.Since(ts)
	} else {
		list = s.detections.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detections": list,
		"count":      len(list),
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		if q.Get("value") == "" {
			s.listProfiles(w, r)
			return
		}
		typ := q.Get("type")
		value := q.Get("value")
		p, err := s.profiles.Lookup(r.Context(), typ, value)
		if errors.Is(err, profile.ErrInvalidIdentifierType) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if p == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			IdentifierType  string `json:"identifier_type"`
			IdentifierValue string `json:"identifier_value"`
			Whitelisted     bool   `json:"whitelisted"`
			Blacklisted     bool   `json:"blacklisted"`
			Notes           string `json:"notes"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.IdentifierValue == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p, err := s.profiles.SetFlags(r.Context(), req.IdentifierType, req.IdentifierValue, req.Whitelisted, req.Blacklisted, req.Notes)
		if errors.Is(err, profile.ErrInvalidIdentifierType) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// listProfiles serves the collection queries: ?level=, ?flagged=black|white,
// ?active_since=<RFC3339>. Exactly one selector is required.
func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var (
		list []*model.Profile
		err  error
	)
	switch {
	case q.Get("level") != "":
		level := model.RiskLevel(strings.ToLower(q.Get("level")))
		if !level.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown risk level"})
			return
		}
		list, err = s.profiles.ByLevel(r.Context(), level, limit)
	case q.Get("flagged") != "":
		switch strings.ToLower(q.Get("flagged")) {
		case "black", "blacklisted":
			list, err = s.profiles.Flagged(r.Context(), true)
		case "white", "whitelisted":
			list, err = s.profiles.Flagged(r.Context(), false)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "flagged must be black or white"})
			return
		}
	case q.Get("active_since") != "":
		ts, perr := time.Parse(time.RFC3339, q.Get("active_since"))
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "active_since must be RFC3339"})
			return
		}
		list, err = s.profiles.RecentlyActive(r.Context(), ts, limit)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing value, level, flagged or active_since selector"})
		return
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*model.Profile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": list,
		"count":    len(list),
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"rules": s.rules.Rules(r.Context()),
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		// Rules default to enabled; an explicit "enabled": false is kept so
		// operators can stage rules before switching them on.
		var req struct {
			model.Rule
			Enabled *bool `json:"enabled"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Name == "" || req.Condition == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		newRule := req.Rule
		if !newRule.Level.Valid() {
			newRule.Level = model.LevelMedium
		}
		newRule.Enabled = req.Enabled == nil || *req.Enabled
		if err := s.rules.SaveRule(r.Context(), &newRule); err != nil {
			s.logger.Error("rule save failed", "rule", newRule.Name, "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, newRule)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRulesRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.rules.Refresh()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleActionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": s.executor.Statistics(),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.detections.Clear()
		s.executor.ClearExecuted()
		if s.collector != nil {
			s.collector.Clear()
		}
	case "detections", "logs":
		s.detections.Clear()
	case "metrics":
		if s.collector != nil {
			s.collector.Clear()
		}
	case "actions":
		s.executor.ClearExecuted()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
