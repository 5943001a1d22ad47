package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"fraudguard/internal/config"
	"fraudguard/internal/model"
)

func TestProfileRoundTrip(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if _, err := store.FindProfile(ctx, "user", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	p := model.NewProfile("user", "u1")
	p.RiskScore = 0.42
	if err := store.InsertProfile(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if p.ID == 0 || p.Version != 1 {
		t.Fatalf("insert did not stamp id/version: %d/%d", p.ID, p.Version)
	}

	got, err := store.FindProfile(ctx, "user", "u1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.RiskScore != 0.42 {
		t.Fatalf("risk score = %v, want 0.42", got.RiskScore)
	}

	// The returned profile is a copy; mutating it must not leak into the
	// store.
	got.RiskScore = 0.9
	again, _ := store.FindProfile(ctx, "user", "u1")
	if again.RiskScore != 0.42 {
		t.Fatalf("store mutated through a returned copy")
	}
}

func TestUpdateProfileVersionConflict(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	p := model.NewProfile("ip", "198.51.100.1")
	if err := store.InsertProfile(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	a, _ := store.FindProfile(ctx, "ip", "198.51.100.1")
	b, _ := store.FindProfile(ctx, "ip", "198.51.100.1")

	a.TotalDetections = 1
	if err := store.UpdateProfile(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}
	b.TotalDetections = 5
	if err := store.UpdateProfile(ctx, b); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, _ := store.FindProfile(ctx, "ip", "198.51.100.1")
	if got.TotalDetections != 1 || got.Version != 2 {
		t.Fatalf("state = %d/%d, want 1/2", got.TotalDetections, got.Version)
	}
}

func TestUpdateMissingProfile(t *testing.T) {
	store := NewMemory()
	p := model.NewProfile("user", "ghost")
	if err := store.UpdateProfile(context.Background(), p); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRuleSaveAndActiveOrder(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	first := &model.Rule{Name: "a", Condition: "true", Enabled: true}
	second := &model.Rule{Name: "b", Condition: "true", Enabled: true}
	disabled := &model.Rule{Name: "c", Condition: "true", Enabled: false}
	for _, r := range []*model.Rule{first, second, disabled} {
		if err := store.SaveRule(ctx, r); err != nil {
			t.Fatalf("save %s: %v", r.Name, err)
		}
	}

	active, err := store.ActiveRules(ctx)
	if err != nil {
		t.Fatalf("active rules: %v", err)
	}
	if len(active) != 2 || active[0].Name != "a" || active[1].Name != "b" {
		t.Fatalf("active = %v", active)
	}

	// Updating an existing rule bumps its version in place.
	first.Condition = "false"
	if err := store.SaveRule(ctx, first); err != nil {
		t.Fatalf("update rule: %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("version = %d, want 2", first.Version)
	}

	stale := &model.Rule{ID: second.ID, Name: "b", Condition: "x", Enabled: true, Version: 99}
	if err := store.SaveRule(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestRecentLogsMostRecentFirst(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		log := &model.DetectionLog{UserID: string(rune('a' + i)), RiskLevel: model.LevelLow}
		if err := store.SaveDetectionLog(ctx, log); err != nil {
			t.Fatalf("save log: %v", err)
		}
	}
	logs, err := store.RecentLogs(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(logs) != 2 || logs[0].UserID != "c" || logs[1].UserID != "b" {
		t.Fatalf("recent = %v", logs)
	}
}

func TestDeleteInactiveProfilesKeepsDetections(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	quiet := model.NewProfile("user", "quiet")
	busy := model.NewProfile("user", "busy")
	busy.TotalDetections = 3
	for _, p := range []*model.Profile{quiet, busy} {
		if err := store.InsertProfile(ctx, p); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	n, err := store.DeleteInactiveProfiles(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
	if _, err := store.FindProfile(ctx, "user", "busy"); err != nil {
		t.Fatalf("busy profile deleted: %v", err)
	}
}

func TestNewStoreDriverSelection(t *testing.T) {
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"}); !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
	store, err := NewStore(config.StorageConfig{Enabled: false, Driver: "oracle"})
	if err != nil || store != nil {
		t.Fatalf("disabled storage = %v/%v, want nil/nil", store, err)
	}
	store, err = NewStore(config.StorageConfig{Enabled: true, Driver: "memory"})
	if err != nil || store == nil {
		t.Fatalf("memory driver = %v/%v", store, err)
	}
}
