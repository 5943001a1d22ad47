package ingest

import (
	"errors"
	"testing"
	"time"
)

func TestParseEventBytes(t *testing.T) {
	data := []byte(`{
		"user_id": "u1",
		"session_id": "s1",
		"ip": "203.0.113.7",
		"user_agent": "Mozilla/5.0 Chrome",
		"action": "login",
		"timestamp": "2026-08-01T12:00:00Z",
		"attributes": {"path": "/login", "is_proxy": true, "response_time": 42.5}
	}`)
	event, err := ParseEventBytes(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.UserID != "u1" || event.IP != "203.0.113.7" || event.Action != "login" {
		t.Fatalf("identity = %s/%s/%s", event.UserID, event.IP, event.Action)
	}
	want := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if !event.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", event.Timestamp, want)
	}
	if event.Path() != "/login" {
		t.Fatalf("path attribute = %q", event.Path())
	}
	if !event.IsProxyIP() {
		t.Fatalf("is_proxy attribute lost")
	}
	if rt, ok := event.FloatAttribute("response_time"); !ok || rt != 42.5 {
		t.Fatalf("response_time = %v/%v", rt, ok)
	}
}

func TestParseEventAliasKeys(t *testing.T) {
	data := []byte(`{
		"userId": "u2",
		"sessionId": "s2",
		"ip_address": "198.51.100.4",
		"ua": "curl/8.5",
		"event_type": "login",
		"time": "2026-08-02T09:30:00Z"
	}`)
	event, err := ParseEventBytes(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.UserID != "u2" || event.SessionID != "s2" || event.IP != "198.51.100.4" {
		t.Fatalf("identity = %s/%s/%s", event.UserID, event.SessionID, event.IP)
	}
	if event.UserAgent != "curl/8.5" || event.Action != "login" {
		t.Fatalf("ua/action = %s/%s", event.UserAgent, event.Action)
	}
	want := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	if !event.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", event.Timestamp, want)
	}

	// Canonical keys win over their aliases.
	event, err = ParseEventBytes([]byte(`{"user_id": "primary", "userId": "alias", "ip": "203.0.113.1", "remote_addr": "10.0.0.1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.UserID != "primary" || event.IP != "203.0.113.1" {
		t.Fatalf("precedence = %s/%s", event.UserID, event.IP)
	}
}

func TestParseEventRequiresIdentity(t *testing.T) {
	_, err := ParseEventBytes([]byte(`{"action": "view_page"}`))
	if !errors.Is(err, errMissingIdentity) {
		t.Fatalf("expected identity error, got %v", err)
	}
}

func TestParseEventIPOnly(t *testing.T) {
	event, err := ParseEventBytes([]byte(`{"ip": "198.51.100.9"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.IP != "198.51.100.9" {
		t.Fatalf("ip = %q", event.IP)
	}
}

func TestParseEventBadJSON(t *testing.T) {
	if _, err := ParseEventBytes([]byte(`{"user_id": `)); err == nil {
		t.Fatalf("expected a decode error")
	}
}

func TestParseEventIgnoresBadTimestamp(t *testing.T) {
	event, err := ParseEventBytes([]byte(`{"user_id": "u1", "timestamp": "yesterday"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Timestamp.IsZero() {
		t.Fatalf("timestamp should fall back to receipt time")
	}
}
