package ingest

import (
	"encoding/json"
	"errors"
	"time"

	"fraudguard/internal/model"
)

var errMissingIdentity = errors.New("event requires user_id, session_id or ip")

// eventPayload is the wire shape of one behavior event. Producers are not
// uniform, so the common alias keys are accepted next to the canonical ones;
// the canonical key wins when both are present. Unknown attribute keys pass
// through into the context attribute map untouched.
type eventPayload struct {
	UserID     string         `json:"user_id"`
	UserIDAlt  string         `json:"userId"`
	SessionID  string         `json:"session_id"`
	SessionAlt string         `json:"sessionId"`
	IP         string         `json:"ip"`
	IPAddress  string         `json:"ip_address"`
	RemoteAddr string         `json:"remote_addr"`
	UserAgent  string         `json:"user_agent"`
	UA         string         `json:"ua"`
	Action     string         `json:"action"`
	EventType  string         `json:"event_type"`
	Timestamp  string         `json:"timestamp"`
	Time       string         `json:"time"`
	Attributes map[string]any `json:"attributes"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func ParseEventBytes(data []byte) (*model.Context, error) {
	var payload eventPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return contextFromPayload(payload)
}

func contextFromPayload(payload eventPayload) (*model.Context, error) {
	userID := firstNonEmpty(payload.UserID, payload.UserIDAlt)
	sessionID := firstNonEmpty(payload.SessionID, payload.SessionAlt)
	ip := firstNonEmpty(payload.IP, payload.IPAddress, payload.RemoteAddr)
	if userID == "" && sessionID == "" && ip == "" {
		return nil, errMissingIdentity
	}
	userAgent := firstNonEmpty(payload.UserAgent, payload.UA)
	action := firstNonEmpty(payload.Action, payload.EventType)
	event := model.NewContext(userID, sessionID, ip, userAgent, action)
	if raw := firstNonEmpty(payload.Timestamp, payload.Time); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			event.Timestamp = ts.UTC()
		}
	}
	for key, value := range payload.Attributes {
		event.SetAttribute(key, value)
	}
	return event, nil
}
