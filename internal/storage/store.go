package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"fraudguard/internal/config"
	"fraudguard/internal/model"
)

var (
	ErrNotFound          = errors.New("storage: not found")
	ErrVersionConflict   = errors.New("storage: version conflict")
	ErrUnsupportedDriver = errors.New("storage: unsupported driver")
)

// Store is the durable record store behind profiles, rules and the audit
// log. Profile updates are compare-and-swap on the version column; callers
// retry the find-update sequence on ErrVersionConflict.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	FindProfile(ctx context.Context, identifierType, identifierValue string) (*model.Profile, error)
	InsertProfile(ctx context.Context, p *model.Profile) error
	UpdateProfile(ctx context.Context, p *model.Profile) error
	ProfilesByLevel(ctx context.Context, level model.RiskLevel, limit int) ([]*model.Profile, error)
	FlaggedProfiles(ctx context.Context, blacklisted bool) ([]*model.Profile, error)
	RecentlyActiveProfiles(ctx context.Context, since time.Time, limit int) ([]*model.Profile, error)
	DeleteInactiveProfiles(ctx context.Context, before time.Time) (int64, error)

	ActiveRules(ctx context.Context) ([]model.Rule, error)
	SaveRule(ctx context.Context, r *model.Rule) error

	SaveDetectionLog(ctx context.Context, log *model.DetectionLog) error
	RecentLogs(ctx context.Context, limit int) ([]model.DetectionLog, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, ErrUnsupportedDriver
	}
}

type sqlStore struct {
	db       *sql.DB
	postgres bool
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres. Queries are written
// once in sqlite form and shared across both drivers.
func (s *sqlStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func encodeJSON(value any) string {
	if value == nil {
		return "{}"
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeJSONMap(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}

func decodeHeaderMap(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

const profileColumns = `id, identifier_type, identifier_value, risk_level, risk_score,
	total_detections, high_risk_detections, medium_risk_detections, low_risk_detections,
	blocked_actions, throttled_actions, risk_factors_json, behavior_patterns_json,
	last_high_risk_at, last_detection_at, is_whitelisted, is_blacklisted, notes,
	created_at, updated_at, version`

func (s *sqlStore) FindProfile(ctx context.Context, identifierType, identifierValue string) (*model.Profile, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+profileColumns+` FROM fraud_profiles
		WHERE identifier_type = ? AND identifier_value = ?`),
		identifierType, identifierValue)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	var p model.Profile
	var factors, patterns, notes sql.NullString
	var lastHigh, lastDetection sql.NullTime
	err := row.Scan(&p.ID, &p.IdentifierType, &p.IdentifierValue, &p.RiskLevel, &p.RiskScore,
		&p.TotalDetections, &p.HighRiskCount, &p.MediumRiskCount, &p.LowRiskCount,
		&p.BlockedActions, &p.ThrottledActions, &factors, &patterns,
		&lastHigh, &lastDetection, &p.Whitelisted, &p.Blacklisted, &notes,
		&p.CreatedAt, &p.UpdatedAt, &p.Version)
	if err != nil {
		return nil, err
	}
	p.RiskFactors = decodeJSONMap(factors)
	p.BehaviorPatterns = decodeJSONMap(patterns)
	if notes.Valid {
		p.Notes = notes.String
	}
	if lastHigh.Valid {
		t := lastHigh.Time
		p.LastHighRiskAt = &t
	}
	if lastDetection.Valid {
		t := lastDetection.Time
		p.LastDetectionAt = &t
	}
	return &p, nil
}

func (s *sqlStore) InsertProfile(ctx context.Context, p *model.Profile) error {
	p.CreatedAt = nowUTC()
	p.UpdatedAt = p.CreatedAt
	if p.Version == 0 {
		p.Version = 1
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO fraud_profiles (identifier_type, identifier_value, risk_level, risk_score,
			total_detections, high_risk_detections, medium_risk_detections, low_risk_detections,
			blocked_actions, throttled_actions, risk_factors_json, behavior_patterns_json,
			last_high_risk_at, last_detection_at, is_whitelisted, is_blacklisted, notes,
			created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.IdentifierType, p.IdentifierValue, p.RiskLevel, p.RiskScore,
		p.TotalDetections, p.HighRiskCount, p.MediumRiskCount, p.LowRiskCount,
		p.BlockedActions, p.ThrottledActions, encodeJSON(p.RiskFactors), encodeJSON(p.BehaviorPatterns),
		nullableTime(p.LastHighRiskAt), nullableTime(p.LastDetectionAt), p.Whitelisted, p.Blacklisted, p.Notes,
		p.CreatedAt, p.UpdatedAt, p.Version)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		p.ID = id
	}
	return nil
}

func (s *sqlStore) UpdateProfile(ctx context.Context, p *model.Profile) error {
	expected := p.Version
	p.UpdatedAt = nowUTC()
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE fraud_profiles SET risk_level = ?, risk_score = ?, total_detections = ?,
			high_risk_detections = ?, medium_risk_detections = ?, low_risk_detections = ?,
			blocked_actions = ?, throttled_actions = ?, risk_factors_json = ?, behavior_patterns_json = ?,
			last_high_risk_at = ?, last_detection_at = ?, is_whitelisted = ?, is_blacklisted = ?,
			notes = ?, updated_at = ?, version = version + 1
		WHERE identifier_type = ? AND identifier_value = ? AND version = ?`),
		p.RiskLevel, p.RiskScore, p.TotalDetections,
		p.HighRiskCount, p.MediumRiskCount, p.LowRiskCount,
		p.BlockedActions, p.ThrottledActions, encodeJSON(p.RiskFactors), encodeJSON(p.BehaviorPatterns),
		nullableTime(p.LastHighRiskAt), nullableTime(p.LastDetectionAt), p.Whitelisted, p.Blacklisted,
		p.Notes, p.UpdatedAt,
		p.IdentifierType, p.IdentifierValue, expected)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	p.Version = expected + 1
	return nil
}

func (s *sqlStore) ProfilesByLevel(ctx context.Context, level model.RiskLevel, limit int) ([]*model.Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+profileColumns+` FROM fraud_profiles
		WHERE risk_level = ? ORDER BY risk_score DESC LIMIT ?`), level, limit)
	if err != nil {
		return nil, err
	}
	return collectProfiles(rows)
}

func (s *sqlStore) FlaggedProfiles(ctx context.Context, blacklisted bool) ([]*model.Profile, error) {
	column := "is_whitelisted"
	if blacklisted {
		column = "is_blacklisted"
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+profileColumns+` FROM fraud_profiles
		WHERE `+column+` = ? ORDER BY updated_at DESC`), true)
	if err != nil {
		return nil, err
	}
	return collectProfiles(rows)
}

func (s *sqlStore) RecentlyActiveProfiles(ctx context.Context, since time.Time, limit int) ([]*model.Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+profileColumns+` FROM fraud_profiles
		WHERE last_detection_at >= ? ORDER BY last_detection_at DESC LIMIT ?`), since, limit)
	if err != nil {
		return nil, err
	}
	return collectProfiles(rows)
}

// DeleteInactiveProfiles is the retention sweep: rows that never recorded a
// detection and have seen no activity since before the cutoff.
func (s *sqlStore) DeleteInactiveProfiles(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM fraud_profiles
		WHERE total_detections = 0 AND (last_detection_at IS NULL OR last_detection_at < ?)
			AND updated_at < ?`), before, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func collectProfiles(rows *sql.Rows) ([]*model.Profile, error) {
	defer rows.Close()
	var out []*model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (s *sqlStore) ActiveRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, name, condition, risk_level, action_json, priority, terminal, enabled,
			description, version, created_at, updated_at
		FROM fraud_rules WHERE enabled = ? ORDER BY id`), true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Rule
	for rows.Next() {
		var r model.Rule
		var action, description sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.Condition, &r.Level, &action, &r.Priority,
			&r.Terminal, &r.Enabled, &description, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			r.Description = description.String
		}
		if action.Valid {
			_ = json.Unmarshal([]byte(action.String), &r.Action)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveRule(ctx context.Context, r *model.Rule) error {
	now := nowUTC()
	if r.ID == 0 {
		r.CreatedAt = now
		r.UpdatedAt = now
		if r.Version == 0 {
			r.Version = 1
		}
		res, err := s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO fraud_rules (name, condition, risk_level, action_json, priority,
				terminal, enabled, description, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			r.Name, r.Condition, r.Level, encodeJSON(r.Action), r.Priority,
			r.Terminal, r.Enabled, r.Description, r.Version, r.CreatedAt, r.UpdatedAt)
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			r.ID = id
		}
		return nil
	}
	expected := r.Version
	r.UpdatedAt = now
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE fraud_rules SET name = ?, condition = ?, risk_level = ?, action_json = ?,
			priority = ?, terminal = ?, enabled = ?, description = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`),
		r.Name, r.Condition, r.Level, encodeJSON(r.Action),
		r.Priority, r.Terminal, r.Enabled, r.Description, r.UpdatedAt,
		r.ID, expected)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	r.Version = expected + 1
	return nil
}

func (s *sqlStore) SaveDetectionLog(ctx context.Context, log *model.DetectionLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO fraud_detection_logs (user_id, session_id, ip_address, user_agent, action,
			risk_level, risk_score, matched_rules_json, detection_details_json, action_taken,
			action_details_json, request_path, request_method, request_headers_json,
			country_code, is_proxy, is_bot, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		log.UserID, log.SessionID, log.IPAddress, log.UserAgent, log.Action,
		log.RiskLevel, log.RiskScore, encodeJSON(log.MatchedRules), encodeJSON(log.DetectionDetails),
		log.ActionTaken, encodeJSON(log.ActionDetails), log.RequestPath, log.RequestMethod,
		encodeJSON(log.RequestHeaders), log.CountryCode, log.IsProxy, log.IsBot,
		log.ResponseTimeMs, log.CreatedAt)
	return err
}

func (s *sqlStore) RecentLogs(ctx context.Context, limit int) ([]model.DetectionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, user_id, session_id, ip_address, user_agent, action, risk_level, risk_score,
			matched_rules_json, detection_details_json, action_taken, action_details_json,
			request_path, request_method, request_headers_json, country_code, is_proxy, is_bot,
			response_time_ms, created_at
		FROM fraud_detection_logs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.DetectionLog
	for rows.Next() {
		var l model.DetectionLog
		var matched, details, actionDetails, headers sql.NullString
		var userAgent, actionTaken, path, method, country sql.NullString
		if err := rows.Scan(&l.ID, &l.UserID, &l.SessionID, &l.IPAddress, &userAgent, &l.Action,
			&l.RiskLevel, &l.RiskScore, &matched, &details, &actionTaken, &actionDetails,
			&path, &method, &headers, &country, &l.IsProxy, &l.IsBot,
			&l.ResponseTimeMs, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.UserAgent = userAgent.String
		l.ActionTaken = actionTaken.String
		l.RequestPath = path.String
		l.RequestMethod = method.String
		l.CountryCode = country.String
		l.MatchedRules = decodeJSONMap(matched)
		l.DetectionDetails = decodeJSONMap(details)
		l.ActionDetails = decodeJSONMap(actionDetails)
		l.RequestHeaders = decodeHeaderMap(headers)
		out = append(out, l)
	}
	return out, rows.Err()
}
