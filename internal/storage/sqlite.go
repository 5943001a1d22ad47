package storage

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	sqlStore
}

func NewSQLite(dsn string) (Store, error) {
	if dsn == "" {
		dsn = "file:fraudguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	return &sqliteStore{sqlStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fraud_profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identifier_type TEXT NOT NULL,
			identifier_value TEXT NOT NULL,
			risk_level TEXT NOT NULL DEFAULT 'low',
			risk_score REAL NOT NULL DEFAULT 0,
			total_detections INTEGER NOT NULL DEFAULT 0,
			high_risk_detections INTEGER NOT NULL DEFAULT 0,
			medium_risk_detections INTEGER NOT NULL DEFAULT 0,
			low_risk_detections INTEGER NOT NULL DEFAULT 0,
			blocked_actions INTEGER NOT NULL DEFAULT 0,
			throttled_actions INTEGER NOT NULL DEFAULT 0,
			risk_factors_json TEXT,
			behavior_patterns_json TEXT,
			last_high_risk_at TIMESTAMP,
			last_detection_at TIMESTAMP,
			is_whitelisted INTEGER NOT NULL DEFAULT 0,
			is_blacklisted INTEGER NOT NULL DEFAULT 0,
			notes TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			UNIQUE (identifier_type, identifier_value)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fraud_profiles_level ON fraud_profiles (risk_level)`,
		`CREATE INDEX IF NOT EXISTS idx_fraud_profiles_last_detection ON fraud_profiles (last_detection_at)`,
		`CREATE TABLE IF NOT EXISTS fraud_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			condition TEXT NOT NULL,
			risk_level TEXT NOT NULL DEFAULT 'medium',
			action_json TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			terminal INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			description TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fraud_detection_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			ip_address TEXT NOT NULL,
			user_agent TEXT,
			action TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			risk_score REAL NOT NULL DEFAULT 0,
			matched_rules_json TEXT,
			detection_details_json TEXT,
			action_taken TEXT,
			action_details_json TEXT,
			request_path TEXT,
			request_method TEXT,
			request_headers_json TEXT,
			country_code TEXT,
			is_proxy INTEGER NOT NULL DEFAULT 0,
			is_bot INTEGER NOT NULL DEFAULT 0,
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fraud_logs_ip ON fraud_detection_logs (ip_address, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_fraud_logs_user ON fraud_detection_logs (user_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
