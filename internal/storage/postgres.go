package storage

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	sqlStore
}

func NewPostgres(dsn string) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &postgresStore{sqlStore{db: db, postgres: true}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fraud_profiles (
			id BIGSERIAL PRIMARY KEY,
			identifier_type TEXT NOT NULL,
			identifier_value TEXT NOT NULL,
			risk_level TEXT NOT NULL DEFAULT 'low',
			risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_detections BIGINT NOT NULL DEFAULT 0,
			high_risk_detections BIGINT NOT NULL DEFAULT 0,
			medium_risk_detections BIGINT NOT NULL DEFAULT 0,
			low_risk_detections BIGINT NOT NULL DEFAULT 0,
			blocked_actions BIGINT NOT NULL DEFAULT 0,
			throttled_actions BIGINT NOT NULL DEFAULT 0,
			risk_factors_json TEXT,
			behavior_patterns_json TEXT,
			last_high_risk_at TIMESTAMPTZ,
			last_detection_at TIMESTAMPTZ,
			is_whitelisted BOOLEAN NOT NULL DEFAULT FALSE,
			is_blacklisted BOOLEAN NOT NULL DEFAULT FALSE,
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			UNIQUE (identifier_type, identifier_value)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fraud_profiles_level ON fraud_profiles (risk_level)`,
		`CREATE INDEX IF NOT EXISTS idx_fraud_profiles_last_detection ON fraud_profiles (last_detection_at)`,
		`CREATE TABLE IF NOT EXISTS fraud_rules (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			condition TEXT NOT NULL,
			risk_level TEXT NOT NULL DEFAULT 'medium',
			action_json TEXT,
			priority BIGINT NOT NULL DEFAULT 0,
			terminal BOOLEAN NOT NULL DEFAULT FALSE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			description TEXT,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fraud_detection_logs (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			ip_address TEXT NOT NULL,
			user_agent TEXT,
			action TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			matched_rules_json TEXT,
			detection_details_json TEXT,
			action_taken TEXT,
			action_details_json TEXT,
			request_path TEXT,
			request_method TEXT,
			request_headers_json TEXT,
			country_code TEXT,
			is_proxy BOOLEAN NOT NULL DEFAULT FALSE,
			is_bot BOOLEAN NOT NULL DEFAULT FALSE,
			response_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
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
