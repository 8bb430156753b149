package storage

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL DEFAULT 'USER',
		status TEXT NOT NULL DEFAULT 'active',
		notes TEXT,
		last_login_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		theme TEXT NOT NULL DEFAULT 'dark',
		theme_preset TEXT NOT NULL DEFAULT 'default',
		custom_models TEXT NOT NULL DEFAULT '[]',
		external_api_configs TEXT NOT NULL DEFAULT '{}',
		developer_mode BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS model_configs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		provider TEXT NOT NULL,
		description TEXT,
		icon TEXT NOT NULL DEFAULT 'Box',
		api_model_id TEXT,
		config_key TEXT,
		base_url TEXT,
		api_key TEXT,
		is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS global_settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL,
		model_id TEXT NOT NULL,
		model_name TEXT,
		provider TEXT,
		tokens_input INTEGER NOT NULL DEFAULT 0,
		tokens_output INTEGER NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT TRUE,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_created_at ON usage_logs (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_username ON usage_logs (username)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_model_id ON usage_logs (model_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL DEFAULT 'USER',
		status TEXT NOT NULL DEFAULT 'active',
		notes TEXT,
		last_login_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		theme TEXT NOT NULL DEFAULT 'dark',
		theme_preset TEXT NOT NULL DEFAULT 'default',
		custom_models TEXT NOT NULL DEFAULT '[]',
		external_api_configs TEXT NOT NULL DEFAULT '{}',
		developer_mode BOOLEAN NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS model_configs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		provider TEXT NOT NULL,
		description TEXT,
		icon TEXT NOT NULL DEFAULT 'Box',
		api_model_id TEXT,
		config_key TEXT,
		base_url TEXT,
		api_key TEXT,
		is_enabled BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS global_settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		model_id TEXT NOT NULL,
		model_name TEXT,
		provider TEXT,
		tokens_input INTEGER NOT NULL DEFAULT 0,
		tokens_output INTEGER NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT 1,
		error_message TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_created_at ON usage_logs (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_username ON usage_logs (username)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_model_id ON usage_logs (model_id)`,
}

// Migrate creates the schema if it does not exist. It is safe to run repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	statements := postgresSchema
	if db.driver == DriverSQLite {
		statements = sqliteSchema
	}

	for i, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}

	return nil
}
