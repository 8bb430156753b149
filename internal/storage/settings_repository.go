package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studio_gateway/internal/models"
)

// SettingsRepository stores per-user UI settings
type SettingsRepository struct {
	db *DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the user's settings, or the defaults when none were saved
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*models.UserSettings, error) {
	var settings models.UserSettings
	query := r.db.rebind(`
		SELECT user_id, theme, theme_preset, custom_models, external_api_configs, developer_mode, updated_at
		FROM user_settings
		WHERE user_id = ?
	`)

	err := r.db.conn.GetContext(ctx, &settings, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DefaultUserSettings(userID), nil
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	return &settings, nil
}

// Save inserts or replaces the user's settings
func (r *SettingsRepository) Save(ctx context.Context, settings *models.UserSettings) error {
	settings.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	if settings.CustomModels == nil {
		settings.CustomModels = models.JSONList{}
	}
	if settings.ExternalAPIConfigs == nil {
		settings.ExternalAPIConfigs = models.JSONObject{}
	}

	query := r.db.rebind(`
		INSERT INTO user_settings (user_id, theme, theme_preset, custom_models, external_api_configs, developer_mode, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			theme = excluded.theme,
			theme_preset = excluded.theme_preset,
			custom_models = excluded.custom_models,
			external_api_configs = excluded.external_api_configs,
			developer_mode = excluded.developer_mode,
			updated_at = excluded.updated_at
	`)

	_, err := r.db.conn.ExecContext(
		ctx, query,
		settings.UserID, settings.Theme, settings.ThemePreset, settings.CustomModels,
		settings.ExternalAPIConfigs, settings.DeveloperMode, settings.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Key under which the default model id is stored in global_settings
const DefaultModelKey = "default_model_id"

// GlobalSettingsRepository stores instance-wide key/value settings
type GlobalSettingsRepository struct {
	db *DB
}

// NewGlobalSettingsRepository creates a new global settings repository
func NewGlobalSettingsRepository(db *DB) *GlobalSettingsRepository {
	return &GlobalSettingsRepository{db: db}
}

// Get returns the value for key, or ErrSettingNotFound when unset
func (r *GlobalSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	query := r.db.rebind(`SELECT value FROM global_settings WHERE key = ?`)

	err := r.db.conn.GetContext(ctx, &value, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	if !value.Valid || value.String == "" {
		return "", ErrSettingNotFound
	}
	return value.String, nil
}

// Set stores value under key
func (r *GlobalSettingsRepository) Set(ctx context.Context, key, value string) error {
	query := r.db.rebind(`
		INSERT INTO global_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)

	if _, err := r.db.conn.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Delete clears key; clearing an unset key is not an error
func (r *GlobalSettingsRepository) Delete(ctx context.Context, key string) error {
	query := r.db.rebind(`DELETE FROM global_settings WHERE key = ?`)

	if _, err := r.db.conn.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// DefaultModelID returns the configured default model id, "" when unset
func (r *GlobalSettingsRepository) DefaultModelID(ctx context.Context) (string, error) {
	id, err := r.Get(ctx, DefaultModelKey)
	if errors.Is(err, ErrSettingNotFound) {
		return "", nil
	}
	return id, err
}
