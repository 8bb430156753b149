package models

import "time"

// Defaults returned for a user that never saved settings.
const (
	DefaultTheme       = "dark"
	DefaultThemePreset = "default"
)

// UserSettings are per-user UI preferences.
type UserSettings struct {
	UserID             string     `db:"user_id" json:"-"`
	Theme              string     `db:"theme" json:"theme"`
	ThemePreset        string     `db:"theme_preset" json:"themePreset"`
	CustomModels       JSONList   `db:"custom_models" json:"customModels"`
	ExternalAPIConfigs JSONObject `db:"external_api_configs" json:"externalApiConfigs"`
	DeveloperMode      bool       `db:"developer_mode" json:"developerMode"`
	UpdatedAt          time.Time  `db:"updated_at" json:"-"`

	// DefaultModelID is the global default model, filled in by the settings handler.
	DefaultModelID *string `db:"-" json:"defaultModelId"`
}

// DefaultUserSettings returns the settings of a user with no stored row.
func DefaultUserSettings(userID string) *UserSettings {
	return &UserSettings{
		UserID:             userID,
		Theme:              DefaultTheme,
		ThemePreset:        DefaultThemePreset,
		CustomModels:       JSONList{},
		ExternalAPIConfigs: JSONObject{},
	}
}

// UserSettingsUpdate is a partial settings update.
type UserSettingsUpdate struct {
	Theme              *string     `json:"theme,omitempty"`
	ThemePreset        *string     `json:"themePreset,omitempty"`
	CustomModels       *JSONList   `json:"customModels,omitempty"`
	ExternalAPIConfigs *JSONObject `json:"externalApiConfigs,omitempty"`
	DeveloperMode      *bool       `json:"developerMode,omitempty"`
	DefaultModelID     *string     `json:"defaultModelId,omitempty"`
}

// Apply copies the set fields onto s. DefaultModelID is handled by the caller.
func (u *UserSettingsUpdate) Apply(s *UserSettings) {
	if u.Theme != nil {
		s.Theme = *u.Theme
	}
	if u.ThemePreset != nil {
		s.ThemePreset = *u.ThemePreset
	}
	if u.CustomModels != nil {
		s.CustomModels = *u.CustomModels
	}
	if u.ExternalAPIConfigs != nil {
		s.ExternalAPIConfigs = *u.ExternalAPIConfigs
	}
	if u.DeveloperMode != nil {
		s.DeveloperMode = *u.DeveloperMode
	}
}
