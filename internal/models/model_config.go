package models

import (
	"errors"
	"strings"
	"time"

	"studio_gateway/internal/utils"
)

const (
	// DefaultModelIcon is stored when a model is created without an icon.
	DefaultModelIcon = "Box"

	// DefaultBaseURL is used when a model has no base URL configured.
	DefaultBaseURL = "https://api.openai.com/v1"
)

// ModelConfig is an admin-registered model and its routing configuration.
// APIKey holds the decrypted credential; it is only serialised for admin callers.
type ModelConfig struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Provider    string    `db:"provider" json:"provider"`
	Description *string   `db:"description" json:"description,omitempty"`
	Icon        string    `db:"icon" json:"icon"`
	APIModelID  *string   `db:"api_model_id" json:"apiModelId,omitempty"`
	ConfigKey   *string   `db:"config_key" json:"configKey,omitempty"`
	BaseURL     *string   `db:"base_url" json:"defaultBaseUrl,omitempty"`
	APIKey      *string   `db:"api_key" json:"apiKey,omitempty"`
	IsEnabled   bool      `db:"is_enabled" json:"isEnabled"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// PublicModel is the view of a ModelConfig given to non-admin callers.
type PublicModel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Provider    string    `json:"provider"`
	Description *string   `json:"description,omitempty"`
	Icon        string    `json:"icon"`
	APIModelID  *string   `json:"apiModelId,omitempty"`
	ConfigKey   *string   `json:"configKey,omitempty"`
	BaseURL     *string   `json:"defaultBaseUrl,omitempty"`
	IsEnabled   bool      `json:"isEnabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ModelConfigUpdate is a partial update; nil fields are left unchanged.
// An empty string clears the optional text fields.
type ModelConfigUpdate struct {
	Name        *string `json:"name,omitempty"`
	Provider    *string `json:"provider,omitempty"`
	Description *string `json:"description,omitempty"`
	Icon        *string `json:"icon,omitempty"`
	APIModelID  *string `json:"apiModelId,omitempty"`
	ConfigKey   *string `json:"configKey,omitempty"`
	BaseURL     *string `json:"defaultBaseUrl,omitempty"`
	APIKey      *string `json:"apiKey,omitempty"`
	IsEnabled   *bool   `json:"isEnabled,omitempty"`
}

var (
	ErrModelIDRequired       = errors.New("model id is required")
	ErrModelNameRequired     = errors.New("model name is required")
	ErrModelProviderRequired = errors.New("model provider is required")
)

// ApplyDefaults fills icon and config key the way a freshly created model expects.
func (m *ModelConfig) ApplyDefaults() {
	m.ID = strings.TrimSpace(m.ID)
	if m.Icon == "" {
		m.Icon = DefaultModelIcon
	}
	if m.ConfigKey == nil || *m.ConfigKey == "" {
		key := m.ID
		m.ConfigKey = &key
	}
}

// Validate checks the fields required on create.
func (m *ModelConfig) Validate() error {
	switch {
	case strings.TrimSpace(m.ID) == "":
		return ErrModelIDRequired
	case strings.TrimSpace(m.Name) == "":
		return ErrModelNameRequired
	case strings.TrimSpace(m.Provider) == "":
		return ErrModelProviderRequired
	}
	return nil
}

// UpstreamModelID is the model name sent to the provider.
func (m *ModelConfig) UpstreamModelID() string {
	if m.APIModelID != nil && *m.APIModelID != "" {
		return *m.APIModelID
	}
	return m.ID
}

// EndpointBaseURL returns the base URL without trailing slashes, or fallback when unset.
func (m *ModelConfig) EndpointBaseURL(fallback string) string {
	base := fallback
	if m.BaseURL != nil && *m.BaseURL != "" {
		base = *m.BaseURL
	}
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/")
}

// Credential returns the API key or "" when none is configured.
func (m *ModelConfig) Credential() string {
	if m.APIKey == nil {
		return ""
	}
	return strings.TrimSpace(*m.APIKey)
}

// Public strips the credential.
func (m *ModelConfig) Public() PublicModel {
	return PublicModel{
		ID:          m.ID,
		Name:        m.Name,
		Provider:    m.Provider,
		Description: m.Description,
		Icon:        m.Icon,
		APIModelID:  m.APIModelID,
		ConfigKey:   m.ConfigKey,
		BaseURL:     m.BaseURL,
		IsEnabled:   m.IsEnabled,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// IsEmpty reports whether the update touches no field.
func (u *ModelConfigUpdate) IsEmpty() bool {
	return u.Name == nil && u.Provider == nil && u.Description == nil && u.Icon == nil &&
		u.APIModelID == nil && u.ConfigKey == nil && u.BaseURL == nil && u.APIKey == nil &&
		u.IsEnabled == nil
}

// Validate rejects updates that would blank a required field.
func (u *ModelConfigUpdate) Validate() error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return ErrModelNameRequired
	}
	if u.Provider != nil && strings.TrimSpace(*u.Provider) == "" {
		return ErrModelProviderRequired
	}
	return nil
}

// Apply copies the set fields onto m.
func (u *ModelConfigUpdate) Apply(m *ModelConfig) {
	if u.Name != nil {
		m.Name = *u.Name
	}
	if u.Provider != nil {
		m.Provider = *u.Provider
	}
	if u.Description != nil {
		m.Description = utils.NilIfEmpty(*u.Description)
	}
	if u.Icon != nil {
		m.Icon = *u.Icon
		if m.Icon == "" {
			m.Icon = DefaultModelIcon
		}
	}
	if u.APIModelID != nil {
		m.APIModelID = utils.NilIfEmpty(*u.APIModelID)
	}
	if u.ConfigKey != nil {
		m.ConfigKey = utils.NilIfEmpty(*u.ConfigKey)
	}
	if u.BaseURL != nil {
		m.BaseURL = utils.NilIfEmpty(*u.BaseURL)
	}
	if u.APIKey != nil {
		m.APIKey = utils.NilIfEmpty(*u.APIKey)
	}
	if u.IsEnabled != nil {
		m.IsEnabled = *u.IsEnabled
	}
}

