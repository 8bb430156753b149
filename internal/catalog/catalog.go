// Package catalog loads the model catalog seed file and inserts the models
// it lists into the registry. Existing rows are never overwritten, so admin
// edits made through the API survive a reseed.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/models"
	"studio_gateway/internal/storage"
	"studio_gateway/internal/utils"
)

// Entry is one model in the seed file.
type Entry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Provider    string `yaml:"provider"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
	APIModelID  string `yaml:"api_model_id"`
	ConfigKey   string `yaml:"config_key"`
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Enabled     *bool  `yaml:"enabled"`
}

// File is the parsed seed file.
type File struct {
	Models []Entry `yaml:"models"`
}

// ModelStore is the subset of the model repository used for seeding.
type ModelStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, model *models.ModelConfig) error
}

// Result lists the ids inserted and skipped by Seed.
type Result struct {
	Created []string
	Skipped []string
}

// Load reads and parses the seed file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document. Unknown keys and duplicate ids are rejected.
func Parse(data []byte) (*File, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Models))
	for i, e := range file.Models {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("model catalog entry %d: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("model catalog entry %d: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		file.Models[i].ID = id
	}
	return &file, nil
}

// Model converts the entry into a ModelConfig. A key named by api_key_env wins
// over an inline api_key when the variable is set.
func (e Entry) Model(getenv func(string) string) *models.ModelConfig {
	key := e.APIKey
	if e.APIKeyEnv != "" && getenv != nil {
		if v := getenv(e.APIKeyEnv); v != "" {
			key = v
		}
	}

	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}

	name := e.Name
	if name == "" {
		name = e.ID
	}

	return &models.ModelConfig{
		ID:          e.ID,
		Name:        name,
		Provider:    e.Provider,
		Description: utils.NilIfEmpty(e.Description),
		Icon:        e.Icon,
		APIModelID:  utils.NilIfEmpty(e.APIModelID),
		ConfigKey:   utils.NilIfEmpty(e.ConfigKey),
		BaseURL:     utils.NilIfEmpty(e.BaseURL),
		APIKey:      utils.NilIfEmpty(key),
		IsEnabled:   enabled,
	}
}

// Seed inserts every catalog model whose id is not yet registered.
func Seed(ctx context.Context, store ModelStore, file *File, logger *logging.Logger) (*Result, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	result := &Result{Created: []string{}, Skipped: []string{}}

	for _, entry := range file.Models {
		exists, err := store.Exists(ctx, entry.ID)
		if err != nil {
			return result, fmt.Errorf("failed to check model %q: %w", entry.ID, err)
		}
		if exists {
			result.Skipped = append(result.Skipped, entry.ID)
			continue
		}

		model := entry.Model(os.Getenv)
		if err := store.Create(ctx, model); err != nil {
			if errors.Is(err, storage.ErrDuplicateModel) {
				result.Skipped = append(result.Skipped, entry.ID)
				continue
			}
			return result, fmt.Errorf("failed to seed model %q: %w", entry.ID, err)
		}
		if model.Credential() == "" {
			logger.Warn("Seeded model has no API key", "model_id", entry.ID)
		}
		result.Created = append(result.Created, entry.ID)
	}

	logger.Info("Model catalog seeded", "created", len(result.Created), "skipped", len(result.Skipped))
	return result, nil
}

// SeedFile loads path and seeds it.
func SeedFile(ctx context.Context, store ModelStore, path string, logger *logging.Logger) (*Result, error) {
	file, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Seed(ctx, store, file, logger)
}
