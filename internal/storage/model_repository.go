package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studio_gateway/internal/models"
)

// ModelRepository handles model configuration rows.
// Credentials are encrypted before they are written and decrypted on read.
// Reads always hit the database so admin edits apply to the next request.
type ModelRepository struct {
	db  *DB
	enc *Encryption
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *DB, enc *Encryption) *ModelRepository {
	return &ModelRepository{
		db:  db,
		enc: enc,
	}
}

const modelColumns = `id, name, provider, description, icon, api_model_id, config_key, base_url,
	api_key, is_enabled, created_at, updated_at`

// GetByID retrieves a model by id
func (r *ModelRepository) GetByID(ctx context.Context, id string) (*models.ModelConfig, error) {
	var model models.ModelConfig
	query := r.db.rebind(`SELECT ` + modelColumns + ` FROM model_configs WHERE id = ?`)

	err := r.db.conn.GetContext(ctx, &model, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	if err := r.decrypt(&model); err != nil {
		return nil, err
	}
	return &model, nil
}

// Exists reports whether a model with id is registered
func (r *ModelRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	query := r.db.rebind(`SELECT COUNT(*) FROM model_configs WHERE id = ?`)
	if err := r.db.conn.GetContext(ctx, &n, query, id); err != nil {
		return false, fmt.Errorf("failed to check model: %w", err)
	}
	return n > 0, nil
}

// List returns models ordered by name; disabled models only when includeDisabled is set
func (r *ModelRepository) List(ctx context.Context, includeDisabled bool) ([]*models.ModelConfig, error) {
	query := `SELECT ` + modelColumns + ` FROM model_configs`
	var args []any
	if !includeDisabled {
		query += ` WHERE is_enabled = ?`
		args = append(args, true)
	}
	query += ` ORDER BY name ASC, id ASC`

	list := []*models.ModelConfig{}
	if err := r.db.conn.SelectContext(ctx, &list, r.db.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	for _, m := range list {
		if err := r.decrypt(m); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Create inserts a new model. Returns ErrDuplicateModel when the id is taken.
func (r *ModelRepository) Create(ctx context.Context, model *models.ModelConfig) error {
	model.ApplyDefaults()
	if err := model.Validate(); err != nil {
		return err
	}

	apiKey, err := r.enc.EncryptOptional(model.APIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	model.CreatedAt = now
	model.UpdatedAt = now

	query := r.db.rebind(`
		INSERT INTO model_configs (` + modelColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err = r.db.conn.ExecContext(
		ctx, query,
		model.ID, model.Name, model.Provider, model.Description, model.Icon, model.APIModelID,
		model.ConfigKey, model.BaseURL, apiKey, model.IsEnabled, model.CreatedAt, model.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateModel
		}
		return fmt.Errorf("failed to create model: %w", err)
	}

	return nil
}

// Update applies a partial update and returns the stored model
func (r *ModelRepository) Update(ctx context.Context, id string, upd *models.ModelConfigUpdate) (*models.ModelConfig, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	model, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.IsEmpty() {
		return model, nil
	}

	upd.Apply(model)

	apiKey, err := r.enc.EncryptOptional(model.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}
	model.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)

	query := r.db.rebind(`
		UPDATE model_configs
		SET name = ?, provider = ?, description = ?, icon = ?, api_model_id = ?, config_key = ?,
			base_url = ?, api_key = ?, is_enabled = ?, updated_at = ?
		WHERE id = ?
	`)

	result, err := r.db.conn.ExecContext(
		ctx, query,
		model.Name, model.Provider, model.Description, model.Icon, model.APIModelID, model.ConfigKey,
		model.BaseURL, apiKey, model.IsEnabled, model.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update model: %w", err)
	}
	if err := expectRow(result, ErrModelNotFound); err != nil {
		return nil, err
	}

	return model, nil
}

// Delete removes a model by id
func (r *ModelRepository) Delete(ctx context.Context, id string) error {
	query := r.db.rebind(`DELETE FROM model_configs WHERE id = ?`)

	result, err := r.db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}

	return expectRow(result, ErrModelNotFound)
}

func (r *ModelRepository) decrypt(model *models.ModelConfig) error {
	key, err := r.enc.DecryptOptional(model.APIKey)
	if err != nil {
		return fmt.Errorf("failed to decrypt credential for model %s: %w", model.ID, err)
	}
	model.APIKey = key
	model.CreatedAt = model.CreatedAt.UTC()
	model.UpdatedAt = model.UpdatedAt.UTC()
	return nil
}

func expectRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
