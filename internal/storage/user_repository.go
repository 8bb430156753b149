package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"studio_gateway/internal/models"
	"studio_gateway/internal/utils"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{
		db: db,
	}
}

const userColumns = `id, username, password_hash, email, role, status, notes, last_login_at,
	created_at, updated_at`

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := r.db.conn.GetContext(ctx, &user, r.db.rebind(query), arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// List returns all users ordered by creation time
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	users := []*models.User{}
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at ASC, username ASC`
	if err := r.db.conn.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Create creates a new user. Returns ErrDuplicateUser when the username is taken.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = models.UserStatusActive
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	user.CreatedAt = now
	user.UpdatedAt = now

	query := r.db.rebind(`
		INSERT INTO users (id, username, password_hash, email, role, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := r.db.conn.ExecContext(
		ctx, query,
		user.ID, user.Username, user.PasswordHash, user.Email, user.Role, user.Status, user.Notes,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// Update applies an admin partial update and returns the stored user
func (r *UserRepository) Update(ctx context.Context, id string, upd *models.UserUpdate) (*models.User, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.IsEmpty() {
		return user, nil
	}

	if upd.Email != nil {
		user.Email = utils.NilIfEmpty(*upd.Email)
	}
	if upd.Role != nil {
		user.Role = *upd.Role
	}
	if upd.Status != nil {
		user.Status = *upd.Status
	}
	if upd.Notes != nil {
		user.Notes = utils.NilIfEmpty(*upd.Notes)
	}
	user.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)

	query := r.db.rebind(`
		UPDATE users
		SET email = ?, role = ?, status = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`)

	result, err := r.db.conn.ExecContext(ctx, query, user.Email, user.Role, user.Status, user.Notes, user.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if err := expectRow(result, ErrUserNotFound); err != nil {
		return nil, err
	}

	return user, nil
}

// UpdatePassword replaces the stored password hash
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := r.db.rebind(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`)

	result, err := r.db.conn.ExecContext(ctx, query, passwordHash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return expectRow(result, ErrUserNotFound)
}

// UpdateLastLogin updates the last login timestamp for a user
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string) error {
	query := r.db.rebind(`UPDATE users SET last_login_at = ? WHERE id = ?`)

	result, err := r.db.conn.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return expectRow(result, ErrUserNotFound)
}

// Delete deletes a user by ID; their settings go with them
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	query := r.db.rebind(`DELETE FROM users WHERE id = ?`)

	result, err := r.db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return expectRow(result, ErrUserNotFound)
}

