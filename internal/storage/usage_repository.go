package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"studio_gateway/internal/models"
)

// UsageFilter selects usage records created at or after Since.
// Empty Username and ModelID match everything.
type UsageFilter struct {
	Username string
	ModelID  string
	Since    time.Time
}

// UsageRepository handles usage record database operations.
// Records are append-only: there is no update or delete.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{
		db: db,
	}
}

const usageColumns = `id, username, model_id, model_name, provider, tokens_input, tokens_output,
	success, error_message, created_at`

// Create inserts a usage record and fills its ID and CreatedAt
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	return r.insert(ctx, r.db.conn, record)
}

// CreateTx inserts a usage record inside tx
func (r *UsageRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, record *models.UsageRecord) error {
	return r.insert(ctx, tx, record)
}

// InsertBatch inserts records in a single transaction; either all are stored or none.
func (r *UsageRepository) InsertBatch(ctx context.Context, records []*models.UsageRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		if err := r.CreateTx(ctx, tx, record); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *UsageRepository) insert(ctx context.Context, q sqlx.QueryerContext, record *models.UsageRecord) error {
	record.Normalize()
	record.CreatedAt = record.CreatedAt.Truncate(time.Microsecond)

	query := r.db.rebind(`
		INSERT INTO usage_logs (
			username, model_id, model_name, provider, tokens_input, tokens_output,
			success, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := q.QueryRowxContext(
		ctx, query,
		record.Username, record.ModelID, record.ModelName, record.Provider,
		record.TokensInput, record.TokensOutput, record.Success, record.ErrorMessage,
		record.CreatedAt,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}

	return nil
}

// List returns every record matching filter, oldest first
func (r *UsageRepository) List(ctx context.Context, filter UsageFilter) ([]*models.UsageRecord, error) {
	where, args := filter.where()
	query := r.db.rebind(`SELECT ` + usageColumns + ` FROM usage_logs` + where +
		` ORDER BY created_at ASC, id ASC`)

	records := []*models.UsageRecord{}
	if err := r.db.conn.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	normalizeTimes(records)
	return records, nil
}

// Recent returns at most limit records matching filter, newest first
func (r *UsageRepository) Recent(ctx context.Context, filter UsageFilter, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 {
		return []*models.UsageRecord{}, nil
	}

	where, args := filter.where()
	query := r.db.rebind(`SELECT ` + usageColumns + ` FROM usage_logs` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ?`)
	args = append(args, limit)

	records := []*models.UsageRecord{}
	if err := r.db.conn.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list recent usage records: %w", err)
	}
	normalizeTimes(records)
	return records, nil
}

// Count returns the number of stored usage records
func (r *UsageRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM usage_logs`); err != nil {
		return 0, fmt.Errorf("failed to count usage records: %w", err)
	}
	return n, nil
}

func (f UsageFilter) where() (string, []any) {
	clauses := []string{"created_at >= ?"}
	args := []any{f.Since.UTC().Truncate(time.Microsecond)}

	if f.Username != "" {
		clauses = append(clauses, "username = ?")
		args = append(args, f.Username)
	}
	if f.ModelID != "" {
		clauses = append(clauses, "model_id = ?")
		args = append(args, f.ModelID)
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func normalizeTimes(records []*models.UsageRecord) {
	for _, rec := range records {
		rec.CreatedAt = rec.CreatedAt.UTC()
	}
}
