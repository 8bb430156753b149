package models

import (
	"time"
)

// UsageRecord is one entry per attempted completion call.
// Rows are insert-only: nothing in this codebase updates or deletes them.
type UsageRecord struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	ModelID      string    `db:"model_id" json:"model_id"`
	ModelName    *string   `db:"model_name" json:"model_name"`
	Provider     *string   `db:"provider" json:"provider"`
	TokensInput  int       `db:"tokens_input" json:"tokens_input"`
	TokensOutput int       `db:"tokens_output" json:"tokens_output"`
	Success      bool      `db:"success" json:"success"`
	ErrorMessage *string   `db:"error_message" json:"error_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Normalize clamps token counts and drops an error message on successful records.
func (r *UsageRecord) Normalize() {
	if r.TokensInput < 0 {
		r.TokensInput = 0
	}
	if r.TokensOutput < 0 {
		r.TokensOutput = 0
	}
	if r.Success {
		r.ErrorMessage = nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	} else {
		r.CreatedAt = r.CreatedAt.UTC()
	}
}

// DisplayName returns the model name, falling back to the model id.
func (r *UsageRecord) DisplayName() string {
	if r.ModelName != nil && *r.ModelName != "" {
		return *r.ModelName
	}
	return r.ModelID
}
