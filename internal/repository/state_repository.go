package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrStateNotFound is returned by Load when nothing has been saved yet
var ErrStateNotFound = errors.New("state not found")

// StateRepository stores the single persisted timeline document
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository creates a new state repository
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Load returns the saved document
func (r *StateRepository) Load(ctx context.Context) ([]byte, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT document FROM app_state WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return []byte(doc), nil
}

// Save replaces the saved document
func (r *StateRepository) Save(ctx context.Context, doc []byte) error {
	query := `
		INSERT INTO app_state (id, document, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, string(doc), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}
