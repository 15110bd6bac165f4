package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jengzang/framelab-backend/internal/models"
)

// ErrAnimationNotFound is returned when no animation has the requested id
var ErrAnimationNotFound = errors.New("animation not found")

// AnimationRepository handles database operations for the animation library
type AnimationRepository struct {
	db *sql.DB
}

// NewAnimationRepository creates a new animation repository
func NewAnimationRepository(db *sql.DB) *AnimationRepository {
	return &AnimationRepository{db: db}
}

// List returns all animations sorted by name, without their documents
func (r *AnimationRepository) List(ctx context.Context) ([]*models.Animation, error) {
	query := `
		SELECT id, name, fps, frame_count, source, created_at, updated_at
		FROM animations
		ORDER BY name COLLATE NOCASE, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list animations: %w", err)
	}
	defer rows.Close()

	animations := []*models.Animation{}
	for rows.Next() {
		a := &models.Animation{}
		if err := rows.Scan(&a.ID, &a.Name, &a.FPS, &a.FrameCount, &a.Source, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan animation: %w", err)
		}
		animations = append(animations, a)
	}
	return animations, rows.Err()
}

// Get retrieves an animation including its document
func (r *AnimationRepository) Get(ctx context.Context, id string) (*models.Animation, error) {
	query := `
		SELECT id, name, fps, frame_count, source, created_at, updated_at, document
		FROM animations
		WHERE id = ?
	`

	a := &models.Animation{}
	var doc string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Name, &a.FPS, &a.FrameCount, &a.Source, &a.CreatedAt, &a.UpdatedAt, &doc,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAnimationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get animation: %w", err)
	}
	a.Document = []byte(doc)
	return a, nil
}

// Save inserts or replaces an animation, keeping the original creation time
func (r *AnimationRepository) Save(ctx context.Context, a *models.Animation) error {
	return r.upsert(ctx, a, "")
}

// SavePreset stores a preset animation. Presets never overwrite an animation
// the user saved under the same id.
func (r *AnimationRepository) SavePreset(ctx context.Context, a *models.Animation) error {
	a.Source = models.AnimationSourcePreset
	return r.upsert(ctx, a, "WHERE animations.source = 'preset'")
}

func (r *AnimationRepository) upsert(ctx context.Context, a *models.Animation, guard string) error {
	if a.Source == "" {
		a.Source = models.AnimationSourceUser
	}
	now := time.Now().UnixMilli()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := `
		INSERT INTO animations (id, name, fps, frame_count, document, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			fps = excluded.fps,
			frame_count = excluded.frame_count,
			document = excluded.document,
			source = excluded.source,
			updated_at = excluded.updated_at
		` + guard

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.FPS, a.FrameCount, string(a.Document), a.Source, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save animation: %w", err)
	}
	return nil
}

// Delete removes an animation
func (r *AnimationRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM animations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete animation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAnimationNotFound, id)
	}
	return nil
}
