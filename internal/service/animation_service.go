package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/jengzang/framelab-backend/internal/models"
	"github.com/jengzang/framelab-backend/internal/repository"
	"github.com/jengzang/framelab-backend/internal/timeline"
)

var (
	// ErrInvalidFilter is returned for unknown filter values
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrInvalidName is returned when an animation is saved without a name
	ErrInvalidName = errors.New("animation name is required")
)

// AnimationService manages the animation library
type AnimationService struct {
	repo   *repository.AnimationRepository
	studio *Studio
	logger *slog.Logger
}

// NewAnimationService creates a new animation service
func NewAnimationService(repo *repository.AnimationRepository, studio *Studio, logger *slog.Logger) *AnimationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnimationService{
		repo:   repo,
		studio: studio,
		logger: logger.With("component", "animations"),
	}
}

// SeedPresets loads every *.json animation in dir into the library, with
// the file basename as id. Unreadable files are skipped. It returns the
// number of presets stored.
func (s *AnimationService) SeedPresets(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("animations directory does not exist", "dir", dir)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read animations directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seeded := 0
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn("skipping preset", "file", name, "error", err)
			continue
		}
		imported, err := timeline.DecodeAnimation(data, s.logger)
		if err != nil {
			s.logger.Warn("skipping preset", "file", name, "error", err)
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		title := imported.Name
		if title == "" {
			title = id
		}
		a := &models.Animation{
			ID:         id,
			Name:       title,
			FPS:        imported.FPS,
			FrameCount: len(imported.Frames),
			Document:   data,
		}
		if err := s.repo.SavePreset(ctx, a); err != nil {
			return seeded, err
		}
		seeded++
	}
	s.logger.Info("animation presets seeded", "dir", dir, "count", seeded)
	return seeded, nil
}

// List returns the library sorted by name
func (s *AnimationService) List(ctx context.Context) ([]*models.Animation, error) {
	return s.repo.List(ctx)
}

// Get returns one animation with its document
func (s *AnimationService) Get(ctx context.Context, id string) (*models.Animation, error) {
	return s.repo.Get(ctx, id)
}

// Load replaces the timeline with a library animation
func (s *AnimationService) Load(ctx context.Context, id string) (timeline.State, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return timeline.State{}, err
	}
	return s.studio.Import(ctx, a.Document)
}

// SaveCurrent stores the current timeline in the library under name
func (s *AnimationService) SaveCurrent(ctx context.Context, name string) (*models.Animation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	anim, err := s.studio.Export(ctx, name)
	if err != nil {
		return nil, err
	}
	doc, err := json.Marshal(anim)
	if err != nil {
		return nil, fmt.Errorf("failed to encode animation: %w", err)
	}
	a := &models.Animation{
		ID:         Slugify(name),
		Name:       name,
		FPS:        anim.FPS,
		FrameCount: anim.FrameCount,
		Source:     models.AnimationSourceUser,
		Document:   doc,
	}
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete removes an animation from the library
func (s *AnimationService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Slugify turns a display name into a library id. Names without any letter
// or digit get a random id.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "animation-" + uuid.NewString()[:8]
	}
	return slug
}
