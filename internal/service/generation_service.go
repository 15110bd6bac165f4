package service

import (
	"context"
	"fmt"

	"github.com/jengzang/framelab-backend/internal/generation"
	"github.com/jengzang/framelab-backend/internal/models"
	"github.com/jengzang/framelab-backend/internal/repository"
)

// GenerationService starts generation runs from the studio's current
// timeline and exposes their progress and history
type GenerationService struct {
	studio       *Studio
	orchestrator *generation.Orchestrator
	jobs         *repository.JobRepository
}

// NewGenerationService creates a new generation service. jobs may be nil
// when history is not kept.
func NewGenerationService(studio *Studio, orchestrator *generation.Orchestrator, jobs *repository.JobRepository) *GenerationService {
	return &GenerationService{
		studio:       studio,
		orchestrator: orchestrator,
		jobs:         jobs,
	}
}

// GenerateFrame renders one frame, the cursor frame when frameIndex is nil
func (s *GenerationService) GenerateFrame(ctx context.Context, prompt string, frameIndex *int) (generation.State, error) {
	in, err := s.studio.GenerationInput(ctx)
	if err != nil {
		return generation.State{}, err
	}
	in.Prompt = prompt
	if frameIndex != nil {
		in.FrameIndex = *frameIndex
	}
	return s.orchestrator.GenerateFrame(in)
}

// GenerateSequence renders every frame in order
func (s *GenerationService) GenerateSequence(ctx context.Context, prompt string) (generation.State, error) {
	in, err := s.studio.GenerationInput(ctx)
	if err != nil {
		return generation.State{}, err
	}
	in.Prompt = prompt
	return s.orchestrator.GenerateSequence(in)
}

// Status returns the progress of a kind
func (s *GenerationService) Status(kind generation.Kind) generation.State {
	return s.orchestrator.State(kind)
}

// Cancel stops the active run of a kind. It reports whether one was active.
func (s *GenerationService) Cancel(kind generation.Kind) bool {
	return s.orchestrator.Cancel(kind)
}

// Reset returns a finished kind to idle
func (s *GenerationService) Reset(kind generation.Kind) bool {
	return s.orchestrator.Reset(kind)
}

// Notify hands a pushed job update to the polling loop waiting for it
func (s *GenerationService) Notify(res generation.Result) bool {
	return s.orchestrator.Notify(res)
}

// History lists recorded jobs
func (s *GenerationService) History(ctx context.Context, filter models.JobFilter) ([]*generation.Job, error) {
	if s.jobs == nil {
		return []*generation.Job{}, nil
	}
	if filter.Kind != "" && !generation.Kind(filter.Kind).Valid() {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidFilter, filter.Kind)
	}
	if filter.Status != "" && !generation.Status(filter.Status).Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidFilter, filter.Status)
	}
	return s.jobs.List(ctx, filter)
}

// Job returns one recorded job
func (s *GenerationService) Job(ctx context.Context, id string) (*generation.Job, error) {
	if s.jobs == nil {
		return nil, fmt.Errorf("%w: %s", repository.ErrJobNotFound, id)
	}
	return s.jobs.GetByID(ctx, id)
}
