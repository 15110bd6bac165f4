package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jengzang/framelab-backend/internal/backend"
	"github.com/jengzang/framelab-backend/internal/database"
	"github.com/jengzang/framelab-backend/internal/generation"
	"github.com/jengzang/framelab-backend/internal/models"
	"github.com/jengzang/framelab-backend/internal/raster"
	"github.com/jengzang/framelab-backend/internal/repository"
	"github.com/jengzang/framelab-backend/internal/timeline"
)

func TestGenerationWritesIntoStudio(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	jobs := repository.NewJobRepository(db)

	studio := newTestStudio(t, nil, StudioConfig{})
	if _, err := studio.SetOutputSize(ctx, timeline.Size256); err != nil {
		t.Fatal(err)
	}
	orch := generation.NewOrchestrator(backend.NewLocal(), raster.PoseToImage, studio,
		generation.Config{PollInterval: time.Millisecond}, nil)
	orch.SetRecorder(jobs)
	t.Cleanup(orch.Close)
	svc := NewGenerationService(studio, orch, jobs)

	if _, err := svc.GenerateSequence(ctx, "a knight"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "sequence to finish", func() bool {
		return svc.Status(generation.KindSequence).Phase == generation.PhaseSucceeded
	})

	state, err := studio.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, img := range state.FrameImages {
		if !strings.HasPrefix(img, "data:image/png;base64,") {
			t.Errorf("frame %d has no generated image", i)
		}
	}
	if state.FinalImage != "" {
		t.Error("sequence results must not replace the final image")
	}

	frame := 3
	if _, err := svc.GenerateFrame(ctx, "", &frame); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frame to finish", func() bool {
		return svc.Status(generation.KindFrame).Phase == generation.PhaseSucceeded
	})
	state, err = studio.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state.FinalImage != state.FrameImages[3] {
		t.Error("single frame result should become the final image")
	}

	var history []*generation.Job
	waitFor(t, "job history", func() bool {
		history, err = svc.History(ctx, models.JobFilter{Status: "succeeded"})
		return err == nil && len(history) == timeline.DefaultFrameCount+1
	})
	got, err := svc.Job(ctx, history[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != generation.StatusSucceeded {
		t.Errorf("job status = %s", got.Status)
	}

	if _, err := svc.History(ctx, models.JobFilter{Kind: "bogus"}); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestGenerationValidation(t *testing.T) {
	ctx := context.Background()
	studio := newTestStudio(t, nil, StudioConfig{})
	orch := generation.NewOrchestrator(backend.NewLocal(), raster.PoseToImage, studio,
		generation.Config{RequireReference: true}, nil)
	t.Cleanup(orch.Close)
	svc := NewGenerationService(studio, orch, nil)

	if _, err := svc.GenerateSequence(ctx, ""); !errors.Is(err, generation.ErrNoReferenceImage) {
		t.Errorf("expected ErrNoReferenceImage, got %v", err)
	}
	if svc.Status(generation.KindSequence).Phase != generation.PhaseIdle {
		t.Error("a rejected run must not start")
	}
	jobs, err := svc.History(ctx, models.JobFilter{})
	if err != nil || len(jobs) != 0 {
		t.Errorf("history without a repository = %v, %v", jobs, err)
	}
}
