package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"github.com/jengzang/framelab-backend/internal/generation"
	"github.com/jengzang/framelab-backend/internal/raster"
	"github.com/jengzang/framelab-backend/internal/refimage"
	"github.com/jengzang/framelab-backend/internal/repository"
	"github.com/jengzang/framelab-backend/internal/skeleton"
	"github.com/jengzang/framelab-backend/internal/timeline"
)

// ErrStudioClosed is returned for commands sent after Close
var ErrStudioClosed = errors.New("studio is closed")

// StateStore persists the timeline document
type StateStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, doc []byte) error
}

// StudioConfig tunes persistence and preview rendering
type StudioConfig struct {
	// PersistDelay coalesces saves; zero saves after every batch of commands
	PersistDelay   time.Duration
	PreviewWorkers int
	QueueSize      int
}

// Studio owns the timeline. Every read and mutation runs as a command on a
// single goroutine, so callers never share the timeline itself; readers get
// copies.
type Studio struct {
	store  StateStore
	cfg    StudioConfig
	logger *slog.Logger

	queue *commandQueue
	loop  *commandLoop[command]

	// owned by the loop goroutine
	tl    *timeline.Timeline
	dirty bool

	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewStudio restores the saved timeline from store (a nil store keeps
// everything in memory) and starts the command loop
func NewStudio(ctx context.Context, store StateStore, cfg StudioConfig, logger *slog.Logger) *Studio {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.PreviewWorkers <= 0 {
		cfg.PreviewWorkers = 4
	}

	s := &Studio{
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "studio"),
		queue:   newCommandQueue(cfg.QueueSize),
		stopped: make(chan struct{}),
	}
	s.loop = newCommandLoop[command](s.queue, commandHandlerFunc[command](s.handle))
	s.tl = s.restore(ctx)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.run()
	return s
}

func (s *Studio) restore(ctx context.Context) *timeline.Timeline {
	if s.store == nil {
		return timeline.New()
	}
	doc, err := s.store.Load(ctx)
	if errors.Is(err, repository.ErrStateNotFound) {
		s.logger.Info("no saved timeline, starting fresh")
		return timeline.New()
	}
	if err != nil {
		s.logger.Warn("failed to load saved timeline, starting fresh", "error", err)
		return timeline.New()
	}
	tl, err := timeline.Restore(doc)
	if err != nil {
		s.logger.Warn("saved timeline is unreadable, starting fresh", "error", err)
		return timeline.New()
	}
	s.logger.Info("timeline restored", "frames", tl.Len(), "cursor", tl.Cursor())
	return tl
}

func (s *Studio) run() {
	defer close(s.stopped)
	defer s.queue.stop()

	for s.ctx.Err() == nil {
		s.loop.WaitAndHandle(s.ctx)
		s.loop.DrainPending()
		s.settle()
	}
	s.persist()
}

func (s *Studio) handle(cmd command) bool {
	switch cmd.kind {
	case commandTick:
		// playback moves the cursor many times a second; it is saved with
		// the next real change or on Close
		s.tl.Tick()
	case commandPersist:
		s.persist()
	default:
		if cmd.fn(s.tl) {
			s.dirty = true
		}
		close(cmd.done)
	}
	return true
}

// settle runs after every batch: it follows playback state with the ticker
// and schedules persistence
func (s *Studio) settle() {
	if s.tl.Playing() {
		s.queue.setInterval(s.tl.FrameInterval())
	} else {
		s.queue.setInterval(0)
	}
	if !s.dirty {
		return
	}
	if s.cfg.PersistDelay <= 0 {
		s.persist()
		return
	}
	s.queue.schedulePersist(s.cfg.PersistDelay)
}

func (s *Studio) persist() {
	if !s.dirty || s.store == nil {
		s.dirty = false
		return
	}
	doc, err := s.tl.Persisted()
	if err != nil {
		s.logger.Error("failed to encode timeline", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, doc); err != nil {
		s.logger.Error("failed to save timeline", "error", err)
		return
	}
	s.dirty = false
}

// Close stops the command loop after saving pending changes
func (s *Studio) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.stopped
		s.logger.Info("studio stopped")
	})
}

// do runs fn on the loop goroutine and waits for it. fn reports whether the
// persisted document changed.
func (s *Studio) do(ctx context.Context, fn func(*timeline.Timeline) bool) error {
	cmd := command{kind: commandCall, fn: fn, done: make(chan struct{})}
	select {
	case s.queue.calls <- cmd:
	case <-s.stopped:
		return ErrStudioClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cmd.done:
		return nil
	case <-s.stopped:
		select {
		case <-cmd.done:
			return nil
		default:
			return ErrStudioClosed
		}
	}
}

func (s *Studio) view(ctx context.Context, fn func(*timeline.Timeline)) error {
	return s.do(ctx, func(t *timeline.Timeline) bool {
		fn(t)
		return false
	})
}

// update runs a mutation and returns the resulting state. A failed
// operation leaves the timeline untouched.
func (s *Studio) update(ctx context.Context, fn func(*timeline.Timeline) (bool, error)) (timeline.State, error) {
	var (
		state timeline.State
		opErr error
	)
	err := s.do(ctx, func(t *timeline.Timeline) bool {
		changed, err := fn(t)
		if err != nil {
			opErr = err
			return false
		}
		state = t.Snapshot()
		return changed
	})
	if err != nil {
		return timeline.State{}, err
	}
	return state, opErr
}

// Snapshot returns a copy of the whole timeline
func (s *Studio) Snapshot(ctx context.Context) (timeline.State, error) {
	var state timeline.State
	err := s.view(ctx, func(t *timeline.Timeline) { state = t.Snapshot() })
	return state, err
}

// Frame returns a copy of frame i
func (s *Studio) Frame(ctx context.Context, i int) (skeleton.Skeleton, error) {
	var (
		f     skeleton.Skeleton
		opErr error
	)
	if err := s.view(ctx, func(t *timeline.Timeline) { f, opErr = t.Frame(i) }); err != nil {
		return skeleton.Skeleton{}, err
	}
	return f, opErr
}

// LoadFrames replaces the frame sequence
func (s *Studio) LoadFrames(ctx context.Context, frames []skeleton.Skeleton) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return true, t.LoadFrames(frames)
	})
}

func (s *Studio) AddFrame(ctx context.Context) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		t.AddFrame()
		return true, nil
	})
}

func (s *Studio) DuplicateFrame(ctx context.Context) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		t.DuplicateFrame()
		return true, nil
	})
}

// DeleteFrame removes the frame at the cursor; the last frame is kept
func (s *Studio) DeleteFrame(ctx context.Context) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return t.DeleteFrame(), nil
	})
}

func (s *Studio) CopyPose(ctx context.Context) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		t.CopyPose()
		return false, nil
	})
}

// PastePose is a no-op while the clipboard is empty
func (s *Studio) PastePose(ctx context.Context) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return t.PastePose(), nil
	})
}

func (s *Studio) SetFrame(ctx context.Context, i int, f skeleton.Skeleton) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return true, t.SetFrame(i, f)
	})
}

func (s *Studio) SetFrameImage(ctx context.Context, i int, ref string) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return true, t.SetFrameImage(i, ref)
	})
}

func (s *Studio) SetPoseImage(ctx context.Context, i int, ref string) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return true, t.SetPoseImage(i, ref)
	})
}

func (s *Studio) SetCursor(ctx context.Context, i int) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return true, t.SetCursor(i)
	})
}

// TogglePlaying starts or stops playback. Stopping saves the cursor the
// playback left behind.
func (s *Studio) TogglePlaying(ctx context.Context) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return !t.TogglePlaying(), nil
	})
}

func (s *Studio) SetPlaying(ctx context.Context, playing bool) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		t.SetPlaying(playing)
		return !playing, nil
	})
}

func (s *Studio) SetFPS(ctx context.Context, fps int) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return true, t.SetFPS(fps)
	})
}

func (s *Studio) SetOutputSize(ctx context.Context, size timeline.Size) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return true, t.SetOutputSize(size)
	})
}

func (s *Studio) SetViewMode(ctx context.Context, mode timeline.ViewMode) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return true, t.SetViewMode(mode)
	})
}

// SetReferenceImage stores the character reference as a self-contained PNG
// data URL no larger than the output size. An empty value clears it.
func (s *Studio) SetReferenceImage(ctx context.Context, dataURL string) (timeline.State, error) {
	if dataURL != "" {
		var size timeline.Size
		if err := s.view(ctx, func(t *timeline.Timeline) { size = t.OutputSize() }); err != nil {
			return timeline.State{}, err
		}
		normalized, err := refimage.Normalize(dataURL, size.Width, size.Height)
		if err != nil {
			return timeline.State{}, err
		}
		dataURL = normalized
	}
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		t.SetReferenceImage(dataURL)
		return true, nil
	})
}

// SetStage records the viewport and centers a freshly loaded set once
func (s *Studio) SetStage(ctx context.Context, stage timeline.Stage) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return t.SetStage(stage), nil
	})
}

// Recenter centers the current set on the stage again
func (s *Studio) Recenter(ctx context.Context) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return t.Recenter(), nil
	})
}

func (s *Studio) TranslateFrame(ctx context.Context, i int, dx, dy float64) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return true, t.TranslateFrame(i, dx, dy)
	})
}

// RotateJoint points a joint at target; root joints are left alone
func (s *Studio) RotateJoint(ctx context.Context, i int, id skeleton.JointID, target r2.Point) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return t.RotateJoint(i, id, target)
	})
}

func (s *Studio) SetJointRotation(ctx context.Context, i int, id skeleton.JointID, radians float64) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return true, t.SetJointRotation(i, id, radians)
	})
}

func (s *Studio) BeginDrag(ctx context.Context, i int, k skeleton.Keypoint) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return false, t.BeginDrag(i, k)
	})
}

func (s *Studio) DragTo(ctx context.Context, target r2.Point) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		return true, t.DragTo(target)
	})
}

func (s *Studio) EndDrag(ctx context.Context) (timeline.State, error) {
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		t.EndDrag()
		return false, nil
	})
}

// Export builds the animation document for the current frames
func (s *Studio) Export(ctx context.Context, name string) (timeline.Animation, error) {
	var anim timeline.Animation
	err := s.view(ctx, func(t *timeline.Timeline) { anim = t.Export(name, time.Now()) })
	return anim, err
}

// Import loads an animation document. Its fps is applied when valid.
func (s *Studio) Import(ctx context.Context, data []byte) (timeline.State, error) {
	imported, err := timeline.DecodeAnimation(data, s.logger)
	if err != nil {
		return timeline.State{}, err
	}
	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		if err := t.LoadFrames(imported.Frames); err != nil {
			return false, err
		}
		if imported.FPS != 0 {
			if err := t.SetFPS(imported.FPS); err != nil {
				s.logger.Warn("ignoring animation fps", "name", imported.Name, "fps", imported.FPS)
			}
		}
		return true, nil
	})
}

// GenerationInput captures what a generation run needs from the timeline
func (s *Studio) GenerationInput(ctx context.Context) (generation.Input, error) {
	var in generation.Input
	err := s.view(ctx, func(t *timeline.Timeline) {
		size := t.OutputSize()
		in = generation.Input{
			Frames:         t.Frames(),
			FrameIndex:     t.Cursor(),
			ReferenceImage: t.ReferenceImage(),
			Width:          size.Width,
			Height:         size.Height,
		}
	})
	return in, err
}

// RefreshPreviews rasterizes every frame at the output size and stores the
// results as pose previews. Frames edited while rendering keep their old
// preview.
func (s *Studio) RefreshPreviews(ctx context.Context) (timeline.State, error) {
	var (
		frames []skeleton.Skeleton
		size   timeline.Size
	)
	if err := s.view(ctx, func(t *timeline.Timeline) {
		frames = t.Frames()
		size = t.OutputSize()
	}); err != nil {
		return timeline.State{}, err
	}

	poses := make([]skeleton.KeypointPose, len(frames))
	for i, f := range frames {
		poses[i] = skeleton.ToKeypoints(f)
	}
	images, err := raster.RenderAll(ctx, poses, size.Width, size.Height, s.cfg.PreviewWorkers)
	if err != nil {
		return timeline.State{}, fmt.Errorf("failed to render previews: %w", err)
	}

	return s.update(ctx, func(t *timeline.Timeline) (bool, error) {
		changed := false
		for i, img := range images {
			current, err := t.Frame(i)
			if err != nil || !current.Equal(frames[i]) {
				continue
			}
			if err := t.SetPoseImage(i, refimage.EncodeDataURL("image/png", img)); err == nil {
				changed = true
			}
		}
		return changed, nil
	})
}

// ApplyResult writes a generated image into the timeline. Single-frame
// results also become the final image.
func (s *Studio) ApplyResult(kind generation.Kind, frameIndex int, imageURL, poseImage string) {
	err := s.do(context.Background(), func(t *timeline.Timeline) bool {
		if err := t.SetFrameImage(frameIndex, imageURL); err != nil {
			s.logger.Warn("dropping generated image", "kind", kind, "frame", frameIndex, "error", err)
			return false
		}
		if poseImage != "" {
			// the index was checked by SetFrameImage
			_ = t.SetPoseImage(frameIndex, poseImage)
		}
		if kind == generation.KindFrame {
			t.SetFinalImage(imageURL)
		}
		return true
	})
	if err != nil {
		s.logger.Warn("generated image not applied", "kind", kind, "frame", frameIndex, "error", err)
	}
}
