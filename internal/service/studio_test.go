package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jengzang/framelab-backend/internal/generation"
	"github.com/jengzang/framelab-backend/internal/refimage"
	"github.com/jengzang/framelab-backend/internal/repository"
	"github.com/jengzang/framelab-backend/internal/skeleton"
	"github.com/jengzang/framelab-backend/internal/timeline"
)

type memStore struct {
	mu    sync.Mutex
	doc   []byte
	saves int
}

func (m *memStore) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, repository.ErrStateNotFound
	}
	return append([]byte(nil), m.doc...), nil
}

func (m *memStore) Save(ctx context.Context, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = append([]byte(nil), doc...)
	m.saves++
	return nil
}

func (m *memStore) saved() (int, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves, m.doc
}

func newTestStudio(t *testing.T, store StateStore, cfg StudioConfig) *Studio {
	t.Helper()
	s := NewStudio(context.Background(), store, cfg, nil)
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStudioFrameCommands(t *testing.T) {
	ctx := context.Background()
	s := newTestStudio(t, nil, StudioConfig{})

	state, err := s.AddFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Frames) != timeline.DefaultFrameCount+1 || state.Cursor != 1 {
		t.Fatalf("after add: %d frames, cursor %d", len(state.Frames), state.Cursor)
	}
	if state.LastAdded == nil || *state.LastAdded != 1 {
		t.Errorf("last added = %v", state.LastAdded)
	}

	state, err = s.DeleteFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Frames) != timeline.DefaultFrameCount || state.Cursor != 0 {
		t.Errorf("after delete: %d frames, cursor %d", len(state.Frames), state.Cursor)
	}

	if _, err := s.SetCursor(ctx, 99); !errors.Is(err, timeline.ErrFrameOutOfRange) {
		t.Errorf("expected ErrFrameOutOfRange, got %v", err)
	}
	if _, err := s.SetFPS(ctx, 0); !errors.Is(err, timeline.ErrInvalidFPS) {
		t.Errorf("expected ErrInvalidFPS, got %v", err)
	}

	if _, err := s.TranslateFrame(ctx, 0, 10, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CopyPose(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetCursor(ctx, 3); err != nil {
		t.Fatal(err)
	}
	state, err = s.PastePose(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Frames[3].Equal(state.Frames[0]) {
		t.Error("pasted frame differs from the copied one")
	}
}

func TestStudioPersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}

	s := NewStudio(ctx, store, StudioConfig{}, nil)
	if _, err := s.AddFrame(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetFPS(ctx, 12); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetFrameImage(ctx, 1, "https://cdn/1.png"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := s.AddFrame(ctx); !errors.Is(err, ErrStudioClosed) {
		t.Errorf("expected ErrStudioClosed, got %v", err)
	}

	restored := newTestStudio(t, store, StudioConfig{})
	state, err := restored.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Frames) != timeline.DefaultFrameCount+1 || state.FPS != 12 || state.Cursor != 1 {
		t.Errorf("restored %d frames, fps %d, cursor %d", len(state.Frames), state.FPS, state.Cursor)
	}
	if state.FrameImages[1] != "https://cdn/1.png" {
		t.Errorf("frame images = %v", state.FrameImages)
	}
}

func TestStudioCoalescesSaves(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s := newTestStudio(t, store, StudioConfig{PersistDelay: 20 * time.Millisecond})

	for i := 0; i < 3; i++ {
		if _, err := s.AddFrame(ctx); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "saved document", func() bool {
		_, doc := store.saved()
		if doc == nil {
			return false
		}
		tl, err := timeline.Restore(doc)
		return err == nil && tl.Len() == timeline.DefaultFrameCount+3
	})
}

func TestStudioPlayback(t *testing.T) {
	ctx := context.Background()
	s := newTestStudio(t, nil, StudioConfig{})

	if _, err := s.SetFPS(ctx, timeline.MaxFPS); err != nil {
		t.Fatal(err)
	}
	state, err := s.TogglePlaying(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Playing {
		t.Fatal("expected playback to start")
	}
	waitFor(t, "cursor to advance", func() bool {
		st, err := s.Snapshot(ctx)
		return err == nil && st.Cursor != 0
	})

	state, err = s.SetPlaying(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	stopped := state.Cursor
	time.Sleep(50 * time.Millisecond)
	state, err = s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state.Playing || state.Cursor != stopped {
		t.Errorf("cursor moved after stop: %d -> %d", stopped, state.Cursor)
	}
}

func TestStudioApplyResult(t *testing.T) {
	ctx := context.Background()
	s := newTestStudio(t, nil, StudioConfig{})

	s.ApplyResult(generation.KindFrame, 2, "https://cdn/2.png", "data:image/png;base64,AA==")
	s.ApplyResult(generation.KindSequence, 4, "https://cdn/4.png", "")
	s.ApplyResult(generation.KindSequence, 99, "https://cdn/99.png", "")

	state, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state.FrameImages[2] != "https://cdn/2.png" || state.PoseImages[2] == "" {
		t.Errorf("frame 2: image %q pose %q", state.FrameImages[2], state.PoseImages[2])
	}
	if state.FrameImages[4] != "https://cdn/4.png" || state.PoseImages[4] != "" {
		t.Errorf("frame 4: image %q pose %q", state.FrameImages[4], state.PoseImages[4])
	}
	if state.FinalImage != "https://cdn/2.png" {
		t.Errorf("final image = %q", state.FinalImage)
	}
}

func TestStudioExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestStudio(t, nil, StudioConfig{})
	if _, err := src.SetJointRotation(ctx, 0, skeleton.JointRElbow, 0.5); err != nil {
		t.Fatal(err)
	}
	if _, err := src.SetFPS(ctx, 8); err != nil {
		t.Fatal(err)
	}
	anim, err := src.Export(ctx, "wave")
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(anim)
	if err != nil {
		t.Fatal(err)
	}

	dst := newTestStudio(t, nil, StudioConfig{})
	state, err := dst.Import(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Frames) != anim.FrameCount || state.FPS != 8 {
		t.Fatalf("imported %d frames at %d fps", len(state.Frames), state.FPS)
	}
	for i, f := range state.Frames {
		got := skeleton.ToKeypoints(f)
		for k, want := range anim.Frames[i] {
			p := got[k]
			if math.Abs(p[0]-want[0]) > 1e-6 || math.Abs(p[1]-want[1]) > 1e-6 {
				t.Errorf("frame %d %s = %v, want %v", i, k, p, want)
			}
		}
	}

	if _, err := dst.Import(ctx, []byte(`{"frames":[]}`)); !errors.Is(err, timeline.ErrEmptyTimeline) {
		t.Errorf("expected ErrEmptyTimeline, got %v", err)
	}
}

func TestStudioRefreshPreviews(t *testing.T) {
	ctx := context.Background()
	s := newTestStudio(t, nil, StudioConfig{PreviewWorkers: 2})
	if _, err := s.SetOutputSize(ctx, timeline.Size256); err != nil {
		t.Fatal(err)
	}

	state, err := s.RefreshPreviews(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range state.PoseImages {
		if !strings.HasPrefix(p, "data:image/png;base64,") {
			t.Fatalf("preview %d = %.30q", i, p)
		}
	}
	raw, err := refimage.DecodePNG(state.PoseImages[0])
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 256 || cfg.Height != 256 {
		t.Errorf("preview is %dx%d", cfg.Width, cfg.Height)
	}
}

func TestStudioReferenceImageIsNormalized(t *testing.T) {
	ctx := context.Background()
	s := newTestStudio(t, nil, StudioConfig{})

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1024, 512))); err != nil {
		t.Fatal(err)
	}
	state, err := s.SetReferenceImage(ctx, refimage.EncodeDataURL("image/png", buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := refimage.DecodePNG(state.ReferenceImage)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 512 || cfg.Height != 256 {
		t.Errorf("reference is %dx%d, want 512x256", cfg.Width, cfg.Height)
	}

	if _, err := s.SetReferenceImage(ctx, "not a data url"); err == nil {
		t.Error("expected an error for a malformed reference")
	}
	state, err = s.SetReferenceImage(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if state.ReferenceImage != "" {
		t.Error("expected the reference to be cleared")
	}
}
