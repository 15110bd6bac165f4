package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jengzang/framelab-backend/internal/skeleton"
)

// State is a read-only copy of the timeline handed to readers
type State struct {
	Frames         []skeleton.Skeleton `json:"frames"`
	FrameImages    []string            `json:"frameImages"`
	PoseImages     []string            `json:"poseImages"`
	Cursor         int                 `json:"cursor"`
	FPS            int                 `json:"fps"`
	Playing        bool                `json:"playing"`
	OutputSize     Size                `json:"outputSize"`
	ReferenceImage string              `json:"referenceImage,omitempty"`
	LastAdded      *int                `json:"lastAddedFrame"`
	HasClipboard   bool                `json:"hasClipboard"`
	Centered       bool                `json:"centered"`
	Stage          Stage               `json:"stage"`
	ViewMode       ViewMode            `json:"viewMode"`
	FinalImage     string              `json:"finalImage,omitempty"`
}

// Snapshot copies the full timeline state
func (t *Timeline) Snapshot() State {
	s := State{
		Frames:         t.Frames(),
		FrameImages:    append([]string(nil), t.images...),
		PoseImages:     append([]string(nil), t.previews...),
		Cursor:         t.cursor,
		FPS:            t.fps,
		Playing:        t.playing,
		OutputSize:     t.outputSize,
		ReferenceImage: t.reference,
		HasClipboard:   t.clipboard != nil,
		Centered:       t.centered,
		Stage:          t.stage,
		ViewMode:       t.viewMode,
		FinalImage:     t.finalImage,
	}
	if i, ok := t.LastAdded(); ok {
		s.LastAdded = &i
	}
	return s
}

// persisted is the durable subset of the timeline. Keys are stable across
// releases; unknown keys are ignored and missing keys take their defaults.
type persisted struct {
	ReferenceImage *string           `json:"characterImageDataUrl"`
	Frames         []json.RawMessage `json:"skeletons"`
	FrameImages    []*string         `json:"frameImages"`
	PoseImages     []*string         `json:"poseImages"`
	OutputSize     string            `json:"outputSize"`
	FinalImage     *string           `json:"finalSpriteSheet"`
	Cursor         int               `json:"selectedFrame"`
	FPS            int               `json:"fps"`
	ViewMode       ViewMode          `json:"viewMode"`
}

// Persisted encodes the durable subset of the timeline as JSON
func (t *Timeline) Persisted() ([]byte, error) {
	doc := persisted{
		ReferenceImage: nullable(t.reference),
		Frames:         make([]json.RawMessage, len(t.frames)),
		FrameImages:    make([]*string, len(t.images)),
		PoseImages:     make([]*string, len(t.previews)),
		OutputSize:     t.outputSize.String(),
		FinalImage:     nullable(t.finalImage),
		Cursor:         t.cursor,
		FPS:            t.fps,
		ViewMode:       t.viewMode,
	}
	for i, f := range t.frames {
		raw, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame %d: %w", i, err)
		}
		doc.Frames[i] = raw
	}
	for i := range t.images {
		doc.FrameImages[i] = nullable(t.images[i])
		doc.PoseImages[i] = nullable(t.previews[i])
	}
	return json.Marshal(doc)
}

// Restore builds a timeline from a persisted document. Missing or invalid
// fields fall back to the defaults of New; the image sequences are padded or
// truncated to the frame count and the cursor is clamped.
func Restore(data []byte) (*Timeline, error) {
	var doc persisted
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode persisted state: %w", err)
	}

	t := New()
	if len(doc.Frames) > 0 {
		frames := make([]skeleton.Skeleton, len(doc.Frames))
		for i, raw := range doc.Frames {
			f, err := DecodeFrame(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to decode frame %d: %w", i, err)
			}
			frames[i] = f
		}
		t.replaceFrames(frames)
	}

	for i := range t.frames {
		if i < len(doc.FrameImages) && doc.FrameImages[i] != nil {
			t.images[i] = *doc.FrameImages[i]
		}
		if i < len(doc.PoseImages) && doc.PoseImages[i] != nil {
			t.previews[i] = *doc.PoseImages[i]
		}
	}

	if doc.ReferenceImage != nil {
		t.reference = *doc.ReferenceImage
	}
	if doc.FinalImage != nil {
		t.finalImage = *doc.FinalImage
	}
	if size, err := ParseSize(doc.OutputSize); err == nil && size.Supported() {
		t.outputSize = size
	}
	if doc.FPS >= MinFPS && doc.FPS <= MaxFPS {
		t.fps = doc.FPS
	}
	if doc.ViewMode.Valid() {
		t.viewMode = doc.ViewMode
	}
	t.cursor = min(max(doc.Cursor, 0), len(t.frames)-1)
	return t, nil
}

// Animation is the exported, re-importable animation document.
// Frames are written as flat keypoint maps for interoperability.
type Animation struct {
	Name       string                  `json:"name"`
	FPS        int                     `json:"fps,omitempty"`
	Frames     []skeleton.KeypointPose `json:"frames"`
	FrameCount int                     `json:"frameCount"`
	ExportDate time.Time               `json:"exportDate"`
}

// Export builds the animation document for the current frames
func (t *Timeline) Export(name string, now time.Time) Animation {
	frames := make([]skeleton.KeypointPose, len(t.frames))
	for i, f := range t.frames {
		frames[i] = skeleton.ToKeypoints(f)
	}
	return Animation{
		Name:       name,
		FPS:        t.fps,
		Frames:     frames,
		FrameCount: len(frames),
		ExportDate: now.UTC(),
	}
}

// Imported is a decoded animation document
type Imported struct {
	Name   string
	FPS    int
	Frames []skeleton.Skeleton
}

// DecodeAnimation parses an animation document whose frames may be flat
// keypoint maps or hierarchical skeletons. frameCount is informational: a
// mismatch with the decoded frames is logged and otherwise ignored.
func DecodeAnimation(data []byte, logger *slog.Logger) (Imported, error) {
	var doc struct {
		Name       string            `json:"name"`
		FPS        int               `json:"fps"`
		Frames     []json.RawMessage `json:"frames"`
		FrameCount *int              `json:"frameCount"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Imported{}, fmt.Errorf("failed to decode animation: %w", err)
	}
	if len(doc.Frames) == 0 {
		return Imported{}, ErrEmptyTimeline
	}

	out := Imported{Name: doc.Name, FPS: doc.FPS, Frames: make([]skeleton.Skeleton, len(doc.Frames))}
	for i, raw := range doc.Frames {
		f, err := DecodeFrame(raw)
		if err != nil {
			return Imported{}, fmt.Errorf("failed to decode frame %d: %w", i, err)
		}
		out.Frames[i] = f
	}
	if doc.FrameCount != nil && *doc.FrameCount != len(out.Frames) && logger != nil {
		logger.Warn("animation frameCount does not match frames",
			"name", doc.Name, "frameCount", *doc.FrameCount, "frames", len(out.Frames))
	}
	return out, nil
}

// positions further than this from their FK solution are re-derived on import
const frameTolerance = 1e-6

// DecodeFrame accepts either a hierarchical skeleton ({"joints": [...]}) or a
// flat keypoint map and returns the hierarchical form
func DecodeFrame(raw json.RawMessage) (skeleton.Skeleton, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return skeleton.Skeleton{}, err
	}

	if joints, ok := probe["joints"]; ok && !bytes.Equal(bytes.TrimSpace(joints), []byte("null")) {
		var s skeleton.Skeleton
		if err := json.Unmarshal(raw, &s); err != nil {
			return skeleton.Skeleton{}, err
		}
		if err := s.Validate(); err != nil {
			return skeleton.Skeleton{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
		}
		if !skeleton.Consistent(s, frameTolerance) {
			s = skeleton.Recompute(s)
		}
		return s, nil
	}

	var pose skeleton.KeypointPose
	if err := json.Unmarshal(raw, &pose); err != nil {
		return skeleton.Skeleton{}, err
	}
	known := make(skeleton.KeypointPose, len(pose))
	for k, p := range pose {
		if _, ok := skeleton.JointFor(k); ok {
			known[k] = p
		}
	}
	return skeleton.FromKeypoints(known)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
