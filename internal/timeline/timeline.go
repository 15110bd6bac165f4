package timeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/geo/r2"
	"github.com/jengzang/framelab-backend/internal/skeleton"
)

var (
	ErrFrameOutOfRange = errors.New("frame index out of range")
	ErrEmptyTimeline   = errors.New("timeline needs at least one frame")
	ErrInvalidFPS      = fmt.Errorf("fps must be between %d and %d", MinFPS, MaxFPS)
	ErrUnsupportedSize = errors.New("unsupported output size")
	ErrInvalidViewMode = errors.New("invalid view mode")
	ErrInvalidFrame    = errors.New("invalid frame")
	ErrUnknownJoint    = errors.New("unknown joint")
)

// Timeline is the ordered frame store with its parallel image and preview
// sequences. The three sequences always have the same length and the cursor
// always addresses an existing frame.
//
// A Timeline is not safe for concurrent use; it is owned by one goroutine.
type Timeline struct {
	frames   []skeleton.Skeleton
	images   []string // "" means no generated image yet
	previews []string // "" means no pose preview yet

	cursor    int
	clipboard *skeleton.Skeleton
	lastAdded int // -1 when no frame was just added
	centered  bool

	fps        int
	playing    bool
	outputSize Size
	reference  string
	stage      Stage
	viewMode   ViewMode
	finalImage string

	drag      *skeleton.RigidDrag
	dragFrame int
}

// New returns a timeline of DefaultFrameCount T-pose frames
func New() *Timeline {
	frames := make([]skeleton.Skeleton, DefaultFrameCount)
	for i := range frames {
		frames[i] = skeleton.DefaultSkeleton()
	}
	t := &Timeline{
		fps:        DefaultFPS,
		outputSize: DefaultOutputSize,
		viewMode:   ViewStack,
		lastAdded:  -1,
	}
	t.replaceFrames(frames)
	return t
}

func (t *Timeline) replaceFrames(frames []skeleton.Skeleton) {
	t.frames = frames
	t.images = make([]string, len(frames))
	t.previews = make([]string, len(frames))
	t.cursor = 0
	t.lastAdded = -1
	t.centered = false
	t.endDrag()
}

// LoadFrames replaces the whole sequence. Images and previews are reset,
// the cursor returns to 0 and the set will be centered again once.
func (t *Timeline) LoadFrames(frames []skeleton.Skeleton) error {
	if len(frames) == 0 {
		return ErrEmptyTimeline
	}
	loaded := make([]skeleton.Skeleton, len(frames))
	for i, f := range frames {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("frame %d: %w: %w", i, ErrInvalidFrame, err)
		}
		loaded[i] = f.Clone()
	}
	t.replaceFrames(loaded)
	t.CenterAll()
	return nil
}

// Len returns the number of frames
func (t *Timeline) Len() int {
	return len(t.frames)
}

// Cursor returns the selected frame index
func (t *Timeline) Cursor() int {
	return t.cursor
}

// Frame returns a copy of frame i
func (t *Timeline) Frame(i int) (skeleton.Skeleton, error) {
	if err := t.checkIndex(i); err != nil {
		return skeleton.Skeleton{}, err
	}
	return t.frames[i].Clone(), nil
}

// Frames returns copies of all frames
func (t *Timeline) Frames() []skeleton.Skeleton {
	out := make([]skeleton.Skeleton, len(t.frames))
	for i, f := range t.frames {
		out[i] = f.Clone()
	}
	return out
}

// FrameImage returns the generated image reference of frame i
func (t *Timeline) FrameImage(i int) (string, error) {
	if err := t.checkIndex(i); err != nil {
		return "", err
	}
	return t.images[i], nil
}

// PoseImage returns the pose preview reference of frame i
func (t *Timeline) PoseImage(i int) (string, error) {
	if err := t.checkIndex(i); err != nil {
		return "", err
	}
	return t.previews[i], nil
}

// LastAdded returns the index of the frame inserted by the latest add or duplicate
func (t *Timeline) LastAdded() (int, bool) {
	return t.lastAdded, t.lastAdded >= 0
}

// HasClipboard reports whether a pose was copied
func (t *Timeline) HasClipboard() bool {
	return t.clipboard != nil
}

func (t *Timeline) checkIndex(i int) error {
	if i < 0 || i >= len(t.frames) {
		return fmt.Errorf("%w: %d of %d", ErrFrameOutOfRange, i, len(t.frames))
	}
	return nil
}

// insertAfterCursor places f right after the cursor and selects it
func (t *Timeline) insertAfterCursor(f skeleton.Skeleton, image, preview string) {
	at := t.cursor + 1
	t.frames = insertAt(t.frames, at, f)
	t.images = insertAt(t.images, at, image)
	t.previews = insertAt(t.previews, at, preview)
	t.cursor = at
	t.lastAdded = at
	t.endDrag()
}

// AddFrame inserts a copy of the selected pose after the cursor, without images
func (t *Timeline) AddFrame() {
	t.insertAfterCursor(t.frames[t.cursor].Clone(), "", "")
}

// DuplicateFrame inserts a copy of the selected pose and its images after the cursor
func (t *Timeline) DuplicateFrame() {
	t.insertAfterCursor(t.frames[t.cursor].Clone(), t.images[t.cursor], t.previews[t.cursor])
}

// DeleteFrame removes the selected frame. The last remaining frame is never
// deleted; the return value reports whether anything was removed.
func (t *Timeline) DeleteFrame() bool {
	if len(t.frames) <= 1 {
		return false
	}
	at := t.cursor
	t.frames = removeAt(t.frames, at)
	t.images = removeAt(t.images, at)
	t.previews = removeAt(t.previews, at)
	t.cursor = max(0, at-1)
	t.lastAdded = -1
	t.endDrag()
	return true
}

// CopyPose stores a copy of the selected frame in the clipboard
func (t *Timeline) CopyPose() {
	c := t.frames[t.cursor].Clone()
	t.clipboard = &c
	t.lastAdded = -1
}

// PastePose overwrites the selected frame with the clipboard pose.
// It reports false when nothing was copied.
func (t *Timeline) PastePose() bool {
	if t.clipboard == nil {
		return false
	}
	t.frames[t.cursor] = t.clipboard.Clone()
	t.lastAdded = -1
	t.endDrag()
	return true
}

// SetFrameImage stores the generated image reference of frame i; "" clears it
func (t *Timeline) SetFrameImage(i int, ref string) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	t.images[i] = ref
	return nil
}

// SetPoseImage stores the pose preview reference of frame i; "" clears it
func (t *Timeline) SetPoseImage(i int, ref string) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	t.previews[i] = ref
	return nil
}

// SetFrame replaces frame i. Joint positions are re-derived from the root so
// the stored frame always satisfies forward kinematics.
func (t *Timeline) SetFrame(i int, f skeleton.Skeleton) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if !skeleton.Consistent(f, frameTolerance) {
		f = skeleton.Recompute(f)
	}
	t.frames[i] = f.Clone()
	return nil
}

// SetCursor selects frame i
func (t *Timeline) SetCursor(i int) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	t.cursor = i
	return nil
}

// Playing reports whether playback is running
func (t *Timeline) Playing() bool {
	return t.playing
}

// TogglePlaying starts or stops playback and returns the new state.
// Stopping keeps the cursor where it is.
func (t *Timeline) TogglePlaying() bool {
	t.playing = !t.playing
	return t.playing
}

// SetPlaying sets the playback flag
func (t *Timeline) SetPlaying(playing bool) {
	t.playing = playing
}

// Tick advances the cursor by one frame, wrapping at the end.
// It does nothing while playback is stopped.
func (t *Timeline) Tick() bool {
	if !t.playing {
		return false
	}
	t.cursor = (t.cursor + 1) % len(t.frames)
	return true
}

// FPS returns the playback rate
func (t *Timeline) FPS() int {
	return t.fps
}

// SetFPS changes the playback rate
func (t *Timeline) SetFPS(fps int) error {
	if fps < MinFPS || fps > MaxFPS {
		return ErrInvalidFPS
	}
	t.fps = fps
	return nil
}

// FrameInterval is the time between two playback ticks
func (t *Timeline) FrameInterval() time.Duration {
	return time.Second / time.Duration(t.fps)
}

// OutputSize returns the requested generation size
func (t *Timeline) OutputSize() Size {
	return t.outputSize
}

// SetOutputSize changes the generation size
func (t *Timeline) SetOutputSize(s Size) error {
	if !s.Supported() {
		return fmt.Errorf("%w: %s", ErrUnsupportedSize, s)
	}
	t.outputSize = s
	return nil
}

// ReferenceImage returns the reference image data URL, or ""
func (t *Timeline) ReferenceImage() string {
	return t.reference
}

// SetReferenceImage stores the reference image as a self-contained data URL
func (t *Timeline) SetReferenceImage(dataURL string) {
	t.reference = dataURL
}

// ViewMode returns the editor layering mode
func (t *Timeline) ViewMode() ViewMode {
	return t.viewMode
}

// SetViewMode changes the editor layering mode
func (t *Timeline) SetViewMode(m ViewMode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidViewMode, m)
	}
	t.viewMode = m
	return nil
}

// FinalImage returns the last generated image shown as the result
func (t *Timeline) FinalImage() string {
	return t.finalImage
}

// SetFinalImage records the last generated result
func (t *Timeline) SetFinalImage(ref string) {
	t.finalImage = ref
}

// Stage returns the current viewport size
func (t *Timeline) Stage() Stage {
	return t.stage
}

// SetStage records the viewport size and centers a freshly loaded set once.
// It reports whether centering ran.
func (t *Timeline) SetStage(s Stage) bool {
	t.stage = s
	return t.CenterAll()
}

// Centered reports whether the loaded set was centered already
func (t *Timeline) Centered() bool {
	return t.centered
}

// CenterAll moves every frame by the offset that centers the first frame on
// the stage. It runs at most once per loaded set and does nothing until the
// stage has an area.
func (t *Timeline) CenterAll() bool {
	if t.centered || !t.stage.Ready() {
		return false
	}
	dx, dy, ok := skeleton.CenterOffset(t.frames[0], t.stage.Width, t.stage.Height)
	if !ok {
		return false
	}
	for i := range t.frames {
		t.frames[i] = skeleton.Translate(t.frames[i], dx, dy)
	}
	t.centered = true
	return true
}

// Recenter clears the centering flag and centers again
func (t *Timeline) Recenter() bool {
	t.centered = false
	return t.CenterAll()
}

// TranslateFrame moves every joint of frame i by (dx, dy)
func (t *Timeline) TranslateFrame(i int, dx, dy float64) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	t.frames[i] = skeleton.Translate(t.frames[i], dx, dy)
	return nil
}

// RotateJoint points joint id of frame i at target. It reports false when the
// joint cannot be rotated by dragging.
func (t *Timeline) RotateJoint(i int, id skeleton.JointID, target r2.Point) (bool, error) {
	if err := t.checkIndex(i); err != nil {
		return false, err
	}
	out, changed := skeleton.RotateToward(t.frames[i], id, target)
	if changed {
		t.frames[i] = out
	}
	return changed, nil
}

// SetJointRotation stores a relative rotation for joint id of frame i
func (t *Timeline) SetJointRotation(i int, id skeleton.JointID, radians float64) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	if t.frames[i].Index(id) < 0 {
		return fmt.Errorf("%w %q", ErrUnknownJoint, id)
	}
	t.frames[i] = skeleton.SetRotation(t.frames[i], id, radians)
	return nil
}

// BeginDrag starts a rigid keypoint drag on frame i
func (t *Timeline) BeginDrag(i int, k skeleton.Keypoint) error {
	if err := t.checkIndex(i); err != nil {
		return err
	}
	drag := skeleton.NewRigidDrag(nil)
	if !drag.Begin(skeleton.ToKeypoints(t.frames[i]), k) {
		return fmt.Errorf("%w %q", ErrUnknownJoint, k)
	}
	t.drag = drag
	t.dragFrame = i
	return nil
}

// DragTo moves the dragged keypoint and its descendants to target. Only the
// dragged bones are re-solved; the root and all other bones are kept.
func (t *Timeline) DragTo(target r2.Point) error {
	if t.drag == nil || !t.drag.Active() {
		return skeleton.ErrNoDrag
	}
	moved, err := t.drag.Moved(target)
	if err != nil {
		return err
	}
	t.frames[t.dragFrame] = skeleton.Reposition(t.frames[t.dragFrame], moved)
	return nil
}

// EndDrag drops the captured drag baseline
func (t *Timeline) EndDrag() {
	t.endDrag()
}

func (t *Timeline) endDrag() {
	if t.drag != nil {
		t.drag.End()
	}
	t.drag = nil
	t.dragFrame = 0
}

func insertAt[T any](s []T, i int, v T) []T {
	out := make([]T, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, v)
	return append(out, s[i:]...)
}

func removeAt[T any](s []T, i int) []T {
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}
