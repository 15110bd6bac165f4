package timeline

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/jengzang/framelab-backend/internal/skeleton"
)

func raisedArm() skeleton.Skeleton {
	s := skeleton.DefaultSkeleton()
	return skeleton.SetRotation(s, skeleton.JointLShoulder, -math.Pi/2)
}

func TestNewTimelineDefaults(t *testing.T) {
	tl := New()
	if tl.Len() != DefaultFrameCount {
		t.Fatalf("expected %d frames, got %d", DefaultFrameCount, tl.Len())
	}
	if tl.FPS() != DefaultFPS || tl.OutputSize() != Size512 || tl.ViewMode() != ViewStack {
		t.Errorf("unexpected defaults: fps=%d size=%s view=%s", tl.FPS(), tl.OutputSize(), tl.ViewMode())
	}
	if _, ok := tl.LastAdded(); ok {
		t.Error("fresh timeline has no last added frame")
	}
}

func TestAddThenDeleteRestoresTimeline(t *testing.T) {
	tl := New()
	if err := tl.SetFrame(3, raisedArm()); err != nil {
		t.Fatal(err)
	}
	if err := tl.SetCursor(3); err != nil {
		t.Fatal(err)
	}
	before := tl.Frames()

	tl.AddFrame()
	if tl.Len() != len(before)+1 {
		t.Fatalf("add should grow the timeline, got %d", tl.Len())
	}
	if tl.Cursor() != 4 {
		t.Errorf("cursor = %d, want 4", tl.Cursor())
	}
	if i, ok := tl.LastAdded(); !ok || i != 4 {
		t.Errorf("last added = %d, %v", i, ok)
	}
	added, _ := tl.Frame(4)
	if !added.Equal(before[3]) {
		t.Error("added frame should copy the selected pose")
	}
	if img, _ := tl.FrameImage(4); img != "" {
		t.Error("added frame must have no image")
	}

	if !tl.DeleteFrame() {
		t.Fatal("delete refused")
	}
	if tl.Len() != len(before) {
		t.Fatalf("expected %d frames after delete, got %d", len(before), tl.Len())
	}
	if tl.Cursor() != 3 {
		t.Errorf("cursor = %d, want 3", tl.Cursor())
	}
	for i, f := range tl.Frames() {
		if !f.Equal(before[i]) {
			t.Errorf("frame %d changed by add/delete round trip", i)
		}
	}
	if _, ok := tl.LastAdded(); ok {
		t.Error("delete should clear the last added marker")
	}
}

func TestDuplicateCopiesImages(t *testing.T) {
	tl := New()
	if err := tl.SetFrameImage(0, "https://img/0.png"); err != nil {
		t.Fatal(err)
	}
	if err := tl.SetPoseImage(0, "data:image/png;base64,AA=="); err != nil {
		t.Fatal(err)
	}
	tl.DuplicateFrame()

	if img, _ := tl.FrameImage(1); img != "https://img/0.png" {
		t.Errorf("duplicate image = %q", img)
	}
	if pv, _ := tl.PoseImage(1); pv != "data:image/png;base64,AA==" {
		t.Errorf("duplicate preview = %q", pv)
	}
	if img, _ := tl.FrameImage(2); img != "" {
		t.Errorf("frame after duplicate should keep its own empty image, got %q", img)
	}
}

func TestParallelSequencesStayAligned(t *testing.T) {
	tl := New()
	tl.AddFrame()
	tl.DuplicateFrame()
	tl.DeleteFrame()
	tl.AddFrame()
	s := tl.Snapshot()
	if len(s.Frames) != len(s.FrameImages) || len(s.Frames) != len(s.PoseImages) {
		t.Fatalf("lengths diverged: %d %d %d", len(s.Frames), len(s.FrameImages), len(s.PoseImages))
	}
}

func TestDeleteKeepsLastFrame(t *testing.T) {
	tl := New()
	if err := tl.LoadFrames([]skeleton.Skeleton{skeleton.DefaultSkeleton()}); err != nil {
		t.Fatal(err)
	}
	if tl.DeleteFrame() {
		t.Error("deleting the only frame must be refused")
	}
	if tl.Len() != 1 {
		t.Errorf("frame count = %d, want 1", tl.Len())
	}
}

func TestDeleteFirstFrameClampsCursor(t *testing.T) {
	tl := New()
	tl.DeleteFrame()
	if tl.Cursor() != 0 {
		t.Errorf("cursor = %d, want 0", tl.Cursor())
	}
}

func TestCopyPasteIsDeepCopy(t *testing.T) {
	tl := New()
	if err := tl.SetFrame(0, raisedArm()); err != nil {
		t.Fatal(err)
	}
	tl.CopyPose()
	source, _ := tl.Frame(0)

	if err := tl.SetCursor(5); err != nil {
		t.Fatal(err)
	}
	if !tl.PastePose() {
		t.Fatal("paste refused")
	}
	pasted, _ := tl.Frame(5)
	if !pasted.Equal(source) {
		t.Fatal("pasted frame differs from copied frame")
	}

	// editing the pasted frame must not leak into source or clipboard
	if err := tl.TranslateFrame(5, 40, 0); err != nil {
		t.Fatal(err)
	}
	if f, _ := tl.Frame(0); !f.Equal(source) {
		t.Error("source frame changed after editing the pasted copy")
	}
	if err := tl.SetCursor(6); err != nil {
		t.Fatal(err)
	}
	tl.PastePose()
	if f, _ := tl.Frame(6); !f.Equal(source) {
		t.Error("clipboard changed after editing the pasted copy")
	}
}

func TestPasteWithoutClipboard(t *testing.T) {
	tl := New()
	before, _ := tl.Frame(0)
	if tl.PastePose() {
		t.Error("paste with empty clipboard should report false")
	}
	if after, _ := tl.Frame(0); !after.Equal(before) {
		t.Error("paste with empty clipboard changed the frame")
	}
}

func TestOutOfRangeWrites(t *testing.T) {
	tl := New()
	checks := []error{
		tl.SetFrameImage(10, "x"),
		tl.SetPoseImage(-1, "x"),
		tl.SetCursor(99),
		tl.TranslateFrame(10, 1, 1),
	}
	for i, err := range checks {
		if !errors.Is(err, ErrFrameOutOfRange) {
			t.Errorf("check %d: expected ErrFrameOutOfRange, got %v", i, err)
		}
	}
}

func TestPlaybackTickWraps(t *testing.T) {
	tl := New()
	if err := tl.LoadFrames([]skeleton.Skeleton{skeleton.DefaultSkeleton(), skeleton.DefaultSkeleton(), skeleton.DefaultSkeleton()}); err != nil {
		t.Fatal(err)
	}
	if tl.Tick() {
		t.Error("tick while stopped should not advance")
	}
	tl.TogglePlaying()
	for i := 0; i < 4; i++ {
		tl.Tick()
	}
	if tl.Cursor() != 1 {
		t.Errorf("cursor = %d, want 1", tl.Cursor())
	}
	tl.TogglePlaying()
	if tl.Cursor() != 1 {
		t.Error("stopping playback must not reset the cursor")
	}
}

func TestSetFPS(t *testing.T) {
	tl := New()
	if err := tl.SetFPS(0); !errors.Is(err, ErrInvalidFPS) {
		t.Errorf("expected ErrInvalidFPS, got %v", err)
	}
	if err := tl.SetFPS(12); err != nil {
		t.Fatal(err)
	}
	if got := tl.FrameInterval().Milliseconds(); got != 83 {
		t.Errorf("interval = %dms, want 83ms", got)
	}
}

func TestCenteringRunsOncePerLoadedSet(t *testing.T) {
	single := skeleton.Skeleton{Joints: []skeleton.Joint{{ID: skeleton.JointHip, X: 5, Y: 5}}}
	other := skeleton.Skeleton{Joints: []skeleton.Joint{{ID: skeleton.JointHip, X: 25, Y: 5}}}

	tl := New()
	if err := tl.LoadFrames([]skeleton.Skeleton{single, other}); err != nil {
		t.Fatal(err)
	}
	if tl.Centered() {
		t.Fatal("centering needs a stage")
	}
	if !tl.SetStage(Stage{Width: 200, Height: 200}) {
		t.Fatal("expected centering on first stage size")
	}

	first, _ := tl.Frame(0)
	second, _ := tl.Frame(1)
	if first.Joints[0].X != 100 || first.Joints[0].Y != 100 {
		t.Errorf("first frame at (%f, %f), want (100, 100)", first.Joints[0].X, first.Joints[0].Y)
	}
	if second.Joints[0].X != 120 || second.Joints[0].Y != 100 {
		t.Errorf("second frame keeps its offset, got (%f, %f)", second.Joints[0].X, second.Joints[0].Y)
	}

	if tl.SetStage(Stage{Width: 400, Height: 400}) {
		t.Error("centering must run only once per loaded set")
	}

	if err := tl.LoadFrames([]skeleton.Skeleton{single}); err != nil {
		t.Fatal(err)
	}
	f, _ := tl.Frame(0)
	if f.Joints[0].X != 200 || f.Joints[0].Y != 200 {
		t.Errorf("reloaded set should be centered on the current stage, got (%f, %f)", f.Joints[0].X, f.Joints[0].Y)
	}
}

func TestRotateJointKeepsOtherFrames(t *testing.T) {
	tl := New()
	before, _ := tl.Frame(1)
	changed, err := tl.RotateJoint(0, skeleton.JointLElbow, r2.Point{X: 306, Y: 300})
	if err != nil || !changed {
		t.Fatalf("rotate failed: %v %v", changed, err)
	}
	if after, _ := tl.Frame(1); !after.Equal(before) {
		t.Error("rotating frame 0 changed frame 1")
	}
	if changed, _ := tl.RotateJoint(0, skeleton.JointHip, r2.Point{}); changed {
		t.Error("root rotation by drag should be a no-op")
	}
}

func TestRigidDragOnFrame(t *testing.T) {
	tl := New()
	if err := tl.BeginDrag(2, skeleton.LElbow); err != nil {
		t.Fatal(err)
	}
	if err := tl.DragTo(r2.Point{X: 356, Y: 150}); err != nil {
		t.Fatal(err)
	}
	if err := tl.DragTo(r2.Point{X: 356, Y: 160}); err != nil {
		t.Fatal(err)
	}
	tl.EndDrag()

	f, _ := tl.Frame(2)
	pose := skeleton.ToKeypoints(f)
	if math.Abs(pose[skeleton.LWrist][1]-160) > 1e-9 || math.Abs(pose[skeleton.LWrist][0]-406) > 1e-9 {
		t.Errorf("wrist at %v, want [406 160]", pose[skeleton.LWrist])
	}
	if err := tl.DragTo(r2.Point{}); !errors.Is(err, skeleton.ErrNoDrag) {
		t.Errorf("expected ErrNoDrag after EndDrag, got %v", err)
	}
}

func TestLoadFramesRejectsEmpty(t *testing.T) {
	if err := New().LoadFrames(nil); !errors.Is(err, ErrEmptyTimeline) {
		t.Errorf("expected ErrEmptyTimeline, got %v", err)
	}
}

func TestDragKeepsRootAndUnrelatedBones(t *testing.T) {
	tl := New()
	if changed, err := tl.RotateJoint(0, skeleton.JointRHip, r2.Point{X: 256, Y: 300}); err != nil || !changed {
		t.Fatalf("RotateJoint: changed=%v err=%v", changed, err)
	}
	before, _ := tl.Frame(0)
	start := skeleton.ToKeypoints(before)[skeleton.RWrist].Point()

	if err := tl.BeginDrag(0, skeleton.RWrist); err != nil {
		t.Fatal(err)
	}
	if err := tl.DragTo(start); err != nil {
		t.Fatal(err)
	}
	if f, _ := tl.Frame(0); !f.Equal(before) {
		t.Error("a drag back to the start position changed the frame")
	}

	if err := tl.DragTo(start.Add(r2.Point{X: 10, Y: 5})); err != nil {
		t.Fatal(err)
	}
	tl.EndDrag()

	after, _ := tl.Frame(0)
	for _, id := range []skeleton.JointID{skeleton.JointHip, skeleton.JointRHip, skeleton.JointLHip, skeleton.JointNeck} {
		want, _ := before.Joint(id)
		if got, _ := after.Joint(id); got != want {
			t.Errorf("%s changed from %+v to %+v", id, want, got)
		}
	}
	wrist, _ := after.Joint(skeleton.JointRWrist)
	if math.Abs(wrist.X-(start.X+10)) > 1e-9 || math.Abs(wrist.Y-(start.Y+5)) > 1e-9 {
		t.Errorf("wrist at (%f, %f), want (%f, %f)", wrist.X, wrist.Y, start.X+10, start.Y+5)
	}
	if !skeleton.Consistent(after, 1e-9) {
		t.Error("dragged frame violates forward kinematics")
	}
}

func cyclicFrame() skeleton.Skeleton {
	return skeleton.Skeleton{Joints: []skeleton.Joint{
		{ID: skeleton.JointHip},
		{ID: "a", Parent: "b"},
		{ID: "b", Parent: "a"},
	}}
}

func TestFramesWithBrokenHierarchyAreRejected(t *testing.T) {
	tl := New()
	if err := tl.LoadFrames([]skeleton.Skeleton{cyclicFrame()}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("LoadFrames: expected ErrInvalidFrame, got %v", err)
	}
	if err := tl.SetFrame(0, cyclicFrame()); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("SetFrame: expected ErrInvalidFrame, got %v", err)
	}
	if tl.Len() != DefaultFrameCount {
		t.Errorf("rejected frames changed the timeline")
	}
}
