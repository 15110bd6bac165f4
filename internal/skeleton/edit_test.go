package skeleton

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
)

func TestTranslateMovesEveryJoint(t *testing.T) {
	s := DefaultSkeleton()
	out := Translate(s, 12.5, -3)

	for i, j := range out.Joints {
		orig := s.Joints[i]
		if !near(j.X-orig.X, 12.5) || !near(j.Y-orig.Y, -3) {
			t.Errorf("joint %s moved by (%f, %f)", j.ID, j.X-orig.X, j.Y-orig.Y)
		}
		if j.Rotation != orig.Rotation || j.Length != orig.Length {
			t.Errorf("joint %s rotation or length changed", j.ID)
		}
	}
	assertFK(t, out)
}

func TestRotateTowardSolvesRelativeRotation(t *testing.T) {
	s := DefaultSkeleton()
	shoulder, _ := s.Joint(JointLShoulder)

	// point the left elbow straight down from the shoulder
	target := r2.Point{X: shoulder.X, Y: shoulder.Y + 100}
	out, changed := RotateToward(s, JointLElbow, target)
	if !changed {
		t.Fatal("expected rotation to apply")
	}

	if got := AbsoluteRotation(JointLElbow, out); !near(got, math.Pi/2) {
		t.Errorf("absolute rotation = %f, want pi/2", got)
	}
	elbow, _ := out.Joint(JointLElbow)
	if !near(elbow.X, shoulder.X) || !near(elbow.Y, shoulder.Y+50) {
		t.Errorf("elbow at (%f, %f), want (%f, %f)", elbow.X, elbow.Y, shoulder.X, shoulder.Y+50)
	}
	wrist, _ := out.Joint(JointLWrist)
	if !near(wrist.X, shoulder.X) || !near(wrist.Y, shoulder.Y+100) {
		t.Errorf("wrist should follow elbow, at (%f, %f)", wrist.X, wrist.Y)
	}
	assertFK(t, out)

	// unrelated limbs stay put
	before, _ := s.Joint(JointRWrist)
	after, _ := out.Joint(JointRWrist)
	if before != after {
		t.Errorf("right wrist changed: %+v -> %+v", before, after)
	}
}

func TestRotateTowardIgnoresRootAndOrphans(t *testing.T) {
	s := DefaultSkeleton()
	if _, changed := RotateToward(s, JointHip, r2.Point{X: 0, Y: 0}); changed {
		t.Error("root rotation via drag should be a no-op")
	}
	if _, changed := RotateToward(s, "unknown", r2.Point{X: 0, Y: 0}); changed {
		t.Error("unknown joint should be a no-op")
	}

	broken := s.Clone()
	i := broken.Index(JointLShoulder)
	broken.Joints[i].X = math.NaN()
	out, changed := RotateToward(broken, JointLElbow, r2.Point{X: 1, Y: 1})
	if changed {
		t.Error("drag with undefined parent position should be a no-op")
	}
	elbow, _ := out.Joint(JointLElbow)
	orig, _ := broken.Joint(JointLElbow)
	if elbow != orig {
		t.Error("no-op drag modified the joint")
	}
}

func TestSetRotationOnRootSwingsWholeBody(t *testing.T) {
	s := DefaultSkeleton()
	out := SetRotation(s, JointHip, math.Pi)
	root, _ := out.Joint(JointHip)
	origRoot, _ := s.Joint(JointHip)
	if root.X != origRoot.X || root.Y != origRoot.Y {
		t.Error("root position must not move")
	}
	neck, _ := out.Joint(JointNeck)
	if !near(neck.Y, origRoot.Y+120) {
		t.Errorf("neck should flip below the hip, got y=%f", neck.Y)
	}
	assertFK(t, out)
}

func TestCenterOffset(t *testing.T) {
	single := Skeleton{Joints: []Joint{{ID: JointHip, X: 5, Y: 5}}}

	tests := []struct {
		name   string
		s      Skeleton
		w, h   float64
		dx, dy float64
		ok     bool
	}{
		{"single joint", single, 200, 200, 95, 95, true},
		{"zero stage", single, 0, 200, 0, 0, false},
		{"empty skeleton", Skeleton{}, 200, 200, 0, 0, false},
		{"default pose", DefaultSkeleton(), 512, 470, 0, 0, true},
		{"nan joint", Skeleton{Joints: []Joint{{ID: JointHip, X: math.NaN(), Y: 1}}}, 10, 10, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dx, dy, ok := CenterOffset(tt.s, tt.w, tt.h)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !near(dx, tt.dx) || !near(dy, tt.dy) {
				t.Errorf("offset = (%f, %f), want (%f, %f)", dx, dy, tt.dx, tt.dy)
			}
		})
	}
}

func TestCenterOffsetCoincidentJointsStaysFinite(t *testing.T) {
	s := Skeleton{Joints: []Joint{
		{ID: JointHip, X: 7, Y: 7},
		{ID: JointNeck, Parent: JointHip, X: 7, Y: 7},
	}}
	dx, dy, ok := CenterOffset(s, 100, 50)
	if !ok {
		t.Fatal("coincident joints should still center")
	}
	moved := Translate(s, dx, dy)
	for _, j := range moved.Joints {
		if math.IsNaN(j.X) || math.IsInf(j.X, 0) || math.IsNaN(j.Y) || math.IsInf(j.Y, 0) {
			t.Fatalf("non-finite position %+v", j)
		}
		if !near(j.X, 50) || !near(j.Y, 25) {
			t.Errorf("joint %s at (%f, %f), want (50, 25)", j.ID, j.X, j.Y)
		}
	}
}

func TestRepositionMovesRootWithBothHips(t *testing.T) {
	s := DefaultSkeleton()
	delta := r2.Point{X: 12, Y: -8}
	drag := NewRigidDrag(nil)
	pose := ToKeypoints(s)
	if !drag.Begin(pose, Neck) {
		t.Fatal("Begin failed")
	}
	neck := pose[Neck].Point()
	moved, err := drag.Moved(neck.Add(delta))
	if err != nil {
		t.Fatal(err)
	}

	out := Reposition(s, moved)
	for _, j := range out.Joints {
		orig, _ := s.Joint(j.ID)
		if !near(j.X, orig.X+delta.X) || !near(j.Y, orig.Y+delta.Y) {
			t.Errorf("%s at (%f, %f), want shifted by %v", j.ID, j.X, j.Y, delta)
		}
		if !near(j.Length, orig.Length) {
			t.Errorf("%s length %f, want %f", j.ID, j.Length, orig.Length)
		}
	}
	assertFK(t, out)
}

func TestRepositionKeepsRootForOneHip(t *testing.T) {
	s := DefaultSkeleton()
	rhip, _ := s.Joint(JointRHip)
	out := Reposition(s, map[Keypoint]r2.Point{RHip: rhip.Point().Add(r2.Point{X: 0, Y: 10})})

	root, _ := out.Root()
	orig, _ := s.Root()
	if root != orig {
		t.Errorf("root moved from %+v to %+v", orig, root)
	}
	knee, _ := out.Joint(JointRKnee)
	origKnee, _ := s.Joint(JointRKnee)
	if knee.Length != origKnee.Length || knee.Rotation != origKnee.Rotation {
		t.Errorf("knee bone changed: %+v, want length %f rotation %f", knee, origKnee.Length, origKnee.Rotation)
	}
	if lhip, _ := out.Joint(JointLHip); lhip != mustJoint(t, s, JointLHip) {
		t.Errorf("left hip changed to %+v", lhip)
	}
	assertFK(t, out)
}

func mustJoint(t *testing.T, s Skeleton, id JointID) Joint {
	t.Helper()
	j, ok := s.Joint(id)
	if !ok {
		t.Fatalf("joint %s missing", id)
	}
	return j
}
