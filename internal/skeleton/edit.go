package skeleton

import (
	"math"

	"github.com/golang/geo/r2"
)

// Translate moves every joint by the same delta; rotations are untouched
func Translate(s Skeleton, dx, dy float64) Skeleton {
	out := s.Clone()
	for i := range out.Joints {
		out.Joints[i].X += dx
		out.Joints[i].Y += dy
	}
	return out
}

// RotateToward solves the relative rotation that points joint id at target
// and propagates the change to its subtree. Root joints, parentless joints and
// joints whose parent has no defined position are left alone; changed reports
// whether anything was modified.
func RotateToward(s Skeleton, id JointID, target r2.Point) (out Skeleton, changed bool) {
	j, ok := s.Joint(id)
	if !ok || j.IsRoot() || id == RootJoint {
		return s.Clone(), false
	}
	parent, ok := s.Joint(j.Parent)
	if !ok || !parent.hasPosition() || !isFinite(target.X) || !isFinite(target.Y) {
		return s.Clone(), false
	}

	delta := target.Sub(parent.Point())
	abs := math.Atan2(delta.Y, delta.X)
	return SetRotation(s, id, abs-AbsoluteRotation(parent.ID, s)), true
}

// SetRotation stores a new relative rotation for joint id and re-derives the
// joint's position and those of its descendants
func SetRotation(s Skeleton, id JointID, rotation float64) Skeleton {
	out := s.Clone()
	i := out.Index(id)
	if i < 0 || !isFinite(rotation) {
		return out
	}
	out.Joints[i].Rotation = rotation

	j := out.Joints[i]
	if !j.IsRoot() {
		parent, ok := out.Joint(j.Parent)
		if !ok {
			return out
		}
		abs := AbsoluteRotation(id, out)
		out.Joints[i].X = parent.X + j.Length*math.Cos(abs)
		out.Joints[i].Y = parent.Y + j.Length*math.Sin(abs)
	}
	return PropagatePositions(id, out)
}

// CenterOffset returns the translation that moves the center of s's bounding
// box onto the center of a stage. ok is false when the stage has no area or
// the skeleton has no finite positions.
func CenterOffset(s Skeleton, stageWidth, stageHeight float64) (dx, dy float64, ok bool) {
	if len(s.Joints) == 0 || stageWidth <= 0 || stageHeight <= 0 {
		return 0, 0, false
	}
	for _, j := range s.Joints {
		if !j.hasPosition() {
			return 0, 0, false
		}
	}

	center := s.Bounds().Center()
	stage := r2.Point{X: stageWidth / 2, Y: stageHeight / 2}
	offset := stage.Sub(center)
	if !isFinite(offset.X) || !isFinite(offset.Y) {
		return 0, 0, false
	}
	return offset.X, offset.Y, true
}

// Reposition places the joints of the given keypoints at absolute positions
// and re-solves only their bones. Every other joint keeps its length and
// relative rotation and follows its parent. The root moves only when both
// hips move, by the shift of their midpoint. Joints whose position and
// parent are unchanged are copied as they are.
func Reposition(s Skeleton, moved map[Keypoint]r2.Point) Skeleton {
	out := s.Clone()
	root, ok := out.Root()
	if !ok || len(moved) == 0 {
		return out
	}

	targets := make(map[JointID]r2.Point, len(moved))
	for k, p := range moved {
		if id, ok := JointFor(k); ok && out.Index(id) >= 0 {
			targets[id] = p
		}
	}

	rootIdx := out.Index(root.ID)
	if root.ID == RootJoint {
		oldR, rok := out.Joint(JointRHip)
		oldL, lok := out.Joint(JointLHip)
		newR, rmoved := targets[JointRHip]
		newL, lmoved := targets[JointLHip]
		if rok && lok && rmoved && lmoved {
			shift := newR.Add(newL).Mul(0.5).Sub(oldR.Point().Add(oldL.Point()).Mul(0.5))
			if shift != (r2.Point{}) {
				out.Joints[rootIdx].X += shift.X
				out.Joints[rootIdx].Y += shift.Y
			}
		}
	}

	absolute := map[JointID]float64{root.ID: out.Joints[rootIdx].Rotation}
	changed := map[JointID]bool{root.ID: out.Joints[rootIdx] != s.Joints[rootIdx]}
	visited := map[JointID]bool{root.ID: true}
	queue := []JointID{root.ID}
	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]
		parent := out.Joints[out.Index(parentID)]
		for i := range out.Joints {
			j := &out.Joints[i]
			if j.Parent != parentID || visited[j.ID] {
				continue
			}
			visited[j.ID] = true
			queue = append(queue, j.ID)

			parentAbs := absolute[parentID]
			target, hasTarget := targets[j.ID]
			if !changed[parentID] && (!hasTarget || target == j.Point()) {
				absolute[j.ID] = parentAbs + j.Rotation
				continue
			}
			changed[j.ID] = true

			if !hasTarget {
				abs := parentAbs + j.Rotation
				absolute[j.ID] = abs
				j.X = parent.X + j.Length*math.Cos(abs)
				j.Y = parent.Y + j.Length*math.Sin(abs)
				continue
			}
			delta := target.Sub(parent.Point())
			abs := parentAbs + j.Rotation
			if length := delta.Norm(); length > 0 {
				abs = math.Atan2(delta.Y, delta.X)
				j.Length = length
			} else {
				j.Length = 0
			}
			j.Rotation = abs - parentAbs
			absolute[j.ID] = abs
			j.X, j.Y = target.X, target.Y
		}
	}
	return out
}
