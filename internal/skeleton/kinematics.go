package skeleton

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// AbsoluteRotation sums the relative rotation of id and all of its ancestors.
// An unknown joint yields 0. A cyclic parent chain is a programming error and panics.
func AbsoluteRotation(id JointID, s Skeleton) float64 {
	var total float64
	current := id
	for steps := 0; ; steps++ {
		if steps > len(s.Joints) {
			panic(fmt.Sprintf("skeleton: cyclic parent chain at joint %q", id))
		}
		j, ok := s.Joint(current)
		if !ok {
			return total
		}
		total += j.Rotation
		if j.IsRoot() {
			return total
		}
		current = j.Parent
	}
}

// PropagatePositions recomputes the positions of every descendant of rootID,
// assuming rootID's own position and the subtree's relative rotations are correct.
// Parents are updated before their children. The input is left untouched.
func PropagatePositions(rootID JointID, s Skeleton) Skeleton {
	out := s.Clone()
	if out.Index(rootID) < 0 {
		return out
	}
	propagate(rootID, &out, 0)
	return out
}

func propagate(parentID JointID, s *Skeleton, depth int) {
	if depth > len(s.Joints) {
		panic(fmt.Sprintf("skeleton: cyclic hierarchy below joint %q", parentID))
	}
	parent := s.Joints[s.Index(parentID)]
	for i := range s.Joints {
		child := &s.Joints[i]
		if child.Parent != parentID || child.ID == parentID {
			continue
		}
		abs := AbsoluteRotation(child.ID, *s)
		child.X = parent.X + child.Length*math.Cos(abs)
		child.Y = parent.Y + child.Length*math.Sin(abs)
		propagate(child.ID, s, depth+1)
	}
}

// Consistent reports whether every non-root joint sits within tolerance of
// the position forward kinematics gives it
func Consistent(s Skeleton, tolerance float64) bool {
	for _, j := range s.Joints {
		if j.IsRoot() {
			continue
		}
		parent, ok := s.Joint(j.Parent)
		if !ok {
			return false
		}
		abs := AbsoluteRotation(j.ID, s)
		want := parent.Point().Add(r2.Point{X: math.Cos(abs), Y: math.Sin(abs)}.Mul(j.Length))
		if want.Sub(j.Point()).Norm() > tolerance {
			return false
		}
	}
	return true
}

// Recompute derives every non-root position from the root
func Recompute(s Skeleton) Skeleton {
	root, ok := s.Root()
	if !ok {
		return s.Clone()
	}
	return PropagatePositions(root.ID, s)
}
