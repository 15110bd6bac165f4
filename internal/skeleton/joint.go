package skeleton

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// ErrInvalidHierarchy is returned for joint sets that do not form a single tree
var ErrInvalidHierarchy = errors.New("joints do not form a tree")

// JointID identifies a joint within a skeleton
type JointID string

// Joint is one node of a rotation-based skeleton.
// X and Y are derived from ancestor rotations and lengths, except for the root.
type Joint struct {
	ID       JointID `json:"id"`
	Parent   JointID `json:"parent,omitempty"`
	Rotation float64 `json:"rotation"` // radians, relative to the parent's absolute rotation
	Length   float64 `json:"length"`   // distance to parent
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// Point returns the joint position as a vector
func (j Joint) Point() r2.Point {
	return r2.Point{X: j.X, Y: j.Y}
}

// IsRoot reports whether the joint has no parent
func (j Joint) IsRoot() bool {
	return j.Parent == ""
}

func (j Joint) hasPosition() bool {
	return isFinite(j.X) && isFinite(j.Y)
}

// Skeleton is a complete pose at one instant.
// Joints are ordered so that every parent precedes its children.
// Skeleton is used as a value: every edit returns a new snapshot.
type Skeleton struct {
	Joints []Joint `json:"joints"`
}

// Clone returns a copy that shares no memory with s
func (s Skeleton) Clone() Skeleton {
	if s.Joints == nil {
		return Skeleton{}
	}
	joints := make([]Joint, len(s.Joints))
	copy(joints, s.Joints)
	return Skeleton{Joints: joints}
}

// Len returns the number of joints
func (s Skeleton) Len() int {
	return len(s.Joints)
}

// Index returns the slice index of a joint, or -1
func (s Skeleton) Index(id JointID) int {
	for i := range s.Joints {
		if s.Joints[i].ID == id {
			return i
		}
	}
	return -1
}

// Joint looks up a joint by id
func (s Skeleton) Joint(id JointID) (Joint, bool) {
	i := s.Index(id)
	if i < 0 {
		return Joint{}, false
	}
	return s.Joints[i], true
}

// Root returns the first parentless joint
func (s Skeleton) Root() (Joint, bool) {
	for _, j := range s.Joints {
		if j.IsRoot() {
			return j, true
		}
	}
	return Joint{}, false
}

// Validate checks that ids are unique and non-empty, that there is exactly
// one root and that every parent chain reaches it
func (s Skeleton) Validate() error {
	if len(s.Joints) == 0 {
		return fmt.Errorf("%w: no joints", ErrInvalidHierarchy)
	}
	parents := make(map[JointID]JointID, len(s.Joints))
	roots := 0
	for _, j := range s.Joints {
		if j.ID == "" {
			return fmt.Errorf("%w: joint without id", ErrInvalidHierarchy)
		}
		if _, dup := parents[j.ID]; dup {
			return fmt.Errorf("%w: duplicate joint %q", ErrInvalidHierarchy, j.ID)
		}
		parents[j.ID] = j.Parent
		if j.IsRoot() {
			roots++
		}
	}
	if roots != 1 {
		return fmt.Errorf("%w: %d roots", ErrInvalidHierarchy, roots)
	}
	for _, j := range s.Joints {
		current := j.ID
		for steps := 0; parents[current] != ""; steps++ {
			if steps >= len(s.Joints) {
				return fmt.Errorf("%w: cyclic parent chain at joint %q", ErrInvalidHierarchy, j.ID)
			}
			next := parents[current]
			if _, ok := parents[next]; !ok {
				return fmt.Errorf("%w: joint %q has unknown parent %q", ErrInvalidHierarchy, current, next)
			}
			current = next
		}
	}
	return nil
}

// Points returns all joint positions in joint order
func (s Skeleton) Points() []r2.Point {
	points := make([]r2.Point, 0, len(s.Joints))
	for _, j := range s.Joints {
		points = append(points, j.Point())
	}
	return points
}

// Bounds returns the bounding box of all joint positions.
// The result is empty for a skeleton without joints.
func (s Skeleton) Bounds() r2.Rect {
	return r2.RectFromPoints(s.Points()...)
}

// Equal reports whether both skeletons hold the same joints in the same order
func (s Skeleton) Equal(other Skeleton) bool {
	if len(s.Joints) != len(other.Joints) {
		return false
	}
	for i := range s.Joints {
		if s.Joints[i] != other.Joints[i] {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
