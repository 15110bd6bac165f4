package skeleton

import (
	"errors"

	"github.com/golang/geo/r2"
)

// ErrNoDrag is returned when a drag move arrives without a drag in progress
var ErrNoDrag = errors.New("no drag in progress")

// RigidDrag moves a keypoint together with its declared descendants in the
// flat representation. Every move is applied to the baseline captured at drag
// start, so repeated moves never accumulate rounding drift.
type RigidDrag struct {
	hierarchy KeypointHierarchy
	keypoint  Keypoint
	start     r2.Point
	baseline  map[Keypoint]r2.Point
}

// NewRigidDrag creates a drag helper over the given hierarchy
func NewRigidDrag(h KeypointHierarchy) *RigidDrag {
	if h == nil {
		h = DefaultKeypointHierarchy()
	}
	return &RigidDrag{hierarchy: h}
}

// Active reports whether a baseline is captured
func (d *RigidDrag) Active() bool {
	return d.baseline != nil
}

// Keypoint returns the keypoint being dragged
func (d *RigidDrag) Keypoint() Keypoint {
	return d.keypoint
}

// Begin captures the start positions of k and all its descendants present in pose.
// It returns false when k is not part of the pose.
func (d *RigidDrag) Begin(pose KeypointPose, k Keypoint) bool {
	start, ok := pose[k]
	if !ok {
		d.End()
		return false
	}
	d.keypoint = k
	d.start = start.Point()
	d.baseline = map[Keypoint]r2.Point{k: start.Point()}
	for _, desc := range d.hierarchy.Descendants(k) {
		if p, ok := pose[desc]; ok {
			d.baseline[desc] = p.Point()
		}
	}
	return true
}

// Move places the dragged keypoint at target and shifts every captured
// descendant by the same delta from its baseline. pose is not modified.
func (d *RigidDrag) Move(pose KeypointPose, target r2.Point) (KeypointPose, error) {
	if !d.Active() {
		return pose.Clone(), ErrNoDrag
	}
	delta := target.Sub(d.start)
	out := pose.Clone()
	for k, base := range d.baseline {
		out[k] = PositionOf(base.Add(delta))
	}
	return out, nil
}

// Moved returns the new positions of the dragged keypoint and its captured
// descendants when the dragged keypoint is placed at target
func (d *RigidDrag) Moved(target r2.Point) (map[Keypoint]r2.Point, error) {
	if !d.Active() {
		return nil, ErrNoDrag
	}
	delta := target.Sub(d.start)
	out := make(map[Keypoint]r2.Point, len(d.baseline))
	for k, base := range d.baseline {
		out[k] = base.Add(delta)
	}
	return out, nil
}

// End clears the captured baseline
func (d *RigidDrag) End() {
	d.keypoint = ""
	d.start = r2.Point{}
	d.baseline = nil
}
