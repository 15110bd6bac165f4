package skeleton

import (
	"errors"
	"math"
	"sync"

	"github.com/golang/geo/r2"
)

// Keypoint is an OpenPose keypoint name used by the flat pose format
type Keypoint string

// OpenPose 18-point body keypoints
const (
	Nose      Keypoint = "Nose"
	Neck      Keypoint = "Neck"
	RShoulder Keypoint = "RShoulder"
	RElbow    Keypoint = "RElbow"
	RWrist    Keypoint = "RWrist"
	LShoulder Keypoint = "LShoulder"
	LElbow    Keypoint = "LElbow"
	LWrist    Keypoint = "LWrist"
	RHip      Keypoint = "RHip"
	RKnee     Keypoint = "RKnee"
	RAnkle    Keypoint = "RAnkle"
	LHip      Keypoint = "LHip"
	LKnee     Keypoint = "LKnee"
	LAnkle    Keypoint = "LAnkle"
	REye      Keypoint = "REye"
	LEye      Keypoint = "LEye"
	REar      Keypoint = "REar"
	LEar      Keypoint = "LEar"
)

// Keypoints lists the 18 keypoints in OpenPose order
var Keypoints = []Keypoint{
	Nose, Neck, RShoulder, RElbow, RWrist, LShoulder, LElbow, LWrist,
	RHip, RKnee, RAnkle, LHip, LKnee, LAnkle, REye, LEye, REar, LEar,
}

// ErrEmptyPose is returned when a flat pose carries no keypoints
var ErrEmptyPose = errors.New("pose has no keypoints")

// Position is an absolute (x, y) pair, encoded as a two-element JSON array
type Position [2]float64

// Point converts the position to a vector
func (p Position) Point() r2.Point {
	return r2.Point{X: p[0], Y: p[1]}
}

// PositionOf converts a vector to a position
func PositionOf(p r2.Point) Position {
	return Position{p.X, p.Y}
}

// KeypointPose is the flat representation: absolute positions, no hierarchy.
// Missing keys are allowed.
type KeypointPose map[Keypoint]Position

// Clone returns an independent copy of the pose
func (p KeypointPose) Clone() KeypointPose {
	out := make(KeypointPose, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

var keypointJoints = map[Keypoint]JointID{
	Nose:      JointNose,
	Neck:      JointNeck,
	RShoulder: JointRShoulder,
	RElbow:    JointRElbow,
	RWrist:    JointRWrist,
	LShoulder: JointLShoulder,
	LElbow:    JointLElbow,
	LWrist:    JointLWrist,
	RHip:      JointRHip,
	RKnee:     JointRKnee,
	RAnkle:    JointRAnkle,
	LHip:      JointLHip,
	LKnee:     JointLKnee,
	LAnkle:    JointLAnkle,
	REye:      JointREye,
	LEye:      JointLEye,
	REar:      JointREar,
	LEar:      JointLEar,
}

var jointKeypoints = func() map[JointID]Keypoint {
	m := make(map[JointID]Keypoint, len(keypointJoints))
	for k, j := range keypointJoints {
		m[j] = k
	}
	return m
}()

// JointFor returns the hierarchical joint matching a keypoint
func JointFor(k Keypoint) (JointID, bool) {
	j, ok := keypointJoints[k]
	return j, ok
}

// KeypointFor returns the keypoint matching a joint. The hip root has none.
func KeypointFor(id JointID) (Keypoint, bool) {
	k, ok := jointKeypoints[id]
	return k, ok
}

// DefaultKeypoints returns the reference T-pose coordinates
func DefaultKeypoints() KeypointPose {
	return KeypointPose{
		Nose:      {256, 80},
		Neck:      {256, 120},
		LShoulder: {306, 120},
		LElbow:    {356, 120},
		LWrist:    {406, 120},
		RShoulder: {206, 120},
		RElbow:    {156, 120},
		RWrist:    {106, 120},
		LHip:      {281, 240},
		LKnee:     {281, 320},
		LAnkle:    {281, 400},
		RHip:      {231, 240},
		RKnee:     {231, 320},
		RAnkle:    {231, 400},
		LEye:      {271, 70},
		REye:      {241, 70},
		LEar:      {286, 70},
		REar:      {226, 70},
	}
}

// KeypointHierarchy maps a keypoint to its declared children in the flat format
type KeypointHierarchy map[Keypoint][]Keypoint

var (
	keypointHierarchyOnce sync.Once
	keypointHierarchy     KeypointHierarchy
)

// DefaultKeypointHierarchy returns the static flat-format parent/child table.
// Neck is the flat root.
func DefaultKeypointHierarchy() KeypointHierarchy {
	keypointHierarchyOnce.Do(func() {
		keypointHierarchy = KeypointHierarchy{
			Neck:      {Nose, RShoulder, LShoulder, RHip, LHip},
			Nose:      {REye, LEye},
			REye:      {REar},
			LEye:      {LEar},
			RShoulder: {RElbow},
			RElbow:    {RWrist},
			LShoulder: {LElbow},
			LElbow:    {LWrist},
			RHip:      {RKnee},
			RKnee:     {RAnkle},
			LHip:      {LKnee},
			LKnee:     {LAnkle},
		}
	})
	return keypointHierarchy
}

// Descendants returns every keypoint below k, depth-first
func (h KeypointHierarchy) Descendants(k Keypoint) []Keypoint {
	var out []Keypoint
	seen := map[Keypoint]bool{k: true}
	var walk func(Keypoint)
	walk = func(parent Keypoint) {
		for _, child := range h[parent] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			walk(child)
		}
	}
	walk(k)
	return out
}

// ToKeypoints flattens a skeleton into absolute keypoint positions.
// The synthesized hip root is dropped.
func ToKeypoints(s Skeleton) KeypointPose {
	pose := make(KeypointPose, len(s.Joints))
	for _, j := range s.Joints {
		if k, ok := KeypointFor(j.ID); ok {
			pose[k] = Position{j.X, j.Y}
		}
	}
	return pose
}

// FromKeypoints builds a rotation-based skeleton from a flat pose.
// Bone lengths and relative rotations are solved from the given positions;
// a missing keypoint inherits the reference pose's rotation and length.
func FromKeypoints(pose KeypointPose) (Skeleton, error) {
	if len(pose) == 0 {
		return Skeleton{}, ErrEmptyPose
	}
	return fromKeypoints(pose, DefaultSkeleton()), nil
}

func fromCompleteKeypoints(pose KeypointPose) Skeleton {
	return fromKeypoints(pose, Skeleton{})
}

func fromKeypoints(pose KeypointPose, reference Skeleton) Skeleton {
	ids := JointIDs()
	joints := make([]Joint, 0, len(ids))
	absolute := make(map[JointID]float64, len(ids))
	positions := make(map[JointID]r2.Point, len(ids))

	hip := hipPosition(pose, reference)
	joints = append(joints, Joint{ID: RootJoint, X: hip.X, Y: hip.Y})
	absolute[RootJoint] = 0
	positions[RootJoint] = hip

	for _, b := range bones {
		parentPos := positions[b.Parent]
		parentAbs := absolute[b.Parent]

		joint := Joint{ID: b.Child, Parent: b.Parent}
		if pos, ok := keypointPosition(pose, b.Child); ok {
			delta := pos.Sub(parentPos)
			joint.Length = delta.Norm()
			abs := math.Atan2(delta.Y, delta.X)
			joint.Rotation = abs - parentAbs
			absolute[b.Child] = abs
			positions[b.Child] = pos
		} else {
			ref, _ := reference.Joint(b.Child)
			joint.Rotation = ref.Rotation
			joint.Length = ref.Length
			abs := parentAbs + ref.Rotation
			absolute[b.Child] = abs
			positions[b.Child] = parentPos.Add(r2.Point{X: math.Cos(abs), Y: math.Sin(abs)}.Mul(ref.Length))
		}
		p := positions[b.Child]
		joint.X, joint.Y = p.X, p.Y
		joints = append(joints, joint)
	}

	return Skeleton{Joints: joints}
}

func keypointPosition(pose KeypointPose, id JointID) (r2.Point, bool) {
	k, ok := KeypointFor(id)
	if !ok {
		return r2.Point{}, false
	}
	p, ok := pose[k]
	if !ok {
		return r2.Point{}, false
	}
	return p.Point(), true
}

// hipPosition places the synthesized root between the hips; when a hip is
// missing it anchors the reference pose on the first available keypoint.
func hipPosition(pose KeypointPose, reference Skeleton) r2.Point {
	r, rok := pose[RHip]
	l, lok := pose[LHip]
	if rok && lok {
		return r.Point().Add(l.Point()).Mul(0.5)
	}

	refHip, _ := reference.Root()
	for _, k := range Keypoints {
		p, ok := pose[k]
		if !ok {
			continue
		}
		ref, _ := reference.Joint(keypointJoints[k])
		return refHip.Point().Add(p.Point().Sub(ref.Point()))
	}
	return refHip.Point()
}
