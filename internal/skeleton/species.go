package skeleton

import "sync"

// Joint ids of the 18-keypoint humanoid plus the synthesized hip root
const (
	JointHip       JointID = "hip"
	JointNeck      JointID = "neck"
	JointNose      JointID = "nose"
	JointREye      JointID = "r_eye"
	JointLEye      JointID = "l_eye"
	JointREar      JointID = "r_ear"
	JointLEar      JointID = "l_ear"
	JointRShoulder JointID = "r_shoulder"
	JointRElbow    JointID = "r_elbow"
	JointRWrist    JointID = "r_wrist"
	JointLShoulder JointID = "l_shoulder"
	JointLElbow    JointID = "l_elbow"
	JointLWrist    JointID = "l_wrist"
	JointRHip      JointID = "r_hip"
	JointRKnee     JointID = "r_knee"
	JointRAnkle    JointID = "r_ankle"
	JointLHip      JointID = "l_hip"
	JointLKnee     JointID = "l_knee"
	JointLAnkle    JointID = "l_ankle"
)

// RootJoint is the one translatable anchor of every skeleton
const RootJoint = JointHip

// Bone is a parent/child pair
type Bone struct {
	Parent JointID
	Child  JointID
}

// bones lists the hierarchy parent-first; joint order of every skeleton follows it.
var bones = []Bone{
	{JointHip, JointNeck},
	{JointNeck, JointNose},
	{JointNose, JointREye},
	{JointREye, JointREar},
	{JointNose, JointLEye},
	{JointLEye, JointLEar},
	{JointNeck, JointRShoulder},
	{JointRShoulder, JointRElbow},
	{JointRElbow, JointRWrist},
	{JointNeck, JointLShoulder},
	{JointLShoulder, JointLElbow},
	{JointLElbow, JointLWrist},
	{JointHip, JointRHip},
	{JointRHip, JointRKnee},
	{JointRKnee, JointRAnkle},
	{JointHip, JointLHip},
	{JointLHip, JointLKnee},
	{JointLKnee, JointLAnkle},
}

// Bones returns the static bone list
func Bones() []Bone {
	out := make([]Bone, len(bones))
	copy(out, bones)
	return out
}

// Hierarchy maps a joint id to its ordered child ids
type Hierarchy map[JointID][]JointID

// Children returns a copy of the child ids of id
func (h Hierarchy) Children(id JointID) []JointID {
	children := h[id]
	out := make([]JointID, len(children))
	copy(out, children)
	return out
}

var (
	hierarchyOnce sync.Once
	hierarchy     Hierarchy

	defaultOnce     sync.Once
	defaultSkeleton Skeleton
)

// DefaultHierarchy returns the joint hierarchy built from the static bone list.
// The returned map must not be modified.
func DefaultHierarchy() Hierarchy {
	hierarchyOnce.Do(func() {
		hierarchy = make(Hierarchy, len(bones)+1)
		for _, b := range bones {
			hierarchy[b.Parent] = append(hierarchy[b.Parent], b.Child)
		}
	})
	return hierarchy
}

// JointIDs returns every joint id, root first, parents before children
func JointIDs() []JointID {
	ids := make([]JointID, 0, len(bones)+1)
	ids = append(ids, RootJoint)
	for _, b := range bones {
		ids = append(ids, b.Child)
	}
	return ids
}

// DefaultSkeleton returns the T-pose with lengths and rotations precomputed
// from the reference keypoint coordinates.
func DefaultSkeleton() Skeleton {
	defaultOnce.Do(func() {
		defaultSkeleton = fromCompleteKeypoints(DefaultKeypoints())
	})
	return defaultSkeleton.Clone()
}
