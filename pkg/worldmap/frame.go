package worldmap

import (
	"github.com/itohio/proslam/pkg/framepoint"
	"github.com/itohio/proslam/pkg/geometry"
)

// Status is the tracker's per-frame state machine.
type Status int

const (
	Localizing Status = iota
	Tracking
)

func (s Status) String() string {
	if s == Tracking {
		return "Tracking"
	}
	return "Localizing"
}

// Frame is one time instant. A Frame promoted to a keyframe gains a non-nil
// localMapData extension in place: its identifier, pointer identity, and
// previous/next links are preserved across promotion, so every back-reference
// into the frame stays valid without a swap.
type Frame struct {
	Identifier uint64
	Status     Status

	Previous, Next *Frame

	RobotToWorld            geometry.Pose
	worldToRobot            geometry.Pose
	RobotToWorldGroundTruth *geometry.Pose

	CameraLeft, CameraRight *Camera
	ImageLeft, ImageRight   *Image

	MaximumDepthClose float64

	Points []*FramePoint

	// localMapRef is the local map this frame belongs to, if any. A frame
	// seals into a local map by pointing this at itself; frames in its
	// contributing window point at it too.
	localMapRef     *Frame
	frameToLocalMap geometry.Pose
	localMapToFrame geometry.Pose

	// localMapData is non-nil exactly when this frame has itself been
	// promoted to a keyframe (i.e. it IS a local map).
	localMapData *LocalMapData

	// relativeMotion is the previous-to-current motion estimated when this
	// frame was tracked, used as the constant-velocity seed for the next
	// frame.
	relativeMotion geometry.Pose
}

func newFrame(id uint64, previous *Frame, robotToWorld geometry.Pose, maximumDepthClose float64) *Frame {
	f := &Frame{
		Identifier:        id,
		Status:            Localizing,
		Previous:          previous,
		MaximumDepthClose: maximumDepthClose,
		relativeMotion:    geometry.Identity(),
	}
	f.SetRobotToWorld(robotToWorld)
	return f
}

// SetRobotToWorld updates the pose estimate and recomputes the cached
// inverse.
func (f *Frame) SetRobotToWorld(pose geometry.Pose) {
	f.RobotToWorld = pose
	f.worldToRobot = pose.Inverse()
	if f.localMapRef != nil {
		f.setLocalMapRef(f.localMapRef)
	}
}

func (f *Frame) WorldToRobot() geometry.Pose { return f.worldToRobot }

// SetGroundTruth records an externally supplied reference pose for offline
// trajectory-error evaluation. It never feeds back into estimation.
func (f *Frame) SetGroundTruth(pose geometry.Pose) {
	p := pose
	f.RobotToWorldGroundTruth = &p
}

// setLocalMapRef records which local map this frame belongs to and caches
// the frame<->local-map transform: frameToLocalMap ==
// localMap.WorldToRobot() * this.RobotToWorld.
func (f *Frame) setLocalMapRef(localMap *Frame) {
	f.localMapRef = localMap
	f.frameToLocalMap = localMap.WorldToRobot().Mul(f.RobotToWorld)
	f.localMapToFrame = f.frameToLocalMap.Inverse()
}

// LocalMapRef returns the local map this frame belongs to, or nil.
func (f *Frame) LocalMapRef() *Frame { return f.localMapRef }

// FrameToLocalMap and LocalMapToFrame are the cached transforms; they
// compose to identity.
func (f *Frame) FrameToLocalMap() geometry.Pose { return f.frameToLocalMap }
func (f *Frame) LocalMapToFrame() geometry.Pose { return f.localMapToFrame }

// RelativeMotion returns the previous-to-current motion estimated when this
// frame was tracked, the constant-velocity seed for the next frame's
// prediction.
func (f *Frame) RelativeMotion() geometry.Pose { return f.relativeMotion }

// SetRelativeMotion records the motion estimated while tracking this frame,
// for the next frame's constant-velocity prediction.
func (f *Frame) SetRelativeMotion(pose geometry.Pose) { f.relativeMotion = pose }

// IsLocalMap reports whether this frame has itself been promoted to a
// keyframe (vs. merely belonging to one's window).
func (f *Frame) IsLocalMap() bool { return f.localMapData != nil }

// LocalMap returns this frame's local-map extension, or nil if it is a
// plain (non-keyframe) frame.
func (f *Frame) LocalMap() *LocalMapData { return f.localMapData }

// CreateFramePoint allocates a new framepoint owned by this frame. previous
// may be nil for a track-initiating point.
func (f *Frame) CreateFramePoint(
	kpLeft, kpRight framepoint.Keypoint,
	descLeft, descRight framepoint.Descriptor,
	cameraLeftCoordinates geometry.Vec3,
	previous *FramePoint,
) *FramePoint {
	fp := newFramePoint(f, kpLeft, kpRight, descLeft, descRight, cameraLeftCoordinates, previous)
	f.Points = append(f.Points, fp)
	return fp
}

// ReleaseImages frees intensity images while keeping framepoints alive.
// Called when the next frame advances, to bound memory.
func (f *Frame) ReleaseImages() {
	f.ImageLeft.Release()
	f.ImageRight.Release()
	f.ImageLeft, f.ImageRight = nil, nil
}

// ReleasePoints drops this frame's framepoints (not the landmarks they may
// reference). Called when dropping framepoints of windowed frames after a
// local map seals.
func (f *Frame) ReleasePoints() {
	f.Points = nil
}

// CountPoints counts framepoints with at least minTrackLength, optionally
// filtered by landmark presence. hasLandmark == nil means "don't filter by
// landmark presence".
func (f *Frame) CountPoints(minTrackLength int, hasLandmark *bool) int {
	count := 0
	for _, p := range f.Points {
		if p.TrackLength < minTrackLength {
			continue
		}
		if hasLandmark != nil {
			if *hasLandmark && p.Landmark == nil {
				continue
			}
			if !*hasLandmark && p.Landmark != nil {
				continue
			}
		}
		count++
	}
	return count
}
