package worldmap

import (
	"github.com/itohio/proslam/pkg/framepoint"
	"github.com/itohio/proslam/pkg/geometry"
)

// FramePoint is an observation of a scene point in one stereo image pair.
// It belongs to exactly one Frame for its entire lifetime.
type FramePoint struct {
	KeypointLeft, KeypointRight     framepoint.Keypoint
	DescriptorLeft, DescriptorRight framepoint.Descriptor

	// CameraLeftCoordinates is the triangulated 3D point in the left-camera
	// frame. Invariant: Z > 0.
	CameraLeftCoordinates geometry.Vec3
	RobotCoordinates      geometry.Vec3
	Depth                 float64
	IsNear                bool

	Frame *Frame

	// Previous is the framepoint this one was tracked from, or nil if this
	// track starts here.
	Previous *FramePoint
	// Origin is the first framepoint of this track's chain; origin of an
	// originless point is itself.
	Origin      *FramePoint
	TrackLength int

	Landmark *Landmark
}

// newFramePoint builds a FramePoint owned by frame. The triangulated point
// must be in front of the camera and a predecessor must come from a
// strictly earlier frame. previous may be nil for a track-initiating point.
func newFramePoint(
	frame *Frame,
	kpLeft, kpRight framepoint.Keypoint,
	descLeft, descRight framepoint.Descriptor,
	cameraLeftCoordinates geometry.Vec3,
	previous *FramePoint,
) *FramePoint {
	if cameraLeftCoordinates.Z <= 0 {
		violate("framepoint.z_positive", "camera-left z=%f for frame %d", cameraLeftCoordinates.Z, frame.Identifier)
	}
	if previous != nil && previous.Frame.Identifier >= frame.Identifier {
		violate("framepoint.previous_earlier", "previous frame %d is not strictly earlier than %d", previous.Frame.Identifier, frame.Identifier)
	}

	fp := &FramePoint{
		KeypointLeft:          kpLeft,
		KeypointRight:         kpRight,
		DescriptorLeft:        descLeft,
		DescriptorRight:       descRight,
		CameraLeftCoordinates: cameraLeftCoordinates,
		Frame:                 frame,
		Previous:              previous,
		Depth:                 cameraLeftCoordinates.Z,
	}

	if frame.CameraLeft != nil {
		fp.RobotCoordinates = frame.CameraLeft.CameraToRobot.Apply(cameraLeftCoordinates)
	} else {
		fp.RobotCoordinates = cameraLeftCoordinates
	}
	fp.IsNear = fp.Depth < frame.MaximumDepthClose

	if previous == nil {
		fp.Origin = fp
		fp.TrackLength = 1
	} else {
		fp.Origin = previous.Origin
		fp.TrackLength = previous.TrackLength + 1
	}

	return fp
}

// WorldCoordinates projects this framepoint's robot-frame position into
// world coordinates using its owning frame's current pose estimate.
func (fp *FramePoint) WorldCoordinates() geometry.Vec3 {
	return fp.Frame.RobotToWorld.Apply(fp.RobotCoordinates)
}
