package worldmap

import "github.com/itohio/proslam/pkg/geometry"

// Camera is a rigidly-mounted camera on the robot: fixed intrinsics and a
// fixed camera-to-robot extrinsic. Unlike Frame.RobotToWorld, this
// transform never changes once the rig is calibrated.
type Camera struct {
	Intrinsics    geometry.Intrinsics
	CameraToRobot geometry.Pose // T_robot_camera

	// BaselineMeters is the horizontal stereo baseline, set on the left
	// camera only. Unused on the right camera.
	BaselineMeters float64
}

// Image is an opaque intensity image, owned by exactly one Frame and
// releasable independently of its framepoints.
type Image struct {
	Width, Height int
	Data          []byte
}

func (img *Image) Release() {
	if img == nil {
		return
	}
	img.Data = nil
}
