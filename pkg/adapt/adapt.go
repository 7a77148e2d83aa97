// Package adapt is the gocv boundary: it converts gocv's Mat/KeyPoint types
// into the core's gocv-free framepoint.Keypoint/Descriptor types, keeping
// concrete detector types behind a small interface at the package edge so
// the rest of the pipeline stays unit-testable without OpenCV.
package adapt

import (
	"gocv.io/x/gocv"

	"github.com/itohio/proslam/pkg/framepoint"
)

// Detector is the gocv boundary contract. gocv.ORB, gocv.AKAZE, gocv.BRISK,
// gocv.SIFT, and gocv.KAZE all satisfy this already.
type Detector interface {
	DetectAndCompute(src gocv.Mat, mask gocv.Mat) ([]gocv.KeyPoint, gocv.Mat)
}

// ORBDetector wraps gocv.ORB, the default detector.
type ORBDetector struct {
	orb gocv.ORB
}

func NewORBDetector() *ORBDetector {
	return &ORBDetector{orb: gocv.NewORB()}
}

func (d *ORBDetector) DetectAndCompute(src, mask gocv.Mat) ([]gocv.KeyPoint, gocv.Mat) {
	return d.orb.DetectAndCompute(src, mask)
}

func (d *ORBDetector) Close() error { return d.orb.Close() }

// StereoPair is one time instant's raw detections, ready for
// pkg/triangulation.StereoInput.
type StereoPair struct {
	KeypointsLeft, KeypointsRight     []framepoint.Keypoint
	DescriptorsLeft, DescriptorsRight []framepoint.Descriptor
}

// ExtractStereo runs det over both rectified stereo images and converts the
// results into the core's types.
func ExtractStereo(det Detector, left, right gocv.Mat) StereoPair {
	kpL, descL := extractMono(det, left)
	kpR, descR := extractMono(det, right)
	return StereoPair{
		KeypointsLeft:    kpL,
		DescriptorsLeft:  descL,
		KeypointsRight:   kpR,
		DescriptorsRight: descR,
	}
}

func extractMono(det Detector, img gocv.Mat) ([]framepoint.Keypoint, []framepoint.Descriptor) {
	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := det.DetectAndCompute(img, mask)
	defer desc.Close()

	keypoints := make([]framepoint.Keypoint, len(kps))
	descriptors := make([]framepoint.Descriptor, len(kps))
	for i, kp := range kps {
		keypoints[i] = framepoint.Keypoint{
			Row:      kp.Y,
			Col:      kp.X,
			Response: float32(kp.Response),
			Octave:   kp.Octave,
		}
		row := make(framepoint.Descriptor, desc.Cols())
		for c := 0; c < desc.Cols(); c++ {
			row[c] = desc.GetUCharAt(i, c)
		}
		descriptors[i] = row
	}
	return keypoints, descriptors
}

// LoadGray reads path as a grayscale image, the rectified-stereo input
// format the triangulator expects.
func LoadGray(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadGrayScale)
	if img.Empty() {
		return img, ErrLoadFailed{Path: path}
	}
	return img, nil
}

// ErrLoadFailed reports a path gocv.IMRead could not decode.
type ErrLoadFailed struct {
	Path string
}

func (e ErrLoadFailed) Error() string {
	return "adapt: failed to load image: " + e.Path
}
