package framepoint

import "github.com/chewxy/math32"

// PruneWeakKeypoints drops keypoints whose detector response falls more than
// factor standard deviations below the mean response, returning the surviving
// keypoints with their descriptors. Detectors tuned for coverage emit a long
// tail of low-response corners that rarely survive stereo matching; cutting
// them before triangulation keeps the row-index search small.
//
// A factor <= 0 or fewer than two keypoints disables pruning.
func PruneWeakKeypoints(keypoints []Keypoint, descriptors []Descriptor, factor float32) ([]Keypoint, []Descriptor) {
	if factor <= 0 || len(keypoints) < 2 {
		return keypoints, descriptors
	}

	var sum, sumSq float32
	for _, kp := range keypoints {
		sum += kp.Response
		sumSq += kp.Response * kp.Response
	}
	n := float32(len(keypoints))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	threshold := mean - factor*math32.Sqrt(variance)

	outKeypoints := make([]Keypoint, 0, len(keypoints))
	outDescriptors := make([]Descriptor, 0, len(descriptors))
	for i, kp := range keypoints {
		if kp.Response < threshold {
			continue
		}
		outKeypoints = append(outKeypoints, kp)
		outDescriptors = append(outDescriptors, descriptors[i])
	}
	return outKeypoints, outDescriptors
}
