// Package triangulation turns a synchronized stereo keypoint/descriptor
// pair into framepoints by row-indexed epipolar matching and
// disparity-based triangulation.
package triangulation

import (
	"sort"

	"github.com/itohio/proslam/pkg/chrono"
	"github.com/itohio/proslam/pkg/framepoint"
	"github.com/itohio/proslam/pkg/geometry"
	"github.com/itohio/proslam/pkg/logger"
	"github.com/itohio/proslam/pkg/worldmap"
)

// Params are the triangulator's tunables.
type Params struct {
	MinimumDisparityPixels               float64
	MaximumMatchingDistanceTriangulation int
	// EpsilonRow is the epipolar row tolerance: rectified rigs use 0 or 1.
	EpsilonRow float64
}

func DefaultParams() Params {
	return Params{
		MinimumDisparityPixels:               1,
		MaximumMatchingDistanceTriangulation: 50,
		EpsilonRow:                           1,
	}
}

// Triangulator is the rectified-stereo triangulator; depth or monocular
// variants would implement the same Compute contract.
type Triangulator struct {
	params Params
	timer  *chrono.Timer
}

func New(params Params) *Triangulator {
	return &Triangulator{params: params, timer: chrono.New("point_triangulation")}
}

// StereoInput bundles one frame's worth of pre-extracted keypoints and
// descriptors. The image-processing collaborator is responsible for
// producing these; the triangulator never touches raw images.
type StereoInput struct {
	KeypointsLeft, KeypointsRight     []framepoint.Keypoint
	DescriptorsLeft, DescriptorsRight []framepoint.Descriptor
}

type candidate struct {
	leftIdx, rightIdx int
	distance          int
	pixelDistance     float64
}

// Compute populates frame.Points with framepoints produced by matching left
// and right keypoints along the epipolar line and triangulating. An empty
// result is legal; the tracker handles it by staying in Localizing status.
func (t *Triangulator) Compute(frame *worldmap.Frame, in StereoInput) {
	if frame.CameraLeft == nil {
		panic("triangulation: frame has no CameraLeft camera set")
	}

	t.timer.Start()
	defer t.timer.Stop()

	type rightEntry struct {
		idx int
		kp  framepoint.Keypoint
	}
	right := make([]rightEntry, len(in.KeypointsRight))
	for i, kp := range in.KeypointsRight {
		right[i] = rightEntry{idx: i, kp: kp}
	}
	sort.Slice(right, func(i, j int) bool {
		if right[i].kp.Row != right[j].kp.Row {
			return right[i].kp.Row < right[j].kp.Row
		}
		return right[i].kp.Col < right[j].kp.Col
	})

	// For each left keypoint, find the row-window candidates and the
	// smallest-Hamming-distance one among them.
	var best []candidate
	for li, kpL := range in.KeypointsLeft {
		bestIdx := -1
		bestDist := t.params.MaximumMatchingDistanceTriangulation + 1
		bestPixel := 0.0

		lo := sort.Search(len(right), func(i int) bool { return right[i].kp.Row >= kpL.Row-t.params.EpsilonRow })
		for i := lo; i < len(right) && right[i].kp.Row <= kpL.Row+t.params.EpsilonRow; i++ {
			kpR := right[i].kp
			if kpR.Col > kpL.Col-t.params.MinimumDisparityPixels {
				continue
			}
			dist := in.DescriptorsLeft[li].HammingDistance(in.DescriptorsRight[right[i].idx])
			if dist > t.params.MaximumMatchingDistanceTriangulation {
				continue
			}
			pixel := absf(kpL.Row - kpR.Row)
			if dist < bestDist || (dist == bestDist && pixel < bestPixel) {
				bestDist = dist
				bestIdx = right[i].idx
				bestPixel = pixel
			}
		}
		if bestIdx >= 0 {
			best = append(best, candidate{leftIdx: li, rightIdx: bestIdx, distance: bestDist, pixelDistance: bestPixel})
		}
	}

	// Enforce a bijective claim on right keypoints: ties broken by smallest
	// descriptor distance, then smallest pixel distance.
	claimedBy := make(map[int]int) // rightIdx -> index into best
	for i, c := range best {
		prev, ok := claimedBy[c.rightIdx]
		if !ok {
			claimedBy[c.rightIdx] = i
			continue
		}
		if c.distance < best[prev].distance ||
			(c.distance == best[prev].distance && c.pixelDistance < best[prev].pixelDistance) {
			claimedBy[c.rightIdx] = i
		}
	}
	winners := make(map[int]bool, len(claimedBy))
	for _, i := range claimedBy {
		winners[i] = true
	}

	intrinsics := frame.CameraLeft.Intrinsics

	created := 0
	for i, c := range best {
		if !winners[i] {
			continue
		}
		kpL := in.KeypointsLeft[c.leftIdx]
		kpR := in.KeypointsRight[c.rightIdx]

		disparity := kpL.Col - kpR.Col
		if disparity < t.params.MinimumDisparityPixels {
			// at-infinity, discard
			continue
		}

		depth := intrinsics.FX * frame.CameraLeft.BaselineMeters / disparity
		cameraLeftCoords := geometry.Vec3{
			X: (kpL.Col - intrinsics.CX) * depth / intrinsics.FX,
			Y: (kpL.Row - intrinsics.CY) * depth / intrinsics.FY,
			Z: depth,
		}

		frame.CreateFramePoint(
			kpL, kpR,
			in.DescriptorsLeft[c.leftIdx], in.DescriptorsRight[c.rightIdx],
			cameraLeftCoords,
			nil,
		)
		created++
	}

	logger.Log.Debug().
		Uint64("frame", frame.Identifier).
		Int("keypoints_left", len(in.KeypointsLeft)).
		Int("keypoints_right", len(in.KeypointsRight)).
		Int("framepoints", created).
		Msg("triangulation: stereo matching complete")
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
