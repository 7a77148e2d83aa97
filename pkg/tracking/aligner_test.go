package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/proslam/pkg/geometry"
)

func TestAligner_Align_RecoversTranslation(t *testing.T) {
	intrinsics := geometry.Intrinsics{FX: 500, FY: 500, CX: 320, CY: 240}
	aligner := NewAligner(DefaultAlignerParams(), intrinsics)

	// Ground truth: camera moved +0.1m along X relative to the world
	// points' frame, i.e. world_to_camera translation is -0.1 in X.
	trueWorldToCamera := geometry.Pose{R: geometry.Identity3(), T: geometry.Vec3{X: -0.1}}

	worldPoints := []geometry.Vec3{
		{X: 0, Y: 0, Z: 3},
		{X: 0.5, Y: 0.2, Z: 4},
		{X: -0.3, Y: -0.1, Z: 2.5},
		{X: 0.1, Y: 0.3, Z: 5},
		{X: -0.4, Y: 0.1, Z: 3.5},
		{X: 0.2, Y: -0.2, Z: 2},
	}

	var correspondences []Correspondence
	for _, wp := range worldPoints {
		pc := trueWorldToCamera.Apply(wp)
		u, v, ok := intrinsics.Project(pc)
		if !ok {
			t.Fatalf("test fixture point behind camera")
		}
		correspondences = append(correspondences, Correspondence{WorldPoint: wp, ObservedU: u, ObservedV: v})
	}

	result := aligner.Align(correspondences, geometry.Identity())

	assert.True(t, result.Success)
	assert.InDelta(t, -0.1, result.Pose.T.X, 1e-3)
	assert.InDelta(t, 0, result.Pose.T.Y, 1e-3)
	assert.InDelta(t, 0, result.Pose.T.Z, 1e-3)
	assert.Equal(t, 1.0, result.InlierRatio)
}

func TestAligner_Align_NoCorrespondences(t *testing.T) {
	aligner := NewAligner(DefaultAlignerParams(), geometry.Intrinsics{FX: 500, FY: 500, CX: 320, CY: 240})
	result := aligner.Align(nil, geometry.Identity())
	assert.False(t, result.Success)
}

func TestHuberWeight(t *testing.T) {
	assert.Equal(t, 1.0, huberWeight(1.0, 2.0))
	assert.Equal(t, 1.0, huberWeight(0, 2.0))
	assert.InDelta(t, 0.5, huberWeight(4.0, 2.0), 1e-9)
}
