package framepoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPruneWeakKeypoints_DropsLowResponseTail(t *testing.T) {
	keypoints := []Keypoint{
		{Row: 1, Response: 100},
		{Row: 2, Response: 98},
		{Row: 3, Response: 102},
		{Row: 4, Response: 1}, // far below the rest
	}
	descriptors := []Descriptor{{1}, {2}, {3}, {4}}

	gotKeypoints, gotDescriptors := PruneWeakKeypoints(keypoints, descriptors, 1)

	require.Len(t, gotKeypoints, 3)
	require.Len(t, gotDescriptors, 3)
	for _, kp := range gotKeypoints {
		assert.NotEqual(t, float64(4), kp.Row)
	}
}

func TestPruneWeakKeypoints_DisabledByFactor(t *testing.T) {
	keypoints := []Keypoint{{Response: 5}, {Response: 1}}
	descriptors := []Descriptor{{1}, {2}}

	gotKeypoints, gotDescriptors := PruneWeakKeypoints(keypoints, descriptors, 0)
	assert.Len(t, gotKeypoints, 2)
	assert.Len(t, gotDescriptors, 2)
}

func TestPruneWeakKeypoints_UniformResponsesAllSurvive(t *testing.T) {
	keypoints := []Keypoint{{Response: 7}, {Response: 7}, {Response: 7}}
	descriptors := []Descriptor{{1}, {2}, {3}}

	gotKeypoints, _ := PruneWeakKeypoints(keypoints, descriptors, 2)
	assert.Len(t, gotKeypoints, 3)
}
