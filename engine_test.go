package proslam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/proslam/pkg/framepoint"
	"github.com/itohio/proslam/pkg/geometry"
	"github.com/itohio/proslam/pkg/triangulation"
	"github.com/itohio/proslam/pkg/worldmap"
)

func testCameras() (*worldmap.Camera, *worldmap.Camera) {
	intrinsics := geometry.Intrinsics{FX: 500, FY: 500, CX: 320, CY: 240}
	left := &worldmap.Camera{Intrinsics: intrinsics, BaselineMeters: 0.5, CameraToRobot: geometry.Identity()}
	right := &worldmap.Camera{Intrinsics: intrinsics, CameraToRobot: geometry.Identity()}
	return left, right
}

func desc(b byte) framepoint.Descriptor { return framepoint.Descriptor{b, b, b, b} }

// stereoFrameAt builds a StereoInput for n synthetic points shifted by
// colOffset, giving the triangulator enough disparity and the tracker
// enough shared descriptors to associate consecutive frames.
func stereoFrameAt(n int, colOffset float64) triangulation.StereoInput {
	in := triangulation.StereoInput{}
	for i := 0; i < n; i++ {
		row := 100.0 + float64(i)*20
		col := 200.0 + float64(i)*20 + colOffset
		in.KeypointsLeft = append(in.KeypointsLeft, framepoint.Keypoint{Row: row, Col: col})
		in.KeypointsRight = append(in.KeypointsRight, framepoint.Keypoint{Row: row, Col: col - 40})
		d := desc(byte(i + 1))
		in.DescriptorsLeft = append(in.DescriptorsLeft, d)
		in.DescriptorsRight = append(in.DescriptorsRight, d)
	}
	return in
}

// TestEngine_Step_TracksAcrossFrames: a second frame with the same points
// (no motion) should track against the first rather than starting fresh
// tracks.
func TestEngine_Step_TracksAcrossFrames(t *testing.T) {
	cfg := DefaultConfig()
	left, right := testCameras()
	engine := New(cfg, left, right, nil)

	engine.Step(geometry.Identity(), nil, stereoFrameAt(6, 0))
	engine.Step(geometry.Identity(), nil, stereoFrameAt(6, 0))

	current := engine.wm.CurrentFrame()
	require.NotEmpty(t, current.Points)
	trackedCount := 0
	for _, p := range current.Points {
		if p.Previous != nil {
			trackedCount++
		}
	}
	assert.Greater(t, trackedCount, 0)
}

// TestEngine_Snapshot_EmptyBeforeAnyLocalMap covers the Snapshot zero-value
// contract before any local map has sealed.
func TestEngine_Snapshot_EmptyBeforeAnyLocalMap(t *testing.T) {
	cfg := DefaultConfig()
	left, right := testCameras()
	engine := New(cfg, left, right, nil)

	snap := engine.Snapshot()
	assert.Equal(t, uint64(0), snap.CurrentFrameID)
	assert.Empty(t, snap.Landmarks)
}

// TestEngine_Step_SealsLocalMapAndSnapshotsLandmarks drives enough frames
// past the bootstrap threshold to seal a local map, then checks the
// resulting Snapshot carries the landmarks that survived into it.
func TestEngine_Step_SealsLocalMapAndSnapshotsLandmarks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BootstrapLocalMapCount = 1000
	cfg.MinimumNumberOfFramesForLocalMap = 3
	cfg.MinimumTrackLength = 1
	left, right := testCameras()
	engine := New(cfg, left, right, nil)

	// The third step fills the window (MinimumNumberOfFramesForLocalMap=3)
	// and seals on the current frame.
	for i := 0; i < 3; i++ {
		engine.Step(geometry.Identity(), nil, stereoFrameAt(6, 0))
	}

	require.NotEmpty(t, engine.wm.LocalMaps())
	snap := engine.Snapshot()
	assert.Equal(t, engine.wm.CurrentFrame().Identifier, snap.CurrentFrameID)
	assert.NotEmpty(t, snap.Landmarks)
}
