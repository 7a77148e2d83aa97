// Package scenario holds end-to-end pipeline tests driven through
// proslam.Engine.Step: small literal scenes (a single stereo pair, a
// static camera, pure translation, rotation past the keyframe threshold, a
// loop closure, a track break) rather than per-subsystem unit tests.
package scenario

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/proslam"
	"github.com/itohio/proslam/pkg/framepoint"
	"github.com/itohio/proslam/pkg/geometry"
	"github.com/itohio/proslam/pkg/graphopt"
	"github.com/itohio/proslam/pkg/recognize"
	"github.com/itohio/proslam/pkg/triangulation"
	"github.com/itohio/proslam/pkg/worldmap"
)

var testIntrinsics = geometry.Intrinsics{FX: 500, FY: 500, CX: 320, CY: 240}

// silentRecognizer never reports a revisit, for scenarios that inject their
// closure edges by hand (S5) instead of through place recognition.
type silentRecognizer struct{}

func (silentRecognizer) Recognize(recognize.Entry, []recognize.Entry) []recognize.Candidate {
	return nil
}

func testCameras() (*worldmap.Camera, *worldmap.Camera) {
	left := &worldmap.Camera{Intrinsics: testIntrinsics, BaselineMeters: 0.5, CameraToRobot: geometry.Identity()}
	right := &worldmap.Camera{Intrinsics: testIntrinsics, CameraToRobot: geometry.Identity()}
	return left, right
}

func desc(b byte) framepoint.Descriptor { return framepoint.Descriptor{b, b, b, b} }

// translationSceneWorldPoints is the fixed set of 3D world points S3/S5
// project into each frame; spread in column and row so association has no
// ambiguity and depth=5m keeps disparity (50px at baseline=0.5) and
// per-frame pixel shift (10px at 0.1m/frame) comfortably inside the
// tracker's default search radii.
func translationSceneWorldPoints() []geometry.Vec3 {
	pts := make([]geometry.Vec3, 8)
	for i := range pts {
		x := -1.4 + float64(i)*0.4
		y := -0.3
		if i%2 == 1 {
			y = 0.3
		}
		pts[i] = geometry.Vec3{X: x, Y: y, Z: 5}
	}
	return pts
}

// meanTranslationError walks the frame chain and averages the translation
// error between estimated and ground-truth poses, over every frame carrying
// a ground truth.
func meanTranslationError(wm *worldmap.WorldMap) float64 {
	var sum float64
	var n int
	for f := wm.RootFrame(); f != nil; f = f.Next {
		if f.RobotToWorldGroundTruth == nil {
			continue
		}
		sum += f.RobotToWorld.T.Sub(f.RobotToWorldGroundTruth.T).Norm()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// stereoInputAtOffset renders the scene's world points as seen by a camera
// translated by camX meters along +x from the world points' own frame.
func stereoInputAtOffset(points []geometry.Vec3, camX, baseline float64) triangulation.StereoInput {
	in := triangulation.StereoInput{}
	for i, p := range points {
		cam := geometry.Vec3{X: p.X - camX, Y: p.Y, Z: p.Z}
		u, v, ok := testIntrinsics.Project(cam)
		if !ok {
			continue
		}
		disparity := testIntrinsics.FX * baseline / cam.Z
		d := desc(byte(i + 1))
		in.KeypointsLeft = append(in.KeypointsLeft, framepoint.Keypoint{Row: v, Col: u})
		in.KeypointsRight = append(in.KeypointsRight, framepoint.Keypoint{Row: v, Col: u - disparity})
		in.DescriptorsLeft = append(in.DescriptorsLeft, d)
		in.DescriptorsRight = append(in.DescriptorsRight, d)
	}
	return in
}

// TestS1_SingleStereoPairIdeal: a single ideal stereo pair triangulates to
// the expected camera-left coordinates, and the first frame of a session
// is Localizing with no predecessors.
func TestS1_SingleStereoPairIdeal(t *testing.T) {
	left, right := testCameras()
	engine := proslam.New(proslam.DefaultConfig(), left, right, nil)

	in := triangulation.StereoInput{
		KeypointsLeft:    []framepoint.Keypoint{{Row: 240, Col: 320}},
		KeypointsRight:   []framepoint.Keypoint{{Row: 240, Col: 220}},
		DescriptorsLeft:  []framepoint.Descriptor{desc(0xAA)},
		DescriptorsRight: []framepoint.Descriptor{desc(0xAA)},
	}

	engine.Step(geometry.Identity(), nil, in)

	frame := engine.WorldMap().CurrentFrame()
	require.Len(t, frame.Points, 1)
	fp := frame.Points[0]
	assert.InDelta(t, 2.5, fp.CameraLeftCoordinates.Z, 1e-9)
	assert.InDelta(t, 0, fp.CameraLeftCoordinates.X, 1e-9)
	assert.InDelta(t, 0, fp.CameraLeftCoordinates.Y, 1e-9)

	assert.Equal(t, worldmap.Localizing, frame.Status)
	assert.Nil(t, fp.Previous)
	assert.Equal(t, fp, fp.Origin)
	assert.Equal(t, 1, fp.TrackLength)
}

// staticSceneStereoInput builds the ideal stereo input S2 repeats each frame.
func staticSceneStereoInput() triangulation.StereoInput {
	// Four points (matching pkg/tracking's own static-scene fixture) so the
	// pose aligner's normal equations stay well-conditioned across frames,
	// rather than the single-correspondence case S1 exercises.
	rows := []float64{200, 260, 220, 280}
	cols := []float64{300, 340, 400, 250}
	const depth = 2.5
	disparity := testIntrinsics.FX * 0.5 / depth

	in := triangulation.StereoInput{}
	for i := range rows {
		d := desc(byte(i + 1))
		in.KeypointsLeft = append(in.KeypointsLeft, framepoint.Keypoint{Row: rows[i], Col: cols[i]})
		in.KeypointsRight = append(in.KeypointsRight, framepoint.Keypoint{Row: rows[i], Col: cols[i] - disparity})
		in.DescriptorsLeft = append(in.DescriptorsLeft, d)
		in.DescriptorsRight = append(in.DescriptorsRight, d)
	}
	return in
}

// TestS2_StaticCameraTenFrames: repeating an ideal stereo pair for 10
// frames creates a landmark once the track-length threshold is crossed,
// and by frame 10 it has been updated at least 7 times with its world
// coordinates unchanged (static scene).
func TestS2_StaticCameraTenFrames(t *testing.T) {
	left, right := testCameras()
	engine := proslam.New(proslam.DefaultConfig(), left, right, nil)

	in := staticSceneStereoInput()

	var frames []*worldmap.Frame
	for i := 0; i < 10; i++ {
		engine.Step(geometry.Identity(), nil, in)
		frames = append(frames, engine.WorldMap().CurrentFrame())
	}

	// minimum_track_length defaults to 3: the 3rd frame (index 2) is the
	// first with a landmark.
	require.NotEmpty(t, frames[2].Points)
	var lm *worldmap.Landmark
	for _, fp := range frames[2].Points {
		if fp.Landmark != nil {
			lm = fp.Landmark
			break
		}
	}
	require.NotNil(t, lm)
	firstCoords := lm.WorldCoordinates()

	last := frames[len(frames)-1]
	require.NotEmpty(t, last.Points)
	assert.GreaterOrEqual(t, lm.NumberOfUpdates, 7)

	lastCoords := lm.WorldCoordinates()
	assert.InDelta(t, firstCoords.X, lastCoords.X, 1e-6)
	assert.InDelta(t, firstCoords.Y, lastCoords.Y, 1e-6)
	assert.InDelta(t, firstCoords.Z, lastCoords.Z, 1e-6)
}

// TestS3_PureTranslationRecoversWithinOneCentimeter: 5 frames translating
// 0.1m/frame along +x. The pose aligner must recover each step's
// translation within 1cm, landmarks must exist from frame 3 onward, and no
// closure may be registered.
func TestS3_PureTranslationRecoversWithinOneCentimeter(t *testing.T) {
	cfg := proslam.DefaultConfig()
	left, right := testCameras()
	engine := proslam.New(cfg, left, right, nil)

	points := translationSceneWorldPoints()
	const step = 0.1

	var frames []*worldmap.Frame
	for k := 0; k < 5; k++ {
		in := stereoInputAtOffset(points, step*float64(k), left.BaselineMeters)
		engine.Step(geometry.Identity(), nil, in)
		frame := engine.WorldMap().CurrentFrame()
		frame.SetGroundTruth(geometry.Pose{R: geometry.Identity3(), T: geometry.Vec3{X: step * float64(k)}})
		frames = append(frames, frame)
	}

	assert.Less(t, meanTranslationError(engine.WorldMap()), 0.01)

	for k := 1; k < len(frames); k++ {
		expected := step * float64(k)
		got := frames[k].RobotToWorld.T.X
		assert.InDelta(t, expected, got, 0.01, "frame %d translation", k)
		assert.InDelta(t, 0, frames[k].RobotToWorld.T.Y, 0.01)
		assert.InDelta(t, 0, frames[k].RobotToWorld.T.Z, 0.01)
	}

	require.NotEmpty(t, frames[2].Points)
	hasLandmark := false
	for _, fp := range frames[2].Points {
		if fp.Landmark != nil {
			hasLandmark = true
		}
	}
	assert.True(t, hasLandmark, "landmark expected by frame 3 (minimum_track_length=3)")

	assert.Equal(t, 0, engine.WorldMap().NumberOfClosures())
}

// TestS4_RotationTriggersLocalMap: rotating 25 degrees over 10 frames with
// a 20-degree local-map threshold seals a local map at the frame that
// crosses it, and the frame registry holds the promoted frame under its
// original identifier.
func TestS4_RotationTriggersLocalMap(t *testing.T) {
	cfg := proslam.DefaultConfig()
	cfg.MinimumDegreesRotatedForLocalMap = 20
	cfg.BootstrapLocalMapCount = 0 // isolate the rotation clause
	left, right := testCameras()
	engine := proslam.New(cfg, left, right, nil)

	const totalDegrees = 25.0
	const numFrames = 10
	stepRadians := (totalDegrees / (numFrames - 1)) * math.Pi / 180

	for i := 0; i < numFrames; i++ {
		var hint *geometry.Pose
		if i > 0 {
			h := geometry.ExpSE3([6]float64{0, 0, 0, 0, 0, stepRadians})
			hint = &h
		}
		engine.Step(geometry.Identity(), hint, triangulation.StereoInput{})
	}

	localMaps := engine.WorldMap().LocalMaps()
	require.NotEmpty(t, localMaps, "a local map should seal once rotation crosses the threshold")

	sealed := localMaps[0]
	registered, ok := engine.WorldMap().Frame(sealed.Identifier)
	require.True(t, ok)
	assert.Same(t, sealed, registered)
	assert.True(t, sealed.IsLocalMap())
}

// TestS5_LoopClosureRedistributesDriftAndRefreshesLandmarks: after
// translating away from the origin and sealing several local maps, a
// closure edge declaring the last local map back at the first's pose (an
// identity relative transform) must pull its corrected pose toward the
// first's and refresh every bound landmark with IsClosed/IsOptimized set.
func TestS5_LoopClosureRedistributesDriftAndRefreshesLandmarks(t *testing.T) {
	cfg := proslam.DefaultConfig()
	cfg.MinimumNumberOfFramesForLocalMap = 2
	cfg.BootstrapLocalMapCount = 1000
	left, right := testCameras()
	engine := proslam.New(cfg, left, right, silentRecognizer{})

	points := translationSceneWorldPoints()
	const step = 0.1
	for k := 0; k < 8; k++ {
		in := stereoInputAtOffset(points, step*float64(k), left.BaselineMeters)
		engine.Step(geometry.Identity(), nil, in)
	}

	wm := engine.WorldMap()
	localMaps := wm.LocalMaps()
	require.GreaterOrEqual(t, len(localMaps), 2, "two local maps should have sealed by frame 8")

	first := localMaps[0]
	second := localMaps[len(localMaps)-1]

	var landmarksBound []*worldmap.Landmark
	for _, item := range second.LocalMap().Items {
		landmarksBound = append(landmarksBound, item.Landmark)
	}
	require.NotEmpty(t, landmarksBound, "the second local map should have captured at least one landmark item")

	driftBefore := second.RobotToWorld.T.Sub(first.RobotToWorld.T).Norm()

	wm.CloseLocalMaps(second, first, geometry.Identity(), 0.9)
	assert.Equal(t, 1, wm.NumberOfClosures())
	assert.True(t, wm.Relocalized())

	optimizer := graphopt.New(graphopt.DefaultParams())
	optimizer.Optimize(wm)

	driftAfter := second.RobotToWorld.T.Sub(first.RobotToWorld.T).Norm()
	assert.Less(t, driftAfter, driftBefore, "the closure should pull the second local map back toward the first")

	for _, l := range landmarksBound {
		assert.True(t, l.IsClosed)
		assert.True(t, l.IsOptimized)
	}
}

// TestS6_UnmatchableFrameBreaksTrack: feeding a frame with a completely
// unmatchable scene after a tracked run drops the tracker back to
// Localizing with no predecessors, and lets the next frame re-enter
// Tracking.
func TestS6_UnmatchableFrameBreaksTrack(t *testing.T) {
	cfg := proslam.DefaultConfig()
	left, right := testCameras()
	engine := proslam.New(cfg, left, right, nil)

	points := translationSceneWorldPoints()
	const step = 0.1
	for k := 0; k < 4; k++ {
		in := stereoInputAtOffset(points, step*float64(k), left.BaselineMeters)
		engine.Step(geometry.Identity(), nil, in)
	}
	require.Equal(t, worldmap.Tracking, engine.WorldMap().CurrentFrame().Status)

	unmatchable := triangulation.StereoInput{}
	for i := 0; i < 4; i++ {
		row, col := float64(600+i*5), float64(900+i*5)
		d := desc(byte(0xF0 + i))
		unmatchable.KeypointsLeft = append(unmatchable.KeypointsLeft, framepoint.Keypoint{Row: row, Col: col})
		unmatchable.KeypointsRight = append(unmatchable.KeypointsRight, framepoint.Keypoint{Row: row, Col: col - 50})
		unmatchable.DescriptorsLeft = append(unmatchable.DescriptorsLeft, d)
		unmatchable.DescriptorsRight = append(unmatchable.DescriptorsRight, d)
	}
	engine.Step(geometry.Identity(), nil, unmatchable)

	broken := engine.WorldMap().CurrentFrame()
	assert.Equal(t, worldmap.Localizing, broken.Status)
	for _, fp := range broken.Points {
		assert.Nil(t, fp.Previous)
		assert.Equal(t, fp, fp.Origin)
	}

	// The next frame, matching the unmatchable scene's own points, should
	// be able to re-enter Tracking against it.
	engine.Step(geometry.Identity(), nil, unmatchable)
	reentered := engine.WorldMap().CurrentFrame()
	assert.NotEqual(t, worldmap.Localizing, reentered.Status)
}
