package graphopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/proslam/pkg/geometry"
	"github.com/itohio/proslam/pkg/worldmap"
)

// buildLocalMaps drives a WorldMap through n local-map seals, translating
// +stepX meters along X between each pair of frames. Params are tuned so
// the bootstrap clause seals every window.
func buildLocalMaps(wm *worldmap.WorldMap, n int, stepX float64) []*worldmap.Frame {
	pose := geometry.Identity()
	wm.CreateFrame(pose, 5.0)

	var localMaps []*worldmap.Frame
	for len(localMaps) < n {
		pose.T.X += stepX
		wm.CreateFrame(pose, 5.0)
		if lm, ok := wm.TryCreateLocalMap(); ok {
			localMaps = append(localMaps, lm)
		}
	}
	return localMaps
}

func testWorldMapParams() worldmap.Params {
	p := worldmap.DefaultParams()
	p.MinimumNumberOfFramesForLocalMap = 1
	p.BootstrapLocalMapCount = 1000
	p.MinimumDistanceTraveledForLocalMap = 1e9
	p.MinimumDegreesRotatedForLocalMap = 1e9
	return p
}

// TestGraphOptimizer_Optimize_LoopClosure: a closure edge between the
// first and last local map pulls the drifted chain back toward the
// measured loop-closing constraint.
func TestGraphOptimizer_Optimize_LoopClosure(t *testing.T) {
	wm := worldmap.New(testWorldMapParams())
	localMaps := buildLocalMaps(wm, 5, 1.0)
	require.Len(t, localMaps, 5)

	// Inject drift into the last local map so the odometry chain disagrees
	// with the loop closure.
	drifted := localMaps[4].RobotToWorld
	drifted.T.X += 0.5
	localMaps[4].SetRobotToWorld(drifted)

	// The closure says the last local map is actually exactly where the
	// undrifted chain would have placed it: query=last, reference=first.
	undriftedLast := geometry.Pose{R: geometry.Identity3(), T: geometry.Vec3{X: 5.0}}
	transformQueryToReference := localMaps[0].WorldToRobot().Mul(undriftedLast)
	wm.CloseLocalMaps(localMaps[4], localMaps[0], transformQueryToReference, 0.9)

	opt := New(DefaultParams())
	ran := opt.MaybeOptimize(wm)
	assert.True(t, ran)

	// The drift should have been pulled back toward the closure constraint.
	assert.InDelta(t, 5.0, localMaps[4].RobotToWorld.T.X, 0.3)
	assert.Less(t, localMaps[4].RobotToWorld.T.X, drifted.T.X)

	// Root stays fixed (the first local map seals at X=1).
	assert.InDelta(t, 1.0, localMaps[0].RobotToWorld.T.X, 1e-9)
}

// TestGraphOptimizer_Optimize_Idempotent: running the optimizer twice with
// no new edges produces identical pose estimates.
func TestGraphOptimizer_Optimize_Idempotent(t *testing.T) {
	wm := worldmap.New(testWorldMapParams())
	localMaps := buildLocalMaps(wm, 4, 1.0)
	require.Len(t, localMaps, 4)

	drifted := localMaps[3].RobotToWorld
	drifted.T.X += 0.3
	localMaps[3].SetRobotToWorld(drifted)

	transformQueryToReference := localMaps[0].WorldToRobot().Mul(geometry.Pose{R: geometry.Identity3(), T: geometry.Vec3{X: 3.0}})
	wm.CloseLocalMaps(localMaps[3], localMaps[0], transformQueryToReference, 0.9)

	opt := New(DefaultParams())
	opt.Optimize(wm)
	afterFirst := make([]geometry.Vec3, len(localMaps))
	for i, lm := range localMaps {
		afterFirst[i] = lm.RobotToWorld.T
	}

	opt.Optimize(wm)

	for i, lm := range localMaps {
		delta := lm.RobotToWorld.T.Sub(afterFirst[i])
		assert.Less(t, delta.Norm(), 1e-9, "local map %d moved by %v on the idempotent second run", i, delta)
	}
}

// TestGraphOptimizer_MaybeOptimize_SkipsWithoutNewClosures: no closures
// since the last run means no-op.
func TestGraphOptimizer_MaybeOptimize_SkipsWithoutNewClosures(t *testing.T) {
	wm := worldmap.New(testWorldMapParams())
	buildLocalMaps(wm, 3, 1.0)

	opt := New(DefaultParams())
	assert.False(t, opt.MaybeOptimize(wm))
}
