// Package tracking implements the frame-to-frame tracker: framepoint
// association, recursive pose alignment, outlier pruning, lost track
// recovery, and landmark update/creation.
package tracking

import (
	"math"

	"github.com/itohio/proslam/pkg/chrono"
	"github.com/itohio/proslam/pkg/geometry"
	"github.com/itohio/proslam/pkg/logger"
	"github.com/itohio/proslam/pkg/worldmap"
)

// Params are the tracker's tunables.
type Params struct {
	MinimumTrackLength                      int
	ProjectionTrackingDistancePixels        float64
	MaximumProjectionTrackingDistancePixels float64
	MaximumNumberOfRecursiveRegistrations   int

	TrackByAppearance                 bool
	MaximumDescriptorDistanceTracking int

	EnableBinning bool
	BinSizePixels float64

	RecoveryWindowPixels              float64
	MaximumDescriptorDistanceRecovery int

	ImageWidth, ImageHeight float64

	Aligner AlignerParams
}

func DefaultParams() Params {
	return Params{
		MinimumTrackLength:                      3,
		ProjectionTrackingDistancePixels:        7,
		MaximumProjectionTrackingDistancePixels: 64,
		MaximumNumberOfRecursiveRegistrations:   3,
		TrackByAppearance:                       false,
		MaximumDescriptorDistanceTracking:       50,
		EnableBinning:                           true,
		BinSizePixels:                           16,
		RecoveryWindowPixels:                    4,
		MaximumDescriptorDistanceRecovery:       50,
		ImageWidth:                              1280,
		ImageHeight:                             720,
		Aligner:                                 DefaultAlignerParams(),
	}
}

// Stats is running exponential-moving-average bookkeeping, for progress
// output in replay harnesses.
type Stats struct {
	MeanTrackingRatio       float64
	MeanNumberOfFramepoints float64
}

const statsDecay = 0.9

// Tracker is the concrete frame-to-frame tracker.
type Tracker struct {
	params     Params
	aligner    *Aligner
	timers     *chrono.Bank
	stats      Stats
	framesSeen int
}

// timerSummaryInterval is how many tracked frames pass between chronometer
// summary logs.
const timerSummaryInterval = 100

func New(params Params, intrinsics geometry.Intrinsics) *Tracker {
	return &Tracker{
		params:  params,
		aligner: NewAligner(params.Aligner, intrinsics),
		timers:  chrono.NewBank(),
	}
}

func (t *Tracker) Stats() Stats { return t.stats }

type pairing struct {
	previous *worldmap.FramePoint
	// candidate is the index into the current frame's raw candidate slice
	// this pairing claims.
	candidate int
	pixelDist float64
	descDist  int
}

// Track runs the full per-frame pipeline: associate current's
// freshly-triangulated framepoints against previous's tracked ones,
// recursively align the pose, prune outliers, recover lost tracks, and
// update/create landmarks. current.Points must already hold this frame's
// raw stereo detections (the triangulator's output); Track consumes and
// replaces them with the tracked/origin-linked versions.
func (t *Tracker) Track(wm *worldmap.WorldMap, current *worldmap.Frame, odometryHint *geometry.Pose) {
	previous := wm.PreviousFrame()
	if previous == nil {
		// First frame of a session: no tracking to do, all framepoints are
		// already origin==self with no predecessor from the triangulator.
		current.Status = worldmap.Localizing
		return
	}

	timer := t.timers.Get("tracking")
	timer.Start()
	defer timer.Stop()

	t.framesSeen++
	if t.framesSeen%timerSummaryInterval == 0 {
		t.timers.Each(func(tm *chrono.Timer) {
			logger.Log.Debug().
				Str("timer", tm.Name()).
				Dur("mean", tm.Mean()).
				Int("calls", tm.Calls).
				Msg("tracking: chronometer summary")
		})
	}

	candidates := current.Points
	current.Points = nil

	// Landmarks start the frame untracked; association below re-flags the
	// ones that survive, leaving the rest visible to point recovery.
	for _, fp := range previous.Points {
		if fp.Landmark != nil {
			fp.Landmark.IsCurrentlyTracked = false
		}
	}

	previousToCurrentRobot := t.predictMotion(previous, odometryHint)
	current.SetRobotToWorld(previous.RobotToWorld.Mul(previousToCurrentRobot))

	result, pairs, claimed := t.registerRecursive(previous, current, candidates, previousToCurrentRobot, 0)

	if !result.Success {
		// All candidates restart as fresh tracks, including the ones
		// association claimed before alignment failed.
		t.rebuildUnmatched(current, candidates, nil)
		t.breakTrack(previous, current)
		logger.Log.Warn().
			Uint64("frame", current.Identifier).
			Int("candidates", len(candidates)).
			Msg("tracking: registration failed, track broken")
		return
	}

	current.SetRobotToWorld(robotToWorldFromCameraPose(current, result.Pose))
	current.SetRelativeMotion(previous.WorldToRobot().Mul(current.RobotToWorld))

	// Prune: build the tracked framepoints; outliers keep their previous
	// link (track continuity) but are excluded from landmark update below.
	tracked := make([]*worldmap.FramePoint, 0, len(pairs))
	trackedIsOutlier := make([]bool, 0, len(pairs))
	for i, p := range pairs {
		c := candidates[p.candidate]
		fp := current.CreateFramePoint(c.KeypointLeft, c.KeypointRight, c.DescriptorLeft, c.DescriptorRight, c.CameraLeftCoordinates, p.previous)
		fp.Landmark = p.previous.Landmark
		outlier := i < len(result.Inliers) && !result.Inliers[i]
		if fp.Landmark != nil && !outlier {
			fp.Landmark.IsCurrentlyTracked = true
		}
		tracked = append(tracked, fp)
		trackedIsOutlier = append(trackedIsOutlier, outlier)
	}

	t.rebuildUnmatched(current, candidates, claimed)

	if len(tracked) >= t.params.MinimumTrackLength {
		current.Status = worldmap.Tracking
	} else {
		current.Status = worldmap.Localizing
	}

	// Point recovery, for previously-tracked landmarks whose framepoint
	// found no association this frame.
	recovered := t.recoverPoints(previous, current, claimed)

	// Update/create landmarks for every surviving tracked point. Recovered
	// points chain track length like any tracked point, so they count
	// toward the landmark-creation threshold the same frame.
	for i, fp := range tracked {
		if trackedIsOutlier[i] {
			continue
		}
		t.updateOrCreateLandmark(wm, fp)
	}
	for _, fp := range recovered {
		t.updateOrCreateLandmark(wm, fp)
	}

	t.updateStats(len(current.Points), len(tracked)+len(recovered))

	logger.Log.Debug().
		Uint64("frame", current.Identifier).
		Str("status", current.Status.String()).
		Int("tracked", len(tracked)).
		Int("recovered", len(recovered)).
		Float64("inlier_ratio", result.InlierRatio).
		Msg("tracking: frame processed")
}

// predictMotion seeds the pose: odometry hint if present, else
// constant-velocity from the previous frame's last estimated motion.
func (t *Tracker) predictMotion(previous *worldmap.Frame, odometryHint *geometry.Pose) geometry.Pose {
	if odometryHint != nil {
		return *odometryHint
	}
	return previous.RelativeMotion()
}

// registerRecursive runs association+alignment, and on failure widens the
// search radius (x2, capped) and recurses up to
// MaximumNumberOfRecursiveRegistrations.
func (t *Tracker) registerRecursive(
	previous, current *worldmap.Frame,
	candidates []*worldmap.FramePoint,
	previousToCurrentRobot geometry.Pose,
	recursion int,
) (Result, []pairing, map[int]bool) {
	radius := t.params.ProjectionTrackingDistancePixels * math.Pow(2, float64(recursion))
	if radius > t.params.MaximumProjectionTrackingDistancePixels {
		radius = t.params.MaximumProjectionTrackingDistancePixels
	}

	pairs, claimed := t.associate(previous, current, candidates, previousToCurrentRobot, radius)
	if t.params.EnableBinning {
		pairs = t.regularizeBins(pairs, candidates)
		claimed = make(map[int]bool, len(pairs))
		for _, p := range pairs {
			claimed[p.candidate] = true
		}
	}

	correspondences := make([]Correspondence, 0, len(pairs))
	for _, p := range pairs {
		correspondences = append(correspondences, Correspondence{
			WorldPoint: landmarkOrPreviousWorldPoint(p.previous),
			ObservedU:  candidates[p.candidate].KeypointLeft.Col,
			ObservedV:  candidates[p.candidate].KeypointLeft.Row,
		})
	}

	result := t.aligner.Align(correspondences, worldToCameraPose(current))
	if result.Success || recursion >= t.params.MaximumNumberOfRecursiveRegistrations {
		return result, pairs, claimed
	}

	return t.registerRecursive(previous, current, candidates, previousToCurrentRobot, recursion+1)
}

// worldToCameraPose and robotToWorldFromCameraPose convert between the
// aligner's solve variable (world-to-camera) and the frame's stored
// robot-to-world pose, through the fixed camera-to-robot extrinsic.
func worldToCameraPose(frame *worldmap.Frame) geometry.Pose {
	return frame.CameraLeft.CameraToRobot.Inverse().Mul(frame.WorldToRobot())
}

func robotToWorldFromCameraPose(frame *worldmap.Frame, worldToCamera geometry.Pose) geometry.Pose {
	worldToRobot := frame.CameraLeft.CameraToRobot.Mul(worldToCamera)
	return worldToRobot.Inverse()
}

// landmarkOrPreviousWorldPoint picks the alignment anchor: the landmark's
// world coordinate if the track already has one, else the previous
// framepoint's own world coordinate.
func landmarkOrPreviousWorldPoint(previous *worldmap.FramePoint) geometry.Vec3 {
	if previous.Landmark != nil {
		return previous.Landmark.WorldCoordinates()
	}
	return previous.WorldCoordinates()
}

// associate projects each previous framepoint into the current image with
// the predicted pose, then finds the current frame's best candidate within
// a square search window, enforcing a bijective pairing.
func (t *Tracker) associate(
	previous, current *worldmap.Frame,
	candidates []*worldmap.FramePoint,
	previousToCurrentRobot geometry.Pose,
	radius float64,
) ([]pairing, map[int]bool) {
	type proposal struct {
		previousIdx int
		candidate   int
		pixelDist   float64
		descDist    int
	}
	var proposals []proposal

	// previousToCurrentRobot maps current-robot points into the previous
	// robot frame (it composes as robot_to_world_prev * X = robot_to_world_curr);
	// carrying a previous-frame point forward takes the inverse.
	currentFromPrevious := previousToCurrentRobot.Inverse()
	robotToCamera := current.CameraLeft.CameraToRobot.Inverse()

	for pi, prevFP := range previous.Points {
		predictedRobot := currentFromPrevious.Apply(prevFP.RobotCoordinates)
		predictedCamera := robotToCamera.Apply(predictedRobot)
		pu, pv, ok := current.CameraLeft.Intrinsics.Project(predictedCamera)
		if !ok {
			continue
		}
		if pu < 0 || pv < 0 || pu >= t.params.ImageWidth || pv >= t.params.ImageHeight {
			continue
		}

		bestCandidate := -1
		bestDescDist := t.params.MaximumDescriptorDistanceTracking + 1
		bestPixelDist := math.MaxFloat64

		for ci, cand := range candidates {
			dr := cand.KeypointLeft.Row - pv
			dc := cand.KeypointLeft.Col - pu
			if !t.params.TrackByAppearance {
				if math.Abs(dr) > radius || math.Abs(dc) > radius {
					continue
				}
			}
			descDist := prevFP.DescriptorLeft.HammingDistance(cand.DescriptorLeft)
			if descDist > t.params.MaximumDescriptorDistanceTracking {
				continue
			}
			pixelDist := math.Hypot(dr, dc)
			if t.params.TrackByAppearance && pixelDist > radius*4 {
				// descriptor-first search still bounded, else any
				// lookalike anywhere in the image would match.
				continue
			}

			if descDist < bestDescDist || (descDist == bestDescDist && pixelDist < bestPixelDist) {
				bestDescDist = descDist
				bestCandidate = ci
				bestPixelDist = pixelDist
			}
		}

		if bestCandidate >= 0 {
			proposals = append(proposals, proposal{previousIdx: pi, candidate: bestCandidate, pixelDist: bestPixelDist, descDist: bestDescDist})
		}
	}

	// Bijective pairing: each current candidate accepts the single
	// previous framepoint with the smallest matching distance.
	bestForCandidate := make(map[int]int) // candidate -> index into proposals
	for i, p := range proposals {
		prev, ok := bestForCandidate[p.candidate]
		if !ok {
			bestForCandidate[p.candidate] = i
			continue
		}
		if p.descDist < proposals[prev].descDist ||
			(p.descDist == proposals[prev].descDist && p.pixelDist < proposals[prev].pixelDist) {
			bestForCandidate[p.candidate] = i
		}
	}

	pairs := make([]pairing, 0, len(bestForCandidate))
	claimed := make(map[int]bool, len(bestForCandidate))
	for candidateIdx, i := range bestForCandidate {
		p := proposals[i]
		pairs = append(pairs, pairing{
			previous:  previous.Points[p.previousIdx],
			candidate: candidateIdx,
			pixelDist: p.pixelDist,
			descDist:  p.descDist,
		})
		claimed[candidateIdx] = true
	}
	return pairs, claimed
}

// regularizeBins keeps at most one tracked framepoint per
// BinSizePixels x BinSizePixels bin, keeping the smallest descriptor
// distance on contention.
func (t *Tracker) regularizeBins(pairs []pairing, candidates []*worldmap.FramePoint) []pairing {
	type key struct{ row, col int }
	bins := make(map[key]int) // bin -> index into pairs

	for i, p := range pairs {
		kp := candidates[p.candidate].KeypointLeft
		k := key{int(kp.Row / t.params.BinSizePixels), int(kp.Col / t.params.BinSizePixels)}
		if existing, ok := bins[k]; !ok || p.descDist < pairs[existing].descDist {
			bins[k] = i
		}
	}

	out := make([]pairing, 0, len(bins))
	for _, i := range bins {
		out = append(out, pairs[i])
	}
	return out
}

// rebuildUnmatched appends every candidate that was not claimed by
// association as a fresh, origin-starting framepoint; points that don't
// track continue the frame's population as new track starts.
func (t *Tracker) rebuildUnmatched(current *worldmap.Frame, candidates []*worldmap.FramePoint, claimed map[int]bool) {
	for ci, c := range candidates {
		if claimed[ci] {
			continue
		}
		alreadyPresent := false
		for _, p := range current.Points {
			if p == c {
				alreadyPresent = true
				break
			}
		}
		if !alreadyPresent {
			current.CreateFramePoint(c.KeypointLeft, c.KeypointRight, c.DescriptorLeft, c.DescriptorRight, c.CameraLeftCoordinates, nil)
		}
	}
}

// breakTrack clears predecessor links for all current framepoints and
// drops back to Localizing, for when alignment fails or recursion is
// exhausted. New tracks start from here.
func (t *Tracker) breakTrack(previous, current *worldmap.Frame) {
	for _, fp := range current.Points {
		fp.Previous = nil
		fp.Origin = fp
		fp.TrackLength = 1
	}
	for _, fp := range previous.Points {
		if fp.Landmark != nil {
			fp.Landmark.IsCurrentlyTracked = false
		}
	}
	current.Status = worldmap.Localizing
}

// recoverPoints re-projects previously lost landmarks into the current
// frame using the refined pose and retries association at a tighter
// window.
func (t *Tracker) recoverPoints(previous, current *worldmap.Frame, claimed map[int]bool) []*worldmap.FramePoint {
	var recovered []*worldmap.FramePoint

	unmatchedIdx := make([]int, 0)
	for i := range current.Points {
		// current.Points was just rebuilt by rebuildUnmatched; anything
		// with no Previous link is an unclaimed candidate eligible for
		// recovery.
		if current.Points[i].Previous == nil {
			unmatchedIdx = append(unmatchedIdx, i)
		}
	}

	worldToRobot := current.WorldToRobot()
	robotToCamera := current.CameraLeft.CameraToRobot.Inverse()
	for _, prevFP := range previous.Points {
		if prevFP.Landmark == nil || prevFP.Landmark.IsCurrentlyTracked {
			continue
		}
		predictedRobot := worldToRobot.Apply(prevFP.Landmark.WorldCoordinates())
		predictedCamera := robotToCamera.Apply(predictedRobot)
		pu, pv, ok := current.CameraLeft.Intrinsics.Project(predictedCamera)
		if !ok {
			continue
		}

		bestIdx := -1
		bestDist := t.params.MaximumDescriptorDistanceRecovery + 1
		for _, ui := range unmatchedIdx {
			cand := current.Points[ui]
			if math.Abs(cand.KeypointLeft.Row-pv) > t.params.RecoveryWindowPixels ||
				math.Abs(cand.KeypointLeft.Col-pu) > t.params.RecoveryWindowPixels {
				continue
			}
			d := prevFP.DescriptorLeft.HammingDistance(cand.DescriptorLeft)
			if d < bestDist {
				bestDist = d
				bestIdx = ui
			}
		}
		if bestIdx < 0 {
			continue
		}

		cand := current.Points[bestIdx]
		fp := &worldmap.FramePoint{}
		*fp = *cand
		fp.Previous = prevFP
		fp.Origin = prevFP.Origin
		fp.TrackLength = prevFP.TrackLength + 1
		fp.Landmark = prevFP.Landmark
		current.Points[bestIdx] = fp

		prevFP.Landmark.NumberOfRecoveries++
		recovered = append(recovered, fp)

		unmatchedIdx = removeInt(unmatchedIdx, bestIdx)
	}

	return recovered
}

func removeInt(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// updateOrCreateLandmark folds a new measurement into an existing landmark,
// or promotes a long-enough track into a fresh one.
func (t *Tracker) updateOrCreateLandmark(wm *worldmap.WorldMap, fp *worldmap.FramePoint) {
	if fp.Landmark != nil {
		fp.Landmark.Update(fp)
		fp.Landmark.IsCurrentlyTracked = true
		return
	}
	if fp.TrackLength >= t.params.MinimumTrackLength {
		landmark := wm.CreateLandmark(fp.Origin, fp.WorldCoordinates())
		fp.Landmark = landmark
		landmark.Update(fp)
		landmark.IsCurrentlyTracked = true
	}
}

func (t *Tracker) updateStats(numKeypoints, numTracked int) {
	ratio := 0.0
	if numKeypoints > 0 {
		ratio = float64(numTracked) / float64(numKeypoints)
	}
	t.stats.MeanTrackingRatio = statsDecay*t.stats.MeanTrackingRatio + (1-statsDecay)*ratio
	t.stats.MeanNumberOfFramepoints = statsDecay*t.stats.MeanNumberOfFramepoints + (1-statsDecay)*float64(numKeypoints)
}
