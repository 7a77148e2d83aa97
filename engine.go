package proslam

import (
	"github.com/itohio/proslam/pkg/framepoint"
	"github.com/itohio/proslam/pkg/geometry"
	"github.com/itohio/proslam/pkg/graphopt"
	"github.com/itohio/proslam/pkg/logger"
	"github.com/itohio/proslam/pkg/recognize"
	"github.com/itohio/proslam/pkg/tracking"
	"github.com/itohio/proslam/pkg/triangulation"
	"github.com/itohio/proslam/pkg/worldmap"
)

// Engine wires the per-frame pipeline: triangulate -> track ->
// maybe-seal-a-local-map -> recognize -> close -> optimize.
type Engine struct {
	config Config

	wm           *worldmap.WorldMap
	triangulator *triangulation.Triangulator
	tracker      *tracking.Tracker
	optimizer    *graphopt.GraphOptimizer
	recognizer   recognize.Recognizer

	transformParams recognize.TransformParams

	cameraLeft, cameraRight *worldmap.Camera

	// history holds one recognize.Entry per sealed local map, in sealing
	// order, the candidate pool recognize.Recognizer matches against.
	history []recognize.Entry
}

// New builds an Engine from cfg and the two rigidly-mounted stereo cameras.
// recognizer defaults to the bruteforce reference backend (pkg/recognize)
// when nil.
func New(cfg Config, cameraLeft, cameraRight *worldmap.Camera, recognizer recognize.Recognizer) *Engine {
	if recognizer == nil {
		recognizer = recognize.NewBruteForce(cfg.recognizeParams())
	}
	transformParams := recognize.DefaultTransformParams()
	transformParams.MinimumInlierCount = cfg.RecognitionMinimumMatches

	return &Engine{
		config:          cfg,
		wm:              worldmap.New(cfg.worldMapParams()),
		triangulator:    triangulation.New(cfg.triangulationParams()),
		tracker:         tracking.New(cfg.trackingParams(), cameraLeft.Intrinsics),
		optimizer:       graphopt.New(cfg.graphOptParams()),
		recognizer:      recognizer,
		transformParams: transformParams,
		cameraLeft:      cameraLeft,
		cameraRight:     cameraRight,
	}
}

// WorldMap exposes the underlying registry for read-only inspection (e.g.
// pkg/trajectory.Write).
func (e *Engine) WorldMap() *worldmap.WorldMap { return e.wm }

// Step ingests one stereo frame: triangulate new framepoints, track
// against the previous frame, seal a local map if the window trigger
// fires, and on a seal run place recognition and pose-graph optimization.
//
// guessPose seeds CreateFrame's initial estimate; odometryHint, if
// non-nil, overrides the tracker's constant-velocity prediction. Step
// recovers *worldmap.InvariantError panics only long enough to log them
// before re-raising: those are programmer errors, not conditions the
// engine can paper over.
func (e *Engine) Step(guessPose geometry.Pose, odometryHint *geometry.Pose, in triangulation.StereoInput) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(*worldmap.InvariantError); ok {
				logger.Log.Error().Interface("panic", r).Msg("engine: invariant violation")
			}
			panic(r)
		}
	}()

	frame := e.wm.CreateFrame(guessPose, e.config.MaximumDepthClose)
	frame.CameraLeft = e.cameraLeft
	frame.CameraRight = e.cameraRight

	e.triangulator.Compute(frame, in)
	e.tracker.Track(e.wm, frame, odometryHint)

	localMap, sealed := e.wm.TryCreateLocalMap()
	if !sealed {
		return
	}
	e.runRecognition(localMap)
}

// runRecognition is the recognize -> RANSAC transform -> close ->
// maybe-optimize chain, run once per newly sealed local map.
func (e *Engine) runRecognition(localMap *worldmap.Frame) {
	query := entryFrom(localMap)

	candidates := e.recognizer.Recognize(query, e.history)
	referenceByID := make(map[uint64]*worldmap.Frame, len(e.wm.LocalMaps()))
	for _, lm := range e.wm.LocalMaps() {
		referenceByID[lm.Identifier] = lm
	}

	for _, candidate := range candidates {
		referenceFrame, ok := referenceByID[candidate.ReferenceLocalMapID]
		if !ok {
			continue
		}
		pose, confidence, ok := recognize.EstimateTransform(candidate.Matches, e.transformParams)
		if !ok {
			continue
		}
		e.wm.CloseLocalMaps(localMap, referenceFrame, pose, confidence)
	}

	e.history = append(e.history, query)
	e.optimizer.MaybeOptimize(e.wm)
}

// entryFrom builds the recognize.Entry a local map exposes to place
// recognition: every item landmark's deduplicated appearance set, each
// descriptor paired with the landmark's current world coordinates. A
// landmark sealed before its first update falls back to its origin
// framepoint's descriptor.
func entryFrom(localMap *worldmap.Frame) recognize.Entry {
	items := localMap.LocalMap().Items
	entry := recognize.Entry{
		LocalMapID:       localMap.Identifier,
		Descriptors:      make([]framepoint.Descriptor, 0, len(items)),
		WorldCoordinates: make([]geometry.Vec3, 0, len(items)),
	}
	for _, item := range items {
		coordinates := item.Landmark.WorldCoordinates()
		appearances := item.Landmark.RecentAppearances()
		if appearances.Len() == 0 {
			entry.Descriptors = append(entry.Descriptors, item.Landmark.Origin.DescriptorLeft)
			entry.WorldCoordinates = append(entry.WorldCoordinates, coordinates)
			continue
		}
		appearances.Each(func(d framepoint.Descriptor) {
			entry.Descriptors = append(entry.Descriptors, d)
			entry.WorldCoordinates = append(entry.WorldCoordinates, coordinates)
		})
	}
	return entry
}
