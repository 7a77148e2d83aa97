// Package worldmap owns every Frame and Landmark for a SLAM session: the
// frame registry, local-map promotion, and landmark garbage collection.
// FramePoint, Frame, LocalMapData, and Landmark live here together because
// they form one mutually-referential cluster owned by a single registry;
// splitting them across packages would force an import cycle.
package worldmap

import (
	"math"

	"github.com/itohio/proslam/pkg/geometry"
	"github.com/itohio/proslam/pkg/logger"
)

// Params are the WorldMap-level tunables.
type Params struct {
	MinimumTrackLength int

	MinimumDegreesRotatedForLocalMap   float64
	MinimumDistanceTraveledForLocalMap float64
	MinimumNumberOfFramesForLocalMap   int
	// BootstrapLocalMapCount is a warm-up allowance: the first few windows
	// seal eagerly on frame count alone, so the pose graph and
	// place-recognition history have vertices to work with before motion
	// thresholds would otherwise fire.
	BootstrapLocalMapCount int

	DropFramepoints bool

	MaxWeight                 float64
	MaximumAppearanceDistance int
}

func DefaultParams() Params {
	return Params{
		MinimumTrackLength:                 3,
		MinimumDegreesRotatedForLocalMap:   20,
		MinimumDistanceTraveledForLocalMap: 1.0,
		MinimumNumberOfFramesForLocalMap:   5,
		BootstrapLocalMapCount:             5,
		DropFramepoints:                    false,
		MaxWeight:                          20,
		MaximumAppearanceDistance:          25,
	}
}

// WorldMap owns all frames and landmarks. Every cross-reference elsewhere
// (framepoint to landmark, local-map item to landmark) is a non-owning
// handle resolved against this registry.
type WorldMap struct {
	params Params

	frames map[uint64]*Frame

	rootFrame     *Frame
	previousFrame *Frame
	currentFrame  *Frame

	landmarks map[uint64]*Landmark

	localMaps []*Frame

	windowFrames           []*Frame
	distanceTraveledWindow float64
	degreesRotatedWindow   float64

	relocalized      bool
	numberOfClosures int

	nextFrameID    uint64
	nextLandmarkID uint64
}

func New(params Params) *WorldMap {
	return &WorldMap{
		params:    params,
		frames:    make(map[uint64]*Frame),
		landmarks: make(map[uint64]*Landmark),
	}
}

// CreateFrame ingests a new time instant: releases the previous frame's
// images, allocates and links the new frame, and enqueues it in the rolling
// local-map window.
func (w *WorldMap) CreateFrame(guessPose geometry.Pose, maximumDepthClose float64) *Frame {
	if w.currentFrame != nil {
		w.currentFrame.ReleaseImages()
	}
	w.previousFrame = w.currentFrame

	frame := newFrame(w.nextFrameID, w.previousFrame, guessPose, maximumDepthClose)
	w.nextFrameID++

	if _, exists := w.frames[frame.Identifier]; exists {
		violate("worldmap.unique_frame_id", "frame identifier %d already registered", frame.Identifier)
	}

	if w.rootFrame == nil {
		w.rootFrame = frame
	}
	if w.previousFrame != nil {
		w.previousFrame.Next = frame
	}

	w.currentFrame = frame
	w.frames[frame.Identifier] = frame
	w.windowFrames = append(w.windowFrames, frame)
	return frame
}

func (w *WorldMap) CurrentFrame() *Frame  { return w.currentFrame }
func (w *WorldMap) PreviousFrame() *Frame { return w.previousFrame }
func (w *WorldMap) RootFrame() *Frame     { return w.rootFrame }

func (w *WorldMap) Frame(id uint64) (*Frame, bool) {
	f, ok := w.frames[id]
	return f, ok
}

func (w *WorldMap) LocalMaps() []*Frame { return w.localMaps }

// CreateLandmark anchors a new landmark at a track that has persisted long
// enough for the tracker to trust it.
func (w *WorldMap) CreateLandmark(origin *FramePoint, worldCoordinates geometry.Vec3) *Landmark {
	l := newLandmark(w.nextLandmarkID, origin, worldCoordinates, w.params.MaxWeight, w.params.MaximumAppearanceDistance)
	w.nextLandmarkID++
	w.landmarks[l.Identifier] = l
	return l
}

func (w *WorldMap) Landmark(id uint64) (*Landmark, bool) {
	l, ok := w.landmarks[id]
	return l, ok
}

func (w *WorldMap) NumberOfClosures() int { return w.numberOfClosures }
func (w *WorldMap) Relocalized() bool     { return w.relocalized }

// TryCreateLocalMap evaluates the motion-threshold triggers (rotation
// window, translation+window size, or bootstrap count) and, if any fires,
// seals the current frame into a local map. Returns the sealed frame (now
// carrying LocalMapData) and true, or (nil, false).
func (w *WorldMap) TryCreateLocalMap() (*Frame, bool) {
	if w.previousFrame == nil {
		return nil, false
	}

	w.relocalized = false

	relative := w.previousFrame.WorldToRobot().Mul(w.currentFrame.RobotToWorld)
	w.distanceTraveledWindow += relative.T.Norm()
	w.degreesRotatedWindow += relative.RotationAngle() * 180 / math.Pi

	windowSize := len(w.windowFrames)
	fires := w.degreesRotatedWindow >= w.params.MinimumDegreesRotatedForLocalMap ||
		(w.distanceTraveledWindow >= w.params.MinimumDistanceTraveledForLocalMap && windowSize >= w.params.MinimumNumberOfFramesForLocalMap) ||
		(windowSize >= w.params.MinimumNumberOfFramesForLocalMap && len(w.localMaps) < w.params.BootstrapLocalMapCount)

	if !fires {
		return nil, false
	}

	w.sealLocalMap(w.currentFrame)
	return w.currentFrame, true
}

func (w *WorldMap) sealLocalMap(anchor *Frame) {
	anchor.localMapData = &LocalMapData{
		Window: append([]*Frame(nil), w.windowFrames...),
		Index:  anchor.Identifier,
	}
	anchor.setLocalMapRef(anchor)
	for _, f := range w.windowFrames {
		if f != anchor {
			f.setLocalMapRef(anchor)
		}
	}

	seen := make(map[uint64]bool)
	for _, f := range w.windowFrames {
		for _, fp := range f.Points {
			if fp.Landmark == nil || seen[fp.Landmark.Identifier] {
				continue
			}
			seen[fp.Landmark.Identifier] = true
			fp.Landmark.RenewState(anchor)
			anchor.localMapData.Items = append(anchor.localMapData.Items, &Item{
				Landmark:         fp.Landmark,
				RobotCoordinates: anchor.WorldToRobot().Apply(fp.Landmark.WorldCoordinates()),
			})
		}
	}

	w.localMaps = append(w.localMaps, anchor)

	logger.Log.Debug().
		Uint64("local_map", anchor.Identifier).
		Int("items", len(anchor.localMapData.Items)).
		Int("window", len(w.windowFrames)).
		Msg("worldmap: sealed local map")

	w.resetWindow()
}

func (w *WorldMap) resetWindow() {
	w.distanceTraveledWindow = 0
	w.degreesRotatedWindow = 0

	if w.params.DropFramepoints {
		last := w.windowFrames[len(w.windowFrames)-1]
		for _, f := range w.windowFrames {
			if f != last {
				f.ReleasePoints()
			}
		}
	}
	w.windowFrames = w.windowFrames[:0]

	w.gcLandmarks()
}

// gcLandmarks drops landmarks that are neither bound to a local map nor
// currently tracked. Local-map sealing is the only deletion point, so
// references held mid-frame stay valid.
func (w *WorldMap) gcLandmarks() {
	for id, l := range w.landmarks {
		if l.retired {
			delete(w.landmarks, id)
			continue
		}
		bound := l.current.LocalMap != nil
		for _, s := range l.history {
			if s.LocalMap != nil {
				bound = true
				break
			}
		}
		if !bound && !l.IsCurrentlyTracked {
			delete(w.landmarks, id)
		}
	}
}

// CloseLocalMaps registers a detected revisit of reference by query.
func (w *WorldMap) CloseLocalMaps(query, reference *Frame, transformQueryToReference geometry.Pose, confidence float64) {
	if !query.IsLocalMap() {
		violate("worldmap.closure_requires_local_map", "query frame %d is not a local map", query.Identifier)
	}
	query.localMapData.AddClosure(reference, transformQueryToReference, confidence)
	w.relocalized = true
	w.numberOfClosures++
}

// SetRobotToWorldPrevious is called by the graph optimizer after writeback
// to keep the tracker's constant-velocity prediction consistent with the
// corrected trajectory.
func (w *WorldMap) SetRobotToWorldPrevious(pose geometry.Pose) {
	if w.currentFrame != nil {
		w.currentFrame.SetRobotToWorld(pose)
	}
}
