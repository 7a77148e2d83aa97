package proslam

import (
	"github.com/itohio/proslam/pkg/wire"
)

// Snapshot is a read-only view of the engine's current state, taken at a
// pipeline quiescent point: after Step returns, never mid-step.
type Snapshot struct {
	CurrentFrameID   uint64
	CurrentPose      wire.Frame
	NumberOfClosures int
	Landmarks        []wire.Landmark
}

// Snapshot builds a Snapshot from the engine's current world map. Safe to
// call between Step calls only; the engine holds no lock of its own, so
// concurrent access is the caller's responsibility.
func (e *Engine) Snapshot() Snapshot {
	localMaps := e.wm.LocalMaps()
	snap := Snapshot{NumberOfClosures: e.wm.NumberOfClosures()}

	if len(localMaps) == 0 {
		return snap
	}
	current := localMaps[len(localMaps)-1]
	snap.CurrentFrameID = current.Identifier
	snap.CurrentPose = wire.Frame{
		Identifier:   current.Identifier,
		Status:       int(current.Status),
		RobotToWorld: current.RobotToWorld,
	}

	seen := make(map[uint64]bool)
	for _, lm := range localMaps {
		for _, item := range lm.LocalMap().Items {
			l := item.Landmark
			if seen[l.Identifier] {
				continue
			}
			seen[l.Identifier] = true
			snap.Landmarks = append(snap.Landmarks, wire.Landmark{
				Identifier:       l.Identifier,
				WorldCoordinates: l.WorldCoordinates(),
				IsOptimized:      l.IsOptimized,
				IsClosed:         l.IsClosed,
			})
		}
	}
	return snap
}

// Wire converts s to its serializable wire shape (pkg/wire.Snapshot).
func (s Snapshot) Wire() wire.Snapshot {
	return wire.Snapshot{Frame: s.CurrentPose, Landmarks: s.Landmarks}
}
