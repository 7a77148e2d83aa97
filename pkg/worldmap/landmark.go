package worldmap

import (
	"github.com/itohio/proslam/pkg/framepoint"
	"github.com/itohio/proslam/pkg/geometry"
)

// Measurement is one accumulated observation feeding a landmark's
// weighted-average position.
type Measurement struct {
	WorldToCamera     geometry.Pose
	CameraCoordinates geometry.Vec3
	WorldCoordinates  geometry.Vec3
	InverseDepth      float64
}

// State is a landmark's snapshot at a point in time: its world coordinates,
// the local map it was bound to (if sealed), and the descriptors observed
// while that state was current.
type State struct {
	WorldCoordinates geometry.Vec3
	LocalMap         *Frame
	Appearances      Appearances
}

// Landmark is a persistent 3D point in world coordinates.
type Landmark struct {
	Identifier uint64
	Origin     *FramePoint

	current *State
	history []*State

	Measurements []Measurement
	TotalWeight  float64

	NumberOfUpdates    int
	NumberOfRecoveries int

	IsCurrentlyTracked bool
	IsOptimized        bool
	IsClosed           bool

	maxWeight             float64
	maxAppearanceDistance int

	// retired marks a landmark absorbed into another via Merge; the
	// registry drops it on its next GC pass.
	retired bool
}

func newLandmark(id uint64, origin *FramePoint, worldCoordinates geometry.Vec3, maxWeight float64, maxAppearanceDistance int) *Landmark {
	l := &Landmark{
		Identifier:            id,
		Origin:                origin,
		maxWeight:             maxWeight,
		maxAppearanceDistance: maxAppearanceDistance,
	}
	l.current = &State{WorldCoordinates: worldCoordinates}
	return l
}

// WorldCoordinates returns the current best estimate, the weighted average
// of all past measurements.
func (l *Landmark) WorldCoordinates() geometry.Vec3 { return l.current.WorldCoordinates }

func (l *Landmark) SetWorldCoordinates(c geometry.Vec3) { l.current.WorldCoordinates = c }

func (l *Landmark) State() *State { return l.current }

// RecentAppearances returns the most recently populated appearance set: the
// live state's if it holds any descriptors, else the set snapshotted at the
// last local-map sealing. Place recognition reads this right after a seal,
// when the live state has just been renewed and is still empty.
func (l *Landmark) RecentAppearances() *Appearances {
	if l.current.Appearances.Len() > 0 || len(l.history) == 0 {
		return &l.current.Appearances
	}
	return &l.history[len(l.history)-1].Appearances
}

// RenewState snapshots the current state into history and starts a fresh
// one bound to localMap. Called when a local map seals around this
// landmark.
func (l *Landmark) RenewState(localMap *Frame) {
	l.current.LocalMap = localMap
	l.history = append(l.history, l.current)
	l.current = &State{WorldCoordinates: l.current.WorldCoordinates}
}

// Update folds a new measurement into the running weighted average:
//
//	W_new = W_old + w_m
//	coords_new = (W_old*coords_old + w_m*m.world_coordinates) / W_new
func (l *Landmark) Update(fp *FramePoint) {
	depth := fp.CameraLeftCoordinates.Z
	inverseDepth := 1 / depth
	weight := inverseDepth
	if weight > l.maxWeight {
		weight = l.maxWeight
	}

	worldToCamera := fp.Frame.WorldToRobot()
	if fp.Frame.CameraLeft != nil {
		worldToCamera = fp.Frame.CameraLeft.CameraToRobot.Inverse().Mul(worldToCamera)
	}

	m := Measurement{
		WorldToCamera:     worldToCamera,
		CameraCoordinates: fp.CameraLeftCoordinates,
		WorldCoordinates:  fp.WorldCoordinates(),
		InverseDepth:      inverseDepth,
	}

	newWeight := l.TotalWeight + weight
	if newWeight > 0 {
		old := l.current.WorldCoordinates
		blended := old.Scale(l.TotalWeight).Add(m.WorldCoordinates.Scale(weight)).Scale(1 / newWeight)
		l.current.WorldCoordinates = blended
	}
	l.TotalWeight = newWeight

	l.Measurements = append(l.Measurements, m)
	l.NumberOfUpdates++

	l.current.Appearances.Add(fp.DescriptorLeft, l.maxAppearanceDistance)
}

// Merge absorbs other into l: weight and measurements combine,
// every framepoint referencing other is redirected to l, and other is
// retired. Callers (WorldMap) are responsible for providing the framepoints
// that reference other, since Landmark itself holds no back-pointers to
// them.
func (l *Landmark) Merge(other *Landmark, referencingPoints []*FramePoint) {
	if other == l {
		violate("landmark.no_self_merge", "landmark %d merged into itself", l.Identifier)
	}

	newWeight := l.TotalWeight + other.TotalWeight
	if newWeight > 0 {
		blended := l.current.WorldCoordinates.Scale(l.TotalWeight).
			Add(other.current.WorldCoordinates.Scale(other.TotalWeight)).
			Scale(1 / newWeight)
		l.current.WorldCoordinates = blended
	}
	l.TotalWeight = newWeight
	l.Measurements = append(l.Measurements, other.Measurements...)
	l.NumberOfUpdates += other.NumberOfUpdates
	l.NumberOfRecoveries += other.NumberOfRecoveries

	other.current.Appearances.Each(func(d framepoint.Descriptor) {
		l.current.Appearances.Add(d, l.maxAppearanceDistance)
	})

	for _, fp := range referencingPoints {
		fp.Landmark = l
	}
	other.retired = true
}
