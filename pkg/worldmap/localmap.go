package worldmap

import "github.com/itohio/proslam/pkg/geometry"

// Item is a landmark observed in a local map's window. RobotCoordinates is
// captured at the instant of sealing and never mutated afterwards; the
// graph optimizer relies on that to transport landmarks through corrected
// poses.
type Item struct {
	Landmark         *Landmark
	RobotCoordinates geometry.Vec3
}

// Closure is a detected revisit edge from this local map (the query) to an
// earlier one (the reference).
type Closure struct {
	Reference  *Frame
	Transform  geometry.Pose // T_query_to_reference
	Confidence float64
}

// LocalMapData is the keyframe extension a Frame gains when promoted. It
// never exists detached from a Frame; access it via Frame.LocalMap().
type LocalMapData struct {
	// Window is the frames that contributed to this local map, in
	// chronological order, including the anchor frame itself.
	Window []*Frame

	Items []*Item

	Closures []*Closure

	// Index mirrors the anchor frame's identifier; local maps share the
	// frame identifier space.
	Index uint64
}

// AddClosure appends a closure edge query -> reference. A local map can
// never close against itself.
func (lm *LocalMapData) AddClosure(reference *Frame, transform geometry.Pose, confidence float64) {
	if reference != nil && reference.IsLocalMap() && lm.Index == reference.Identifier {
		violate("localmap.no_self_closure", "local map %d cannot close against itself", lm.Index)
	}
	lm.Closures = append(lm.Closures, &Closure{Reference: reference, Transform: transform, Confidence: confidence})
}
