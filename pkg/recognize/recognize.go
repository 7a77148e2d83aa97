// Package recognize is the place-recognition capability interface: after
// every local-map sealing the engine hands the new local map's appearance
// set to a Recognizer, then derives a relative transform from the matched
// pairs via RANSAC + 3-point absolute orientation and hands the result to
// worldmap.WorldMap.CloseLocalMaps.
//
// Backends register through pkg/plugin so an HBST- or vocabulary-tree-based
// implementation can replace the brute-force reference backend without
// touching the engine.
package recognize

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/itohio/proslam/pkg/framepoint"
	"github.com/itohio/proslam/pkg/geometry"
	"github.com/itohio/proslam/pkg/logger"
	"github.com/itohio/proslam/pkg/plugin"
)

// Entry is one local map's appearance set, passed as both the query and
// each history item.
type Entry struct {
	LocalMapID       uint64
	Descriptors      []framepoint.Descriptor
	WorldCoordinates []geometry.Vec3
}

// Match pairs a query item with a history item across two local maps.
type Match struct {
	QueryIndex, ReferenceIndex                       int
	QueryWorldCoordinates, ReferenceWorldCoordinates geometry.Vec3
}

// Candidate is one closure candidate: a prior local map and the descriptor
// matches found against it.
type Candidate struct {
	ReferenceLocalMapID uint64
	Matches             []Match
}

// Recognizer is the pluggable place-recognition capability.
type Recognizer interface {
	Recognize(query Entry, history []Entry) []Candidate
}

// Name is the registry key the reference backend registers itself under.
const Name = "bruteforce"

func init() {
	if err := plugin.Global.Register(Name, func(opts ...plugin.Option) (plugin.Plugin, error) {
		params := DefaultParams()
		plugin.Apply(&params, opts...)
		return NewBruteForce(params), nil
	}); err != nil && err != plugin.ErrExists {
		panic(err)
	}
}

// Params tune the brute-force reference backend.
type Params struct {
	MaximumDescriptorDistance int
	MinimumMatches            int
}

func DefaultParams() Params {
	return Params{
		MaximumDescriptorDistance: 50,
		MinimumMatches:            8,
	}
}

// WithMaximumDescriptorDistance overrides Params.MaximumDescriptorDistance.
func WithMaximumDescriptorDistance(d int) plugin.Option {
	return func(v interface{}) { v.(*Params).MaximumDescriptorDistance = d }
}

// WithMinimumMatches overrides Params.MinimumMatches.
func WithMinimumMatches(n int) plugin.Option {
	return func(v interface{}) { v.(*Params).MinimumMatches = n }
}

// BruteForce is the reference place-recognition backend: it matches every
// query descriptor against every history descriptor by Hamming distance,
// keeping the bijective nearest match per history entry (same claim-
// resolution shape as pkg/triangulation and pkg/tracking use elsewhere).
type BruteForce struct {
	params Params
}

func NewBruteForce(params Params) *BruteForce {
	return &BruteForce{params: params}
}

func (b *BruteForce) Recognize(query Entry, history []Entry) []Candidate {
	var candidates []Candidate
	for _, h := range history {
		if h.LocalMapID == query.LocalMapID {
			continue
		}
		matches := b.matchOne(query, h)
		if len(matches) < b.params.MinimumMatches {
			continue
		}
		candidates = append(candidates, Candidate{ReferenceLocalMapID: h.LocalMapID, Matches: matches})
	}
	return candidates
}

type claim struct {
	queryIndex int
	distance   int
}

func (b *BruteForce) matchOne(query, reference Entry) []Match {
	bestForReference := make(map[int]claim)
	for qi, qd := range query.Descriptors {
		bestRef := -1
		bestDist := b.params.MaximumDescriptorDistance + 1
		for ri, rd := range reference.Descriptors {
			d := qd.HammingDistance(rd)
			if d < bestDist {
				bestDist = d
				bestRef = ri
			}
		}
		if bestRef < 0 || bestDist > b.params.MaximumDescriptorDistance {
			continue
		}
		if existing, ok := bestForReference[bestRef]; !ok || bestDist < existing.distance {
			bestForReference[bestRef] = claim{queryIndex: qi, distance: bestDist}
		}
	}

	refs := make([]int, 0, len(bestForReference))
	for ri := range bestForReference {
		refs = append(refs, ri)
	}
	sort.Ints(refs)

	matches := make([]Match, 0, len(refs))
	for _, ri := range refs {
		c := bestForReference[ri]
		matches = append(matches, Match{
			QueryIndex:               c.queryIndex,
			ReferenceIndex:           ri,
			QueryWorldCoordinates:    query.WorldCoordinates[c.queryIndex],
			ReferenceWorldCoordinates: reference.WorldCoordinates[ri],
		})
	}
	return matches
}

// TransformParams tunes EstimateTransform's RANSAC loop.
type TransformParams struct {
	Iterations         int
	InlierThresholdM   float64
	MinimumInlierCount int
	Rand               *rand.Rand
}

func DefaultTransformParams() TransformParams {
	return TransformParams{
		Iterations:         200,
		InlierThresholdM:   0.2,
		MinimumInlierCount: 3,
		Rand:               rand.New(rand.NewSource(1)),
	}
}

// EstimateTransform runs RANSAC + 3-point absolute orientation on the
// matched pairs' 3D coordinates: repeatedly fits a rigid transform
// (Horn/Kabsch absolute orientation) from 3 randomly chosen
// correspondences, scores it by inlier count under InlierThresholdM, and
// refits the best inlier set with the full Kabsch solve. The returned pose
// is T_query_to_reference; confidence is the winning inlier ratio, which
// the graph optimizer scales the closure edge's information matrix by.
func EstimateTransform(matches []Match, params TransformParams) (pose geometry.Pose, confidence float64, ok bool) {
	if len(matches) < 3 {
		return geometry.Pose{}, 0, false
	}

	r := params.Rand
	if r == nil {
		r = rand.New(rand.NewSource(1))
	}

	bestInliers := countInliers(matches, kabsch(matches), params.InlierThresholdM)
	bestCount := len(bestInliers)

	indices := make([]int, len(matches))
	for i := range indices {
		indices[i] = i
	}

	for iter := 0; iter < params.Iterations; iter++ {
		r.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		sample := []Match{matches[indices[0]], matches[indices[1]], matches[indices[2]]}
		candidatePose := kabsch(sample)
		inliers := countInliers(matches, candidatePose, params.InlierThresholdM)
		if len(inliers) > bestCount {
			bestCount = len(inliers)
			bestInliers = inliers
		}
	}

	if bestCount < params.MinimumInlierCount {
		return geometry.Pose{}, 0, false
	}

	refined := kabsch(subset(matches, bestInliers))
	confidence = float64(bestCount) / float64(len(matches))
	logger.Log.Debug().Int("inliers", bestCount).Int("candidates", len(matches)).Msg("recognize: estimated closure transform")
	return refined, confidence, true
}

func subset(matches []Match, indices []int) []Match {
	out := make([]Match, len(indices))
	for i, idx := range indices {
		out[i] = matches[idx]
	}
	return out
}

func countInliers(matches []Match, pose geometry.Pose, threshold float64) []int {
	var inliers []int
	for i, m := range matches {
		predicted := pose.Apply(m.QueryWorldCoordinates)
		if predicted.Sub(m.ReferenceWorldCoordinates).Norm() <= threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// kabsch solves for the rigid transform minimizing
// sum ||pose.Apply(m.QueryWorldCoordinates) - m.ReferenceWorldCoordinates||^2
// via SVD (Horn's absolute-orientation method), with a reflection check so
// the result is always a proper rotation.
func kabsch(matches []Match) geometry.Pose {
	n := float64(len(matches))
	var queryCentroid, refCentroid geometry.Vec3
	for _, m := range matches {
		queryCentroid = queryCentroid.Add(m.QueryWorldCoordinates)
		refCentroid = refCentroid.Add(m.ReferenceWorldCoordinates)
	}
	queryCentroid = queryCentroid.Scale(1 / n)
	refCentroid = refCentroid.Scale(1 / n)

	h := mat.NewDense(3, 3, nil)
	for _, m := range matches {
		q := m.QueryWorldCoordinates.Sub(queryCentroid).Array()
		ref := m.ReferenceWorldCoordinates.Sub(refCentroid).Array()
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				h.Set(i, j, h.At(i, j)+q[i]*ref[j])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return geometry.Pose{R: geometry.Identity3(), T: refCentroid.Sub(queryCentroid)}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rotation mat.Dense
	rotation.Mul(&v, u.T())

	if det3(&rotation) < 0 {
		// Flip the sign of V's last column (the standard Kabsch reflection
		// fix) and recompute.
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		rotation.Mul(&v, u.T())
	}

	r := geometry.Mat3{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = rotation.At(i, j)
		}
	}

	t := refCentroid.Sub(geometry.Vec3FromArray([3]float64{
		r[0][0]*queryCentroid.X + r[0][1]*queryCentroid.Y + r[0][2]*queryCentroid.Z,
		r[1][0]*queryCentroid.X + r[1][1]*queryCentroid.Y + r[1][2]*queryCentroid.Z,
		r[2][0]*queryCentroid.X + r[2][1]*queryCentroid.Y + r[2][2]*queryCentroid.Z,
	}))

	return geometry.Pose{R: r, T: t}
}

func det3(m *mat.Dense) float64 {
	return m.At(0, 0)*(m.At(1, 1)*m.At(2, 2)-m.At(1, 2)*m.At(2, 1)) -
		m.At(0, 1)*(m.At(1, 0)*m.At(2, 2)-m.At(1, 2)*m.At(2, 0)) +
		m.At(0, 2)*(m.At(1, 0)*m.At(2, 1)-m.At(1, 1)*m.At(2, 0))
}
