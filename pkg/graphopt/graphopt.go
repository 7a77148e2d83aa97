// Package graphopt implements the pose-graph optimizer: a
// Levenberg-Marquardt solve over local-map vertices with odometry and
// closure edges, followed by a landmark-coordinate refresh through the
// corrected poses.
package graphopt

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/itohio/proslam/pkg/geometry"
	"github.com/itohio/proslam/pkg/logger"
	"github.com/itohio/proslam/pkg/worldmap"
)

// Params are the optimizer's tunables.
type Params struct {
	PoseGraphIterations int
	// ClosureInformationScale scales a closure edge's identity information
	// matrix together with the closure's confidence, so low-confidence
	// closures perturb the graph less.
	ClosureInformationScale float64
	OdometryInformation     float64
	LargeClosureDeltaMeters float64

	InitialDamping float64
}

func DefaultParams() Params {
	return Params{
		PoseGraphIterations:     10,
		ClosureInformationScale: 1.0,
		OdometryInformation:     1.0,
		LargeClosureDeltaMeters: 4.0,
		InitialDamping:          1e-3,
	}
}

// GraphOptimizer owns the pose graph and re-runs it whenever WorldMap
// registers a new closure.
type GraphOptimizer struct {
	params          Params
	lastNumClosures int

	// odometryMeasurements caches each consecutive-pair edge's measurement,
	// keyed by the later local map's identifier and captured from the
	// estimates current when the edge first enters the graph. Re-deriving
	// it from already corrected poses on later runs would erase prior
	// corrections and break optimizer idempotence.
	odometryMeasurements map[uint64]geometry.Pose
}

func New(params Params) *GraphOptimizer {
	return &GraphOptimizer{
		params:               params,
		odometryMeasurements: make(map[uint64]geometry.Pose),
	}
}

type vertex struct {
	localMap *worldmap.Frame
	fixed    bool
	varIndex int // index into the free-variable block, -1 if fixed
}

type edge struct {
	a, b        *vertex
	measurement geometry.Pose // T_a_b: maps points expressed in b into a
	information float64
	isClosure   bool
}

// MaybeOptimize runs the optimizer only if WorldMap has registered new
// closures since the last run.
func (g *GraphOptimizer) MaybeOptimize(wm *worldmap.WorldMap) bool {
	if wm.NumberOfClosures() == g.lastNumClosures {
		return false
	}
	g.Optimize(wm)
	g.lastNumClosures = wm.NumberOfClosures()
	return true
}

// Optimize runs the bounded Levenberg-Marquardt pose-graph solve and then
// refreshes every landmark through its anchoring local map's corrected
// pose.
func (g *GraphOptimizer) Optimize(wm *worldmap.WorldMap) {
	localMaps := wm.LocalMaps()
	if len(localMaps) == 0 {
		return
	}

	vertices := make([]*vertex, len(localMaps))
	byID := make(map[uint64]*vertex, len(localMaps))
	varIndex := 0
	for i, lm := range localMaps {
		v := &vertex{localMap: lm, fixed: i == 0}
		if !v.fixed {
			v.varIndex = varIndex
			varIndex++
		} else {
			v.varIndex = -1
		}
		vertices[i] = v
		byID[lm.Identifier] = v
	}
	numFree := varIndex

	var edges []*edge
	for i := 1; i < len(localMaps); i++ {
		a, b := vertices[i-1], vertices[i]
		measurement, ok := g.odometryMeasurements[b.localMap.Identifier]
		if !ok {
			measurement = a.localMap.WorldToRobot().Mul(b.localMap.RobotToWorld)
			g.odometryMeasurements[b.localMap.Identifier] = measurement
		}
		edges = append(edges, &edge{a: a, b: b, measurement: measurement, information: g.params.OdometryInformation})
	}

	for _, queryVertex := range vertices {
		closures := queryVertex.localMap.LocalMap().Closures
		for _, c := range closures {
			referenceVertex, ok := byID[c.Reference.Identifier]
			if !ok {
				continue
			}
			g.logIfLargeDelta(queryVertex, referenceVertex, c)
			information := c.Confidence * g.params.ClosureInformationScale
			edges = append(edges, &edge{
				a:           referenceVertex,
				b:           queryVertex,
				measurement: c.Transform,
				information: information,
				isClosure:   true,
			})
		}
	}

	if numFree > 0 {
		g.solve(vertices, edges, numFree)
	}

	g.refreshLandmarks(wm)

	wm.SetRobotToWorldPrevious(localMaps[len(localMaps)-1].RobotToWorld)
}

// logIfLargeDelta flags a closure whose translational delta against the
// current estimates is implausibly large. It is logged but accepted into
// the graph, not rejected. The solve applies no robust kernel to it: the
// closure edge is weighted only by its confidence-scaled information.
func (g *GraphOptimizer) logIfLargeDelta(query, reference *vertex, c *worldmap.Closure) {
	predicted := reference.localMap.WorldToRobot().Mul(query.localMap.RobotToWorld)
	delta := c.Transform.T.Sub(predicted.T)
	if delta.Norm() > g.params.LargeClosureDeltaMeters {
		logger.Log.Warn().
			Uint64("query", query.localMap.Identifier).
			Uint64("reference", reference.localMap.Identifier).
			Float64("delta_m", delta.Norm()).
			Msg("graphopt: large-impact closure")
	}
}

// solve runs up to PoseGraphIterations Levenberg-Marquardt steps,
// minimizing the sum of squared SE(3) log-residuals across all edges.
// Jacobians are central-difference over each free vertex's twist
// perturbation; the edge count per optimization is small enough that
// numeric differentiation is not a bottleneck.
func (g *GraphOptimizer) solve(vertices []*vertex, edges []*edge, numFree int) {
	n := 6 * numFree
	lambda := g.params.InitialDamping
	cost := totalCost(edges)

	for iter := 0; iter < g.params.PoseGraphIterations; iter++ {
		H := mat.NewDense(n, n, nil)
		b := mat.NewVecDense(n, nil)

		for _, e := range edges {
			r0 := residual(e)
			accumulate(H, b, e, r0)
		}

		damped := mat.NewDense(n, n, nil)
		damped.CloneFrom(H)
		for i := 0; i < n; i++ {
			damped.Set(i, i, damped.At(i, i)*(1+lambda))
		}

		var delta mat.VecDense
		neg := mat.NewVecDense(n, nil)
		neg.ScaleVec(-1, b)
		if err := delta.SolveVec(damped, neg); err != nil {
			lambda *= 10
			continue
		}

		backup := snapshot(vertices)
		applyDelta(vertices, &delta)

		newCost := totalCost(edges)
		if newCost < cost {
			cost = newCost
			lambda = math.Max(lambda/10, 1e-12)
		} else {
			restore(vertices, backup)
			lambda *= 10
		}
	}
}

func residual(e *edge) [6]float64 {
	predicted := e.a.localMap.WorldToRobot().Mul(e.b.localMap.RobotToWorld)
	delta := e.measurement.Inverse().Mul(predicted)
	return geometry.LogSE3(delta)
}

func totalCost(edges []*edge) float64 {
	var sum float64
	for _, e := range edges {
		r := residual(e)
		for _, v := range r {
			sum += e.information * v * v
		}
	}
	return sum
}

const jacobianEpsilon = 1e-6

// accumulate adds edge e's contribution to the global normal equations,
// central-differencing e's own residual (measurement included) over each
// free endpoint vertex's 6-dim perturbation.
func accumulate(H *mat.Dense, b *mat.VecDense, e *edge, r0 [6]float64) {
	type perturbed struct {
		v   *vertex
		col int // starting column (6*varIndex) in the global system
	}
	var free []perturbed
	if !e.a.fixed {
		free = append(free, perturbed{e.a, 6 * e.a.varIndex})
	}
	if !e.b.fixed {
		free = append(free, perturbed{e.b, 6 * e.b.varIndex})
	}
	if len(free) == 0 {
		return
	}

	// J has 6 rows (residual) x 6*len(free) columns.
	jac := make([][6]float64, 6*len(free))
	for fi, p := range free {
		original := p.v.localMap.RobotToWorld
		for k := 0; k < 6; k++ {
			var xiPlus, xiMinus [6]float64
			xiPlus[k] = jacobianEpsilon
			xiMinus[k] = -jacobianEpsilon

			p.v.localMap.SetRobotToWorld(geometry.ExpSE3(xiPlus).Mul(original))
			rPlus := residual(e)
			p.v.localMap.SetRobotToWorld(geometry.ExpSE3(xiMinus).Mul(original))
			rMinus := residual(e)
			p.v.localMap.SetRobotToWorld(original)

			col := fi*6 + k
			for row := 0; row < 6; row++ {
				jac[col][row] = (rPlus[row] - rMinus[row]) / (2 * jacobianEpsilon)
			}
		}
	}

	numCols := 6 * len(free)
	for ci := 0; ci < numCols; ci++ {
		for cj := 0; cj < numCols; cj++ {
			var sum float64
			for row := 0; row < 6; row++ {
				sum += jac[ci][row] * jac[cj][row]
			}
			gi := free[ci/6].col + ci%6
			gj := free[cj/6].col + cj%6
			H.Set(gi, gj, H.At(gi, gj)+e.information*sum)
		}
		var sumB float64
		for row := 0; row < 6; row++ {
			sumB += jac[ci][row] * r0[row]
		}
		gi := free[ci/6].col + ci%6
		b.SetVec(gi, b.AtVec(gi)+e.information*sumB)
	}
}

type poseSnapshot struct {
	v    *vertex
	pose geometry.Pose
}

func snapshot(vertices []*vertex) []poseSnapshot {
	s := make([]poseSnapshot, 0, len(vertices))
	for _, v := range vertices {
		if !v.fixed {
			s = append(s, poseSnapshot{v: v, pose: v.localMap.RobotToWorld})
		}
	}
	return s
}

func restore(vertices []*vertex, backup []poseSnapshot) {
	for _, s := range backup {
		s.v.localMap.SetRobotToWorld(s.pose)
	}
}

func applyDelta(vertices []*vertex, delta *mat.VecDense) {
	for _, v := range vertices {
		if v.fixed {
			continue
		}
		var xi [6]float64
		for k := 0; k < 6; k++ {
			xi[k] = delta.AtVec(6*v.varIndex + k)
		}
		v.localMap.SetRobotToWorld(geometry.ExpSE3(xi).Mul(v.localMap.RobotToWorld))
	}
}

// refreshLandmarks recomputes every local-map item's landmark world
// coordinates through the corrected pose, using the sealing-time-immutable
// item robot coordinates.
func (g *GraphOptimizer) refreshLandmarks(wm *worldmap.WorldMap) {
	for _, lm := range wm.LocalMaps() {
		for _, item := range lm.LocalMap().Items {
			item.Landmark.SetWorldCoordinates(lm.RobotToWorld.Apply(item.RobotCoordinates))
			item.Landmark.IsOptimized = true
			item.Landmark.IsClosed = true
		}
	}
}
