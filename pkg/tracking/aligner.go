package tracking

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/itohio/proslam/pkg/geometry"
)

// Correspondence is one candidate association between a previous-frame
// track point and a current-frame observation, the aligner's unit of work.
type Correspondence struct {
	// WorldPoint is the landmark's world coordinate if the track already
	// has a landmark, else the previous framepoint's world coordinate.
	WorldPoint geometry.Vec3
	// Observed is the current frame's pixel observation u_i.
	ObservedU, ObservedV float64
}

// AlignerParams are the Gauss-Newton solve's tunables.
type AlignerParams struct {
	MaxIterations      int
	ConvergenceEpsilon float64
	HuberDeltaPixels   float64
	MinimumInlierRatio float64
	MaximumResidual    float64
}

func DefaultAlignerParams() AlignerParams {
	return AlignerParams{
		MaxIterations:      10,
		ConvergenceEpsilon: 1e-6,
		HuberDeltaPixels:   2.0,
		MinimumInlierRatio: 0.5,
		MaximumResidual:    5.0,
	}
}

// Aligner is the iterative least-squares pose solver: Gauss-Newton over a
// 6-dim twist, minimizing Huber-weighted reprojection error in the current
// left image.
type Aligner struct {
	params     AlignerParams
	intrinsics geometry.Intrinsics
}

func NewAligner(params AlignerParams, intrinsics geometry.Intrinsics) *Aligner {
	return &Aligner{params: params, intrinsics: intrinsics}
}

// Result is the aligner's verdict on one registration attempt.
type Result struct {
	Pose         geometry.Pose // T_world_to_camera (world_to_robot composed with camera extrinsic upstream)
	Inliers      []bool
	MeanResidual float64
	InlierRatio  float64
	Converged    bool
	Success      bool
}

// Align minimizes the Huber-weighted reprojection error of worldToCamera
// over correspondences, starting from initialPose. It reports
// success when the final inlier ratio and mean residual both clear the
// configured thresholds.
func (a *Aligner) Align(correspondences []Correspondence, initialPose geometry.Pose) Result {
	pose := initialPose
	if len(correspondences) == 0 {
		return Result{Pose: pose}
	}

	converged := false
	for iter := 0; iter < a.params.MaxIterations; iter++ {
		H := mat.NewDense(6, 6, nil)
		b := mat.NewVecDense(6, nil)

		for _, c := range correspondences {
			pc := pose.Apply(c.WorldPoint)
			if pc.Z <= 0 {
				continue
			}
			u, v, ok := a.intrinsics.Project(pc)
			if !ok {
				continue
			}
			ru, rv := u-c.ObservedU, v-c.ObservedV
			residualNorm := math.Hypot(ru, rv)
			w := huberWeight(residualNorm, a.params.HuberDeltaPixels)

			// dpi/dpc (2x3), dpc/dxi = [I | -skew(pc)] (3x6), chain-ruled
			// directly below rather than via an intermediate matrix
			// multiply; the analytic Jacobian is small enough to write out.
			fx, fy, z := a.intrinsics.FX, a.intrinsics.FY, pc.Z
			invZ := 1 / z
			invZ2 := invZ * invZ

			// J row for u, row for v; columns are [rho_x,rho_y,rho_z,omega_x,omega_y,omega_z]
			ju := [6]float64{
				fx * invZ, 0, -fx * pc.X * invZ2,
				-fx * pc.X * pc.Y * invZ2, fx * (1 + pc.X*pc.X*invZ2), -fx * pc.Y * invZ,
			}
			jv := [6]float64{
				0, fy * invZ, -fy * pc.Y * invZ2,
				-fy * (1 + pc.Y*pc.Y*invZ2), fy * pc.X*pc.Y*invZ2, fy * pc.X * invZ,
			}

			for r := 0; r < 6; r++ {
				for col := 0; col < 6; col++ {
					H.Set(r, col, H.At(r, col)+w*(ju[r]*ju[col]+jv[r]*jv[col]))
				}
				b.SetVec(r, b.AtVec(r)+w*(ju[r]*ru+jv[r]*rv))
			}
		}

		var delta mat.VecDense
		neg := mat.NewVecDense(6, nil)
		neg.ScaleVec(-1, b)
		if err := delta.SolveVec(H, neg); err != nil {
			break
		}

		var xi [6]float64
		for i := 0; i < 6; i++ {
			xi[i] = delta.AtVec(i)
		}
		pose = geometry.ExpSE3(xi).Mul(pose)

		if vecNorm6(xi) < a.params.ConvergenceEpsilon {
			converged = true
			break
		}
	}

	inliers := make([]bool, len(correspondences))
	residuals := make([]float64, 0, len(correspondences))
	numInliers := 0
	for i, c := range correspondences {
		pc := pose.Apply(c.WorldPoint)
		u, v, ok := a.intrinsics.Project(pc)
		if !ok {
			continue
		}
		r := math.Hypot(u-c.ObservedU, v-c.ObservedV)
		residuals = append(residuals, r)
		if r <= a.params.HuberDeltaPixels {
			inliers[i] = true
			numInliers++
		}
	}

	meanResidual := 0.0
	if len(residuals) > 0 {
		meanResidual = stat.Mean(residuals, nil)
	}
	inlierRatio := 0.0
	if len(correspondences) > 0 {
		inlierRatio = float64(numInliers) / float64(len(correspondences))
	}

	success := inlierRatio >= a.params.MinimumInlierRatio && meanResidual < a.params.MaximumResidual

	return Result{
		Pose:         pose,
		Inliers:      inliers,
		MeanResidual: meanResidual,
		InlierRatio:  inlierRatio,
		Converged:    converged,
		Success:      success,
	}
}

func huberWeight(residual, delta float64) float64 {
	if residual <= delta || residual == 0 {
		return 1
	}
	return delta / residual
}

func vecNorm6(xi [6]float64) float64 {
	var sum float64
	for _, v := range xi {
		sum += v * v
	}
	return math.Sqrt(sum)
}
