package geometry

import "math"

// Pose is a rigid transform. By convention a Pose named T_a_b maps points
// expressed in frame b to points expressed in frame a: a = T_a_b.Apply(b).
type Pose struct {
	R Mat3
	T Vec3
}

// Identity is the identity transform.
func Identity() Pose { return Pose{R: Identity3()} }

// Apply maps a point from this pose's source frame into its target frame.
func (p Pose) Apply(v Vec3) Vec3 {
	return p.R.MulVec(v).Add(p.T)
}

// Mul composes two transforms: (a.Mul(b)).Apply(x) == a.Apply(b.Apply(x)).
// If a is T_world_robot and b is T_robot_camera, a.Mul(b) is T_world_camera.
func (a Pose) Mul(b Pose) Pose {
	return Pose{
		R: a.R.Mul(b.R),
		T: a.R.MulVec(b.T).Add(a.T),
	}
}

// Inverse returns T_b_a given T_a_b. Cached by callers that reuse it
// repeatedly to avoid repeated inversion.
func (p Pose) Inverse() Pose {
	rt := p.R.Transpose()
	return Pose{
		R: rt,
		T: rt.MulVec(p.T).Scale(-1),
	}
}

// RotationAngle returns the rotation magnitude in radians, the quantity
// WorldMap accumulates against MinimumDegreesRotatedForLocalMap.
func (p Pose) RotationAngle() float64 {
	return rodriguesLog(p.R).Norm()
}

// ExpSE3 is the se(3) exponential map. xi = [rho; omega] where rho is the
// translation-twist component and omega the rotation-twist component, the
// ordering the pose aligner's and graph optimizer's Jacobians are built
// against.
func ExpSE3(xi [6]float64) Pose {
	omega := Vec3{xi[3], xi[4], xi[5]}
	rho := Vec3{xi[0], xi[1], xi[2]}

	theta := omega.Norm()
	r := rodrigues(omega)

	var v Mat3
	if theta < 1e-12 {
		v = Identity3()
	} else {
		axis := omega.Scale(1 / theta)
		k := skew(axis)
		k2 := k.Mul(k)
		sinT, cosT := math.Sin(theta), math.Cos(theta)
		a := sinT / theta
		b := (1 - cosT) / theta
		v = Identity3()
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				v[i][j] += b*k[i][j] + (1-a)*k2[i][j]
			}
		}
	}

	return Pose{R: r, T: v.MulVec(rho)}
}

// LogSE3 is the se(3) logarithm, the inverse of ExpSE3, used to express a
// pose delta as a 6-vector residual for the graph optimizer.
func LogSE3(p Pose) [6]float64 {
	omega := rodriguesLog(p.R)
	theta := omega.Norm()

	var vInv Mat3
	if theta < 1e-12 {
		vInv = Identity3()
	} else {
		k := skew(omega)
		k2 := k.Mul(k)
		coeff := (1 - (theta/2)/math.Tan(theta/2)) / (theta * theta)
		vInv = Identity3()
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				vInv[i][j] += -0.5*k[i][j] + coeff*k2[i][j]
			}
		}
	}
	rho := vInv.MulVec(p.T)

	return [6]float64{rho.X, rho.Y, rho.Z, omega.X, omega.Y, omega.Z}
}

// Intrinsics is a rectified pinhole camera model; a rectified stereo rig
// shares one focal length across both cameras.
type Intrinsics struct {
	FX, FY, CX, CY float64
}

// Project maps a point in the camera frame to pixel coordinates. ok is
// false if the point is behind the camera (z <= 0).
func (k Intrinsics) Project(p Vec3) (u, v float64, ok bool) {
	if p.Z <= 0 {
		return 0, 0, false
	}
	return k.FX*p.X/p.Z + k.CX, k.FY*p.Y/p.Z + k.CY, true
}

// Backproject lifts a pixel at the given depth back into the camera frame.
func (k Intrinsics) Backproject(u, v, depth float64) Vec3 {
	return Vec3{
		X: (u - k.CX) * depth / k.FX,
		Y: (v - k.CY) * depth / k.FY,
		Z: depth,
	}
}

// ToKITTIRow writes the row-major 3x4 [R|t] block KITTI trajectory files
// use: rows 0..2 of a 4x4 pose matrix, translation as the 4th column.
func (p Pose) ToKITTIRow() [12]float64 {
	return [12]float64{
		p.R[0][0], p.R[0][1], p.R[0][2], p.T.X,
		p.R[1][0], p.R[1][1], p.R[1][2], p.T.Y,
		p.R[2][0], p.R[2][1], p.R[2][2], p.T.Z,
	}
}
