// Package geometry implements the fixed-size SE(3) rigid-transform algebra
// the tracker, triangulator, and graph optimizer share: poses, projection,
// and the twist exponential/logarithm map used by both Gauss-Newton solvers.
package geometry

import "math"

// Vec3 is a point or direction in a named 3D frame (world, robot, camera).
type Vec3 struct {
	X, Y, Z float64
}

func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dot(b Vec3) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

func (a Vec3) Norm() float64 { return math.Sqrt(a.Dot(a)) }

func (a Vec3) Array() [3]float64 { return [3]float64{a.X, a.Y, a.Z} }

func Vec3FromArray(a [3]float64) Vec3 { return Vec3{a[0], a[1], a[2]} }
