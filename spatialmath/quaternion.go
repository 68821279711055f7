// Package spatialmath defines the rigid transforms and rotation helpers used by the calibration
// backend. Rotations are unit quaternions (gonum num/quat) and points are r3 vectors.
package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

const radToDeg = 180 / math.Pi

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * radToDeg
}

// IdentityQuat is the quaternion representing no rotation.
func IdentityQuat() quat.Number {
	return quat.Number{Real: 1}
}

// Norm returns the norm of the imaginary part of the quaternion.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// Normalize returns q scaled to unit length. A zero quaternion normalizes to the identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return IdentityQuat()
	}
	return quat.Scale(1/n, q)
}

// QuatToAngle returns the rotation angle of q in [0, pi].
func QuatToAngle(q quat.Number) float64 {
	q = Normalize(q)
	return 2 * math.Atan2(Norm(q), math.Abs(q.Real))
}

// QuatAlmostEqual reports whether two quaternions represent the same rotation within tol. q and -q
// are the same rotation.
func QuatAlmostEqual(a, b quat.Number, tol float64) bool {
	return QuatToAngle(quat.Mul(Normalize(b), quat.Conj(Normalize(a)))) <= tol
}

// RotateVector rotates v by the unit quaternion q.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// Slerp spherically interpolates between the rotations a and b along the shortest arc. by is
// clamped to [0, 1].
func Slerp(a, b quat.Number, by float64) quat.Number {
	by = math.Max(0, math.Min(1, by))
	a, b = Normalize(a), Normalize(b)
	if a.Real*b.Real+a.Imag*b.Imag+a.Jmag*b.Jmag+a.Kmag*b.Kmag < 0 {
		b = quat.Scale(-1, b)
	}
	res := mgl64.QuatSlerp(toMgl(a), toMgl(b), by)
	return Normalize(fromMgl(res))
}

func toMgl(q quat.Number) mgl64.Quat {
	return mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}
}

func fromMgl(q mgl64.Quat) quat.Number {
	return quat.Number{Real: q.W, Imag: q.V[0], Jmag: q.V[1], Kmag: q.V[2]}
}

// QuatFromRotationMatrix returns the unit quaternion of the 3x3 rotation matrix m.
func QuatFromRotationMatrix(m mat.Matrix) quat.Number {
	row := func(i int) mgl64.Vec3 {
		return mgl64.Vec3{m.At(i, 0), m.At(i, 1), m.At(i, 2)}
	}
	rot := mgl64.Mat3FromRows(row(0), row(1), row(2))
	return Normalize(fromMgl(mgl64.Mat4ToQuat(rot.Mat4())))
}
