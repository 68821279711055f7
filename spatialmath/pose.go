package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation followed by a translation. Applied to a point p it yields
// R*p + t. Pose values are immutable; every operation returns a new Pose.
type Pose struct {
	orientation quat.Number
	point       r3.Vector
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{orientation: IdentityQuat()}
}

// NewPose returns a pose with the given translation and rotation. The rotation is normalized.
func NewPose(point r3.Vector, orientation quat.Number) Pose {
	return Pose{orientation: Normalize(orientation), point: point}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return Pose{orientation: IdentityQuat(), point: point}
}

// NewPoseFromRPY returns the rigid transform built from roll, pitch, yaw (radians) and a
// translation (x, y, z).
func NewPoseFromRPY(roll, pitch, yaw, x, y, z float64) Pose {
	ea := EulerAngles{Roll: roll, Pitch: pitch, Yaw: yaw}
	return NewPose(r3.Vector{X: x, Y: y, Z: z}, ea.Quaternion())
}

// Point returns the translation of the pose.
func (p Pose) Point() r3.Vector {
	return p.point
}

// Orientation returns the rotation of the pose as a unit quaternion.
func (p Pose) Orientation() quat.Number {
	if p.orientation == (quat.Number{}) {
		return IdentityQuat()
	}
	return p.orientation
}

// EulerAngles returns the rotation of the pose as roll, pitch and yaw.
func (p Pose) EulerAngles() *EulerAngles {
	return QuatToEulerAngles(p.Orientation())
}

// Transform applies the pose to a point: R*v + t.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	return RotateVector(p.Orientation(), v).Add(p.point)
}

// Compose returns a*b, the transform that applies b first and then a.
func Compose(a, b Pose) Pose {
	return Pose{
		orientation: Normalize(quat.Mul(a.Orientation(), b.Orientation())),
		point:       a.Transform(b.point),
	}
}

// PoseInverse returns the inverse transform of p.
func PoseInverse(p Pose) Pose {
	inv := quat.Conj(p.Orientation())
	return Pose{orientation: inv, point: RotateVector(inv, p.point).Mul(-1)}
}

// PoseBetween returns the transform delta such that Compose(a, delta) == b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// Interpolate returns the pose a fraction `by` of the way from a to b: orientation via slerp and
// position via linear interpolation. by is clamped to [0, 1].
func Interpolate(a, b Pose, by float64) Pose {
	by = math.Max(0, math.Min(1, by))
	return Pose{
		orientation: Slerp(a.Orientation(), b.Orientation(), by),
		point:       a.point.Add(b.point.Sub(a.point).Mul(by)),
	}
}

// PoseAlmostEqual reports whether two poses are within `epsilon` in translation and rotation
// angle (radians).
func PoseAlmostEqual(a, b Pose, epsilon float64) bool {
	return a.point.Sub(b.point).Norm() <= epsilon && QuatAlmostEqual(a.Orientation(), b.Orientation(), epsilon)
}

// IsFinite reports whether every component of the pose is a finite number.
func (p Pose) IsFinite() bool {
	o := p.Orientation()
	for _, v := range []float64{o.Real, o.Imag, o.Jmag, o.Kmag, p.point.X, p.point.Y, p.point.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (p Pose) String() string {
	ea := p.EulerAngles()
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f Roll:%.4f Pitch:%.4f Yaw:%.4f}",
		p.point.X, p.point.Y, p.point.Z, ea.Roll, ea.Pitch, ea.Yaw)
}
