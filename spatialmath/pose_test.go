package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// represent a 45 degree rotation around the x axis
var (
	th    = math.Pi / 4.
	q45x  = quat.Number{Real: math.Cos(th / 2.), Imag: math.Sin(th / 2.)}
	ea45x = &EulerAngles{Roll: th, Pitch: 0, Yaw: 0}
)

func TestEulerAngles(t *testing.T) {
	q := ea45x.Quaternion()
	test.That(t, q.Real, test.ShouldAlmostEqual, q45x.Real)
	test.That(t, q.Imag, test.ShouldAlmostEqual, q45x.Imag)
	test.That(t, q.Jmag, test.ShouldAlmostEqual, 0)
	test.That(t, q.Kmag, test.ShouldAlmostEqual, 0)

	ea := &EulerAngles{Roll: 0.1, Pitch: -0.2, Yaw: 2.5}
	back := QuatToEulerAngles(ea.Quaternion())
	test.That(t, back.Roll, test.ShouldAlmostEqual, ea.Roll)
	test.That(t, back.Pitch, test.ShouldAlmostEqual, ea.Pitch)
	test.That(t, back.Yaw, test.ShouldAlmostEqual, ea.Yaw)
}

func TestRotateVector(t *testing.T) {
	yaw90 := (&EulerAngles{Yaw: math.Pi / 2}).Quaternion()
	v := RotateVector(yaw90, r3.Vector{X: 1})
	test.That(t, v.X, test.ShouldAlmostEqual, 0)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1)
	test.That(t, v.Z, test.ShouldAlmostEqual, 0)

	v = RotateVector(q45x, r3.Vector{Y: 1})
	test.That(t, v.Y, test.ShouldAlmostEqual, math.Sqrt2/2)
	test.That(t, v.Z, test.ShouldAlmostEqual, math.Sqrt2/2)
}

func TestComposeAndInverse(t *testing.T) {
	a := NewPoseFromRPY(0.1, 0.2, 0.3, 1, 2, 3)
	b := NewPoseFromRPY(-0.4, 0.05, 1.2, -5, 0.5, 7)

	ab := Compose(a, b)
	p := r3.Vector{X: 0.3, Y: -1, Z: 4}
	direct := a.Transform(b.Transform(p))
	composed := ab.Transform(p)
	test.That(t, composed.Sub(direct).Norm(), test.ShouldBeLessThan, 1e-9)

	identity := Compose(a, PoseInverse(a))
	test.That(t, PoseAlmostEqual(identity, NewZeroPose(), 1e-9), test.ShouldBeTrue)

	delta := PoseBetween(a, b)
	test.That(t, PoseAlmostEqual(Compose(a, delta), b, 1e-9), test.ShouldBeTrue)
}

func TestInterpolate(t *testing.T) {
	a := NewPoseFromRPY(0, 0, 0, 0, 0, 0)
	b := NewPoseFromRPY(0, 0, math.Pi/2, 10, 0, 0)

	mid := Interpolate(a, b, 0.5)
	test.That(t, mid.Point().X, test.ShouldAlmostEqual, 5)
	test.That(t, Heading(mid.Orientation()), test.ShouldAlmostEqual, math.Pi/4)

	test.That(t, PoseAlmostEqual(Interpolate(a, b, 0), a, 1e-9), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(Interpolate(a, b, 1), b, 1e-9), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(Interpolate(a, b, 2), b, 1e-9), test.ShouldBeTrue)
}

func TestSlerpShortestArc(t *testing.T) {
	a := (&EulerAngles{Yaw: 0.1}).Quaternion()
	b := quat.Scale(-1, (&EulerAngles{Yaw: 0.3}).Quaternion())
	mid := Slerp(a, b, 0.5)
	test.That(t, Heading(mid), test.ShouldAlmostEqual, 0.2)
}

func TestZeroValuePose(t *testing.T) {
	var p Pose
	test.That(t, p.Orientation(), test.ShouldResemble, quat.Number{Real: 1})
	test.That(t, p.Transform(r3.Vector{X: 1, Y: 2, Z: 3}), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, p.IsFinite(), test.ShouldBeTrue)
}

func TestWrapAngle(t *testing.T) {
	test.That(t, WrapAngle(3*math.Pi/2), test.ShouldAlmostEqual, -math.Pi/2)
	test.That(t, WrapAngle(-3*math.Pi/2), test.ShouldAlmostEqual, math.Pi/2)
	test.That(t, WrapAngle(0.5), test.ShouldAlmostEqual, 0.5)
}

func TestQuatFromRotationMatrix(t *testing.T) {
	// Rz(90°)
	m := mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	})
	q := QuatFromRotationMatrix(m)
	test.That(t, Heading(q), test.ShouldAlmostEqual, math.Pi/2)
	test.That(t, QuatAlmostEqual(q, (&EulerAngles{Yaw: math.Pi / 2}).Quaternion(), 1e-9), test.ShouldBeTrue)

	for _, ea := range []*EulerAngles{ea45x, {Roll: 0.1, Pitch: -0.4, Yaw: 2.9}, {Yaw: math.Pi}} {
		want := ea.Quaternion()
		rows := make([]float64, 0, 9)
		for _, axis := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
			col := RotateVector(want, axis)
			rows = append(rows, col.X, col.Y, col.Z)
		}
		// rows holds the columns of the matrix, so transpose it back.
		got := QuatFromRotationMatrix(mat.NewDense(3, 3, rows).T())
		test.That(t, QuatAlmostEqual(got, want, 1e-9), test.ShouldBeTrue)
	}
}
