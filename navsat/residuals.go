package navsat

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/navcal/solver"
	"go.viam.com/navcal/spatialmath"
)

// Residual is a 3 component error local − tf(navsat) for one correspondence, where tf is built
// from the current transform and the residual's unknown parameters.
type Residual interface {
	NumParams() int
	Evaluate(dst, params []float64)
}

// residualJacobian is implemented by residuals with a closed form derivative. dst is 3 x
// NumParams.
type residualJacobian interface {
	Jacobian(dst *mat.Dense, params []float64)
}

// correspondence pairs a keyframe position in the SLAM world frame with the anchored navsat
// position at the same time.
type correspondence struct {
	time   float64
	local  r3.Vector
	navsat r3.Vector
}

func writeResidual(dst []float64, local, predicted r3.Vector) {
	d := local.Sub(predicted)
	dst[0], dst[1], dst[2] = d.X, d.Y, d.Z
}

// InitResidual builds the transform from scratch: a rotation q (w, x, y, z, normalized before
// use) and a translation tx along x.
type InitResidual struct {
	Local, Navsat r3.Vector
}

// NumParams returns 5.
func (r InitResidual) NumParams() int { return 5 }

// Evaluate writes the residual for params (qw, qx, qy, qz, tx).
func (r InitResidual) Evaluate(dst, params []float64) {
	writeResidual(dst, r.Local, initTransform(params).Transform(r.Navsat))
}

func initTransform(params []float64) spatialmath.Pose {
	q := quat.Number{Real: params[0], Imag: params[1], Jmag: params[2], Kmag: params[3]}
	if quat.Abs(q) == 0 {
		q = spatialmath.IdentityQuat()
	}
	return spatialmath.NewPose(r3.Vector{X: params[4]}, q)
}

func initParams(transform spatialmath.Pose) []float64 {
	q := transform.Orientation()
	return []float64{q.Real, q.Imag, q.Jmag, q.Kmag, transform.Point().X}
}

// RPResidual refines tilt: tf = Base · Rpy(roll, pitch, 0).
type RPResidual struct {
	Local, Navsat r3.Vector
	Base          spatialmath.Pose
}

// NumParams returns 2.
func (r RPResidual) NumParams() int { return 2 }

// Evaluate writes the residual for params (roll, pitch).
func (r RPResidual) Evaluate(dst, params []float64) {
	writeResidual(dst, r.Local, rpTransform(r.Base, params).Transform(r.Navsat))
}

func rpTransform(base spatialmath.Pose, params []float64) spatialmath.Pose {
	return spatialmath.Compose(base, spatialmath.NewPoseFromRPY(params[0], params[1], 0, 0, 0, 0))
}

// YawResidual refines heading: tf = Base · Rpy(0, 0, yaw).
type YawResidual struct {
	Local, Navsat r3.Vector
	Base          spatialmath.Pose
}

// NumParams returns 1.
func (r YawResidual) NumParams() int { return 1 }

// Evaluate writes the residual for params (yaw).
func (r YawResidual) Evaluate(dst, params []float64) {
	writeResidual(dst, r.Local, yawTransform(r.Base, params).Transform(r.Navsat))
}

// Jacobian writes d(residual)/d(yaw) = −R_base · dRz/dyaw · navsat.
func (r YawResidual) Jacobian(dst *mat.Dense, params []float64) {
	s, c := math.Sincos(params[0])
	n := r.Navsat
	d := spatialmath.RotateVector(r.Base.Orientation(), r3.Vector{X: -s*n.X - c*n.Y, Y: c*n.X - s*n.Y})
	dst.Set(0, 0, -d.X)
	dst.Set(1, 0, -d.Y)
	dst.Set(2, 0, -d.Z)
}

func yawTransform(base spatialmath.Pose, params []float64) spatialmath.Pose {
	return spatialmath.Compose(base, spatialmath.NewPoseFromRPY(0, 0, params[0], 0, 0, 0))
}

// XResidual refines the forward offset: tf = Base · Translation(x, 0, 0).
type XResidual struct {
	Local, Navsat r3.Vector
	Base          spatialmath.Pose
}

// NumParams returns 1.
func (r XResidual) NumParams() int { return 1 }

// Evaluate writes the residual for params (x).
func (r XResidual) Evaluate(dst, params []float64) {
	writeResidual(dst, r.Local, xTransform(r.Base, params).Transform(r.Navsat))
}

// Jacobian writes d(residual)/dx = −R_base · e_x.
func (r XResidual) Jacobian(dst *mat.Dense, _ []float64) {
	d := spatialmath.RotateVector(r.Base.Orientation(), r3.Vector{X: 1})
	dst.Set(0, 0, -d.X)
	dst.Set(1, 0, -d.Y)
	dst.Set(2, 0, -d.Z)
}

func xTransform(base spatialmath.Pose, params []float64) spatialmath.Pose {
	return spatialmath.Compose(base, spatialmath.NewPoseFromPoint(r3.Vector{X: params[0]}))
}

// newProblem stacks residuals, which must share a parameter count, into one least-squares
// problem. The closed form Jacobian is used only when every residual provides one.
func newProblem(residuals []Residual) solver.Problem {
	p := solver.Problem{
		NumResiduals: 3 * len(residuals),
		Func: func(dst, x []float64) {
			for i, r := range residuals {
				r.Evaluate(dst[3*i:3*i+3], x)
			}
		},
	}

	jacobians := make([]residualJacobian, 0, len(residuals))
	for _, r := range residuals {
		j, ok := r.(residualJacobian)
		if !ok {
			return p
		}
		jacobians = append(jacobians, j)
	}
	if len(jacobians) > 0 {
		n := residuals[0].NumParams()
		p.Jac = func(dst *mat.Dense, x []float64) {
			for i, j := range jacobians {
				j.Jacobian(dst.Slice(3*i, 3*i+3, 0, n).(*mat.Dense), x)
			}
		}
	}
	return p
}
