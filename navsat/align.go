package navsat

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/navcal/spatialmath"
)

// closedFormRotation returns the rotation that best maps the centered navsat positions onto the
// centered local positions (Kabsch). It seeds initialization so the solver does not have to find
// a large heading offset on its own.
func closedFormRotation(pairs []correspondence) (quat.Number, error) {
	if len(pairs) < 2 {
		return quat.Number{}, errors.Wrapf(ErrInsufficientData, "%d correspondences", len(pairs))
	}
	localMean, navsatMean := centroids(pairs)

	// cross covariance H = sum (navsat_i - navsatMean)(local_i - localMean)^T
	cov := mat.NewDense(3, 3, nil)
	for _, c := range pairs {
		a := vec(c.navsat.Sub(navsatMean))
		b := vec(c.local.Sub(localMean))
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				cov.Set(i, j, cov.At(i, j)+a[i]*b[j])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return quat.Number{}, errors.New("failed to factorize cross covariance")
	}
	const rcond = 1e-12
	if svd.Rank(rcond) == 0 {
		return quat.Number{}, errors.Wrap(ErrInsufficientData, "correspondences have no spread")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V diag(1, 1, d) U^T, with d flipping the last axis when V U^T is a reflection.
	d := 1.0
	if mat.Det(&u)*mat.Det(&v) < 0 {
		d = -1
	}
	var r mat.Dense
	r.Product(&v, mat.NewDiagDense(3, []float64{1, 1, d}), u.T())
	return spatialmath.QuatFromRotationMatrix(&r), nil
}

// forwardSeed returns the mean x component of local - R (navsat - anchor), the least squares
// forward translation for a fixed rotation.
func forwardSeed(pairs []correspondence, rotation quat.Number, anchor r3.Vector) float64 {
	var sum float64
	for _, c := range pairs {
		sum += c.local.Sub(spatialmath.RotateVector(rotation, c.navsat.Sub(anchor))).X
	}
	return sum / float64(len(pairs))
}

func centroids(pairs []correspondence) (local, navsat r3.Vector) {
	for _, c := range pairs {
		local = local.Add(c.local)
		navsat = navsat.Add(c.navsat)
	}
	n := float64(len(pairs))
	return local.Mul(1 / n), navsat.Mul(1 / n)
}

func vec(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}
