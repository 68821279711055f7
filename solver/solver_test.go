package solver

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

// rosenbrock expressed as residuals: r = (10(y - x²), 1 - x), minimum at (1, 1).
func rosenbrock() Problem {
	return Problem{
		NumResiduals: 2,
		Func: func(dst, x []float64) {
			dst[0] = 10 * (x[1] - x[0]*x[0])
			dst[1] = 1 - x[0]
		},
	}
}

// circleFit fits a center (cx, cy) and radius to points on a circle of radius 2 around (1, -1).
func circleFit() Problem {
	var pts [][2]float64
	for i := 0; i < 12; i++ {
		a := float64(i) * math.Pi / 6
		pts = append(pts, [2]float64{1 + 2*math.Cos(a), -1 + 2*math.Sin(a)})
	}
	return Problem{
		NumResiduals: len(pts),
		Func: func(dst, x []float64) {
			for i, pt := range pts {
				dst[i] = math.Hypot(pt[0]-x[0], pt[1]-x[1]) - x[2]
			}
		},
	}
}

func TestLevenbergMarquardt(t *testing.T) {
	lm := NewLevenbergMarquardt(Settings{MaxIterations: 200})

	t.Run("rosenbrock", func(t *testing.T) {
		x0 := []float64{-1.2, 1}
		res, err := lm.Solve(context.Background(), rosenbrock(), x0)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Converged, test.ShouldBeTrue)
		test.That(t, res.X[0], test.ShouldAlmostEqual, 1, 1e-6)
		test.That(t, res.X[1], test.ShouldAlmostEqual, 1, 1e-6)
		test.That(t, res.FinalCost, test.ShouldBeLessThan, res.InitialCost)
		// x0 is left untouched.
		test.That(t, x0, test.ShouldResemble, []float64{-1.2, 1})
	})

	t.Run("circle with analytic jacobian", func(t *testing.T) {
		p := circleFit()
		var jacCalls int
		pts := make([]float64, p.NumResiduals)
		p.Jac = func(dst *mat.Dense, x []float64) {
			jacCalls++
			for i := range pts {
				a := float64(i) * math.Pi / 6
				dx, dy := 1+2*math.Cos(a)-x[0], -1+2*math.Sin(a)-x[1]
				d := math.Hypot(dx, dy)
				dst.Set(i, 0, -dx/d)
				dst.Set(i, 1, -dy/d)
				dst.Set(i, 2, -1)
			}
		}
		res, err := lm.Solve(context.Background(), p, []float64{0, 0, 1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, jacCalls, test.ShouldBeGreaterThan, 0)
		test.That(t, res.X[0], test.ShouldAlmostEqual, 1, 1e-6)
		test.That(t, res.X[1], test.ShouldAlmostEqual, -1, 1e-6)
		test.That(t, res.X[2], test.ShouldAlmostEqual, 2, 1e-6)
	})

	t.Run("already optimal", func(t *testing.T) {
		res, err := lm.Solve(context.Background(), rosenbrock(), []float64{1, 1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Converged, test.ShouldBeTrue)
		test.That(t, res.Iterations, test.ShouldEqual, 0)
	})

	t.Run("iteration limit", func(t *testing.T) {
		limited := NewLevenbergMarquardt(Settings{MaxIterations: 1})
		res, err := limited.Solve(context.Background(), rosenbrock(), []float64{-1.2, 1})
		test.That(t, errors.Is(err, ErrMaxIterations), test.ShouldBeTrue)
		test.That(t, res, test.ShouldNotBeNil)
		test.That(t, res.Converged, test.ShouldBeFalse)
	})

	t.Run("non-finite cost", func(t *testing.T) {
		p := Problem{NumResiduals: 1, Func: func(dst, x []float64) { dst[0] = math.NaN() }}
		_, err := lm.Solve(context.Background(), p, []float64{0})
		test.That(t, errors.Is(err, ErrDiverged), test.ShouldBeTrue)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := lm.Solve(ctx, rosenbrock(), []float64{-1.2, 1})
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})

	t.Run("invalid problem", func(t *testing.T) {
		_, err := lm.Solve(context.Background(), Problem{NumResiduals: 1}, []float64{0})
		test.That(t, err, test.ShouldNotBeNil)
		_, err = lm.Solve(context.Background(), rosenbrock(), nil)
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestGonum(t *testing.T) {
	g := NewGonum(Settings{MaxIterations: 500})
	res, err := g.Solve(context.Background(), circleFit(), []float64{0.5, -0.5, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Converged, test.ShouldBeTrue)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 1, 1e-4)
	test.That(t, res.X[1], test.ShouldAlmostEqual, -1, 1e-4)
	test.That(t, res.X[2], test.ShouldAlmostEqual, 2, 1e-4)
}

func TestNew(t *testing.T) {
	s, err := New("lm", DefaultSettings())
	test.That(t, err, test.ShouldBeNil)
	_, ok := s.(*LevenbergMarquardt)
	test.That(t, ok, test.ShouldBeTrue)

	s, err = New("bfgs", DefaultSettings())
	test.That(t, err, test.ShouldBeNil)
	_, ok = s.(*Gonum)
	test.That(t, ok, test.ShouldBeTrue)

	_, err = New("simplex", DefaultSettings())
	test.That(t, err, test.ShouldBeError, errors.New(`unknown solver backend "simplex"`))
}

func TestSummarize(t *testing.T) {
	p := Problem{
		NumResiduals: 6,
		Func: func(dst, x []float64) {
			copy(dst, []float64{3, 4, 0, 0, 0, x[0]})
		},
	}
	summary, err := Summarize(p, []float64{1}, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Count, test.ShouldEqual, 2)
	test.That(t, summary.Max, test.ShouldAlmostEqual, 5)
	test.That(t, summary.Median, test.ShouldAlmostEqual, 3)
	test.That(t, summary.RMS, test.ShouldAlmostEqual, math.Sqrt(13))

	_, err = Summarize(p, []float64{1}, 4)
	test.That(t, err, test.ShouldNotBeNil)
}
