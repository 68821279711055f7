package solver

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultInitialDamping = 1e-3
	minDamping            = 1e-15
	maxDamping            = 1e16
	minDiagonal           = 1e-9
)

// LevenbergMarquardt is a trust-region least-squares solver. Each iteration solves the damped
// normal equations (JᵀJ + λ·diag(JᵀJ)) δ = -Jᵀr and only accepts steps that lower the cost; a
// rejected step grows λ, shrinking the effective trust region.
type LevenbergMarquardt struct {
	Settings       Settings
	InitialDamping float64
}

// NewLevenbergMarquardt returns a LevenbergMarquardt solver using the given settings.
func NewLevenbergMarquardt(settings Settings) *LevenbergMarquardt {
	return &LevenbergMarquardt{Settings: settings, InitialDamping: defaultInitialDamping}
}

// Solve minimizes the problem starting from x0. x0 is not modified.
func (lm *LevenbergMarquardt) Solve(ctx context.Context, p Problem, x0 []float64) (*Result, error) {
	if err := p.validate(x0); err != nil {
		return nil, err
	}
	settings := lm.Settings.withDefaults()
	lambda := lm.InitialDamping
	if lambda <= 0 {
		lambda = defaultInitialDamping
	}

	n, m := len(x0), p.NumResiduals
	x := append([]float64(nil), x0...)
	r := make([]float64, m)
	p.Func(r, x)
	cost := 0.5 * floats.Dot(r, r)

	res := &Result{X: x, InitialCost: cost, FinalCost: cost}
	if !isFinite(cost) {
		return res, ErrDiverged
	}
	if cost == 0 {
		res.Converged = true
		return res, nil
	}

	jac := mat.NewDense(m, n, nil)
	jtj := mat.NewSymDense(n, nil)
	grad := mat.NewVecDense(n, nil)
	step := mat.NewVecDense(n, nil)
	xNew := make([]float64, n)
	rNew := make([]float64, m)

	for iter := 0; iter < settings.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Iterations = iter + 1

		p.jacobian(jac, x)
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))
		if mat.Norm(grad, math.Inf(1)) <= settings.GradientTolerance {
			res.Converged = true
			return res, nil
		}

		for {
			damped := mat.NewSymDense(n, nil)
			damped.CopySym(jtj)
			for i := 0; i < n; i++ {
				d := math.Max(jtj.At(i, i), minDiagonal)
				damped.SetSym(i, i, jtj.At(i, i)+lambda*d)
			}

			var chol mat.Cholesky
			if !chol.Factorize(damped) || chol.SolveVecTo(step, grad) != nil {
				lambda *= 10
				if lambda > maxDamping {
					return res, ErrDiverged
				}
				continue
			}

			for i := range xNew {
				xNew[i] = x[i] - step.AtVec(i)
			}
			p.Func(rNew, xNew)
			costNew := 0.5 * floats.Dot(rNew, rNew)

			if !isFinite(costNew) || costNew >= cost {
				lambda *= 10
				if lambda > maxDamping {
					// No step in any direction lowers the cost: x is a local minimum.
					res.Converged = true
					return res, nil
				}
				continue
			}

			decrease := cost - costNew
			oldCost := cost
			copy(x, xNew)
			copy(r, rNew)
			cost = costNew
			res.FinalCost = cost
			lambda = math.Max(lambda/10, minDamping)

			stepNorm := floats.Norm(step.RawVector().Data, 2)
			if cost == 0 ||
				decrease <= settings.FunctionTolerance*oldCost ||
				stepNorm <= settings.ParameterTolerance*(floats.Norm(x, 2)+settings.ParameterTolerance) {
				res.Converged = true
				return res, nil
			}
			break
		}
	}

	return res, ErrMaxIterations
}
