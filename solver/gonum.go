package solver

import (
	"context"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Gonum adapts gonum's general purpose minimizers to least-squares problems by minimizing
// ½‖r‖² with gradient Jᵀr. It defaults to BFGS.
type Gonum struct {
	Settings Settings
	Method   optimize.Method
}

// NewGonum returns a Gonum solver using BFGS.
func NewGonum(settings Settings) *Gonum {
	return &Gonum{Settings: settings}
}

// Solve minimizes the problem starting from x0. x0 is not modified.
func (g *Gonum) Solve(ctx context.Context, p Problem, x0 []float64) (*Result, error) {
	if err := p.validate(x0); err != nil {
		return nil, err
	}
	settings := g.Settings.withDefaults()
	method := g.Method
	if method == nil {
		method = &optimize.BFGS{}
	}

	n, m := len(x0), p.NumResiduals
	r := make([]float64, m)
	jac := mat.NewDense(m, n, nil)
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			p.Func(r, x)
			return 0.5 * floats.Dot(r, r)
		},
		Grad: func(grad, x []float64) {
			p.Func(r, x)
			p.jacobian(jac, x)
			mat.NewVecDense(n, grad).MulVec(jac.T(), mat.NewVecDense(m, r))
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}

	initial := problem.Func(x0)
	if !isFinite(initial) {
		return &Result{X: append([]float64(nil), x0...), InitialCost: initial, FinalCost: initial}, ErrDiverged
	}
	if initial == 0 {
		return &Result{X: append([]float64(nil), x0...), Converged: true}, nil
	}

	optResult, err := optimize.Minimize(problem, x0, &optimize.Settings{
		GradientThreshold: settings.GradientTolerance,
		MajorIterations:   settings.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   settings.FunctionTolerance * initial,
			Iterations: 10,
		},
	}, method)
	if optResult == nil {
		return nil, err
	}

	res := &Result{
		X:           optResult.X,
		InitialCost: initial,
		FinalCost:   optResult.F,
		Iterations:  optResult.Stats.MajorIterations,
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	switch optResult.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit:
		return res, ErrMaxIterations
	default:
	}
	if !isFinite(res.FinalCost) || res.FinalCost > initial {
		return res, ErrDiverged
	}
	if err != nil && optResult.Status == optimize.Failure {
		// Line search failures near the optimum still leave the best location in the result.
		if res.FinalCost >= initial {
			return res, ErrDiverged
		}
	}
	res.Converged = true
	return res, nil
}
