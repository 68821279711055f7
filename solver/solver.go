// Package solver implements the nonlinear least-squares minimizers used by the calibration
// stages. A Problem is a vector of residuals over a parameter vector; solvers minimize half the
// squared norm of the residuals.
package solver

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrMaxIterations is returned when a solve stops at its iteration limit before converging.
	ErrMaxIterations = errors.New("solver reached the maximum number of iterations")
	// ErrDiverged is returned when a solve produces a non-finite cost or ends above its initial cost.
	ErrDiverged = errors.New("solver diverged")
)

// Problem describes a least-squares problem with NumResiduals residuals.
type Problem struct {
	NumResiduals int
	// Func writes the residuals at x into dst.
	Func func(dst, x []float64)
	// Jac writes the NumResiduals x len(x) Jacobian at x into dst. When nil, a central finite
	// difference Jacobian is used.
	Jac func(dst *mat.Dense, x []float64)
}

// Settings control termination of a solve.
type Settings struct {
	MaxIterations int
	// FunctionTolerance stops when the relative cost decrease of an accepted step falls below it.
	FunctionTolerance float64
	// GradientTolerance stops when the max-norm of the gradient falls below it.
	GradientTolerance float64
	// ParameterTolerance stops when the step is small relative to the parameters.
	ParameterTolerance float64
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations:      100,
		FunctionTolerance:  1e-10,
		GradientTolerance:  1e-12,
		ParameterTolerance: 1e-10,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.MaxIterations <= 0 {
		s.MaxIterations = def.MaxIterations
	}
	if s.FunctionTolerance <= 0 {
		s.FunctionTolerance = def.FunctionTolerance
	}
	if s.GradientTolerance <= 0 {
		s.GradientTolerance = def.GradientTolerance
	}
	if s.ParameterTolerance <= 0 {
		s.ParameterTolerance = def.ParameterTolerance
	}
	return s
}

// Result is the outcome of a solve. It is returned alongside ErrMaxIterations and ErrDiverged so
// callers can log diagnostics.
type Result struct {
	X           []float64
	InitialCost float64
	FinalCost   float64
	Iterations  int
	Converged   bool
}

// A Solver minimizes a least-squares Problem starting from x0.
type Solver interface {
	Solve(ctx context.Context, p Problem, x0 []float64) (*Result, error)
}

// Cost returns half the squared norm of the residuals at x.
func (p Problem) Cost(x []float64) float64 {
	r := make([]float64, p.NumResiduals)
	p.Func(r, x)
	return 0.5 * floats.Dot(r, r)
}

func (p Problem) validate(x0 []float64) error {
	if p.Func == nil {
		return errors.New("problem has no residual function")
	}
	if p.NumResiduals <= 0 {
		return errors.Errorf("problem must have at least one residual, got %d", p.NumResiduals)
	}
	if len(x0) == 0 {
		return errors.New("problem must have at least one parameter")
	}
	return nil
}

func (p Problem) jacobian(dst *mat.Dense, x []float64) {
	if p.Jac != nil {
		p.Jac(dst, x)
		return
	}
	fd.Jacobian(dst, p.Func, x, &fd.JacobianSettings{
		Formula: fd.Central,
	})
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
