package navsat

import (
	"github.com/pkg/errors"

	"go.viam.com/navcal/solver"
)

var (
	// ErrUnknownDevice is returned when a registry lookup uses a handle that was never created.
	ErrUnknownDevice = errors.New("unknown navsat device")
	// ErrInsufficientData is returned when a lookup or calibration stage does not have enough
	// fixes or keyframes yet. It is not fatal: retry once more data has arrived.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidTime is returned for a fix or lookup whose time is NaN or infinite.
	ErrInvalidTime = errors.New("fix time must be finite")
	// ErrSolverDiverged is returned when a stage's solve diverged. The previous transform is kept.
	ErrSolverDiverged = errors.Wrap(solver.ErrDiverged, "navsat")
	// ErrSolverMaxIterations is returned when a stage's solve hit its iteration limit. The previous
	// transform is kept.
	ErrSolverMaxIterations = errors.Wrap(solver.ErrMaxIterations, "navsat")
)

// solverError maps an error from a solver backend onto the navsat taxonomy.
func solverError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, solver.ErrDiverged):
		return ErrSolverDiverged
	case errors.Is(err, solver.ErrMaxIterations):
		return ErrSolverMaxIterations
	default:
		return err
	}
}
