package solver

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Backend names accepted by New.
const (
	BackendLevenbergMarquardt = "lm"
	BackendBFGS               = "bfgs"
)

// New returns the solver backend registered under name.
func New(name string, settings Settings) (Solver, error) {
	switch name {
	case "", BackendLevenbergMarquardt, "levenberg_marquardt":
		return NewLevenbergMarquardt(settings), nil
	case BackendBFGS:
		return NewGonum(settings), nil
	default:
		return nil, errors.Errorf("unknown solver backend %q", name)
	}
}

// Summary describes the per-block residual norms of a problem at a point.
type Summary struct {
	Count  int
	RMS    float64
	Median float64
	Max    float64
}

// Summarize evaluates p at x and summarizes the norms of consecutive residual blocks of size
// blockSize (3 for point residuals).
func Summarize(p Problem, x []float64, blockSize int) (Summary, error) {
	if blockSize <= 0 || p.NumResiduals%blockSize != 0 {
		return Summary{}, errors.Errorf("%d residuals cannot be split into blocks of %d", p.NumResiduals, blockSize)
	}
	r := make([]float64, p.NumResiduals)
	p.Func(r, x)

	norms := make(stats.Float64Data, 0, len(r)/blockSize)
	squares := make(stats.Float64Data, 0, len(r)/blockSize)
	for i := 0; i < len(r); i += blockSize {
		var sq float64
		for _, v := range r[i : i+blockSize] {
			sq += v * v
		}
		squares = append(squares, sq)
		norms = append(norms, math.Sqrt(sq))
	}

	meanSquare, err := stats.Mean(squares)
	if err != nil {
		return Summary{}, err
	}
	median, err := stats.Median(norms)
	if err != nil {
		return Summary{}, err
	}
	maxNorm, err := stats.Max(norms)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Count: len(norms), RMS: math.Sqrt(meanSquare), Median: median, Max: maxNorm}, nil
}
