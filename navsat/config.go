package navsat

import (
	"github.com/pkg/errors"

	"go.viam.com/navcal/solver"
)

// Config holds the data sufficiency thresholds of the calibration stages.
type Config struct {
	// MinInitPairs is the number of keyframe/fix correspondences needed before initializing.
	MinInitPairs int `json:"min_init_pairs"`
	// MinInitDistance is the distance in metres the navsat track must span before initializing.
	MinInitDistance float64 `json:"min_init_distance"`
	// MaxInitRMS is the largest per correspondence residual RMS in metres an initialization may
	// leave. A worse fit is rejected and initialization is retried later.
	MaxInitRMS float64 `json:"max_init_rms"`
	// MinStagePairs is the number of correspondences a refinement stage needs.
	MinStagePairs int `json:"min_stage_pairs"`
	// RPInterval is the time in seconds between roll/pitch refinements.
	RPInterval float64 `json:"rp_interval"`
	// MinHeadingChange is the accumulated heading change in radians that triggers a yaw refinement.
	MinHeadingChange float64 `json:"min_heading_change"`
	// MinTravel is the path length in metres that triggers a forward offset refinement.
	MinTravel float64 `json:"min_travel"`
	// MaxFixGap is how far in seconds the nearest raw fix may be from a keyframe for the keyframe
	// to count as covered.
	MaxFixGap float64 `json:"max_fix_gap"`
	// MinCoverage is the fraction of covered keyframes a window needs to be marked finished.
	MinCoverage   float64 `json:"min_coverage"`
	Solver        string  `json:"solver"`
	MaxIterations int     `json:"max_iterations"`
}

// DefaultConfig returns the thresholds used when a config leaves them unset.
func DefaultConfig() Config {
	return Config{
		MinInitPairs:     3,
		MinInitDistance:  20,
		MaxInitRMS:       5,
		MinStagePairs:    3,
		RPInterval:       5,
		MinHeadingChange: 0.5,
		MinTravel:        20,
		MaxFixGap:        1,
		MinCoverage:      0.5,
		Solver:           solver.BackendLevenbergMarquardt,
		MaxIterations:    100,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	switch {
	case cfg.MinInitPairs < 2:
		return errors.Errorf("%s: min_init_pairs must be at least 2, got %d", path, cfg.MinInitPairs)
	case cfg.MinStagePairs < 1:
		return errors.Errorf("%s: min_stage_pairs must be at least 1, got %d", path, cfg.MinStagePairs)
	case cfg.MinInitDistance < 0:
		return errors.Errorf("%s: min_init_distance cannot be negative", path)
	case cfg.MaxInitRMS <= 0:
		return errors.Errorf("%s: max_init_rms must be positive", path)
	case cfg.RPInterval < 0:
		return errors.Errorf("%s: rp_interval cannot be negative", path)
	case cfg.MinHeadingChange < 0:
		return errors.Errorf("%s: min_heading_change cannot be negative", path)
	case cfg.MinTravel < 0:
		return errors.Errorf("%s: min_travel cannot be negative", path)
	case cfg.MaxFixGap <= 0:
		return errors.Errorf("%s: max_fix_gap must be positive", path)
	case cfg.MinCoverage < 0 || cfg.MinCoverage > 1:
		return errors.Errorf("%s: min_coverage must be between 0 and 1, got %v", path, cfg.MinCoverage)
	case cfg.MaxIterations < 0:
		return errors.Errorf("%s: max_iterations cannot be negative", path)
	}
	if _, err := cfg.newSolver(); err != nil {
		return errors.Wrap(err, path)
	}
	return nil
}

func (cfg *Config) newSolver() (solver.Solver, error) {
	settings := solver.DefaultSettings()
	if cfg.MaxIterations > 0 {
		settings.MaxIterations = cfg.MaxIterations
	}
	return solver.New(cfg.Solver, settings)
}
