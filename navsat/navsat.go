// Package navsat calibrates the extrinsic transform between the SLAM world frame and the frame of
// an absolute position sensor (a "navsat", e.g. GPS).
//
// Calibration is staged. A coarse initialization solves rotation plus a forward translation once
// the platform has moved far enough, after which roll/pitch, yaw and the forward offset are each
// refined in place whenever enough new data has accumulated for that degree of freedom.
package navsat

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/navcal/logging"
	"go.viam.com/navcal/slam"
	"go.viam.com/navcal/solver"
	"go.viam.com/navcal/spatialmath"
)

// KeyFrameSource supplies keyframes in ascending time order. *slam.Map implements it.
type KeyFrameSource interface {
	GetKeyFrames(start, end float64, num int) []slam.KeyFrame
}

// AlignmentState is the estimator's current calibration. Transform maps anchored navsat
// positions into the SLAM world frame.
type AlignmentState struct {
	Transform spatialmath.Pose
	// Offset is the total forward offset applied by the X stage. It is already part of Transform.
	Offset      float64
	Initialized bool
	// Finished is the time up to which data has been incorporated. It never decreases.
	Finished float64
	// Fix is the raw navsat position captured at initialization that anchors the navsat frame.
	Fix r3.Vector

	LastRP  float64
	LastYaw float64
	LastX   float64
}

func initialState() AlignmentState {
	return AlignmentState{Transform: spatialmath.NewZeroPose()}
}

// Navsat is the alignment estimator for one absolute position device. It owns the device's raw
// fix buffer and reads keyframes from a KeyFrameSource it does not own.
type Navsat struct {
	buffer *Buffer
	frames KeyFrameSource
	solver solver.Solver
	cfg    Config
	logger logging.Logger

	optimizeMu sync.Mutex
	stateMu    sync.RWMutex
	state      AlignmentState
}

// New returns an uninitialized estimator reading keyframes from frames.
func New(frames KeyFrameSource, cfg Config, logger logging.Logger) (*Navsat, error) {
	if err := cfg.Validate("navsat"); err != nil {
		return nil, err
	}
	s, err := cfg.newSolver()
	if err != nil {
		return nil, err
	}
	return newNavsat(frames, cfg, s, logger), nil
}

func newNavsat(frames KeyFrameSource, cfg Config, s solver.Solver, logger logging.Logger) *Navsat {
	return &Navsat{
		buffer: NewBuffer(),
		frames: frames,
		solver: s,
		cfg:    cfg,
		logger: logger,
		state:  initialState(),
	}
}

// Buffer returns the device's raw fix buffer.
func (n *Navsat) Buffer() *Buffer {
	return n.buffer
}

// AddPoint records a raw fix in the sensor's native frame. Fixes with a NaN or infinite time are
// dropped.
func (n *Navsat) AddPoint(time, x, y, z float64) {
	if err := n.buffer.AddPoint(time, r3.Vector{X: x, Y: y, Z: z}); err != nil {
		n.logger.Debugw("dropping fix", "time", time, "error", err)
	}
}

// GetRawPoint returns the raw fix nearest to time.
func (n *Navsat) GetRawPoint(time float64) (r3.Vector, error) {
	return n.buffer.GetRawPoint(time)
}

// GetAroundPoint returns the raw position at time, interpolated between bracketing fixes.
func (n *Navsat) GetAroundPoint(time float64) (r3.Vector, error) {
	return n.buffer.GetAroundPoint(time)
}

// GetPoint returns the anchored navsat position at time: the interpolated raw position minus the
// anchor fix captured at initialization.
func (n *Navsat) GetPoint(time float64) (r3.Vector, error) {
	p, err := n.buffer.GetAroundPoint(time)
	if err != nil {
		return r3.Vector{}, err
	}
	return p.Sub(n.State().Fix), nil
}

// GetFixPoint predicts the raw navsat position of a keyframe by mapping its world position
// through the inverse of the current transform.
func (n *Navsat) GetFixPoint(frame slam.KeyFrame) r3.Vector {
	state := n.State()
	return spatialmath.PoseInverse(state.Transform).Transform(frame.Position()).Add(state.Fix)
}

// State returns a copy of the current alignment state.
func (n *Navsat) State() AlignmentState {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.state
}

// Transform returns the current extrinsic transform.
func (n *Navsat) Transform() spatialmath.Pose {
	return n.State().Transform
}

// Finished returns the time up to which data has been incorporated.
func (n *Navsat) Finished() float64 {
	return n.State().Finished
}

// Reset returns the estimator to its uninitialized state and drops every raw fix.
func (n *Navsat) Reset() {
	n.optimizeMu.Lock()
	defer n.optimizeMu.Unlock()
	n.buffer.Reset()
	n.commit(initialState())
}

func (n *Navsat) commit(state AlignmentState) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.state = state
}

type stage struct {
	name string
	run  func(ctx context.Context, state AlignmentState, time float64) (AlignmentState, bool, error)
}

// Optimize incorporates data up to time. It initializes the estimator once enough motion has
// been observed, then runs every refinement stage that is due in the order roll/pitch, yaw,
// forward offset. Finished advances to time when the keyframes after the last finished time are
// sufficiently covered by raw fixes; otherwise it is left alone and the caller retries later.
//
// The returned error combines the failures of individual stages. Failed stages never change the
// state; ErrInsufficientData, ErrSolverDiverged and ErrSolverMaxIterations are all retryable.
// Calls are serialized.
func (n *Navsat) Optimize(ctx context.Context, time float64) (float64, error) {
	n.optimizeMu.Lock()
	defer n.optimizeMu.Unlock()

	state := n.State()
	if math.IsNaN(time) || time < state.Finished {
		return state.Finished, nil
	}
	if err := ctx.Err(); err != nil {
		return state.Finished, err
	}

	if !state.Initialized {
		next, err := n.initialize(ctx, state, time)
		if err != nil {
			if errors.Is(err, ErrInsufficientData) {
				n.logger.Debugw("not enough data to initialize", "time", time, "reason", err)
			} else {
				n.logger.Warnw("initialization failed", "time", time, "error", err)
			}
			return state.Finished, errors.Wrap(err, "initialize")
		}
		state = next
		n.commit(state)
		n.logger.Infow("initialized", "time", time, "transform", state.Transform.String(), "fix", state.Fix)
	}

	var errs error
	for _, s := range []stage{
		{name: "roll/pitch", run: n.optimizeRP},
		{name: "yaw", run: n.optimizeYaw},
		{name: "x", run: n.optimizeX},
	} {
		next, ran, err := s.run(ctx, state, time)
		switch {
		case err != nil:
			if errors.Is(err, ErrInsufficientData) {
				n.logger.Debugw("stage skipped", "stage", s.name, "time", time, "reason", err)
			} else {
				n.logger.Warnw("stage failed, keeping previous transform", "stage", s.name, "time", time, "error", err)
			}
			errs = multierr.Append(errs, errors.Wrapf(err, "%s stage", s.name))
		case ran:
			state = next
			n.commit(state)
		}
	}

	if n.covered(state, time) {
		state.Finished = time
		n.commit(state)
	} else {
		n.logger.Debugw("window not covered by fixes, finished stalls", "finished", state.Finished, "time", time)
	}
	return state.Finished, errs
}

func (n *Navsat) initialize(ctx context.Context, state AlignmentState, time float64) (AlignmentState, error) {
	if _, _, ok := n.buffer.Span(); !ok {
		return state, errors.Wrap(ErrInsufficientData, "no raw fixes")
	}
	pairs := n.correspondences(n.keyFramesBetween(math.Inf(-1), time), r3.Vector{})
	if len(pairs) < n.cfg.MinInitPairs {
		return state, errors.Wrapf(ErrInsufficientData, "%d of %d correspondences", len(pairs), n.cfg.MinInitPairs)
	}
	extent := lo.Max(lo.Map(pairs, func(c correspondence, _ int) float64 {
		return c.navsat.Sub(pairs[0].navsat).Norm()
	}))
	if extent < n.cfg.MinInitDistance {
		return state, errors.Wrapf(ErrInsufficientData, "moved %.2fm of %.2fm", extent, n.cfg.MinInitDistance)
	}

	fix, err := n.buffer.GetRawPoint(pairs[0].time)
	if err != nil {
		return state, err
	}
	best, err := n.searchInit(ctx, pairs, state.Transform.Orientation(), fix)
	if err != nil {
		return state, err
	}
	rms := math.Sqrt(2 * best.result.FinalCost / float64(len(pairs)))
	if rms > n.cfg.MaxInitRMS {
		return state, errors.Wrapf(ErrSolverDiverged, "residual rms %.3fm above %.3fm", rms, n.cfg.MaxInitRMS)
	}
	n.logSolve("initialize", best.problem, best.result)

	// The solve maps navsat - anchor. Re-express it for positions relative to fix.
	state.Transform = spatialmath.Compose(initTransform(best.result.X), spatialmath.NewPoseFromPoint(fix.Sub(best.anchor)))
	state.Fix = fix
	state.Initialized = true
	state.LastRP, state.LastYaw, state.LastX = time, time, time
	return state, nil
}

type initCandidate struct {
	anchor  r3.Vector
	problem solver.Problem
	result  *solver.Result
}

// searchInit solves the Init model from several starting points and keeps the lowest cost. The
// navsat positions are tried both relative to fix and as they are, since only a forward
// translation can be represented. Rotations start from current and from the closed form
// alignment. An earlier candidate wins ties.
func (n *Navsat) searchInit(
	ctx context.Context,
	pairs []correspondence,
	current quat.Number,
	fix r3.Vector,
) (*initCandidate, error) {
	seeds := []quat.Number{current}
	if rotation, err := closedFormRotation(pairs); err != nil {
		n.logger.Debugw("no closed form rotation, solving from the current transform only", "error", err)
	} else {
		seeds = append(seeds, rotation)
	}
	anchors := []r3.Vector{fix}
	if fix != (r3.Vector{}) {
		anchors = append(anchors, r3.Vector{})
	}

	var best *initCandidate
	var firstErr error
	for _, anchor := range anchors {
		residuals := make([]Residual, 0, len(pairs))
		for _, c := range pairs {
			residuals = append(residuals, InitResidual{Local: c.local, Navsat: c.navsat.Sub(anchor)})
		}
		p := newProblem(residuals)
		for _, q := range seeds {
			x0 := []float64{q.Real, q.Imag, q.Jmag, q.Kmag, forwardSeed(pairs, q, anchor)}
			res, err := n.runSolver(ctx, p, x0)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if best == nil || res.FinalCost < best.result.FinalCost-1e-9*(1+best.result.FinalCost) {
				best = &initCandidate{anchor: anchor, problem: p, result: res}
			}
		}
	}
	if best == nil {
		return nil, firstErr
	}
	return best, nil
}

func (n *Navsat) optimizeRP(ctx context.Context, state AlignmentState, time float64) (AlignmentState, bool, error) {
	if time <= state.LastRP || time-state.LastRP < n.cfg.RPInterval {
		return state, false, nil
	}
	pairs, err := n.stagePairs(n.keyFramesBetween(state.LastRP, time), state.Fix)
	if err != nil {
		return state, false, err
	}
	residuals := lo.Map(pairs, func(c correspondence, _ int) Residual {
		return RPResidual{Local: c.local, Navsat: c.navsat, Base: state.Transform}
	})
	x, err := n.solve(ctx, "roll/pitch", residuals, []float64{0, 0})
	if err != nil {
		return state, false, err
	}
	state.Transform = rpTransform(state.Transform, x)
	state.LastRP = time
	return state, true, nil
}

func (n *Navsat) optimizeYaw(ctx context.Context, state AlignmentState, time float64) (AlignmentState, bool, error) {
	if time <= state.LastYaw {
		return state, false, nil
	}
	frames := n.keyFramesBetween(state.LastYaw, time)
	var turned float64
	for i := 1; i < len(frames); i++ {
		turned += math.Abs(spatialmath.WrapAngle(frames[i].Heading() - frames[i-1].Heading()))
	}
	if len(frames) < 2 || turned < n.cfg.MinHeadingChange {
		return state, false, nil
	}
	pairs, err := n.stagePairs(frames, state.Fix)
	if err != nil {
		return state, false, err
	}
	residuals := lo.Map(pairs, func(c correspondence, _ int) Residual {
		return YawResidual{Local: c.local, Navsat: c.navsat, Base: state.Transform}
	})
	x, err := n.solve(ctx, "yaw", residuals, []float64{0})
	if err != nil {
		return state, false, err
	}
	state.Transform = yawTransform(state.Transform, x)
	state.LastYaw = time
	return state, true, nil
}

func (n *Navsat) optimizeX(ctx context.Context, state AlignmentState, time float64) (AlignmentState, bool, error) {
	if time <= state.LastX {
		return state, false, nil
	}
	frames := n.keyFramesBetween(state.LastX, time)
	var travelled float64
	for i := 1; i < len(frames); i++ {
		travelled += frames[i].Position().Sub(frames[i-1].Position()).Norm()
	}
	if len(frames) < 2 || travelled < n.cfg.MinTravel {
		return state, false, nil
	}
	pairs, err := n.stagePairs(frames, state.Fix)
	if err != nil {
		return state, false, err
	}
	residuals := lo.Map(pairs, func(c correspondence, _ int) Residual {
		return XResidual{Local: c.local, Navsat: c.navsat, Base: state.Transform}
	})
	x, err := n.solve(ctx, "x", residuals, []float64{0})
	if err != nil {
		return state, false, err
	}
	state.Transform = xTransform(state.Transform, x)
	state.Offset += x[0]
	state.LastX = time
	return state, true, nil
}

func (n *Navsat) solve(ctx context.Context, name string, residuals []Residual, x0 []float64) ([]float64, error) {
	p := newProblem(residuals)
	res, err := n.runSolver(ctx, p, x0)
	if err != nil {
		return nil, err
	}
	n.logSolve(name, p, res)
	return res.X, nil
}

// runSolver solves p from x0 and accepts the result only if it converged without raising the cost.
func (n *Navsat) runSolver(ctx context.Context, p solver.Problem, x0 []float64) (*solver.Result, error) {
	res, err := n.solver.Solve(ctx, p, x0)
	if err != nil {
		return nil, solverError(err)
	}
	if !res.Converged {
		return nil, ErrSolverMaxIterations
	}
	if res.FinalCost > res.InitialCost {
		return nil, ErrSolverDiverged
	}
	return res, nil
}

func (n *Navsat) logSolve(name string, p solver.Problem, res *solver.Result) {
	summary, err := solver.Summarize(p, res.X, 3)
	if err != nil {
		return
	}
	n.logger.Infow("stage converged",
		"stage", name,
		"pairs", summary.Count,
		"iterations", res.Iterations,
		"initial_cost", res.InitialCost,
		"final_cost", res.FinalCost,
		"rms", summary.RMS,
		"median", summary.Median,
		"max", summary.Max,
	)
}

// keyFramesBetween returns the keyframes with start <= time <= end.
func (n *Navsat) keyFramesBetween(start, end float64) []slam.KeyFrame {
	return lo.Filter(n.frames.GetKeyFrames(start, end, 0), func(kf slam.KeyFrame, _ int) bool {
		return kf.Time <= end
	})
}

// hasFix reports whether a raw fix lies within MaxFixGap of time.
func (n *Navsat) hasFix(time float64) bool {
	var found bool
	n.buffer.Range(time-n.cfg.MaxFixGap, time+n.cfg.MaxFixGap, func(RawFix) bool {
		found = true
		return false
	})
	return found
}

// correspondences pairs every keyframe that has a nearby raw fix with the interpolated navsat
// position at its time, relative to anchor.
func (n *Navsat) correspondences(frames []slam.KeyFrame, anchor r3.Vector) []correspondence {
	pairs := make([]correspondence, 0, len(frames))
	for _, kf := range frames {
		if !n.hasFix(kf.Time) {
			continue
		}
		p, err := n.buffer.GetAroundPoint(kf.Time)
		if err != nil {
			continue
		}
		pairs = append(pairs, correspondence{time: kf.Time, local: kf.Position(), navsat: p.Sub(anchor)})
	}
	return pairs
}

func (n *Navsat) stagePairs(frames []slam.KeyFrame, anchor r3.Vector) ([]correspondence, error) {
	pairs := n.correspondences(frames, anchor)
	if len(pairs) < n.cfg.MinStagePairs {
		return nil, errors.Wrapf(ErrInsufficientData, "%d of %d correspondences", len(pairs), n.cfg.MinStagePairs)
	}
	return pairs, nil
}

// covered reports whether the window (Finished, time] holds at least one keyframe and enough of
// its keyframes have a raw fix nearby.
func (n *Navsat) covered(state AlignmentState, time float64) bool {
	frames := lo.Filter(n.keyFramesBetween(state.Finished, time), func(kf slam.KeyFrame, _ int) bool {
		return kf.Time > state.Finished
	})
	if len(frames) == 0 {
		return false
	}
	fixed := lo.CountBy(frames, func(kf slam.KeyFrame) bool {
		return n.hasFix(kf.Time)
	})
	return float64(fixed)/float64(len(frames)) >= n.cfg.MinCoverage
}
