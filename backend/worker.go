// Package backend runs navsat calibration off the frontend's goroutines.
package backend

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/navcal/logging"
	"go.viam.com/navcal/navsat"
	"go.viam.com/navcal/slam"
	"go.viam.com/navcal/utils"
)

// DefaultInterval is how often the worker optimizes when no keyframes arrive.
const DefaultInterval = time.Second

// Optimizer incorporates data up to a time. *navsat.Navsat implements it.
type Optimizer interface {
	Optimize(ctx context.Context, time float64) (float64, error)
}

// KeyFrameStore is the part of *slam.Map the worker uses.
type KeyFrameStore interface {
	LastKeyFrame() (slam.KeyFrame, bool)
	OnInsert(fn func(slam.KeyFrame))
}

// Config configures a Worker.
type Config struct {
	Interval time.Duration
	Clock    clock.Clock
}

// Stats describes the work done so far.
type Stats struct {
	Runs            int64
	Failures        int64
	Finished        float64
	AverageDuration time.Duration
}

// Worker calls Optimize with the latest keyframe time on a dedicated goroutine, on every
// keyframe insertion and on a fixed interval. Insertions that arrive while an optimization is
// running are coalesced into one follow-up run.
type Worker struct {
	optimizer Optimizer
	store     KeyFrameStore
	clk       clock.Clock
	logger    logging.Logger

	trigger chan struct{}
	workers utils.StoppableWorkers

	runs      atomic.Int64
	failures  atomic.Int64
	finished  atomic.Float64
	durations *utils.RollingAverage
}

// NewWorker starts a worker. Close must be called to stop it.
func NewWorker(optimizer Optimizer, store KeyFrameStore, cfg Config, logger logging.Logger) *Worker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	w := &Worker{
		optimizer: optimizer,
		store:     store,
		clk:       clk,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
		durations: utils.NewRollingAverage(20),
	}
	store.OnInsert(func(slam.KeyFrame) { w.Notify() })

	ticker := clk.Ticker(interval)
	w.workers = utils.NewStoppableWorkers(context.Background(), func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-w.trigger:
			}
			w.optimizeOnce(ctx)
		}
	})
	return w
}

// Notify asks for an optimization as soon as the worker is free. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Worker) optimizeOnce(ctx context.Context) {
	last, ok := w.store.LastKeyFrame()
	if !ok {
		return
	}

	start := w.clk.Now()
	stopSlowLogger := utils.SlowLogger(ctx, w.clk, "calibration still running", w.logger, "time", last.Time)
	finished, err := w.optimizer.Optimize(ctx, last.Time)
	stopSlowLogger()
	w.durations.Add(w.clk.Since(start))
	w.runs.Inc()
	w.finished.Store(finished)

	switch {
	case err == nil:
	case errors.Is(err, navsat.ErrInsufficientData) && !errors.Is(err, navsat.ErrSolverDiverged) &&
		!errors.Is(err, navsat.ErrSolverMaxIterations):
		w.logger.Debugw("waiting for more data", "time", last.Time, "finished", finished, "reason", err)
	case ctx.Err() != nil:
	default:
		w.failures.Inc()
		w.logger.Warnw("calibration failed", "time", last.Time, "finished", finished, "error", err)
	}
}

// Stats returns counters describing the worker's progress.
func (w *Worker) Stats() Stats {
	return Stats{
		Runs:            w.runs.Load(),
		Failures:        w.failures.Load(),
		Finished:        w.finished.Load(),
		AverageDuration: w.durations.Average(),
	}
}

// Close stops the worker and waits for a running optimization to return.
func (w *Worker) Close() {
	w.workers.Stop()
}
