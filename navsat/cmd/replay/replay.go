package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/navcal/config"
	"go.viam.com/navcal/logging"
	"go.viam.com/navcal/navsat"
	"go.viam.com/navcal/navsat/nmea"
	"go.viam.com/navcal/slam"
	"go.viam.com/navcal/spatialmath"
)

func replayAction(c *cli.Context) (err error) {
	logger := logging.NewLogger("replay")
	logging.ReplaceGlobal(logger)

	cfg, err := loadConfig(c.String(flagConfig), logger)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	logger.SetLevel(level)

	device, err := selectDevice(cfg, c.String(flagDevice))
	if err != nil {
		return err
	}

	nmeaLog, err := os.Open(c.String(flagNMEA))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, nmeaLog.Close())
	}()
	trajectory, err := os.Open(c.String(flagTrajectory))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, trajectory.Close())
	}()

	result, err := replay(c.Context, cfg, device, nmeaLog, trajectory, logger)
	if err != nil {
		return err
	}
	printResult(c.App.Writer, device.Name, result)
	return nil
}

func loadConfig(path string, logger logging.Logger) (*config.Config, error) {
	if path == "" {
		return config.FromReader("", strings.NewReader("{}"), logger)
	}
	return config.Read(path, logger)
}

func selectDevice(cfg *config.Config, name string) (config.DeviceConfig, error) {
	if name == "" {
		return cfg.Navsat[0], nil
	}
	device, ok := lo.Find(cfg.Navsat, func(d config.DeviceConfig) bool { return d.Name == name })
	if !ok {
		return config.DeviceConfig{}, errors.Wrapf(navsat.ErrUnknownDevice, "no navsat named %q in config", name)
	}
	return device, nil
}

type replayResult struct {
	state     navsat.AlignmentState
	keyframes int
	fixes     int64
	rejected  int64
	// first and last fix time.
	span [2]float64
	// fitRMS and fitMax describe how far each keyframe's predicted fix lands from the recorded one.
	fitRMS, fitMax float64
}

// replay feeds every fix into a fresh navsat device, then inserts the keyframes in time order and
// optimizes after each one, as the backend worker would.
func replay(
	ctx context.Context,
	cfg *config.Config,
	device config.DeviceConfig,
	nmeaLog, trajectory io.Reader,
	logger logging.Logger,
) (replayResult, error) {
	policy, err := cfg.SLAM.Policy()
	if err != nil {
		return replayResult{}, err
	}
	m := slam.NewMap(policy)
	registry, err := navsat.NewRegistry(device.ConvertedAttributes, logger)
	if err != nil {
		return replayResult{}, err
	}
	nav, err := registry.Get(registry.Create(m))
	if err != nil {
		return replayResult{}, err
	}

	driver := nmea.NewDriver(nav, logger.Sublogger("nmea"))
	if err := driver.Run(ctx, nmeaLog); err != nil {
		return replayResult{}, errors.Wrap(err, "failed to read nmea log")
	}
	keyframes, err := readTrajectory(trajectory)
	if err != nil {
		return replayResult{}, err
	}

	for _, kf := range keyframes {
		if err := m.InsertKeyFrame(kf); err != nil {
			return replayResult{}, err
		}
		if _, err := nav.Optimize(ctx, kf.Time); err != nil {
			if ctx.Err() != nil {
				return replayResult{}, ctx.Err()
			}
			logger.Debugw("optimize", "time", kf.Time, "error", err)
		}
	}

	fixes, rejected := driver.Stats()
	result := replayResult{state: nav.State(), keyframes: len(keyframes), fixes: fixes, rejected: rejected}
	if first, last, ok := nav.Buffer().Span(); ok {
		result.span = [2]float64{first, last}
	}
	if result.state.Initialized {
		result.fitRMS, result.fitMax = fitErrors(m, nav)
	}
	return result, nil
}

// fitErrors compares every keyframe's predicted fix with the interpolated recorded one.
func fitErrors(m *slam.Map, nav *navsat.Navsat) (rms, worst float64) {
	var errs []float64
	m.View(func(view slam.MapView) {
		view.AscendKeyFrames(math.Inf(-1), func(kf slam.KeyFrame) bool {
			if recorded, err := nav.GetAroundPoint(kf.Time); err == nil {
				errs = append(errs, nav.GetFixPoint(kf).Sub(recorded).Norm())
			}
			return true
		})
	})
	if len(errs) == 0 {
		return 0, 0
	}
	squares := lo.SumBy(errs, func(e float64) float64 { return e * e })
	return math.Sqrt(squares / float64(len(errs))), lo.Max(errs)
}

// readTrajectory parses keyframe rows of time,x,y,z,qw,qx,qy,qz. Lines starting with # are
// comments. Rows may appear in any order.
func readTrajectory(r io.Reader) ([]slam.KeyFrame, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = 8
	reader.TrimLeadingSpace = true

	var keyframes []slam.KeyFrame
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read trajectory")
		}
		values := make([]float64, len(record))
		for i, field := range record {
			values[i], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "trajectory row %d column %d", line, i+1)
			}
		}
		keyframes = append(keyframes, slam.KeyFrame{
			Time: values[0],
			Pose: spatialmath.NewPose(
				r3.Vector{X: values[1], Y: values[2], Z: values[3]},
				quat.Number{Real: values[4], Imag: values[5], Jmag: values[6], Kmag: values[7]},
			),
		})
	}
	// Replay in time order so optimize times never decrease.
	m := slam.NewMap(slam.CapMostRecent)
	for _, kf := range keyframes {
		if err := m.InsertKeyFrame(kf); err != nil {
			return nil, err
		}
	}
	return m.GetAllKeyFrames(), nil
}

func printResult(w io.Writer, name string, result replayResult) {
	state := result.state
	ea := state.Transform.EulerAngles()
	p := state.Transform.Point()
	fmt.Fprintf(w, "device:      %s\n", name)
	fmt.Fprintf(w, "keyframes:   %d\n", result.keyframes)
	fmt.Fprintf(w, "fixes:       %d (%d rejected) from %.3f to %.3f\n",
		result.fixes, result.rejected, result.span[0], result.span[1])
	fmt.Fprintf(w, "initialized: %t\n", state.Initialized)
	fmt.Fprintf(w, "finished:    %.3f\n", state.Finished)
	fmt.Fprintf(w, "translation: %.4f %.4f %.4f\n", p.X, p.Y, p.Z)
	fmt.Fprintf(w, "rpy (deg):   %.4f %.4f %.4f\n",
		spatialmath.RadToDeg(ea.Roll), spatialmath.RadToDeg(ea.Pitch), spatialmath.RadToDeg(ea.Yaw))
	fmt.Fprintf(w, "offset:      %.4f\n", state.Offset)
	fmt.Fprintf(w, "anchor fix:  %.4f %.4f %.4f\n", state.Fix.X, state.Fix.Y, state.Fix.Z)
	fmt.Fprintf(w, "fit error:   rms %.4f max %.4f\n", result.fitRMS, result.fitMax)
}
