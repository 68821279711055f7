package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/navcal/logging"
)

// slowLogDelays are the waits between successive warnings. The last one repeats.
var slowLogDelays = []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second}

// SlowLogger warns with msg and keysAndValues, plus the elapsed time, while an operation keeps
// running. The returned function stops the warnings and does not return until no further warning
// can be written.
func SlowLogger(ctx context.Context, clk clock.Clock, msg string, logger logging.Logger, keysAndValues ...interface{}) func() {
	start := clk.Now()
	timer := clk.Timer(slowLogDelays[0])
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for warned := 1; ; warned++ {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			timer.Reset(slowLogDelays[min(warned, len(slowLogDelays)-1)])
			fields := make([]interface{}, 0, len(keysAndValues)+2)
			fields = append(fields, keysAndValues...)
			fields = append(fields, "time_elapsed", clk.Since(start).Round(time.Second).String())
			logger.Warnw(msg, fields...)
		}
	}()

	return func() {
		cancel()
		timer.Stop()
		<-done
	}
}
