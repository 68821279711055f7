package navsat

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/navcal/logging"
	"go.viam.com/navcal/slam"
)

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(DefaultConfig(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Num(), test.ShouldEqual, 0)

	_, err = r.Default()
	test.That(t, errors.Is(err, ErrUnknownDevice), test.ShouldBeTrue)

	m := slam.NewMap(slam.CapMostRecent)
	first := r.Create(m)
	second := r.Create(m)
	test.That(t, first, test.ShouldEqual, Handle(0))
	test.That(t, second, test.ShouldEqual, Handle(1))
	test.That(t, r.Num(), test.ShouldEqual, 2)

	dev, err := r.Default()
	test.That(t, err, test.ShouldBeNil)
	same, err := r.Get(first)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, same, test.ShouldEqual, dev)

	other, err := r.Get(second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, other, test.ShouldNotEqual, dev)

	// Devices keep separate fix buffers.
	dev.AddPoint(1, 1, 2, 3)
	test.That(t, dev.Buffer().Len(), test.ShouldEqual, 1)
	test.That(t, other.Buffer().Len(), test.ShouldEqual, 0)

	for _, h := range []Handle{-1, 2, 100} {
		_, err := r.Get(h)
		test.That(t, errors.Is(err, ErrUnknownDevice), test.ShouldBeTrue)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate("navsat"), test.ShouldBeNil)

	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"init pairs", func(c *Config) { c.MinInitPairs = 1 }, "min_init_pairs"},
		{"stage pairs", func(c *Config) { c.MinStagePairs = 0 }, "min_stage_pairs"},
		{"fix gap", func(c *Config) { c.MaxFixGap = 0 }, "max_fix_gap"},
		{"init rms", func(c *Config) { c.MaxInitRMS = 0 }, "max_init_rms"},
		{"coverage", func(c *Config) { c.MinCoverage = 1.5 }, "min_coverage"},
		{"travel", func(c *Config) { c.MinTravel = -1 }, "min_travel"},
		{"solver", func(c *Config) { c.Solver = "gauss" }, "unknown solver backend"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate("navsat")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errMsg)
		})
	}

	cfg.MinInitPairs = 0
	_, err := NewRegistry(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = New(slam.NewMap(slam.CapMostRecent), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
