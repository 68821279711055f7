// Package config reads the calibration pipeline's JSON configuration.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/navcal/backend"
	"go.viam.com/navcal/logging"
	"go.viam.com/navcal/navsat"
	"go.viam.com/navcal/navsat/nmea"
	"go.viam.com/navcal/slam"
)

// Config describes a calibration pipeline: its keyframe store, its backend worker and the navsat
// devices feeding it.
type Config struct {
	ConfigFilePath string `json:"-"`

	LogLevel string         `json:"log_level,omitempty"`
	SLAM     SLAMConfig     `json:"slam"`
	Backend  BackendConfig  `json:"backend"`
	Navsat   []DeviceConfig `json:"navsat"`
}

// SLAMConfig configures the keyframe store.
type SLAMConfig struct {
	CapPolicy string `json:"cap_policy,omitempty"`
}

// BackendConfig configures the calibration worker.
type BackendConfig struct {
	Interval string `json:"interval,omitempty"`
}

// DeviceConfig describes one navsat device. Attributes hold the navsat thresholds and are decoded
// into ConvertedAttributes by Read and FromReader.
type DeviceConfig struct {
	Name       string                 `json:"name"`
	Serial     *nmea.SerialConfig     `json:"serial,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	ConvertedAttributes navsat.Config `json:"-"`
}

// Read reads a config from the given file. Environment variables in the file are expanded.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from r. originalPath names the file r came from, if any.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	if len(cfg.Navsat) == 0 {
		logger.Info("no navsat devices configured, using one with default attributes")
		cfg.Navsat = []DeviceConfig{{Name: "navsat"}}
	}
	for i := range cfg.Navsat {
		conf, err := DecodeNavsatAttributes(cfg.Navsat[i].Attributes)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode attributes of navsat %q", cfg.Navsat[i].Name)
		}
		cfg.Navsat[i].ConvertedAttributes = conf
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DecodeNavsatAttributes decodes attributes over navsat.DefaultConfig, so missing keys keep
// their defaults. Unknown keys are an error.
func DecodeNavsatAttributes(attributes map[string]interface{}) (navsat.Config, error) {
	conf := navsat.DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &conf,
		ErrorUnused: true,
	})
	if err != nil {
		return navsat.Config{}, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return navsat.Config{}, err
	}
	return conf, nil
}

// Validate returns every problem with the config.
func (c *Config) Validate() error {
	var errs error
	if _, err := c.Level(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "log_level"))
	}
	if _, err := c.SLAM.Policy(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "slam"))
	}
	if _, err := c.Backend.IntervalDuration(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "backend"))
	}

	names := lo.Map(c.Navsat, func(d DeviceConfig, _ int) string { return d.Name })
	for _, name := range lo.FindDuplicates(names) {
		errs = multierr.Append(errs, errors.Errorf("navsat: duplicate device name %q", name))
	}
	for i, d := range c.Navsat {
		if d.Name == "" {
			errs = multierr.Append(errs, errors.Errorf("navsat.%d: name is required", i))
		}
		if err := d.ConvertedAttributes.Validate(d.Name); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Level returns the configured log level, INFO when unset.
func (c *Config) Level() (logging.Level, error) {
	if c.LogLevel == "" {
		return logging.INFO, nil
	}
	return logging.LevelFromString(c.LogLevel)
}

// Policy returns the configured keyframe cap policy.
func (c *SLAMConfig) Policy() (slam.CapPolicy, error) {
	return slam.CapPolicyFromString(c.CapPolicy)
}

// IntervalDuration returns the configured optimization interval, backend.DefaultInterval when
// unset.
func (c *BackendConfig) IntervalDuration() (time.Duration, error) {
	if c.Interval == "" {
		return backend.DefaultInterval, nil
	}
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.Errorf("interval must be positive, got %s", c.Interval)
	}
	return d, nil
}
