// Package nmea feeds fixes from an NMEA GPS into a navsat device.
package nmea

import (
	"bufio"
	"context"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/adrianmo/go-nmea"
	"github.com/jacobsa/go-serial/serial"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/navcal/logging"
)

const secondsPerDay = 24 * 60 * 60

var errNoFix = errors.New("gga sentence has no fix")

// Sink receives fixes in a local east/north/up frame. *navsat.Navsat implements it.
type Sink interface {
	AddPoint(time, x, y, z float64)
}

// SerialConfig describes the serial port a GPS is attached to.
type SerialConfig struct {
	SerialPath     string `json:"serial_path"`
	SerialBaudRate uint   `json:"serial_baud_rate,omitempty"`
}

// OpenSerial opens the GPS serial port. The baud rate defaults to 9600.
func OpenSerial(cfg SerialConfig) (io.ReadWriteCloser, error) {
	if cfg.SerialPath == "" {
		return nil, errors.New("expected non-empty serial_path")
	}
	baudRate := cfg.SerialBaudRate
	if baudRate == 0 {
		baudRate = 9600
	}
	return serial.Open(serial.OpenOptions{
		PortName:        cfg.SerialPath,
		BaudRate:        baudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 4,
	})
}

// Driver parses GGA sentences and hands each valid fix to its sink as east/north/up metres
// relative to the first fix it saw. Fix times are seconds since the UTC midnight of the first fix.
type Driver struct {
	sink   Sink
	logger logging.Logger

	mu        sync.Mutex
	origin    *geo.Point
	originAlt float64
	lastTime  float64
	dayOffset float64

	fixes    atomic.Int64
	rejected atomic.Int64
}

// NewDriver returns a driver writing into sink.
func NewDriver(sink Sink, logger logging.Logger) *Driver {
	return &Driver{sink: sink, logger: logger}
}

// Run reads NMEA lines from r until EOF or ctx is done. Lines that fail to parse are logged and
// skipped.
func (d *Driver) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := d.HandleLine(line); err != nil {
			d.logger.Debugf("can't parse nmea %s : %s", line, err)
		}
	}
	return scanner.Err()
}

// HandleLine parses one NMEA sentence. Sentences other than GGA are ignored.
func (d *Driver) HandleLine(line string) error {
	sentence, err := nmea.Parse(line)
	if err != nil {
		d.rejected.Inc()
		return err
	}
	if sentence.DataType() != nmea.TypeGGA {
		return nil
	}
	gga, ok := sentence.(nmea.GGA)
	if !ok {
		return nil
	}
	if !gga.Time.Valid || gga.FixQuality == nmea.Invalid {
		d.rejected.Inc()
		return errNoFix
	}

	time, east, north, up := d.project(gga)
	d.sink.AddPoint(time, east, north, up)
	d.fixes.Inc()
	return nil
}

func (d *Driver) project(gga nmea.GGA) (time, east, north, up float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	point := geo.NewPoint(gga.Latitude, gga.Longitude)
	if d.origin == nil {
		d.origin = point
		d.originAlt = gga.Altitude
		d.logger.Infow("navsat origin set", "lat", gga.Latitude, "lng", gga.Longitude, "alt", gga.Altitude)
	}

	time = float64(gga.Time.Hour*3600+gga.Time.Minute*60+gga.Time.Second) +
		float64(gga.Time.Millisecond)/1000 + d.dayOffset
	if time < d.lastTime-secondsPerDay/2 {
		d.dayOffset += secondsPerDay
		time += secondsPerDay
	}
	d.lastTime = time

	distance := d.origin.GreatCircleDistance(point) * 1000
	bearing := d.origin.BearingTo(point) * math.Pi / 180
	return time, distance * math.Sin(bearing), distance * math.Cos(bearing), gga.Altitude - d.originAlt
}

// Origin returns the geodetic point and altitude of the local frame's origin.
func (d *Driver) Origin() (*geo.Point, float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.origin, d.originAlt, d.origin != nil
}

// Stats returns the number of fixes delivered and sentences rejected.
func (d *Driver) Stats() (fixes, rejected int64) {
	return d.fixes.Load(), d.rejected.Load()
}
