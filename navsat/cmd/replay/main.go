// Package main replays a recorded NMEA log and a keyframe trajectory through the navsat
// calibration and prints the resulting extrinsic transform.
package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"go.viam.com/navcal/logging"
)

const (
	flagConfig     = "config"
	flagNMEA       = "nmea"
	flagTrajectory = "trajectory"
	flagDevice     = "device"
	flagDebug      = "debug"
)

func main() {
	app := &cli.App{
		Name:      "replay",
		Usage:     "calibrate a navsat device against a recorded SLAM trajectory",
		UsageText: "replay --nmea <log.nmea> --trajectory <trajectory.csv> [--config <config.json>]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagConfig,
				Usage: "path to a calibration config file",
			},
			&cli.StringFlag{
				Name:     flagNMEA,
				Usage:    "NMEA log with GGA sentences",
				Required: true,
			},
			&cli.StringFlag{
				Name:     flagTrajectory,
				Usage:    "CSV of keyframes: time,x,y,z,qw,qx,qy,qz with time in seconds of the UTC day",
				Required: true,
			},
			&cli.StringFlag{
				Name:  flagDevice,
				Usage: "name of the navsat device to use from the config (defaults to the first)",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Action: replayAction,
	}

	if err := app.Run(os.Args); err != nil {
		logging.Global().Error(err)
		os.Exit(1)
	}
}
