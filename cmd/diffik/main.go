// Package main is a command line demo of the differential IK engine: it drives a frame of a JSON-described
// model to a target pose, either by stepping the engine offline or by running the control loop against a
// simulated robot.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/diffik/config"
	"go.viam.com/diffik/logging"
)

const (
	flagModel     = "model"
	flagConfig    = "config"
	flagFrame     = "frame"
	flagStart     = "start"
	flagGoal      = "goal"
	flagDebug     = "debug"
	flagLogFile   = "log-file"
	flagCycles    = "cycles"
	flagTolerance = "tolerance"
	flagPlot      = "plot"
	flagDuration  = "duration"
)

func main() {
	var (
		logger  logging.Logger
		logFile io.Closer
	)

	app := &cli.App{
		Name:  "diffik",
		Usage: "drive a robot frame to a target pose with differential inverse kinematics",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagModel,
				Aliases:  []string{"m"},
				Usage:    "load the robot model from JSON `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load engine configuration from JSON `FILE`",
			},
			&cli.StringFlag{
				Name:  flagFrame,
				Value: "ee_link",
				Usage: "frame to drive",
			},
			&cli.Float64SliceFlag{
				Name:  flagStart,
				Usage: "start configuration, neutral when unset",
			},
			&cli.Float64SliceFlag{
				Name:  flagGoal,
				Usage: "configuration whose frame pose is the target",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotated every 10MB",
			},
		},
		Before: func(c *cli.Context) error {
			level := logging.INFO
			if c.Bool(flagDebug) {
				level = logging.DEBUG
			}
			logger = logging.NewLogger("diffik", level, logging.NewStdoutAppender())
			if path := c.String(flagLogFile); path != "" {
				appender, closer := logging.NewFileAppender(path, 10)
				logger.AddAppender(appender)
				logFile = closer
			}
			logging.ReplaceGlobal(logger)
			return nil
		},
		After: func(c *cli.Context) error {
			if logFile == nil {
				return nil
			}
			return logFile.Close()
		},
		Commands: []*cli.Command{
			{
				Name:  "describe",
				Usage: "print the joints of the model and the limits the engine enforces",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c, logger)
					if err != nil {
						return err
					}
					return describe(c.App.Writer, cfg, logger, c.String(flagModel))
				},
			},
			{
				Name:  "reach",
				Usage: "step the engine offline until the frame reaches the target",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagCycles, Value: 200, Usage: "maximum number of cycles"},
					&cli.Float64Flag{Name: flagTolerance, Value: 1e-4, Usage: "task error norm to stop at"},
					&cli.StringFlag{Name: flagPlot, Usage: "write the convergence plot to PNG `FILE`"},
				},
				Action: func(c *cli.Context) error {
					s, err := newSetup(c, logger)
					if err != nil {
						return err
					}
					res, err := reach(c.Context, s, c.Int(flagCycles), c.Float64(flagTolerance))
					if err != nil {
						return err
					}
					printf(c, "%s after %d cycles, error %.3g\n", res.status(), len(res.errors)-1, res.final())
					printf(c, "configuration %v\n", res.q)
					if path := c.String(flagPlot); path != "" {
						if err := savePlot(path, res.errors, s.cfg.Dt); err != nil {
							return err
						}
						printf(c, "wrote %s\n", path)
					}
					return nil
				},
			},
			{
				Name:  "simulate",
				Usage: "run the control loop in real time against a simulated robot",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: flagDuration, Value: 2 * time.Second, Usage: "how long to run"},
				},
				Action: func(c *cli.Context) error {
					s, err := newSetup(c, logger)
					if err != nil {
						return err
					}
					ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
					defer cancel()
					stats, q, err := simulate(ctx, s, c.Duration(flagDuration))
					if err != nil {
						return err
					}
					printf(c, "%d cycles (%d overran), mean %v, p95 %v, max %v\n",
						stats.Cycles, stats.Overruns, stats.Mean, stats.P95, stats.Max)
					printf(c, "configuration %v\n", q)
					return nil
				},
			},
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printf(c *cli.Context, format string, args ...interface{}) {
	fmt.Fprintf(c.App.Writer, format, args...)
}

// loadConfig reads the config file named by the global flags, or the environment when there is none, and
// applies its log level.
func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String(flagConfig); path != "" {
		cfg, err = config.Read(path)
	} else {
		cfg, err = config.New()
		if err == nil {
			err = cfg.Validate("environment")
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}
	logger.SetLevel(cfg.Level())
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	return cfg, nil
}

// newSetup reads the config and model named by the global flags.
func newSetup(c *cli.Context, logger logging.Logger) (*setup, error) {
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return nil, err
	}
	return loadSetup(cfg, logger, c.String(flagModel), c.String(flagFrame), c.Float64Slice(flagStart), c.Float64Slice(flagGoal))
}
