// Package main runs the robot: the control loop, the scheduler and, optionally, the dashboard
// server and the autonomous routine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	_ "github.com/team3128/robot/components/motor/register"
	"github.com/team3128/robot/config"
	"github.com/team3128/robot/dashboard"
	"github.com/team3128/robot/logging"
	"github.com/team3128/robot/robot"
)

const (
	flagConfig        = "config"
	flagDebug         = "debug"
	flagLogLevel      = "log-level"
	flagDashboardAddr = "dashboard-addr"
	flagAuto          = "auto"
	flagAutoRPM       = "auto-rpm"
	flagDuration      = "duration"
)

func main() {
	logger := logging.NewLogger("robot_server")
	app := &cli.App{
		Name:  "robot_server",
		Usage: "run the robot's mechanisms",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`; the built-in simulated robot is used if unset",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "minimum `LEVEL` to log (debug, info, warn, error)",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  flagDashboardAddr,
				Usage: "serve the dashboard on `ADDR`, overriding the config",
			},
			&cli.BoolFlag{
				Name:  flagAuto,
				Usage: "run the autonomous routine once at startup",
			},
			&cli.Float64Flag{
				Name:  flagAutoRPM,
				Usage: "shooter speed used by the autonomous routine",
				Value: 4000,
			},
			&cli.DurationFlag{
				Name:  flagDuration,
				Usage: "stop after `DURATION`; runs until interrupted if zero",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger.SetLevel(logging.DEBUG)
				return nil
			}
			level, err := logging.LevelFromString(c.String(flagLogLevel))
			if err != nil {
				return err
			}
			logger.SetLevel(level)
			return nil
		},
		Action: func(c *cli.Context) error {
			return run(c, logger)
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		logger.Error(err)
	}
	//nolint:errcheck
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(c *cli.Context, logger logging.Logger) (err error) {
	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if d := c.Duration(flagDuration); d > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, d)
		defer cancelTimeout()
	}

	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		if cfg, err = config.Read(path, logger.Sublogger("config")); err != nil {
			return err
		}
	}
	if addr := c.String(flagDashboardAddr); addr != "" {
		cfg.Dashboard.Addr = addr
	}

	r, err := robot.New(ctx, cfg, clock.New(), logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		err = multierr.Combine(err, r.Close(closeCtx))
	}()

	if cfg.Dashboard.Addr != "" {
		server := dashboard.NewServer(r.Dashboard(), logger.Sublogger("dashboard"))
		server.SetTestReport(func() interface{} { return r.Tester().Report() })
		if err := server.Start(ctx, cfg.Dashboard.Addr); err != nil {
			return err
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			err = multierr.Combine(err, server.Close(closeCtx))
		}()
	}

	if err := r.Start(ctx); err != nil {
		return err
	}
	if c.Bool(flagAuto) {
		r.Schedule(ctx, r.AutoRoutine(c.Float64(flagAutoRPM), 500*time.Millisecond))
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
