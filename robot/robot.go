// Package robot owns every mechanism on the robot. A Robot is built once at startup and its
// handles are passed to whoever needs them; nothing is looked up globally.
package robot

import (
	"context"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/team3128/robot/command"
	"github.com/team3128/robot/components/motor"
	"github.com/team3128/robot/config"
	"github.com/team3128/robot/control"
	"github.com/team3128/robot/dashboard"
	"github.com/team3128/robot/logging"
	"github.com/team3128/robot/subsystems/amp"
	"github.com/team3128/robot/subsystems/shooter"
	"github.com/team3128/robot/tester"
)

// Robot is the set of mechanisms plus the loop, scheduler, dashboard and tester that run them.
type Robot struct {
	cfg    *config.Config
	logger logging.Logger
	clk    clock.Clock

	motors    map[string]motor.Motor
	amp       *amp.Amp
	shooter   *shooter.Shooter
	scheduler *command.Scheduler
	dashboard *dashboard.Dashboard
	tester    *tester.Tester
	loop      *control.Loop
}

// New builds every motor and mechanism described by cfg. Motors already built are closed if a
// later step fails.
func New(ctx context.Context, cfg *config.Config, clk clock.Clock, logger logging.Logger) (_ *Robot, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Robot{
		cfg:       cfg,
		logger:    logger,
		clk:       clk,
		motors:    map[string]motor.Motor{},
		scheduler: command.NewScheduler(logger.Sublogger("scheduler")),
		dashboard: dashboard.New(logger.Sublogger("dashboard")),
		tester:    tester.New(logger.Sublogger("tester")),
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, r.closeMotors(ctx))
		}
	}()

	motorLogger := logger.Sublogger("motor")
	for _, mc := range cfg.Motors {
		m, err := motor.New(ctx, mc, motorLogger)
		if err != nil {
			return nil, err
		}
		r.motors[mc.Name] = m
	}

	r.loop, err = control.NewLoop(logger.Sublogger("loop"), cfg.Frequency, r.Step)
	if err != nil {
		return nil, err
	}
	period := r.loop.Period()

	r.amp, err = amp.New(cfg.Amp, r.motors[cfg.Amp.Wrist], r.motors[cfg.Amp.Roller], period, r.dashboard, logger.Sublogger("amp"))
	if err != nil {
		return nil, errors.Wrap(err, "cannot build amp")
	}
	r.shooter, err = shooter.New(cfg.Shooter, r.motors[cfg.Shooter.Left], r.motors[cfg.Shooter.Right], period, r.dashboard, logger.Sublogger("shooter"))
	if err != nil {
		return nil, errors.Wrap(err, "cannot build shooter")
	}
	r.scheduler.RegisterSubsystem(r.amp, r.shooter)

	if err := r.shooter.AddShooterTests(r.tester, cfg.Tester.CurrentTests, clk, logger.Sublogger("tester")); err != nil {
		return nil, err
	}
	r.dashboard.AddData("Robot", "cycles", func() float64 { return float64(r.scheduler.Cycles()) })
	logger.Infow("robot ready", "motors", r.MotorNames(), "frequency", cfg.Frequency)
	return r, nil
}

// Amp returns the amp mechanism.
func (r *Robot) Amp() *amp.Amp {
	return r.amp
}

// Shooter returns the shooter.
func (r *Robot) Shooter() *shooter.Shooter {
	return r.shooter
}

// Scheduler returns the command scheduler.
func (r *Robot) Scheduler() *command.Scheduler {
	return r.scheduler
}

// Dashboard returns the dashboard.
func (r *Robot) Dashboard() *dashboard.Dashboard {
	return r.dashboard
}

// Tester returns the self-test registry.
func (r *Robot) Tester() *tester.Tester {
	return r.tester
}

// Loop returns the control loop.
func (r *Robot) Loop() *control.Loop {
	return r.loop
}

// Motor returns the named motor.
func (r *Robot) Motor(name string) (motor.Motor, bool) {
	m, ok := r.motors[name]
	return m, ok
}

// MotorNames returns the motor names, sorted.
func (r *Robot) MotorNames() []string {
	names := lo.Keys(r.motors)
	sort.Strings(names)
	return names
}

// Step runs one control cycle: simulated motors advance by dt, then the scheduler runs.
func (r *Robot) Step(ctx context.Context, dt time.Duration) {
	for _, name := range r.MotorNames() {
		if sim, ok := r.motors[name].(motor.Simulated); ok {
			sim.Simulate(dt)
		}
	}
	r.scheduler.Run(ctx)
}

// Schedule hands cmd to the scheduler.
func (r *Robot) Schedule(ctx context.Context, cmd command.Command) {
	r.scheduler.Schedule(ctx, cmd)
}

// Start runs the control loop in the background.
func (r *Robot) Start(ctx context.Context) error {
	return r.loop.Start(ctx)
}

// AutoRoutine extends the amp, spins the shooter up to rpm, holds it for dwell, then stops the
// shooter and retracts the amp.
func (r *Robot) AutoRoutine(rpm float64, dwell time.Duration) command.Command {
	return command.Sequence(
		r.amp.Extend(),
		r.shooter.ShootAndWait(rpm),
		command.Wait(r.clk, dwell),
		r.shooter.SetShooter(0),
		r.amp.Retract(),
	)
}

// Close stops the loop, interrupts every command and closes the motors.
func (r *Robot) Close(ctx context.Context) error {
	if r.loop != nil {
		r.loop.Stop()
	}
	r.scheduler.CancelAll(ctx)
	return r.closeMotors(ctx)
}

func (r *Robot) closeMotors(ctx context.Context) error {
	var err error
	for _, name := range r.MotorNames() {
		err = multierr.Combine(err, errors.Wrapf(r.motors[name].Close(ctx), "closing %s", name))
	}
	return err
}
