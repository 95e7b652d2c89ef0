// Package subsystems contains the closed-loop building blocks mechanisms are assembled from.
package subsystems

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/team3128/robot/command"
	"github.com/team3128/robot/control"
	"github.com/team3128/robot/logging"
)

// Subsystem is a mechanism the scheduler can run periodically and hand to commands.
type Subsystem = command.Subsystem

// ActuatorState is a snapshot of a PID subsystem, refreshed once per cycle.
type ActuatorState struct {
	Measurement float64
	Setpoint    float64
	Enabled     bool
	AtSetpoint  bool
}

// MeasureFunc reads the controlled quantity.
type MeasureFunc func(ctx context.Context) (float64, error)

// OutputFunc applies one cycle of controller output. Disable and measurement faults call it
// with a zero output and setpoint to put the mechanism in neutral.
type OutputFunc func(ctx context.Context, output, setpoint float64) error

// PIDSubsystem owns the single control loop of a mechanism. While enabled, every Periodic
// measures, calculates and hands the output to its OutputFunc. Disable blocks until any
// in-flight cycle is done, so a caller that disables and then writes its motors directly is
// never overwritten by the loop.
type PIDSubsystem struct {
	mu         sync.Mutex
	name       string
	logger     logging.Logger
	controller control.Controller
	measure    MeasureFunc
	useOutput  OutputFunc

	constrained bool
	minSetpoint float64
	maxSetpoint float64

	// check is an additional convergence condition on top of the controller's tolerance.
	check func(setpoint float64) bool

	enabled bool
	state   ActuatorState
	fault   error
}

var _ Subsystem = (*PIDSubsystem)(nil)

// NewPIDSubsystem returns a disabled subsystem around controller.
func NewPIDSubsystem(
	name string,
	controller control.Controller,
	measure MeasureFunc,
	useOutput OutputFunc,
	logger logging.Logger,
) *PIDSubsystem {
	return &PIDSubsystem{
		name:       name,
		logger:     logger,
		controller: controller,
		measure:    measure,
		useOutput:  useOutput,
	}
}

// Name returns the name of the subsystem.
func (p *PIDSubsystem) Name() string {
	return p.name
}

// Controller returns the subsystem's controller.
func (p *PIDSubsystem) Controller() control.Controller {
	return p.controller
}

// SetConstraints limits the setpoints StartPID will accept.
func (p *PIDSubsystem) SetConstraints(min, max float64) error {
	if min > max {
		return errors.Errorf("%s: minimum setpoint %v is above maximum %v", p.name, min, max)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.constrained = true
	p.minSetpoint = min
	p.maxSetpoint = max
	return nil
}

// StartPID enables the loop toward setpoint, clamped to the constraints. The controller is reset
// from the current measurement whenever the loop was not already running.
func (p *PIDSubsystem) StartPID(ctx context.Context, setpoint float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.constrained {
		setpoint = math.Max(p.minSetpoint, math.Min(setpoint, p.maxSetpoint))
	}
	if !p.enabled {
		measurement, err := p.measure(ctx)
		if err != nil {
			p.recordLocked(err)
			measurement = p.state.Measurement
		}
		p.controller.Reset(measurement)
	}
	p.controller.SetSetpoint(setpoint)
	p.enabled = true
	p.state.Enabled = true
	p.state.Setpoint = setpoint
	p.state.AtSetpoint = false
	p.logger.Debugw("loop enabled", "setpoint", setpoint)
}

// Disable stops the loop and writes a zero output.
func (p *PIDSubsystem) Disable(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		p.logger.Debug("loop disabled")
	}
	p.enabled = false
	p.state.Enabled = false
	p.state.AtSetpoint = false
	err := p.neutralLocked(ctx)
	if err != nil {
		p.recordLocked(err)
	}
	return err
}

func (p *PIDSubsystem) neutralLocked(ctx context.Context) error {
	return errors.Wrapf(p.useOutput(ctx, 0, 0), "%s: cannot stop outputs", p.name)
}

// Enabled reports whether the loop is running.
func (p *PIDSubsystem) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Setpoint returns the loop's target.
func (p *PIDSubsystem) Setpoint() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Setpoint
}

// Measurement returns the last measurement.
func (p *PIDSubsystem) Measurement() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Measurement
}

// SetSetpointCheck adds a condition AtSetpoint must also satisfy. check runs with the subsystem
// locked and must not call back into it.
func (p *PIDSubsystem) SetSetpointCheck(check func(setpoint float64) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.check = check
}

// AtSetpoint reports whether the loop is enabled, fault free and has converged.
func (p *PIDSubsystem) AtSetpoint() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.atSetpointLocked()
}

func (p *PIDSubsystem) atSetpointLocked() bool {
	if !p.enabled || p.fault != nil || !p.controller.AtSetpoint() {
		return false
	}
	return p.check == nil || p.check(p.state.Setpoint)
}

// State returns the snapshot taken by the last cycle.
func (p *PIDSubsystem) State() ActuatorState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Fault returns the most recent error from measuring or driving the mechanism.
func (p *PIDSubsystem) Fault() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fault
}

func (p *PIDSubsystem) recordLocked(err error) {
	if err != nil && (p.fault == nil || p.fault.Error() != err.Error()) {
		p.logger.Warnw("mechanism fault", "error", err)
	}
	if err == nil && p.fault != nil {
		p.logger.Info("mechanism fault cleared")
	}
	p.fault = err
}

// Periodic runs one cycle of the loop.
func (p *PIDSubsystem) Periodic(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	measurement, err := p.measure(ctx)
	if err != nil {
		if p.enabled {
			// Without a measurement the last output can't be corrected, so stop driving until
			// the sensor comes back.
			err = multierr.Combine(err, p.neutralLocked(ctx))
			p.state.AtSetpoint = false
		}
		p.recordLocked(err)
		return
	}
	p.state.Measurement = measurement
	if !p.enabled {
		p.recordLocked(nil)
		return
	}
	output := p.controller.Calculate(measurement)
	p.recordLocked(p.useOutput(ctx, output, p.state.Setpoint))
	p.state.AtSetpoint = p.atSetpointLocked()
}
