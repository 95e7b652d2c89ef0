package subsystems

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/team3128/robot/command"
	"github.com/team3128/robot/components/motor"
	"github.com/team3128/robot/control"
	"github.com/team3128/robot/logging"
	"github.com/team3128/robot/utils"
)

// CosineGravity scales kG by the cosine of the measured angle in degrees, the holding torque of
// an arm pivoting about a horizontal axis.
func CosineGravity(measurement, _ float64) float64 {
	return math.Cos(utils.DegToRad(measurement))
}

// Pivot is a rotational mechanism driven by voltage from a position controller. The first motor
// is the one measured; any others follow with the same output.
type Pivot struct {
	*PIDSubsystem
	motors []motor.Motor
	owner  command.Subsystem
}

// NewPivot returns a disabled pivot. Angles are in the lead motor's converted units, degrees.
func NewPivot(name string, controller control.Controller, logger logging.Logger, motors ...motor.Motor) (*Pivot, error) {
	if len(motors) == 0 {
		return nil, errors.Errorf("pivot %s needs at least one motor", name)
	}
	controller.SetGravityFunc(CosineGravity)
	p := &Pivot{motors: motors}
	p.owner = p
	p.PIDSubsystem = NewPIDSubsystem(name, controller, motors[0].Position, p.setVolts, logger)
	return p, nil
}

// SetOwner makes the pivot's commands require owner instead of the pivot. A mechanism that
// embeds a pivot sets itself so all of its commands interrupt each other.
func (p *Pivot) SetOwner(owner command.Subsystem) {
	p.owner = owner
}

func (p *Pivot) setVolts(ctx context.Context, volts, _ float64) error {
	var err error
	for _, m := range p.motors {
		err = multierr.Combine(err, m.SetVolts(ctx, volts))
	}
	return err
}

// Motors returns the motors the pivot drives, lead first.
func (p *Pivot) Motors() []motor.Motor {
	return p.motors
}

// PivotTo returns a command that enables the loop toward angle and finishes once the pivot is at
// the setpoint.
func (p *Pivot) PivotTo(angle float64) command.Command {
	return &command.Func{
		CommandName: fmt.Sprintf("%s pivot to %v", p.Name(), angle),
		Requires:    []command.Subsystem{p.owner},
		InitializeFunc: func(ctx context.Context) error {
			p.StartPID(ctx, angle)
			return nil
		},
		IsFinishedFunc: p.AtSetpoint,
	}
}

// SetPower disables the loop and then drives every motor at power.
func (p *Pivot) SetPower(ctx context.Context, power float64) error {
	err := p.Disable(ctx)
	for _, m := range p.motors {
		err = multierr.Combine(err, m.Set(ctx, power))
	}
	return err
}

// SetPowerCommand wraps SetPower in a one-shot command.
func (p *Pivot) SetPowerCommand(power float64) command.Command {
	return command.RunOnce(fmt.Sprintf("%s set power %v", p.Name(), power), func(ctx context.Context) error {
		return p.SetPower(ctx, power)
	}, p.owner)
}

// RunningState is Connected only while every motor is connected.
func (p *Pivot) RunningState(ctx context.Context) motor.State {
	return RunningState(ctx, p.motors...)
}

// RunningState is Connected only if every motor is connected.
func RunningState(ctx context.Context, motors ...motor.Motor) motor.State {
	for _, m := range motors {
		if !m.Status(ctx).Connected() {
			return motor.Disconnected
		}
	}
	return motor.Connected
}
