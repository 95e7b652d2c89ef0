package subsystems

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/team3128/robot/components/motor"
	"github.com/team3128/robot/components/motor/fake"
	"github.com/team3128/robot/control"
	"github.com/team3128/robot/logging"
)

const cycle = 20 * time.Millisecond

func newTestPivot(t *testing.T) (*Pivot, *fake.Motor) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	m := fake.NewMotor("wrist", fake.Config{GravityVolts: 0.4}, logger)
	motor.Apply(m, motor.Settings{UnitConversionFactor: 9, CurrentLimit: 40, Neutral: motor.Brake})

	controller, err := control.NewTrapController(
		control.PIDConstants{KP: 0.1, KS: 0.085, KV: 1 / 84.8, KG: 0.4},
		control.Constraints{MaxVelocity: 180, MaxAcceleration: 360},
		cycle,
	)
	test.That(t, err, test.ShouldBeNil)
	controller.SetTolerance(2)

	p, err := NewPivot("pivot", controller, logger, m)
	test.That(t, err, test.ShouldBeNil)
	return p, m
}

func step(ctx context.Context, p *Pivot, m *fake.Motor, cycles int) {
	for i := 0; i < cycles; i++ {
		m.Simulate(cycle)
		p.Periodic(ctx)
	}
}

func TestPivotConverges(t *testing.T) {
	ctx := context.Background()
	p, m := newTestPivot(t)

	for _, angle := range []float64{60, 0, 120} {
		cmd := p.PivotTo(angle)
		test.That(t, cmd.Initialize(ctx), test.ShouldBeNil)
		test.That(t, p.Enabled(), test.ShouldBeTrue)
		test.That(t, cmd.IsFinished(), test.ShouldBeFalse)

		finished := false
		for i := 0; i < 200 && !finished; i++ {
			step(ctx, p, m, 1)
			finished = cmd.IsFinished()
		}
		test.That(t, finished, test.ShouldBeTrue)

		pos, err := m.Position(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pos, test.ShouldAlmostEqual, angle, 2)

		state := p.State()
		test.That(t, state.Setpoint, test.ShouldEqual, angle)
		test.That(t, state.Enabled, test.ShouldBeTrue)
		test.That(t, state.AtSetpoint, test.ShouldBeTrue)
	}
}

func TestPivotHoldsAgainstGravity(t *testing.T) {
	ctx := context.Background()
	p, m := newTestPivot(t)
	p.StartPID(ctx, 45)
	step(ctx, p, m, 250)
	test.That(t, p.AtSetpoint(), test.ShouldBeTrue)
	test.That(t, p.Measurement(), test.ShouldAlmostEqual, 45, 2)
	test.That(t, m.AppliedVolts(), test.ShouldBeGreaterThan, 0)
}

func TestPivotSetPowerDisablesLoop(t *testing.T) {
	ctx := context.Background()
	p, m := newTestPivot(t)
	p.StartPID(ctx, 90)
	step(ctx, p, m, 5)

	test.That(t, p.SetPower(ctx, 0.25), test.ShouldBeNil)
	test.That(t, p.Enabled(), test.ShouldBeFalse)
	test.That(t, p.AtSetpoint(), test.ShouldBeFalse)
	test.That(t, m.AppliedVolts(), test.ShouldAlmostEqual, 3, 1e-9)

	commands := m.Commands()
	step(ctx, p, m, 10)
	test.That(t, m.Commands(), test.ShouldEqual, commands)
	test.That(t, m.AppliedVolts(), test.ShouldAlmostEqual, 3, 1e-9)

	cmd := p.SetPowerCommand(0)
	test.That(t, cmd.Requirements(), test.ShouldHaveLength, 1)
	test.That(t, cmd.Initialize(ctx), test.ShouldBeNil)
	test.That(t, m.AppliedVolts(), test.ShouldEqual, 0)
}

func TestPivotConstraints(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPivot(t)
	test.That(t, p.SetConstraints(10, 0), test.ShouldNotBeNil)
	test.That(t, p.SetConstraints(0, 180), test.ShouldBeNil)
	p.StartPID(ctx, 270)
	test.That(t, p.Setpoint(), test.ShouldEqual, 180)
	p.StartPID(ctx, -30)
	test.That(t, p.Setpoint(), test.ShouldEqual, 0)
}

func TestPivotFaults(t *testing.T) {
	ctx := context.Background()
	p, m := newTestPivot(t)
	test.That(t, p.RunningState(ctx), test.ShouldEqual, motor.Connected)

	p.StartPID(ctx, 30)
	m.SetConnected(false)
	step(ctx, p, m, 3)
	test.That(t, p.RunningState(ctx), test.ShouldEqual, motor.Disconnected)
	test.That(t, errors.Is(p.Fault(), motor.ErrDisconnected), test.ShouldBeTrue)
	test.That(t, p.AtSetpoint(), test.ShouldBeFalse)

	m.SetConnected(true)
	step(ctx, p, m, 1)
	test.That(t, p.Fault(), test.ShouldBeNil)
}

func TestNewPivotNeedsMotor(t *testing.T) {
	controller := control.NewController(control.PIDConstants{KP: 1}, control.Position, cycle)
	_, err := NewPivot("empty", controller, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSetpointCheck(t *testing.T) {
	ctx := context.Background()
	controller := control.NewController(control.PIDConstants{KP: 1}, control.Velocity, cycle)
	controller.SetTolerance(10)
	measured := 100.0
	extra := false
	p := NewPIDSubsystem("flywheel", controller,
		func(ctx context.Context) (float64, error) { return measured, nil },
		func(ctx context.Context, output, setpoint float64) error { return nil },
		logging.NewTestLogger(t))
	p.SetSetpointCheck(func(setpoint float64) bool { return extra })

	test.That(t, p.AtSetpoint(), test.ShouldBeFalse)
	p.StartPID(ctx, 105)
	p.Periodic(ctx)
	test.That(t, controller.AtSetpoint(), test.ShouldBeTrue)
	test.That(t, p.AtSetpoint(), test.ShouldBeFalse)
	extra = true
	test.That(t, p.AtSetpoint(), test.ShouldBeTrue)
	test.That(t, p.Disable(ctx), test.ShouldBeNil)
	test.That(t, p.AtSetpoint(), test.ShouldBeFalse)
}

func TestDisableWritesZero(t *testing.T) {
	ctx := context.Background()
	p, m := newTestPivot(t)
	test.That(t, p.PivotTo(90).Initialize(ctx), test.ShouldBeNil)
	step(ctx, p, m, 20)
	test.That(t, m.AppliedVolts(), test.ShouldNotEqual, 0)

	test.That(t, p.Disable(ctx), test.ShouldBeNil)
	test.That(t, p.Enabled(), test.ShouldBeFalse)
	test.That(t, m.AppliedVolts(), test.ShouldEqual, 0)
	writes := m.Commands()
	step(ctx, p, m, 10)
	test.That(t, m.Commands(), test.ShouldEqual, writes)

	m.SetConnected(false)
	test.That(t, p.Disable(ctx), test.ShouldNotBeNil)
	test.That(t, p.Fault(), test.ShouldNotBeNil)
}

func TestMeasurementFaultNeutralizesOutput(t *testing.T) {
	ctx := context.Background()
	controller := control.NewController(control.PIDConstants{KP: 1}, control.Velocity, cycle)
	var measureErr error
	var outputs []float64
	p := NewPIDSubsystem("flywheel", controller,
		func(ctx context.Context) (float64, error) { return 100, measureErr },
		func(ctx context.Context, output, setpoint float64) error {
			outputs = append(outputs, output)
			return nil
		},
		logging.NewTestLogger(t))

	p.StartPID(ctx, 105)
	p.Periodic(ctx)
	test.That(t, outputs, test.ShouldResemble, []float64{5})

	measureErr = motor.ErrDisconnected
	p.Periodic(ctx)
	test.That(t, outputs, test.ShouldResemble, []float64{5, 0})
	test.That(t, p.Enabled(), test.ShouldBeTrue)
	test.That(t, p.AtSetpoint(), test.ShouldBeFalse)
	test.That(t, p.Fault(), test.ShouldNotBeNil)

	measureErr = nil
	p.Periodic(ctx)
	test.That(t, outputs, test.ShouldResemble, []float64{5, 0, 5})
	test.That(t, p.Fault(), test.ShouldBeNil)

	// disabled loops leave the motors alone when the sensor drops out
	test.That(t, p.Disable(ctx), test.ShouldBeNil)
	measureErr = motor.ErrDisconnected
	p.Periodic(ctx)
	test.That(t, outputs, test.ShouldResemble, []float64{5, 0, 5, 0})
}
