package control

import (
	"math"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestPIDConverges(t *testing.T) {
	// First order velocity plant: 500 rpm per volt with a 100ms time constant.
	const rpmPerVolt = 500.0
	const tau = 0.1
	c := NewController(PIDConstants{KP: 0.002, KV: 1 / rpmPerVolt}, Velocity, DefaultPeriod)
	c.SetTolerance(50)
	c.SetSetpoint(3000)

	velocity := 0.0
	dt := DefaultPeriod.Seconds()
	for i := 0; i < 500; i++ {
		volts := c.Calculate(velocity)
		velocity += (rpmPerVolt*volts - velocity) * dt / tau
		if i > 200 {
			test.That(t, velocity, test.ShouldAlmostEqual, 3000, 50)
		}
	}
	test.That(t, c.AtSetpoint(), test.ShouldBeTrue)
}

func TestVelocityFeedforward(t *testing.T) {
	c := NewController(PIDConstants{KS: 0.2, KV: 0.002, KG: 0.5}, Velocity, DefaultPeriod)
	// No feedback gains, so output is pure feedforward: kS*sign(sp) + kV*sp + kG.
	out := c.CalculateTo(0, 3000)
	test.That(t, out, test.ShouldAlmostEqual, 0.2+6+0.5)

	out = c.CalculateTo(0, -1000)
	test.That(t, out, test.ShouldAlmostEqual, -0.2-2+0.5)
}

func TestPositionFeedforwardGravity(t *testing.T) {
	c := NewController(PIDConstants{KG: 1.0, KV: 5}, Position, DefaultPeriod)
	c.SetGravityFunc(func(measurement, _ float64) float64 {
		return math.Cos(measurement * math.Pi / 180)
	})
	// kV does not apply to position controllers.
	test.That(t, c.CalculateTo(0, 90), test.ShouldAlmostEqual, 1.0)
	test.That(t, c.CalculateTo(90, 90), test.ShouldAlmostEqual, 0.0)
	test.That(t, c.CalculateTo(180, 90), test.ShouldAlmostEqual, -1.0)
}

func TestOutputClamped(t *testing.T) {
	c := NewController(PIDConstants{KP: 100}, Position, DefaultPeriod)
	test.That(t, c.CalculateTo(0, 10), test.ShouldEqual, DefaultOutputLimit)
	test.That(t, c.CalculateTo(0, -10), test.ShouldEqual, -DefaultOutputLimit)

	test.That(t, c.SetOutputRange(1, -1), test.ShouldNotBeNil)
	test.That(t, c.SetOutputRange(-1, 1), test.ShouldBeNil)
	test.That(t, c.CalculateTo(0, 10), test.ShouldEqual, 1.0)
}

func TestAtSetpointNeedsMeasurement(t *testing.T) {
	c := NewController(PIDConstants{KP: 1}, Position, DefaultPeriod)
	c.SetTolerance(1)
	c.SetSetpoint(0)
	test.That(t, c.AtSetpoint(), test.ShouldBeFalse)
	c.Calculate(0.5)
	test.That(t, c.AtSetpoint(), test.ShouldBeTrue)
	c.Calculate(1.5)
	test.That(t, c.AtSetpoint(), test.ShouldBeFalse)
	c.Reset(0)
	test.That(t, c.AtSetpoint(), test.ShouldBeFalse)
}

func TestIntegratorBounded(t *testing.T) {
	c := NewController(PIDConstants{KI: 10}, Position, DefaultPeriod)
	test.That(t, c.SetIntegratorRange(-2, 2), test.ShouldBeNil)
	var out float64
	for i := 0; i < 1000; i++ {
		out = c.CalculateTo(0, 100)
	}
	test.That(t, out, test.ShouldAlmostEqual, 2.0)
}

func TestSharedGainCells(t *testing.T) {
	primary := NewController(PIDConstants{KS: 0.1, KV: 0.002}, Velocity, DefaultPeriod)
	secondary := NewController(PIDConstants{}, Velocity, DefaultPeriod)
	secondary.SetKS(primary.KS())
	secondary.SetKV(primary.KV())
	secondary.SetKG(primary.KG())

	test.That(t, secondary.CalculateTo(0, 1000), test.ShouldAlmostEqual, 2.1)

	primary.KV().Set(0.003)
	test.That(t, secondary.CalculateTo(0, 1000), test.ShouldAlmostEqual, 3.1)
	test.That(t, secondary.Tunables()["kV"], test.ShouldEqual, primary.KV())
}

func TestTelemetry(t *testing.T) {
	c := NewController(PIDConstants{KP: 1}, Position, DefaultPeriod)
	c.CalculateTo(2, 5)
	tel := c.Telemetry()
	test.That(t, tel["setpoint"], test.ShouldEqual, 5.0)
	test.That(t, tel["measurement"], test.ShouldEqual, 2.0)
	test.That(t, tel["error"], test.ShouldEqual, 3.0)
	test.That(t, tel["output"], test.ShouldEqual, 3.0)
	test.That(t, c.Tunables(), test.ShouldHaveLength, 6)
}

func TestTrapControllerConverges(t *testing.T) {
	const degPerSecPerVolt = 10.0
	c, err := NewTrapController(
		PIDConstants{KP: 0.5, KV: 1 / degPerSecPerVolt},
		Constraints{MaxVelocity: 90, MaxAcceleration: 180},
		DefaultPeriod,
	)
	test.That(t, err, test.ShouldBeNil)
	c.SetTolerance(1)

	position := 0.0
	c.Reset(position)
	c.SetSetpoint(100)

	dt := DefaultPeriod.Seconds()
	maxVel := 0.0
	for i := 0; i < 500; i++ {
		volts := c.Calculate(position)
		maxVel = math.Max(maxVel, math.Abs(c.ProfileState().Velocity))
		position += volts * degPerSecPerVolt * dt
	}
	test.That(t, position, test.ShouldAlmostEqual, 100, 1)
	test.That(t, c.AtSetpoint(), test.ShouldBeTrue)
	test.That(t, maxVel, test.ShouldBeLessThanOrEqualTo, 90.0+1e-9)
	test.That(t, c.Telemetry()["profilePosition"], test.ShouldEqual, 100.0)
}

func TestTrapControllerNotAtSetpointMidProfile(t *testing.T) {
	c, err := NewTrapController(PIDConstants{KP: 1}, Constraints{MaxVelocity: 10, MaxAcceleration: 10}, DefaultPeriod)
	test.That(t, err, test.ShouldBeNil)
	c.SetTolerance(1000)
	c.Reset(0)
	c.SetSetpoint(50)
	c.Calculate(0)
	// Within tolerance but the profile has not reached the goal.
	test.That(t, c.AtSetpoint(), test.ShouldBeFalse)

	_, err = NewTrapController(PIDConstants{}, Constraints{MaxVelocity: 0, MaxAcceleration: 1}, DefaultPeriod)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTrapezoidProfile(t *testing.T) {
	p, err := NewTrapezoidProfile(Constraints{MaxVelocity: 2, MaxAcceleration: 1})
	test.That(t, err, test.ShouldBeNil)

	start := State{}
	goal := State{Position: 10}
	// 2s accelerating (2m), 3s cruising (6m), 2s decelerating (2m).
	test.That(t, p.TotalTime(start, goal), test.ShouldEqual, 7*time.Second)

	s := p.Calculate(time.Second, start, goal)
	test.That(t, s.Velocity, test.ShouldAlmostEqual, 1.0)
	test.That(t, s.Position, test.ShouldAlmostEqual, 0.5)

	s = p.Calculate(3*time.Second, start, goal)
	test.That(t, s.Velocity, test.ShouldAlmostEqual, 2.0)
	test.That(t, s.Position, test.ShouldAlmostEqual, 4.0)

	s = p.Calculate(6*time.Second, start, goal)
	test.That(t, s.Velocity, test.ShouldAlmostEqual, 1.0)
	test.That(t, s.Position, test.ShouldAlmostEqual, 9.5)

	s = p.Calculate(8*time.Second, start, goal)
	test.That(t, s, test.ShouldResemble, goal)

	// Moving backwards mirrors the profile.
	s = p.Calculate(time.Second, State{Position: 10}, State{})
	test.That(t, s.Velocity, test.ShouldAlmostEqual, -1.0)
	test.That(t, s.Position, test.ShouldAlmostEqual, 9.5)

	// Short moves never reach cruise velocity.
	s = p.Calculate(time.Second, start, State{Position: 1})
	test.That(t, s.Position, test.ShouldAlmostEqual, 0.5)
	test.That(t, p.TotalTime(start, State{Position: 1}), test.ShouldEqual, 2*time.Second)
}

func TestTunable(t *testing.T) {
	v := NewTunable(750)
	test.That(t, v.Get(), test.ShouldEqual, 750.0)
	v.Set(0)
	test.That(t, v.Get(), test.ShouldEqual, 0.0)
}

func TestPIDConstantsValidate(t *testing.T) {
	test.That(t, PIDConstants{KP: 1}.Validate("shooter.pid"), test.ShouldBeNil)
	err := PIDConstants{KP: -1}.Validate("shooter.pid")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "shooter.pid")
}
