package tester

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/team3128/robot/command"
	"github.com/team3128/robot/components/motor/fake"
	"github.com/team3128/robot/logging"
)

const cycle = 20 * time.Millisecond

type harness struct {
	clk    *clock.Mock
	sched  *command.Scheduler
	motors []*fake.Motor
}

func newHarness(t *testing.T, motors ...*fake.Motor) *harness {
	return &harness{clk: clock.NewMock(), sched: command.NewScheduler(logging.NewTestLogger(t)), motors: motors}
}

// runUntilDone schedules cmd and cycles until it finishes or max cycles pass.
func (h *harness) runUntilDone(ctx context.Context, cmd command.Command, max int) int {
	h.sched.Schedule(ctx, cmd)
	n := 0
	for ; n < max && h.sched.IsScheduled(cmd); n++ {
		h.clk.Add(cycle)
		for _, m := range h.motors {
			m.Simulate(cycle)
		}
		h.sched.Run(ctx)
	}
	return n
}

func currentConfig(expected float64) CurrentTestConfig {
	return CurrentTestConfig{Power: 0.5, TimeoutSec: 1, PlateauSec: 0.5, Expected: expected, Tolerance: 0.5}
}

func TestCurrentTest(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	m := fake.NewMotor("left", fake.Config{}, logger)
	h := newHarness(t, m)

	pass, err := NewCurrentTest("leftMotorTest", m, currentConfig(1.5), h.clk, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pass.Result(), test.ShouldEqual, Pending)

	cycles := h.runUntilDone(ctx, pass.Command(), 100)
	test.That(t, cycles, test.ShouldEqual, 50)
	test.That(t, pass.Result(), test.ShouldEqual, Passed)
	test.That(t, pass.MeanCurrent(), test.ShouldAlmostEqual, 1.5, 0.5)
	test.That(t, m.AppliedVolts(), test.ShouldEqual, 0)

	fail, err := NewCurrentTest("stalled", m, currentConfig(40), h.clk, logger)
	test.That(t, err, test.ShouldBeNil)
	h.runUntilDone(ctx, fail.Command(), 100)
	test.That(t, fail.Result(), test.ShouldEqual, Failed)
}

func TestCurrentTestDisconnected(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	m := fake.NewMotor("right", fake.Config{}, logger)
	m.SetConnected(false)
	h := newHarness(t, m)

	ct, err := NewCurrentTest("rightMotorTest", m, currentConfig(1.5), h.clk, logger)
	test.That(t, err, test.ShouldBeNil)
	h.runUntilDone(ctx, ct.Command(), 100)
	test.That(t, ct.Result(), test.ShouldEqual, Failed)
}

func TestCurrentTestConfigValidate(t *testing.T) {
	test.That(t, currentConfig(1).Validate("t"), test.ShouldBeNil)
	test.That(t, CurrentTestConfig{PlateauSec: 1}.Validate("t"), test.ShouldNotBeNil)
	test.That(t, CurrentTestConfig{TimeoutSec: 1, PlateauSec: 2}.Validate("t"), test.ShouldNotBeNil)
	test.That(t, CurrentTestConfig{TimeoutSec: 1, Tolerance: -1}.Validate("t"), test.ShouldNotBeNil)
	test.That(t, currentConfig(1).Timeout(), test.ShouldEqual, time.Second)
	test.That(t, currentConfig(1).Plateau(), test.ShouldEqual, 500*time.Millisecond)
}

type fakeMechanism struct {
	setpoint float64
	enabled  bool
	settleAt int
	cycles   int
}

func (f *fakeMechanism) Name() string { return "flywheel" }

func (f *fakeMechanism) Periodic(ctx context.Context) {
	if f.enabled {
		f.cycles++
	}
}

func (f *fakeMechanism) StartPID(ctx context.Context, setpoint float64) {
	f.setpoint = setpoint
	f.enabled = true
	f.cycles = 0
}

func (f *fakeMechanism) AtSetpoint() bool { return f.enabled && f.settleAt >= 0 && f.cycles >= f.settleAt }

func (f *fakeMechanism) Disable(ctx context.Context) error {
	f.enabled = false
	return nil
}

func TestSetpointTest(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	mech := &fakeMechanism{settleAt: 10}
	h := newHarness(t)
	h.sched.RegisterSubsystem(mech)
	st, err := NewSetpointTest("testShooter", mech, 5000, 200*time.Millisecond, 2*time.Second, h.clk, logger)
	test.That(t, err, test.ShouldBeNil)

	cycles := h.runUntilDone(ctx, st.Command(), 200)
	test.That(t, cycles, test.ShouldBeLessThan, 100)
	test.That(t, st.Result(), test.ShouldEqual, Passed)
	test.That(t, mech.setpoint, test.ShouldEqual, 5000)
	test.That(t, mech.enabled, test.ShouldBeFalse)

	never := &fakeMechanism{settleAt: -1}
	h.sched.RegisterSubsystem(never)
	st, err = NewSetpointTest("testShooter", never, 5000, 200*time.Millisecond, time.Second, h.clk, logger)
	test.That(t, err, test.ShouldBeNil)
	cycles = h.runUntilDone(ctx, st.Command(), 200)
	test.That(t, cycles, test.ShouldEqual, 50)
	test.That(t, st.Result(), test.ShouldEqual, Failed)

	_, err = NewSetpointTest("bad", never, 0, time.Second, time.Second, h.clk, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTesterRegistry(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	m := fake.NewMotor("left", fake.Config{}, logger)
	h := newHarness(t, m)
	mech := &fakeMechanism{settleAt: 5}
	h.sched.RegisterSubsystem(mech)

	tr := New(logger)
	_, err := tr.Command("Shooter")
	test.That(t, err, test.ShouldNotBeNil)

	ct, err := NewCurrentTest("leftMotorTest", m, currentConfig(1.5), h.clk, logger)
	test.That(t, err, test.ShouldBeNil)
	st, err := NewSetpointTest("testShooter", mech, 3000, 100*time.Millisecond, time.Second, h.clk, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, tr.AddTest("Shooter", ct), test.ShouldBeNil)
	test.That(t, tr.AddTest("Shooter", st), test.ShouldBeNil)
	test.That(t, tr.AddTest("Shooter", st), test.ShouldNotBeNil)
	test.That(t, tr.Systems(), test.ShouldResemble, []string{"Shooter"})
	test.That(t, tr.Tests("Shooter"), test.ShouldHaveLength, 2)
	test.That(t, tr.Passed(), test.ShouldBeFalse)

	cmd, err := tr.Command("Shooter")
	test.That(t, err, test.ShouldBeNil)
	h.runUntilDone(ctx, cmd, 500)
	test.That(t, tr.Report(), test.ShouldResemble, map[string]map[string]Result{
		"Shooter": {"leftMotorTest": Passed, "testShooter": Passed},
	})
	test.That(t, tr.Passed(), test.ShouldBeTrue)
	test.That(t, Passed.String(), test.ShouldEqual, "passed")
}
