package robot

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	_ "github.com/team3128/robot/components/motor/register"
	"github.com/team3128/robot/components/motor/fake"
	"github.com/team3128/robot/config"
	"github.com/team3128/robot/logging"
	"github.com/team3128/robot/subsystems/amp"
	"github.com/team3128/robot/tester"
)

func newTestRobot(t *testing.T, cfg *config.Config) (*Robot, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	r, err := New(context.Background(), cfg, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, r.Close(context.Background()), test.ShouldBeNil) })
	return r, clk
}

func advance(ctx context.Context, r *Robot, clk *clock.Mock, cycles int) {
	for i := 0; i < cycles; i++ {
		clk.Add(r.Loop().Period())
		r.Step(ctx, r.Loop().Period())
	}
}

func TestNewBuildsEverythingOnce(t *testing.T) {
	r, _ := newTestRobot(t, config.Default())
	test.That(t, r.MotorNames(), test.ShouldResemble, []string{"amp_roller", "amp_wrist", "shooter_left", "shooter_right"})
	test.That(t, r.Loop().Period(), test.ShouldEqual, 20*time.Millisecond)
	test.That(t, r.Tester().Tests("Shooter"), test.ShouldHaveLength, 1)
	test.That(t, r.Dashboard().Tabs(), test.ShouldResemble, []string{"Amp", "Robot", "Shooter"})

	wrist, ok := r.Motor("amp_wrist")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, r.Amp().Motors()[0], test.ShouldEqual, wrist)
	left, ok := r.Motor("shooter_left")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, r.Shooter().Left(), test.ShouldEqual, left)
	_, ok = r.Motor("climber")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestCurrentTestsOptIn(t *testing.T) {
	cfg := config.Default()
	cfg.Tester.CurrentTests = true
	r, _ := newTestRobot(t, cfg)
	test.That(t, r.Tester().Tests("Shooter"), test.ShouldHaveLength, 3)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Motors[0].Model = "spark"
	_, err := New(context.Background(), cfg, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAutoRoutine(t *testing.T) {
	ctx := context.Background()
	r, clk := newTestRobot(t, config.Default())
	roller, _ := r.Motor("amp_roller")

	auto := r.AutoRoutine(4000, 500*time.Millisecond)
	r.Schedule(ctx, auto)
	sawShooterAtSpeed := false
	for i := 0; i < 1000 && r.Scheduler().IsScheduled(auto); i++ {
		advance(ctx, r, clk, 1)
		if r.Shooter().AtSetpoint() {
			sawShooterAtSpeed = true
			test.That(t, math.Abs(r.Amp().Measurement()-amp.AmpPosition.Angle), test.ShouldBeLessThan, 2)
		}
	}
	test.That(t, r.Scheduler().IsScheduled(auto), test.ShouldBeFalse)
	test.That(t, sawShooterAtSpeed, test.ShouldBeTrue)
	test.That(t, r.Shooter().Enabled(), test.ShouldBeFalse)
	test.That(t, roller.(*fake.Motor).AppliedVolts(), test.ShouldEqual, 0)
	test.That(t, math.Abs(r.Amp().Measurement()), test.ShouldBeLessThan, 2)
}

func TestSelfTests(t *testing.T) {
	ctx := context.Background()
	r, clk := newTestRobot(t, config.Default())
	cmd, err := r.Tester().Command("Shooter")
	test.That(t, err, test.ShouldBeNil)
	r.Schedule(ctx, cmd)
	advance(ctx, r, clk, 400)
	test.That(t, r.Tester().Report()["Shooter"]["testShooter"], test.ShouldEqual, tester.Passed)
}

func TestStartStopLoop(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRobot(t, config.Default())
	test.That(t, r.Start(ctx), test.ShouldBeNil)
	test.That(t, r.Loop().Running(), test.ShouldBeTrue)
	test.That(t, r.Start(ctx), test.ShouldNotBeNil)
	test.That(t, r.Close(ctx), test.ShouldBeNil)
	test.That(t, r.Loop().Running(), test.ShouldBeFalse)
}

func TestRunningStateFollowsMotors(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRobot(t, config.Default())
	right, _ := r.Motor("shooter_right")
	right.(*fake.Motor).SetConnected(false)
	test.That(t, r.Shooter().RunningState(ctx).String(), test.ShouldEqual, "disconnected")
	test.That(t, r.Amp().RunningState(ctx).String(), test.ShouldEqual, "connected")
}
