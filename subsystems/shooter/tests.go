package shooter

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/team3128/robot/components/motor"
	"github.com/team3128/robot/logging"
	"github.com/team3128/robot/tester"
)

const testSystem = "Shooter"

func (s *Shooter) currentTest(name string, m motor.Motor, clk clock.Clock, logger logging.Logger) (*tester.CurrentTest, error) {
	return tester.NewCurrentTest(name, m, s.cfg.CurrentTest, clk, logger, s)
}

// LeftMotorTest checks the left motor's current draw.
func (s *Shooter) LeftMotorTest(clk clock.Clock, logger logging.Logger) (*tester.CurrentTest, error) {
	return s.currentTest("testLeftMotor", s.left, clk, logger)
}

// RightMotorTest checks the right motor's current draw.
func (s *Shooter) RightMotorTest(clk clock.Clock, logger logging.Logger) (*tester.CurrentTest, error) {
	return s.currentTest("testRightMotor", s.right, clk, logger)
}

// ShooterTest spins up to the maximum RPM and expects both wheels to hold it.
func (s *Shooter) ShooterTest(clk clock.Clock, logger logging.Logger) (*tester.SetpointTest, error) {
	return tester.NewSetpointTest(
		"testShooter",
		s,
		s.cfg.MaxRPM,
		time.Duration(s.cfg.ShooterTestPlateau*float64(time.Second)),
		time.Duration(s.cfg.ShooterTestTimeout*float64(time.Second)),
		clk,
		logger,
	)
}

// AddShooterTests registers the shooter's self-tests. The motor current tests are only added when
// currentTests is set.
func (s *Shooter) AddShooterTests(t *tester.Tester, currentTests bool, clk clock.Clock, logger logging.Logger) error {
	if currentTests {
		left, err := s.LeftMotorTest(clk, logger)
		if err != nil {
			return err
		}
		right, err := s.RightMotorTest(clk, logger)
		if err != nil {
			return err
		}
		if err := t.AddTest(testSystem, left); err != nil {
			return err
		}
		if err := t.AddTest(testSystem, right); err != nil {
			return err
		}
	}
	shooterTest, err := s.ShooterTest(clk, logger)
	if err != nil {
		return err
	}
	return t.AddTest(testSystem, shooterTest)
}
