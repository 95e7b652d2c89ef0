// Package shooter implements the two-wheel flywheel shooter. The left wheel runs the primary
// velocity loop; the right wheel runs its own loop toward the same target less a tunable
// differential, which puts spin on the note.
package shooter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/team3128/robot/command"
	"github.com/team3128/robot/components/motor"
	"github.com/team3128/robot/control"
	"github.com/team3128/robot/dashboard"
	"github.com/team3128/robot/logging"
	"github.com/team3128/robot/subsystems"
	"github.com/team3128/robot/tester"
)

const (
	tabName     = "Shooter"
	rpmDiffName = "rpmDiff"
	kFName      = "kF"
)

// Config is the shooter's motors and tuning. Velocities are in RPM.
type Config struct {
	Left          string               `json:"left"`
	Right         string               `json:"right"`
	LeftInverted  bool                 `json:"left_inverted"`
	RightInverted bool                 `json:"right_inverted"`
	GearRatio     float64              `json:"gear_ratio"`
	PID           control.PIDConstants `json:"pid"`
	KF            float64              `json:"kf"`
	RPMDiff       float64              `json:"rpm_diff"`
	Tolerance     float64              `json:"tolerance"`
	MinRPM        float64              `json:"min_rpm"`
	MaxRPM        float64              `json:"max_rpm"`

	CurrentTest        tester.CurrentTestConfig `json:"current_test"`
	ShooterTestPlateau float64                  `json:"shooter_test_plateau_sec"`
	ShooterTestTimeout float64                  `json:"shooter_test_timeout_sec"`
}

// DefaultConfig returns the competition constants.
func DefaultConfig() Config {
	return Config{
		Left:         "shooter_left",
		Right:        "shooter_right",
		LeftInverted: true,
		GearRatio:    1,
		PID:          control.PIDConstants{KP: 0.0005, KS: 0.085, KV: motor.MaxVolts / 6784},
		Tolerance:    100,
		MinRPM:       0,
		MaxRPM:       5500,
		CurrentTest: tester.CurrentTestConfig{
			Power:      0.5,
			TimeoutSec: 3,
			PlateauSec: 1.5,
			Expected:   1.5,
			Tolerance:  1,
		},
		ShooterTestPlateau: 1,
		ShooterTestTimeout: 5,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Left == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "left")
	}
	if cfg.Right == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "right")
	}
	if cfg.GearRatio <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("gear_ratio must be positive"))
	}
	if cfg.Tolerance <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("tolerance must be positive"))
	}
	if cfg.MinRPM < 0 || cfg.MaxRPM <= cfg.MinRPM {
		return goutils.NewConfigValidationError(path, errors.Errorf("invalid rpm range [%v, %v]", cfg.MinRPM, cfg.MaxRPM))
	}
	if cfg.ShooterTestTimeout <= 0 || cfg.ShooterTestPlateau < 0 || cfg.ShooterTestPlateau >= cfg.ShooterTestTimeout {
		return goutils.NewConfigValidationError(path, errors.New("shooter test plateau must be within its timeout"))
	}
	if err := cfg.CurrentTest.Validate(path + ".current_test"); err != nil {
		return err
	}
	return cfg.PID.Validate(path + ".pid")
}

// Shooter is the flywheel pair.
type Shooter struct {
	*subsystems.PIDSubsystem
	left, right     motor.Motor
	primary         *control.PIDController
	rightController *control.PIDController
	rpmDiff         *control.Tunable
	kF              *control.Tunable
	cfg             Config
	logger          logging.Logger

	mu            sync.Mutex
	rightVelocity float64
	rightFault    error
}

// New configures the motors and returns the shooter with its loop disabled. The rpm differential
// and kF are published as debug channels on dash when it is non-nil.
func New(cfg Config, left, right motor.Motor, period time.Duration, dash *dashboard.Dashboard, logger logging.Logger) (*Shooter, error) {
	motor.Apply(left, motor.Settings{Inverted: cfg.LeftInverted, UnitConversionFactor: cfg.GearRatio, Neutral: motor.Coast})
	motor.Apply(right, motor.Settings{Inverted: cfg.RightInverted, UnitConversionFactor: cfg.GearRatio, Neutral: motor.Coast})

	s := &Shooter{
		left:            left,
		right:           right,
		primary:         control.NewController(cfg.PID, control.Velocity, period),
		rightController: control.NewController(cfg.PID, control.Velocity, period),
		cfg:             cfg,
		logger:          logger,
	}
	s.primary.SetTolerance(cfg.Tolerance)
	s.rightController.SetTolerance(cfg.Tolerance)
	s.rightController.SetKS(s.primary.KS())
	s.rightController.SetKV(s.primary.KV())
	s.rightController.SetKG(s.primary.KG())

	if dash != nil {
		s.rpmDiff = dash.Debug(tabName, rpmDiffName, cfg.RPMDiff)
		s.kF = dash.Debug(tabName, kFName, cfg.KF)
	} else {
		s.rpmDiff = control.NewTunable(cfg.RPMDiff)
		s.kF = control.NewTunable(cfg.KF)
	}

	s.PIDSubsystem = subsystems.NewPIDSubsystem("shooter", s.primary, left.Velocity, s.useOutput, logger)
	s.SetSetpointCheck(s.rightAtTarget)
	if err := s.SetConstraints(cfg.MinRPM, cfg.MaxRPM); err != nil {
		return nil, err
	}
	if dash != nil {
		s.registerDashboard(dash)
	}
	return s, nil
}

func (s *Shooter) registerDashboard(dash *dashboard.Dashboard) {
	dash.AddData(tabName, "leftVelocity", s.Measurement)
	dash.AddData(tabName, "rightVelocity", s.RightVelocity)
	dash.AddData(tabName, "setpoint", s.Setpoint)
	dash.AddSendable(tabName, "controller", s.primary)
	dash.AddSendable(tabName, "rightController", s.rightController)
	for name, cell := range s.primary.Tunables() {
		dash.AddDebug(tabName, name, cell)
	}
}

// useOutput drives both wheels. A zero setpoint is a hard cutoff: both motors get exactly 0 V
// whatever the controllers and kF say.
func (s *Shooter) useOutput(ctx context.Context, output, setpoint float64) error {
	kF := s.kF.Get()
	leftVolts := 0.0
	if setpoint != 0 {
		leftVolts = output + kF
	}
	err := s.left.SetVolts(ctx, leftVolts)

	rightVelocity, velErr := s.right.Velocity(ctx)
	s.mu.Lock()
	s.rightFault = velErr
	if velErr == nil {
		s.rightVelocity = math.Abs(rightVelocity)
	}
	rightVelocity = s.rightVelocity
	s.mu.Unlock()

	rightOutput := s.rightController.CalculateTo(rightVelocity, setpoint-s.rpmDiff.Get())
	rightVolts := 0.0
	if setpoint != 0 {
		rightVolts = rightOutput + kF
	}
	return multierr.Combine(err, velErr, s.right.SetVolts(ctx, rightVolts))
}

// rightAtTarget is the secondary half of AtSetpoint.
func (s *Shooter) rightAtTarget(setpoint float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rightFault != nil {
		return false
	}
	return math.Abs(s.rightVelocity-(setpoint-s.rpmDiff.Get())) < s.cfg.Tolerance
}

// RPMDiff returns the live-tunable differential subtracted from the right wheel's target.
func (s *Shooter) RPMDiff() *control.Tunable {
	return s.rpmDiff
}

// KF returns the live-tunable flat feedforward.
func (s *Shooter) KF() *control.Tunable {
	return s.kF
}

// RightController returns the right wheel's controller.
func (s *Shooter) RightController() *control.PIDController {
	return s.rightController
}

// SecondaryTarget is the right wheel's target: the setpoint less the differential.
func (s *Shooter) SecondaryTarget() float64 {
	return s.Setpoint() - s.rpmDiff.Get()
}

// RightVelocity returns the magnitude of the right wheel's last measured velocity.
func (s *Shooter) RightVelocity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rightVelocity
}

// Shoot enables the loop toward rpm.
func (s *Shooter) Shoot(rpm float64) command.Command {
	return command.RunOnce(fmt.Sprintf("shoot %v", rpm), func(ctx context.Context) error {
		s.StartPID(ctx, rpm)
		return nil
	}, s)
}

// ShootAndWait enables the loop toward rpm and finishes once both wheels are at speed.
func (s *Shooter) ShootAndWait(rpm float64) command.Command {
	return command.Sequence(s.Shoot(rpm), command.WaitUntil("shooter at setpoint", s.AtSetpoint))
}

// SetPower disables the loop, then drives both wheels open loop at power.
func (s *Shooter) SetPower(ctx context.Context, power float64) error {
	err := s.Disable(ctx)
	return multierr.Combine(err, s.left.Set(ctx, power), s.right.Set(ctx, power))
}

// SetShooter wraps SetPower in a one-shot command.
func (s *Shooter) SetShooter(power float64) command.Command {
	return command.RunOnce(fmt.Sprintf("shooter power %v", power), func(ctx context.Context) error {
		return s.SetPower(ctx, power)
	}, s)
}

// RunBottomRollers disables the loop and drives only the right wheel, which also feeds the
// bottom rollers.
func (s *Shooter) RunBottomRollers(power float64) command.Command {
	return command.RunOnce(fmt.Sprintf("bottom rollers %v", power), func(ctx context.Context) error {
		err := s.Disable(ctx)
		return multierr.Combine(err, s.right.Set(ctx, power))
	}, s)
}

// Left returns the primary motor.
func (s *Shooter) Left() motor.Motor {
	return s.left
}

// Right returns the secondary motor.
func (s *Shooter) Right() motor.Motor {
	return s.right
}

// RunningState is Connected only while both motors are connected.
func (s *Shooter) RunningState(ctx context.Context) motor.State {
	return subsystems.RunningState(ctx, s.left, s.right)
}
