// Package amp implements the amp mechanism: a wrist that pivots between named angles and a
// roller that scores once the wrist is extended.
package amp

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	goutils "go.viam.com/utils"

	"github.com/team3128/robot/command"
	"github.com/team3128/robot/components/motor"
	"github.com/team3128/robot/control"
	"github.com/team3128/robot/dashboard"
	"github.com/team3128/robot/logging"
	"github.com/team3128/robot/subsystems"
)

const tabName = "Amp"

// Setpoint is a named wrist angle in degrees.
type Setpoint struct {
	Name  string
	Angle float64
}

var (
	// AmpPosition is the scoring position.
	AmpPosition = Setpoint{Name: "AMP", Angle: 180}
	// Retracted is the stowed position.
	Retracted = Setpoint{Name: "RETRACTED", Angle: 0}
)

// Setpoints returns every named setpoint.
func Setpoints() []Setpoint {
	return []Setpoint{AmpPosition, Retracted}
}

// SetpointByName looks up a setpoint by its label.
func SetpointByName(name string) (Setpoint, error) {
	sp, ok := lo.Find(Setpoints(), func(sp Setpoint) bool { return sp.Name == name })
	if !ok {
		return Setpoint{}, errors.Errorf("unknown amp setpoint %q", name)
	}
	return sp, nil
}

// Config is the amp's motors and tuning.
type Config struct {
	Wrist        string               `json:"wrist"`
	Roller       string               `json:"roller"`
	GearRatio    float64              `json:"gear_ratio"`
	CurrentLimit float64              `json:"current_limit"`
	PID          control.PIDConstants `json:"pid"`
	Constraints  control.Constraints  `json:"constraints"`
	Tolerance    float64              `json:"tolerance"`
	RollerPower  float64              `json:"roller_power"`
}

// DefaultConfig returns the competition constants.
func DefaultConfig() Config {
	return Config{
		Wrist:        "amp_wrist",
		Roller:       "amp_roller",
		GearRatio:    1.0 / 40,
		CurrentLimit: 40,
		PID:          control.PIDConstants{KP: 0.1, KS: 0.085, KV: 1 / 84.8, KG: 0.4},
		Constraints:  control.Constraints{MaxVelocity: 180, MaxAcceleration: 360},
		Tolerance:    2,
		RollerPower:  0.5,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Wrist == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "wrist")
	}
	if cfg.Roller == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "roller")
	}
	if cfg.GearRatio <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("gear_ratio must be positive"))
	}
	if cfg.Tolerance <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("tolerance must be positive"))
	}
	if cfg.RollerPower < -1 || cfg.RollerPower > 1 {
		return goutils.NewConfigValidationError(path, errors.New("roller_power must be within [-1, 1]"))
	}
	if err := cfg.PID.Validate(path + ".pid"); err != nil {
		return err
	}
	return cfg.Constraints.Validate(path + ".constraints")
}

// Amp is the wrist pivot plus roller.
type Amp struct {
	*subsystems.Pivot
	roller motor.Motor
	cfg    Config
	logger logging.Logger
}

// New configures the motors and returns the amp with its loop disabled. dash may be nil.
func New(cfg Config, wrist, roller motor.Motor, period time.Duration, dash *dashboard.Dashboard, logger logging.Logger) (*Amp, error) {
	motor.Apply(wrist, motor.Settings{
		UnitConversionFactor: cfg.GearRatio * 360,
		CurrentLimit:         cfg.CurrentLimit,
		Neutral:              motor.Brake,
	})
	motor.Apply(roller, motor.Settings{Neutral: motor.Coast})

	controller, err := control.NewTrapController(cfg.PID, cfg.Constraints, period)
	if err != nil {
		return nil, err
	}
	controller.SetTolerance(cfg.Tolerance)

	pivot, err := subsystems.NewPivot("amp", controller, logger, wrist)
	if err != nil {
		return nil, err
	}
	lowest := lo.MinBy(Setpoints(), func(a, b Setpoint) bool { return a.Angle < b.Angle })
	highest := lo.MaxBy(Setpoints(), func(a, b Setpoint) bool { return a.Angle > b.Angle })
	if err := pivot.SetConstraints(lowest.Angle, highest.Angle); err != nil {
		return nil, err
	}

	a := &Amp{Pivot: pivot, roller: roller, cfg: cfg, logger: logger}
	pivot.SetOwner(a)
	if dash != nil {
		a.registerDashboard(dash, controller)
	}
	return a, nil
}

func (a *Amp) registerDashboard(dash *dashboard.Dashboard, controller control.Controller) {
	dash.AddData(tabName, "angle", a.Measurement)
	dash.AddData(tabName, "setpoint", a.Setpoint)
	dash.AddData(tabName, "enabled", func() float64 { return boolToFloat(a.Enabled()) })
	dash.AddSendable(tabName, "controller", controller)
	for name, cell := range controller.Tunables() {
		dash.AddDebug(tabName, name, cell)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// MoveTo pivots to a named setpoint and finishes once there.
func (a *Amp) MoveTo(sp Setpoint) command.Command {
	return a.PivotTo(sp.Angle)
}

// RunRoller sets the roller's open loop power. The wrist loop keeps running.
func (a *Amp) RunRoller(power float64) command.Command {
	return command.RunOnce(fmt.Sprintf("amp roller %v", power), func(ctx context.Context) error {
		return a.roller.Set(ctx, power)
	}, a)
}

// Retract stows the wrist, then stops the roller.
func (a *Amp) Retract() command.Command {
	return command.Sequence(a.MoveTo(Retracted), a.RunRoller(0))
}

// Extend raises the wrist to the amp, then starts the roller.
func (a *Amp) Extend() command.Command {
	return command.Sequence(a.MoveTo(AmpPosition), a.RunRoller(a.cfg.RollerPower))
}

// Roller returns the roller motor.
func (a *Amp) Roller() motor.Motor {
	return a.roller
}

// RunningState is Connected only while the wrist and roller are connected.
func (a *Amp) RunningState(ctx context.Context) motor.State {
	motors := append([]motor.Motor{a.roller}, a.Motors()...)
	return subsystems.RunningState(ctx, motors...)
}
