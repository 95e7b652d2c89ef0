package control

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/team3128/robot/utils"
)

// ControllerType selects how the feedforward interprets the setpoint.
type ControllerType int

const (
	// Position controllers track a position setpoint. kV is unused and kS pushes toward the target.
	Position ControllerType = iota
	// Velocity controllers track a velocity setpoint, which also drives kS and kV.
	Velocity
)

func (t ControllerType) String() string {
	switch t {
	case Position:
		return "position"
	case Velocity:
		return "velocity"
	}
	return "unknown"
}

// DefaultPeriod is the control cycle the controllers assume unless told otherwise.
const DefaultPeriod = 20 * time.Millisecond

// DefaultOutputLimit bounds controller output, in volts.
const DefaultOutputLimit = 12.0

// Controller is the closed-loop actuator controller used by every mechanism.
type Controller interface {
	// Calculate returns the output for one cycle given the latest measurement.
	Calculate(measurement float64) float64
	// CalculateTo sets the setpoint then calculates.
	CalculateTo(measurement, setpoint float64) float64
	SetSetpoint(setpoint float64)
	Setpoint() float64
	// AtSetpoint reports whether the last measurement was within tolerance of the target.
	AtSetpoint() bool
	SetTolerance(tolerance float64)
	Tolerance() float64
	// Reset clears accumulated state and restarts from measurement.
	Reset(measurement float64)

	KS() *Tunable
	KV() *Tunable
	KG() *Tunable
	SetKS(kS *Tunable)
	SetKV(kV *Tunable)
	SetKG(kG *Tunable)
	SetGravityFunc(f GravityFunc)

	// Tunables exposes the gains for live editing.
	Tunables() map[string]*Tunable
	// Telemetry reports the controller's latest state.
	Telemetry() map[string]float64
}

// controllerBase is the state shared by PIDController and TrapController. Its fields are
// guarded by mu.
type controllerBase struct {
	mu sync.Mutex

	typ       ControllerType
	gains     Gains
	gravity   GravityFunc
	period    time.Duration
	tolerance float64
	minOutput float64
	maxOutput float64
	feedback  pid

	setpoint        float64
	lastMeasurement float64
	lastOutput      float64
	hasMeasurement  bool
}

func newControllerBase(consts PIDConstants, typ ControllerType, period time.Duration) controllerBase {
	if period <= 0 {
		period = DefaultPeriod
	}
	return controllerBase{
		typ:       typ,
		gains:     NewGains(consts),
		gravity:   ConstantGravity,
		period:    period,
		tolerance: math.Inf(1),
		minOutput: -DefaultOutputLimit,
		maxOutput: DefaultOutputLimit,
		feedback:  newPID(),
	}
}

func (c *controllerBase) SetTolerance(tolerance float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tolerance = tolerance
}

func (c *controllerBase) Tolerance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tolerance
}

// SetOutputRange bounds the controller output.
func (c *controllerBase) SetOutputRange(low, high float64) error {
	if low > high {
		return errors.Errorf("invalid output range [%v, %v]", low, high)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minOutput, c.maxOutput = low, high
	return nil
}

// SetIntegratorRange bounds the integral term.
func (c *controllerBase) SetIntegratorRange(low, high float64) error {
	if low > high {
		return errors.Errorf("invalid integrator range [%v, %v]", low, high)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedback.iMin, c.feedback.iMax = low, high
	return nil
}

func (c *controllerBase) KS() *Tunable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains.KS
}

func (c *controllerBase) KV() *Tunable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains.KV
}

func (c *controllerBase) KG() *Tunable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains.KG
}

func (c *controllerBase) SetKS(kS *Tunable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains.KS = kS
}

func (c *controllerBase) SetKV(kV *Tunable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains.KV = kV
}

func (c *controllerBase) SetKG(kG *Tunable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains.KG = kG
}

func (c *controllerBase) SetGravityFunc(f GravityFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f == nil {
		f = ConstantGravity
	}
	c.gravity = f
}

// Gains returns the cells the controller currently reads.
func (c *controllerBase) Gains() Gains {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gains
}

// Type reports whether this is a position or a velocity controller.
func (c *controllerBase) Type() ControllerType {
	return c.typ
}

// Period is the cycle time the controller integrates and differentiates over.
func (c *controllerBase) Period() time.Duration {
	return c.period
}

func (c *controllerBase) Tunables() map[string]*Tunable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]*Tunable{
		"kP": c.gains.KP,
		"kI": c.gains.KI,
		"kD": c.gains.KD,
		"kS": c.gains.KS,
		"kV": c.gains.KV,
		"kG": c.gains.KG,
	}
}

func (c *controllerBase) telemetryLocked() map[string]float64 {
	return map[string]float64{
		"setpoint":    c.setpoint,
		"measurement": c.lastMeasurement,
		"error":       c.setpoint - c.lastMeasurement,
		"output":      c.lastOutput,
	}
}

func (c *controllerBase) clampLocked(out float64) float64 {
	out = utils.Clamp(out, c.minOutput, c.maxOutput)
	c.lastOutput = out
	return out
}

// PIDController is a feedback controller with feedforward for either position or velocity.
type PIDController struct {
	controllerBase
}

var _ Controller = (*PIDController)(nil)

// NewController returns a PIDController for the given gains, cycling every period.
func NewController(consts PIDConstants, typ ControllerType, period time.Duration) *PIDController {
	return &PIDController{controllerBase: newControllerBase(consts, typ, period)}
}

// Calculate returns the output for one cycle given the latest measurement.
func (c *PIDController) Calculate(measurement float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calculateLocked(measurement)
}

// CalculateTo sets the setpoint then calculates.
func (c *PIDController) CalculateTo(measurement, setpoint float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setpoint = setpoint
	return c.calculateLocked(measurement)
}

func (c *PIDController) calculateLocked(measurement float64) float64 {
	c.lastMeasurement = measurement
	c.hasMeasurement = true

	out := c.feedback.next(c.gains, measurement, c.setpoint, c.period)
	switch c.typ {
	case Velocity:
		out += feedforward(c.gains, c.gravity, measurement, c.setpoint, c.setpoint, c.setpoint)
	case Position:
		out += feedforward(c.gains, c.gravity, measurement, c.setpoint, c.setpoint-measurement, 0)
	}
	return c.clampLocked(out)
}

// SetSetpoint changes the target.
func (c *PIDController) SetSetpoint(setpoint float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setpoint = setpoint
}

// Setpoint returns the target.
func (c *PIDController) Setpoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpoint
}

// AtSetpoint reports whether the last measurement was within tolerance of the setpoint.
func (c *PIDController) AtSetpoint() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMeasurement && math.Abs(c.setpoint-c.lastMeasurement) < c.tolerance
}

// Reset clears the integrator and derivative history.
func (c *PIDController) Reset(measurement float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedback.reset()
	c.lastMeasurement = measurement
	c.hasMeasurement = false
	c.lastOutput = 0
}

// Telemetry reports the controller's latest state.
func (c *PIDController) Telemetry() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.telemetryLocked()
}

// TrapController is a position controller whose setpoint follows a trapezoidal motion profile
// toward the goal instead of jumping to it.
type TrapController struct {
	controllerBase
	profile *TrapezoidProfile
	current State
}

var _ Controller = (*TrapController)(nil)

// NewTrapController returns a profiled position controller.
func NewTrapController(consts PIDConstants, constraints Constraints, period time.Duration) (*TrapController, error) {
	profile, err := NewTrapezoidProfile(constraints)
	if err != nil {
		return nil, err
	}
	return &TrapController{
		controllerBase: newControllerBase(consts, Position, period),
		profile:        profile,
	}, nil
}

// Calculate advances the profile one cycle and returns the output tracking it.
func (c *TrapController) Calculate(measurement float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calculateLocked(measurement)
}

// CalculateTo sets the goal then calculates.
func (c *TrapController) CalculateTo(measurement, setpoint float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setpoint = setpoint
	return c.calculateLocked(measurement)
}

func (c *TrapController) calculateLocked(measurement float64) float64 {
	c.lastMeasurement = measurement
	c.hasMeasurement = true

	c.current = c.profile.Calculate(c.period, c.current, State{Position: c.setpoint})
	out := c.feedback.next(c.gains, measurement, c.current.Position, c.period)
	out += feedforward(c.gains, c.gravity, measurement, c.setpoint, c.current.Velocity, c.current.Velocity)
	return c.clampLocked(out)
}

// SetSetpoint changes the goal position. The profile carries the setpoint there over time.
func (c *TrapController) SetSetpoint(setpoint float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setpoint = setpoint
}

// Setpoint returns the goal position.
func (c *TrapController) Setpoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpoint
}

// ProfileState returns the intermediate setpoint the profile is currently commanding.
func (c *TrapController) ProfileState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AtSetpoint reports whether the profile has finished and the measurement is within tolerance
// of the goal.
func (c *TrapController) AtSetpoint() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	atGoal := c.current.Position == c.setpoint && c.current.Velocity == 0
	return c.hasMeasurement && atGoal && math.Abs(c.setpoint-c.lastMeasurement) < c.tolerance
}

// Reset restarts the profile from measurement at rest.
func (c *TrapController) Reset(measurement float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedback.reset()
	c.current = State{Position: measurement}
	c.lastMeasurement = measurement
	c.hasMeasurement = false
	c.lastOutput = 0
}

// Telemetry reports the controller's latest state, including the profile setpoint.
func (c *TrapController) Telemetry() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.telemetryLocked()
	out["profilePosition"] = c.current.Position
	out["profileVelocity"] = c.current.Velocity
	return out
}
