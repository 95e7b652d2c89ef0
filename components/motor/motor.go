// Package motor defines the motor driver abstraction every mechanism drives its actuators through.
package motor

import (
	"context"
	"math"
	"time"
)

// MaxVolts is the nominal battery voltage. Power is expressed as a fraction of it.
const MaxVolts = 12.0

// Neutral is what a motor does when commanded to zero output.
type Neutral string

const (
	// Brake shorts the windings so the motor resists motion.
	Brake Neutral = "brake"
	// Coast leaves the windings open so the motor spins freely.
	Coast Neutral = "coast"
)

// State is whether the driver can currently talk to its motor.
type State int

const (
	// Connected means the last exchange with the motor succeeded.
	Connected State = iota
	// Disconnected means the motor is not responding.
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Status reports the health of a motor. Fault holds the most recent driver error, if any.
type Status struct {
	State State
	Fault error
}

// Connected is a convenience for Status.State == Connected.
func (s Status) Connected() bool {
	return s.State == Connected
}

// A Motor is a single motor behind a driver. Measurements are reported in mechanism units: the
// raw rotor reading multiplied by the unit conversion factor.
type Motor interface {
	// Name is the configured name of the motor.
	Name() string

	// Set commands an open-loop fraction of battery voltage between -1 and 1.
	Set(ctx context.Context, power float64) error

	// SetVolts commands a voltage, clamped to ±MaxVolts.
	SetVolts(ctx context.Context, volts float64) error

	// SetInverted flips the positive direction of the motor.
	SetInverted(inverted bool)

	// SetUnitConversionFactor scales rotations (and rotations per minute) into mechanism units.
	SetUnitConversionFactor(factor float64)

	// SetCurrentLimit caps the current the motor may draw, in amps. Zero disables the limit.
	SetCurrentLimit(amps float64)

	// SetNeutralMode selects brake or coast behavior at zero output.
	SetNeutralMode(mode Neutral)

	// Velocity returns the velocity in mechanism units per minute.
	Velocity(ctx context.Context) (float64, error)

	// Position returns the position in mechanism units.
	Position(ctx context.Context) (float64, error)

	// Current returns the current draw in amps.
	Current(ctx context.Context) (float64, error)

	// Status reports whether the motor is connected and its latest fault.
	Status(ctx context.Context) Status

	// Close releases the driver. The motor is left in neutral.
	Close(ctx context.Context) error
}

// Simulated is implemented by motors whose physics are stepped by the control loop.
type Simulated interface {
	Simulate(dt time.Duration)
}

// Settings are the per-motor options a mechanism applies once at construction.
type Settings struct {
	Inverted             bool
	UnitConversionFactor float64
	CurrentLimit         float64
	Neutral              Neutral
}

// Apply configures m with s. A zero UnitConversionFactor is left at the driver default and a zero
// Neutral defaults to Coast.
func Apply(m Motor, s Settings) {
	m.SetInverted(s.Inverted)
	if s.UnitConversionFactor != 0 {
		m.SetUnitConversionFactor(s.UnitConversionFactor)
	}
	m.SetCurrentLimit(s.CurrentLimit)
	neutral := s.Neutral
	if neutral == "" {
		neutral = Coast
	}
	m.SetNeutralMode(neutral)
}

// ClampPower clamps a percentage power to 1.0 or -1.0.
func ClampPower(pwr float64) float64 {
	pwr = math.Min(pwr, 1.0)
	pwr = math.Max(pwr, -1.0)
	return pwr
}

// ClampVolts clamps a voltage to ±MaxVolts.
func ClampVolts(volts float64) float64 {
	return math.Max(math.Min(volts, MaxVolts), -MaxVolts)
}
