// Package fake implements a fake motor with first order brushless physics. It is what every
// mechanism runs against when no hardware is attached.
package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/team3128/robot/components/motor"
	"github.com/team3128/robot/logging"
	"github.com/team3128/robot/utils"
)

const model = "fake"

// Defaults roughly describe a brushless Vortex.
const (
	defaultFreeSpeedRPM = 6784.0
	defaultTimeConstant = 0.05
	defaultStallCurrent = 211.0
	defaultFreeCurrent  = 1.5
	coastSlowdown       = 20.0
)

// Config describes the physics of a fake motor.
type Config struct {
	FreeSpeedRPM    float64 `json:"free_speed_rpm,omitempty"`
	TimeConstantSec float64 `json:"time_constant_sec,omitempty"`
	StallCurrent    float64 `json:"stall_current,omitempty"`
	FreeCurrent     float64 `json:"free_current,omitempty"`
	// GravityVolts is the voltage needed to hold the mechanism level. Gravity is modeled as
	// GravityVolts*cos(position) with the converted position read as degrees.
	GravityVolts float64 `json:"gravity_volts,omitempty"`
	Disconnected bool    `json:"disconnected,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	for name, v := range map[string]float64{
		"free_speed_rpm":    cfg.FreeSpeedRPM,
		"time_constant_sec": cfg.TimeConstantSec,
		"stall_current":     cfg.StallCurrent,
		"free_current":      cfg.FreeCurrent,
	} {
		if v < 0 {
			return errors.Errorf("%s: %s cannot be negative", path, name)
		}
	}
	return nil
}

func (cfg *Config) withDefaults() Config {
	out := *cfg
	if out.FreeSpeedRPM == 0 {
		out.FreeSpeedRPM = defaultFreeSpeedRPM
	}
	if out.TimeConstantSec == 0 {
		out.TimeConstantSec = defaultTimeConstant
	}
	if out.StallCurrent == 0 {
		out.StallCurrent = defaultStallCurrent
	}
	if out.FreeCurrent == 0 {
		out.FreeCurrent = defaultFreeCurrent
	}
	return out
}

func init() {
	motor.RegisterModel(model, motor.Registration{
		Constructor: func(ctx context.Context, conf motor.Config, logger logging.Logger) (motor.Motor, error) {
			mcfg, err := motor.DecodeAttributes[Config](conf.Attributes)
			if err != nil {
				return nil, err
			}
			if err := mcfg.Validate(conf.Name); err != nil {
				return nil, err
			}
			return NewMotor(conf.Name, *mcfg, logger), nil
		},
	})
}

// Motor is a simulated motor. Commands are latched and take effect on the next Simulate call.
type Motor struct {
	mu     sync.Mutex
	name   string
	logger logging.Logger
	cfg    Config

	inverted     bool
	factor       float64
	currentLimit float64
	neutral      motor.Neutral

	// rotor frame state
	volts     float64
	rpm       float64
	rotations float64
	current   float64

	disconnected bool
	commands     int
}

var (
	_ motor.Motor     = (*Motor)(nil)
	_ motor.Simulated = (*Motor)(nil)
)

// NewMotor returns a fake motor at rest.
func NewMotor(name string, cfg Config, logger logging.Logger) *Motor {
	return &Motor{
		name:         name,
		logger:       logger,
		cfg:          cfg.withDefaults(),
		factor:       1,
		neutral:      motor.Coast,
		disconnected: cfg.Disconnected,
	}
}

// Name returns the name of the motor.
func (m *Motor) Name() string {
	return m.name
}

func (m *Motor) direction() float64 {
	if m.inverted {
		return -1
	}
	return 1
}

// Set commands a fraction of battery voltage.
func (m *Motor) Set(ctx context.Context, power float64) error {
	if math.IsNaN(power) {
		return motor.NewInvalidOutputError(m.name, power)
	}
	return m.SetVolts(ctx, motor.ClampPower(power)*motor.MaxVolts)
}

// SetVolts commands a voltage.
func (m *Motor) SetVolts(ctx context.Context, volts float64) error {
	if math.IsNaN(volts) || math.IsInf(volts, 0) {
		return motor.NewInvalidOutputError(m.name, volts)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return motor.ErrDisconnected
	}
	m.volts = motor.ClampVolts(volts) * m.direction()
	m.commands++
	return nil
}

// SetInverted flips the positive direction.
func (m *Motor) SetInverted(inverted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volts *= m.direction()
	m.inverted = inverted
	m.volts *= m.direction()
}

// SetUnitConversionFactor sets the rotations to mechanism units factor.
func (m *Motor) SetUnitConversionFactor(factor float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factor = factor
}

// SetCurrentLimit caps the current draw.
func (m *Motor) SetCurrentLimit(amps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentLimit = math.Abs(amps)
}

// SetNeutralMode sets brake or coast.
func (m *Motor) SetNeutralMode(mode motor.Neutral) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.neutral = mode
}

// Velocity returns the velocity in mechanism units per minute.
func (m *Motor) Velocity(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return 0, motor.ErrDisconnected
	}
	return m.rpm * m.factor * m.direction(), nil
}

// Position returns the position in mechanism units.
func (m *Motor) Position(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return 0, motor.ErrDisconnected
	}
	return m.rotations * m.factor * m.direction(), nil
}

// Current returns the current draw in amps.
func (m *Motor) Current(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return 0, motor.ErrDisconnected
	}
	return math.Abs(m.current), nil
}

// Status reports connection state.
func (m *Motor) Status(ctx context.Context) motor.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return motor.Status{State: motor.Disconnected, Fault: motor.ErrDisconnected}
	}
	return motor.Status{State: motor.Connected}
}

// Close puts the motor in neutral.
func (m *Motor) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volts = 0
	return nil
}

// SetConnected simulates plugging in or pulling the motor's cable.
func (m *Motor) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !connected && !m.disconnected {
		m.logger.Warnw("fake motor disconnected", "motor", m.name)
	}
	m.disconnected = !connected
}

// AppliedVolts returns the last commanded voltage in the mechanism frame.
func (m *Motor) AppliedVolts() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volts * m.direction()
}

// Commands returns how many outputs have been written.
func (m *Motor) Commands() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands
}

// Inverted returns whether the motor is inverted.
func (m *Motor) Inverted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inverted
}

// UnitConversionFactor returns the configured conversion factor.
func (m *Motor) UnitConversionFactor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.factor
}

// CurrentLimit returns the configured current limit.
func (m *Motor) CurrentLimit() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLimit
}

// NeutralMode returns the configured neutral mode.
func (m *Motor) NeutralMode() motor.Neutral {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.neutral
}

// Simulate advances the physics by dt.
func (m *Motor) Simulate(dt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dt <= 0 {
		return
	}

	tau := m.cfg.TimeConstantSec
	steps := int(math.Ceil(dt.Seconds() / (tau / 4)))
	h := dt.Seconds() / float64(steps)
	for i := 0; i < steps; i++ {
		m.step(h, tau)
	}
}

func (m *Motor) step(h, tau float64) {
	kv := m.cfg.FreeSpeedRPM / motor.MaxVolts
	resistance := motor.MaxVolts / m.cfg.StallCurrent

	if m.volts == 0 && m.neutral == motor.Coast {
		m.current = 0
		m.rpm -= m.rpm * h / (tau * coastSlowdown)
		m.rotations += m.rpm / 60 * h
		return
	}

	angle := utils.DegToRad(m.rotations * m.factor * m.direction())
	gravity := m.cfg.GravityVolts * math.Cos(angle) * m.direction()

	current := (m.volts - gravity - m.rpm/kv) / resistance
	if m.currentLimit > 0 {
		current = utils.Clamp(current, -m.currentLimit, m.currentLimit)
	}
	m.current = current

	// friction cannot reverse the rotor on its own
	gain := kv * resistance / tau * h
	next := m.rpm + gain*current
	friction := gain * m.cfg.FreeCurrent
	if math.Abs(next) <= friction {
		m.rpm = 0
	} else {
		m.rpm = next - friction*utils.Sign(next)
	}
	m.rotations += m.rpm / 60 * h
}
