// Package feetech drives Feetech STS serial bus servos in continuous rotation mode.
package feetech

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/team3128/robot/components/motor"
	"github.com/team3128/robot/logging"
)

const model = "feetech"

const (
	defaultBaudRate       = 1_000_000
	defaultStepsPerRev    = 4096
	defaultMaxStepsPerSec = 3400
)

// Config describes a servo on a serial bus.
type Config struct {
	Port           string  `json:"port"`
	BaudRate       int     `json:"baud_rate,omitempty"`
	ID             int     `json:"id"`
	StepsPerRev    int     `json:"steps_per_rev,omitempty"`
	MaxStepsPerSec float64 `json:"max_steps_per_sec,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Port == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "port")
	}
	if cfg.ID <= 0 || cfg.ID > 253 {
		return goutils.NewConfigValidationError(path, errors.Errorf("servo id %d out of range", cfg.ID))
	}
	if cfg.StepsPerRev < 0 || cfg.MaxStepsPerSec < 0 {
		return goutils.NewConfigValidationError(path, errors.New("steps cannot be negative"))
	}
	return nil
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
			return NewMotor(ctx, conf.Name, *mcfg, clock.New(), logger)
		},
	})
}

// Servos on one port share a bus.
var (
	busesMu sync.Mutex
	buses   = map[string]*sharedBus{}
)

type sharedBus struct {
	bus  *feetech.Bus
	refs int
}

func acquireBus(port string, baud int) (*feetech.Bus, error) {
	busesMu.Lock()
	defer busesMu.Unlock()
	if sb, ok := buses[port]; ok {
		sb.refs++
		return sb.bus, nil
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baud,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open bus on %s", port)
	}
	buses[port] = &sharedBus{bus: bus, refs: 1}
	return bus, nil
}

func releaseBus(port string) error {
	busesMu.Lock()
	defer busesMu.Unlock()
	sb, ok := buses[port]
	if !ok {
		return nil
	}
	sb.refs--
	if sb.refs > 0 {
		return nil
	}
	delete(buses, port)
	return sb.bus.Close()
}

// Motor is a servo in velocity mode. Volts map linearly onto the servo's step rate and velocity
// is derived from successive position reads.
type Motor struct {
	mu     sync.Mutex
	name   string
	cfg    Config
	servo  *feetech.Servo
	clk    clock.Clock
	logger logging.Logger

	inverted bool
	factor   float64
	neutral  motor.Neutral
	enabled  bool

	counts    int64
	lastRaw   int
	lastRead  time.Time
	hasRead   bool
	stepsRate float64

	fault error
}

var _ motor.Motor = (*Motor)(nil)

// NewMotor opens (or joins) the bus for cfg.Port and puts the servo in velocity mode.
func NewMotor(ctx context.Context, name string, cfg Config, clk clock.Clock, logger logging.Logger) (*Motor, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.StepsPerRev == 0 {
		cfg.StepsPerRev = defaultStepsPerRev
	}
	if cfg.MaxStepsPerSec == 0 {
		cfg.MaxStepsPerSec = defaultMaxStepsPerSec
	}
	bus, err := acquireBus(cfg.Port, cfg.BaudRate)
	if err != nil {
		return nil, err
	}
	servo := feetech.NewServo(bus, cfg.ID, nil)
	if err := servo.Disable(ctx); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "servo %d not responding", cfg.ID), releaseBus(cfg.Port))
	}
	if err := servo.SetOperatingMode(ctx, feetech.ModeVelocity); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "cannot set velocity mode"), releaseBus(cfg.Port))
	}
	logger.Debugw("feetech servo ready", "port", cfg.Port, "id", cfg.ID)
	return &Motor{
		name:    name,
		cfg:     cfg,
		servo:   servo,
		clk:     clk,
		logger:  logger,
		factor:  1,
		neutral: motor.Coast,
	}, nil
}

// Name returns the name of the motor.
func (m *Motor) Name() string {
	return m.name
}

// Set commands a fraction of the servo's top speed.
func (m *Motor) Set(ctx context.Context, power float64) error {
	if math.IsNaN(power) {
		return motor.NewInvalidOutputError(m.name, power)
	}
	return m.SetVolts(ctx, motor.ClampPower(power)*motor.MaxVolts)
}

// SetVolts maps volts onto a step rate.
func (m *Motor) SetVolts(ctx context.Context, volts float64) error {
	if math.IsNaN(volts) || math.IsInf(volts, 0) {
		return motor.NewInvalidOutputError(m.name, volts)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := voltsToSteps(motor.ClampVolts(volts), m.cfg.MaxStepsPerSec)
	if m.inverted {
		steps = -steps
	}

	if steps == 0 && m.neutral == motor.Coast {
		if m.enabled {
			if err := m.servo.Disable(ctx); err != nil {
				return m.recordLocked(err)
			}
			m.enabled = false
		}
		return m.recordLocked(nil)
	}
	if !m.enabled {
		if err := m.servo.Enable(ctx); err != nil {
			return m.recordLocked(err)
		}
		m.enabled = true
	}
	return m.recordLocked(m.servo.SetVelocity(ctx, steps))
}

func (m *Motor) recordLocked(err error) error {
	m.fault = err
	if err != nil {
		return errors.Wrapf(err, "servo %d", m.cfg.ID)
	}
	return nil
}

// SetInverted flips the positive direction.
func (m *Motor) SetInverted(inverted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inverted = inverted
}

// SetUnitConversionFactor sets the rotations to mechanism units factor.
func (m *Motor) SetUnitConversionFactor(factor float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factor = factor
}

// SetCurrentLimit is accepted but the servo enforces its own protection current.
func (m *Motor) SetCurrentLimit(amps float64) {
	if amps > 0 {
		m.logger.Debugw("current limit ignored; servo uses its internal protection", "amps", amps)
	}
}

// SetNeutralMode selects whether torque stays enabled at zero output.
func (m *Motor) SetNeutralMode(mode motor.Neutral) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.neutral = mode
}

// pollLocked reads the raw position and folds it into the multi-turn count.
func (m *Motor) pollLocked(ctx context.Context) error {
	raw, err := m.servo.Position(ctx)
	if err != nil {
		return m.recordLocked(err)
	}
	now := m.clk.Now()
	if m.hasRead {
		delta := unwrap(raw-m.lastRaw, m.cfg.StepsPerRev)
		m.counts += int64(delta)
		if dt := now.Sub(m.lastRead).Seconds(); dt > 0 {
			m.stepsRate = float64(delta) / dt
		}
	}
	m.lastRaw = raw
	m.lastRead = now
	m.hasRead = true
	return m.recordLocked(nil)
}

func (m *Motor) sign() float64 {
	if m.inverted {
		return -1
	}
	return 1
}

// Velocity returns the velocity in mechanism units per minute.
func (m *Motor) Velocity(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.pollLocked(ctx); err != nil {
		return 0, err
	}
	return m.stepsRate / float64(m.cfg.StepsPerRev) * 60 * m.factor * m.sign(), nil
}

// Position returns the position in mechanism units.
func (m *Motor) Position(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.pollLocked(ctx); err != nil {
		return 0, err
	}
	return float64(m.counts) / float64(m.cfg.StepsPerRev) * m.factor * m.sign(), nil
}

// Current is not read from the servo.
func (m *Motor) Current(ctx context.Context) (float64, error) {
	return 0, motor.NewUnsupportedError(m.name, "current sensing")
}

// Status reports the result of the last exchange with the servo.
func (m *Motor) Status(ctx context.Context) motor.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fault != nil {
		return motor.Status{State: motor.Disconnected, Fault: m.fault}
	}
	return motor.Status{State: motor.Connected}
}

// Close disables torque and releases the bus.
func (m *Motor) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return multierr.Combine(m.servo.Disable(ctx), releaseBus(m.cfg.Port))
}

func voltsToSteps(volts, maxStepsPerSec float64) int {
	return int(math.Round(volts / motor.MaxVolts * maxStepsPerSec))
}

// unwrap maps a raw position delta onto the shortest signed path around the encoder.
func unwrap(delta, stepsPerRev int) int {
	half := stepsPerRev / 2
	for delta >= half {
		delta -= stepsPerRev
	}
	for delta < -half {
		delta += stepsPerRev
	}
	return delta
}
