package tester

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/team3128/robot/command"
	"github.com/team3128/robot/components/motor"
	"github.com/team3128/robot/logging"
)

// CurrentTestConfig is the electrical signature a motor is expected to show.
type CurrentTestConfig struct {
	Power      float64 `json:"power"`
	TimeoutSec float64 `json:"timeout_sec"`
	PlateauSec float64 `json:"plateau_sec"`
	Expected   float64 `json:"expected_current"`
	Tolerance  float64 `json:"tolerance"`
}

// Timeout is how long the motor is driven.
func (c CurrentTestConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSec)
}

// Plateau is how long to wait before sampling current.
func (c CurrentTestConfig) Plateau() time.Duration {
	return seconds(c.PlateauSec)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Validate ensures all parts of the config are valid.
func (c CurrentTestConfig) Validate(path string) error {
	if c.TimeoutSec <= 0 {
		return errors.Errorf("%s: timeout must be positive", path)
	}
	if c.PlateauSec < 0 || c.PlateauSec >= c.TimeoutSec {
		return errors.Errorf("%s: plateau must be within the timeout", path)
	}
	if c.Tolerance < 0 {
		return errors.Errorf("%s: tolerance cannot be negative", path)
	}
	return nil
}

// disabler is implemented by subsystems with a control loop that must be off before a test
// writes to their motors.
type disabler interface {
	Disable(ctx context.Context) error
}

// CurrentTest drives one motor at a fixed power and checks the mean current drawn once it has
// plateaued.
type CurrentTest struct {
	name         string
	motor        motor.Motor
	cfg          CurrentTestConfig
	clk          clock.Clock
	logger       logging.Logger
	requirements []command.Subsystem

	mu      sync.Mutex
	start   time.Time
	samples []float64
	mean    float64
	result  Result
	cmd     command.Command
}

var _ UnitTest = (*CurrentTest)(nil)

// NewCurrentTest returns a current test for m. Requirements that have a control loop are
// disabled before the motor is driven.
func NewCurrentTest(
	name string,
	m motor.Motor,
	cfg CurrentTestConfig,
	clk clock.Clock,
	logger logging.Logger,
	requirements ...command.Subsystem,
) (*CurrentTest, error) {
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}
	ct := &CurrentTest{name: name, motor: m, cfg: cfg, clk: clk, logger: logger, requirements: requirements}
	ct.cmd = &command.Func{
		CommandName:    name,
		Requires:       requirements,
		InitializeFunc: ct.initialize,
		ExecuteFunc:    ct.execute,
		IsFinishedFunc: ct.isFinished,
		EndFunc:        ct.end,
	}
	return ct, nil
}

// Name returns the name of the test.
func (ct *CurrentTest) Name() string {
	return ct.name
}

// Command returns the test command.
func (ct *CurrentTest) Command() command.Command {
	return ct.cmd
}

// Result returns the outcome of the last run.
func (ct *CurrentTest) Result() Result {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.result
}

// MeanCurrent returns the mean current measured on the last run.
func (ct *CurrentTest) MeanCurrent() float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.mean
}

func (ct *CurrentTest) initialize(ctx context.Context) error {
	for _, r := range ct.requirements {
		if d, ok := r.(disabler); ok {
			if err := d.Disable(ctx); err != nil {
				ct.logger.Warnw("cannot disable loop before current test", "test", ct.name, "error", err)
			}
		}
	}
	ct.mu.Lock()
	ct.start = ct.clk.Now()
	ct.samples = nil
	ct.mean = 0
	ct.result = Running
	ct.mu.Unlock()
	return ct.motor.Set(ctx, ct.cfg.Power)
}

func (ct *CurrentTest) execute(ctx context.Context) error {
	ct.mu.Lock()
	plateaued := ct.clk.Since(ct.start) >= ct.cfg.Plateau()
	ct.mu.Unlock()
	if !plateaued {
		return nil
	}
	amps, err := ct.motor.Current(ctx)
	if err != nil {
		return err
	}
	ct.mu.Lock()
	ct.samples = append(ct.samples, amps)
	ct.mu.Unlock()
	return nil
}

func (ct *CurrentTest) isFinished() bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.clk.Since(ct.start) >= ct.cfg.Timeout()
}

func (ct *CurrentTest) end(ctx context.Context, interrupted bool) {
	stopErr := ct.motor.Set(ctx, 0)

	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.result = Failed
	if len(ct.samples) > 0 {
		ct.mean = stat.Mean(ct.samples, nil)
		if !interrupted && stopErr == nil && math.Abs(ct.mean-ct.cfg.Expected) <= ct.cfg.Tolerance {
			ct.result = Passed
		}
	}
	ct.logger.Infow("current test finished",
		"test", ct.name,
		"result", ct.result.String(),
		"mean_current", ct.mean,
		"expected", ct.cfg.Expected,
		"samples", len(ct.samples),
		"interrupted", interrupted)
}
