package tester

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/team3128/robot/command"
	"github.com/team3128/robot/logging"
)

// Setpointer is a mechanism with a closed loop a SetpointTest can drive.
type Setpointer interface {
	command.Subsystem
	StartPID(ctx context.Context, setpoint float64)
	AtSetpoint() bool
	Disable(ctx context.Context) error
}

// SetpointTest enables a mechanism's loop and passes once the mechanism has stayed at its
// setpoint for the plateau duration before the timeout.
type SetpointTest struct {
	name      string
	mechanism Setpointer
	setpoint  float64
	plateau   time.Duration
	timeout   time.Duration
	clk       clock.Clock
	logger    logging.Logger

	mu      sync.Mutex
	start   time.Time
	settled time.Time
	holding bool
	result  Result
	cmd     command.Command
}

var _ UnitTest = (*SetpointTest)(nil)

// NewSetpointTest returns a setpoint test for mechanism.
func NewSetpointTest(
	name string,
	mechanism Setpointer,
	setpoint float64,
	plateau, timeout time.Duration,
	clk clock.Clock,
	logger logging.Logger,
) (*SetpointTest, error) {
	if timeout <= 0 || plateau < 0 || plateau >= timeout {
		return nil, errors.Errorf("%s: plateau %v must be within timeout %v", name, plateau, timeout)
	}
	st := &SetpointTest{
		name:      name,
		mechanism: mechanism,
		setpoint:  setpoint,
		plateau:   plateau,
		timeout:   timeout,
		clk:       clk,
		logger:    logger,
	}
	st.cmd = &command.Func{
		CommandName:    name,
		Requires:       []command.Subsystem{mechanism},
		InitializeFunc: st.initialize,
		ExecuteFunc:    st.execute,
		IsFinishedFunc: st.isFinished,
		EndFunc:        st.end,
	}
	return st, nil
}

// Name returns the name of the test.
func (st *SetpointTest) Name() string {
	return st.name
}

// Command returns the test command.
func (st *SetpointTest) Command() command.Command {
	return st.cmd
}

// Result returns the outcome of the last run.
func (st *SetpointTest) Result() Result {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.result
}

func (st *SetpointTest) initialize(ctx context.Context) error {
	st.mu.Lock()
	st.start = st.clk.Now()
	st.holding = false
	st.result = Running
	st.mu.Unlock()
	st.mechanism.StartPID(ctx, st.setpoint)
	return nil
}

func (st *SetpointTest) execute(ctx context.Context) error {
	at := st.mechanism.AtSetpoint()
	st.mu.Lock()
	defer st.mu.Unlock()
	switch {
	case at && !st.holding:
		st.holding = true
		st.settled = st.clk.Now()
	case !at:
		st.holding = false
	}
	return nil
}

func (st *SetpointTest) isFinished() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.holding && st.clk.Since(st.settled) >= st.plateau {
		return true
	}
	return st.clk.Since(st.start) >= st.timeout
}

func (st *SetpointTest) end(ctx context.Context, interrupted bool) {
	if err := st.mechanism.Disable(ctx); err != nil {
		st.logger.Warnw("cannot stop mechanism after setpoint test", "test", st.name, "error", err)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.result = Failed
	if !interrupted && st.holding && st.clk.Since(st.settled) >= st.plateau {
		st.result = Passed
	}
	st.logger.Infow("setpoint test finished",
		"test", st.name,
		"result", st.result.String(),
		"setpoint", st.setpoint,
		"interrupted", interrupted)
}
